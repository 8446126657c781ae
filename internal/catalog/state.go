package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage is one position in an asset type's ordered pipeline. The ordinal
// drives forward-only comparisons; the label is what operators see in the
// record store.
type Stage struct {
	Ordinal int
	Label   string
}

func (s Stage) String() string {
	return fmt.Sprintf("%d - %s", s.Ordinal, s.Label)
}

// Before reports whether s precedes other in pipeline order.
func (s Stage) Before(other Stage) bool {
	return s.Ordinal < other.Ordinal
}

// StateKind distinguishes normal pipeline progress from the two escape
// hatches that interrupt it.
type StateKind int

const (
	// StateProgress is a record sitting at a pipeline stage.
	StateProgress StateKind = iota
	// StateAwaitingInput is a paused record requiring operator action to resume.
	StateAwaitingInput
	// StateForceResume is an operator override that re-enters the pipeline at
	// the carried stage on the next cycle.
	StateForceResume
)

// State is the tagged status of a record: a pipeline stage, a pause, or an
// operator-forced re-entry point. It is the sole piece of state deciding
// which stage handler may act on a record.
type State struct {
	Kind  StateKind
	Stage Stage
}

const (
	awaitingInputLiteral = "Awaiting User Input"
	forceResumePrefix    = "Force Resume: "
)

// Progress returns a normal in-pipeline state at the given stage.
func Progress(stage Stage) State {
	return State{Kind: StateProgress, Stage: stage}
}

// AwaitingInput returns the paused state.
func AwaitingInput() State {
	return State{Kind: StateAwaitingInput}
}

// ForceResume returns the operator-forced re-entry state targeting a stage.
func ForceResume(stage Stage) State {
	return State{Kind: StateForceResume, Stage: stage}
}

// String formats the state as stored in the record store's status field.
func (s State) String() string {
	switch s.Kind {
	case StateAwaitingInput:
		return awaitingInputLiteral
	case StateForceResume:
		return forceResumePrefix + s.Stage.String()
	default:
		return s.Stage.String()
	}
}

// TriggersStage reports whether a record in this state is eligible for the
// stage with the given trigger: either normal progress sitting at the trigger,
// or a force-resume override targeting it.
func (s State) TriggersStage(trigger Stage) bool {
	switch s.Kind {
	case StateProgress, StateForceResume:
		return s.Stage.Ordinal == trigger.Ordinal
	default:
		return false
	}
}

// ParseState converts a raw status string into a State. The stage label is
// validated against the provided stage set so typos in the store surface as
// errors instead of silently dropping records out of the pipeline.
func ParseState(raw string, known []Stage) (State, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return State{}, fmt.Errorf("parse state: empty status")
	}
	if strings.EqualFold(trimmed, awaitingInputLiteral) {
		return AwaitingInput(), nil
	}
	if rest, ok := cutPrefixFold(trimmed, forceResumePrefix); ok {
		stage, err := parseStage(rest, known)
		if err != nil {
			return State{}, fmt.Errorf("parse force resume target: %w", err)
		}
		return ForceResume(stage), nil
	}
	stage, err := parseStage(trimmed, known)
	if err != nil {
		return State{}, err
	}
	return Progress(stage), nil
}

func parseStage(raw string, known []Stage) (Stage, error) {
	numberPart, labelPart, found := strings.Cut(raw, "-")
	if !found {
		return Stage{}, fmt.Errorf("parse stage %q: missing ordinal separator", raw)
	}
	ordinal, err := strconv.Atoi(strings.TrimSpace(numberPart))
	if err != nil {
		return Stage{}, fmt.Errorf("parse stage %q: %w", raw, err)
	}
	label := strings.TrimSpace(labelPart)
	for _, stage := range known {
		if stage.Ordinal == ordinal && strings.EqualFold(stage.Label, label) {
			return stage, nil
		}
	}
	return Stage{}, fmt.Errorf("parse stage %q: unknown stage", raw)
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) {
		return "", false
	}
	if strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return "", false
}
