package catalog

import (
	"strings"
	"time"
)

// Payload field names shared between stage handlers and the record store
// layout. Values are scalars; embeddings are serialized JSON arrays.
const (
	FieldFilePath      = "file_path"
	FieldDurationSecs  = "duration_seconds"
	FieldHasAudio      = "has_audio"
	FieldThumbnailPath = "thumbnail_path"
	FieldCaption       = "caption"
	FieldTranscript    = "transcript"
	FieldEmbedding     = "embedding"
	FieldDescription   = "description"
	FieldAttempts      = "retry_attempts"
	FieldNextAttemptAt = "next_attempt_at"
)

// Record is one asset row in the external store.
type Record struct {
	ID          string
	BusinessKey string
	AssetType   AssetType
	State       State
	Fields      map[string]string

	// DiagnosticNote carries human-readable failure detail. Overwritten on
	// each new failure, not appended.
	DiagnosticNote string

	// Attempts and NextAttemptAt implement the bounded-retry policy. Both are
	// persisted on the record so retries survive controller restarts.
	Attempts      int
	NextAttemptAt time.Time
}

// Field returns a payload field value, trimmed, or "" when absent.
func (r *Record) Field(name string) string {
	if r.Fields == nil {
		return ""
	}
	return strings.TrimSpace(r.Fields[name])
}

// SetField sets a payload field value.
func (r *Record) SetField(name, value string) {
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	r.Fields[name] = value
}

// RetryEligible reports whether the record's backoff window has elapsed.
func (r *Record) RetryEligible(now time.Time) bool {
	return r.NextAttemptAt.IsZero() || !now.Before(r.NextAttemptAt)
}

// Park moves the record out of automatic retry: paused state plus a
// diagnostic note for the operator.
func (r *Record) Park(note string) {
	r.State = AwaitingInput()
	r.DiagnosticNote = note
}

// Frame is a child record belonging to one parent via ParentKey (weak
// reference; frame lifecycle is independent once created).
type Frame struct {
	ID          string
	BusinessKey string
	ParentKey   string
	State       State
	Caption     string
	Transcript  string
	Attempts    int
}

// Ready evaluates the fan-in readiness predicate: the frame's sub-status has
// reached the threshold, or both content fields are present. The OR is
// deliberate: it tolerates frames whose status update landed but whose
// content-bearing update failed, and the reverse.
func (f *Frame) Ready(threshold Stage) bool {
	if f.State.Kind == StateProgress && !f.State.Stage.Before(threshold) {
		return true
	}
	return strings.TrimSpace(f.Caption) != "" && strings.TrimSpace(f.Transcript) != ""
}
