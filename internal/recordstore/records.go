package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"curator/internal/catalog"
	"curator/internal/services"
)

// Store field names reserved for orchestration bookkeeping. Every other
// fieldData key is handler payload and passes through untouched.
const (
	wireBusinessKey = "business_key"
	wireParentKey   = "parent_business_key"
	wireStatus      = "status"
	wireDiagnostic  = "diagnostic_note"
	wireAttempts    = "retry_attempts"
	wireNextAttempt = "next_attempt_at"
	wireCaption     = "caption"
	wireTranscript  = "transcript"
)

// framesLayout holds the child frame records for every asset type.
const framesLayout = "frames"

type findRequest struct {
	Query  []map[string]string `json:"query"`
	Offset int                 `json:"offset"`
	Limit  int                 `json:"limit"`
}

type recordEnvelope struct {
	RecordID  string         `json:"recordId"`
	FieldData map[string]any `json:"fieldData"`
}

type findResponse struct {
	Data []recordEnvelope `json:"data"`
}

func layoutFor(asset catalog.AssetType) string {
	return string(asset)
}

// find runs a paginated _find against one layout. A 404 means no records
// matched, which is a valid empty result, not an error.
func (c *Client) find(ctx context.Context, layout string, query map[string]string) ([]recordEnvelope, error) {
	var all []recordEnvelope
	offset := 0
	for {
		reqBody, err := json.Marshal(findRequest{
			Query:  []map[string]string{query},
			Offset: offset,
			Limit:  c.pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal find request: %w", err)
		}

		status, body, err := c.do(ctx, http.MethodPost, c.layoutURL(layout, "_find"), reqBody)
		if err != nil {
			return nil, err
		}
		if status == http.StatusNotFound {
			return all, nil
		}
		if status != http.StatusOK {
			return nil, c.classifyStatus("find", status, body)
		}

		var page findResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode find response: %w", err)
		}
		all = append(all, page.Data...)
		if len(page.Data) < c.pageSize {
			return all, nil
		}
		offset += c.pageSize
	}
}

// FindRecords returns every record of the asset type at the given status.
func (c *Client) FindRecords(ctx context.Context, asset catalog.AssetType, state catalog.State) ([]*catalog.Record, error) {
	envelopes, err := c.find(ctx, layoutFor(asset), map[string]string{wireStatus: state.String()})
	if err != nil {
		return nil, err
	}

	records := make([]*catalog.Record, 0, len(envelopes))
	for _, env := range envelopes {
		rec, err := decodeRecord(asset, env)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// FindRecordByKey returns the record with the business key, or nil when the
// store holds no such record.
func (c *Client) FindRecordByKey(ctx context.Context, asset catalog.AssetType, key string) (*catalog.Record, error) {
	envelopes, err := c.find(ctx, layoutFor(asset), map[string]string{wireBusinessKey: key})
	if err != nil {
		return nil, err
	}
	if len(envelopes) == 0 {
		return nil, nil
	}
	return decodeRecord(asset, envelopes[0])
}

// FindFrames returns every child frame whose parent back-reference matches key.
func (c *Client) FindFrames(ctx context.Context, parentKey string) ([]*catalog.Frame, error) {
	envelopes, err := c.find(ctx, framesLayout, map[string]string{wireParentKey: parentKey})
	if err != nil {
		return nil, err
	}

	frames := make([]*catalog.Frame, 0, len(envelopes))
	for _, env := range envelopes {
		frame, err := decodeFrame(env)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// UpdateRecord patches the record's mutable fields. Payload fields and the
// orchestration bookkeeping go out in one combined write so status and
// content land together.
func (c *Client) UpdateRecord(ctx context.Context, rec *catalog.Record) error {
	fieldData := make(map[string]any, len(rec.Fields)+4)
	for name, value := range rec.Fields {
		fieldData[name] = value
	}
	fieldData[wireStatus] = rec.State.String()
	fieldData[wireDiagnostic] = rec.DiagnosticNote
	fieldData[wireAttempts] = strconv.Itoa(rec.Attempts)
	if rec.NextAttemptAt.IsZero() {
		fieldData[wireNextAttempt] = ""
	} else {
		fieldData[wireNextAttempt] = rec.NextAttemptAt.UTC().Format(time.RFC3339)
	}
	return c.patch(ctx, layoutFor(rec.AssetType), rec.ID, fieldData)
}

// UpdateFrame patches the frame's mutable fields.
func (c *Client) UpdateFrame(ctx context.Context, frame *catalog.Frame) error {
	fieldData := map[string]any{
		wireStatus:     frame.State.String(),
		wireCaption:    frame.Caption,
		wireTranscript: frame.Transcript,
		wireAttempts:   strconv.Itoa(frame.Attempts),
	}
	return c.patch(ctx, framesLayout, frame.ID, fieldData)
}

func (c *Client) patch(ctx context.Context, layout, recordID string, fieldData map[string]any) error {
	if recordID == "" {
		return services.Wrap(services.ErrValidation, "recordstore", "update", "record has no store id", nil)
	}
	body, err := json.Marshal(map[string]any{"fieldData": fieldData})
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	status, respBody, err := c.do(ctx, http.MethodPatch, c.layoutURL(layout, "records/"+recordID), body)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return c.classifyStatus("update", status, respBody)
	}
	return nil
}

// classifyStatus maps a non-2xx Data API response onto the failure taxonomy:
// client errors are programming or data faults that retrying cannot fix,
// server errors are transient.
func (c *Client) classifyStatus(op string, status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Body: truncate(string(body), maxErrorBody)}
	switch {
	case status == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "recordstore", op, "record not found", apiErr)
	case status >= 400 && status < 500:
		return services.Wrap(services.ErrValidation, "recordstore", op, "data api rejected request", apiErr)
	default:
		return services.Wrap(services.ErrTransient, "recordstore", op, "data api unavailable", apiErr)
	}
}

func decodeRecord(asset catalog.AssetType, env recordEnvelope) (*catalog.Record, error) {
	key := fieldString(env.FieldData, wireBusinessKey)
	state, err := catalog.ParseState(fieldString(env.FieldData, wireStatus), catalog.StagesFor(asset))
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", key, err)
	}

	rec := &catalog.Record{
		ID:             env.RecordID,
		BusinessKey:    key,
		AssetType:      asset,
		State:          state,
		Fields:         make(map[string]string),
		DiagnosticNote: fieldString(env.FieldData, wireDiagnostic),
	}
	if raw := fieldString(env.FieldData, wireAttempts); raw != "" {
		if attempts, err := strconv.Atoi(raw); err == nil {
			rec.Attempts = attempts
		}
	}
	if raw := fieldString(env.FieldData, wireNextAttempt); raw != "" {
		if at, err := time.Parse(time.RFC3339, raw); err == nil {
			rec.NextAttemptAt = at
		}
	}

	for name := range env.FieldData {
		switch name {
		case wireBusinessKey, wireStatus, wireDiagnostic, wireAttempts, wireNextAttempt:
			continue
		}
		rec.Fields[name] = fieldString(env.FieldData, name)
	}
	return rec, nil
}

func decodeFrame(env recordEnvelope) (*catalog.Frame, error) {
	key := fieldString(env.FieldData, wireBusinessKey)
	state, err := catalog.ParseState(fieldString(env.FieldData, wireStatus), catalog.FrameStages)
	if err != nil {
		return nil, fmt.Errorf("frame %s: %w", key, err)
	}

	frame := &catalog.Frame{
		ID:          env.RecordID,
		BusinessKey: key,
		ParentKey:   fieldString(env.FieldData, wireParentKey),
		State:       state,
		Caption:     fieldString(env.FieldData, wireCaption),
		Transcript:  fieldString(env.FieldData, wireTranscript),
	}
	if raw := fieldString(env.FieldData, wireAttempts); raw != "" {
		if attempts, err := strconv.Atoi(raw); err == nil {
			frame.Attempts = attempts
		}
	}
	return frame, nil
}

// fieldString normalizes a fieldData value. The Data API returns numbers for
// numeric columns, strings for everything else.
func fieldString(fieldData map[string]any, name string) string {
	switch v := fieldData[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
