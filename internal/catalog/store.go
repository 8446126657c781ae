package catalog

import "context"

// Store is the narrow contract the orchestration core needs from the external
// record store. Implementations must treat a not-found find result as an empty
// slice, not an error, and must not fail updates for expected transient
// conditions without surfacing an error the caller can classify.
//
// No cross-record transactionality is assumed. Concurrent updates to the same
// record are last-writer-wins and are avoided structurally: the orchestrator
// never dispatches more than one handler per record at a time.
type Store interface {
	// FindRecords returns every record of the asset type whose raw status
	// matches the given state, paginating past any single-request limit.
	FindRecords(ctx context.Context, asset AssetType, state State) ([]*Record, error)

	// FindRecordByKey returns the record with the given business key, or nil
	// when no such record exists.
	FindRecordByKey(ctx context.Context, asset AssetType, key string) (*Record, error)

	// FindFrames returns every frame whose parent back-reference matches key.
	FindFrames(ctx context.Context, parentKey string) ([]*Frame, error)

	// UpdateRecord persists the record's mutable fields (state, payload,
	// diagnostic note, retry bookkeeping).
	UpdateRecord(ctx context.Context, rec *Record) error

	// UpdateFrame persists the frame's mutable fields.
	UpdateFrame(ctx context.Context, frame *Frame) error
}

// ContainerUploader is implemented by stores that accept binary container
// uploads (thumbnails) alongside field data.
type ContainerUploader interface {
	UploadContainer(ctx context.Context, recordID, field, path string) error
}
