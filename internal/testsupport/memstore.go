package testsupport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"curator/internal/catalog"
)

// MemoryStore is an in-memory catalog.Store for tests. It stores copies and
// returns copies, so mutations only become visible through UpdateRecord /
// UpdateFrame, the same visibility model as the remote Data API.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*catalog.Record
	frames  map[string]*catalog.Frame
	nextID  int

	// UpdateRecordErr, when set, is returned by every UpdateRecord call.
	UpdateRecordErr error
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*catalog.Record),
		frames:  make(map[string]*catalog.Frame),
	}
}

// AddRecord inserts a record, assigning an ID when missing, and returns the ID.
func (m *MemoryStore) AddRecord(rec *catalog.Record) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		m.nextID++
		rec.ID = fmt.Sprintf("rec-%d", m.nextID)
	}
	m.records[rec.ID] = copyRecord(rec)
	return rec.ID
}

// AddFrame inserts a frame, assigning an ID when missing, and returns the ID.
func (m *MemoryStore) AddFrame(frame *catalog.Frame) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if frame.ID == "" {
		m.nextID++
		frame.ID = fmt.Sprintf("frame-%d", m.nextID)
	}
	m.frames[frame.ID] = copyFrame(frame)
	return frame.ID
}

// FindRecords implements catalog.Store.
func (m *MemoryStore) FindRecords(_ context.Context, asset catalog.AssetType, state catalog.State) ([]*catalog.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*catalog.Record
	for _, rec := range m.records {
		if rec.AssetType == asset && rec.State.String() == state.String() {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

// FindRecordByKey implements catalog.Store.
func (m *MemoryStore) FindRecordByKey(_ context.Context, asset catalog.AssetType, key string) (*catalog.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.AssetType == asset && rec.BusinessKey == key {
			return copyRecord(rec), nil
		}
	}
	return nil, nil
}

// FindFrames implements catalog.Store.
func (m *MemoryStore) FindFrames(_ context.Context, parentKey string) ([]*catalog.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*catalog.Frame
	for _, frame := range m.frames {
		if frame.ParentKey == parentKey {
			out = append(out, copyFrame(frame))
		}
	}
	return out, nil
}

// UpdateRecord implements catalog.Store.
func (m *MemoryStore) UpdateRecord(_ context.Context, rec *catalog.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateRecordErr != nil {
		return m.UpdateRecordErr
	}
	if _, ok := m.records[rec.ID]; !ok {
		return fmt.Errorf("record %s not found", rec.ID)
	}
	m.records[rec.ID] = copyRecord(rec)
	return nil
}

// UpdateFrame implements catalog.Store.
func (m *MemoryStore) UpdateFrame(_ context.Context, frame *catalog.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.frames[frame.ID]; !ok {
		return fmt.Errorf("frame %s not found", frame.ID)
	}
	m.frames[frame.ID] = copyFrame(frame)
	return nil
}

// RecordByKey returns a copy of the record with the given business key.
func (m *MemoryStore) RecordByKey(key string) *catalog.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.BusinessKey == key {
			return copyRecord(rec)
		}
	}
	return nil
}

// FrameByKey returns a copy of the frame with the given business key.
func (m *MemoryStore) FrameByKey(key string) *catalog.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, frame := range m.frames {
		if frame.BusinessKey == key {
			return copyFrame(frame)
		}
	}
	return nil
}

func copyRecord(rec *catalog.Record) *catalog.Record {
	cp := *rec
	cp.Fields = make(map[string]string, len(rec.Fields))
	for k, v := range rec.Fields {
		cp.Fields[k] = v
	}
	return &cp
}

func copyFrame(frame *catalog.Frame) *catalog.Frame {
	cp := *frame
	return &cp
}

// WaitUntil polls fn until it returns true or the deadline passes.
func WaitUntil(timeout time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fn()
}
