package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/livesync/internal/event"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/rs/zerolog"
)

type memoryStore struct {
	mu      sync.Mutex
	records []types.CallRecord
	err     error
}

func (m *memoryStore) SaveCallRecord(_ context.Context, rec types.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryStore) GetCallRecords(_ context.Context, dateKey string) ([]types.CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.CallRecord
	for _, r := range m.records {
		if r.DateKey == dateKey {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryStore) GetHospitalCallsByDate(ctx context.Context, hospitalID, dateKey string) ([]types.CallRecord, error) {
	all, _ := m.GetCallRecords(ctx, dateKey)
	var out []types.CallRecord
	for _, r := range all {
		if r.HospitalID == hospitalID {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestRecorderWritesFinishedCalls(t *testing.T) {
	store := &memoryStore{}
	rec := NewRecorder(store, "h1", zerolog.Nop())
	router := event.NewRouter(zerolog.Nop())
	rec.Attach(router)

	router.HandleFrame([]byte(`{"type":"call:started","payload":{"callId":"c1"}}`))
	router.HandleFrame([]byte(`{"type":"call:completed","payload":{"callId":"c1","agentId":"agent1","duration":95},"timestamp":"2024-03-01T09:01:35Z"}`))
	router.HandleFrame([]byte(`{"type":"call:error","payload":{"callId":"c2","hospitalId":"h9","error":"trunk down"}}`))
	rec.Close()

	if len(store.records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(store.records))
	}

	byID := map[string]types.CallRecord{}
	for _, r := range store.records {
		byID[r.CallID] = r
	}

	completed := byID["c1"]
	if completed.Outcome != OutcomeCompleted || completed.Duration != 95 || completed.HospitalID != "h1" {
		t.Errorf("unexpected completed record %+v", completed)
	}
	if completed.SentAt != "2024-03-01T09:01:35Z" || completed.DateKey == "" {
		t.Errorf("expected timestamps to be kept, got %+v", completed)
	}

	failed := byID["c2"]
	if failed.Outcome != OutcomeError || failed.Error != "trunk down" || failed.HospitalID != "h9" {
		t.Errorf("unexpected error record %+v", failed)
	}
}

func TestRecordDateKeyUsesUTC(t *testing.T) {
	rec := NewRecorder(&memoryStore{}, "h1", zerolog.Nop())
	berlin := time.FixedZone("CET", 3600)

	record, err := rec.Record(types.Event{
		Type:       types.EventCallCompleted,
		Payload:    []byte(`{"callId":"c1"}`),
		ReceivedAt: time.Date(2024, 3, 2, 0, 30, 0, 0, berlin),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.DateKey != "2024-03-01" {
		t.Errorf("expected UTC date 2024-03-01, got %s", record.DateKey)
	}
	if record.ReceivedAt != "2024-03-01T23:30:00Z" {
		t.Errorf("unexpected receivedAt %s", record.ReceivedAt)
	}
}

func TestRecorderErrors(t *testing.T) {
	store := &memoryStore{err: errors.New("throttled")}
	rec := NewRecorder(store, "h1", zerolog.Nop())

	if err := rec.Handle(types.Event{Type: types.EventCallCompleted}); err == nil {
		t.Error("expected error for an empty payload")
	}

	// Store failures are logged, not returned to the dispatcher
	err := rec.Handle(types.Event{Type: types.EventCallCompleted, Payload: []byte(`{"callId":"c1"}`)})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	rec.Close()
	if len(store.records) != 0 {
		t.Error("no record should be stored")
	}
}
