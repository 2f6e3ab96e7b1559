package journal

import (
	"context"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/livesync/internal/event"
	"github.com/dennisdiepolder/monti/livesync/internal/storage"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/rs/zerolog"
)

const (
	OutcomeCompleted = "completed"
	OutcomeError     = "error"
)

// DateKey is the partition key of the day t falls on, in UTC
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Recorder writes a journal entry for every finished or failed call.
// Writes happen off the dispatch goroutine.
type Recorder struct {
	store    storage.Store
	hospital string
	timeout  time.Duration
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// NewRecorder creates a recorder that stamps records with hospitalID when
// the payload carries none
func NewRecorder(store storage.Store, hospitalID string, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:    store,
		hospital: hospitalID,
		timeout:  5 * time.Second,
		logger:   logger.With().Str("component", "journal").Logger(),
	}
}

// Attach registers the recorder and returns a func removing its listeners
func (r *Recorder) Attach(router *event.Router) func() {
	return router.OnTypes([]types.EventType{types.EventCallCompleted, types.EventCallError}, r.Handle)
}

// Handle turns a call event into a record and saves it asynchronously
func (r *Recorder) Handle(evt types.Event) error {
	record, err := r.Record(evt)
	if err != nil {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.store.SaveCallRecord(ctx, record); err != nil {
			r.logger.Error().Err(err).Str("call_id", record.CallID).Msg("failed to save call record")
			return
		}
		r.logger.Debug().Str("call_id", record.CallID).Str("outcome", record.Outcome).Msg("call recorded")
	}()
	return nil
}

// Record builds the journal entry for a call:completed or call:error event
func (r *Recorder) Record(evt types.Event) (types.CallRecord, error) {
	var p types.CallPayload
	if err := evt.Decode(&p); err != nil {
		return types.CallRecord{}, err
	}

	received := evt.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}

	outcome := OutcomeCompleted
	if evt.Type == types.EventCallError {
		outcome = OutcomeError
	}

	hospital := p.HospitalID
	if hospital == "" {
		hospital = r.hospital
	}

	return types.CallRecord{
		DateKey:    DateKey(received),
		CallID:     p.CallID,
		HospitalID: hospital,
		AgentID:    p.AgentID,
		Outcome:    outcome,
		Status:     p.Status,
		Duration:   p.Duration,
		Error:      p.Error,
		SentAt:     evt.Timestamp,
		ReceivedAt: received.UTC().Format(time.RFC3339),
	}, nil
}

// Close waits for pending writes
func (r *Recorder) Close() {
	r.wg.Wait()
}
