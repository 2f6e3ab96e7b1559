package api

import (
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/livesync/internal/journal"
	"github.com/dennisdiepolder/monti/livesync/internal/storage"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/rs/zerolog"
)

// JournalHandler serves the finished-call journal for a day
type JournalHandler struct {
	store    storage.Store
	hospital string
	logger   zerolog.Logger
}

// NewJournalHandler creates a new JournalHandler. An empty hospitalID
// returns the records of every hospital.
func NewJournalHandler(store storage.Store, hospitalID string, logger zerolog.Logger) *JournalHandler {
	return &JournalHandler{
		store:    store,
		hospital: hospitalID,
		logger:   logger.With().Str("component", "journal_api").Logger(),
	}
}

// GetJournal handles GET /api/journal?date=YYYY-MM-DD. The date defaults
// to today in UTC.
func (h *JournalHandler) GetJournal(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = journal.DateKey(time.Now())
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	var (
		records []types.CallRecord
		err     error
	)
	if h.hospital == "" {
		records, err = h.store.GetCallRecords(r.Context(), date)
	} else {
		records, err = h.store.GetHospitalCallsByDate(r.Context(), h.hospital, date)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("failed to read call journal")
		writeError(w, http.StatusInternalServerError, "failed to read call journal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"date":    date,
		"records": nonNil(records),
		"count":   len(records),
	})
}

func nonNil(records []types.CallRecord) []types.CallRecord {
	if records == nil {
		return []types.CallRecord{}
	}
	return records
}
