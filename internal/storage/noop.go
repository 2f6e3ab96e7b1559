package storage

import (
	"context"

	"github.com/dennisdiepolder/monti/livesync/internal/types"
)

// Store persists the call journal
type Store interface {
	SaveCallRecord(ctx context.Context, record types.CallRecord) error
	GetCallRecords(ctx context.Context, dateKey string) ([]types.CallRecord, error)
	GetHospitalCallsByDate(ctx context.Context, hospitalID, dateKey string) ([]types.CallRecord, error)
}

// NoopStore is a no-op implementation when DynamoDB is disabled
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) SaveCallRecord(context.Context, types.CallRecord) error { return nil }
func (s *NoopStore) GetCallRecords(context.Context, string) ([]types.CallRecord, error) {
	return nil, nil
}
func (s *NoopStore) GetHospitalCallsByDate(context.Context, string, string) ([]types.CallRecord, error) {
	return nil, nil
}
