package voucher

import (
	"context"
	"fmt"
)

// SequencePort exposes the durable counter backing the allocator.
type SequencePort interface {
	// NextValue durably increments and returns the counter for the tuple.
	// The increment must run under serializable isolation.
	NextValue(ctx context.Context, companyID int64, kind string, period int) (int64, error)
}

// Service composes voucher numbers from durable sequence counters.
type Service struct {
	sequences SequencePort
}

// NewService constructs the numbering service.
func NewService(sequences SequencePort) *Service {
	return &Service{sequences: sequences}
}

// Allocate returns the next voucher number for (company, kind, period),
// e.g. "PV/2026/00042". The numeric portion strictly increases within the
// tuple. An aborted transaction may leave a gap, which is acceptable; a
// duplicate is not and is guarded by the unique index on voucher_number.
func (s *Service) Allocate(ctx context.Context, companyID int64, kind string, period int) (string, error) {
	prefix, err := PrefixFor(kind)
	if err != nil {
		return "", err
	}
	value, err := s.sequences.NextValue(ctx, companyID, kind, period)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return fmt.Sprintf("%s/%d/%05d", prefix, period, value), nil
}
