package payment

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryRepository is an in-memory Repository for service tests. Transition
// mirrors the production compare-and-swap semantics under a single mutex.
type memoryRepository struct {
	mu       sync.Mutex
	nextID   int64
	nextHist int64
	payments map[int64]*Payment
	history  map[int64][]HistoryEntry
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		payments: make(map[int64]*Payment),
		history:  make(map[int64][]HistoryEntry),
	}
}

func (m *memoryRepository) GetByID(_ context.Context, id int64) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (m *memoryRepository) GetByVoucher(_ context.Context, companyID int64, voucherNumber string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.CompanyID == companyID && p.VoucherNumber == voucherNumber {
			clone := *p
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepository) GetByToken(_ context.Context, token string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.VerificationToken != nil && *p.VerificationToken == token {
			clone := *p
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepository) List(_ context.Context, req ListRequest) ([]Payment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Payment
	for _, p := range m.payments {
		if req.CompanyID != 0 && p.CompanyID != req.CompanyID {
			continue
		}
		if req.State != "" && p.State != req.State {
			continue
		}
		if req.Kind != "" && p.Kind != req.Kind {
			continue
		}
		if req.Priority != "" && p.Priority != req.Priority {
			continue
		}
		all = append(all, *p)
	}
	total := len(all)
	if req.Offset >= len(all) {
		return nil, total, nil
	}
	all = all[req.Offset:]
	if req.Limit > 0 && req.Limit < len(all) {
		all = all[:req.Limit]
	}
	return all, total, nil
}

func (m *memoryRepository) ListInStates(_ context.Context, states []State) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payment
	for _, p := range m.payments {
		for _, s := range states {
			if p.State == s {
				out = append(out, *p)
				break
			}
		}
	}
	return out, nil
}

func (m *memoryRepository) History(_ context.Context, paymentID int64) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]HistoryEntry, len(m.history[paymentID]))
	copy(entries, m.history[paymentID])
	return entries, nil
}

func (m *memoryRepository) Create(_ context.Context, p Payment) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	m.payments[p.ID] = &p
	clone := p
	return &clone, nil
}

func (m *memoryRepository) Transition(ctx context.Context, in TransitionInput) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[in.PaymentID]
	if !ok {
		return nil, ErrNotFound
	}
	if p.State != in.From {
		return nil, fmt.Errorf("%w: expected %s, found %s", ErrStateConflict, in.From, p.State)
	}
	if !ValidTransition(in.From, in.To) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, in.From, in.To)
	}

	if in.During != nil {
		if err := in.During(ctx, *p); err != nil {
			return nil, err
		}
	}

	next := *p
	next.State = in.To
	next.UpdatedAt = in.At
	for field, value := range in.Updates {
		applyField(&next, field, value)
	}
	m.payments[in.PaymentID] = &next

	m.nextHist++
	m.history[in.PaymentID] = append(m.history[in.PaymentID], HistoryEntry{
		ID:        m.nextHist,
		PaymentID: in.PaymentID,
		FromState: in.From,
		ToState:   in.To,
		ActorID:   in.ActorID,
		Comment:   in.Comment,
		Signature: in.Signature,
		At:        in.At,
	})

	clone := next
	return &clone, nil
}

func (m *memoryRepository) RecordScan(_ context.Context, token string, at time.Time, maxScans int) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.VerificationToken == nil || *p.VerificationToken != token {
			continue
		}
		if p.QRScanCount >= maxScans {
			return nil, ErrNotFound
		}
		p.QRScanCount++
		scanAt := at
		p.LastScanAt = &scanAt
		p.UpdatedAt = at
		clone := *p
		return &clone, nil
	}
	return nil, ErrNotFound
}

func applyField(p *Payment, field string, value interface{}) {
	switch field {
	case "state":
		p.State = value.(State)
	case "host_state":
		p.HostState = value.(HostState)
	case "submitter_id":
		p.SubmitterID = int64Ptr(value)
	case "submitted_at":
		p.SubmittedAt = timePtr(value)
	case "reviewer_id":
		p.ReviewerID = int64Ptr(value)
	case "reviewed_at":
		p.ReviewedAt = timePtr(value)
	case "approver_id":
		p.ApproverID = int64Ptr(value)
	case "approved_at":
		p.ApprovedAt = timePtr(value)
	case "authorizer_id":
		p.AuthorizerID = int64Ptr(value)
	case "authorized_at":
		p.AuthorizedAt = timePtr(value)
	case "posted_at":
		p.PostedAt = timePtr(value)
	case "verification_token":
		if value == nil {
			p.VerificationToken = nil
		} else {
			token := value.(string)
			p.VerificationToken = &token
		}
	}
}

func int64Ptr(value interface{}) *int64 {
	if value == nil {
		return nil
	}
	v := value.(int64)
	return &v
}

func timePtr(value interface{}) *time.Time {
	if value == nil {
		return nil
	}
	v := value.(time.Time)
	return &v
}
