// Package payment implements the payment approval workflow engine.
package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// State represents the approval lifecycle of a payment. It is distinct from
// the host accounting state mirrored in HostState.
type State string

const (
	StateDraft       State = "draft"
	StateSubmitted   State = "submitted"
	StateUnderReview State = "under_review"
	StateApproved    State = "approved"
	StateAuthorized  State = "authorized"
	StatePosted      State = "posted"
	StateRejected    State = "rejected"
	StateCancelled   State = "cancelled"
)

// IsValid checks if the state is part of the lifecycle.
func (s State) IsValid() bool {
	switch s {
	case StateDraft, StateSubmitted, StateUnderReview, StateApproved,
		StateAuthorized, StatePosted, StateRejected, StateCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further actions are accepted.
func (s State) IsTerminal() bool {
	return s == StatePosted || s == StateRejected || s == StateCancelled
}

// CanCancel reports whether a cancel action is accepted from this state.
func (s State) CanCancel() bool {
	return s == StateDraft || s == StateSubmitted || s == StateUnderReview
}

// Action names are stable; scripts depend on them.
type Action string

const (
	ActionSubmit      Action = "submit"
	ActionStartReview Action = "start_review"
	ActionApprove     Action = "approve"
	ActionAuthorize   Action = "authorize"
	ActionPost        Action = "post"
	ActionReject      Action = "reject"
	ActionCancel      Action = "cancel"
	ActionResubmit    Action = "resubmit"
)

// IsValid checks if the action is part of the catalogue.
func (a Action) IsValid() bool {
	switch a {
	case ActionSubmit, ActionStartReview, ActionApprove, ActionAuthorize,
		ActionPost, ActionReject, ActionCancel, ActionResubmit:
		return true
	default:
		return false
	}
}

// Host accounting states mirrored from the accounting layer.
type HostState string

const (
	HostStateDraft     HostState = "draft"
	HostStatePosted    HostState = "posted"
	HostStateCancelled HostState = "cancelled"
)

// Payment kinds.
type Kind string

const (
	KindOutbound Kind = "outbound"
	KindInbound  Kind = "inbound"
	KindTransfer Kind = "internal_transfer"
)

// IsValid checks if the kind is recognised.
func (k Kind) IsValid() bool {
	switch k {
	case KindOutbound, KindInbound, KindTransfer:
		return true
	default:
		return false
	}
}

// Priorities scale the amount when deriving the approval tier.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// IsValid checks if the priority is recognised.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Payment is the engine's view of a payment record.
type Payment struct {
	ID             int64           `json:"id"`
	VoucherNumber  string          `json:"voucher_number"`
	CompanyID      int64           `json:"company_id"`
	Kind           Kind            `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	CounterpartyID *int64          `json:"counterparty_id,omitempty"`
	Priority       Priority        `json:"priority"`
	State          State           `json:"approval_state"`
	HostState      HostState       `json:"host_state"`
	Notes          string          `json:"notes,omitempty"`
	CreatedBy      int64           `json:"created_by"`

	SubmitterID  *int64     `json:"submitter_id,omitempty"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	ReviewerID   *int64     `json:"reviewer_id,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	ApproverID   *int64     `json:"approver_id,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	AuthorizerID *int64     `json:"authorizer_id,omitempty"`
	AuthorizedAt *time.Time `json:"authorized_at,omitempty"`
	PostedAt     *time.Time `json:"posting_time,omitempty"`

	VerificationToken *string    `json:"-"`
	QRScanCount       int        `json:"qr_scan_count"`
	LastScanAt        *time.Time `json:"last_scan_time,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryEntry is an append-only record of one transition.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	PaymentID int64     `json:"payment_id"`
	FromState State     `json:"from_state"`
	ToState   State     `json:"to_state"`
	ActorID   int64     `json:"actor_id"`
	Comment   string    `json:"comment,omitempty"`
	Signature []byte    `json:"signature,omitempty"`
	At        time.Time `json:"at"`
}

// transitions lists every edge of the state graph. Used to validate history
// trails and to reject malformed transitions defensively at the repository.
var transitions = map[State][]State{
	StateDraft:       {StateSubmitted, StateRejected, StateCancelled},
	StateSubmitted:   {StateUnderReview, StateRejected, StateCancelled},
	StateUnderReview: {StateApproved, StatePosted, StateRejected, StateCancelled},
	// The cancelled edges from approved and authorized are reachable only
	// through host-cancellation sync, never through the cancel action.
	StateApproved:   {StateAuthorized, StatePosted, StateRejected, StateCancelled},
	StateAuthorized: {StatePosted, StateRejected, StateCancelled},
	StateRejected:   {StateDraft},
}

// ValidTransition reports whether from -> to is an edge of the state graph.
func ValidTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidTrail reports whether the ordered history forms a path through the
// state graph starting at draft (or submitted when auto-submit created the
// payment) and ending at current.
func ValidTrail(entries []HistoryEntry, current State) bool {
	if len(entries) == 0 {
		return current == StateDraft || current == StateSubmitted
	}
	first := entries[0].FromState
	if first != StateDraft && first != StateSubmitted {
		return false
	}
	cursor := first
	for _, e := range entries {
		if e.FromState != cursor || !ValidTransition(e.FromState, e.ToState) {
			return false
		}
		cursor = e.ToState
	}
	return cursor == current
}
