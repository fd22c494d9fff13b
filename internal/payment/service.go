package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian/internal/policy"
	"github.com/meridian-erp/meridian/internal/rbac"
	"github.com/meridian-erp/meridian/internal/shared"
)

// PolicyPort provides the active approval configuration for a company.
type PolicyPort interface {
	Active(ctx context.Context, companyID int64) (policy.Config, error)
}

// VoucherPort allocates voucher numbers.
type VoucherPort interface {
	Allocate(ctx context.Context, companyID int64, kind string, period int) (string, error)
}

// HostPoster posts an approved payment into the accounting host.
type HostPoster interface {
	Post(ctx context.Context, p Payment) error
}

// HostRegistrar mirrors a newly created payment into the host's document
// ledger. Registration must be idempotent.
type HostRegistrar interface {
	Register(ctx context.Context, p Payment) error
}

// Event describes a completed transition, for notification fan-out.
type Event struct {
	Payment    Payment
	Action     Action
	Heightened bool
}

// NotifierPort delivers state-change notifications. Delivery is best-effort;
// failures never roll back a transition.
type NotifierPort interface {
	Notify(ctx context.Context, ev Event) error
}

// AuditPort records audit log entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts transition attempts by action and outcome.
type MetricsPort interface {
	ObserveTransition(action, outcome string)
}

// ActionRequest is one workflow action against a payment.
type ActionRequest struct {
	Action    Action
	Comment   string
	Signature []byte
}

// CreateInput holds the fields needed to register a new payment.
type CreateInput struct {
	CompanyID      int64
	Kind           Kind
	Amount         decimal.Decimal
	Currency       string
	CounterpartyID *int64
	Priority       Priority
	Notes          string
}

// Service drives payments through the approval workflow.
type Service struct {
	repo      Repository
	policies  PolicyPort
	vouchers  VoucherPort
	host      HostPoster
	registrar HostRegistrar
	notifier  NotifierPort
	audit     AuditPort
	metrics   MetricsPort
	logger    *slog.Logger

	hostTimeout time.Duration
	now         func() time.Time
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithNotifier wires notification fan-out.
func WithNotifier(n NotifierPort) Option { return func(s *Service) { s.notifier = n } }

// WithHostRegistrar wires creation-time mirroring into the host ledger.
func WithHostRegistrar(r HostRegistrar) Option { return func(s *Service) { s.registrar = r } }

// WithAudit wires audit logging.
func WithAudit(a AuditPort) Option { return func(s *Service) { s.audit = a } }

// WithMetrics wires transition counters.
func WithMetrics(m MetricsPort) Option { return func(s *Service) { s.metrics = m } }

// WithHostTimeout bounds each accounting host call.
func WithHostTimeout(d time.Duration) Option { return func(s *Service) { s.hostTimeout = d } }

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates a payment workflow service.
func NewService(repo Repository, policies PolicyPort, vouchers VoucherPort, host HostPoster, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		policies:    policies,
		vouchers:    vouchers,
		host:        host,
		logger:      logger,
		hostTimeout: 10 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Create registers a payment in draft state, allocating its voucher number.
// When auto-submit is enabled by configuration the payment is submitted
// immediately by the same actor.
func (s *Service) Create(ctx context.Context, in CreateInput, actor rbac.Actor) (*Payment, error) {
	if !in.Kind.IsValid() {
		return nil, ErrInvalidKind
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.IsValid() {
		return nil, ErrInvalidPriority
	}

	cfg, err := s.policies.Active(ctx, in.CompanyID)
	if err != nil {
		return nil, err
	}

	voucherNumber, err := s.vouchers.Allocate(ctx, in.CompanyID, string(in.Kind), s.now().Year())
	if err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, Payment{
		VoucherNumber:  voucherNumber,
		CompanyID:      in.CompanyID,
		Kind:           in.Kind,
		Amount:         in.Amount,
		Currency:       in.Currency,
		CounterpartyID: in.CounterpartyID,
		Priority:       in.Priority,
		State:          StateDraft,
		HostState:      HostStateDraft,
		Notes:          in.Notes,
		CreatedBy:      actor.ID,
	})
	if err != nil {
		return nil, err
	}

	if s.registrar != nil {
		// The host poster re-registers on demand, so a failed mirror here
		// only delays the host document, it never strands the payment.
		if err := s.registrar.Register(ctx, *created); err != nil {
			s.logger.Warn("host document registration failed",
				slog.Int64("payment_id", created.ID),
				slog.String("voucher", created.VoucherNumber),
				slog.Any("error", err))
		}
	}

	if cfg.AutoSubmitOnCreate {
		submitted, err := s.Apply(ctx, created.ID, ActionRequest{Action: ActionSubmit}, actor)
		if err != nil {
			// The draft remains usable; surface the validation failure.
			return created, err
		}
		return submitted, nil
	}
	return created, nil
}

// Get retrieves a payment. A payment whose host record was cancelled outside
// the engine is driven to cancelled before being returned.
func (s *Service) Get(ctx context.Context, id int64) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.HostState == HostStateCancelled && !p.State.IsTerminal() {
		synced, err := s.repo.Transition(ctx, TransitionInput{
			PaymentID: p.ID,
			From:      p.State,
			To:        StateCancelled,
			ActorID:   0,
			Comment:   "cancelled in accounting host",
			At:        s.now(),
		})
		if err != nil {
			if errors.Is(err, ErrStateConflict) {
				return s.repo.GetByID(ctx, id)
			}
			return nil, err
		}
		s.recordAudit(ctx, 0, "PAYMENT_HOST_CANCEL_SYNC", synced.ID)
		return synced, nil
	}
	return p, nil
}

// History returns the full transition trail of a payment, oldest first.
func (s *Service) History(ctx context.Context, id int64) ([]HistoryEntry, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

// List returns payments matching the request plus the unpaged total.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Payment, int, error) {
	return s.repo.List(ctx, req)
}

// Apply performs one workflow action. Authority, segregation of duties and
// tier routing are resolved against the active configuration; the state
// change itself is a compare-and-swap so concurrent actors race safely.
func (s *Service) Apply(ctx context.Context, id int64, req ActionRequest, actor rbac.Actor) (*Payment, error) {
	p, err := s.apply(ctx, id, req, actor)
	s.observe(req.Action, err)
	return p, err
}

func (s *Service) apply(ctx context.Context, id int64, req ActionRequest, actor rbac.Actor) (*Payment, error) {
	if !req.Action.IsValid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, req.Action)
	}

	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := s.policies.Active(ctx, p.CompanyID)
	if err != nil {
		return nil, err
	}

	switch req.Action {
	case ActionSubmit:
		return s.submit(ctx, p, cfg, req, actor)
	case ActionStartReview:
		return s.startReview(ctx, p, cfg, req, actor)
	case ActionApprove:
		return s.approve(ctx, p, cfg, req, actor)
	case ActionAuthorize:
		return s.authorize(ctx, p, cfg, req, actor)
	case ActionPost:
		return s.post(ctx, p, cfg, req, actor)
	case ActionReject:
		return s.reject(ctx, p, cfg, req, actor)
	case ActionCancel:
		return s.cancel(ctx, p, req, actor)
	case ActionResubmit:
		return s.resubmit(ctx, p, req, actor)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, req.Action)
	}
}

func (s *Service) submit(ctx context.Context, p *Payment, cfg policy.Config, req ActionRequest, actor rbac.Actor) (*Payment, error) {
	if p.State != StateDraft {
		return nil, transitionErr(p.State, ActionSubmit)
	}
	if p.Amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if !currencyPattern.MatchString(p.Currency) {
		return nil, ErrInvalidCurrency
	}
	if p.Kind == KindOutbound && p.CounterpartyID == nil {
		return nil, ErrMissingCounterparty
	}

	now := s.now()
	updated, err := s.transition(ctx, p, StateSubmitted, req, actor, map[string]interface{}{
		"submitter_id": actor.ID,
		"submitted_at": now,
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, cfg, Event{Payment: *updated, Action: ActionSubmit})
	return updated, nil
}

func (s *Service) startReview(ctx context.Context, p *Payment, cfg policy.Config, req ActionRequest, actor rbac.Actor) (*Payment, error) {
	if p.State != StateSubmitted {
		return nil, transitionErr(p.State, ActionStartReview)
	}
	if !actor.HasAnyGroup(shared.GroupPaymentReviewer, shared.GroupPaymentManager, shared.GroupPaymentAdmin) {
		return nil, ErrUnauthorized
	}
	if cfg.RequireSignatureAllStages && len(req.Signature) == 0 {
		return nil, ErrSignatureRequired
	}

	return s.transition(ctx, p, StateUnderReview, req, actor, map[string]interface{}{
		"reviewer_id": actor.ID,
		"reviewed_at": s.now(),
	})
}

func (s *Service) approve(ctx context.Context, p *Payment, cfg policy.Config, req ActionRequest, actor rbac.Actor) (*Payment, error) {
	if p.State != StateUnderReview {
		return nil, transitionErr(p.State, ActionApprove)
	}
	if !actor.HasAnyGroup(shared.GroupPaymentApprover, shared.GroupPaymentAdmin) {
		return nil, ErrUnauthorized
	}
	if p.SubmitterID != nil && *p.SubmitterID == actor.ID && !cfg.AllowSubmitterApprove {
		return nil, ErrSegregationOfDuties
	}
	// Approval must come from someone other than the reviewer.
	if p.ReviewerID != nil && *p.ReviewerID == actor.ID {
		return nil, ErrSegregationOfDuties
	}
	if cfg.RequireSignatureAllStages && len(req.Signature) == 0 {
		return nil, ErrSignatureRequired
	}

	tier, err := cfg.RequiredTier(string(p.Kind), p.Amount, string(p.Priority))
	if err != nil {
		return nil, err
	}

	now := s.now()
	updates := map[string]interface{}{
		"approver_id": actor.ID,
		"approved_at": now,
	}
	if cfg.EnableQRVerification && p.VerificationToken == nil {
		token, err := GenerateToken()
		if err != nil {
			return nil, err
		}
		updates["verification_token"] = token
	}

	if tier.Level == 1 {
		// Single approval suffices: approve and post in one transaction.
		postUpdates := map[string]interface{}{"posted_at": now, "host_state": HostStatePosted}
		for k, v := range updates {
			postUpdates[k] = v
		}
		posted, err := s.repo.Transition(ctx, TransitionInput{
			PaymentID: p.ID, From: p.State, To: StatePosted,
			ActorID: actor.ID, Comment: req.Comment, Signature: req.Signature, At: now,
			Updates: postUpdates,
			During:  s.hostPost,
		})
		if err == nil {
			s.recordAudit(ctx, actor.ID, "PAYMENT_APPROVE_POST", posted.ID)
			return posted, nil
		}
		if !errors.Is(err, ErrHostPostFailed) {
			return nil, err
		}
		// Host rejected the posting. Preserve the approval so the posting
		// can be retried without collecting approvals again.
		approved, fbErr := s.repo.Transition(ctx, TransitionInput{
			PaymentID: p.ID, From: p.State, To: StateApproved,
			ActorID: actor.ID, Comment: req.Comment, Signature: req.Signature, At: now,
			Updates: updates,
		})
		if fbErr != nil {
			return nil, fbErr
		}
		s.logger.Warn("host posting failed at approval, payment held approved",
			slog.Int64("payment_id", p.ID), slog.Any("error", err))
		s.recordAudit(ctx, actor.ID, "PAYMENT_APPROVE", approved.ID)
		return approved, err
	}

	approved, err := s.repo.Transition(ctx, TransitionInput{
		PaymentID: p.ID, From: p.State, To: StateApproved,
		ActorID: actor.ID, Comment: req.Comment, Signature: req.Signature, At: now,
		Updates: updates,
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor.ID, "PAYMENT_APPROVE", approved.ID)
	if tier.Heightened {
		s.notify(ctx, cfg, Event{Payment: *approved, Action: ActionApprove, Heightened: true})
	}
	return approved, nil
}

func (s *Service) authorize(ctx context.Context, p *Payment, cfg policy.Config, req ActionRequest, actor rbac.Actor) (*Payment, error) {
	if p.State != StateApproved {
		return nil, transitionErr(p.State, ActionAuthorize)
	}
	if !actor.HasAnyGroup(shared.GroupPaymentAuthorizer, shared.GroupPaymentAdmin) {
		return nil, ErrUnauthorized
	}
	tier, err := cfg.RequiredTier(string(p.Kind), p.Amount, string(p.Priority))
	if err != nil {
		return nil, err
	}
	if tier.Level < 3 {
		return nil, fmt.Errorf("%w: authorization not required below tier 3", ErrInvalidTransition)
	}
	// Authorization must come from a second pair of hands.
	if p.ApproverID != nil && *p.ApproverID == actor.ID {
		return nil, ErrSegregationOfDuties
	}
	if cfg.RequireSignatureAllStages && len(req.Signature) == 0 {
		return nil, ErrSignatureRequired
	}

	return s.transition(ctx, p, StateAuthorized, req, actor, map[string]interface{}{
		"authorizer_id": actor.ID,
		"authorized_at": s.now(),
	})
}

func (s *Service) post(ctx context.Context, p *Payment, cfg policy.Config, req ActionRequest, actor rbac.Actor) (*Payment, error) {
	if p.State != StateApproved && p.State != StateAuthorized {
		return nil, transitionErr(p.State, ActionPost)
	}
	if !actor.HasAnyGroup(shared.GroupPaymentPoster, shared.GroupPaymentAdmin) {
		return nil, ErrUnauthorized
	}
	tier, err := cfg.RequiredTier(string(p.Kind), p.Amount, string(p.Priority))
	if err != nil {
		return nil, err
	}
	if p.State == StateApproved && tier.Level == 3 {
		return nil, fmt.Errorf("%w: tier 3 payment requires authorization before posting", ErrInvalidTransition)
	}
	if cfg.RequireSignatureAllStages && len(req.Signature) == 0 {
		return nil, ErrSignatureRequired
	}

	now := s.now()
	posted, err := s.repo.Transition(ctx, TransitionInput{
		PaymentID: p.ID, From: p.State, To: StatePosted,
		ActorID: actor.ID, Comment: req.Comment, Signature: req.Signature, At: now,
		Updates: map[string]interface{}{"posted_at": now, "host_state": HostStatePosted},
		During:  s.hostPost,
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor.ID, "PAYMENT_POST", posted.ID)
	return posted, nil
}

func (s *Service) reject(ctx context.Context, p *Payment, cfg policy.Config, req ActionRequest, actor rbac.Actor) (*Payment, error) {
	if p.State.IsTerminal() {
		return nil, transitionErr(p.State, ActionReject)
	}
	if req.Comment == "" {
		return nil, ErrReasonRequired
	}
	if !s.mayReject(p, cfg, actor) {
		return nil, ErrUnauthorized
	}

	rejected, err := s.transition(ctx, p, StateRejected, req, actor, nil)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, cfg, Event{Payment: *rejected, Action: ActionReject})
	return rejected, nil
}

// mayReject allows managers and admins anywhere, plus the actor responsible
// for the payment's current stage.
func (s *Service) mayReject(p *Payment, cfg policy.Config, actor rbac.Actor) bool {
	if actor.HasAnyGroup(shared.GroupPaymentManager, shared.GroupPaymentAdmin) {
		return true
	}
	switch p.State {
	case StateDraft:
		return actor.ID == p.CreatedBy
	case StateSubmitted:
		return actor.HasGroup(shared.GroupPaymentReviewer)
	case StateUnderReview:
		return actor.HasGroup(shared.GroupPaymentApprover)
	case StateApproved:
		tier, err := cfg.RequiredTier(string(p.Kind), p.Amount, string(p.Priority))
		if err == nil && tier.Level == 3 {
			return actor.HasGroup(shared.GroupPaymentAuthorizer)
		}
		return actor.HasGroup(shared.GroupPaymentPoster)
	case StateAuthorized:
		return actor.HasGroup(shared.GroupPaymentPoster)
	default:
		return false
	}
}

func (s *Service) cancel(ctx context.Context, p *Payment, req ActionRequest, actor rbac.Actor) (*Payment, error) {
	if !p.State.CanCancel() {
		return nil, transitionErr(p.State, ActionCancel)
	}
	owner := actor.ID == p.CreatedBy || (p.SubmitterID != nil && *p.SubmitterID == actor.ID)
	if !owner && !actor.HasAnyGroup(shared.GroupPaymentManager, shared.GroupPaymentAdmin) {
		return nil, ErrUnauthorized
	}

	return s.transition(ctx, p, StateCancelled, req, actor, map[string]interface{}{
		"host_state": HostStateCancelled,
	})
}

func (s *Service) resubmit(ctx context.Context, p *Payment, req ActionRequest, actor rbac.Actor) (*Payment, error) {
	if p.State != StateRejected {
		return nil, transitionErr(p.State, ActionResubmit)
	}
	owner := actor.ID == p.CreatedBy || (p.SubmitterID != nil && *p.SubmitterID == actor.ID)
	if !owner && !actor.HasAnyGroup(shared.GroupPaymentManager, shared.GroupPaymentAdmin) {
		return nil, ErrUnauthorized
	}

	// Prior approvals never survive a rejection.
	return s.transition(ctx, p, StateDraft, req, actor, map[string]interface{}{
		"reviewer_id":   nil,
		"reviewed_at":   nil,
		"approver_id":   nil,
		"approved_at":   nil,
		"authorizer_id": nil,
		"authorized_at": nil,
	})
}

// BulkApply applies the same action to several payments concurrently.
// Each payment succeeds or fails independently; one failure never aborts
// the rest of the batch.
func (s *Service) BulkApply(ctx context.Context, ids []int64, req ActionRequest, actor rbac.Actor) ([]BulkItemResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	first, err := s.repo.GetByID(ctx, ids[0])
	if err != nil {
		return nil, err
	}
	cfg, err := s.policies.Active(ctx, first.CompanyID)
	if err != nil {
		return nil, err
	}
	if !cfg.EnableBulkApproval {
		return nil, ErrBulkDisabled
	}
	if len(ids) > cfg.BulkCap {
		return nil, fmt.Errorf("%w: %d payments, cap %d", ErrBulkCapExceeded, len(ids), cfg.BulkCap)
	}

	results := make([]BulkItemResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			p, err := s.Apply(gctx, id, req, actor)
			results[i] = BulkItemResult{PaymentID: id, Payment: p, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// BulkItemResult is the per-payment outcome of a bulk action.
type BulkItemResult struct {
	PaymentID int64
	Payment   *Payment
	Err       error
}

// Stage maps a waiting state to the configuration stage that bounds it.
// The second value is when the payment entered that stage.
func Stage(p Payment) (string, *time.Time, bool) {
	switch p.State {
	case StateSubmitted:
		return policy.StageReview, p.SubmittedAt, true
	case StateUnderReview:
		return policy.StageApproval, p.ReviewedAt, true
	case StateApproved:
		return policy.StageAuthorization, p.ApprovedAt, true
	default:
		return "", nil, false
	}
}

// Overdue reports whether the payment has sat in its current stage past the
// configured deadline, and when that deadline was.
func Overdue(p Payment, cfg policy.Config, now time.Time) (bool, time.Time) {
	stage, entered, ok := Stage(p)
	if !ok || entered == nil {
		return false, time.Time{}
	}
	deadline, err := cfg.StageDeadline(stage, *entered)
	if err != nil {
		return false, time.Time{}
	}
	return now.After(deadline), deadline
}

func (s *Service) transition(ctx context.Context, p *Payment, to State, req ActionRequest, actor rbac.Actor, updates map[string]interface{}) (*Payment, error) {
	updated, err := s.repo.Transition(ctx, TransitionInput{
		PaymentID: p.ID,
		From:      p.State,
		To:        to,
		ActorID:   actor.ID,
		Comment:   req.Comment,
		Signature: req.Signature,
		At:        s.now(),
		Updates:   updates,
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor.ID, "PAYMENT_"+strings.ToUpper(string(req.Action)), updated.ID)
	return updated, nil
}

// hostPost runs inside the transition transaction so a posted state is never
// committed without the host accepting the posting.
func (s *Service) hostPost(ctx context.Context, p Payment) error {
	hctx, cancel := context.WithTimeout(ctx, s.hostTimeout)
	defer cancel()
	if err := s.host.Post(hctx, p); err != nil {
		return fmt.Errorf("%w: %v", ErrHostPostFailed, err)
	}
	return nil
}

// notify fans out a state-change event. Emails are a per-company opt-in, so
// nothing is enqueued while the configuration flag is off.
func (s *Service) notify(ctx context.Context, cfg policy.Config, ev Event) {
	if s.notifier == nil || !cfg.EnableEmailNotifications {
		return
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Warn("notification delivery failed",
			slog.Int64("payment_id", ev.Payment.ID),
			slog.String("action", string(ev.Action)),
			slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, paymentID int64) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "payment",
		EntityID: strconv.FormatInt(paymentID, 10),
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) observe(action Action, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveTransition(string(action), outcomeLabel(err))
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrStateConflict):
		return "state_conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrSegregationOfDuties):
		return "segregation_of_duties"
	case errors.Is(err, ErrHostPostFailed):
		return "host_post_failed"
	default:
		return "error"
	}
}

func transitionErr(current State, action Action) error {
	return fmt.Errorf("%w: action %s not allowed in state %s", ErrInvalidTransition, action, current)
}
