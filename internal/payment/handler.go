package payment

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian/internal/platform/httpx"
	"github.com/meridian-erp/meridian/internal/policy"
	"github.com/meridian-erp/meridian/internal/rbac"
	"github.com/meridian-erp/meridian/internal/shared"
	"github.com/meridian-erp/meridian/internal/voucher"
)

// Handler exposes the payment workflow over HTTP.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler creates a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// MountRoutes registers payment routes. Authentication is enforced by the
// caller; per-action authority lives in the service.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Get("/{id}/history", h.history)
	r.Post("/{id}/action", h.action)
	r.Post("/bulk_action", h.bulkAction)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "request body is not valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	in, err := req.ToInput()
	if err != nil {
		h.respondErr(w, err, "")
		return
	}

	actor, _ := rbac.ActorFromContext(r.Context())
	p, err := h.service.Create(r.Context(), in, actor)
	if err != nil {
		// Auto-submit validation failures still leave a usable draft.
		if p != nil {
			h.respondErr(w, err, string(p.State))
			return
		}
		h.respondErr(w, err, "")
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := paymentID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "payment id must be an integer")
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, err, "")
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := paymentID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "payment id must be an integer")
		return
	}
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		h.respondErr(w, err, "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payment_id": id, "history": entries})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	companyID, _ := strconv.ParseInt(q.Get("company_id"), 10, 64)

	payments, total, err := h.service.List(r.Context(), ListRequest{
		CompanyID: companyID,
		State:     State(q.Get("state")),
		Kind:      Kind(q.Get("kind")),
		Priority:  Priority(q.Get("priority")),
		Limit:     perPage,
		Offset:    (page - 1) * perPage,
	})
	if err != nil {
		h.respondErr(w, err, "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"payments":   payments,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request) {
	id, err := paymentID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "payment id must be an integer")
		return
	}
	var dto ActionDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "request body is not valid JSON")
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	req, err := dto.ToRequest()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	actor, _ := rbac.ActorFromContext(r.Context())
	p, err := h.service.Apply(r.Context(), id, req, actor)
	if err != nil {
		h.respondErr(w, err, h.currentState(r, id, p))
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) bulkAction(w http.ResponseWriter, r *http.Request) {
	var dto BulkActionDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "request body is not valid JSON")
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	req, err := ActionDTO{Action: dto.Action, Comment: dto.Comment, Signature: dto.Signature}.ToRequest()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	actor, _ := rbac.ActorFromContext(r.Context())
	results, err := h.service.BulkApply(r.Context(), dto.IDs, req, actor)
	if err != nil {
		h.respondErr(w, err, "")
		return
	}

	items := make([]BulkItemDTO, len(results))
	succeeded := 0
	for i, res := range results {
		item := BulkItemDTO{PaymentID: res.PaymentID, OK: res.Err == nil}
		if res.Payment != nil {
			item.State = res.Payment.State
		}
		if res.Err != nil {
			_, item.Code = errorCode(res.Err)
			item.Error = res.Err.Error()
		} else {
			succeeded++
		}
		items[i] = item
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"requested": len(results),
		"succeeded": succeeded,
		"results":   items,
	})
}

// currentState fetches the state for conflict diagnostics; best effort.
func (h *Handler) currentState(r *http.Request, id int64, p *Payment) string {
	if p != nil {
		return string(p.State)
	}
	cur, err := h.service.Get(r.Context(), id)
	if err != nil {
		return ""
	}
	return string(cur.State)
}

func (h *Handler) respondErr(w http.ResponseWriter, err error, currentState string) {
	status, code := errorCode(err)
	httpx.ProblemCode(w, status, code, err.Error(), currentState)
}

// errorCode maps service errors to HTTP status and stable machine codes.
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrStateConflict):
		return http.StatusConflict, "state_conflict"
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden, "unauthorized_action"
	case errors.Is(err, ErrSegregationOfDuties):
		return http.StatusForbidden, "segregation_of_duties"
	case errors.Is(err, ErrHostPostFailed):
		return http.StatusBadGateway, "host_post_failed"
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusUnprocessableEntity, "invalid_amount"
	case errors.Is(err, ErrInvalidCurrency):
		return http.StatusUnprocessableEntity, "invalid_currency"
	case errors.Is(err, ErrMissingCounterparty):
		return http.StatusUnprocessableEntity, "missing_counterparty"
	case errors.Is(err, ErrInvalidKind):
		return http.StatusUnprocessableEntity, "invalid_kind"
	case errors.Is(err, ErrInvalidPriority):
		return http.StatusUnprocessableEntity, "invalid_priority"
	case errors.Is(err, ErrSignatureRequired):
		return http.StatusUnprocessableEntity, "signature_required"
	case errors.Is(err, ErrReasonRequired):
		return http.StatusUnprocessableEntity, "reason_required"
	case errors.Is(err, ErrBulkDisabled):
		return http.StatusUnprocessableEntity, "bulk_disabled"
	case errors.Is(err, ErrBulkCapExceeded):
		return http.StatusUnprocessableEntity, "bulk_cap_exceeded"
	case errors.Is(err, policy.ErrNoActiveConfig):
		return http.StatusServiceUnavailable, "no_active_config"
	case errors.Is(err, voucher.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "voucher_storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func paymentID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
