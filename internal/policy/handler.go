package policy

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/platform/httpx"
	"github.com/meridian-erp/meridian/internal/rbac"
	"github.com/meridian-erp/meridian/internal/shared"
)

// Handler exposes the admin configuration API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler constructs the policy handler.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		rbac:     rbacMW,
		validate: validator.New(),
	}
}

// MountRoutes registers config admin routes. Manager access only.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.GroupPaymentManager, shared.GroupPaymentAdmin))
		r.Get("/config", h.getConfig)
		r.Put("/config", h.putConfig)
	})
}

// ConfigDTO is the wire representation of a configuration.
type ConfigDTO struct {
	CompanyID int64 `json:"company_id" validate:"required,gt=0"`

	OutboundThreshold string `json:"outbound_threshold" validate:"required"`
	InboundThreshold  string `json:"inbound_threshold" validate:"required"`
	TransferThreshold string `json:"transfer_threshold" validate:"required"`
	Tier2Threshold    string `json:"tier_2_threshold" validate:"required"`
	Tier3Threshold    string `json:"tier_3_threshold" validate:"required"`

	UrgentMultiplier string `json:"urgent_multiplier" validate:"required"`
	HighMultiplier   string `json:"high_multiplier" validate:"required"`
	MediumMultiplier string `json:"medium_multiplier" validate:"required"`
	LowMultiplier    string `json:"low_multiplier" validate:"required"`

	ReviewHours        int `json:"review_hours" validate:"required,gt=0"`
	ApprovalHours      int `json:"approval_hours" validate:"required,gt=0"`
	AuthorizationHours int `json:"authorization_hours" validate:"required,gt=0"`

	AutoSubmitOnCreate        bool `json:"auto_submit_on_create"`
	RequireSignatureAllStages bool `json:"require_signature_all_stages"`
	EnableQRVerification      bool `json:"enable_qr_verification"`
	EnableEmailNotifications  bool `json:"enable_email_notifications"`
	EnableBulkApproval        bool `json:"enable_bulk_approval"`
	AllowSubmitterApprove     bool `json:"allow_submitter_approve"`

	BulkCap           int    `json:"bulk_cap" validate:"required,gt=0"`
	QRSize            int    `json:"qr_size"`
	QRErrorCorrection string `json:"qr_error_correction"`
	TokenLifetimeDays int    `json:"token_lifetime_days" validate:"required,gt=0"`
	MaxVerifications  int    `json:"max_verifications" validate:"required,gt=0"`
}

func dtoFromConfig(c Config) ConfigDTO {
	return ConfigDTO{
		CompanyID:                 c.CompanyID,
		OutboundThreshold:         c.OutboundThreshold.String(),
		InboundThreshold:          c.InboundThreshold.String(),
		TransferThreshold:         c.TransferThreshold.String(),
		Tier2Threshold:            c.Tier2Threshold.String(),
		Tier3Threshold:            c.Tier3Threshold.String(),
		UrgentMultiplier:          c.UrgentMultiplier.String(),
		HighMultiplier:            c.HighMultiplier.String(),
		MediumMultiplier:          c.MediumMultiplier.String(),
		LowMultiplier:             c.LowMultiplier.String(),
		ReviewHours:               c.ReviewHours,
		ApprovalHours:             c.ApprovalHours,
		AuthorizationHours:        c.AuthorizationHours,
		AutoSubmitOnCreate:        c.AutoSubmitOnCreate,
		RequireSignatureAllStages: c.RequireSignatureAllStages,
		EnableQRVerification:      c.EnableQRVerification,
		EnableEmailNotifications:  c.EnableEmailNotifications,
		EnableBulkApproval:        c.EnableBulkApproval,
		AllowSubmitterApprove:     c.AllowSubmitterApprove,
		BulkCap:                   c.BulkCap,
		QRSize:                    c.QRSize,
		QRErrorCorrection:         c.QRErrorCorrection,
		TokenLifetimeDays:         c.TokenLifetimeDays,
		MaxVerifications:          c.MaxVerifications,
	}
}

// ToConfig parses the decimal fields and assembles a Config.
func (dto ConfigDTO) ToConfig() (Config, error) {
	cfg := Config{
		CompanyID:                 dto.CompanyID,
		ReviewHours:               dto.ReviewHours,
		ApprovalHours:             dto.ApprovalHours,
		AuthorizationHours:        dto.AuthorizationHours,
		AutoSubmitOnCreate:        dto.AutoSubmitOnCreate,
		RequireSignatureAllStages: dto.RequireSignatureAllStages,
		EnableQRVerification:      dto.EnableQRVerification,
		EnableEmailNotifications:  dto.EnableEmailNotifications,
		EnableBulkApproval:        dto.EnableBulkApproval,
		AllowSubmitterApprove:     dto.AllowSubmitterApprove,
		BulkCap:                   dto.BulkCap,
		QRSize:                    dto.QRSize,
		QRErrorCorrection:         dto.QRErrorCorrection,
		TokenLifetimeDays:         dto.TokenLifetimeDays,
		MaxVerifications:          dto.MaxVerifications,
	}
	fields := []struct {
		name   string
		target *decimal.Decimal
		raw    string
	}{
		{"outbound_threshold", &cfg.OutboundThreshold, dto.OutboundThreshold},
		{"inbound_threshold", &cfg.InboundThreshold, dto.InboundThreshold},
		{"transfer_threshold", &cfg.TransferThreshold, dto.TransferThreshold},
		{"tier_2_threshold", &cfg.Tier2Threshold, dto.Tier2Threshold},
		{"tier_3_threshold", &cfg.Tier3Threshold, dto.Tier3Threshold},
		{"urgent_multiplier", &cfg.UrgentMultiplier, dto.UrgentMultiplier},
		{"high_multiplier", &cfg.HighMultiplier, dto.HighMultiplier},
		{"medium_multiplier", &cfg.MediumMultiplier, dto.MediumMultiplier},
		{"low_multiplier", &cfg.LowMultiplier, dto.LowMultiplier},
	}
	for _, f := range fields {
		value, err := decimal.NewFromString(f.raw)
		if err != nil {
			return Config{}, errors.Join(ErrInvalidConfiguration, err)
		}
		*f.target = value
	}
	return cfg, nil
}

func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	companyID, err := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	if err != nil || companyID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "company_id is required")
		return
	}
	cfg, err := h.service.Active(r.Context(), companyID)
	if err != nil {
		if errors.Is(err, ErrNoActiveConfig) {
			httpx.ProblemCode(w, http.StatusNotFound, "no_active_config", err.Error(), "")
			return
		}
		h.logger.Error("load config", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, dtoFromConfig(cfg))
}

func (h *Handler) putConfig(w http.ResponseWriter, r *http.Request) {
	var dto ConfigDTO
	if err := httpx.DecodeJSON(r, &dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cfg, err := dto.ToConfig()
	if err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, "invalid_configuration", err.Error(), "")
		return
	}

	actor, _ := rbac.ActorFromContext(r.Context())
	installed, err := h.service.Save(r.Context(), cfg, actor.ID)
	if err != nil {
		if errors.Is(err, ErrInvalidConfiguration) {
			httpx.ProblemCode(w, http.StatusBadRequest, "invalid_configuration", err.Error(), "")
			return
		}
		h.logger.Error("save config", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, dtoFromConfig(installed))
}
