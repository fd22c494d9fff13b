package verify

import (
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/meridian-erp/meridian/internal/platform/httpx"
)

// Handler serves the public verification endpoint. No session, no CSRF:
// anyone holding a printed voucher may scan it.
type Handler struct {
	service *Service
	tpl     *template.Template
	printer *message.Printer
}

// NewHandler creates a verification handler.
func NewHandler(service *Service) *Handler {
	printer := message.NewPrinter(language.English)
	funcMap := template.FuncMap{
		"formatAmount": func(d decimal.Decimal) string {
			return printer.Sprintf("%v", number.Decimal(d.InexactFloat64(), number.MaxFractionDigits(2), number.MinFractionDigits(2)))
		},
		"formatTime": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return t.Format("02 Jan 2006 15:04 MST")
		},
	}
	tpl := template.Must(template.New("verify").Funcs(funcMap).Parse(verifyPage))
	return &Handler{service: service, tpl: tpl, printer: printer}
}

// MountRoutes registers the public verification route. The caller mounts
// it under the /payment prefix, ahead of the authenticated group.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/verify/{token}", h.verify)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	result, err := h.service.Verify(r.Context(), token)

	wantsHTML := strings.Contains(r.Header.Get("Accept"), "text/html")
	if err != nil {
		status, code, msg := verifyError(err)
		if wantsHTML {
			h.renderPage(w, status, pageData{Error: msg})
			return
		}
		httpx.ProblemCode(w, status, code, msg, "")
		return
	}

	if wantsHTML {
		h.renderPage(w, http.StatusOK, pageData{Result: result})
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func verifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found", "This verification code is not recognised."
	case errors.Is(err, ErrTokenExpired):
		return http.StatusGone, "token_expired", "This verification code has expired."
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusTooManyRequests, "scan_quota_exceeded", "This voucher has reached its verification limit."
	default:
		return http.StatusInternalServerError, "internal_error", "Verification is temporarily unavailable."
	}
}

type pageData struct {
	Result *Result
	Error  string
}

func (h *Handler) renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = h.tpl.Execute(w, data)
}

const verifyPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Payment Verification</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 32rem; padding: 0 1rem; color: #1a202c; }
.card { border: 1px solid #e2e8f0; border-radius: 8px; padding: 1.5rem; }
.ok { border-left: 4px solid #2f855a; }
.err { border-left: 4px solid #c53030; }
dt { font-weight: 600; margin-top: .75rem; }
dd { margin: 0; }
.muted { color: #718096; font-size: .85rem; margin-top: 1rem; }
</style>
</head>
<body>
{{if .Error}}
<div class="card err">
<h1>Verification failed</h1>
<p>{{.Error}}</p>
</div>
{{else}}
<div class="card ok">
<h1>Payment verified</h1>
<dl>
<dt>Voucher</dt><dd>{{.Result.VoucherNumber}}</dd>
<dt>Amount</dt><dd>{{formatAmount .Result.Amount}} {{.Result.Currency}}</dd>
<dt>Status</dt><dd>{{.Result.State}}</dd>
{{if .Result.ApprovedAt}}<dt>Approved</dt><dd>{{formatTime .Result.ApprovedAt}}</dd>{{end}}
{{if .Result.PostedAt}}<dt>Posted</dt><dd>{{formatTime .Result.PostedAt}}</dd>{{end}}
</dl>
<p class="muted">Scans used: {{.Result.ScanCount}}, remaining: {{.Result.ScansRemaining}}. Verified {{.Result.VerifiedAt.Format "02 Jan 2006 15:04 MST"}}.</p>
</div>
{{end}}
</body>
</html>
`
