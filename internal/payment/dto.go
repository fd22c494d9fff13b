package payment

import (
	"encoding/base64"
	"fmt"

	"github.com/shopspring/decimal"
)

// CreateRequest is the wire shape for registering a payment.
type CreateRequest struct {
	CompanyID      int64   `json:"company_id" validate:"required,gt=0"`
	Kind           string  `json:"kind" validate:"required,oneof=outbound inbound internal_transfer"`
	Amount         string  `json:"amount" validate:"required"`
	Currency       string  `json:"currency" validate:"required,len=3"`
	CounterpartyID *int64  `json:"counterparty_id,omitempty"`
	Priority       string  `json:"priority,omitempty" validate:"omitempty,oneof=low medium high urgent"`
	Notes          string  `json:"notes,omitempty" validate:"max=2000"`
}

// ToInput converts the request into service input.
func (r CreateRequest) ToInput() (CreateInput, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return CreateInput{}, fmt.Errorf("%w: %q", ErrInvalidAmount, r.Amount)
	}
	return CreateInput{
		CompanyID:      r.CompanyID,
		Kind:           Kind(r.Kind),
		Amount:         amount,
		Currency:       r.Currency,
		CounterpartyID: r.CounterpartyID,
		Priority:       Priority(r.Priority),
		Notes:          r.Notes,
	}, nil
}

// ActionDTO is the wire shape for a workflow action. The signature travels
// base64-encoded.
type ActionDTO struct {
	Action    string `json:"action" validate:"required"`
	Comment   string `json:"comment,omitempty" validate:"max=2000"`
	Signature string `json:"signature,omitempty"`
}

// ToRequest decodes the DTO into a service action request.
func (d ActionDTO) ToRequest() (ActionRequest, error) {
	var sig []byte
	if d.Signature != "" {
		decoded, err := base64.StdEncoding.DecodeString(d.Signature)
		if err != nil {
			return ActionRequest{}, fmt.Errorf("payment: signature is not valid base64: %w", err)
		}
		sig = decoded
	}
	return ActionRequest{Action: Action(d.Action), Comment: d.Comment, Signature: sig}, nil
}

// BulkActionDTO is the wire shape for applying one action to many payments.
type BulkActionDTO struct {
	Action    string  `json:"action" validate:"required"`
	IDs       []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
	Comment   string  `json:"comment,omitempty" validate:"max=2000"`
	Signature string  `json:"signature,omitempty"`
}

// BulkItemDTO is the per-payment outcome on the wire.
type BulkItemDTO struct {
	PaymentID int64  `json:"payment_id"`
	OK        bool   `json:"ok"`
	State     State  `json:"state,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}
