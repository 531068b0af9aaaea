package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/clausewise/server/internal/module/payment"
	"github.com/clausewise/server/internal/module/plan"
)

// SubscriptionResponse is the public representation of a subscription.
type SubscriptionResponse struct {
	ID                 uuid.UUID     `json:"id"`
	PlanID             uuid.UUID     `json:"plan_id"`
	Interval           plan.Interval `json:"interval"`
	Status             Status        `json:"status"`
	CancelAtPeriodEnd  bool          `json:"cancel_at_period_end"`
	CurrentPeriodStart time.Time     `json:"current_period_start"`
	CurrentPeriodEnd   time.Time     `json:"current_period_end"`
	TrialEnd           *time.Time    `json:"trial_end,omitempty"`
	Entitled           bool          `json:"entitled"`
}

// ToSubscriptionResponse converts a subscription to its public form.
func ToSubscriptionResponse(s *Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:                 s.ID,
		PlanID:             s.PlanID,
		Interval:           s.Interval,
		Status:             s.Status,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		TrialEnd:           s.TrialEnd,
		Entitled:           s.Status.Entitled(),
	}
}

// PaymentMethodResponse is the public representation of a stored card.
type PaymentMethodResponse struct {
	ID        string `json:"id"`
	Brand     string `json:"brand"`
	Last4     string `json:"last4"`
	ExpMonth  int    `json:"exp_month"`
	ExpYear   int    `json:"exp_year"`
	IsDefault bool   `json:"is_default"`
}

// ToPaymentMethodResponse converts card details to their public form.
// The fingerprint never leaves the server.
func ToPaymentMethodResponse(pm *payment.PaymentMethodDetails) PaymentMethodResponse {
	return PaymentMethodResponse{
		ID:        pm.ID,
		Brand:     pm.Brand,
		Last4:     pm.Last4,
		ExpMonth:  pm.ExpMonth,
		ExpYear:   pm.ExpYear,
		IsDefault: pm.IsDefault,
	}
}

// AttachPaymentMethodRequest attaches a newly collected payment method.
type AttachPaymentMethodRequest struct {
	PaymentMethodID string `json:"stripe_payment_method_id" binding:"required"`
	SetAsDefault    bool   `json:"set_as_default_payment_method"`
}

// QuoteInvoiceRequest previews the next invoice for a plan choice.
type QuoteInvoiceRequest struct {
	PlanID        uuid.UUID     `json:"plan_id" binding:"required"`
	Interval      plan.Interval `json:"interval" binding:"required"`
	PromotionCode string        `json:"promotion_code"`
}

// QuoteInvoiceResponse is the preview of the next invoice.
type QuoteInvoiceResponse struct {
	Currency             string              `json:"currency"`
	Subtotal             int64               `json:"subtotal"`
	Total                int64               `json:"total"`
	AmountDue            int64               `json:"amount_due"`
	DiscountAmount       int64               `json:"discount_amount"`
	PromotionCodeApplied bool                `json:"promotion_code_applied"`
	AppliedPromotionCode string              `json:"applied_promotion_code,omitempty"`
	Lines                []QuoteLineResponse `json:"lines"`
}

// QuoteLineResponse is a single quote line.
type QuoteLineResponse struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

// ToQuoteInvoiceResponse converts a gateway quote to its public form.
func ToQuoteInvoiceResponse(q *payment.QuoteInvoice, applied bool) QuoteInvoiceResponse {
	out := QuoteInvoiceResponse{
		Currency:             q.Currency,
		Subtotal:             q.Subtotal,
		Total:                q.Total,
		AmountDue:            q.AmountDue,
		DiscountAmount:       q.DiscountAmount,
		PromotionCodeApplied: applied,
		AppliedPromotionCode: q.AppliedPromotionCode,
		Lines:                make([]QuoteLineResponse, 0, len(q.Lines)),
	}
	for _, line := range q.Lines {
		out.Lines = append(out.Lines, QuoteLineResponse{
			Description: line.Description,
			Amount:      line.Amount,
		})
	}
	return out
}

// PromotionCodeResponse reports a validation-only promotion code check.
type PromotionCodeResponse struct {
	Code       string  `json:"code"`
	Valid      bool    `json:"valid"`
	PercentOff float64 `json:"percent_off,omitempty"`
	AmountOff  int64   `json:"amount_off,omitempty"`
	Currency   string  `json:"currency,omitempty"`
}

// UpdatePaymentMethodRequest changes the subscription's default card.
type UpdatePaymentMethodRequest struct {
	PaymentMethodID string `json:"stripe_payment_method_id" binding:"required"`
}

// InvoiceResponse is one entry of the invoice history.
type InvoiceResponse struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	Currency         string    `json:"currency"`
	Total            int64     `json:"total"`
	AmountPaid       int64     `json:"amount_paid"`
	HostedInvoiceURL string    `json:"hosted_invoice_url,omitempty"`
	InvoicePDF       string    `json:"invoice_pdf,omitempty"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	CreatedAt        time.Time `json:"created_at"`
}

// ToInvoiceResponse converts an invoice to its public form.
func ToInvoiceResponse(inv *payment.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:               inv.ID,
		Status:           inv.Status,
		Currency:         inv.Currency,
		Total:            inv.Total,
		AmountPaid:       inv.AmountPaid,
		HostedInvoiceURL: inv.HostedInvoiceURL,
		InvoicePDF:       inv.InvoicePDF,
		PeriodStart:      inv.PeriodStart,
		PeriodEnd:        inv.PeriodEnd,
		CreatedAt:        inv.CreatedAt,
	}
}
