package payment

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Subscription statuses as reported by the processor.
const (
	SubscriptionStatusTrialing          = "trialing"
	SubscriptionStatusActive            = "active"
	SubscriptionStatusPastDue           = "past_due"
	SubscriptionStatusIncomplete        = "incomplete"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
	SubscriptionStatusCanceled          = "canceled"
	SubscriptionStatusUnpaid            = "unpaid"
	SubscriptionStatusPaused            = "paused"
)

// Intent statuses shared by payment and setup intents.
const (
	IntentStatusRequiresAction        = "requires_action"
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusRequiresConfirmation  = "requires_confirmation"
	IntentStatusProcessing            = "processing"
	IntentStatusSucceeded             = "succeeded"
	IntentStatusCanceled              = "canceled"
)

// IntentKind distinguishes payment intents from setup intents.
type IntentKind string

const (
	IntentKindPayment IntentKind = "payment"
	IntentKindSetup   IntentKind = "setup"
)

// Customer is a processor-side customer record.
type Customer struct {
	ID    string
	Email string
}

// Subscription is the processor's view of a subscription, with the latest
// invoice's payment intent and any pending setup intent expanded.
type Subscription struct {
	ID                     string
	CustomerID             string
	Status                 string
	PriceID                string
	ItemID                 string
	CancelAtPeriodEnd      bool
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	TrialEnd               *time.Time
	DefaultPaymentMethodID string
	LatestInvoice          *Invoice
	PendingSetupIntent     *Intent
}

// Invoice is a processor invoice.
type Invoice struct {
	ID               string
	Status           string
	Currency         string
	Subtotal         int64
	Total            int64
	AmountDue        int64
	AmountPaid       int64
	HostedInvoiceURL string
	InvoicePDF       string
	PeriodStart      time.Time
	PeriodEnd        time.Time
	CreatedAt        time.Time
	PaymentIntent    *Intent
}

// Intent is a payment or setup intent. LastError carries the processor's
// most recent payment failure for the intent, if any.
type Intent struct {
	ID              string
	Kind            IntentKind
	Status          string
	ClientSecret    string
	PaymentMethodID string
	LastError       *ProcessorError
}

// RequiresAction reports whether the intent needs a customer-side
// confirmation step (3-D Secure).
func (i *Intent) RequiresAction() bool {
	return i != nil && i.Status == IntentStatusRequiresAction
}

// PaymentMethodDetails describes a stored card.
type PaymentMethodDetails struct {
	ID          string
	Brand       string
	Last4       string
	ExpMonth    int
	ExpYear     int
	Fingerprint string
	IsDefault   bool
}

// PromotionCode is a processor promotion code backed by a coupon.
type PromotionCode struct {
	ID         string
	Code       string
	CouponID   string
	Active     bool
	PercentOff float64
	AmountOff  int64
	Currency   string
}

// QuoteInvoice is a preview of what the next invoice would charge,
// optionally with a promotion code applied.
type QuoteInvoice struct {
	Currency             string
	Subtotal             int64
	Total                int64
	AmountDue            int64
	DiscountAmount       int64
	AppliedPromotionCode string
	Lines                []QuoteLine
}

// QuoteLine is a single line on a quote invoice.
type QuoteLine struct {
	Description string
	Amount      int64
}

// ProcessorError is a structured rejection from the payment processor,
// returned as a value so callers can surface code and message to the user.
type ProcessorError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *ProcessorError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CreateSubscriptionParams are the inputs for creating a subscription.
type CreateSubscriptionParams struct {
	CustomerID      string
	PriceID         string
	PaymentMethodID string
	TrialPeriodDays int
	PromotionCodeID string
}

// UpdateSubscriptionParams are the inputs for moving an existing
// subscription to a new price or payment method.
type UpdateSubscriptionParams struct {
	PriceID         string
	PaymentMethodID string
	PromotionCodeID string
}

// QuoteParams are the inputs for previewing an invoice.
type QuoteParams struct {
	CustomerID      string
	SubscriptionID  string
	PriceID         string
	CouponID        string
	TrialPeriodDays int
}

// Gateway is the payment-processor interface the rest of the application
// consumes. The concrete implementation talks to Stripe.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name string) (*Customer, error)

	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string, setAsDefault bool) (*PaymentMethodDetails, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	ListPaymentMethods(ctx context.Context, customerID string) ([]*PaymentMethodDetails, error)
	GetPaymentMethod(ctx context.Context, paymentMethodID string) (*PaymentMethodDetails, error)
	GetDefaultPaymentMethod(ctx context.Context, customerID string) (*PaymentMethodDetails, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, params UpdateSubscriptionParams) (*Subscription, error)
	CancelSubscriptionAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error)
	CancelSubscriptionNow(ctx context.Context, subscriptionID string) (*Subscription, error)
	ReactivateSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	FindPromotionCode(ctx context.Context, code string) (*PromotionCode, error)
	PreviewInvoice(ctx context.Context, params QuoteParams) (*QuoteInvoice, error)
	ListInvoices(ctx context.Context, customerID string, limit int) ([]*Invoice, error)

	GetPaymentIntent(ctx context.Context, intentID string) (*Intent, error)
	ConfirmCardPayment(ctx context.Context, clientSecret, paymentMethodID string) (*Intent, error)
}

// ParseClientSecret extracts the intent id and kind from an intent client
// secret ("pi_..._secret_..." or "seti_..._secret_...").
func ParseClientSecret(clientSecret string) (string, IntentKind, error) {
	id, _, found := strings.Cut(clientSecret, "_secret")
	if !found || id == "" {
		return "", "", ErrInvalidClientSecret
	}
	switch {
	case strings.HasPrefix(id, "pi_"):
		return id, IntentKindPayment, nil
	case strings.HasPrefix(id, "seti_"):
		return id, IntentKindSetup, nil
	default:
		return "", "", ErrInvalidClientSecret
	}
}
