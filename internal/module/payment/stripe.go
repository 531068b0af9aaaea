package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/invoice"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/paymentmethod"
	"github.com/stripe/stripe-go/v76/promotioncode"
	"github.com/stripe/stripe-go/v76/setupintent"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/clausewise/server/internal/shared/config"
	"github.com/clausewise/server/internal/utils/metrics"
)

// StripeGateway implements Gateway against the Stripe API. All calls run
// behind a circuit breaker; processor rejections (card declines and the
// like) do not count as breaker failures.
type StripeGateway struct {
	publishableKey string
	webhookSecret  string
	breaker        *gobreaker.CircuitBreaker[any]
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// NewStripeGateway creates a new Stripe gateway.
func NewStripeGateway(cfg *config.StripeConfig, m *metrics.Metrics, logger *zap.Logger) *StripeGateway {
	stripe.Key = cfg.SecretKey

	settings := gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Expected outcomes of valid requests: card declines and
			// missing promotion codes are answers from Stripe, not
			// infrastructure failures.
			var pe *ProcessorError
			if errors.As(err, &pe) {
				return true
			}
			return errors.Is(err, ErrPromotionCodeNotFound)
		},
	}

	return &StripeGateway{
		publishableKey: cfg.PublishableKey,
		webhookSecret:  cfg.WebhookSecret,
		breaker:        gobreaker.NewCircuitBreaker[any](settings),
		metrics:        m,
		logger:         logger,
	}
}

// PublishableKey returns the client-side publishable key.
func (g *StripeGateway) PublishableKey() string {
	return g.publishableKey
}

// ConstructEvent verifies the webhook signature and parses the event.
func (g *StripeGateway) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrWebhookSignatureFailed, err)
	}
	return event, nil
}

func (g *StripeGateway) do(operation string, fn func() (any, error)) (any, error) {
	start := time.Now()
	out, err := g.breaker.Execute(func() (any, error) {
		result, callErr := fn()
		return result, mapStripeError(callErr)
	})
	if g.metrics != nil {
		g.metrics.RecordStripeCall(operation, err, time.Since(start))
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.logger.Warn("stripe circuit breaker open", zap.String("operation", operation))
		return nil, ErrGatewayUnavailable
	}
	return out, err
}

// --- Customers ---

func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name string) (*Customer, error) {
	out, err := g.do("create_customer", func() (any, error) {
		return customer.New(&stripe.CustomerParams{
			Email: stripe.String(email),
			Name:  stripe.String(name),
		})
	})
	if err != nil {
		return nil, err
	}
	c := out.(*stripe.Customer)
	return &Customer{ID: c.ID, Email: c.Email}, nil
}

// --- Payment methods ---

func (g *StripeGateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string, setAsDefault bool) (*PaymentMethodDetails, error) {
	out, err := g.do("attach_payment_method", func() (any, error) {
		return paymentmethod.Attach(paymentMethodID, &stripe.PaymentMethodAttachParams{
			Customer: stripe.String(customerID),
		})
	})
	if err != nil {
		return nil, err
	}
	pm := out.(*stripe.PaymentMethod)

	if setAsDefault {
		if err := g.SetDefaultPaymentMethod(ctx, customerID, paymentMethodID); err != nil {
			return nil, err
		}
	}
	return mapPaymentMethod(pm, setAsDefault), nil
}

func (g *StripeGateway) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	_, err := g.do("detach_payment_method", func() (any, error) {
		return paymentmethod.Detach(paymentMethodID, nil)
	})
	return err
}

func (g *StripeGateway) ListPaymentMethods(ctx context.Context, customerID string) ([]*PaymentMethodDetails, error) {
	out, err := g.do("list_payment_methods", func() (any, error) {
		params := &stripe.PaymentMethodListParams{
			Customer: stripe.String(customerID),
			Type:     stripe.String("card"),
		}
		iter := paymentmethod.List(params)

		var methods []*PaymentMethodDetails
		for iter.Next() {
			methods = append(methods, mapPaymentMethod(iter.PaymentMethod(), false))
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return methods, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]*PaymentMethodDetails), nil
}

func (g *StripeGateway) GetPaymentMethod(ctx context.Context, paymentMethodID string) (*PaymentMethodDetails, error) {
	out, err := g.do("get_payment_method", func() (any, error) {
		return paymentmethod.Get(paymentMethodID, nil)
	})
	if err != nil {
		return nil, err
	}
	return mapPaymentMethod(out.(*stripe.PaymentMethod), false), nil
}

func (g *StripeGateway) GetDefaultPaymentMethod(ctx context.Context, customerID string) (*PaymentMethodDetails, error) {
	out, err := g.do("get_default_payment_method", func() (any, error) {
		params := &stripe.CustomerParams{}
		params.AddExpand("invoice_settings.default_payment_method")
		return customer.Get(customerID, params)
	})
	if err != nil {
		return nil, err
	}
	c := out.(*stripe.Customer)
	if c.InvoiceSettings == nil || c.InvoiceSettings.DefaultPaymentMethod == nil {
		return nil, nil
	}
	return mapPaymentMethod(c.InvoiceSettings.DefaultPaymentMethod, true), nil
}

func (g *StripeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	_, err := g.do("set_default_payment_method", func() (any, error) {
		return customer.Update(customerID, &stripe.CustomerParams{
			InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
				DefaultPaymentMethod: stripe.String(paymentMethodID),
			},
		})
	})
	return err
}

// --- Subscriptions ---

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	out, err := g.do("get_subscription", func() (any, error) {
		params := &stripe.SubscriptionParams{}
		params.AddExpand("latest_invoice.payment_intent")
		params.AddExpand("pending_setup_intent")
		return subscription.Get(subscriptionID, params)
	})
	if err != nil {
		return nil, err
	}
	return mapSubscription(out.(*stripe.Subscription)), nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, p CreateSubscriptionParams) (*Subscription, error) {
	out, err := g.do("create_subscription", func() (any, error) {
		params := &stripe.SubscriptionParams{
			Customer: stripe.String(p.CustomerID),
			Items: []*stripe.SubscriptionItemsParams{
				{Price: stripe.String(p.PriceID)},
			},
			PaymentBehavior: stripe.String("allow_incomplete"),
		}
		if p.PaymentMethodID != "" {
			params.DefaultPaymentMethod = stripe.String(p.PaymentMethodID)
		}
		if p.TrialPeriodDays > 0 {
			params.TrialPeriodDays = stripe.Int64(int64(p.TrialPeriodDays))
		}
		if p.PromotionCodeID != "" {
			params.PromotionCode = stripe.String(p.PromotionCodeID)
		}
		params.AddExpand("latest_invoice.payment_intent")
		params.AddExpand("pending_setup_intent")
		return subscription.New(params)
	})
	if err != nil {
		return nil, err
	}
	return mapSubscription(out.(*stripe.Subscription)), nil
}

func (g *StripeGateway) UpdateSubscription(ctx context.Context, subscriptionID string, p UpdateSubscriptionParams) (*Subscription, error) {
	current, err := g.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	out, err := g.do("update_subscription", func() (any, error) {
		params := &stripe.SubscriptionParams{
			PaymentBehavior:   stripe.String("allow_incomplete"),
			ProrationBehavior: stripe.String("create_prorations"),
		}
		if p.PriceID != "" && current.ItemID != "" {
			params.Items = []*stripe.SubscriptionItemsParams{
				{
					ID:    stripe.String(current.ItemID),
					Price: stripe.String(p.PriceID),
				},
			}
		}
		if p.PaymentMethodID != "" {
			params.DefaultPaymentMethod = stripe.String(p.PaymentMethodID)
		}
		if p.PromotionCodeID != "" {
			params.PromotionCode = stripe.String(p.PromotionCodeID)
		}
		params.AddExpand("latest_invoice.payment_intent")
		params.AddExpand("pending_setup_intent")
		return subscription.Update(subscriptionID, params)
	})
	if err != nil {
		return nil, err
	}
	return mapSubscription(out.(*stripe.Subscription)), nil
}

func (g *StripeGateway) CancelSubscriptionAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return g.setCancelAtPeriodEnd(subscriptionID, true)
}

func (g *StripeGateway) ReactivateSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return g.setCancelAtPeriodEnd(subscriptionID, false)
}

func (g *StripeGateway) setCancelAtPeriodEnd(subscriptionID string, cancel bool) (*Subscription, error) {
	out, err := g.do("update_subscription", func() (any, error) {
		return subscription.Update(subscriptionID, &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(cancel),
		})
	})
	if err != nil {
		return nil, err
	}
	return mapSubscription(out.(*stripe.Subscription)), nil
}

func (g *StripeGateway) CancelSubscriptionNow(ctx context.Context, subscriptionID string) (*Subscription, error) {
	out, err := g.do("cancel_subscription", func() (any, error) {
		return subscription.Cancel(subscriptionID, nil)
	})
	if err != nil {
		return nil, err
	}
	return mapSubscription(out.(*stripe.Subscription)), nil
}

// --- Promotion codes and invoices ---

func (g *StripeGateway) FindPromotionCode(ctx context.Context, code string) (*PromotionCode, error) {
	out, err := g.do("find_promotion_code", func() (any, error) {
		params := &stripe.PromotionCodeListParams{
			Code:   stripe.String(code),
			Active: stripe.Bool(true),
		}
		iter := promotioncode.List(params)
		for iter.Next() {
			return iter.PromotionCode(), nil
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return nil, ErrPromotionCodeNotFound
	})
	if err != nil {
		return nil, err
	}

	pc := out.(*stripe.PromotionCode)
	mapped := &PromotionCode{
		ID:     pc.ID,
		Code:   pc.Code,
		Active: pc.Active,
	}
	if pc.Coupon != nil {
		mapped.CouponID = pc.Coupon.ID
		mapped.PercentOff = pc.Coupon.PercentOff
		mapped.AmountOff = pc.Coupon.AmountOff
		mapped.Currency = string(pc.Coupon.Currency)
	}
	return mapped, nil
}

func (g *StripeGateway) PreviewInvoice(ctx context.Context, p QuoteParams) (*QuoteInvoice, error) {
	out, err := g.do("preview_invoice", func() (any, error) {
		params := &stripe.InvoiceUpcomingParams{
			Customer: stripe.String(p.CustomerID),
		}
		if p.SubscriptionID != "" {
			params.Subscription = stripe.String(p.SubscriptionID)
		}
		if p.PriceID != "" {
			params.SubscriptionItems = []*stripe.SubscriptionItemsParams{
				{Price: stripe.String(p.PriceID)},
			}
		}
		if p.CouponID != "" {
			params.Coupon = stripe.String(p.CouponID)
		}
		if p.TrialPeriodDays > 0 {
			trialEnd := time.Now().AddDate(0, 0, p.TrialPeriodDays)
			params.SubscriptionTrialEnd = stripe.Int64(trialEnd.Unix())
		}
		return invoice.Upcoming(params)
	})
	if err != nil {
		return nil, err
	}

	inv := out.(*stripe.Invoice)
	quote := &QuoteInvoice{
		Currency:  string(inv.Currency),
		Subtotal:  inv.Subtotal,
		Total:     inv.Total,
		AmountDue: inv.AmountDue,
	}
	for _, discount := range inv.TotalDiscountAmounts {
		quote.DiscountAmount += discount.Amount
	}
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			quote.Lines = append(quote.Lines, QuoteLine{
				Description: line.Description,
				Amount:      line.Amount,
			})
		}
	}
	return quote, nil
}

func (g *StripeGateway) ListInvoices(ctx context.Context, customerID string, limit int) ([]*Invoice, error) {
	if limit <= 0 || limit > 100 {
		limit = 12
	}
	out, err := g.do("list_invoices", func() (any, error) {
		params := &stripe.InvoiceListParams{
			Customer: stripe.String(customerID),
		}
		params.Limit = stripe.Int64(int64(limit))
		iter := invoice.List(params)

		var invoices []*Invoice
		for iter.Next() {
			invoices = append(invoices, mapInvoice(iter.Invoice()))
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return invoices, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]*Invoice), nil
}

// --- Intents ---

func (g *StripeGateway) GetPaymentIntent(ctx context.Context, intentID string) (*Intent, error) {
	out, err := g.do("get_payment_intent", func() (any, error) {
		return paymentintent.Get(intentID, nil)
	})
	if err != nil {
		return nil, err
	}
	return mapPaymentIntent(out.(*stripe.PaymentIntent)), nil
}

// ConfirmCardPayment confirms the intent behind the given client secret
// with the chosen payment method. This is the server leg of the 3-D Secure
// confirmation step.
func (g *StripeGateway) ConfirmCardPayment(ctx context.Context, clientSecret, paymentMethodID string) (*Intent, error) {
	intentID, kind, err := ParseClientSecret(clientSecret)
	if err != nil {
		return nil, err
	}

	switch kind {
	case IntentKindSetup:
		out, err := g.do("confirm_setup_intent", func() (any, error) {
			params := &stripe.SetupIntentConfirmParams{}
			if paymentMethodID != "" {
				params.PaymentMethod = stripe.String(paymentMethodID)
			}
			return setupintent.Confirm(intentID, params)
		})
		if err != nil {
			return nil, err
		}
		return mapSetupIntent(out.(*stripe.SetupIntent)), nil
	default:
		out, err := g.do("confirm_payment_intent", func() (any, error) {
			params := &stripe.PaymentIntentConfirmParams{}
			if paymentMethodID != "" {
				params.PaymentMethod = stripe.String(paymentMethodID)
			}
			return paymentintent.Confirm(intentID, params)
		})
		if err != nil {
			return nil, err
		}
		return mapPaymentIntent(out.(*stripe.PaymentIntent)), nil
	}
}

// --- Mapping helpers ---

func mapStripeError(err error) error {
	if err == nil {
		return nil
	}
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		return &ProcessorError{
			Code:    string(sErr.Code),
			Message: sErr.Msg,
		}
	}
	return err
}

func mapSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0)
		out.TrialEnd = &trialEnd
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.ItemID = item.ID
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
	}
	if sub.DefaultPaymentMethod != nil {
		out.DefaultPaymentMethodID = sub.DefaultPaymentMethod.ID
	}
	if sub.LatestInvoice != nil {
		out.LatestInvoice = mapInvoice(sub.LatestInvoice)
	}
	if sub.PendingSetupIntent != nil {
		out.PendingSetupIntent = mapSetupIntent(sub.PendingSetupIntent)
	}
	return out
}

func mapInvoice(inv *stripe.Invoice) *Invoice {
	out := &Invoice{
		ID:               inv.ID,
		Status:           string(inv.Status),
		Currency:         string(inv.Currency),
		Subtotal:         inv.Subtotal,
		Total:            inv.Total,
		AmountDue:        inv.AmountDue,
		AmountPaid:       inv.AmountPaid,
		HostedInvoiceURL: inv.HostedInvoiceURL,
		InvoicePDF:       inv.InvoicePDF,
		PeriodStart:      time.Unix(inv.PeriodStart, 0),
		PeriodEnd:        time.Unix(inv.PeriodEnd, 0),
		CreatedAt:        time.Unix(inv.Created, 0),
	}
	if inv.PaymentIntent != nil {
		out.PaymentIntent = mapPaymentIntent(inv.PaymentIntent)
	}
	return out
}

func mapPaymentIntent(pi *stripe.PaymentIntent) *Intent {
	out := &Intent{
		ID:           pi.ID,
		Kind:         IntentKindPayment,
		Status:       string(pi.Status),
		ClientSecret: pi.ClientSecret,
	}
	if pi.PaymentMethod != nil {
		out.PaymentMethodID = pi.PaymentMethod.ID
	}
	if pi.LastPaymentError != nil {
		out.LastError = &ProcessorError{
			Code:    string(pi.LastPaymentError.Code),
			Message: pi.LastPaymentError.Msg,
		}
	}
	return out
}

func mapSetupIntent(si *stripe.SetupIntent) *Intent {
	out := &Intent{
		ID:           si.ID,
		Kind:         IntentKindSetup,
		Status:       string(si.Status),
		ClientSecret: si.ClientSecret,
	}
	if si.PaymentMethod != nil {
		out.PaymentMethodID = si.PaymentMethod.ID
	}
	if si.LastSetupError != nil {
		out.LastError = &ProcessorError{
			Code:    string(si.LastSetupError.Code),
			Message: si.LastSetupError.Msg,
		}
	}
	return out
}

func mapPaymentMethod(pm *stripe.PaymentMethod, isDefault bool) *PaymentMethodDetails {
	out := &PaymentMethodDetails{
		ID:        pm.ID,
		IsDefault: isDefault,
	}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
		out.ExpMonth = int(pm.Card.ExpMonth)
		out.ExpYear = int(pm.Card.ExpYear)
		out.Fingerprint = pm.Card.Fingerprint
	}
	return out
}
