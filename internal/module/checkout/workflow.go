package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clausewise/server/internal/module/billing"
	"github.com/clausewise/server/internal/module/payment"
	"github.com/clausewise/server/internal/module/plan"
	"github.com/clausewise/server/internal/utils/metrics"
	"github.com/clausewise/server/internal/utils/retry"
)

// BillingService is the slice of the billing service the workflow needs.
// Satisfied by *billing.Service.
type BillingService interface {
	GetOrCreateProfile(ctx context.Context, userID uuid.UUID) (*billing.Profile, error)
	TrialEligible(ctx context.Context, userID uuid.UUID) (bool, error)
	HasCardBeenUsedBefore(ctx context.Context, paymentMethodID string) (bool, error)
	GetSubscription(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error)
	SaveCheckoutResult(ctx context.Context, userID, planID uuid.UUID, interval plan.Interval, ps *payment.Subscription) (*billing.Subscription, error)
}

// PlanStore is the slice of the plan repository the workflow needs.
type PlanStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*plan.Plan, error)
}

// Gateway is the slice of the payment gateway the workflow needs.
// Satisfied by payment.Gateway implementations.
type Gateway interface {
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string, setAsDefault bool) (*payment.PaymentMethodDetails, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*payment.Subscription, error)
	CreateSubscription(ctx context.Context, params payment.CreateSubscriptionParams) (*payment.Subscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, params payment.UpdateSubscriptionParams) (*payment.Subscription, error)
	FindPromotionCode(ctx context.Context, code string) (*payment.PromotionCode, error)
	ConfirmCardPayment(ctx context.Context, clientSecret, paymentMethodID string) (*payment.Intent, error)
}

// Workflow orchestrates one checkout attempt: trial gate, payment method
// acquisition, create-or-update, intent resolution. Steps run strictly
// sequentially and every step returns a structured outcome.
type Workflow struct {
	billing      BillingService
	plans        PlanStore
	gateway      Gateway
	retryCfg     retry.Config
	metrics      *metrics.Metrics
	supportEmail string
	logger       *zap.Logger
}

// NewWorkflow creates a new checkout workflow.
func NewWorkflow(
	billingSvc BillingService,
	plans PlanStore,
	gateway Gateway,
	retryCfg retry.Config,
	m *metrics.Metrics,
	supportEmail string,
	logger *zap.Logger,
) *Workflow {
	return &Workflow{
		billing:      billingSvc,
		plans:        plans,
		gateway:      gateway,
		retryCfg:     retryCfg,
		metrics:      m,
		supportEmail: supportEmail,
		logger:       logger,
	}
}

// Run executes one checkout attempt. It returns an error only for local
// infrastructure failures; every processor-level condition becomes a
// Result.
func (w *Workflow) Run(ctx context.Context, attempt Attempt) (*Result, error) {
	start := time.Now()
	result, err := w.run(ctx, attempt)
	if w.metrics != nil && result != nil {
		w.metrics.CheckoutAttemptsTotal.WithLabelValues(string(result.Outcome)).Inc()
		w.metrics.CheckoutDuration.Observe(time.Since(start).Seconds())
	}
	return result, err
}

func (w *Workflow) run(ctx context.Context, attempt Attempt) (*Result, error) {
	pl, err := w.plans.GetByID(ctx, attempt.PlanID)
	if err != nil {
		return nil, err
	}

	// Trial gate. Only consulted when the plan offers a trial AND the
	// user is still trial-eligible; otherwise the flow proceeds directly
	// as a paid subscription and the used-before check is never invoked.
	withTrial := false
	if pl.HasTrial() {
		eligible, err := w.billing.TrialEligible(ctx, attempt.UserID)
		if err != nil {
			return nil, err
		}
		if eligible {
			used, err := w.billing.HasCardBeenUsedBefore(ctx, attempt.PaymentMethodID)
			if err != nil {
				return w.failure(err), nil
			}
			if used && !attempt.ForfeitTrial {
				// Terminal: nothing has been mutated yet.
				return &Result{
					Outcome: OutcomeTrialForfeitConfirmationRequired,
					Code:    "TRIAL_FORFEIT_CONFIRMATION_REQUIRED",
					Message: "This card has been used before, so the free trial will not be applied. Confirm to continue without a trial.",
				}, nil
			}
			withTrial = !used
		}
	}

	profile, err := w.billing.GetOrCreateProfile(ctx, attempt.UserID)
	if err != nil {
		return w.failure(err), nil
	}

	// Payment method acquisition: newly collected methods get attached to
	// the customer; existing ones are used as-is.
	if attempt.NewPaymentMethod {
		if _, err := w.gateway.AttachPaymentMethod(ctx, profile.StripeCustomerID, attempt.PaymentMethodID, attempt.SetAsDefault); err != nil {
			return w.failure(err), nil
		}
	}

	// The promotion code used here is whatever the attempt carries; an
	// invalid or since-removed code is dropped, matching the quote
	// behavior.
	promotionCodeID := ""
	if attempt.PromotionCode != "" {
		pc, err := w.gateway.FindPromotionCode(ctx, attempt.PromotionCode)
		switch {
		case err == nil && pc.Active:
			promotionCodeID = pc.ID
		case errors.Is(err, payment.ErrPromotionCodeNotFound):
		case err != nil:
			return w.failure(err), nil
		}
	}

	sub, err := w.createOrUpdate(ctx, attempt, pl, profile, promotionCodeID, withTrial)
	if err != nil {
		return w.failure(err), nil
	}

	return w.resolve(ctx, attempt, pl, sub)
}

// createOrUpdate re-fetches the current subscription and decides between
// create and update. Cached state is never trusted.
func (w *Workflow) createOrUpdate(ctx context.Context, attempt Attempt, pl *plan.Plan, profile *billing.Profile, promotionCodeID string, withTrial bool) (*payment.Subscription, error) {
	current, err := w.billing.GetSubscription(ctx, attempt.UserID)
	if err != nil && !errors.Is(err, billing.ErrSubscriptionNotFound) {
		return nil, err
	}

	if current != nil && current.Status != billing.StatusCanceled && current.Status != billing.StatusIncompleteExpired {
		return w.gateway.UpdateSubscription(ctx, current.StripeSubscriptionID, payment.UpdateSubscriptionParams{
			PriceID:         pl.StripePriceID(attempt.Interval),
			PaymentMethodID: attempt.PaymentMethodID,
			PromotionCodeID: promotionCodeID,
		})
	}

	trialDays := 0
	if withTrial {
		trialDays = pl.TrialPeriodDays
	}
	return w.gateway.CreateSubscription(ctx, payment.CreateSubscriptionParams{
		CustomerID:      profile.StripeCustomerID,
		PriceID:         pl.StripePriceID(attempt.Interval),
		PaymentMethodID: attempt.PaymentMethodID,
		TrialPeriodDays: trialDays,
		PromotionCodeID: promotionCodeID,
	})
}

// resolve runs the intent resolution state machine on the subscription the
// processor returned.
func (w *Workflow) resolve(ctx context.Context, attempt Attempt, pl *plan.Plan, sub *payment.Subscription) (*Result, error) {
	// trialing, active and past_due are all terminal successes,
	// regardless of any intent hanging off the subscription.
	if entitled(sub.Status) {
		return w.succeed(ctx, attempt, pl, sub)
	}

	// A setup intent appears instead of a payment intent when the
	// subscription has a positive trial period and no charge is taken.
	var intent *payment.Intent
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		intent = sub.LatestInvoice.PaymentIntent
	} else {
		intent = sub.PendingSetupIntent
	}
	if intent == nil {
		w.logger.Error("subscription in unexpected state with no intent",
			zap.String("subscription_id", sub.ID),
			zap.String("status", sub.Status),
		)
		return w.persistAndFail(ctx, attempt, pl, sub), nil
	}

	if intent.RequiresAction() {
		// Exactly one confirmation attempt.
		confirmed, err := w.gateway.ConfirmCardPayment(ctx, intent.ClientSecret, attempt.PaymentMethodID)
		if err != nil || confirmed.Status != payment.IntentStatusSucceeded {
			if err != nil {
				w.logger.Warn("card confirmation failed", zap.Error(err), zap.String("subscription_id", sub.ID))
			}
			local, persistErr := w.billing.SaveCheckoutResult(ctx, attempt.UserID, pl.ID, attempt.Interval, sub)
			if persistErr != nil {
				return nil, persistErr
			}
			return &Result{
				Outcome:      OutcomeConfirmationFailed,
				Code:         "CONFIRMATION_FAILED",
				Message:      w.genericMessage(),
				Subscription: local,
			}, nil
		}

		// Confirmation succeeded. The processor settles the subscription
		// asynchronously; give it a bounded window to catch up before
		// persisting.
		refreshed := sub
		waitErr := retry.Until(ctx, w.retryCfg, func(ctx context.Context) (bool, error) {
			s, err := w.gateway.GetSubscription(ctx, sub.ID)
			if err != nil {
				return false, nil
			}
			refreshed = s
			return entitled(s.Status), nil
		})
		if errors.Is(waitErr, retry.ErrStillProcessing) {
			w.logger.Info("subscription still settling after confirmation",
				zap.String("subscription_id", sub.ID),
				zap.String("status", refreshed.Status),
			)
		}
		return w.succeed(ctx, attempt, pl, refreshed)
	}

	if sub.Status == payment.SubscriptionStatusIncomplete && intent.Status == payment.IntentStatusRequiresPaymentMethod {
		code := "PAYMENT_DECLINED"
		message := "Your payment was declined. Please try a different payment method."
		if intent.LastError != nil && intent.LastError.Message != "" {
			message = intent.LastError.Message
			if intent.LastError.Code != "" {
				code = intent.LastError.Code
			}
		}
		local, err := w.billing.SaveCheckoutResult(ctx, attempt.UserID, pl.ID, attempt.Interval, sub)
		if err != nil {
			return nil, err
		}
		return &Result{
			Outcome:      OutcomeDeclined,
			Code:         code,
			Message:      message,
			Subscription: local,
		}, nil
	}

	w.logger.Error("unhandled subscription state after checkout",
		zap.String("subscription_id", sub.ID),
		zap.String("status", sub.Status),
		zap.String("intent_status", intent.Status),
	)
	return w.persistAndFail(ctx, attempt, pl, sub), nil
}

func (w *Workflow) succeed(ctx context.Context, attempt Attempt, pl *plan.Plan, sub *payment.Subscription) (*Result, error) {
	local, err := w.billing.SaveCheckoutResult(ctx, attempt.UserID, pl.ID, attempt.Interval, sub)
	if err != nil {
		return nil, err
	}
	return &Result{
		Outcome:      OutcomeSucceeded,
		Subscription: local,
	}, nil
}

func (w *Workflow) persistAndFail(ctx context.Context, attempt Attempt, pl *plan.Plan, sub *payment.Subscription) *Result {
	local, err := w.billing.SaveCheckoutResult(ctx, attempt.UserID, pl.ID, attempt.Interval, sub)
	if err != nil {
		w.logger.Error("failed to persist checkout state", zap.Error(err))
	}
	return &Result{
		Outcome:      OutcomeFailed,
		Code:         "CHECKOUT_FAILED",
		Message:      w.genericMessage(),
		Subscription: local,
	}
}

// failure maps a step error to a terminal result: processor rejections
// carry their code and message inline; everything else gets the generic
// contact-support message.
func (w *Workflow) failure(err error) *Result {
	var pe *payment.ProcessorError
	if errors.As(err, &pe) {
		return &Result{
			Outcome: OutcomeDeclined,
			Code:    pe.Code,
			Message: pe.Message,
		}
	}
	w.logger.Error("checkout step failed", zap.Error(err))
	return &Result{
		Outcome: OutcomeFailed,
		Code:    "CHECKOUT_FAILED",
		Message: w.genericMessage(),
	}
}

func (w *Workflow) genericMessage() string {
	return fmt.Sprintf("Something went wrong. Please contact support at %s.", w.supportEmail)
}

func entitled(status string) bool {
	return status == payment.SubscriptionStatusTrialing ||
		status == payment.SubscriptionStatusActive ||
		status == payment.SubscriptionStatusPastDue
}
