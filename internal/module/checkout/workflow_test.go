package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clausewise/server/internal/module/billing"
	"github.com/clausewise/server/internal/module/payment"
	"github.com/clausewise/server/internal/module/plan"
	"github.com/clausewise/server/internal/utils/retry"
)

// --- Fakes ---

type fakeBilling struct {
	trialEligible  bool
	usedCards      map[string]bool
	subscription   *billing.Subscription
	profile        *billing.Profile
	usedCheckCalls int
	savedResults   []*payment.Subscription
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		trialEligible: true,
		usedCards:     map[string]bool{},
		profile:       &billing.Profile{UserID: uuid.New(), StripeCustomerID: "cus_1"},
	}
}

func (f *fakeBilling) GetOrCreateProfile(context.Context, uuid.UUID) (*billing.Profile, error) {
	return f.profile, nil
}

func (f *fakeBilling) TrialEligible(context.Context, uuid.UUID) (bool, error) {
	return f.trialEligible, nil
}

func (f *fakeBilling) HasCardBeenUsedBefore(_ context.Context, paymentMethodID string) (bool, error) {
	f.usedCheckCalls++
	return f.usedCards[paymentMethodID], nil
}

func (f *fakeBilling) GetSubscription(context.Context, uuid.UUID) (*billing.Subscription, error) {
	if f.subscription == nil {
		return nil, billing.ErrSubscriptionNotFound
	}
	return f.subscription, nil
}

func (f *fakeBilling) SaveCheckoutResult(_ context.Context, userID, planID uuid.UUID, interval plan.Interval, ps *payment.Subscription) (*billing.Subscription, error) {
	f.savedResults = append(f.savedResults, ps)
	sub := &billing.Subscription{
		ID:                   uuid.New(),
		UserID:               userID,
		PlanID:               planID,
		Interval:             interval,
		Status:               billing.Status(ps.Status),
		StripeSubscriptionID: ps.ID,
		StripeCustomerID:     ps.CustomerID,
	}
	f.subscription = sub
	return sub, nil
}

type fakePlanStore struct {
	plans map[uuid.UUID]*plan.Plan
}

func (f *fakePlanStore) GetByID(_ context.Context, id uuid.UUID) (*plan.Plan, error) {
	p, ok := f.plans[id]
	if !ok {
		return nil, plan.ErrPlanNotFound
	}
	return p, nil
}

type confirmCall struct {
	clientSecret    string
	paymentMethodID string
}

type fakeGateway struct {
	createResult *payment.Subscription
	createErr    error
	updateResult *payment.Subscription
	updateErr    error

	confirmResult *payment.Intent
	confirmErr    error

	refreshResult *payment.Subscription

	promoCodes map[string]*payment.PromotionCode

	createCalls  []payment.CreateSubscriptionParams
	updateCalls  []payment.UpdateSubscriptionParams
	updateIDs    []string
	attachCalls  []string
	confirmCalls []confirmCall
	refreshCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{promoCodes: map[string]*payment.PromotionCode{}}
}

func (g *fakeGateway) AttachPaymentMethod(_ context.Context, _, paymentMethodID string, _ bool) (*payment.PaymentMethodDetails, error) {
	g.attachCalls = append(g.attachCalls, paymentMethodID)
	return &payment.PaymentMethodDetails{ID: paymentMethodID}, nil
}

func (g *fakeGateway) GetSubscription(context.Context, string) (*payment.Subscription, error) {
	g.refreshCalls++
	if g.refreshResult != nil {
		return g.refreshResult, nil
	}
	return g.createResult, nil
}

func (g *fakeGateway) CreateSubscription(_ context.Context, params payment.CreateSubscriptionParams) (*payment.Subscription, error) {
	g.createCalls = append(g.createCalls, params)
	return g.createResult, g.createErr
}

func (g *fakeGateway) UpdateSubscription(_ context.Context, id string, params payment.UpdateSubscriptionParams) (*payment.Subscription, error) {
	g.updateIDs = append(g.updateIDs, id)
	g.updateCalls = append(g.updateCalls, params)
	return g.updateResult, g.updateErr
}

func (g *fakeGateway) FindPromotionCode(_ context.Context, code string) (*payment.PromotionCode, error) {
	pc, ok := g.promoCodes[code]
	if !ok {
		return nil, payment.ErrPromotionCodeNotFound
	}
	return pc, nil
}

func (g *fakeGateway) ConfirmCardPayment(_ context.Context, clientSecret, paymentMethodID string) (*payment.Intent, error) {
	g.confirmCalls = append(g.confirmCalls, confirmCall{clientSecret, paymentMethodID})
	return g.confirmResult, g.confirmErr
}

// --- Helpers ---

func trialPlan() *plan.Plan {
	return &plan.Plan{
		ID:                   uuid.New(),
		Name:                 "pro",
		TrialPeriodDays:      14,
		Active:               true,
		StripeMonthlyPriceID: "price_monthly",
		StripeAnnualPriceID:  "price_annual",
	}
}

func noTrialPlan() *plan.Plan {
	p := trialPlan()
	p.TrialPeriodDays = 0
	return p
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func newTestWorkflow(b *fakeBilling, g *fakeGateway, plans ...*plan.Plan) *Workflow {
	store := &fakePlanStore{plans: map[uuid.UUID]*plan.Plan{}}
	for _, p := range plans {
		store.plans[p.ID] = p
	}
	return NewWorkflow(b, store, g, fastRetry(), nil, "support@clausewise.app", zap.NewNop())
}

func trialingSubscription() *payment.Subscription {
	return &payment.Subscription{
		ID:         "sub_1",
		CustomerID: "cus_1",
		Status:     payment.SubscriptionStatusTrialing,
	}
}

func attempt(p *plan.Plan, pm string) Attempt {
	return Attempt{
		UserID:          uuid.New(),
		PlanID:          p.ID,
		Interval:        plan.IntervalMonth,
		PaymentMethodID: pm,
	}
}

// --- Trial gate ---

func TestTrialGate(t *testing.T) {
	ctx := context.Background()

	t.Run("plan without trial never invokes used-before check", func(t *testing.T) {
		b := newFakeBilling()
		g := newFakeGateway()
		g.createResult = &payment.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: payment.SubscriptionStatusActive}
		p := noTrialPlan()

		result, err := newTestWorkflow(b, g, p).Run(ctx, attempt(p, "pm_any"))

		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, result.Outcome)
		assert.Zero(t, b.usedCheckCalls)
		require.Len(t, g.createCalls, 1)
		assert.Zero(t, g.createCalls[0].TrialPeriodDays)
	})

	t.Run("ineligible user skips check and proceeds as paid", func(t *testing.T) {
		b := newFakeBilling()
		b.trialEligible = false
		b.usedCards["pm_used"] = true
		g := newFakeGateway()
		g.createResult = &payment.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: payment.SubscriptionStatusActive}
		p := trialPlan()

		result, err := newTestWorkflow(b, g, p).Run(ctx, attempt(p, "pm_used"))

		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, result.Outcome)
		assert.Zero(t, b.usedCheckCalls)
		require.Len(t, g.createCalls, 1)
		assert.Zero(t, g.createCalls[0].TrialPeriodDays)
	})

	t.Run("used card without forfeit confirmation aborts with zero mutations", func(t *testing.T) {
		b := newFakeBilling()
		b.usedCards["pm_used"] = true
		g := newFakeGateway()
		p := trialPlan()

		result, err := newTestWorkflow(b, g, p).Run(ctx, attempt(p, "pm_used"))

		require.NoError(t, err)
		assert.Equal(t, OutcomeTrialForfeitConfirmationRequired, result.Outcome)
		assert.Empty(t, g.createCalls)
		assert.Empty(t, g.updateCalls)
		assert.Empty(t, g.attachCalls)
		assert.Empty(t, b.savedResults)
	})
}

// --- Intent resolution state machine ---

func TestIntentResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("trialing, active and past_due succeed regardless of intent", func(t *testing.T) {
		for _, status := range []string{
			payment.SubscriptionStatusTrialing,
			payment.SubscriptionStatusActive,
			payment.SubscriptionStatusPastDue,
		} {
			t.Run(status, func(t *testing.T) {
				b := newFakeBilling()
				g := newFakeGateway()
				g.createResult = &payment.Subscription{
					ID:         "sub_1",
					CustomerID: "cus_1",
					Status:     status,
					LatestInvoice: &payment.Invoice{
						PaymentIntent: &payment.Intent{
							Status:       payment.IntentStatusRequiresAction,
							ClientSecret: "pi_1_secret_x",
						},
					},
				}
				p := noTrialPlan()

				result, err := newTestWorkflow(b, g, p).Run(ctx, attempt(p, "pm_1"))

				require.NoError(t, err)
				assert.Equal(t, OutcomeSucceeded, result.Outcome)
				assert.Empty(t, g.confirmCalls)
				require.NotNil(t, result.Subscription)
				assert.Equal(t, billing.Status(status), result.Subscription.Status)
			})
		}
	})

	t.Run("declined surfaces last payment error message", func(t *testing.T) {
		b := newFakeBilling()
		g := newFakeGateway()
		g.createResult = &payment.Subscription{
			ID:         "sub_1",
			CustomerID: "cus_1",
			Status:     payment.SubscriptionStatusIncomplete,
			LatestInvoice: &payment.Invoice{
				PaymentIntent: &payment.Intent{
					Status: payment.IntentStatusRequiresPaymentMethod,
					LastError: &payment.ProcessorError{
						Code:    "card_declined",
						Message: "Your card has insufficient funds.",
					},
				},
			},
		}
		p := noTrialPlan()

		result, err := newTestWorkflow(b, g, p).Run(ctx, attempt(p, "pm_1"))

		require.NoError(t, err)
		assert.Equal(t, OutcomeDeclined, result.Outcome)
		assert.Equal(t, "card_declined", result.Code)
		assert.Equal(t, "Your card has insufficient funds.", result.Message)
		assert.Empty(t, g.confirmCalls)
	})

	t.Run("declined without last error falls back to generic message", func(t *testing.T) {
		b := newFakeBilling()
		g := newFakeGateway()
		g.createResult = &payment.Subscription{
			ID:         "sub_1",
			CustomerID: "cus_1",
			Status:     payment.SubscriptionStatusIncomplete,
			LatestInvoice: &payment.Invoice{
				PaymentIntent: &payment.Intent{
					Status: payment.IntentStatusRequiresPaymentMethod,
				},
			},
		}
		p := noTrialPlan()

		result, err := newTestWorkflow(b, g, p).Run(ctx, attempt(p, "pm_1"))

		require.NoError(t, err)
		assert.Equal(t, OutcomeDeclined, result.Outcome)
		assert.Equal(t, "PAYMENT_DECLINED", result.Code)
		assert.NotEmpty(t, result.Message)
	})

	t.Run("requires_action confirms exactly once with secret and method", func(t *testing.T) {
		b := newFakeBilling()
		g := newFakeGateway()
		g.createResult = &payment.Subscription{
			ID:         "sub_1",
			CustomerID: "cus_1",
			Status:     payment.SubscriptionStatusIncomplete,
			LatestInvoice: &payment.Invoice{
				PaymentIntent: &payment.Intent{
					Status:       payment.IntentStatusRequiresAction,
					ClientSecret: "pi_1_secret_abc",
				},
			},
		}
		g.confirmResult = &payment.Intent{Status: payment.IntentStatusSucceeded}
		g.refreshResult = &payment.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: payment.SubscriptionStatusActive}
		p := noTrialPlan()

		result, err := newTestWorkflow(b, g, p).Run(ctx, attempt(p, "pm_1"))

		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, result.Outcome)
		require.Len(t, g.confirmCalls, 1)
		assert.Equal(t, "pi_1_secret_abc", g.confirmCalls[0].clientSecret)
		assert.Equal(t, "pm_1", g.confirmCalls[0].paymentMethodID)
		assert.Equal(t, billing.StatusActive, result.Subscription.Status)
	})

	t.Run("any non-succeeded confirmation is ConfirmationFailed", func(t *testing.T) {
		b := newFakeBilling()
		g := newFakeGateway()
		g.createResult = &payment.Subscription{
			ID:         "sub_1",
			CustomerID: "cus_1",
			Status:     payment.SubscriptionStatusIncomplete,
			LatestInvoice: &payment.Invoice{
				PaymentIntent: &payment.Intent{
					Status:       payment.IntentStatusRequiresAction,
					ClientSecret: "pi_1_secret_abc",
				},
			},
		}
		g.confirmResult = &payment.Intent{Status: payment.IntentStatusRequiresAction}
		p := noTrialPlan()

		result, err := newTestWorkflow(b, g, p).Run(ctx, attempt(p, "pm_1"))

		require.NoError(t, err)
		assert.Equal(t, OutcomeConfirmationFailed, result.Outcome)
		assert.Contains(t, result.Message, "support@clausewise.app")
		assert.Len(t, g.confirmCalls, 1)
	})

	t.Run("setup intent used when no payment intent present", func(t *testing.T) {
		b := newFakeBilling()
		g := newFakeGateway()
		g.createResult = &payment.Subscription{
			ID:         "sub_1",
			CustomerID: "cus_1",
			Status:     payment.SubscriptionStatusIncomplete,
			PendingSetupIntent: &payment.Intent{
				Kind:         payment.IntentKindSetup,
				Status:       payment.IntentStatusRequiresAction,
				ClientSecret: "seti_1_secret_abc",
			},
		}
		g.confirmResult = &payment.Intent{Status: payment.IntentStatusSucceeded}
		g.refreshResult = &payment.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: payment.SubscriptionStatusTrialing}
		p := trialPlan()

		result, err := newTestWorkflow(b, g, p).Run(ctx, attempt(p, "pm_fresh"))

		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, result.Outcome)
		require.Len(t, g.confirmCalls, 1)
		assert.Equal(t, "seti_1_secret_abc", g.confirmCalls[0].clientSecret)
	})
}

// --- Processor rejections ---

func TestProcessorRejection(t *testing.T) {
	ctx := context.Background()

	t.Run("create rejection becomes declined result with code and message", func(t *testing.T) {
		b := newFakeBilling()
		g := newFakeGateway()
		g.createErr = &payment.ProcessorError{Code: "card_declined", Message: "Your card was declined."}
		p := noTrialPlan()

		result, err := newTestWorkflow(b, g, p).Run(ctx, attempt(p, "pm_1"))

		require.NoError(t, err)
		assert.Equal(t, OutcomeDeclined, result.Outcome)
		assert.Equal(t, "card_declined", result.Code)
		assert.Equal(t, "Your card was declined.", result.Message)
	})

	t.Run("unknown gateway failure becomes generic contact-support result", func(t *testing.T) {
		b := newFakeBilling()
		g := newFakeGateway()
		g.createErr = payment.ErrGatewayUnavailable
		p := noTrialPlan()

		result, err := newTestWorkflow(b, g, p).Run(ctx, attempt(p, "pm_1"))

		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, result.Outcome)
		assert.Contains(t, result.Message, "support@clausewise.app")
	})
}

// --- End-to-end scenarios ---

func TestScenarioA_TrialWithUnusedCard(t *testing.T) {
	b := newFakeBilling()
	g := newFakeGateway()
	g.createResult = trialingSubscription()
	p := trialPlan()

	a := attempt(p, "pm_fresh")
	a.NewPaymentMethod = true

	result, err := newTestWorkflow(b, g, p).Run(context.Background(), a)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	require.Len(t, g.createCalls, 1)
	assert.Equal(t, 14, g.createCalls[0].TrialPeriodDays)
	assert.Equal(t, "price_monthly", g.createCalls[0].PriceID)
	assert.Empty(t, g.updateCalls)
	assert.Equal(t, billing.StatusTrialing, result.Subscription.Status)
	assert.Equal(t, 1, b.usedCheckCalls)
}

func TestScenarioB_UsedCard(t *testing.T) {
	ctx := context.Background()

	t.Run("declining the forfeit aborts with zero mutations", func(t *testing.T) {
		b := newFakeBilling()
		b.usedCards["pm_used"] = true
		g := newFakeGateway()
		p := trialPlan()

		result, err := newTestWorkflow(b, g, p).Run(ctx, attempt(p, "pm_used"))

		require.NoError(t, err)
		assert.Equal(t, OutcomeTrialForfeitConfirmationRequired, result.Outcome)
		assert.Empty(t, g.createCalls)
		assert.Empty(t, g.updateCalls)
		assert.Empty(t, g.attachCalls)
		assert.Empty(t, b.savedResults)
	})

	t.Run("accepting the forfeit creates without trial", func(t *testing.T) {
		b := newFakeBilling()
		b.usedCards["pm_used"] = true
		g := newFakeGateway()
		g.createResult = &payment.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: payment.SubscriptionStatusActive}
		p := trialPlan()

		a := attempt(p, "pm_used")
		a.ForfeitTrial = true

		result, err := newTestWorkflow(b, g, p).Run(ctx, a)

		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, result.Outcome)
		require.Len(t, g.createCalls, 1)
		assert.Zero(t, g.createCalls[0].TrialPeriodDays)
	})
}

func TestScenarioC_PlanChangeWithRequiresAction(t *testing.T) {
	ctx := context.Background()

	existing := &billing.Subscription{
		ID:                   uuid.New(),
		Status:               billing.StatusActive,
		StripeSubscriptionID: "sub_1",
		StripeCustomerID:     "cus_1",
		Interval:             plan.IntervalMonth,
	}

	incompleteWithAction := func() *payment.Subscription {
		return &payment.Subscription{
			ID:         "sub_1",
			CustomerID: "cus_1",
			Status:     payment.SubscriptionStatusIncomplete,
			LatestInvoice: &payment.Invoice{
				PaymentIntent: &payment.Intent{
					Status:       payment.IntentStatusRequiresAction,
					ClientSecret: "pi_9_secret_xyz",
				},
			},
		}
	}

	t.Run("update once, confirm once, succeeded redirects", func(t *testing.T) {
		b := newFakeBilling()
		b.subscription = existing
		g := newFakeGateway()
		g.updateResult = incompleteWithAction()
		g.confirmResult = &payment.Intent{Status: payment.IntentStatusSucceeded}
		g.refreshResult = &payment.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: payment.SubscriptionStatusActive}
		p := noTrialPlan()

		a := attempt(p, "pm_2")
		a.Interval = plan.IntervalYear

		result, err := newTestWorkflow(b, g, p).Run(ctx, a)

		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, result.Outcome)
		assert.Empty(t, g.createCalls)
		require.Len(t, g.updateCalls, 1)
		assert.Equal(t, "sub_1", g.updateIDs[0])
		assert.Equal(t, "price_annual", g.updateCalls[0].PriceID)
		require.Len(t, g.confirmCalls, 1)
		assert.Equal(t, "pi_9_secret_xyz", g.confirmCalls[0].clientSecret)
		assert.Equal(t, "pm_2", g.confirmCalls[0].paymentMethodID)
	})

	t.Run("confirmation failure shows inline error and stops", func(t *testing.T) {
		b := newFakeBilling()
		b.subscription = existing
		g := newFakeGateway()
		g.updateResult = incompleteWithAction()
		g.confirmErr = &payment.ProcessorError{Code: "payment_intent_authentication_failure", Message: "authentication failed"}
		p := noTrialPlan()

		result, err := newTestWorkflow(b, g, p).Run(ctx, attempt(p, "pm_2"))

		require.NoError(t, err)
		assert.Equal(t, OutcomeConfirmationFailed, result.Outcome)
		assert.Len(t, g.confirmCalls, 1)
		assert.Len(t, g.updateCalls, 1)
		// No refetch loop after a failed confirmation.
		assert.Zero(t, g.refreshCalls)
	})
}

// --- Promotion code pass-through ---

func TestPromotionCodeAtCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("valid code is resolved and passed to create", func(t *testing.T) {
		b := newFakeBilling()
		g := newFakeGateway()
		g.createResult = &payment.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: payment.SubscriptionStatusActive}
		g.promoCodes["SAVE25"] = &payment.PromotionCode{ID: "promo_1", Code: "SAVE25", Active: true}
		p := noTrialPlan()

		a := attempt(p, "pm_1")
		a.PromotionCode = "SAVE25"

		result, err := newTestWorkflow(b, g, p).Run(ctx, a)

		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, result.Outcome)
		require.Len(t, g.createCalls, 1)
		assert.Equal(t, "promo_1", g.createCalls[0].PromotionCodeID)
	})

	t.Run("invalid code is dropped silently", func(t *testing.T) {
		b := newFakeBilling()
		g := newFakeGateway()
		g.createResult = &payment.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: payment.SubscriptionStatusActive}
		p := noTrialPlan()

		a := attempt(p, "pm_1")
		a.PromotionCode = "REMOVED"

		result, err := newTestWorkflow(b, g, p).Run(ctx, a)

		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, result.Outcome)
		require.Len(t, g.createCalls, 1)
		assert.Empty(t, g.createCalls[0].PromotionCodeID)
	})
}

// --- Create-or-update decision ---

func TestCreateOrUpdateDecision(t *testing.T) {
	ctx := context.Background()

	t.Run("canceled subscription leads to create, not update", func(t *testing.T) {
		b := newFakeBilling()
		b.subscription = &billing.Subscription{
			ID:                   uuid.New(),
			Status:               billing.StatusCanceled,
			StripeSubscriptionID: "sub_old",
		}
		g := newFakeGateway()
		g.createResult = &payment.Subscription{ID: "sub_new", CustomerID: "cus_1", Status: payment.SubscriptionStatusActive}
		p := noTrialPlan()

		result, err := newTestWorkflow(b, g, p).Run(ctx, attempt(p, "pm_1"))

		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, result.Outcome)
		assert.Len(t, g.createCalls, 1)
		assert.Empty(t, g.updateCalls)
	})

	t.Run("current subscription is re-fetched before deciding", func(t *testing.T) {
		b := newFakeBilling()
		b.subscription = &billing.Subscription{
			ID:                   uuid.New(),
			Status:               billing.StatusActive,
			StripeSubscriptionID: "sub_live",
		}
		g := newFakeGateway()
		g.updateResult = &payment.Subscription{ID: "sub_live", CustomerID: "cus_1", Status: payment.SubscriptionStatusActive}
		p := noTrialPlan()

		result, err := newTestWorkflow(b, g, p).Run(ctx, attempt(p, "pm_1"))

		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, result.Outcome)
		assert.Empty(t, g.createCalls)
		require.Len(t, g.updateIDs, 1)
		assert.Equal(t, "sub_live", g.updateIDs[0])
	})
}
