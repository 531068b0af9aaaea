package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clausewise/server/internal/module/payment"
	"github.com/clausewise/server/internal/module/plan"
)

// UserDirectory resolves contact details for customer creation.
type UserDirectory interface {
	GetContactInfo(ctx context.Context, userID uuid.UUID) (email, name string, err error)
}

// PlanCatalog is the slice of the plan repository billing needs.
// Satisfied by plan.Repository.
type PlanCatalog interface {
	GetByID(ctx context.Context, id uuid.UUID) (*plan.Plan, error)
	GetByStripePriceID(ctx context.Context, priceID string) (*plan.Plan, plan.Interval, error)
}

// Service implements billing operations.
type Service struct {
	repo    Repository
	gateway payment.Gateway
	plans   PlanCatalog
	users   UserDirectory
	logger  *zap.Logger
}

// NewService creates a new billing service.
func NewService(
	repo Repository,
	gateway payment.Gateway,
	plans PlanCatalog,
	users UserDirectory,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:    repo,
		gateway: gateway,
		plans:   plans,
		users:   users,
		logger:  logger,
	}
}

// GetOrCreateProfile returns the user's billing profile, creating the
// processor customer on first use.
func (s *Service) GetOrCreateProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrProfileNotFound) {
		return nil, err
	}

	email, name, err := s.users.GetContactInfo(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user contact info: %w", err)
	}

	customer, err := s.gateway.CreateCustomer(ctx, email, name)
	if err != nil {
		return nil, fmt.Errorf("create processor customer: %w", err)
	}

	p = &Profile{
		UserID:           userID,
		StripeCustomerID: customer.ID,
	}
	if err := s.repo.CreateProfile(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("billing profile created",
		zap.String("user_id", userID.String()),
		zap.String("customer_id", customer.ID),
	)
	return p, nil
}

// TrialEligible reports whether the user may still start a free trial.
// Users without a billing profile have never trialed and are eligible.
func (s *Service) TrialEligible(ctx context.Context, userID uuid.UUID) (bool, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return p.TrialEligible(), nil
}

// HasCardBeenUsedBefore reports whether the card behind the given payment
// method has ever completed a paid transaction, on any account.
func (s *Service) HasCardBeenUsedBefore(ctx context.Context, paymentMethodID string) (bool, error) {
	pm, err := s.gateway.GetPaymentMethod(ctx, paymentMethodID)
	if err != nil {
		return false, err
	}
	if pm.Fingerprint == "" {
		return false, nil
	}
	return s.repo.FingerprintSeen(ctx, pm.Fingerprint)
}

// GetSubscription returns the user's subscription.
func (s *Service) GetSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.repo.GetSubscriptionByUser(ctx, userID)
}

// --- Payment methods ---

// AttachPaymentMethod attaches a newly collected payment method to the
// user's processor customer.
func (s *Service) AttachPaymentMethod(ctx context.Context, userID uuid.UUID, paymentMethodID string, setAsDefault bool) (*payment.PaymentMethodDetails, error) {
	p, err := s.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.gateway.AttachPaymentMethod(ctx, p.StripeCustomerID, paymentMethodID, setAsDefault)
}

// ListPaymentMethods lists the user's stored cards.
func (s *Service) ListPaymentMethods(ctx context.Context, userID uuid.UUID) ([]*payment.PaymentMethodDetails, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.gateway.ListPaymentMethods(ctx, p.StripeCustomerID)
}

// GetDefaultPaymentMethod returns the user's default card, or nil.
func (s *Service) GetDefaultPaymentMethod(ctx context.Context, userID uuid.UUID) (*payment.PaymentMethodDetails, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.gateway.GetDefaultPaymentMethod(ctx, p.StripeCustomerID)
}

// DetachPaymentMethod removes a stored card.
func (s *Service) DetachPaymentMethod(ctx context.Context, userID uuid.UUID, paymentMethodID string) error {
	if _, err := s.repo.GetProfile(ctx, userID); err != nil {
		return err
	}
	return s.gateway.DetachPaymentMethod(ctx, paymentMethodID)
}

// --- Promotion codes and quotes ---

// ValidatePromotionCode checks a promotion code without applying it.
func (s *Service) ValidatePromotionCode(ctx context.Context, code string) (*payment.PromotionCode, error) {
	return s.gateway.FindPromotionCode(ctx, code)
}

// QuoteInvoice previews what the next invoice would charge for the given
// plan and interval. An invalid or removed promotion code is dropped and
// the quote recomputed without it; the second return reports whether the
// code was applied.
func (s *Service) QuoteInvoice(ctx context.Context, userID, planID uuid.UUID, interval plan.Interval, promotionCode string) (*payment.QuoteInvoice, bool, error) {
	pl, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, false, err
	}
	profile, err := s.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return nil, false, err
	}

	params := payment.QuoteParams{
		CustomerID: profile.StripeCustomerID,
		PriceID:    pl.StripePriceID(interval),
	}
	if sub, err := s.repo.GetSubscriptionByUser(ctx, userID); err == nil {
		params.SubscriptionID = sub.StripeSubscriptionID
	} else if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, false, err
	}

	applied := false
	if promotionCode != "" {
		pc, err := s.gateway.FindPromotionCode(ctx, promotionCode)
		switch {
		case err == nil && pc.Active:
			params.CouponID = pc.CouponID
			applied = true
		case errors.Is(err, payment.ErrPromotionCodeNotFound):
			// Invalid code: quote without it.
		case err != nil:
			return nil, false, err
		}
	}

	quote, err := s.gateway.PreviewInvoice(ctx, params)
	if err != nil {
		return nil, false, err
	}
	if applied {
		quote.AppliedPromotionCode = promotionCode
	}
	return quote, applied, nil
}

// --- Subscription lifecycle ---

// CancelAtPeriodEnd schedules the subscription to cancel at period end.
func (s *Service) CancelAtPeriodEnd(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.CancelAtPeriodEnd {
		return nil, ErrAlreadyCanceling
	}

	updated, err := s.gateway.CancelSubscriptionAtPeriodEnd(ctx, sub.StripeSubscriptionID)
	if err != nil {
		return nil, err
	}
	return s.applyProcessorState(ctx, sub, updated)
}

// CancelNow cancels the subscription immediately.
func (s *Service) CancelNow(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	updated, err := s.gateway.CancelSubscriptionNow(ctx, sub.StripeSubscriptionID)
	if err != nil {
		return nil, err
	}
	return s.applyProcessorState(ctx, sub, updated)
}

// Reactivate clears a pending cancellation.
func (s *Service) Reactivate(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sub.CancelAtPeriodEnd {
		return nil, ErrNotCanceling
	}

	updated, err := s.gateway.ReactivateSubscription(ctx, sub.StripeSubscriptionID)
	if err != nil {
		return nil, err
	}
	return s.applyProcessorState(ctx, sub, updated)
}

// UpdatePaymentMethod changes the subscription's default payment method.
func (s *Service) UpdatePaymentMethod(ctx context.Context, userID uuid.UUID, paymentMethodID string) (*Subscription, error) {
	sub, err := s.repo.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if _, err := s.gateway.AttachPaymentMethod(ctx, sub.StripeCustomerID, paymentMethodID, true); err != nil {
		return nil, err
	}
	updated, err := s.gateway.UpdateSubscription(ctx, sub.StripeSubscriptionID, payment.UpdateSubscriptionParams{
		PaymentMethodID: paymentMethodID,
	})
	if err != nil {
		return nil, err
	}
	return s.applyProcessorState(ctx, sub, updated)
}

// ListInvoices returns the user's invoice history.
func (s *Service) ListInvoices(ctx context.Context, userID uuid.UUID, limit int) ([]*payment.Invoice, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.gateway.ListInvoices(ctx, p.StripeCustomerID, limit)
}

// UpcomingInvoice previews the user's next invoice.
func (s *Service) UpcomingInvoice(ctx context.Context, userID uuid.UUID) (*payment.QuoteInvoice, error) {
	sub, err := s.repo.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.gateway.PreviewInvoice(ctx, payment.QuoteParams{
		CustomerID:     sub.StripeCustomerID,
		SubscriptionID: sub.StripeSubscriptionID,
	})
}

// SaveCheckoutResult persists the subscription state the processor
// returned from a checkout attempt. The checkout workflow never invents
// status; it stores what Stripe said.
func (s *Service) SaveCheckoutResult(ctx context.Context, userID, planID uuid.UUID, interval plan.Interval, ps *payment.Subscription) (*Subscription, error) {
	sub := &Subscription{
		ID:       uuid.New(),
		UserID:   userID,
		PlanID:   planID,
		Interval: interval,
	}
	if existing, err := s.repo.GetSubscriptionByUser(ctx, userID); err == nil {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	copyProcessorState(sub, ps)
	if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
		return nil, err
	}
	if sub.Status == StatusTrialing {
		if err := s.markTrialUsed(ctx, userID); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// --- Webhook sync (payment.BillingSync) ---

// SyncSubscription mirrors a processor subscription event into the local
// record. Status is owned by this path.
func (s *Service) SyncSubscription(ctx context.Context, ps *payment.Subscription) error {
	profile, err := s.repo.GetProfileByCustomerID(ctx, ps.CustomerID)
	if errors.Is(err, ErrProfileNotFound) {
		s.logger.Warn("webhook for unknown customer", zap.String("customer_id", ps.CustomerID))
		return nil
	}
	if err != nil {
		return err
	}

	sub, err := s.repo.GetSubscriptionByStripeID(ctx, ps.ID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		pl, interval, planErr := s.plans.GetByStripePriceID(ctx, ps.PriceID)
		if planErr != nil {
			s.logger.Warn("webhook subscription for unknown price",
				zap.String("subscription_id", ps.ID),
				zap.String("price_id", ps.PriceID),
			)
			return nil
		}
		sub = &Subscription{
			ID:       uuid.New(),
			UserID:   profile.UserID,
			PlanID:   pl.ID,
			Interval: interval,
		}
	} else if err != nil {
		return err
	}

	if ps.PriceID != "" {
		if pl, interval, planErr := s.plans.GetByStripePriceID(ctx, ps.PriceID); planErr == nil {
			sub.PlanID = pl.ID
			sub.Interval = interval
		}
	}

	copyProcessorState(sub, ps)
	if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
		return err
	}

	if sub.Status == StatusTrialing && profile.TrialUsedAt == nil {
		now := time.Now()
		profile.TrialUsedAt = &now
		if err := s.repo.UpdateProfile(ctx, profile); err != nil {
			return err
		}
	}
	return nil
}

// HandleSubscriptionDeleted marks the local record canceled.
func (s *Service) HandleSubscriptionDeleted(ctx context.Context, subscriptionID string) error {
	sub, err := s.repo.GetSubscriptionByStripeID(ctx, subscriptionID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	sub.Status = StatusCanceled
	return s.repo.UpdateSubscription(ctx, sub)
}

// RecordCardUsage adds a card fingerprint to the used-card ledger.
func (s *Service) RecordCardUsage(ctx context.Context, customerID, fingerprint string) error {
	return s.repo.RecordCardFingerprint(ctx, &CardFingerprint{
		ID:               uuid.New(),
		Fingerprint:      fingerprint,
		StripeCustomerID: customerID,
	})
}

// --- Helpers ---

func (s *Service) markTrialUsed(ctx context.Context, userID uuid.UUID) error {
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	if profile.TrialUsedAt != nil {
		return nil
	}
	now := time.Now()
	profile.TrialUsedAt = &now
	return s.repo.UpdateProfile(ctx, profile)
}

func (s *Service) applyProcessorState(ctx context.Context, sub *Subscription, ps *payment.Subscription) (*Subscription, error) {
	copyProcessorState(sub, ps)
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func copyProcessorState(sub *Subscription, ps *payment.Subscription) {
	sub.StripeSubscriptionID = ps.ID
	sub.StripeCustomerID = ps.CustomerID
	sub.Status = Status(ps.Status)
	sub.CancelAtPeriodEnd = ps.CancelAtPeriodEnd
	sub.CurrentPeriodStart = ps.CurrentPeriodStart
	sub.CurrentPeriodEnd = ps.CurrentPeriodEnd
	sub.TrialEnd = ps.TrialEnd
	sub.DefaultPaymentMethodID = ps.DefaultPaymentMethodID
}
