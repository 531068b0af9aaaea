package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/clausewise/server/internal/utils/metrics"
)

// BillingSync is the slice of the billing service the webhook handler
// needs to mirror processor state locally.
type BillingSync interface {
	SyncSubscription(ctx context.Context, sub *Subscription) error
	HandleSubscriptionDeleted(ctx context.Context, subscriptionID string) error
	RecordCardUsage(ctx context.Context, customerID, fingerprint string) error
}

// WebhookGateway is the slice of the payment gateway the webhook
// handler needs: signature verification plus the lookups that turn a
// paid invoice into a card fingerprint.
type WebhookGateway interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*Intent, error)
	GetPaymentMethod(ctx context.Context, paymentMethodID string) (*PaymentMethodDetails, error)
}

// WebhookHandler handles Stripe webhook events.
type WebhookHandler struct {
	gateway WebhookGateway
	billing BillingSync
	events  EventStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(
	gateway WebhookGateway,
	billing BillingSync,
	events EventStore,
	m *metrics.Metrics,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		gateway: gateway,
		billing: billing,
		events:  events,
		metrics: m,
		logger:  logger,
	}
}

// RegisterRoutes registers the webhook routes.
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook handles incoming Stripe webhook events.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	event, err := h.gateway.ConstructEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("invalid webhook signature", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	ctx := c.Request.Context()

	seen, err := h.events.Seen(ctx, event.ID)
	if err != nil {
		h.logger.Error("failed to check webhook event", zap.Error(err))
		// Continue processing - better to process twice than miss
	}
	if seen {
		h.logger.Info("webhook event already processed", zap.String("event_id", event.ID))
		c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
		return
	}

	if err := h.events.Record(ctx, &WebhookEvent{
		ID:      event.ID,
		Type:    string(event.Type),
		Payload: string(payload),
	}); err != nil {
		h.logger.Error("failed to record webhook event", zap.Error(err))
	}

	var processErr error
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		processErr = h.handleSubscriptionChanged(ctx, &event)
	case "customer.subscription.deleted":
		processErr = h.handleSubscriptionDeleted(ctx, &event)
	case "invoice.paid", "invoice.payment_succeeded":
		processErr = h.handleInvoicePaid(ctx, &event)
	case "invoice.payment_failed":
		processErr = h.handleInvoicePaymentFailed(ctx, &event)
	default:
		h.logger.Debug("unhandled webhook event type", zap.String("type", string(event.Type)))
	}

	if h.metrics != nil {
		status := "ok"
		if processErr != nil {
			status = "error"
		}
		h.metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), status).Inc()
	}

	if err := h.events.MarkProcessed(ctx, event.ID, processErr); err != nil {
		h.logger.Error("failed to mark webhook event processed", zap.Error(err))
	}

	if processErr != nil {
		h.logger.Error("failed to process webhook event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(processErr),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

func (h *WebhookHandler) handleSubscriptionChanged(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	h.logger.Info("subscription changed",
		zap.String("subscription_id", sub.ID),
		zap.String("status", string(sub.Status)),
	)

	return h.billing.SyncSubscription(ctx, mapSubscription(&sub))
}

func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	h.logger.Info("subscription deleted", zap.String("subscription_id", sub.ID))
	return h.billing.HandleSubscriptionDeleted(ctx, sub.ID)
}

// handleInvoicePaid records the card fingerprint of every card that
// completes a paid transaction. The fingerprint ledger backs the
// used-before check that gates free trials.
func (h *WebhookHandler) handleInvoicePaid(ctx context.Context, event *stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}

	if inv.AmountPaid <= 0 || inv.Customer == nil || inv.PaymentIntent == nil {
		return nil
	}

	intent, err := h.gateway.GetPaymentIntent(ctx, inv.PaymentIntent.ID)
	if err != nil {
		return fmt.Errorf("get payment intent for invoice %s: %w", inv.ID, err)
	}
	if intent.PaymentMethodID == "" {
		return nil
	}

	pm, err := h.gateway.GetPaymentMethod(ctx, intent.PaymentMethodID)
	if err != nil {
		return fmt.Errorf("get payment method %s: %w", intent.PaymentMethodID, err)
	}
	if pm.Fingerprint == "" {
		return nil
	}

	h.logger.Info("recording card usage",
		zap.String("invoice_id", inv.ID),
		zap.String("customer_id", inv.Customer.ID),
	)
	return h.billing.RecordCardUsage(ctx, inv.Customer.ID, pm.Fingerprint)
}

func (h *WebhookHandler) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}

	h.logger.Warn("invoice payment failed",
		zap.String("invoice_id", inv.ID),
	)

	// Status transitions (past_due, unpaid) arrive on the matching
	// customer.subscription.updated event; nothing else to do here.
	return nil
}
