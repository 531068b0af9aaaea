package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeWebhookGateway struct {
	event       stripe.Event
	sigErr      error
	intents     map[string]*Intent
	methods     map[string]*PaymentMethodDetails
	intentCalls []string
	methodCalls []string
}

func (f *fakeWebhookGateway) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	if f.sigErr != nil {
		return stripe.Event{}, f.sigErr
	}
	return f.event, nil
}

func (f *fakeWebhookGateway) GetPaymentIntent(ctx context.Context, intentID string) (*Intent, error) {
	f.intentCalls = append(f.intentCalls, intentID)
	intent, ok := f.intents[intentID]
	if !ok {
		return nil, errors.New("intent lookup failed")
	}
	return intent, nil
}

func (f *fakeWebhookGateway) GetPaymentMethod(ctx context.Context, paymentMethodID string) (*PaymentMethodDetails, error) {
	f.methodCalls = append(f.methodCalls, paymentMethodID)
	pm, ok := f.methods[paymentMethodID]
	if !ok {
		return nil, errors.New("payment method lookup failed")
	}
	return pm, nil
}

type cardUsage struct {
	customerID  string
	fingerprint string
}

type fakeBillingSync struct {
	synced  []*Subscription
	deleted []string
	cards   []cardUsage
}

func (f *fakeBillingSync) SyncSubscription(ctx context.Context, sub *Subscription) error {
	f.synced = append(f.synced, sub)
	return nil
}

func (f *fakeBillingSync) HandleSubscriptionDeleted(ctx context.Context, subscriptionID string) error {
	f.deleted = append(f.deleted, subscriptionID)
	return nil
}

func (f *fakeBillingSync) RecordCardUsage(ctx context.Context, customerID, fingerprint string) error {
	f.cards = append(f.cards, cardUsage{customerID: customerID, fingerprint: fingerprint})
	return nil
}

type markedEvent struct {
	id  string
	err error
}

type fakeEventStore struct {
	seen     map[string]bool
	recorded []*WebhookEvent
	marked   []markedEvent
}

func (f *fakeEventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	return f.seen[eventID], nil
}

func (f *fakeEventStore) Record(ctx context.Context, event *WebhookEvent) error {
	f.recorded = append(f.recorded, event)
	return nil
}

func (f *fakeEventStore) MarkProcessed(ctx context.Context, eventID string, processErr error) error {
	f.marked = append(f.marked, markedEvent{id: eventID, err: processErr})
	return nil
}

func stripeEvent(t *testing.T, id, eventType string, object any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func postWebhook(h *WebhookHandler) *httptest.ResponseRecorder {
	r := gin.New()
	h.RegisterRoutes(r.Group("/webhooks"))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader("{}"))
	req.Header.Set("Stripe-Signature", "t=1,v1=ignored")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookInvoicePaidRecordsCardFingerprint(t *testing.T) {
	gw := &fakeWebhookGateway{
		event: stripeEvent(t, "evt_1", "invoice.paid", map[string]any{
			"id":             "in_1",
			"amount_paid":    2900,
			"customer":       map[string]any{"id": "cus_1"},
			"payment_intent": map[string]any{"id": "pi_1"},
		}),
		intents: map[string]*Intent{"pi_1": {ID: "pi_1", PaymentMethodID: "pm_1"}},
		methods: map[string]*PaymentMethodDetails{"pm_1": {ID: "pm_1", Fingerprint: "fp_visa_4242"}},
	}
	billing := &fakeBillingSync{}
	events := &fakeEventStore{seen: map[string]bool{}}
	h := NewWebhookHandler(gw, billing, events, nil, zap.NewNop())

	w := postWebhook(h)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, billing.cards, 1)
	assert.Equal(t, "cus_1", billing.cards[0].customerID)
	assert.Equal(t, "fp_visa_4242", billing.cards[0].fingerprint)

	require.Len(t, events.recorded, 1)
	assert.Equal(t, "evt_1", events.recorded[0].ID)
	assert.Equal(t, "invoice.paid", events.recorded[0].Type)

	require.Len(t, events.marked, 1)
	assert.Equal(t, "evt_1", events.marked[0].id)
	assert.NoError(t, events.marked[0].err)
}

func TestWebhookInvoicePaidSkipsZeroAmount(t *testing.T) {
	gw := &fakeWebhookGateway{
		event: stripeEvent(t, "evt_2", "invoice.paid", map[string]any{
			"id":             "in_2",
			"amount_paid":    0,
			"customer":       map[string]any{"id": "cus_1"},
			"payment_intent": map[string]any{"id": "pi_1"},
		}),
	}
	billing := &fakeBillingSync{}
	events := &fakeEventStore{seen: map[string]bool{}}
	h := NewWebhookHandler(gw, billing, events, nil, zap.NewNop())

	w := postWebhook(h)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, gw.intentCalls)
	assert.Empty(t, billing.cards)
}

func TestWebhookInvoicePaidSkipsMissingFingerprint(t *testing.T) {
	gw := &fakeWebhookGateway{
		event: stripeEvent(t, "evt_3", "invoice.paid", map[string]any{
			"id":             "in_3",
			"amount_paid":    2900,
			"customer":       map[string]any{"id": "cus_1"},
			"payment_intent": map[string]any{"id": "pi_1"},
		}),
		intents: map[string]*Intent{"pi_1": {ID: "pi_1", PaymentMethodID: "pm_1"}},
		methods: map[string]*PaymentMethodDetails{"pm_1": {ID: "pm_1"}},
	}
	billing := &fakeBillingSync{}
	events := &fakeEventStore{seen: map[string]bool{}}
	h := NewWebhookHandler(gw, billing, events, nil, zap.NewNop())

	w := postWebhook(h)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"pm_1"}, gw.methodCalls)
	assert.Empty(t, billing.cards)
}

func TestWebhookInvoicePaidSkipsIntentWithoutMethod(t *testing.T) {
	gw := &fakeWebhookGateway{
		event: stripeEvent(t, "evt_4", "invoice.paid", map[string]any{
			"id":             "in_4",
			"amount_paid":    2900,
			"customer":       map[string]any{"id": "cus_1"},
			"payment_intent": map[string]any{"id": "pi_1"},
		}),
		intents: map[string]*Intent{"pi_1": {ID: "pi_1"}},
	}
	billing := &fakeBillingSync{}
	events := &fakeEventStore{seen: map[string]bool{}}
	h := NewWebhookHandler(gw, billing, events, nil, zap.NewNop())

	w := postWebhook(h)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, gw.methodCalls)
	assert.Empty(t, billing.cards)
}

func TestWebhookRedeliveredEventSkipped(t *testing.T) {
	gw := &fakeWebhookGateway{
		event: stripeEvent(t, "evt_replay", "invoice.paid", map[string]any{
			"id":             "in_1",
			"amount_paid":    2900,
			"customer":       map[string]any{"id": "cus_1"},
			"payment_intent": map[string]any{"id": "pi_1"},
		}),
		intents: map[string]*Intent{"pi_1": {ID: "pi_1", PaymentMethodID: "pm_1"}},
		methods: map[string]*PaymentMethodDetails{"pm_1": {ID: "pm_1", Fingerprint: "fp_visa_4242"}},
	}
	billing := &fakeBillingSync{}
	events := &fakeEventStore{seen: map[string]bool{"evt_replay": true}}
	h := NewWebhookHandler(gw, billing, events, nil, zap.NewNop())

	w := postWebhook(h)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "already_processed")
	assert.Empty(t, billing.cards)
	assert.Empty(t, events.recorded)
	assert.Empty(t, events.marked)
}

func TestWebhookSubscriptionUpdatedSyncs(t *testing.T) {
	gw := &fakeWebhookGateway{
		event: stripeEvent(t, "evt_5", "customer.subscription.updated", map[string]any{
			"id":       "sub_1",
			"status":   "active",
			"customer": map[string]any{"id": "cus_1"},
		}),
	}
	billing := &fakeBillingSync{}
	events := &fakeEventStore{seen: map[string]bool{}}
	h := NewWebhookHandler(gw, billing, events, nil, zap.NewNop())

	w := postWebhook(h)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, billing.synced, 1)
	assert.Equal(t, "sub_1", billing.synced[0].ID)
	assert.Equal(t, "active", billing.synced[0].Status)
	assert.Equal(t, "cus_1", billing.synced[0].CustomerID)
}

func TestWebhookInvalidSignatureRejected(t *testing.T) {
	gw := &fakeWebhookGateway{sigErr: ErrWebhookSignatureFailed}
	events := &fakeEventStore{seen: map[string]bool{}}
	h := NewWebhookHandler(gw, &fakeBillingSync{}, events, nil, zap.NewNop())

	w := postWebhook(h)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, events.recorded)
}

func TestWebhookProcessingFailureMarkedAndReported(t *testing.T) {
	gw := &fakeWebhookGateway{
		event: stripeEvent(t, "evt_6", "invoice.paid", map[string]any{
			"id":             "in_6",
			"amount_paid":    2900,
			"customer":       map[string]any{"id": "cus_1"},
			"payment_intent": map[string]any{"id": "pi_missing"},
		}),
	}
	events := &fakeEventStore{seen: map[string]bool{}}
	h := NewWebhookHandler(gw, &fakeBillingSync{}, events, nil, zap.NewNop())

	w := postWebhook(h)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Len(t, events.marked, 1)
	assert.Error(t, events.marked[0].err)
}
