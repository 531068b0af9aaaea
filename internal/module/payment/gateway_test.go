package payment

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/clausewise/server/internal/shared/config"
)

func TestParseClientSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		wantID   string
		wantKind IntentKind
		wantErr  bool
	}{
		{
			name:     "payment intent secret",
			secret:   "pi_3MtwBwLkdIwHu7ix28a3tqPa_secret_YrKJUKribcBjcG8HVhfZluoGH",
			wantID:   "pi_3MtwBwLkdIwHu7ix28a3tqPa",
			wantKind: IntentKindPayment,
		},
		{
			name:     "setup intent secret",
			secret:   "seti_1Mm8s8LkdIwHu7ix0OXBfTRG_secret_NXDICkPqPeiBTAFqWmkbff09lRmSVXe",
			wantID:   "seti_1Mm8s8LkdIwHu7ix0OXBfTRG",
			wantKind: IntentKindSetup,
		},
		{
			name:    "no secret separator",
			secret:  "pi_3MtwBwLkdIwHu7ix28a3tqPa",
			wantErr: true,
		},
		{
			name:    "unknown prefix",
			secret:  "ch_1234_secret_abcd",
			wantErr: true,
		},
		{
			name:    "empty",
			secret:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, kind, err := ParseClientSecret(tt.secret)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidClientSecret)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestMapStripeError(t *testing.T) {
	t.Run("stripe error becomes processor error value", func(t *testing.T) {
		err := mapStripeError(&stripe.Error{
			Code: stripe.ErrorCodeCardDeclined,
			Msg:  "Your card was declined.",
		})

		var pe *ProcessorError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "card_declined", pe.Code)
		assert.Equal(t, "Your card was declined.", pe.Message)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		sentinel := errors.New("network down")
		assert.Equal(t, sentinel, mapStripeError(sentinel))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, mapStripeError(nil))
	})

	t.Run("wrapped stripe error still unwraps", func(t *testing.T) {
		wrapped := fmt.Errorf("create subscription: %w", &stripe.Error{
			Code: stripe.ErrorCodeExpiredCard,
			Msg:  "Your card has expired.",
		})
		var pe *ProcessorError
		require.ErrorAs(t, mapStripeError(wrapped), &pe)
		assert.Equal(t, "expired_card", pe.Code)
	})
}

func TestIntentRequiresAction(t *testing.T) {
	assert.True(t, (&Intent{Status: IntentStatusRequiresAction}).RequiresAction())
	assert.False(t, (&Intent{Status: IntentStatusSucceeded}).RequiresAction())

	var nilIntent *Intent
	assert.False(t, nilIntent.RequiresAction())
}

func TestBreakerIgnoresExpectedOutcomes(t *testing.T) {
	newGateway := func() *StripeGateway {
		return NewStripeGateway(&config.StripeConfig{}, nil, zap.NewNop())
	}

	t.Run("missing promotion codes do not trip the breaker", func(t *testing.T) {
		g := newGateway()

		for i := 0; i < 5; i++ {
			_, err := g.do("find_promotion_code", func() (any, error) {
				return nil, ErrPromotionCodeNotFound
			})
			// The caller still sees the lookup miss.
			assert.ErrorIs(t, err, ErrPromotionCodeNotFound)
		}

		out, err := g.do("create_subscription", func() (any, error) {
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	})

	t.Run("card declines do not trip the breaker", func(t *testing.T) {
		g := newGateway()
		decline := &ProcessorError{Code: "card_declined", Message: "Your card was declined."}

		for i := 0; i < 5; i++ {
			_, err := g.do("confirm_payment", func() (any, error) {
				return nil, decline
			})
			var pe *ProcessorError
			assert.ErrorAs(t, err, &pe)
		}

		_, err := g.do("get_subscription", func() (any, error) {
			return "ok", nil
		})
		assert.NoError(t, err)
	})

	t.Run("infrastructure failures open the breaker", func(t *testing.T) {
		g := newGateway()
		network := errors.New("connection reset")

		for i := 0; i < 5; i++ {
			_, err := g.do("get_subscription", func() (any, error) {
				return nil, network
			})
			assert.ErrorIs(t, err, network)
		}

		_, err := g.do("create_subscription", func() (any, error) {
			return "ok", nil
		})
		assert.ErrorIs(t, err, ErrGatewayUnavailable)
	})
}

func TestProcessorErrorMessage(t *testing.T) {
	assert.Equal(t, "card_declined: nope", (&ProcessorError{Code: "card_declined", Message: "nope"}).Error())
	assert.Equal(t, "nope", (&ProcessorError{Message: "nope"}).Error())
}
