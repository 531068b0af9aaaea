package payment

import "errors"

var (
	ErrInvalidClientSecret    = errors.New("invalid intent client secret")
	ErrPromotionCodeNotFound  = errors.New("promotion code not found")
	ErrGatewayUnavailable     = errors.New("payment gateway unavailable")
	ErrInvalidWebhookPayload  = errors.New("invalid webhook payload")
	ErrWebhookSignatureFailed = errors.New("webhook signature verification failed")
)
