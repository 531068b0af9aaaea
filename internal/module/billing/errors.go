package billing

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrProfileNotFound      = errors.New("billing profile not found")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrAlreadyCanceling     = errors.New("subscription already set to cancel")
	ErrNotCanceling         = errors.New("subscription is not set to cancel")
)
