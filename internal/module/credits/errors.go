package credits

import "errors"

var (
	// ErrNoEntitledSubscription is returned when the user has no
	// trialing, active or past_due subscription to draw credits from.
	ErrNoEntitledSubscription = errors.New("no entitled subscription")

	// ErrCreditsExhausted is returned when a consume request exceeds the
	// remaining balance for the period.
	ErrCreditsExhausted = errors.New("credits exhausted for current period")
)
