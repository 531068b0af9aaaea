package checkout

import (
	"github.com/google/uuid"

	"github.com/clausewise/server/internal/module/billing"
	"github.com/clausewise/server/internal/module/plan"
)

// Outcome is the terminal state of a checkout attempt. Every attempt ends
// in exactly one outcome; the workflow never throws past this boundary.
type Outcome string

const (
	// OutcomeSucceeded means the subscription is trialing, active or
	// past_due. past_due counts as a successful checkout here; payment
	// remediation happens in account settings, not inline.
	OutcomeSucceeded Outcome = "succeeded"

	// OutcomeTrialForfeitConfirmationRequired means the chosen card has
	// completed a paid transaction before, so starting it again forfeits
	// the trial. The attempt aborted with zero mutations; the caller must
	// resubmit with forfeit_trial set to proceed.
	OutcomeTrialForfeitConfirmationRequired Outcome = "trial_forfeit_confirmation_required"

	// OutcomeDeclined means the processor rejected the payment and no
	// automatic retry is attempted.
	OutcomeDeclined Outcome = "declined"

	// OutcomeConfirmationFailed means the 3-D Secure confirmation step
	// did not succeed.
	OutcomeConfirmationFailed Outcome = "confirmation_failed"

	// OutcomeFailed covers unknown conditions, mapped to a generic
	// contact-support message.
	OutcomeFailed Outcome = "failed"
)

// Attempt is one checkout attempt.
type Attempt struct {
	UserID           uuid.UUID
	PlanID           uuid.UUID
	Interval         plan.Interval
	PaymentMethodID  string
	NewPaymentMethod bool
	SetAsDefault     bool
	PromotionCode    string
	ForfeitTrial     bool
}

// Result is the structured outcome of a checkout attempt.
type Result struct {
	Outcome      Outcome
	Code         string
	Message      string
	Subscription *billing.Subscription
}

// Succeeded reports whether the attempt ended in success.
func (r *Result) Succeeded() bool {
	return r.Outcome == OutcomeSucceeded
}
