package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/clausewise/server/internal/module/plan"
)

// Status is a subscription status, mirroring the processor's values.
type Status string

const (
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusPaused            Status = "paused"
)

// Entitled reports whether the status grants access to paid features.
// past_due keeps access; remediation happens in account settings.
func (s Status) Entitled() bool {
	return s == StatusTrialing || s == StatusActive || s == StatusPastDue
}

// Profile is a user's billing profile: the processor customer mapping plus
// trial consumption. trial_used_at is set the first time a trialing
// subscription is observed for the user and never cleared.
type Profile struct {
	UserID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	StripeCustomerID string     `gorm:"not null;uniqueIndex"`
	TrialUsedAt      *time.Time `gorm:""`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName returns the database table name.
func (Profile) TableName() string {
	return "billing_profiles"
}

// TrialEligible reports whether the profile may still start a free trial.
func (p *Profile) TrialEligible() bool {
	return p.TrialUsedAt == nil
}

// Subscription is the local mirror of a processor subscription. At most
// one per user. Status is owned by webhook sync; checkout only persists
// what the processor returned.
type Subscription struct {
	ID                     uuid.UUID     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID                 uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex"`
	PlanID                 uuid.UUID     `gorm:"type:uuid;not null"`
	Interval               plan.Interval `gorm:"not null;default:month"`
	Status                 Status        `gorm:"not null"`
	StripeSubscriptionID   string        `gorm:"not null;uniqueIndex"`
	StripeCustomerID       string        `gorm:"not null;index"`
	CancelAtPeriodEnd      bool          `gorm:"not null;default:false"`
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	TrialEnd               *time.Time
	DefaultPaymentMethodID string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// TableName returns the database table name.
func (Subscription) TableName() string {
	return "subscriptions"
}

// CardFingerprint records a card fingerprint that completed a paid
// transaction. The ledger backs the used-before check gating free trials:
// the same physical card cannot earn a trial twice, regardless of account.
type CardFingerprint struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Fingerprint      string    `gorm:"not null;uniqueIndex:idx_fingerprint_customer"`
	StripeCustomerID string    `gorm:"not null;uniqueIndex:idx_fingerprint_customer"`
	CreatedAt        time.Time
}

// TableName returns the database table name.
func (CardFingerprint) TableName() string {
	return "card_fingerprints"
}
