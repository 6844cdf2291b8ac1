/**
 * @description
 * This file defines the core domain models for the badge-service ledger:
 * user subscriptions, payment transactions and XP redemptions. These structs
 * map directly to the database tables of the same names and are shared by
 * the store, app and api layers.
 *
 * @notes
 * - The subscriptions table is an append-only audit ledger. Records are
 *   never deleted; the only in-place mutation ever applied is the lazy
 *   trial/active -> expired flip performed on read.
 * - Amounts are `int64` in whole BDT taka to avoid floating point
 *   inaccuracies with financial data.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Subscription statuses. A subscription only ever moves trial|active -> expired;
// the transition is driven by wall-clock comparison against EndDate and is
// never reversed.
const (
	SubscriptionStatusTrial     = "trial"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusCancelled = "cancelled"
)

// How a subscription was obtained.
const (
	RedemptionMethodPayment = "payment"
	RedemptionMethodXP      = "xp_redemption"
)

// UserSubscription is one entitlement grant in the append-only ledger.
// For a given user the "current" subscription is the one with the most
// recent CreatedAt.
type UserSubscription struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	BadgeType        BadgeType  `json:"badge_type"`
	Status           string     `json:"status"`
	StartDate        time.Time  `json:"start_date"`
	EndDate          time.Time  `json:"end_date"`
	IsTrialUser      bool       `json:"is_trial_user"`
	RedemptionMethod string     `json:"redemption_method"`
	PaymentMethod    *string    `json:"payment_method,omitempty"`
	TransactionID    *uuid.UUID `json:"transaction_id,omitempty"`
	XPSpent          *int64     `json:"xp_spent,omitempty"`
	AutoRenew        bool       `json:"auto_renew"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsExpiredAt reports whether the subscription should be considered expired
// at the given instant. Only trial and active records can expire.
func (s *UserSubscription) IsExpiredAt(now time.Time) bool {
	if s.Status != SubscriptionStatusTrial && s.Status != SubscriptionStatusActive {
		return false
	}
	return now.After(s.EndDate)
}
