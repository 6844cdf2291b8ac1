/**
 * @description
 * This file defines the payment transaction ledger record and its state
 * machine vocabulary. A transaction records the intent to pay for a badge
 * through a gateway; no money moves inside this service.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction statuses. A transaction moves from pending to exactly one
// terminal state, exactly once. `completed` must correspond to exactly one
// UserSubscription.
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
	TransactionStatusCancelled = "cancelled"
	TransactionStatusRefunded  = "refunded"
)

// Supported gateway keys. These are the canonical names used in transaction
// records, webhook routes and the adapter registry.
const (
	GatewayBkash  = "bkash"
	GatewayNagad  = "nagad"
	GatewayUpay   = "upay"
	GatewayRocket = "rocket"
	GatewayCard   = "card"
)

// PaymentTransaction is the central ledger record for a badge purchase.
// This struct maps directly to the `payment_transactions` table.
type PaymentTransaction struct {
	ID                   uuid.UUID      `json:"id"`
	UserID               uuid.UUID      `json:"user_id"`
	SubscriptionID       *uuid.UUID     `json:"subscription_id,omitempty"` // null until confirmed
	Amount               int64          `json:"amount"`                    // in BDT taka
	Currency             string         `json:"currency"`
	Gateway              string         `json:"gateway"`
	GatewayTransactionID *string        `json:"gateway_transaction_id,omitempty"`
	Status               string         `json:"status"`
	PayerReference       string         `json:"payer_reference"` // mobile number or card descriptor
	BadgeType            BadgeType      `json:"badge_type"`
	FailureReason        *string        `json:"failure_reason,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// XPRedemption records a successful conversion of XP into a subscription.
// One record per redemption, immutable after creation. The arithmetic
// invariant XPBalanceAfter = XPBalanceBefore - XPSpent >= 0 is enforced at
// creation time.
type XPRedemption struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	SubscriptionID  uuid.UUID `json:"subscription_id"`
	BadgeType       BadgeType `json:"badge_type"`
	XPSpent         int64     `json:"xp_spent"`
	XPBalanceBefore int64     `json:"xp_balance_before"`
	XPBalanceAfter  int64     `json:"xp_balance_after"`
	CreatedAt       time.Time `json:"created_at"`
}
