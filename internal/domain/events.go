/**
 * @description
 * This file defines the event payloads the badge-service publishes to the
 * message broker. Notification delivery itself lives in a separate service;
 * only the event contract is owned here.
 *
 * Routing keys on the `animaze.events` topic exchange:
 *   - badge.trial.started
 *   - badge.subscription.activated
 *   - badge.subscription.expired
 *   - badge.payment.received
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventExchange = "animaze.events"

	RoutingKeyTrialStarted          = "badge.trial.started"
	RoutingKeySubscriptionActivated = "badge.subscription.activated"
	RoutingKeySubscriptionExpired   = "badge.subscription.expired"
	RoutingKeyPaymentReceived       = "badge.payment.received"
)

// TrialStartedEvent is published when a user consumes their one-time trial.
type TrialStartedEvent struct {
	UserID         uuid.UUID `json:"user_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	EndsAt         time.Time `json:"ends_at"`
	Timestamp      time.Time `json:"timestamp"`
}

// SubscriptionActivatedEvent is published when a paid or XP-redeemed
// subscription becomes active.
type SubscriptionActivatedEvent struct {
	UserID           uuid.UUID `json:"user_id"`
	SubscriptionID   uuid.UUID `json:"subscription_id"`
	BadgeType        BadgeType `json:"badge_type"`
	RedemptionMethod string    `json:"redemption_method"`
	EndsAt           time.Time `json:"ends_at"`
	Timestamp        time.Time `json:"timestamp"`
}

// SubscriptionExpiredEvent is published when the lazy expiry check flips a
// stale subscription to expired.
type SubscriptionExpiredEvent struct {
	UserID         uuid.UUID `json:"user_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	BadgeType      BadgeType `json:"badge_type"`
	Timestamp      time.Time `json:"timestamp"`
}

// PaymentReceivedEvent is published when a gateway confirms a payment.
type PaymentReceivedEvent struct {
	UserID        uuid.UUID `json:"user_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Gateway       string    `json:"gateway"`
	Amount        int64     `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
}
