/**
 * @description
 * This file defines the `Repository` interface: the contract for all data
 * access the badge-service needs over its four ledger tables
 * (subscriptions, payment_transactions, xp_redemptions, trial_registry).
 * Defining an interface decouples the business logic from PostgreSQL and
 * lets tests substitute hand-rolled stubs.
 *
 * @notes
 * - Multi-record writes (trial grant, redemption, payment confirmation)
 *   are single atomic units in every implementation: either all records
 *   land or none do.
 * - State-machine mutations are conditional on the record's current
 *   status, so a replayed or concurrent call can never apply a
 *   once-only transition twice.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/iamshibly/AniMaze-sub001/internal/domain"
)

var (
	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrTransactionNotPending = errors.New("transaction is not pending")
	ErrTrialAlreadyGranted   = errors.New("trial already granted")
)

// Repository defines the set of methods for interacting with the ledger.
type Repository interface {
	// Trial registry + subscription, one atomic unit. Returns
	// ErrTrialAlreadyGranted when the user's registry entry exists;
	// exactly one concurrent caller can win.
	CreateTrialSubscription(ctx context.Context, sub *domain.UserSubscription) error

	// XP redemption: subscription + redemption record, one atomic unit.
	CreateRedemption(ctx context.Context, sub *domain.UserSubscription, redemption *domain.XPRedemption) error

	// Payment transaction lifecycle.
	CreateTransaction(ctx context.Context, tx *domain.PaymentTransaction) error
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.PaymentTransaction, error)
	// CompleteTransaction atomically inserts the subscription and flips the
	// transaction pending -> completed. Returns ErrTransactionNotPending if
	// the transaction has already reached a terminal state (webhook replay)
	// and ErrTransactionNotFound if it does not exist.
	CompleteTransaction(ctx context.Context, transactionID uuid.UUID, gatewayTransactionID string, sub *domain.UserSubscription) (*domain.PaymentTransaction, error)
	// MarkTransactionFailed flips pending -> failed with the provider's
	// reason. Failing a non-pending transaction is a no-op conflict.
	MarkTransactionFailed(ctx context.Context, transactionID uuid.UUID, gatewayTransactionID, reason string) error
	// CancelTransaction flips pending -> cancelled for the owning user.
	CancelTransaction(ctx context.Context, transactionID, userID uuid.UUID) error

	// Current-subscription resolution and lazy expiry.
	FindCurrentSubscription(ctx context.Context, userID uuid.UUID) (*domain.UserSubscription, error)
	// ExpireSubscription conditionally flips trial|active -> expired when the
	// end date has passed. Returns true only for the caller that performed
	// the flip.
	ExpireSubscription(ctx context.Context, subscriptionID uuid.UUID) (bool, error)

	// History queries.
	FindTransactionsByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]domain.PaymentTransaction, error)
	FindRedemptionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.XPRedemption, error)

	// Aggregate statistics over the whole ledger.
	ComputeStats(ctx context.Context) (*domain.SubscriptionStats, error)
}
