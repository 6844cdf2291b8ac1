/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL for the four ledger tables and is the
 * single place where the service's atomicity and state-machine guarantees
 * are enforced at the database level.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - Every multi-record write runs inside one pgx transaction.
 * - Once-only transitions are conditional UPDATEs / ON CONFLICT inserts so
 *   the database is the final arbiter even if two service instances race.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/iamshibly/AniMaze-sub001/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const subscriptionColumns = `
	id, user_id, badge_type, status, start_date, end_date, is_trial_user,
	redemption_method, payment_method, transaction_id, xp_spent, auto_renew,
	created_at, updated_at
`

const transactionColumns = `
	id, user_id, subscription_id, amount, currency, gateway, gateway_transaction_id,
	status, payer_reference, badge_type, failure_reason, metadata, created_at, updated_at
`

func scanSubscription(row pgx.Row) (*domain.UserSubscription, error) {
	var sub domain.UserSubscription
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.BadgeType, &sub.Status, &sub.StartDate, &sub.EndDate,
		&sub.IsTrialUser, &sub.RedemptionMethod, &sub.PaymentMethod, &sub.TransactionID,
		&sub.XPSpent, &sub.AutoRenew, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func scanTransaction(row pgx.Row) (*domain.PaymentTransaction, error) {
	var tx domain.PaymentTransaction
	var metadata []byte
	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.SubscriptionID, &tx.Amount, &tx.Currency, &tx.Gateway,
		&tx.GatewayTransactionID, &tx.Status, &tx.PayerReference, &tx.BadgeType,
		&tx.FailureReason, &metadata, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode transaction metadata: %w", err)
		}
	}
	return &tx, nil
}

func insertSubscription(ctx context.Context, tx pgx.Tx, sub *domain.UserSubscription) error {
	query := `
		INSERT INTO subscriptions (
			id, user_id, badge_type, status, start_date, end_date, is_trial_user,
			redemption_method, payment_method, transaction_id, xp_spent, auto_renew,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return tx.QueryRow(ctx, query,
		sub.ID, sub.UserID, sub.BadgeType, sub.Status, sub.StartDate, sub.EndDate,
		sub.IsTrialUser, sub.RedemptionMethod, sub.PaymentMethod, sub.TransactionID,
		sub.XPSpent, sub.AutoRenew,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
}

// CreateTrialSubscription claims the user's one-time trial and writes the
// trial subscription in a single database transaction. The trial_registry
// primary key is the once-only guard: the insert that loses the race sees
// zero affected rows and the whole unit rolls back.
func (r *PostgresRepository) CreateTrialSubscription(ctx context.Context, sub *domain.UserSubscription) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin trial transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO trial_registry (user_id, created_at) VALUES ($1, NOW()) ON CONFLICT (user_id) DO NOTHING`,
		sub.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to claim trial registry entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTrialAlreadyGranted
	}

	if err := insertSubscription(ctx, tx, sub); err != nil {
		return fmt.Errorf("failed to insert trial subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit trial grant: %w", err)
	}
	return nil
}

// CreateRedemption writes the redeemed subscription and its XP redemption
// record as one atomic unit.
func (r *PostgresRepository) CreateRedemption(ctx context.Context, sub *domain.UserSubscription, redemption *domain.XPRedemption) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin redemption transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertSubscription(ctx, tx, sub); err != nil {
		return fmt.Errorf("failed to insert redeemed subscription: %w", err)
	}

	query := `
		INSERT INTO xp_redemptions (
			id, user_id, subscription_id, badge_type, xp_spent,
			xp_balance_before, xp_balance_after, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, query,
		redemption.ID, redemption.UserID, redemption.SubscriptionID, redemption.BadgeType,
		redemption.XPSpent, redemption.XPBalanceBefore, redemption.XPBalanceAfter,
	).Scan(&redemption.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert xp redemption: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit redemption: %w", err)
	}
	return nil
}

// CreateTransaction records the intent to pay. The transaction starts out
// pending with no subscription attached.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, txRecord *domain.PaymentTransaction) error {
	metadata, err := json.Marshal(txRecord.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode transaction metadata: %w", err)
	}

	query := `
		INSERT INTO payment_transactions (
			id, user_id, subscription_id, amount, currency, gateway, gateway_transaction_id,
			status, payer_reference, badge_type, failure_reason, metadata, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		txRecord.ID, txRecord.UserID, txRecord.SubscriptionID, txRecord.Amount, txRecord.Currency,
		txRecord.Gateway, txRecord.GatewayTransactionID, txRecord.Status, txRecord.PayerReference,
		txRecord.BadgeType, txRecord.FailureReason, metadata,
	).Scan(&txRecord.CreatedAt, &txRecord.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment transaction: %w", err)
	}
	return nil
}

// FindTransactionByID retrieves a payment transaction by its id.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE id = $1`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// CompleteTransaction inserts the subscription created by the confirmed
// payment and flips the transaction pending -> completed in one database
// transaction. The UPDATE is conditional on status = 'pending', which makes
// webhook replays safe: the second delivery affects zero rows and the
// subscription insert rolls back with it.
func (r *PostgresRepository) CompleteTransaction(ctx context.Context, transactionID uuid.UUID, gatewayTransactionID string, sub *domain.UserSubscription) (*domain.PaymentTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin confirmation transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertSubscription(ctx, tx, sub); err != nil {
		return nil, fmt.Errorf("failed to insert paid subscription: %w", err)
	}

	query := `
		UPDATE payment_transactions
		SET status = $2, subscription_id = $3, gateway_transaction_id = NULLIF($4, ''), updated_at = NOW()
		WHERE id = $1 AND status = $5
		RETURNING ` + transactionColumns
	updated, err := scanTransaction(tx.QueryRow(ctx, query,
		transactionID, domain.TransactionStatusCompleted, sub.ID, gatewayTransactionID,
		domain.TransactionStatusPending,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMissedUpdate(ctx, transactionID)
		}
		return nil, fmt.Errorf("failed to complete payment transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit payment confirmation: %w", err)
	}
	return updated, nil
}

// classifyMissedUpdate distinguishes "no such transaction" from "already in
// a terminal state" after a conditional update matched zero rows.
func (r *PostgresRepository) classifyMissedUpdate(ctx context.Context, transactionID uuid.UUID) error {
	var status string
	err := r.db.QueryRow(ctx, `SELECT status FROM payment_transactions WHERE id = $1`, transactionID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		return err
	}
	return fmt.Errorf("%w: status is %q", ErrTransactionNotPending, status)
}

// MarkTransactionFailed flips a pending transaction to failed with the
// provider's reason. Terminal states are never overwritten.
func (r *PostgresRepository) MarkTransactionFailed(ctx context.Context, transactionID uuid.UUID, gatewayTransactionID, reason string) error {
	query := `
		UPDATE payment_transactions
		SET status = $2, gateway_transaction_id = COALESCE(NULLIF($3, ''), gateway_transaction_id),
		    failure_reason = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`
	tag, err := r.db.Exec(ctx, query,
		transactionID, domain.TransactionStatusFailed, gatewayTransactionID, reason,
		domain.TransactionStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark transaction failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMissedUpdate(ctx, transactionID)
	}
	return nil
}

// CancelTransaction flips a pending transaction to cancelled on behalf of
// its owner.
func (r *PostgresRepository) CancelTransaction(ctx context.Context, transactionID, userID uuid.UUID) error {
	query := `
		UPDATE payment_transactions
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = $4
	`
	tag, err := r.db.Exec(ctx, query, transactionID, userID, domain.TransactionStatusCancelled, domain.TransactionStatusPending)
	if err != nil {
		return fmt.Errorf("failed to cancel transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMissedUpdate(ctx, transactionID)
	}
	return nil
}

// FindCurrentSubscription returns the user's most recently created
// subscription, which the ledger treats as the sole current one.
func (r *PostgresRepository) FindCurrentSubscription(ctx context.Context, userID uuid.UUID) (*domain.UserSubscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// ExpireSubscription conditionally flips trial|active -> expired once the
// end date has passed. Concurrent readers race here; only the caller whose
// update matched a row observes true and owns the expiry event.
func (r *PostgresRepository) ExpireSubscription(ctx context.Context, subscriptionID uuid.UUID) (bool, error) {
	query := `
		UPDATE subscriptions
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4) AND end_date < NOW()
	`
	tag, err := r.db.Exec(ctx, query, subscriptionID, domain.SubscriptionStatusExpired,
		domain.SubscriptionStatusTrial, domain.SubscriptionStatusActive)
	if err != nil {
		return false, fmt.Errorf("failed to expire subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindTransactionsByUserID returns the user's payment transactions, newest
// first, capped to limit.
func (r *PostgresRepository) FindTransactionsByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]domain.PaymentTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.PaymentTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

// FindRedemptionsByUserID returns the user's XP redemption records, newest first.
func (r *PostgresRepository) FindRedemptionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.XPRedemption, error) {
	query := `
		SELECT id, user_id, subscription_id, badge_type, xp_spent,
		       xp_balance_before, xp_balance_after, created_at
		FROM xp_redemptions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var redemptions []domain.XPRedemption
	for rows.Next() {
		var red domain.XPRedemption
		err := rows.Scan(&red.ID, &red.UserID, &red.SubscriptionID, &red.BadgeType,
			&red.XPSpent, &red.XPBalanceBefore, &red.XPBalanceAfter, &red.CreatedAt)
		if err != nil {
			return nil, err
		}
		redemptions = append(redemptions, red)
	}
	return redemptions, rows.Err()
}

// ComputeStats derives the aggregate revenue and usage statistics from the
// ledger tables. Revenue only ever counts completed transactions, so the
// grouped sums always add up to the total.
func (r *PostgresRepository) ComputeStats(ctx context.Context) (*domain.SubscriptionStats, error) {
	stats := &domain.SubscriptionStats{
		RevenueByGateway:     make(map[string]int64),
		SubscriptionsByBadge: make(map[domain.BadgeType]int64),
	}

	countsQuery := `
		SELECT
			(SELECT COUNT(*) FROM subscriptions),
			(SELECT COUNT(*) FROM subscriptions WHERE status = $1),
			(SELECT COALESCE(SUM(amount), 0) FROM payment_transactions WHERE status = $2),
			(SELECT COUNT(*) FROM xp_redemptions)
	`
	err := r.db.QueryRow(ctx, countsQuery, domain.SubscriptionStatusActive, domain.TransactionStatusCompleted).Scan(
		&stats.TotalSubscriptions, &stats.ActiveSubscriptions, &stats.TotalRevenue, &stats.XPRedemptions,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute ledger counts: %w", err)
	}

	gatewayRows, err := r.db.Query(ctx,
		`SELECT gateway, SUM(amount) FROM payment_transactions WHERE status = $1 GROUP BY gateway`,
		domain.TransactionStatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute revenue by gateway: %w", err)
	}
	defer gatewayRows.Close()
	for gatewayRows.Next() {
		var gateway string
		var revenue int64
		if err := gatewayRows.Scan(&gateway, &revenue); err != nil {
			return nil, err
		}
		stats.RevenueByGateway[gateway] = revenue
	}
	if err := gatewayRows.Err(); err != nil {
		return nil, err
	}

	badgeRows, err := r.db.Query(ctx,
		`SELECT badge_type, COUNT(*) FROM subscriptions WHERE status = $1 GROUP BY badge_type`,
		domain.SubscriptionStatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute subscriptions by badge: %w", err)
	}
	defer badgeRows.Close()
	for badgeRows.Next() {
		var badge domain.BadgeType
		var count int64
		if err := badgeRows.Scan(&badge, &count); err != nil {
			return nil, err
		}
		stats.SubscriptionsByBadge[badge] = count
	}
	if err := badgeRows.Err(); err != nil {
		return nil, err
	}

	var trialUsers, convertedUsers int64
	conversionQuery := `
		SELECT
			(SELECT COUNT(*) FROM trial_registry),
			(SELECT COUNT(DISTINCT t.user_id)
			 FROM payment_transactions t
			 JOIN trial_registry r ON r.user_id = t.user_id
			 WHERE t.status = $1 AND t.created_at >= r.created_at)
	`
	if err := r.db.QueryRow(ctx, conversionQuery, domain.TransactionStatusCompleted).Scan(&trialUsers, &convertedUsers); err != nil {
		return nil, fmt.Errorf("failed to compute trial conversions: %w", err)
	}
	if trialUsers > 0 {
		stats.TrialConversions = int64(math.Round(float64(convertedUsers) / float64(trialUsers) * 100))
	}

	var paidUsers int64
	err = r.db.QueryRow(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM payment_transactions WHERE status = $1`,
		domain.TransactionStatusCompleted,
	).Scan(&paidUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to compute paid users: %w", err)
	}
	if paidUsers > 0 {
		stats.AverageRevenuePerUser = int64(math.Round(float64(stats.TotalRevenue) / float64(paidUsers)))
	}

	return stats, nil
}
