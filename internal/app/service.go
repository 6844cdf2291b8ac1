/**
 * @description
 * This file contains the core business logic for the badge-service. The
 * `Service` struct owns the entitlement and payment ledger: it grants the
 * one-time trial, converts XP into subscriptions, drives the pending ->
 * completed payment state machine, resolves the user's current badge with
 * lazy expiry, and computes ledger-wide statistics.
 *
 * Key features:
 * - Every mutating operation is serialized per user through the locker and
 *   backed by conditional writes in the repository, so a concurrent or
 *   replayed call can never apply a once-only transition twice.
 * - Webhook confirmation is idempotent: a replayed delivery surfaces
 *   store.ErrTransactionNotPending, which callers treat as "already done".
 * - Publishes entitlement events to RabbitMQ for asynchronous processing
 *   by the notification service; publish failures never fail the
 *   business operation.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store, internal/gateway: For domain models,
 *   data access and gateway adapters.
 * - pkg/rabbitmq, pkg/xpledger: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/iamshibly/AniMaze-sub001/internal/domain"
	"github.com/iamshibly/AniMaze-sub001/internal/gateway"
	"github.com/iamshibly/AniMaze-sub001/internal/store"
	"github.com/iamshibly/AniMaze-sub001/pkg/rabbitmq"
	"github.com/iamshibly/AniMaze-sub001/pkg/xpledger"
)

var (
	// ErrBadgeNotRedeemable is returned when a badge has no XP threshold.
	ErrBadgeNotRedeemable = errors.New("badge cannot be redeemed with XP")
	// ErrBadgeNotPurchasable is returned when a badge has no price (free, trial).
	ErrBadgeNotPurchasable = errors.New("badge cannot be purchased")
)

// InsufficientXPError reports a redemption attempt below the badge's
// threshold, carrying the required and available amounts for the caller.
type InsufficientXPError struct {
	Required  int64
	Available int64
}

func (e *InsufficientXPError) Error() string {
	return fmt.Sprintf("insufficient XP: required %d, available %d", e.Required, e.Available)
}

// XPLedger is the slice of the external XP ledger the redemption engine
// needs. A nil ledger means the service trusts the caller-supplied balance
// (test and single-tenant deployments).
type XPLedger interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	Debit(ctx context.Context, userID string, amount int64, reason, idempotencyKey string) (balanceBefore, balanceAfter int64, err error)
	Credit(ctx context.Context, userID string, amount int64, reason, idempotencyKey string) error
}

// Service provides the core business logic for badge entitlements.
type Service struct {
	repo     store.Repository
	gateways *gateway.Registry
	producer rabbitmq.Publisher
	locker   *RedisUserLocker
	xpLedger XPLedger
	now      func() time.Time
}

// NewService creates a new badge service instance.
func NewService(repo store.Repository, gateways *gateway.Registry, producer rabbitmq.Publisher, locker *RedisUserLocker, ledger XPLedger) *Service {
	return &Service{
		repo:     repo,
		gateways: gateways,
		producer: producer,
		locker:   locker,
		xpLedger: ledger,
		now:      time.Now,
	}
}

// publish sends an event best-effort. The ledger write has already
// committed by the time an event goes out, so a broker failure is logged
// and swallowed.
func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, domain.EventExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=badge_service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// CheckAndActivateTrial grants the user's one-time trial. It returns true
// only for the call that consumed the trial; every later (or concurrently
// losing) call observes false with no error.
func (s *Service) CheckAndActivateTrial(ctx context.Context, userID uuid.UUID) (bool, error) {
	var granted bool
	var sub *domain.UserSubscription

	err := s.locker.WithLock(ctx, userID, func(ctx context.Context) error {
		now := s.now()
		sub = &domain.UserSubscription{
			ID:               uuid.New(),
			UserID:           userID,
			BadgeType:        domain.BadgeTrial,
			Status:           domain.SubscriptionStatusTrial,
			StartDate:        now,
			EndDate:          now.AddDate(0, 0, domain.TrialDurationDays),
			IsTrialUser:      true,
			RedemptionMethod: domain.RedemptionMethodPayment,
			AutoRenew:        false,
		}
		if err := s.repo.CreateTrialSubscription(ctx, sub); err != nil {
			if errors.Is(err, store.ErrTrialAlreadyGranted) {
				return nil
			}
			return fmt.Errorf("failed to grant trial: %w", err)
		}
		granted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !granted {
		return false, nil
	}

	s.publish(ctx, domain.RoutingKeyTrialStarted, domain.TrialStartedEvent{
		UserID:         userID,
		SubscriptionID: sub.ID,
		EndsAt:         sub.EndDate,
		Timestamp:      s.now(),
	})
	return true, nil
}

// CanRedeemBadge reports whether a badge is redeemable at the given XP
// balance: the badge must carry a threshold and the balance must meet it.
func (s *Service) CanRedeemBadge(badge domain.BadgeType, xpBalance int64) (bool, error) {
	plan, err := domain.PlanFor(badge)
	if err != nil {
		return false, err
	}
	if !plan.Redeemable() {
		return false, nil
	}
	return xpBalance >= *plan.XPThreshold, nil
}

// RedeemBadgeWithXP converts XP into an active subscription. The supplied
// balance may be stale; when an XP ledger client is configured the
// authoritative balance is re-read and the debit goes through the ledger
// with an idempotency key, so two concurrent redemptions cannot both spend
// the same XP.
func (s *Service) RedeemBadgeWithXP(ctx context.Context, userID uuid.UUID, badge domain.BadgeType, xpBalance int64) (*domain.UserSubscription, error) {
	plan, err := domain.PlanFor(badge)
	if err != nil {
		return nil, err
	}
	if !plan.Redeemable() {
		return nil, fmt.Errorf("%w: %s", ErrBadgeNotRedeemable, badge)
	}
	threshold := *plan.XPThreshold

	var sub *domain.UserSubscription
	err = s.locker.WithLock(ctx, userID, func(ctx context.Context) error {
		balance := xpBalance
		if s.xpLedger != nil {
			authoritative, err := s.xpLedger.GetBalance(ctx, userID.String())
			if err != nil {
				return fmt.Errorf("failed to read authoritative XP balance: %w", err)
			}
			balance = authoritative
		}
		if balance < threshold {
			return &InsufficientXPError{Required: threshold, Available: balance}
		}

		now := s.now()
		subID := uuid.New()
		redemptionID := uuid.New()
		spent := threshold
		balanceBefore := balance
		balanceAfter := balance - threshold

		if s.xpLedger != nil {
			reason := fmt.Sprintf("badge redemption: %s", badge)
			before, after, err := s.xpLedger.Debit(ctx, userID.String(), threshold, reason, redemptionID.String())
			if err != nil {
				if errors.Is(err, xpledger.ErrInsufficientBalance) {
					return &InsufficientXPError{Required: threshold, Available: balance}
				}
				return fmt.Errorf("failed to debit XP ledger: %w", err)
			}
			balanceBefore, balanceAfter = before, after
		}

		sub = &domain.UserSubscription{
			ID:               subID,
			UserID:           userID,
			BadgeType:        badge,
			Status:           domain.SubscriptionStatusActive,
			StartDate:        now,
			EndDate:          now.AddDate(0, 0, plan.DurationDays),
			RedemptionMethod: domain.RedemptionMethodXP,
			XPSpent:          &spent,
			AutoRenew:        false,
		}
		redemption := &domain.XPRedemption{
			ID:              redemptionID,
			UserID:          userID,
			SubscriptionID:  subID,
			BadgeType:       badge,
			XPSpent:         threshold,
			XPBalanceBefore: balanceBefore,
			XPBalanceAfter:  balanceAfter,
		}

		if err := s.repo.CreateRedemption(ctx, sub, redemption); err != nil {
			if s.xpLedger != nil {
				// Compensate the debit so the XP is not lost to a write failure.
				if creditErr := s.xpLedger.Credit(ctx, userID.String(), threshold, "redemption rollback", redemptionID.String()); creditErr != nil {
					log.Printf("level=error component=badge_service msg=\"failed to compensate XP debit\" user_id=%s redemption_id=%s err=%v", userID, redemptionID, creditErr)
				}
			}
			return fmt.Errorf("failed to persist redemption: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.RoutingKeySubscriptionActivated, domain.SubscriptionActivatedEvent{
		UserID:           userID,
		SubscriptionID:   sub.ID,
		BadgeType:        badge,
		RedemptionMethod: domain.RedemptionMethodXP,
		EndsAt:           sub.EndDate,
		Timestamp:        s.now(),
	})
	return sub, nil
}

// InitiatePayment records the intent to buy a badge through a gateway and
// returns the pending transaction together with the provider redirect the
// UI must follow. No money moves here.
func (s *Service) InitiatePayment(ctx context.Context, userID uuid.UUID, badge domain.BadgeType, gatewayName, payerRef string) (*domain.PaymentTransaction, *gateway.RedirectSpec, error) {
	plan, err := domain.PlanFor(badge)
	if err != nil {
		return nil, nil, err
	}
	if plan.Price <= 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrBadgeNotPurchasable, badge)
	}

	adapter, err := s.gateways.Lookup(gatewayName)
	if err != nil {
		return nil, nil, err
	}

	txRecord := &domain.PaymentTransaction{
		ID:             uuid.New(),
		UserID:         userID,
		Amount:         plan.Price,
		Currency:       "BDT",
		Gateway:        adapter.Name(),
		Status:         domain.TransactionStatusPending,
		PayerReference: payerRef,
		BadgeType:      badge,
	}
	if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
		return nil, nil, fmt.Errorf("failed to record payment intent: %w", err)
	}

	redirect, err := adapter.BuildRedirect(txRecord)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build %s redirect: %w", adapter.Name(), err)
	}
	return txRecord, redirect, nil
}

// ConfirmPayment moves a pending transaction to completed and creates the
// paid subscription as one atomic unit. A replayed confirmation surfaces
// store.ErrTransactionNotPending, which callers treat as an idempotent
// "already done" signal.
func (s *Service) ConfirmPayment(ctx context.Context, transactionID uuid.UUID, gatewayTransactionID string) (*domain.PaymentTransaction, error) {
	txRecord, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	var updated *domain.PaymentTransaction
	var sub *domain.UserSubscription

	err = s.locker.WithLock(ctx, txRecord.UserID, func(ctx context.Context) error {
		adapter, err := s.gateways.Lookup(txRecord.Gateway)
		if err != nil {
			return err
		}

		confirmed, err := adapter.Verify(ctx, transactionID.String(), gatewayTransactionID)
		if err != nil {
			if errors.Is(err, gateway.ErrGatewayRejected) {
				if failErr := s.repo.MarkTransactionFailed(ctx, transactionID, gatewayTransactionID, err.Error()); failErr != nil && !errors.Is(failErr, store.ErrTransactionNotPending) {
					log.Printf("level=error component=badge_service msg=\"failed to record gateway rejection\" transaction_id=%s err=%v", transactionID, failErr)
				}
				return err
			}
			// Transport failure after bounded retries; the transaction stays
			// pending so a later confirmation attempt can succeed.
			return fmt.Errorf("gateway verification unavailable: %w", err)
		}
		if !confirmed {
			reason := "gateway verification declined"
			if failErr := s.repo.MarkTransactionFailed(ctx, transactionID, gatewayTransactionID, reason); failErr != nil && !errors.Is(failErr, store.ErrTransactionNotPending) {
				log.Printf("level=error component=badge_service msg=\"failed to record verification decline\" transaction_id=%s err=%v", transactionID, failErr)
			}
			return fmt.Errorf("%w: %s", gateway.ErrGatewayRejected, reason)
		}

		plan, err := domain.PlanFor(txRecord.BadgeType)
		if err != nil {
			return err
		}

		now := s.now()
		paymentMethod := txRecord.Gateway
		sub = &domain.UserSubscription{
			ID:               uuid.New(),
			UserID:           txRecord.UserID,
			BadgeType:        txRecord.BadgeType,
			Status:           domain.SubscriptionStatusActive,
			StartDate:        now,
			EndDate:          now.AddDate(0, 0, plan.DurationDays),
			RedemptionMethod: domain.RedemptionMethodPayment,
			PaymentMethod:    &paymentMethod,
			TransactionID:    &txRecord.ID,
			AutoRenew:        false,
		}

		updated, err = s.repo.CompleteTransaction(ctx, transactionID, gatewayTransactionID, sub)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.RoutingKeySubscriptionActivated, domain.SubscriptionActivatedEvent{
		UserID:           updated.UserID,
		SubscriptionID:   sub.ID,
		BadgeType:        updated.BadgeType,
		RedemptionMethod: domain.RedemptionMethodPayment,
		EndsAt:           sub.EndDate,
		Timestamp:        s.now(),
	})
	s.publish(ctx, domain.RoutingKeyPaymentReceived, domain.PaymentReceivedEvent{
		UserID:        updated.UserID,
		TransactionID: updated.ID,
		Gateway:       updated.Gateway,
		Amount:        updated.Amount,
		Timestamp:     s.now(),
	})
	return updated, nil
}

// CancelPayment lets the owning user abandon a pending transaction.
func (s *Service) CancelPayment(ctx context.Context, userID, transactionID uuid.UUID) error {
	return s.locker.WithLock(ctx, userID, func(ctx context.Context) error {
		return s.repo.CancelTransaction(ctx, transactionID, userID)
	})
}

// ProcessWebhook translates a gateway's webhook delivery into the canonical
// result and applies it to the transaction state machine. Deliveries are
// at-least-once; replays surface store.ErrTransactionNotPending.
func (s *Service) ProcessWebhook(ctx context.Context, gatewayName string, payload []byte) (*gateway.WebhookResult, error) {
	adapter, err := s.gateways.Lookup(gatewayName)
	if err != nil {
		return nil, err
	}

	result, err := adapter.ParseWebhook(payload)
	if err != nil {
		return nil, err
	}

	transactionID, err := uuid.Parse(result.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction id %q is not a UUID", gateway.ErrMalformedWebhook, result.TransactionID)
	}

	if !result.Success {
		reason := result.Reason
		if reason == "" {
			reason = fmt.Sprintf("%s reported payment failure", adapter.Name())
		}
		if err := s.repo.MarkTransactionFailed(ctx, transactionID, result.GatewayTransactionID, reason); err != nil {
			return nil, err
		}
		log.Printf("level=info component=badge_service msg=\"payment failed at gateway\" gateway=%s transaction_id=%s reason=%q", adapter.Name(), transactionID, reason)
		return result, nil
	}

	if _, err := s.ConfirmPayment(ctx, transactionID, result.GatewayTransactionID); err != nil {
		return nil, err
	}
	return result, nil
}

// GetUserSubscription resolves the user's current subscription, lazily
// flipping it to expired when its end date has passed. The caller that wins
// the conditional flip owns the expiry event; losers just observe the
// already-expired record.
func (s *Service) GetUserSubscription(ctx context.Context, userID uuid.UUID) (*domain.UserSubscription, error) {
	sub, err := s.repo.FindCurrentSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	if sub.IsExpiredAt(s.now()) {
		flipped, err := s.repo.ExpireSubscription(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		sub.Status = domain.SubscriptionStatusExpired
		if flipped {
			s.publish(ctx, domain.RoutingKeySubscriptionExpired, domain.SubscriptionExpiredEvent{
				UserID:         sub.UserID,
				SubscriptionID: sub.ID,
				BadgeType:      sub.BadgeType,
				Timestamp:      s.now(),
			})
		}
	}
	return sub, nil
}

// GetCurrentBadge returns the badge the user currently holds: free when
// they have no subscription or their current one is no longer live.
func (s *Service) GetCurrentBadge(ctx context.Context, userID uuid.UUID) (domain.BadgeType, error) {
	sub, err := s.GetUserSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			return domain.BadgeFree, nil
		}
		return "", err
	}
	if sub.Status == domain.SubscriptionStatusExpired || sub.Status == domain.SubscriptionStatusCancelled {
		return domain.BadgeFree, nil
	}
	return sub.BadgeType, nil
}

// GetUserTransactions returns the user's payment history, newest first.
func (s *Service) GetUserTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]domain.PaymentTransaction, error) {
	return s.repo.FindTransactionsByUserID(ctx, userID, limit)
}

// GetUserRedemptions returns the user's XP redemption history, newest first.
func (s *Service) GetUserRedemptions(ctx context.Context, userID uuid.UUID) ([]domain.XPRedemption, error) {
	return s.repo.FindRedemptionsByUserID(ctx, userID)
}

// GetSubscriptionStats computes the aggregate revenue and usage view of the
// whole ledger.
func (s *Service) GetSubscriptionStats(ctx context.Context) (*domain.SubscriptionStats, error) {
	return s.repo.ComputeStats(ctx)
}
