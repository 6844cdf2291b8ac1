package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/iamshibly/AniMaze-sub001/internal/domain"
	"github.com/iamshibly/AniMaze-sub001/internal/gateway"
	"github.com/iamshibly/AniMaze-sub001/internal/store"
)

// memoryRepository is an in-memory Repository with the same transition
// semantics as the Postgres implementation: conditional state flips and
// all-or-nothing multi-record writes.
type memoryRepository struct {
	mu            sync.Mutex
	subscriptions map[uuid.UUID]*domain.UserSubscription
	transactions  map[uuid.UUID]*domain.PaymentTransaction
	redemptions   map[uuid.UUID]*domain.XPRedemption
	trialRegistry map[uuid.UUID]time.Time

	failCreateRedemption bool
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		subscriptions: make(map[uuid.UUID]*domain.UserSubscription),
		transactions:  make(map[uuid.UUID]*domain.PaymentTransaction),
		redemptions:   make(map[uuid.UUID]*domain.XPRedemption),
		trialRegistry: make(map[uuid.UUID]time.Time),
	}
}

func (m *memoryRepository) CreateTrialSubscription(ctx context.Context, sub *domain.UserSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.trialRegistry[sub.UserID]; exists {
		return store.ErrTrialAlreadyGranted
	}
	m.trialRegistry[sub.UserID] = time.Now()
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	m.subscriptions[sub.ID] = sub
	return nil
}

func (m *memoryRepository) CreateRedemption(ctx context.Context, sub *domain.UserSubscription, redemption *domain.XPRedemption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateRedemption {
		return errors.New("simulated write failure")
	}
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	redemption.CreatedAt = sub.CreatedAt
	m.subscriptions[sub.ID] = sub
	m.redemptions[redemption.ID] = redemption
	return nil
}

func (m *memoryRepository) CreateTransaction(ctx context.Context, tx *domain.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx.CreatedAt = time.Now()
	tx.UpdatedAt = tx.CreatedAt
	m.transactions[tx.ID] = tx
	return nil
}

func (m *memoryRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[transactionID]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	copied := *tx
	return &copied, nil
}

func (m *memoryRepository) CompleteTransaction(ctx context.Context, transactionID uuid.UUID, gatewayTransactionID string, sub *domain.UserSubscription) (*domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[transactionID]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	if tx.Status != domain.TransactionStatusPending {
		return nil, fmt.Errorf("%w: status is %q", store.ErrTransactionNotPending, tx.Status)
	}
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	m.subscriptions[sub.ID] = sub
	tx.Status = domain.TransactionStatusCompleted
	tx.SubscriptionID = &sub.ID
	if gatewayTransactionID != "" {
		tx.GatewayTransactionID = &gatewayTransactionID
	}
	tx.UpdatedAt = time.Now()
	copied := *tx
	return &copied, nil
}

func (m *memoryRepository) MarkTransactionFailed(ctx context.Context, transactionID uuid.UUID, gatewayTransactionID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[transactionID]
	if !ok {
		return store.ErrTransactionNotFound
	}
	if tx.Status != domain.TransactionStatusPending {
		return fmt.Errorf("%w: status is %q", store.ErrTransactionNotPending, tx.Status)
	}
	tx.Status = domain.TransactionStatusFailed
	tx.FailureReason = &reason
	if gatewayTransactionID != "" {
		tx.GatewayTransactionID = &gatewayTransactionID
	}
	return nil
}

func (m *memoryRepository) CancelTransaction(ctx context.Context, transactionID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[transactionID]
	if !ok || tx.UserID != userID {
		return store.ErrTransactionNotFound
	}
	if tx.Status != domain.TransactionStatusPending {
		return fmt.Errorf("%w: status is %q", store.ErrTransactionNotPending, tx.Status)
	}
	tx.Status = domain.TransactionStatusCancelled
	return nil
}

func (m *memoryRepository) FindCurrentSubscription(ctx context.Context, userID uuid.UUID) (*domain.UserSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current *domain.UserSubscription
	for _, sub := range m.subscriptions {
		if sub.UserID != userID {
			continue
		}
		if current == nil || sub.CreatedAt.After(current.CreatedAt) {
			current = sub
		}
	}
	if current == nil {
		return nil, store.ErrSubscriptionNotFound
	}
	copied := *current
	return &copied, nil
}

func (m *memoryRepository) ExpireSubscription(ctx context.Context, subscriptionID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return false, nil
	}
	if sub.Status != domain.SubscriptionStatusTrial && sub.Status != domain.SubscriptionStatusActive {
		return false, nil
	}
	if time.Now().Before(sub.EndDate) {
		return false, nil
	}
	sub.Status = domain.SubscriptionStatusExpired
	return true, nil
}

func (m *memoryRepository) FindTransactionsByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PaymentTransaction
	for _, tx := range m.transactions {
		if tx.UserID == userID {
			out = append(out, *tx)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRepository) FindRedemptionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.XPRedemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.XPRedemption
	for _, red := range m.redemptions {
		if red.UserID == userID {
			out = append(out, *red)
		}
	}
	return out, nil
}

func (m *memoryRepository) ComputeStats(ctx context.Context) (*domain.SubscriptionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &domain.SubscriptionStats{
		RevenueByGateway:     make(map[string]int64),
		SubscriptionsByBadge: make(map[domain.BadgeType]int64),
	}
	for _, sub := range m.subscriptions {
		stats.TotalSubscriptions++
		if sub.Status == domain.SubscriptionStatusActive {
			stats.ActiveSubscriptions++
			stats.SubscriptionsByBadge[sub.BadgeType]++
		}
	}
	paidUsers := make(map[uuid.UUID]bool)
	for _, tx := range m.transactions {
		if tx.Status == domain.TransactionStatusCompleted {
			stats.TotalRevenue += tx.Amount
			stats.RevenueByGateway[tx.Gateway] += tx.Amount
			paidUsers[tx.UserID] = true
		}
	}
	stats.XPRedemptions = int64(len(m.redemptions))
	if len(paidUsers) > 0 {
		stats.AverageRevenuePerUser = stats.TotalRevenue / int64(len(paidUsers))
	}
	return stats, nil
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

func (p *recordingPublisher) has(routingKey string) bool {
	for _, k := range p.routingKeys() {
		if k == routingKey {
			return true
		}
	}
	return false
}

// stubLedger fakes the external XP ledger.
type stubLedger struct {
	balance      int64
	debitErr     error
	debitCalled  bool
	creditCalled bool
}

func (l *stubLedger) GetBalance(ctx context.Context, userID string) (int64, error) {
	return l.balance, nil
}

func (l *stubLedger) Debit(ctx context.Context, userID string, amount int64, reason, idempotencyKey string) (int64, int64, error) {
	l.debitCalled = true
	if l.debitErr != nil {
		return 0, 0, l.debitErr
	}
	before := l.balance
	l.balance -= amount
	return before, l.balance, nil
}

func (l *stubLedger) Credit(ctx context.Context, userID string, amount int64, reason, idempotencyKey string) error {
	l.creditCalled = true
	l.balance += amount
	return nil
}

// rejectingAdapter wraps a real adapter but declines every verification.
type rejectingAdapter struct {
	gateway.Adapter
}

func (a *rejectingAdapter) Verify(ctx context.Context, transactionID, gatewayTransactionID string) (bool, error) {
	return false, nil
}

func newTestRegistry() *gateway.Registry {
	registry := gateway.NewRegistry()
	registry.Register(gateway.NewBkashAdapter(gateway.Credentials{}))
	registry.Register(gateway.NewNagadAdapter(gateway.Credentials{}))
	registry.Register(gateway.NewUpayAdapter(gateway.Credentials{}))
	registry.Register(gateway.NewRocketAdapter(gateway.Credentials{}))
	registry.Register(gateway.NewCardAdapter(gateway.Credentials{}))
	return registry
}

func newTestService(repo store.Repository, ledger XPLedger) (*Service, *recordingPublisher) {
	publisher := &recordingPublisher{}
	return NewService(repo, newTestRegistry(), publisher, nil, ledger), publisher
}

func TestCheckAndActivateTrial_GrantsExactlyOnce(t *testing.T) {
	repo := newMemoryRepository()
	svc, publisher := newTestService(repo, nil)
	userID := uuid.New()

	granted, err := svc.CheckAndActivateTrial(context.Background(), userID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !granted {
		t.Fatal("expected first trial activation to succeed")
	}
	if !publisher.has(domain.RoutingKeyTrialStarted) {
		t.Fatal("expected trial started event")
	}

	badge, err := svc.GetCurrentBadge(context.Background(), userID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if badge != domain.BadgeTrial {
		t.Fatalf("expected trial badge, got %s", badge)
	}

	granted, err = svc.CheckAndActivateTrial(context.Background(), userID)
	if err != nil {
		t.Fatalf("second activation must not error, got %v", err)
	}
	if granted {
		t.Fatal("expected second trial activation to return false")
	}
}

func TestCanRedeemBadge_Thresholds(t *testing.T) {
	svc, _ := newTestService(newMemoryRepository(), nil)

	ok, err := svc.CanRedeemBadge(domain.BadgeBronze, 5000)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if ok {
		t.Fatal("5000 XP must not reach the bronze threshold")
	}

	ok, err = svc.CanRedeemBadge(domain.BadgeBronze, 8000)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !ok {
		t.Fatal("8000 XP must reach the bronze threshold")
	}

	ok, err = svc.CanRedeemBadge(domain.BadgeDiamond, 1_000_000)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if ok {
		t.Fatal("diamond has no XP threshold and must not be redeemable")
	}

	if _, err := svc.CanRedeemBadge("platinum", 1000); !errors.Is(err, domain.ErrUnknownBadgeType) {
		t.Fatalf("expected ErrUnknownBadgeType, got %v", err)
	}
}

func TestRedeemBadgeWithXP_Success(t *testing.T) {
	repo := newMemoryRepository()
	svc, publisher := newTestService(repo, nil)
	userID := uuid.New()

	sub, err := svc.RedeemBadgeWithXP(context.Background(), userID, domain.BadgeBronze, 10000)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if sub.BadgeType != domain.BadgeBronze {
		t.Fatalf("expected bronze subscription, got %s", sub.BadgeType)
	}
	if sub.RedemptionMethod != domain.RedemptionMethodXP {
		t.Fatalf("expected xp_redemption method, got %s", sub.RedemptionMethod)
	}
	if sub.XPSpent == nil || *sub.XPSpent != 7000 {
		t.Fatalf("expected 7000 XP spent, got %v", sub.XPSpent)
	}

	redemptions, err := svc.GetUserRedemptions(context.Background(), userID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(redemptions) != 1 {
		t.Fatalf("expected exactly one redemption record, got %d", len(redemptions))
	}
	red := redemptions[0]
	if red.XPBalanceBefore != 10000 || red.XPBalanceAfter != 3000 {
		t.Fatalf("expected balances 10000 -> 3000, got %d -> %d", red.XPBalanceBefore, red.XPBalanceAfter)
	}
	if red.XPBalanceAfter != red.XPBalanceBefore-red.XPSpent {
		t.Fatal("redemption arithmetic invariant violated")
	}
	if !publisher.has(domain.RoutingKeySubscriptionActivated) {
		t.Fatal("expected subscription activated event")
	}
}

func TestRedeemBadgeWithXP_InsufficientBalance(t *testing.T) {
	svc, _ := newTestService(newMemoryRepository(), nil)

	_, err := svc.RedeemBadgeWithXP(context.Background(), uuid.New(), domain.BadgeBronze, 5000)
	var insufficient *InsufficientXPError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientXPError, got %v", err)
	}
	if insufficient.Required != 7000 || insufficient.Available != 5000 {
		t.Fatalf("expected required=7000 available=5000, got %+v", insufficient)
	}
}

func TestRedeemBadgeWithXP_NotRedeemable(t *testing.T) {
	svc, _ := newTestService(newMemoryRepository(), nil)

	_, err := svc.RedeemBadgeWithXP(context.Background(), uuid.New(), domain.BadgeDiamond, 1_000_000)
	if !errors.Is(err, ErrBadgeNotRedeemable) {
		t.Fatalf("expected ErrBadgeNotRedeemable, got %v", err)
	}
}

func TestRedeemBadgeWithXP_AuthoritativeBalanceWins(t *testing.T) {
	repo := newMemoryRepository()
	ledger := &stubLedger{balance: 5000}
	svc, _ := newTestService(repo, ledger)

	// Caller claims 10000 XP but the ledger only has 5000.
	_, err := svc.RedeemBadgeWithXP(context.Background(), uuid.New(), domain.BadgeBronze, 10000)
	var insufficient *InsufficientXPError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientXPError, got %v", err)
	}
	if insufficient.Available != 5000 {
		t.Fatalf("expected authoritative balance 5000, got %d", insufficient.Available)
	}
	if ledger.debitCalled {
		t.Fatal("ledger must not be debited when the authoritative balance is too low")
	}
}

func TestRedeemBadgeWithXP_CompensatesDebitOnPersistFailure(t *testing.T) {
	repo := newMemoryRepository()
	repo.failCreateRedemption = true
	ledger := &stubLedger{balance: 10000}
	svc, _ := newTestService(repo, ledger)

	_, err := svc.RedeemBadgeWithXP(context.Background(), uuid.New(), domain.BadgeBronze, 10000)
	if err == nil {
		t.Fatal("expected persistence failure to surface")
	}
	if !ledger.debitCalled {
		t.Fatal("expected ledger debit before the write")
	}
	if !ledger.creditCalled {
		t.Fatal("expected compensating credit after the write failed")
	}
	if ledger.balance != 10000 {
		t.Fatalf("expected balance restored to 10000, got %d", ledger.balance)
	}
}

func TestInitiatePayment_CreatesPendingTransaction(t *testing.T) {
	repo := newMemoryRepository()
	svc, _ := newTestService(repo, nil)
	userID := uuid.New()

	tx, redirect, err := svc.InitiatePayment(context.Background(), userID, domain.BadgeGold, "bkash", "01700000000")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if tx.Amount != 1000 {
		t.Fatalf("expected gold price 1000, got %d", tx.Amount)
	}
	if tx.Status != domain.TransactionStatusPending {
		t.Fatalf("expected pending status, got %s", tx.Status)
	}
	if tx.SubscriptionID != nil {
		t.Fatal("pending transaction must not reference a subscription")
	}
	if redirect.Params["merchantInvoiceNumber"] != tx.ID.String() {
		t.Fatal("redirect must carry the transaction id as the invoice number")
	}
	if redirect.Params["signature"] == "" {
		t.Fatal("redirect params must be signed")
	}
}

func TestInitiatePayment_UnsupportedGateway(t *testing.T) {
	svc, _ := newTestService(newMemoryRepository(), nil)

	_, _, err := svc.InitiatePayment(context.Background(), uuid.New(), domain.BadgeGold, "paypal", "01700000000")
	if !errors.Is(err, gateway.ErrUnsupportedGateway) {
		t.Fatalf("expected ErrUnsupportedGateway, got %v", err)
	}
}

func TestInitiatePayment_FreeBadgeRejected(t *testing.T) {
	svc, _ := newTestService(newMemoryRepository(), nil)

	_, _, err := svc.InitiatePayment(context.Background(), uuid.New(), domain.BadgeFree, "bkash", "01700000000")
	if !errors.Is(err, ErrBadgeNotPurchasable) {
		t.Fatalf("expected ErrBadgeNotPurchasable, got %v", err)
	}
}

func TestConfirmPayment_ActivatesSubscription(t *testing.T) {
	repo := newMemoryRepository()
	svc, publisher := newTestService(repo, nil)
	userID := uuid.New()

	tx, _, err := svc.InitiatePayment(context.Background(), userID, domain.BadgeGold, "bkash", "01700000000")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	updated, err := svc.ConfirmPayment(context.Background(), tx.ID, "gw123")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if updated.Status != domain.TransactionStatusCompleted {
		t.Fatalf("expected completed status, got %s", updated.Status)
	}
	if updated.SubscriptionID == nil {
		t.Fatal("completed transaction must reference its subscription")
	}
	if updated.GatewayTransactionID == nil || *updated.GatewayTransactionID != "gw123" {
		t.Fatal("expected gateway transaction id to be recorded")
	}

	badge, err := svc.GetCurrentBadge(context.Background(), userID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if badge != domain.BadgeGold {
		t.Fatalf("expected gold badge after confirmation, got %s", badge)
	}

	if !publisher.has(domain.RoutingKeySubscriptionActivated) || !publisher.has(domain.RoutingKeyPaymentReceived) {
		t.Fatalf("expected activation and payment events, got %v", publisher.routingKeys())
	}
}

func TestConfirmPayment_ReplayIsRejected(t *testing.T) {
	repo := newMemoryRepository()
	svc, _ := newTestService(repo, nil)
	userID := uuid.New()

	tx, _, err := svc.InitiatePayment(context.Background(), userID, domain.BadgeGold, "bkash", "01700000000")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if _, err := svc.ConfirmPayment(context.Background(), tx.ID, "gw123"); err != nil {
		t.Fatalf("first confirmation must succeed, got %v", err)
	}

	_, err = svc.ConfirmPayment(context.Background(), tx.ID, "gw123")
	if !errors.Is(err, store.ErrTransactionNotPending) {
		t.Fatalf("expected ErrTransactionNotPending on replay, got %v", err)
	}

	// Exactly one subscription and no double-counted revenue.
	count := 0
	for _, sub := range repo.subscriptions {
		if sub.UserID == userID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one subscription after replay, got %d", count)
	}

	stats, err := svc.GetSubscriptionStats(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if stats.TotalRevenue != 1000 {
		t.Fatalf("expected revenue 1000 after replay, got %d", stats.TotalRevenue)
	}
}

func TestConfirmPayment_UnknownTransaction(t *testing.T) {
	svc, _ := newTestService(newMemoryRepository(), nil)

	_, err := svc.ConfirmPayment(context.Background(), uuid.New(), "")
	if !errors.Is(err, store.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestConfirmPayment_GatewayDeclineMarksFailed(t *testing.T) {
	repo := newMemoryRepository()
	publisher := &recordingPublisher{}
	registry := gateway.NewRegistry()
	registry.Register(&rejectingAdapter{Adapter: gateway.NewBkashAdapter(gateway.Credentials{})})
	svc := NewService(repo, registry, publisher, nil, nil)
	userID := uuid.New()

	tx, _, err := svc.InitiatePayment(context.Background(), userID, domain.BadgeGold, "bkash", "01700000000")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	_, err = svc.ConfirmPayment(context.Background(), tx.ID, "gw123")
	if !errors.Is(err, gateway.ErrGatewayRejected) {
		t.Fatalf("expected ErrGatewayRejected, got %v", err)
	}

	stored, err := svc.GetUserTransactions(context.Background(), userID, 10)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(stored) != 1 || stored[0].Status != domain.TransactionStatusFailed {
		t.Fatalf("expected failed transaction, got %+v", stored)
	}
	if publisher.has(domain.RoutingKeySubscriptionActivated) {
		t.Fatal("declined payment must not activate a subscription")
	}
}

func TestProcessWebhook_SuccessfulDelivery(t *testing.T) {
	repo := newMemoryRepository()
	svc, _ := newTestService(repo, nil)
	userID := uuid.New()

	tx, _, err := svc.InitiatePayment(context.Background(), userID, domain.BadgeGold, "bkash", "01700000000")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	payload := []byte(`{"paymentID":"TR001","transactionStatus":"Completed","merchantInvoiceNumber":"` + tx.ID.String() + `"}`)
	result, err := svc.ProcessWebhook(context.Background(), "bkash", payload)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !result.Success {
		t.Fatal("expected successful webhook result")
	}

	badge, err := svc.GetCurrentBadge(context.Background(), userID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if badge != domain.BadgeGold {
		t.Fatalf("expected gold badge after webhook, got %s", badge)
	}

	// A replayed delivery must not create a second subscription.
	_, err = svc.ProcessWebhook(context.Background(), "bkash", payload)
	if !errors.Is(err, store.ErrTransactionNotPending) {
		t.Fatalf("expected ErrTransactionNotPending on replay, got %v", err)
	}
}

func TestProcessWebhook_FailureMarksTransactionFailed(t *testing.T) {
	repo := newMemoryRepository()
	svc, publisher := newTestService(repo, nil)
	userID := uuid.New()

	tx, _, err := svc.InitiatePayment(context.Background(), userID, domain.BadgeGold, "nagad", "01800000000")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	payload := []byte(`{"status":"Failed","orderId":"` + tx.ID.String() + `","payment_ref_id":"NG001","message":"insufficient wallet balance"}`)
	result, err := svc.ProcessWebhook(context.Background(), "nagad", payload)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Success {
		t.Fatal("expected unsuccessful webhook result")
	}

	stored, _ := svc.GetUserTransactions(context.Background(), userID, 10)
	if len(stored) != 1 || stored[0].Status != domain.TransactionStatusFailed {
		t.Fatalf("expected failed transaction, got %+v", stored)
	}
	if stored[0].FailureReason == nil || *stored[0].FailureReason != "insufficient wallet balance" {
		t.Fatalf("expected provider reason to be recorded, got %v", stored[0].FailureReason)
	}
	if publisher.has(domain.RoutingKeySubscriptionActivated) {
		t.Fatal("failed payment must not activate a subscription")
	}
}

func TestProcessWebhook_UnsupportedGateway(t *testing.T) {
	svc, _ := newTestService(newMemoryRepository(), nil)

	_, err := svc.ProcessWebhook(context.Background(), "stripe", []byte(`{}`))
	if !errors.Is(err, gateway.ErrUnsupportedGateway) {
		t.Fatalf("expected ErrUnsupportedGateway, got %v", err)
	}
}

func TestProcessWebhook_MalformedPayload(t *testing.T) {
	svc, _ := newTestService(newMemoryRepository(), nil)

	_, err := svc.ProcessWebhook(context.Background(), "bkash", []byte(`{"paymentID":"TR001"}`))
	if !errors.Is(err, gateway.ErrMalformedWebhook) {
		t.Fatalf("expected ErrMalformedWebhook, got %v", err)
	}
}

func TestGetUserSubscription_ExpiresStaleRecordOnRead(t *testing.T) {
	repo := newMemoryRepository()
	svc, publisher := newTestService(repo, nil)
	userID := uuid.New()

	// An active subscription whose end date passed 10 days ago.
	subID := uuid.New()
	repo.subscriptions[subID] = &domain.UserSubscription{
		ID:               subID,
		UserID:           userID,
		BadgeType:        domain.BadgeSilver,
		Status:           domain.SubscriptionStatusActive,
		StartDate:        time.Now().AddDate(0, 0, -40),
		EndDate:          time.Now().AddDate(0, 0, -10),
		RedemptionMethod: domain.RedemptionMethodPayment,
		CreatedAt:        time.Now().AddDate(0, 0, -40),
	}

	badge, err := svc.GetCurrentBadge(context.Background(), userID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if badge != domain.BadgeFree {
		t.Fatalf("expected free badge for expired subscription, got %s", badge)
	}
	if repo.subscriptions[subID].Status != domain.SubscriptionStatusExpired {
		t.Fatalf("expected stored record flipped to expired, got %s", repo.subscriptions[subID].Status)
	}
	if !publisher.has(domain.RoutingKeySubscriptionExpired) {
		t.Fatal("expected subscription expired event")
	}
}

func TestGetCurrentBadge_FreeWhenNoSubscription(t *testing.T) {
	svc, _ := newTestService(newMemoryRepository(), nil)

	badge, err := svc.GetCurrentBadge(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if badge != domain.BadgeFree {
		t.Fatalf("expected free badge, got %s", badge)
	}
}

func TestGetSubscriptionStats_RevenueSumsMatch(t *testing.T) {
	repo := newMemoryRepository()
	svc, _ := newTestService(repo, nil)

	u1, u2 := uuid.New(), uuid.New()
	tx1, _, _ := svc.InitiatePayment(context.Background(), u1, domain.BadgeGold, "bkash", "01700000000")
	tx2, _, _ := svc.InitiatePayment(context.Background(), u2, domain.BadgeBronze, "nagad", "01800000000")
	if _, err := svc.ConfirmPayment(context.Background(), tx1.ID, "gw1"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if _, err := svc.ConfirmPayment(context.Background(), tx2.ID, "gw2"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	stats, err := svc.GetSubscriptionStats(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if stats.TotalRevenue != 1300 {
		t.Fatalf("expected total revenue 1300, got %d", stats.TotalRevenue)
	}
	var sum int64
	for _, revenue := range stats.RevenueByGateway {
		sum += revenue
	}
	if sum != stats.TotalRevenue {
		t.Fatalf("revenue by gateway (%d) must sum to total revenue (%d)", sum, stats.TotalRevenue)
	}
	if stats.ActiveSubscriptions != 2 {
		t.Fatalf("expected 2 active subscriptions, got %d", stats.ActiveSubscriptions)
	}
	if stats.AverageRevenuePerUser != 650 {
		t.Fatalf("expected ARPU 650, got %d", stats.AverageRevenuePerUser)
	}
}

func TestCancelPayment_PendingOnly(t *testing.T) {
	repo := newMemoryRepository()
	svc, _ := newTestService(repo, nil)
	userID := uuid.New()

	tx, _, err := svc.InitiatePayment(context.Background(), userID, domain.BadgeSilver, "upay", "01900000000")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := svc.CancelPayment(context.Background(), userID, tx.ID); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if err := svc.CancelPayment(context.Background(), userID, tx.ID); !errors.Is(err, store.ErrTransactionNotPending) {
		t.Fatalf("expected ErrTransactionNotPending on second cancel, got %v", err)
	}
}
