/**
 * @description
 * This file contains the HTTP handlers for the badge-service API endpoints.
 * Handlers parse incoming requests, call the application service, translate
 * business errors into status codes, and write JSON responses. They are the
 * bridge between the web layer and the ledger logic.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/gateway, internal/store: For
 *   service logic, models, and typed errors.
 */

package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/iamshibly/AniMaze-sub001/internal/app"
	"github.com/iamshibly/AniMaze-sub001/internal/domain"
	"github.com/iamshibly/AniMaze-sub001/internal/gateway"
	"github.com/iamshibly/AniMaze-sub001/internal/store"
)

// BadgeHandlers holds the application service that handlers will use.
type BadgeHandlers struct {
	service *app.Service
	// webhookSecrets maps gateway name to the HMAC secret used to validate
	// webhook signatures. A gateway without a secret accepts unsigned
	// deliveries (stub/sandbox mode).
	webhookSecrets map[string]string
}

// NewBadgeHandlers creates a new instance of BadgeHandlers.
func NewBadgeHandlers(service *app.Service, webhookSecrets map[string]string) *BadgeHandlers {
	return &BadgeHandlers{service: service, webhookSecrets: webhookSecrets}
}

func (h *BadgeHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}

func (h *BadgeHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeBusinessError maps the service's typed errors onto HTTP statuses.
func (h *BadgeHandlers) writeBusinessError(w http.ResponseWriter, err error) {
	var insufficientXP *app.InsufficientXPError
	switch {
	case errors.As(err, &insufficientXP):
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":     "insufficient XP",
			"required":  insufficientXP.Required,
			"available": insufficientXP.Available,
		})
	case errors.Is(err, domain.ErrUnknownBadgeType),
		errors.Is(err, app.ErrBadgeNotRedeemable),
		errors.Is(err, app.ErrBadgeNotPurchasable):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, "Transaction not found")
	case errors.Is(err, store.ErrSubscriptionNotFound):
		h.writeError(w, http.StatusNotFound, "Subscription not found")
	case errors.Is(err, store.ErrTransactionNotPending):
		h.writeError(w, http.StatusConflict, "Transaction already processed")
	case errors.Is(err, gateway.ErrUnsupportedGateway):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gateway.ErrMalformedWebhook):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gateway.ErrGatewayRejected):
		h.writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.Printf("level=error component=api msg=\"internal error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

type initiatePaymentRequest struct {
	BadgeType      string `json:"badge_type"`
	Gateway        string `json:"gateway"`
	PayerReference string `json:"payer_reference"`
}

// InitiatePaymentHandler records a payment intent and returns the pending
// transaction plus the gateway redirect.
func (h *BadgeHandlers) InitiatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PayerReference == "" {
		h.writeError(w, http.StatusBadRequest, "payer_reference is required")
		return
	}

	tx, redirect, err := h.service.InitiatePayment(r.Context(), userID, domain.BadgeType(req.BadgeType), req.Gateway, req.PayerReference)
	if err != nil {
		h.writeBusinessError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"transaction": tx,
		"redirect":    redirect,
	})
}

type confirmPaymentRequest struct {
	GatewayTransactionID string `json:"gateway_transaction_id"`
}

// ConfirmPaymentHandler confirms a pending transaction out-of-band. It is
// an internal route used by reconciliation tooling; the regular path is the
// gateway webhook.
func (h *BadgeHandlers) ConfirmPaymentHandler(w http.ResponseWriter, r *http.Request) {
	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	var req confirmPaymentRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	tx, err := h.service.ConfirmPayment(r.Context(), transactionID, req.GatewayTransactionID)
	if err != nil {
		h.writeBusinessError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "transaction": tx})
}

// CancelPaymentHandler lets the owner abandon a pending transaction.
func (h *BadgeHandlers) CancelPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	if err := h.service.CancelPayment(r.Context(), userID, transactionID); err != nil {
		h.writeBusinessError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// WebhookHandler receives a gateway's asynchronous payment notification,
// validates its signature when a secret is configured, and applies the
// outcome to the transaction state machine. Replayed deliveries are
// acknowledged without reprocessing.
func (h *BadgeHandlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	// Normalize once so the secret lookup and the adapter lookup agree on
	// the key; a case variant must never slip past signature validation.
	gatewayName := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "gateway")))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if secret := h.webhookSecrets[gatewayName]; secret != "" {
		if !validSignature(r.Header.Get("X-Webhook-Signature"), body, secret) {
			log.Printf("level=warn component=api msg=\"rejected webhook with invalid signature\" gateway=%s", gatewayName)
			h.writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	result, err := h.service.ProcessWebhook(r.Context(), gatewayName, body)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotPending) {
			// At-least-once delivery: the first copy already settled this
			// transaction. Acknowledge so the gateway stops retrying.
			log.Printf("level=info component=api msg=\"duplicate webhook acknowledged\" gateway=%s", gatewayName)
			h.writeJSON(w, http.StatusOK, map[string]string{"status": "already processed"})
			return
		}
		h.writeBusinessError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func validSignature(signature string, body []byte, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// ActivateTrialHandler grants the caller's one-time trial.
func (h *BadgeHandlers) ActivateTrialHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	granted, err := h.service.CheckAndActivateTrial(r.Context(), userID)
	if err != nil {
		h.writeBusinessError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"activated": granted})
}

// RedemptionEligibilityHandler reports whether a badge is redeemable at the
// supplied XP balance.
func (h *BadgeHandlers) RedemptionEligibilityHandler(w http.ResponseWriter, r *http.Request) {
	badge := r.URL.Query().Get("badge")
	xpStr := r.URL.Query().Get("xp")
	xp, err := strconv.ParseInt(xpStr, 10, 64)
	if err != nil || xp < 0 {
		h.writeError(w, http.StatusBadRequest, "xp must be a non-negative integer")
		return
	}

	eligible, err := h.service.CanRedeemBadge(domain.BadgeType(badge), xp)
	if err != nil {
		h.writeBusinessError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"eligible": eligible})
}

type redeemRequest struct {
	BadgeType string `json:"badge_type"`
	XPBalance int64  `json:"xp_balance"`
}

// RedeemHandler converts the caller's XP into a subscription.
func (h *BadgeHandlers) RedeemHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.service.RedeemBadgeWithXP(r.Context(), userID, domain.BadgeType(req.BadgeType), req.XPBalance)
	if err != nil {
		h.writeBusinessError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "subscription": sub})
}

// GetSubscriptionHandler returns the caller's current subscription record.
func (h *BadgeHandlers) GetSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	sub, err := h.service.GetUserSubscription(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			h.writeJSON(w, http.StatusOK, map[string]interface{}{"subscription": nil})
			return
		}
		h.writeBusinessError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"subscription": sub})
}

// GetBadgeHandler returns the badge the caller currently holds.
func (h *BadgeHandlers) GetBadgeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	badge, err := h.service.GetCurrentBadge(r.Context(), userID)
	if err != nil {
		h.writeBusinessError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"badge": string(badge)})
}

// ListTransactionsHandler returns the caller's payment history.
func (h *BadgeHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	transactions, err := h.service.GetUserTransactions(r.Context(), userID, limit)
	if err != nil {
		h.writeBusinessError(w, err)
		return
	}
	if transactions == nil {
		transactions = []domain.PaymentTransaction{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": transactions})
}

// ListRedemptionsHandler returns the caller's XP redemption history.
func (h *BadgeHandlers) ListRedemptionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	redemptions, err := h.service.GetUserRedemptions(r.Context(), userID)
	if err != nil {
		h.writeBusinessError(w, err)
		return
	}
	if redemptions == nil {
		redemptions = []domain.XPRedemption{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"redemptions": redemptions})
}

// StatsHandler returns ledger-wide statistics. Internal route.
func (h *BadgeHandlers) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetSubscriptionStats(r.Context())
	if err != nil {
		h.writeBusinessError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}
