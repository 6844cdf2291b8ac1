/**
 * @description
 * This package implements the payment gateway adapters for the badge-service.
 * Each adapter translates the canonical PaymentTransaction into the redirect
 * payload its provider expects, parses the provider's webhook body back into
 * the canonical result, and can confirm a payment out-of-band against the
 * provider's status endpoint.
 *
 * Key features:
 * - One adapter per gateway (bKash, Nagad, Upay, Rocket, card), registered
 *   in a Registry keyed by the canonical gateway name.
 * - Webhook bodies are distinct typed structs per provider, validated on
 *   parse; a payload missing required fields fails with ErrMalformedWebhook
 *   instead of being read defensively.
 * - Redirect parameters are signed with HMAC-SHA256 keyed by the secret
 *   injected through configuration; credentials are never hard-coded.
 * - Verify carries a timeout and bounded retry with backoff for transport
 *   errors. A provider-side rejection is terminal and never retried.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: For redirect signing.
 * - net/http: For the out-of-band verification call.
 * - internal/domain: For the canonical transaction model.
 */
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/iamshibly/AniMaze-sub001/internal/domain"
)

var (
	ErrUnsupportedGateway = errors.New("unsupported gateway")
	ErrMalformedWebhook   = errors.New("malformed webhook payload")
	ErrGatewayRejected    = errors.New("gateway rejected transaction")
)

// RedirectSpec describes where and how the user agent must be sent to pay.
type RedirectSpec struct {
	URL    string            `json:"url"`
	Method string            `json:"method"`
	Params map[string]string `json:"params"`
}

// WebhookResult is the canonical outcome the payment orchestrator consumes,
// regardless of which provider delivered the webhook.
type WebhookResult struct {
	Success              bool   `json:"success"`
	TransactionID        string `json:"transaction_id"`
	GatewayTransactionID string `json:"gateway_transaction_id,omitempty"`
	Reason               string `json:"reason,omitempty"`
}

// Adapter is the contract every concrete gateway integration satisfies.
type Adapter interface {
	Name() string
	BuildRedirect(tx *domain.PaymentTransaction) (*RedirectSpec, error)
	ParseWebhook(payload []byte) (*WebhookResult, error)
	// Verify confirms the payment out-of-band with the provider. Adapters
	// without live credentials run in stub mode and report success.
	Verify(ctx context.Context, transactionID, gatewayTransactionID string) (bool, error)
}

// Credentials carries the provider endpoint and secret material injected
// from configuration.
type Credentials struct {
	BaseURL    string
	MerchantID string
	Secret     string
}

// live reports whether the adapter has enough configuration to call the
// real provider. Without it, Verify runs in stub mode.
func (c Credentials) live() bool {
	return strings.TrimSpace(c.BaseURL) != ""
}

// Registry holds the configured adapters keyed by gateway name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its canonical name.
func (r *Registry) Register(adapter Adapter) {
	r.adapters[adapter.Name()] = adapter
}

// Lookup returns the adapter for a gateway key, or ErrUnsupportedGateway.
func (r *Registry) Lookup(gateway string) (Adapter, error) {
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(gateway))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGateway, gateway)
	}
	return adapter, nil
}

// signParams computes an HMAC-SHA256 signature over the sorted key=value
// pairs. Providers mandate their own canonicalization; this mirrors the
// common form used by the BD mobile-money checkout APIs.
func signParams(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
		sb.WriteByte('&')
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.TrimSuffix(sb.String(), "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

const (
	verifyAttempts = 3
	verifyBackoff  = 250 * time.Millisecond
	verifyTimeout  = 10 * time.Second
)

// verifyClient is shared by all adapters for out-of-band status calls.
var verifyClient = &http.Client{Timeout: verifyTimeout}

// verifyStatus calls the provider's status endpoint and reports whether the
// payment is confirmed. Transport errors are retried with backoff a bounded
// number of times; an explicit provider rejection is terminal.
func verifyStatus(ctx context.Context, gateway, statusURL, authHeader, authValue string, accept func(body []byte) (bool, error)) (bool, error) {
	var lastErr error
	for attempt := 0; attempt < verifyAttempts; attempt++ {
		if attempt > 0 {
			backoff := verifyBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return false, fmt.Errorf("failed to create %s verify request: %w", gateway, err)
		}
		req.Header.Set("Accept", "application/json")
		if authHeader != "" {
			req.Header.Set(authHeader, authValue)
		}

		resp, err := verifyClient.Do(req)
		if err != nil {
			lastErr = err
			log.Printf("level=warn component=gateway gateway=%s msg=\"verify transport error\" attempt=%d err=%v", gateway, attempt+1, err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("%s verify returned status %d", gateway, resp.StatusCode)
			continue
		}
		if resp.StatusCode >= http.StatusBadRequest {
			// The provider answered and said no. Terminal.
			return false, fmt.Errorf("%w: %s verify returned status %d", ErrGatewayRejected, gateway, resp.StatusCode)
		}

		return accept(body)
	}
	return false, fmt.Errorf("%s verify failed after %d attempts: %w", gateway, verifyAttempts, lastErr)
}

// decodeStrict unmarshals a webhook body, folding JSON syntax errors into
// ErrMalformedWebhook.
func decodeStrict(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	return nil
}
