/**
 * @description
 * Rocket (DBBL mobile banking) gateway adapter. Rocket reports webhook
 * success through `status == "SUCCESS"`, carries our transaction id in
 * `transaction_id` and its own reference in `rocket_transaction_id`.
 */
package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/iamshibly/AniMaze-sub001/internal/domain"
)

// RocketAdapter integrates the Rocket merchant payment API.
type RocketAdapter struct {
	creds Credentials
}

// NewRocketAdapter creates a Rocket adapter with the injected credentials.
func NewRocketAdapter(creds Credentials) *RocketAdapter {
	return &RocketAdapter{creds: creds}
}

func (a *RocketAdapter) Name() string { return domain.GatewayRocket }

type rocketWebhook struct {
	Status              string `json:"status"`
	TransactionID       string `json:"transaction_id"`
	RocketTransactionID string `json:"rocket_transaction_id"`
	Reason              string `json:"reason"`
}

func (a *RocketAdapter) BuildRedirect(tx *domain.PaymentTransaction) (*RedirectSpec, error) {
	params := map[string]string{
		"merchant":       a.creds.MerchantID,
		"transaction_id": tx.ID.String(),
		"amount":         strconv.FormatInt(tx.Amount, 10),
		"currency":       tx.Currency,
		"wallet_no":      tx.PayerReference,
	}
	params["signature"] = signParams(params, a.creds.Secret)

	base := a.creds.BaseURL
	if base == "" {
		base = "https://rocket.com.bd/gateway"
	}
	return &RedirectSpec{
		URL:    base + "/payment/initiate",
		Method: "POST",
		Params: params,
	}, nil
}

func (a *RocketAdapter) ParseWebhook(payload []byte) (*WebhookResult, error) {
	var hook rocketWebhook
	if err := decodeStrict(payload, &hook); err != nil {
		return nil, err
	}
	if hook.TransactionID == "" || hook.Status == "" {
		return nil, fmt.Errorf("%w: rocket webhook missing transaction_id or status", ErrMalformedWebhook)
	}
	return &WebhookResult{
		Success:              hook.Status == "SUCCESS",
		TransactionID:        hook.TransactionID,
		GatewayTransactionID: hook.RocketTransactionID,
		Reason:               hook.Reason,
	}, nil
}

func (a *RocketAdapter) Verify(ctx context.Context, transactionID, gatewayTransactionID string) (bool, error) {
	if !a.creds.live() {
		return true, nil
	}
	statusURL := fmt.Sprintf("%s/payment/status/%s", a.creds.BaseURL, url.PathEscape(gatewayTransactionID))
	return verifyStatus(ctx, a.Name(), statusURL, "Authorization", "Bearer "+a.creds.Secret, func(body []byte) (bool, error) {
		var resp struct {
			Status string `json:"status"`
		}
		if err := decodeStrict(body, &resp); err != nil {
			return false, err
		}
		return resp.Status == "SUCCESS", nil
	})
}
