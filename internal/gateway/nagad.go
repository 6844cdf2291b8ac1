/**
 * @description
 * Nagad gateway adapter. Nagad reports webhook success through
 * `status == "Success"`, carries our transaction id in `orderId` and its
 * own reference in `payment_ref_id`.
 */
package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/iamshibly/AniMaze-sub001/internal/domain"
)

// NagadAdapter integrates the Nagad checkout API.
type NagadAdapter struct {
	creds Credentials
}

// NewNagadAdapter creates a Nagad adapter with the injected credentials.
func NewNagadAdapter(creds Credentials) *NagadAdapter {
	return &NagadAdapter{creds: creds}
}

func (a *NagadAdapter) Name() string { return domain.GatewayNagad }

type nagadWebhook struct {
	Status       string `json:"status"`
	OrderID      string `json:"orderId"`
	PaymentRefID string `json:"payment_ref_id"`
	Message      string `json:"message"`
}

func (a *NagadAdapter) BuildRedirect(tx *domain.PaymentTransaction) (*RedirectSpec, error) {
	params := map[string]string{
		"merchantId":   a.creds.MerchantID,
		"orderId":      tx.ID.String(),
		"amount":       strconv.FormatInt(tx.Amount, 10),
		"currencyCode": "050", // ISO 4217 numeric for BDT
		"payerAccount": tx.PayerReference,
	}
	params["signature"] = signParams(params, a.creds.Secret)

	base := a.creds.BaseURL
	if base == "" {
		base = "https://api.mynagad.com/api/dfs"
	}
	return &RedirectSpec{
		URL:    base + "/check-out/initialize",
		Method: "POST",
		Params: params,
	}, nil
}

func (a *NagadAdapter) ParseWebhook(payload []byte) (*WebhookResult, error) {
	var hook nagadWebhook
	if err := decodeStrict(payload, &hook); err != nil {
		return nil, err
	}
	if hook.OrderID == "" || hook.Status == "" {
		return nil, fmt.Errorf("%w: nagad webhook missing orderId or status", ErrMalformedWebhook)
	}
	return &WebhookResult{
		Success:              hook.Status == "Success",
		TransactionID:        hook.OrderID,
		GatewayTransactionID: hook.PaymentRefID,
		Reason:               hook.Message,
	}, nil
}

func (a *NagadAdapter) Verify(ctx context.Context, transactionID, gatewayTransactionID string) (bool, error) {
	if !a.creds.live() {
		return true, nil
	}
	statusURL := fmt.Sprintf("%s/verify/payment/%s", a.creds.BaseURL, url.PathEscape(gatewayTransactionID))
	return verifyStatus(ctx, a.Name(), statusURL, "X-KM-Api-Version", "v-0.2.0", func(body []byte) (bool, error) {
		var resp struct {
			Status string `json:"status"`
		}
		if err := decodeStrict(body, &resp); err != nil {
			return false, err
		}
		return resp.Status == "Success", nil
	})
}
