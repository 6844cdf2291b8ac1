/**
 * @description
 * Card network gateway adapter. Card processors deliver a charge object
 * whose `status` carries the charge outcome, with our transaction id nested
 * under `reference.transaction` and the processor's charge id in `id`.
 */
package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/iamshibly/AniMaze-sub001/internal/domain"
)

// CardAdapter integrates a hosted card checkout.
type CardAdapter struct {
	creds Credentials
}

// NewCardAdapter creates a card adapter with the injected credentials.
func NewCardAdapter(creds Credentials) *CardAdapter {
	return &CardAdapter{creds: creds}
}

func (a *CardAdapter) Name() string { return domain.GatewayCard }

type cardWebhook struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Reference struct {
		Transaction string `json:"transaction"`
	} `json:"reference"`
	FailureMessage string `json:"failure_message"`
}

func (a *CardAdapter) BuildRedirect(tx *domain.PaymentTransaction) (*RedirectSpec, error) {
	params := map[string]string{
		"merchant":              a.creds.MerchantID,
		"reference_transaction": tx.ID.String(),
		"amount":                strconv.FormatInt(tx.Amount, 10),
		"currency":              tx.Currency,
		"card_descriptor":       tx.PayerReference,
	}
	params["signature"] = signParams(params, a.creds.Secret)

	base := a.creds.BaseURL
	if base == "" {
		base = "https://checkout.cardpay.example.com"
	}
	return &RedirectSpec{
		URL:    base + "/v1/charges/hosted",
		Method: "POST",
		Params: params,
	}, nil
}

func (a *CardAdapter) ParseWebhook(payload []byte) (*WebhookResult, error) {
	var hook cardWebhook
	if err := decodeStrict(payload, &hook); err != nil {
		return nil, err
	}
	if hook.Reference.Transaction == "" || hook.Status == "" {
		return nil, fmt.Errorf("%w: card webhook missing reference.transaction or status", ErrMalformedWebhook)
	}
	return &WebhookResult{
		Success:              hook.Status == "succeeded",
		TransactionID:        hook.Reference.Transaction,
		GatewayTransactionID: hook.ID,
		Reason:               hook.FailureMessage,
	}, nil
}

func (a *CardAdapter) Verify(ctx context.Context, transactionID, gatewayTransactionID string) (bool, error) {
	if !a.creds.live() {
		return true, nil
	}
	statusURL := fmt.Sprintf("%s/v1/charges/%s", a.creds.BaseURL, url.PathEscape(gatewayTransactionID))
	return verifyStatus(ctx, a.Name(), statusURL, "Authorization", "Bearer "+a.creds.Secret, func(body []byte) (bool, error) {
		var resp struct {
			Status string `json:"status"`
		}
		if err := decodeStrict(body, &resp); err != nil {
			return false, err
		}
		return resp.Status == "succeeded", nil
	})
}
