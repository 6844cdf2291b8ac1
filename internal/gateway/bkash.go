/**
 * @description
 * bKash gateway adapter. bKash reports webhook success through
 * `transactionStatus == "Completed"`, carries our transaction id in
 * `merchantInvoiceNumber` and its own payment reference in `paymentID`.
 */
package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/iamshibly/AniMaze-sub001/internal/domain"
)

// BkashAdapter integrates the bKash checkout API.
type BkashAdapter struct {
	creds Credentials
}

// NewBkashAdapter creates a bKash adapter with the injected credentials.
func NewBkashAdapter(creds Credentials) *BkashAdapter {
	return &BkashAdapter{creds: creds}
}

func (a *BkashAdapter) Name() string { return domain.GatewayBkash }

// bkashWebhook is the shape bKash posts to our webhook endpoint.
type bkashWebhook struct {
	PaymentID             string `json:"paymentID"`
	TransactionStatus     string `json:"transactionStatus"`
	MerchantInvoiceNumber string `json:"merchantInvoiceNumber"`
	StatusMessage         string `json:"statusMessage"`
}

// BuildRedirect maps the canonical transaction to bKash's create-payment
// redirect parameters.
func (a *BkashAdapter) BuildRedirect(tx *domain.PaymentTransaction) (*RedirectSpec, error) {
	params := map[string]string{
		"mode":                  "0011",
		"appKey":                a.creds.MerchantID,
		"amount":                strconv.FormatInt(tx.Amount, 10),
		"currency":              tx.Currency,
		"intent":                "sale",
		"merchantInvoiceNumber": tx.ID.String(),
		"payerReference":        tx.PayerReference,
	}
	params["signature"] = signParams(params, a.creds.Secret)

	base := a.creds.BaseURL
	if base == "" {
		base = "https://checkout.pay.bka.sh/v1.2.0-beta"
	}
	return &RedirectSpec{
		URL:    base + "/checkout/payment/create",
		Method: "POST",
		Params: params,
	}, nil
}

// ParseWebhook validates and translates a bKash webhook body.
func (a *BkashAdapter) ParseWebhook(payload []byte) (*WebhookResult, error) {
	var hook bkashWebhook
	if err := decodeStrict(payload, &hook); err != nil {
		return nil, err
	}
	if hook.MerchantInvoiceNumber == "" || hook.TransactionStatus == "" {
		return nil, fmt.Errorf("%w: bkash webhook missing merchantInvoiceNumber or transactionStatus", ErrMalformedWebhook)
	}
	return &WebhookResult{
		Success:              hook.TransactionStatus == "Completed",
		TransactionID:        hook.MerchantInvoiceNumber,
		GatewayTransactionID: hook.PaymentID,
		Reason:               hook.StatusMessage,
	}, nil
}

// Verify confirms a payment against bKash's payment status endpoint. In
// stub mode (no base URL configured) the payment is taken at its word.
func (a *BkashAdapter) Verify(ctx context.Context, transactionID, gatewayTransactionID string) (bool, error) {
	if !a.creds.live() {
		return true, nil
	}
	statusURL := fmt.Sprintf("%s/checkout/payment/status/%s", a.creds.BaseURL, url.PathEscape(gatewayTransactionID))
	return verifyStatus(ctx, a.Name(), statusURL, "X-App-Key", a.creds.MerchantID, func(body []byte) (bool, error) {
		var resp struct {
			TransactionStatus string `json:"transactionStatus"`
		}
		if err := decodeStrict(body, &resp); err != nil {
			return false, err
		}
		return resp.TransactionStatus == "Completed", nil
	})
}
