/**
 * @description
 * Upay gateway adapter. Upay reports webhook success through
 * `status == "SUCCESSFUL"`, carries our transaction id in `invoice_no` and
 * its own reference in `transaction_id`.
 */
package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/iamshibly/AniMaze-sub001/internal/domain"
)

// UpayAdapter integrates the Upay merchant payment API.
type UpayAdapter struct {
	creds Credentials
}

// NewUpayAdapter creates an Upay adapter with the injected credentials.
func NewUpayAdapter(creds Credentials) *UpayAdapter {
	return &UpayAdapter{creds: creds}
}

func (a *UpayAdapter) Name() string { return domain.GatewayUpay }

type upayWebhook struct {
	Status        string `json:"status"`
	InvoiceNo     string `json:"invoice_no"`
	TransactionID string `json:"transaction_id"`
	Remarks       string `json:"remarks"`
}

func (a *UpayAdapter) BuildRedirect(tx *domain.PaymentTransaction) (*RedirectSpec, error) {
	params := map[string]string{
		"merchant_id":  a.creds.MerchantID,
		"invoice_no":   tx.ID.String(),
		"amount":       strconv.FormatInt(tx.Amount, 10),
		"currency":     tx.Currency,
		"payer_msisdn": tx.PayerReference,
	}
	params["signature"] = signParams(params, a.creds.Secret)

	base := a.creds.BaseURL
	if base == "" {
		base = "https://uat-pg.upaybd.com/payment"
	}
	return &RedirectSpec{
		URL:    base + "/merchant-payment/initiate",
		Method: "POST",
		Params: params,
	}, nil
}

func (a *UpayAdapter) ParseWebhook(payload []byte) (*WebhookResult, error) {
	var hook upayWebhook
	if err := decodeStrict(payload, &hook); err != nil {
		return nil, err
	}
	if hook.InvoiceNo == "" || hook.Status == "" {
		return nil, fmt.Errorf("%w: upay webhook missing invoice_no or status", ErrMalformedWebhook)
	}
	return &WebhookResult{
		Success:              hook.Status == "SUCCESSFUL",
		TransactionID:        hook.InvoiceNo,
		GatewayTransactionID: hook.TransactionID,
		Reason:               hook.Remarks,
	}, nil
}

func (a *UpayAdapter) Verify(ctx context.Context, transactionID, gatewayTransactionID string) (bool, error) {
	if !a.creds.live() {
		return true, nil
	}
	statusURL := fmt.Sprintf("%s/merchant-payment/status/%s", a.creds.BaseURL, url.PathEscape(gatewayTransactionID))
	return verifyStatus(ctx, a.Name(), statusURL, "Authorization", "Bearer "+a.creds.Secret, func(body []byte) (bool, error) {
		var resp struct {
			Status string `json:"status"`
		}
		if err := decodeStrict(body, &resp); err != nil {
			return false, err
		}
		return resp.Status == "SUCCESSFUL", nil
	})
}
