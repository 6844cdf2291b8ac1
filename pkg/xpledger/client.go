/**
 * @description
 * This package provides a client for the external XP ledger service, the
 * authoritative owner of every user's experience point balance. The
 * badge-service never trusts a caller-supplied balance for the actual
 * debit: it re-reads the authoritative balance and spends through this
 * client, so two concurrent redemptions cannot both succeed against one
 * stale balance.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package xpledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrInsufficientBalance is returned when the ledger refuses a debit
// because the authoritative balance is too low.
var ErrInsufficientBalance = errors.New("xp ledger: insufficient balance")

// Client is a client for the XP ledger API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new XP ledger client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type balanceResponse struct {
	Data struct {
		UserID  string `json:"user_id"`
		Balance int64  `json:"balance"`
	} `json:"data"`
}

type debitRequest struct {
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

type debitResponse struct {
	Data struct {
		BalanceBefore int64 `json:"balance_before"`
		BalanceAfter  int64 `json:"balance_after"`
	} `json:"data"`
}

type errorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// GetBalance reads the authoritative XP balance for a user.
func (c *Client) GetBalance(ctx context.Context, userID string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/v1/balances/%s", c.BaseURL, userID), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create balance request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-ledger-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute balance request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read balance response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, decodeLedgerError(resp.StatusCode, body)
	}

	var parsed balanceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("failed to decode balance response: %w", err)
	}
	return parsed.Data.Balance, nil
}

// Debit spends XP from a user's balance. The idempotency key lets a retried
// debit land exactly once on the ledger side.
func (c *Client) Debit(ctx context.Context, userID string, amount int64, reason, idempotencyKey string) (balanceBefore, balanceAfter int64, err error) {
	payload, err := json.Marshal(debitRequest{Amount: amount, Reason: reason, IdempotencyKey: idempotencyKey})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to marshal debit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/v1/balances/%s/debit", c.BaseURL, userID), bytes.NewBuffer(payload))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create debit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-ledger-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to execute debit request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read debit response: %w", err)
	}
	if resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusConflict {
		return 0, 0, ErrInsufficientBalance
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return 0, 0, decodeLedgerError(resp.StatusCode, body)
	}

	var parsed debitResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, 0, fmt.Errorf("failed to decode debit response: %w", err)
	}
	return parsed.Data.BalanceBefore, parsed.Data.BalanceAfter, nil
}

// Credit returns previously debited XP to the user. Used as compensation
// when persisting a redemption fails after the ledger debit succeeded.
func (c *Client) Credit(ctx context.Context, userID string, amount int64, reason, idempotencyKey string) error {
	payload, err := json.Marshal(debitRequest{Amount: amount, Reason: reason, IdempotencyKey: idempotencyKey})
	if err != nil {
		return fmt.Errorf("failed to marshal credit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/v1/balances/%s/credit", c.BaseURL, userID), bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create credit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-ledger-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute credit request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return decodeLedgerError(resp.StatusCode, body)
	}
	return nil
}

func decodeLedgerError(status int, body []byte) error {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		return fmt.Errorf("xp ledger error (%d): %s - %s", status, parsed.Errors[0].Title, parsed.Errors[0].Detail)
	}
	return fmt.Errorf("xp ledger returned status %d", status)
}
