// Package httpclient implements ledger.Client against a remote ledgerd.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"aigateway/internal/ledger"
)

// Client implements ledger.Client over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// New constructs a client for the given base URL.
func New(baseURL string) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{}}
}

// NewWithTimeout constructs a client for the given base URL with a request timeout.
func NewWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Consume takes a credit over HTTP.
func (c *Client) Consume(ctx context.Context, charge ledger.Charge) (ledger.ConsumeResult, error) {
	var res ledger.ConsumeResult
	if err := c.post(ctx, "/v1/ledger/consume", charge, &res); err != nil {
		return ledger.ConsumeResult{}, err
	}
	return res, nil
}

// Refund returns a credit over HTTP.
func (c *Client) Refund(ctx context.Context, charge ledger.Charge) (ledger.RefundResult, error) {
	var res ledger.RefundResult
	if err := c.post(ctx, "/v1/ledger/refund", charge, &res); err != nil {
		return ledger.RefundResult{}, err
	}
	return res, nil
}

// Grant adjusts a balance over HTTP.
func (c *Client) Grant(ctx context.Context, grant ledger.Grant) (int64, error) {
	var res struct {
		Remaining int64 `json:"remaining"`
	}
	if err := c.post(ctx, "/v1/ledger/grant", grant, &res); err != nil {
		return 0, err
	}
	return res.Remaining, nil
}

// Balance reads a balance over HTTP.
func (c *Client) Balance(ctx context.Context, userID, plan string) (int64, error) {
	query := url.Values{}
	query.Set("user_id", userID)
	query.Set("plan_type", plan)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/ledger/balance?"+query.Encode(), nil)
	if err != nil {
		return 0, err
	}
	body, status, err := c.do(req)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, decodeHTTPError(status, body)
	}
	var res struct {
		Remaining int64 `json:"remaining"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, err
	}
	return res.Remaining, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	body, status, err := c.do(req)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return decodeHTTPError(status, body)
	}
	return json.Unmarshal(body, out)
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// decodeHTTPError maps server error codes back onto ledger sentinel errors.
func decodeHTTPError(status int, body []byte) error {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != "" {
		switch resp.Error {
		case "invalid_request":
			return fmt.Errorf("http %d: %w", status, ledger.ErrInvalidRequest)
		case "insufficient_balance":
			return fmt.Errorf("http %d: %w", status, ledger.ErrInsufficientBalance)
		}
		return fmt.Errorf("http %d: %s", status, resp.Error)
	}
	return fmt.Errorf("http %d", status)
}
