package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"
)

type grantRequest struct {
	UserID string `json:"user_id"`
	Plan   string `json:"plan_type"`
	Delta  int64  `json:"delta"`
	Reason string `json:"reason,omitempty"`
}

type remainingResponse struct {
	Remaining int64 `json:"remaining"`
}

// HTTPGrant sends a POST /v1/ledger/grant request and returns the new balance.
func HTTPGrant(t testing.TB, baseURL, userID, plan string, delta int64) int64 {
	t.Helper()
	data, err := json.Marshal(grantRequest{UserID: userID, Plan: plan, Delta: delta})
	if err != nil {
		t.Fatalf("marshal grant request: %v", err)
	}
	var resp remainingResponse
	body := doRequest(t, http.MethodPost, baseURL+"/v1/ledger/grant", data)
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode grant response: %v", err)
	}
	return resp.Remaining
}

// HTTPBalance sends a GET /v1/ledger/balance request.
func HTTPBalance(t testing.TB, baseURL, userID, plan string) int64 {
	t.Helper()
	query := url.Values{"user_id": {userID}, "plan_type": {plan}}
	var resp remainingResponse
	body := doRequest(t, http.MethodGet, baseURL+"/v1/ledger/balance?"+query.Encode(), nil)
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode balance response: %v", err)
	}
	return resp.Remaining
}

// doRequest executes an HTTP request with a JSON payload and returns the body.
func doRequest(t testing.TB, method, url string, payload []byte) []byte {
	t.Helper()
	ctx := Context(t, 2*time.Second)
	reader := bytes.NewReader(payload)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body
}
