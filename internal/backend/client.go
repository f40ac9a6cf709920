// Package backend calls the session-exchange endpoint that turns a
// provider access token into a first-party session. The call is
// side-effecting, which is why the ledger gates it to at most once per
// token.
//
// Interface requirement on the backend collaborator: the endpoint MUST be
// idempotent per access token. The ledger's cross-tab gate is best-effort
// only (see the ledger package), so a rare duplicate call can reach the
// backend and must be harmless there.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dgellow/auth-front/internal/log"
)

// RejectedError means the backend refused the session exchange.
// Recoverable: the ledger entry is rolled back and the user may retry.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("backend rejected session exchange (status %d): %s", e.Status, e.Message)
}

// Client calls the session-exchange endpoint.
type Client struct {
	callbackURL string
	httpClient  *http.Client
}

// NewClient creates a session-exchange client for callbackURL.
func NewClient(callbackURL string) *Client {
	return &Client{
		callbackURL: callbackURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// callbackResponse is the endpoint's JSON answer. A present error field
// marks failure even under a 2xx status.
type callbackResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ExchangeSession POSTs the access token to the callback endpoint. A nil
// return means the backend established its session for this token.
func (c *Client) ExchangeSession(ctx context.Context, accessToken string) error {
	payload, err := json.Marshal(map[string]string{"access_token": accessToken})
	if err != nil {
		return fmt.Errorf("encoding callback request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.callbackURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling session exchange: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading callback response: %w", err)
	}

	var body callbackResponse
	_ = json.Unmarshal(data, &body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || body.Error != "" {
		message := body.Message
		if message == "" {
			message = body.Error
		}
		if message == "" {
			message = "authentication failed"
		}
		log.LogWarnWithFields("backend", "Session exchange rejected", map[string]any{
			"status": resp.StatusCode,
		})
		return &RejectedError{Status: resp.StatusCode, Message: message}
	}

	log.LogDebug("Session exchange succeeded")
	return nil
}
