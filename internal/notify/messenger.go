// Package notify sends outbound chat messages through the UltraMsg
// HTTP API. Delivery is best-effort with a bounded retry; a booking
// never fails because a notification could not be sent.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Messenger is the outbound side of the chat transport.
type Messenger interface {
	SendText(ctx context.Context, toPhone, body string) error
}

// UltraMsgClient talks to one UltraMsg instance. All messages go
// through the instance's /messages/chat endpoint as form posts.
type UltraMsgClient struct {
	baseURL    string
	instanceID string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

const (
	defaultBaseURL = "https://api.ultramsg.com"
	maxAttempts    = 3
	retryBackoff   = 500 * time.Millisecond
)

func NewUltraMsgClient(baseURL, instanceID, token string, log zerolog.Logger) *UltraMsgClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &UltraMsgClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		instanceID: instanceID,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.With().Str("component", "ultramsg").Logger(),
	}
}

type sendResponse struct {
	Sent  string `json:"sent"`
	Error any    `json:"error"`
}

// SendText delivers one text message, retrying transient failures.
// 4xx responses are not retried; the payload will not get better.
func (c *UltraMsgClient) SendText(ctx context.Context, toPhone, body string) error {
	endpoint := fmt.Sprintf("%s/%s/messages/chat", c.baseURL, c.instanceID)

	form := url.Values{}
	form.Set("token", c.token)
	form.Set("to", toPhone)
	form.Set("body", body)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt-1)):
			}
		}

		lastErr = c.post(ctx, endpoint, form)
		if lastErr == nil {
			c.log.Debug().Str("to", toPhone).Int("attempt", attempt).Msg("message sent")
			return nil
		}
		if !isRetryable(lastErr) {
			break
		}
		c.log.Warn().Err(lastErr).Str("to", toPhone).Int("attempt", attempt).Msg("send failed, retrying")
	}

	return fmt.Errorf("send message to %s: %w", toPhone, lastErr)
}

func (c *UltraMsgClient) post(ctx context.Context, endpoint string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return &transportError{err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err == nil && out.Error != nil {
		return fmt.Errorf("api error: %v", out.Error)
	}
	return nil
}

// transportError marks failures worth a retry: network errors and 5xx.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

// NopMessenger discards everything. Used when the transport is not
// configured, e.g. local development against seed data.
type NopMessenger struct{}

func (NopMessenger) SendText(context.Context, string, string) error { return nil }
