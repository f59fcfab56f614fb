package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// Client is the HTTP implementation of Fetcher against the messaging REST
// surface. Retryable failures (network errors, 5xx) back off exponentially
// and feed a circuit breaker, so a down server stops costing a full timeout
// per call; client faults return immediately and never trip the breaker.
type Client struct {
	base  string
	token string
	http  *http.Client
	retry time.Duration
	cb    *gobreaker.CircuitBreaker
}

type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RetryMaxElapsed bounds total retry time per call; zero disables retries.
	RetryMaxElapsed time.Duration
	// BreakerFailures is the consecutive-failure count that opens the
	// circuit; zero keeps the default of 5.
	BreakerFailures uint32
	// BreakerTimeout is how long the circuit stays open; zero keeps the
	// default of 30s.
	BreakerTimeout time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	maxFailures := cfg.BreakerFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout == 0 {
		breakerTimeout = 30 * time.Second
	}
	transport := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "messaging-api",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// A 4xx means the server answered; only transport failures
			// and 5xx count against the circuit.
			var perm *backoff.PermanentError
			return errors.As(err, &perm)
		},
	})
	return &Client{
		base:  cfg.BaseURL,
		token: cfg.Token,
		http:  &http.Client{Transport: transport, Timeout: timeout},
		retry: cfg.RetryMaxElapsed,
		cb:    cb,
	}
}

func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var out struct {
		Data []Conversation `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/messages", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) Thread(ctx context.Context, counterpartID, cursor string, limit int) ([]Message, string, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/messages/" + url.PathEscape(counterpartID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Data       []Message `json:"data"`
		NextCursor string    `json:"nextCursor"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, "", err
	}
	return out.Data, out.NextCursor, nil
}

func (c *Client) MarkRead(ctx context.Context, counterpartID string) (int64, error) {
	path := "/api/v1/messages/" + url.PathEscape(counterpartID) + "/read"
	var out struct {
		UpdatedCount int64 `json:"updatedCount"`
	}
	if err := c.do(ctx, http.MethodPatch, path, nil, &out); err != nil {
		return 0, err
	}
	return out.UpdatedCount, nil
}

// Send posts a new message. The REST call is the authoritative send path;
// anything echoed over the push channel is advisory.
func (c *Client) Send(ctx context.Context, receiverID, content string) (*Message, error) {
	body := map[string]string{"receiverId": receiverID, "content": content}
	var out struct {
		Data Message `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages", body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	operation := func() error {
		_, err := c.cb.Execute(func() (any, error) {
			return nil, c.roundTrip(ctx, method, path, body, out)
		})
		return err
	}

	if c.retry == 0 {
		err := operation()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.retry
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return backoff.Permanent(err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("request rejected: %s", resp.Status))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(err)
		}
	}
	return nil
}
