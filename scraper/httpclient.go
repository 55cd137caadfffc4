package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"resale-pricer/utils"
)

const maxBodyBytes = 8 << 20

// Client performs requests against marketplace APIs with retry and
// exponential back-off. Per-call deadlines come from the caller's context.
type Client struct {
	http      *http.Client
	userAgent string
	retry     *utils.RetryConfig
	limiter   *rate.Limiter
}

// NewClient creates a Client. maxRetries counts attempts, not extra retries.
func NewClient(userAgent string, maxRetries int, logger *utils.Logger) *Client {
	return &Client{
		http:      &http.Client{Timeout: 60 * time.Second},
		userAgent: userAgent,
		retry: &utils.RetryConfig{
			MaxAttempts: maxRetries,
			BaseDelay:   500 * time.Millisecond,
			Logger:      logger,
		},
	}
}

// WithRateLimit caps outgoing requests, retries included, at rps per second.
// A non-positive rps removes the cap.
func (c *Client) WithRateLimit(rps float64, burst int) *Client {
	if rps <= 0 {
		c.limiter = nil
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// GetJSON fetches url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

// PostJSON sends body as JSON to url and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, payload, out)
}

// GetHTML fetches url and returns the raw page body.
func (c *Client) GetHTML(ctx context.Context, url string) ([]byte, error) {
	return c.fetch(ctx, http.MethodGet, url, nil, "text/html,application/xhtml+xml")
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte, out any) error {
	data, err := c.fetch(ctx, method, url, payload, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %v: %w", err, utils.ErrPermanent)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, method, url string, payload []byte, accept string) ([]byte, error) {
	var data []byte
	err := c.retry.Do(ctx, method+" "+url, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit: %v: %w", err, utils.ErrPermanent)
			}
		}
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return fmt.Errorf("build request: %v: %w", err, utils.ErrPermanent)
		}
		req.Header.Set("Accept", accept)
		req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return fmt.Errorf("status %d: %w", resp.StatusCode, utils.ErrPermanent)
		}
		data = b
		return nil
	})
	return data, err
}
