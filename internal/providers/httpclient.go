package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPClient is the shared transport for OpenAI-compatible vendors. It
// applies the vendor's client-side rate limit and turns non-2xx responses
// into classified errors.
type HTTPClient struct {
	ID      ID
	BaseURL string
	APIKey  string
	Headers map[string]string

	HTTP    *http.Client
	Limiter *rate.Limiter
}

// NewHTTPClient builds a client. perMinute <= 0 disables client-side limiting.
func NewHTTPClient(id ID, baseURL, apiKey string, timeout time.Duration, perMinute int) *HTTPClient {
	c := &HTTPClient{
		ID:      id,
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
	if perMinute > 0 {
		c.Limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
	return c
}

const maxErrorBody = 2048

// Do sends req and returns the response body of a 2xx reply.
func (c *HTTPClient) Do(ctx context.Context, req *http.Request) ([]byte, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, Transient(c.ID, 0, err)
		}
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req.WithContext(ctx))
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, Fatal(c.ID, 0, ctx.Err())
		}
		return nil, Transient(c.ID, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, FromStatus(c.ID, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(c.ID, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

func (c *HTTPClient) URL(path string) string {
	return c.BaseURL + "/" + strings.TrimLeft(path, "/")
}
