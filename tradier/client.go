package tradier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xhhuango/json"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.tradier.com"

	// Market data allows 120 requests a minute; stay at 60% of it.
	requestsPerSec = 1.2
	requestBurst   = 5

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

var ErrUnauthorized = errors.New("tradier: unauthorized")

// Client is a rate limited Tradier market data client. Requests that hit
// 429 or a 5xx are retried with exponential backoff.
type Client struct {
	token     string
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
	retryWait time.Duration
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

// WithRateLimit replaces the default request rate.
func WithRateLimit(perSec float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSec), burst) }
}

func WithRetryWait(d time.Duration) ClientOption {
	return func(c *Client) { c.retryWait = d }
}

func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:     token,
		baseURL:   DefaultBaseURL,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(requestsPerSec, requestBurst),
		retryWait: baseRetryWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Quote fetches the current quote for a single symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (Quote, error) {
	var resp quoteResponse
	q := url.Values{"symbols": {symbol}, "greeks": {"false"}}
	if err := c.get(ctx, "/v1/markets/quotes", q, &resp); err != nil {
		return Quote{}, fmt.Errorf("tradier.Quote %s: %w", symbol, err)
	}
	if resp.Quotes.Quote.Symbol == "" {
		return Quote{}, fmt.Errorf("tradier.Quote %s: no quote returned", symbol)
	}
	return resp.Quotes.Quote, nil
}

// History fetches daily bars between start and end inclusive, oldest first.
func (c *Client) History(ctx context.Context, symbol string, start, end time.Time) ([]HistoryDay, error) {
	var resp QuoteHistory
	q := url.Values{
		"symbol":         {symbol},
		"interval":       {"daily"},
		"start":          {start.Format("2006-01-02")},
		"end":            {end.Format("2006-01-02")},
		"session_filter": {"all"},
	}
	if err := c.get(ctx, "/v1/markets/history", q, &resp); err != nil {
		return nil, fmt.Errorf("tradier.History %s: %w", symbol, err)
	}
	return resp.History.Day, nil
}

// Expirations lists the option expiration dates for symbol.
func (c *Client) Expirations(ctx context.Context, symbol string) ([]string, error) {
	var resp OptionExpirations
	q := url.Values{
		"symbol":          {symbol},
		"includeAllRoots": {"true"},
		"strikes":         {"true"},
		"contractSize":    {"true"},
		"expirationType":  {"true"},
	}
	if err := c.get(ctx, "/v1/markets/options/expirations", q, &resp); err != nil {
		return nil, fmt.Errorf("tradier.Expirations %s: %w", symbol, err)
	}
	return resp.Dates(), nil
}

// Chain fetches the option chain, with greeks, for one expiration date
// formatted as 2006-01-02.
func (c *Client) Chain(ctx context.Context, symbol, expiration string) (*OptionChain, error) {
	chain := &OptionChain{}
	q := url.Values{"symbol": {symbol}, "expiration": {expiration}, "greeks": {"true"}}
	if err := c.get(ctx, "/v1/markets/options/chains", q, chain); err != nil {
		return nil, fmt.Errorf("tradier.Chain %s %s: %w", symbol, expiration, err)
	}
	chain.ExpirationDate = expiration
	return chain, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path + "?" + query.Encode()
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		status, body, err := c.do(ctx, u)
		switch {
		case err != nil && ctx.Err() != nil:
			return err
		case err != nil:
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
		case status == http.StatusUnauthorized:
			return ErrUnauthorized
		case status == http.StatusTooManyRequests || status >= 500:
			slog.Warn("tradier request failed, retrying", "status", status, "attempt", attempt+1, "path", path)
			if attempt == maxRetries {
				return fmt.Errorf("status %d after %d retries", status, maxRetries)
			}
		case status < 200 || status > 299:
			return fmt.Errorf("unexpected status %d: %s", status, strings.TrimSpace(string(body)))
		default:
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("failed to unmarshal response data: %w", err)
			}
			return nil
		}
		c.sleep(ctx, attempt)
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

func (c *Client) do(ctx context.Context, u string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Add("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response data: %w", err)
	}
	return resp.StatusCode, body, nil
}

// sleep backs off exponentially from retryWait, returning early when ctx ends.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := c.retryWait << attempt
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
