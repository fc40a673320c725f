// Package metadata looks up card details by name from a card database API.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrNotFound is returned when the API has no card for the requested name.
var ErrNotFound = errors.New("card not found")

const defaultMaxTries = 4

// Card is the subset of card metadata the importer uses.
type Card struct {
	Name            string `json:"name"`
	Set             string `json:"set"`
	CollectorNumber string `json:"collector_number"`
	Lang            string `json:"lang"`
	ImageURL        string `json:"image_url"`
	// BorderBleed is set for printings whose artwork includes bleed.
	BorderBleed bool `json:"full_bleed"`
}

// Client queries GET {BaseURL}/cards/named?fuzzy={name}.
type Client struct {
	BaseURL  string
	HTTP     *http.Client
	MaxTries uint
	// InitialInterval is the first retry delay; zero keeps the backoff default.
	InitialInterval time.Duration
	Logger          *slog.Logger
}

// NewClient returns a client for baseURL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		HTTP:     &http.Client{Timeout: 15 * time.Second},
		MaxTries: defaultMaxTries,
		Logger:   logger,
	}
}

// Lookup fetches the card named name. Rate limiting, server errors and
// network failures are retried with exponential backoff until ctx is done.
func (c *Client) Lookup(ctx context.Context, name string) (*Card, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("lookup: empty name")
	}

	b := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		b.InitialInterval = c.InitialInterval
	}
	tries := c.MaxTries
	if tries == 0 {
		tries = defaultMaxTries
	}

	card, err := backoff.Retry(ctx, func() (*Card, error) {
		return c.lookupOnce(ctx, name)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.Logger.Warn("metadata lookup retry", "name", name, "err", err, "next", next)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("lookup %q: %w", name, err)
	}
	return card, nil
}

func (c *Client) lookupOnce(ctx context.Context, name string) (*Card, error) {
	target := c.BaseURL + "/cards/named?fuzzy=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(context.Cause(ctx))
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return nil, backoff.RetryAfter(secs)
		}
		return nil, fmt.Errorf("rate limited")
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, backoff.Permanent(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var card Card
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return &card, nil
}

// Result pairs a requested name with its lookup outcome.
type Result struct {
	Name string
	Card *Card
	Err  error
}

// LookupAll resolves names in order. It stops at the first context error,
// returning the results gathered so far; per-name failures are kept in Result.Err.
func (c *Client) LookupAll(ctx context.Context, names []string) ([]Result, error) {
	out := make([]Result, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return out, context.Cause(ctx)
		}
		card, err := c.Lookup(ctx, name)
		if err != nil && ctx.Err() != nil {
			return out, context.Cause(ctx)
		}
		out = append(out, Result{Name: name, Card: card, Err: err})
	}
	return out, nil
}
