// Package catalog is the client for the remote catalog service, the system of
// record for tracked products.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"resty.dev/v3"

	"github.com/MrSnakeDoc/quickbasket/internal/credentials"
	"github.com/MrSnakeDoc/quickbasket/internal/logger"
	"github.com/MrSnakeDoc/quickbasket/internal/metrics"
)

const breakerName = "catalog-api"

// Options configures a Client.
type Options struct {
	BaseURL        string
	Timeout        time.Duration // applied to every call
	ClientID       string
	ClientVersion  string
	Credentials    credentials.Provider
	BreakerTimeout time.Duration // time spent open before a half-open trial
	BreakerTrips   int           // consecutive failures that open the breaker
}

// Client talks to the catalog service over REST. Every call carries an
// explicit timeout and goes through a circuit breaker; 4xx answers do not count
// as breaker failures.
type Client struct {
	http    *resty.Client
	cb      *gobreaker.CircuitBreaker[*resty.Response]
	creds   credentials.Provider
	timeout time.Duration
	logger  logger.Logger
}

func New(opts Options, log logger.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	if opts.BreakerTrips <= 0 {
		opts.BreakerTrips = 5
	}
	if opts.Credentials == nil {
		opts.Credentials = credentials.None{}
	}

	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("X-Client-Id", opts.ClientID).
		SetHeader("X-Client-Version", opts.ClientVersion)

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	trips := uint32(opts.BreakerTrips)
	cb := gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("catalog circuit breaker state change",
				logger.String("from", from.String()),
				logger.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Client{
		http:    httpClient,
		cb:      cb,
		creds:   opts.Credentials,
		timeout: opts.Timeout,
		logger:  log,
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

// BreakerState is exposed on /infra.
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}

// ─────────────────────────────
// Endpoints
// ─────────────────────────────

func (c *Client) Track(ctx context.Context, req TrackRequest) (*TrackResponse, error) {
	var out TrackResponse
	if err := c.do(ctx, "track", http.MethodPost, "/track", req, &out); err != nil {
		return nil, err
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	var raw []Product
	if err := c.do(ctx, "list_products", http.MethodGet, "/products", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]Product, 0, len(raw))
	for i := range raw {
		if err := raw[i].validate(); err != nil {
			// one bad row must not block scheduling of the others
			c.logger.Warn("dropping malformed product from catalog list", logger.Error(err))
			continue
		}
		out = append(out, raw[i])
	}
	return out, nil
}

func (c *Client) GetProduct(ctx context.Context, id RemoteID) (*Product, error) {
	var out Product
	if err := c.do(ctx, "get_product", http.MethodGet, productPath(id), nil, &out); err != nil {
		return nil, err
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateInterval(ctx context.Context, id RemoteID, hours int) (*IntervalResponse, error) {
	var out IntervalResponse
	if err := c.do(ctx, "update_interval", http.MethodPatch, productPath(id)+"/interval", updateIntervalRequest{UpdateInterval: hours}, &out); err != nil {
		return nil, err
	}
	if !out.NextRunAt.Valid {
		return nil, fmt.Errorf("%w: interval response without next_run_at", ErrMalformed)
	}
	return &out, nil
}

func (c *Client) DeleteProduct(ctx context.Context, id RemoteID) error {
	return c.do(ctx, "delete_product", http.MethodDelete, productPath(id), nil, nil)
}

func (c *Client) RecordScrape(ctx context.Context, id RemoteID, req RecordScrapeRequest) (*RecordScrapeResponse, error) {
	var out RecordScrapeResponse
	if err := c.do(ctx, "record_scrape", http.MethodPost, productPath(id)+"/record-scrape", req, &out); err != nil {
		return nil, err
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PendingAlerts(ctx context.Context) ([]Alert, error) {
	var out []Alert
	if err := c.do(ctx, "pending_alerts", http.MethodGet, "/alerts/pending?source=extension", nil, &out); err != nil {
		return nil, err
	}
	valid := out[:0]
	for _, a := range out {
		if a.ID != "" {
			valid = append(valid, a)
		}
	}
	return valid, nil
}

func (c *Client) AckAlert(ctx context.Context, id RemoteID) error {
	return c.do(ctx, "ack_alert", http.MethodPost, "/alerts/"+url.PathEscape(string(id))+"/ack", ackRequest{Source: "extension"}, nil)
}

// Probe issues a cache-busting HEAD /health bounded by timeout. It bypasses the
// breaker because it is what detects recovery.
func (c *Client) Probe(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Cache-Control", "no-cache").
		SetQueryParam("_", strconv.FormatInt(time.Now().UnixNano(), 10)).
		Head("/health")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return &APIError{Op: "health", Status: resp.StatusCode()}
	}
	return nil
}

// ─────────────────────────────
// Plumbing
// ─────────────────────────────

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	start := time.Now()
	err := c.execute(ctx, op, method, path, body, out)
	metrics.ObserveCatalog(op, start, err)
	if err != nil {
		c.logger.Debug("catalog request failed",
			logger.String("op", op),
			logger.String("path", path),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err))
	}
	return err
}

func (c *Client) execute(ctx context.Context, op, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.creds.Token(ctx)
	if err != nil {
		c.logger.Warn("credential provider failed, sending unauthenticated request", logger.Error(err))
		token = ""
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
	}

	resp, err := c.cb.Execute(func() (*resty.Response, error) {
		req := c.http.R().SetContext(ctx)
		if token != "" {
			req.SetAuthToken(token)
		}
		if payload != nil {
			req.SetHeader("Content-Type", "application/json").SetBody(payload)
		}
		resp, err := req.Execute(method, path)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return resp, &APIError{Op: op, Status: resp.StatusCode(), Detail: detailFrom([]byte(resp.String()))}
		}
		return resp, nil
	})
	if err != nil {
		var apiErr *APIError
		switch {
		case errors.As(err, &apiErr):
			return apiErr
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return fmt.Errorf("%w: %s: breaker %v", ErrUnavailable, op, err)
		default:
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
		}
	}

	raw := []byte(resp.String())
	if resp.IsError() {
		return &APIError{Op: op, Status: resp.StatusCode(), Detail: detailFrom(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, op, err)
	}
	return nil
}

func productPath(id RemoteID) string {
	return "/products/" + url.PathEscape(string(id))
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
