package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nimdanitro/fenceline-dashboard/pkg/window"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrUnexpectedStatus  = errors.New("unexpected status from data service")
	ErrMalformedResponse = errors.New("malformed response from data service")
)

// Fetcher is the data service as seen by the dashboard.
type Fetcher interface {
	FetchReadings(ctx context.Context, auth string, w window.Window) ([]RawReading, error)
	FetchAverages(ctx context.Context, auth string, hours float64) ([]RawReading, error)
}

type Client struct {
	client       *http.Client
	limit        *rate.Limiter
	log          *zap.Logger
	base         *url.URL
	readingsPath string
	averagesPath string
	timeout      time.Duration
}

type Option func(c *Client) error

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	c := &Client{
		log:          zap.L(),
		limit:        rate.NewLimiter(rate.Every(time.Second), 4),
		client:       &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		base:         u,
		readingsPath: "/data",
		averagesPath: "/averages",
		timeout:      30 * time.Second,
	}

	// apply the options
	for _, o := range opts {
		err := o(c)
		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) error {
		if h == nil {
			return errors.New("nil http client")
		}
		c.client = h
		return nil
	}
}

// WithRateLimit allows burst requests and then one every interval.
func WithRateLimit(every time.Duration, burst int) Option {
	return func(c *Client) error {
		if burst < 1 {
			return fmt.Errorf("rate limit burst must be positive, got %d", burst)
		}
		c.limit = rate.NewLimiter(rate.Every(every), burst)
		return nil
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

func WithPaths(readings, averages string) Option {
	return func(c *Client) error {
		if readings != "" {
			c.readingsPath = readings
		}
		if averages != "" {
			c.averagesPath = averages
		}
		return nil
	}
}

// FetchReadings returns the 5 minute readings recorded inside w.
func (c *Client) FetchReadings(ctx context.Context, auth string, w window.Window) ([]RawReading, error) {
	body, err := c.get(ctx, "readings", c.readingsPath, auth, w.Params())
	if err != nil {
		return nil, err
	}
	// the readings endpoint answers [[readings], ...]
	return pick(body, 0, 0)
}

// FetchAverages returns the rolling averages over the given number of hours.
func (c *Client) FetchAverages(ctx context.Context, auth string, hours float64) ([]RawReading, error) {
	q := url.Values{}
	q.Set("hours", strconv.FormatFloat(hours, 'f', -1, 64))
	body, err := c.get(ctx, "averages", c.averagesPath, auth, q)
	if err != nil {
		return nil, err
	}
	// the averages endpoint shares the envelope; its rows sit in the second slot
	return pick(body, 1, 0)
}

func (c *Client) get(ctx context.Context, op, path, auth string, q url.Values) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := c.base.JoinPath(path)
	u.RawQuery = q.Encode()

	c.log.Debug("requesting data service", zap.String("op", op), zap.String("url", u.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		c.log.Error("cannot create request", zap.Error(err))
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", auth)

	// apply the ratelimit
	err = c.limit.Wait(ctx)
	if err != nil {
		c.log.Error("cannot await rate limit", zap.Error(err))
		return nil, err
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	observeRequest(op, resp, time.Since(start))
	if err != nil {
		c.log.Error("error calling data service", zap.String("op", op), zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("data service refused request",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 256)),
		)
		return nil, fmt.Errorf("%s: %w: %d", op, ErrUnexpectedStatus, resp.StatusCode)
	}
	return body, nil
}

// pick decodes the nested envelope and returns envelope[i][j]. Missing slots
// mean there is no data and yield an empty sequence.
func pick(body []byte, i, j int) ([]RawReading, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var outer []json.RawMessage
	if err := dec.Decode(&outer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if i >= len(outer) || isNull(outer[i]) {
		return nil, nil
	}

	var inner []json.RawMessage
	if err := decodeNumbers(outer[i], &inner); err != nil {
		return nil, fmt.Errorf("%w: slot %d: %v", ErrMalformedResponse, i, err)
	}
	if j >= len(inner) || isNull(inner[j]) {
		return nil, nil
	}

	var readings []RawReading
	if err := decodeNumbers(inner[j], &readings); err != nil {
		return nil, fmt.Errorf("%w: slot %d/%d: %v", ErrMalformedResponse, i, j, err)
	}
	return readings, nil
}

func decodeNumbers(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
