package upstream

import (
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

	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// Client interface for testability
type Client interface {
	ListContracts(ctx context.Context, underlying string, expiration *time.Time, cursor string) (*ContractsPage, error)
	ListTrades(ctx context.Context, ticker string, from, to time.Time, cursor string) (*TradesPage, error)
	Snapshot(ctx context.Context, underlying, cursor string) (*SnapshotPage, error)
	MinuteBars(ctx context.Context, ticker string, day time.Time) ([]Bar, error)
	LastPrice(ctx context.Context, ticker string) (float64, error)
}

// HTTPClient talks to a Polygon-style REST API. It performs exactly one
// HTTP exchange per call; retries and pacing belong to the scheduler.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	pageLimit  int
	logger     *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:   baseURL,
		apiKey:    apiKey,
		pageLimit: 250,
		logger:    logger,
	}
}

func (c *HTTPClient) ListContracts(ctx context.Context, underlying string, expiration *time.Time, cursor string) (*ContractsPage, error) {
	q := url.Values{}
	q.Set("underlying_ticker", underlying)
	q.Set("expired", "false")
	q.Set("limit", strconv.Itoa(c.pageLimit))
	if expiration != nil {
		q.Set("expiration_date", expiration.Format(dateLayout))
	}

	var page ContractsPage
	if err := c.get(ctx, "/v3/reference/options/contracts", q, cursor, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) ListTrades(ctx context.Context, ticker string, from, to time.Time, cursor string) (*TradesPage, error) {
	q := url.Values{}
	q.Set("timestamp.gte", strconv.FormatInt(from.UnixNano(), 10))
	q.Set("timestamp.lte", strconv.FormatInt(to.UnixNano(), 10))
	q.Set("order", "asc")
	q.Set("limit", "50000")

	var page TradesPage
	if err := c.get(ctx, "/v3/trades/"+url.PathEscape(ticker), q, cursor, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) Snapshot(ctx context.Context, underlying, cursor string) (*SnapshotPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageLimit))

	var page SnapshotPage
	if err := c.get(ctx, "/v3/snapshot/options/"+url.PathEscape(underlying), q, cursor, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) MinuteBars(ctx context.Context, ticker string, day time.Time) ([]Bar, error) {
	d := day.Format(dateLayout)
	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/minute/%s/%s", url.PathEscape(ticker), d, d)

	q := url.Values{}
	q.Set("adjusted", "true")
	q.Set("sort", "asc")
	q.Set("limit", "50000")

	var resp barsResponse
	if err := c.get(ctx, path, q, "", &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *HTTPClient) LastPrice(ctx context.Context, ticker string) (float64, error) {
	var resp lastTradeResponse
	if err := c.get(ctx, "/v2/last/trade/"+url.PathEscape(ticker), url.Values{}, "", &resp); err != nil {
		return 0, err
	}
	return resp.Results.Price, nil
}

// get performs a GET and decodes the JSON body into out. When cursor is
// set it is the provider's next_url and replaces path and query.
func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, cursor string, out any) error {
	target, err := c.buildURL(path, query, cursor)
	if err != nil {
		return err
	}

	c.logger.Debug("requesting", zap.String("path", path), zap.Bool("paged", cursor != ""))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: executing request: %v", ErrTransient, err)
	}

	// Read body before closing for error messages
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if readErr != nil {
		return fmt.Errorf("%w: reading body: %v", ErrTransient, readErr)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrAuthFailed
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: server error: %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *HTTPClient) buildURL(path string, query url.Values, cursor string) (string, error) {
	raw := c.baseURL + path
	if cursor != "" {
		raw = cursor
		query = nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}

	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("apiKey", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
