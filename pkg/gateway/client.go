// Package gateway is a client for the ledger gateway: the GraphQL
// transaction index, the network info endpoint and raw transaction data.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/janekolszak/warp/logging"
	"github.com/janekolszak/warp/pkg/interaction"
	"github.com/janekolszak/warp/pkg/loader"
	"github.com/janekolszak/warp/pkg/metrics"
	"github.com/janekolszak/warp/pkg/tracing"
)

// Config configures a Client.
type Config struct {
	// URL is the gateway base URL, e.g. "https://arweave.net".
	URL string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// MaxRetries is the number of HTTP-level retries for 5xx and
	// connection errors.
	MaxRetries int

	// RequestsPerSecond limits the request rate. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		URL:               "https://arweave.net",
		Timeout:           30 * time.Second,
		MaxRetries:        3,
		RequestsPerSecond: 10,
		Burst:             5,
	}
}

// Client talks to a gateway. It implements loader.Source.
type Client struct {
	base    string
	http    *retryablehttp.Client
	limiter *rate.Limiter
	logger  *logging.Logger
	metrics metrics.Metrics
	tracer  tracing.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracer sets the tracer. Requests carry the caller's span context in
// their headers.
func WithTracer(t tracing.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithHTTPClient replaces the transport used underneath the retrying client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http.HTTPClient = hc
		}
	}
}

// NewClient creates a gateway client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("gateway: empty URL")
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = cfg.MaxRetries
	hc.RetryWaitMin = 100 * time.Millisecond
	hc.RetryWaitMax = 2 * time.Second
	if cfg.Timeout > 0 {
		hc.HTTPClient.Timeout = cfg.Timeout
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		base:    strings.TrimRight(cfg.URL, "/"),
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logging.NewNopLogger(),
		metrics: metrics.NewNopMetrics(),
		tracer:  tracing.NullTracer{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("gateway")
	// *slog.Logger satisfies retryablehttp.LeveledLogger.
	c.http.Logger = c.logger.Logger
	return c, nil
}

// StatusError is returned for non-success HTTP responses.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway %s: status %d: %s", e.Endpoint, e.Code, e.Body)
}

// headerCarrier adapts http.Header to tracing.Carrier.
type headerCarrier http.Header

func (h headerCarrier) Get(key string) string { return http.Header(h).Get(key) }
func (h headerCarrier) Set(key, value string) { http.Header(h).Set(key, value) }

func (h headerCarrier) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, body []byte) (_ []byte, err error) {
	ctx, span := c.tracer.StartSpan(ctx, tracing.SpanGatewayCall,
		tracing.WithSpanKind(tracing.SpanKindClient),
		tracing.WithAttributes(tracing.String(tracing.AttrEndpoint, endpoint)))
	defer func() {
		span.Fail(err)
		span.End()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody any
	if body != nil {
		reqBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.tracer.Inject(ctx, headerCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.ObserveGatewayRequest(endpoint, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	return data, nil
}

type infoResponse struct {
	Height uint64 `json:"height"`
}

// TipHeight implements loader.Source using the /info endpoint.
func (c *Client) TipHeight(ctx context.Context) (uint64, error) {
	data, err := c.do(ctx, metrics.EndpointInfo, http.MethodGet, "/info", nil)
	if err != nil {
		return 0, err
	}
	var info infoResponse
	if err := json.Unmarshal(data, &info); err != nil {
		return 0, fmt.Errorf("decoding network info: %w", err)
	}
	return info.Height, nil
}

// Data returns the raw data of a transaction.
func (c *Client) Data(ctx context.Context, txID string) ([]byte, error) {
	return c.do(ctx, metrics.EndpointData, http.MethodGet, "/"+txID, nil)
}

// Interactions implements loader.Source.
func (c *Client) Interactions(ctx context.Context, q loader.Query) (*loader.Page, error) {
	vars := map[string]any{
		"tags": []tagFilter{{Name: q.TagName, Values: []string{q.TagValue}}},
		"first": q.PageSize,
	}
	block := map[string]uint64{}
	if q.MinHeight > 0 {
		block["min"] = q.MinHeight
	}
	if q.MaxHeight > 0 {
		block["max"] = q.MaxHeight
	}
	vars["blockFilter"] = block
	if q.After != "" {
		vars["after"] = q.After
	}

	var result transactionsResult
	if err := c.query(ctx, interactionsQuery, vars, &result); err != nil {
		return nil, err
	}

	page := &loader.Page{HasNextPage: result.Transactions.PageInfo.HasNextPage}
	for _, e := range result.Transactions.Edges {
		page.Edges = append(page.Edges, loader.Edge{
			Node:   e.Node.record(),
			Cursor: e.Cursor,
		})
	}
	c.logger.Debug("fetched interactions page",
		logging.ContractID(q.TagValue),
		logging.Cursor(q.After),
		logging.Count(len(page.Edges)))
	return page, nil
}

// Transaction looks up a single transaction by id. Transactions without a
// block are returned with a zero Block.
func (c *Client) Transaction(ctx context.Context, id string) (*interaction.Record, error) {
	var result transactionResult
	if err := c.query(ctx, transactionQuery, map[string]any{"id": id}, &result); err != nil {
		return nil, err
	}
	if result.Transaction == nil {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrTransactionNotFound)
	}
	return result.Transaction.record(), nil
}

// ErrTransactionNotFound is returned when the gateway has no such transaction.
var ErrTransactionNotFound = errors.New("transaction not found")

func (c *Client) query(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encoding graphql request: %w", err)
	}
	data, err := c.do(ctx, metrics.EndpointGraphQL, http.MethodPost, "/graphql", body)
	if err != nil {
		return err
	}

	var resp graphQLResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decoding graphql response: %w", err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("decoding graphql data: %w", err)
	}
	return nil
}

var _ loader.Source = (*Client)(nil)
