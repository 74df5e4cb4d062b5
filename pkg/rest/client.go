// Package rest issues signed and unsigned HTTP queries against one
// exchange's REST API. Transport failures are retried with backoff, every
// response is classified by the exchange's error taxonomy, and credentials
// rotate after each private call.
package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/shopspring/decimal"

	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
	"github.com/veiloq/tradecore/pkg/logging"
	"github.com/veiloq/tradecore/pkg/ratelimit"
)

// Signer produces the API-Sign header value for one private request.
// Implementations are exchange specific.
type Signer interface {
	Sign(path string, postData string, nonce int64, secret string) (string, error)
}

// Result is the terminal outcome of one query: the HTTP status of the final
// attempt and the decoded result payload.
type Result struct {
	StatusCode int
	Value      []byte
}

// Config holds REST client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// RateLimit paces all outbound calls, public and private.
	RateLimit ratelimit.Rate

	// TransportRetries and TransportRetryDelay govern retries of transport
	// level I/O failures (refused, reset, DNS). Exchange-level errors are
	// governed by the taxonomy instead.
	TransportRetries    uint
	TransportRetryDelay time.Duration

	Logger logging.Logger
}

// Client drives the query loop described by the exchange error taxonomy:
// send, classify, and while the decision is not final, sleep and resend.
// The loop imposes no retry ceiling of its own; callers needing one wrap
// the call in a context deadline.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    ratelimit.RateLimiter
	keys       *KeyPool
	nonces     *NonceSource
	signer     Signer
	requests   interfaces.RequestParser
	responses  interfaces.ResponseParser
	classifier interfaces.ErrorClassifier
	table      *interfaces.SymbolTable
	logger     logging.Logger
}

// NewClient creates a REST client for one exchange.
func NewClient(cfg Config, keys *KeyPool, signer Signer, requests interfaces.RequestParser,
	responses interfaces.ResponseParser, classifier interfaces.ErrorClassifier) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RateLimit.Limit <= 0 {
		cfg.RateLimit = ratelimit.Rate{Limit: 1, Interval: time.Second}
	}
	if cfg.TransportRetries == 0 {
		cfg.TransportRetries = 3
	}
	if cfg.TransportRetryDelay <= 0 {
		cfg.TransportRetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    ratelimit.NewTokenBucketLimiter(cfg.RateLimit),
		keys:       keys,
		nonces:     NewNonceSource(),
		signer:     signer,
		requests:   requests,
		responses:  responses,
		classifier: classifier,
		logger:     cfg.Logger,
	}
}

// Close releases the underlying HTTP transport.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// QueryPublic issues an unsigned query for a canonical method name.
func (c *Client) QueryPublic(ctx context.Context, method string, params url.Values) (Result, error) {
	path, private, err := c.requests.Endpoint(method)
	if err != nil {
		return Result{}, err
	}
	if private {
		return Result{}, fmt.Errorf("method %s requires a signed request", method)
	}
	return c.query(ctx, path, params, false)
}

// QueryPrivate issues a signed query for a canonical method name. The
// request carries a strictly increasing nonce and the API-Key / API-Sign
// headers. After the call the key pool rotates to the next credential,
// except on authentication failure: retrying or rotating on a bad credential
// only hides which key failed.
func (c *Client) QueryPrivate(ctx context.Context, method string, params url.Values) (Result, error) {
	path, private, err := c.requests.Endpoint(method)
	if err != nil {
		return Result{}, err
	}
	if !private {
		return Result{}, fmt.Errorf("method %s is not a private endpoint", method)
	}
	if c.keys == nil {
		return Result{}, fmt.Errorf("method %s: no credentials configured: %w", method, interfaces.ErrAuthentication)
	}
	res, err := c.query(ctx, path, params, true)
	if !errors.Is(err, interfaces.ErrAuthentication) {
		c.keys.Rotate()
	}
	return res, err
}

// query runs the taxonomy loop for one request.
func (c *Client) query(ctx context.Context, path string, params url.Values, private bool) (Result, error) {
	if params == nil {
		params = url.Values{}
	}
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, err
		}

		status, body, err := c.send(ctx, path, params, private)
		if err != nil {
			return Result{}, fmt.Errorf("query %s: %w", path, err)
		}

		codes, result, envErr := c.responses.Envelope(body)
		if envErr != nil {
			c.logger.Warn("unparseable response envelope",
				logging.String("path", path),
				logging.Error(envErr))
			return Result{StatusCode: status}, envErr
		}

		decision := c.classifier.Classify(status, codes)
		if decision.Accept {
			if decision.Err != nil {
				c.logger.Warn("request rejected",
					logging.String("path", path),
					logging.String("codes", strings.Join(codes, ",")),
					logging.String("params", params.Encode()),
					logging.Error(decision.Err))
				return Result{StatusCode: status}, decision.Err
			}
			return Result{StatusCode: status, Value: result}, nil
		}

		c.logger.Info("retryable exchange error, sleeping",
			logging.String("path", path),
			logging.String("codes", strings.Join(codes, ",")),
			logging.Duration("sleep", decision.Sleep))
		select {
		case <-ctx.Done():
			return Result{StatusCode: status}, ctx.Err()
		case <-time.After(decision.Sleep):
		}
	}
}

// send performs one HTTP exchange, retrying transport-level failures.
func (c *Client) send(ctx context.Context, path string, params url.Values, private bool) (int, []byte, error) {
	var status int
	var body []byte

	err := retry.Do(
		func() error {
			req, err := c.buildRequest(ctx, path, params, private)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("http request error: %w", err)
			}
			defer resp.Body.Close()
			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			status = resp.StatusCode
			return nil
		},
		retry.Attempts(c.cfg.TransportRetries),
		retry.Delay(c.cfg.TransportRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying request",
				logging.Int("attempt", int(n+1)),
				logging.String("path", path),
				logging.Error(err))
		}),
	)
	if err != nil {
		return 0, nil, err
	}
	return status, body, nil
}

func (c *Client) buildRequest(ctx context.Context, path string, params url.Values, private bool) (*http.Request, error) {
	if !private {
		reqURL := c.cfg.BaseURL + path
		if encoded := params.Encode(); encoded != "" {
			reqURL += "?" + encoded
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	}

	// Private requests are POSTs signed over path and form body. The nonce
	// must be baked into the signed body, so each attempt re-signs with a
	// fresh nonce.
	signed := url.Values{}
	for k, vs := range params {
		signed[k] = vs
	}
	nonce := c.nonces.Next()
	signed.Set("nonce", strconv.FormatInt(nonce, 10))

	cred := c.keys.Current()
	postData := signed.Encode()
	signature, err := c.signer.Sign(path, postData, nonce, cred.Secret)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(postData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", cred.Key)
	req.Header.Set("API-Sign", signature)
	return req, nil
}

// SetSymbolTable installs the pair table used by the typed query surface.
// Called once after LoadInstruments at connector startup.
func (c *Client) SetSymbolTable(table *interfaces.SymbolTable) {
	c.table = table
}

func (c *Client) nativePair(symbol interfaces.Symbol) (string, error) {
	if c.table == nil {
		return "", fmt.Errorf("symbol table not loaded")
	}
	return c.table.ToNative(symbol)
}

// LoadInstruments fetches the instrument metadata, builds the symbol table,
// and installs it on the client.
func (c *Client) LoadInstruments(ctx context.Context) (*interfaces.SymbolTable, error) {
	res, err := c.QueryPublic(ctx, "instrument", nil)
	if err != nil {
		return nil, err
	}
	specs, pairs, err := c.responses.ParseInstruments(res.Value)
	if err != nil {
		return nil, err
	}
	table, err := interfaces.NewSymbolTable(pairs, specs)
	if err != nil {
		return nil, err
	}
	c.table = table
	return table, nil
}

// OHLC fetches candles for one symbol at the given interval.
func (c *Client) OHLC(ctx context.Context, symbol interfaces.Symbol, interval time.Duration) ([]interfaces.Candle, error) {
	native, err := c.nativePair(symbol)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("pair", native)
	params.Set("interval", strconv.Itoa(int(interval.Minutes())))
	res, err := c.QueryPublic(ctx, "ohlc", params)
	if err != nil {
		return nil, err
	}
	return c.responses.ParseOHLC(res.Value, symbol, interval)
}

// RecentTrades fetches the public trade tape for one symbol.
func (c *Client) RecentTrades(ctx context.Context, symbol interfaces.Symbol) ([]interfaces.Trade, error) {
	native, err := c.nativePair(symbol)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("pair", native)
	res, err := c.QueryPublic(ctx, "trades", params)
	if err != nil {
		return nil, err
	}
	return c.responses.ParseTrades(res.Value, symbol)
}

// OrderBookSnapshot fetches a depth snapshot for one symbol.
func (c *Client) OrderBookSnapshot(ctx context.Context, symbol interfaces.Symbol, depth int) (*interfaces.BookUpdate, error) {
	native, err := c.nativePair(symbol)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("pair", native)
	if depth > 0 {
		params.Set("count", strconv.Itoa(depth))
	}
	res, err := c.QueryPublic(ctx, "orderbook", params)
	if err != nil {
		return nil, err
	}
	return c.responses.ParseBook(res.Value, symbol)
}

// Balances fetches account balances per asset.
func (c *Client) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	res, err := c.QueryPrivate(ctx, "balances", nil)
	if err != nil {
		return nil, err
	}
	return c.responses.ParseBalances(res.Value)
}

// Exposure fetches the margin trade balance summary.
func (c *Client) Exposure(ctx context.Context) (map[string]decimal.Decimal, error) {
	res, err := c.QueryPrivate(ctx, "exposure", nil)
	if err != nil {
		return nil, err
	}
	return c.responses.ParseBalances(res.Value)
}

// OpenOrders fetches the currently open orders.
func (c *Client) OpenOrders(ctx context.Context) (map[string]*interfaces.Order, error) {
	res, err := c.QueryPrivate(ctx, "open_orders", nil)
	if err != nil {
		return nil, err
	}
	return c.responses.ParseOrders(res.Value)
}

// ClosedOrders fetches historical closed orders.
func (c *Client) ClosedOrders(ctx context.Context) (map[string]*interfaces.Order, error) {
	res, err := c.QueryPrivate(ctx, "closed_orders", nil)
	if err != nil {
		return nil, err
	}
	return c.responses.ParseOrders(res.Value)
}

// OrderInfo fetches one or more orders by id.
func (c *Client) OrderInfo(ctx context.Context, ids ...string) (map[string]*interfaces.Order, error) {
	params := url.Values{}
	params.Set("txid", strings.Join(ids, ","))
	res, err := c.QueryPrivate(ctx, "order_info", params)
	if err != nil {
		return nil, err
	}
	return c.responses.ParseOrders(res.Value)
}

// TradesHistory fetches the account's fill history.
func (c *Client) TradesHistory(ctx context.Context) ([]interfaces.Trade, error) {
	res, err := c.QueryPrivate(ctx, "trades_history", nil)
	if err != nil {
		return nil, err
	}
	return c.responses.ParseTrades(res.Value, "")
}

// OpenPositions fetches open margin positions.
func (c *Client) OpenPositions(ctx context.Context) ([]interfaces.Position, error) {
	res, err := c.QueryPrivate(ctx, "open_positions", nil)
	if err != nil {
		return nil, err
	}
	return c.responses.ParsePositions(res.Value)
}

// PlaceOrder validates and submits an order over REST.
func (c *Client) PlaceOrder(ctx context.Context, req interfaces.AddOrderRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	params, err := c.requests.AddOrderParams(req)
	if err != nil {
		return err
	}
	_, err = c.QueryPrivate(ctx, "place_order", params)
	return err
}

// CancelOrder validates and submits a cancellation over REST.
func (c *Client) CancelOrder(ctx context.Context, req interfaces.CancelOrderRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	params, err := c.requests.CancelOrderParams(req)
	if err != nil {
		return err
	}
	_, err = c.QueryPrivate(ctx, "cancel_order", params)
	return err
}

// WSToken fetches the token authorizing private WebSocket feeds.
func (c *Client) WSToken(ctx context.Context) (string, error) {
	res, err := c.QueryPrivate(ctx, "ws_token", nil)
	if err != nil {
		return "", err
	}
	return c.responses.ParseToken(res.Value)
}
