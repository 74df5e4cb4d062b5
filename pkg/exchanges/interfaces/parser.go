package interfaces

import (
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Category is the coarse classification of an inbound WebSocket message,
// determined by cheap shape checks without fully decoding the payload.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryHeartbeat
	CategoryConnectionStatus
	CategorySubscriptionStatus
	CategoryData
)

// String returns the category name for log output.
func (c Category) String() string {
	switch c {
	case CategoryHeartbeat:
		return "heartbeat"
	case CategoryConnectionStatus:
		return "connection_status"
	case CategorySubscriptionStatus:
		return "subscription_status"
	case CategoryData:
		return "data"
	default:
		return "unknown"
	}
}

// Event is a canonical event decoded from one WebSocket message. Consumers
// type-switch on the concrete event types below.
type Event interface {
	event()
}

// HeartbeatEvent signals the connection is alive.
type HeartbeatEvent struct {
	Exchange string
}

// ConnectionStatusEvent reports the exchange's view of the connection.
type ConnectionStatusEvent struct {
	ConnectionID uint64
	Status       string // online | offline
	Version      string
}

// SubscriptionStatusEvent acknowledges a subscribe or unsubscribe request.
// The supervisor updates its confirmed-subscription set only on this event,
// never optimistically at send time.
type SubscriptionStatusEvent struct {
	Feed    string
	Symbol  Symbol
	Status  string // subscribed | unsubscribed | error
	Message string
}

// TradesEvent carries one or more fills, public or private.
type TradesEvent struct {
	Trades []Trade
}

// BookEvent carries an order book snapshot or incremental update.
type BookEvent struct {
	Update BookUpdate
}

// OrdersEvent carries a batch of canonical orders keyed by order id from the
// private feed, partitioned into inserts (first sight) and updates.
type OrdersEvent struct {
	Orders map[string]*Order
	Insert bool
}

func (HeartbeatEvent) event()          {}
func (ConnectionStatusEvent) event()   {}
func (SubscriptionStatusEvent) event() {}
func (TradesEvent) event()             {}
func (BookEvent) event()               {}
func (OrdersEvent) event()             {}

// SubscribeRequest is the canonical WebSocket control frame. It is either
// sent as-is or rendered into the exchange's wire shape by the exchange's
// RequestParser before hitting the connection.
type SubscribeRequest struct {
	Event     string `json:"event"` // subscribe | unsubscribe
	Feed      string `json:"feed"`
	Symbol    Symbol `json:"symbol,omitempty"`
	Token     string `json:"token,omitempty"`
	Timeframe int    `json:"timeframe,omitempty"`
	Depth     int    `json:"depth,omitempty"`
}

// StreamParser decodes one exchange's WebSocket wire format into canonical
// events. Classify must be cheap; Parse performs the full decode. A Parse
// failure drops only the offending message, never the connection.
type StreamParser interface {
	Classify(raw []byte) Category
	Parse(category Category, raw []byte) ([]Event, error)
}

// RequestParser maps canonical REST method names and order commands to one
// exchange's endpoints and wire shapes.
type RequestParser interface {
	// Endpoint resolves a canonical method name (ohlc, trades, orderbook,
	// instrument, balances, exposure, open_orders, closed_orders,
	// order_info, trades_history, open_positions, place_order,
	// cancel_order, ws_token) to the exchange path and whether the call
	// must be signed.
	Endpoint(method string) (path string, private bool, err error)

	// AddOrderParams renders a validated order request as REST form values.
	AddOrderParams(req AddOrderRequest) (url.Values, error)

	// CancelOrderParams renders a validated cancel request as REST form values.
	CancelOrderParams(req CancelOrderRequest) (url.Values, error)

	// AddOrderCommand renders a validated order request as a private
	// WebSocket command frame.
	AddOrderCommand(req AddOrderRequest, token string) ([]byte, error)

	// CancelOrderCommand renders a validated cancel request as a private
	// WebSocket command frame.
	CancelOrderCommand(req CancelOrderRequest, token string) ([]byte, error)

	// SubscriptionCommand renders a subscribe or unsubscribe request as a
	// WebSocket control frame in the exchange's wire shape.
	SubscriptionCommand(req SubscribeRequest) ([]byte, error)
}

// ResponseParser decodes one exchange's REST payloads into canonical models.
type ResponseParser interface {
	// Envelope splits a raw REST body into exchange error codes and the
	// result payload.
	Envelope(body []byte) (errorCodes []string, result []byte, err error)

	ParseInstruments(result []byte) ([]PairSpec, map[Symbol]string, error)
	ParseOHLC(result []byte, symbol Symbol, interval time.Duration) ([]Candle, error)
	ParseBook(result []byte, symbol Symbol) (*BookUpdate, error)
	ParseTrades(result []byte, symbol Symbol) ([]Trade, error)
	ParseOrders(result []byte) (map[string]*Order, error)
	ParseBalances(result []byte) (map[string]decimal.Decimal, error)
	ParsePositions(result []byte) ([]Position, error)
	ParseToken(result []byte) (string, error)
}

// Decision is the taxonomy's verdict on one REST response. While Accept is
// false the caller sleeps for Sleep and retries the same request; once Accept
// is true the call is final, successful or not.
type Decision struct {
	Accept bool
	Sleep  time.Duration
	Err    error
}

// ErrorClassifier maps an exchange response to a retry decision. Every
// connector ships one covering at least: rate limit / DDoS protection
// (retry with sleep), invalid argument (fatal), authentication, signature
// and nonce errors (fatal), service unavailable / temporary lockout (retry
// with sleep), insufficient funds (fatal), unknown codes (fatal, logged).
type ErrorClassifier interface {
	Classify(statusCode int, errorCodes []string) Decision
}
