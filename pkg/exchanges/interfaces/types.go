// Package interfaces defines the canonical, exchange-agnostic data model and
// the capability interfaces every exchange connector implements. The generic
// engine code (router, stores, execution) depends only on this package, never
// on a concrete exchange type.
package interfaces

import (
	"time"

	"github.com/shopspring/decimal"
)

// Symbol is a trading pair in canonical BASE-QUOTE form, e.g. "XBT-USD".
// Each connector owns the translation between this form and its exchange's
// native spelling; canonical symbols are the only form that crosses package
// boundaries.
type Symbol string

// Side of an order or trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType identifies the order flavour on the wire.
type OrderType string

const (
	OrderTypeLimit    OrderType = "limit"
	OrderTypeMarket   OrderType = "market"
	OrderTypeStopLoss OrderType = "stop-loss"
)

// OrderStatus is the canonical order lifecycle state.
type OrderStatus string

const (
	OrderStatusPendingNew OrderStatus = "pending-new"
	OrderStatusNew        OrderStatus = "new"
	OrderStatusFilled     OrderStatus = "filled"
	OrderStatusCanceled   OrderStatus = "canceled"
)

// PairSpec holds the per-symbol trading metadata loaded once from the
// exchange's instrument endpoint at connector startup. Immutable thereafter.
type PairSpec struct {
	Symbol Symbol

	// PriceDecimals and VolumeDecimals bound the precision accepted by the
	// exchange for prices and volumes on this pair.
	PriceDecimals  int32
	VolumeDecimals int32

	// TickSize is the smallest price increment (10^-PriceDecimals).
	TickSize decimal.Decimal

	// Leverage lists the leverage multipliers available for margin orders.
	Leverage []int
}

// Order is the canonical open-order record. It is created from an order
// snapshot or insert message and mutated in place by status-change and fill
// messages. Orders are never deleted on close; history may still be queried.
type Order struct {
	ID     string
	Symbol Symbol
	Side   Side
	Type   OrderType
	Status OrderStatus

	Qty          decimal.Decimal
	FilledQty    decimal.Decimal
	RemainingQty decimal.Decimal

	LimitPrice   decimal.Decimal
	AvgFillPrice decimal.Decimal
	StopPrice    decimal.Decimal

	// Timestamps are nanoseconds since epoch regardless of the unit used
	// on the wire.
	EffectiveTime int64
	ExpireTime    int64
	TransactTime  int64

	Fee         decimal.Decimal
	MarginRatio decimal.Decimal
}

// Trade is a single fill. Created once per match event, immutable after.
type Trade struct {
	MatchID   string
	OrderID   string
	Symbol    Symbol
	Side      Side
	Price     decimal.Decimal
	Qty       decimal.Decimal
	Fee       decimal.Decimal
	Timestamp int64
}

// PriceLevel is one (price, volume) entry of an order book side.
type PriceLevel struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// BookUpdate carries either a full order book snapshot or an incremental set
// of level changes. Volume zero in an update removes the level.
type BookUpdate struct {
	Symbol     Symbol
	Bids       []PriceLevel
	Asks       []PriceLevel
	IsSnapshot bool
	Timestamp  int64
}

// Candle is a single OHLC interval produced by the REST ohlc query.
type Candle struct {
	Symbol    Symbol
	StartTime time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Count     int
}

// Position is an open margin position from the open_positions query.
type Position struct {
	ID     string
	Symbol Symbol
	Side   Side
	Qty    decimal.Decimal
	Cost   decimal.Decimal
	Fee    decimal.Decimal
}

// ConnState tracks the lifecycle of one WebSocket connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOnline
	StateOffline
	StateReconnecting
)

// String returns the state name for log output.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// AddOrderRequest is the canonical order-placement command. Every submission
// is validated before it reaches the wire.
type AddOrderRequest struct {
	ClientID   string
	Symbol     Symbol
	Side       Side
	Type       OrderType
	Qty        decimal.Decimal
	LimitPrice decimal.Decimal
}

// Validate checks the request shape. Invalid requests are logged and skipped
// by callers; they must never be sent.
func (r AddOrderRequest) Validate() error {
	if r.Symbol == "" {
		return ErrInvalidSymbol
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return ErrInvalidRequest
	}
	switch r.Type {
	case OrderTypeLimit, OrderTypeMarket, OrderTypeStopLoss:
	default:
		return ErrInvalidRequest
	}
	if !r.Qty.IsPositive() {
		return ErrInvalidRequest
	}
	if r.Type == OrderTypeLimit && !r.LimitPrice.IsPositive() {
		return ErrInvalidRequest
	}
	return nil
}

// CancelOrderRequest is the canonical order-cancellation command.
type CancelOrderRequest struct {
	OrderID string
}

// Validate checks the request shape.
func (r CancelOrderRequest) Validate() error {
	if r.OrderID == "" {
		return ErrInvalidRequest
	}
	return nil
}
