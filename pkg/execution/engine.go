// Package execution drives the limit-chase strategy: it observes the
// reconstructed market state for each symbol it has been asked to trade and
// places or cancels child orders to reach the requested volume.
//
// A chase order rests one tick inside the current best quote, improving fill
// probability without ever crossing the spread. Stale children are canceled
// after a configurable lifetime and replaced at the next tick at an updated
// price.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
	"github.com/veiloq/tradecore/pkg/logging"
)

// CommandSender delivers validated order commands to the exchange, normally
// over the private WebSocket channel.
type CommandSender interface {
	SendAddOrder(req interfaces.AddOrderRequest) error
	SendCancelOrder(req interfaces.CancelOrderRequest) error
}

// Config holds engine configuration.
type Config struct {
	// TickInterval is the cadence of the placement and cancellation loops.
	TickInterval time.Duration

	// OrderLife is the maximum age of a resting child order; anything
	// older is canceled unconditionally.
	OrderLife time.Duration

	Logger logging.Logger
}

// Engine runs the limit-chase state machine per symbol: idle until AddOrder
// sets a target, working while remaining quantity is positive, idle again
// once the target is exhausted. All mutation happens through the named
// callback and loop methods; partial writes are never observable.
type Engine struct {
	cfg    Config
	table  *interfaces.SymbolTable
	sender CommandSender

	mu     sync.RWMutex
	states map[interfaces.Symbol]*state

	logger logging.Logger
}

// NewEngine creates an execution engine over the given pair table and
// command channel.
func NewEngine(cfg Config, table *interfaces.SymbolTable, sender CommandSender) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	if cfg.OrderLife <= 0 {
		cfg.OrderLife = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Engine{
		cfg:    cfg,
		table:  table,
		sender: sender,
		states: make(map[interfaces.Symbol]*state),
		logger: cfg.Logger,
	}
}

// AddOrder sets a target volume for a symbol, moving it from idle to
// working. A symbol already working rejects a second target.
func (e *Engine) AddOrder(symbol interfaces.Symbol, totalQty decimal.Decimal, side interfaces.Side) error {
	if !totalQty.IsPositive() {
		return fmt.Errorf("%w: target quantity must be positive", interfaces.ErrInvalidRequest)
	}
	if side != interfaces.SideBuy && side != interfaces.SideSell {
		return fmt.Errorf("%w: side %q", interfaces.ErrInvalidRequest, side)
	}
	if _, err := e.table.Spec(symbol); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, working := e.states[symbol]; working {
		return fmt.Errorf("symbol %s already has an active target", symbol)
	}
	e.states[symbol] = newState(symbol, side, totalQty)
	e.logger.Info("execution target set",
		logging.String("symbol", string(symbol)),
		logging.String("side", string(side)),
		logging.String("qty", totalQty.String()))
	return nil
}

// CancelTarget clears a symbol's execution state and cancels its open
// children.
func (e *Engine) CancelTarget(symbol interfaces.Symbol) {
	e.mu.Lock()
	st, ok := e.states[symbol]
	if ok {
		delete(e.states, symbol)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	open := make([]string, 0, len(st.open))
	for id := range st.open {
		open = append(open, id)
	}
	st.mu.Unlock()
	for _, id := range open {
		e.cancelChild(id)
	}
}

// State returns the freshest execution view for a symbol.
func (e *Engine) State(symbol interfaces.Symbol) (View, bool) {
	e.mu.RLock()
	st, ok := e.states[symbol]
	e.mu.RUnlock()
	if !ok {
		return View{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.view(), true
}

// Run starts the placement and cancellation loops and blocks until the
// context ends. Both loops stop at their next tick after cancellation.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.loop(ctx, e.placementTick)
	}()
	go func() {
		defer wg.Done()
		e.loop(ctx, e.cancellationTick)
	}()
	wg.Wait()
}

func (e *Engine) loop(ctx context.Context, tick func()) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// placementTick runs one pass of the placement loop over every working
// symbol.
func (e *Engine) placementTick() {
	for _, st := range e.workingStates() {
		e.placeForState(st)
	}
}

func (e *Engine) workingStates() []*state {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*state, 0, len(e.states))
	for _, st := range e.states {
		out = append(out, st)
	}
	return out
}

// placeForState submits one chase order for the full remaining quantity.
// Only one child rests at a time; conflicting simultaneous children would
// overfill the target. A submission that has not been acknowledged by the
// private feed yet blocks placement the same way a resting child does.
func (e *Engine) placeForState(st *state) {
	st.mu.Lock()
	if !st.remaining().IsPositive() {
		symbol := st.symbol
		st.mu.Unlock()
		e.retire(symbol)
		return
	}
	if len(st.open) > 0 || st.inFlightID != "" || !st.haveQuote {
		st.mu.Unlock()
		return
	}
	symbol := st.symbol
	side := st.side
	qty := st.remaining()
	bid := st.bestBid
	ask := st.bestAsk
	st.mu.Unlock()

	spec, err := e.table.Spec(symbol)
	if err != nil {
		e.logger.Warn("placement skipped, no pair spec",
			logging.String("symbol", string(symbol)),
			logging.Error(err))
		return
	}

	price := chasePrice(side, bid, ask, spec.TickSize)
	req := interfaces.AddOrderRequest{
		ClientID:   uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		Type:       interfaces.OrderTypeLimit,
		Qty:        qty.Round(spec.VolumeDecimals),
		LimitPrice: price.Round(spec.PriceDecimals),
	}
	if err := req.Validate(); err != nil {
		e.logger.Warn("invalid chase order, tick skipped",
			logging.String("symbol", string(symbol)),
			logging.Error(err))
		return
	}

	// Reserve the placement slot before the send so a concurrent tick
	// cannot submit a second child for the same remaining quantity.
	st.mu.Lock()
	if len(st.open) > 0 || st.inFlightID != "" {
		st.mu.Unlock()
		return
	}
	st.inFlightID = req.ClientID
	st.inFlightAt = time.Now()
	st.mu.Unlock()

	if err := e.sender.SendAddOrder(req); err != nil {
		st.mu.Lock()
		if st.inFlightID == req.ClientID {
			st.inFlightID = ""
		}
		st.mu.Unlock()
		e.logger.Warn("chase order submission failed, tick skipped",
			logging.String("symbol", string(symbol)),
			logging.Error(err))
		return
	}
	e.logger.Debug("chase order submitted",
		logging.String("symbol", string(symbol)),
		logging.String("side", string(side)),
		logging.String("price", req.LimitPrice.String()),
		logging.String("qty", req.Qty.String()))
}

func (e *Engine) retire(symbol interfaces.Symbol) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[symbol]; ok {
		st.mu.Lock()
		done := !st.remaining().IsPositive()
		st.mu.Unlock()
		if done {
			delete(e.states, symbol)
			e.logger.Info("execution target complete",
				logging.String("symbol", string(symbol)))
		}
	}
}

// chasePrice computes a limit price that improves on the current best quote
// on our side without crossing the spread: one tick inside when the spread
// leaves room, joining the best quote otherwise.
func chasePrice(side interfaces.Side, bid, ask, tick decimal.Decimal) decimal.Decimal {
	spread := ask.Sub(bid)
	if side == interfaces.SideBuy {
		if spread.GreaterThan(tick) {
			return bid.Add(tick)
		}
		return bid
	}
	if spread.GreaterThan(tick) {
		return ask.Sub(tick)
	}
	return ask
}

// cancellationTick cancels every child order older than the configured
// order life. The assumption is that a fresh order will be resubmitted at
// the next placement tick with an updated price.
func (e *Engine) cancellationTick() {
	now := time.Now()
	for _, st := range e.workingStates() {
		st.mu.Lock()
		var expired string
		if st.inFlightID != "" && now.Sub(st.inFlightAt) > e.cfg.OrderLife {
			expired = st.inFlightID
			st.inFlightID = ""
		}
		var stale []string
		for id, placed := range st.open {
			if now.Sub(placed) > e.cfg.OrderLife {
				stale = append(stale, id)
			}
		}
		st.mu.Unlock()
		if expired != "" {
			e.logger.Warn("child order never acknowledged, placement slot released",
				logging.String("symbol", string(st.symbol)),
				logging.String("client_id", expired))
		}
		for _, id := range stale {
			e.cancelChild(id)
		}
	}
}

func (e *Engine) cancelChild(orderID string) {
	req := interfaces.CancelOrderRequest{OrderID: orderID}
	if err := req.Validate(); err != nil {
		e.logger.Warn("invalid cancel request, skipped",
			logging.String("order_id", orderID),
			logging.Error(err))
		return
	}
	if err := e.sender.SendCancelOrder(req); err != nil {
		e.logger.Warn("cancel submission failed",
			logging.String("order_id", orderID),
			logging.Error(err))
	}
}

// OnOrderUpdate records and removes child orders as the private feed
// reports their status.
func (e *Engine) OnOrderUpdate(ev interfaces.OrdersEvent) {
	for id, order := range ev.Orders {
		if order == nil {
			continue
		}
		e.mu.RLock()
		st, ok := e.states[order.Symbol]
		e.mu.RUnlock()
		if !ok {
			continue
		}
		st.mu.Lock()
		switch order.Status {
		case interfaces.OrderStatusPendingNew, interfaces.OrderStatusNew:
			if _, known := st.open[id]; !known {
				placed := time.Now()
				if order.EffectiveTime > 0 {
					placed = time.Unix(0, order.EffectiveTime)
				}
				st.open[id] = placed
			}
		case interfaces.OrderStatusFilled, interfaces.OrderStatusCanceled:
			delete(st.open, id)
		}
		// At most one child is in flight per symbol, so any status for the
		// symbol acknowledges it and releases the placement slot.
		st.inFlightID = ""
		st.mu.Unlock()
	}
}

// OnTradeUpdate advances the executed quantity for fills on the engine's
// side of the target symbol.
func (e *Engine) OnTradeUpdate(ev interfaces.TradesEvent) {
	for _, trade := range ev.Trades {
		e.mu.RLock()
		st, ok := e.states[trade.Symbol]
		e.mu.RUnlock()
		if !ok {
			continue
		}
		st.mu.Lock()
		if trade.Side == st.side {
			st.executedQty = st.executedQty.Add(trade.Qty)
		}
		st.mu.Unlock()
	}
}

// OnSpreadUpdate refreshes the best bid/ask used by the next price
// computation.
func (e *Engine) OnSpreadUpdate(symbol interfaces.Symbol, bid, ask decimal.Decimal) {
	e.mu.RLock()
	st, ok := e.states[symbol]
	e.mu.RUnlock()
	if !ok {
		return
	}
	st.mu.Lock()
	st.bestBid = bid
	st.bestAsk = ask
	st.haveQuote = true
	st.mu.Unlock()
}
