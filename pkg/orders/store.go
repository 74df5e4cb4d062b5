// Package orders maintains reconstructed open-order and trade state from the
// private feed of one exchange.
package orders

import (
	"sync"

	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
	"github.com/veiloq/tradecore/pkg/logging"
)

// Store holds the canonical orders and trades for one exchange session.
// Orders are mutated in place by status-change and fill events and are never
// removed when they close; the full map lives until Reset at session end.
type Store struct {
	mu      sync.RWMutex
	orders  map[string]*interfaces.Order
	trades  []interfaces.Trade
	matches map[string]struct{}
	logger  logging.Logger
}

// NewStore creates an empty order/trade store.
func NewStore(logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{
		orders:  make(map[string]*interfaces.Order),
		matches: make(map[string]struct{}),
		logger:  logger,
	}
}

// ApplyOrders ingests an order snapshot, insert, or update batch. Unknown
// ids are inserted; known ids are mutated in place field by field so a
// partial update does not wipe values the message did not carry.
func (s *Store) ApplyOrders(ev interfaces.OrdersEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, incoming := range ev.Orders {
		if incoming == nil {
			continue
		}
		existing, ok := s.orders[id]
		if !ok {
			clone := *incoming
			clone.ID = id
			s.orders[id] = &clone
			continue
		}
		if incoming.Status != "" {
			existing.Status = incoming.Status
		}
		if !incoming.Qty.IsZero() {
			existing.Qty = incoming.Qty
		}
		if !incoming.FilledQty.IsZero() {
			existing.FilledQty = incoming.FilledQty
			existing.RemainingQty = existing.Qty.Sub(existing.FilledQty)
		}
		if !incoming.AvgFillPrice.IsZero() {
			existing.AvgFillPrice = incoming.AvgFillPrice
		}
		if !incoming.Fee.IsZero() {
			existing.Fee = incoming.Fee
		}
		if incoming.TransactTime != 0 {
			existing.TransactTime = incoming.TransactTime
		}
	}
}

// ApplyTrades ingests fill events. Each match id is recorded exactly once;
// the owning order's cumulative fill and status are advanced accordingly.
func (s *Store) ApplyTrades(ev interfaces.TradesEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, trade := range ev.Trades {
		if trade.MatchID != "" {
			if _, seen := s.matches[trade.MatchID]; seen {
				continue
			}
			s.matches[trade.MatchID] = struct{}{}
		}
		s.trades = append(s.trades, trade)

		order, ok := s.orders[trade.OrderID]
		if !ok {
			continue
		}
		order.FilledQty = order.FilledQty.Add(trade.Qty)
		order.RemainingQty = order.Qty.Sub(order.FilledQty)
		order.Fee = order.Fee.Add(trade.Fee)
		order.TransactTime = trade.Timestamp
		if !order.RemainingQty.IsPositive() {
			order.Status = interfaces.OrderStatusFilled
		}
	}
}

// Order returns a copy of one order by id.
func (s *Store) Order(id string) (interfaces.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return interfaces.Order{}, false
	}
	return *order, true
}

// OpenOrders returns copies of every order still working (pending-new or new).
func (s *Store) OpenOrders() []interfaces.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]interfaces.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if order.Status == interfaces.OrderStatusPendingNew || order.Status == interfaces.OrderStatusNew {
			out = append(out, *order)
		}
	}
	return out
}

// Trades returns a copy of every recorded fill.
func (s *Store) Trades() []interfaces.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]interfaces.Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

// Reset clears all state. Called only when the owning session ends.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = make(map[string]*interfaces.Order)
	s.trades = nil
	s.matches = make(map[string]struct{})
}
