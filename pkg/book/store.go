// Package book maintains reconstructed order books per symbol from
// snapshot + incremental update streams.
package book

import (
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
	"github.com/veiloq/tradecore/pkg/logging"
)

var (
	// ErrBookNotInitialized is returned when an update arrives before the
	// first snapshot for its symbol.
	ErrBookNotInitialized = errors.New("order book: snapshot required before updates")

	// ErrCrossedSnapshot is returned when a snapshot itself is crossed.
	// The book for that symbol is discarded; the caller must request a
	// fresh snapshot.
	ErrCrossedSnapshot = errors.New("order book: crossed snapshot discarded")
)

// Book is a materialized, self-consistent view of one order book. Bids are
// sorted descending, asks ascending. The IsSnapshot flag reflects the event
// that last mutated the book.
type Book struct {
	Symbol     interfaces.Symbol
	Bids       []interfaces.PriceLevel
	Asks       []interfaces.PriceLevel
	IsSnapshot bool
	Timestamp  int64
}

// bookState is the mutable per-symbol reconstruction. Sides are keyed by
// the normalized decimal string of the price.
type bookState struct {
	bids         map[string]interfaces.PriceLevel
	asks         map[string]interfaces.PriceLevel
	lastSnapshot bool
	timestamp    int64
}

// Store reconstructs order books for any number of symbols. Apply is the
// single named mutation; readers always observe a consistent bid/ask pair.
type Store struct {
	mu     sync.RWMutex
	books  map[interfaces.Symbol]*bookState
	logger logging.Logger
}

// NewStore creates an empty order book store.
func NewStore(logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{
		books:  make(map[interfaces.Symbol]*bookState),
		logger: logger,
	}
}

// Apply ingests one snapshot or update event. Snapshots replace both sides
// wholesale; updates merge levels, with volume zero removing a level. After
// every update, levels that crossed the opposing side's best price are
// pruned from both sides. A crossed snapshot discards the book and returns
// ErrCrossedSnapshot.
func (s *Store) Apply(update interfaces.BookUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.books[update.Symbol]
	if update.IsSnapshot {
		state = &bookState{
			bids: make(map[string]interfaces.PriceLevel, len(update.Bids)),
			asks: make(map[string]interfaces.PriceLevel, len(update.Asks)),
		}
		for _, lvl := range update.Bids {
			mergeLevel(state.bids, lvl)
		}
		for _, lvl := range update.Asks {
			mergeLevel(state.asks, lvl)
		}
		if crossed(state) {
			delete(s.books, update.Symbol)
			s.logger.Warn("crossed snapshot discarded",
				logging.String("symbol", string(update.Symbol)))
			return ErrCrossedSnapshot
		}
		state.lastSnapshot = true
		state.timestamp = update.Timestamp
		s.books[update.Symbol] = state
		return nil
	}

	if !ok {
		return ErrBookNotInitialized
	}

	for _, lvl := range update.Bids {
		mergeLevel(state.bids, lvl)
	}
	for _, lvl := range update.Asks {
		mergeLevel(state.asks, lvl)
	}
	pruneCrossed(state)
	state.lastSnapshot = false
	state.timestamp = update.Timestamp
	return nil
}

// mergeLevel overwrites a price level; volume zero (or negative) removes it.
func mergeLevel(side map[string]interfaces.PriceLevel, lvl interfaces.PriceLevel) {
	key := lvl.Price.String()
	if !lvl.Volume.IsPositive() {
		delete(side, key)
		return
	}
	side[key] = lvl
}

// pruneCrossed drops stale levels that cross or lock the opposing side's
// best price. Both sides are pruned against the bests computed before any
// removal, so the rule is symmetric: an ask at or below the best bid and a
// bid at or above the best ask are equally stale.
func pruneCrossed(state *bookState) {
	bestBid, hasBid := bestPrice(state.bids, true)
	bestAsk, hasAsk := bestPrice(state.asks, false)
	if !hasBid || !hasAsk {
		return
	}
	for key, lvl := range state.asks {
		if lvl.Price.LessThanOrEqual(bestBid) {
			delete(state.asks, key)
		}
	}
	for key, lvl := range state.bids {
		if lvl.Price.GreaterThanOrEqual(bestAsk) {
			delete(state.bids, key)
		}
	}
}

func crossed(state *bookState) bool {
	bestBid, hasBid := bestPrice(state.bids, true)
	bestAsk, hasAsk := bestPrice(state.asks, false)
	return hasBid && hasAsk && bestBid.GreaterThanOrEqual(bestAsk)
}

func bestPrice(side map[string]interfaces.PriceLevel, bid bool) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, lvl := range side {
		if !found {
			best = lvl.Price
			found = true
			continue
		}
		if bid && lvl.Price.GreaterThan(best) {
			best = lvl.Price
		}
		if !bid && lvl.Price.LessThan(best) {
			best = lvl.Price
		}
	}
	return best, found
}

// Snapshot returns a deep-copied, sorted view of one book. The second
// return is false if no snapshot has been applied for the symbol yet.
func (s *Store) Snapshot(symbol interfaces.Symbol) (Book, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.books[symbol]
	if !ok {
		return Book{}, false
	}
	return Book{
		Symbol:     symbol,
		Bids:       sortedLevels(state.bids, true),
		Asks:       sortedLevels(state.asks, false),
		IsSnapshot: state.lastSnapshot,
		Timestamp:  state.timestamp,
	}, true
}

// BestBidAsk returns the current top of book. The third return is false if
// either side is empty or the book is uninitialized.
func (s *Store) BestBidAsk(symbol interfaces.Symbol) (bid, ask decimal.Decimal, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.books[symbol]
	if !exists {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	bestBid, hasBid := bestPrice(state.bids, true)
	bestAsk, hasAsk := bestPrice(state.asks, false)
	if !hasBid || !hasAsk {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	return bestBid, bestAsk, true
}

// Drop removes the book for a symbol, forcing the next Apply to be a
// snapshot.
func (s *Store) Drop(symbol interfaces.Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, symbol)
}

func sortedLevels(side map[string]interfaces.PriceLevel, desc bool) []interfaces.PriceLevel {
	out := make([]interfaces.PriceLevel, 0, len(side))
	for _, lvl := range side {
		out = append(out, lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}
