package execution

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
)

// state is the per-symbol execution bookkeeping. It is mutated by the
// engine's loops and by private-feed callbacks; every access goes through
// its mutex.
type state struct {
	mu sync.Mutex

	symbol interfaces.Symbol
	side   interfaces.Side

	totalQty    decimal.Decimal
	executedQty decimal.Decimal

	bestBid   decimal.Decimal
	bestAsk   decimal.Decimal
	haveQuote bool

	// open tracks live child orders by id with their placement times.
	open map[string]time.Time

	// inFlightID marks a submitted child the private feed has not
	// acknowledged yet; no further placement happens while it is set.
	inFlightID string
	inFlightAt time.Time
}

func newState(symbol interfaces.Symbol, side interfaces.Side, totalQty decimal.Decimal) *state {
	return &state{
		symbol:   symbol,
		side:     side,
		totalQty: totalQty,
		open:     make(map[string]time.Time),
	}
}

func (s *state) remaining() decimal.Decimal {
	return s.totalQty.Sub(s.executedQty)
}

// View is a read-only snapshot of one symbol's execution state. Callers
// poll View for the freshest value instead of holding a reference into the
// engine's mutable state.
type View struct {
	Symbol       interfaces.Symbol
	Side         interfaces.Side
	TotalQty     decimal.Decimal
	ExecutedQty  decimal.Decimal
	RemainingQty decimal.Decimal
	BestBid      decimal.Decimal
	BestAsk      decimal.Decimal
	OpenOrders   []string
	InFlight     bool
}

func (s *state) view() View {
	open := make([]string, 0, len(s.open))
	for id := range s.open {
		open = append(open, id)
	}
	return View{
		Symbol:       s.symbol,
		Side:         s.side,
		TotalQty:     s.totalQty,
		ExecutedQty:  s.executedQty,
		RemainingQty: s.remaining(),
		BestBid:      s.bestBid,
		BestAsk:      s.bestAsk,
		OpenOrders:   open,
		InFlight:     s.inFlightID != "",
	}
}
