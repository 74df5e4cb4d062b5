// Package router classifies inbound WebSocket messages and dispatches the
// decoded canonical events to their consumers.
package router

import (
	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
	"github.com/veiloq/tradecore/pkg/logging"
)

// Sinks are the consumers of canonical events. Nil sinks are skipped.
type Sinks struct {
	OnHeartbeat          func(interfaces.HeartbeatEvent)
	OnConnectionStatus   func(interfaces.ConnectionStatusEvent)
	OnSubscriptionStatus func(interfaces.SubscriptionStatusEvent)
	OnTrades             func(interfaces.TradesEvent)
	OnBook               func(interfaces.BookEvent)
	OnOrders             func(interfaces.OrdersEvent)
}

// Router decodes each raw message with the exchange's StreamParser and
// publishes the result. A message that fails to classify or parse is logged
// and dropped; consumers must tolerate gaps in the canonical stream.
type Router struct {
	parser interfaces.StreamParser
	sinks  Sinks
	logger logging.Logger
}

// New creates a router over one exchange's stream parser.
func New(parser interfaces.StreamParser, sinks Sinks, logger logging.Logger) *Router {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Router{parser: parser, sinks: sinks, logger: logger}
}

// Route handles one raw frame. It always returns nil: decode failures are
// not the connection's problem.
func (r *Router) Route(raw []byte) error {
	category := r.parser.Classify(raw)
	if category == interfaces.CategoryUnknown {
		r.logger.Debug("unclassifiable message dropped",
			logging.Int("bytes", len(raw)))
		return nil
	}

	events, err := r.parser.Parse(category, raw)
	if err != nil {
		r.logger.Warn("message parse failed, dropped",
			logging.String("category", category.String()),
			logging.Error(err))
		return nil
	}

	for _, ev := range events {
		r.publish(ev)
	}
	return nil
}

func (r *Router) publish(ev interfaces.Event) {
	switch e := ev.(type) {
	case interfaces.HeartbeatEvent:
		if r.sinks.OnHeartbeat != nil {
			r.sinks.OnHeartbeat(e)
		}
	case interfaces.ConnectionStatusEvent:
		if r.sinks.OnConnectionStatus != nil {
			r.sinks.OnConnectionStatus(e)
		}
	case interfaces.SubscriptionStatusEvent:
		if r.sinks.OnSubscriptionStatus != nil {
			r.sinks.OnSubscriptionStatus(e)
		}
	case interfaces.TradesEvent:
		if r.sinks.OnTrades != nil {
			r.sinks.OnTrades(e)
		}
	case interfaces.BookEvent:
		if r.sinks.OnBook != nil {
			r.sinks.OnBook(e)
		}
	case interfaces.OrdersEvent:
		if r.sinks.OnOrders != nil {
			r.sinks.OnOrders(e)
		}
	default:
		r.logger.Warn("unhandled canonical event dropped")
	}
}
