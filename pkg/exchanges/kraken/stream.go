package kraken

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
)

// StreamParser decodes Kraken WebSocket frames. Control messages arrive as
// JSON objects keyed by "event"; market data arrives as arrays whose channel
// name and pair ride alongside the payload. Pair spellings resolve through
// the response parser's alias table.
type StreamParser struct {
	responses *ResponseParser
}

// NewStreamParser creates a stream parser sharing the response parser's
// symbol aliases.
func NewStreamParser(responses *ResponseParser) *StreamParser {
	return &StreamParser{responses: responses}
}

// Classify implements interfaces.StreamParser with byte-level shape checks;
// no full decode happens here.
func (p *StreamParser) Classify(raw []byte) interfaces.Category {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return interfaces.CategoryUnknown
	}
	if trimmed[0] == '[' {
		return interfaces.CategoryData
	}
	if trimmed[0] != '{' {
		return interfaces.CategoryUnknown
	}
	switch {
	case bytes.Contains(trimmed, []byte(`"heartbeat"`)):
		return interfaces.CategoryHeartbeat
	case bytes.Contains(trimmed, []byte(`"systemStatus"`)):
		return interfaces.CategoryConnectionStatus
	case bytes.Contains(trimmed, []byte(`"subscriptionStatus"`)):
		return interfaces.CategorySubscriptionStatus
	}
	return interfaces.CategoryUnknown
}

// Parse implements interfaces.StreamParser.
func (p *StreamParser) Parse(category interfaces.Category, raw []byte) ([]interfaces.Event, error) {
	switch category {
	case interfaces.CategoryHeartbeat:
		return []interfaces.Event{interfaces.HeartbeatEvent{Exchange: "kraken"}}, nil
	case interfaces.CategoryConnectionStatus:
		return p.parseSystemStatus(raw)
	case interfaces.CategorySubscriptionStatus:
		return p.parseSubscriptionStatus(raw)
	case interfaces.CategoryData:
		return p.parseData(raw)
	default:
		return nil, fmt.Errorf("kraken stream: unclassifiable message")
	}
}

func (p *StreamParser) parseSystemStatus(raw []byte) ([]interfaces.Event, error) {
	var frame struct {
		ConnectionID uint64 `json:"connectionID"`
		Status       string `json:"status"`
		Version      string `json:"version"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("kraken stream: system status: %w", err)
	}
	return []interfaces.Event{interfaces.ConnectionStatusEvent{
		ConnectionID: frame.ConnectionID,
		Status:       frame.Status,
		Version:      frame.Version,
	}}, nil
}

func (p *StreamParser) parseSubscriptionStatus(raw []byte) ([]interfaces.Event, error) {
	var frame struct {
		ChannelName  string `json:"channelName"`
		Pair         string `json:"pair"`
		Status       string `json:"status"`
		ErrorMessage string `json:"errorMessage"`
		Feed         string `json:"feed"`
		Symbol       string `json:"symbol"`
		Subscription struct {
			Name string `json:"name"`
		} `json:"subscription"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("kraken stream: subscription status: %w", err)
	}
	feed := frame.Feed
	if feed == "" {
		feed = frame.Subscription.Name
	}
	if feed == "" {
		// Channel names carry the depth suffix, e.g. "book-10".
		feed = strings.SplitN(frame.ChannelName, "-", 2)[0]
	}
	symbol := interfaces.Symbol(frame.Symbol)
	if symbol == "" && frame.Pair != "" {
		symbol = p.responses.resolve(frame.Pair)
	}
	return []interfaces.Event{interfaces.SubscriptionStatusEvent{
		Feed:    feed,
		Symbol:  symbol,
		Status:  frame.Status,
		Message: frame.ErrorMessage,
	}}, nil
}

// parseData dispatches an array frame on the channel-name element. Public
// channels look like [id, payload..., "trade", "XBT/USD"]; private feeds like
// [payload, "ownTrades", {"sequence":n}].
func (p *StreamParser) parseData(raw []byte) ([]interfaces.Event, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("kraken stream: data frame: %w", err)
	}
	channel, pair := "", ""
	for _, elem := range elems {
		var s string
		if json.Unmarshal(elem, &s) != nil {
			continue
		}
		if strings.Contains(s, "/") {
			pair = s
			continue
		}
		if channel == "" {
			channel = s
		}
	}
	switch {
	case channel == "trade":
		return p.parsePublicTrades(elems, pair)
	case strings.HasPrefix(channel, "book"):
		return p.parseBookFrame(elems, pair)
	case channel == "ownTrades":
		return p.parseOwnTrades(elems)
	case channel == "openOrders":
		return p.parseOpenOrders(elems)
	default:
		return nil, fmt.Errorf("kraken stream: unknown channel %q", channel)
	}
}

func (p *StreamParser) parsePublicTrades(elems []json.RawMessage, pair string) ([]interfaces.Event, error) {
	symbol := p.responses.resolve(pair)
	var trades []interfaces.Trade
	for _, elem := range elems {
		var rows [][]string
		if json.Unmarshal(elem, &rows) != nil {
			continue
		}
		for _, row := range rows {
			if len(row) < 4 {
				return nil, fmt.Errorf("kraken stream: trade row has %d fields", len(row))
			}
			price, err := decFromAny(row[0])
			if err != nil {
				return nil, fmt.Errorf("kraken stream: trade price: %w", err)
			}
			volume, err := decFromAny(row[1])
			if err != nil {
				return nil, fmt.Errorf("kraken stream: trade volume: %w", err)
			}
			ts, err := nsFromAny(row[2])
			if err != nil {
				return nil, fmt.Errorf("kraken stream: trade time: %w", err)
			}
			side := interfaces.SideSell
			if row[3] == "b" {
				side = interfaces.SideBuy
			}
			trades = append(trades, interfaces.Trade{
				MatchID:   fmt.Sprintf("%s-%d-%s", symbol, ts, price.String()),
				Symbol:    symbol,
				Side:      side,
				Price:     price,
				Qty:       volume,
				Timestamp: ts,
			})
		}
	}
	if len(trades) == 0 {
		return nil, fmt.Errorf("kraken stream: trade frame without rows")
	}
	return []interfaces.Event{interfaces.TradesEvent{Trades: trades}}, nil
}

// bookPayload covers both the snapshot keys (as/bs) and the update keys (a/b);
// a single frame may split bid and ask updates across two payload objects.
type bookPayload struct {
	AsksSnapshot [][]string `json:"as"`
	BidsSnapshot [][]string `json:"bs"`
	Asks         [][]string `json:"a"`
	Bids         [][]string `json:"b"`
}

func (p *StreamParser) parseBookFrame(elems []json.RawMessage, pair string) ([]interfaces.Event, error) {
	update := interfaces.BookUpdate{Symbol: p.responses.resolve(pair)}
	seen := false
	for _, elem := range elems {
		if len(elem) == 0 || elem[0] != '{' {
			continue
		}
		var payload bookPayload
		if err := json.Unmarshal(elem, &payload); err != nil {
			return nil, fmt.Errorf("kraken stream: book payload: %w", err)
		}
		if payload.AsksSnapshot != nil || payload.BidsSnapshot != nil {
			update.IsSnapshot = true
			payload.Asks = payload.AsksSnapshot
			payload.Bids = payload.BidsSnapshot
		}
		asks, err := parseWireLevels(payload.Asks, &update)
		if err != nil {
			return nil, fmt.Errorf("kraken stream: book asks: %w", err)
		}
		bids, err := parseWireLevels(payload.Bids, &update)
		if err != nil {
			return nil, fmt.Errorf("kraken stream: book bids: %w", err)
		}
		update.Asks = append(update.Asks, asks...)
		update.Bids = append(update.Bids, bids...)
		seen = true
	}
	if !seen {
		return nil, fmt.Errorf("kraken stream: book frame without payload")
	}
	return []interfaces.Event{interfaces.BookEvent{Update: update}}, nil
}

func parseWireLevels(rows [][]string, update *interfaces.BookUpdate) ([]interfaces.PriceLevel, error) {
	levels := make([]interfaces.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("level has %d fields", len(row))
		}
		price, err := decFromAny(row[0])
		if err != nil {
			return nil, err
		}
		volume, err := decFromAny(row[1])
		if err != nil {
			return nil, err
		}
		ts, err := nsFromAny(row[2])
		if err != nil {
			return nil, err
		}
		if ts > update.Timestamp {
			update.Timestamp = ts
		}
		levels = append(levels, interfaces.PriceLevel{Price: price, Volume: volume})
	}
	return levels, nil
}

func (p *StreamParser) parseOwnTrades(elems []json.RawMessage) ([]interfaces.Event, error) {
	var trades []interfaces.Trade
	for _, elem := range elems {
		var batch []map[string]ownTrade
		if json.Unmarshal(elem, &batch) != nil {
			continue
		}
		for _, entry := range batch {
			for id, t := range entry {
				trade, err := p.responses.canonicalOwnTrade(id, t)
				if err != nil {
					return nil, fmt.Errorf("kraken stream: %w", err)
				}
				trades = append(trades, trade)
			}
		}
	}
	return []interfaces.Event{interfaces.TradesEvent{Trades: trades}}, nil
}

// parseOpenOrders partitions the batch into inserts (full records carrying a
// descr block) and partial in-place updates.
func (p *StreamParser) parseOpenOrders(elems []json.RawMessage) ([]interfaces.Event, error) {
	inserts := make(map[string]*interfaces.Order)
	updates := make(map[string]*interfaces.Order)
	for _, elem := range elems {
		var batch []map[string]rawOrder
		if json.Unmarshal(elem, &batch) != nil {
			continue
		}
		for _, entry := range batch {
			for id, o := range entry {
				order, err := p.responses.canonicalOrder(id, o)
				if err != nil {
					return nil, fmt.Errorf("kraken stream: %w", err)
				}
				if o.Descr.Pair != "" {
					inserts[id] = order
				} else {
					updates[id] = order
				}
			}
		}
	}
	var events []interfaces.Event
	if len(inserts) > 0 {
		events = append(events, interfaces.OrdersEvent{Orders: inserts, Insert: true})
	}
	if len(updates) > 0 {
		events = append(events, interfaces.OrdersEvent{Orders: updates})
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("kraken stream: order frame without records")
	}
	return events, nil
}
