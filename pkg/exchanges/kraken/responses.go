package kraken

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
)

// ResponseParser decodes Kraken REST payloads. Kraken spells the same pair
// three ways (wire key "XXBTZUSD", altname "XBTUSD", wsname "XBT/USD");
// ParseInstruments records all spellings so later payloads resolve to one
// canonical symbol regardless of which form the endpoint uses.
type ResponseParser struct {
	mu      sync.RWMutex
	aliases map[string]interfaces.Symbol
}

// NewResponseParser creates the Kraken response parser.
func NewResponseParser() *ResponseParser {
	return &ResponseParser{aliases: make(map[string]interfaces.Symbol)}
}

// Envelope implements interfaces.ResponseParser. Every Kraken REST body is
// {"error":[...],"result":...}; the result may be absent on errors.
func (p *ResponseParser) Envelope(body []byte) ([]string, []byte, error) {
	var env struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("kraken envelope: %w", err)
	}
	return env.Error, env.Result, nil
}

// ParseInstruments implements interfaces.ResponseParser. The returned native
// names are altnames, which AddOrder and the pair query params accept.
func (p *ResponseParser) ParseInstruments(result []byte) ([]interfaces.PairSpec, map[interfaces.Symbol]string, error) {
	var raw map[string]struct {
		Altname      string `json:"altname"`
		WSName       string `json:"wsname"`
		PairDecimals int32  `json:"pair_decimals"`
		LotDecimals  int32  `json:"lot_decimals"`
		LeverageBuy  []int  `json:"leverage_buy"`
		TickSize     string `json:"tick_size"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, nil, fmt.Errorf("kraken instruments: %w", err)
	}

	specs := make([]interfaces.PairSpec, 0, len(raw))
	pairs := make(map[interfaces.Symbol]string, len(raw))
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, info := range raw {
		// Dark pool entries carry no wsname and cannot be streamed.
		if info.WSName == "" {
			continue
		}
		symbol := canonicalFromWS(info.WSName)
		tick := decimal.New(1, -info.PairDecimals)
		if info.TickSize != "" {
			parsed, err := decimal.NewFromString(info.TickSize)
			if err != nil {
				return nil, nil, fmt.Errorf("kraken instruments: tick size for %s: %w", key, err)
			}
			tick = parsed
		}
		specs = append(specs, interfaces.PairSpec{
			Symbol:         symbol,
			PriceDecimals:  info.PairDecimals,
			VolumeDecimals: info.LotDecimals,
			TickSize:       tick,
			Leverage:       info.LeverageBuy,
		})
		pairs[symbol] = info.Altname
		p.aliases[key] = symbol
		p.aliases[info.Altname] = symbol
		p.aliases[info.WSName] = symbol
	}
	return specs, pairs, nil
}

// resolve maps any Kraken pair spelling to the canonical symbol.
func (p *ResponseParser) resolve(pair string) interfaces.Symbol {
	p.mu.RLock()
	symbol, ok := p.aliases[pair]
	p.mu.RUnlock()
	if ok {
		return symbol
	}
	if strings.Contains(pair, "/") {
		return canonicalFromWS(pair)
	}
	return interfaces.Symbol(pair)
}

// ParseOHLC implements interfaces.ResponseParser. The result holds the candle
// rows under the pair key next to a "last" cursor.
func (p *ResponseParser) ParseOHLC(result []byte, symbol interfaces.Symbol, interval time.Duration) ([]interfaces.Candle, error) {
	rows, err := pairRows(result)
	if err != nil {
		return nil, fmt.Errorf("kraken ohlc: %w", err)
	}
	candles := make([]interfaces.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 8 {
			return nil, fmt.Errorf("kraken ohlc: row has %d fields", len(row))
		}
		start, err := secondsFromAny(row[0])
		if err != nil {
			return nil, fmt.Errorf("kraken ohlc: %w", err)
		}
		var fields [5]decimal.Decimal
		for i, idx := range []int{1, 2, 3, 4, 6} {
			fields[i], err = decFromAny(row[idx])
			if err != nil {
				return nil, fmt.Errorf("kraken ohlc: %w", err)
			}
		}
		count, err := intFromAny(row[7])
		if err != nil {
			return nil, fmt.Errorf("kraken ohlc: %w", err)
		}
		candles = append(candles, interfaces.Candle{
			Symbol:    symbol,
			StartTime: time.Unix(start, 0).UTC(),
			Open:      fields[0],
			High:      fields[1],
			Low:       fields[2],
			Close:     fields[3],
			Volume:    fields[4],
			Count:     count,
		})
	}
	return candles, nil
}

// ParseBook implements interfaces.ResponseParser.
func (p *ResponseParser) ParseBook(result []byte, symbol interfaces.Symbol) (*interfaces.BookUpdate, error) {
	var raw map[string]struct {
		Asks [][]interface{} `json:"asks"`
		Bids [][]interface{} `json:"bids"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("kraken book: %w", err)
	}
	update := &interfaces.BookUpdate{Symbol: symbol, IsSnapshot: true}
	for _, entry := range raw {
		var err error
		if update.Asks, err = parseLevels(entry.Asks, update); err != nil {
			return nil, fmt.Errorf("kraken book: %w", err)
		}
		if update.Bids, err = parseLevels(entry.Bids, update); err != nil {
			return nil, fmt.Errorf("kraken book: %w", err)
		}
	}
	return update, nil
}

func parseLevels(rows [][]interface{}, update *interfaces.BookUpdate) ([]interfaces.PriceLevel, error) {
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

// ParseTrades implements interfaces.ResponseParser. With a symbol it decodes
// the public trade tape; with an empty symbol it decodes the account's
// trades_history result.
func (p *ResponseParser) ParseTrades(result []byte, symbol interfaces.Symbol) ([]interfaces.Trade, error) {
	if symbol == "" {
		return p.parseOwnTradeHistory(result)
	}
	rows, err := pairRows(result)
	if err != nil {
		return nil, fmt.Errorf("kraken trades: %w", err)
	}
	trades := make([]interfaces.Trade, 0, len(rows))
	for _, row := range rows {
		if len(row) < 4 {
			return nil, fmt.Errorf("kraken trades: row has %d fields", len(row))
		}
		price, err := decFromAny(row[0])
		if err != nil {
			return nil, fmt.Errorf("kraken trades: %w", err)
		}
		volume, err := decFromAny(row[1])
		if err != nil {
			return nil, fmt.Errorf("kraken trades: %w", err)
		}
		ts, err := nsFromAny(row[2])
		if err != nil {
			return nil, fmt.Errorf("kraken trades: %w", err)
		}
		side := interfaces.SideSell
		if s, ok := row[3].(string); ok && s == "b" {
			side = interfaces.SideBuy
		}
		matchID := fmt.Sprintf("%s-%d-%s", symbol, ts, price.String())
		if len(row) > 6 {
			if id, err := intFromAny(row[6]); err == nil && id != 0 {
				matchID = fmt.Sprintf("%d", id)
			}
		}
		trades = append(trades, interfaces.Trade{
			MatchID:   matchID,
			Symbol:    symbol,
			Side:      side,
			Price:     price,
			Qty:       volume,
			Timestamp: ts,
		})
	}
	return trades, nil
}

func (p *ResponseParser) parseOwnTradeHistory(result []byte) ([]interfaces.Trade, error) {
	var raw struct {
		Trades map[string]ownTrade `json:"trades"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("kraken trades_history: %w", err)
	}
	trades := make([]interfaces.Trade, 0, len(raw.Trades))
	for id, t := range raw.Trades {
		trade, err := p.canonicalOwnTrade(id, t)
		if err != nil {
			return nil, fmt.Errorf("kraken trades_history: %w", err)
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// ownTrade is the fill record shared by trades_history and the ownTrades
// feed. Timestamps arrive as JSON numbers over REST and as strings on the
// WebSocket feed, hence the raw fields.
type ownTrade struct {
	OrderTxID string          `json:"ordertxid"`
	Pair      string          `json:"pair"`
	Time      json.RawMessage `json:"time"`
	Type      string          `json:"type"`
	Price     string          `json:"price"`
	Fee       string          `json:"fee"`
	Vol       string          `json:"vol"`
}

func (p *ResponseParser) canonicalOwnTrade(id string, t ownTrade) (interfaces.Trade, error) {
	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return interfaces.Trade{}, fmt.Errorf("trade %s: price: %w", id, err)
	}
	vol, err := decimal.NewFromString(t.Vol)
	if err != nil {
		return interfaces.Trade{}, fmt.Errorf("trade %s: volume: %w", id, err)
	}
	fee := decimal.Zero
	if t.Fee != "" {
		if fee, err = decimal.NewFromString(t.Fee); err != nil {
			return interfaces.Trade{}, fmt.Errorf("trade %s: fee: %w", id, err)
		}
	}
	ts, err := optionalNs(t.Time)
	if err != nil {
		return interfaces.Trade{}, fmt.Errorf("trade %s: %w", id, err)
	}
	return interfaces.Trade{
		MatchID:   id,
		OrderID:   t.OrderTxID,
		Symbol:    p.resolve(t.Pair),
		Side:      interfaces.Side(t.Type),
		Price:     price,
		Qty:       vol,
		Fee:       fee,
		Timestamp: ts,
	}, nil
}

// rawOrder is Kraken's order record, shared by the REST order queries and the
// openOrders feed.
type rawOrder struct {
	Status    string          `json:"status"`
	OpenTm    json.RawMessage `json:"opentm"`
	ExpireTm  json.RawMessage `json:"expiretm"`
	CloseTm   json.RawMessage `json:"closetm"`
	Vol       string          `json:"vol"`
	VolExec   string          `json:"vol_exec"`
	AvgPrice  string          `json:"price"`
	StopPrice string          `json:"stopprice"`
	Fee       string          `json:"fee"`
	Descr     struct {
		Pair      string `json:"pair"`
		Type      string `json:"type"`
		OrderType string `json:"ordertype"`
		Price     string `json:"price"`
	} `json:"descr"`
}

// ParseOrders implements interfaces.ResponseParser. OpenOrders nests its map
// under "open", ClosedOrders under "closed", QueryOrders returns a flat map.
func (p *ResponseParser) ParseOrders(result []byte) (map[string]*interfaces.Order, error) {
	var nested struct {
		Open   map[string]rawOrder `json:"open"`
		Closed map[string]rawOrder `json:"closed"`
	}
	if err := json.Unmarshal(result, &nested); err == nil {
		if nested.Open != nil {
			return p.canonicalOrders(nested.Open)
		}
		if nested.Closed != nil {
			return p.canonicalOrders(nested.Closed)
		}
	}
	var flat map[string]rawOrder
	if err := json.Unmarshal(result, &flat); err != nil {
		return nil, fmt.Errorf("kraken orders: %w", err)
	}
	return p.canonicalOrders(flat)
}

func (p *ResponseParser) canonicalOrders(raw map[string]rawOrder) (map[string]*interfaces.Order, error) {
	orders := make(map[string]*interfaces.Order, len(raw))
	for id, o := range raw {
		order, err := p.canonicalOrder(id, o)
		if err != nil {
			return nil, fmt.Errorf("kraken orders: %w", err)
		}
		orders[id] = order
	}
	return orders, nil
}

func (p *ResponseParser) canonicalOrder(id string, o rawOrder) (*interfaces.Order, error) {
	order := &interfaces.Order{
		ID:     id,
		Symbol: p.resolve(o.Descr.Pair),
		Side:   interfaces.Side(o.Descr.Type),
		Type:   interfaces.OrderType(o.Descr.OrderType),
		Status: orderStatus(o.Status),
	}
	var err error
	if o.Vol != "" {
		if order.Qty, err = decimal.NewFromString(o.Vol); err != nil {
			return nil, fmt.Errorf("order %s: volume: %w", id, err)
		}
	}
	if o.VolExec != "" {
		if order.FilledQty, err = decimal.NewFromString(o.VolExec); err != nil {
			return nil, fmt.Errorf("order %s: filled volume: %w", id, err)
		}
	}
	order.RemainingQty = order.Qty.Sub(order.FilledQty)
	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{o.Descr.Price, &order.LimitPrice},
		{o.AvgPrice, &order.AvgFillPrice},
		{o.StopPrice, &order.StopPrice},
		{o.Fee, &order.Fee},
	} {
		if f.raw == "" {
			continue
		}
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return nil, fmt.Errorf("order %s: price field: %w", id, err)
		}
	}
	if order.EffectiveTime, err = optionalNs(o.OpenTm); err != nil {
		return nil, fmt.Errorf("order %s: %w", id, err)
	}
	if order.ExpireTime, err = optionalNs(o.ExpireTm); err != nil {
		return nil, fmt.Errorf("order %s: %w", id, err)
	}
	if order.TransactTime, err = optionalNs(o.CloseTm); err != nil {
		return nil, fmt.Errorf("order %s: %w", id, err)
	}
	if order.TransactTime == 0 {
		order.TransactTime = order.EffectiveTime
	}
	return order, nil
}

func orderStatus(s string) interfaces.OrderStatus {
	switch s {
	case "pending":
		return interfaces.OrderStatusPendingNew
	case "open":
		return interfaces.OrderStatusNew
	case "closed":
		return interfaces.OrderStatusFilled
	case "canceled", "expired":
		return interfaces.OrderStatusCanceled
	default:
		return interfaces.OrderStatus(s)
	}
}

// ParseBalances implements interfaces.ResponseParser. Both Balance and
// TradeBalance return a flat map of string amounts.
func (p *ResponseParser) ParseBalances(result []byte) (map[string]decimal.Decimal, error) {
	var raw map[string]string
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("kraken balances: %w", err)
	}
	balances := make(map[string]decimal.Decimal, len(raw))
	for asset, amount := range raw {
		value, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("kraken balances: %s: %w", asset, err)
		}
		balances[asset] = value
	}
	return balances, nil
}

// ParsePositions implements interfaces.ResponseParser.
func (p *ResponseParser) ParsePositions(result []byte) ([]interfaces.Position, error) {
	var raw map[string]struct {
		Pair string `json:"pair"`
		Type string `json:"type"`
		Vol  string `json:"vol"`
		Cost string `json:"cost"`
		Fee  string `json:"fee"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("kraken positions: %w", err)
	}
	positions := make([]interfaces.Position, 0, len(raw))
	for id, pos := range raw {
		position := interfaces.Position{
			ID:     id,
			Symbol: p.resolve(pos.Pair),
			Side:   interfaces.Side(pos.Type),
		}
		var err error
		for _, f := range []struct {
			raw string
			dst *decimal.Decimal
		}{
			{pos.Vol, &position.Qty},
			{pos.Cost, &position.Cost},
			{pos.Fee, &position.Fee},
		} {
			if f.raw == "" {
				continue
			}
			if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
				return nil, fmt.Errorf("kraken positions: %s: %w", id, err)
			}
		}
		positions = append(positions, position)
	}
	return positions, nil
}

// ParseToken implements interfaces.ResponseParser.
func (p *ResponseParser) ParseToken(result []byte) (string, error) {
	var raw struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return "", fmt.Errorf("kraken token: %w", err)
	}
	if raw.Token == "" {
		return "", fmt.Errorf("kraken token: empty token in result")
	}
	return raw.Token, nil
}

// pairRows extracts the row array keyed by the pair name, skipping the "last"
// pagination cursor Kraken places beside it.
func pairRows(result []byte) ([][]interface{}, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, err
	}
	for key, value := range raw {
		if key == "last" {
			continue
		}
		var rows [][]interface{}
		if err := json.Unmarshal(value, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
	return nil, fmt.Errorf("no pair entry in result")
}

func decFromAny(v interface{}) (decimal.Decimal, error) {
	switch t := v.(type) {
	case string:
		return decimal.NewFromString(t)
	case float64:
		return decimal.NewFromFloat(t), nil
	case json.Number:
		return decimal.NewFromString(t.String())
	default:
		return decimal.Decimal{}, fmt.Errorf("unexpected numeric type %T", v)
	}
}

func intFromAny(v interface{}) (int, error) {
	d, err := decFromAny(v)
	if err != nil {
		return 0, err
	}
	return int(d.IntPart()), nil
}

func secondsFromAny(v interface{}) (int64, error) {
	d, err := decFromAny(v)
	if err != nil {
		return 0, err
	}
	return d.IntPart(), nil
}

// nsFromAny converts a fractional-second timestamp to nanoseconds without
// the precision loss of float arithmetic on string inputs.
func nsFromAny(v interface{}) (int64, error) {
	d, err := decFromAny(v)
	if err != nil {
		return 0, err
	}
	return d.Mul(decimal.New(1, 9)).IntPart(), nil
}

// optionalNs converts a timestamp that may be absent, a JSON number, or a
// quoted string into nanoseconds.
func optionalNs(raw json.RawMessage) (int64, error) {
	s := strings.Trim(string(raw), `"`)
	if s == "" || s == "null" || s == "0" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return d.Mul(decimal.New(1, 9)).IntPart(), nil
}
