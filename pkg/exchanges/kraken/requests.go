package kraken

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
)

// endpoint maps a canonical method name to the Kraken path.
type endpoint struct {
	path    string
	private bool
}

var endpoints = map[string]endpoint{
	"ohlc":           {"/0/public/OHLC", false},
	"trades":         {"/0/public/Trades", false},
	"orderbook":      {"/0/public/Depth", false},
	"instrument":     {"/0/public/AssetPairs", false},
	"balances":       {"/0/private/Balance", true},
	"exposure":       {"/0/private/TradeBalance", true},
	"open_orders":    {"/0/private/OpenOrders", true},
	"closed_orders":  {"/0/private/ClosedOrders", true},
	"order_info":     {"/0/private/QueryOrders", true},
	"trades_history": {"/0/private/TradesHistory", true},
	"open_positions": {"/0/private/OpenPositions", true},
	"place_order":    {"/0/private/AddOrder", true},
	"cancel_order":   {"/0/private/CancelOrder", true},
	"ws_token":       {"/0/private/GetWebSocketsToken", true},
}

// RequestParser renders canonical methods and order commands in Kraken's
// wire shapes. The symbol table is installed once instruments are loaded.
type RequestParser struct {
	mu    sync.RWMutex
	table *interfaces.SymbolTable
}

// NewRequestParser creates the Kraken request parser.
func NewRequestParser() *RequestParser { return &RequestParser{} }

// SetSymbolTable installs the pair table. Order commands fail until it is set.
func (p *RequestParser) SetSymbolTable(table *interfaces.SymbolTable) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.table = table
}

func (p *RequestParser) nativePair(symbol interfaces.Symbol) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.table == nil {
		return "", fmt.Errorf("kraken: symbol table not loaded")
	}
	return p.table.ToNative(symbol)
}

// Endpoint implements interfaces.RequestParser.
func (p *RequestParser) Endpoint(method string) (string, bool, error) {
	ep, ok := endpoints[method]
	if !ok {
		return "", false, fmt.Errorf("kraken: unknown method %q", method)
	}
	return ep.path, ep.private, nil
}

// AddOrderParams implements interfaces.RequestParser.
func (p *RequestParser) AddOrderParams(req interfaces.AddOrderRequest) (url.Values, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	native, err := p.nativePair(req.Symbol)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("pair", native)
	params.Set("type", string(req.Side))
	params.Set("ordertype", string(req.Type))
	params.Set("volume", req.Qty.String())
	if req.Type == interfaces.OrderTypeLimit {
		params.Set("price", req.LimitPrice.String())
	}
	if req.ClientID != "" {
		params.Set("cl_ord_id", req.ClientID)
	}
	return params, nil
}

// CancelOrderParams implements interfaces.RequestParser.
func (p *RequestParser) CancelOrderParams(req interfaces.CancelOrderRequest) (url.Values, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("txid", req.OrderID)
	return params, nil
}

// SubscriptionCommand renders a subscribe or unsubscribe control frame in
// Kraken's wire shape: the feed becomes subscription.name and public feeds
// carry the ws pair spelling in "pair".
func (p *RequestParser) SubscriptionCommand(req interfaces.SubscribeRequest) ([]byte, error) {
	if req.Feed == "" {
		return nil, fmt.Errorf("%w: missing feed", interfaces.ErrInvalidRequest)
	}
	event := req.Event
	if event == "" {
		event = "subscribe"
	}
	sub := map[string]interface{}{"name": req.Feed}
	if req.Depth > 0 {
		sub["depth"] = req.Depth
	}
	if req.Timeframe > 0 {
		sub["interval"] = req.Timeframe
	}
	if req.Token != "" {
		sub["token"] = req.Token
	}
	frame := map[string]interface{}{
		"event":        event,
		"subscription": sub,
	}
	if req.Symbol != "" {
		frame["pair"] = []string{wsFromCanonical(req.Symbol)}
	}
	return json.Marshal(frame)
}

// AddOrderCommand implements interfaces.RequestParser.
func (p *RequestParser) AddOrderCommand(req interfaces.AddOrderRequest, token string) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	frame := map[string]interface{}{
		"event":     "addOrder",
		"token":     token,
		"pair":      wsFromCanonical(req.Symbol),
		"type":      string(req.Side),
		"ordertype": string(req.Type),
		"volume":    req.Qty.String(),
	}
	if req.Type == interfaces.OrderTypeLimit {
		frame["price"] = req.LimitPrice.String()
	}
	return json.Marshal(frame)
}

// CancelOrderCommand implements interfaces.RequestParser.
func (p *RequestParser) CancelOrderCommand(req interfaces.CancelOrderRequest, token string) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]interface{}{
		"event": "cancelOrder",
		"token": token,
		"txid":  []string{req.OrderID},
	})
}
