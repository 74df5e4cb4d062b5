// Package tradecore is a market-connectivity and execution backend for
// cryptocurrency exchanges.
//
// The module keeps live market and account state in memory and works orders
// against it. Exchange specifics (wire formats, signing, error codes) live
// behind parser interfaces, so the connectivity and execution layers stay
// exchange-agnostic; Kraken is the worked implementation.
//
// Core layers:
//
//   - pkg/websocket: supervised WebSocket connections with exponential
//     reconnect backoff and ack-confirmed subscription tracking
//   - pkg/router: classifies inbound frames and fans canonical events out
//     to the state stores
//   - pkg/book: per-symbol order book reconstruction with symmetric
//     crossed-level pruning
//   - pkg/orders: open order and fill state from the private feeds
//   - pkg/rest: rate-limited signed REST client with key rotation and an
//     error-taxonomy-driven retry loop
//   - pkg/execution: limit-chase engine placing one resting child order at
//     a time just inside the spread
//   - pkg/exchanges/kraken: the Kraken request, response, and stream
//     parsers, signature scheme, and error taxonomy
//
// # Standard Errors
//
// Canonical error variables in pkg/exchanges/interfaces give every exchange
// implementation the same failure vocabulary:
//
//   - ErrNotConnected: an operation was attempted on a connection that is
//     not established
//
//   - ErrInvalidSymbol: a symbol is unknown to the exchange's pair table;
//     lookups fail loudly instead of passing the spelling through
//
//   - ErrInvalidRequest: an outbound order command failed shape validation
//
//   - ErrRateLimitExceeded: the exchange rate limit was exceeded
//
//   - ErrAuthentication: API key, signature, or nonce failure; fatal for
//     the affected credential
//
//   - ErrInsufficientFunds: business rejection, never retried
//
//   - ErrExchangeUnavailable: the exchange API is unavailable
//
//   - ErrSubscriptionFailed: a WebSocket subscription was rejected
//
//   - ErrRetriesExhausted: the reconnect retry ceiling was reached
//
// Raw exchange error codes are preserved through ExchangeError, which wraps
// the code and message around the canonical kind so errors.Is still matches.
//
// # Example
//
// Wiring the Kraken REST client and a public feed:
//
//	responses := kraken.NewResponseParser()
//	requests := kraken.NewRequestParser()
//
//	client := rest.NewClient(rest.Config{
//	    BaseURL:   "https://api.kraken.com",
//	    RateLimit: ratelimit.Rate{Limit: 1, Interval: time.Second},
//	    Logger:    logger,
//	}, pool, kraken.NewSigner(), requests, responses, kraken.NewTaxonomy(logger))
//
//	table, err := client.LoadInstruments(ctx)
//	if err != nil {
//	    log.Fatalf("load instruments: %v", err)
//	}
//	requests.SetSymbolTable(table)
//
//	books := book.NewStore(logger)
//	r := router.New(kraken.NewStreamParser(responses), router.Sinks{
//	    OnBook: func(ev interfaces.BookEvent) { _ = books.Apply(ev.Update) },
//	}, logger)
//
//	sup := websocket.NewSupervisor(websocket.Config{
//	    URL:    "wss://ws.kraken.com",
//	    Logger: logger,
//	}, r.Route)
//	if err := sup.Connect(ctx); err != nil {
//	    log.Fatalf("connect: %v", err)
//	}
//	defer sup.Close()
//
//	_ = sup.Subscribe(interfaces.SubscribeRequest{
//	    Feed:   "book",
//	    Symbol: "XBT-USD",
//	    Depth:  10,
//	})
//
// Subscriptions are not replayed automatically after a reconnect: register
// an OnReconnect callback and reissue them there, refreshing the private
// feed token first when one is in play. cmd/trader shows the full wiring.
package tradecore
