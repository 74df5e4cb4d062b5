package main

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/tradecore/pkg/book"
	"github.com/veiloq/tradecore/pkg/config"
	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
	"github.com/veiloq/tradecore/pkg/exchanges/kraken"
	"github.com/veiloq/tradecore/pkg/logging"
	"github.com/veiloq/tradecore/pkg/orders"
	"github.com/veiloq/tradecore/pkg/ratelimit"
	"github.com/veiloq/tradecore/pkg/rest"
	"github.com/veiloq/tradecore/pkg/websocket"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func testApplication(t *testing.T, wsURL string) *application {
	t.Helper()

	table, err := interfaces.NewSymbolTable(
		map[interfaces.Symbol]string{"XBT-USD": "XBTUSD"},
		[]interfaces.PairSpec{{
			Symbol:         "XBT-USD",
			PriceDecimals:  1,
			VolumeDecimals: 8,
			TickSize:       decimal.New(1, -1),
		}},
	)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Exchange.Name = "kraken"
	cfg.Exchange.RestURL = "http://127.0.0.1:1"
	cfg.Exchange.WSPublicURL = wsURL
	cfg.Exchange.Symbols = []string{"XBT-USD"}
	cfg.WebSocket.PingIntervalSec = 1
	cfg.Execution.TickIntervalMS = 10

	logger := logging.Nop()
	responses := kraken.NewResponseParser()
	requests := kraken.NewRequestParser()
	requests.SetSymbolTable(table)

	client := rest.NewClient(rest.Config{
		BaseURL:   cfg.Exchange.RestURL,
		RateLimit: ratelimit.Rate{Limit: 1, Interval: time.Second},
		Logger:    logger,
	}, nil, kraken.NewSigner(), requests, responses, kraken.NewTaxonomy(logger))
	t.Cleanup(client.Close)

	return &application{
		cfg:        cfg,
		logger:     logger,
		client:     client,
		stream:     kraken.NewStreamParser(responses),
		requests:   requests,
		table:      table,
		symbols:    []interfaces.Symbol{"XBT-USD"},
		books:      book.NewStore(logger),
		orderState: orders.NewStore(logger),
	}
}

// The public pipeline is wired engine-first: book frames arriving on the
// consume goroutine immediately after the subscribe must find the engine in
// place and flow through the book store.
func TestApplication_RunPublicPipeline(t *testing.T) {
	server := websocket.NewMockExchangeServer()
	defer server.Close()
	server.SetAutoAck(true)

	app := testApplication(t, server.URL())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- app.run(ctx) }()

	// Book and trade subscriptions go out for the configured symbol.
	waitFor(t, 2*time.Second, func() bool { return len(server.Received()) >= 2 })

	server.Broadcast([]byte(`[0,{"as":[["100.1","1.0","1690000000.000000"]],"bs":[["100.0","2.0","1690000000.000000"]]},"book-10","XBT/USD"]`))
	waitFor(t, 2*time.Second, func() bool {
		_, _, ok := app.books.BestBidAsk("XBT-USD")
		return ok
	})
	bid, ask, _ := app.books.BestBidAsk("XBT-USD")
	assert.True(t, bid.Equal(decimal.RequireFromString("100.0")), "got %s", bid)
	assert.True(t, ask.Equal(decimal.RequireFromString("100.1")), "got %s", ask)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}
