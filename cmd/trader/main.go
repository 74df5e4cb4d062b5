// Command trader runs the market-connectivity and execution backend: REST
// client, public and private WebSocket feeds, order book and order state
// reconstruction, and the limit-chase execution engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/veiloq/tradecore/pkg/book"
	"github.com/veiloq/tradecore/pkg/config"
	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
	"github.com/veiloq/tradecore/pkg/exchanges/kraken"
	"github.com/veiloq/tradecore/pkg/execution"
	"github.com/veiloq/tradecore/pkg/logging"
	"github.com/veiloq/tradecore/pkg/orders"
	"github.com/veiloq/tradecore/pkg/ratelimit"
	"github.com/veiloq/tradecore/pkg/rest"
	"github.com/veiloq/tradecore/pkg/router"
	"github.com/veiloq/tradecore/pkg/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Secrets may live in a .env file next to the binary.
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	opts := []logging.ZapOption{logging.WithLogLevel(logging.ParseLevel(cfg.Logging.Level))}
	if cfg.Logging.File != "" {
		opts = append(opts, logging.WithRotatingFile(cfg.Logging.File, 100, 5))
	}
	logger := logging.NewZapLogger(opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	responses := kraken.NewResponseParser()
	requests := kraken.NewRequestParser()
	stream := kraken.NewStreamParser(responses)

	creds := make([]rest.Credential, 0, len(cfg.Exchange.Keys))
	for _, pair := range cfg.Exchange.Keys {
		creds = append(creds, rest.Credential{Key: pair.Key, Secret: pair.Secret})
	}
	var pool *rest.KeyPool
	if len(creds) > 0 {
		if pool, err = rest.NewKeyPool(creds); err != nil {
			return err
		}
	}

	client := rest.NewClient(rest.Config{
		BaseURL:             cfg.Exchange.RestURL,
		Timeout:             cfg.RestTimeout(),
		RateLimit:           ratelimit.Rate{Limit: cfg.Rest.RateLimitPerSec, Interval: time.Second},
		TransportRetries:    uint(cfg.Rest.TransportRetries),
		TransportRetryDelay: cfg.TransportDelay(),
		Logger:              logger.WithFields(logging.String("component", "rest")),
	}, pool, kraken.NewSigner(), requests, responses, kraken.NewTaxonomy(logger))
	defer client.Close()

	table, err := client.LoadInstruments(ctx)
	if err != nil {
		return fmt.Errorf("load instruments: %w", err)
	}
	requests.SetSymbolTable(table)

	symbols := make([]interfaces.Symbol, 0, len(cfg.Exchange.Symbols))
	for _, s := range cfg.Exchange.Symbols {
		symbol := interfaces.Symbol(s)
		if _, err := table.ToNative(symbol); err != nil {
			return err
		}
		symbols = append(symbols, symbol)
	}

	books := book.NewStore(logger.WithFields(logging.String("component", "book")))
	orderState := orders.NewStore(logger.WithFields(logging.String("component", "orders")))

	app := &application{
		cfg:        cfg,
		logger:     logger,
		client:     client,
		stream:     stream,
		requests:   requests,
		table:      table,
		symbols:    symbols,
		books:      books,
		orderState: orderState,
	}
	return app.run(ctx)
}

// tokenHolder guards the private WebSocket token, which is refreshed over
// REST after every private reconnect.
type tokenHolder struct {
	mu    sync.RWMutex
	token string
}

func (t *tokenHolder) get() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

func (t *tokenHolder) set(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
}

// wsSender submits order commands over the private WebSocket connection.
type wsSender struct {
	requests interfaces.RequestParser
	sup      *websocket.Supervisor
	token    *tokenHolder
}

func (s *wsSender) SendAddOrder(req interfaces.AddOrderRequest) error {
	frame, err := s.requests.AddOrderCommand(req, s.token.get())
	if err != nil {
		return err
	}
	return s.sup.Send(frame)
}

func (s *wsSender) SendCancelOrder(req interfaces.CancelOrderRequest) error {
	frame, err := s.requests.CancelOrderCommand(req, s.token.get())
	if err != nil {
		return err
	}
	return s.sup.Send(frame)
}

type application struct {
	cfg        *config.Config
	logger     logging.Logger
	client     *rest.Client
	stream     *kraken.StreamParser
	requests   *kraken.RequestParser
	table      *interfaces.SymbolTable
	symbols    []interfaces.Symbol
	books      *book.Store
	orderState *orders.Store

	engine *execution.Engine
	token  tokenHolder
}

func (a *application) run(ctx context.Context) error {
	// The supervisors' consume goroutines invoke the engine from their
	// sinks, so the engine must exist before any connection is opened.
	public := a.buildPublic()
	var private *websocket.Supervisor
	if a.cfg.Exchange.WSPrivateURL != "" && len(a.cfg.Exchange.Keys) > 0 {
		private = a.buildPrivate(ctx)
	}

	engineCtx, stopEngine := context.WithCancel(ctx)
	defer stopEngine()

	sender := a.commandSender(ctx, private)
	a.engine = execution.NewEngine(execution.Config{
		TickInterval: a.cfg.TickInterval(),
		OrderLife:    a.cfg.OrderLife(),
		Logger:       a.logger.WithFields(logging.String("component", "execution")),
	}, a.table, sender)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.engine.Run(engineCtx)
	}()
	// Shutdown order: stop placement ticks first, then the feeds, and let
	// the deferred Close calls release the connections.
	shutdown := func() {
		stopEngine()
		wg.Wait()
	}

	if err := public.Connect(ctx); err != nil {
		shutdown()
		return err
	}
	defer public.Close()
	a.subscribePublic(public)

	if private != nil {
		token, err := a.client.WSToken(ctx)
		if err != nil {
			shutdown()
			return fmt.Errorf("websocket token: %w", err)
		}
		a.token.set(token)
		if err := private.Connect(ctx); err != nil {
			shutdown()
			return err
		}
		defer private.Close()
		a.subscribePrivate(private)
	}

	a.logger.Info("trader running",
		logging.String("exchange", a.cfg.Exchange.Name),
		logging.Int("symbols", len(a.symbols)))

	<-ctx.Done()
	shutdown()
	a.logger.Info("trader stopped")
	return nil
}

// commandSender prefers the private WebSocket for order commands and falls
// back to REST when no private connection is configured.
func (a *application) commandSender(ctx context.Context, private *websocket.Supervisor) execution.CommandSender {
	if private != nil {
		return &wsSender{requests: a.requests, sup: private, token: &a.token}
	}
	return &restSender{ctx: ctx, client: a.client}
}

// restSender submits order commands over REST, used when the private feed is
// not configured.
type restSender struct {
	ctx    context.Context
	client *rest.Client
}

func (s *restSender) SendAddOrder(req interfaces.AddOrderRequest) error {
	return s.client.PlaceOrder(s.ctx, req)
}

func (s *restSender) SendCancelOrder(req interfaces.CancelOrderRequest) error {
	return s.client.CancelOrder(s.ctx, req)
}

// buildPublic constructs the public supervisor and router without dialing;
// the caller connects and subscribes once the engine is in place.
func (a *application) buildPublic() *websocket.Supervisor {
	var sup *websocket.Supervisor
	r := router.New(a.stream, router.Sinks{
		OnSubscriptionStatus: func(ev interfaces.SubscriptionStatusEvent) {
			sup.ConfirmSubscription(ev)
			if ev.Status == "error" {
				a.logger.Error("subscription rejected",
					logging.String("feed", ev.Feed),
					logging.String("symbol", string(ev.Symbol)),
					logging.String("message", ev.Message))
			}
		},
		OnConnectionStatus: func(ev interfaces.ConnectionStatusEvent) {
			a.logger.Info("exchange connection status",
				logging.String("status", ev.Status),
				logging.String("version", ev.Version))
		},
		OnBook: func(ev interfaces.BookEvent) {
			if err := a.books.Apply(ev.Update); err != nil {
				a.logger.Warn("book update rejected",
					logging.String("symbol", string(ev.Update.Symbol)),
					logging.Error(err))
				return
			}
			if bid, ask, ok := a.books.BestBidAsk(ev.Update.Symbol); ok {
				a.engine.OnSpreadUpdate(ev.Update.Symbol, bid, ask)
			}
		},
	}, a.logger.WithFields(logging.String("conn", "public")))

	sup = websocket.NewSupervisor(websocket.Config{
		URL:               a.cfg.Exchange.WSPublicURL,
		PingInterval:      a.cfg.PingInterval(),
		ReconnectDelay:    a.cfg.ReconnectDelay(),
		MaxReconnectDelay: a.cfg.MaxReconnectDelay(),
		MaxRetries:        a.cfg.WebSocket.MaxRetries,
		RenderControl:     a.requests.SubscriptionCommand,
		Logger:            a.logger.WithFields(logging.String("conn", "public")),
	}, r.Route)

	sup.OnReconnect(func() { a.subscribePublic(sup) })
	return sup
}

func (a *application) subscribePublic(sup *websocket.Supervisor) {
	for _, symbol := range a.symbols {
		reqs := []interfaces.SubscribeRequest{
			{Feed: "book", Symbol: symbol, Depth: a.cfg.WebSocket.BookDepth},
			{Feed: "trade", Symbol: symbol},
		}
		for _, req := range reqs {
			if err := sup.Subscribe(req); err != nil {
				a.logger.Error("subscribe failed",
					logging.String("feed", req.Feed),
					logging.String("symbol", string(symbol)),
					logging.Error(err))
			}
		}
	}
}

// buildPrivate constructs the private supervisor and router without dialing
// or fetching a token; the caller does both once the engine is in place.
func (a *application) buildPrivate(ctx context.Context) *websocket.Supervisor {
	var sup *websocket.Supervisor
	r := router.New(a.stream, router.Sinks{
		OnSubscriptionStatus: func(ev interfaces.SubscriptionStatusEvent) {
			sup.ConfirmSubscription(ev)
		},
		OnOrders: func(ev interfaces.OrdersEvent) {
			a.orderState.ApplyOrders(ev)
			a.engine.OnOrderUpdate(ev)
		},
		OnTrades: func(ev interfaces.TradesEvent) {
			a.orderState.ApplyTrades(ev)
			a.engine.OnTradeUpdate(ev)
		},
	}, a.logger.WithFields(logging.String("conn", "private")))

	sup = websocket.NewSupervisor(websocket.Config{
		URL:               a.cfg.Exchange.WSPrivateURL,
		PingInterval:      a.cfg.PingInterval(),
		ReconnectDelay:    a.cfg.ReconnectDelay(),
		MaxReconnectDelay: a.cfg.MaxReconnectDelay(),
		MaxRetries:        a.cfg.WebSocket.MaxRetries,
		RenderControl:     a.requests.SubscriptionCommand,
		Logger:            a.logger.WithFields(logging.String("conn", "private")),
	}, r.Route)

	sup.OnReconnect(func() {
		// The token may have expired while the connection was down.
		fresh, err := a.client.WSToken(ctx)
		if err != nil {
			a.logger.Error("websocket token refresh failed", logging.Error(err))
		} else {
			a.token.set(fresh)
		}
		a.subscribePrivate(sup)
	})
	return sup
}

func (a *application) subscribePrivate(sup *websocket.Supervisor) {
	for _, feed := range []string{"ownTrades", "openOrders"} {
		req := interfaces.SubscribeRequest{Feed: feed, Token: a.token.get()}
		if err := sup.Subscribe(req); err != nil {
			a.logger.Error("subscribe failed",
				logging.String("feed", feed),
				logging.Error(err))
		}
	}
}
