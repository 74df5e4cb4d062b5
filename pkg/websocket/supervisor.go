// Package websocket owns one WebSocket connection to an exchange, public or
// private: subscription control frames, the consume loop, and reconnection
// with bounded exponential backoff.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/gorilla/websocket"

	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
	"github.com/veiloq/tradecore/pkg/logging"
)

// MessageHandler receives every inbound frame in wire order. A returned
// error is logged and the consume loop continues; a single malformed
// message must not kill the connection.
type MessageHandler func(raw []byte) error

// Config holds supervisor configuration for one connection.
type Config struct {
	URL string

	// PingInterval is how often a ping control frame is sent;
	// PingTimeout is how long after a missed pong the read fails.
	PingInterval time.Duration
	PingTimeout  time.Duration

	// ReconnectDelay is the initial backoff after a transport failure; the
	// delay doubles each attempt up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	// MaxRetries bounds consecutive failed reconnect attempts; -1 retries
	// without limit.
	MaxRetries int

	// RenderControl renders subscribe and unsubscribe requests in the
	// exchange's own wire shape; nil sends the canonical frame as JSON.
	RenderControl func(req interfaces.SubscribeRequest) ([]byte, error)

	Logger logging.Logger
}

// SubKey identifies one subscription: a feed plus an optional symbol.
type SubKey struct {
	Feed   string
	Symbol interfaces.Symbol
}

// Supervisor owns one connection. Subscriptions are tracked in two sets:
// pending at send time, confirmed only once the exchange acknowledges with
// a subscription-status message. The supervisor never resubscribes
// automatically after a reconnect; prior subscription state is stale, so it
// invokes the OnReconnect callback and the feed handler reissues what it
// still wants.
type Supervisor struct {
	cfg     Config
	handler MessageHandler

	onReconnect func()

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex

	state atomic.Int32

	subsMu    sync.Mutex
	pending   map[SubKey]struct{}
	confirmed map[SubKey]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger logging.Logger
}

// NewSupervisor creates a supervisor for the given endpoint.
func NewSupervisor(cfg Config, handler MessageHandler) *Supervisor {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = cfg.PingInterval * 3
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	s := &Supervisor{
		cfg:       cfg,
		handler:   handler,
		pending:   make(map[SubKey]struct{}),
		confirmed: make(map[SubKey]struct{}),
		logger:    cfg.Logger,
	}
	s.state.Store(int32(interfaces.StateOffline))
	return s
}

// OnReconnect registers the callback invoked after every successful
// reconnect, from the supervisor's own goroutine.
func (s *Supervisor) OnReconnect(fn func()) {
	s.onReconnect = fn
}

// State returns the current connection state.
func (s *Supervisor) State() interfaces.ConnState {
	return interfaces.ConnState(s.state.Load())
}

// Connect dials the endpoint and starts the consume loop. It returns once
// the initial connection is established; reconnection afterwards is
// automatic until Close or context cancellation.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.state.Store(int32(interfaces.StateConnecting))
	if err := s.dial(ctx); err != nil {
		s.state.Store(int32(interfaces.StateOffline))
		return err
	}
	s.state.Store(int32(interfaces.StateOnline))

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(2)
	go s.consumeLoop(runCtx)
	go s.pingLoop(runCtx)
	s.logger.Info("websocket connected", logging.String("url", s.cfg.URL))
	return nil
}

func (s *Supervisor) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	conn.SetReadDeadline(time.Now().Add(s.cfg.PingTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PingTimeout))
		return nil
	})
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	return nil
}

// consumeLoop reads frames until the transport fails, then reconnects with
// exponential backoff. Messages are handled in wire order.
func (s *Supervisor) consumeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		err := s.readUntilFailure(ctx)
		if ctx.Err() != nil {
			s.state.Store(int32(interfaces.StateOffline))
			return
		}
		s.logger.Warn("websocket transport failure", logging.Error(err))
		if !s.reconnect(ctx) {
			s.state.Store(int32(interfaces.StateOffline))
			s.logger.Error("reconnect retries exhausted, connection offline",
				logging.String("url", s.cfg.URL))
			return
		}
	}
}

func (s *Supervisor) readUntilFailure(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()
		if conn == nil {
			return interfaces.ErrNotConnected
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.closeConn()
			return err
		}
		if s.handler == nil {
			continue
		}
		if err := s.handler(raw); err != nil {
			// Handler failures drop only the one message.
			s.logger.Warn("message handler error", logging.Error(err))
		}
	}
}

// reconnect retries the dial with exponential backoff until it succeeds, the
// context ends, or the retry ceiling (MaxRetries, -1 unlimited) is hit.
// On success the subscription sets are cleared and OnReconnect fires; the
// caller is responsible for reissuing subscriptions.
func (s *Supervisor) reconnect(ctx context.Context) bool {
	s.state.Store(int32(interfaces.StateReconnecting))
	if s.cfg.MaxRetries == 0 {
		return false
	}

	attempt := func(attempts uint, delay time.Duration) error {
		return retry.Do(
			func() error {
				if ctx.Err() != nil {
					return retry.Unrecoverable(ctx.Err())
				}
				return s.dial(ctx)
			},
			retry.Attempts(attempts),
			retry.Delay(delay),
			retry.MaxDelay(s.cfg.MaxReconnectDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, err error) {
				s.logger.Warn("reconnect attempt failed",
					logging.Int("attempt", int(n+1)),
					logging.Error(err))
			}),
		)
	}

	if s.cfg.MaxRetries < 0 {
		// Unlimited: repeat bounded rounds, later rounds start at the
		// backoff ceiling.
		delay := s.cfg.ReconnectDelay
		for {
			if err := attempt(10, delay); err == nil {
				break
			}
			if ctx.Err() != nil {
				return false
			}
			delay = s.cfg.MaxReconnectDelay
		}
	} else if err := attempt(uint(s.cfg.MaxRetries), s.cfg.ReconnectDelay); err != nil {
		return false
	}

	s.subsMu.Lock()
	s.pending = make(map[SubKey]struct{})
	s.confirmed = make(map[SubKey]struct{})
	s.subsMu.Unlock()

	s.state.Store(int32(interfaces.StateOnline))
	s.logger.Info("websocket reconnected", logging.String("url", s.cfg.URL))
	if s.onReconnect != nil {
		s.onReconnect()
	}
	return true
}

func (s *Supervisor) pingLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.RLock()
			conn := s.conn
			s.connMu.RUnlock()
			if conn == nil {
				continue
			}
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Warn("ping failed", logging.Error(err))
			}
		}
	}
}

// Subscribe sends a subscribe control frame and records the feed as pending.
// New subscribe requests are accepted only while the connection is online.
func (s *Supervisor) Subscribe(req interfaces.SubscribeRequest) error {
	if s.State() != interfaces.StateOnline {
		return interfaces.ErrNotConnected
	}
	req.Event = "subscribe"
	if err := s.sendControl(req); err != nil {
		return err
	}
	s.subsMu.Lock()
	s.pending[SubKey{Feed: req.Feed, Symbol: req.Symbol}] = struct{}{}
	s.subsMu.Unlock()
	return nil
}

// Unsubscribe sends an unsubscribe control frame.
func (s *Supervisor) Unsubscribe(req interfaces.SubscribeRequest) error {
	if s.State() != interfaces.StateOnline {
		return interfaces.ErrNotConnected
	}
	req.Event = "unsubscribe"
	if err := s.sendControl(req); err != nil {
		return err
	}
	s.subsMu.Lock()
	s.pending[SubKey{Feed: req.Feed, Symbol: req.Symbol}] = struct{}{}
	s.subsMu.Unlock()
	return nil
}

// ConfirmSubscription records an explicit subscription-status ack from the
// exchange. The confirmed set changes here and nowhere else.
func (s *Supervisor) ConfirmSubscription(ev interfaces.SubscriptionStatusEvent) {
	key := SubKey{Feed: ev.Feed, Symbol: ev.Symbol}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.pending, key)
	switch ev.Status {
	case "subscribed":
		s.confirmed[key] = struct{}{}
	case "unsubscribed", "error":
		delete(s.confirmed, key)
	}
}

// IsSubscribed reports whether a subscription has been acknowledged.
func (s *Supervisor) IsSubscribed(feed string, symbol interfaces.Symbol) bool {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	_, ok := s.confirmed[SubKey{Feed: feed, Symbol: symbol}]
	return ok
}

// Send writes a raw command frame, used for private order commands.
func (s *Supervisor) Send(data []byte) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return interfaces.ErrNotConnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Supervisor) sendControl(req interfaces.SubscribeRequest) error {
	if s.cfg.RenderControl != nil {
		frame, err := s.cfg.RenderControl(req)
		if err != nil {
			return err
		}
		return s.Send(frame)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal control frame: %w", err)
	}
	return s.Send(data)
}

func (s *Supervisor) closeConn() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Close stops the consume loop and closes the connection.
func (s *Supervisor) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed connection"))
		s.writeMu.Unlock()
	}
	s.closeConn()
	s.wg.Wait()
	s.state.Store(int32(interfaces.StateOffline))
	return nil
}
