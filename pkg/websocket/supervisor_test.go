package websocket

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
)

func testConfig(url string) Config {
	return Config{
		URL:               url,
		PingInterval:      50 * time.Millisecond,
		ReconnectDelay:    20 * time.Millisecond,
		MaxReconnectDelay: 100 * time.Millisecond,
		MaxRetries:        -1,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSupervisor_ConnectAndConsume(t *testing.T) {
	server := NewMockExchangeServer()
	defer server.Close()

	received := make(chan []byte, 8)
	sup := NewSupervisor(testConfig(server.URL()), func(raw []byte) error {
		received <- raw
		return nil
	})

	require.NoError(t, sup.Connect(context.Background()))
	defer sup.Close()
	assert.Equal(t, interfaces.StateOnline, sup.State())

	waitFor(t, time.Second, func() bool { return server.ConnectionCount() == 1 })
	server.Broadcast([]byte(`{"event":"heartbeat"}`))

	select {
	case raw := <-received:
		assert.JSONEq(t, `{"event":"heartbeat"}`, string(raw))
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSupervisor_SubscriptionConfirmedOnlyOnAck(t *testing.T) {
	server := NewMockExchangeServer()
	defer server.Close()

	var sup *Supervisor
	sup = NewSupervisor(testConfig(server.URL()), func(raw []byte) error {
		var ack struct {
			Event  string `json:"event"`
			Feed   string `json:"feed"`
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		}
		if json.Unmarshal(raw, &ack) == nil && ack.Event == "subscriptionStatus" {
			sup.ConfirmSubscription(interfaces.SubscriptionStatusEvent{
				Feed:   ack.Feed,
				Symbol: interfaces.Symbol(ack.Symbol),
				Status: ack.Status,
			})
		}
		return nil
	})

	require.NoError(t, sup.Connect(context.Background()))
	defer sup.Close()

	// No ack configured yet: the subscription stays pending.
	require.NoError(t, sup.Subscribe(interfaces.SubscribeRequest{Feed: "book", Symbol: "XBT-USD"}))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, sup.IsSubscribed("book", "XBT-USD"))

	server.SetAutoAck(true)
	require.NoError(t, sup.Subscribe(interfaces.SubscribeRequest{Feed: "trade", Symbol: "XBT-USD"}))
	waitFor(t, time.Second, func() bool { return sup.IsSubscribed("trade", "XBT-USD") })
}

func TestSupervisor_SubscribeWhileOffline(t *testing.T) {
	server := NewMockExchangeServer()
	defer server.Close()

	sup := NewSupervisor(testConfig(server.URL()), nil)
	err := sup.Subscribe(interfaces.SubscribeRequest{Feed: "book", Symbol: "XBT-USD"})
	require.ErrorIs(t, err, interfaces.ErrNotConnected)
}

func TestSupervisor_ReconnectClearsSubscriptions(t *testing.T) {
	server := NewMockExchangeServer()
	defer server.Close()
	server.SetAutoAck(true)

	var reconnects atomic.Int32
	var sup *Supervisor
	sup = NewSupervisor(testConfig(server.URL()), func(raw []byte) error {
		var ack struct {
			Event  string `json:"event"`
			Feed   string `json:"feed"`
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		}
		if json.Unmarshal(raw, &ack) == nil && ack.Event == "subscriptionStatus" {
			sup.ConfirmSubscription(interfaces.SubscriptionStatusEvent{
				Feed:   ack.Feed,
				Symbol: interfaces.Symbol(ack.Symbol),
				Status: ack.Status,
			})
		}
		return nil
	})
	sup.OnReconnect(func() { reconnects.Add(1) })

	require.NoError(t, sup.Connect(context.Background()))
	defer sup.Close()

	require.NoError(t, sup.Subscribe(interfaces.SubscribeRequest{Feed: "book", Symbol: "XBT-USD"}))
	waitFor(t, time.Second, func() bool { return sup.IsSubscribed("book", "XBT-USD") })

	server.DropConnections()
	waitFor(t, 2*time.Second, func() bool { return reconnects.Load() == 1 })
	waitFor(t, time.Second, func() bool { return sup.State() == interfaces.StateOnline })

	// Prior subscription state is stale after a reconnect; nothing is
	// resubscribed implicitly.
	assert.False(t, sup.IsSubscribed("book", "XBT-USD"))

	require.NoError(t, sup.Subscribe(interfaces.SubscribeRequest{Feed: "book", Symbol: "XBT-USD"}))
	waitFor(t, time.Second, func() bool { return sup.IsSubscribed("book", "XBT-USD") })
}

func TestSupervisor_ReconnectBackoffCeiling(t *testing.T) {
	server := NewMockExchangeServer()
	server.SetAutoAck(false)

	cfg := testConfig(server.URL())
	cfg.MaxRetries = 2
	sup := NewSupervisor(cfg, nil)

	require.NoError(t, sup.Connect(context.Background()))
	defer sup.Close()

	// Refuse reconnects so the retry ceiling is reached.
	server.SetRejectConnections(true)
	server.DropConnections()

	waitFor(t, 2*time.Second, func() bool { return sup.State() == interfaces.StateOffline })
	server.Close()
}

func TestSupervisor_RenderControlShapesWireFrames(t *testing.T) {
	server := NewMockExchangeServer()
	defer server.Close()

	cfg := testConfig(server.URL())
	cfg.RenderControl = func(req interfaces.SubscribeRequest) ([]byte, error) {
		return []byte(`{"event":"` + req.Event + `","channel":"native-` + req.Feed + `"}`), nil
	}
	sup := NewSupervisor(cfg, nil)

	require.NoError(t, sup.Connect(context.Background()))
	defer sup.Close()

	require.NoError(t, sup.Subscribe(interfaces.SubscribeRequest{Feed: "book", Symbol: "XBT-USD"}))
	waitFor(t, time.Second, func() bool { return len(server.Received()) == 1 })
	assert.JSONEq(t, `{"event":"subscribe","channel":"native-book"}`, string(server.Received()[0]))

	// The pending set still tracks the canonical key regardless of the
	// wire dialect.
	require.NoError(t, sup.Unsubscribe(interfaces.SubscribeRequest{Feed: "book", Symbol: "XBT-USD"}))
	waitFor(t, time.Second, func() bool { return len(server.Received()) == 2 })
	assert.JSONEq(t, `{"event":"unsubscribe","channel":"native-book"}`, string(server.Received()[1]))
}

func TestSupervisor_ReconnectSurvivesFailedAttempts(t *testing.T) {
	server := NewMockExchangeServer()
	defer server.Close()

	var reconnects atomic.Int32
	sup := NewSupervisor(testConfig(server.URL()), nil)
	sup.OnReconnect(func() { reconnects.Add(1) })

	require.NoError(t, sup.Connect(context.Background()))
	defer sup.Close()

	// The endpoint stays down long enough for several backoff attempts to
	// fail before it comes back.
	server.SetRejectConnections(true)
	server.DropConnections()
	time.Sleep(100 * time.Millisecond)
	server.SetRejectConnections(false)

	waitFor(t, 2*time.Second, func() bool { return reconnects.Load() == 1 })
	waitFor(t, time.Second, func() bool { return sup.State() == interfaces.StateOnline })
}

func TestSupervisor_HandlerErrorDoesNotKillConnection(t *testing.T) {
	server := NewMockExchangeServer()
	defer server.Close()

	received := make(chan []byte, 8)
	sup := NewSupervisor(testConfig(server.URL()), func(raw []byte) error {
		received <- raw
		return assert.AnError
	})

	require.NoError(t, sup.Connect(context.Background()))
	defer sup.Close()
	waitFor(t, time.Second, func() bool { return server.ConnectionCount() == 1 })

	server.Broadcast([]byte(`{"n":1}`))
	server.Broadcast([]byte(`{"n":2}`))

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	}
	assert.Equal(t, interfaces.StateOnline, sup.State())
}
