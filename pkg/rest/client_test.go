package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
)

// stubRequests resolves two canonical methods onto fixed paths.
type stubRequests struct{}

func (stubRequests) Endpoint(method string) (string, bool, error) {
	switch method {
	case "thing":
		return "/0/public/Thing", false, nil
	case "private_thing":
		return "/0/private/Thing", true, nil
	default:
		return "", false, fmt.Errorf("unknown method %q", method)
	}
}

func (stubRequests) AddOrderParams(interfaces.AddOrderRequest) (url.Values, error) {
	return nil, nil
}

func (stubRequests) CancelOrderParams(interfaces.CancelOrderRequest) (url.Values, error) {
	return nil, nil
}

func (stubRequests) AddOrderCommand(interfaces.AddOrderRequest, string) ([]byte, error) {
	return nil, nil
}

func (stubRequests) SubscriptionCommand(interfaces.SubscribeRequest) ([]byte, error) {
	return nil, nil
}

func (stubRequests) CancelOrderCommand(interfaces.CancelOrderRequest, string) ([]byte, error) {
	return nil, nil
}

// stubResponses understands only the {"error":[],"result":...} envelope.
type stubResponses struct{}

func (stubResponses) Envelope(body []byte) ([]string, []byte, error) {
	var env struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, err
	}
	return env.Error, env.Result, nil
}

func (stubResponses) ParseInstruments([]byte) ([]interfaces.PairSpec, map[interfaces.Symbol]string, error) {
	return nil, nil, nil
}

func (stubResponses) ParseOHLC([]byte, interfaces.Symbol, time.Duration) ([]interfaces.Candle, error) {
	return nil, nil
}

func (stubResponses) ParseBook([]byte, interfaces.Symbol) (*interfaces.BookUpdate, error) {
	return nil, nil
}

func (stubResponses) ParseTrades([]byte, interfaces.Symbol) ([]interfaces.Trade, error) {
	return nil, nil
}

func (stubResponses) ParseOrders([]byte) (map[string]*interfaces.Order, error) { return nil, nil }

func (stubResponses) ParseBalances([]byte) (map[string]decimal.Decimal, error) { return nil, nil }

func (stubResponses) ParsePositions([]byte) ([]interfaces.Position, error) { return nil, nil }

func (stubResponses) ParseToken([]byte) (string, error) { return "", nil }

// stubClassifier maps scripted error codes onto decisions.
type stubClassifier struct {
	sleep time.Duration
}

func (c stubClassifier) Classify(_ int, codes []string) interfaces.Decision {
	if len(codes) == 0 {
		return interfaces.Decision{Accept: true}
	}
	switch codes[0] {
	case "ETooMany":
		return interfaces.Decision{Sleep: c.sleep}
	case "EAuth":
		return interfaces.Decision{Accept: true, Err: interfaces.ErrAuthentication}
	default:
		return interfaces.Decision{Accept: true, Err: interfaces.ErrExchangeUnavailable}
	}
}

// stubSigner records that signing happened without real crypto.
type stubSigner struct{}

func (stubSigner) Sign(_ string, _ string, nonce int64, secret string) (string, error) {
	return fmt.Sprintf("sig-%s-%d", secret, nonce), nil
}

type scriptedServer struct {
	*httptest.Server

	mu        sync.Mutex
	responses []string
	calls     int
	headers   []http.Header
	forms     []url.Values
}

// newScriptedServer returns each queued body once, then repeats the last.
func newScriptedServer(t *testing.T, responses ...string) *scriptedServer {
	t.Helper()
	s := &scriptedServer{responses: responses}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		s.mu.Lock()
		idx := s.calls
		if idx >= len(s.responses) {
			idx = len(s.responses) - 1
		}
		body := s.responses[idx]
		s.calls++
		s.headers = append(s.headers, r.Header.Clone())
		s.forms = append(s.forms, r.PostForm)
		s.mu.Unlock()
		fmt.Fprint(w, body)
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *scriptedServer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestClient(t *testing.T, baseURL string, sleep time.Duration, keys []Credential) *Client {
	t.Helper()
	var pool *KeyPool
	if len(keys) > 0 {
		var err error
		pool, err = NewKeyPool(keys)
		require.NoError(t, err)
	}
	return NewClient(Config{
		BaseURL:             baseURL,
		Timeout:             5 * time.Second,
		TransportRetryDelay: 10 * time.Millisecond,
	}, pool, stubSigner{}, stubRequests{}, stubResponses{}, stubClassifier{sleep: sleep})
}

func TestClient_RetryUntilAccepted(t *testing.T) {
	rateLimited := `{"error":["ETooMany"]}`
	ok := `{"error":[],"result":{"v":1}}`
	server := newScriptedServer(t, rateLimited, rateLimited, ok)

	sleep := 20 * time.Millisecond
	client := newTestClient(t, server.URL, sleep, nil)

	start := time.Now()
	res, err := client.QueryPublic(context.Background(), "thing", nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 3, server.callCount(), "two rejections then success")
	assert.JSONEq(t, `{"v":1}`, string(res.Value))
	assert.GreaterOrEqual(t, elapsed, 2*sleep, "both sleeps must be honored")
}

func TestClient_RetryStopsOnContextCancel(t *testing.T) {
	server := newScriptedServer(t, `{"error":["ETooMany"]}`)
	client := newTestClient(t, server.URL, time.Minute, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.QueryPublic(ctx, "thing", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_PublicRejectsPrivateMethod(t *testing.T) {
	server := newScriptedServer(t, `{"error":[]}`)
	client := newTestClient(t, server.URL, 0, nil)

	_, err := client.QueryPublic(context.Background(), "private_thing", nil)
	require.Error(t, err)
	assert.Equal(t, 0, server.callCount())
}

func TestClient_PrivateWithoutCredentials(t *testing.T) {
	server := newScriptedServer(t, `{"error":[]}`)
	client := newTestClient(t, server.URL, 0, nil)

	_, err := client.QueryPrivate(context.Background(), "private_thing", nil)
	require.ErrorIs(t, err, interfaces.ErrAuthentication)
	assert.Equal(t, 0, server.callCount())
}

func TestClient_PrivateSigningAndRotation(t *testing.T) {
	ok := `{"error":[],"result":{}}`
	server := newScriptedServer(t, ok)
	client := newTestClient(t, server.URL, 0, []Credential{
		{Key: "k1", Secret: "s1"},
		{Key: "k2", Secret: "s2"},
	})

	_, err := client.QueryPrivate(context.Background(), "private_thing", nil)
	require.NoError(t, err)
	_, err = client.QueryPrivate(context.Background(), "private_thing", nil)
	require.NoError(t, err)

	require.Equal(t, 2, server.callCount())
	assert.Equal(t, "k1", server.headers[0].Get("API-Key"))
	assert.Equal(t, "k2", server.headers[1].Get("API-Key"), "pool rotates after each private call")

	// Each request carries a signature over a fresh nonce.
	nonce0 := server.forms[0].Get("nonce")
	nonce1 := server.forms[1].Get("nonce")
	require.NotEmpty(t, nonce0)
	require.NotEmpty(t, nonce1)
	assert.Less(t, nonce0, nonce1)
	assert.Equal(t, "sig-s1-"+nonce0, server.headers[0].Get("API-Sign"))
}

func TestClient_NoRotationOnAuthFailure(t *testing.T) {
	server := newScriptedServer(t, `{"error":["EAuth"]}`, `{"error":[],"result":{}}`)
	client := newTestClient(t, server.URL, 0, []Credential{
		{Key: "k1", Secret: "s1"},
		{Key: "k2", Secret: "s2"},
	})

	_, err := client.QueryPrivate(context.Background(), "private_thing", nil)
	require.ErrorIs(t, err, interfaces.ErrAuthentication)

	// The failing key stays current so the failure is attributable to it.
	_, err = client.QueryPrivate(context.Background(), "private_thing", nil)
	require.NoError(t, err)
	assert.Equal(t, "k1", server.headers[1].Get("API-Key"))
}
