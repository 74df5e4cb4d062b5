package kraken

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
)

func loadedStreamParser(t *testing.T) *StreamParser {
	t.Helper()
	return NewStreamParser(loadedParser(t))
}

func TestStreamParser_Classify(t *testing.T) {
	p := loadedStreamParser(t)

	cases := []struct {
		raw  string
		want interfaces.Category
	}{
		{`{"event":"heartbeat"}`, interfaces.CategoryHeartbeat},
		{`{"connectionID":123,"event":"systemStatus","status":"online","version":"1.9.0"}`, interfaces.CategoryConnectionStatus},
		{`{"channelName":"book-10","event":"subscriptionStatus","pair":"XBT/USD","status":"subscribed"}`, interfaces.CategorySubscriptionStatus},
		{`[0,{"as":[],"bs":[]},"book-10","XBT/USD"]`, interfaces.CategoryData},
		{`  [0,[],"trade","XBT/USD"]`, interfaces.CategoryData},
		{`{"event":"pong"}`, interfaces.CategoryUnknown},
		{``, interfaces.CategoryUnknown},
		{`garbage`, interfaces.CategoryUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, p.Classify([]byte(tc.raw)), "raw: %s", tc.raw)
	}
}

func TestStreamParser_ParseHeartbeat(t *testing.T) {
	p := loadedStreamParser(t)
	events, err := p.Parse(interfaces.CategoryHeartbeat, []byte(`{"event":"heartbeat"}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	_, ok := events[0].(interfaces.HeartbeatEvent)
	assert.True(t, ok)
}

func TestStreamParser_ParseSystemStatus(t *testing.T) {
	p := loadedStreamParser(t)
	raw := `{"connectionID":8628615390848610000,"event":"systemStatus","status":"online","version":"1.9.0"}`
	events, err := p.Parse(interfaces.CategoryConnectionStatus, []byte(raw))
	require.NoError(t, err)
	require.Len(t, events, 1)
	status := events[0].(interfaces.ConnectionStatusEvent)
	assert.Equal(t, "online", status.Status)
	assert.Equal(t, "1.9.0", status.Version)
}

func TestStreamParser_ParseSubscriptionStatus(t *testing.T) {
	p := loadedStreamParser(t)

	t.Run("NativeShape", func(t *testing.T) {
		raw := `{"channelName":"book-10","event":"subscriptionStatus","pair":"XBT/USD","status":"subscribed","subscription":{"depth":10,"name":"book"}}`
		events, err := p.Parse(interfaces.CategorySubscriptionStatus, []byte(raw))
		require.NoError(t, err)
		status := events[0].(interfaces.SubscriptionStatusEvent)
		assert.Equal(t, "book", status.Feed)
		assert.Equal(t, interfaces.Symbol("XBT-USD"), status.Symbol)
		assert.Equal(t, "subscribed", status.Status)
	})

	t.Run("ErrorShape", func(t *testing.T) {
		raw := `{"errorMessage":"Subscription depth not supported","event":"subscriptionStatus","pair":"XBT/USD","status":"error","subscription":{"depth":42,"name":"book"}}`
		events, err := p.Parse(interfaces.CategorySubscriptionStatus, []byte(raw))
		require.NoError(t, err)
		status := events[0].(interfaces.SubscriptionStatusEvent)
		assert.Equal(t, "error", status.Status)
		assert.Equal(t, "Subscription depth not supported", status.Message)
	})
}

func TestStreamParser_ParseBookSnapshot(t *testing.T) {
	p := loadedStreamParser(t)
	raw := `[0,{"as":[["30384.1","2.059",1688671659.5],["30387.9","1.5",1688671380.1]],"bs":[["30297.0","1.115",1688671636.2]]},"book-10","XBT/USD"]`

	events, err := p.Parse(interfaces.CategoryData, []byte(raw))
	require.NoError(t, err)
	require.Len(t, events, 1)
	book := events[0].(interfaces.BookEvent).Update
	assert.True(t, book.IsSnapshot)
	assert.Equal(t, interfaces.Symbol("XBT-USD"), book.Symbol)
	require.Len(t, book.Asks, 2)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Price.Equal(decimal.RequireFromString("30297.0")))
}

func TestStreamParser_ParseBookUpdateSplitPayload(t *testing.T) {
	p := loadedStreamParser(t)
	// Kraken may split ask and bid changes across two payload objects.
	raw := `[0,{"a":[["30400.0","0",1688671700.1]]},{"b":[["30300.0","1.25",1688671700.2]],"c":"1129798000"},"book-10","XBT/USD"]`

	events, err := p.Parse(interfaces.CategoryData, []byte(raw))
	require.NoError(t, err)
	book := events[0].(interfaces.BookEvent).Update
	assert.False(t, book.IsSnapshot)
	require.Len(t, book.Asks, 1)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Asks[0].Volume.IsZero(), "zero volume deletes the level downstream")
}

func TestStreamParser_ParsePublicTrades(t *testing.T) {
	p := loadedStreamParser(t)
	raw := `[337,[["30243.40000","0.34507674","1688669597.827736","b","m",""],["30243.30000","0.00500000","1688669598.280441","s","l",""]],"trade","XBT/USD"]`

	events, err := p.Parse(interfaces.CategoryData, []byte(raw))
	require.NoError(t, err)
	trades := events[0].(interfaces.TradesEvent).Trades
	require.Len(t, trades, 2)
	assert.Equal(t, interfaces.SideBuy, trades[0].Side)
	assert.Equal(t, interfaces.Symbol("XBT-USD"), trades[0].Symbol)
	assert.Equal(t, int64(1688669597827736000), trades[0].Timestamp)
	assert.Empty(t, trades[0].OrderID, "public fills carry no order id")
}

func TestStreamParser_ParseOwnTrades(t *testing.T) {
	p := loadedStreamParser(t)
	raw := `[[{"TDLH43-DVQXD-2KHVYY":{"ordertxid":"TDLH43-DVQXD-2KHVYY","pair":"XBT/USD","time":"1560516023.070651","type":"sell","ordertype":"limit","price":"100000.00000","fee":"600.00000","vol":"1.00000000"}}],"ownTrades",{"sequence":1}]`

	events, err := p.Parse(interfaces.CategoryData, []byte(raw))
	require.NoError(t, err)
	trades := events[0].(interfaces.TradesEvent).Trades
	require.Len(t, trades, 1)
	assert.Equal(t, "TDLH43-DVQXD-2KHVYY", trades[0].MatchID)
	assert.Equal(t, interfaces.Symbol("XBT-USD"), trades[0].Symbol)
	assert.Equal(t, interfaces.SideSell, trades[0].Side)
	assert.Equal(t, int64(1560516023070651000), trades[0].Timestamp)
}

func TestStreamParser_ParseOpenOrders(t *testing.T) {
	p := loadedStreamParser(t)

	t.Run("InsertCarriesFullRecord", func(t *testing.T) {
		raw := `[[{"OGTT3Y-C6I3P-XRI6HX":{"status":"open","opentm":"1560516023.070651","vol":"10.00345345","vol_exec":"0.00000000","descr":{"pair":"XBT/USD","type":"sell","ordertype":"limit","price":"34.50000"}}}],"openOrders",{"sequence":234}]`

		events, err := p.Parse(interfaces.CategoryData, []byte(raw))
		require.NoError(t, err)
		require.Len(t, events, 1)
		ev := events[0].(interfaces.OrdersEvent)
		assert.True(t, ev.Insert)
		order := ev.Orders["OGTT3Y-C6I3P-XRI6HX"]
		require.NotNil(t, order)
		assert.Equal(t, interfaces.Symbol("XBT-USD"), order.Symbol)
		assert.Equal(t, interfaces.OrderStatusNew, order.Status)
		assert.True(t, order.LimitPrice.Equal(decimal.RequireFromString("34.5")))
	})

	t.Run("PartialUpdateIsNotInsert", func(t *testing.T) {
		raw := `[[{"OGTT3Y-C6I3P-XRI6HX":{"status":"canceled"}}],"openOrders",{"sequence":235}]`

		events, err := p.Parse(interfaces.CategoryData, []byte(raw))
		require.NoError(t, err)
		require.Len(t, events, 1)
		ev := events[0].(interfaces.OrdersEvent)
		assert.False(t, ev.Insert)
		assert.Equal(t, interfaces.OrderStatusCanceled, ev.Orders["OGTT3Y-C6I3P-XRI6HX"].Status)
	})
}

func TestStreamParser_UnknownChannel(t *testing.T) {
	p := loadedStreamParser(t)
	_, err := p.Parse(interfaces.CategoryData, []byte(`[1,{},"spread","XBT/USD"]`))
	require.Error(t, err, "unknown channels drop only the one message")
}
