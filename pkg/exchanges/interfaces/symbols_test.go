package interfaces

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolTable_Lookups(t *testing.T) {
	table, err := NewSymbolTable(
		map[Symbol]string{"XBT-USD": "XBTUSD", "ETH-USD": "ETHUSD"},
		[]PairSpec{{
			Symbol:         "XBT-USD",
			PriceDecimals:  1,
			VolumeDecimals: 8,
			TickSize:       decimal.New(1, -1),
		}},
	)
	require.NoError(t, err)

	native, err := table.ToNative("XBT-USD")
	require.NoError(t, err)
	assert.Equal(t, "XBTUSD", native)

	canonical, err := table.ToCanonical("ETHUSD")
	require.NoError(t, err)
	assert.Equal(t, Symbol("ETH-USD"), canonical)

	spec, err := table.Spec("XBT-USD")
	require.NoError(t, err)
	assert.True(t, decimal.New(1, -1).Equal(spec.TickSize))

	assert.ElementsMatch(t, []Symbol{"XBT-USD", "ETH-USD"}, table.Symbols())
}

func TestSymbolTable_UnknownSymbolsFailLoudly(t *testing.T) {
	table, err := NewSymbolTable(map[Symbol]string{"XBT-USD": "XBTUSD"}, nil)
	require.NoError(t, err)

	_, err = table.ToNative("DOGE-USD")
	require.ErrorIs(t, err, ErrInvalidSymbol)

	_, err = table.ToCanonical("DOGEUSD")
	require.ErrorIs(t, err, ErrInvalidSymbol)

	_, err = table.Spec("DOGE-USD")
	require.ErrorIs(t, err, ErrInvalidSymbol)
}

func TestNewSymbolTable_Validation(t *testing.T) {
	_, err := NewSymbolTable(map[Symbol]string{"XBT-USD": ""}, nil)
	require.Error(t, err)

	_, err = NewSymbolTable(
		map[Symbol]string{"XBT-USD": "XBTUSD", "BTC-USD": "XBTUSD"},
		nil,
	)
	require.Error(t, err, "two canonical symbols sharing a native spelling")

	_, err = NewSymbolTable(
		map[Symbol]string{"XBT-USD": "XBTUSD"},
		[]PairSpec{{Symbol: "ETH-USD"}},
	)
	require.Error(t, err, "spec for a symbol the pair table never listed")
}
