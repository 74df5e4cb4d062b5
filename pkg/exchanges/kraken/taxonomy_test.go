package kraken

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
)

func TestTaxonomy_Classify(t *testing.T) {
	tax := NewTaxonomy(nil)

	t.Run("CleanResponseAccepted", func(t *testing.T) {
		d := tax.Classify(200, nil)
		assert.True(t, d.Accept)
		assert.NoError(t, d.Err)
	})

	t.Run("ServerErrorWithoutCodeRetries", func(t *testing.T) {
		d := tax.Classify(503, nil)
		assert.False(t, d.Accept)
		assert.Equal(t, unavailableSleep, d.Sleep)
	})

	t.Run("RateLimitRetriesWithSleep", func(t *testing.T) {
		d := tax.Classify(200, []string{"EAPI:Rate limit exceeded"})
		assert.False(t, d.Accept)
		assert.Equal(t, rateLimitSleep, d.Sleep)
	})

	t.Run("TemporaryLockoutSleepsLonger", func(t *testing.T) {
		d := tax.Classify(200, []string{"EGeneral:Temporary lockout"})
		assert.False(t, d.Accept)
		assert.Equal(t, lockoutSleep, d.Sleep)
	})

	t.Run("ServiceUnavailableRetries", func(t *testing.T) {
		d := tax.Classify(200, []string{"EService:Unavailable"})
		assert.False(t, d.Accept)
		assert.Equal(t, unavailableSleep, d.Sleep)
	})

	t.Run("AuthErrorsAreFatal", func(t *testing.T) {
		for _, code := range []string{
			"EAPI:Invalid key",
			"EAPI:Invalid signature",
			"EAPI:Invalid nonce",
			"EGeneral:Permission denied",
		} {
			d := tax.Classify(200, []string{code})
			require.True(t, d.Accept, code)
			assert.ErrorIs(t, d.Err, interfaces.ErrAuthentication, code)
		}
	})

	t.Run("InsufficientFundsIsFatal", func(t *testing.T) {
		d := tax.Classify(200, []string{"EOrder:Insufficient funds"})
		require.True(t, d.Accept)
		assert.ErrorIs(t, d.Err, interfaces.ErrInsufficientFunds)
	})

	t.Run("UnknownPairIsFatal", func(t *testing.T) {
		d := tax.Classify(200, []string{"EQuery:Unknown asset pair"})
		require.True(t, d.Accept)
		assert.ErrorIs(t, d.Err, interfaces.ErrInvalidSymbol)
	})

	t.Run("BadArgumentsAreFatal", func(t *testing.T) {
		d := tax.Classify(200, []string{"EGeneral:Invalid arguments"})
		require.True(t, d.Accept)
		assert.ErrorIs(t, d.Err, interfaces.ErrInvalidRequest)
	})

	t.Run("UnmappedCodeIsFatalNotRetried", func(t *testing.T) {
		d := tax.Classify(200, []string{"EWeird:Never seen before"})
		require.True(t, d.Accept)
		assert.ErrorIs(t, d.Err, interfaces.ErrExchangeUnavailable)
	})
}
