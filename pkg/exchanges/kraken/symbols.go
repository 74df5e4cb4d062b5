package kraken

import (
	"strings"

	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
)

// Kraken spells a pair three ways: the REST result key ("XXBTZUSD"), the
// altname ("XBTUSD"), and the WebSocket name ("XBT/USD"). The canonical
// form swaps the ws separator for a dash: "XBT-USD". The altname is the
// native spelling held in the SymbolTable since the REST query params accept
// it; the ws form converts mechanically.

// canonicalFromWS converts a WebSocket pair name to the canonical symbol.
func canonicalFromWS(wsname string) interfaces.Symbol {
	return interfaces.Symbol(strings.ReplaceAll(wsname, "/", "-"))
}

// wsFromCanonical converts a canonical symbol to the WebSocket pair name.
func wsFromCanonical(symbol interfaces.Symbol) string {
	return strings.ReplaceAll(string(symbol), "-", "/")
}
