package kraken

import (
	"net/http"
	"strings"
	"time"

	"github.com/veiloq/tradecore/pkg/exchanges/interfaces"
	"github.com/veiloq/tradecore/pkg/logging"
)

// Sleep intervals per retryable error kind. Rate limit counters decay
// slowly, so waiting well clear of the window beats hammering the endpoint.
const (
	rateLimitSleep   = 15 * time.Second
	lockoutSleep     = 60 * time.Second
	unavailableSleep = 5 * time.Second
)

// Taxonomy classifies Kraken error codes into retry decisions.
type Taxonomy struct {
	logger logging.Logger
}

// NewTaxonomy creates the Kraken error classifier.
func NewTaxonomy(logger logging.Logger) *Taxonomy {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Taxonomy{logger: logger}
}

// Classify implements interfaces.ErrorClassifier. The first error code
// decides; Kraken responses carry at most one actionable code.
func (t *Taxonomy) Classify(statusCode int, errorCodes []string) interfaces.Decision {
	if len(errorCodes) == 0 {
		if statusCode >= http.StatusInternalServerError {
			return interfaces.Decision{Sleep: unavailableSleep}
		}
		return interfaces.Decision{Accept: true}
	}

	code := errorCodes[0]
	switch {
	case strings.Contains(code, "Rate limit"),
		strings.Contains(code, "Too many requests"):
		return interfaces.Decision{Sleep: rateLimitSleep}

	case strings.Contains(code, "Temporary lockout"):
		return interfaces.Decision{Sleep: lockoutSleep}

	case strings.HasPrefix(code, "EService:"):
		// Unavailable, Busy, Market in cancel_only mode and friends.
		return interfaces.Decision{Sleep: unavailableSleep}

	case strings.Contains(code, "Invalid key"),
		strings.Contains(code, "Invalid signature"),
		strings.Contains(code, "Invalid nonce"),
		strings.Contains(code, "Permission denied"):
		return interfaces.Decision{Accept: true,
			Err: interfaces.NewExchangeError(code, "credential rejected", interfaces.ErrAuthentication)}

	case strings.Contains(code, "Insufficient funds"),
		strings.Contains(code, "Insufficient initial margin"):
		return interfaces.Decision{Accept: true,
			Err: interfaces.NewExchangeError(code, "business rejection", interfaces.ErrInsufficientFunds)}

	case strings.Contains(code, "Unknown asset pair"),
		strings.Contains(code, "Unknown asset"):
		return interfaces.Decision{Accept: true,
			Err: interfaces.NewExchangeError(code, "unknown symbol", interfaces.ErrInvalidSymbol)}

	case strings.Contains(code, "Invalid arguments"),
		strings.HasPrefix(code, "EOrder:"),
		strings.HasPrefix(code, "EQuery:"):
		return interfaces.Decision{Accept: true,
			Err: interfaces.NewExchangeError(code, "invalid request", interfaces.ErrInvalidRequest)}

	default:
		t.logger.Error("unmapped exchange error code",
			logging.String("code", code))
		return interfaces.Decision{Accept: true,
			Err: interfaces.NewExchangeError(code, "unmapped error", interfaces.ErrExchangeUnavailable)}
	}
}
