package auth

import "fmt"

// ExchangeOutcome classifies a single token endpoint response.
type ExchangeOutcome int

const (
	// TokenReceived carries an access token.
	TokenReceived ExchangeOutcome = iota
	// AuthorizationPending means the user has not approved the code yet.
	AuthorizationPending
	// SlowDown asks the client to poll less often.
	SlowDown
	// RateLimited is an HTTP 429 from the token endpoint.
	RateLimited
	// DeniedOrExpired means the user refused or the code is no longer valid.
	DeniedOrExpired
	// TransportError covers network failures and unreadable responses.
	TransportError
)

func (o ExchangeOutcome) String() string {
	switch o {
	case TokenReceived:
		return "token_received"
	case AuthorizationPending:
		return "authorization_pending"
	case SlowDown:
		return "slow_down"
	case RateLimited:
		return "rate_limited"
	case DeniedOrExpired:
		return "denied_or_expired"
	case TransportError:
		return "transport_error"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Terminal reports whether the outcome ends polling.
func (o ExchangeOutcome) Terminal() bool {
	return o != AuthorizationPending && o != SlowDown
}

// Exchange is the classified result of one device code exchange.
type Exchange struct {
	Outcome     ExchangeOutcome
	AccessToken string
	// Interval is the provider's suggested interval in seconds on slow_down, 0 if absent.
	Interval  int
	ErrorCode string
	Status    int
}
