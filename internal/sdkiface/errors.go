package sdkiface

import "errors"

// Kind classifies an upstream SDK error into the taxonomy the engine's
// recovery policies dispatch on. Concrete SDK adapters map their native
// error types onto these via errors.As on *Error.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindPermission
	KindAccountSuspended
	KindDDoSProtection
	KindOnMaintenance
	KindExchangeNotAvailable
	KindRateLimitExceeded
	KindRequestTimeout
	KindNetwork
	KindBadSymbol
	KindBadRequest
	KindInvalidAddress
	KindAddressPending
	KindInvalidOrder
	KindInsufficientFunds
	KindUnsupported
	KindInvalidNonce
	KindExchangeError // generic, catch-all exchange-reported error
	KindCancelled
)

// Error wraps an upstream SDK failure with its classified Kind and an
// optional RetryAfter hint (seconds) some exchanges report on 429/DDoS
// responses.
type Error struct {
	Kind       Kind
	RetryAfter float64 // seconds, 0 if not reported
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, sdkiface.ErrKind(KindX)) work against a *Error.
func (e *Error) Is(target error) bool {
	var k *kindSentinel
	if errors.As(target, &k) {
		return e.Kind == k.kind
	}
	return false
}

type kindSentinel struct{ kind Kind }

func (k *kindSentinel) Error() string { return "sdkiface sentinel" }

// ErrKind returns a sentinel usable with errors.Is to test an *Error's Kind.
func ErrKind(k Kind) error { return &kindSentinel{kind: k} }

// KindOf extracts the Kind from err, returning KindUnknown if err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
