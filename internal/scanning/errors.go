package scanning

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error kinds shared by every provider. Backend-native failures are reclassified
// into one of these before they leave an adapter.
var (
	// ErrAuthentication is fatal and never retried.
	ErrAuthentication = errors.New("authentication failed")
	// ErrRateLimit is transient; callers may retry with backoff.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrAPI covers timeouts, 5xx and connection failures.
	ErrAPI = errors.New("api error")

	ErrEmptyResponse     = errors.New("empty response from model")
	ErrMalformedResponse = errors.New("malformed response from model")
	ErrNoStructuredData  = errors.New("no structured data found in response")

	ErrUnsupportedProvider      = errors.New("unsupported provider")
	ErrRasterizationUnavailable = errors.New("pdf rasterization unavailable")
	// ErrUnreadableImage means the upload could not be decoded; retrying will not help.
	ErrUnreadableImage = errors.New("unreadable image")
)

// Error is a classified provider failure.
type Error struct {
	Provider Provider
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Kind)
}

// Is matches the error kind, so errors.Is(err, ErrRateLimit) works on classified errors.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(p Provider, kind, err error) *Error {
	return &Error{Provider: p, Kind: kind, Err: err}
}

// Retryable reports whether err is a transient failure a caller may retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrAPI)
}

// classifyStatus maps an HTTP status code from a provider to an error kind.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuthentication
	case code == http.StatusTooManyRequests:
		return ErrRateLimit
	default:
		return ErrAPI
	}
}

// classifyMessage is the best-effort fallback used when a backend gives no
// structured signal. It only inspects vocabulary and can misclassify.
func classifyMessage(msg string) error {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "api key"), strings.Contains(m, "auth"),
		strings.Contains(m, "401"), strings.Contains(m, "permission denied"):
		return ErrAuthentication
	case strings.Contains(m, "rate limit"), strings.Contains(m, "quota"),
		strings.Contains(m, "429"), strings.Contains(m, "resource exhausted"):
		return ErrRateLimit
	default:
		return ErrAPI
	}
}
