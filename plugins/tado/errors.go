package tado

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/joshp123/tado-exporter/internal/oauth"
)

// Outcome classifies one API round trip.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeAuthFailure
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeAuthFailure:
		return "auth_failure"
	case OutcomeTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// ErrHomeNotAccessible means the configured home is not listed for the account.
var ErrHomeNotAccessible = errors.New("home not accessible with these credentials")

// HTTPStatusError is a non-2xx API response.
type HTTPStatusError struct {
	Status int
	Body   string
	Header http.Header
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("tado api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// AuthError means no usable credentials could be obtained.
type AuthError struct {
	Err error
}

func (e AuthError) Error() string {
	return fmt.Sprintf("tado authentication failed: %v", e.Err)
}

func (e AuthError) Unwrap() error {
	return e.Err
}

// Classify maps a fetch error to its outcome. Anything unrecognised,
// including network and decode errors, is transient.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var authErr AuthError
	if errors.As(err, &authErr) {
		return OutcomeAuthFailure
	}
	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusTooManyRequests:
			return OutcomeRateLimited
		case http.StatusUnauthorized, http.StatusForbidden:
			return OutcomeAuthFailure
		}
	}
	return OutcomeTransient
}

// RateLimitHeader returns the response header of a rate-limited error.
func RateLimitHeader(err error) http.Header {
	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Header
	}
	return nil
}

// credentialError wraps token acquisition failures. Rejected grants and a
// missing activation are auth failures; anything else (network) is not.
func credentialError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) || errors.Is(err, oauth.ErrNotActivated) {
		return AuthError{Err: err}
	}
	return fmt.Errorf("access token: %w", err)
}
