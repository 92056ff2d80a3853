package venue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind classifies venue call failures for the retry controller.
type ErrorKind int

const (
	// KindRateLimited maps HTTP 429 and venue-specific throttle codes.
	KindRateLimited ErrorKind = iota
	// KindTemporarilyForbidden maps HTTP 403 style cooldown penalties.
	KindTemporarilyForbidden
	// KindTransientNetwork covers timeouts and connection failures.
	KindTransientNetwork
	// KindPermanent covers auth failures, invalid symbols and
	// insufficient funds. Never retried.
	KindPermanent
	// KindCircuitOpen marks calls refused locally without touching the
	// network because the venue's circuit breaker is open.
	KindCircuitOpen
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindTemporarilyForbidden:
		return "TEMPORARILY_FORBIDDEN"
	case KindTransientNetwork:
		return "TRANSIENT_NETWORK"
	case KindPermanent:
		return "PERMANENT"
	case KindCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "UNKNOWN"
	}
}

// VenueError is a classified failure from a venue call.
type VenueError struct {
	Venue      string
	Kind       ErrorKind
	HTTPStatus int
	Message    string
	Underlying error
}

func (e *VenueError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Venue, e.Kind, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Venue, e.Kind, e.Message)
}

func (e *VenueError) Unwrap() error {
	return e.Underlying
}

// Retryable reports whether the retry controller may re-attempt the call.
func (e *VenueError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTemporarilyForbidden, KindTransientNetwork:
		return true
	}
	return false
}

// NewVenueError builds a classified error for a venue.
func NewVenueError(venueID string, kind ErrorKind, message string) *VenueError {
	return &VenueError{Venue: venueID, Kind: kind, Message: message}
}

// ErrCircuitOpen builds the fail-fast error returned while a venue's
// circuit breaker is open.
func ErrCircuitOpen(venueID string) *VenueError {
	return &VenueError{Venue: venueID, Kind: KindCircuitOpen, Message: "circuit breaker open, call refused"}
}

// ClassifyHTTP converts an HTTP response status into a VenueError.
func ClassifyHTTP(venueID string, status int, body string) *VenueError {
	e := &VenueError{Venue: venueID, HTTPStatus: status, Message: body}
	switch {
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case status == http.StatusForbidden:
		e.Kind = KindTemporarilyForbidden
	case status >= 500:
		e.Kind = KindTransientNetwork
	default:
		// 400/401/404 and friends: bad request, bad auth, bad symbol.
		e.Kind = KindPermanent
	}
	return e
}

// Classify wraps an arbitrary error from a venue call into a VenueError.
// Already-classified errors pass through unchanged.
func Classify(venueID string, err error) *VenueError {
	if err == nil {
		return nil
	}

	var ve *VenueError
	if errors.As(err, &ve) {
		return ve
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &VenueError{Venue: venueID, Kind: KindTransientNetwork, Message: "request timed out", Underlying: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &VenueError{Venue: venueID, Kind: KindTransientNetwork, Message: netErr.Error(), Underlying: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return &VenueError{Venue: venueID, Kind: KindRateLimited, Message: err.Error(), Underlying: err}
	case strings.Contains(msg, "forbidden") || strings.Contains(msg, "banned"):
		return &VenueError{Venue: venueID, Kind: KindTemporarilyForbidden, Message: err.Error(), Underlying: err}
	case strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial") || strings.Contains(msg, "eof"):
		return &VenueError{Venue: venueID, Kind: KindTransientNetwork, Message: err.Error(), Underlying: err}
	}

	return &VenueError{Venue: venueID, Kind: KindPermanent, Message: err.Error(), Underlying: err}
}

// IsRetryable reports whether err is a retryable venue failure.
func IsRetryable(err error) bool {
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve.Retryable()
	}
	return false
}

// IsCircuitOpen reports whether err is a local circuit-open refusal.
func IsCircuitOpen(err error) bool {
	var ve *VenueError
	return errors.As(err, &ve) && ve.Kind == KindCircuitOpen
}

// KindOf returns the classification of err, or KindPermanent for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindPermanent
}
