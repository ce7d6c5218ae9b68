package postback

import (
	"errors"
	"fmt"
	"net/http"
)

// Reason is the machine-readable code returned to the sending house.
type Reason string

const (
	ReasonUnknownHouse        Reason = "unknown_house"
	ReasonInvalidToken        Reason = "invalid_token"
	ReasonMalformedEvent      Reason = "malformed_event"
	ReasonUnresolvedAffiliate Reason = "unresolved_affiliate"
	ReasonStoreUnavailable    Reason = "store_unavailable"
	ReasonInternal            Reason = "internal_error"
)

var (
	ErrUnknownHouse          = errors.New("unknown house")
	ErrInvalidToken          = errors.New("invalid token")
	ErrMalformedEvent        = errors.New("malformed event")
	ErrUnresolvedAffiliate   = errors.New("unresolved affiliate")
	ErrTransientStoreFailure = errors.New("transient store failure")
	ErrInternal              = errors.New("internal error")
)

var sentinels = map[Reason]error{
	ReasonUnknownHouse:        ErrUnknownHouse,
	ReasonInvalidToken:        ErrInvalidToken,
	ReasonMalformedEvent:      ErrMalformedEvent,
	ReasonUnresolvedAffiliate: ErrUnresolvedAffiliate,
	ReasonStoreUnavailable:    ErrTransientStoreFailure,
	ReasonInternal:            ErrInternal,
}

// Error is a failed ingest. Client-caused reasons are terminal; only
// store_unavailable is Retryable.
type Error struct {
	Reason    Reason
	Retryable bool
	Detail    string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's reason.
func (e *Error) Is(target error) bool {
	return sentinels[e.Reason] == target
}

// HTTPStatus maps a reason to the response status.
func (r Reason) HTTPStatus() int {
	switch r {
	case ReasonUnknownHouse:
		return http.StatusNotFound
	case ReasonInvalidToken:
		return http.StatusForbidden
	case ReasonMalformedEvent:
		return http.StatusBadRequest
	case ReasonUnresolvedAffiliate:
		return http.StatusUnprocessableEntity
	case ReasonStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ReasonOf extracts the reason code from err, defaulting to internal_error.
func ReasonOf(err error) Reason {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ReasonInternal
}

func newError(reason Reason, detail string, cause error) *Error {
	return &Error{
		Reason:    reason,
		Retryable: reason == ReasonStoreUnavailable,
		Detail:    detail,
		Err:       cause,
	}
}

func malformed(format string, args ...any) *Error {
	return newError(ReasonMalformedEvent, fmt.Sprintf(format, args...), nil)
}
