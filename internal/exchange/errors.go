package exchange

import (
	"errors"
	"fmt"
	"net"

	"hl-mirror/internal/retry"
)

// Venue return codes the engine cares about. The full code space is the
// venue's; only codes with distinct handling are named here.
const (
	codeOK                  = 0
	codeParamError          = 10001
	codeTimestampError      = 10002
	codeInvalidAPIKey       = 10003
	codeSignatureError      = 10004
	codePermissionDenied    = 10005
	codeRateLimited         = 10006
	codeServiceUnavailable  = 10016
	codeLeverageNotModified = 110043

	// CodePositionZero is the business reject returned when a close is
	// attempted against an already-flat position. It has a dedicated
	// recovery path in the close handler.
	CodePositionZero = 110017
)

// VenueError is a non-zero retCode response from the destination venue.
type VenueError struct {
	Code int
	Msg  string
	Op   string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("%s: venue error %d: %s", e.Op, e.Code, e.Msg)
}

// IsPositionZero reports whether err is the "position is zero" business
// reject (the target position is already flat).
func IsPositionZero(err error) bool {
	var ve *VenueError
	return errors.As(err, &ve) && ve.Code == CodePositionZero
}

// Classify maps venue and transport errors to retry kinds. Unknown venue
// codes are business rejects (the venue answered; retrying the same
// request will not change its mind). Unknown transport errors are
// transient.
func Classify(err error) retry.Kind {
	var ve *VenueError
	if errors.As(err, &ve) {
		switch ve.Code {
		case codeRateLimited:
			return retry.RateLimited
		case codeTimestampError, codeServiceUnavailable:
			return retry.Transient
		case codeParamError, codeInvalidAPIKey, codeSignatureError, codePermissionDenied:
			return retry.Permanent
		default:
			return retry.BusinessReject
		}
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == 403 || httpErr.Status == 429:
			return retry.RateLimited
		case httpErr.Status >= 500:
			return retry.Transient
		default:
			return retry.Permanent
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.Transient
	}
	return retry.Transient
}

// HTTPError is a non-200 HTTP response that carried no venue envelope.
type HTTPError struct {
	Status int
	Body   string
	Op     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: http status %d: %s", e.Op, e.Status, e.Body)
}
