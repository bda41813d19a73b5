package identity

import (
	"errors"
	"fmt"
)

// ErrUpstreamUnauthorized marks a session ended because an upstream request
// came back 401 despite a live access token.
var ErrUpstreamUnauthorized = errors.New("identity: upstream rejected access token")

// Status codes returned by the credential endpoint. Anything not listed here
// maps to a generic rejection message.
const (
	CodeOK             = 0
	CodeBadCredentials = 1001
	CodeAccountLocked  = 1003
)

// TransportError indicates that no usable response was obtained from the
// upstream endpoint: connection failures, timeouts, unparsable bodies.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("identity: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectionError is a well-formed response carrying a recognized business
// failure code from the credential endpoint.
type RejectionError struct {
	Code    int
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("identity: rejected (code %d): %s", e.Code, e.Message)
}

// Locked reports whether the rejection is the account-locked case, which
// carries a different recovery affordance than bad credentials.
func (e *RejectionError) Locked() bool { return e.Code == CodeAccountLocked }

func messageForCode(code int) string {
	switch code {
	case CodeBadCredentials:
		return "invalid username or password"
	case CodeAccountLocked:
		return "account is locked, contact an administrator"
	default:
		return "sign-in failed"
	}
}
