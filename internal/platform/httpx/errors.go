package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-gw/meridian-gw/internal/identity"
)

// Sentinel errors for the gateway surface.
var (
	ErrUnauthenticated = errors.New("no session established")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflicting operation in flight")
)

// RespondError maps engine errors to HTTP responses using RFC7807. Identity
// rejections keep their distinct affordances: account-locked answers 423 so
// the shell can route it to a different surface than plain bad credentials.
func RespondError(w http.ResponseWriter, err error) {
	var rejection *identity.RejectionError
	var transport *identity.TransportError
	switch {
	case errors.As(err, &rejection):
		status := http.StatusUnauthorized
		title := "Sign-In Rejected"
		if rejection.Locked() {
			status = http.StatusLocked
			title = "Account Locked"
		}
		Problem(w, status, title, rejection.Message)
	case errors.As(err, &transport):
		Problem(w, http.StatusBadGateway, "Upstream Unreachable", "identity provider did not answer")
	case errors.Is(err, ErrUnauthenticated):
		Problem(w, http.StatusUnauthorized, "Unauthenticated", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
