package rpc

import (
	"errors"
	"net/http"

	"github.com/halvard-eide/rrworker/pkg/errs"
)

// statusFor maps a §7 error kind to the HTTP status an RPC handler commits
// for it. Errors not recognised here map to StatusInternalServerError.
// JSON-decode failures never reach statusFor: call sites answer them with
// StatusBadRequest directly.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.Unauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.InvalidSequenceNumber):
		return http.StatusOK // delivered through the reply body, not as an HTTP failure
	case errors.Is(err, errs.Fatal):
		return http.StatusGatewayTimeout
	default:
		var fault *errs.WorkerFault
		if errors.As(err, &fault) {
			return http.StatusOK
		}
		return http.StatusInternalServerError
	}
}
