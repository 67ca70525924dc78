// ABOUTME: Maps handshake and login errors to HTTP and gRPC responses
// ABOUTME: Every authentication failure looks the same on the wire; only validation gets a 400

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/srpgate/internal/handshake"
	"github.com/2389/srpgate/internal/metrics"
)

// Error codes carried in the errorCode field.
const (
	codeBadRequest      = "bad_request"
	codeUnauthorized    = "unauthorized"
	codeNotFound        = "not_found"
	codeTooManyRequests = "too_many_requests"
	codeInternal        = "internal_error"
	codeNotConfigured   = "not_configured"
)

// authFailedMessage is the single message for every failed handshake.
const authFailedMessage = "authentication failed"

// errorResponse is the JSON error body.
type errorResponse struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponse{Message: message, ErrorCode: code})
}

// writeAuthError writes the response for a handshake or login error.
// Validation errors keep their message; anything else collapses to a 401.
func writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, handshake.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error(), codeBadRequest)
		return
	}
	writeError(w, http.StatusUnauthorized, authFailedMessage, codeUnauthorized)
}

// grpcAuthError is writeAuthError for the gRPC surface.
func grpcAuthError(err error) error {
	if errors.Is(err, handshake.ErrValidation) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Unauthenticated, authFailedMessage)
}

// handshakeResult labels an error for the handshake metric.
func handshakeResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, handshake.ErrValidation), errors.Is(err, handshake.ErrInvalidPublicValue):
		return metrics.ResultInvalid
	case errors.Is(err, handshake.ErrLookupFailed):
		return metrics.ResultError
	default:
		return metrics.ResultRejected
	}
}
