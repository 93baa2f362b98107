package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes one failure.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Rule    string `json:"rule,omitempty"`
}

func statusFor(err error) (int, string) {
	switch {
	case simplemedia.IsValidation(err):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, simplemedia.ErrUnknownKind):
		return http.StatusBadRequest, "unknown_kind"
	case errors.Is(err, simplemedia.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, simplemedia.ErrResolution), errors.Is(err, simplemedia.ErrSourceUnavailable):
		return http.StatusBadGateway, "resolution_failed"
	case errors.Is(err, simplemedia.ErrNoSigner):
		return http.StatusNotImplemented, "not_configured"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	body := ErrorBody{Code: code, Message: err.Error()}
	var verr *simplemedia.ValidationError
	if errors.As(err, &verr) {
		body.Rule = verr.Rule
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: body})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{Code: "bad_request", Message: msg}})
}

func notConfigured(w http.ResponseWriter, r *http.Request, what string) {
	render.Status(r, http.StatusNotImplemented)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{Code: "not_configured", Message: what + " is not configured"}})
}
