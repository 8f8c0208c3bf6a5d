package web

// errors.go renders every failure as a JSON ErrorResponse.
//
// The technical error is logged server-side with the request ID; the client
// receives the coded message from core.MapError plus the HTTP status chosen
// by statusFor.

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/JonMunkholm/ingest/internal/logging"
	"github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	State   string `json:"state,omitempty"` // Job state a pipeline failure occurred in
}

// requestError is a malformed request, answered with 400.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var reqErr *requestError
	var pipeErr *core.PipelineError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTooManyJobs):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	case errors.As(err, &pipeErr):
		if core.IsValidation(pipeErr.Err) {
			return http.StatusUnprocessableEntity
		}
		return http.StatusInternalServerError
	case core.IsValidation(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its mapped message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	var resp ErrorResponse
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		resp = ErrorResponse{
			Error:   reqErr.msg,
			Message: "The request could not be understood",
			Action:  "Check the request body and query parameters",
			Code:    "REQ001",
		}
	} else {
		msg := core.MapError(err)
		resp = ErrorResponse{
			Error:   err.Error(),
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		}
	}
	var pipeErr *core.PipelineError
	if errors.As(err, &pipeErr) {
		resp.State = string(pipeErr.State)
		// Internal detail stays in the logs and the ledger.
		if status == http.StatusInternalServerError {
			resp.Error = resp.Message
		}
	}

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", core.TechnicalDetail(err),
		"code", resp.Code,
		"request_id", middleware.GetReqID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Info("request rejected", attrs...)
	}

	if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSONStatus(w, status, resp)
}
