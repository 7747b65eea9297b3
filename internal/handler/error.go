package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sappio-ai/sappio/internal/domain"
)

// RequestIDHeader carries the request ID. The logging middleware sets it on
// the response before any handler runs, so errors can echo it back.
const RequestIDHeader = "X-Request-ID"

// statusByCode maps domain error codes to HTTP statuses. Anything missing
// is a 500.
var statusByCode = map[string]int{
	domain.EINVALID:      http.StatusBadRequest,
	domain.EUNAUTHORIZED: http.StatusUnauthorized,
	domain.EPAYMENT:      http.StatusPaymentRequired,
	domain.ENOTFOUND:     http.StatusNotFound,
	domain.ECONFLICT:     http.StatusConflict,
	domain.ERATELIMIT:    http.StatusTooManyRequests,
	domain.EINTERNAL:     http.StatusInternalServerError,
}

// JSONError is the body of every error response.
type JSONError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

// ErrorResponse renders err as a JSON error. Internal errors are logged in
// full but the caller only sees the generic message.
func ErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)
	requestID := w.Header().Get(RequestIDHeader)

	logError(logger, r, err, status, requestID)

	var body JSONError
	body.Error.Code = code
	body.Error.Message = domain.ErrorMessage(err)
	body.Error.RequestID = requestID
	writeJSON(w, status, body)
}

// ErrorCodeToHTTPStatus maps a domain error code to its HTTP status.
func ErrorCodeToHTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// NotFoundResponse writes a 404 for an unknown resource.
func NotFoundResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	ErrorResponse(w, r, logger, domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found"))
}

// UnauthorizedResponse writes a 401 for a missing or wrong API token.
func UnauthorizedResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	ErrorResponse(w, r, logger, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
}

// InternalErrorResponse writes a 500 for an error that has no domain code.
func InternalErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	ErrorResponse(w, r, logger, domain.Internal(err, "", "An unexpected error occurred"))
}

func logError(logger *slog.Logger, r *http.Request, err error, status int, requestID string) {
	attrs := []any{
		"error", err.Error(),
		"code", domain.ErrorCode(err),
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
	}
	if op := domain.ErrorOp(err); op != "" {
		attrs = append(attrs, "op", op)
	}
	if requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}

	// 5xx is ours, 4xx is the caller's.
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", attrs...)
		return
	}
	logger.Info("request rejected", attrs...)
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
