package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/tillsync/internal/domain"
)

// Boundary-only codes.
const (
	codeUnauthenticated domain.ErrorCode = "UNAUTHENTICATED"
	codeForbidden       domain.ErrorCode = "FORBIDDEN"
	codeInternal        domain.ErrorCode = "INTERNAL"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one error.
type ErrorDetail struct {
	Code    domain.ErrorCode  `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func unauthenticated() *domain.Error {
	return &domain.Error{Code: codeUnauthenticated, Message: "authentication required"}
}

func forbidden(role Role) *domain.Error {
	return &domain.Error{
		Code:    codeForbidden,
		Message: "role not permitted",
		Details: map[string]string{"role": string(role)},
	}
}

// statusFor maps an error code to its HTTP status.
func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidState, domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeInsufficientStock, domain.CodeIntegrity:
		return http.StatusUnprocessableEntity
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case codeUnauthenticated:
		return http.StatusUnauthorized
	case codeForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// respondError writes err using the structured body. Errors without a
// known code are logged and reported as INTERNAL with a generic message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) || statusFor(de.Code) == http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		respondJSON(w, http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{
			Code:    codeInternal,
			Message: "internal server error",
		}})
		return
	}

	respondJSON(w, statusFor(de.Code), ErrorBody{Error: ErrorDetail{
		Code:    de.Code,
		Message: de.Message,
		Details: de.Details,
	}})
}

func setETag(w http.ResponseWriter, version int64) {
	w.Header().Set("ETag", `"`+strconv.FormatInt(version, 10)+`"`)
}

// ifMatch parses the If-Match header into a version. Zero means absent.
func ifMatch(r *http.Request) (int64, error) {
	h := strings.TrimSpace(r.Header.Get("If-Match"))
	if h == "" || h == "*" {
		return 0, nil
	}
	h = strings.TrimPrefix(h, "W/")
	v, err := strconv.ParseInt(strings.Trim(h, `"`), 10, 64)
	if err != nil || v <= 0 {
		return 0, domain.InvalidArgument("If-Match must hold a session version")
	}
	return v, nil
}

// decodeJSON decodes the request body into dst. An empty body leaves dst
// unchanged.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.InvalidArgument("malformed request body: %v", err)
	}
	return nil
}
