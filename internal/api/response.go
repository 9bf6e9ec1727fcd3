package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/openjobspec/ojs-lease/internal/core"
)

// ErrCodeUnauthorized is returned by APIKeyAuth.
const ErrCodeUnauthorized = "unauthorized"

// ErrorResponse wraps an OJSError in the response body.
type ErrorResponse struct {
	Error *core.OJSError `json:"error"`
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", core.OJSMediaType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// WriteError writes ojsErr with the given status, stamped with the request id.
func WriteError(w http.ResponseWriter, status int, ojsErr *core.OJSError) {
	if reqID := w.Header().Get("X-Request-Id"); reqID != "" {
		cp := *ojsErr
		cp.RequestID = reqID
		ojsErr = &cp
	}
	WriteJSON(w, status, ErrorResponse{Error: ojsErr})
}

// HandleError maps a service error to its HTTP status. Errors that are not
// OJSErrors are logged and reported as internal errors.
func HandleError(w http.ResponseWriter, err error) {
	var ojsErr *core.OJSError
	if !errors.As(err, &ojsErr) {
		slog.Error("unhandled error", "error", err)
		WriteError(w, http.StatusInternalServerError, core.NewInternalError(err.Error()))
		return
	}
	WriteError(w, statusFor(ojsErr.Code), ojsErr)
}

func statusFor(code string) int {
	switch code {
	case core.ErrCodeInvalidRequest, core.ErrCodeValidationError:
		return http.StatusBadRequest
	case core.ErrCodeOwnership, core.ErrCodeConflict:
		return http.StatusConflict
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes the JSON request body into dst. An empty body leaves
// dst untouched.
func decodeBody(r *http.Request, dst any) *core.OJSError {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return core.NewInvalidRequestError(
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), nil)
		}
		return core.NewInvalidRequestError("invalid JSON body: "+err.Error(), nil)
	}
	return nil
}
