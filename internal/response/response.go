package response

import (
	"encoding/json"
	"net/http"
)

const (
	ErrBadRequest     = "bad_request"
	ErrUnauthorized   = "unauthorized"
	ErrNotFound       = "not_found"
	ErrConflict       = "conflict"
	ErrLengthRequired = "length_required"
	ErrStorage        = "storage_error"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// JSON writes v with the given status
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes a standardized error response
func Error(w http.ResponseWriter, status int, code, message, hint string) {
	JSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
		Hint:    hint,
	})
}

func Plain(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}
