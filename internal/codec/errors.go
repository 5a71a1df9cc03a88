// Package codec converts between HTTP bodies and the canonical domain types
// used by the interview API.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
)

// MaxBodyBytes bounds the size of a decoded request body.
const MaxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ToCanonicalError converts any error to a domain.APIError.
// If the error is already a domain.APIError, it returns it directly.
// Otherwise, it wraps the error in a generic server error.
func ToCanonicalError(err error) *domain.APIError {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return domain.ErrServer(err.Error())
}

// WriteError writes err as {"error": message} with the status mapped from
// its type.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := ToCanonicalError(err)
	writeJSON(w, apiErr.HTTPStatusCode(), ErrorBody{Error: apiErr.Message, Code: string(apiErr.Code)})
}

// WriteJSON writes payload with status 200.
func WriteJSON(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// DecodeJSON reads a JSON request body into v. Malformed or oversized bodies
// yield an invalid_request error.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return domain.ErrInvalidRequest("request body is required")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return domain.ErrInvalidRequest(fmt.Sprintf("read request body: %v", err))
	}
	if len(body) > MaxBodyBytes {
		return domain.ErrInvalidRequest("request body too large")
	}
	if strings.TrimSpace(string(body)) == "" {
		return domain.ErrInvalidRequest("request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.ErrInvalidRequest(fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}
