// Package shared holds the response writers every handler uses, so error
// shape and status mapping cannot drift between features.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "aidbridge/pkg/domain-errors"
)

// ErrorResponse is the wire shape for every failure.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Remaining *int   `json:"remaining,omitempty"`
}

// WriteJSON writes a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError maps a domain error onto its HTTP status. Conflict errors carry
// the numeric remaining capacity so callers can retry with a corrected
// value; infrastructure failures are reported generically.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if !errors.As(err, &domainErr) {
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "internal error",
			Code:  string(dErrors.CodeInternal),
		})
		return
	}

	status := dErrors.ToHTTPStatus(domainErr.Code)
	resp := ErrorResponse{
		Error:     domainErr.Message,
		Code:      string(domainErr.Code),
		Remaining: domainErr.Remaining,
	}
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
	}
	WriteJSON(w, status, resp)
}
