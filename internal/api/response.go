package api

import (
	"encoding/json"
	"net/http"

	"github.com/sungwon/mail-dispatch/internal/dispatch"
)

// errorResponse is the body of every non-2xx reply. Kind names the dispatch
// refusal behind a 403 or 409 so clients need not parse the message.
type errorResponse struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind,omitempty"`
	Details []string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// respondRefusal reports a refused dispatch operation with its kind.
func respondRefusal(w http.ResponseWriter, status int, msg string, kind dispatch.Kind) {
	respondJSON(w, status, errorResponse{Error: msg, Kind: kind.String()})
}

func respondValidationErrors(w http.ResponseWriter, details []string) {
	respondJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Details: details})
}
