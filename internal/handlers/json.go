package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/the127/upyard/internal/logging"
)

// WriteJson writes v with the given status. The status is already on the wire
// when encoding fails, so the error is only logged.
func WriteJson(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		logging.Logger.Errorf("failed to write response body: %v", err)
	}
}
