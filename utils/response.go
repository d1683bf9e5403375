package utils

import (
	"encoding/json"
	"net/http"
)

// RespondWithError writes {"error": msg}.
func RespondWithError(w http.ResponseWriter, code int, msg string) {
	RespondWithJSON(w, code, map[string]string{"error": msg})
}

// RespondWithData writes {"data": data}, the envelope the client expects.
func RespondWithData(w http.ResponseWriter, statusCode int, data any) {
	RespondWithJSON(w, statusCode, map[string]any{"data": data})
}

// Sends a JSON response
func RespondWithJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
