package handlers

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the failure envelope shared by all JSON endpoints
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// respondError sends an error envelope
func respondError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
