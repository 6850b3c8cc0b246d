package json

import (
	"encoding/json"
	"net/http"

	"github.com/dgellow/authbridge/internal/log"
)

// SessionResponse is the body of the session endpoints
type SessionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// WriteResponse writes a JSON response with the given status code
func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.LogError("Failed to encode JSON response: %v", err)
		return err
	}
	return nil
}

// WriteSessionOK writes {"ok": true}
func WriteSessionOK(w http.ResponseWriter) {
	_ = WriteResponse(w, http.StatusOK, SessionResponse{OK: true})
}

// WriteSessionError writes {"ok": false, "error": message} with statusCode
func WriteSessionError(w http.ResponseWriter, statusCode int, message string) {
	if err := WriteResponse(w, statusCode, SessionResponse{OK: false, Error: message}); err != nil {
		// Fallback to plain text error if JSON encoding fails
		http.Error(w, message, statusCode)
	}
}
