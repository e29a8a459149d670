package utils

import (
	"encoding/json"
	"net/http"
)

// Error messages returned to clients
const (
	MsgInvalidSymbol       = "Invalid symbol"
	MsgInvalidExchange     = "Invalid symbol for stock exchange table"
	MsgExchangeUnavailable = "Stock exchange service unavailable"
	MsgRequestTimeout      = "Request timed out"
	MsgInternalServerError = "Internal server error"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the body of the health endpoints
type StatusResponse struct {
	Status string `json:"status"`
}

// WriteJSON writes a JSON response with the given status code.
// The encoder terminates the body with a newline.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteError writes {"error": message} with the given status
func WriteError(w http.ResponseWriter, status int, message string) error {
	return WriteJSON(w, status, ErrorResponse{Error: message})
}
