package response

import (
	"encoding/json"
	"net/http"
)

// Response is the envelope every endpoint writes
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Health is the payload of the health and readiness endpoints
type Health struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func write(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// JSON sends data with the given status
func JSON(w http.ResponseWriter, status int, data interface{}) {
	write(w, status, Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// Error sends an error envelope
func Error(w http.ResponseWriter, status int, code, message string) {
	write(w, status, Response{
		Error: &ErrorInfo{Code: code, Message: message},
	})
}

func InternalError(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
}

// ServiceUnavailable reports a failed readiness check. The health payload is kept in
// Data so load balancers that only parse data see the reason.
func ServiceUnavailable(w http.ResponseWriter, reason string) {
	write(w, http.StatusServiceUnavailable, Response{
		Data:  Health{Status: "unavailable", Reason: reason},
		Error: &ErrorInfo{Code: "SERVICE_UNAVAILABLE", Message: reason},
	})
}
