package utils

import (
	"encoding/json"
	"net/http"

	"github.com/upb/llm-router/models"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteAPIError writes an OpenAI-shaped error envelope.
func WriteAPIError(w http.ResponseWriter, status int, message, errType string) error {
	return WriteJSON(w, status, models.APIError{
		Error: models.APIErrorDetail{
			Message: message,
			Type:    errType,
		},
	})
}

// WriteBadRequest writes a 400 validation error.
func WriteBadRequest(w http.ResponseWriter, message string) error {
	return WriteAPIError(w, http.StatusBadRequest, message, models.ErrTypeInvalidRequest)
}

// WriteUnauthorized writes a 401 authentication error.
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "authentication required"
	}
	return WriteAPIError(w, http.StatusUnauthorized, message, models.ErrTypeAuthentication)
}

// WriteServiceUnavailable writes a 503 server error.
func WriteServiceUnavailable(w http.ResponseWriter, message string) error {
	return WriteAPIError(w, http.StatusServiceUnavailable, message, models.ErrTypeServer)
}

// WriteBadGateway writes a 502 server error.
func WriteBadGateway(w http.ResponseWriter, message string) error {
	return WriteAPIError(w, http.StatusBadGateway, message, models.ErrTypeServer)
}

// WriteInternalServerError writes a 500 server error.
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "internal server error"
	}
	return WriteAPIError(w, http.StatusInternalServerError, message, models.ErrTypeServer)
}
