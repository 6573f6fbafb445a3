package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is returned for responses with a status of 400 or above.
type APIError struct {
	StatusCode int                 `json:"-"`
	Method     string              `json:"-"`
	URL        string              `json:"-"`
	Type       string              `json:"type"`
	Message    string              `json:"message"`
	Validation map[string][]string `json:"validation_errors,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	message := e.Message
	if message == "" {
		message = http.StatusText(e.StatusCode)
	}

	if e.Type != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, e.Type, message)
	}

	return fmt.Sprintf("%s %s: %d: %s", e.Method, e.URL, e.StatusCode, message)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error"`
}

func parseErrorResponse(req *Request, resp *Response) error {
	apiErr := &APIError{}

	var envelope errorEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err == nil && envelope.Error != nil {
		apiErr = envelope.Error
	} else if text := strings.TrimSpace(string(resp.Body)); text != "" && !strings.HasPrefix(text, "{") {
		apiErr.Message = text
	}

	apiErr.StatusCode = resp.StatusCode
	apiErr.Method = req.Method
	apiErr.URL = req.Path

	return apiErr
}

// IsStatus reports whether err is an *APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == status
	}

	return false
}

// IsNotFound checks if the error is a 404.
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}

// IsUnauthorized checks if the error is a 401.
func IsUnauthorized(err error) bool {
	return IsStatus(err, http.StatusUnauthorized)
}
