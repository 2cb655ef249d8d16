package app

import "net/http"

// RequestError is reported to the API caller as is. Everything else goes
// through mapError, which hides internals behind generic messages.
type RequestError struct {
	Status  int
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return e.Code + ": " + e.Message
}

func badRequest(code, message string) error {
	return &RequestError{Status: http.StatusBadRequest, Code: code, Message: message}
}

func conflict(code, message string) error {
	return &RequestError{Status: http.StatusConflict, Code: code, Message: message}
}

// notConfigured reports an endpoint whose backing component is off in
// this deployment.
func notConfigured(what string) error {
	return &RequestError{Status: http.StatusServiceUnavailable, Code: "NOT_CONFIGURED", Message: what + " is not configured"}
}
