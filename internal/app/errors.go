package app

import "fmt"

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errNotFound(message string) *DomainError {
	return domainError(404, "NOT_FOUND", message, nil)
}

func errForbidden() *DomainError {
	return domainError(403, "FORBIDDEN", "Forbidden", nil)
}

func errValidation(message string) *DomainError {
	return domainError(422, "VALIDATION_ERROR", message, nil)
}

func errDuplicate(message string) *DomainError {
	return domainError(409, "DUPLICATE", message, nil)
}

func errOffline() *DomainError {
	return domainError(503, "OFFLINE", "Service is in degraded mode, writes are unavailable", nil)
}

func errConflict(message string) *DomainError {
	return domainError(409, "CONFLICT", message, nil)
}
