package app

import (
	"fmt"
	"net/http"
)

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

func errAuthRequired() *DomainError {
	return domainError(http.StatusUnauthorized, "AUTH_REQUIRED", "Sign in required", nil)
}

func errForbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "You do not have permission to do that", nil)
}

func errPrivateTimeline() *DomainError {
	return domainError(http.StatusForbidden, "PRIVATE_TIMELINE", "This timeline is private", nil)
}

func errNotFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Timeline not found", nil)
}

func errQuotaExceeded(limit int) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "QUOTA_EXCEEDED",
		fmt.Sprintf("You can own at most %d timelines", limit), nil)
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}
