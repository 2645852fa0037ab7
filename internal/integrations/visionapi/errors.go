package visionapi

import (
	"errors"
	"fmt"
	"net/http"
)

// ConnectionError bedeutet: Transport nicht erreichbar (Verbindung abgelehnt,
// DNS-Fehler). Wird bis maxRetries wiederholt.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("vision service unreachable during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError bedeutet: die Anfrage hat das konfigurierte Timeout
// überschritten. Wird bis maxRetries wiederholt.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("vision service timeout during %s: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ServiceError ist eine strukturierte Fehlerantwort des Vision-Dienstes.
// Client-Fehler (4xx) werden nicht wiederholt, Server-Fehler (5xx) schon.
type ServiceError struct {
	StatusCode    int
	Code          string
	Message       string
	CorrelationID string
	Details       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("vision service error %s (status %d, correlation %s): %s",
		e.Code, e.StatusCode, e.CorrelationID, e.Message)
}

// Retryable prüft, ob es sich um einen wiederholbaren Server-Fehler handelt
func (e *ServiceError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// UnknownError fängt alles auf, was keiner anderen Klasse zuzuordnen ist
type UnknownError struct {
	Op  string
	Err error
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unexpected error during %s: %v", e.Op, e.Err)
}

func (e *UnknownError) Unwrap() error { return e.Err }

// ValidationError bedeutet: lokal erkannte, fehlerhafte Eingabe. Wird nie
// wiederholt und sofort an den Aufrufer gereicht.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Message)
}

// retryable entscheidet, ob ein Fehler einen weiteren Versuch wert ist
func retryable(err error) bool {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Retryable()
	}
	// Verbindungs-, Timeout- und unbekannte Fehler werden wiederholt
	return true
}
