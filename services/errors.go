package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPlaceNotFound: Slug weder auf Seite 0 noch im Lookahead gefunden.
var ErrPlaceNotFound = errors.New("place not found")

// ConflictSuggestion ist der Lösungshinweis bei einem Überlappungskonflikt.
const ConflictSuggestion = "Edit the existing linking annotation to add or remove targets instead of creating an overlapping one."

// ConflictError meldet bestehende Linking-Annotationen, mit denen die Anfrage unvereinbar überlappt.
type ConflictError struct {
	IDs        []string
	Suggestion string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("targets conflict with existing linking annotations: %s", strings.Join(e.IDs, ", "))
}

// ValidationError ist ein struktureller Fehler im finalen Payload.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "invalid linking annotation: " + strings.Join(e.Details, "; ")
}
