package providers

import (
	"context"

	"anno-linker/models"
)

// PlaceProvider ist das Interface, das jeder externe Gazetteer-Datensatz (z.B. GLOBALISE) implementieren muss.
type PlaceProvider interface {
	// Matches meldet, ob die kanonische Orts-ID zu diesem Datensatz gehört.
	Matches(placeID string) bool

	// Lookup liefert die Anreicherung zu einer Orts-ID, nil wenn der Datensatz sie nicht kennt.
	Lookup(ctx context.Context, placeID string) (*models.PlaceEnrichment, error)

	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "globalise").
	Name() string
}
