package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"anno-linker/config"
	"anno-linker/models"
)

// BodyValidator ergänzt fehlende Felder in Body-Einträgen. Mehrfaches Anwenden ändert nichts mehr.
type BodyValidator struct {
	DefaultCreator models.Agent
	Now            func() time.Time
}

// NewBodyValidator erstellt einen Validator mit dem konfigurierten Default-Creator.
func NewBodyValidator(cfg *config.Config) *BodyValidator {
	return &BodyValidator{
		DefaultCreator: models.Agent{ID: cfg.DefaultCreatorID, Type: "Person", Label: cfg.DefaultCreatorLabel},
		Now:            time.Now,
	}
}

// Timestamp liefert den aktuellen Zeitpunkt im Annotationsformat.
func (v *BodyValidator) Timestamp() string {
	return v.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// Creator liefert den Benutzer der Anfrage oder den Default-Creator.
func (v *BodyValidator) Creator(user *models.Agent) *models.Agent {
	if user != nil && (user.ID != "" || user.Label != "") {
		c := *user
		if c.Type == "" {
			c.Type = "Person"
		}
		return &c
	}
	c := v.DefaultCreator
	return &c
}

// Normalize wendet NormalizeBody auf alle Einträge an.
func (v *BodyValidator) Normalize(bodies models.Bodies, user *models.Agent) models.Bodies {
	out := make(models.Bodies, 0, len(bodies))
	for _, b := range bodies {
		out = append(out, v.NormalizeBody(b, user))
	}
	return out
}

// NormalizeBody setzt type, purpose, Geotagging-Struktur, creator und created.
func (v *BodyValidator) NormalizeBody(b models.Body, user *models.Agent) models.Body {
	if b.Type == "" {
		b.Type = models.BodyTypeSpecificResource
	}
	if _, ok := b.Selector.First(models.SelectorPoint); ok {
		if b.Purpose == "" || b.Purpose == models.PurposeHighlighting {
			b.Purpose = models.PurposeSelecting
		}
	}
	if b.Source != nil && b.Purpose == "" {
		b.Purpose = models.PurposeIdentifying
	}
	if b.Purpose == models.PurposeGeotagging && b.Source != nil {
		src := *b.Source
		if src.Ref != "" && src.ID == "" && src.URI == "" {
			src.ID = src.Ref
		}
		src.Ref = ""
		if src.Type == "" {
			src.Type = "Feature"
		}
		if p := src.Properties; src.Geometry == nil && p != nil && p.Lat != nil && p.Lon != nil {
			if coords, err := json.Marshal([]float64{float64(*p.Lon), float64(*p.Lat)}); err == nil {
				src.Geometry = &models.Geometry{Type: "Point", Coordinates: coords}
			}
		}
		if src.Geometry != nil && src.Geometry.Type == "" {
			geometry := *src.Geometry
			geometry.Type = "Point"
			src.Geometry = &geometry
		}
		if src.Properties == nil && src.Label != "" {
			src.Properties = &models.SourceProperties{Title: src.Label, Description: src.Label}
		}
		b.Source = &src
	}
	if b.Creator == nil {
		b.Creator = v.Creator(user)
	}
	if b.Created == "" {
		b.Created = v.Timestamp()
	}
	return b
}

// ValidateAnnotation prüft den finalen Payload vor dem Schreiben.
func ValidateAnnotation(a *models.Annotation) error {
	var details []string
	if len(a.Target) == 0 {
		details = append(details, "target must contain at least one annotation id")
	}
	for i, t := range a.Target {
		if strings.TrimSpace(t.Identifier()) == "" {
			details = append(details, fmt.Sprintf("target[%d] has no id", i))
		}
	}
	for i, b := range a.Body {
		switch b.Purpose {
		case models.PurposeIdentifying, models.PurposeGeotagging:
			if b.Source == nil {
				details = append(details, fmt.Sprintf("body[%d] with purpose %q requires a source", i, b.Purpose))
			}
		case models.PurposeSelecting:
			if len(b.Selector) == 0 && b.Source == nil {
				details = append(details, fmt.Sprintf("body[%d] with purpose %q requires a selector or source", i, b.Purpose))
			}
		}
	}
	if len(details) > 0 {
		return &ValidationError{Details: details}
	}
	return nil
}

// NormalizeTargets entfernt leere und doppelte Targets, die Reihenfolge bleibt erhalten.
func NormalizeTargets(targets []string) []string {
	seen := make(map[string]bool, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
