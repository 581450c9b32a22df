package services

import (
	"slices"

	"anno-linker/models"
)

// placeMap ist die Faltung über Linking-Annotationen: Orte in Einfügereihenfolge,
// indiziert nach kanonischer ID und nach Koordinaten-Schlüssel.
type placeMap struct {
	order []*models.Place
	byID  map[string]*models.Place
	byKey map[string]*models.Place
}

func newPlaceMap() *placeMap {
	return &placeMap{byID: map[string]*models.Place{}, byKey: map[string]*models.Place{}}
}

func coordinateKeyOf(p *models.Place) (string, bool) {
	if !p.IsGeographic() {
		return "", false
	}
	return CoordinateKey(p.Name, p.Coordinates.Y, p.Coordinates.X), true
}

// add faltet einen Kandidaten ein: gleiche ID, sonst gleicher Koordinaten-Schlüssel
// eines geografischen Orts, sonst neuer Eintrag.
func (m *placeMap) add(candidate *models.Place) {
	key, geographic := coordinateKeyOf(candidate)
	target := m.byID[candidate.ID]
	if target == nil && geographic {
		if existing := m.byKey[key]; existing != nil && existing.IsGeographic() {
			target = existing
		}
	}
	if target == nil {
		m.order = append(m.order, candidate)
		m.index(candidate)
		return
	}
	mergePlace(target, candidate)
	m.index(target)
	if geographic {
		m.byKey[key] = target
	}
	m.byID[candidate.ID] = target
}

func (m *placeMap) index(p *models.Place) {
	m.byID[p.ID] = p
	if key, ok := coordinateKeyOf(p); ok {
		m.byKey[key] = p
	}
}

// places liefert die Orte in Einfügereihenfolge mit gesetztem Slug.
func (m *placeMap) places() []models.Place {
	out := make([]models.Place, 0, len(m.order))
	for _, p := range m.order {
		p.Slug = CreateSlug(p.Name)
		if p.AlternativeNames == nil {
			p.AlternativeNames = []string{}
		}
		if p.TextRecognitionSources == nil {
			p.TextRecognitionSources = []models.TextRecognitionSource{}
		}
		if p.MapReferences == nil {
			p.MapReferences = []models.MapReference{}
		}
		out = append(out, *p)
	}
	return out
}

func thesaurusOf(p *models.Place) models.Thesaurus {
	if p.GeotagSource == nil {
		return models.ThesaurusUnknown
	}
	return p.GeotagSource.Thesaurus
}

// mergePlace führt src in dst zusammen. Wechselt die kanonische Quelle, entscheidet der
// Thesaurus-Rang; bei Gleichstand bleibt dst. Der Name des Verlierers wird Alternativname.
func mergePlace(dst, src *models.Place) {
	if src.ID != dst.ID && src.GeotagSource != nil && thesaurusOf(src).Outranks(thesaurusOf(dst)) {
		previous := dst.Name
		dst.ID = src.ID
		dst.Name = src.Name
		dst.GeotagSource = src.GeotagSource
		if src.Category != "" {
			dst.Category = src.Category
		}
		if src.IsGeographic() {
			dst.Coordinates, dst.CoordinateType = src.Coordinates, src.CoordinateType
		}
		dst.AddAlternativeName(previous)
	} else {
		dst.AddAlternativeName(src.Name)
	}
	for _, n := range src.AlternativeNames {
		dst.AddAlternativeName(n)
	}

	switch {
	case dst.Coordinates == nil && src.Coordinates != nil:
		dst.Coordinates, dst.CoordinateType = src.Coordinates, src.CoordinateType
	case !dst.IsGeographic() && src.IsGeographic():
		dst.Coordinates, dst.CoordinateType = src.Coordinates, src.CoordinateType
	}
	if (dst.Category == "" || dst.Category == "place") && src.Category != "" {
		dst.Category = src.Category
	}

	dst.TextParts = append(dst.TextParts, src.TextParts...)
	dst.TextRecognitionSources = dedupTexts(append(dst.TextRecognitionSources, src.TextRecognitionSources...))
	dst.Comments = append(dst.Comments, src.Comments...)
	for _, ref := range src.MapReferences {
		if !hasMapReference(dst.MapReferences, ref) {
			dst.MapReferences = append(dst.MapReferences, ref)
		}
	}
	dst.TargetIDs = appendUnique(dst.TargetIDs, src.TargetIDs...)

	dst.LinkingAnnotationCount += src.LinkingAnnotationCount
	dst.TargetAnnotationCount += src.TargetAnnotationCount
	dst.HasPointSelection = dst.HasPointSelection || src.HasPointSelection
	dst.HasGeotagging = dst.HasGeotagging || src.HasGeotagging
	dst.HasHumanVerification = dst.HasHumanVerification || src.HasHumanVerification

	if len(dst.PartOf) == 0 {
		dst.PartOf = src.PartOf
	}
	if dst.ParsedRemarks.IsEmpty() && !src.ParsedRemarks.IsEmpty() {
		dst.ParsedRemarks = src.ParsedRemarks
	}
	if dst.MapInfo == nil {
		dst.MapInfo = src.MapInfo
	}
	if dst.CanvasID == "" {
		dst.CanvasID = src.CanvasID
	}
	if src.Modified > dst.Modified {
		dst.Modified = src.Modified
	}
}

func hasMapReference(refs []models.MapReference, ref models.MapReference) bool {
	for _, r := range refs {
		if r.CanvasID == ref.CanvasID && r.LinkingAnnotationID == ref.LinkingAnnotationID {
			return true
		}
	}
	return false
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		if !slices.Contains(list, v) {
			list = append(list, v)
		}
	}
	return list
}
