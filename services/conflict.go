package services

import (
	mapset "github.com/deckarep/golang-set/v2"

	"anno-linker/models"
)

// Overlap beschreibt die Target-Überlappung mit einer bestehenden Linking-Annotation.
type Overlap struct {
	AnnotationID string
	Shared       int
	Ratio        float64
	Complete     bool
}

// HasOverlap meldet mindestens ein gemeinsames Target.
func (o Overlap) HasOverlap() bool {
	return o.Shared > 0
}

// ConflictDetector markiert Gruppen, die mehrheitlich, aber nicht vollständig überlappen.
type ConflictDetector struct {
	// Threshold ist die Schwelle für overlapRatio (strikt größer).
	Threshold float64
}

// TargetSet baut die ungeordnete Menge der Targets.
func TargetSet(targets []string) mapset.Set[string] {
	return mapset.NewThreadUnsafeSet(targets...)
}

// Analyze berechnet |∩| / max(|bestehend|, |neu|).
func (d ConflictDetector) Analyze(newTargets mapset.Set[string], existing *models.Annotation) Overlap {
	existingSet := TargetSet(existing.TargetIDs())
	shared := newTargets.Intersect(existingSet).Cardinality()
	o := Overlap{
		AnnotationID: existing.ID,
		Shared:       shared,
		Complete:     newTargets.Equal(existingSet),
	}
	if denom := max(existingSet.Cardinality(), newTargets.Cardinality()); denom > 0 {
		o.Ratio = float64(shared) / float64(denom)
	}
	return o
}

// IsConflict meldet eine unvollständige Überlappung oberhalb der Schwelle.
func (d ConflictDetector) IsConflict(o Overlap) bool {
	return o.HasOverlap() && !o.Complete && o.Ratio > d.Threshold
}

// Conflicts liefert die IDs aller konfliktären Annotationen in Eingabereihenfolge.
func (d ConflictDetector) Conflicts(newTargets []string, existing []models.Annotation) []string {
	set := TargetSet(newTargets)
	var ids []string
	for i := range existing {
		if d.IsConflict(d.Analyze(set, &existing[i])) {
			ids = append(ids, existing[i].ID)
		}
	}
	return ids
}
