package services

import (
	"bytes"
	"encoding/json"
	"time"

	"anno-linker/config"
	"anno-linker/models"
)

// DecisionKind ist das Ergebnis der Konsolidierungsentscheidung.
type DecisionKind string

const (
	DecisionExactMatch     DecisionKind = "exact-match"
	DecisionReordered      DecisionKind = "same-set-reordered"
	DecisionPartialOverlap DecisionKind = "partial-overlap"
	DecisionConflict       DecisionKind = "conflict"
	DecisionCreate         DecisionKind = "create"
)

// Merges meldet, ob in eine bestehende Annotation geschrieben wird.
func (k DecisionKind) Merges() bool {
	return k == DecisionExactMatch || k == DecisionReordered || k == DecisionPartialOverlap
}

// LinkRequest ist eine Anfrage, Targets zu verknüpfen.
type LinkRequest struct {
	Project string
	Targets []string
	Body    models.Bodies
	Creator *models.Agent
}

// Decision ist das Ergebnis von Consolidator.Decide.
type Decision struct {
	Kind DecisionKind
	// Existing ist die Annotation, in die gemergt wird.
	Existing *models.Annotation
	// Payload ist die zu schreibende Annotation (nil bei Konflikt).
	Payload   *models.Annotation
	Conflicts []string
}

// Consolidator entscheidet über Merge, Konflikt oder Neuanlage.
type Consolidator struct {
	RecentWindow time.Duration
	Detector     ConflictDetector
	Validator    *BodyValidator
}

// NewConsolidator erstellt einen Consolidator mit den konfigurierten Schwellen.
func NewConsolidator(cfg *config.Config, validator *BodyValidator) *Consolidator {
	return &Consolidator{
		RecentWindow: cfg.RecentDuplicateWindow,
		Detector:     ConflictDetector{Threshold: cfg.ConflictOverlapThreshold},
		Validator:    validator,
	}
}

// Decide wertet die bestehenden Linking-Annotationen in fester Reihenfolge aus:
// exakte Übereinstimmung, gleiche Menge in anderer Reihenfolge (nur mit Duplikat-Signal),
// Konflikt, teilweise Überlappung, Neuanlage.
func (c *Consolidator) Decide(req LinkRequest, existing []models.Annotation) Decision {
	targets := NormalizeTargets(req.Targets)
	newSet := TargetSet(targets)
	// Zwecke erst ableiten, dann vergleichen und mergen.
	req.Body = c.Validator.Normalize(req.Body, req.Creator)

	for i := range existing {
		if sameOrder(existing[i].TargetIDs(), targets) {
			return c.merge(DecisionExactMatch, &existing[i], existing[i].Target, req)
		}
	}

	var remaining []models.Annotation
	for i := range existing {
		o := c.Detector.Analyze(newSet, &existing[i])
		if !o.HasOverlap() {
			continue
		}
		if o.Complete {
			if c.confirmedDuplicate(&existing[i], req.Body) {
				return c.merge(DecisionReordered, &existing[i], reorderTargets(existing[i].Target, targets), req)
			}
			// Gleiche Menge ohne Duplikat-Signal ist kein Kandidat für die Vereinigung.
			continue
		}
		remaining = append(remaining, existing[i])
	}

	if ids := c.Detector.Conflicts(targets, remaining); len(ids) > 0 {
		return Decision{Kind: DecisionConflict, Conflicts: ids}
	}

	if len(remaining) > 0 {
		best := &remaining[0]
		bestShared := c.Detector.Analyze(newSet, best).Shared
		for i := 1; i < len(remaining); i++ {
			if shared := c.Detector.Analyze(newSet, &remaining[i]).Shared; shared > bestShared {
				best, bestShared = &remaining[i], shared
			}
		}
		return c.merge(DecisionPartialOverlap, best, unionTargets(best.Target, targets), req)
	}

	return Decision{Kind: DecisionCreate, Payload: c.newAnnotation(targets, req)}
}

// confirmedDuplicate: kürzlich angelegt und der neue Body bringt selecting/geotagging,
// oder beide tragen denselben PointSelector.
func (c *Consolidator) confirmedDuplicate(existing *models.Annotation, newBody models.Bodies) bool {
	if c.isRecent(existing) && (newBody.HasPurpose(models.PurposeSelecting) || newBody.HasPurpose(models.PurposeGeotagging)) {
		return true
	}
	for _, nb := range newBody {
		np, ok := selectingPoint(nb)
		if !ok {
			continue
		}
		for _, eb := range existing.Body {
			if ep, ok := selectingPoint(eb); ok && ep.SamePoint(np) {
				return true
			}
		}
	}
	return false
}

func selectingPoint(b models.Body) (models.Selector, bool) {
	if b.Purpose != models.PurposeSelecting && b.Purpose != models.PurposeHighlighting && b.Purpose != "" {
		return models.Selector{}, false
	}
	return b.PointSelector()
}

func (c *Consolidator) isRecent(a *models.Annotation) bool {
	created, ok := parseTimestamp(a.Created)
	if !ok {
		return false
	}
	age := c.Validator.Now().Sub(created)
	return age >= 0 && age <= c.RecentWindow
}

func (c *Consolidator) merge(kind DecisionKind, existing *models.Annotation, targets models.Targets, req LinkRequest) Decision {
	payload, err := existing.Clone()
	if err != nil {
		copied := *existing
		payload = &copied
	}
	payload.Target = targets
	current := c.Validator.Normalize(existing.Body, req.Creator)
	payload.Body = c.Validator.Normalize(MergeBodies(current, req.Body), req.Creator)
	payload.Modified = c.Validator.Timestamp()
	if payload.Motivation == "" {
		payload.Motivation = models.MotivationLinking
	}
	return Decision{Kind: kind, Existing: existing, Payload: payload}
}

func (c *Consolidator) newAnnotation(targets []string, req LinkRequest) *models.Annotation {
	return &models.Annotation{
		Context:    json.RawMessage(`"` + models.AnnoContext + `"`),
		Type:       "Annotation",
		Motivation: models.MotivationLinking,
		Target:     models.NewTargets(targets),
		Body:       c.Validator.Normalize(req.Body, req.Creator),
		Creator:    c.Validator.Creator(req.Creator),
		Created:    c.Validator.Timestamp(),
	}
}

// MergeBodies führt Body-Listen nach Zweck zusammen: ein neuer Eintrag ersetzt bestehende
// mit gleichem Zweck, commenting sammelt sich an, zwecklose Einträge werden angehängt.
// Identische Einträge werden nicht verdoppelt.
func MergeBodies(existing, incoming models.Bodies) models.Bodies {
	merged := append(models.Bodies{}, existing...)
	for _, nb := range incoming {
		switch {
		case nb.Purpose == "":
			if !containsBody(merged, nb) {
				merged = append(merged, nb)
			}
		case nb.Purpose.Accumulates():
			if !containsValue(merged, nb) {
				merged = append(merged, nb)
			}
		default:
			kept := merged[:0:0]
			for _, eb := range merged {
				if eb.Purpose != nb.Purpose {
					kept = append(kept, eb)
				}
			}
			merged = append(kept, nb)
		}
	}
	return merged
}

func containsValue(bodies models.Bodies, b models.Body) bool {
	for _, eb := range bodies {
		if eb.Purpose == b.Purpose && eb.Value == b.Value {
			return true
		}
	}
	return false
}

func containsBody(bodies models.Bodies, b models.Body) bool {
	want, err := json.Marshal(b)
	if err != nil {
		return false
	}
	for _, eb := range bodies {
		got, err := json.Marshal(eb)
		if err == nil && bytes.Equal(got, want) {
			return true
		}
	}
	return false
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// reorderTargets übernimmt die neue Reihenfolge und behält bestehende Target-Objekte bei.
func reorderTargets(existing models.Targets, order []string) models.Targets {
	byID := make(map[string]models.Target, len(existing))
	for _, t := range existing {
		byID[t.Identifier()] = t
	}
	out := make(models.Targets, 0, len(order))
	for _, id := range order {
		if t, ok := byID[id]; ok {
			out = append(out, t)
			continue
		}
		out = append(out, models.Target{ID: id})
	}
	return out
}

// unionTargets: bestehende Reihenfolge zuerst, neue Targets hinten angehängt.
func unionTargets(existing models.Targets, incoming []string) models.Targets {
	out := append(models.Targets{}, existing...)
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t.Identifier()] = true
	}
	for _, id := range incoming {
		if !seen[id] {
			seen[id] = true
			out = append(out, models.Target{ID: id})
		}
	}
	return out
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
