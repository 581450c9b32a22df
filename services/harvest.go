package services

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"anno-linker/models"
)

// targetEvidence ist die Ausbeute eines einzelnen Target-Abrufs.
type targetEvidence struct {
	TargetID string
	Texts    []models.TextRecognitionSource
	Comments []models.Comment
	Icon     *models.TextRecognitionSource
	Verified bool
	CanvasID string
}

// bestText liefert den Text mit der besten Quelle; bei Gleichstand gewinnt der erste.
func (e *targetEvidence) bestText() (models.TextRecognitionSource, bool) {
	var best models.TextRecognitionSource
	found := false
	for _, t := range e.Texts {
		if !found || t.Source.Better(best.Source) {
			best, found = t, true
		}
	}
	return best, found
}

// harvest wertet eine geladene Target-Annotation aus (textspotting bzw. iconography).
func harvest(targetID string, t *models.Annotation) targetEvidence {
	ev := targetEvidence{TargetID: targetID}
	var svg string
	for _, tgt := range t.Target {
		if ev.CanvasID == "" {
			ev.CanvasID = tgt.Source
		}
		if s, ok := tgt.Selector.First(models.SelectorSvg); ok && svg == "" {
			svg = s.Value
		}
	}

	switch {
	case t.Motivation == models.MotivationTextspotting:
		var verifier *models.Agent
		var verifiedAt string
		for _, b := range t.Body {
			v, ok := b.Variant().(models.TextBody)
			if !ok {
				continue
			}
			switch v.Purpose {
			case models.PurposeCommenting:
				ev.Comments = append(ev.Comments, models.Comment{Value: v.Value, TargetID: targetID, Creator: v.Creator, Created: v.Created})
			case models.PurposeAssessing:
				ev.Verified = true
				verifier, verifiedAt = v.Creator, v.Created
			default:
				text := NormalizeText(v.Value)
				if text == "" {
					continue
				}
				ev.Texts = append(ev.Texts, models.TextRecognitionSource{
					Text:        text,
					Source:      models.ClassifyTextSource(v.Creator, v.Generator),
					Motivation:  t.Motivation,
					Creator:     v.Creator,
					Generator:   v.Generator,
					Created:     v.Created,
					TargetID:    targetID,
					SvgSelector: svg,
					CanvasURL:   ev.CanvasID,
				})
			}
		}
		if ev.Verified {
			for i := range ev.Texts {
				ev.Texts[i].IsHumanVerified = true
				ev.Texts[i].VerifiedBy = verifier
				ev.Texts[i].VerifiedDate = verifiedAt
			}
		}
		ev.Texts = dedupTexts(ev.Texts)

	case models.IsIconography(t.Motivation):
		if svg == "" || ev.CanvasID == "" {
			return ev
		}
		icon := models.TextRecognitionSource{
			Text:        "Icon",
			Source:      models.ClassifyTextSource(t.Creator, t.Generator),
			Motivation:  models.MotivationIconography,
			Creator:     t.Creator,
			Generator:   t.Generator,
			Created:     t.Created,
			TargetID:    targetID,
			SvgSelector: svg,
			CanvasURL:   ev.CanvasID,
		}
		for _, b := range t.Body {
			switch v := b.Variant().(type) {
			case models.ClassifyingBody:
				if icon.Classification == nil && v.Label != "" {
					icon.Classification = &models.Classification{ID: v.ID, Label: v.Label, Creator: v.Creator, Created: v.Created}
					icon.Text = v.Label
				}
			case models.TextBody:
				if v.Purpose == models.PurposeCommenting {
					ev.Comments = append(ev.Comments, models.Comment{Value: v.Value, TargetID: targetID, Creator: v.Creator, Created: v.Created})
				}
			}
		}
		ev.Icon = &icon
	}
	return ev
}

// dedupTexts entfernt pro Target gleiche Texte (normalisiert) und behält die beste Quelle
// an der Position des ersten Auftretens.
func dedupTexts(in []models.TextRecognitionSource) []models.TextRecognitionSource {
	if len(in) < 2 {
		return in
	}
	index := make(map[string]int, len(in))
	out := make([]models.TextRecognitionSource, 0, len(in))
	for _, t := range in {
		key := t.TargetID + "|" + t.Motivation + "|" + strings.ToLower(NormalizeText(t.Text))
		if i, ok := index[key]; ok {
			if t.Source.Better(out[i].Source) {
				out[i] = t
			}
			continue
		}
		index[key] = len(out)
		out = append(out, t)
	}
	return out
}

// inspectedTargets kappt die Targets einer Annotation auf MaxTargetsPerAnnotation.
func (a *Aggregator) inspectedTargets(link *models.Annotation) []string {
	ids := link.TargetIDs()
	if limit := a.Config.MaxTargetsPerAnnotation; limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

// fetchTargets lädt die Targets aller Annotationen einer Seite mit begrenzter Parallelität.
// Fehlgeschlagene Targets landen auf der Blacklist; nach Abbruch startet kein neuer Abruf.
func (a *Aggregator) fetchTargets(ctx context.Context, store AnnotationStore, links []models.Annotation) (map[string]*models.Annotation, int) {
	var ids []string
	seen := map[string]bool{}
	for i := range links {
		for _, id := range a.inspectedTargets(&links[i]) {
			if seen[id] || a.Blacklist.Contains(id) {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}

	results := make([]*models.Annotation, len(ids))
	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(max(1, a.Config.TargetFetchConcurrency))
	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			tctx, cancel := withTimeout(ctx, a.Config.TargetFetchTimeout)
			defer cancel()
			t, err := store.Get(tctx, id)
			if err != nil {
				if ctx.Err() == nil {
					a.Blacklist.Add(id)
					failed.Add(1)
					a.Logger.Debug("Target-Annotation nicht abrufbar", zap.String("target", id), zap.Error(err))
				}
				return nil
			}
			results[i] = t
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]*models.Annotation, len(ids))
	for i, id := range ids {
		if results[i] != nil {
			out[id] = results[i]
		}
	}
	return out, int(failed.Load())
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
