package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"anno-linker/config"
	"anno-linker/models"
	"anno-linker/providers/annorepo"
)

// Strukturprobleme, die die Bereinigung meldet.
const (
	IssueHighlightingPoint = `PointSelector has wrong purpose "highlighting", should be "selecting"`
	IssueMissingCreator    = "Body missing individual creator field"
	IssueMissingCreated    = "Body missing individual created timestamp"
)

// DuplicateGroup sind Linking-Annotationen mit identischer Target-Menge.
type DuplicateGroup struct {
	Key    string   `json:"key"`
	Keep   string   `json:"keep"`
	Delete []string `json:"delete"`
}

// StructuralFix listet die Probleme einer einzelnen Annotation.
type StructuralFix struct {
	ID     string   `json:"id"`
	Issues []string `json:"issues"`
}

// CleanupAnalysis ist der Befund über alle Linking-Annotationen eines Projekts.
type CleanupAnalysis struct {
	TotalAnnotations    int              `json:"totalAnnotations"`
	UniqueGroups        int              `json:"uniqueGroups"`
	DuplicatesToDelete  int              `json:"duplicatesToDelete"`
	StructuralFixes     int              `json:"structuralFixes"`
	AnnotationsToKeep   int              `json:"annotationsToKeep"`
	DuplicateGroups     []DuplicateGroup `json:"duplicateGroups"`
	StructuralFixGroups []StructuralFix  `json:"structuralFixGroups"`
}

// CleanupFailure ist ein fehlgeschlagener Einzelschritt.
type CleanupFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// CleanupResult ist das Ergebnis eines Bereinigungslaufs.
type CleanupResult struct {
	DryRun   bool             `json:"dryRun"`
	Analysis *CleanupAnalysis `json:"analysis"`
	Deleted  []string         `json:"deleted"`
	Fixed    []string         `json:"fixed"`
	Failed   []CleanupFailure `json:"failed"`
}

// CleanupService findet doppelte und strukturell fehlerhafte Linking-Annotationen und bereinigt sie.
type CleanupService struct {
	Config    *config.Config
	Logger    *zap.Logger
	Stores    StoreRegistry
	Validator *BodyValidator
	Audit     AuditRecorder
	// MaxPages begrenzt das Laden des Feeds (0 = alle Seiten).
	MaxPages int
}

// NewCleanupService erstellt eine neue Instanz des CleanupService.
func NewCleanupService(cfg *config.Config, logger *zap.Logger, stores StoreRegistry, audit AuditRecorder) *CleanupService {
	if audit == nil {
		audit = NopAuditRecorder{}
	}
	return &CleanupService{
		Config:    cfg,
		Logger:    logger,
		Stores:    stores,
		Validator: NewBodyValidator(cfg),
		Audit:     audit,
	}
}

// groupKey ist die sortierte, deduplizierte Target-Menge.
func groupKey(a *models.Annotation) string {
	ids := mapset.NewThreadUnsafeSet(a.TargetIDs()...).ToSlice()
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// cleanupScore bevorzugt jüngere, reicher annotierte Einträge.
func cleanupScore(a *models.Annotation) float64 {
	score := 0.0
	ts := a.Modified
	if ts == "" {
		ts = a.Created
	}
	if t, ok := parseTimestamp(ts); ok {
		score += float64(t.UnixMilli()) / 1e6
	}
	purposes := mapset.NewThreadUnsafeSet[models.Purpose]()
	for _, b := range a.Body {
		if b.Purpose != "" {
			purposes.Add(b.Purpose)
		}
	}
	score += float64(len(a.Body))*10 + float64(purposes.Cardinality())*5 + float64(len(a.Target))
	return score
}

// structuralIssues prüft jeden Body auf die bekannten Strukturprobleme.
func structuralIssues(a *models.Annotation) []string {
	var issues []string
	add := func(issue string) {
		for _, existing := range issues {
			if existing == issue {
				return
			}
		}
		issues = append(issues, issue)
	}
	for _, b := range a.Body {
		if _, ok := b.Selector.First(models.SelectorPoint); ok && b.Purpose == models.PurposeHighlighting {
			add(IssueHighlightingPoint)
		}
		if b.Creator == nil {
			add(IssueMissingCreator)
		}
		if b.Created == "" {
			add(IssueMissingCreated)
		}
	}
	return issues
}

// AnalyzeLinks gruppiert nach Target-Menge, wählt pro Gruppe den besten Eintrag und
// sammelt die Strukturprobleme der behaltenen Einträge.
func AnalyzeLinks(links []models.Annotation) *CleanupAnalysis {
	groups := map[string][]*models.Annotation{}
	var order []string
	for i := range links {
		if !links[i].IsLinking() || len(links[i].Target) == 0 {
			continue
		}
		key := groupKey(&links[i])
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], &links[i])
	}

	out := &CleanupAnalysis{
		UniqueGroups:        len(order),
		DuplicateGroups:     []DuplicateGroup{},
		StructuralFixGroups: []StructuralFix{},
	}
	for _, key := range order {
		members := groups[key]
		out.TotalAnnotations += len(members)
		best := 0
		for i := 1; i < len(members); i++ {
			if cleanupScore(members[i]) > cleanupScore(members[best]) {
				best = i
			}
		}
		keep := members[best]
		if len(members) > 1 {
			group := DuplicateGroup{Key: key, Keep: keep.ID}
			for i, m := range members {
				if i != best {
					group.Delete = append(group.Delete, m.ID)
				}
			}
			out.DuplicatesToDelete += len(group.Delete)
			out.DuplicateGroups = append(out.DuplicateGroups, group)
		}
		if issues := structuralIssues(keep); len(issues) > 0 {
			out.StructuralFixGroups = append(out.StructuralFixGroups, StructuralFix{ID: keep.ID, Issues: issues})
		}
	}
	out.StructuralFixes = len(out.StructuralFixGroups)
	out.AnnotationsToKeep = out.TotalAnnotations - out.DuplicatesToDelete
	return out
}

// load liest alle Linking-Annotationen des Projekts über den Feed.
func (s *CleanupService) load(ctx context.Context, store AnnotationStore) ([]models.Annotation, error) {
	var all []models.Annotation
	for page := 0; s.MaxPages <= 0 || page < s.MaxPages; page++ {
		raw, err := store.LinkingPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("load linking page %d: %w", page, err)
		}
		all = append(all, raw.Items...)
		if !raw.HasMore() {
			break
		}
	}
	return all, nil
}

// Analyze liefert den Befund ohne Schreibzugriffe.
func (s *CleanupService) Analyze(ctx context.Context, project string) (*CleanupAnalysis, error) {
	store, err := s.Stores.Store(project)
	if err != nil {
		return nil, &ValidationError{Details: []string{err.Error()}}
	}
	links, err := s.load(ctx, store)
	if err != nil {
		return nil, err
	}
	return AnalyzeLinks(links), nil
}

// Run bereinigt: Bodies der Duplikate wandern in den behaltenen Eintrag (dessen Zwecke gewinnen),
// der per PUT korrigiert wird; Duplikate werden gelöscht. dryRun liefert nur den Befund.
func (s *CleanupService) Run(ctx context.Context, project string, dryRun bool) (*CleanupResult, error) {
	store, err := s.Stores.Store(project)
	if err != nil {
		return nil, &ValidationError{Details: []string{err.Error()}}
	}
	if !dryRun && !store.CanWrite() {
		return nil, annorepo.ErrMissingToken
	}
	links, err := s.load(ctx, store)
	if err != nil {
		return nil, err
	}
	analysis := AnalyzeLinks(links)
	result := &CleanupResult{DryRun: dryRun, Analysis: analysis, Deleted: []string{}, Fixed: []string{}, Failed: []CleanupFailure{}}
	if dryRun {
		return result, nil
	}

	byID := make(map[string]*models.Annotation, len(links))
	for i := range links {
		byID[links[i].ID] = &links[i]
	}
	needsFix := map[string]bool{}
	for _, fix := range analysis.StructuralFixGroups {
		needsFix[fix.ID] = true
	}
	losers := map[string][]string{}
	for _, g := range analysis.DuplicateGroups {
		losers[g.Keep] = g.Delete
		needsFix[g.Keep] = true
	}

	for i := range links {
		keep := &links[i]
		if !needsFix[keep.ID] {
			continue
		}
		payload, err := keep.Clone()
		if err != nil {
			result.Failed = append(result.Failed, CleanupFailure{ID: keep.ID, Error: err.Error()})
			continue
		}
		body := payload.Body
		for _, id := range losers[keep.ID] {
			if loser := byID[id]; loser != nil {
				body = MergeBodies(loser.Body, body)
			}
		}
		payload.Body = s.Validator.Normalize(body, nil)
		payload.Modified = s.Validator.Timestamp()

		etag, err := store.ETag(ctx, keep.ID)
		if err == nil {
			_, err = store.Update(ctx, keep.ID, payload, etag)
		}
		if err != nil {
			s.Logger.Warn("Korrektur fehlgeschlagen", zap.String("id", keep.ID), zap.Error(err))
			result.Failed = append(result.Failed, CleanupFailure{ID: keep.ID, Error: err.Error()})
			continue
		}
		result.Fixed = append(result.Fixed, keep.ID)
		s.record(ctx, project, "cleanup-fix", payload)

		for _, id := range losers[keep.ID] {
			if err := s.delete(ctx, store, id); err != nil {
				s.Logger.Warn("Löschen des Duplikats fehlgeschlagen", zap.String("id", id), zap.Error(err))
				result.Failed = append(result.Failed, CleanupFailure{ID: id, Error: err.Error()})
				continue
			}
			result.Deleted = append(result.Deleted, id)
			s.record(ctx, project, "cleanup-delete", byID[id])
		}
	}
	s.Logger.Info("Bereinigung abgeschlossen",
		zap.Int("fixed", len(result.Fixed)), zap.Int("deleted", len(result.Deleted)), zap.Int("failed", len(result.Failed)))
	return result, nil
}

func (s *CleanupService) delete(ctx context.Context, store AnnotationStore, id string) error {
	etag, err := store.ETag(ctx, id)
	if err != nil {
		return err
	}
	return store.Delete(ctx, id, etag)
}

func (s *CleanupService) record(ctx context.Context, project, decision string, a *models.Annotation) {
	if project == "" {
		project = s.Config.DefaultProject
	}
	if err := s.Audit.Record(ctx, newLinkDecision(project, decision, a)); err != nil {
		s.Logger.Warn("Audit-Eintrag konnte nicht geschrieben werden", zap.Error(err))
	}
}
