package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"anno-linker/config"
	"anno-linker/models"
	"anno-linker/providers/annorepo"
)

// LinkResult ist das Ergebnis einer geschriebenen Konsolidierung.
type LinkResult struct {
	Decision   DecisionKind
	Annotation *models.Annotation
}

// Created meldet eine Neuanlage (201) statt eines Merges (200).
func (r *LinkResult) Created() bool {
	return r.Decision == DecisionCreate
}

// LinkingService orchestriert Lookup, Entscheidung und Schreibzugriff für Linking-Annotationen.
type LinkingService struct {
	Config       *config.Config
	Logger       *zap.Logger
	Stores       StoreRegistry
	Consolidator *Consolidator
	Audit        AuditRecorder
}

// NewLinkingService erstellt eine neue Instanz des LinkingService.
func NewLinkingService(cfg *config.Config, logger *zap.Logger, stores StoreRegistry, audit AuditRecorder) *LinkingService {
	if audit == nil {
		audit = NopAuditRecorder{}
	}
	return &LinkingService{
		Config:       cfg,
		Logger:       logger,
		Stores:       stores,
		Consolidator: NewConsolidator(cfg, NewBodyValidator(cfg)),
		Audit:        audit,
	}
}

// Link verknüpft die Targets: Merge in eine bestehende Annotation, Neuanlage oder ConflictError.
func (s *LinkingService) Link(ctx context.Context, req LinkRequest) (*LinkResult, error) {
	req.Targets = NormalizeTargets(req.Targets)
	if len(req.Targets) == 0 {
		return nil, &ValidationError{Details: []string{"target must contain at least one annotation id"}}
	}
	store, err := s.Stores.Store(req.Project)
	if err != nil {
		return nil, &ValidationError{Details: []string{err.Error()}}
	}
	if !store.CanWrite() {
		return nil, annorepo.ErrMissingToken
	}

	existing := s.ExistingLinks(ctx, store, req.Targets)
	decision := s.Consolidator.Decide(req, existing)
	logger := s.Logger.With(zap.String("decision", string(decision.Kind)), zap.Strings("targets", req.Targets))

	if decision.Kind == DecisionConflict {
		logger.Info("Linking-Anfrage wegen Überlappung abgelehnt", zap.Strings("conflicts", decision.Conflicts))
		return nil, &ConflictError{IDs: decision.Conflicts, Suggestion: ConflictSuggestion}
	}
	if err := ValidateAnnotation(decision.Payload); err != nil {
		return nil, err
	}

	var written *models.Annotation
	if decision.Kind.Merges() {
		written, err = s.write(ctx, store, decision.Existing.ID, decision.Payload)
	} else {
		written, err = store.Create(ctx, decision.Payload)
	}
	if err != nil {
		logger.Error("Schreiben der Linking-Annotation fehlgeschlagen", zap.Error(err))
		return nil, err
	}
	logger.Info("Linking-Annotation geschrieben", zap.String("id", written.ID))
	s.record(ctx, req.Project, string(decision.Kind), written)
	return &LinkResult{Decision: decision.Kind, Annotation: written}, nil
}

// ExistingLinks sucht parallel pro Target die Linking-Annotationen und dedupliziert nach ID.
// Fehler und Timeouts einzelner Targets zählen als "nichts gefunden".
func (s *LinkingService) ExistingLinks(ctx context.Context, store AnnotationStore, targets []string) []models.Annotation {
	if s.Config.LinkLookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Config.LinkLookupTimeout)
		defer cancel()
	}

	results := make([][]models.Annotation, len(targets))
	var g errgroup.Group
	if s.Config.TargetFetchConcurrency > 0 {
		g.SetLimit(s.Config.TargetFetchConcurrency)
	}
	for i, target := range targets {
		g.Go(func() error {
			found, err := store.LinkingForTarget(ctx, target)
			if err != nil {
				s.Logger.Warn("Lookup bestehender Links fehlgeschlagen", zap.String("target", target), zap.Error(err))
			}
			results[i] = found
			return nil
		})
	}
	_ = g.Wait()

	seen := map[string]bool{}
	var out []models.Annotation
	for _, found := range results {
		for _, a := range found {
			if a.ID == "" || seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			out = append(out, a)
		}
	}
	return out
}

// Update ersetzt Targets und Body einer bestehenden Linking-Annotation.
// Teilt eine andere Linking-Annotation ein Target, wird mit ConflictError abgelehnt.
func (s *LinkingService) Update(ctx context.Context, id string, req LinkRequest) (*models.Annotation, error) {
	store, err := s.Stores.Store(req.Project)
	if err != nil {
		return nil, &ValidationError{Details: []string{err.Error()}}
	}
	if !store.CanWrite() {
		return nil, annorepo.ErrMissingToken
	}
	current, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	payload, err := current.Clone()
	if err != nil {
		return nil, fmt.Errorf("clone annotation: %w", err)
	}
	if targets := NormalizeTargets(req.Targets); len(targets) > 0 {
		payload.Target = reorderTargets(current.Target, targets)
	}
	validator := s.Consolidator.Validator
	payload.Body = validator.Normalize(req.Body, req.Creator)
	payload.Motivation = models.MotivationLinking
	payload.Modified = validator.Timestamp()
	if err := ValidateAnnotation(payload); err != nil {
		return nil, err
	}

	var conflicts []string
	for _, other := range s.ExistingLinks(ctx, store, payload.TargetIDs()) {
		if other.ID != current.ID {
			conflicts = append(conflicts, other.ID)
		}
	}
	if len(conflicts) > 0 {
		return nil, &ConflictError{IDs: conflicts, Suggestion: ConflictSuggestion}
	}

	written, err := s.write(ctx, store, current.ID, payload)
	if err != nil {
		s.Logger.Error("Update der Linking-Annotation fehlgeschlagen", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	s.record(ctx, req.Project, "update", written)
	return written, nil
}

// Delete löscht eine Linking-Annotation mit frischem ETag.
func (s *LinkingService) Delete(ctx context.Context, project, id string) error {
	store, err := s.Stores.Store(project)
	if err != nil {
		return &ValidationError{Details: []string{err.Error()}}
	}
	if !store.CanWrite() {
		return annorepo.ErrMissingToken
	}
	etag, err := store.ETag(ctx, id)
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, id, etag); err != nil {
		s.Logger.Error("Löschen der Linking-Annotation fehlgeschlagen", zap.String("id", id), zap.Error(err))
		return err
	}
	s.record(ctx, project, "delete", &models.Annotation{ID: id})
	return nil
}

// ForTarget liefert die Linking-Annotationen eines Targets (anonym lesbar).
func (s *LinkingService) ForTarget(ctx context.Context, project, target string) ([]models.Annotation, error) {
	store, err := s.Stores.Store(project)
	if err != nil {
		return nil, &ValidationError{Details: []string{err.Error()}}
	}
	return store.LinkingForTarget(ctx, target)
}

// write holt den ETag unmittelbar vor dem PUT; ein veralteter ETag wird nicht wiederholt.
func (s *LinkingService) write(ctx context.Context, store AnnotationStore, id string, payload *models.Annotation) (*models.Annotation, error) {
	etag, err := store.ETag(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch etag for %s: %w", id, err)
	}
	return store.Update(ctx, id, payload, etag)
}

func (s *LinkingService) record(ctx context.Context, project, decision string, a *models.Annotation) {
	if project == "" {
		project = s.Config.DefaultProject
	}
	if err := s.Audit.Record(ctx, newLinkDecision(project, decision, a)); err != nil {
		s.Logger.Warn("Audit-Eintrag konnte nicht geschrieben werden", zap.Error(err))
	}
}
