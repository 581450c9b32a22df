package services

import (
	"context"

	"go.uber.org/zap"

	"anno-linker/config"
	"anno-linker/models"
	"anno-linker/providers/annorepo"
)

// AnnotationStore ist der Remote-Store eines Projekts.
type AnnotationStore interface {
	CanWrite() bool
	LinkingForTarget(ctx context.Context, target string) ([]models.Annotation, error)
	LinkingPage(ctx context.Context, page int) (*annorepo.Page, error)
	Get(ctx context.Context, id string) (*models.Annotation, error)
	ETag(ctx context.Context, id string) (string, error)
	Create(ctx context.Context, a *models.Annotation) (*models.Annotation, error)
	Update(ctx context.Context, id string, a *models.Annotation, etag string) (*models.Annotation, error)
	Delete(ctx context.Context, id, etag string) error
}

// StoreRegistry löst Projekt-Slugs zu Stores auf.
type StoreRegistry interface {
	Store(project string) (AnnotationStore, error)
}

// Stores hält einen AnnoRepo-Fetcher pro konfiguriertem Projekt.
type Stores struct {
	Config   *config.Config
	fetchers map[string]*annorepo.Fetcher
}

// NewStores erstellt die Fetcher aller Projekte.
func NewStores(cfg *config.Config, logger *zap.Logger) *Stores {
	s := &Stores{Config: cfg, fetchers: make(map[string]*annorepo.Fetcher, len(cfg.Projects))}
	for slug, project := range cfg.Projects {
		s.fetchers[slug] = annorepo.NewFetcher(cfg, project, logger)
	}
	return s
}

// Store liefert den Fetcher zum Projekt (leer = Default-Projekt).
func (s *Stores) Store(project string) (AnnotationStore, error) {
	p, err := s.Config.Project(project)
	if err != nil {
		return nil, err
	}
	return s.fetchers[p.Slug], nil
}
