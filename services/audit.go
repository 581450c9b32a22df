package services

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"anno-linker/models"
)

// AuditRecorder protokolliert schreibende Entscheidungen.
type AuditRecorder interface {
	Record(ctx context.Context, entry *models.LinkDecision) error
}

// NopAuditRecorder verwirft alle Einträge (kein DB konfiguriert).
type NopAuditRecorder struct{}

func (NopAuditRecorder) Record(context.Context, *models.LinkDecision) error { return nil }

// GormAuditRecorder schreibt LinkDecision-Zeilen über gorm.
type GormAuditRecorder struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewGormAuditRecorder erstellt den Recorder und migriert die Tabelle.
func NewGormAuditRecorder(db *gorm.DB, logger *zap.Logger) (*GormAuditRecorder, error) {
	if err := db.AutoMigrate(&models.LinkDecision{}); err != nil {
		return nil, err
	}
	return &GormAuditRecorder{DB: db, Logger: logger}, nil
}

func (r *GormAuditRecorder) Record(ctx context.Context, entry *models.LinkDecision) error {
	return r.DB.WithContext(ctx).Create(entry).Error
}

// newLinkDecision baut den Audit-Eintrag zu einer geschriebenen Annotation.
func newLinkDecision(project, decision string, a *models.Annotation) *models.LinkDecision {
	entry := &models.LinkDecision{
		Project:      project,
		AnnotationID: a.ID,
		Decision:     decision,
		TargetCount:  len(a.Target),
		BodyCount:    len(a.Body),
	}
	if a.Creator != nil {
		entry.CreatorID = a.Creator.ID
	}
	if raw, err := json.Marshal(a.TargetIDs()); err == nil {
		entry.Targets = raw
	}
	return entry
}
