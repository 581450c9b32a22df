package services

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"anno-linker/models"
)

// Snapshot ist der exportierte Gesamtstand des Gazetteers eines Projekts.
type Snapshot struct {
	Project     string         `json:"project"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Count       int            `json:"count"`
	Places      []models.Place `json:"places"`
}

// EncodeSnapshot serialisiert den Snapshot als gzip-komprimiertes JSON.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(s); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot liest einen mit EncodeSnapshot geschriebenen Snapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	var s Snapshot
	if err := json.NewDecoder(gz).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// SnapshotUploader legt Snapshots ab und rotiert alte Stände.
type SnapshotUploader interface {
	UploadSnapshot(ctx context.Context, project string, data []byte, at time.Time) (string, error)
	RotateSnapshots(ctx context.Context, project string, keep int) ([]string, error)
}

// SnapshotReport fasst einen Export zusammen.
type SnapshotReport struct {
	Project string   `json:"project"`
	Places  int      `json:"places"`
	Link    string   `json:"link"`
	Rotated []string `json:"rotated"`
}

// SnapshotExporter aggregiert ein Projekt vollständig und lädt das Ergebnis hoch.
type SnapshotExporter struct {
	Aggregator *Aggregator
	Uploader   SnapshotUploader
	Logger     *zap.Logger
	Now        func() time.Time
}

// NewSnapshotExporter erstellt einen neuen SnapshotExporter.
func NewSnapshotExporter(agg *Aggregator, uploader SnapshotUploader, logger *zap.Logger) *SnapshotExporter {
	return &SnapshotExporter{Aggregator: agg, Uploader: uploader, Logger: logger, Now: time.Now}
}

// Export faltet bis zu maxPages Seiten, lädt den Snapshot hoch und behält keep Stände.
func (e *SnapshotExporter) Export(ctx context.Context, project string, maxPages, keep int) (*SnapshotReport, error) {
	p, err := e.Aggregator.Config.Project(project)
	if err != nil {
		return nil, &ValidationError{Details: []string{err.Error()}}
	}
	places, err := e.Aggregator.AggregateAll(ctx, p.Slug, maxPages)
	if err != nil {
		return nil, err
	}
	now := e.Now().UTC()
	data, err := EncodeSnapshot(&Snapshot{Project: p.Slug, GeneratedAt: now, Count: len(places), Places: places})
	if err != nil {
		return nil, err
	}
	link, err := e.Uploader.UploadSnapshot(ctx, p.Slug, data, now)
	if err != nil {
		return nil, fmt.Errorf("upload snapshot: %w", err)
	}
	report := &SnapshotReport{Project: p.Slug, Places: len(places), Link: link}
	if keep > 0 {
		rotated, err := e.Uploader.RotateSnapshots(ctx, p.Slug, keep)
		if err != nil {
			e.Logger.Warn("Rotation alter Snapshots fehlgeschlagen", zap.String("project", p.Slug), zap.Error(err))
		}
		report.Rotated = rotated
	}
	e.Logger.Info("Snapshot exportiert", zap.String("project", p.Slug), zap.Int("places", len(places)), zap.String("link", link))
	return report, nil
}
