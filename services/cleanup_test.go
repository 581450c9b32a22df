package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"anno-linker/models"
	"anno-linker/providers/annorepo"
	"anno-linker/providers/annorepo/annorepotest"
)

func stamped(b models.Body) models.Body {
	b.Creator = &models.Agent{ID: "https://orcid.org/0000-0001", Type: "Person", Label: "Researcher"}
	b.Created = "2025-03-01T10:00:00.000Z"
	return b
}

func TestAnalyzeLinksGroupsBySortedTargets(t *testing.T) {
	older := existingLink("L1", fixedNow.Add(-time.Hour), []string{"B", "A"}, stamped(geotag("Cochin")))
	richer := existingLink("L2", fixedNow.Add(-2*time.Hour), []string{"A", "B"}, stamped(geotag("Cochin")), stamped(point(1, 2)))
	single := existingLink("L3", fixedNow, []string{"C"}, models.Body{
		Type:     models.BodyTypeSpecificResource,
		Purpose:  models.PurposeHighlighting,
		Selector: models.Selectors{models.NewPointSelector(3, 4)},
	})
	textspotting := models.Annotation{ID: "T1", Motivation: models.MotivationTextspotting, Target: models.NewTargets([]string{"C"})}

	got := AnalyzeLinks([]models.Annotation{older, richer, single, textspotting})
	assert.Equal(t, 3, got.TotalAnnotations)
	assert.Equal(t, 2, got.UniqueGroups)
	assert.Equal(t, 1, got.DuplicatesToDelete)
	assert.Equal(t, 2, got.AnnotationsToKeep)
	assert.Equal(t, []DuplicateGroup{{Key: "A|B", Keep: "L2", Delete: []string{"L1"}}}, got.DuplicateGroups)
	require.Len(t, got.StructuralFixGroups, 1)
	assert.Equal(t, "L3", got.StructuralFixGroups[0].ID)
	assert.Equal(t, []string{IssueHighlightingPoint, IssueMissingCreator, IssueMissingCreated}, got.StructuralFixGroups[0].Issues)
	assert.Equal(t, 1, got.StructuralFixes)
}

func TestCleanupScorePrefersRicherBodies(t *testing.T) {
	bare := existingLink("L1", fixedNow, []string{"A", "B"})
	rich := existingLink("L2", fixedNow, []string{"A", "B"}, geotag("x"), point(1, 2))
	assert.Greater(t, cleanupScore(&rich), cleanupScore(&bare))
	assert.InDelta(t, cleanupScore(&bare)+2*10+2*5, cleanupScore(&rich), 1e-9)
}

func TestCleanupRunMergesAndDeletes(t *testing.T) {
	srv := annorepotest.NewServer(t, "necessary-reunions", "secret")
	cfg := storeConfig(srv)
	audit := &memoryAudit{}
	svc := NewCleanupService(cfg, zap.NewNop(), NewStores(cfg, zap.NewNop()), audit)
	svc.Validator.Now = func() time.Time { return fixedNow }

	loser := srv.Add(existingLink("", fixedNow.Add(-time.Hour), []string{"urn:a", "urn:b"}, stamped(comment("older note"))))
	keep := srv.Add(existingLink("", fixedNow, []string{"urn:b", "urn:a"}, stamped(geotag("Cochin")), point(1, 2)))

	dry, err := svc.Run(context.Background(), "", true)
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Equal(t, 1, dry.Analysis.DuplicatesToDelete)
	assert.Equal(t, 2, srv.Count())

	res, err := svc.Run(context.Background(), "", false)
	require.NoError(t, err)
	assert.Equal(t, []string{keep.ID}, res.Fixed)
	assert.Equal(t, []string{loser.ID}, res.Deleted)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 1, srv.Count())

	stored, ok := srv.Annotation(keep.ID)
	require.True(t, ok)
	assert.ElementsMatch(t, []models.Purpose{models.PurposeCommenting, models.PurposeGeotagging, models.PurposeSelecting}, stored.Body.Purposes())
	for _, b := range stored.Body {
		assert.NotNil(t, b.Creator)
		assert.NotEmpty(t, b.Created)
	}
	assert.Empty(t, structuralIssues(&stored))
	require.Len(t, audit.entries, 2)
	assert.Equal(t, "cleanup-fix", audit.entries[0].Decision)
	assert.Equal(t, "cleanup-delete", audit.entries[1].Decision)
}

func TestCleanupRunRequiresToken(t *testing.T) {
	srv := annorepotest.NewServer(t, "necessary-reunions", "")
	cfg := storeConfig(srv)
	svc := NewCleanupService(cfg, zap.NewNop(), NewStores(cfg, zap.NewNop()), nil)

	_, err := svc.Run(context.Background(), "", false)
	assert.ErrorIs(t, err, annorepo.ErrMissingToken)

	analysis, err := svc.Analyze(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, analysis.TotalAnnotations)
}
