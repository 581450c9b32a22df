package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"anno-linker/models"
)

type memoryUploader struct {
	objects map[string][]byte
	keep    int
}

func (m *memoryUploader) UploadSnapshot(_ context.Context, project string, data []byte, at time.Time) (string, error) {
	key := project + "/" + at.Format(time.RFC3339)
	m.objects[key] = data
	return "mem://" + key, nil
}

func (m *memoryUploader) RotateSnapshots(_ context.Context, _ string, keep int) ([]string, error) {
	m.keep = keep
	return nil, nil
}

func TestSnapshotExport(t *testing.T) {
	agg, srv := newAggregator(t, nil, nil)
	target := addTarget(srv, models.MotivationTextspotting, loghi("Cochin"))
	addLink(srv, []string{target.ID})
	addLink(srv, []string{"urn:x"}, placeBody(models.PurposeGeotagging, "https://www.openstreetmap.org/node/3", "Galle", 6.03, 80.22))

	uploader := &memoryUploader{objects: map[string][]byte{}}
	exporter := NewSnapshotExporter(agg, uploader, zap.NewNop())
	exporter.Now = func() time.Time { return fixedNow }

	report, err := exporter.Export(context.Background(), "", 0, 4)
	require.NoError(t, err)
	assert.Equal(t, "neru", report.Project)
	assert.Equal(t, 2, report.Places)
	assert.Equal(t, "mem://neru/2025-03-10T12:00:00Z", report.Link)
	assert.Equal(t, 4, uploader.keep)

	snap, err := DecodeSnapshot(uploader.objects["neru/2025-03-10T12:00:00Z"])
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Count)
	assert.Equal(t, fixedNow, snap.GeneratedAt)
	assert.Equal(t, []string{"cochin", "galle"}, []string{snap.Places[0].Slug, snap.Places[1].Slug})
}
