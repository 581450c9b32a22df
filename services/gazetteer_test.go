package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"anno-linker/models"
	"anno-linker/providers"
	"anno-linker/providers/annorepo/annorepotest"
)

const testCanvas = "https://iiif.example/canvas/p1"

type stubEnricher struct {
	entries     map[string]*models.PlaceEnrichment
	invalidated int
}

func (s *stubEnricher) Name() string { return "stub" }

func (s *stubEnricher) Matches(id string) bool {
	return strings.Contains(id, "necessaryreunions.org/place/")
}

func (s *stubEnricher) Lookup(_ context.Context, id string) (*models.PlaceEnrichment, error) {
	return s.entries[id], nil
}

func (s *stubEnricher) Invalidate() { s.invalidated++ }

type stubMaps map[string]*models.MapInfo

func (m stubMaps) MapInfo(_ context.Context, canvas string) (*models.MapInfo, error) {
	if info, ok := m[canvas]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("no manifest for %s", canvas)
}

func newAggregator(t *testing.T, enricher *stubEnricher, maps MapInfoSource) (*Aggregator, *annorepotest.Server) {
	t.Helper()
	srv := annorepotest.NewServer(t, "necessary-reunions", "")
	cfg := storeConfig(srv)
	cfg.PrimaryQueryTimeout = 2 * time.Second
	cfg.TargetFetchTimeout = 2 * time.Second
	cfg.LookaheadPageTimeout = 2 * time.Second
	cfg.MaxTargetsPerAnnotation = 30
	cfg.LookaheadBatches = "2,2"
	cfg.PlaceCacheTTL = time.Minute
	cfg.FailedTargetTTL = time.Minute
	cfg.MapMetadataEnabled = true

	var enrichers []providers.PlaceProvider
	if enricher != nil {
		enrichers = append(enrichers, enricher)
	}
	return NewAggregator(cfg, zap.NewNop(), NewStores(cfg, zap.NewNop()), nil, maps, enrichers...), srv
}

func loghi(text string) models.Body {
	return models.Body{Type: models.BodyTypeTextual, Purpose: models.PurposeSupplementing, Value: text, Generator: &models.Agent{Label: "Loghi HTR"}}
}

func human(text string) models.Body {
	return models.Body{Type: models.BodyTypeTextual, Purpose: models.PurposeSupplementing, Value: text, Creator: &models.Agent{ID: "https://orcid.org/0000-0002", Label: "Editor"}}
}

func addTarget(srv *annorepotest.Server, motivation string, bodies ...models.Body) models.Annotation {
	return srv.Add(models.Annotation{
		Type:       "Annotation",
		Motivation: motivation,
		Target: models.Targets{{
			Type:     "SpecificResource",
			Source:   testCanvas,
			Selector: models.Selectors{{Type: models.SelectorSvg, Value: `<svg><polygon points="0,0 1,1 1,0"/></svg>`}},
		}},
		Body: bodies,
	})
}

func addLink(srv *annorepotest.Server, targets []string, bodies ...models.Body) models.Annotation {
	return srv.Add(existingLink("", fixedNow, targets, bodies...))
}

func placeBody(purpose models.Purpose, id, name string, lat, lon float64) models.Body {
	return models.Body{
		Type:    models.BodyTypeSpecificResource,
		Purpose: purpose,
		Source: &models.Source{
			ID:       id,
			Type:     "Feature",
			Label:    name,
			Geometry: &models.Geometry{Type: "Point", Coordinates: json.RawMessage(fmt.Sprintf("[%g,%g]", lon, lat))},
		},
	}
}

func TestPageNamesPlaceFromTextInTargetOrder(t *testing.T) {
	agg, srv := newAggregator(t, nil, nil)
	t1 := addTarget(srv, models.MotivationTextspotting, loghi("Cochin"))
	t2 := addTarget(srv, models.MotivationTextspotting, loghi("Fort."), human("Fort"))
	link := addLink(srv, []string{t1.ID, t2.ID})
	addLink(srv, []string{srv.URL + "/w3c/necessary-reunions/missing"})

	page, err := agg.Page(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.RawAnnotationCount)
	assert.Equal(t, 1, page.FailedTargets)
	assert.False(t, page.HasMore)
	require.Len(t, page.Places, 1)

	p := page.Places[0]
	assert.Equal(t, "Cochin Fort", p.Name)
	assert.Equal(t, "text-based-cochin-fort", p.ID)
	assert.Equal(t, "cochin-fort", p.Slug)
	assert.Equal(t, link.ID, p.LinkingAnnotationID)
	assert.True(t, p.HasHumanVerification)
	assert.Equal(t, []models.TextPart{
		{Value: "Cochin", Source: "loghi", TargetID: t1.ID},
		{Value: "Fort", Source: "creator", TargetID: t2.ID},
	}, p.TextParts)
	assert.Len(t, p.TextRecognitionSources, 3)
	assert.Equal(t, testCanvas, p.CanvasID)
	assert.Equal(t, 2, p.TargetAnnotationCount)
}

func TestPageBlacklistsFailedTargets(t *testing.T) {
	agg, srv := newAggregator(t, nil, nil)
	missing := srv.URL + "/w3c/necessary-reunions/missing"
	addLink(srv, []string{missing})

	_, err := agg.Page(context.Background(), "", 0)
	require.NoError(t, err)
	require.NoError(t, agg.Cache.Flush(context.Background()))
	page, err := agg.Page(context.Background(), "", 0)
	require.NoError(t, err)

	assert.Empty(t, page.Places)
	assert.Equal(t, 1, srv.CountRequests("GET", "/w3c/necessary-reunions/missing"))
	assert.Equal(t, 1, agg.Status(context.Background()).BlacklistedTargets)
}

func TestPageThesaurusPriorityOnMerge(t *testing.T) {
	tests := []struct {
		name      string
		bodies    []models.Body
		wantID    string
		wantName  string
		wantAlt   []string
		wantCount int
	}{
		{
			name: "gavoc displaces globalise",
			bodies: []models.Body{
				placeBody(models.PurposeGeotagging, "https://id.necessaryreunions.org/place/1", "Cochin", 9.93, 76.27),
				placeBody(models.PurposeGeotagging, "https://example.org/gavoc/42", "Cochín", 9.931, 76.268),
				placeBody(models.PurposeGeotagging, "https://www.openstreetmap.org/node/7", "Cochin", 9.93, 76.27),
			},
			wantID:    "https://example.org/gavoc/42",
			wantName:  "Cochín",
			wantAlt:   []string{"Cochin"},
			wantCount: 3,
		},
		{
			name: "unknown never displaces",
			bodies: []models.Body{
				placeBody(models.PurposeGeotagging, "https://www.openstreetmap.org/node/9", "Batavia", -6.13, 106.81),
				placeBody(models.PurposeGeotagging, "https://example.org/places/batavia", "Batavia", -6.13, 106.81),
			},
			wantID:    "https://www.openstreetmap.org/node/9",
			wantName:  "Batavia",
			wantAlt:   []string{},
			wantCount: 2,
		},
		{
			name: "equal priority keeps first seen",
			bodies: []models.Body{
				placeBody(models.PurposeGeotagging, "https://www.openstreetmap.org/node/1", "Galle", 6.03, 80.22),
				placeBody(models.PurposeGeotagging, "https://www.openstreetmap.org/node/2", "galle", 6.031, 80.219),
			},
			wantID:    "https://www.openstreetmap.org/node/1",
			wantName:  "Galle",
			wantAlt:   []string{},
			wantCount: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, srv := newAggregator(t, nil, nil)
			for i, b := range tt.bodies {
				addLink(srv, []string{fmt.Sprintf("urn:t%d", i)}, b)
			}
			page, err := agg.Page(context.Background(), "", 0)
			require.NoError(t, err)
			require.Len(t, page.Places, 1)
			p := page.Places[0]
			assert.Equal(t, tt.wantID, p.ID)
			assert.Equal(t, tt.wantName, p.Name)
			assert.Equal(t, tt.wantAlt, p.AlternativeNames)
			assert.Equal(t, tt.wantCount, p.LinkingAnnotationCount)
			assert.Equal(t, models.CoordinateGeographic, p.CoordinateType)
		})
	}
}

func TestPageMergesByIDPreferringGeographic(t *testing.T) {
	agg, srv := newAggregator(t, nil, nil)
	id := "https://id.necessaryreunions.org/place/5"
	ident := models.Body{Type: models.BodyTypeSpecificResource, Purpose: models.PurposeIdentifying, Source: &models.Source{ID: id, Label: "Galle"}}
	addLink(srv, []string{"urn:a"}, ident, point(10, 20))
	addLink(srv, []string{"urn:b", "urn:a"}, placeBody(models.PurposeGeotagging, id, "Galle", 6.03, 80.22))

	page, err := agg.Page(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, page.Places, 1)
	p := page.Places[0]
	assert.Equal(t, 2, p.LinkingAnnotationCount)
	assert.Equal(t, 3, p.TargetAnnotationCount)
	assert.Equal(t, []string{"urn:a", "urn:b"}, p.TargetIDs)
	assert.True(t, p.HasPointSelection)
	assert.True(t, p.HasGeotagging)
	assert.Equal(t, models.CoordinateGeographic, p.CoordinateType)
	assert.Equal(t, &models.Coordinates{X: 80.22, Y: 6.03}, p.Coordinates)
	assert.Equal(t, models.ThesaurusGlobalise, p.GeotagSource.Thesaurus)
}

func TestPageKeepsPixelCoordinatesWithoutGeotag(t *testing.T) {
	agg, srv := newAggregator(t, nil, stubMaps{testCanvas: {ID: "https://iiif.example/manifest", Title: "Kaart van Cochin"}})
	t1 := addTarget(srv, models.MotivationTextspotting, loghi("Anjengo"))
	link := addLink(srv, []string{t1.ID}, point(120, 340))

	page, err := agg.Page(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, page.Places, 1)
	p := page.Places[0]
	assert.Equal(t, models.CoordinatePixel, p.CoordinateType)
	assert.Equal(t, &models.Coordinates{X: 120, Y: 340}, p.Coordinates)
	assert.Equal(t, []models.MapReference{{
		MapID:               "https://iiif.example/manifest",
		MapTitle:            "Kaart van Cochin",
		CanvasID:            testCanvas,
		LinkingAnnotationID: link.ID,
	}}, p.MapReferences)
	assert.Equal(t, "Kaart van Cochin", p.MapInfo.Title)
}

func TestPageEnrichesFromDataset(t *testing.T) {
	id := "https://id.necessaryreunions.org/place/6"
	enricher := &stubEnricher{entries: map[string]*models.PlaceEnrichment{
		id: {
			PreferredName:    "Kochi",
			AlternativeNames: []string{"Cochim", "Kochi"},
			PartOf:           []models.PlaceHierarchy{{ID: "https://id.necessaryreunions.org/place/0", Label: "Malabar"}},
			Remarks:          "[CONTEXT] Port town. [COORD] 9.9, 76.2.",
			Coordinates:      &models.Coordinates{X: 76.2, Y: 9.9},
		},
	}}
	agg, srv := newAggregator(t, enricher, nil)
	addLink(srv, []string{"urn:a"}, models.Body{
		Type:    models.BodyTypeSpecificResource,
		Purpose: models.PurposeIdentifying,
		Source:  &models.Source{ID: id, Label: "Kochi"},
	})

	page, err := agg.Page(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, page.Places, 1)
	p := page.Places[0]
	assert.Equal(t, []string{"Cochim"}, p.AlternativeNames)
	assert.Equal(t, "Malabar", p.PartOf[0].Label)
	assert.Equal(t, []string{"Port town"}, p.ParsedRemarks.Context)
	assert.Equal(t, []string{"9.9, 76.2"}, p.ParsedRemarks.Coord)
	assert.Equal(t, models.CoordinateGeographic, p.CoordinateType)
	assert.Equal(t, 76.2, p.Coordinates.X)
}

func TestPageFallsBackToIconLabel(t *testing.T) {
	agg, srv := newAggregator(t, nil, nil)
	icon := addTarget(srv, models.MotivationIconographyTypo, models.Body{
		Type:    models.BodyTypeSpecificResource,
		Purpose: models.PurposeClassifying,
		Source:  &models.Source{ID: "https://example.org/icons/fort", Label: "Fort"},
	})
	addLink(srv, []string{icon.ID})

	page, err := agg.Page(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, page.Places, 1)
	p := page.Places[0]
	assert.Equal(t, "Fort", p.Name)
	assert.Equal(t, "text-based-fort", p.ID)
	assert.Equal(t, "icon", p.TextParts[0].Source)
	require.NotNil(t, p.TextRecognitionSources[0].Classification)
	assert.Equal(t, "Fort", p.TextRecognitionSources[0].Classification.Label)
}

func TestFetchTargetsRespectsCaps(t *testing.T) {
	agg, srv := newAggregator(t, nil, nil)
	agg.Config.TargetFetchConcurrency = 3
	agg.Config.MaxTargetsPerAnnotation = 8
	var ids []string
	for i := range 12 {
		ids = append(ids, addTarget(srv, models.MotivationTextspotting, loghi(fmt.Sprintf("w%d", i))).ID)
	}
	addLink(srv, ids)
	srv.Delay = 20 * time.Millisecond

	page, err := agg.Page(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, 8, srv.CountRequests("GET", "/w3c/"))
	assert.LessOrEqual(t, srv.MaxInFlight(), 3)
	require.Len(t, page.Places, 1)
	assert.Equal(t, "w0 w1 w2 w3 w4 w5 w6 w7", page.Places[0].Name)
}

func TestFetchTargetsStopsAfterCancel(t *testing.T) {
	agg, srv := newAggregator(t, nil, nil)
	target := addTarget(srv, models.MotivationTextspotting, loghi("Cochin"))
	link := existingLink("L1", fixedNow, []string{target.ID})
	store, err := agg.Stores.Store("")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetched, failed := agg.fetchTargets(ctx, store, []models.Annotation{link})
	assert.Empty(t, fetched)
	assert.Zero(t, failed)
	assert.Empty(t, srv.Requests())
	assert.Zero(t, agg.Blacklist.Len())
}

func TestFindBySlugLooksAhead(t *testing.T) {
	agg, srv := newAggregator(t, nil, nil)
	srv.PageSize = 1
	for _, name := range []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo"} {
		target := addTarget(srv, models.MotivationTextspotting, loghi(name))
		addLink(srv, []string{target.ID})
	}

	p, err := agg.FindBySlug(context.Background(), "", "echo")
	require.NoError(t, err)
	assert.Equal(t, "Echo", p.Name)

	_, err = agg.FindBySlug(context.Background(), "", "zulu")
	assert.ErrorIs(t, err, ErrPlaceNotFound)
}

func TestPageDegradesOnFeedTimeout(t *testing.T) {
	agg, srv := newAggregator(t, nil, nil)
	addLink(srv, []string{"urn:a"}, geotag("Cochin"))
	agg.Config.PrimaryQueryTimeout = 20 * time.Millisecond
	srv.Delay = 100 * time.Millisecond

	page, err := agg.Page(context.Background(), "", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, page.Error)
	assert.NotNil(t, page.Places)
	assert.Empty(t, page.Places)
	assert.Zero(t, agg.Cache.Len(context.Background()))
}

func TestPageRejectsUnknownProject(t *testing.T) {
	agg, _ := newAggregator(t, nil, nil)
	_, err := agg.Page(context.Background(), "atlantis", 0)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCategoriesCountsAggregatedPlaces(t *testing.T) {
	agg, srv := newAggregator(t, nil, nil)
	for i, c := range []string{"settlement/town", "settlement", "river"} {
		b := placeBody(models.PurposeGeotagging, fmt.Sprintf("https://www.openstreetmap.org/node/%d", i), fmt.Sprintf("P%d", i), float64(i), float64(i))
		b.Source.Category = c
		addLink(srv, []string{fmt.Sprintf("urn:t%d", i)}, b)
	}

	cats, err := agg.Categories(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []models.PlaceCategory{
		{Key: "settlement", Label: "Settlement", Count: 2},
		{Key: "river", Label: "River", Count: 1},
	}, cats)
}

func TestInvalidateClearsCaches(t *testing.T) {
	enricher := &stubEnricher{}
	agg, srv := newAggregator(t, enricher, nil)
	addLink(srv, []string{"urn:a"}, geotag("Cochin"))
	ctx := context.Background()

	_, err := agg.Page(ctx, "", 0)
	require.NoError(t, err)
	status := agg.Status(ctx)
	assert.Equal(t, 1, status.CachedEntries)
	assert.Equal(t, 1, status.BlacklistedTargets)

	require.NoError(t, agg.Invalidate(ctx))
	assert.Equal(t, CacheStatus{}, agg.Status(ctx))
	assert.Equal(t, 1, enricher.invalidated)
}

func TestBulkPageLimit(t *testing.T) {
	page := &BulkPage{Places: []models.Place{{ID: "a"}, {ID: "b"}, {ID: "c"}}, Count: 3}
	limited := page.Limit(2)
	assert.Len(t, limited.Places, 2)
	assert.Equal(t, 2, limited.Count)
	assert.Len(t, page.Places, 3)
	assert.Same(t, page, page.Limit(0))
}
