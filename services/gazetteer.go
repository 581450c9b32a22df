package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"anno-linker/config"
	"anno-linker/models"
	"anno-linker/providers"
)

// BulkPage ist das Ergebnis einer verarbeiteten Feed-Seite.
type BulkPage struct {
	Places             []models.Place `json:"places"`
	Page               int            `json:"page"`
	HasMore            bool           `json:"hasMore"`
	Count              int            `json:"count"`
	RawAnnotationCount int            `json:"rawAnnotationCount"`
	Error              string         `json:"error,omitempty"`

	// FailedTargets zählt nicht abrufbare Targets dieses Laufs (0 bei Cache-Treffern).
	FailedTargets int `json:"-"`
}

// Limit kürzt die Orte auf n Einträge (n <= 0: unverändert).
func (p *BulkPage) Limit(n int) *BulkPage {
	if n <= 0 || len(p.Places) <= n {
		return p
	}
	out := *p
	out.Places = p.Places[:n]
	out.Count = n
	return &out
}

// FindSlug sucht einen Ort nach Slug.
func (p *BulkPage) FindSlug(slug string) *models.Place {
	for i := range p.Places {
		if p.Places[i].Slug == slug {
			return &p.Places[i]
		}
	}
	return nil
}

// MapInfoSource liefert IIIF-Kartenmetadaten zu einer Canvas-URL.
type MapInfoSource interface {
	MapInfo(ctx context.Context, canvasURL string) (*models.MapInfo, error)
}

// CacheStatus beschreibt den Zustand der Gazetteer-Caches.
type CacheStatus struct {
	CachedEntries      int  `json:"cachedEntries"`
	BlacklistedTargets int  `json:"blacklistedTargets"`
	EnrichmentLoaded   bool `json:"enrichmentLoaded"`
}

// Aggregator faltet Linking-Annotationen und ihre Targets zu Gazetteer-Orten.
type Aggregator struct {
	Config    *config.Config
	Logger    *zap.Logger
	Stores    StoreRegistry
	Enrichers []providers.PlaceProvider
	Maps      MapInfoSource
	Cache     PageCache
	Blacklist *TargetBlacklist
}

// NewAggregator erstellt einen neuen Aggregator; ohne Cache wird ein In-Memory-Cache verwendet.
func NewAggregator(cfg *config.Config, logger *zap.Logger, stores StoreRegistry, cache PageCache, maps MapInfoSource, enrichers ...providers.PlaceProvider) *Aggregator {
	if cache == nil {
		cache = NewMemoryPageCache(cfg.PlaceCacheTTL)
	}
	return &Aggregator{
		Config:    cfg,
		Logger:    logger,
		Stores:    stores,
		Enrichers: enrichers,
		Maps:      maps,
		Cache:     cache,
		Blacklist: NewTargetBlacklist(cfg.FailedTargetTTL),
	}
}

func pageKey(project string, page int) string {
	return fmt.Sprintf("%s:page:%d", project, page)
}

func allKey(project string) string {
	return project + ":all"
}

// Page verarbeitet eine Seite des Linking-Feeds. Fehler des Feeds werden nicht
// weitergereicht, sondern als leere Seite mit Fehlermeldung geliefert.
func (a *Aggregator) Page(ctx context.Context, project string, page int) (*BulkPage, error) {
	p, err := a.Config.Project(project)
	if err != nil {
		return nil, &ValidationError{Details: []string{err.Error()}}
	}
	key := pageKey(p.Slug, page)
	if cached, ok := a.Cache.Get(ctx, key); ok {
		out := *cached
		out.FailedTargets = 0
		return &out, nil
	}
	store, err := a.Stores.Store(p.Slug)
	if err != nil {
		return nil, &ValidationError{Details: []string{err.Error()}}
	}

	qctx, cancel := withTimeout(ctx, a.Config.PrimaryQueryTimeout)
	raw, err := store.LinkingPage(qctx, page)
	cancel()
	if err != nil {
		a.Logger.Warn("Linking-Feed nicht abrufbar", zap.String("project", p.Slug), zap.Int("page", page), zap.Error(err))
		return &BulkPage{Places: []models.Place{}, Page: page, Error: "failed to load linking annotations: " + err.Error()}, nil
	}

	places, failed := a.process(ctx, store, raw.Items)
	out := &BulkPage{
		Places:             places,
		Page:               page,
		HasMore:            raw.HasMore(),
		Count:              len(places),
		RawAnnotationCount: len(raw.Items),
		FailedTargets:      failed,
	}
	if ctx.Err() == nil {
		a.Cache.Set(ctx, key, out)
	}
	a.Logger.Debug("Gazetteer-Seite verarbeitet",
		zap.String("project", p.Slug), zap.Int("page", page),
		zap.Int("annotations", out.RawAnnotationCount), zap.Int("places", out.Count), zap.Int("failedTargets", failed))
	return out, nil
}

// FindBySlug sucht einen Ort zuerst auf Seite 0, dann in parallelen Lookahead-Batches.
func (a *Aggregator) FindBySlug(ctx context.Context, project, slug string) (*models.Place, error) {
	first, err := a.Page(ctx, project, 0)
	if err != nil {
		return nil, err
	}
	if p := first.FindSlug(slug); p != nil {
		return p, nil
	}
	if !first.HasMore {
		return nil, ErrPlaceNotFound
	}

	next := 1
	for _, size := range a.Config.LookaheadBatchSizes() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages := make([]*BulkPage, size)
		var g errgroup.Group
		for i := range size {
			g.Go(func() error {
				pctx, cancel := withTimeout(ctx, a.Config.LookaheadPageTimeout)
				defer cancel()
				if page, err := a.Page(pctx, project, next+i); err == nil {
					pages[i] = page
				}
				return nil
			})
		}
		_ = g.Wait()

		more := true
		for _, page := range pages {
			if page == nil {
				continue
			}
			if p := page.FindSlug(slug); p != nil {
				return p, nil
			}
			if page.Error == "" && !page.HasMore {
				more = false
			}
		}
		if !more {
			break
		}
		next += size
	}
	return nil, ErrPlaceNotFound
}

// AggregateAll faltet bis zu maxPages Seiten (0 = alle) zu einer gemeinsamen Ortsliste.
func (a *Aggregator) AggregateAll(ctx context.Context, project string, maxPages int) ([]models.Place, error) {
	p, err := a.Config.Project(project)
	if err != nil {
		return nil, &ValidationError{Details: []string{err.Error()}}
	}
	if maxPages <= 0 {
		if cached, ok := a.Cache.Get(ctx, allKey(p.Slug)); ok {
			return cached.Places, nil
		}
	}
	store, err := a.Stores.Store(p.Slug)
	if err != nil {
		return nil, &ValidationError{Details: []string{err.Error()}}
	}

	var items []models.Annotation
	complete := false
	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		qctx, cancel := withTimeout(ctx, a.Config.PrimaryQueryTimeout)
		raw, err := store.LinkingPage(qctx, page)
		cancel()
		if err != nil {
			if len(items) == 0 {
				return nil, fmt.Errorf("load linking page %d: %w", page, err)
			}
			a.Logger.Warn("Feed abgebrochen, verarbeite Teilmenge", zap.Int("page", page), zap.Error(err))
			break
		}
		items = append(items, raw.Items...)
		if !raw.HasMore() {
			complete = true
			break
		}
	}

	places, _ := a.process(ctx, store, items)
	if complete && maxPages <= 0 && ctx.Err() == nil {
		a.Cache.Set(ctx, allKey(p.Slug), &BulkPage{Places: places, Count: len(places), RawAnnotationCount: len(items)})
	}
	return places, nil
}

var categoryTitle = cases.Title(language.English)

// Categories zählt die Kategorien aller aggregierten Orte, häufigste zuerst.
func (a *Aggregator) Categories(ctx context.Context, project string) ([]models.PlaceCategory, error) {
	places, err := a.AggregateAll(ctx, project, 0)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, p := range places {
		counts[p.Category]++
	}
	out := make([]models.PlaceCategory, 0, len(counts))
	for key, n := range counts {
		out = append(out, models.PlaceCategory{Key: key, Label: categoryTitle.String(strings.ReplaceAll(key, "_", " ")), Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

type invalidator interface {
	Invalidate()
}

// Invalidate leert Seiten-Cache, Blacklist, Anreicherungs- und Manifest-Caches.
func (a *Aggregator) Invalidate(ctx context.Context) error {
	a.Blacklist.Clear()
	for _, e := range a.Enrichers {
		if inv, ok := e.(invalidator); ok {
			inv.Invalidate()
		}
	}
	if inv, ok := a.Maps.(invalidator); ok {
		inv.Invalidate()
	}
	return a.Cache.Flush(ctx)
}

// Status liefert Kennzahlen der Caches.
func (a *Aggregator) Status(ctx context.Context) CacheStatus {
	status := CacheStatus{CachedEntries: a.Cache.Len(ctx), BlacklistedTargets: a.Blacklist.Len()}
	for _, e := range a.Enrichers {
		if c, ok := e.(interface{ Cached() bool }); ok && c.Cached() {
			status.EnrichmentLoaded = true
		}
	}
	return status
}

// Warmup lädt Seite 0 jedes Projekts neu in den Cache und liefert die Ortsanzahl pro Projekt.
func (a *Aggregator) Warmup(ctx context.Context) map[string]int {
	out := map[string]int{}
	for _, slug := range a.Config.ProjectSlugs() {
		a.Cache.Delete(ctx, pageKey(slug, 0))
		page, err := a.Page(ctx, slug, 0)
		if err != nil {
			a.Logger.Warn("Warmup fehlgeschlagen", zap.String("project", slug), zap.Error(err))
			continue
		}
		out[slug] = page.Count
	}
	return out
}

// process lädt die Targets einer Annotationsmenge und faltet sie in Feed-Reihenfolge.
func (a *Aggregator) process(ctx context.Context, store AnnotationStore, items []models.Annotation) ([]models.Place, int) {
	links := make([]models.Annotation, 0, len(items))
	for _, item := range items {
		if item.IsLinking() && len(item.Target) > 0 {
			links = append(links, item)
		}
	}
	fetched, failed := a.fetchTargets(ctx, store, links)

	m := newPlaceMap()
	for i := range links {
		if p, ok := a.buildPlace(ctx, &links[i], fetched); ok {
			m.add(p)
		}
	}
	return m.places(), failed
}

// buildPlace erzeugt den Kandidaten einer Linking-Annotation. false, wenn kein Name auflösbar ist.
func (a *Aggregator) buildPlace(ctx context.Context, link *models.Annotation, fetched map[string]*models.Annotation) (*models.Place, bool) {
	p := &models.Place{
		ID:                     link.ID,
		Name:                   models.UnknownPlaceName,
		Category:               "place",
		LinkingAnnotationID:    link.ID,
		LinkingAnnotationCount: 1,
		TargetAnnotationCount:  len(link.Target),
		TargetIDs:              link.TargetIDs(),
		Creator:                link.Creator,
		Created:                link.Created,
		Modified:               link.Modified,
	}

	var geo, ident *models.Source
	var pixel *models.Selector
	var canvasID string
	for _, b := range link.Body {
		switch v := b.Variant().(type) {
		case models.GeotaggingBody:
			if geo == nil {
				geo = v.Source
			}
			p.HasGeotagging = true
		case models.IdentifyingBody:
			if ident == nil {
				ident = v.Source
			}
		case models.SelectingBody:
			if v.Point != nil && pixel == nil {
				pixel = v.Point
				p.HasPointSelection = true
			}
			if canvasID == "" {
				canvasID = v.CanvasID
			}
		case models.ClassifyingBody, models.TextBody, models.OtherBody:
		}
	}
	if geo != nil {
		applySource(p, geo)
	} else if ident != nil {
		applySource(p, ident)
	}
	a.enrich(ctx, p)
	if pixel != nil && p.Coordinates == nil {
		p.Coordinates = &models.Coordinates{X: *pixel.X, Y: *pixel.Y}
		p.CoordinateType = models.CoordinatePixel
	}

	var ocr []string
	var iconLabel string
	verified := false
	for _, id := range a.inspectedTargets(link) {
		t := fetched[id]
		if t == nil {
			continue
		}
		ev := harvest(id, t)
		if canvasID == "" {
			canvasID = ev.CanvasID
		}
		p.TextRecognitionSources = append(p.TextRecognitionSources, ev.Texts...)
		p.Comments = append(p.Comments, ev.Comments...)
		verified = verified || ev.Verified
		if best, ok := ev.bestText(); ok {
			ocr = append(ocr, best.Text)
			p.TextParts = append(p.TextParts, models.TextPart{Value: best.Text, Source: best.Source.PartLabel(), TargetID: id})
		}
		if ev.Icon != nil {
			p.TextRecognitionSources = append(p.TextRecognitionSources, *ev.Icon)
			p.TextParts = append(p.TextParts, models.TextPart{Value: ev.Icon.Text, Source: "icon", TargetID: id})
			if iconLabel == "" && ev.Icon.Classification != nil {
				iconLabel = ev.Icon.Classification.Label
			}
		}
	}

	if p.Name == models.UnknownPlaceName {
		switch {
		case len(ocr) > 0:
			p.Name = strings.Join(ocr, " ")
		case iconLabel != "":
			p.Name = iconLabel
		default:
			return nil, false
		}
		if p.ID == link.ID {
			p.ID = TextBasedID(p.Name)
		}
	}

	p.HasHumanVerification = verified
	for _, t := range p.TextRecognitionSources {
		if t.Source == models.TextSourceHuman {
			p.HasHumanVerification = true
			break
		}
	}

	if canvasID != "" {
		p.CanvasID = canvasID
		ref := models.MapReference{CanvasID: canvasID, LinkingAnnotationID: link.ID}
		if info := a.mapInfo(ctx, canvasID); info != nil {
			p.MapInfo = info
			ref.MapID, ref.MapTitle = info.ID, info.Title
		}
		p.MapReferences = []models.MapReference{ref}
	}
	return p, true
}

// applySource übernimmt die kanonische Identität aus einem geotagging- oder identifying-Body.
func applySource(p *models.Place, src *models.Source) {
	id := src.Identifier()
	if id != "" {
		p.ID = id
	}
	if name := strings.TrimSpace(src.Name()); name != "" {
		p.Name = name
	}
	p.Category = src.CategoryKey()
	for _, n := range src.AlternativeTerms {
		p.AddAlternativeName(n)
	}
	if src.Properties != nil {
		for _, n := range src.Properties.AlternativeTerms {
			p.AddAlternativeName(n)
		}
	}
	if lat, lon, ok := src.GeoPoint(); ok {
		p.Coordinates = &models.Coordinates{X: lon, Y: lat}
		p.CoordinateType = models.CoordinateGeographic
	}
	if id != "" {
		p.GeotagSource = &models.GeotagSource{ID: id, Label: p.Name, Thesaurus: models.DetectThesaurus(id)}
	}
}

// enrich ergänzt Alternativnamen, Hierarchie, Remarks und ersatzweise Koordinaten.
func (a *Aggregator) enrich(ctx context.Context, p *models.Place) {
	for _, provider := range a.Enrichers {
		if !provider.Matches(p.ID) {
			continue
		}
		e, err := provider.Lookup(ctx, p.ID)
		if err != nil {
			a.Logger.Warn("Anreicherung fehlgeschlagen", zap.String("provider", provider.Name()), zap.String("place", p.ID), zap.Error(err))
			continue
		}
		if e == nil {
			continue
		}
		if p.Name == models.UnknownPlaceName && e.PreferredName != "" {
			p.Name = e.PreferredName
		}
		for _, n := range e.AlternativeNames {
			p.AddAlternativeName(n)
		}
		if len(p.PartOf) == 0 {
			p.PartOf = e.PartOf
		}
		if e.Remarks != "" {
			p.ParsedRemarks = ParseRemarks(e.Remarks)
		}
		if !p.IsGeographic() && e.Coordinates != nil {
			p.Coordinates = e.Coordinates
			p.CoordinateType = models.CoordinateGeographic
		}
		return
	}
}

func (a *Aggregator) mapInfo(ctx context.Context, canvasID string) *models.MapInfo {
	if a.Maps == nil || !a.Config.MapMetadataEnabled {
		return nil
	}
	info, err := a.Maps.MapInfo(ctx, canvasID)
	if err != nil {
		a.Logger.Debug("Kartenmetadaten nicht verfügbar", zap.String("canvas", canvasID), zap.Error(err))
		return nil
	}
	return info
}
