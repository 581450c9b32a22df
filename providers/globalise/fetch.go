package globalise

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"anno-linker/config"
	"anno-linker/models"
	"anno-linker/providers"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// downloadTimeout begrenzt den gemeinsamen Download unabhängig vom Aufrufer.
const downloadTimeout = 60 * time.Second

const datasetKey = "dataset"

// Fetcher kapselt die Logik für den GLOBALISE-Ortsdatensatz.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
	Client *http.Client

	datasetURL string
	idPattern  string
	retry      providers.RetryPolicy
	cache      *cache.Cache
	group      singleflight.Group
}

// NewFetcher erstellt einen neuen GLOBALISE-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	ttl := cfg.EnrichmentCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Fetcher{
		Config:     cfg,
		Logger:     logger.With(zap.String("provider", "globalise")),
		Client:     httpClient,
		datasetURL: cfg.EnrichmentDatasetURL,
		idPattern:  cfg.EnrichmentIDPattern,
		retry:      providers.RetryPolicy{MaxAttempts: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay},
		cache:      cache.New(ttl, 2*ttl),
	}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "globalise"
}

// Matches prüft, ob die ID dem Muster des Datensatzes entspricht.
func (f *Fetcher) Matches(placeID string) bool {
	return f.idPattern != "" && strings.Contains(placeID, f.idPattern)
}

// Invalidate verwirft den zwischengespeicherten Datensatz.
func (f *Fetcher) Invalidate() {
	f.cache.Flush()
}

// Cached meldet, ob der Datensatz im Cache liegt.
func (f *Fetcher) Cached() bool {
	_, ok := f.cache.Get(datasetKey)
	return ok
}

// Lookup liefert die Anreicherung zu einer Orts-ID.
func (f *Fetcher) Lookup(ctx context.Context, placeID string) (*models.PlaceEnrichment, error) {
	dataset, err := f.dataset(ctx)
	if err != nil {
		return nil, err
	}
	place, ok := dataset[normalizeID(placeID)]
	if !ok {
		return nil, nil
	}
	return toEnrichment(place), nil
}

// dataset lädt den Datensatz einmal pro TTL; parallele Aufrufer teilen sich den Download.
func (f *Fetcher) dataset(ctx context.Context) (map[string]Place, error) {
	if v, ok := f.cache.Get(datasetKey); ok {
		return v.(map[string]Place), nil
	}
	v, err, _ := f.group.Do(datasetKey, func() (any, error) {
		if v, ok := f.cache.Get(datasetKey); ok {
			return v, nil
		}
		// Abbruch des ersten Aufrufers darf die wartenden nicht treffen.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), downloadTimeout)
		defer cancel()
		places, err := providers.RetryValue(dctx, f.retry, f.download)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]Place, len(places))
		for _, p := range places {
			if p.ID != "" {
				byID[normalizeID(p.ID)] = p
			}
		}
		f.cache.SetDefault(datasetKey, byID)
		f.Logger.Info("GLOBALISE-Datensatz geladen", zap.Int("places", len(byID)))
		return byID, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]Place), nil
}

func (f *Fetcher) download(ctx context.Context) ([]Place, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.datasetURL, nil)
	if err != nil {
		return nil, providers.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("globalise dataset request failed with status: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, providers.Permanent(fmt.Errorf("globalise dataset request failed with status: %d", resp.StatusCode))
	}
	var places []Place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, providers.Permanent(fmt.Errorf("decode globalise dataset: %w", err))
	}
	return places, nil
}

// toEnrichment übersetzt einen Datensatz-Eintrag.
func toEnrichment(p Place) *models.PlaceEnrichment {
	e := &models.PlaceEnrichment{PreferredName: p.Label}
	for _, n := range p.IdentifiedBy {
		if n.Type != "Name" || n.Content == "" {
			continue
		}
		switch {
		case hasClass(n.ClassifiedAs, func(c Classification) bool { return c.ID == "PREF" }):
			e.PreferredName = n.Content
		case hasClass(n.ClassifiedAs, func(c Classification) bool { return c.ID == "ALT" }):
			e.AlternativeNames = append(e.AlternativeNames, n.Content)
		}
	}
	for _, ref := range p.PartOf {
		e.PartOf = append(e.PartOf, models.PlaceHierarchy{ID: ref.ID, Label: ref.Label, Type: ref.Type})
	}
	var remarks []string
	for _, st := range p.ReferredToBy {
		if st.Content == "" {
			continue
		}
		if len(st.ClassifiedAs) == 0 || hasClass(st.ClassifiedAs, isRemarkClass) {
			remarks = append(remarks, strings.TrimSpace(st.Content))
		}
	}
	e.Remarks = strings.Join(remarks, " ")
	if p.DefinedBy != "" {
		if lon, lat, err := models.ParseWKTPoint(p.DefinedBy); err == nil {
			e.Coordinates = &models.Coordinates{X: lon, Y: lat}
		}
	}
	return e
}

func isRemarkClass(c Classification) bool {
	switch c.Label {
	case "Description", "Remarks", "HistoricalDescription":
		return true
	}
	return false
}

// normalizeID gleicht http/https und abschließende Slashes an.
func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "https://")
	id = strings.TrimPrefix(id, "http://")
	return strings.TrimRight(id, "/")
}
