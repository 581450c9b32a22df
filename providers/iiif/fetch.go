package iiif

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
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

const manifestTimeout = 45 * time.Second

var hrefPattern = regexp.MustCompile(`href="([^"]+)"`)

// DefaultMapTitle wird verwendet, wenn das Manifest kein englisches Label hat.
const DefaultMapTitle = "Unknown Map"

// LanguageMap ist eine IIIF-Presentation-3-Sprachkarte.
type LanguageMap map[string][]string

// First liefert den ersten Wert der Sprache (oder irgendeiner Sprache).
func (m LanguageMap) First(lang string) string {
	if values := m[lang]; len(values) > 0 {
		return values[0]
	}
	for _, values := range m {
		if len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// MetadataEntry ist ein label/value-Paar der Manifest-Metadaten.
type MetadataEntry struct {
	Label LanguageMap `json:"label"`
	Value LanguageMap `json:"value"`
}

// Canvas ist eine Seite des Manifests.
type Canvas struct {
	ID     string      `json:"id"`
	Label  LanguageMap `json:"label"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
}

// Manifest ist der für Kartenreferenzen relevante Teil eines IIIF-Manifests.
type Manifest struct {
	ID       string          `json:"id"`
	Label    LanguageMap     `json:"label"`
	Metadata []MetadataEntry `json:"metadata"`
	Items    []Canvas        `json:"items"`
}

// Fetcher kapselt die Logik für IIIF-Manifeste.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
	Client *http.Client

	retry providers.RetryPolicy
	cache *cache.Cache
	group singleflight.Group
}

// NewFetcher erstellt einen neuen IIIF-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	ttl := cfg.EnrichmentCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Fetcher{
		Config: cfg,
		Logger: logger.With(zap.String("provider", "iiif")),
		Client: httpClient,
		retry:  providers.RetryPolicy{MaxAttempts: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay},
		cache:  cache.New(ttl, 2*ttl),
	}
}

// Invalidate verwirft alle zwischengespeicherten Manifeste.
func (f *Fetcher) Invalidate() {
	f.cache.Flush()
}

// ManifestURLFromCanvas entfernt das /canvas/...-Suffix einer Canvas-URL.
func ManifestURLFromCanvas(canvasURL string) string {
	if i := strings.Index(canvasURL, "/canvas/"); i >= 0 {
		return canvasURL[:i]
	}
	return canvasURL
}

// MapInfo lädt die Kartenmetadaten zu einer Canvas-URL. Fehler werden gecacht als nil.
func (f *Fetcher) MapInfo(ctx context.Context, canvasURL string) (*models.MapInfo, error) {
	if canvasURL == "" {
		return nil, nil
	}
	manifestURL := ManifestURLFromCanvas(canvasURL)
	if v, ok := f.cache.Get(manifestURL); ok {
		return v.(*models.MapInfo), nil
	}
	v, err, _ := f.group.Do(manifestURL, func() (any, error) {
		// Losgelöst vom Aufrufer, da sich mehrere Anfragen den Download teilen.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), manifestTimeout)
		defer cancel()
		manifest, err := providers.RetryValue(dctx, f.retry, func(ctx context.Context) (*Manifest, error) {
			return f.fetchManifest(ctx, manifestURL)
		})
		if err != nil {
			return nil, err
		}
		info := ToMapInfo(manifest, manifestURL)
		f.cache.SetDefault(manifestURL, info)
		return info, nil
	})
	if err != nil {
		f.Logger.Warn("IIIF-Manifest konnte nicht geladen werden", zap.String("manifest", manifestURL), zap.Error(err))
		return nil, err
	}
	return v.(*models.MapInfo), nil
}

func (f *Fetcher) fetchManifest(ctx context.Context, manifestURL string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, providers.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("iiif manifest request failed with status: %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, providers.Permanent(err)
	}
	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, providers.Permanent(fmt.Errorf("decode iiif manifest: %w", err))
	}
	return &m, nil
}

// ToMapInfo verdichtet ein Manifest zu den Kartenmetadaten.
func ToMapInfo(m *Manifest, manifestURL string) *models.MapInfo {
	info := &models.MapInfo{ID: manifestURL, Title: m.Label.First("en")}
	if m.ID != "" {
		info.ID = m.ID
	}
	if info.Title == "" {
		info.Title = DefaultMapTitle
	}
	for _, entry := range m.Metadata {
		switch entry.Label.First("en") {
		case "Date":
			info.Date = entry.Value.First("en")
		case "Permalink":
			value := entry.Value.First("en")
			if match := hrefPattern.FindStringSubmatch(value); match != nil {
				value = match[1]
			}
			info.Permalink = value
		}
	}
	if len(m.Items) > 0 {
		c := m.Items[0]
		info.CanvasID = c.ID
		info.CanvasLabel = c.Label.First("en")
		if c.Width > 0 && c.Height > 0 {
			info.Dimensions = &models.Dimensions{Width: c.Width, Height: c.Height}
		}
	}
	return info
}
