package annorepo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"anno-linker/config"
	"anno-linker/models"
	"anno-linker/providers"
)

// ContentType ist der von AnnoRepo erwartete Medientyp für Schreibzugriffe.
const ContentType = `application/ld+json; profile="http://www.w3.org/ns/anno.jsonld"`

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Page ist eine Seite einer Custom-Query.
type Page struct {
	Items []models.Annotation `json:"items"`
	Next  string              `json:"next,omitempty"`
}

// HasMore meldet, ob eine weitere Seite existiert.
func (p *Page) HasMore() bool {
	return p != nil && p.Next != ""
}

// QueryParam ist ein Parameter einer Custom-Query (Wert wird Base64-kodiert).
type QueryParam struct {
	Name  string
	Value string
	// Escape zusätzlich prozent-kodieren (für Target-URIs).
	Escape bool
}

// Fetcher kapselt die Logik für ein AnnoRepo-Projekt.
type Fetcher struct {
	Config  *config.Config
	Project config.Project
	Logger  *zap.Logger
	Client  *http.Client

	limiter *rate.Limiter
	retry   providers.RetryPolicy
}

// NewFetcher erstellt einen neuen AnnoRepo-Fetcher für ein Projekt.
func NewFetcher(cfg *config.Config, project config.Project, logger *zap.Logger) *Fetcher {
	limit := rate.Inf
	if cfg.StoreRateLimit > 0 {
		limit = rate.Limit(cfg.StoreRateLimit)
	}
	burst := cfg.StoreRateBurst
	if burst < 1 {
		burst = 1
	}
	return &Fetcher{
		Config:  cfg,
		Project: project,
		Logger:  logger.With(zap.String("project", project.Slug)),
		Client:  httpClient,
		limiter: rate.NewLimiter(limit, burst),
		retry:   providers.RetryPolicy{MaxAttempts: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay},
	}
}

// CanWrite meldet, ob ein Token für Schreibzugriffe vorhanden ist.
func (f *Fetcher) CanWrite() bool {
	return f.Project.HasToken()
}

// CustomQueryURL baut /services/{container}/custom-query/{name}:k=v,...[?page=N].
func (f *Fetcher) CustomQueryURL(queryName string, params []QueryParam, page int) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		value := EncodeCanvasURI(p.Value)
		if p.Escape {
			value = EncodeCanvasURIForPath(p.Value)
		}
		parts = append(parts, p.Name+"="+value)
	}
	u := fmt.Sprintf("%s/services/%s/custom-query/%s", f.Project.BaseURL, f.Project.Container, queryName)
	if len(parts) > 0 {
		u += ":" + strings.Join(parts, ",")
	}
	if page > 0 {
		u += fmt.Sprintf("?page=%d", page)
	}
	return u
}

// LinkingPageURL ist die Custom-Query über alle Linking-Annotationen.
func (f *Fetcher) LinkingPageURL(page int) string {
	return f.CustomQueryURL(f.Project.LinkingQueryName, []QueryParam{
		{Name: "target", Value: ""},
		{Name: "motivationorpurpose", Value: models.MotivationLinking},
	}, page)
}

// LinkingPage lädt eine Seite aller Linking-Annotationen.
func (f *Fetcher) LinkingPage(ctx context.Context, page int) (*Page, error) {
	return f.FetchPage(ctx, f.LinkingPageURL(page))
}

// AnnotationsForTarget lädt alle Annotationen, die auf target zeigen (folgt next bis maxPages).
func (f *Fetcher) AnnotationsForTarget(ctx context.Context, target string, maxPages int) ([]models.Annotation, error) {
	u := f.CustomQueryURL(f.Project.CustomQueryName, []QueryParam{{Name: "target", Value: target, Escape: true}}, 0)
	var all []models.Annotation
	for i := 0; u != "" && (maxPages <= 0 || i < maxPages); i++ {
		page, err := f.FetchPage(ctx, u)
		if err != nil {
			return all, err
		}
		all = append(all, page.Items...)
		u = page.Next
	}
	return all, nil
}

// LinkingForTarget lädt die Linking-Annotationen, die target referenzieren.
func (f *Fetcher) LinkingForTarget(ctx context.Context, target string) ([]models.Annotation, error) {
	items, err := f.AnnotationsForTarget(ctx, target, 5)
	var linking []models.Annotation
	for _, a := range items {
		if a.IsLinking() {
			linking = append(linking, a)
		}
	}
	return linking, err
}

// FetchPage lädt eine Custom-Query-Seite (mit Retry).
func (f *Fetcher) FetchPage(ctx context.Context, pageURL string) (*Page, error) {
	return providers.RetryValue(ctx, f.retry, func(ctx context.Context) (*Page, error) {
		resp, err := f.do(ctx, http.MethodGet, pageURL, nil, nil)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, readFailure(f.readError("query", pageURL, resp))
		}
		var page Page
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			return nil, providers.Permanent(fmt.Errorf("decode annorepo page: %w", err))
		}
		return &page, nil
	})
}

// Get lädt eine Annotation samt ETag.
func (f *Fetcher) Get(ctx context.Context, id string) (*models.Annotation, error) {
	u, err := f.resolveID(id)
	if err != nil {
		return nil, err
	}
	return providers.RetryValue(ctx, f.retry, func(ctx context.Context) (*models.Annotation, error) {
		resp, err := f.do(ctx, http.MethodGet, u, nil, map[string]string{"Accept": ContentType})
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, readFailure(f.readError("get", u, resp))
		}
		var a models.Annotation
		if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
			return nil, providers.Permanent(fmt.Errorf("decode annotation: %w", err))
		}
		a.ETag = resp.Header.Get("ETag")
		return &a, nil
	})
}

// ETag holt den aktuellen ETag: HEAD bevorzugt, GET als Fallback.
func (f *Fetcher) ETag(ctx context.Context, id string) (string, error) {
	u, err := f.resolveID(id)
	if err != nil {
		return "", err
	}
	etag, err := providers.RetryValue(ctx, f.retry, func(ctx context.Context) (string, error) {
		resp, err := f.do(ctx, http.MethodHead, u, nil, nil)
		if err != nil {
			return "", err
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			return "", providers.Permanent(&StoreError{Op: "head", URL: u, Status: resp.StatusCode})
		case retryable(resp.StatusCode):
			return "", &StoreError{Op: "head", URL: u, Status: resp.StatusCode}
		}
		return resp.Header.Get("ETag"), nil
	})
	if err == nil && etag != "" {
		return etag, nil
	}
	if errors.Is(err, ErrNotFound) {
		return "", err
	}
	if cerr := ctx.Err(); cerr != nil {
		return "", cerr
	}

	f.Logger.Debug("HEAD lieferte keinen ETag, Fallback auf GET", zap.String("id", id))
	a, err := f.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if a.ETag == "" {
		return "", ErrNoETag
	}
	return a.ETag, nil
}

// Create legt eine neue Annotation per POST /w3c/{container}/ an.
func (f *Fetcher) Create(ctx context.Context, a *models.Annotation) (*models.Annotation, error) {
	if !f.CanWrite() {
		return nil, ErrMissingToken
	}
	u := fmt.Sprintf("%s/w3c/%s/", f.Project.BaseURL, f.Project.Container)
	return f.write(ctx, "create", http.MethodPost, u, a, "", http.StatusCreated, http.StatusOK)
}

// Update ersetzt eine Annotation per PUT mit If-Match.
func (f *Fetcher) Update(ctx context.Context, id string, a *models.Annotation, etag string) (*models.Annotation, error) {
	if !f.CanWrite() {
		return nil, ErrMissingToken
	}
	u, err := f.resolveID(id)
	if err != nil {
		return nil, err
	}
	return f.write(ctx, "update", http.MethodPut, u, a, etag, http.StatusOK, http.StatusCreated)
}

// Delete löscht eine Annotation per DELETE mit If-Match.
func (f *Fetcher) Delete(ctx context.Context, id, etag string) error {
	if !f.CanWrite() {
		return ErrMissingToken
	}
	u, err := f.resolveID(id)
	if err != nil {
		return err
	}
	headers := map[string]string{"Authorization": "Bearer " + f.Project.Token, "If-Match": etag}
	resp, err := f.do(ctx, http.MethodDelete, u, nil, headers)
	if err != nil {
		return fmt.Errorf("annorepo delete %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return f.readError("delete", u, resp)
	}
	return nil
}

// write schickt die Annotation ohne Retry; Nicht-2xx wird unverändert durchgereicht.
func (f *Fetcher) write(ctx context.Context, op, method, u string, a *models.Annotation, etag string, okStatus ...int) (*models.Annotation, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode annotation: %w", err)
	}
	headers := map[string]string{
		"Authorization": "Bearer " + f.Project.Token,
		"Content-Type":  ContentType,
		"Accept":        ContentType,
	}
	if etag != "" {
		headers["If-Match"] = etag
	}
	resp, err := f.do(ctx, method, u, bytes.NewReader(payload), headers)
	if err != nil {
		return nil, fmt.Errorf("annorepo %s %s: %w", op, u, err)
	}
	defer resp.Body.Close()

	ok := false
	for _, s := range okStatus {
		ok = ok || resp.StatusCode == s
	}
	if !ok {
		return nil, f.readError(op, u, resp)
	}

	var out models.Annotation
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", op, err)
	}
	out.ETag = resp.Header.Get("ETag")
	if out.ID == "" {
		out.ID = resp.Header.Get("Location")
	}
	return &out, nil
}

func (f *Fetcher) do(ctx context.Context, method, u string, body io.Reader, headers map[string]string) (*http.Response, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return f.Client.Do(req)
}

// readError liest den Body einer Fehlerantwort.
func (f *Fetcher) readError(op, u string, resp *http.Response) *StoreError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StoreError{Op: op, URL: u, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}

// readFailure markiert 4xx (außer 429) als nicht wiederholbar.
func readFailure(err *StoreError) error {
	if retryable(err.Status) {
		return err
	}
	return providers.Permanent(err)
}

// resolveID nimmt absolute IDs der eigenen Instanz an und ergänzt relative IDs.
func (f *Fetcher) resolveID(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("annotation id is empty")
	}
	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
		if !strings.HasPrefix(id, f.Project.BaseURL+"/") {
			return "", fmt.Errorf("%w: %s", ErrForeignID, id)
		}
		return id, nil
	}
	return fmt.Sprintf("%s/w3c/%s/%s", f.Project.BaseURL, f.Project.Container, strings.TrimPrefix(id, "/")), nil
}
