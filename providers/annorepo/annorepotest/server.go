// Package annorepotest stellt einen In-Memory-AnnoRepo für Tests bereit.
package annorepotest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"anno-linker/config"
	"anno-linker/models"
)

type stored struct {
	annotation models.Annotation
	version    int
}

// Server ist ein httptest-Server, der das AnnoRepo-HTTP-Protokoll nachbildet.
type Server struct {
	*httptest.Server

	Container string
	Token     string
	PageSize  int
	// HeadWithoutETag lässt HEAD keinen ETag liefern (GET-Fallback testen).
	HeadWithoutETag bool
	// Delay verzögert jede Antwort.
	Delay time.Duration

	mu       sync.Mutex
	items    map[string]*stored
	order    []string
	failing  map[string]int
	requests []string
	seq      int

	inFlight    int64
	maxInFlight int64
}

// NewServer startet einen Fake-AnnoRepo; er wird mit dem Test beendet.
func NewServer(t testing.TB, container, token string) *Server {
	s := &Server{
		Container: container,
		Token:     token,
		PageSize:  100,
		items:     map[string]*stored{},
		failing:   map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/w3c/{container}/{name}", s.handleAnnotation)
	mux.HandleFunc("POST /w3c/{container}/{$}", s.handleCreate)
	mux.HandleFunc("GET /services/{container}/custom-query/{query}", s.handleQuery)
	s.Server = httptest.NewServer(s.track(mux))
	t.Cleanup(s.Close)
	return s
}

// Project liefert eine Projekt-Konfiguration, die auf diesen Server zeigt.
func (s *Server) Project(slug string) config.Project {
	return config.Project{
		Slug:             slug,
		Name:             slug,
		BaseURL:          s.URL,
		Container:        s.Container,
		Token:            s.Token,
		CustomQueryName:  "with-target",
		LinkingQueryName: "with-target-and-motivation-or-purpose",
	}
}

// Add legt eine Annotation direkt an und vergibt bei Bedarf eine ID.
func (s *Server) Add(a models.Annotation) models.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		s.seq++
		a.ID = fmt.Sprintf("%s/w3c/%s/anno-%d", s.URL, s.Container, s.seq)
	}
	if _, ok := s.items[a.ID]; !ok {
		s.order = append(s.order, a.ID)
	}
	s.items[a.ID] = &stored{annotation: a, version: 1}
	return a
}

// NewID liefert eine neue Annotations-ID dieses Servers.
func (s *Server) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("%s/w3c/%s/anno-%d", s.URL, s.Container, s.seq)
}

// Annotation liefert den aktuellen Stand einer Annotation.
func (s *Server) Annotation(id string) (models.Annotation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.items[id]
	if !ok {
		return models.Annotation{}, false
	}
	return st.annotation, true
}

// Count liefert die Anzahl gespeicherter Annotationen.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Fail lässt die nächsten n Zugriffe auf id mit 500 scheitern (n < 0: immer).
func (s *Server) Fail(id string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[id] = n
}

// Bump simuliert eine fremde Änderung (neuer ETag).
func (s *Server) Bump(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.items[id]; ok {
		st.version++
	}
}

// Requests liefert "METHOD path" aller bisherigen Anfragen.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// CountRequests zählt Anfragen mit Methode und Pfad-Präfix.
func (s *Server) CountRequests(method, pathPrefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if strings.HasPrefix(r, method+" "+pathPrefix) {
			n++
		}
	}
	return n
}

// MaxInFlight liefert die höchste beobachtete Parallelität.
func (s *Server) MaxInFlight() int {
	return int(atomic.LoadInt64(&s.maxInFlight))
}

func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt64(&s.inFlight, 1)
		defer atomic.AddInt64(&s.inFlight, -1)
		for {
			peak := atomic.LoadInt64(&s.maxInFlight)
			if current <= peak || atomic.CompareAndSwapInt64(&s.maxInFlight, peak, current) {
				break
			}
		}
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.EscapedPath())
		s.mu.Unlock()
		if s.Delay > 0 {
			select {
			case <-time.After(s.Delay):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	return s.Token == "" || r.Header.Get("Authorization") == "Bearer "+s.Token
}

func (s *Server) shouldFail(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.failing[id]
	if !ok {
		return false
	}
	if n > 0 {
		n--
		if n == 0 {
			delete(s.failing, id)
		} else {
			s.failing[id] = n
		}
	}
	return true
}

func etagOf(st *stored) string {
	return fmt.Sprintf(`"v%d"`, st.version)
}

func (s *Server) handleAnnotation(w http.ResponseWriter, r *http.Request) {
	id := s.URL + r.URL.Path
	if s.shouldFail(id) {
		http.Error(w, "induced failure", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	st, ok := s.items[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodHead:
		if !s.HeadWithoutETag {
			w.Header().Set("ETag", etagOf(st))
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, st)
	case http.MethodPut:
		if !s.authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var a models.Annotation
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		if r.Header.Get("If-Match") != etagOf(st) {
			s.mu.Unlock()
			http.Error(w, "precondition failed", http.StatusPreconditionFailed)
			return
		}
		a.ID = id
		st.annotation = a
		st.version++
		s.mu.Unlock()
		s.writeJSON(w, http.StatusOK, st)
	case http.MethodDelete:
		if !s.authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if r.Header.Get("If-Match") != etagOf(st) {
			http.Error(w, "precondition failed", http.StatusPreconditionFailed)
			return
		}
		delete(s.items, id)
		for i, o := range s.order {
			if o == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var a models.Annotation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.ID = ""
	a = s.Add(a)
	s.mu.Lock()
	st := s.items[a.ID]
	s.mu.Unlock()
	w.Header().Set("Location", a.ID)
	s.writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	query := r.PathValue("query")
	name, rawParams, _ := strings.Cut(query, ":")
	params := map[string]string{}
	for _, part := range strings.Split(rawParams, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if strings.Contains(v, "%") {
			if unescaped, err := url.PathUnescape(v); err == nil {
				v = unescaped
			}
		}
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			http.Error(w, "bad base64 parameter "+k, http.StatusBadRequest)
			return
		}
		params[k] = string(decoded)
	}

	target := params["target"]
	motivation := params["motivationorpurpose"]

	s.mu.Lock()
	var matches []models.Annotation
	for _, id := range s.order {
		a := s.items[id].annotation
		if target != "" && !references(a, target) {
			continue
		}
		if name == "with-target-and-motivation-or-purpose" && motivation != "" && !hasMotivationOrPurpose(a, motivation) {
			continue
		}
		matches = append(matches, a)
	}
	s.mu.Unlock()

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	start := page * s.PageSize
	if start > len(matches) {
		start = len(matches)
	}
	end := start + s.PageSize
	if end > len(matches) {
		end = len(matches)
	}
	resp := map[string]any{"type": "AnnotationPage", "items": matches[start:end]}
	if end < len(matches) {
		resp["next"] = fmt.Sprintf("%s%s?page=%d", s.URL, r.URL.EscapedPath(), page+1)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, st *stored) {
	s.mu.Lock()
	etag := etagOf(st)
	a := st.annotation
	s.mu.Unlock()
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/ld+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(a)
}

func references(a models.Annotation, target string) bool {
	for _, id := range a.TargetIDs() {
		if id == target {
			return true
		}
	}
	return false
}

func hasMotivationOrPurpose(a models.Annotation, m string) bool {
	if a.Motivation == m {
		return true
	}
	return a.Body.HasPurpose(models.Purpose(m))
}
