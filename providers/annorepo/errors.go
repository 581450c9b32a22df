package annorepo

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingToken: Schreibzugriff ohne konfiguriertes Bearer-Token.
	ErrMissingToken = errors.New("annorepo token is not configured")
	// ErrPreconditionFailed: ETag veraltet (412).
	ErrPreconditionFailed = errors.New("annotation was modified concurrently (stale etag)")
	// ErrNotFound: Annotation existiert nicht (404).
	ErrNotFound = errors.New("annotation not found")
	// ErrNoETag: weder HEAD noch GET lieferten einen ETag.
	ErrNoETag = errors.New("no etag returned for annotation")
	// ErrForeignID: ID zeigt nicht auf die AnnoRepo-Instanz des Projekts.
	ErrForeignID = errors.New("annotation id does not belong to the project's annorepo")
)

// StoreError ist eine Nicht-2xx-Antwort des AnnoRepo.
type StoreError struct {
	Op     string
	URL    string
	Status int
	Body   string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("annorepo %s %s failed with status %d: %s", e.Op, e.URL, e.Status, e.Body)
}

// Is bildet Statuscodes auf die Sentinel-Fehler ab.
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrPreconditionFailed:
		return e.Status == http.StatusPreconditionFailed
	case ErrNotFound:
		return e.Status == http.StatusNotFound || e.Status == http.StatusGone
	}
	return false
}

// retryable meldet Statuscodes, bei denen ein erneuter Leseversuch sinnvoll ist.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
