package annorepo_test

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"anno-linker/config"
	"anno-linker/models"
	"anno-linker/providers/annorepo"
	"anno-linker/providers/annorepo/annorepotest"
)

func testConfig() *config.Config {
	return &config.Config{
		RetryMaxAttempts: 3,
		RetryBaseDelay:   time.Millisecond,
		StoreRateLimit:   0,
		StoreRateBurst:   10,
	}
}

func newFetcher(t *testing.T, token string) (*annorepo.Fetcher, *annorepotest.Server) {
	t.Helper()
	srv := annorepotest.NewServer(t, "test-container", token)
	return annorepo.NewFetcher(testConfig(), srv.Project("neru"), zap.NewNop()), srv
}

func linking(targets ...string) models.Annotation {
	return models.Annotation{
		Type:       "Annotation",
		Motivation: models.MotivationLinking,
		Target:     models.NewTargets(targets),
	}
}

func TestEncodeCanvasURIRoundTrip(t *testing.T) {
	inputs := []string{
		"https://iiif.example/canvas/p1",
		"https://example.org/a?b=c#frag",
		"urn:überseeïsch:地図",
		"",
	}
	for _, in := range inputs {
		token := annorepo.EncodeCanvasURI(in)
		raw, err := base64.StdEncoding.DecodeString(token)
		require.NoError(t, err)
		assert.Equal(t, in, string(raw))

		escaped := annorepo.EncodeCanvasURIForPath(in)
		assert.NotContains(t, escaped, "/")
		assert.NotContains(t, escaped, "+")
		unescaped, err := url.QueryUnescape(escaped)
		require.NoError(t, err)
		assert.Equal(t, token, unescaped)
	}
}

func TestLinkingPageURL(t *testing.T) {
	f, srv := newFetcher(t, "")
	assert.Equal(t,
		srv.URL+"/services/test-container/custom-query/with-target-and-motivation-or-purpose:target=,motivationorpurpose=bGlua2luZw==",
		f.LinkingPageURL(0))
	assert.True(t, strings.HasSuffix(f.LinkingPageURL(3), "?page=3"))
}

func TestLinkingForTargetFiltersMotivation(t *testing.T) {
	f, srv := newFetcher(t, "")
	srv.Add(linking("urn:a", "urn:b"))
	srv.Add(models.Annotation{Motivation: models.MotivationTextspotting, Target: models.NewTargets([]string{"urn:a"})})
	srv.Add(linking("urn:c"))

	got, err := f.LinkingForTarget(context.Background(), "urn:a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"urn:a", "urn:b"}, got[0].TargetIDs())
}

func TestLinkingPageFollowsNext(t *testing.T) {
	f, srv := newFetcher(t, "")
	srv.PageSize = 2
	for i := 0; i < 5; i++ {
		srv.Add(linking("urn:x"))
	}

	first, err := f.LinkingPage(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, first.Items, 2)
	assert.True(t, first.HasMore())

	last, err := f.LinkingPage(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, last.Items, 1)
	assert.False(t, last.HasMore())
}

func TestETagFallsBackToGet(t *testing.T) {
	f, srv := newFetcher(t, "secret")
	a := srv.Add(linking("urn:a"))

	etag, err := f.ETag(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, etag)
	assert.Zero(t, srv.CountRequests("GET", "/w3c/"))

	srv.HeadWithoutETag = true
	etag, err = f.ETag(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, etag)
	assert.Equal(t, 1, srv.CountRequests("GET", "/w3c/"))
}

func TestWritesRequireToken(t *testing.T) {
	f, srv := newFetcher(t, "")
	a := srv.Add(linking("urn:a"))

	_, err := f.Create(context.Background(), &a)
	assert.ErrorIs(t, err, annorepo.ErrMissingToken)
	_, err = f.Update(context.Background(), a.ID, &a, `"v1"`)
	assert.ErrorIs(t, err, annorepo.ErrMissingToken)
	assert.ErrorIs(t, f.Delete(context.Background(), a.ID, `"v1"`), annorepo.ErrMissingToken)

	// Lesen funktioniert anonym
	_, err = f.Get(context.Background(), a.ID)
	assert.NoError(t, err)
}

func TestCreateUpdateDelete(t *testing.T) {
	f, srv := newFetcher(t, "secret")
	ctx := context.Background()

	in := linking("urn:a", "urn:b")
	created, err := f.Create(ctx, &in)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, 1, srv.Count())

	etag, err := f.ETag(ctx, created.ID)
	require.NoError(t, err)
	created.Target = models.NewTargets([]string{"urn:b", "urn:a"})
	updated, err := f.Update(ctx, created.ID, created, etag)
	require.NoError(t, err)
	assert.Equal(t, []string{"urn:b", "urn:a"}, updated.TargetIDs())

	// veralteter ETag wird nicht wiederholt und als Konflikt gemeldet
	_, err = f.Update(ctx, created.ID, created, etag)
	require.Error(t, err)
	assert.True(t, errors.Is(err, annorepo.ErrPreconditionFailed))
	var storeErr *annorepo.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, 412, storeErr.Status)
	assert.Equal(t, 2, srv.CountRequests("PUT", "/w3c/"))

	etag, err = f.ETag(ctx, created.ID)
	require.NoError(t, err)
	require.NoError(t, f.Delete(ctx, created.ID, etag))
	assert.Zero(t, srv.Count())
}

func TestGetRetriesTransientFailures(t *testing.T) {
	f, srv := newFetcher(t, "")
	a := srv.Add(linking("urn:a"))
	srv.Fail(a.ID, 2)

	got, err := f.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, 3, srv.CountRequests("GET", "/w3c/"))
}

func TestGetNotFoundIsPermanent(t *testing.T) {
	f, srv := newFetcher(t, "")
	_, err := f.Get(context.Background(), srv.URL+"/w3c/test-container/missing")
	assert.ErrorIs(t, err, annorepo.ErrNotFound)
	assert.Equal(t, 1, srv.CountRequests("GET", "/w3c/"))
}

func TestForeignIDsAreRejected(t *testing.T) {
	f, _ := newFetcher(t, "secret")
	_, err := f.Get(context.Background(), "https://elsewhere.example/w3c/x/1")
	assert.ErrorIs(t, err, annorepo.ErrForeignID)
}
