package imagecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestCache(t *testing.T, origin *httptest.Server, now func() time.Time) *Cache {
	t.Helper()

	var hosts []string
	if origin != nil {
		u, err := url.Parse(origin.URL)
		if err != nil {
			t.Fatalf("parse origin url: %v", err)
		}
		hosts = []string{u.Host}
	}

	c, err := New(Config{
		Dir:   t.TempDir(),
		Hosts: hosts,
		Now:   now,
	}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func newImageOrigin(downloads *atomic.Int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".png") {
			downloads.Add(1)
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
}

func TestCachedImageURL_Idempotent(t *testing.T) {
	var downloads atomic.Int64
	origin := newImageOrigin(&downloads)
	t.Cleanup(origin.Close)

	c := newTestCache(t, origin, nil)
	ctx := context.Background()

	u := origin.URL + "/wp-content/uploads/a.png"

	first := c.CachedImageURL(ctx, u)
	second := c.CachedImageURL(ctx, u)

	if first != second {
		t.Fatalf("paths differ: %q vs %q", first, second)
	}
	if !strings.HasPrefix(first, "/images/") {
		t.Fatalf("expected local url, got %q", first)
	}
	if n := downloads.Load(); n != 1 {
		t.Fatalf("downloads=%d, want 1", n)
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Images != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestCachedImageURL_Passthrough(t *testing.T) {
	var downloads atomic.Int64
	origin := newImageOrigin(&downloads)
	t.Cleanup(origin.Close)

	c := newTestCache(t, origin, nil)
	ctx := context.Background()

	cases := []string{
		origin.URL + "/doc.pdf",             // not an image
		"https://elsewhere.example/pic.png", // foreign host
		"not a url at all \x7f",             // unparseable
		origin.URL + "/wp-json/wp/v2/posts", // no extension
	}
	for _, u := range cases {
		if got := c.CachedImageURL(ctx, u); got != u {
			t.Fatalf("url %q: got %q, want passthrough", u, got)
		}
	}
	if n := downloads.Load(); n != 0 {
		t.Fatalf("downloads=%d, want 0", n)
	}
}

func TestCachedImageURL_FailureFallsBackToOriginal(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(origin.Close)

	c := newTestCache(t, origin, nil)

	u := origin.URL + "/missing.png"
	if got := c.CachedImageURL(context.Background(), u); got != u {
		t.Fatalf("got %q, want original url", got)
	}
	if st := c.Stats(); st.Errors != 1 {
		t.Fatalf("errors=%d, want 1", st.Errors)
	}
}

func TestCachedImageURL_SelfHealsOnDeletedFile(t *testing.T) {
	var downloads atomic.Int64
	origin := newImageOrigin(&downloads)
	t.Cleanup(origin.Close)

	c := newTestCache(t, origin, nil)
	ctx := context.Background()

	u := origin.URL + "/a.png"
	local := c.CachedImageURL(ctx, u)

	c.mu.Lock()
	backing := c.images[u].LocalPath
	c.mu.Unlock()
	if err := os.Remove(backing); err != nil {
		t.Fatalf("remove backing file: %v", err)
	}

	again := c.CachedImageURL(ctx, u)
	if again != local {
		t.Fatalf("path changed after self-heal: %q vs %q", again, local)
	}
	if n := downloads.Load(); n != 2 {
		t.Fatalf("downloads=%d, want 2 (re-download after deletion)", n)
	}
	if _, err := os.Stat(backing); err != nil {
		t.Fatalf("backing file not restored: %v", err)
	}
}

func TestCleanup_EvictsByAge(t *testing.T) {
	var downloads atomic.Int64
	origin := newImageOrigin(&downloads)
	t.Cleanup(origin.Close)

	clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := newTestCache(t, origin, func() time.Time { return clock })
	ctx := context.Background()

	c.CachedImageURL(ctx, origin.URL+"/old.png")

	clock = clock.Add(48 * time.Hour)
	c.CachedImageURL(ctx, origin.URL+"/new.png")

	removed := c.Cleanup(24 * time.Hour)
	if removed != 1 {
		t.Fatalf("removed=%d, want 1", removed)
	}

	st := c.Stats()
	if st.Images != 1 {
		t.Fatalf("images=%d, want 1", st.Images)
	}
}

func TestCacheAll_DeduplicatesAndMirrors(t *testing.T) {
	var downloads atomic.Int64
	origin := newImageOrigin(&downloads)
	t.Cleanup(origin.Close)

	c := newTestCache(t, origin, nil)

	urls := []string{
		origin.URL + "/1.png",
		origin.URL + "/2.png",
		origin.URL + "/1.png",
		"",
		origin.URL + "/3.png",
	}
	c.CacheAll(context.Background(), urls)

	if n := downloads.Load(); n != 3 {
		t.Fatalf("downloads=%d, want 3", n)
	}
}
