package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"Storefront/internal/diskcache"
	"Storefront/internal/imagecache"
	"Storefront/internal/wp"
)

type originStub struct {
	products atomic.Value // []wp.RawProduct
	fail     atomic.Bool
	hits     atomic.Int64
}

func newOriginStub(products []wp.RawProduct) (*originStub, *httptest.Server) {
	o := &originStub{}
	o.products.Store(products)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		if o.fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("X-WP-TotalPages", "1")
		switch r.URL.Path {
		case "/wp-json/wc/v3/products":
			_ = json.NewEncoder(w).Encode(o.products.Load())
		case "/wp-json/wc/v3/products/categories":
			_ = json.NewEncoder(w).Encode([]wp.RawCategory{{ID: 1, Name: "Tools", Slug: "tools"}})
		case "/wp-json/wp/v2/pages", "/wp-json/wp/v2/posts":
			_, _ = w.Write([]byte("[]"))
		case "/wp-json/menus/v1/menus":
			_, _ = w.Write([]byte("[]"))
		case "/wp-json":
			_ = json.NewEncoder(w).Encode(wp.RawSite{Name: "Shop", URL: "https://shop.example"})
		default:
			if strings.HasPrefix(r.URL.Path, "/wp-content/uploads/") {
				w.Header().Set("Content-Type", "image/jpeg")
				_, _ = w.Write([]byte("not-really-a-jpeg"))
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	return o, ts
}

func rawProduct(id int, name string) wp.RawProduct {
	return wp.RawProduct{ID: id, Name: name, Slug: name, Price: "10.00", StockStatus: "instock"}
}

func newTestService(t *testing.T, originURL string, enabled bool) *Service {
	t.Helper()

	store, err := diskcache.NewStore(diskcache.Config{Dir: t.TempDir()}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	return NewService(ServiceConfig{
		Store:   store,
		WP:      wp.NewClient(originURL, zap.NewNop()),
		WC:      wp.NewCommerceClient(originURL, "ck", "cs", zap.NewNop()),
		Log:     zap.NewNop(),
		Enabled: enabled,
	})
}

func TestCacheProducts_FetchNormalizePersist(t *testing.T) {
	_, ts := newOriginStub([]wp.RawProduct{rawProduct(1, "hammer"), rawProduct(2, "saw")})
	t.Cleanup(ts.Close)

	s := newTestService(t, ts.URL, true)

	out, err := s.CacheProducts(context.Background())
	if err != nil {
		t.Fatalf("CacheProducts: %v", err)
	}
	if len(out) != 2 || out[0].Name != "hammer" || out[0].Price != 10.00 {
		t.Fatalf("out=%+v", out)
	}

	cached := s.Products(context.Background())
	if len(cached) != 2 {
		t.Fatalf("cached=%d, want 2", len(cached))
	}
}

func TestCacheProducts_PreserveOnFailure(t *testing.T) {
	o, ts := newOriginStub([]wp.RawProduct{rawProduct(1, "hammer")})
	t.Cleanup(ts.Close)

	s := newTestService(t, ts.URL, true)
	ctx := context.Background()

	if _, err := s.CacheProducts(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	o.fail.Store(true)

	out, err := s.CacheProducts(ctx)
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(out) != 1 || out[0].Name != "hammer" {
		t.Fatalf("existing cache not preserved: %+v", out)
	}

	var onDisk []Product
	if !s.store.Peek(KeyProducts, &onDisk) || len(onDisk) != 1 {
		t.Fatalf("cache file emptied: %+v", onDisk)
	}
}

func TestCacheProducts_EmptyWriteOnlyWhenNoPriorCache(t *testing.T) {
	o, ts := newOriginStub(nil)
	t.Cleanup(ts.Close)

	s := newTestService(t, ts.URL, true)
	o.fail.Store(true)

	out, err := s.CacheProducts(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(out) != 0 {
		t.Fatalf("out=%+v", out)
	}

	var onDisk []Product
	if !s.store.Peek(KeyProducts, &onDisk) {
		t.Fatalf("expected empty collection to be written on first failure")
	}
	if len(onDisk) != 0 {
		t.Fatalf("onDisk=%+v", onDisk)
	}
}

func TestUpsertProduct_ReplacesInPlace(t *testing.T) {
	_, ts := newOriginStub(nil)
	t.Cleanup(ts.Close)

	// caching globally disabled: the webhook path must still persist
	s := newTestService(t, ts.URL, false)

	seed := []Product{
		{ID: 41, Name: "first"},
		{ID: 42, Name: "second"},
		{ID: 43, Name: "third"},
	}
	if err := s.store.Set(KeyProducts, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.UpsertProduct(context.Background(), rawProduct(42, "second-renamed")); err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}

	var got []Product
	if !s.store.Peek(KeyProducts, &got) {
		t.Fatalf("no cache file")
	}
	if len(got) != 3 {
		t.Fatalf("len=%d, want 3", len(got))
	}
	if got[0].ID != 41 || got[1].ID != 42 || got[2].ID != 43 {
		t.Fatalf("order changed: %+v", got)
	}
	if got[1].Name != "second-renamed" {
		t.Fatalf("entry 42 not replaced: %+v", got[1])
	}
	if got[0].Name != "first" || got[2].Name != "third" {
		t.Fatalf("other entries mutated: %+v", got)
	}
}

func TestUpsertProduct_AppendsWhenAbsent(t *testing.T) {
	_, ts := newOriginStub(nil)
	t.Cleanup(ts.Close)

	s := newTestService(t, ts.URL, false)

	if err := s.UpsertProduct(context.Background(), rawProduct(7, "new")); err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}

	var got []Product
	if !s.store.Peek(KeyProducts, &got) || len(got) != 1 || got[0].ID != 7 {
		t.Fatalf("got=%+v", got)
	}
}

func TestRemoveProduct(t *testing.T) {
	_, ts := newOriginStub(nil)
	t.Cleanup(ts.Close)

	s := newTestService(t, ts.URL, false)

	seed := []Product{{ID: 1}, {ID: 2}, {ID: 3}}
	if err := s.store.Set(KeyProducts, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.RemoveProduct(2); err != nil {
		t.Fatalf("RemoveProduct: %v", err)
	}

	var got []Product
	if !s.store.Peek(KeyProducts, &got) || len(got) != 2 {
		t.Fatalf("got=%+v", got)
	}
	if got[0].ID != 1 || got[1].ID != 3 {
		t.Fatalf("order wrong: %+v", got)
	}
}

func TestRefreshAll_WritesMeta(t *testing.T) {
	_, ts := newOriginStub([]wp.RawProduct{rawProduct(1, "hammer")})
	t.Cleanup(ts.Close)

	s := newTestService(t, ts.URL, true)

	if err := s.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	m := s.Meta()
	if m.LastFullRefresh.IsZero() {
		t.Fatalf("lastFullRefresh not recorded")
	}
	if m.Checksum == "" {
		t.Fatalf("checksum not recorded")
	}
}

func TestRefreshPartial_UnknownKind(t *testing.T) {
	_, ts := newOriginStub(nil)
	t.Cleanup(ts.Close)

	s := newTestService(t, ts.URL, true)

	if err := s.RefreshPartial(context.Background(), "bogus"); err == nil {
		t.Fatalf("expected error")
	}

	if err := s.RefreshPartial(context.Background(), KeyCategories); err != nil {
		t.Fatalf("RefreshPartial categories: %v", err)
	}
	if m := s.Meta(); m.LastPartialKind != KeyCategories {
		t.Fatalf("meta=%+v", m)
	}
}

func TestNormalizeVariations(t *testing.T) {
	now := time.Now()

	expanded := rawProduct(1, "shirt")
	expanded.Variations = []json.RawMessage{
		json.RawMessage(`{"id": 11, "price": "12.50", "attributes": [{"name": "Size", "option": "M"}]}`),
		json.RawMessage(`{"id": 12, "price": "13.50"}`),
	}
	p := normalizeProduct(expanded, now)
	if len(p.Variations) != 2 || p.Variations[0].Price != 12.50 {
		t.Fatalf("variations=%+v", p.Variations)
	}
	if p.Variations[0].Attributes["Size"] != "M" {
		t.Fatalf("attributes=%+v", p.Variations[0].Attributes)
	}

	// bare ids are a lazy-loaded reference list, not usable cached data
	lazy := rawProduct(2, "shoes")
	lazy.Variations = []json.RawMessage{
		json.RawMessage(`101`),
		json.RawMessage(`102`),
	}
	p = normalizeProduct(lazy, now)
	if len(p.Variations) != 0 {
		t.Fatalf("bare-id variations should collapse to empty, got %+v", p.Variations)
	}
}

func newImageService(t *testing.T, originURL string) *Service {
	t.Helper()

	store, err := diskcache.NewStore(diskcache.Config{Dir: t.TempDir()}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	u, err := url.Parse(originURL)
	if err != nil {
		t.Fatalf("parse origin: %v", err)
	}
	images, err := imagecache.New(imagecache.Config{
		Dir:   t.TempDir(),
		Hosts: []string{u.Host},
	}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("imagecache.New: %v", err)
	}

	return NewService(ServiceConfig{
		Store:   store,
		WP:      wp.NewClient(originURL, zap.NewNop()),
		WC:      wp.NewCommerceClient(originURL, "ck", "cs", zap.NewNop()),
		Images:  images,
		Log:     zap.NewNop(),
		Enabled: true,
	})
}

func TestCacheProducts_RewritesImageURLs(t *testing.T) {
	o, ts := newOriginStub(nil)
	t.Cleanup(ts.Close)

	// the stub serves the image itself, so the URL is only known after start
	hammer := rawProduct(1, "hammer")
	hammer.Images = []wp.RawImage{{ID: 10, Src: ts.URL + "/wp-content/uploads/hammer.jpg", Alt: "x"}}
	o.products.Store([]wp.RawProduct{hammer})

	s := newImageService(t, ts.URL)

	out, err := s.CacheProducts(context.Background())
	if err != nil {
		t.Fatalf("CacheProducts: %v", err)
	}
	if len(out) != 1 || len(out[0].Images) != 1 {
		t.Fatalf("out=%+v", out)
	}
	if src := out[0].Images[0].Src; !strings.HasPrefix(src, "/images/") {
		t.Fatalf("src=%q, want local /images/ path", src)
	}

	// the rewritten URL is what lands in the cache file
	var cached []Product
	if !s.store.Peek(KeyProducts, &cached) {
		t.Fatalf("no products cache file")
	}
	if src := cached[0].Images[0].Src; !strings.HasPrefix(src, "/images/") {
		t.Fatalf("persisted src=%q, want local /images/ path", src)
	}

	// a host outside the allowlist passes through untouched
	foreign := rawProduct(2, "saw")
	foreign.Images = []wp.RawImage{{Src: "https://cdn.elsewhere.example/saw.jpg"}}
	if err := s.UpsertProduct(context.Background(), foreign); err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}
	if !s.store.Peek(KeyProducts, &cached) || len(cached) != 2 {
		t.Fatalf("cached=%+v", cached)
	}
	if src := cached[1].Images[0].Src; src != "https://cdn.elsewhere.example/saw.jpg" {
		t.Fatalf("foreign src rewritten: %q", src)
	}
}

func TestUpsertProduct_RewritesImageURLs(t *testing.T) {
	_, ts := newOriginStub(nil)
	t.Cleanup(ts.Close)

	s := newImageService(t, ts.URL)

	raw := rawProduct(9, "drill")
	raw.Images = []wp.RawImage{{Src: ts.URL + "/wp-content/uploads/drill.png"}}
	if err := s.UpsertProduct(context.Background(), raw); err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}

	got := s.Products(context.Background())
	if len(got) != 1 || len(got[0].Images) != 1 {
		t.Fatalf("got=%+v", got)
	}
	if src := got[0].Images[0].Src; !strings.HasPrefix(src, "/images/") {
		t.Fatalf("src=%q, want local /images/ path", src)
	}
}
