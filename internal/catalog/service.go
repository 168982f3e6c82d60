package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"Storefront/internal/diskcache"
	"Storefront/internal/imagecache"
	"Storefront/internal/wp"
)

const (
	KeyProducts   = "products"
	KeyCategories = "categories"
	KeyPages      = "pages"
	KeyPosts      = "posts"
	KeyMenus      = "menus"
	KeySite       = "site"
	KeyMeta       = "meta"
)

var Kinds = []string{KeyProducts, KeyCategories, KeyPages, KeyPosts, KeyMenus, KeySite}

var ErrUnknownKind = errors.New("unknown cache kind")

// Service is the typed caching facade over the disk store. Reads never touch
// the origin; Cache* operations fetch, normalize and persist. On origin
// failure existing cached data is preserved rather than cleared: a catalog
// that fails to refresh keeps serving yesterday's products instead of going
// blank.
type Service struct {
	store   *diskcache.Store
	wpc     *wp.Client
	wcc     *wp.CommerceClient
	images  *imagecache.Cache
	log     *zap.Logger
	enabled bool
	origin  *url.URL
	now     func() time.Time
}

type ServiceConfig struct {
	Store   *diskcache.Store
	WP      *wp.Client
	WC      *wp.CommerceClient
	Images  *imagecache.Cache
	Log     *zap.Logger
	Enabled bool
	Now     func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	var origin *url.URL
	if cfg.WP != nil {
		if u, err := url.Parse(cfg.WP.BaseURL); err == nil && u.Host != "" {
			origin = u
		}
	}

	return &Service{
		store:   cfg.Store,
		wpc:     cfg.WP,
		wcc:     cfg.WC,
		images:  cfg.Images,
		log:     log,
		enabled: cfg.Enabled,
		origin:  origin,
		now:     now,
	}
}

func (s *Service) Store() *diskcache.Store { return s.store }

func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	return s.wpc.Ping(ctx)
}

func (s *Service) Products(ctx context.Context) []Product {
	return readKind[Product](s, KeyProducts)
}

func (s *Service) Categories(ctx context.Context) []Category {
	return readKind[Category](s, KeyCategories)
}

func (s *Service) Pages(ctx context.Context) []Page {
	return readKind[Page](s, KeyPages)
}

func (s *Service) Posts(ctx context.Context) []Post {
	return readKind[Post](s, KeyPosts)
}

func (s *Service) Menus(ctx context.Context) []Menu {
	return readKind[Menu](s, KeyMenus)
}

func (s *Service) SiteInfo(ctx context.Context) *SiteInfo {
	var si SiteInfo
	if !s.store.Get(KeySite, &si) {
		return nil
	}
	return &si
}

func (s *Service) CacheProducts(ctx context.Context) ([]Product, error) {
	return cacheKind(s, KeyProducts, func() ([]Product, error) {
		raws, err := s.wcc.Products(ctx)
		if err != nil {
			return nil, err
		}
		now := s.now()
		out := make([]Product, 0, len(raws))
		for _, raw := range raws {
			out = append(out, normalizeProduct(raw, now))
		}
		s.routeProductImages(ctx, out)
		return out, nil
	})
}

// routeProductImages downloads every product image in one batch and rewrites
// the Src fields to local cache paths, so persisted products never point at
// the origin. Images that fail to download keep their original URL.
func (s *Service) routeProductImages(ctx context.Context, products []Product) {
	if s.images == nil {
		return
	}
	urls := make([]string, 0, len(products))
	for _, p := range products {
		for _, img := range p.Images {
			urls = append(urls, img.Src)
		}
	}
	s.images.CacheAll(ctx, urls)
	for i := range products {
		for j := range products[i].Images {
			products[i].Images[j].Src = s.images.CachedImageURL(ctx, products[i].Images[j].Src)
		}
	}
}

func (s *Service) CacheCategories(ctx context.Context) ([]Category, error) {
	return cacheKind(s, KeyCategories, func() ([]Category, error) {
		raws, err := s.wcc.Categories(ctx)
		if err != nil {
			return nil, err
		}
		now := s.now()
		out := make([]Category, 0, len(raws))
		for _, raw := range raws {
			out = append(out, normalizeCategory(raw, now))
		}
		if s.images != nil {
			for i := range out {
				if out[i].Image != "" {
					out[i].Image = s.images.CachedImageURL(ctx, out[i].Image)
				}
			}
		}
		return out, nil
	})
}

func (s *Service) CachePages(ctx context.Context) ([]Page, error) {
	return cacheKind(s, KeyPages, func() ([]Page, error) {
		raws, err := s.wpc.Pages(ctx)
		if err != nil {
			return nil, err
		}
		now := s.now()
		out := make([]Page, 0, len(raws))
		for _, raw := range raws {
			out = append(out, normalizePage(raw, now))
		}
		return out, nil
	})
}

func (s *Service) CachePosts(ctx context.Context) ([]Post, error) {
	return cacheKind(s, KeyPosts, func() ([]Post, error) {
		raws, err := s.wpc.Posts(ctx)
		if err != nil {
			return nil, err
		}
		now := s.now()
		out := make([]Post, 0, len(raws))
		for _, raw := range raws {
			out = append(out, normalizePost(raw, now))
		}
		return out, nil
	})
}

func (s *Service) CacheMenus(ctx context.Context) ([]Menu, error) {
	return cacheKind(s, KeyMenus, func() ([]Menu, error) {
		raws, err := s.wpc.Menus(ctx)
		if err != nil {
			return nil, err
		}
		return normalizeMenus(raws, s.origin, s.now()), nil
	})
}

func (s *Service) CacheSiteInfo(ctx context.Context) (*SiteInfo, error) {
	raw, err := s.wpc.SiteInfo(ctx)
	if err != nil {
		var existing SiteInfo
		if s.store.Peek(KeySite, &existing) && existing.Name != "" {
			s.log.Warn("site info refresh failed, preserving cache", zap.Error(err))
			return &existing, err
		}
		return nil, err
	}

	si := normalizeSite(raw, s.now())
	if s.enabled {
		if werr := s.store.Set(KeySite, si); werr != nil {
			s.log.Error("site info cache write failed", zap.Error(werr))
		}
	}
	return &si, nil
}

// RefreshPartial invalidates and recaches exactly one kind.
func (s *Service) RefreshPartial(ctx context.Context, kind string) error {
	var err error
	switch kind {
	case KeyProducts:
		s.store.Invalidate(KeyProducts)
		_, err = s.CacheProducts(ctx)
	case KeyCategories:
		s.store.Invalidate(KeyCategories)
		_, err = s.CacheCategories(ctx)
	case KeyPages:
		s.store.Invalidate(KeyPages)
		_, err = s.CachePages(ctx)
	case KeyPosts:
		s.store.Invalidate(KeyPosts)
		_, err = s.CachePosts(ctx)
	case KeyMenus:
		s.store.Invalidate(KeyMenus)
		_, err = s.CacheMenus(ctx)
	case KeySite:
		s.store.Invalidate(KeySite)
		_, err = s.CacheSiteInfo(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if err != nil {
		return err
	}

	s.writeMeta(func(m *Meta) {
		m.LastPartialRefresh = s.now()
		m.LastPartialKind = kind
	})
	return nil
}

// RefreshAll invalidates and recaches every kind, then records a metadata
// entry with a checksum of the full cached data set.
func (s *Service) RefreshAll(ctx context.Context) error {
	for _, kind := range Kinds {
		s.store.Invalidate(kind)
	}

	var errs []error
	if _, err := s.CacheProducts(ctx); err != nil {
		errs = append(errs, fmt.Errorf("products: %w", err))
	}
	if _, err := s.CacheCategories(ctx); err != nil {
		errs = append(errs, fmt.Errorf("categories: %w", err))
	}
	if _, err := s.CachePages(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pages: %w", err))
	}
	if _, err := s.CachePosts(ctx); err != nil {
		errs = append(errs, fmt.Errorf("posts: %w", err))
	}
	if _, err := s.CacheMenus(ctx); err != nil {
		errs = append(errs, fmt.Errorf("menus: %w", err))
	}
	if _, err := s.CacheSiteInfo(ctx); err != nil {
		errs = append(errs, fmt.Errorf("site: %w", err))
	}

	s.writeMeta(func(m *Meta) {
		m.LastFullRefresh = s.now()
		m.Checksum = s.checksum()
	})

	return errors.Join(errs...)
}

func (s *Service) Meta() Meta {
	var m Meta
	s.store.Peek(KeyMeta, &m)
	return m
}

func (s *Service) writeMeta(mutate func(*Meta)) {
	err := s.store.Update(KeyMeta, func(data json.RawMessage) (any, error) {
		var m Meta
		if len(data) > 0 {
			_ = json.Unmarshal(data, &m)
		}
		mutate(&m)
		return m, nil
	})
	if err != nil {
		s.log.Warn("meta write failed", zap.Error(err))
	}
}

func (s *Service) checksum() string {
	h := sha256.New()
	for _, kind := range Kinds {
		var raw json.RawMessage
		if s.store.Peek(kind, &raw) {
			h.Write(raw)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func readKind[T any](s *Service, key string) []T {
	var out []T
	s.store.Get(key, &out)
	if out == nil {
		out = []T{}
	}
	return out
}

// cacheKind runs one fetch-normalize-persist cycle with the staleness-over-
// emptiness policy: an empty collection is written only when nothing was
// cached before. Persisting is skipped when caching is disabled.
func cacheKind[T any](s *Service, key string, fetch func() ([]T, error)) ([]T, error) {
	items, err := fetch()
	if err != nil {
		var existing []T
		if s.store.Peek(key, &existing) && len(existing) > 0 {
			s.log.Warn("origin fetch failed, preserving cache",
				zap.String("kind", key), zap.Error(err))
			return existing, err
		}
		if s.enabled {
			_ = s.store.Set(key, []T{})
		}
		return []T{}, err
	}

	if s.enabled {
		if werr := s.store.Set(key, items); werr != nil {
			s.log.Error("cache write failed", zap.String("kind", key), zap.Error(werr))
		}
	}
	return items, nil
}
