package catalog

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Facade is the read-through layer route handlers use: cache read first, and
// on a miss exactly one recache from the origin, never more. Sustained origin
// failure therefore costs one origin call per request, not a retry storm.
type Facade struct {
	svc *Service
	log *zap.Logger
}

func NewFacade(svc *Service, log *zap.Logger) *Facade {
	if log == nil {
		log = zap.NewNop()
	}
	return &Facade{svc: svc, log: log}
}

func (f *Facade) Products(ctx context.Context) []Product {
	if out := f.svc.Products(ctx); len(out) > 0 {
		return out
	}
	out, err := f.svc.CacheProducts(ctx)
	if err != nil {
		f.log.Warn("product recache failed", zap.Error(err))
	}
	return out
}

func (f *Facade) ProductByID(ctx context.Context, id int) *Product {
	for _, p := range f.Products(ctx) {
		if p.ID == id {
			return &p
		}
	}
	return nil
}

func (f *Facade) ProductBySlug(ctx context.Context, slug string) *Product {
	for _, p := range f.Products(ctx) {
		if p.Slug == slug {
			return &p
		}
	}
	return nil
}

func (f *Facade) FeaturedProducts(ctx context.Context) []Product {
	return filterProducts(f.Products(ctx), func(p Product) bool { return p.Featured })
}

func (f *Facade) OnSaleProducts(ctx context.Context) []Product {
	return filterProducts(f.Products(ctx), func(p Product) bool { return p.OnSale })
}

func (f *Facade) ProductsByCategory(ctx context.Context, slug string) []Product {
	return filterProducts(f.Products(ctx), func(p Product) bool {
		for _, c := range p.Categories {
			if c.Slug == slug {
				return true
			}
		}
		return false
	})
}

// SearchProducts matches a lowercase substring across name, descriptions,
// category names and tag names.
func (f *Facade) SearchProducts(ctx context.Context, query string) []Product {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []Product{}
	}

	return filterProducts(f.Products(ctx), func(p Product) bool {
		if strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(strings.ToLower(p.Description), q) ||
			strings.Contains(strings.ToLower(p.ShortDescription), q) {
			return true
		}
		for _, c := range p.Categories {
			if strings.Contains(strings.ToLower(c.Name), q) {
				return true
			}
		}
		for _, t := range p.Tags {
			if strings.Contains(strings.ToLower(t.Name), q) {
				return true
			}
		}
		return false
	})
}

func (f *Facade) Categories(ctx context.Context) []Category {
	if out := f.svc.Categories(ctx); len(out) > 0 {
		return out
	}
	out, err := f.svc.CacheCategories(ctx)
	if err != nil {
		f.log.Warn("category recache failed", zap.Error(err))
	}
	return out
}

func (f *Facade) CategoryBySlug(ctx context.Context, slug string) *Category {
	for _, c := range f.Categories(ctx) {
		if c.Slug == slug {
			return &c
		}
	}
	return nil
}

func (f *Facade) Pages(ctx context.Context) []Page {
	if out := f.svc.Pages(ctx); len(out) > 0 {
		return out
	}
	out, err := f.svc.CachePages(ctx)
	if err != nil {
		f.log.Warn("page recache failed", zap.Error(err))
	}
	return out
}

func (f *Facade) PageBySlug(ctx context.Context, slug string) *Page {
	for _, p := range f.Pages(ctx) {
		if p.Slug == slug {
			return &p
		}
	}
	return nil
}

func (f *Facade) Posts(ctx context.Context) []Post {
	if out := f.svc.Posts(ctx); len(out) > 0 {
		return out
	}
	out, err := f.svc.CachePosts(ctx)
	if err != nil {
		f.log.Warn("post recache failed", zap.Error(err))
	}
	return out
}

func (f *Facade) PostBySlug(ctx context.Context, slug string) *Post {
	for _, p := range f.Posts(ctx) {
		if p.Slug == slug {
			return &p
		}
	}
	return nil
}

func (f *Facade) Menus(ctx context.Context) []Menu {
	if out := f.svc.Menus(ctx); len(out) > 0 {
		return out
	}
	out, err := f.svc.CacheMenus(ctx)
	if err != nil {
		f.log.Warn("menu recache failed", zap.Error(err))
	}
	return out
}

func (f *Facade) MenuByLocation(ctx context.Context, location string) *Menu {
	for _, m := range f.Menus(ctx) {
		if m.Location == location {
			return &m
		}
	}
	return nil
}

func (f *Facade) SiteInfo(ctx context.Context) *SiteInfo {
	if si := f.svc.SiteInfo(ctx); si != nil {
		return si
	}
	si, err := f.svc.CacheSiteInfo(ctx)
	if err != nil {
		f.log.Warn("site info recache failed", zap.Error(err))
	}
	return si
}

func filterProducts(in []Product, keep func(Product) bool) []Product {
	out := make([]Product, 0, len(in))
	for _, p := range in {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
