package catalog

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"Storefront/pkg/kit"
)

type Server struct {
	Facade *Facade
	Svc    *Service
	Log    *zap.Logger
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.Svc.Ping(ctx); err != nil {
			if s.Log != nil {
				s.Log.Warn("readyz failed", zap.Error(err))
			}
			kit.WriteError(w, r, http.StatusServiceUnavailable, "not ready", nil)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/products", s.listProducts)
	r.Get("/products/{idOrSlug}", s.getProduct)
	r.Get("/categories", s.listCategories)
	r.Get("/categories/{slug}", s.getCategory)
	r.Get("/pages", s.listPages)
	r.Get("/pages/{slug}", s.getPage)
	r.Get("/posts", s.listPosts)
	r.Get("/posts/{slug}", s.getPost)
	r.Get("/menus", s.listMenus)
	r.Get("/menus/{location}", s.getMenu)
	r.Get("/site", s.getSite)

	return r
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var out []Product
	switch {
	case q.Get("search") != "":
		out = s.Facade.SearchProducts(ctx, q.Get("search"))
	case q.Get("category") != "":
		out = s.Facade.ProductsByCategory(ctx, q.Get("category"))
	case q.Get("featured") == "true":
		out = s.Facade.FeaturedProducts(ctx)
	case q.Get("on_sale") == "true":
		out = s.Facade.OnSaleProducts(ctx)
	default:
		out = s.Facade.Products(ctx)
	}

	kit.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "idOrSlug")

	var p *Product
	if id, err := strconv.Atoi(key); err == nil {
		p = s.Facade.ProductByID(r.Context(), id)
	} else {
		p = s.Facade.ProductBySlug(r.Context(), key)
	}

	if p == nil {
		kit.WriteError(w, r, http.StatusNotFound, "not found", map[string]any{"product": key})
		return
	}
	kit.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	kit.WriteJSON(w, http.StatusOK, s.Facade.Categories(r.Context()))
}

func (s *Server) getCategory(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	c := s.Facade.CategoryBySlug(r.Context(), slug)
	if c == nil {
		kit.WriteError(w, r, http.StatusNotFound, "not found", map[string]any{"category": slug})
		return
	}
	kit.WriteJSON(w, http.StatusOK, c)
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	kit.WriteJSON(w, http.StatusOK, s.Facade.Pages(r.Context()))
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	p := s.Facade.PageBySlug(r.Context(), slug)
	if p == nil {
		kit.WriteError(w, r, http.StatusNotFound, "not found", map[string]any{"page": slug})
		return
	}
	kit.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	kit.WriteJSON(w, http.StatusOK, s.Facade.Posts(r.Context()))
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	p := s.Facade.PostBySlug(r.Context(), slug)
	if p == nil {
		kit.WriteError(w, r, http.StatusNotFound, "not found", map[string]any{"post": slug})
		return
	}
	kit.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) listMenus(w http.ResponseWriter, r *http.Request) {
	kit.WriteJSON(w, http.StatusOK, s.Facade.Menus(r.Context()))
}

func (s *Server) getMenu(w http.ResponseWriter, r *http.Request) {
	location := chi.URLParam(r, "location")
	m := s.Facade.MenuByLocation(r.Context(), location)
	if m == nil {
		kit.WriteError(w, r, http.StatusNotFound, "not found", map[string]any{"location": location})
		return
	}
	kit.WriteJSON(w, http.StatusOK, m)
}

func (s *Server) getSite(w http.ResponseWriter, r *http.Request) {
	si := s.Facade.SiteInfo(r.Context())
	if si == nil {
		kit.WriteError(w, r, http.StatusNotFound, "site info unavailable", nil)
		return
	}
	kit.WriteJSON(w, http.StatusOK, si)
}
