package wishlist

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"Storefront/internal/catalog"
	"Storefront/internal/identity"
	"Storefront/pkg/kit"
)

type Server struct {
	Svc     *Service
	Catalog *catalog.Facade
	Log     *zap.Logger
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.list)
	r.Post("/merge", s.merge)
	r.Post("/{productID}", s.add)
	r.Delete("/{productID}", s.remove)

	return r
}

func (s *Server) owner(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		kit.WriteError(w, r, http.StatusUnauthorized, "no identity", nil)
		return identity.Identity{}, false
	}
	return id, true
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	id, ok := s.owner(w, r)
	if !ok {
		return
	}
	items, err := s.Svc.List(id.Key())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) add(w http.ResponseWriter, r *http.Request) {
	id, ok := s.owner(w, r)
	if !ok {
		return
	}
	productID, err := strconv.Atoi(chi.URLParam(r, "productID"))
	if err != nil || productID <= 0 {
		kit.WriteError(w, r, http.StatusBadRequest, "invalid product id", nil)
		return
	}

	product := s.Catalog.ProductByID(r.Context(), productID)
	if product == nil {
		kit.WriteError(w, r, http.StatusNotFound, "product not found", nil)
		return
	}

	items, err := s.Svc.Add(id.Key(), *product)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := s.owner(w, r)
	if !ok {
		return
	}
	productID, err := strconv.Atoi(chi.URLParam(r, "productID"))
	if err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "invalid product id", nil)
		return
	}

	items, err := s.Svc.Remove(id.Key(), productID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

// merge runs at login. The caller must already be authenticated; the body
// names the guest session whose list is folded in.
func (s *Server) merge(w http.ResponseWriter, r *http.Request) {
	id, ok := s.owner(w, r)
	if !ok {
		return
	}
	if id.Kind != identity.KindUser {
		kit.WriteError(w, r, http.StatusForbidden, "merge requires an authenticated user", nil)
		return
	}

	var body struct {
		PreviousGuestSession string `json:"previous_guest_session"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PreviousGuestSession == "" {
		kit.WriteError(w, r, http.StatusBadRequest, "invalid body", nil)
		return
	}

	guest := identity.Identity{Kind: identity.KindGuest, ID: body.PreviousGuestSession}
	items, err := s.Svc.Merge(guest.Key(), id.Key())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if s.Log != nil {
		s.Log.Warn("wishlist operation failed", zap.Error(err))
	}
	kit.WriteError(w, r, http.StatusInternalServerError, "wishlist unavailable", nil)
}
