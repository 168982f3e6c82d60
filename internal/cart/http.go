package cart

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"Storefront/internal/catalog"
	"Storefront/internal/identity"
	"Storefront/pkg/kit"
)

type Server struct {
	Carts   *Manager
	Catalog *catalog.Facade
	Log     *zap.Logger
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.getCart)
	r.Delete("/", s.clearCart)
	r.Post("/items", s.addItem)
	r.Put("/items/{key}", s.updateItem)
	r.Delete("/items/{key}", s.removeItem)
	r.Post("/coupons", s.applyCoupon)
	r.Delete("/coupons/{code}", s.removeCoupon)
	r.Post("/sync", s.syncCart)
	r.Post("/switch", s.switchIdentity)

	return r
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		kit.WriteError(w, r, http.StatusUnauthorized, "no identity", nil)
		return nil, false
	}
	return s.Carts.Session(id.Key()), true
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.EnsureLoaded(r.Context()); err != nil {
		// hydrated from the local fallback; still serveable
		if s.Log != nil {
			s.Log.Warn("cart served from local fallback", zap.Error(err))
		}
	}
	kit.WriteJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var body struct {
		ProductID   int `json:"product_id"`
		VariationID int `json:"variation_id"`
		Quantity    int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ProductID <= 0 {
		kit.WriteError(w, r, http.StatusBadRequest, "invalid body", nil)
		return
	}

	product := s.Catalog.ProductByID(r.Context(), body.ProductID)
	if product == nil {
		kit.WriteError(w, r, http.StatusNotFound, "product not found", nil)
		return
	}

	req := AddRequest{
		ProductID:   body.ProductID,
		VariationID: body.VariationID,
		Quantity:    body.Quantity,
		Name:        product.Name,
		Price:       product.Price,
	}
	if len(product.Images) > 0 {
		req.Image = product.Images[0].Src
	}

	if err := sess.EnsureLoaded(r.Context()); err != nil && s.Log != nil {
		s.Log.Warn("add to unhydrated cart", zap.Error(err))
	}
	if err := sess.AddItem(r.Context(), req); err != nil {
		s.writeCartError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var body struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "invalid body", nil)
		return
	}

	if err := sess.UpdateItem(r.Context(), chi.URLParam(r, "key"), body.Quantity); err != nil {
		s.writeCartError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.RemoveItem(r.Context(), chi.URLParam(r, "key")); err != nil {
		s.writeCartError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Clear(r.Context()); err != nil {
		s.writeCartError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) applyCoupon(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Code == "" {
		kit.WriteError(w, r, http.StatusBadRequest, "invalid body", nil)
		return
	}

	if err := sess.ApplyCoupon(r.Context(), body.Code); err != nil {
		s.writeCartError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) removeCoupon(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.RemoveCoupon(r.Context(), chi.URLParam(r, "code")); err != nil {
		s.writeCartError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) syncCart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Sync(r.Context()); err != nil {
		s.writeCartError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, sess.Snapshot())
}

// switchIdentity migrates a client that just logged in: the guest session it
// used before is retired and the authenticated identity's cart is loaded.
func (s *Server) switchIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		kit.WriteError(w, r, http.StatusUnauthorized, "no identity", nil)
		return
	}

	var body struct {
		PreviousGuestSession string `json:"previous_guest_session"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PreviousGuestSession == "" {
		kit.WriteError(w, r, http.StatusBadRequest, "invalid body", nil)
		return
	}

	old := identity.Identity{Kind: identity.KindGuest, ID: body.PreviousGuestSession}
	sess, err := s.Carts.SwitchIdentity(r.Context(), old.Key(), id.Key())
	if err != nil && s.Log != nil {
		s.Log.Warn("identity switch load failed", zap.Error(err))
	}
	kit.WriteJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) writeCartError(w http.ResponseWriter, r *http.Request, err error) {
	var couponErr *CouponError
	if errors.As(err, &couponErr) {
		kit.WriteError(w, r, http.StatusBadRequest, couponErr.Message, map[string]string{"code": couponErr.Code})
		return
	}
	if s.Log != nil {
		s.Log.Warn("cart operation failed", zap.Error(err))
	}
	kit.WriteError(w, r, http.StatusBadGateway, err.Error(), nil)
}
