package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"Storefront/internal/wp"
	"Storefront/pkg/kit"
)

// UpsertProduct replaces (or appends) a single product in the cache file by
// id, preserving the order of every other entry. It bypasses the TTL/origin
// machinery and runs even when caching is disabled: webhooks are the only
// source of real-time updates.
func (s *Service) UpsertProduct(ctx context.Context, raw wp.RawProduct) error {
	p := normalizeProduct(raw, s.now())

	single := []Product{p}
	s.routeProductImages(ctx, single)
	p = single[0]

	return s.store.Update(KeyProducts, func(data json.RawMessage) (any, error) {
		var list []Product
		if len(data) > 0 {
			_ = json.Unmarshal(data, &list)
		}

		for i := range list {
			if list[i].ID == p.ID {
				list[i] = p
				return list, nil
			}
		}
		return append(list, p), nil
	})
}

// RemoveProduct deletes a single product from the cache file by id.
func (s *Service) RemoveProduct(id int) error {
	return s.store.Update(KeyProducts, func(data json.RawMessage) (any, error) {
		var list []Product
		if len(data) > 0 {
			_ = json.Unmarshal(data, &list)
		}

		out := list[:0]
		for _, p := range list {
			if p.ID != id {
				out = append(out, p)
			}
		}
		return out, nil
	})
}

type WebhookPayload struct {
	Action    string          `json:"action" validate:"required,oneof=created updated deleted test"`
	Type      string          `json:"type" validate:"required,oneof=product category page post menu test"`
	ID        int             `json:"id" validate:"min=0"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type WebhookHandler struct {
	Svc      *Service
	Log      *zap.Logger
	validate *validator.Validate
}

func NewWebhookHandler(svc *Service, log *zap.Logger) *WebhookHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookHandler{
		Svc:      svc,
		Log:      log,
		validate: validator.New(),
	}
}

const maxWebhookBody = 1 << 20

var kindForType = map[string]string{
	"category": KeyCategories,
	"page":     KeyPages,
	"post":     KeyPosts,
	"menu":     KeyMenus,
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var payload WebhookPayload
	if err := dec.Decode(&payload); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		kit.WriteError(w, r, http.StatusBadRequest, "extra data after json object", nil)
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "invalid payload", map[string]any{"cause": err.Error()})
		return
	}

	if payload.Action == "test" || payload.Type == "test" {
		kit.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if payload.Type == "product" {
		h.handleProduct(w, r, payload)
		return
	}

	// non-product kinds have no single-item path; refresh the whole kind
	kind := kindForType[payload.Type]
	if err := h.Svc.RefreshPartial(r.Context(), kind); err != nil {
		h.Log.Warn("webhook partial refresh failed", zap.String("kind", kind), zap.Error(err))
		kit.WriteError(w, r, http.StatusBadGateway, "refresh failed", nil)
		return
	}
	kit.WriteJSON(w, http.StatusAccepted, map[string]any{"refreshed": kind})
}

func (h *WebhookHandler) handleProduct(w http.ResponseWriter, r *http.Request, payload WebhookPayload) {
	switch payload.Action {
	case "deleted":
		if err := h.Svc.RemoveProduct(payload.ID); err != nil {
			h.Log.Error("webhook product remove failed", zap.Int("id", payload.ID), zap.Error(err))
			kit.WriteError(w, r, http.StatusInternalServerError, "remove failed", nil)
			return
		}
		kit.WriteJSON(w, http.StatusOK, map[string]any{"removed": payload.ID})

	case "created", "updated":
		raw, err := h.productPayload(r, payload)
		if errors.Is(err, wp.ErrNotFound) {
			// the product vanished between the webhook and now
			_ = h.Svc.RemoveProduct(payload.ID)
			kit.WriteJSON(w, http.StatusOK, map[string]any{"removed": payload.ID})
			return
		}
		if err != nil {
			h.Log.Error("webhook product fetch failed", zap.Int("id", payload.ID), zap.Error(err))
			kit.WriteError(w, r, http.StatusBadGateway, "product fetch failed", nil)
			return
		}

		if err := h.Svc.UpsertProduct(r.Context(), raw); err != nil {
			h.Log.Error("webhook product upsert failed", zap.Int("id", payload.ID), zap.Error(err))
			kit.WriteError(w, r, http.StatusInternalServerError, "upsert failed", nil)
			return
		}
		kit.WriteJSON(w, http.StatusOK, map[string]any{"upserted": payload.ID})
	}
}

func (h *WebhookHandler) productPayload(r *http.Request, payload WebhookPayload) (wp.RawProduct, error) {
	if len(payload.Data) > 0 {
		var raw wp.RawProduct
		if err := json.Unmarshal(payload.Data, &raw); err == nil && raw.ID != 0 {
			return raw, nil
		}
		h.Log.Warn("webhook data undecodable, falling back to origin fetch", zap.Int("id", payload.ID))
	}
	return h.Svc.wcc.Product(r.Context(), payload.ID)
}
