package wishlist

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"Storefront/internal/catalog"
)

type Service struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, now: time.Now}
}

func (s *Service) Ping() error { return s.store.Ping() }

func (s *Service) List(owner string) ([]Item, error) {
	items, err := s.store.List(owner)
	if err != nil {
		return nil, fmt.Errorf("list wishlist: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].AddedAt.Before(items[j].AddedAt) })
	return items, nil
}

// Add is idempotent: adding a product already on the list keeps the original
// entry and its AddedAt.
func (s *Service) Add(owner string, p catalog.Product) ([]Item, error) {
	items, err := s.List(owner)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.ID == p.ID {
			return items, nil
		}
	}
	items = append(items, Item{ID: p.ID, Product: p, AddedAt: s.now()})
	if err := s.store.Save(owner, items); err != nil {
		return nil, fmt.Errorf("save wishlist: %w", err)
	}
	return items, nil
}

func (s *Service) Remove(owner string, productID int) ([]Item, error) {
	items, err := s.List(owner)
	if err != nil {
		return nil, err
	}
	kept := items[:0]
	for _, it := range items {
		if it.ID != productID {
			kept = append(kept, it)
		}
	}
	if err := s.store.Save(owner, kept); err != nil {
		return nil, fmt.Errorf("save wishlist: %w", err)
	}
	return kept, nil
}

// Merge folds a guest's wishlist into a user's at login: union by product id
// with the user's entry winning on conflict. The merged set becomes the
// user's and the guest set is cleared.
func (s *Service) Merge(guestOwner, userOwner string) ([]Item, error) {
	guest, err := s.List(guestOwner)
	if err != nil {
		return nil, err
	}
	user, err := s.List(userOwner)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]struct{}, len(user))
	for _, it := range user {
		seen[it.ID] = struct{}{}
	}
	merged := user
	for _, it := range guest {
		if _, dup := seen[it.ID]; !dup {
			merged = append(merged, it)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].AddedAt.Before(merged[j].AddedAt) })

	if err := s.store.Save(userOwner, merged); err != nil {
		return nil, fmt.Errorf("save merged wishlist: %w", err)
	}
	if err := s.store.Clear(guestOwner); err != nil {
		s.log.Warn("clear guest wishlist failed", zap.String("owner", guestOwner), zap.Error(err))
	}
	return merged, nil
}
