package wishlist

import (
	"time"

	"Storefront/internal/diskcache"
)

// wishlists never expire on their own, only explicit clears remove them
const fileExpiry = 365 * 24 * time.Hour

type FileStore struct {
	cache *diskcache.Store
}

func NewFileStore(cache *diskcache.Store) *FileStore {
	return &FileStore{cache: cache}
}

func (s *FileStore) key(owner string) string { return "wishlist-" + owner }

func (s *FileStore) List(owner string) ([]Item, error) {
	var items []Item
	if !s.cache.Peek(s.key(owner), &items) {
		return nil, nil
	}
	return items, nil
}

func (s *FileStore) Save(owner string, items []Item) error {
	return s.cache.SetWithExpiry(s.key(owner), items, fileExpiry)
}

func (s *FileStore) Clear(owner string) error {
	s.cache.Invalidate(s.key(owner))
	return nil
}

func (s *FileStore) Ping() error { return s.cache.Ping() }
