package wishlist

import (
	"time"

	"Storefront/internal/catalog"
)

type Item struct {
	ID      int             `json:"id"`
	Product catalog.Product `json:"product"`
	AddedAt time.Time       `json:"addedAt"`
}

// Store persists one wishlist per identity key. Save replaces the whole set;
// lists are small enough that read-modify-write beats per-item churn.
type Store interface {
	List(owner string) ([]Item, error)
	Save(owner string, items []Item) error
	Clear(owner string) error
	Ping() error
}
