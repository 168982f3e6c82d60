package wishlist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"Storefront/internal/catalog"
	"Storefront/internal/diskcache"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cache, err := diskcache.NewStore(diskcache.Config{Dir: t.TempDir()}, prometheus.NewRegistry(), zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return NewService(NewFileStore(cache), zap.NewNop())
}

func product(id int) catalog.Product {
	return catalog.Product{ID: id, Name: "p", Price: 1}
}

func TestService_AddIsIdempotent(t *testing.T) {
	svc := newTestService(t)

	first, err := svc.Add("g_a", product(1))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	addedAt := first[0].AddedAt

	time.Sleep(2 * time.Millisecond)
	again, err := svc.Add("g_a", product(1))
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if len(again) != 1 {
		t.Fatalf("len = %d, want 1", len(again))
	}
	if !again[0].AddedAt.Equal(addedAt) {
		t.Fatal("re-add must keep the original AddedAt")
	}
}

func TestService_RemoveAndPersist(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.Add("g_a", product(1)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Add("g_a", product(2)); err != nil {
		t.Fatalf("add: %v", err)
	}

	items, err := svc.Remove("g_a", 1)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(items) != 1 || items[0].ID != 2 {
		t.Fatalf("items = %+v", items)
	}

	// a fresh read comes from disk, not memory
	items, err = svc.List("g_a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != 2 {
		t.Fatalf("persisted items = %+v", items)
	}
}

func TestService_MergeUnionsAndClearsGuest(t *testing.T) {
	svc := newTestService(t)

	for _, id := range []int{1, 2} {
		if _, err := svc.Add("g_guest", product(id)); err != nil {
			t.Fatalf("guest add: %v", err)
		}
	}
	for _, id := range []int{2, 3} {
		if _, err := svc.Add("u_7", product(id)); err != nil {
			t.Fatalf("user add: %v", err)
		}
	}

	merged, err := svc.Merge("g_guest", "u_7")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	got := map[int]bool{}
	for _, it := range merged {
		if got[it.ID] {
			t.Fatalf("duplicate id %d in %+v", it.ID, merged)
		}
		got[it.ID] = true
	}
	for _, want := range []int{1, 2, 3} {
		if !got[want] {
			t.Fatalf("merged = %+v, missing %d", merged, want)
		}
	}

	guest, err := svc.List("g_guest")
	if err != nil {
		t.Fatalf("guest list: %v", err)
	}
	if len(guest) != 0 {
		t.Fatalf("guest list = %+v, want cleared", guest)
	}

	user, err := svc.List("u_7")
	if err != nil {
		t.Fatalf("user list: %v", err)
	}
	if len(user) != 3 {
		t.Fatalf("user list = %+v, want merged set persisted", user)
	}
}

func TestService_ListEmptyOwner(t *testing.T) {
	svc := newTestService(t)
	items, err := svc.List("g_nobody")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("items = %+v", items)
	}
}

func TestFileStore_OwnerCannotEscapeCacheDir(t *testing.T) {
	base := t.TempDir()
	cacheDir := filepath.Join(base, "cache")
	cache, err := diskcache.NewStore(diskcache.Config{Dir: cacheDir}, prometheus.NewRegistry(), zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	store := NewFileStore(cache)

	// an envelope-shaped file one level above the cache dir
	outside := filepath.Join(base, "secret.json")
	if err := os.WriteFile(outside, []byte(`{"data":[{"id":777}],"lastUpdated":"2025-06-01T00:00:00Z","expiry":60}`), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	owner := "g_/../../secret"
	items, err := store.List(owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("list read outside the cache dir: %+v", items)
	}

	if err := store.Clear(owner); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("file outside the cache dir was deleted: %v", err)
	}

	if err := store.Save(owner, []Item{{ID: 1}}); err == nil {
		t.Fatal("save accepted a traversal owner")
	}
}
