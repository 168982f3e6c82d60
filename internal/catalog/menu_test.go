package catalog

import (
	"net/url"
	"testing"
	"time"

	"Storefront/internal/wp"
)

var menuNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestNormalizeMenus_LocationInference(t *testing.T) {
	origin := mustParse(t, "https://shop.example")

	raws := []wp.RawMenu{
		{ID: 1, Name: "Main Navigation", Slug: "main-navigation"},
		{ID: 2, Name: "Footer Links", Slug: "footer-links"},
		{ID: 3, Name: "Sidebar", Slug: "sidebar"},
		{ID: 4, Name: "Extras", Slug: "extras"},
	}

	out := normalizeMenus(raws, origin, menuNow)

	if out[0].Location != "primary" {
		t.Fatalf("main menu location=%q", out[0].Location)
	}
	if out[1].Location != "footer" {
		t.Fatalf("footer menu location=%q", out[1].Location)
	}
	// primary already taken, so unlabeled menus fall back to their slug
	if out[2].Location != "sidebar" {
		t.Fatalf("sidebar menu location=%q", out[2].Location)
	}
	if out[3].Location != "extras" {
		t.Fatalf("extras menu location=%q", out[3].Location)
	}
}

func TestNormalizeMenus_FirstUnlabeledBecomesPrimary(t *testing.T) {
	origin := mustParse(t, "https://shop.example")

	raws := []wp.RawMenu{
		{ID: 1, Name: "Links", Slug: "links"},
		{ID: 2, Name: "More Links", Slug: "more-links"},
	}

	out := normalizeMenus(raws, origin, menuNow)

	if out[0].Location != "primary" {
		t.Fatalf("first menu location=%q", out[0].Location)
	}
	if out[1].Location != "more-links" {
		t.Fatalf("second menu location=%q", out[1].Location)
	}
}

func TestNormalizeMenus_ExplicitLocationWins(t *testing.T) {
	origin := mustParse(t, "https://shop.example")

	raws := []wp.RawMenu{
		{ID: 1, Name: "Main Navigation", Slug: "main", Location: "footer"},
		{ID: 2, Name: "Other", Slug: "other"},
	}

	out := normalizeMenus(raws, origin, menuNow)

	if out[0].Location != "footer" {
		t.Fatalf("explicit location overridden: %q", out[0].Location)
	}
}

func TestNormalizeMenus_SingleMenuForcedPrimary(t *testing.T) {
	origin := mustParse(t, "https://shop.example")

	raws := []wp.RawMenu{
		{ID: 1, Name: "Footer Links", Slug: "footer-links", Location: "footer"},
	}

	out := normalizeMenus(raws, origin, menuNow)

	if out[0].Location != "primary" {
		t.Fatalf("single menu must be primary, got %q", out[0].Location)
	}
}

func TestRewriteMenuURL(t *testing.T) {
	origin := mustParse(t, "https://shop.example")

	cases := []struct {
		in   string
		want string
	}{
		{"https://shop.example/about", "/about"},
		{"https://shop.example/shop?orderby=price", "/shop?orderby=price"},
		{"https://shop.example", "/"},
		{"https://shop.example/wp-content/uploads/2025/06/banner.png", "https://shop.example/wp-content/uploads/2025/06/banner.png"},
		{"https://shop.example/wp-admin/admin.php", "https://shop.example/wp-admin/admin.php"},
		{"https://elsewhere.example/page", "https://elsewhere.example/page"},
		{"/already/relative", "/already/relative"},
	}

	for _, tc := range cases {
		if got := rewriteMenuURL(tc.in, origin); got != tc.want {
			t.Fatalf("rewrite %q: got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeMenus_RewritesNestedItemURLs(t *testing.T) {
	origin := mustParse(t, "https://shop.example")

	raws := []wp.RawMenu{{
		ID:   1,
		Name: "Main",
		Slug: "main",
		Items: []wp.RawMenuItem{{
			ID:  10,
			URL: "https://shop.example/shop",
			ChildItems: []wp.RawMenuItem{{
				ID:  11,
				URL: "https://shop.example/shop/tools",
			}},
		}},
	}}

	out := normalizeMenus(raws, origin, menuNow)

	if out[0].Items[0].URL != "/shop" {
		t.Fatalf("item url=%q", out[0].Items[0].URL)
	}
	if out[0].Items[0].Children[0].URL != "/shop/tools" {
		t.Fatalf("child url=%q", out[0].Items[0].Children[0].URL)
	}
}
