package catalog

import (
	"net/url"
	"strings"
	"time"

	"Storefront/internal/wp"
)

var primaryHints = []string{"primary", "main", "header"}

// normalizeMenus resolves each menu's location. Explicit locations win; then
// name/slug hints; then the first unlabeled menu becomes "primary" and later
// ones fall back to their own slug. A site with exactly one menu has nothing
// to disambiguate, so that menu is always "primary".
func normalizeMenus(raws []wp.RawMenu, origin *url.URL, now time.Time) []Menu {
	out := make([]Menu, 0, len(raws))
	hasPrimary := false

	for _, raw := range raws {
		loc := strings.ToLower(strings.TrimSpace(raw.Location))
		if loc == "" {
			loc = inferLocation(raw.Name, raw.Slug)
		}
		if loc == "" {
			if !hasPrimary {
				loc = "primary"
			} else {
				loc = raw.Slug
			}
		}
		if loc == "primary" {
			hasPrimary = true
		}

		out = append(out, Menu{
			ID:          raw.ID,
			Name:        raw.Name,
			Slug:        raw.Slug,
			Location:    loc,
			Items:       normalizeMenuItems(raw.Items, origin),
			LastUpdated: now,
		})
	}

	if len(out) == 1 {
		out[0].Location = "primary"
	}

	return out
}

func inferLocation(name, slug string) string {
	hay := strings.ToLower(name + " " + slug)
	for _, hint := range primaryHints {
		if strings.Contains(hay, hint) {
			return "primary"
		}
	}
	if strings.Contains(hay, "footer") {
		return "footer"
	}
	return ""
}

func normalizeMenuItems(raws []wp.RawMenuItem, origin *url.URL) []MenuItem {
	out := make([]MenuItem, 0, len(raws))
	for _, raw := range raws {
		out = append(out, MenuItem{
			ID:       raw.ID,
			Title:    raw.Title,
			URL:      rewriteMenuURL(raw.URL, origin),
			Children: normalizeMenuItems(raw.ChildItems, origin),
		})
	}
	return out
}

// rewriteMenuURL strips the origin's scheme and host so links stay on-site.
// Upload and admin paths are off-site assets and stay absolute.
func rewriteMenuURL(raw string, origin *url.URL) string {
	if origin == nil {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	if !strings.EqualFold(u.Host, origin.Host) {
		return raw
	}
	if strings.HasPrefix(u.Path, "/wp-content/uploads") || strings.HasPrefix(u.Path, "/wp-admin") {
		return raw
	}

	p := u.Path
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}
