package catalog

import (
	"encoding/json"
	"strconv"
	"time"

	"Storefront/internal/wp"
)

func normalizeProduct(raw wp.RawProduct, now time.Time) Product {
	p := Product{
		ID:               raw.ID,
		Name:             raw.Name,
		Slug:             raw.Slug,
		Permalink:        raw.Permalink,
		Description:      raw.Description,
		ShortDescription: raw.ShortDescription,
		Price:            parsePrice(raw.Price),
		RegularPrice:     parsePrice(raw.RegularPrice),
		SalePrice:        parsePrice(raw.SalePrice),
		OnSale:           raw.OnSale,
		Featured:         raw.Featured,
		InStock:          raw.StockStatus != "outofstock",
		Images:           make([]Image, 0, len(raw.Images)),
		Categories:       normalizeTerms(raw.Categories),
		Tags:             normalizeTerms(raw.Tags),
		Variations:       normalizeVariations(raw.Variations),
		LastUpdated:      now,
	}

	for _, img := range raw.Images {
		if img.Src == "" {
			continue
		}
		p.Images = append(p.Images, Image{Src: img.Src, Alt: img.Alt})
	}

	return p
}

// normalizeVariations keeps only fully-expanded variation objects. When the
// origin sends bare numeric ids (a lazy-loaded reference list) the result is
// an empty list: ids alone would force a cache consumer back to the origin.
func normalizeVariations(raws []json.RawMessage) []Variation {
	out := make([]Variation, 0, len(raws))
	for _, raw := range raws {
		var rv wp.RawVariation
		if err := json.Unmarshal(raw, &rv); err != nil {
			return []Variation{}
		}
		v := Variation{
			ID:     rv.ID,
			Price:  parsePrice(rv.Price),
			OnSale: rv.OnSale,
		}
		if len(rv.Attributes) > 0 {
			v.Attributes = make(map[string]string, len(rv.Attributes))
			for _, a := range rv.Attributes {
				v.Attributes[a.Name] = a.Option
			}
		}
		out = append(out, v)
	}
	return out
}

func normalizeTerms(raws []wp.RawTerm) []TermRef {
	out := make([]TermRef, 0, len(raws))
	for _, t := range raws {
		out = append(out, TermRef{ID: t.ID, Name: t.Name, Slug: t.Slug})
	}
	return out
}

func normalizeCategory(raw wp.RawCategory, now time.Time) Category {
	c := Category{
		ID:          raw.ID,
		Name:        raw.Name,
		Slug:        raw.Slug,
		Parent:      raw.Parent,
		Description: raw.Description,
		Count:       raw.Count,
		LastUpdated: now,
	}
	if raw.Image != nil {
		c.Image = raw.Image.Src
	}
	return c
}

func normalizePage(raw wp.RawPage, now time.Time) Page {
	return Page{
		ID:          raw.ID,
		Slug:        raw.Slug,
		Title:       raw.Title.Rendered,
		Content:     raw.Content.Rendered,
		Excerpt:     raw.Excerpt.Rendered,
		LastUpdated: now,
	}
}

func normalizePost(raw wp.RawPost, now time.Time) Post {
	return Post{
		ID:          raw.ID,
		Slug:        raw.Slug,
		Title:       raw.Title.Rendered,
		Content:     raw.Content.Rendered,
		Excerpt:     raw.Excerpt.Rendered,
		Date:        raw.Date,
		LastUpdated: now,
	}
}

func normalizeSite(raw wp.RawSite, now time.Time) SiteInfo {
	u := raw.URL
	if u == "" {
		u = raw.Home
	}
	return SiteInfo{
		Name:        raw.Name,
		Description: raw.Description,
		URL:         u,
		LastUpdated: now,
	}
}

func parsePrice(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
