package wp

import "encoding/json"

type RawImage struct {
	ID  int    `json:"id"`
	Src string `json:"src"`
	Alt string `json:"alt"`
}

type RawTerm struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// RawProduct is the WooCommerce REST v3 product shape. Variations may arrive
// either as expanded objects or as bare numeric ids depending on how the origin
// is configured, so they stay raw until normalization.
type RawProduct struct {
	ID               int               `json:"id"`
	Name             string            `json:"name"`
	Slug             string            `json:"slug"`
	Permalink        string            `json:"permalink"`
	Description      string            `json:"description"`
	ShortDescription string            `json:"short_description"`
	Price            string            `json:"price"`
	RegularPrice     string            `json:"regular_price"`
	SalePrice        string            `json:"sale_price"`
	OnSale           bool              `json:"on_sale"`
	Featured         bool              `json:"featured"`
	StockStatus      string            `json:"stock_status"`
	Images           []RawImage        `json:"images"`
	Categories       []RawTerm         `json:"categories"`
	Tags             []RawTerm         `json:"tags"`
	Variations       []json.RawMessage `json:"variations"`
}

type RawVariation struct {
	ID         int    `json:"id"`
	Price      string `json:"price"`
	OnSale     bool   `json:"on_sale"`
	Attributes []struct {
		Name   string `json:"name"`
		Option string `json:"option"`
	} `json:"attributes"`
}

type RawCategory struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Parent      int       `json:"parent"`
	Description string    `json:"description"`
	Count       int       `json:"count"`
	Image       *RawImage `json:"image"`
}

type rendered struct {
	Rendered string `json:"rendered"`
}

type RawPage struct {
	ID       int      `json:"id"`
	Slug     string   `json:"slug"`
	Link     string   `json:"link"`
	Modified string   `json:"modified"`
	Title    rendered `json:"title"`
	Content  rendered `json:"content"`
	Excerpt  rendered `json:"excerpt"`
}

type RawPost struct {
	ID            int      `json:"id"`
	Slug          string   `json:"slug"`
	Link          string   `json:"link"`
	Date          string   `json:"date"`
	FeaturedMedia int      `json:"featured_media"`
	Title         rendered `json:"title"`
	Content       rendered `json:"content"`
	Excerpt       rendered `json:"excerpt"`
}

type RawMenuItem struct {
	ID         int           `json:"ID"`
	Title      string        `json:"title"`
	URL        string        `json:"url"`
	ChildItems []RawMenuItem `json:"child_items"`
}

type RawMenu struct {
	ID       int           `json:"term_id"`
	Name     string        `json:"name"`
	Slug     string        `json:"slug"`
	Location string        `json:"location"`
	Items    []RawMenuItem `json:"items"`
}

type RawSite struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Home        string `json:"home"`
}
