package catalog

import "time"

type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt"`
}

type TermRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Variation struct {
	ID         int               `json:"id"`
	Price      float64           `json:"price"`
	OnSale     bool              `json:"onSale"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type Product struct {
	ID               int         `json:"id"`
	Name             string      `json:"name"`
	Slug             string      `json:"slug"`
	Permalink        string      `json:"permalink"`
	Description      string      `json:"description"`
	ShortDescription string      `json:"shortDescription"`
	Price            float64     `json:"price"`
	RegularPrice     float64     `json:"regularPrice"`
	SalePrice        float64     `json:"salePrice"`
	OnSale           bool        `json:"onSale"`
	Featured         bool        `json:"featured"`
	InStock          bool        `json:"inStock"`
	Images           []Image     `json:"images"`
	Categories       []TermRef   `json:"categories"`
	Tags             []TermRef   `json:"tags"`
	Variations       []Variation `json:"variations"`
	LastUpdated      time.Time   `json:"lastUpdated"`
}

type Category struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Parent      int       `json:"parent"`
	Description string    `json:"description"`
	Count       int       `json:"count"`
	Image       string    `json:"image,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type Page struct {
	ID          int       `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Excerpt     string    `json:"excerpt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type Post struct {
	ID          int       `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Excerpt     string    `json:"excerpt"`
	Date        string    `json:"date"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type MenuItem struct {
	ID       int        `json:"id"`
	Title    string     `json:"title"`
	URL      string     `json:"url"`
	Children []MenuItem `json:"children,omitempty"`
}

type Menu struct {
	ID          int        `json:"id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Location    string     `json:"location"`
	Items       []MenuItem `json:"items"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

type SiteInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Meta records when the cache was last refreshed, persisted alongside the data.
type Meta struct {
	LastFullRefresh    time.Time `json:"lastFullRefresh"`
	LastPartialRefresh time.Time `json:"lastPartialRefresh"`
	LastPartialKind    string    `json:"lastPartialKind,omitempty"`
	Checksum           string    `json:"checksum,omitempty"`
}
