package cart

// Totals and item prices are major currency units. The Store API speaks
// integer minor units; conversion happens once, where responses are merged.

type Totals struct {
	Subtotal      float64 `json:"subtotal"`
	DiscountTotal float64 `json:"discountTotal"`
	TaxTotal      float64 `json:"taxTotal"`
	ShippingTotal float64 `json:"shippingTotal"`
	Total         float64 `json:"total"`
}

type Item struct {
	Key       string  `json:"key"`
	ProductID int     `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	LineTotal float64 `json:"lineTotal"`
	Image     string  `json:"image,omitempty"`

	// LocalOnly marks lines created while the Store API was unavailable.
	// They have a locally generated key and are never sent to the origin
	// until a sync replays them.
	LocalOnly bool `json:"localOnly,omitempty"`
}

type Coupon struct {
	Code          string  `json:"code"`
	DiscountType  string  `json:"discountType"`
	DiscountTotal float64 `json:"discountTotal"`
	DiscountTax   float64 `json:"discountTax"`
}

type State struct {
	Items          []Item          `json:"items"`
	CartToken      string          `json:"cartToken"`
	Totals         Totals          `json:"totals"`
	AppliedCoupons []Coupon        `json:"appliedCoupons"`
	IsHydrated     bool            `json:"isHydrated"`
	NeedsSync      bool            `json:"needsSync"`
	RetryCount     int             `json:"retryCount"`
	LocalOnly      bool            `json:"localOnly"`
	Loading        map[string]bool `json:"loadingStates"`
}

func (s State) Count() int {
	n := 0
	for _, it := range s.Items {
		n += it.Quantity
	}
	return n
}

func (s *State) item(key string) (Item, bool) {
	for _, it := range s.Items {
		if it.Key == key {
			return it, true
		}
	}
	return Item{}, false
}
