package wp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store API cart shapes. All monetary fields are strings of integer minor
// currency units.

type CartItemPrices struct {
	Price             string `json:"price"`
	RegularPrice      string `json:"regular_price"`
	SalePrice         string `json:"sale_price"`
	CurrencyMinorUnit int    `json:"currency_minor_unit"`
}

type CartItemTotals struct {
	LineTotal         string `json:"line_total"`
	LineSubtotal      string `json:"line_subtotal"`
	CurrencyMinorUnit int    `json:"currency_minor_unit"`
}

type CartItem struct {
	Key      string         `json:"key"`
	ID       int            `json:"id"`
	Name     string         `json:"name"`
	Quantity int            `json:"quantity"`
	Images   []RawImage     `json:"images"`
	Prices   CartItemPrices `json:"prices"`
	Totals   CartItemTotals `json:"totals"`
}

type CouponTotals struct {
	TotalDiscount     string `json:"total_discount"`
	TotalDiscountTax  string `json:"total_discount_tax"`
	CurrencyMinorUnit int    `json:"currency_minor_unit"`
}

type CartCoupon struct {
	Code         string       `json:"code"`
	DiscountType string       `json:"discount_type"`
	Totals       CouponTotals `json:"totals"`
}

// CartTotals carries both discount spellings: different WooCommerce versions
// populate different fields.
type CartTotals struct {
	TotalItems        string `json:"total_items"`
	TotalPrice        string `json:"total_price"`
	TotalDiscount     string `json:"total_discount"`
	DiscountTotal     string `json:"discount_total"`
	TotalTax          string `json:"total_tax"`
	TotalShipping     string `json:"total_shipping"`
	CurrencyMinorUnit int    `json:"currency_minor_unit"`
}

type CartResponse struct {
	Items   []CartItem   `json:"items"`
	Coupons []CartCoupon `json:"coupons"`
	Totals  CartTotals   `json:"totals"`
}

// StoreAPIError is the decoded WooCommerce error body {code, message, data}.
type StoreAPIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *StoreAPIError) Error() string {
	return fmt.Sprintf("store api: %s (%s, status=%d)", e.Message, e.Code, e.Status)
}

// ErrStoreUnavailable means the Store API itself is not there (WooCommerce
// plugin deactivated or routes unregistered), as opposed to a failed call.
var ErrStoreUnavailable = errors.New("store api unavailable")

var unavailableCodes = map[string]struct{}{
	"rest_no_route":                {},
	"rest_disabled":                {},
	"woocommerce_rest_cannot_view": {},
	"woocommerce_api_disabled":     {},
}

const (
	cartTokenHeader = "Cart-Token"
	nonceHeader     = "X-WC-Store-API-Nonce"

	// mutations stay short so a hung origin cannot stall cart flows
	cartTimeout = 8 * time.Second
)

// StoreClient talks to the WooCommerce Store API. The cart token identifies
// the server-side cart session and is owned by the caller; the nonce is a
// transport detail tracked here. A token is never fabricated: when the origin
// yields none, callers see an empty token alongside the error.
type StoreClient struct {
	BaseURL string
	HTTP    *http.Client
	Log     *zap.Logger

	mu    sync.Mutex
	nonce string
}

func NewStoreClient(baseURL string, log *zap.Logger) *StoreClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &StoreClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: cartTimeout},
		Log:     log,
	}
}

func (c *StoreClient) Cart(ctx context.Context, token string) (CartResponse, string, error) {
	return c.do(ctx, http.MethodGet, "/wp-json/wc/store/v1/cart", token, nil)
}

func (c *StoreClient) AddItem(ctx context.Context, token string, productID, variationID, quantity int) (CartResponse, string, error) {
	body := map[string]any{"id": productID, "quantity": quantity}
	if variationID > 0 {
		body["id"] = variationID
	}
	return c.do(ctx, http.MethodPost, "/wp-json/wc/store/v1/cart/add-item", token, body)
}

func (c *StoreClient) UpdateItem(ctx context.Context, token, key string, quantity int) (CartResponse, string, error) {
	body := map[string]any{"key": key, "quantity": quantity}
	return c.do(ctx, http.MethodPost, "/wp-json/wc/store/v1/cart/update-item", token, body)
}

func (c *StoreClient) RemoveItem(ctx context.Context, token, key string) (CartResponse, string, error) {
	body := map[string]any{"key": key}
	return c.do(ctx, http.MethodPost, "/wp-json/wc/store/v1/cart/remove-item", token, body)
}

func (c *StoreClient) ApplyCoupon(ctx context.Context, token, code string) (CartResponse, string, error) {
	body := map[string]any{"code": code}
	return c.do(ctx, http.MethodPost, "/wp-json/wc/store/v1/cart/apply-coupon", token, body)
}

func (c *StoreClient) RemoveCoupon(ctx context.Context, token, code string) (CartResponse, string, error) {
	path := "/wp-json/wc/store/v1/cart/remove-coupon?code=" + url.QueryEscape(code)
	return c.do(ctx, http.MethodPost, path, token, nil)
}

func (c *StoreClient) do(ctx context.Context, method, path, token string, body any) (CartResponse, string, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return CartResponse{}, token, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return CartResponse{}, token, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(cartTokenHeader, token)
	}
	c.mu.Lock()
	if c.nonce != "" {
		req.Header.Set(nonceHeader, c.nonce)
	}
	c.mu.Unlock()

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return CartResponse{}, token, classifyTransport(err)
	}
	defer resp.Body.Close()

	if n := resp.Header.Get(nonceHeader); n != "" {
		c.mu.Lock()
		c.nonce = n
		c.mu.Unlock()
	}
	if t := resp.Header.Get(cartTokenHeader); t != "" {
		token = t
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return CartResponse{}, token, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &StoreAPIError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil {
			apiErr.Code = "unknown"
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		if _, gone := unavailableCodes[apiErr.Code]; gone {
			return CartResponse{}, token, fmt.Errorf("%w: %s", ErrStoreUnavailable, apiErr.Code)
		}
		return CartResponse{}, token, apiErr
	}

	var cart CartResponse
	if err := json.Unmarshal(raw, &cart); err != nil {
		return CartResponse{}, token, fmt.Errorf("decode cart: %w", err)
	}
	return cart, token, nil
}
