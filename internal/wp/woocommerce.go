package wp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var ErrNoCredentials = errors.New("woocommerce credentials not configured")

// CommerceClient talks to the WooCommerce REST v3 API using consumer
// key/secret basic auth.
type CommerceClient struct {
	BaseURL string
	HTTP    *http.Client
	Log     *zap.Logger

	key     string
	secret  string
	breaker *gobreaker.CircuitBreaker
}

func NewCommerceClient(baseURL, key, secret string, log *zap.Logger) *CommerceClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &CommerceClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: readTimeout},
		Log:     log,
		key:     key,
		secret:  secret,
		breaker: newBreaker("woocommerce"),
	}
}

func (c *CommerceClient) Products(ctx context.Context) ([]RawProduct, error) {
	var out []RawProduct
	err := getPaginated(ctx, c.get, "/wp-json/wc/v3/products", func(body []byte) error {
		var page []RawProduct
		if err := json.Unmarshal(body, &page); err != nil {
			return err
		}
		out = append(out, page...)
		return nil
	})
	return out, err
}

func (c *CommerceClient) Product(ctx context.Context, id int) (RawProduct, error) {
	body, _, err := c.get(ctx, "/wp-json/wc/v3/products/"+strconv.Itoa(id), nil)
	if err != nil {
		return RawProduct{}, err
	}
	var p RawProduct
	if err := json.Unmarshal(body, &p); err != nil {
		return RawProduct{}, fmt.Errorf("decode product %d: %w", id, err)
	}
	return p, nil
}

func (c *CommerceClient) Categories(ctx context.Context) ([]RawCategory, error) {
	var out []RawCategory
	err := getPaginated(ctx, c.get, "/wp-json/wc/v3/products/categories", func(body []byte) error {
		var page []RawCategory
		if err := json.Unmarshal(body, &page); err != nil {
			return err
		}
		out = append(out, page...)
		return nil
	})
	return out, err
}

func (c *CommerceClient) get(ctx context.Context, path string, q url.Values) ([]byte, http.Header, error) {
	if c.key == "" || c.secret == "" {
		return nil, nil, ErrNoCredentials
	}
	return doGet(ctx, c.HTTP, c.breaker, c.BaseURL+path, q, func(req *http.Request) {
		req.SetBasicAuth(c.key, c.secret)
	})
}
