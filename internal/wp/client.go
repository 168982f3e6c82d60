package wp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	ErrUnavailable = errors.New("origin unavailable")
	ErrAuth        = errors.New("origin auth error")
	ErrNotFound    = errors.New("origin resource not found")
	ErrBadStatus   = errors.New("origin bad status")
)

const (
	readTimeout = 15 * time.Second
	perPage     = 100

	totalPagesHeader = "X-WP-TotalPages"
)

// Client talks to the WordPress REST API. All fetches run through a circuit
// breaker so a down origin is not hammered by miss-triggered recaches.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Log     *zap.Logger

	breaker *gobreaker.CircuitBreaker
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

func NewClient(baseURL string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: readTimeout},
		Log:     log,
		breaker: newBreaker("wordpress"),
	}
}

func (c *Client) Ping(ctx context.Context) error {
	_, _, err := c.get(ctx, "/wp-json", nil)
	return err
}

func (c *Client) SiteInfo(ctx context.Context) (RawSite, error) {
	var site RawSite
	body, _, err := c.get(ctx, "/wp-json", nil)
	if err != nil {
		return RawSite{}, err
	}
	if err := json.Unmarshal(body, &site); err != nil {
		return RawSite{}, fmt.Errorf("decode site info: %w", err)
	}
	return site, nil
}

func (c *Client) Posts(ctx context.Context) ([]RawPost, error) {
	var out []RawPost
	err := c.getPaginated(ctx, "/wp-json/wp/v2/posts", func(body []byte) error {
		var page []RawPost
		if err := json.Unmarshal(body, &page); err != nil {
			return err
		}
		out = append(out, page...)
		return nil
	})
	return out, err
}

func (c *Client) Pages(ctx context.Context) ([]RawPage, error) {
	var out []RawPage
	err := c.getPaginated(ctx, "/wp-json/wp/v2/pages", func(body []byte) error {
		var page []RawPage
		if err := json.Unmarshal(body, &page); err != nil {
			return err
		}
		out = append(out, page...)
		return nil
	})
	return out, err
}

// Menus lists menus via the menus plugin namespace, then fetches each menu's
// detail since the list endpoint omits items.
func (c *Client) Menus(ctx context.Context) ([]RawMenu, error) {
	body, _, err := c.get(ctx, "/wp-json/menus/v1/menus", nil)
	if err != nil {
		return nil, err
	}

	var list []RawMenu
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode menus: %w", err)
	}

	out := make([]RawMenu, 0, len(list))
	for _, m := range list {
		detail, _, err := c.get(ctx, "/wp-json/menus/v1/menus/"+url.PathEscape(m.Slug), nil)
		if err != nil {
			c.Log.Warn("menu detail fetch failed", zap.String("slug", m.Slug), zap.Error(err))
			out = append(out, m)
			continue
		}
		var full RawMenu
		if err := json.Unmarshal(detail, &full); err != nil {
			c.Log.Warn("menu detail undecodable", zap.String("slug", m.Slug), zap.Error(err))
			out = append(out, m)
			continue
		}
		out = append(out, full)
	}
	return out, nil
}

func (c *Client) getPaginated(ctx context.Context, path string, fn func(body []byte) error) error {
	return getPaginated(ctx, c.get, path, fn)
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, http.Header, error) {
	return doGet(ctx, c.HTTP, c.breaker, c.BaseURL+path, q, nil)
}

type getFunc func(ctx context.Context, path string, q url.Values) ([]byte, http.Header, error)

func getPaginated(ctx context.Context, get getFunc, path string, fn func(body []byte) error) error {
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(perPage))
		q.Set("page", strconv.Itoa(page))

		body, hdr, err := get(ctx, path, q)
		if err != nil {
			return err
		}
		if err := fn(body); err != nil {
			return fmt.Errorf("decode %s page %d: %w", path, page, err)
		}

		total, err := strconv.Atoi(hdr.Get(totalPagesHeader))
		if err != nil || page >= total {
			return nil
		}
	}
}

func doGet(ctx context.Context, client *http.Client, breaker *gobreaker.CircuitBreaker, rawURL string, q url.Values, auth func(*http.Request)) ([]byte, http.Header, error) {
	if len(q) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		rawURL += sep + q.Encode()
	}

	res, err := breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		if auth != nil {
			auth(req)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, classifyTransport(err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusUnauthorized, http.StatusForbidden:
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("%w: status=%d (check credentials)", ErrAuth, resp.StatusCode)
		case http.StatusNotFound:
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, ErrNotFound
		default:
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("%w: status=%d", ErrBadStatus, resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return fetched{body: body, header: resp.Header}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, nil, err
	}

	f := res.(fetched)
	return f.body, f.header, nil
}

type fetched struct {
	body   []byte
	header http.Header
}

// classifyTransport wraps every transport failure in ErrUnavailable, tagging
// timeouts so logs distinguish a slow origin from one that is down.
func classifyTransport(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: origin timeout: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
