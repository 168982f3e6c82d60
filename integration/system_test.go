//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"
)

var baseURL = getenv("E2E_BASE_URL", "http://localhost:8080")

// Exercises the full stack against a running storefront backed by a real
// WordPress origin: catalog reads, a guest cart round trip and the wishlist.
func TestSystem_E2E(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	waitReady(t, ctx, baseURL+"/readyz")

	var products []map[string]any
	doJSON(t, http.MethodGet, baseURL+"/products", "", nil, &products, 200)
	if len(products) == 0 {
		t.Fatalf("expected non-empty products")
	}

	pid, _ := products[0]["id"].(float64)
	if pid == 0 {
		t.Fatalf("product id missing in response: %#v", products[0])
	}

	// first cart request mints a guest session
	var cart struct {
		Items []map[string]any `json:"items"`
	}
	guest := doJSON(t, http.MethodGet, baseURL+"/cart", "", nil, &cart, 200)
	if guest == "" {
		t.Fatalf("no guest session header issued")
	}
	if len(cart.Items) != 0 {
		t.Fatalf("fresh guest cart not empty: %#v", cart.Items)
	}

	doJSON(t, http.MethodPost, baseURL+"/cart/items", guest, map[string]any{
		"product_id": int(pid),
		"quantity":   2,
	}, &cart, 200)
	if len(cart.Items) != 1 {
		t.Fatalf("cart items = %#v, want one line", cart.Items)
	}

	key, _ := cart.Items[0]["key"].(string)
	doJSON(t, http.MethodDelete, baseURL+"/cart/items/"+key, guest, nil, &cart, 200)
	if len(cart.Items) != 0 {
		t.Fatalf("cart not empty after remove: %#v", cart.Items)
	}

	var wl struct {
		Items []map[string]any `json:"items"`
	}
	doJSON(t, http.MethodPost, baseURL+"/wishlist/"+itoa(int(pid)), guest, nil, &wl, 200)
	if len(wl.Items) != 1 {
		t.Fatalf("wishlist = %#v, want one item", wl.Items)
	}
	doJSON(t, http.MethodDelete, baseURL+"/wishlist/"+itoa(int(pid)), guest, nil, &wl, 200)
	if len(wl.Items) != 0 {
		t.Fatalf("wishlist not empty after remove: %#v", wl.Items)
	}

	if os.Getenv("E2E_RESTART_STOREFRONT") == "1" {
		restartStorefrontContainer(t, ctx)
		waitReady(t, ctx, baseURL+"/readyz")

		// products survive the restart via the disk cache
		doJSON(t, http.MethodGet, baseURL+"/products", "", nil, &products, 200)
		if len(products) == 0 {
			t.Fatalf("products lost across restart")
		}
	}
}

func waitReady(t *testing.T, ctx context.Context, url string) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}

	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := client.Do(req)
		if err == nil && resp != nil && resp.StatusCode == 200 {
			_ = resp.Body.Close()
			return
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("service not ready: %s", url)
}

// doJSON issues a request under the given guest session and returns the
// session the server echoed back.
func doJSON(t *testing.T, method, url, guest string, body any, out any, want int) string {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if guest != "" {
		req.Header.Set("X-Guest-Session", guest)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		t.Fatalf("%s %s: status=%d want=%d", method, url, resp.StatusCode, want)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.Header.Get("X-Guest-Session")
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
