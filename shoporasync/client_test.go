package shoporasync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewShoporaClientDefaults(t *testing.T) {
	t.Setenv("SHOPORA_API_BASE_URL", "")
	t.Setenv("SHOPORA_API_KEY_HEADER", "")
	t.Setenv("SHOPORA_PRODUCTS_PATH", "")
	t.Setenv("SHOPORA_ORDERS_PATH", "")
	t.Setenv("SHOPORA_CUSTOMERS_PATH", "")

	client, err := newShoporaClient("key-123")
	if err != nil {
		t.Fatalf("newShoporaClient: %v", err)
	}
	if client.baseURL != "https://api.shopora.io" || client.apiKeyHdr != "X-API-Key" {
		t.Fatalf("unexpected defaults: %q %q", client.baseURL, client.apiKeyHdr)
	}
	if client.productsPath != "/v1/products" || client.ordersPath != "/v1/orders" || client.customersPath != "/v1/customers" {
		t.Fatalf("unexpected default paths: %q %q %q", client.productsPath, client.ordersPath, client.customersPath)
	}
}

func TestNewShoporaClientEnvOverrides(t *testing.T) {
	t.Setenv("SHOPORA_API_BASE_URL", "https://sandbox.shopora.io/")
	t.Setenv("SHOPORA_API_KEY_HEADER", "X-Shopora-Key")
	t.Setenv("SHOPORA_PRODUCTS_PATH", "/v2/catalog/products")

	client, err := newShoporaClient("key-123")
	if err != nil {
		t.Fatalf("newShoporaClient: %v", err)
	}
	if client.baseURL != "https://sandbox.shopora.io" {
		t.Fatalf("base url must have its trailing slash trimmed, got %q", client.baseURL)
	}
	if client.apiKeyHdr != "X-Shopora-Key" || client.productsPath != "/v2/catalog/products" {
		t.Fatalf("env overrides not applied: %q %q", client.apiKeyHdr, client.productsPath)
	}
}

func TestNewShoporaClientRejectsEmptyKey(t *testing.T) {
	if _, err := newShoporaClient("   "); err == nil {
		t.Fatalf("expected error for blank api key")
	}
}

func TestListProductsSendsKeyAndPaging(t *testing.T) {
	var gotKey, gotSince, gotCursor, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotSince = r.URL.Query().Get("updated_since")
		gotCursor = r.URL.Query().Get("cursor")
		gotLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"p-1"}],"next_cursor":"abc","total_count":41}`))
	}))
	defer srv.Close()

	t.Setenv("SHOPORA_API_BASE_URL", srv.URL)
	t.Setenv("SHOPORA_API_KEY_HEADER", "")
	t.Setenv("SHOPORA_PRODUCTS_PATH", "")
	t.Setenv("SHOPORA_RATE_LIMIT_PER_MIN", "60000")

	client, err := newShoporaClient("key-123")
	if err != nil {
		t.Fatalf("newShoporaClient: %v", err)
	}

	resp, err := client.listProducts(context.Background(), "2026-08-01T00:00:00Z", "cur-9")
	if err != nil {
		t.Fatalf("listProducts: %v", err)
	}
	if gotKey != "key-123" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
	if gotSince != "2026-08-01T00:00:00Z" || gotCursor != "cur-9" || gotLimit != "200" {
		t.Fatalf("unexpected query: since=%q cursor=%q limit=%q", gotSince, gotCursor, gotLimit)
	}
	if len(resp.Data) != 1 || resp.NextCursor != "abc" || resp.TotalCount == nil || *resp.TotalCount != 41 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestGetListSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	t.Setenv("SHOPORA_API_BASE_URL", srv.URL)
	t.Setenv("SHOPORA_RATE_LIMIT_PER_MIN", "60000")

	client, err := newShoporaClient("key-123")
	if err != nil {
		t.Fatalf("newShoporaClient: %v", err)
	}
	if _, err := client.listOrders(context.Background(), "2026-08-01T00:00:00Z", ""); err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
}
