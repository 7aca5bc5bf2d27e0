package shoporasync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// shoporaClient wraps the storefront REST API. Every endpoint this codebase
// touches is a cursor-paged list, so the client exposes one typed method per
// module instead of a generic request surface.
type shoporaClient struct {
	baseURL       string
	apiKey        string
	apiKeyHdr     string
	productsPath  string
	ordersPath    string
	customersPath string
	http          *http.Client
	limiter       <-chan time.Time
}

func newShoporaClient(apiKey string) (*shoporaClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("shopora api key is empty")
	}

	rateLimitPerMin := int64(10)
	if v := strings.TrimSpace(os.Getenv("SHOPORA_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := parseInt64(v); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &shoporaClient{
		baseURL:       strings.TrimRight(envOr("SHOPORA_API_BASE_URL", "https://api.shopora.io"), "/"),
		apiKey:        apiKey,
		apiKeyHdr:     envOr("SHOPORA_API_KEY_HEADER", "X-API-Key"),
		productsPath:  envOr("SHOPORA_PRODUCTS_PATH", "/v1/products"),
		ordersPath:    envOr("SHOPORA_ORDERS_PATH", "/v1/orders"),
		customersPath: envOr("SHOPORA_CUSTOMERS_PATH", "/v1/customers"),
		http:          &http.Client{Timeout: 30 * time.Second},
		limiter:       time.Tick(interval),
	}, nil
}

type shoporaListResponse struct {
	Data       []json.RawMessage `json:"data"`
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
	TotalCount *int              `json:"total_count"`
}

func (c *shoporaClient) listProducts(ctx context.Context, updatedSince, cursor string) (shoporaListResponse, error) {
	return c.getList(ctx, c.productsPath, listParams(updatedSince, cursor))
}

func (c *shoporaClient) listOrders(ctx context.Context, updatedSince, cursor string) (shoporaListResponse, error) {
	return c.getList(ctx, c.ordersPath, listParams(updatedSince, cursor))
}

func (c *shoporaClient) listCustomers(ctx context.Context, updatedSince, cursor string) (shoporaListResponse, error) {
	return c.getList(ctx, c.customersPath, listParams(updatedSince, cursor))
}

func (c *shoporaClient) getList(ctx context.Context, path string, params url.Values) (shoporaListResponse, error) {
	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return shoporaListResponse{}, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return shoporaListResponse{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return shoporaListResponse{}, fmt.Errorf("shopora api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed shoporaListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return shoporaListResponse{}, err
	}
	return parsed, nil
}

func listParams(updatedSince string, cursor string) url.Values {
	params := url.Values{}
	params.Set("updated_since", updatedSince)
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	params.Set("limit", "200")
	return params
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseInt64(v string) (int64, error) {
	return strconv.ParseInt(v, 10, 64)
}
