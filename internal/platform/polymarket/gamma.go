// Package polymarket reads market metadata from the Polymarket Gamma API so
// markets can be registered with the oracle by condition id.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// DefaultGammaURL is the public Gamma API root.
const DefaultGammaURL = "https://gamma-api.polymarket.com"

// maxBodyBytes caps how much of a Gamma response is read.
const maxBodyBytes = 8 << 20

// GammaClient is the REST client for the Polymarket Gamma API.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client. An empty baseURL uses
// DefaultGammaURL.
func NewGammaClient(baseURL string) *GammaClient {
	if baseURL == "" {
		baseURL = DefaultGammaURL
	}
	return &GammaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListOpenMarkets returns one page of open markets ordered by id. Entries
// that cannot be keyed by condition id are skipped and counted.
func (g *GammaClient) ListOpenMarkets(ctx context.Context, limit, offset int) ([]Market, int, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("closed", "false")
	params.Set("order", "id")
	params.Set("ascending", "true")

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, 0, fmt.Errorf("polymarket/gamma: list markets: %w", err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, 0, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	markets := make([]Market, 0, len(apiMarkets))
	skipped := 0
	for _, am := range apiMarkets {
		m, err := am.ToMarket()
		if err != nil {
			skipped++
			continue
		}
		markets = append(markets, m)
	}
	return markets, skipped, nil
}

// GetMarket returns a single market by its Gamma id.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (Market, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return Market{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}

	var am APIMarket
	if err := json.Unmarshal(body, &am); err != nil {
		return Market{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	m, err := am.ToMarket()
	if err != nil {
		return Market{}, fmt.Errorf("polymarket/gamma: %w", err)
	}
	return m, nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
