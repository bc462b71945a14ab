package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultBaseURL is the public price API endpoint.
const DefaultBaseURL = "https://coins.llama.fi"

const (
	requestTimeout   = 10 * time.Second
	rateLimitBackoff = time.Second
)

// PriceData is the spot price record for one asset id.
type PriceData struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Decimals   int             `json:"decimals"`
	Confidence float64         `json:"confidence"`
	Timestamp  int64           `json:"timestamp"`
}

// PriceSource supplies current spot prices for asset identifiers. Missing
// ids are simply absent from the result.
type PriceSource interface {
	CurrentPrices(ctx context.Context, coins []string) (map[string]PriceData, error)
}

// Client fetches spot prices from a DefiLlama-compatible price API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a price client. An empty baseURL selects the public
// endpoint; apiKey is optional.
func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

type currentPricesResponse struct {
	Coins map[string]PriceData `json:"coins"`
}

// CurrentPrices fetches spot prices for the given coin identifiers in one
// batched call. Move coin types are mapped to coingecko symbol ids; ids
// that already carry a source prefix pass through unchanged.
func (c *Client) CurrentPrices(ctx context.Context, coins []string) (map[string]PriceData, error) {
	if len(coins) == 0 {
		return map[string]PriceData{}, nil
	}

	ids := make([]string, 0, len(coins))
	byQueryID := make(map[string]string, len(coins))
	for _, coin := range coins {
		id := FormatCoinID(coin)
		ids = append(ids, id)
		byQueryID[id] = coin
	}

	endpoint := fmt.Sprintf("%s/prices/current/%s", c.baseURL, url.PathEscape(strings.Join(ids, ",")))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return map[string]PriceData{}, nil
	}

	var decoded currentPricesResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode prices response: %w", err)
	}

	prices := make(map[string]PriceData, len(decoded.Coins))
	for id, data := range decoded.Coins {
		key, ok := byQueryID[id]
		if !ok {
			key = id
		}
		prices[key] = data
	}
	return prices, nil
}

// get issues one GET with a single internal backoff-and-retry on a 429
// response. A 404 yields (nil, nil).
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	retried := false
	for {
		body, status, err := c.doGet(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		switch {
		case status == http.StatusOK:
			return body, nil
		case status == http.StatusNotFound:
			return nil, nil
		case status == http.StatusTooManyRequests && !retried:
			retried = true
			c.logger.Warn("price api rate limited, backing off", zap.Duration("backoff", rateLimitBackoff))
			timer := time.NewTimer(rateLimitBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		default:
			return nil, fmt.Errorf("price api status %d", status)
		}
	}
}

func (c *Client) doGet(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	if c.apiKey != "" {
		q := req.URL.Query()
		q.Set("apikey", c.apiKey)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read prices response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// FormatCoinID maps a Move coin type like 0x2::sui::SUI to the price
// API's coingecko:SUI form. Ids already carrying a prefix are returned
// as-is.
func FormatCoinID(coin string) string {
	if strings.Contains(coin, ":") && !strings.Contains(coin, "::") {
		return coin
	}
	if strings.HasPrefix(coin, "coingecko:") {
		return coin
	}
	parts := strings.Split(coin, "::")
	if len(parts) == 3 {
		return "coingecko:" + parts[2]
	}
	return coin
}
