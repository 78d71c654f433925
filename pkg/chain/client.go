package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is the authoritative chain-indexing service consumed by both
// miners (ingestion, price ratios) and validators (spot checks).
type Client interface {
	PairCreatedEventsBetween(ctx context.Context, startTS, endTS int64) ([]PairCreatedEvent, error)
	BlockRangeFor(ctx context.Context, startTS, endTS int64) (BlockRange, error)
	EventsAtBlock(ctx context.Context, poolAddress string, block int64) ([]Event, error)
	PriceRatios(ctx context.Context, poolAddress string, startTS, endTS, stepSeconds int64) ([]PriceRatio, error)
	Signals(ctx context.Context, poolAddress string, timestamp int64, granularity string) (Signals, error)
}

// PairCreatedEvent is one pool-creation event.
type PairCreatedEvent struct {
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	Fee         int32  `json:"fee"`
	Pool        string `json:"pool"`
	BlockNumber int64  `json:"block_number"`
	Timestamp   int64  `json:"timestamp"`
}

// BlockRange maps a time range onto block numbers.
type BlockRange struct {
	Start int64 `json:"start_block"`
	End   int64 `json:"end_block"`
}

// Event is one authoritative pool event, enough to cross-check a
// claimed record.
type Event struct {
	EventType       string `json:"event_type"`
	TransactionHash string `json:"transaction_hash"`
	PoolAddress     string `json:"pool_address"`
	BlockNumber     int64  `json:"block_number"`
}

// PriceRatio is one sampled token0/token1 price ratio. The ratio stays
// a decimal string until the final conversion.
type PriceRatio struct {
	Timestamp int64  `json:"timestamp"`
	Ratio     string `json:"price_ratio"`
}

// Signals are the authoritative scalar values of one pool at one
// timestamp.
type Signals struct {
	Price     float64 `json:"price"`
	Liquidity float64 `json:"liquidity"`
	Volume    float64 `json:"volume"`
}

// HTTPClient talks to the indexing service over its REST API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the given service base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// NewHTTPClientWithHTTP creates a client with a custom HTTP client,
// used by tests.
func NewHTTPClientWithHTTP(httpClient *http.Client, baseURL string) *HTTPClient {
	return &HTTPClient{httpClient: httpClient, baseURL: baseURL}
}

func (c *HTTPClient) PairCreatedEventsBetween(ctx context.Context, startTS, endTS int64) ([]PairCreatedEvent, error) {
	params := url.Values{}
	params.Set("start_timestamp", strconv.FormatInt(startTS, 10))
	params.Set("end_timestamp", strconv.FormatInt(endTS, 10))

	var events []PairCreatedEvent
	if err := c.get(ctx, "/v1/pools/created", params, &events); err != nil {
		return nil, fmt.Errorf("fetching pair-created events: %w", err)
	}
	return events, nil
}

func (c *HTTPClient) BlockRangeFor(ctx context.Context, startTS, endTS int64) (BlockRange, error) {
	params := url.Values{}
	params.Set("start_timestamp", strconv.FormatInt(startTS, 10))
	params.Set("end_timestamp", strconv.FormatInt(endTS, 10))

	var blockRange BlockRange
	if err := c.get(ctx, "/v1/blocks/range", params, &blockRange); err != nil {
		return BlockRange{}, fmt.Errorf("fetching block range: %w", err)
	}
	return blockRange, nil
}

func (c *HTTPClient) EventsAtBlock(ctx context.Context, poolAddress string, block int64) ([]Event, error) {
	params := url.Values{}
	params.Set("pool_address", poolAddress)
	params.Set("block_number", strconv.FormatInt(block, 10))

	var events []Event
	if err := c.get(ctx, "/v1/pools/events", params, &events); err != nil {
		return nil, fmt.Errorf("fetching events at block %d: %w", block, err)
	}
	return events, nil
}

func (c *HTTPClient) PriceRatios(ctx context.Context, poolAddress string, startTS, endTS, stepSeconds int64) ([]PriceRatio, error) {
	params := url.Values{}
	params.Set("pool_address", poolAddress)
	params.Set("start_timestamp", strconv.FormatInt(startTS, 10))
	params.Set("end_timestamp", strconv.FormatInt(endTS, 10))
	params.Set("step_seconds", strconv.FormatInt(stepSeconds, 10))

	var ratios []PriceRatio
	if err := c.get(ctx, "/v1/pools/price-ratios", params, &ratios); err != nil {
		return nil, fmt.Errorf("fetching price ratios: %w", err)
	}
	return ratios, nil
}

func (c *HTTPClient) Signals(ctx context.Context, poolAddress string, timestamp int64, granularity string) (Signals, error) {
	params := url.Values{}
	params.Set("pool_address", poolAddress)
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("granularity", granularity)

	var signals Signals
	if err := c.get(ctx, "/v1/pools/signals", params, &signals); err != nil {
		return Signals{}, fmt.Errorf("fetching signals: %w", err)
	}
	return signals, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
