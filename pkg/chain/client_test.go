package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, handler := range handlers {
		mux.HandleFunc(path, handler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestPairCreatedEventsBetween(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		"/v1/pools/created": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "1620086400", r.URL.Query().Get("start_timestamp"))
			assert.Equal(t, "1620172800", r.URL.Query().Get("end_timestamp"))
			json.NewEncoder(w).Encode([]PairCreatedEvent{
				{Token0: "0xA", Token1: "0xB", Fee: 3000, Pool: "0xab", BlockNumber: 100, Timestamp: 1620090000},
			})
		},
	})

	client := NewHTTPClient(server.URL, 5*time.Second)
	events, err := client.PairCreatedEventsBetween(context.Background(), 1620086400, 1620172800)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "0xab", events[0].Pool)
	assert.Equal(t, int32(3000), events[0].Fee)
}

func TestBlockRangeFor(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		"/v1/blocks/range": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(BlockRange{Start: 100, End: 110})
		},
	})

	client := NewHTTPClient(server.URL, 5*time.Second)
	blocks, err := client.BlockRangeFor(context.Background(), 1700000000, 1700086400)
	require.NoError(t, err)
	assert.Equal(t, BlockRange{Start: 100, End: 110}, blocks)
}

func TestEventsAtBlock(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		"/v1/pools/events": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "0xab", r.URL.Query().Get("pool_address"))
			assert.Equal(t, "105", r.URL.Query().Get("block_number"))
			json.NewEncoder(w).Encode([]Event{
				{EventType: "swap", TransactionHash: "0xt1", PoolAddress: "0xab", BlockNumber: 105},
			})
		},
	})

	client := NewHTTPClient(server.URL, 5*time.Second)
	events, err := client.EventsAtBlock(context.Background(), "0xab", 105)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "0xt1", events[0].TransactionHash)
}

func TestPriceRatiosKeepDecimalStrings(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		"/v1/pools/price-ratios": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode([]PriceRatio{
				{Timestamp: 1700000000, Ratio: "1234567890123456789.000000000000000001"},
			})
		},
	})

	client := NewHTTPClient(server.URL, 5*time.Second)
	ratios, err := client.PriceRatios(context.Background(), "0xab", 1699913600, 1700000000, 3600)
	require.NoError(t, err)
	require.Len(t, ratios, 1)
	assert.Equal(t, "1234567890123456789.000000000000000001", ratios[0].Ratio)
}

func TestSignals(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		"/v1/pools/signals": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "5m", r.URL.Query().Get("granularity"))
			json.NewEncoder(w).Encode(Signals{Price: 2.0, Liquidity: 100, Volume: 50})
		},
	})

	client := NewHTTPClient(server.URL, 5*time.Second)
	signals, err := client.Signals(context.Background(), "0xab", 1700000000, "5m")
	require.NoError(t, err)
	assert.Equal(t, 2.0, signals.Price)
}

func TestServerError(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		"/v1/blocks/range": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
	})

	client := NewHTTPClient(server.URL, 5*time.Second)
	_, err := client.BlockRangeFor(context.Background(), 1, 2)
	assert.Error(t, err)
}
