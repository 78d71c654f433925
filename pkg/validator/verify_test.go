package validator

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dexnet/pkg/chain"
	"dexnet/pkg/protocol"
)

// mockChain serves canned authoritative answers. Blocks listed in
// eventErrs fail their lookup instead.
type mockChain struct {
	blockRange chain.BlockRange
	events     map[int64][]chain.Event
	eventErrs  map[int64]error
	signals    chain.Signals

	signalsGranularity string
}

func (m *mockChain) PairCreatedEventsBetween(ctx context.Context, startTS, endTS int64) ([]chain.PairCreatedEvent, error) {
	return nil, nil
}

func (m *mockChain) BlockRangeFor(ctx context.Context, startTS, endTS int64) (chain.BlockRange, error) {
	return m.blockRange, nil
}

func (m *mockChain) EventsAtBlock(ctx context.Context, poolAddress string, block int64) ([]chain.Event, error) {
	if err := m.eventErrs[block]; err != nil {
		return nil, err
	}
	return m.events[block], nil
}

func (m *mockChain) PriceRatios(ctx context.Context, poolAddress string, startTS, endTS, stepSeconds int64) ([]chain.PriceRatio, error) {
	return nil, nil
}

func (m *mockChain) Signals(ctx context.Context, poolAddress string, timestamp int64, granularity string) (chain.Signals, error) {
	m.signalsGranularity = granularity
	return m.signals, nil
}

func newTestVerifier(t *testing.T, chainClient chain.Client) *Verifier {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	return NewVerifier(chainClient, 10, rng, zaptest.NewLogger(t))
}

func confirmedResponse(t *testing.T, records []protocol.PoolEventRecord) *protocol.PoolEventResponse {
	t.Helper()
	resp, err := protocol.NewPoolEventResponse(records)
	require.NoError(t, err)
	return resp
}

func TestSpotCheckAccuracyAllConfirmed(t *testing.T) {
	records := []protocol.PoolEventRecord{
		{EventType: "swap", TransactionHash: "0xt1", PoolAddress: "0xab", BlockNumber: 105},
		{EventType: "mint", TransactionHash: "0xt2", PoolAddress: "0xab", BlockNumber: 108},
	}
	chainClient := &mockChain{
		blockRange: chain.BlockRange{Start: 100, End: 110},
		events: map[int64][]chain.Event{
			105: {{EventType: "swap", TransactionHash: "0xt1", PoolAddress: "0xab", BlockNumber: 105}},
			108: {{EventType: "mint", TransactionHash: "0xt2", PoolAddress: "0xab", BlockNumber: 108}},
		},
	}

	v := newTestVerifier(t, chainClient)
	syn := protocol.NewPoolEventSynapse("0xab", 1700000000, 1700086400)

	accuracy, err := v.SpotCheckAccuracy(context.Background(), syn, confirmedResponse(t, records))
	require.NoError(t, err)
	assert.Equal(t, 1.0, accuracy)
}

func TestSpotCheckAccuracyFabricatedHashes(t *testing.T) {
	records := []protocol.PoolEventRecord{
		{EventType: "swap", TransactionHash: "0xfake", PoolAddress: "0xab", BlockNumber: 105},
	}
	chainClient := &mockChain{
		blockRange: chain.BlockRange{Start: 100, End: 110},
		events: map[int64][]chain.Event{
			105: {{EventType: "swap", TransactionHash: "0xreal", PoolAddress: "0xab", BlockNumber: 105}},
		},
	}

	v := newTestVerifier(t, chainClient)
	syn := protocol.NewPoolEventSynapse("0xab", 1700000000, 1700086400)

	accuracy, err := v.SpotCheckAccuracy(context.Background(), syn, confirmedResponse(t, records))
	require.NoError(t, err)
	assert.Equal(t, 0.0, accuracy)
}

func TestSpotCheckAccuracyServiceErrorFailsTrialOnly(t *testing.T) {
	records := []protocol.PoolEventRecord{
		{EventType: "swap", TransactionHash: "0xt1", PoolAddress: "0xab", BlockNumber: 106},
	}
	chainClient := &mockChain{
		blockRange: chain.BlockRange{Start: 100, End: 110},
		events: map[int64][]chain.Event{
			106: {{EventType: "swap", TransactionHash: "0xt1", PoolAddress: "0xab", BlockNumber: 106}},
		},
		eventErrs: map[int64]error{106: errors.New("transient indexer error")},
	}

	v := newTestVerifier(t, chainClient)
	syn := protocol.NewPoolEventSynapse("0xab", 1700000000, 1700086400)

	// An authoritative-service error on a trial leaves that trial
	// unconfirmed but never fails the check itself.
	accuracy, err := v.SpotCheckAccuracy(context.Background(), syn, confirmedResponse(t, records))
	require.NoError(t, err)
	assert.Equal(t, 0.0, accuracy)
}

func TestSpotCheckAccuracyMatchesOnHashAlone(t *testing.T) {
	records := []protocol.PoolEventRecord{
		{EventType: "swap", TransactionHash: "0xt1", PoolAddress: "0xab", BlockNumber: 105},
	}
	chainClient := &mockChain{
		blockRange: chain.BlockRange{Start: 100, End: 110},
		events: map[int64][]chain.Event{
			105: {{EventType: "burn", TransactionHash: "0xt1", PoolAddress: "0xab", BlockNumber: 105}},
		},
	}

	v := newTestVerifier(t, chainClient)
	syn := protocol.NewPoolEventSynapse("0xab", 1700000000, 1700086400)

	// The transaction hash alone confirms a trial; the event type is
	// the peer's own labeling.
	accuracy, err := v.SpotCheckAccuracy(context.Background(), syn, confirmedResponse(t, records))
	require.NoError(t, err)
	assert.Equal(t, 1.0, accuracy)
}

func TestSpotCheckAccuracyBlockOutOfRange(t *testing.T) {
	records := []protocol.PoolEventRecord{
		{EventType: "swap", TransactionHash: "0xt1", PoolAddress: "0xab", BlockNumber: 999},
	}
	chainClient := &mockChain{
		blockRange: chain.BlockRange{Start: 100, End: 110},
		events: map[int64][]chain.Event{
			999: {{EventType: "swap", TransactionHash: "0xt1", PoolAddress: "0xab", BlockNumber: 999}},
		},
	}

	v := newTestVerifier(t, chainClient)
	syn := protocol.NewPoolEventSynapse("0xab", 1700000000, 1700086400)

	// A record outside the queried range zeroes the answer even when
	// its hash would confirm.
	accuracy, err := v.SpotCheckAccuracy(context.Background(), syn, confirmedResponse(t, records))
	require.NoError(t, err)
	assert.Equal(t, 0.0, accuracy)
}

func TestSpotCheckAccuracyTamperedDigest(t *testing.T) {
	resp := confirmedResponse(t, []protocol.PoolEventRecord{
		{EventType: "swap", TransactionHash: "0xt1", PoolAddress: "0xab", BlockNumber: 105},
	})
	resp.Data[0].TransactionHash = "0xtampered"

	chainClient := &mockChain{blockRange: chain.BlockRange{Start: 100, End: 110}}
	v := newTestVerifier(t, chainClient)
	syn := protocol.NewPoolEventSynapse("0xab", 1700000000, 1700086400)

	accuracy, err := v.SpotCheckAccuracy(context.Background(), syn, resp)
	require.NoError(t, err)
	assert.Equal(t, 0.0, accuracy)
}

func TestSpotCheckAccuracyEmptyData(t *testing.T) {
	chainClient := &mockChain{blockRange: chain.BlockRange{Start: 100, End: 110}}
	v := newTestVerifier(t, chainClient)
	syn := protocol.NewPoolEventSynapse("0xab", 1700000000, 1700086400)

	accuracy, err := v.SpotCheckAccuracy(context.Background(), syn,
		confirmedResponse(t, []protocol.PoolEventRecord{}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, accuracy)
}

func TestSignalDeviations(t *testing.T) {
	chainClient := &mockChain{signals: chain.Signals{Price: 2.0, Liquidity: 100, Volume: 50}}
	v := newTestVerifier(t, chainClient)

	deviations, err := v.SignalDeviations(context.Background(), "0xab", 1700000000,
		map[int]*protocol.SignalEventResponse{
			1: protocol.NewSignalEventResponse(2.0, 100, 50),
			2: protocol.NewSignalEventResponse(1.5, 90, 80),
		})
	require.NoError(t, err)

	// Ground truth comes from the same five-minute slot the peers were
	// asked about.
	assert.Equal(t, "5m", chainClient.signalsGranularity)
	assert.Equal(t, Deviation{}, deviations[1])
	assert.InDelta(t, 0.5, deviations[2].Price, 1e-9)
	assert.InDelta(t, 10.0, deviations[2].Liquidity, 1e-9)
	assert.InDelta(t, 30.0, deviations[2].Volume, 1e-9)
}
