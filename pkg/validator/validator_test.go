package validator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dexnet/pkg/chain"
	"dexnet/pkg/config"
	"dexnet/pkg/protocol"
	"dexnet/pkg/security"
)

func testValidatorConfig() *config.Config {
	return &config.Config{
		Ledger: config.LedgerConfig{SubnetID: 30},
		Sync:   config.SyncConfig{EpochStart: 1620086400},
		Scoring: config.ScoringConfig{
			HealthWeight:      0.3,
			PoolEventWeight:   0.3,
			SignalWeight:      0.4,
			MaxAllowedWeights: 420,
			WeightTotal:       1000,
			SpotCheckTrials:   10,
			IterationInterval: time.Hour,
			RoundTimeout:      time.Minute,
		},
	}
}

func TestRunRoundEndToEnd(t *testing.T) {
	now := int64(1700000000)

	own, err := security.GenerateKeyPair()
	require.NoError(t, err)
	peers := makeTestPeers(t, 3)

	addresses := make(map[int]string)
	identities := map[int]string{0: own.PublicKeyHex()}
	for uid, pr := range peers {
		addresses[uid] = fmt.Sprintf("10.0.0.%d:9900", uid)
		identities[uid] = pr.Identity
	}
	ledgerClient := &mockLedger{addresses: addresses, identities: identities}

	confirmed := []protocol.PoolEventRecord{
		{EventType: "swap", TransactionHash: "0xt1", PoolAddress: "0xab", BlockNumber: 105},
	}
	chainClient := &mockChain{
		blockRange: chain.BlockRange{Start: 100, End: 110},
		events: map[int64][]chain.Event{
			105: {{EventType: "swap", TransactionHash: "0xt1", PoolAddress: "0xab", BlockNumber: 105}},
		},
		signals: chain.Signals{Price: 2.0, Liquidity: 100, Volume: 50},
	}

	idToUID := make(map[peer.ID]int)
	// Directory derives peer IDs from the registered identities, so
	// the canned caller keys its behavior the same way.
	for uid, pr := range peers {
		id, err := security.PeerIDFromIdentity(pr.Identity)
		require.NoError(t, err)
		idToUID[id] = uid
	}

	caller := &mockCaller{
		respond: func(id peer.ID, syn protocol.Synapse) (protocol.Response, error) {
			uid := idToUID[id]
			if uid == 3 {
				return nil, errors.New("peer down")
			}
			switch syn.(type) {
			case *protocol.HealthCheckSynapse:
				tc := now
				if uid == 2 {
					tc = now - daySeconds
				}
				return protocol.NewHealthCheckResponse(tc, []string{"0xab"}), nil
			case *protocol.PoolEventSynapse:
				return protocol.NewPoolEventResponse(confirmed)
			case *protocol.SignalEventSynapse:
				if uid == 1 {
					return protocol.NewSignalEventResponse(2.0, 100, 50), nil
				}
				return protocol.NewSignalEventResponse(1.0, 80, 10), nil
			default:
				return nil, fmt.Errorf("unexpected synapse %T", syn)
			}
		},
	}

	logger := zaptest.NewLogger(t)
	cfg := testValidatorConfig()

	v := NewValidator(cfg,
		NewDirectory(&cfg.Ledger, ledgerClient, own, logger),
		NewPoller(caller, 8, logger),
		NewVerifier(chainClient, cfg.Scoring.SpotCheckTrials, rand.New(rand.NewSource(1)), logger),
		NewWeightSubmitter(&cfg.Ledger, ledgerClient, logger),
		logger)
	v.rng = rand.New(rand.NewSource(1))
	v.now = func() time.Time { return time.Unix(now, 0).UTC() }

	require.NoError(t, v.runRound(context.Background()))

	require.Len(t, ledgerClient.submitted, 1)
	weights := ledgerClient.submitted[0]

	// The unreachable peer earns nothing; the fresh and accurate peer
	// out-earns the stale, drifting one.
	assert.NotContains(t, weights, 3)
	require.Contains(t, weights, 1)
	require.Contains(t, weights, 2)
	assert.Greater(t, weights[1], weights[2])

	total := 0
	for _, w := range weights {
		total += w
	}
	assert.InDelta(t, cfg.Scoring.WeightTotal, total, 1)
}

func TestRunRoundSubmissionFailureIsNonFatal(t *testing.T) {
	now := int64(1700000000)

	own, err := security.GenerateKeyPair()
	require.NoError(t, err)
	peers := makeTestPeers(t, 1)

	ledgerClient := &mockLedger{
		addresses:  map[int]string{1: "10.0.0.1:9900"},
		identities: map[int]string{0: own.PublicKeyHex(), 1: peers[1].Identity},
		submitErr:  errors.New("ledger unavailable"),
	}

	confirmed := []protocol.PoolEventRecord{
		{EventType: "swap", TransactionHash: "0xt1", PoolAddress: "0xab", BlockNumber: 105},
	}
	chainClient := &mockChain{
		blockRange: chain.BlockRange{Start: 100, End: 110},
		events: map[int64][]chain.Event{
			105: {{EventType: "swap", TransactionHash: "0xt1", PoolAddress: "0xab", BlockNumber: 105}},
		},
		signals: chain.Signals{Price: 2.0, Liquidity: 100, Volume: 50},
	}

	caller := &mockCaller{
		respond: func(id peer.ID, syn protocol.Synapse) (protocol.Response, error) {
			switch syn.(type) {
			case *protocol.HealthCheckSynapse:
				return protocol.NewHealthCheckResponse(now, []string{"0xab"}), nil
			case *protocol.PoolEventSynapse:
				return protocol.NewPoolEventResponse(confirmed)
			case *protocol.SignalEventSynapse:
				return protocol.NewSignalEventResponse(2.0, 100, 50), nil
			default:
				return nil, fmt.Errorf("unexpected synapse %T", syn)
			}
		},
	}

	logger := zaptest.NewLogger(t)
	cfg := testValidatorConfig()
	v := NewValidator(cfg,
		NewDirectory(&cfg.Ledger, ledgerClient, own, logger),
		NewPoller(caller, 8, logger),
		NewVerifier(chainClient, cfg.Scoring.SpotCheckTrials, rand.New(rand.NewSource(1)), logger),
		NewWeightSubmitter(&cfg.Ledger, ledgerClient, logger),
		logger)
	v.rng = rand.New(rand.NewSource(1))
	v.now = func() time.Time { return time.Unix(now, 0).UTC() }

	// The round completes; the failed submission is attempted exactly
	// once and left to the next round.
	require.NoError(t, v.runRound(context.Background()))
	assert.Equal(t, 1, ledgerClient.submitCalls)
	assert.Empty(t, ledgerClient.submitted)
}

func TestRunRoundNoPeers(t *testing.T) {
	own, err := security.GenerateKeyPair()
	require.NoError(t, err)
	ledgerClient := &mockLedger{
		addresses:  map[int]string{},
		identities: map[int]string{0: own.PublicKeyHex()},
	}

	logger := zaptest.NewLogger(t)
	cfg := testValidatorConfig()
	v := NewValidator(cfg,
		NewDirectory(&cfg.Ledger, ledgerClient, own, logger),
		NewPoller(&mockCaller{respond: func(peer.ID, protocol.Synapse) (protocol.Response, error) {
			return nil, errors.New("unused")
		}}, 8, logger),
		NewVerifier(&mockChain{}, 10, rand.New(rand.NewSource(1)), logger),
		NewWeightSubmitter(&cfg.Ledger, ledgerClient, logger),
		logger)

	require.NoError(t, v.runRound(context.Background()))
	assert.Empty(t, ledgerClient.submitted)
}

func TestEventQuestionBounds(t *testing.T) {
	cfg := testValidatorConfig()
	v := &Validator{cfg: cfg, rng: rand.New(rand.NewSource(7))}

	tc := cfg.Sync.EpochStart + 90*daySeconds
	health := healthState{
		timeCompleted: map[int]int64{1: tc},
		pools:         map[int][]string{1: {"0xab", "0xcd"}},
	}

	for i := 0; i < 50; i++ {
		syn := v.eventQuestion(1, health)
		require.NotNil(t, syn)
		assert.Contains(t, []string{"0xab", "0xcd"}, syn.PoolAddress)
		assert.GreaterOrEqual(t, syn.StartDatetime, cfg.Sync.EpochStart)
		assert.LessOrEqual(t, syn.EndDatetime, tc)
		assert.LessOrEqual(t, syn.EndDatetime-syn.StartDatetime, daySeconds)
		assert.Greater(t, syn.EndDatetime, syn.StartDatetime)
	}

	// A peer that reports no pools or no progress cannot be asked.
	assert.Nil(t, v.eventQuestion(2, health))
	health.timeCompleted[3] = cfg.Sync.EpochStart
	health.pools[3] = []string{"0xab"}
	assert.Nil(t, v.eventQuestion(3, health))
}

func TestSignalQuestionSharedAcrossPeers(t *testing.T) {
	cfg := testValidatorConfig()
	v := &Validator{cfg: cfg, rng: rand.New(rand.NewSource(7))}

	peers := makeTestPeers(t, 3)
	minTC := cfg.Sync.EpochStart + 30*daySeconds
	health := healthState{
		timeCompleted: map[int]int64{1: minTC + daySeconds, 2: minTC, 3: minTC + 2*daySeconds},
		pools: map[int][]string{
			1: {"0xab", "0xcd"},
			2: {"0xab"},
			3: {"0xab", "0xef"},
		},
	}

	syn := v.signalQuestion(peers, health)
	require.NotNil(t, syn)

	// The pool every peer serves wins, and the timestamp sits inside
	// the last day every responder has indexed, on a five-minute slot.
	assert.Equal(t, "0xab", syn.PoolAddress)
	assert.GreaterOrEqual(t, syn.Timestamp, minTC-daySeconds)
	assert.LessOrEqual(t, syn.Timestamp, minTC)
	assert.Zero(t, syn.Timestamp%signalSlotSeconds)
}
