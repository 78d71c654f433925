package validator

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"dexnet/pkg/chain"
	"dexnet/pkg/protocol"
)

// Verifier spot-checks claimed pool events against the authoritative
// chain index and measures signal deviations.
type Verifier struct {
	chain  chain.Client
	trials int
	rng    *rand.Rand
	logger *zap.Logger
}

// NewVerifier creates a verifier running the given number of random
// trials per answer.
func NewVerifier(chainClient chain.Client, trials int, rng *rand.Rand, logger *zap.Logger) *Verifier {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Verifier{
		chain:  chainClient,
		trials: trials,
		rng:    rng,
		logger: logger,
	}
}

// SpotCheckAccuracy returns the fraction of random trials in which the
// claimed record was confirmed on chain. The payload digest is checked
// first; a tampered or empty answer scores zero without any chain
// calls. Any claimed record outside the queried block range also
// zeroes the whole answer.
func (v *Verifier) SpotCheckAccuracy(ctx context.Context, syn *protocol.PoolEventSynapse, resp *protocol.PoolEventResponse) (float64, error) {
	ok, err := protocol.VerifyDigest(resp.Data, resp.OverallDataHash)
	if err != nil {
		return 0, fmt.Errorf("checking payload digest: %w", err)
	}
	if !ok {
		v.logger.Warn("Payload digest mismatch", zap.String("pool", syn.PoolAddress))
		return 0, nil
	}
	if len(resp.Data) == 0 {
		return 0, nil
	}

	blocks, err := v.chain.BlockRangeFor(ctx, syn.StartDatetime, syn.EndDatetime)
	if err != nil {
		return 0, fmt.Errorf("resolving block range: %w", err)
	}

	confirmed := 0
	for trial := 0; trial < v.trials; trial++ {
		record := resp.Data[v.rng.Intn(len(resp.Data))]

		if record.BlockNumber < blocks.Start || record.BlockNumber > blocks.End {
			v.logger.Warn("Claimed record outside queried block range",
				zap.String("pool", syn.PoolAddress),
				zap.Int64("block", record.BlockNumber))
			return 0, nil
		}

		// A service error fails this trial only; the remaining trials
		// still run.
		events, err := v.chain.EventsAtBlock(ctx, syn.PoolAddress, record.BlockNumber)
		if err != nil {
			v.logger.Debug("Trial lookup failed, counting as unconfirmed",
				zap.Int64("block", record.BlockNumber),
				zap.Error(err))
			continue
		}

		for _, ev := range events {
			if ev.TransactionHash == record.TransactionHash {
				confirmed++
				break
			}
		}
	}

	return float64(confirmed) / float64(v.trials), nil
}

// Deviation is a peer's absolute distance from the authoritative
// signal values.
type Deviation struct {
	Price     float64
	Liquidity float64
	Volume    float64
}

// SignalDeviations measures how far each peer's signal answer strays
// from the authoritative values, fetched once for the whole round.
func (v *Verifier) SignalDeviations(ctx context.Context, pool string, timestamp int64, responses map[int]*protocol.SignalEventResponse) (map[int]Deviation, error) {
	if len(responses) == 0 {
		return map[int]Deviation{}, nil
	}

	truth, err := v.chain.Signals(ctx, pool, timestamp, "5m")
	if err != nil {
		return nil, fmt.Errorf("fetching authoritative signals: %w", err)
	}

	deviations := make(map[int]Deviation, len(responses))
	for uid, resp := range responses {
		deviations[uid] = Deviation{
			Price:     math.Abs(truth.Price - resp.Price),
			Liquidity: math.Abs(truth.Liquidity - resp.Liquidity),
			Volume:    math.Abs(truth.Volume - resp.Volume),
		}
	}
	return deviations, nil
}
