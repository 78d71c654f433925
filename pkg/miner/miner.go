package miner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"go.uber.org/zap"

	"dexnet/pkg/chain"
	"dexnet/pkg/config"
	"dexnet/pkg/data"
	"dexnet/pkg/p2p"
	"dexnet/pkg/protocol"
)

const (
	// predictionWindow bounds the close-price history fed to the
	// predictor, sampled at predictionStep.
	predictionWindow int64 = 24 * 60 * 60
	predictionStep   int64 = 60 * 60
)

// Miner answers protocol queries from its local index.
type Miner struct {
	cfg       *config.Config
	repo      data.Repository
	chain     chain.Client
	syncer    *Syncer
	predictor Predictor
	logger    *zap.Logger
}

// NewMiner wires the miner's collaborators together.
func NewMiner(cfg *config.Config, repo data.Repository, chainClient chain.Client, syncer *Syncer, predictor Predictor, logger *zap.Logger) *Miner {
	return &Miner{
		cfg:       cfg,
		repo:      repo,
		chain:     chainClient,
		syncer:    syncer,
		predictor: predictor,
		logger:    logger,
	}
}

// RegisterHandlers binds every request kind the miner serves.
func (m *Miner) RegisterHandlers(host *p2p.Host) {
	host.Handle(protocol.NewHealthCheckSynapse(), m.handleHealthCheck)
	host.Handle(&protocol.PoolEventSynapse{}, m.handlePoolEvents)
	host.Handle(&protocol.SignalEventSynapse{}, m.handleSignals)
	host.Handle(&protocol.PredictionSynapse{}, m.handlePrediction)
}

func (m *Miner) handleHealthCheck(ctx context.Context, _ json.RawMessage) (protocol.Response, error) {
	cursor, err := m.syncer.Cursor(ctx)
	if err != nil {
		return nil, err
	}

	pairs, err := m.repo.ListTokenPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pools: %w", err)
	}

	pools := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		pools = append(pools, pair.PoolAddress)
	}

	return protocol.NewHealthCheckResponse(cursor, pools), nil
}

func (m *Miner) handlePoolEvents(ctx context.Context, raw json.RawMessage) (protocol.Response, error) {
	var syn protocol.PoolEventSynapse
	if err := json.Unmarshal(raw, &syn); err != nil {
		return nil, fmt.Errorf("decoding pool event request: %w", err)
	}
	if syn.EndDatetime < syn.StartDatetime {
		return nil, fmt.Errorf("invalid time range [%d, %d]", syn.StartDatetime, syn.EndDatetime)
	}

	blocks, err := m.chain.BlockRangeFor(ctx, syn.StartDatetime, syn.EndDatetime)
	if err != nil {
		return nil, fmt.Errorf("resolving block range: %w", err)
	}

	events, err := m.repo.PoolEventsByBlockRange(ctx, blocks.Start, blocks.End)
	if err != nil {
		return nil, fmt.Errorf("querying pool events: %w", err)
	}

	records := flattenEvents(events, syn.PoolAddress)
	return protocol.NewPoolEventResponse(records)
}

func (m *Miner) handleSignals(ctx context.Context, raw json.RawMessage) (protocol.Response, error) {
	var syn protocol.SignalEventSynapse
	if err := json.Unmarshal(raw, &syn); err != nil {
		return nil, fmt.Errorf("decoding signal request: %w", err)
	}

	signal, err := m.repo.SignalAt(ctx, syn.PoolAddress, syn.Timestamp)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			// An absent signal answers as all zeros rather than an
			// error; the pool simply had no activity at that time.
			return protocol.NewSignalEventResponse(0, 0, 0), nil
		}
		return nil, fmt.Errorf("querying signal: %w", err)
	}

	return protocol.NewSignalEventResponse(signal.Price, signal.Liquidity, signal.Volume), nil
}

func (m *Miner) handlePrediction(ctx context.Context, raw json.RawMessage) (protocol.Response, error) {
	var syn protocol.PredictionSynapse
	if err := json.Unmarshal(raw, &syn); err != nil {
		return nil, fmt.Errorf("decoding prediction request: %w", err)
	}

	// The pair universe must be current before routing.
	if err := m.syncer.Advance(ctx); err != nil {
		return nil, fmt.Errorf("advancing sync cursor: %w", err)
	}

	prices, err := m.closePriceSeries(ctx, syn.TokenAddress, syn.Timestamp)
	if err != nil {
		return nil, err
	}

	predicted, err := m.predictor.Predict(ctx, prices, syn.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("predicting prices: %w", err)
	}

	return protocol.NewPredictionResponse(predicted), nil
}

// closePriceSeries builds the token's close prices against the
// reference token over the prediction window, composing per-hop pool
// ratios along the resolved price path.
func (m *Miner) closePriceSeries(ctx context.Context, token string, timestamp int64) ([]float64, error) {
	path, err := FindPricePath(ctx, m.repo, token, m.cfg.Prediction.ReferenceToken)
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		// The reference token's price against itself is flat 1.
		n := int(predictionWindow / predictionStep)
		series := make([]float64, n)
		for i := range series {
			series[i] = 1
		}
		return series, nil
	}

	start := timestamp - predictionWindow
	var series []float64

	for _, hop := range path {
		ratios, err := m.chain.PriceRatios(ctx, hop.PoolAddress, start, timestamp, predictionStep)
		if err != nil {
			return nil, fmt.Errorf("fetching ratios for pool %s: %w", hop.PoolAddress, err)
		}
		if len(ratios) == 0 {
			return nil, fmt.Errorf("no price ratios for pool %s", hop.PoolAddress)
		}

		hopSeries, err := ratioSeries(ratios, hop.Inverted)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", hop.PoolAddress, err)
		}

		if series == nil {
			series = hopSeries
			continue
		}
		if len(hopSeries) < len(series) {
			series = series[:len(hopSeries)]
		}
		for i := range series {
			series[i] *= hopSeries[i]
		}
	}

	return series, nil
}

// ratioSeries converts decimal-string ratios to floats, inverting when
// the route enters the pool through token1. Precision is kept in
// arbitrary-precision form until this final conversion.
func ratioSeries(ratios []chain.PriceRatio, inverted bool) ([]float64, error) {
	series := make([]float64, 0, len(ratios))
	for _, r := range ratios {
		ratio, ok := new(big.Float).SetString(r.Ratio)
		if !ok {
			return nil, fmt.Errorf("unparseable price ratio %q", r.Ratio)
		}
		if inverted {
			if ratio.Sign() == 0 {
				return nil, fmt.Errorf("zero price ratio at %d", r.Timestamp)
			}
			ratio = new(big.Float).Quo(big.NewFloat(1), ratio)
		}
		f, _ := ratio.Float64()
		series = append(series, f)
	}
	return series, nil
}

// flattenEvents projects every stored event kind into wire records,
// filtered to one pool when an address is given.
func flattenEvents(events *data.PoolEvents, pool string) []protocol.PoolEventRecord {
	records := make([]protocol.PoolEventRecord, 0,
		len(events.Swaps)+len(events.Mints)+len(events.Burns)+len(events.Collects))

	match := func(address string) bool {
		return pool == "" || address == pool
	}

	for _, e := range events.Swaps {
		if !match(e.PoolAddress) {
			continue
		}
		records = append(records, protocol.PoolEventRecord{
			EventType:       data.EventTypeSwap,
			TransactionHash: e.TransactionHash,
			PoolAddress:     e.PoolAddress,
			BlockNumber:     e.BlockNumber,
			Fields: map[string]string{
				"sender":         e.Sender,
				"to":             e.To,
				"amount0":        e.Amount0,
				"amount1":        e.Amount1,
				"sqrt_price_x96": e.SqrtPriceX96,
				"liquidity":      e.Liquidity,
				"tick":           strconv.FormatInt(int64(e.Tick), 10),
			},
		})
	}
	for _, e := range events.Mints {
		if !match(e.PoolAddress) {
			continue
		}
		records = append(records, protocol.PoolEventRecord{
			EventType:       data.EventTypeMint,
			TransactionHash: e.TransactionHash,
			PoolAddress:     e.PoolAddress,
			BlockNumber:     e.BlockNumber,
			Fields: map[string]string{
				"sender":     e.Sender,
				"owner":      e.Owner,
				"tick_lower": strconv.FormatInt(int64(e.TickLower), 10),
				"tick_upper": strconv.FormatInt(int64(e.TickUpper), 10),
				"amount":     e.Amount,
				"amount0":    e.Amount0,
				"amount1":    e.Amount1,
			},
		})
	}
	for _, e := range events.Burns {
		if !match(e.PoolAddress) {
			continue
		}
		records = append(records, protocol.PoolEventRecord{
			EventType:       data.EventTypeBurn,
			TransactionHash: e.TransactionHash,
			PoolAddress:     e.PoolAddress,
			BlockNumber:     e.BlockNumber,
			Fields: map[string]string{
				"owner":      e.Owner,
				"tick_lower": strconv.FormatInt(int64(e.TickLower), 10),
				"tick_upper": strconv.FormatInt(int64(e.TickUpper), 10),
				"amount":     e.Amount,
				"amount0":    e.Amount0,
				"amount1":    e.Amount1,
			},
		})
	}
	for _, e := range events.Collects {
		if !match(e.PoolAddress) {
			continue
		}
		records = append(records, protocol.PoolEventRecord{
			EventType:       data.EventTypeCollect,
			TransactionHash: e.TransactionHash,
			PoolAddress:     e.PoolAddress,
			BlockNumber:     e.BlockNumber,
			Fields: map[string]string{
				"owner":      e.Owner,
				"recipient":  e.Recipient,
				"tick_lower": strconv.FormatInt(int64(e.TickLower), 10),
				"tick_upper": strconv.FormatInt(int64(e.TickUpper), 10),
				"amount0":    e.Amount0,
				"amount1":    e.Amount1,
			},
		})
	}

	return records
}
