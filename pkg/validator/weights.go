package validator

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"dexnet/pkg/config"
	"dexnet/pkg/ledger"
)

// ComputeWeights turns final scores into the integer weight map the
// ledger accepts. Peers are ranked by score, cut to the allowed
// maximum, and the survivors' scores are rescaled so the integer
// weights sum close to the configured total. Non-positive scores and
// weights that round to zero are dropped.
func ComputeWeights(scores map[int]float64, maxAllowed, total int) map[int]int {
	type ranked struct {
		uid   int
		score float64
	}

	order := make([]ranked, 0, len(scores))
	for uid, score := range scores {
		if score > 0 {
			order = append(order, ranked{uid: uid, score: score})
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].score != order[j].score {
			return order[i].score > order[j].score
		}
		return order[i].uid < order[j].uid
	})

	if len(order) > maxAllowed {
		order = order[:maxAllowed]
	}

	var sum float64
	for _, r := range order {
		sum += r.score
	}
	if sum <= 0 {
		return map[int]int{}
	}

	weights := make(map[int]int, len(order))
	for _, r := range order {
		w := int(math.Round(r.score / sum * float64(total)))
		if w > 0 {
			weights[r.uid] = w
		}
	}
	return weights
}

// WeightSubmitter pushes computed weights to the ledger.
type WeightSubmitter struct {
	cfg    *config.LedgerConfig
	ledger ledger.Client
	logger *zap.Logger
}

// NewWeightSubmitter creates a submitter for the configured subnet.
func NewWeightSubmitter(cfg *config.LedgerConfig, ledgerClient ledger.Client, logger *zap.Logger) *WeightSubmitter {
	return &WeightSubmitter{
		cfg:    cfg,
		ledger: ledgerClient,
		logger: logger,
	}
}

// Submit writes the weight map to the ledger exactly once. A failed
// submission is left to the next round; the caller decides how loudly
// to report it. An empty map is a valid outcome of a round where
// nobody scored and is skipped.
func (s *WeightSubmitter) Submit(ctx context.Context, weights map[int]int) error {
	if len(weights) == 0 {
		s.logger.Warn("No weights to submit this round")
		return nil
	}

	if err := s.ledger.SubmitWeights(ctx, s.cfg.SubnetID, weights); err != nil {
		return fmt.Errorf("submitting weights: %w", err)
	}

	s.logger.Info("Weights submitted", zap.Int("peers", len(weights)))
	return nil
}
