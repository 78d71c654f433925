package validator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"dexnet/pkg/config"
	"dexnet/pkg/ledger"
	"dexnet/pkg/protocol"
)

const (
	daySeconds        int64 = 24 * 60 * 60
	signalSlotSeconds int64 = 5 * 60
)

// Validator runs the scoring loop: resolve peers, poll them, verify
// answers, blend scores, submit weights. Orchestration is single
// threaded; only the poller fans out.
type Validator struct {
	cfg       *config.Config
	directory *Directory
	poller    *Poller
	verifier  *Verifier
	submitter *WeightSubmitter
	logger    *zap.Logger

	rng *rand.Rand
	now func() time.Time
}

// NewValidator wires the round collaborators together.
func NewValidator(cfg *config.Config, directory *Directory, poller *Poller, verifier *Verifier, submitter *WeightSubmitter, logger *zap.Logger) *Validator {
	return &Validator{
		cfg:       cfg,
		directory: directory,
		poller:    poller,
		verifier:  verifier,
		submitter: submitter,
		logger:    logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
}

// Run executes rounds at the configured cadence until the context is
// cancelled. An unregistered key aborts the loop; any other round
// failure is logged and the next round proceeds.
func (v *Validator) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.cfg.Scoring.IterationInterval)
	defer ticker.Stop()

	for {
		if err := v.runRound(ctx); err != nil {
			if errors.Is(err, ledger.ErrNotRegistered) {
				return err
			}
			v.logger.Error("Round failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runRound performs one complete scoring round under the round
// deadline.
func (v *Validator) runRound(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Scoring.RoundTimeout)
	defer cancel()

	peers, err := v.directory.Peers(ctx)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		v.logger.Warn("No peers to score this round")
		return nil
	}

	health := v.healthRound(ctx, peers)
	now := v.now().UTC().Unix()
	healthScores := HealthScores(health.timeCompleted, now)

	// Only peers that answered the health check and carry a positive
	// health score take part in the verification rounds.
	eligible := make(map[int]Peer)
	for uid, score := range healthScores {
		if score > 0 {
			eligible[uid] = peers[uid]
		}
	}

	poolScores := v.poolEventRound(ctx, eligible, health)
	signalScores := v.signalRound(ctx, eligible, health)

	final := Blend(&v.cfg.Scoring, healthScores, poolScores, signalScores)

	weights := ComputeWeights(final,
		v.cfg.Scoring.MaxAllowedWeights, v.cfg.Scoring.WeightTotal)

	v.logger.Info("Round scored",
		zap.Int("peers", len(peers)),
		zap.Int("eligible", len(eligible)),
		zap.Int("weighted", len(weights)))

	// A failed submission leaves the round otherwise complete; the
	// next round submits fresh weights.
	if err := v.submitter.Submit(ctx, weights); err != nil {
		if errors.Is(err, ledger.ErrNotRegistered) {
			return err
		}
		v.logger.Warn("Weight submission failed, leaving it to the next round", zap.Error(err))
	}
	return nil
}

// healthState is what the health round learned about each responder.
type healthState struct {
	timeCompleted map[int]int64
	pools         map[int][]string
}

func (v *Validator) healthRound(ctx context.Context, peers map[int]Peer) healthState {
	results := v.poller.Poll(ctx, peers, func(int) protocol.Synapse {
		return protocol.NewHealthCheckSynapse()
	})

	state := healthState{
		timeCompleted: make(map[int]int64),
		pools:         make(map[int][]string),
	}
	for uid, result := range results {
		if result.Err != nil {
			continue
		}
		resp, ok := result.Response.(*protocol.HealthCheckResponse)
		if !ok {
			continue
		}
		state.timeCompleted[uid] = resp.TimeCompleted
		state.pools[uid] = resp.PoolAddresses
	}
	return state
}

// poolEventRound asks each peer for events from its own claimed index
// and spot-checks the answers.
func (v *Validator) poolEventRound(ctx context.Context, peers map[int]Peer, health healthState) map[int]float64 {
	askable := make(map[int]Peer)
	questions := make(map[int]*protocol.PoolEventSynapse)
	for uid, pr := range peers {
		syn := v.eventQuestion(uid, health)
		if syn == nil {
			continue
		}
		askable[uid] = pr
		questions[uid] = syn
	}
	if len(askable) == 0 {
		return map[int]float64{}
	}

	results := v.poller.Poll(ctx, askable, func(uid int) protocol.Synapse {
		return questions[uid]
	})

	verification := make(map[int]float64)
	latencies := make(map[int]float64)
	for uid, result := range results {
		if result.Err != nil {
			continue
		}
		resp, ok := result.Response.(*protocol.PoolEventResponse)
		if !ok {
			continue
		}

		accuracy, err := v.verifier.SpotCheckAccuracy(ctx, questions[uid], resp)
		if err != nil {
			v.logger.Debug("Spot check failed", zap.Int("uid", uid), zap.Error(err))
			continue
		}

		verification[uid] = AccuracyTransform(accuracy)
		latencies[uid] = result.Elapsed.Seconds()
	}

	latencyScores := LatencyScores(latencies)
	scores := make(map[int]float64, len(verification))
	for uid := range verification {
		scores[uid] = RoundScore(verification[uid], latencyScores[uid])
	}
	return scores
}

// eventQuestion builds a per-peer question bounded by what the peer
// itself claims to have indexed: one of its pools, over a day-long
// window ending no later than its completed-through timestamp.
func (v *Validator) eventQuestion(uid int, health healthState) *protocol.PoolEventSynapse {
	pools := health.pools[uid]
	tc := health.timeCompleted[uid]
	if len(pools) == 0 || tc <= 0 {
		return nil
	}

	pool := pools[v.rng.Intn(len(pools))]

	epoch := v.cfg.Sync.EpochStart
	if tc <= epoch {
		return nil
	}

	span := tc - epoch
	var start int64
	if span <= daySeconds {
		start = epoch
	} else {
		start = epoch + v.rng.Int63n(span-daySeconds)
	}
	end := start + daySeconds
	if end > tc {
		end = tc
	}

	return protocol.NewPoolEventSynapse(pool, start, end)
}

// signalRound asks every eligible peer the same signal question so
// their answers are comparable, then scores by distance from the
// authoritative values.
func (v *Validator) signalRound(ctx context.Context, peers map[int]Peer, health healthState) map[int]float64 {
	question := v.signalQuestion(peers, health)
	if question == nil {
		return map[int]float64{}
	}

	results := v.poller.Poll(ctx, peers, func(int) protocol.Synapse {
		return question
	})

	responses := make(map[int]*protocol.SignalEventResponse)
	latencies := make(map[int]float64)
	for uid, result := range results {
		if result.Err != nil {
			continue
		}
		resp, ok := result.Response.(*protocol.SignalEventResponse)
		if !ok {
			continue
		}
		responses[uid] = resp
		latencies[uid] = result.Elapsed.Seconds()
	}

	deviations, err := v.verifier.SignalDeviations(ctx, question.PoolAddress, question.Timestamp, responses)
	if err != nil {
		v.logger.Error("Signal verification failed", zap.Error(err))
		return map[int]float64{}
	}

	deviationScores := DeviationScores(deviations)
	latencyScores := LatencyScores(latencies)

	scores := make(map[int]float64, len(deviationScores))
	for uid := range deviationScores {
		scores[uid] = RoundScore(deviationScores[uid], latencyScores[uid])
	}
	return scores
}

// signalQuestion picks the pool served by the most peers and a
// five-minute slot every responder should have indexed.
func (v *Validator) signalQuestion(peers map[int]Peer, health healthState) *protocol.SignalEventSynapse {
	if len(peers) == 0 {
		return nil
	}

	counts := make(map[string]int)
	minCompleted := int64(0)
	for uid := range peers {
		for _, pool := range health.pools[uid] {
			counts[pool]++
		}
		tc := health.timeCompleted[uid]
		if minCompleted == 0 || tc < minCompleted {
			minCompleted = tc
		}
	}

	var pool string
	best := 0
	for p, n := range counts {
		if n > best || (n == best && p < pool) {
			pool = p
			best = n
		}
	}
	if pool == "" || minCompleted <= v.cfg.Sync.EpochStart {
		return nil
	}

	// Somewhere in the last indexed day, aligned to a five-minute
	// slot.
	start := minCompleted - daySeconds
	if start < v.cfg.Sync.EpochStart {
		start = v.cfg.Sync.EpochStart
	}
	span := minCompleted - start
	timestamp := start
	if span > 0 {
		timestamp = start + v.rng.Int63n(span)
	}
	timestamp -= timestamp % signalSlotSeconds

	return protocol.NewSignalEventSynapse(pool, timestamp)
}

// String renders the validator identity for log and debug output.
func (v *Validator) String() string {
	return fmt.Sprintf("validator(subnet=%d)", v.cfg.Ledger.SubnetID)
}
