package validator

import (
	"math"
	"time"

	"dexnet/pkg/config"
)

// eps guards min-max normalizations against a degenerate spread.
const eps = 1e-10

// healthHorizon is how long a stale index keeps earning recency
// credit before that component bottoms out at zero.
const healthHorizon = 10 * 24 * time.Hour

// AccuracyTransform maps a raw spot-check fraction into the scoring
// domain. The cubic keeps the curve steep around the 0.75 pivot:
// answers below it go sharply negative, flawless answers approach 1.
func AccuracyTransform(accuracy float64) float64 {
	base := (accuracy - 0.75) * 4
	return base * base * base
}

// LatencyScores rewards relative speed within one round. The fastest
// peer scores 1.0, the slowest 0.5, everyone else linearly between.
// With a single peer, or all peers tied, everyone scores 1.0.
func LatencyScores(latencies map[int]float64) map[int]float64 {
	if len(latencies) == 0 {
		return map[int]float64{}
	}

	min := math.Inf(1)
	max := math.Inf(-1)
	for _, t := range latencies {
		min = math.Min(min, t)
		max = math.Max(max, t)
	}

	scores := make(map[int]float64, len(latencies))
	for uid, t := range latencies {
		scores[uid] = 1 - 0.5*(t-min)/(max-min+eps)
	}
	return scores
}

// HealthScores blends index depth and recency. Depth is each peer's
// completed-through timestamp relative to the deepest peer; recency
// decays linearly to zero over the health horizon.
func HealthScores(timeCompleted map[int]int64, now int64) map[int]float64 {
	scores := make(map[int]float64, len(timeCompleted))
	if len(timeCompleted) == 0 {
		return scores
	}

	var maxCompleted int64
	for _, tc := range timeCompleted {
		if tc > maxCompleted {
			maxCompleted = tc
		}
	}
	if maxCompleted == 0 {
		for uid := range timeCompleted {
			scores[uid] = 0
		}
		return scores
	}

	horizon := int64(healthHorizon / time.Second)
	for uid, tc := range timeCompleted {
		depth := float64(tc) / float64(maxCompleted)
		recency := math.Max(0, float64(horizon+tc-now)/float64(horizon))
		scores[uid] = 0.6*depth + 0.4*recency
	}
	return scores
}

// DeviationScores converts per-peer signal deviations into scores.
// Each metric is min-max normalized across the round and flipped, so
// the closest peer earns 1 and the farthest 0; the three metrics are
// averaged. A single-peer round scores 1 on every metric.
func DeviationScores(deviations map[int]Deviation) map[int]float64 {
	scores := make(map[int]float64, len(deviations))
	if len(deviations) == 0 {
		return scores
	}

	metrics := [3]func(Deviation) float64{
		func(d Deviation) float64 { return d.Price },
		func(d Deviation) float64 { return d.Liquidity },
		func(d Deviation) float64 { return d.Volume },
	}

	for uid := range deviations {
		scores[uid] = 0
	}

	for _, metric := range metrics {
		min := math.Inf(1)
		max := math.Inf(-1)
		for _, d := range deviations {
			v := metric(d)
			min = math.Min(min, v)
			max = math.Max(max, v)
		}
		for uid, d := range deviations {
			normalized := (metric(d) - min) / (max - min + eps)
			scores[uid] += (1 - normalized) / float64(len(metrics))
		}
	}

	return scores
}

// RoundScore combines one round's verification score with its latency
// score.
func RoundScore(verification, latency float64) float64 {
	return (verification + latency) / 2
}

// Blend produces final per-peer scores from the three round score
// maps. Only peers with a positive health score participate; a peer
// missing from a round map contributes zero for that round.
func Blend(cfg *config.ScoringConfig, health, poolEvents, signals map[int]float64) map[int]float64 {
	final := make(map[int]float64)
	for uid, h := range health {
		if h <= 0 {
			continue
		}
		final[uid] = cfg.HealthWeight*h +
			cfg.PoolEventWeight*poolEvents[uid] +
			cfg.SignalWeight*signals[uid]
	}
	return final
}
