package validator

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"dexnet/pkg/protocol"
)

// Caller issues one typed request to one remote peer.
type Caller interface {
	Call(ctx context.Context, addr multiaddr.Multiaddr, id peer.ID, syn protocol.Synapse) (protocol.Response, time.Duration, error)
}

// PollResult is one peer's answer to one round of questions. Either
// Response is set or Err is; Elapsed is measured in both cases.
type PollResult struct {
	Response protocol.Response
	Elapsed  time.Duration
	Err      error
}

// Poller fans one question out across the peer set with a bounded
// worker pool. Workers never share mutable state: each produces its
// own result slot, and the caller sees the map only after the join.
type Poller struct {
	caller     Caller
	maxWorkers int
	logger     *zap.Logger
}

// NewPoller creates a poller with the given concurrency bound.
func NewPoller(caller Caller, maxWorkers int, logger *zap.Logger) *Poller {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Poller{
		caller:     caller,
		maxWorkers: maxWorkers,
		logger:     logger,
	}
}

// Poll asks every peer the question produced by makeSyn for its UID.
// The result map always covers the full peer key set; failed or timed
// out calls carry their error. A stalled peer delays nothing beyond
// its own worker slot.
func (p *Poller) Poll(ctx context.Context, peers map[int]Peer, makeSyn func(uid int) protocol.Synapse) map[int]PollResult {
	results := make(map[int]PollResult, len(peers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := make(chan struct{}, p.maxWorkers)

	for uid, pr := range peers {
		wg.Add(1)
		go func(uid int, pr Peer) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			resp, elapsed, err := p.caller.Call(ctx, pr.Addr, pr.ID, makeSyn(uid))
			if err != nil {
				p.logger.Debug("Peer call failed",
					zap.Int("uid", uid),
					zap.String("peer", pr.ID.String()),
					zap.Error(err))
			}

			mu.Lock()
			results[uid] = PollResult{Response: resp, Elapsed: elapsed, Err: err}
			mu.Unlock()
		}(uid, pr)
	}

	wg.Wait()
	return results
}
