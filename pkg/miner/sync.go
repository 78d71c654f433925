package miner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"dexnet/pkg/chain"
	"dexnet/pkg/config"
	"dexnet/pkg/data"
)

// Syncer advances the ingestion cursor. A single mutex enforces the
// single-writer discipline: only one advancement runs at a time, and
// the scheduled job and on-demand callers share it.
type Syncer struct {
	cfg    *config.SyncConfig
	repo   data.Repository
	chain  chain.Client
	logger *zap.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewSyncer creates a sync cursor over the given store and indexing
// service.
func NewSyncer(cfg *config.SyncConfig, repo data.Repository, chainClient chain.Client, logger *zap.Logger) *Syncer {
	return &Syncer{
		cfg:    cfg,
		repo:   repo,
		chain:  chainClient,
		logger: logger,
		now:    time.Now,
	}
}

// Advance ingests every pool-creation event between the current cursor
// and now minus the safety margin, then moves the cursor forward. The
// window is marked completed only after all pairs are durably stored,
// so a crash mid-window is re-attempted with the same start.
func (s *Syncer) Advance(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, err := s.cursor(ctx)
	if err != nil {
		return err
	}

	end := s.now().UTC().Add(-s.cfg.SafetyMargin).Unix()
	if end <= start {
		s.logger.Debug("Sync cursor already current",
			zap.Int64("cursor", start))
		return nil
	}

	if err := s.repo.AddSyncWindow(ctx, start, end); err != nil {
		return fmt.Errorf("opening sync window: %w", err)
	}

	created, err := s.chain.PairCreatedEventsBetween(ctx, start, end)
	if err != nil {
		return fmt.Errorf("fetching pool creations: %w", err)
	}

	pairs := make([]data.TokenPair, 0, len(created))
	for _, ev := range created {
		pairs = append(pairs, data.TokenPair{
			Token0:      ev.Token0,
			Token1:      ev.Token1,
			Fee:         ev.Fee,
			PoolAddress: ev.Pool,
			BlockNumber: ev.BlockNumber,
		})
	}

	if err := s.repo.UpsertTokenPairs(ctx, pairs); err != nil {
		return fmt.Errorf("storing discovered pairs: %w", err)
	}

	if err := s.completePairs(ctx, start, end); err != nil {
		return err
	}

	if err := s.repo.MarkSyncWindowCompleted(ctx, start, end); err != nil {
		return fmt.Errorf("completing sync window: %w", err)
	}

	s.logger.Info("Sync window completed",
		zap.Int64("start", start),
		zap.Int64("end", end),
		zap.Int("newPairs", len(pairs)))

	return nil
}

// completePairs flips the synced flag on pending pairs once the index
// has advanced past their creation block.
func (s *Syncer) completePairs(ctx context.Context, start, end int64) error {
	pending, err := s.repo.ListIncompleteTokenPairs(ctx)
	if err != nil {
		return fmt.Errorf("listing pending pairs: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	blocks, err := s.chain.BlockRangeFor(ctx, start, end)
	if err != nil {
		return fmt.Errorf("resolving window blocks: %w", err)
	}

	var done []data.PairKey
	for _, pair := range pending {
		if pair.BlockNumber <= blocks.End {
			done = append(done, pair.Key())
		}
	}
	if len(done) == 0 {
		return nil
	}

	if err := s.repo.MarkTokenPairsCompleted(ctx, done); err != nil {
		return fmt.Errorf("completing pairs: %w", err)
	}
	s.logger.Debug("Pairs fully synced", zap.Int("pairs", len(done)))
	return nil
}

// Cursor returns the end timestamp of the last completed window, or
// the protocol epoch when no window has completed yet.
func (s *Syncer) Cursor(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor(ctx)
}

func (s *Syncer) cursor(ctx context.Context) (int64, error) {
	window, err := s.repo.LastCompletedSyncWindow(ctx)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return s.cfg.EpochStart, nil
		}
		return 0, fmt.Errorf("reading sync cursor: %w", err)
	}
	return window.End, nil
}

// Schedule registers periodic advancement on the given scheduler.
func (s *Syncer) Schedule(c *cron.Cron) (cron.EntryID, error) {
	expr := fmt.Sprintf("@every %s", s.cfg.Interval)
	return c.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
		defer cancel()
		if err := s.Advance(ctx); err != nil {
			s.logger.Error("Scheduled sync failed", zap.Error(err))
		}
	})
}
