package data

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// MockRepository is an in-memory Repository used by tests and local
// runs without Postgres.
type MockRepository struct {
	mu       sync.RWMutex
	windows  []SyncWindow
	pairs    map[PairKey]TokenPair
	order    []PairKey
	Swaps    []SwapEvent
	Mints    []MintEvent
	Burns    []BurnEvent
	Collects []CollectEvent
	Signals  map[string]Signal // key: pool|timestamp
}

var _ Repository = (*MockRepository)(nil)

func NewMockRepository() *MockRepository {
	return &MockRepository{
		pairs:   make(map[PairKey]TokenPair),
		Signals: make(map[string]Signal),
	}
}

func (m *MockRepository) AddSyncWindow(ctx context.Context, start, end int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.windows {
		if m.windows[i].Start == start {
			m.windows[i].End = end
			return nil
		}
	}
	m.windows = append(m.windows, SyncWindow{Start: start, End: end})
	return nil
}

func (m *MockRepository) MarkSyncWindowCompleted(ctx context.Context, start, end int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.windows {
		if m.windows[i].Start == start && m.windows[i].End == end {
			m.windows[i].Completed = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *MockRepository) LastCompletedSyncWindow(ctx context.Context) (*SyncWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *SyncWindow
	for i := range m.windows {
		w := m.windows[i]
		if !w.Completed {
			continue
		}
		if last == nil || w.Start > last.Start {
			last = &w
		}
	}
	if last == nil {
		return nil, ErrNotFound
	}
	copied := *last
	return &copied, nil
}

func (m *MockRepository) UpsertTokenPairs(ctx context.Context, pairs []TokenPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pair := range pairs {
		if err := pair.Validate(); err != nil {
			return err
		}
		key := pair.Key()
		if existing, ok := m.pairs[key]; ok {
			if pair.BlockNumber < existing.BlockNumber {
				existing.BlockNumber = pair.BlockNumber
			}
			existing.PoolAddress = pair.PoolAddress
			m.pairs[key] = existing
			continue
		}
		m.pairs[key] = pair
		m.order = append(m.order, key)
	}
	return nil
}

func (m *MockRepository) ListTokenPairs(ctx context.Context) ([]TokenPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pairs := make([]TokenPair, 0, len(m.order))
	for _, key := range m.order {
		pairs = append(pairs, m.pairs[key])
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].BlockNumber < pairs[j].BlockNumber })
	return pairs, nil
}

func (m *MockRepository) ListIncompleteTokenPairs(ctx context.Context) ([]TokenPair, error) {
	all, err := m.ListTokenPairs(ctx)
	if err != nil {
		return nil, err
	}
	var pairs []TokenPair
	for _, pair := range all {
		if !pair.Completed {
			pairs = append(pairs, pair)
		}
	}
	return pairs, nil
}

func (m *MockRepository) MarkTokenPairsCompleted(ctx context.Context, keys []PairKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		pair, ok := m.pairs[key]
		if !ok {
			return ErrNotFound
		}
		pair.Completed = true
		m.pairs[key] = pair
	}
	return nil
}

func (m *MockRepository) PoolAddressForPair(ctx context.Context, token0, token1 string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pair := range m.pairs {
		if (pair.Token0 == token0 && pair.Token1 == token1) ||
			(pair.Token0 == token1 && pair.Token1 == token0) {
			return pair.PoolAddress, nil
		}
	}
	return "", ErrNotFound
}

func (m *MockRepository) PoolEventsByBlockRange(ctx context.Context, startBlock, endBlock int64) (*PoolEvents, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := &PoolEvents{}
	for _, e := range m.Swaps {
		if e.BlockNumber >= startBlock && e.BlockNumber <= endBlock {
			events.Swaps = append(events.Swaps, e)
		}
	}
	for _, e := range m.Mints {
		if e.BlockNumber >= startBlock && e.BlockNumber <= endBlock {
			events.Mints = append(events.Mints, e)
		}
	}
	for _, e := range m.Burns {
		if e.BlockNumber >= startBlock && e.BlockNumber <= endBlock {
			events.Burns = append(events.Burns, e)
		}
	}
	for _, e := range m.Collects {
		if e.BlockNumber >= startBlock && e.BlockNumber <= endBlock {
			events.Collects = append(events.Collects, e)
		}
	}
	return events, nil
}

func (m *MockRepository) SignalAt(ctx context.Context, poolAddress string, timestamp int64) (*Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	signal, ok := m.Signals[signalKey(poolAddress, timestamp)]
	if !ok {
		return nil, ErrNotFound
	}
	return &signal, nil
}

// PutSignal seeds a signal row.
func (m *MockRepository) PutSignal(signal Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Signals[signalKey(signal.PoolAddress, signal.Timestamp)] = signal
}

func signalKey(pool string, timestamp int64) string {
	return pool + "|" + strconv.FormatInt(timestamp, 10)
}
