package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Repository defines the miner's persistence interface.
type Repository interface {
	// Sync window operations
	AddSyncWindow(ctx context.Context, start, end int64) error
	MarkSyncWindowCompleted(ctx context.Context, start, end int64) error
	LastCompletedSyncWindow(ctx context.Context) (*SyncWindow, error)

	// Trading pair operations
	UpsertTokenPairs(ctx context.Context, pairs []TokenPair) error
	ListTokenPairs(ctx context.Context) ([]TokenPair, error)
	ListIncompleteTokenPairs(ctx context.Context) ([]TokenPair, error)
	MarkTokenPairsCompleted(ctx context.Context, keys []PairKey) error
	PoolAddressForPair(ctx context.Context, token0, token1 string) (string, error)

	// Pool event operations
	PoolEventsByBlockRange(ctx context.Context, startBlock, endBlock int64) (*PoolEvents, error)

	// Signal operations
	SignalAt(ctx context.Context, poolAddress string, timestamp int64) (*Signal, error)
}

// PoolEvents groups every event kind for one block range.
type PoolEvents struct {
	Swaps    []SwapEvent
	Mints    []MintEvent
	Burns    []BurnEvent
	Collects []CollectEvent
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL repository instance.
func NewPostgresRepository(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresRepository{pool: pool, logger: logger}, nil
}

// Close releases all database resources.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// AddSyncWindow records a new, not yet completed ingestion window.
func (r *PostgresRepository) AddSyncWindow(ctx context.Context, start, end int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO timetable (start_ts, end_ts, completed)
		VALUES ($1, $2, false)
		ON CONFLICT (start_ts) DO UPDATE SET end_ts = EXCLUDED.end_ts`,
		start, end,
	)
	if err != nil {
		return fmt.Errorf("inserting sync window: %w", err)
	}
	return nil
}

// MarkSyncWindowCompleted flips the completed flag of one window.
func (r *PostgresRepository) MarkSyncWindowCompleted(ctx context.Context, start, end int64) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE timetable SET completed = true
		WHERE start_ts = $1 AND end_ts = $2`,
		start, end,
	)
	if err != nil {
		return fmt.Errorf("marking sync window completed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LastCompletedSyncWindow returns the most recent completed window, or
// ErrNotFound when no window has completed yet.
func (r *PostgresRepository) LastCompletedSyncWindow(ctx context.Context) (*SyncWindow, error) {
	window := &SyncWindow{}
	err := r.pool.QueryRow(ctx, `
		SELECT start_ts, end_ts, completed FROM timetable
		WHERE completed = true
		ORDER BY start_ts DESC
		LIMIT 1`,
	).Scan(&window.Start, &window.End, &window.Completed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying last completed window: %w", err)
	}
	return window, nil
}

// UpsertTokenPairs inserts trading pairs keyed by (token0, token1,
// fee). Re-inserting an existing pair never duplicates it.
func (r *PostgresRepository) UpsertTokenPairs(ctx context.Context, pairs []TokenPair) error {
	if len(pairs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range pairs {
		pair := &pairs[i]
		if err := pair.Validate(); err != nil {
			return fmt.Errorf("validating token pair: %w", err)
		}
		batch.Queue(`
			INSERT INTO token_pairs (token0, token1, fee, pool_address, block_number, completed)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (token0, token1, fee) DO UPDATE SET
				pool_address = EXCLUDED.pool_address,
				block_number = LEAST(token_pairs.block_number, EXCLUDED.block_number)`,
			pair.Token0, pair.Token1, pair.Fee, pair.PoolAddress, pair.BlockNumber, pair.Completed,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pairs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upserting token pair: %w", err)
		}
	}
	return nil
}

// ListTokenPairs returns every known trading pair.
func (r *PostgresRepository) ListTokenPairs(ctx context.Context) ([]TokenPair, error) {
	return r.queryPairs(ctx, `
		SELECT token0, token1, fee, pool_address, block_number, completed
		FROM token_pairs
		ORDER BY block_number`)
}

// ListIncompleteTokenPairs returns pairs whose history is still being
// ingested.
func (r *PostgresRepository) ListIncompleteTokenPairs(ctx context.Context) ([]TokenPair, error) {
	return r.queryPairs(ctx, `
		SELECT token0, token1, fee, pool_address, block_number, completed
		FROM token_pairs
		WHERE completed = false
		ORDER BY block_number`)
}

func (r *PostgresRepository) queryPairs(ctx context.Context, query string) ([]TokenPair, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying token pairs: %w", err)
	}
	defer rows.Close()

	var pairs []TokenPair
	for rows.Next() {
		var pair TokenPair
		if err := rows.Scan(&pair.Token0, &pair.Token1, &pair.Fee,
			&pair.PoolAddress, &pair.BlockNumber, &pair.Completed); err != nil {
			return nil, fmt.Errorf("scanning token pair row: %w", err)
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating token pair rows: %w", err)
	}
	return pairs, nil
}

// MarkTokenPairsCompleted flips the synced flag for the given pairs.
func (r *PostgresRepository) MarkTokenPairsCompleted(ctx context.Context, keys []PairKey) error {
	if len(keys) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, key := range keys {
		batch.Queue(`
			UPDATE token_pairs SET completed = true
			WHERE token0 = $1 AND token1 = $2 AND fee = $3`,
			key.Token0, key.Token1, key.Fee,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range keys {
		result, err := br.Exec()
		if err != nil {
			return fmt.Errorf("marking token pair completed: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// PoolAddressForPair resolves the pool trading a token pair, in either
// token ordering.
func (r *PostgresRepository) PoolAddressForPair(ctx context.Context, token0, token1 string) (string, error) {
	var pool string
	err := r.pool.QueryRow(ctx, `
		SELECT pool_address FROM token_pairs
		WHERE (token0 = $1 AND token1 = $2) OR (token0 = $2 AND token1 = $1)
		LIMIT 1`,
		token0, token1,
	).Scan(&pool)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("querying pool address: %w", err)
	}
	return pool, nil
}

// PoolEventsByBlockRange returns every stored event whose block number
// falls in [startBlock, endBlock].
func (r *PostgresRepository) PoolEventsByBlockRange(ctx context.Context, startBlock, endBlock int64) (*PoolEvents, error) {
	events := &PoolEvents{}

	rows, err := r.pool.Query(ctx, `
		SELECT transaction_hash, pool_address, block_number, sender, "to",
		       amount0, amount1, sqrt_price_x96, liquidity, tick
		FROM swap_event
		WHERE block_number >= $1 AND block_number <= $2`,
		startBlock, endBlock,
	)
	if err != nil {
		return nil, fmt.Errorf("querying swap events: %w", err)
	}
	for rows.Next() {
		var e SwapEvent
		if err := rows.Scan(&e.TransactionHash, &e.PoolAddress, &e.BlockNumber, &e.Sender,
			&e.To, &e.Amount0, &e.Amount1, &e.SqrtPriceX96, &e.Liquidity, &e.Tick); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning swap event: %w", err)
		}
		events.Swaps = append(events.Swaps, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating swap events: %w", err)
	}

	rows, err = r.pool.Query(ctx, `
		SELECT transaction_hash, pool_address, block_number, sender, owner,
		       tick_lower, tick_upper, amount, amount0, amount1
		FROM mint_event
		WHERE block_number >= $1 AND block_number <= $2`,
		startBlock, endBlock,
	)
	if err != nil {
		return nil, fmt.Errorf("querying mint events: %w", err)
	}
	for rows.Next() {
		var e MintEvent
		if err := rows.Scan(&e.TransactionHash, &e.PoolAddress, &e.BlockNumber, &e.Sender,
			&e.Owner, &e.TickLower, &e.TickUpper, &e.Amount, &e.Amount0, &e.Amount1); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning mint event: %w", err)
		}
		events.Mints = append(events.Mints, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mint events: %w", err)
	}

	rows, err = r.pool.Query(ctx, `
		SELECT transaction_hash, pool_address, block_number, owner,
		       tick_lower, tick_upper, amount, amount0, amount1
		FROM burn_event
		WHERE block_number >= $1 AND block_number <= $2`,
		startBlock, endBlock,
	)
	if err != nil {
		return nil, fmt.Errorf("querying burn events: %w", err)
	}
	for rows.Next() {
		var e BurnEvent
		if err := rows.Scan(&e.TransactionHash, &e.PoolAddress, &e.BlockNumber, &e.Owner,
			&e.TickLower, &e.TickUpper, &e.Amount, &e.Amount0, &e.Amount1); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning burn event: %w", err)
		}
		events.Burns = append(events.Burns, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating burn events: %w", err)
	}

	rows, err = r.pool.Query(ctx, `
		SELECT transaction_hash, pool_address, block_number, owner, recipient,
		       tick_lower, tick_upper, amount0, amount1
		FROM collect_event
		WHERE block_number >= $1 AND block_number <= $2`,
		startBlock, endBlock,
	)
	if err != nil {
		return nil, fmt.Errorf("querying collect events: %w", err)
	}
	for rows.Next() {
		var e CollectEvent
		if err := rows.Scan(&e.TransactionHash, &e.PoolAddress, &e.BlockNumber, &e.Owner,
			&e.Recipient, &e.TickLower, &e.TickUpper, &e.Amount0, &e.Amount1); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning collect event: %w", err)
		}
		events.Collects = append(events.Collects, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating collect events: %w", err)
	}

	return events, nil
}

// SignalAt returns the stored signals of a pool at a timestamp.
func (r *PostgresRepository) SignalAt(ctx context.Context, poolAddress string, timestamp int64) (*Signal, error) {
	signal := &Signal{}
	err := r.pool.QueryRow(ctx, `
		SELECT timestamp, pool_address, price, liquidity, volume
		FROM signals
		WHERE pool_address = $1 AND timestamp = $2`,
		poolAddress, timestamp,
	).Scan(&signal.Timestamp, &signal.PoolAddress, &signal.Price, &signal.Liquidity, &signal.Volume)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying signal: %w", err)
	}
	return signal, nil
}
