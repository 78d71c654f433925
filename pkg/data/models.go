package data

import (
	"errors"
	"fmt"
)

// Error variables for consistent error handling
var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicate   = errors.New("duplicate record")
	ErrInvalidPair = errors.New("invalid trading pair")
)

// Event kinds stored by the miner.
const (
	EventTypeSwap    = "swap"
	EventTypeMint    = "mint"
	EventTypeBurn    = "burn"
	EventTypeCollect = "collect"
)

// SyncWindow is one ingestion pass over a contiguous time range.
// Windows are contiguous and non-overlapping; the end of the last
// completed window is the cursor for the next pass.
type SyncWindow struct {
	Start     int64 `json:"start"`
	End       int64 `json:"end"`
	Completed bool  `json:"completed"`
}

// TokenPair is one trading pool. (Token0, Token1, Fee) is the natural
// key even though the store assigns a surrogate id.
type TokenPair struct {
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	Fee         int32  `json:"fee"`
	PoolAddress string `json:"pool_address"`
	BlockNumber int64  `json:"block_number"`
	Completed   bool   `json:"completed"`
}

// Validate checks the pair's natural key fields.
func (p *TokenPair) Validate() error {
	if p.Token0 == "" || p.Token1 == "" {
		return fmt.Errorf("%w: token addresses cannot be empty", ErrInvalidPair)
	}
	if p.PoolAddress == "" {
		return fmt.Errorf("%w: pool address cannot be empty", ErrInvalidPair)
	}
	if p.Fee < 0 {
		return fmt.Errorf("%w: negative fee tier", ErrInvalidPair)
	}
	return nil
}

// PairKey identifies a trading pair by its natural key.
type PairKey struct {
	Token0 string
	Token1 string
	Fee    int32
}

func (p *TokenPair) Key() PairKey {
	return PairKey{Token0: p.Token0, Token1: p.Token1, Fee: p.Fee}
}

// SwapEvent is an immutable swap record. Signed/unsigned 256-bit
// amounts are kept as decimal strings to avoid precision loss.
type SwapEvent struct {
	TransactionHash string `json:"transaction_hash"`
	PoolAddress     string `json:"pool_address"`
	BlockNumber     int64  `json:"block_number"`
	Sender          string `json:"sender"`
	To              string `json:"to"`
	Amount0         string `json:"amount0"`
	Amount1         string `json:"amount1"`
	SqrtPriceX96    string `json:"sqrt_price_x96"`
	Liquidity       string `json:"liquidity"`
	Tick            int32  `json:"tick"`
}

// MintEvent is an immutable liquidity-mint record.
type MintEvent struct {
	TransactionHash string `json:"transaction_hash"`
	PoolAddress     string `json:"pool_address"`
	BlockNumber     int64  `json:"block_number"`
	Sender          string `json:"sender"`
	Owner           string `json:"owner"`
	TickLower       int32  `json:"tick_lower"`
	TickUpper       int32  `json:"tick_upper"`
	Amount          string `json:"amount"`
	Amount0         string `json:"amount0"`
	Amount1         string `json:"amount1"`
}

// BurnEvent is an immutable liquidity-burn record.
type BurnEvent struct {
	TransactionHash string `json:"transaction_hash"`
	PoolAddress     string `json:"pool_address"`
	BlockNumber     int64  `json:"block_number"`
	Owner           string `json:"owner"`
	TickLower       int32  `json:"tick_lower"`
	TickUpper       int32  `json:"tick_upper"`
	Amount          string `json:"amount"`
	Amount0         string `json:"amount0"`
	Amount1         string `json:"amount1"`
}

// CollectEvent is an immutable fee-collect record.
type CollectEvent struct {
	TransactionHash string `json:"transaction_hash"`
	PoolAddress     string `json:"pool_address"`
	BlockNumber     int64  `json:"block_number"`
	Owner           string `json:"owner"`
	Recipient       string `json:"recipient"`
	TickLower       int32  `json:"tick_lower"`
	TickUpper       int32  `json:"tick_upper"`
	Amount0         string `json:"amount0"`
	Amount1         string `json:"amount1"`
}

// Signal is the stored scalar view of one pool at one timestamp.
type Signal struct {
	Timestamp   int64   `json:"timestamp"`
	PoolAddress string  `json:"pool_address"`
	Price       float64 `json:"price"`
	Liquidity   float64 `json:"liquidity"`
	Volume      float64 `json:"volume"`
}
