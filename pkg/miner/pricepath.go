package miner

import (
	"context"
	"errors"
	"fmt"

	"dexnet/pkg/data"
)

// ErrNoPriceRoute means no chain of pools connects a token to the
// reference token.
var ErrNoPriceRoute = errors.New("no price route to reference token")

// Hop is one pool traversal on a price route. Inverted means the
// route enters the pool through token1, so the pool's token0/token1
// ratio must be flipped when composing prices.
type Hop struct {
	PoolAddress string
	TokenIn     string
	TokenOut    string
	Inverted    bool
}

// FindPricePath returns the shortest chain of pools from token to
// reference, walking the trading-pair adjacency with a breadth-first
// search. A token priced against itself needs no hops and yields an
// empty path.
func FindPricePath(ctx context.Context, repo data.Repository, token, reference string) ([]Hop, error) {
	if token == reference {
		return nil, nil
	}

	pairs, err := repo.ListTokenPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading trading pairs: %w", err)
	}

	// Adjacency over tokens; the first pool found for an edge wins.
	type edge struct {
		pool     string
		other    string
		inverted bool
	}
	adjacency := make(map[string][]edge)
	for _, pair := range pairs {
		adjacency[pair.Token0] = append(adjacency[pair.Token0],
			edge{pool: pair.PoolAddress, other: pair.Token1, inverted: false})
		adjacency[pair.Token1] = append(adjacency[pair.Token1],
			edge{pool: pair.PoolAddress, other: pair.Token0, inverted: true})
	}

	type node struct {
		token string
		path  []Hop
	}

	visited := map[string]bool{token: true}
	queue := []node{{token: token}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, e := range adjacency[current.token] {
			if visited[e.other] {
				continue
			}
			visited[e.other] = true

			path := make([]Hop, len(current.path), len(current.path)+1)
			copy(path, current.path)
			path = append(path, Hop{
				PoolAddress: e.pool,
				TokenIn:     current.token,
				TokenOut:    e.other,
				Inverted:    e.inverted,
			})

			if e.other == reference {
				return path, nil
			}
			queue = append(queue, node{token: e.other, path: path})
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNoPriceRoute, token)
}
