package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"dexnet/pkg/config"
	"dexnet/pkg/protocol"
	"dexnet/pkg/security"
)

// Caller issues typed requests to remote hosts and measures the time
// each call takes.
type Caller struct {
	cfg    *config.P2PConfig
	host   host.Host
	keys   *security.KeyPair
	logger *zap.Logger
}

// NewCaller creates a caller on top of an existing libp2p host.
func NewCaller(cfg *config.P2PConfig, h host.Host, keys *security.KeyPair, logger *zap.Logger) *Caller {
	return &Caller{
		cfg:    cfg,
		host:   h,
		keys:   keys,
		logger: logger,
	}
}

// Call sends one request to the peer at addr and decodes its typed
// response. The returned duration covers the full round trip. On any
// transport or decode failure the duration still reflects the time
// spent before giving up.
func (c *Caller) Call(ctx context.Context, addr multiaddr.Multiaddr, id peer.ID, syn protocol.Synapse) (protocol.Response, time.Duration, error) {
	start := time.Now()

	resp, err := c.call(ctx, addr, id, syn)
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, err
	}
	return resp, elapsed, nil
}

func (c *Caller) call(ctx context.Context, addr multiaddr.Multiaddr, id peer.ID, syn protocol.Synapse) (protocol.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	c.host.Peerstore().AddAddr(id, addr, peerstore.TempAddrTTL)

	stream, err := c.host.NewStream(ctx, id, ProtocolIDFor(syn))
	if err != nil {
		return nil, fmt.Errorf("opening stream to %s: %w", id, err)
	}
	defer stream.Close()

	if err := stream.SetDeadline(time.Now().Add(c.cfg.CallTimeout)); err != nil {
		return nil, fmt.Errorf("setting stream deadline: %w", err)
	}

	token, err := c.keys.GenerateToken(c.cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issuing request token: %w", err)
	}

	rawSyn, err := json.Marshal(syn)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	env := protocol.Envelope{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Token:     token,
		Synapse:   rawSyn,
	}

	if err := json.NewEncoder(stream).Encode(&env); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		return nil, fmt.Errorf("closing write side: %w", err)
	}

	raw, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	resp, err := protocol.DecodeResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("from %s: %w", id, err)
	}

	c.logger.Debug("Call completed",
		zap.String("peer", id.String()),
		zap.String("method", protocol.MethodName(syn)),
		zap.String("requestID", env.ID))

	return resp, nil
}
