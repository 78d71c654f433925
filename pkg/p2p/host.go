package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	coreproto "github.com/libp2p/go-libp2p/core/protocol"
	"go.uber.org/zap"

	"dexnet/pkg/config"
	"dexnet/pkg/protocol"
	"dexnet/pkg/security"
)

// ProtocolPrefix is the stream protocol namespace. Each request kind
// gets its own protocol ID under it, derived from the method name.
const ProtocolPrefix = "/dexnet/1.0.0/"

// ProtocolIDFor returns the stream protocol ID serving the given
// request kind.
func ProtocolIDFor(s protocol.Synapse) coreproto.ID {
	return coreproto.ID(ProtocolPrefix + protocol.MethodName(s))
}

// HandlerFunc serves one decoded request and returns the response to
// send back on the stream.
type HandlerFunc func(ctx context.Context, raw json.RawMessage) (protocol.Response, error)

// Host serves typed requests over libp2p streams.
type Host struct {
	cfg    *config.P2PConfig
	host   host.Host
	keys   *security.KeyPair
	logger *zap.Logger
}

// NewHost creates a libp2p host listening on the configured port,
// using the node's ed25519 identity key.
func NewHost(cfg *config.P2PConfig, keys *security.KeyPair, logger *zap.Logger) (*Host, error) {
	priv, err := keys.Libp2pIdentity()
	if err != nil {
		return nil, fmt.Errorf("deriving libp2p identity: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.Port)),
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	logger.Info("P2P host listening",
		zap.String("peerID", h.ID().String()),
		zap.Any("listenAddrs", h.Addrs()))

	return &Host{
		cfg:    cfg,
		host:   h,
		keys:   keys,
		logger: logger,
	}, nil
}

// Handle registers a handler for one request kind. Must be called
// before traffic is expected; handlers cannot be replaced.
func (h *Host) Handle(sample protocol.Synapse, fn HandlerFunc) {
	id := ProtocolIDFor(sample)
	h.host.SetStreamHandler(id, func(stream network.Stream) {
		h.serveStream(stream, fn)
	})
	h.logger.Debug("Registered protocol handler", zap.String("protocol", string(id)))
}

// Libp2pHost exposes the underlying host for outbound calls.
func (h *Host) Libp2pHost() host.Host {
	return h.host
}

// Close shuts down the host and all open streams.
func (h *Host) Close() error {
	return h.host.Close()
}

func (h *Host) serveStream(stream network.Stream, fn HandlerFunc) {
	defer stream.Close()

	peerID := stream.Conn().RemotePeer()
	logger := h.logger.With(
		zap.String("protocol", string(stream.Protocol())),
		zap.String("peer", peerID.String()))

	if err := stream.SetDeadline(time.Now().Add(h.cfg.CallTimeout)); err != nil {
		logger.Error("Failed to set stream deadline", zap.Error(err))
		return
	}

	var env protocol.Envelope
	if err := json.NewDecoder(stream).Decode(&env); err != nil {
		logger.Error("Failed to decode request envelope", zap.Error(err))
		return
	}

	if _, err := security.VerifyToken(env.Token); err != nil {
		logger.Warn("Rejected request with invalid token", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.CallTimeout)
	defer cancel()

	resp, err := fn(ctx, env.Synapse)
	if err != nil {
		logger.Error("Handler failed", zap.String("requestID", env.ID), zap.Error(err))
		return
	}

	if err := json.NewEncoder(stream).Encode(resp); err != nil {
		logger.Error("Failed to write response", zap.String("requestID", env.ID), zap.Error(err))
		return
	}

	logger.Debug("Served request", zap.String("requestID", env.ID))
}
