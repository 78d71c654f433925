package validator

import (
	"context"
	"fmt"
	"net"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"dexnet/pkg/config"
	"dexnet/pkg/ledger"
	"dexnet/pkg/security"
)

// Peer is one pollable miner discovered from the ledger.
type Peer struct {
	UID      int
	Identity string
	Addr     multiaddr.Multiaddr
	ID       peer.ID
}

// Directory resolves the current peer set from the ledger each round.
// Membership changes between rounds as keys register and deregister.
type Directory struct {
	cfg    *config.LedgerConfig
	ledger ledger.Client
	keys   *security.KeyPair
	logger *zap.Logger
}

// NewDirectory creates a peer directory over the given ledger client.
func NewDirectory(cfg *config.LedgerConfig, ledgerClient ledger.Client, keys *security.KeyPair, logger *zap.Logger) *Directory {
	return &Directory{
		cfg:    cfg,
		ledger: ledgerClient,
		keys:   keys,
		logger: logger,
	}
}

// Peers resolves every registered miner with both an address and an
// identity key, excluding the caller itself. The caller's own key must
// be registered in the subnet; a missing registration is unrecoverable
// for the process and surfaces as ledger.ErrNotRegistered.
func (d *Directory) Peers(ctx context.Context) (map[int]Peer, error) {
	addresses, err := d.ledger.ResolvePeerAddresses(ctx, d.cfg.SubnetID)
	if err != nil {
		return nil, fmt.Errorf("resolving addresses: %w", err)
	}

	identities, err := d.ledger.ResolvePeerIdentities(ctx, d.cfg.SubnetID)
	if err != nil {
		return nil, fmt.Errorf("resolving identities: %w", err)
	}

	own := d.keys.PublicKeyHex()
	registered := false
	for _, identity := range identities {
		if identity == own {
			registered = true
			break
		}
	}
	if !registered {
		return nil, fmt.Errorf("own key %s: %w", own, ledger.ErrNotRegistered)
	}

	peers := make(map[int]Peer, len(addresses))
	for uid, addr := range addresses {
		identity, ok := identities[uid]
		if !ok || identity == own {
			continue
		}

		maddr, err := hostPortToMultiaddr(addr)
		if err != nil {
			d.logger.Warn("Skipping peer with bad address",
				zap.Int("uid", uid), zap.String("address", addr), zap.Error(err))
			continue
		}

		id, err := security.PeerIDFromIdentity(identity)
		if err != nil {
			d.logger.Warn("Skipping peer with bad identity key",
				zap.Int("uid", uid), zap.Error(err))
			continue
		}

		peers[uid] = Peer{UID: uid, Identity: identity, Addr: maddr, ID: id}
	}

	d.logger.Debug("Resolved peer set", zap.Int("peers", len(peers)))
	return peers, nil
}

func hostPortToMultiaddr(addr string) (multiaddr.Multiaddr, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("splitting host and port: %w", err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("address %q is not an IP", host)
	}
	proto := "ip4"
	if ip.To4() == nil {
		proto = "ip6"
	}
	return multiaddr.NewMultiaddr(fmt.Sprintf("/%s/%s/tcp/%s", proto, host, port))
}
