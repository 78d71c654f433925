package p2p

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dexnet/pkg/config"
	"dexnet/pkg/protocol"
	"dexnet/pkg/security"
)

func testP2PConfig() *config.P2PConfig {
	return &config.P2PConfig{
		Port:        0,
		CallTimeout: 5 * time.Second,
		MaxWorkers:  4,
		TokenTTL:    time.Minute,
	}
}

func TestProtocolIDFor(t *testing.T) {
	id := ProtocolIDFor(protocol.NewHealthCheckSynapse())
	assert.Equal(t, "/dexnet/1.0.0/forwardHealthCheckSynapse", string(id))

	id = ProtocolIDFor(protocol.NewPoolEventSynapse("0xabc", 0, 100))
	assert.Equal(t, "/dexnet/1.0.0/forwardPoolEventSynapse", string(id))
}

func TestHostCallerRoundTrip(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := testP2PConfig()

	serverKeys, err := security.GenerateKeyPair()
	require.NoError(t, err)
	clientKeys, err := security.GenerateKeyPair()
	require.NoError(t, err)

	server, err := NewHost(cfg, serverKeys, logger)
	require.NoError(t, err)
	defer server.Close()

	server.Handle(protocol.NewHealthCheckSynapse(), func(ctx context.Context, raw json.RawMessage) (protocol.Response, error) {
		return protocol.NewHealthCheckResponse(1700000000, []string{"0xpool"}), nil
	})

	client, err := NewHost(cfg, clientKeys, logger)
	require.NoError(t, err)
	defer client.Close()

	caller := NewCaller(cfg, client.Libp2pHost(), clientKeys, logger)

	addrs := server.Libp2pHost().Addrs()
	require.NotEmpty(t, addrs)

	resp, elapsed, err := caller.Call(context.Background(),
		addrs[0], server.Libp2pHost().ID(), protocol.NewHealthCheckSynapse())
	require.NoError(t, err)
	require.Greater(t, elapsed, time.Duration(0))

	health, ok := resp.(*protocol.HealthCheckResponse)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), health.TimeCompleted)
	assert.Equal(t, []string{"0xpool"}, health.PoolAddresses)
}

func TestCallerUnknownPeer(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := testP2PConfig()
	cfg.CallTimeout = 500 * time.Millisecond

	clientKeys, err := security.GenerateKeyPair()
	require.NoError(t, err)
	serverKeys, err := security.GenerateKeyPair()
	require.NoError(t, err)

	client, err := NewHost(cfg, clientKeys, logger)
	require.NoError(t, err)
	defer client.Close()

	server, err := NewHost(cfg, serverKeys, logger)
	require.NoError(t, err)
	target := server.Libp2pHost().ID()
	addr := server.Libp2pHost().Addrs()[0]
	require.NoError(t, server.Close())

	caller := NewCaller(cfg, client.Libp2pHost(), clientKeys, logger)

	_, _, err = caller.Call(context.Background(), addr, target, protocol.NewHealthCheckSynapse())
	assert.Error(t, err)
}
