package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResponseRoundTrip(t *testing.T) {
	t.Run("health check", func(t *testing.T) {
		raw, err := json.Marshal(NewHealthCheckResponse(1700000000, []string{"0xab"}))
		require.NoError(t, err)

		decoded, err := DecodeResponse(raw)
		require.NoError(t, err)

		resp := decoded.(*HealthCheckResponse)
		assert.Equal(t, int64(1700000000), resp.TimeCompleted)
		assert.Equal(t, []string{"0xab"}, resp.PoolAddresses)
	})

	t.Run("pool events", func(t *testing.T) {
		original, err := NewPoolEventResponse([]PoolEventRecord{
			{EventType: "swap", TransactionHash: "0xt1", PoolAddress: "0xab", BlockNumber: 105,
				Fields: map[string]string{"amount0": "340282366920938463463374607431768211456"}},
		})
		require.NoError(t, err)

		raw, err := json.Marshal(original)
		require.NoError(t, err)

		decoded, err := DecodeResponse(raw)
		require.NoError(t, err)

		resp := decoded.(*PoolEventResponse)
		require.Len(t, resp.Data, 1)
		// Large amounts survive the wire untouched.
		assert.Equal(t, "340282366920938463463374607431768211456", resp.Data[0].Fields["amount0"])
		assert.Equal(t, original.OverallDataHash, resp.OverallDataHash)
	})

	t.Run("signals", func(t *testing.T) {
		raw, err := json.Marshal(NewSignalEventResponse(1.5, 1000, 42))
		require.NoError(t, err)

		decoded, err := DecodeResponse(raw)
		require.NoError(t, err)
		assert.Equal(t, 1.5, decoded.(*SignalEventResponse).Price)
	})

	t.Run("prediction", func(t *testing.T) {
		raw, err := json.Marshal(NewPredictionResponse([]float64{2.1, 2.2}))
		require.NoError(t, err)

		decoded, err := DecodeResponse(raw)
		require.NoError(t, err)
		assert.Equal(t, []float64{2.1, 2.2}, decoded.(*PredictionResponse).Prices)
	})
}

func TestDecodeResponseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{"class_name":`},
		{"unknown class", `{"class_name":"ForgedResponse"}`},
		{"empty class", `{}`},
		{"health check without progress", `{"class_name":"HealthCheckResponse","time_completed":0}`},
		{"pool events without data", `{"class_name":"PoolEventResponse","overall_data_hash":"ab"}`},
		{"pool events without digest", `{"class_name":"PoolEventResponse","data":[]}`},
		{"prediction without prices", `{"class_name":"PredictionResponse","prices":[]}`},
		// Requests are never valid responses even though their class
		// names are part of the registry.
		{"request class", `{"class_name":"HealthCheckSynapse"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestMethodName(t *testing.T) {
	assert.Equal(t, "forwardHealthCheckSynapse", MethodName(NewHealthCheckSynapse()))
	assert.Equal(t, "forwardPredictionSynapse", MethodName(NewPredictionSynapse("0xA", 1700000000)))
}

func TestPayloadDigest(t *testing.T) {
	records := []PoolEventRecord{
		{EventType: "swap", TransactionHash: "0xt1", PoolAddress: "0xab", BlockNumber: 105},
	}

	digest, err := PayloadDigest(records)
	require.NoError(t, err)
	assert.Len(t, digest, 64)

	ok, err := VerifyDigest(records, digest)
	require.NoError(t, err)
	assert.True(t, ok)

	// Any mutation breaks verification.
	records[0].BlockNumber = 106
	ok, err = VerifyDigest(records, digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewPoolEventResponseDigestsPayload(t *testing.T) {
	resp, err := NewPoolEventResponse([]PoolEventRecord{
		{EventType: "mint", TransactionHash: "0xt2", PoolAddress: "0xcd", BlockNumber: 42},
	})
	require.NoError(t, err)

	ok, err := VerifyDigest(resp.Data, resp.OverallDataHash)
	require.NoError(t, err)
	assert.True(t, ok)
}
