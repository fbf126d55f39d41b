package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStreamMessage(t *testing.T) {
	t.Run("round-trips a batch message", func(t *testing.T) {
		stats := BatchStatistics{TotalFlows: 2, AttackPredictions: 1, BenignPredictions: 1}
		predictions := []PredictionResult{
			{IsAttack: true, AttackProbability: 0.01, BenignProbability: 0.99, Confidence: 0.99},
			{IsAttack: false, AttackProbability: 0.6, BenignProbability: 0.4, Confidence: 0.6},
		}

		msg := NewBatchMessage("client-1", "res-1", predictions, stats)
		require.NotEmpty(t, msg.MessageID)
		assert.Equal(t, MessageSource, msg.Source)

		payload, err := msg.Encode()
		require.NoError(t, err)

		decoded, err := DecodeStreamMessage(payload)
		require.NoError(t, err)
		assert.True(t, decoded.IsBatch())
		assert.Equal(t, msg.MessageID, decoded.MessageID)
		assert.Equal(t, 2, decoded.BatchResults.Statistics.TotalFlows)
		assert.Len(t, decoded.BatchResults.Predictions, 2)
	})

	t.Run("round-trips a single-prediction message", func(t *testing.T) {
		meta := FlowMeta{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", DstPort: 443}
		msg := NewSingleMessage("client-1", "res-1", PredictionResult{IsAttack: true}, &meta)

		payload, err := msg.Encode()
		require.NoError(t, err)

		decoded, err := DecodeStreamMessage(payload)
		require.NoError(t, err)
		assert.False(t, decoded.IsBatch())
		assert.Equal(t, "10.0.0.1", decoded.FlowMeta.SrcIP)
		assert.True(t, decoded.Prediction.IsAttack)
	})

	t.Run("rejects empty payload", func(t *testing.T) {
		_, err := DecodeStreamMessage(nil)
		assert.Error(t, err)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		_, err := DecodeStreamMessage([]byte("{not json"))
		assert.Error(t, err)
	})

	t.Run("rejects missing identifiers", func(t *testing.T) {
		_, err := DecodeStreamMessage([]byte(`{"message_id":"m1","client_id":"c1","prediction":{"is_attack":true}}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resource_id")
	})

	t.Run("rejects payload without scoring content", func(t *testing.T) {
		_, err := DecodeStreamMessage([]byte(`{"message_id":"m1","client_id":"c1","resource_id":"r1"}`))
		assert.Error(t, err)
	})

	t.Run("rejects payload with both batch and single content", func(t *testing.T) {
		payload := []byte(`{"message_id":"m1","client_id":"c1","resource_id":"r1",` +
			`"batch_results":{"predictions":[],"statistics":{}},"prediction":{"is_attack":false}}`)
		_, err := DecodeStreamMessage(payload)
		assert.Error(t, err)
	})
}

func TestFlowRecord_MissingFeatures(t *testing.T) {
	rec := FlowRecord{Features: map[string]float64{}}
	for _, name := range FeatureNames() {
		rec.Features[name] = 1
	}
	assert.Empty(t, rec.MissingFeatures())

	delete(rec.Features, "flow_iat_std")
	delete(rec.Features, "dst_port")
	assert.Equal(t, []string{"dst_port", "flow_iat_std"}, rec.MissingFeatures())
}

func TestFeatureNames(t *testing.T) {
	names := FeatureNames()
	require.Len(t, names, NumFeatures)
	assert.Equal(t, "dst_port", names[0])
	assert.Equal(t, "fwd_seg_size_min", names[len(names)-1])

	// Returned slice is a copy; mutating it must not affect the schema.
	names[0] = "mutated"
	assert.Equal(t, "dst_port", FeatureNames()[0])

	assert.Equal(t, "Flow Byts/s", FeatureDisplayName("flow_byts_s"))
	assert.Equal(t, "unknown_col", FeatureDisplayName("unknown_col"))
}
