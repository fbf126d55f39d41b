package alert

import (
	"testing"

	"flow-threat-detector/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Evaluate(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name         string
		totalFlows   int
		attackCount  int
		wantSeverity string
		wantAlert    bool
	}{
		{"empty batch", 0, 0, "", false},
		{"below flow floor", 39, 39, "", false},
		{"at floor but below ratio", 100, 39, "", false},
		{"both gates at the boundary", 40, 16, model.SeverityLow, true},
		{"medium tier", 100, 50, model.SeverityMedium, true},
		{"just under medium", 1000, 499, model.SeverityLow, true},
		{"high tier", 100, 65, model.SeverityHigh, true},
		{"critical tier", 100, 80, model.SeverityCritical, true},
		{"everything hostile", 200, 200, model.SeverityCritical, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			severity, ok := policy.Evaluate(tt.totalFlows, tt.attackCount)
			assert.Equal(t, tt.wantAlert, ok)
			assert.Equal(t, tt.wantSeverity, severity)
		})
	}
}

func TestPolicy_Evaluate_CustomGates(t *testing.T) {
	policy := DefaultPolicy()
	policy.MinBatchFlows = 10
	policy.MinAttackRatio = 0.20

	severity, ok := policy.Evaluate(10, 2)
	assert.True(t, ok)
	assert.Equal(t, model.SeverityLow, severity)

	_, ok = policy.Evaluate(10, 1)
	assert.False(t, ok)
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 45.0, Confidence(45.0))
	assert.Equal(t, MaxConfidenceScore, Confidence(100.0))
	assert.Equal(t, MaxConfidenceScore, Confidence(99.95))
	assert.Equal(t, 0.0, Confidence(0))
}
