package alert

import (
	"flow-threat-detector/internal/model"
)

// Policy defaults. A batch below the flow floor or the attack ratio
// never produces an alert, no matter how malicious the sample looks.
const (
	DefaultMinBatchFlows  = 40
	DefaultMinAttackRatio = 0.40

	DefaultCriticalPct = 80.0
	DefaultHighPct     = 65.0
	DefaultMediumPct   = 50.0

	// MaxConfidenceScore caps reported confidence below certainty.
	MaxConfidenceScore = 99.9
)

// Policy decides whether a scored batch warrants an alert and how
// severe it is.
type Policy struct {
	MinBatchFlows  int
	MinAttackRatio float64
	CriticalPct    float64
	HighPct        float64
	MediumPct      float64
}

func DefaultPolicy() Policy {
	return Policy{
		MinBatchFlows:  DefaultMinBatchFlows,
		MinAttackRatio: DefaultMinAttackRatio,
		CriticalPct:    DefaultCriticalPct,
		HighPct:        DefaultHighPct,
		MediumPct:      DefaultMediumPct,
	}
}

// Evaluate applies both alert gates to a batch. It returns the alert
// severity and true only when the batch is large enough and hostile
// enough to report.
func (p Policy) Evaluate(totalFlows, attackCount int) (string, bool) {
	if totalFlows <= 0 || totalFlows < p.MinBatchFlows {
		return "", false
	}

	ratio := float64(attackCount) / float64(totalFlows)
	if ratio < p.MinAttackRatio {
		return "", false
	}

	return p.Severity(ratio * 100), true
}

// Severity maps an attack percentage onto the alert severity tiers.
func (p Policy) Severity(attackPct float64) string {
	switch {
	case attackPct >= p.CriticalPct:
		return model.SeverityCritical
	case attackPct >= p.HighPct:
		return model.SeverityHigh
	case attackPct >= p.MediumPct:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// Confidence converts an attack percentage into the confidence score
// stored on the alert, capped at MaxConfidenceScore.
func Confidence(attackPct float64) float64 {
	if attackPct > MaxConfidenceScore {
		return MaxConfidenceScore
	}
	return attackPct
}
