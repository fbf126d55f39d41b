package scorer

import (
	"fmt"

	"flow-threat-detector/internal/model"

	"github.com/sirupsen/logrus"
)

// Threshold polarity values. The source model was trained with an
// inverted decision rule (a low attack probability indicates an
// attack), so the polarity is configuration, never a hard-coded
// "probability >= threshold".
const (
	PolarityBelow = "below"
	PolarityAbove = "above"
)

// DefaultDecisionThreshold is the trained model's operating point.
const DefaultDecisionThreshold = 0.022

// Options control how the ensemble classifies and reports.
type Options struct {
	// DecisionThreshold is compared against the attack probability.
	DecisionThreshold float64
	// ThresholdPolarity selects the comparison direction: "below"
	// flags flows whose attack probability is under the threshold,
	// "above" flags flows at or over it.
	ThresholdPolarity string
	// StrictFeatures rejects batches missing declared feature columns
	// instead of zero-filling them.
	StrictFeatures bool
	// IncludeExplanations attaches the top base model per flow.
	IncludeExplanations bool
}

// Result is the output of scoring one batch.
type Result struct {
	Predictions []model.PredictionResult
	BaseScores  map[string][]float64
}

// Ensemble scores batches of flows with a stacked model: every base
// model produces one probability vector over the batch, the meta model
// consumes the features plus all base vectors. Scoring is deterministic
// for a given model file and runs as whole-matrix operations.
type Ensemble struct {
	version  string
	features []string
	base     []LogisticModel
	meta     LogisticModel
	opts     Options
	logger   *logrus.Logger
}

// Load reads a model file and builds an ensemble from it.
func Load(path string, opts Options, logger *logrus.Logger) (*Ensemble, error) {
	mf, err := LoadModelFile(path)
	if err != nil {
		return nil, err
	}
	return New(mf, opts, logger)
}

// New builds an ensemble from an already-validated model.
func New(mf *ModelFile, opts Options, logger *logrus.Logger) (*Ensemble, error) {
	if err := mf.Validate(); err != nil {
		return nil, err
	}

	if opts.DecisionThreshold <= 0 || opts.DecisionThreshold >= 1 {
		return nil, fmt.Errorf("decision threshold %v out of range (0,1)", opts.DecisionThreshold)
	}
	switch opts.ThresholdPolarity {
	case PolarityBelow, PolarityAbove:
	default:
		return nil, fmt.Errorf("unknown threshold polarity %q", opts.ThresholdPolarity)
	}

	return &Ensemble{
		version:  mf.Version,
		features: append([]string(nil), mf.Features...),
		base:     mf.BaseModels,
		meta:     mf.MetaModel,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Version returns the loaded model's version string.
func (e *Ensemble) Version() string {
	return e.version
}

// Features returns the declared feature columns in order.
func (e *Ensemble) Features() []string {
	return append([]string(nil), e.features...)
}

// Threshold returns the configured decision threshold and polarity.
func (e *Ensemble) Threshold() (float64, string) {
	return e.opts.DecisionThreshold, e.opts.ThresholdPolarity
}

// BaseModelNames returns the base model names in scoring order.
func (e *Ensemble) BaseModelNames() []string {
	names := make([]string, len(e.base))
	for i := range e.base {
		names[i] = e.base[i].Name
	}
	return names
}

// Score classifies a whole batch. The batch either succeeds completely
// or fails completely: no partial results.
func (e *Ensemble) Score(records []model.FlowRecord) (*Result, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	features, missing, err := buildMatrix(records, e.features, e.opts.StrictFeatures)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		e.logger.Warnf("Zero-filled %d absent feature columns: %v", len(missing), missing)
	}
	if features.HasNonFinite() {
		return nil, fmt.Errorf("batch contains non-finite feature values")
	}

	baseVectors := make([][]float64, len(e.base))
	baseScores := make(map[string][]float64, len(e.base))
	for i := range e.base {
		scores, err := e.base[i].scoreMatrix(features)
		if err != nil {
			return nil, fmt.Errorf("base model %q failed: %v", e.base[i].Name, err)
		}
		baseVectors[i] = scores
		baseScores[e.base[i].Name] = scores
	}

	metaMatrix := hstack(features, baseVectors...)
	attackProbs, err := e.meta.scoreMatrix(metaMatrix)
	if err != nil {
		return nil, fmt.Errorf("meta model failed: %v", err)
	}

	predictions := make([]model.PredictionResult, len(records))
	for i := range records {
		predictions[i] = e.assemble(i, attackProbs[i], baseVectors)
	}

	return &Result{Predictions: predictions, BaseScores: baseScores}, nil
}

// assemble builds the per-flow result struct. Only bookkeeping happens
// here; all scoring arithmetic is done on the full matrices above.
func (e *Ensemble) assemble(row int, attackProb float64, baseVectors [][]float64) model.PredictionResult {
	benignProb := 1 - attackProb

	isAttack := attackProb >= e.opts.DecisionThreshold
	if e.opts.ThresholdPolarity == PolarityBelow {
		isAttack = attackProb < e.opts.DecisionThreshold
	}

	confidence := attackProb
	if benignProb > confidence {
		confidence = benignProb
	}

	rowScores := make(map[string]float64, len(e.base))
	topIdx := 0
	for i := range e.base {
		score := baseVectors[i][row]
		rowScores[e.base[i].Name] = score
		if score > baseVectors[topIdx][row] {
			topIdx = i
		}
	}

	pred := model.PredictionResult{
		IsAttack:          isAttack,
		AttackProbability: attackProb,
		BenignProbability: benignProb,
		Confidence:        confidence,
		ModelVersion:      e.version,
		BaseModelScores:   rowScores,
	}

	if e.opts.IncludeExplanations {
		pred.Explanation = &model.Explanation{
			TopBaseModel:      e.base[topIdx].Name,
			TopBaseScore:      baseVectors[topIdx][row],
			DecisionThreshold: e.opts.DecisionThreshold,
		}
	}
	return pred
}
