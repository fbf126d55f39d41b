package scorer

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"flow-threat-detector/internal/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModelFile() *ModelFile {
	return &ModelFile{
		Version:  "test-ensemble-v1",
		Features: []string{"f1", "f2", "f3"},
		BaseModels: []LogisticModel{
			{Name: "extra_trees", Weights: []float64{0.5, -0.2, 0.1}, Bias: 0.05},
			{Name: "random_forest", Weights: []float64{-0.3, 0.4, 0.2}, Bias: -0.1},
		},
		MetaModel: LogisticModel{
			Weights: []float64{0.1, 0.2, -0.1, 0.7, 0.6},
			Bias:    -0.25,
		},
	}
}

func testOptions() Options {
	return Options{
		DecisionThreshold:   0.5,
		ThresholdPolarity:   PolarityAbove,
		IncludeExplanations: true,
	}
}

func newTestEnsemble(t *testing.T, opts Options) *Ensemble {
	t.Helper()
	e, err := New(testModelFile(), opts, logrus.New())
	require.NoError(t, err)
	return e
}

func flowWith(f1, f2, f3 float64) model.FlowRecord {
	return model.FlowRecord{Features: map[string]float64{"f1": f1, "f2": f2, "f3": f3}}
}

func TestEnsemble_Score(t *testing.T) {
	e := newTestEnsemble(t, testOptions())

	t.Run("probabilities sum to one and confidence is the max", func(t *testing.T) {
		res, err := e.Score([]model.FlowRecord{flowWith(1, 2, 3)})
		require.NoError(t, err)
		require.Len(t, res.Predictions, 1)

		p := res.Predictions[0]
		assert.InDelta(t, 1.0, p.AttackProbability+p.BenignProbability, 1e-12)
		assert.Equal(t, math.Max(p.AttackProbability, p.BenignProbability), p.Confidence)
		assert.Equal(t, "test-ensemble-v1", p.ModelVersion)
		assert.Len(t, p.BaseModelScores, 2)
	})

	t.Run("base score vectors cover the whole batch", func(t *testing.T) {
		res, err := e.Score([]model.FlowRecord{flowWith(1, 0, 0), flowWith(0, 1, 0), flowWith(0, 0, 1)})
		require.NoError(t, err)
		require.Len(t, res.BaseScores, 2)
		assert.Len(t, res.BaseScores["extra_trees"], 3)
		assert.Len(t, res.BaseScores["random_forest"], 3)
	})

	t.Run("explanation names the highest-scoring base model", func(t *testing.T) {
		// f2 dominant makes random_forest (weight 0.4) outscore
		// extra_trees (weight -0.2).
		res, err := e.Score([]model.FlowRecord{flowWith(0, 10, 0)})
		require.NoError(t, err)

		exp := res.Predictions[0].Explanation
		require.NotNil(t, exp)
		assert.Equal(t, "random_forest", exp.TopBaseModel)
		assert.InDelta(t, res.BaseScores["random_forest"][0], exp.TopBaseScore, 1e-12)
		assert.Equal(t, 0.5, exp.DecisionThreshold)
	})

	t.Run("rejects an empty batch", func(t *testing.T) {
		_, err := e.Score(nil)
		assert.Error(t, err)
	})

	t.Run("rejects non-finite feature values", func(t *testing.T) {
		_, err := e.Score([]model.FlowRecord{flowWith(math.NaN(), 1, 1)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-finite")

		_, err = e.Score([]model.FlowRecord{flowWith(math.Inf(1), 1, 1)})
		assert.Error(t, err)
	})
}

func TestEnsemble_VectorizedEquivalence(t *testing.T) {
	// Scoring a batch of N must match scoring each flow alone: results
	// cannot depend on batch size or row position.
	e := newTestEnsemble(t, testOptions())

	flows := []model.FlowRecord{
		flowWith(1, 2, 3),
		flowWith(-4, 0.5, 12),
		flowWith(0, 0, 0),
		flowWith(100, -50, 3.25),
		flowWith(0.001, 7, -2),
	}

	batch, err := e.Score(flows)
	require.NoError(t, err)

	for i, flow := range flows {
		single, err := e.Score([]model.FlowRecord{flow})
		require.NoError(t, err)

		want := single.Predictions[0]
		got := batch.Predictions[i]
		assert.Equal(t, want.IsAttack, got.IsAttack, "row %d", i)
		assert.InDelta(t, want.AttackProbability, got.AttackProbability, 1e-12, "row %d", i)
		assert.InDelta(t, want.Confidence, got.Confidence, 1e-12, "row %d", i)
		assert.Equal(t, want.Explanation.TopBaseModel, got.Explanation.TopBaseModel, "row %d", i)
	}
}

func TestEnsemble_ThresholdPolarity(t *testing.T) {
	flows := []model.FlowRecord{flowWith(1, 2, 3)}

	above := newTestEnsemble(t, Options{DecisionThreshold: 0.5, ThresholdPolarity: PolarityAbove})
	below := newTestEnsemble(t, Options{DecisionThreshold: 0.5, ThresholdPolarity: PolarityBelow})

	resAbove, err := above.Score(flows)
	require.NoError(t, err)
	resBelow, err := below.Score(flows)
	require.NoError(t, err)

	// Same probability, opposite verdict: the polarity flips the rule.
	assert.InDelta(t, resAbove.Predictions[0].AttackProbability, resBelow.Predictions[0].AttackProbability, 1e-12)
	assert.NotEqual(t, resAbove.Predictions[0].IsAttack, resBelow.Predictions[0].IsAttack)

	t.Run("inverted rule flags low attack probabilities", func(t *testing.T) {
		inverted := newTestEnsemble(t, Options{DecisionThreshold: DefaultDecisionThreshold, ThresholdPolarity: PolarityBelow})
		res, err := inverted.Score(flows)
		require.NoError(t, err)

		p := res.Predictions[0]
		assert.Equal(t, p.AttackProbability < DefaultDecisionThreshold, p.IsAttack)
	})
}

func TestEnsemble_MissingColumns(t *testing.T) {
	t.Run("zero-fills absent columns by default", func(t *testing.T) {
		e := newTestEnsemble(t, testOptions())

		partial := model.FlowRecord{Features: map[string]float64{"f1": 1, "f2": 2}}
		zeroed := flowWith(1, 2, 0)

		gotPartial, err := e.Score([]model.FlowRecord{partial})
		require.NoError(t, err)
		gotZeroed, err := e.Score([]model.FlowRecord{zeroed})
		require.NoError(t, err)

		assert.InDelta(t, gotZeroed.Predictions[0].AttackProbability, gotPartial.Predictions[0].AttackProbability, 1e-12)
	})

	t.Run("strict mode rejects the batch naming the columns", func(t *testing.T) {
		opts := testOptions()
		opts.StrictFeatures = true
		e := newTestEnsemble(t, opts)

		_, err := e.Score([]model.FlowRecord{{Features: map[string]float64{"f2": 2}}})
		require.Error(t, err)

		var mismatch *FeatureMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, []string{"f1", "f3"}, mismatch.Missing)
	})

	t.Run("a column present in any record is not missing", func(t *testing.T) {
		opts := testOptions()
		opts.StrictFeatures = true
		e := newTestEnsemble(t, opts)

		_, err := e.Score([]model.FlowRecord{
			{Features: map[string]float64{"f1": 1, "f2": 2, "f3": 3}},
			{Features: map[string]float64{"f1": 1}},
		})
		assert.NoError(t, err)
	})
}

func TestNew_Validation(t *testing.T) {
	logger := logrus.New()

	t.Run("rejects out-of-range threshold", func(t *testing.T) {
		_, err := New(testModelFile(), Options{DecisionThreshold: 0, ThresholdPolarity: PolarityBelow}, logger)
		assert.Error(t, err)

		_, err = New(testModelFile(), Options{DecisionThreshold: 1.5, ThresholdPolarity: PolarityBelow}, logger)
		assert.Error(t, err)
	})

	t.Run("rejects unknown polarity", func(t *testing.T) {
		_, err := New(testModelFile(), Options{DecisionThreshold: 0.5, ThresholdPolarity: "sideways"}, logger)
		assert.Error(t, err)
	})

	t.Run("rejects mismatched meta weights", func(t *testing.T) {
		mf := testModelFile()
		mf.MetaModel.Weights = []float64{0.1, 0.2}
		_, err := New(mf, testOptions(), logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "meta model")
	})

	t.Run("rejects base model weight mismatch", func(t *testing.T) {
		mf := testModelFile()
		mf.BaseModels[0].Weights = []float64{0.5}
		_, err := New(mf, testOptions(), logger)
		assert.Error(t, err)
	})

	t.Run("rejects duplicate base model names", func(t *testing.T) {
		mf := testModelFile()
		mf.BaseModels[1].Name = mf.BaseModels[0].Name
		_, err := New(mf, testOptions(), logger)
		assert.Error(t, err)
	})
}

func TestLoadModelFile(t *testing.T) {
	t.Run("loads a valid model from disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ensemble.json")
		payload := `{
			"version": "disk-v1",
			"features": ["f1", "f2"],
			"base_models": [{"name": "extra_trees", "weights": [0.1, 0.2], "bias": 0}],
			"meta_model": {"weights": [0.1, 0.2, 0.3], "bias": 0}
		}`
		require.NoError(t, os.WriteFile(path, []byte(payload), 0644))

		mf, err := LoadModelFile(path)
		require.NoError(t, err)
		assert.Equal(t, "disk-v1", mf.Version)
		assert.Len(t, mf.BaseModels, 1)

		e, err := New(mf, Options{DecisionThreshold: 0.022, ThresholdPolarity: PolarityBelow}, logrus.New())
		require.NoError(t, err)
		thr, pol := e.Threshold()
		assert.Equal(t, 0.022, thr)
		assert.Equal(t, PolarityBelow, pol)
		assert.Equal(t, []string{"extra_trees"}, e.BaseModelNames())
	})

	t.Run("fails on missing file", func(t *testing.T) {
		_, err := LoadModelFile(filepath.Join(t.TempDir(), "absent.json"))
		assert.Error(t, err)
	})

	t.Run("fails on malformed JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
		_, err := LoadModelFile(path)
		assert.Error(t, err)
	})
}
