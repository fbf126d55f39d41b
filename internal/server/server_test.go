package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flow-threat-detector/internal/alert"
	"flow-threat-detector/internal/buffer"
	"flow-threat-detector/internal/live"
	"flow-threat-detector/internal/model"
	"flow-threat-detector/internal/pipeline"
	"flow-threat-detector/internal/scorer"
	"flow-threat-detector/internal/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubModel flags flows whose "attack" feature is 1.
type stubModel struct{}

func (stubModel) Score(records []model.FlowRecord) (*scorer.Result, error) {
	predictions := make([]model.PredictionResult, len(records))
	for i, r := range records {
		isAttack := r.Features["attack"] == 1
		prob := 0.9
		if isAttack {
			prob = 0.01
		}
		predictions[i] = model.PredictionResult{
			IsAttack:          isAttack,
			AttackProbability: prob,
			BenignProbability: 1 - prob,
			Confidence:        1 - prob,
			ModelVersion:      "test-v1",
		}
	}
	return &scorer.Result{Predictions: predictions}, nil
}

func (stubModel) Version() string              { return "test-v1" }
func (stubModel) Features() []string           { return model.FeatureNames() }
func (stubModel) Threshold() (float64, string) { return 0.022, scorer.PolarityBelow }
func (stubModel) BaseModelNames() []string     { return []string{"random_forest"} }

func newTestServer(t *testing.T) *Server {
	return newTestServerWithHub(t, nil)
}

func newTestServerWithHub(t *testing.T, hub *live.Hub) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	buf, err := buffer.New(buffer.Config{SoftTrigger: 100, Capacity: 200, MaxWait: time.Hour}, logger)
	require.NoError(t, err)

	metrics := alert.NewMetrics(prometheus.NewRegistry())
	processor := pipeline.NewProcessor(buf, stubModel{}, nil, nil, metrics, pipeline.Config{}, logger)

	return New(processor, stubModel{}, nil, hub, nil, utils.GetDefaultFlowguardConfig(), logger)
}

func postJSON(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, router http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func flowBody(attack float64) map[string]interface{} {
	return map[string]interface{}{
		"features": map[string]float64{"attack": attack, "dst_port": 443},
		"src_ip":   "10.0.0.1",
		"dst_ip":   "10.0.0.2",
	}
}

func TestPredict(t *testing.T) {
	router := newTestServer(t).Router()

	t.Run("scores one flow immediately", func(t *testing.T) {
		rec := postJSON(t, router, "/api/v1/predict", flowBody(1))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Prediction model.PredictionResult `json:"prediction"`
			FlowMeta   model.FlowMeta         `json:"flow_meta"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.Prediction.IsAttack)
		assert.Equal(t, "10.0.0.1", body.FlowMeta.SrcIP)
		assert.Equal(t, 443, body.FlowMeta.DstPort)
	})

	t.Run("rejects flow without features", func(t *testing.T) {
		rec := postJSON(t, router, "/api/v1/predict", map[string]interface{}{"src_ip": "10.0.0.1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/predict", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPredict_BroadcastsToLiveSubscribers(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	hub := live.NewHub(time.Hour, nil, logger)
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	router := newTestServerWithHub(t, hub).Router()
	rec := postJSON(t, router, "/api/v1/predict", flowBody(1))
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case msg := <-sub.Channel:
		assert.Equal(t, live.TypeNewPrediction, msg.Type)
		payload, ok := msg.Data.(map[string]interface{})
		require.True(t, ok)
		pred, ok := payload["prediction"].(model.PredictionResult)
		require.True(t, ok, "live message must carry the prediction")
		assert.True(t, pred.IsAttack)
		meta, ok := payload["flow_meta"].(model.FlowMeta)
		require.True(t, ok)
		assert.Equal(t, "10.0.0.1", meta.SrcIP)
	default:
		t.Fatal("prediction was not broadcast to live subscribers")
	}
}

func TestPredictBuffered(t *testing.T) {
	router := newTestServer(t).Router()

	rec := postJSON(t, router, "/api/v1/predict/buffered", flowBody(0))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "buffered", body["status"])

	status, ok := body["buffer_status"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), status["current_size"])
	assert.Equal(t, float64(200), status["capacity"])
	assert.Equal(t, false, status["flush_triggered"])
}

func TestFlush(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	t.Run("reports an empty buffer", func(t *testing.T) {
		rec := postJSON(t, router, "/api/v1/flush", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "empty", body["status"])
	})

	t.Run("returns the statistics of the flushed batch", func(t *testing.T) {
		postJSON(t, router, "/api/v1/predict/buffered", flowBody(1))
		postJSON(t, router, "/api/v1/predict/buffered", flowBody(0))

		rec := postJSON(t, router, "/api/v1/flush", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Status     string                 `json:"status"`
			Extracted  int                    `json:"flows_extracted"`
			Statistics *model.BatchStatistics `json:"statistics"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "flushed", body.Status)
		assert.Equal(t, 2, body.Extracted)
		require.NotNil(t, body.Statistics)
		assert.Equal(t, 2, body.Statistics.TotalFlows)
		assert.Equal(t, 1, body.Statistics.AttackPredictions)
	})
}

func TestBufferStats(t *testing.T) {
	router := newTestServer(t).Router()
	postJSON(t, router, "/api/v1/predict/buffered", flowBody(0))

	rec, body := getJSON(t, router, "/api/v1/buffer/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	cfg, ok := body["buffer_config"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(100), cfg["soft_trigger"])
	assert.Equal(t, "drop_oldest", cfg["eviction_policy"])

	current, ok := body["current_status"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), current["current_size"])

	stats, ok := body["statistics"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), stats["flows_received"])
	assert.Equal(t, "NORMAL", stats["threat_level"])
}

func TestModelInfo(t *testing.T) {
	router := newTestServer(t).Router()

	rec, body := getJSON(t, router, "/api/v1/model")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test-v1", body["model_version"])
	assert.Equal(t, 0.022, body["decision_threshold"])
	assert.Equal(t, "below", body["threshold_polarity"])

	features, ok := body["features"].([]interface{})
	require.True(t, ok)
	assert.Len(t, features, model.NumFeatures)
}

func TestHealth(t *testing.T) {
	router := newTestServer(t).Router()

	rec, body := getJSON(t, router, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}
