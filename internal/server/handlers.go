package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"flow-threat-detector/internal/live"
	"flow-threat-detector/internal/model"
	"flow-threat-detector/internal/scorer"
)

// flowRequest is the ingestion payload: named numeric features plus
// optional routing metadata.
type flowRequest struct {
	Features   map[string]float64 `json:"features"`
	ClientID   string             `json:"client_id"`
	ResourceID string             `json:"resource_id"`
	SrcIP      string             `json:"src_ip"`
	DstIP      string             `json:"dst_ip"`
	Timestamp  *time.Time         `json:"timestamp"`
}

func (r *flowRequest) toFlow(defaultClientID, defaultResourceID string) model.FlowRecord {
	flow := model.FlowRecord{
		Features:   r.Features,
		ClientID:   r.ClientID,
		ResourceID: r.ResourceID,
		SrcIP:      r.SrcIP,
		DstIP:      r.DstIP,
		Timestamp:  time.Now().UTC(),
	}
	if flow.ClientID == "" {
		flow.ClientID = defaultClientID
	}
	if flow.ResourceID == "" {
		flow.ResourceID = defaultResourceID
	}
	if r.Timestamp != nil {
		flow.Timestamp = *r.Timestamp
	}
	return flow
}

// Predict scores one flow immediately as a batch of 1, bypassing the
// buffer. The result is also published on the single-prediction stream
// path when publishing is configured, and pushed to live subscribers.
func (s *Server) Predict(w http.ResponseWriter, r *http.Request) {
	var req flowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Features) == 0 {
		writeError(w, http.StatusBadRequest, "flow has no features")
		return
	}

	flow := req.toFlow(s.config.Identity.ClientID, s.config.Identity.ResourceID)

	res, err := s.ensemble.Score([]model.FlowRecord{flow})
	if err != nil {
		var mismatch *scorer.FeatureMismatchError
		if errors.As(err, &mismatch) {
			writeError(w, http.StatusBadRequest, mismatch.Error())
			return
		}
		s.logger.Errorf("Single-flow scoring failed: %v", err)
		writeError(w, http.StatusInternalServerError, "scoring failed")
		return
	}

	prediction := res.Predictions[0]
	meta := model.FlowMeta{
		SrcIP:     flow.SrcIP,
		DstIP:     flow.DstIP,
		DstPort:   flow.DstPort(),
		Timestamp: flow.Timestamp,
	}

	if s.publisher != nil && flow.ClientID != "" && flow.ResourceID != "" {
		msg := model.NewSingleMessage(flow.ClientID, flow.ResourceID, prediction, &meta)
		if _, err := s.publisher.Publish(r.Context(), msg); err != nil {
			s.logger.Errorf("Failed to publish single prediction: %v", err)
		}
	}

	if s.hub != nil {
		s.hub.Broadcast(live.TypeNewPrediction, map[string]interface{}{
			"prediction": prediction,
			"flow_meta":  meta,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"prediction": prediction,
		"flow_meta":  meta,
	})
}

// PredictBuffered queues one flow for batch scoring and returns
// immediately with the buffer state. When the submission fills the
// batch, the flush happens on the worker, never on this request.
func (s *Server) PredictBuffered(w http.ResponseWriter, r *http.Request) {
	var req flowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Features) == 0 {
		writeError(w, http.StatusBadRequest, "flow has no features")
		return
	}

	flow := req.toFlow(s.config.Identity.ClientID, s.config.Identity.ResourceID)
	size, triggered := s.processor.Submit(flow)

	buf := s.processor.Buffer()
	cfg := buf.Config()

	nextProcess := cfg.MaxWait - time.Since(buf.LastFlush())
	if nextProcess < 0 || triggered {
		nextProcess = 0
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "buffered",
		"flow_info": map[string]interface{}{
			"src_ip":    flow.SrcIP,
			"dst_ip":    flow.DstIP,
			"dst_port":  flow.DstPort(),
			"timestamp": flow.Timestamp,
		},
		"buffer_status": map[string]interface{}{
			"current_size":            size,
			"capacity":                cfg.Capacity,
			"utilization_percent":     float64(size) / float64(cfg.Capacity) * 100,
			"flush_triggered":         triggered,
			"next_process_in_seconds": nextProcess.Seconds(),
		},
	})
}

// Flush drains and scores the buffer out of band. The response carries
// the same statistics an automatic flush would have produced.
func (s *Server) Flush(w http.ResponseWriter, r *http.Request) {
	stats, extracted, err := s.processor.Flush(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "flush failed: "+err.Error())
		return
	}
	if stats == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":          "empty",
			"flows_extracted": extracted,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "flushed",
		"flows_extracted": extracted,
		"statistics":      stats,
	})
}

// BufferStats reports the buffer configuration, its current state, and
// the cumulative pipeline counters.
func (s *Server) BufferStats(w http.ResponseWriter, r *http.Request) {
	buf := s.processor.Buffer()
	cfg := buf.Config()
	size := buf.Len()
	snap := s.processor.Status()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"buffer_config": map[string]interface{}{
			"soft_trigger":     cfg.SoftTrigger,
			"max_wait_seconds": cfg.MaxWait.Seconds(),
			"capacity":         cfg.Capacity,
			"eviction_policy":  cfg.EvictionPolicy,
		},
		"current_status": map[string]interface{}{
			"current_size":             size,
			"utilization_percent":      float64(size) / float64(cfg.Capacity) * 100,
			"seconds_since_last_flush": time.Since(buf.LastFlush()).Seconds(),
			"flows_evicted":            buf.EvictedTotal(),
		},
		"statistics": snap,
	})
}

// ModelInfo describes the loaded ensemble and its decision rule.
func (s *Server) ModelInfo(w http.ResponseWriter, r *http.Request) {
	threshold, polarity := s.ensemble.Threshold()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model_version":      s.ensemble.Version(),
		"features":           s.ensemble.Features(),
		"base_models":        s.ensemble.BaseModelNames(),
		"decision_threshold": threshold,
		"threshold_polarity": polarity,
	})
}

// Health is the liveness probe.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"model_version": s.ensemble.Version(),
	})
}
