package model

import (
	"time"
)

// featureNames is the scorer's declared feature set, in column order.
// The order is part of the model contract and must match the order the
// ensemble was trained with.
var featureNames = []string{
	"dst_port",
	"flow_duration",
	"tot_fwd_pkts",
	"tot_bwd_pkts",
	"fwd_pkt_len_max",
	"fwd_pkt_len_min",
	"bwd_pkt_len_max",
	"bwd_pkt_len_mean",
	"flow_byts_s",
	"flow_pkts_s",
	"flow_iat_mean",
	"flow_iat_std",
	"flow_iat_max",
	"fwd_iat_std",
	"bwd_pkts_s",
	"psh_flag_cnt",
	"ack_flag_cnt",
	"init_fwd_win_byts",
	"init_bwd_win_byts",
	"fwd_seg_size_min",
}

// displayNames maps wire feature names to the column names used by the
// CICFlowMeter export format. Kept for evidence payloads and UI labels.
var displayNames = map[string]string{
	"dst_port":          "Dst Port",
	"flow_duration":     "Flow Duration",
	"tot_fwd_pkts":      "Tot Fwd Pkts",
	"tot_bwd_pkts":      "Tot Bwd Pkts",
	"fwd_pkt_len_max":   "Fwd Pkt Len Max",
	"fwd_pkt_len_min":   "Fwd Pkt Len Min",
	"bwd_pkt_len_max":   "Bwd Pkt Len Max",
	"bwd_pkt_len_mean":  "Bwd Pkt Len Mean",
	"flow_byts_s":       "Flow Byts/s",
	"flow_pkts_s":       "Flow Pkts/s",
	"flow_iat_mean":     "Flow IAT Mean",
	"flow_iat_std":      "Flow IAT Std",
	"flow_iat_max":      "Flow IAT Max",
	"fwd_iat_std":       "Fwd IAT Std",
	"bwd_pkts_s":        "Bwd Pkts/s",
	"psh_flag_cnt":      "PSH Flag Cnt",
	"ack_flag_cnt":      "ACK Flag Cnt",
	"init_fwd_win_byts": "Init Fwd Win Byts",
	"init_bwd_win_byts": "Init Bwd Win Byts",
	"fwd_seg_size_min":  "Fwd Seg Size Min",
}

// NumFeatures is the width of the scorer's feature vector.
const NumFeatures = 20

// FeatureNames returns the declared feature set in column order.
func FeatureNames() []string {
	names := make([]string, len(featureNames))
	copy(names, featureNames)
	return names
}

// FeatureDisplayName returns the CICFlowMeter column name for a wire
// feature name, or the wire name itself when no mapping exists.
func FeatureDisplayName(name string) string {
	if display, ok := displayNames[name]; ok {
		return display
	}
	return name
}

// FlowRecord is one submitted network flow: the named numeric features
// plus routing metadata. Immutable once submitted to the buffer.
type FlowRecord struct {
	Features   map[string]float64 `json:"features"`
	ClientID   string             `json:"client_id,omitempty"`
	ResourceID string             `json:"resource_id,omitempty"`
	SrcIP      string             `json:"src_ip,omitempty"`
	DstIP      string             `json:"dst_ip,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Feature returns the named feature value, zero when absent.
func (f *FlowRecord) Feature(name string) float64 {
	return f.Features[name]
}

// DstPort returns the destination port carried in the feature vector.
func (f *FlowRecord) DstPort() int {
	return int(f.Features["dst_port"])
}

// MissingFeatures lists declared features absent from this record, in
// column order.
func (f *FlowRecord) MissingFeatures() []string {
	var missing []string
	for _, name := range featureNames {
		if _, ok := f.Features[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
