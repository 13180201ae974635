package model

// FeatureVector merges a job's static attributes with a resource's latest
// telemetry snapshot. The JSON field names are the feature names the learned
// predictors are trained against, so the snapshot persisted per attempt can
// feed training directly.
type FeatureVector struct {
	Congestion      float64      `json:"congestion"`
	CPUUtil         float64      `json:"cpu_util"`
	MemUtil         float64      `json:"mem_util"`
	GPUUtil         float64      `json:"gpu_util"`
	NetRTTMS        float64      `json:"net_rtt_ms"`
	NetBWMbps       float64      `json:"net_bw_mbps"`
	PricePerHourUSD float64      `json:"price_per_hour_usd"`
	Reliability     float64      `json:"reliability"`
	PowerW          float64      `json:"power_w"`
	Urgency         float64      `json:"urgency"`
	PayloadSizeMB   float64      `json:"payload_size_mb"`
	RequiresGPU     bool         `json:"requires_gpu"`
	JobType         JobType      `json:"job_type"`
	ResourceType    ResourceType `json:"resource_type"`
}

// ScoreBreakdown is the full explainable scoring result for one candidate
// resource: raw predictions, normalized desirability per metric, weighted
// components, the final ranking score, and the SLA verdict.
type ScoreBreakdown struct {
	LatencyPredMS float64 `json:"latency_pred_ms"`
	LatencyP90MS  float64 `json:"latency_p90_ms"`
	CostPredUSD   float64 `json:"cost_pred_usd"`
	CostP90USD    float64 `json:"cost_p90_usd"`
	Reliability   float64 `json:"reliability"`
	EnergyW       float64 `json:"energy_w"`
	Congestion    float64 `json:"congestion"`

	Normalized         map[string]float64 `json:"normalized"`
	WeightedComponents map[string]float64 `json:"weighted_components"`

	FinalScore     float64  `json:"final_score"`
	SLAOK          bool     `json:"sla_ok"`
	EffectiveScore float64  `json:"effective_score"`
	SLAViolations  []string `json:"sla_violations"`

	Features FeatureVector `json:"features"`
}

// ConsideredResource is one scored candidate in a route decision.
type ConsideredResource struct {
	ResourceID   string         `json:"resource_id"`
	ResourceType ResourceType   `json:"resource_type"`
	Score        ScoreBreakdown `json:"score"`
}

// NoResourceID is the sentinel chosen id when routing found no acceptable
// resource. Decisions carrying it leave the job BLOCKED rather than QUEUED.
const NoResourceID = "none"

// RouteDecision is the returned outcome of routing one job: the winner, the
// full ranked candidate list for explainability, and a human-readable
// explanation. It is ephemeral; the chosen resource and predictions are
// denormalized onto the job row.
type RouteDecision struct {
	JobID              string               `json:"job_id"`
	ChosenResourceID   string               `json:"chosen_resource_id"`
	ChosenResourceType ResourceType         `json:"chosen_resource_type"`
	Considered         []ConsideredResource `json:"considered"`
	Explanation        string               `json:"explanation"`
}

// Resolved returns true when the decision selected an actual resource.
func (d *RouteDecision) Resolved() bool {
	return d.ChosenResourceID != "" && d.ChosenResourceID != NoResourceID
}

// ChosenScore returns the score breakdown of the chosen resource, or nil for
// a sentinel decision.
func (d *RouteDecision) ChosenScore() *ScoreBreakdown {
	if !d.Resolved() {
		return nil
	}
	for i := range d.Considered {
		if d.Considered[i].ResourceID == d.ChosenResourceID {
			return &d.Considered[i].Score
		}
	}
	return nil
}
