package config

// ScoringConfig contains the multi-objective scoring weights, normalization
// bounds, and the SLA fallback penalty. Weights are renormalized to sum to 1
// after any override.
type ScoringConfig struct {
	// Weights over the four ranked objectives.
	WeightLatency     float64 `env:"SCORING_WEIGHT_LATENCY"     envDefault:"0.45"`
	WeightCost        float64 `env:"SCORING_WEIGHT_COST"        envDefault:"0.25"`
	WeightReliability float64 `env:"SCORING_WEIGHT_RELIABILITY" envDefault:"0.20"`
	WeightEnergy      float64 `env:"SCORING_WEIGHT_ENERGY"      envDefault:"0.10"`

	// SLAPenalty is subtracted from the final score once per SLA violation
	// to produce the effective score used to rank fallback candidates.
	SLAPenalty float64 `env:"SCORING_SLA_PENALTY" envDefault:"0.35"`

	// Normalization bounds per metric. Values outside the bounds clamp.
	LatencyMinMS float64 `env:"SCORING_BOUND_LATENCY_MIN_MS" envDefault:"5"`
	LatencyMaxMS float64 `env:"SCORING_BOUND_LATENCY_MAX_MS" envDefault:"4000"`

	CostMinUSD float64 `env:"SCORING_BOUND_COST_MIN_USD" envDefault:"0.0001"`
	CostMaxUSD float64 `env:"SCORING_BOUND_COST_MAX_USD" envDefault:"0.2"`

	ReliabilityMin float64 `env:"SCORING_BOUND_RELIABILITY_MIN" envDefault:"0.80"`
	ReliabilityMax float64 `env:"SCORING_BOUND_RELIABILITY_MAX" envDefault:"0.999"`

	EnergyMinW float64 `env:"SCORING_BOUND_ENERGY_MIN_W" envDefault:"5"`
	EnergyMaxW float64 `env:"SCORING_BOUND_ENERGY_MAX_W" envDefault:"400"`

	CongestionMin float64 `env:"SCORING_BOUND_CONGESTION_MIN" envDefault:"0"`
	CongestionMax float64 `env:"SCORING_BOUND_CONGESTION_MAX" envDefault:"1"`

	// Model artifact paths for the learned predictors. When empty or the
	// files are missing, the analytic fallback predictor is used.
	LatencyModelPath string `env:"SCORING_LATENCY_MODEL_PATH" envDefault:""`
	CostModelPath    string `env:"SCORING_COST_MODEL_PATH"    envDefault:""`
}

// Sanitize applies guardrails to scoring configuration values.
func (s *ScoringConfig) Sanitize() {
	if s.WeightLatency < 0 {
		s.WeightLatency = 0
	}
	if s.WeightCost < 0 {
		s.WeightCost = 0
	}
	if s.WeightReliability < 0 {
		s.WeightReliability = 0
	}
	if s.WeightEnergy < 0 {
		s.WeightEnergy = 0
	}
	if s.WeightLatency+s.WeightCost+s.WeightReliability+s.WeightEnergy == 0 {
		s.WeightLatency, s.WeightCost, s.WeightReliability, s.WeightEnergy = 0.45, 0.25, 0.20, 0.10
	}
	if s.SLAPenalty < 0 {
		s.SLAPenalty = 0.35
	}
}

// RouterConfig contains routing policy configuration.
type RouterConfig struct {
	// ReliabilityFloor is the hard eligibility gate: resources below it are
	// never candidates, independent of job SLA.
	ReliabilityFloor float64 `env:"ROUTER_RELIABILITY_FLOOR" envDefault:"0.85"`

	// SnapshotLimit caps how many resource snapshots one routing pass loads.
	SnapshotLimit int `env:"ROUTER_SNAPSHOT_LIMIT" envDefault:"500"`
}

// Sanitize applies guardrails to router configuration values.
func (r *RouterConfig) Sanitize() {
	if r.ReliabilityFloor < 0 || r.ReliabilityFloor > 1 {
		r.ReliabilityFloor = 0.85
	}
	if r.SnapshotLimit < 1 {
		r.SnapshotLimit = 500
	}
}
