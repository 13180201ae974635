package scoring

import (
	"fmt"

	"github.com/edgeplane/dispatchd/config"
	"github.com/edgeplane/dispatchd/internal/domain/model"
)

// Weights holds the renormalized objective weights. They always sum to 1.
type Weights struct {
	Latency     float64
	Cost        float64
	Reliability float64
	Energy      float64
}

// WeightsFromConfig renormalizes the configured weights to sum to 1. An
// all-zero configuration falls back to the defaults.
func WeightsFromConfig(cfg config.ScoringConfig) Weights {
	w := Weights{
		Latency:     cfg.WeightLatency,
		Cost:        cfg.WeightCost,
		Reliability: cfg.WeightReliability,
		Energy:      cfg.WeightEnergy,
	}
	sum := w.Latency + w.Cost + w.Reliability + w.Energy
	if sum <= 0 {
		return Weights{Latency: 0.45, Cost: 0.25, Reliability: 0.20, Energy: 0.10}
	}
	w.Latency /= sum
	w.Cost /= sum
	w.Reliability /= sum
	w.Energy /= sum
	return w
}

// Scorer produces the full explainable score breakdown for one candidate
// resource against one job.
type Scorer struct {
	weights   Weights
	bounds    NormBounds
	penalty   float64
	predictor Predictor
}

// ScorerOptions bundles dependencies for NewScorer.
type ScorerOptions struct {
	Config    config.ScoringConfig
	Predictor Predictor
}

// NewScorer creates a Scorer from configuration. A nil predictor defaults to
// the analytic fallback.
func NewScorer(opts ScorerOptions) *Scorer {
	predictor := opts.Predictor
	if predictor == nil {
		predictor = AnalyticPredictor{}
	}
	return &Scorer{
		weights:   WeightsFromConfig(opts.Config),
		bounds:    BoundsFromConfig(opts.Config),
		penalty:   opts.Config.SLAPenalty,
		predictor: predictor,
	}
}

// Weights exposes the renormalized weights, mainly for explanations and tests.
func (s *Scorer) Weights() Weights { return s.weights }

// Score runs the full pipeline for one telemetry point and job: features,
// prediction, normalization, weighted sum, SLA verdict. Pure with respect to
// its inputs; identical inputs produce identical breakdowns.
func (s *Scorer) Score(t *model.TelemetryPoint, req *model.JobRequest) model.ScoreBreakdown {
	f := BuildFeatures(t, req)

	lat := s.predictor.PredictLatency(f)
	cost := s.predictor.PredictCost(f, lat.MeanMS)

	reliability := t.Reliability
	if reliability == 0 {
		reliability = 0.98
	}
	energyW := t.PowerW
	if energyW == 0 {
		energyW = 50.0
	}

	// Ranking uses the mean predictions; the SLA verdict uses p90.
	norm := s.bounds.NormalizeScores(lat.MeanMS, cost.MeanUSD, reliability, energyW, f.Congestion)

	weighted := map[string]float64{
		"latency":     s.weights.Latency * norm["latency"],
		"cost":        s.weights.Cost * norm["cost"],
		"reliability": s.weights.Reliability * norm["reliability"],
		"energy":      s.weights.Energy * norm["energy"],
	}
	final := weighted["latency"] + weighted["cost"] + weighted["reliability"] + weighted["energy"]

	violations := s.slaCheck(req, lat.P90MS, cost.P90USD, reliability)
	slaOK := len(violations) == 0
	effective := final - s.penalty*float64(len(violations))

	return model.ScoreBreakdown{
		LatencyPredMS:      lat.MeanMS,
		LatencyP90MS:       lat.P90MS,
		CostPredUSD:        cost.MeanUSD,
		CostP90USD:         cost.P90USD,
		Reliability:        reliability,
		EnergyW:            energyW,
		Congestion:         f.Congestion,
		Normalized:         norm,
		WeightedComponents: weighted,
		FinalScore:         final,
		SLAOK:              slaOK,
		EffectiveScore:     effective,
		SLAViolations:      violations,
		Features:           f,
	}
}

// slaCheck evaluates each present SLA constraint against the conservative
// p90 estimates. Every violated constraint yields its own message.
func (s *Scorer) slaCheck(req *model.JobRequest, latencyP90MS, costP90USD, reliability float64) []string {
	violations := []string{}
	if req.SLA.DeadlineMS != nil && latencyP90MS > float64(*req.SLA.DeadlineMS) {
		violations = append(violations, fmt.Sprintf(
			"deadline_ms violated: predicted %.0f > %d", latencyP90MS, *req.SLA.DeadlineMS))
	}
	if req.SLA.MaxCostUSD != nil && costP90USD > *req.SLA.MaxCostUSD {
		violations = append(violations, fmt.Sprintf(
			"max_cost_usd violated: predicted %.4f > %g", costP90USD, *req.SLA.MaxCostUSD))
	}
	if req.SLA.MinReliability != nil && reliability < *req.SLA.MinReliability {
		violations = append(violations, fmt.Sprintf(
			"min_reliability violated: %.3f < %g", reliability, *req.SLA.MinReliability))
	}
	return violations
}
