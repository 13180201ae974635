package scoring

import "github.com/edgeplane/dispatchd/config"

// Bounds holds the min-max normalization range for one metric.
type Bounds struct {
	Min, Max float64
}

// NormBounds groups the per-metric normalization bounds.
type NormBounds struct {
	LatencyMS   Bounds
	CostUSD     Bounds
	Reliability Bounds
	EnergyW     Bounds
	Congestion  Bounds
}

// BoundsFromConfig builds the normalization bounds from scoring configuration.
func BoundsFromConfig(cfg config.ScoringConfig) NormBounds {
	return NormBounds{
		LatencyMS:   Bounds{Min: cfg.LatencyMinMS, Max: cfg.LatencyMaxMS},
		CostUSD:     Bounds{Min: cfg.CostMinUSD, Max: cfg.CostMaxUSD},
		Reliability: Bounds{Min: cfg.ReliabilityMin, Max: cfg.ReliabilityMax},
		EnergyW:     Bounds{Min: cfg.EnergyMinW, Max: cfg.EnergyMaxW},
		Congestion:  Bounds{Min: cfg.CongestionMin, Max: cfg.CongestionMax},
	}
}

// MinMax01 maps x linearly into [0,1] over the given bounds, clamping values
// outside. Inverted metrics (lower is better) return 1-v. Zero or negative
// width bounds yield 0.0 rather than dividing by zero.
func MinMax01(x, minV, maxV float64, invert bool) float64 {
	if maxV <= minV {
		return 0.0
	}
	v := clamp01((x - minV) / (maxV - minV))
	if invert {
		return 1.0 - v
	}
	return v
}

// NormalizeScores maps the five raw metrics into [0,1] desirability where
// higher is always better: latency, cost, energy and congestion invert,
// reliability does not.
func (b NormBounds) NormalizeScores(latencyMS, costUSD, reliability, energyW, congestion float64) map[string]float64 {
	return map[string]float64{
		"latency":     MinMax01(latencyMS, b.LatencyMS.Min, b.LatencyMS.Max, true),
		"cost":        MinMax01(costUSD, b.CostUSD.Min, b.CostUSD.Max, true),
		"reliability": MinMax01(reliability, b.Reliability.Min, b.Reliability.Max, false),
		"energy":      MinMax01(energyW, b.EnergyW.Min, b.EnergyW.Max, true),
		"congestion":  MinMax01(congestion, b.Congestion.Min, b.Congestion.Max, true),
	}
}
