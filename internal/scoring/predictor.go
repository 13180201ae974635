package scoring

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/edgeplane/dispatchd/internal/domain/model"
)

// LatencyEstimate is a latency prediction with a conservative p90 used only
// for SLA gating.
type LatencyEstimate struct {
	MeanMS float64
	P90MS  float64
}

// CostEstimate is a cost prediction with a conservative p90 used only for
// SLA gating.
type CostEstimate struct {
	MeanUSD float64
	P90USD  float64
}

// Predictor estimates latency and cost for a job/resource pairing.
// Predictions never fail; implementations degrade to heuristics instead.
type Predictor interface {
	PredictLatency(f model.FeatureVector) LatencyEstimate
	PredictCost(f model.FeatureVector, latencyMeanMS float64) CostEstimate
}

// Type-default hourly prices applied when telemetry reports no price.
const (
	defaultEdgePricePerHour  = 0.01
	defaultCloudPricePerHour = 0.08
	defaultGPUPricePerHour   = 1.20
)

// cloudEgressUSDPerMB is the egress surcharge applied to cloud placements.
const cloudEgressUSDPerMB = 0.00002

// defaultRuntimeLatencyMS anchors cost estimation when no latency prediction
// is available.
const defaultRuntimeLatencyMS = 800.0

// AnalyticPredictor is the closed-form fallback predictor. Latency grows
// with RTT, transfer time and congestion; cost is hourly price over the
// predicted runtime plus cloud egress.
type AnalyticPredictor struct{}

// PredictLatency estimates latency from network conditions and congestion.
func (AnalyticPredictor) PredictLatency(f model.FeatureVector) LatencyEstimate {
	bw := f.NetBWMbps
	if bw < 1.0 {
		bw = 1.0
	}
	mean := f.NetRTTMS + 20.0*f.PayloadSizeMB/bw + 500.0*f.Congestion
	return LatencyEstimate{MeanMS: mean, P90MS: mean * 1.25}
}

// PredictCost estimates cost from the hourly price over the predicted runtime.
func (AnalyticPredictor) PredictCost(f model.FeatureVector, latencyMeanMS float64) CostEstimate {
	mean := baseCost(f, latencyMeanMS)
	return CostEstimate{MeanUSD: mean, P90USD: mean * 1.2}
}

func baseCost(f model.FeatureVector, latencyMeanMS float64) float64 {
	if latencyMeanMS <= 0 {
		latencyMeanMS = defaultRuntimeLatencyMS
	}

	price := f.PricePerHourUSD
	if price <= 0 {
		switch f.ResourceType {
		case model.ResourceTypeEdge:
			price = defaultEdgePricePerHour
		case model.ResourceTypeCloud:
			price = defaultCloudPricePerHour
		default:
			price = defaultGPUPricePerHour
		}
	}

	runtimeHours := latencyMeanMS / 1000.0 / 3600.0
	cost := price * runtimeHours
	if f.ResourceType == model.ResourceTypeCloud {
		cost += cloudEgressUSDPerMB * f.PayloadSizeMB
	}
	return cost
}

// linearModel is the trained artifact format: a linear model over the
// numeric feature vector plus a conformal q90 offset for the p90 estimate.
type linearModel struct {
	ModelVersion string             `json:"model_version"`
	Bias         float64            `json:"bias"`
	Weights      map[string]float64 `json:"weights"`
	ConformalQ90 float64            `json:"conformal_q90"`
}

func (m *linearModel) predict(x map[string]float64) float64 {
	y := m.Bias
	for name, w := range m.Weights {
		y += w * x[name]
	}
	return y
}

func loadLinearModel(path string) (*linearModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m linearModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode model artifact %s: %w", path, err)
	}
	return &m, nil
}

// ModelPredictor layers trained linear models over the analytic fallback.
// The latency model predicts the mean directly; the cost model predicts a
// residual over the analytic base cost. A missing or unreadable artifact
// drops that prediction to the analytic values.
type ModelPredictor struct {
	latency  *linearModel
	cost     *linearModel
	fallback AnalyticPredictor
}

// ModelPredictorOptions bundles dependencies for NewModelPredictor.
type ModelPredictorOptions struct {
	LatencyModelPath string
	CostModelPath    string
	Logger           *slog.Logger
}

// NewModelPredictor loads the model artifacts and returns a predictor.
// Artifacts that cannot be loaded are logged and skipped; the predictor
// still works, falling back to analytic estimates.
func NewModelPredictor(opts ModelPredictorOptions) *ModelPredictor {
	p := &ModelPredictor{}

	load := func(path, kind string) *linearModel {
		if path == "" {
			return nil
		}
		m, err := loadLinearModel(path)
		if err != nil {
			if opts.Logger != nil {
				opts.Logger.Warn("model artifact unavailable, using analytic fallback",
					"kind", kind,
					"path", path,
					"error", err,
				)
			}
			return nil
		}
		if opts.Logger != nil {
			opts.Logger.Info("loaded model artifact",
				"kind", kind,
				"path", path,
				"model_version", m.ModelVersion,
			)
		}
		return m
	}

	p.latency = load(opts.LatencyModelPath, "latency")
	p.cost = load(opts.CostModelPath, "cost")
	return p
}

// featureValues flattens the numeric features by their trained names.
func featureValues(f model.FeatureVector) map[string]float64 {
	requiresGPU := 0.0
	if f.RequiresGPU {
		requiresGPU = 1.0
	}
	return map[string]float64{
		"congestion":         f.Congestion,
		"cpu_util":           f.CPUUtil,
		"mem_util":           f.MemUtil,
		"gpu_util":           f.GPUUtil,
		"net_rtt_ms":         f.NetRTTMS,
		"net_bw_mbps":        f.NetBWMbps,
		"price_per_hour_usd": f.PricePerHourUSD,
		"reliability":        f.Reliability,
		"power_w":            f.PowerW,
		"urgency":            f.Urgency,
		"payload_size_mb":    f.PayloadSizeMB,
		"requires_gpu":       requiresGPU,
	}
}

// PredictLatency returns the model estimate, or the analytic fallback when
// no latency artifact is loaded.
func (p *ModelPredictor) PredictLatency(f model.FeatureVector) LatencyEstimate {
	if p.latency == nil {
		return p.fallback.PredictLatency(f)
	}

	mean := p.latency.predict(featureValues(f))
	if mean < 0 {
		mean = 0
	}

	p90 := mean * 1.2
	if p.latency.ConformalQ90 > 0 {
		p90 = mean + p.latency.ConformalQ90
	}
	if p90 < mean {
		p90 = mean
	}
	return LatencyEstimate{MeanMS: mean, P90MS: p90}
}

// PredictCost returns base cost plus the model residual, or the analytic
// fallback when no cost artifact is loaded.
func (p *ModelPredictor) PredictCost(f model.FeatureVector, latencyMeanMS float64) CostEstimate {
	if p.cost == nil {
		return p.fallback.PredictCost(f, latencyMeanMS)
	}

	mean := baseCost(f, latencyMeanMS) + p.cost.predict(featureValues(f))
	if mean < 0 {
		mean = 0
	}

	p90 := mean * 1.2
	if p.cost.ConformalQ90 > 0 {
		p90 = mean + p.cost.ConformalQ90
	}
	if p90 < mean {
		p90 = mean
	}
	return CostEstimate{MeanUSD: mean, P90USD: p90}
}
