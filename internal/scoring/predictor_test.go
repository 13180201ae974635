package scoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeplane/dispatchd/internal/domain/model"
)

func TestAnalyticPredictorLatency(t *testing.T) {
	p := AnalyticPredictor{}

	f := model.FeatureVector{
		NetRTTMS:      10,
		NetBWMbps:     100,
		PayloadSizeMB: 50,
		Congestion:    0.5,
	}
	est := p.PredictLatency(f)

	// 10 + 20*50/100 + 500*0.5 = 270
	assert.InDelta(t, 270.0, est.MeanMS, 1e-9)
	assert.InDelta(t, 270.0*1.25, est.P90MS, 1e-9)
}

func TestAnalyticPredictorLatencyBandwidthFloor(t *testing.T) {
	p := AnalyticPredictor{}

	est := p.PredictLatency(model.FeatureVector{NetBWMbps: 0, PayloadSizeMB: 10})

	// Bandwidth below 1 Mbps is treated as 1.
	assert.InDelta(t, 200.0, est.MeanMS, 1e-9)
}

func TestAnalyticPredictorCost(t *testing.T) {
	p := AnalyticPredictor{}

	tests := []struct {
		name    string
		f       model.FeatureVector
		latency float64
		want    float64
	}{
		{
			name:    "explicit price",
			f:       model.FeatureVector{ResourceType: model.ResourceTypeEdge, PricePerHourUSD: 0.36},
			latency: 1000,
			want:    0.36 / 3600.0,
		},
		{
			name:    "edge default price",
			f:       model.FeatureVector{ResourceType: model.ResourceTypeEdge},
			latency: 3600000,
			want:    0.01,
		},
		{
			name:    "cloud default price plus egress",
			f:       model.FeatureVector{ResourceType: model.ResourceTypeCloud, PayloadSizeMB: 100},
			latency: 3600000,
			want:    0.08 + 0.00002*100,
		},
		{
			name:    "gpu default price",
			f:       model.FeatureVector{ResourceType: model.ResourceTypeGPU},
			latency: 3600000,
			want:    1.20,
		},
		{
			name:    "zero latency anchors to default runtime",
			f:       model.FeatureVector{ResourceType: model.ResourceTypeEdge},
			latency: 0,
			want:    0.01 * 800.0 / 1000.0 / 3600.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := p.PredictCost(tt.f, tt.latency)
			assert.InDelta(t, tt.want, est.MeanUSD, 1e-12)
			assert.InDelta(t, tt.want*1.2, est.P90USD, 1e-12)
		})
	}
}

func writeModelArtifact(t *testing.T, m linearModel) string {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestModelPredictorFallsBackWithoutArtifacts(t *testing.T) {
	p := NewModelPredictor(ModelPredictorOptions{})

	f := model.FeatureVector{NetRTTMS: 10, NetBWMbps: 100, PayloadSizeMB: 50, Congestion: 0.5}
	want := AnalyticPredictor{}.PredictLatency(f)

	assert.Equal(t, want, p.PredictLatency(f))
}

func TestModelPredictorFallsBackOnUnreadableArtifact(t *testing.T) {
	p := NewModelPredictor(ModelPredictorOptions{
		LatencyModelPath: filepath.Join(t.TempDir(), "missing.json"),
		CostModelPath:    filepath.Join(t.TempDir(), "missing.json"),
	})

	f := model.FeatureVector{ResourceType: model.ResourceTypeEdge, NetRTTMS: 10, NetBWMbps: 100}

	assert.Equal(t, AnalyticPredictor{}.PredictLatency(f), p.PredictLatency(f))
	assert.Equal(t, AnalyticPredictor{}.PredictCost(f, 500), p.PredictCost(f, 500))
}

func TestModelPredictorLatency(t *testing.T) {
	path := writeModelArtifact(t, linearModel{
		ModelVersion: "v1",
		Bias:         100,
		Weights:      map[string]float64{"net_rtt_ms": 2, "congestion": 300},
		ConformalQ90: 40,
	})
	p := NewModelPredictor(ModelPredictorOptions{LatencyModelPath: path})

	est := p.PredictLatency(model.FeatureVector{NetRTTMS: 25, Congestion: 0.5})

	// 100 + 2*25 + 300*0.5 = 300, p90 = mean + q90
	assert.InDelta(t, 300.0, est.MeanMS, 1e-9)
	assert.InDelta(t, 340.0, est.P90MS, 1e-9)
}

func TestModelPredictorLatencyWithoutConformal(t *testing.T) {
	path := writeModelArtifact(t, linearModel{Bias: 200})
	p := NewModelPredictor(ModelPredictorOptions{LatencyModelPath: path})

	est := p.PredictLatency(model.FeatureVector{})

	assert.InDelta(t, 200.0, est.MeanMS, 1e-9)
	assert.InDelta(t, 240.0, est.P90MS, 1e-9)
}

func TestModelPredictorLatencyClampsNegative(t *testing.T) {
	path := writeModelArtifact(t, linearModel{Bias: -500})
	p := NewModelPredictor(ModelPredictorOptions{LatencyModelPath: path})

	est := p.PredictLatency(model.FeatureVector{})

	assert.Zero(t, est.MeanMS)
	assert.Zero(t, est.P90MS)
}

func TestModelPredictorCostResidual(t *testing.T) {
	path := writeModelArtifact(t, linearModel{Bias: 0.005, ConformalQ90: 0.001})
	p := NewModelPredictor(ModelPredictorOptions{CostModelPath: path})

	f := model.FeatureVector{ResourceType: model.ResourceTypeEdge, PricePerHourUSD: 0.36}
	est := p.PredictCost(f, 1000)

	// Residual rides on top of the analytic base cost.
	base := 0.36 / 3600.0
	assert.InDelta(t, base+0.005, est.MeanUSD, 1e-12)
	assert.InDelta(t, base+0.005+0.001, est.P90USD, 1e-12)
}

func TestLinearModelIgnoresUnknownFeatures(t *testing.T) {
	m := linearModel{Bias: 1, Weights: map[string]float64{"nonexistent": 100}}

	// Unknown feature names read as zero.
	assert.InDelta(t, 1.0, m.predict(featureValues(model.FeatureVector{})), 1e-9)
}
