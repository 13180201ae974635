package scoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgeplane/dispatchd/config"
	"github.com/edgeplane/dispatchd/internal/domain/model"
)

func defaultScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		WeightLatency:     0.45,
		WeightCost:        0.25,
		WeightReliability: 0.20,
		WeightEnergy:      0.10,
		SLAPenalty:        0.35,
		LatencyMinMS:      5,
		LatencyMaxMS:      4000,
		CostMinUSD:        0.0001,
		CostMaxUSD:        0.2,
		ReliabilityMin:    0.80,
		ReliabilityMax:    0.999,
		EnergyMinW:        5,
		EnergyMaxW:        400,
		CongestionMin:     0,
		CongestionMax:     1,
	}
}

func TestWeightsFromConfig(t *testing.T) {
	t.Run("renormalizes to sum one", func(t *testing.T) {
		w := WeightsFromConfig(config.ScoringConfig{
			WeightLatency:     2,
			WeightCost:        1,
			WeightReliability: 1,
			WeightEnergy:      0,
		})

		assert.InDelta(t, 0.5, w.Latency, 1e-9)
		assert.InDelta(t, 0.25, w.Cost, 1e-9)
		assert.InDelta(t, 0.25, w.Reliability, 1e-9)
		assert.Zero(t, w.Energy)
	})

	t.Run("all zero falls back to defaults", func(t *testing.T) {
		w := WeightsFromConfig(config.ScoringConfig{})

		assert.Equal(t, Weights{Latency: 0.45, Cost: 0.25, Reliability: 0.20, Energy: 0.10}, w)
	})

	t.Run("defaults already sum to one", func(t *testing.T) {
		w := WeightsFromConfig(defaultScoringConfig())

		assert.InDelta(t, 1.0, w.Latency+w.Cost+w.Reliability+w.Energy, 1e-9)
		assert.InDelta(t, 0.45, w.Latency, 1e-9)
	})
}

func int64Ptr(v int64) *int64       { return &v }
func float64Ptr(v float64) *float64 { return &v }

func TestScorerScore(t *testing.T) {
	s := NewScorer(ScorerOptions{Config: defaultScoringConfig()})

	tp := &model.TelemetryPoint{
		ResourceID:      "edge-1",
		ResourceType:    model.ResourceTypeEdge,
		CPUUtil:         0.2,
		MemUtil:         0.2,
		NetRTTMS:        10,
		NetBWMbps:       500,
		PricePerHourUSD: 0.02,
		Reliability:     0.99,
		PowerW:          80,
	}
	req := &model.JobRequest{
		JobID:         "job-1",
		Type:          model.JobTypeBatch,
		Urgency:       0.5,
		PayloadSizeMB: 10,
	}

	br := s.Score(tp, req)

	// Latency: 10 + 20*10/500 + 500*0.2 = 110.4, p90 *1.25.
	assert.InDelta(t, 110.4, br.LatencyPredMS, 1e-9)
	assert.InDelta(t, 138.0, br.LatencyP90MS, 1e-9)
	assert.InDelta(t, 0.2, br.Congestion, 1e-9)
	assert.Equal(t, 0.99, br.Reliability)
	assert.Equal(t, 80.0, br.EnergyW)

	w := s.Weights()
	wantFinal := w.Latency*br.Normalized["latency"] +
		w.Cost*br.Normalized["cost"] +
		w.Reliability*br.Normalized["reliability"] +
		w.Energy*br.Normalized["energy"]
	assert.InDelta(t, wantFinal, br.FinalScore, 1e-9)

	assert.True(t, br.SLAOK)
	assert.Empty(t, br.SLAViolations)
	assert.InDelta(t, br.FinalScore, br.EffectiveScore, 1e-9)
}

func TestScorerDefaultsMissingReliabilityAndPower(t *testing.T) {
	s := NewScorer(ScorerOptions{Config: defaultScoringConfig()})

	tp := &model.TelemetryPoint{ResourceID: "r1", ResourceType: model.ResourceTypeEdge, NetBWMbps: 100}
	br := s.Score(tp, &model.JobRequest{JobID: "j1", Type: model.JobTypeBatch})

	assert.Equal(t, 0.98, br.Reliability)
	assert.Equal(t, 50.0, br.EnergyW)
}

func TestScorerSLAViolations(t *testing.T) {
	s := NewScorer(ScorerOptions{Config: defaultScoringConfig()})

	// Heavily congested cloud resource: high predicted latency and cost.
	tp := &model.TelemetryPoint{
		ResourceID:      "cloud-1",
		ResourceType:    model.ResourceTypeCloud,
		CPUUtil:         1.0,
		MemUtil:         1.0,
		NetRTTMS:        100,
		NetBWMbps:       100,
		PricePerHourUSD: 5.0,
		Reliability:     0.90,
		PowerW:          300,
	}
	req := &model.JobRequest{
		JobID:         "job-1",
		Type:          model.JobTypeBatch,
		PayloadSizeMB: 10,
		SLA: model.SLA{
			DeadlineMS:     int64Ptr(100),
			MaxCostUSD:     float64Ptr(0.00001),
			MinReliability: float64Ptr(0.99),
		},
	}

	br := s.Score(tp, req)

	assert.False(t, br.SLAOK)
	assert.Len(t, br.SLAViolations, 3)
	assert.Equal(t,
		fmt.Sprintf("deadline_ms violated: predicted %.0f > %d", br.LatencyP90MS, int64(100)),
		br.SLAViolations[0])
	assert.Equal(t,
		fmt.Sprintf("max_cost_usd violated: predicted %.4f > %g", br.CostP90USD, 0.00001),
		br.SLAViolations[1])
	assert.Equal(t, "min_reliability violated: 0.900 < 0.99", br.SLAViolations[2])

	assert.InDelta(t, br.FinalScore-3*0.35, br.EffectiveScore, 1e-9)
}

func TestScorerDeterministic(t *testing.T) {
	s := NewScorer(ScorerOptions{Config: defaultScoringConfig()})

	tp := &model.TelemetryPoint{
		ResourceID:   "edge-1",
		ResourceType: model.ResourceTypeEdge,
		CPUUtil:      0.3,
		MemUtil:      0.4,
		NetRTTMS:     15,
		NetBWMbps:    200,
		Reliability:  0.97,
		PowerW:       60,
	}
	req := &model.JobRequest{JobID: "j1", Type: model.JobTypeInference, Urgency: 0.7, PayloadSizeMB: 5}

	first := s.Score(tp, req)
	second := s.Score(tp, req)

	assert.Equal(t, first, second)
}
