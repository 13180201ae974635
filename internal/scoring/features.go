// Package scoring implements the multi-objective placement scoring pipeline:
// feature extraction from telemetry, latency/cost prediction, min-max
// normalization, and the weighted score with SLA verdicts.
package scoring

import (
	"github.com/edgeplane/dispatchd/internal/domain/model"
)

// ComputeCongestion derives a single load signal from utilization. GPU
// resources blend in GPU utilization so a busy accelerator shows as
// congestion even when CPU is idle. Clamped to [0,1].
func ComputeCongestion(t *model.TelemetryPoint) float64 {
	base := (t.CPUUtil + t.MemUtil) / 2.0
	if t.ResourceType == model.ResourceTypeGPU {
		base = (base + t.GPUUtil) / 2.0
	}
	return clamp01(base)
}

// BuildFeatures merges a telemetry point with a job request into the flat
// feature vector the predictors consume. Pure function of its inputs.
func BuildFeatures(t *model.TelemetryPoint, req *model.JobRequest) model.FeatureVector {
	return model.FeatureVector{
		Congestion:      ComputeCongestion(t),
		CPUUtil:         t.CPUUtil,
		MemUtil:         t.MemUtil,
		GPUUtil:         t.GPUUtil,
		NetRTTMS:        t.NetRTTMS,
		NetBWMbps:       t.NetBWMbps,
		PricePerHourUSD: t.PricePerHourUSD,
		Reliability:     t.Reliability,
		PowerW:          t.PowerW,
		Urgency:         req.Urgency,
		PayloadSizeMB:   req.PayloadSizeMB,
		RequiresGPU:     req.RequiresGPU,
		JobType:         req.Type,
		ResourceType:    t.ResourceType,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
