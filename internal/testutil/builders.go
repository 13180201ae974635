package testutil

import (
	"time"

	"github.com/edgeplane/dispatchd/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building JobRequest
// objects for testing.
type JobRequestBuilder struct {
	req *model.JobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest(jobID string) *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.JobRequest{
			JobID:         jobID,
			Type:          model.JobTypeBatch,
			Urgency:       0.5,
			PayloadSizeMB: 10,
		},
	}
}

// WithType sets the job type.
func (b *JobRequestBuilder) WithType(jobType model.JobType) *JobRequestBuilder {
	b.req.Type = jobType
	return b
}

// WithUrgency sets the urgency.
func (b *JobRequestBuilder) WithUrgency(urgency float64) *JobRequestBuilder {
	b.req.Urgency = urgency
	return b
}

// WithPayloadSizeMB sets the payload size.
func (b *JobRequestBuilder) WithPayloadSizeMB(size float64) *JobRequestBuilder {
	b.req.PayloadSizeMB = size
	return b
}

// WithGPU marks the job as GPU-requiring.
func (b *JobRequestBuilder) WithGPU() *JobRequestBuilder {
	b.req.RequiresGPU = true
	return b
}

// WithDeadlineMS sets the SLA deadline.
func (b *JobRequestBuilder) WithDeadlineMS(ms int64) *JobRequestBuilder {
	b.req.SLA.DeadlineMS = &ms
	return b
}

// WithMaxCostUSD sets the SLA cost cap.
func (b *JobRequestBuilder) WithMaxCostUSD(usd float64) *JobRequestBuilder {
	b.req.SLA.MaxCostUSD = &usd
	return b
}

// WithMinReliability sets the SLA reliability floor.
func (b *JobRequestBuilder) WithMinReliability(r float64) *JobRequestBuilder {
	b.req.SLA.MinReliability = &r
	return b
}

// WithFallback sets whether best-effort placement is allowed.
func (b *JobRequestBuilder) WithFallback(allowed bool) *JobRequestBuilder {
	b.req.AllowSLAFallback = &allowed
	return b
}

// WithMaxAttempts sets the retry budget.
func (b *JobRequestBuilder) WithMaxAttempts(n int) *JobRequestBuilder {
	b.req.MaxAttempts = n
	return b
}

// WithHints sets the routing hints.
func (b *JobRequestBuilder) WithHints(hints model.RoutingHints) *JobRequestBuilder {
	b.req.Hints = hints
	return b
}

// WithForceFailFirst flags the first dispatch attempt to fail.
func (b *JobRequestBuilder) WithForceFailFirst() *JobRequestBuilder {
	b.req.Hints.ForceFailFirst = true
	return b
}

// Build returns the constructed JobRequest.
func (b *JobRequestBuilder) Build() *model.JobRequest {
	return b.req
}

// TelemetryPointBuilder provides a fluent interface for building telemetry
// points for testing.
type TelemetryPointBuilder struct {
	p *model.TelemetryPoint
}

// NewTelemetryPoint creates a new TelemetryPointBuilder with sensible defaults
// for the given resource.
func NewTelemetryPoint(resourceID string, rt model.ResourceType) *TelemetryPointBuilder {
	return &TelemetryPointBuilder{
		p: &model.TelemetryPoint{
			TS:              time.Now().UTC(),
			ResourceID:      resourceID,
			ResourceType:    rt,
			CPUUtil:         0.3,
			MemUtil:         0.3,
			NetRTTMS:        20,
			NetBWMbps:       500,
			PricePerHourUSD: 0.05,
			Reliability:     0.99,
			PowerW:          100,
		},
	}
}

// WithUtil sets cpu and mem utilization.
func (b *TelemetryPointBuilder) WithUtil(cpu, mem float64) *TelemetryPointBuilder {
	b.p.CPUUtil = cpu
	b.p.MemUtil = mem
	return b
}

// WithGPUUtil sets gpu utilization.
func (b *TelemetryPointBuilder) WithGPUUtil(gpu float64) *TelemetryPointBuilder {
	b.p.GPUUtil = gpu
	return b
}

// WithNetwork sets rtt and bandwidth.
func (b *TelemetryPointBuilder) WithNetwork(rttMS, bwMbps float64) *TelemetryPointBuilder {
	b.p.NetRTTMS = rttMS
	b.p.NetBWMbps = bwMbps
	return b
}

// WithPrice sets the hourly price.
func (b *TelemetryPointBuilder) WithPrice(usd float64) *TelemetryPointBuilder {
	b.p.PricePerHourUSD = usd
	return b
}

// WithReliability sets the reliability.
func (b *TelemetryPointBuilder) WithReliability(r float64) *TelemetryPointBuilder {
	b.p.Reliability = r
	return b
}

// WithPower sets the power draw.
func (b *TelemetryPointBuilder) WithPower(w float64) *TelemetryPointBuilder {
	b.p.PowerW = w
	return b
}

// WithTS sets the sample timestamp.
func (b *TelemetryPointBuilder) WithTS(ts time.Time) *TelemetryPointBuilder {
	b.p.TS = ts
	return b
}

// Build returns the constructed TelemetryPoint.
func (b *TelemetryPointBuilder) Build() *model.TelemetryPoint {
	return b.p
}
