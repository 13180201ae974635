package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ResourceType classifies a compute resource.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type ResourceType string

const (
	// ResourceTypeEdge represents an edge node close to the data source.
	ResourceTypeEdge ResourceType = "edge"
	// ResourceTypeCloud represents a general purpose cloud VM.
	ResourceTypeCloud ResourceType = "cloud"
	// ResourceTypeGPU represents a GPU-accelerated instance.
	ResourceTypeGPU ResourceType = "gpu"
)

// Valid returns true if the ResourceType is valid.
func (t ResourceType) Valid() bool {
	return t == ResourceTypeEdge || t == ResourceTypeCloud || t == ResourceTypeGPU
}

// UnmarshalText implements encoding.TextUnmarshaler for ResourceType.
func (t *ResourceType) UnmarshalText(text []byte) error {
	v := ResourceType(strings.ToLower(strings.TrimSpace(string(text))))
	if v == "" || v.Valid() {
		*t = v
		return nil
	}
	return fmt.Errorf("invalid ResourceType: %q", v)
}

// TelemetryPoint is one append-only observation of a resource. The latest
// point per resource is the routing input.
type TelemetryPoint struct {
	ID           int64        `json:"id,omitempty"  db:"id"`
	TS           time.Time    `json:"ts"            db:"ts"`
	ResourceID   string       `json:"resource_id"   db:"resource_id"`
	ResourceType ResourceType `json:"resource_type" db:"resource_type"`

	CPUUtil float64 `json:"cpu_util" db:"cpu_util"`
	MemUtil float64 `json:"mem_util" db:"mem_util"`
	GPUUtil float64 `json:"gpu_util" db:"gpu_util"`

	NetRTTMS  float64 `json:"net_rtt_ms"  db:"net_rtt_ms"`
	NetBWMbps float64 `json:"net_bw_mbps" db:"net_bw_mbps"`

	PricePerHourUSD float64 `json:"price_per_hour_usd" db:"price_per_hour_usd"`
	Reliability     float64 `json:"reliability"        db:"reliability"`
	PowerW          float64 `json:"power_w"            db:"power_w"`

	Extra json.RawMessage `json:"extra,omitempty" db:"extra"`
}

// Validate validates the TelemetryPoint fields.
func (p *TelemetryPoint) Validate() error {
	if strings.TrimSpace(p.ResourceID) == "" {
		return errors.New("resource_id is required")
	}
	if !p.ResourceType.Valid() {
		return fmt.Errorf("invalid resource_type: %q", p.ResourceType)
	}
	for _, u := range []struct {
		name  string
		value float64
	}{
		{"cpu_util", p.CPUUtil},
		{"mem_util", p.MemUtil},
		{"gpu_util", p.GPUUtil},
		{"reliability", p.Reliability},
	} {
		if u.value < 0 || u.value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", u.name)
		}
	}
	if p.NetRTTMS < 0 || p.NetBWMbps < 0 || p.PricePerHourUSD < 0 || p.PowerW < 0 {
		return errors.New("telemetry metrics must be >= 0")
	}
	return nil
}

// ApplyDefaults fills the fields the ingest surface accepts as optional.
func (p *TelemetryPoint) ApplyDefaults(now time.Time) {
	if p.TS.IsZero() {
		p.TS = now
	}
	if p.Reliability == 0 {
		p.Reliability = 0.98
	}
	if p.PowerW == 0 {
		p.PowerW = 50.0
	}
	if len(p.Extra) == 0 {
		p.Extra = json.RawMessage(`{}`)
	}
}

// ResourceSnapshot pairs a resource identity with its latest telemetry point.
type ResourceSnapshot struct {
	ResourceID   string         `json:"resource_id"`
	ResourceType ResourceType   `json:"resource_type"`
	Last         TelemetryPoint `json:"last"`
}

// TelemetryBatch is the batch ingest payload.
type TelemetryBatch struct {
	Points []TelemetryPoint `json:"points"`
}

// Validate validates every point in the batch.
func (b *TelemetryBatch) Validate() error {
	if len(b.Points) == 0 {
		return errors.New("points is required")
	}
	for i := range b.Points {
		if err := b.Points[i].Validate(); err != nil {
			return fmt.Errorf("point %d: %w", i, err)
		}
	}
	return nil
}
