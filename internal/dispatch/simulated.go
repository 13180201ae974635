package dispatch

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/edgeplane/dispatchd/internal/domain/model"
)

// SimulatedAdapter executes a job locally: it sleeps a fraction of the
// predicted latency and reports actuals as the predictions with noise.
// Edge actual costs are discounted the way small on-prem hardware is in
// practice.
type SimulatedAdapter struct {
	kind     model.ResourceType
	maxSleep time.Duration

	// mu serializes the noise source; Run is called from many worker
	// goroutines against one adapter per resource kind.
	mu  sync.Mutex
	rng *rand.Rand
}

// SimulatedAdapterOptions bundles parameters for NewSimulatedAdapter.
type SimulatedAdapterOptions struct {
	Kind model.ResourceType
	// Seed fixes the noise source; zero seeds from the clock.
	Seed int64
	// MaxSleep caps the simulated service time. Negative disables sleeping,
	// zero applies the 3s default.
	MaxSleep time.Duration
}

// NewSimulatedAdapter creates a simulated adapter for one resource kind.
func NewSimulatedAdapter(opts SimulatedAdapterOptions) *SimulatedAdapter {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	maxSleep := opts.MaxSleep
	if maxSleep == 0 {
		maxSleep = 3 * time.Second
	}
	return &SimulatedAdapter{
		kind:     opts.Kind,
		rng:      rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1)),
		maxSleep: maxSleep,
	}
}

// Name returns the adapter name.
func (a *SimulatedAdapter) Name() string {
	return "simulated-" + string(a.kind)
}

// Run simulates executing the job and returns noisy actuals anchored on the
// job's predictions.
func (a *SimulatedAdapter) Run(ctx context.Context, job *model.Job, _ *model.JobRequest) (*model.CompletionResult, error) {
	predLatency := 1000.0
	if job.PredictedLatencyMS != nil && *job.PredictedLatencyMS > 0 {
		predLatency = *job.PredictedLatencyMS
	}
	predCost := 0.01
	if job.PredictedCostUSD != nil && *job.PredictedCostUSD > 0 {
		predCost = *job.PredictedCostUSD
	}

	if a.maxSleep > 0 {
		sleep := time.Duration(predLatency / 1000.0 * a.uniform(0.25, 0.8) * float64(time.Second))
		if sleep < 200*time.Millisecond {
			sleep = 200 * time.Millisecond
		}
		if sleep > a.maxSleep {
			sleep = a.maxSleep
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	actualLatency := predLatency * a.uniform(0.85, 1.35)
	actualCost := predCost * a.uniform(0.85, 1.35)
	if a.kind == model.ResourceTypeEdge {
		actualCost *= 0.2
	}

	ref := fmt.Sprintf("sim://%s", job.ID)
	return &model.CompletionResult{
		ActualLatencyMS: math.Round(actualLatency*1000) / 1000,
		ActualCostUSD:   math.Round(actualCost*1e6) / 1e6,
		OutputRef:       &ref,
	}, nil
}

func (a *SimulatedAdapter) uniform(lo, hi float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return lo + a.rng.Float64()*(hi-lo)
}
