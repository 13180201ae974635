package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edgeplane/dispatchd/config"
	"github.com/edgeplane/dispatchd/internal/domain/model"
)

// Registry selects the adapter for a job's chosen resource type and runs it.
// Resource types with a configured runner URL get the HTTP adapter; the rest
// fall back to the simulated one.
type Registry struct {
	adapters map[model.ResourceType]Adapter
	logger   *slog.Logger
}

// RegistryOptions bundles parameters for NewRegistry.
type RegistryOptions struct {
	Worker config.WorkerConfig
	Logger *slog.Logger

	// SimulationSeed seeds the simulated adapters for reproducible runs.
	// Zero uses the clock.
	SimulationSeed int64
}

// NewRegistry builds the adapter set from worker configuration.
func NewRegistry(opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	urls := map[model.ResourceType]string{
		model.ResourceTypeEdge:  opts.Worker.EdgeRunnerURL,
		model.ResourceTypeCloud: opts.Worker.CloudRunnerURL,
		model.ResourceTypeGPU:   opts.Worker.GPURunnerURL,
	}

	adapters := make(map[model.ResourceType]Adapter, len(urls))
	for rt, url := range urls {
		if url == "" {
			adapters[rt] = NewSimulatedAdapter(SimulatedAdapterOptions{
				Kind:     rt,
				Seed:     opts.SimulationSeed,
				MaxSleep: opts.Worker.SimulationMaxSleep,
			})
			continue
		}
		adapters[rt] = NewHTTPAdapter(HTTPAdapterOptions{
			BaseURL: url,
			Name:    fmt.Sprintf("http-%s", rt),
			Timeout: opts.Worker.DispatchTimeout,
		})
	}

	return &Registry{adapters: adapters, logger: logger}
}

// Dispatch runs the job on the adapter matching its routed resource type.
// A job flagged force_fail_first fails its first attempt before any adapter
// is consulted, exercising the retry and reroute path end to end.
func (r *Registry) Dispatch(ctx context.Context, job *model.Job, req *model.JobRequest) (*model.CompletionResult, error) {
	if req != nil && req.Hints.ForceFailFirst && job.Attempts == 1 {
		return nil, ErrForcedFailure
	}

	if job.ChosenResourceType == nil {
		return nil, fmt.Errorf("job %s has no routed resource type", job.ID)
	}
	adapter, ok := r.adapters[*job.ChosenResourceType]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for resource type %q", *job.ChosenResourceType)
	}

	r.logger.InfoContext(ctx, "dispatching job",
		"job_id", job.ID,
		"adapter", adapter.Name(),
		"resource_id", job.CurrentResourceID(),
		"attempt", job.Attempts,
	)
	return adapter.Run(ctx, job, req)
}
