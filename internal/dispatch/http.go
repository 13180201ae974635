package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/edgeplane/dispatchd/internal/domain/model"
)

const maxRunnerResponseBytes = 64 * 1024

// HTTPAdapter dispatches to an external runner: POST {base_url}/run with the
// job payload, expecting actual_latency_ms, actual_cost_usd and output_ref
// back. The client timeout bounds the whole exchange.
type HTTPAdapter struct {
	baseURL string
	name    string
	http    *http.Client
}

// HTTPAdapterOptions bundles parameters for NewHTTPAdapter.
type HTTPAdapterOptions struct {
	BaseURL    string
	Name       string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewHTTPAdapter creates an adapter for one external runner endpoint.
func NewHTTPAdapter(opts HTTPAdapterOptions) *HTTPAdapter {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &HTTPAdapter{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		name:    opts.Name,
		http:    hc,
	}
}

// Name returns the adapter name.
func (a *HTTPAdapter) Name() string { return a.name }

type runnerRequest struct {
	JobID              string            `json:"job_id"`
	JobType            model.JobType     `json:"job_type"`
	PayloadSizeMB      float64           `json:"payload_size_mb"`
	RequiresGPU        bool              `json:"requires_gpu"`
	ChosenResourceID   string            `json:"chosen_resource_id"`
	ChosenResourceType string            `json:"chosen_resource_type"`
	JobRequest         *model.JobRequest `json:"job_request"`
}

type runnerResponse struct {
	ActualLatencyMS float64 `json:"actual_latency_ms"`
	ActualCostUSD   float64 `json:"actual_cost_usd"`
	OutputRef       *string `json:"output_ref"`
}

// Run posts the job to the runner and returns the reported actuals.
func (a *HTTPAdapter) Run(ctx context.Context, job *model.Job, req *model.JobRequest) (*model.CompletionResult, error) {
	var chosenType string
	if job.ChosenResourceType != nil {
		chosenType = string(*job.ChosenResourceType)
	}

	body, err := json.Marshal(runnerRequest{
		JobID:              job.ID,
		JobType:            job.Type,
		PayloadSizeMB:      job.PayloadSizeMB,
		RequiresGPU:        job.RequiresGPU,
		ChosenResourceID:   job.CurrentResourceID(),
		ChosenResourceType: chosenType,
		JobRequest:         req,
	})
	if err != nil {
		return nil, fmt.Errorf("encode runner request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build runner request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dispatch to %s: %w", a.name, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRunnerResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read runner response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("runner %s returned status %d", a.name, resp.StatusCode)
	}

	var out runnerResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode runner response: %w", err)
	}

	return &model.CompletionResult{
		ActualLatencyMS: out.ActualLatencyMS,
		ActualCostUSD:   out.ActualCostUSD,
		OutputRef:       out.OutputRef,
	}, nil
}
