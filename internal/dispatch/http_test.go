package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeplane/dispatchd/config"
	"github.com/edgeplane/dispatchd/internal/domain/model"
)

func TestHTTPAdapterRun(t *testing.T) {
	var got runnerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/run", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		ref := "runner://out/42"
		_ = json.NewEncoder(w).Encode(runnerResponse{
			ActualLatencyMS: 321.5,
			ActualCostUSD:   0.004,
			OutputRef:       &ref,
		})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(HTTPAdapterOptions{BaseURL: srv.URL + "/", Name: "http-gpu"})
	job := routedJob("j1", model.ResourceTypeGPU)
	req := &model.JobRequest{JobID: "j1", Type: model.JobTypeTraining, RequiresGPU: true}

	res, err := a.Run(context.Background(), job, req)
	require.NoError(t, err)

	assert.Equal(t, "j1", got.JobID)
	assert.Equal(t, "gpu-1", got.ChosenResourceID)
	assert.Equal(t, "gpu", got.ChosenResourceType)
	require.NotNil(t, got.JobRequest)
	assert.True(t, got.JobRequest.RequiresGPU)

	assert.Equal(t, 321.5, res.ActualLatencyMS)
	assert.Equal(t, 0.004, res.ActualCostUSD)
	require.NotNil(t, res.OutputRef)
	assert.Equal(t, "runner://out/42", *res.OutputRef)
}

func TestHTTPAdapterNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "runner exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(HTTPAdapterOptions{BaseURL: srv.URL, Name: "http-edge"})

	_, err := a.Run(context.Background(), routedJob("j1", model.ResourceTypeEdge), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestHTTPAdapterBadResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(HTTPAdapterOptions{BaseURL: srv.URL, Name: "http-edge"})

	_, err := a.Run(context.Background(), routedJob("j1", model.ResourceTypeEdge), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode runner response")
}

func TestRegistryUsesHTTPAdapterWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(runnerResponse{ActualLatencyMS: 100, ActualCostUSD: 0.001})
	}))
	defer srv.Close()

	r := NewRegistry(RegistryOptions{
		Worker: config.WorkerConfig{
			EdgeRunnerURL:      srv.URL,
			SimulationMaxSleep: -1,
		},
		SimulationSeed: 42,
	})

	// Edge goes through the runner, cloud stays simulated.
	edgeRes, err := r.Dispatch(context.Background(), routedJob("j1", model.ResourceTypeEdge), nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, edgeRes.ActualLatencyMS)
	assert.Nil(t, edgeRes.OutputRef)

	cloudRes, err := r.Dispatch(context.Background(), routedJob("j2", model.ResourceTypeCloud), nil)
	require.NoError(t, err)
	require.NotNil(t, cloudRes.OutputRef)
	assert.Equal(t, "sim://j2", *cloudRes.OutputRef)
}

func TestHTTPAdapterContextCancel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	a := NewHTTPAdapter(HTTPAdapterOptions{BaseURL: srv.URL, Name: "http-edge"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Run(ctx, routedJob("j1", model.ResourceTypeEdge), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
