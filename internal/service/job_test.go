package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeplane/dispatchd/internal/core"
	"github.com/edgeplane/dispatchd/internal/data"
	"github.com/edgeplane/dispatchd/internal/domain/model"
	apperrors "github.com/edgeplane/dispatchd/internal/errors"
	"github.com/edgeplane/dispatchd/internal/testutil"
)

type jobServiceFixture struct {
	svc      *JobService
	jobs     *testutil.FakeJobRepo
	attempts *testutil.FakeAttemptRepo
	events   *testutil.FakeEventRepo
	router   *testutil.FakeRouter
	clock    *data.FixedTimeProvider
}

func newJobServiceFixture(t *testing.T) *jobServiceFixture {
	t.Helper()

	clock := data.NewFixedTimeProvider(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	fx := &jobServiceFixture{
		jobs:     testutil.NewFakeJobRepo(clock),
		attempts: testutil.NewFakeAttemptRepo(),
		events:   testutil.NewFakeEventRepo(),
		router:   &testutil.FakeRouter{},
		clock:    clock,
	}

	svc, err := NewJobService(JobServiceOptions{
		Jobs:     fx.jobs,
		Attempts: fx.attempts,
		Events:   fx.events,
		Router:   fx.router,
	})
	require.NoError(t, err)
	fx.svc = svc
	return fx
}

func resolvedDecision(resourceID string, rt model.ResourceType) *model.RouteDecision {
	return &model.RouteDecision{
		ChosenResourceID:   resourceID,
		ChosenResourceType: rt,
		Explanation:        "[SLA OK] Chose " + resourceID,
	}
}

func TestSubmitQueuesResolvedJob(t *testing.T) {
	fx := newJobServiceFixture(t)
	fx.router.Decisions = []*model.RouteDecision{resolvedDecision("edge-1", model.ResourceTypeEdge)}

	res, err := fx.svc.Submit(context.Background(), testutil.NewJobRequest("j1").Build())
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusQueued, res.Job.Status)
	require.NotNil(t, res.Job.ChosenResourceID)
	assert.Equal(t, "edge-1", *res.Job.ChosenResourceID)
	assert.Equal(t, "j1", res.Decision.JobID)

	assert.Equal(t, []model.EventKind{model.EventSubmitted}, fx.events.Kinds("j1"))
	// The stored snapshot is claimable by a worker.
	stored := fx.jobs.Snapshot("j1")
	req, err := stored.ParsedRequest()
	require.NoError(t, err)
	assert.Equal(t, "j1", req.JobID)
}

func TestSubmitBlocksUnresolvedJob(t *testing.T) {
	fx := newJobServiceFixture(t)
	// Default fake router decision is the unresolved sentinel.

	res, err := fx.svc.Submit(context.Background(), testutil.NewJobRequest("j1").Build())
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusBlocked, res.Job.Status)
	assert.Nil(t, res.Job.ChosenResourceID)
}

func TestSubmitValidation(t *testing.T) {
	fx := newJobServiceFixture(t)

	tests := []struct {
		name string
		req  *model.JobRequest
	}{
		{name: "nil request", req: nil},
		{name: "missing job id", req: testutil.NewJobRequest("").Build()},
		{name: "bad urgency", req: testutil.NewJobRequest("j1").WithUrgency(1.5).Build()},
		{name: "bad type", req: testutil.NewJobRequest("j1").WithType("interactive").Build()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.Submit(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
	// Nothing reached the router.
	assert.Empty(t, fx.router.Requests)
}

func TestSubmitRouterError(t *testing.T) {
	fx := newJobServiceFixture(t)
	fx.router.Err = errors.New("telemetry store down")

	_, err := fx.svc.Submit(context.Background(), testutil.NewJobRequest("j1").Build())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "route job j1")
	assert.Nil(t, fx.jobs.Snapshot("j1"))
}

func TestRouteDryRunPersistsNothing(t *testing.T) {
	fx := newJobServiceFixture(t)
	fx.router.Decisions = []*model.RouteDecision{resolvedDecision("edge-1", model.ResourceTypeEdge)}

	d, err := fx.svc.Route(context.Background(), testutil.NewJobRequest("j1").Build())
	require.NoError(t, err)

	assert.Equal(t, "edge-1", d.ChosenResourceID)
	assert.Nil(t, fx.jobs.Snapshot("j1"))
	assert.Empty(t, fx.events.Kinds("j1"))
}

func TestGetNotFound(t *testing.T) {
	fx := newJobServiceFixture(t)

	_, err := fx.svc.Get(context.Background(), "missing")

	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestListRejectsBadFilters(t *testing.T) {
	fx := newJobServiceFixture(t)

	badStatus := model.JobStatus("SLEEPING")
	_, err := fx.svc.List(context.Background(), core.ListJobsOptions{Status: &badStatus})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	badType := model.JobType("interactive")
	_, err = fx.svc.List(context.Background(), core.ListJobsOptions{Type: &badType})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestListFiltersByStatus(t *testing.T) {
	fx := newJobServiceFixture(t)
	fx.router.Decisions = []*model.RouteDecision{resolvedDecision("edge-1", model.ResourceTypeEdge)}

	_, err := fx.svc.Submit(context.Background(), testutil.NewJobRequest("j1").Build())
	require.NoError(t, err)
	_, err = fx.svc.Submit(context.Background(), testutil.NewJobRequest("j2").Build())
	require.NoError(t, err)
	_, err = fx.jobs.ClaimNext(context.Background(), "w1")
	require.NoError(t, err)

	queued := model.JobStatusQueued
	jobs, err := fx.svc.List(context.Background(), core.ListJobsOptions{Status: &queued})
	require.NoError(t, err)

	require.Len(t, jobs, 1)
	assert.Equal(t, "j2", jobs[0].ID)
}

func TestCancel(t *testing.T) {
	fx := newJobServiceFixture(t)
	fx.router.Decisions = []*model.RouteDecision{resolvedDecision("edge-1", model.ResourceTypeEdge)}

	_, err := fx.svc.Submit(context.Background(), testutil.NewJobRequest("j1").Build())
	require.NoError(t, err)

	job, err := fx.svc.Cancel(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, job.Status)
	assert.Contains(t, fx.events.Kinds("j1"), model.EventCancelled)

	t.Run("already terminal is a conflict", func(t *testing.T) {
		_, err := fx.svc.Cancel(context.Background(), "j1")
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("unknown job is not found", func(t *testing.T) {
		_, err := fx.svc.Cancel(context.Background(), "missing")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestComplete(t *testing.T) {
	fx := newJobServiceFixture(t)
	fx.router.Decisions = []*model.RouteDecision{resolvedDecision("edge-1", model.ResourceTypeEdge)}

	_, err := fx.svc.Submit(context.Background(), testutil.NewJobRequest("j1").Build())
	require.NoError(t, err)
	_, err = fx.jobs.ClaimNext(context.Background(), "w1")
	require.NoError(t, err)

	job, err := fx.svc.Complete(context.Background(), "j1", &model.CompletionResult{
		ActualLatencyMS: 120.5,
		ActualCostUSD:   0.0015,
	})
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusCompleted, job.Status)
	require.NotNil(t, job.ActualLatencyMS)
	assert.Equal(t, 120.5, *job.ActualLatencyMS)
	assert.Contains(t, fx.events.Messages("j1"),
		"completed by caller: actual_latency_ms=120.5 actual_cost_usd=0.001500")

	t.Run("second completion is a conflict", func(t *testing.T) {
		_, err := fx.svc.Complete(context.Background(), "j1", &model.CompletionResult{ActualLatencyMS: 1})
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("unknown job is not found", func(t *testing.T) {
		_, err := fx.svc.Complete(context.Background(), "missing", &model.CompletionResult{ActualLatencyMS: 1})
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("negative actuals are rejected", func(t *testing.T) {
		_, err := fx.svc.Complete(context.Background(), "j1", &model.CompletionResult{ActualLatencyMS: -1})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestCompleteQueuedJob(t *testing.T) {
	fx := newJobServiceFixture(t)
	fx.router.Decisions = []*model.RouteDecision{resolvedDecision("edge-1", model.ResourceTypeEdge)}

	_, err := fx.svc.Submit(context.Background(), testutil.NewJobRequest("j1").Build())
	require.NoError(t, err)

	// No worker ever claims the job; the caller closes it out directly.
	job, err := fx.svc.Complete(context.Background(), "j1", &model.CompletionResult{
		ActualLatencyMS: 80,
		ActualCostUSD:   0.001,
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	require.NotNil(t, job.ActualLatencyMS)
	assert.Equal(t, 80.0, *job.ActualLatencyMS)

	t.Run("cancelled job stays a conflict", func(t *testing.T) {
		_, err := fx.svc.Submit(context.Background(), testutil.NewJobRequest("j2").Build())
		require.NoError(t, err)
		_, err = fx.svc.Cancel(context.Background(), "j2")
		require.NoError(t, err)

		_, err = fx.svc.Complete(context.Background(), "j2", &model.CompletionResult{ActualLatencyMS: 1})
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
	})
}

func TestEventsAndAttemptsRequireExistingJob(t *testing.T) {
	fx := newJobServiceFixture(t)

	_, err := fx.svc.Events(context.Background(), "missing", 10)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = fx.svc.Attempts(context.Background(), "missing", 10)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSLAEventsListsTroubledJobs(t *testing.T) {
	fx := newJobServiceFixture(t)
	ctx := context.Background()

	violated := resolvedDecision("cloud-1", model.ResourceTypeCloud)
	violated.Considered = []model.ConsideredResource{{
		ResourceID:   "cloud-1",
		ResourceType: model.ResourceTypeCloud,
		Score: model.ScoreBreakdown{
			LatencyPredMS: 3000,
			CostPredUSD:   0.05,
			FinalScore:    0.4,
			SLAViolations: []string{"deadline_ms violated: p90 3600.0ms > 2000ms"},
		},
	}}
	fx.router.Decisions = []*model.RouteDecision{
		resolvedDecision("edge-1", model.ResourceTypeEdge),
		{ChosenResourceID: model.NoResourceID, ChosenResourceType: model.ResourceTypeEdge},
		violated,
	}

	// Cleanly routed: stays out of the view.
	_, err := fx.svc.Submit(ctx, testutil.NewJobRequest("j1").Build())
	require.NoError(t, err)
	// No acceptable resource: BLOCKED.
	_, err = fx.svc.Submit(ctx, testutil.NewJobRequest("j2").Build())
	require.NoError(t, err)
	// Placed with a recorded deadline violation.
	_, err = fx.svc.Submit(ctx, testutil.NewJobRequest("j3").WithDeadlineMS(2000).Build())
	require.NoError(t, err)

	events, err := fx.svc.SLAEvents(ctx, 10)
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "j2", events[0].JobID)
	assert.Equal(t, model.JobStatusBlocked, events[0].Status)
	assert.Empty(t, events[0].Violations)

	assert.Equal(t, "j3", events[1].JobID)
	assert.Equal(t, model.JobStatusQueued, events[1].Status)
	require.NotNil(t, events[1].ChosenResourceID)
	assert.Equal(t, "cloud-1", *events[1].ChosenResourceID)
	assert.Equal(t, []string{"deadline_ms violated: p90 3600.0ms > 2000ms"}, events[1].Violations)
}

func TestStats(t *testing.T) {
	fx := newJobServiceFixture(t)
	fx.router.Decisions = []*model.RouteDecision{resolvedDecision("edge-1", model.ResourceTypeEdge)}

	_, err := fx.svc.Submit(context.Background(), testutil.NewJobRequest("j1").Build())
	require.NoError(t, err)
	_, err = fx.svc.Submit(context.Background(), testutil.NewJobRequest("j2").Build())
	require.NoError(t, err)
	_, err = fx.svc.Cancel(context.Background(), "j2")
	require.NoError(t, err)

	stats, err := fx.svc.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Queued)
	assert.Equal(t, 1, stats.Cancelled)
}

func TestPredictionMetrics(t *testing.T) {
	fx := newJobServiceFixture(t)

	complete := func(id string, predLat, actLat, predCost, actCost float64) {
		job := &model.Job{
			ID:                 id,
			Type:               model.JobTypeBatch,
			Status:             model.JobStatusCompleted,
			PredictedLatencyMS: &predLat,
			ActualLatencyMS:    &actLat,
			PredictedCostUSD:   &predCost,
			ActualCostUSD:      &actCost,
			SLAViolations:      []string{},
		}
		fx.jobs.Put(job)
	}
	complete("j1", 100, 150, 0.010, 0.012) // under-predicted by 50 / 0.002
	complete("j2", 200, 100, 0.020, 0.010) // over-predicted by 100 / 0.010

	m, err := fx.svc.PredictionMetrics(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 2, m.Samples)
	assert.False(t, m.SampleLimitHit)
	assert.InDelta(t, 75.0, m.LatencyMAEMS, 1e-9)   // (50+100)/2
	assert.InDelta(t, 25.0, m.LatencyBiasMS, 1e-9)  // (-50+100)/2
	assert.InDelta(t, 0.006, m.CostMAEUSD, 1e-9)    // (0.002+0.010)/2
	assert.InDelta(t, 0.004, m.CostBiasUSD, 1e-9)   // (-0.002+0.010)/2
}

func TestPredictionMetricsNoSamples(t *testing.T) {
	fx := newJobServiceFixture(t)

	m, err := fx.svc.PredictionMetrics(context.Background(), 0)
	require.NoError(t, err)

	assert.Zero(t, m.Samples)
	assert.Zero(t, m.LatencyMAEMS)
	assert.False(t, m.SampleLimitHit)
}
