package slamonitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeplane/dispatchd/config"
	"github.com/edgeplane/dispatchd/internal/data"
	"github.com/edgeplane/dispatchd/internal/domain/model"
	"github.com/edgeplane/dispatchd/internal/testutil"
)

type monitorFixture struct {
	runner *Runner
	jobs   *testutil.FakeJobRepo
	events *testutil.FakeEventRepo
	router *testutil.FakeRouter
	clock  *data.FixedTimeProvider
}

func newMonitorFixture(t *testing.T, rerouteOnRisk bool) *monitorFixture {
	t.Helper()

	clock := data.NewFixedTimeProvider(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	fx := &monitorFixture{
		jobs:   testutil.NewFakeJobRepo(clock),
		events: testutil.NewFakeEventRepo(),
		router: &testutil.FakeRouter{},
		clock:  clock,
	}

	runner, err := NewRunner(RunnerOptions{
		Config: config.SLAMonitorConfig{
			PollInterval:  time.Second,
			QueueMargin:   400 * time.Millisecond,
			RerouteOnRisk: rerouteOnRisk,
			ScanLimit:     100,
		},
		Jobs:   fx.jobs,
		Events: fx.events,
		Router: fx.router,
		Time:   clock,
	})
	require.NoError(t, err)
	fx.runner = runner
	return fx
}

// seedDeadlineJob stores a job whose deadline is deadlineMS after creation,
// created at the fixture clock's current time.
func (fx *monitorFixture) seedDeadlineJob(t *testing.T, jobID string, status model.JobStatus, deadlineMS int64) {
	t.Helper()

	req := testutil.NewJobRequest(jobID).WithDeadlineMS(deadlineMS).Build()
	snapshot, err := req.Snapshot()
	require.NoError(t, err)

	resourceID := "edge-1"
	rt := model.ResourceTypeEdge
	fx.jobs.Put(&model.Job{
		ID:                 jobID,
		Type:               req.Type,
		Request:            snapshot,
		Status:             status,
		MaxAttempts:        3,
		SLADeadlineMS:      &deadlineMS,
		ChosenResourceID:   &resourceID,
		ChosenResourceType: &rt,
		SLAViolations:      []string{},
		CreatedAt:          fx.clock.Now(),
	})
}

func TestNewRunnerRequiresDependencies(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "JobRepository is required")
}

func TestScanFlagsQueuedJobInsideMargin(t *testing.T) {
	fx := newMonitorFixture(t, false)
	fx.seedDeadlineJob(t, "j1", model.JobStatusQueued, 1000)

	// 700ms elapsed: 300ms left, inside the 400ms margin.
	fx.clock.AddTime(700 * time.Millisecond)
	require.NoError(t, fx.runner.Scan(context.Background()))

	assert.Equal(t, []model.EventKind{model.EventDeadlineRisk}, fx.events.Kinds("j1"))
	assert.Contains(t, fx.events.Messages("j1"), "only 300ms left before deadline while queued")
}

func TestScanIgnoresJobOutsideMargin(t *testing.T) {
	fx := newMonitorFixture(t, false)
	fx.seedDeadlineJob(t, "j1", model.JobStatusQueued, 5000)

	require.NoError(t, fx.runner.Scan(context.Background()))

	assert.Empty(t, fx.events.Kinds("j1"))
}

func TestScanRunningJobGetsNoRiskEvent(t *testing.T) {
	fx := newMonitorFixture(t, false)
	fx.seedDeadlineJob(t, "j1", model.JobStatusRunning, 1000)

	fx.clock.AddTime(700 * time.Millisecond)
	require.NoError(t, fx.runner.Scan(context.Background()))

	// Risk only applies to jobs still waiting in the queue.
	assert.Empty(t, fx.events.Kinds("j1"))
}

func TestScanRecordsBreach(t *testing.T) {
	fx := newMonitorFixture(t, false)
	fx.seedDeadlineJob(t, "j1", model.JobStatusRunning, 1000)

	fx.clock.AddTime(1500 * time.Millisecond)
	require.NoError(t, fx.runner.Scan(context.Background()))

	assert.Equal(t, []model.EventKind{model.EventSLABreachDeadline}, fx.events.Kinds("j1"))
	assert.Contains(t, fx.events.Messages("j1"), "deadline exceeded by 500ms while RUNNING")
}

func TestScanDedupsAcrossPasses(t *testing.T) {
	fx := newMonitorFixture(t, false)
	fx.seedDeadlineJob(t, "j1", model.JobStatusQueued, 1000)

	fx.clock.AddTime(700 * time.Millisecond)
	require.NoError(t, fx.runner.Scan(context.Background()))
	require.NoError(t, fx.runner.Scan(context.Background()))

	assert.Len(t, fx.events.Kinds("j1"), 1)

	// The same job crossing into breach still gets its breach event.
	fx.clock.AddTime(time.Second)
	require.NoError(t, fx.runner.Scan(context.Background()))
	require.NoError(t, fx.runner.Scan(context.Background()))

	assert.Equal(t, []model.EventKind{
		model.EventDeadlineRisk,
		model.EventSLABreachDeadline,
	}, fx.events.Kinds("j1"))
}

func TestScanReroutesAtRiskJob(t *testing.T) {
	fx := newMonitorFixture(t, true)
	fx.seedDeadlineJob(t, "j1", model.JobStatusQueued, 1000)
	fx.router.Decisions = []*model.RouteDecision{{
		ChosenResourceID:   "gpu-1",
		ChosenResourceType: model.ResourceTypeGPU,
	}}

	fx.clock.AddTime(700 * time.Millisecond)
	require.NoError(t, fx.runner.Scan(context.Background()))

	assert.Equal(t, []model.EventKind{
		model.EventDeadlineRisk,
		model.EventDeadlineRerouted,
	}, fx.events.Kinds("j1"))
	assert.Contains(t, fx.events.Messages("j1"), "rerouted edge-1 -> gpu-1 (gpu) to protect deadline")

	stored := fx.jobs.Snapshot("j1")
	require.NotNil(t, stored.ChosenResourceID)
	assert.Equal(t, "gpu-1", *stored.ChosenResourceID)

	// The routing request excluded the current resource.
	require.Len(t, fx.router.Requests, 1)
	assert.True(t, fx.router.Requests[0].Hints.Excluded("edge-1"))
}

func TestScanRerouteFindsNoBetterResource(t *testing.T) {
	fx := newMonitorFixture(t, true)
	fx.seedDeadlineJob(t, "j1", model.JobStatusQueued, 1000)
	// Unresolved sentinel decision.

	fx.clock.AddTime(700 * time.Millisecond)
	require.NoError(t, fx.runner.Scan(context.Background()))

	assert.Equal(t, []model.EventKind{
		model.EventDeadlineRisk,
		model.EventDeadlineRerouteFailed,
	}, fx.events.Kinds("j1"))
	assert.Contains(t, fx.events.Messages("j1"), "no better resource available, staying on edge-1")

	stored := fx.jobs.Snapshot("j1")
	assert.Equal(t, "edge-1", *stored.ChosenResourceID)
}

func TestScanCompactsDedupState(t *testing.T) {
	fx := newMonitorFixture(t, false)
	fx.seedDeadlineJob(t, "j1", model.JobStatusQueued, 1000)

	fx.clock.AddTime(700 * time.Millisecond)
	require.NoError(t, fx.runner.Scan(context.Background()))
	assert.Len(t, fx.runner.warned, 1)

	// The job completes and leaves the candidate set.
	_, err := fx.jobs.ClaimNext(context.Background(), "w1")
	require.NoError(t, err)
	_, err = fx.jobs.Complete(context.Background(), "j1", &model.CompletionResult{ActualLatencyMS: 100})
	require.NoError(t, err)

	require.NoError(t, fx.runner.Scan(context.Background()))
	assert.Empty(t, fx.runner.warned)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	fx := newMonitorFixture(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.runner.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after cancel")
	}
}
