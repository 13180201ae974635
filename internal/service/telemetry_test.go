package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeplane/dispatchd/internal/domain/model"
	apperrors "github.com/edgeplane/dispatchd/internal/errors"
	"github.com/edgeplane/dispatchd/internal/testutil"
)

func newTelemetryService(t *testing.T, repo *testutil.FakeTelemetryRepo) *TelemetryService {
	t.Helper()
	svc, err := NewTelemetryService(TelemetryServiceOptions{Repo: repo})
	require.NoError(t, err)
	return svc
}

func TestIngestStoresPoint(t *testing.T) {
	repo := testutil.NewFakeTelemetryRepo()
	svc := newTelemetryService(t, repo)

	point := testutil.NewTelemetryPoint("edge-1", model.ResourceTypeEdge).
		WithUtil(0.4, 0.6).
		WithNetwork(15, 300).
		Build()

	stored, err := svc.Ingest(context.Background(), point)
	require.NoError(t, err)

	assert.Equal(t, "edge-1", stored.ResourceID)

	latest, err := svc.LatestByResource(context.Background(), "edge-1")
	require.NoError(t, err)
	assert.Equal(t, 0.4, latest.CPUUtil)
}

func TestIngestValidation(t *testing.T) {
	svc := newTelemetryService(t, testutil.NewFakeTelemetryRepo())

	tests := []struct {
		name  string
		point *model.TelemetryPoint
	}{
		{name: "nil point", point: nil},
		{name: "missing resource id", point: testutil.NewTelemetryPoint("", model.ResourceTypeEdge).Build()},
		{name: "bad resource type", point: testutil.NewTelemetryPoint("r1", "mainframe").Build()},
		{name: "cpu out of range", point: testutil.NewTelemetryPoint("r1", model.ResourceTypeEdge).WithUtil(1.2, 0.5).Build()},
		{name: "negative price", point: testutil.NewTelemetryPoint("r1", model.ResourceTypeEdge).WithPrice(-1).Build()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ingest(context.Background(), tt.point)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestIngestBatch(t *testing.T) {
	repo := testutil.NewFakeTelemetryRepo()
	svc := newTelemetryService(t, repo)

	batch := &model.TelemetryBatch{Points: []model.TelemetryPoint{
		*testutil.NewTelemetryPoint("edge-1", model.ResourceTypeEdge).Build(),
		*testutil.NewTelemetryPoint("cloud-1", model.ResourceTypeCloud).Build(),
	}}

	stored, err := svc.IngestBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	snapshots, err := svc.ListResources(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)
}

func TestIngestBatchEmpty(t *testing.T) {
	svc := newTelemetryService(t, testutil.NewFakeTelemetryRepo())

	_, err := svc.IngestBatch(context.Background(), &model.TelemetryBatch{})

	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestIngestBatchRejectsInvalidPoint(t *testing.T) {
	repo := testutil.NewFakeTelemetryRepo()
	svc := newTelemetryService(t, repo)

	batch := &model.TelemetryBatch{Points: []model.TelemetryPoint{
		*testutil.NewTelemetryPoint("edge-1", model.ResourceTypeEdge).Build(),
		*testutil.NewTelemetryPoint("", model.ResourceTypeEdge).Build(),
	}}

	// The whole batch is validated before anything is stored.
	_, err := svc.IngestBatch(context.Background(), batch)

	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "point 1")
	snapshots, listErr := svc.ListResources(context.Background(), 10)
	require.NoError(t, listErr)
	assert.Empty(t, snapshots)
}

func TestIngestBatchFailsFastOnStoreError(t *testing.T) {
	repo := testutil.NewFakeTelemetryRepo()
	svc := newTelemetryService(t, repo)
	repo.InsertErr = errors.New("connection reset")

	batch := &model.TelemetryBatch{Points: []model.TelemetryPoint{
		*testutil.NewTelemetryPoint("edge-1", model.ResourceTypeEdge).Build(),
	}}

	_, err := svc.IngestBatch(context.Background(), batch)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest point 0")
}

func TestLatestByResourceNotFound(t *testing.T) {
	svc := newTelemetryService(t, testutil.NewFakeTelemetryRepo())

	_, err := svc.LatestByResource(context.Background(), "ghost")

	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}
