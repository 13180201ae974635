package data_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeplane/dispatchd/internal/data"
	"github.com/edgeplane/dispatchd/internal/domain/model"
	"github.com/edgeplane/dispatchd/internal/testutil"
)

func TestEventRepoAppendAndListByJob(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		clock := data.NewFixedTimeProvider(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
		jobs := data.NewJobRepo(db, data.RepoConfig{TimeProvider: clock})
		repo := data.NewEventRepo(db, data.RepoConfig{TimeProvider: clock})
		ctx := context.Background()

		createQueuedJob(t, jobs, "j1")

		require.NoError(t, repo.Append(ctx, "j1", model.EventSubmitted, "queued on edge-1"))
		clock.AddTime(time.Second)
		require.NoError(t, repo.Append(ctx, "j1", model.EventRunning, "attempt 1/3 on edge-1"))

		events, err := repo.ListByJob(ctx, "j1", 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		// Newest first.
		assert.Equal(t, model.EventRunning, events[0].Kind)
		assert.Equal(t, model.EventSubmitted, events[1].Kind)
		assert.Equal(t, "queued on edge-1", events[1].Message)

		unknown, err := repo.ListByJob(ctx, "ghost", 10)
		require.NoError(t, err)
		assert.Empty(t, unknown)
	})
}
