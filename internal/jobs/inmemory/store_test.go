package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-booking/internal/jobs"
)

func TestStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	job := &jobs.ImportStatementJob{JobID: "j1", OwnerID: "o1", GCSURI: "gs://b/a.csv", Status: jobs.JobStatusPending, DraftIDs: []string{"d1"}}
	require.NoError(t, store.SaveJob(ctx, job))

	job.DraftIDs[0] = "mutated"
	got, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, got.DraftIDs)

	_, err = store.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	assert.Error(t, store.SaveJob(ctx, &jobs.ImportStatementJob{}))
}

func TestStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	for i, spec := range []struct {
		id     string
		owner  string
		status jobs.JobStatus
	}{
		{"a", "o1", jobs.JobStatusCompleted},
		{"b", "o1", jobs.JobStatusFailed},
		{"c", "o2", jobs.JobStatusCompleted},
		{"d", "o1", jobs.JobStatusCompleted},
	} {
		require.NoError(t, store.SaveJob(ctx, &jobs.ImportStatementJob{
			JobID: spec.id, OwnerID: spec.owner, Status: spec.status, CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"all", jobs.JobFilter{}, []string{"d", "c", "b", "a"}},
		{"owner", jobs.JobFilter{OwnerID: "o1"}, []string{"d", "b", "a"}},
		{"status", jobs.JobFilter{OwnerID: "o1", Status: jobs.JobStatusCompleted}, []string{"d", "a"}},
		{"paged", jobs.JobFilter{Limit: 2, Offset: 1}, []string{"c", "b"}},
		{"past the end", jobs.JobFilter{Offset: 10}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListJobs(ctx, tt.filter)
			require.NoError(t, err)
			ids := []string{}
			for _, j := range got {
				ids = append(ids, j.JobID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStore_UpdateJobStatus(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.SaveJob(ctx, &jobs.ImportStatementJob{JobID: "j1"}))

	require.NoError(t, store.UpdateJobStatus(ctx, "j1", jobs.JobStatusFailed, "boom"))
	got, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	assert.ErrorIs(t, store.UpdateJobStatus(ctx, "nope", jobs.JobStatusFailed, ""), jobs.ErrJobNotFound)
}

func TestStore_Retention(t *testing.T) {
	ctx := context.Background()
	store := NewStoreWithRetention(2)
	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveJob(ctx, &jobs.ImportStatementJob{JobID: "running", Status: jobs.JobStatusRunning, CreatedAt: base}))
	for i, id := range []string{"first", "second", "third"} {
		done := base.Add(time.Duration(i+1) * time.Hour)
		require.NoError(t, store.SaveJob(ctx, &jobs.ImportStatementJob{
			JobID: id, Status: jobs.JobStatusCompleted, CreatedAt: base, CompletedAt: &done,
		}))
	}

	_, err := store.GetJob(ctx, "first")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
	for _, id := range []string{"running", "second", "third"} {
		_, err := store.GetJob(ctx, id)
		assert.NoError(t, err, id)
	}

	require.NoError(t, store.UpdateJobStatus(ctx, "running", jobs.JobStatusFailed, "boom"))
	all, err := store.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
