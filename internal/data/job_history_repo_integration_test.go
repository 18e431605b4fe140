package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/muster/internal/data"
	"github.com/target/muster/internal/domain/model"
	"github.com/target/muster/internal/testutil"
)

func setupHistoryRepo(t *testing.T) *data.JobHistoryRepo {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repo, err := data.NewJobHistoryRepo(data.JobHistoryRepoOptions{DB: db})
	require.NoError(t, err)
	return repo
}

func testJob(jid string) *model.Job {
	return &model.Job{
		ID:       jid,
		Function: "test.ping",
		Args:     []any{"x"},
		Kwargs:   map[string]any{"k": "v"},
		Target:   model.TargetSpec{Expression: "web-*", Kind: model.MatcherGlob},
		IssuedAt: time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
		Timeout:  10 * time.Second,
	}
}

func TestRecordAndGetByID(t *testing.T) {
	repo := setupHistoryRepo(t)
	ctx := context.Background()

	job := testJob("20260826120000000001_aaaa0001")
	require.NoError(t, repo.Record(ctx, job, []string{"web-1", "web-2"}))

	rec, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, rec.Job.ID)
	assert.Equal(t, "test.ping", rec.Job.Function)
	assert.Equal(t, model.MatcherGlob, rec.Job.Target.Kind)
	assert.Equal(t, "web-*", rec.Job.Target.Expression)
	assert.Equal(t, []string{"web-1", "web-2"}, rec.Resolved)
	assert.Equal(t, 10*time.Second, rec.Job.Timeout)
	assert.True(t, job.IssuedAt.Equal(rec.Job.IssuedAt))
	assert.Nil(t, rec.Outcome)
	assert.True(t, rec.FinalizedAt.IsZero())
}

func TestRecordDuplicateJIDRejected(t *testing.T) {
	repo := setupHistoryRepo(t)
	ctx := context.Background()

	job := testJob("20260826120000000002_aaaa0002")
	require.NoError(t, repo.Record(ctx, job, nil))
	err := repo.Record(ctx, job, nil)
	require.ErrorIs(t, err, data.ErrDuplicateJob)
}

func TestFinalizeFirstWriteWins(t *testing.T) {
	repo := setupHistoryRepo(t)
	ctx := context.Background()

	job := testJob("20260826120000000003_aaaa0003")
	require.NoError(t, repo.Record(ctx, job, []string{"web-1"}))

	first := &model.Outcome{
		JobID:        job.ID,
		Results:      map[string]model.ResultEnvelope{"web-1": {JobID: job.ID, AgentID: "web-1"}},
		Unresponsive: []string{},
		Expected:     1,
		Final:        true,
	}
	require.NoError(t, repo.Finalize(ctx, first))

	second := &model.Outcome{JobID: job.ID, Expected: 99, Final: true}
	require.NoError(t, repo.Finalize(ctx, second), "re-finalize is a no-op, not an error")

	rec, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, rec.Outcome)
	assert.Equal(t, 1, rec.Outcome.Expected)
	assert.False(t, rec.FinalizedAt.IsZero())
}

func TestGetByIDMissing(t *testing.T) {
	repo := setupHistoryRepo(t)

	_, err := repo.GetByID(context.Background(), "20991231235959000000_ffffffff")
	require.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestListRecentNewestFirst(t *testing.T) {
	repo := setupHistoryRepo(t)
	ctx := context.Background()

	older := testJob("20260826120000000004_aaaa0004")
	newer := testJob("20260826120000000005_aaaa0005")
	newer.IssuedAt = older.IssuedAt.Add(time.Minute)
	require.NoError(t, repo.Record(ctx, older, nil))
	require.NoError(t, repo.Record(ctx, newer, nil))

	records, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, newer.ID, records[0].Job.ID)
	assert.Equal(t, older.ID, records[1].Job.ID)

	limited, err := repo.ListRecent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
