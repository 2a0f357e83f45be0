package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcohort/internal/testutil"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s := NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, s.Open(":memory:"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_Migrates(t *testing.T) {
	s := openStore(t)

	version, err := s.MigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	require.NoError(t, s.Migrate(), "migrations are idempotent")
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s := NewSQLiteStore(nil)
	require.NoError(t, s.Open(path))
	run, err := s.CreateRun("study.yaml", false)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := NewSQLiteStore(nil)
	require.NoError(t, reopened.Open(path))
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "study.yaml", got.Study)
}

func TestRunLifecycle(t *testing.T) {
	s := openStore(t)

	run, err := s.CreateRun("asthma.yaml", true)
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
	assert.Equal(t, core.RunStatusRunning, run.Status)
	assert.Nil(t, run.CompletedAt)

	got, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run, got)

	require.NoError(t, s.CompleteRun(run.ID, core.RunStatusCompleted, 1000, 412, ""))

	got, err = s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusCompleted, got.Status)
	assert.True(t, got.Dummy)
	assert.Equal(t, int64(1000), got.Evaluated)
	assert.Equal(t, int64(412), got.Included)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.CompletedAt)
	assert.False(t, got.CompletedAt.Before(got.StartedAt))
}

func TestCompleteRun_Failed(t *testing.T) {
	s := openStore(t)

	run, err := s.CreateRun("broken.yaml", false)
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(run.ID, core.RunStatusFailed, 10, 0, "connection refused"))

	got, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusFailed, got.Status)
	assert.Equal(t, "connection refused", got.Error)
	assert.False(t, got.Dummy)
}

func TestRunNotFound(t *testing.T) {
	s := openStore(t)

	_, err := s.GetRun("missing")
	require.ErrorIs(t, err, ErrRunNotFound)

	err = s.CompleteRun("missing", core.RunStatusCompleted, 0, 0, "")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns(t *testing.T) {
	s := openStore(t)

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	var ids []string
	for _, study := range []string{"a.yaml", "b.yaml", "c.yaml"} {
		run, err := s.CreateRun(study, false)
		require.NoError(t, err)
		ids = append(ids, run.ID)
		time.Sleep(2 * time.Millisecond)
	}

	runs, err = s.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID, "newest first")
	assert.Equal(t, ids[1], runs[1].ID)

	runs, err = s.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestClosedStore(t *testing.T) {
	s := NewSQLiteStore(nil)

	_, err := s.CreateRun("x", false)
	require.Error(t, err)
	_, err = s.GetRun("x")
	require.Error(t, err)
	_, err = s.ListRuns(1)
	require.Error(t, err)
	require.Error(t, s.CompleteRun("x", core.RunStatusCompleted, 0, 0, ""))
	require.Error(t, s.Migrate())
	require.NoError(t, s.Close())
}
