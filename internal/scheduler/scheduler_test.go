package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/streamforge/internal/storage"
)

func newTestSandbox(t *testing.T) *storage.Sandbox {
	t.Helper()
	sb, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)
	return sb
}

func touchWithAge(t *testing.T, sb *storage.Sandbox, rel string, age time.Duration) {
	t.Helper()
	require.NoError(t, sb.WriteFile(rel, []byte("segment")))
	path, err := sb.ResolvePath(rel)
	require.NoError(t, err)
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestScheduler_SweepRemovesStaleSegments(t *testing.T) {
	sb := newTestSandbox(t)
	touchWithAge(t, sb, "v_0_1280x720/v_0_1280x720-1.m4s", 10*time.Minute)
	touchWithAge(t, sb, "v_0_1280x720/v_0_1280x720-2.m4s", 1*time.Minute)
	touchWithAge(t, sb, "v_0_1280x720/v_0_1280x720-init.mp4", 10*time.Minute)

	s := New(sb, nil)
	removed, err := s.sweep(Config{RetentionAge: 5 * time.Minute, Extensions: []string{".m4s"}})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	exists, err := sb.Exists("v_0_1280x720/v_0_1280x720-1.m4s")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = sb.Exists("v_0_1280x720/v_0_1280x720-2.m4s")
	require.NoError(t, err)
	assert.True(t, exists)

	// Non-matching extension untouched even though it's old enough.
	exists, err = sb.Exists("v_0_1280x720/v_0_1280x720-init.mp4")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestScheduler_SweepZeroRetentionIsNoop(t *testing.T) {
	sb := newTestSandbox(t)
	touchWithAge(t, sb, "a.m4s", time.Hour)

	s := New(sb, nil)
	removed, err := s.sweep(Config{RetentionAge: 0})
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestScheduler_AddSweepRejectsBadCron(t *testing.T) {
	s := New(newTestSandbox(t), nil)
	err := s.AddSweep("bad", Config{CronExpr: "not a cron expression", RetentionAge: time.Minute})
	assert.Error(t, err)
}

func TestScheduler_AddSweepRejectsEmptyCron(t *testing.T) {
	s := New(newTestSandbox(t), nil)
	err := s.AddSweep("empty", Config{RetentionAge: time.Minute})
	assert.Error(t, err)
}

func TestScheduler_RunNowInvokesSweepImmediately(t *testing.T) {
	sb := newTestSandbox(t)
	touchWithAge(t, sb, "stale.m4s", time.Hour)

	s := New(sb, nil)
	cfg := Config{RetentionAge: time.Minute, Extensions: []string{".m4s"}}
	removed, err := s.RunNow("manual", cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestScheduler_EntryCountTracksRegisteredSweeps(t *testing.T) {
	s := New(newTestSandbox(t), nil)
	assert.Equal(t, 0, s.EntryCount())

	require.NoError(t, s.AddSweep("gc", Config{CronExpr: "0 */5 * * * *", RetentionAge: time.Minute}))
	assert.Equal(t, 1, s.EntryCount())

	// Re-adding under the same name replaces, not duplicates.
	require.NoError(t, s.AddSweep("gc", Config{CronExpr: "0 0 * * * *", RetentionAge: time.Minute}))
	assert.Equal(t, 1, s.EntryCount())
}

func TestScheduler_MatchesExtension(t *testing.T) {
	assert.True(t, matchesExtension("x/y.m4s", nil))
	assert.True(t, matchesExtension("x/y.m4s", []string{".m4s"}))
	assert.False(t, matchesExtension("x/y.mpd", []string{".m4s"}))
	assert.True(t, matchesExtension(filepath.Join("x", "y.ts"), []string{".ts", ".m4s"}))
}
