package update

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mverteuil/birdcore/internal/kvchannel"
)

func newTestManager(t *testing.T, workDir string, migrate, restart, verify func(ctx context.Context) error) (*Manager, string) {
	t.Helper()
	dataDir := t.TempDir()
	cfg := Config{
		RepoDir:   workDir,
		GitRemote: "origin",
		GitBranch: "main",
		StatePath: filepath.Join(dataDir, "update_state.json"),
		LockPath:  filepath.Join(dataDir, "update.lock"),
	}
	return NewManager(cfg, kvchannel.New(), migrate, restart, verify), cfg.StatePath
}

func TestApplySucceedsAndAdvancesToIdle(t *testing.T) {
	ctx := context.Background()
	_, workDir := newTestRepoPair(t)

	manager, statePath := newTestManager(t, workDir, nil, nil, nil)

	require.NoError(t, manager.Apply(ctx))

	s, err := LoadState(statePath)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Empty(t, s.LastError)

	result, _, ok := manager.kv.Get(kvchannel.KeyUpdateResult)
	require.True(t, ok)
	assert.Equal(t, "success", result)
}

func TestApplyRollsBackOnMigrationFailure(t *testing.T) {
	ctx := context.Background()
	remoteDir, workDir := newTestRepoPair(t)
	snapshot, err := currentCommit(ctx, workDir)
	require.NoError(t, err)

	// Push a new commit so Apply's pull actually moves the working tree.
	secondClone := t.TempDir()
	runGit(t, ctx, "", "clone", remoteDir, secondClone)
	runGit(t, ctx, secondClone, "config", "user.email", "test@example.com")
	runGit(t, ctx, secondClone, "config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(secondClone, "file.txt"), []byte("v2"), 0o644))
	runGit(t, ctx, secondClone, "commit", "-am", "second")
	runGit(t, ctx, secondClone, "push", "origin", "main")

	migrationErr := errors.New("migration exploded")
	manager, statePath := newTestManager(t, workDir, func(ctx context.Context) error {
		return migrationErr
	}, nil, nil)

	err = manager.Apply(ctx)
	require.Error(t, err)

	head, err := currentCommit(ctx, workDir)
	require.NoError(t, err)
	assert.Equal(t, snapshot, head, "rollback should reset the working tree to the pre-update snapshot")

	s, err := LoadState(statePath)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Contains(t, s.LastError, "migration exploded")

	result, _, ok := manager.kv.Get(kvchannel.KeyUpdateResult)
	require.True(t, ok)
	assert.Contains(t, result, "rolled_back")
}

func TestRecoverFromCrashRollsBackMidUpdatePhase(t *testing.T) {
	ctx := context.Background()
	remoteDir, workDir := newTestRepoPair(t)
	snapshot, err := currentCommit(ctx, workDir)
	require.NoError(t, err)

	secondClone := t.TempDir()
	runGit(t, ctx, "", "clone", remoteDir, secondClone)
	runGit(t, ctx, secondClone, "config", "user.email", "test@example.com")
	runGit(t, ctx, secondClone, "config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(secondClone, "file.txt"), []byte("v2"), 0o644))
	runGit(t, ctx, secondClone, "commit", "-am", "second")
	runGit(t, ctx, secondClone, "push", "origin", "main")
	require.NoError(t, pullLatest(ctx, workDir, "origin", "main"))

	manager, statePath := newTestManager(t, workDir, nil, nil, nil)
	require.NoError(t, SaveState(statePath, State{
		Phase:          PhaseUpdatingCode,
		SnapshotCommit: snapshot,
	}))

	require.NoError(t, manager.RecoverFromCrash(ctx))

	head, err := currentCommit(ctx, workDir)
	require.NoError(t, err)
	assert.Equal(t, snapshot, head, "crash recovery should roll back to the recorded snapshot")

	s, err := LoadState(statePath)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.NotEmpty(t, s.LastError)
}

func TestRecoverFromCrashFlagsManualInterventionDuringServiceRestart(t *testing.T) {
	ctx := context.Background()
	_, workDir := newTestRepoPair(t)

	manager, statePath := newTestManager(t, workDir, nil, nil, nil)
	require.NoError(t, SaveState(statePath, State{
		Phase:          PhaseRestartingServices,
		SnapshotCommit: "deadbeef",
	}))

	require.NoError(t, manager.RecoverFromCrash(ctx))

	s, err := LoadState(statePath)
	require.NoError(t, err)
	assert.Equal(t, PhaseRestartingServices, s.Phase, "manual-intervention phases are left in place, not auto-resolved")
	assert.Contains(t, s.LastError, "manual intervention")

	result, _, ok := manager.kv.Get(kvchannel.KeyUpdateResult)
	require.True(t, ok)
	assert.Equal(t, "manual_intervention_required", result)
}

func TestRecoverFromCrashIsNoopWhenIdle(t *testing.T) {
	ctx := context.Background()
	_, workDir := newTestRepoPair(t)

	manager, statePath := newTestManager(t, workDir, nil, nil, nil)
	require.NoError(t, SaveState(statePath, State{Phase: PhaseIdle}))

	require.NoError(t, manager.RecoverFromCrash(ctx))

	_, _, ok := manager.kv.Get(kvchannel.KeyUpdateResult)
	assert.False(t, ok, "no recovery action should have touched the result key")
}
