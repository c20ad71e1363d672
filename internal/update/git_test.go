package update

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestRepoPair creates a bare "remote" git repo and a working clone of
// it, both under t.TempDir(), with one initial commit on branch "main"
// holding file.txt and a minimal go.mod, so installDeps' go mod download
// has a module to work in.
func newTestRepoPair(t *testing.T) (remoteDir, workDir string) {
	t.Helper()
	ctx := context.Background()

	remoteDir = filepath.Join(t.TempDir(), "remote.git")
	runGit(t, ctx, "", "init", "--bare", "-b", "main", remoteDir)

	seedDir := t.TempDir()
	runGit(t, ctx, seedDir, "init", "-b", "main")
	runGit(t, ctx, seedDir, "config", "user.email", "test@example.com")
	runGit(t, ctx, seedDir, "config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "file.txt"), []byte("v1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "go.mod"), []byte("module example.com/fixture\n"), 0o644))
	runGit(t, ctx, seedDir, "add", ".")
	runGit(t, ctx, seedDir, "commit", "-m", "initial")
	runGit(t, ctx, seedDir, "remote", "add", "origin", remoteDir)
	runGit(t, ctx, seedDir, "push", "origin", "main")

	workDir = t.TempDir()
	runGit(t, ctx, "", "clone", remoteDir, workDir)
	runGit(t, ctx, workDir, "config", "user.email", "test@example.com")
	runGit(t, ctx, workDir, "config", "user.name", "test")

	return remoteDir, workDir
}

func runGit(t *testing.T, ctx context.Context, dir string, args ...string) {
	t.Helper()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, out)
}

func TestCommitsBehindReportsZeroWhenUpToDate(t *testing.T) {
	ctx := context.Background()
	_, workDir := newTestRepoPair(t)

	n, err := commitsBehind(ctx, workDir, "origin", "main")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestCommitsBehindReportsNewCommitsOnRemote(t *testing.T) {
	ctx := context.Background()
	remoteDir, workDir := newTestRepoPair(t)

	// Make another commit directly against a second clone and push it.
	secondClone := t.TempDir()
	runGit(t, ctx, "", "clone", remoteDir, secondClone)
	runGit(t, ctx, secondClone, "config", "user.email", "test@example.com")
	runGit(t, ctx, secondClone, "config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(secondClone, "file.txt"), []byte("v2"), 0o644))
	runGit(t, ctx, secondClone, "commit", "-am", "second")
	runGit(t, ctx, secondClone, "push", "origin", "main")

	n, err := commitsBehind(ctx, workDir, "origin", "main")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCurrentCommitMatchesHead(t *testing.T) {
	ctx := context.Background()
	_, workDir := newTestRepoPair(t)

	head, err := currentCommit(ctx, workDir)
	require.NoError(t, err)
	require.NotEmpty(t, head)
	require.Len(t, head, 40) // full sha
}

func TestResetToCommitReturnsToSnapshot(t *testing.T) {
	ctx := context.Background()
	_, workDir := newTestRepoPair(t)

	snapshot, err := currentCommit(ctx, workDir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(workDir, "file.txt"), []byte("modified"), 0o644))
	runGit(t, ctx, workDir, "commit", "-am", "local change")

	require.NoError(t, resetToCommit(ctx, workDir, snapshot))

	head, err := currentCommit(ctx, workDir)
	require.NoError(t, err)
	require.Equal(t, snapshot, head)
}
