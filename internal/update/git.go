package update

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/mverteuil/birdcore/internal/errors"
)

var (
	reBehind    = regexp.MustCompile(`behind '[^']+' by (\d+) commit`)
	reDiverged  = regexp.MustCompile(`(\d+) and (\d+) different commits each`)
)

// git runs one git subcommand against repoDir and returns combined stdout.
func git(ctx context.Context, repoDir string, args ...string) (string, error) {
	cmdArgs := append([]string{"-C", repoDir}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.New(err).Component("update").Category(errors.CategoryUpdate).
			Context("git_args", fmt.Sprint(args)).Context("output", string(out)).Build()
	}
	return string(out), nil
}

// commitsBehind fetches the configured remote/branch and parses `git
// status` for how many commits the local checkout trails it by, following
// original_source's UpdateManager.get_commits_behind regex approach.
func commitsBehind(ctx context.Context, repoDir, remote, branch string) (int, error) {
	if _, err := git(ctx, repoDir, "fetch", remote, branch); err != nil {
		return 0, err
	}

	status, err := git(ctx, repoDir, "status")
	if err != nil {
		return 0, err
	}

	if m := reBehind.FindStringSubmatch(status); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n, nil
	}
	if m := reDiverged.FindStringSubmatch(status); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		return a + b, nil
	}
	return 0, nil
}

// currentCommit returns the repository's current HEAD hash.
func currentCommit(ctx context.Context, repoDir string) (string, error) {
	out, err := git(ctx, repoDir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return trimNewline(out), nil
}

// pullLatest resets any local changes, fetches remote/branch, and switches
// the working tree onto a tracking branch for it, following
// original_source's UpdateManager.update_birdnet sequence.
func pullLatest(ctx context.Context, repoDir, remote, branch string) error {
	if _, err := git(ctx, repoDir, "reset", "--hard"); err != nil {
		return err
	}
	if _, err := git(ctx, repoDir, "fetch", remote, branch); err != nil {
		return err
	}
	if _, err := git(ctx, repoDir, "switch", "-C", branch, "--track", remote+"/"+branch); err != nil {
		return err
	}
	return nil
}

// resetToCommit hard-resets repoDir to commit, used for rollback.
func resetToCommit(ctx context.Context, repoDir, commit string) error {
	_, err := git(ctx, repoDir, "reset", "--hard", commit)
	return err
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
