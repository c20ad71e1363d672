package update

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/mverteuil/birdcore/internal/conf"
	"github.com/mverteuil/birdcore/internal/errors"
	"github.com/mverteuil/birdcore/internal/kvchannel"
	"github.com/mverteuil/birdcore/internal/logging"
)

var log = logging.ForService("update")

// Config bundles the settings Manager needs from conf.Settings.
type Config struct {
	RepoDir       string
	GitRemote     string
	GitBranch     string
	StatePath     string
	LockPath      string
	CheckInterval time.Duration
}

// ConfigFromSettings builds a Config from conf.Settings, using dataDir for
// the state/lock file locations.
func ConfigFromSettings(settings *conf.Settings, repoDir, dataDir string) Config {
	return Config{
		RepoDir:       repoDir,
		GitRemote:     settings.Updates.GitRemote,
		GitBranch:     settings.Updates.GitBranch,
		StatePath:     dataDir + "/update_state.json",
		LockPath:      dataDir + "/update.lock",
		CheckInterval: time.Duration(settings.Updates.CheckIntervalHours) * time.Hour,
	}
}

// Manager drives the update state machine:
// IDLE -> CHECKING -> READY_TO_APPLY -> SNAPSHOTTING -> UPDATING_CODE ->
// UPDATING_DEPS -> RUNNING_MIGRATIONS -> RESTARTING_SERVICES -> VERIFYING
// -> IDLE, with ROLLING_BACK reachable from any step on failure.
type Manager struct {
	cfg      Config
	lock     *FileLock
	signals  *SignalDeferrer
	kv       *kvchannel.Channel
	migrate  func(ctx context.Context) error
	restart  func(ctx context.Context) error
	verify   func(ctx context.Context) error
	exporter *Exporter
}

// NewManager builds a Manager. migrate/restart/verify are injected so the
// web/service-restart specifics (systemctl, application-level schema
// migrations) stay outside this package; nil means "no-op, always
// succeeds".
func NewManager(cfg Config, kv *kvchannel.Channel, migrate, restart, verify func(ctx context.Context) error) *Manager {
	noop := func(ctx context.Context) error { return nil }
	if migrate == nil {
		migrate = noop
	}
	if restart == nil {
		restart = noop
	}
	if verify == nil {
		verify = noop
	}
	return &Manager{
		cfg:     cfg,
		lock:    NewFileLock(cfg.LockPath),
		signals: NewSignalDeferrer(),
		kv:      kv,
		migrate: migrate,
		restart: restart,
		verify:  verify,
	}
}

// Signals exposes the manager's deferrer so the daemon's signal.Notify
// loop can route through it.
func (m *Manager) Signals() *SignalDeferrer { return m.signals }

// WithExporter attaches an off-box snapshot exporter, run best-effort
// during the snapshotting phase. A nil exporter (the default) skips the
// off-box copy entirely.
func (m *Manager) WithExporter(exporter *Exporter) *Manager {
	m.exporter = exporter
	return m
}

// Check fetches the remote and reports how many commits the local
// checkout trails it by, persisting the result to State.
func (m *Manager) Check(ctx context.Context) (int, error) {
	m.advance(PhaseChecking, "")
	n, err := commitsBehind(ctx, m.cfg.RepoDir, m.cfg.GitRemote, m.cfg.GitBranch)

	s, _ := LoadState(m.cfg.StatePath)
	s.LastChecked = time.Now()
	s.UpdatedAt = time.Now()
	if err != nil {
		s.Phase = PhaseIdle
		s.LastError = err.Error()
	} else {
		s.CommitsBehind = n
		s.LastError = ""
		if n > 0 {
			s.Phase = PhaseReadyToApply
		} else {
			s.Phase = PhaseIdle
		}
	}
	_ = SaveState(m.cfg.StatePath, s)

	if m.kv != nil {
		m.kv.Set(kvchannel.KeyUpdateStatus, string(s.Phase))
	}
	return n, err
}

// Apply runs the full update pipeline, rolling back automatically if any
// phase fails. It refuses to run if another apply already holds the
// filesystem lock.
func (m *Manager) Apply(ctx context.Context) error {
	if err := m.lock.Acquire(); err != nil {
		return err
	}
	defer m.lock.Release()

	snapshot, err := currentCommit(ctx, m.cfg.RepoDir)
	if err != nil {
		return m.fail(PhaseSnapshotting, err)
	}
	m.advance(PhaseSnapshotting, snapshot)

	if m.exporter != nil {
		if err := m.exporter.Export(ctx, snapshot); err != nil {
			log.Error("off-box snapshot export failed, continuing with on-box rollback only", "error", err)
		}
	}

	m.signals.BeginCriticalSection()
	defer m.signals.EndCriticalSection()

	m.advance(PhaseUpdatingCode, snapshot)
	if err := pullLatest(ctx, m.cfg.RepoDir, m.cfg.GitRemote, m.cfg.GitBranch); err != nil {
		return m.rollback(ctx, snapshot, PhaseUpdatingCode, err)
	}

	m.advance(PhaseUpdatingDeps, snapshot)
	if err := installDeps(ctx, m.cfg.RepoDir); err != nil {
		return m.rollback(ctx, snapshot, PhaseUpdatingDeps, err)
	}

	m.advance(PhaseRunningMigrations, snapshot)
	if err := m.migrate(ctx); err != nil {
		return m.rollback(ctx, snapshot, PhaseRunningMigrations, err)
	}

	m.advance(PhaseRestartingServices, snapshot)
	if err := m.restart(ctx); err != nil {
		return m.rollback(ctx, snapshot, PhaseRestartingServices, err)
	}

	m.advance(PhaseVerifying, snapshot)
	if err := m.verify(ctx); err != nil {
		return m.rollback(ctx, snapshot, PhaseVerifying, err)
	}

	m.advance(PhaseIdle, "")
	if m.kv != nil {
		m.kv.Set(kvchannel.KeyUpdateResult, "success")
	}
	return nil
}

// RecoverFromCrash reads the persisted state left behind by a previous
// process and brings the checkout back to a safe state before the daemon
// serves its first request. A phase caught mid pull/dep-install/migration
// still has its pre-update snapshot commit on hand, so it is rolled back
// automatically; a phase caught mid service-restart may have already
// restarted some but not all services, so it is left alone and flagged for
// an operator rather than rolled back unattended.
func (m *Manager) RecoverFromCrash(ctx context.Context) error {
	s, err := LoadState(m.cfg.StatePath)
	if err != nil {
		return err
	}

	switch s.Phase {
	case PhaseSnapshotting, PhaseUpdatingCode, PhaseUpdatingDeps, PhaseRunningMigrations:
		if err := m.lock.Acquire(); err != nil {
			return err
		}
		defer m.lock.Release()

		cause := errors.New(fmt.Errorf("daemon restarted mid-update in phase %s", s.Phase)).
			Component("update").Category(errors.CategoryUpdate).Build()
		log.Error("recovering from crash, rolling back to pre-update snapshot", "phase", s.Phase, "snapshot", s.SnapshotCommit)
		return m.rollback(ctx, s.SnapshotCommit, s.Phase, cause)

	case PhaseRestartingServices, PhaseVerifying:
		log.Error("update crashed past the point of safe automatic rollback; manual intervention required",
			"phase", s.Phase, "snapshot", s.SnapshotCommit)
		s.LastError = "daemon restarted during " + string(s.Phase) + "; manual intervention required"
		s.UpdatedAt = time.Now()
		_ = SaveState(m.cfg.StatePath, s)
		if m.kv != nil {
			m.kv.Set(kvchannel.KeyUpdateStatus, string(s.Phase))
			m.kv.Set(kvchannel.KeyUpdateResult, "manual_intervention_required")
		}
		return nil

	default:
		return nil
	}
}

func (m *Manager) advance(phase Phase, snapshot string) {
	s, _ := LoadState(m.cfg.StatePath)
	s.Phase = phase
	s.UpdatedAt = time.Now()
	if snapshot != "" {
		s.SnapshotCommit = snapshot
	}
	_ = SaveState(m.cfg.StatePath, s)
	if m.kv != nil {
		m.kv.Set(kvchannel.KeyUpdateStatus, string(phase))
	}
	log.Info("update phase advanced", "phase", phase)
}

func (m *Manager) fail(phase Phase, err error) error {
	s, _ := LoadState(m.cfg.StatePath)
	s.Phase = PhaseIdle
	s.LastError = err.Error()
	s.UpdatedAt = time.Now()
	_ = SaveState(m.cfg.StatePath, s)
	if m.kv != nil {
		m.kv.Set(kvchannel.KeyUpdateResult, "error: "+err.Error())
	}
	log.Error("update failed before snapshot", "phase", phase, "error", err)
	return err
}

func (m *Manager) rollback(ctx context.Context, snapshot string, failedPhase Phase, cause error) error {
	log.Error("update phase failed, rolling back", "phase", failedPhase, "error", cause)
	m.advance(PhaseRollingBack, snapshot)

	if err := resetToCommit(ctx, m.cfg.RepoDir, snapshot); err != nil {
		log.Error("rollback itself failed", "error", err)
	}

	s, _ := LoadState(m.cfg.StatePath)
	s.Phase = PhaseIdle
	s.LastError = cause.Error()
	s.UpdatedAt = time.Now()
	_ = SaveState(m.cfg.StatePath, s)
	if m.kv != nil {
		m.kv.Set(kvchannel.KeyUpdateResult, "rolled_back: "+cause.Error())
	}

	return errors.New(cause).Component("update").Category(errors.CategoryUpdate).
		Context("failed_phase", string(failedPhase)).Build()
}

// installDeps reinstalls module dependencies after pulling new code. Go
// modules are fetched on next build rather than via a package manager
// step, but go mod download primes the cache so the subsequent service
// restart doesn't stall on a cold module fetch.
func installDeps(ctx context.Context, repoDir string) error {
	cmd := exec.CommandContext(ctx, "go", "mod", "download")
	cmd.Dir = repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.New(err).Component("update").Category(errors.CategoryUpdate).
			Context("output", string(out)).Build()
	}
	return nil
}
