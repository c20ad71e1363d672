// Package update implements the update daemon's state machine: checking
// the remote for new commits, snapshotting before touching anything,
// pulling code via git, reinstalling dependencies, running migrations,
// restarting services, verifying, and rolling back to the pre-update
// snapshot if any step fails.
package update

// Phase names one step of the update state machine.
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseChecking             Phase = "checking"
	PhaseReadyToApply         Phase = "ready_to_apply"
	PhaseSnapshotting         Phase = "snapshotting"
	PhaseUpdatingCode         Phase = "updating_code"
	PhaseUpdatingDeps         Phase = "updating_deps"
	PhaseRunningMigrations    Phase = "running_migrations"
	PhaseRestartingServices   Phase = "restarting_services"
	PhaseVerifying            Phase = "verifying"
	PhaseRollingBack          Phase = "rolling_back"
)

// terminal phases a fresh Manager (or one that just finished) sits in.
func (p Phase) terminal() bool {
	return p == PhaseIdle
}
