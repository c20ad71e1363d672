package update

import (
	"encoding/json"
	"os"
	"time"

	"github.com/mverteuil/birdcore/internal/errors"
)

// State is the on-disk record of the update daemon's last known status,
// persisted as update_state.json so a restarted daemon (or the web API)
// can report the outcome of an apply that ran before it started.
type State struct {
	Phase          Phase     `json:"phase"`
	LastChecked    time.Time `json:"last_checked"`
	CommitsBehind  int       `json:"commits_behind"`
	SnapshotCommit string    `json:"snapshot_commit,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LoadState reads State from path, returning the zero value (idle, never
// checked) if the file doesn't exist yet.
func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return State{Phase: PhaseIdle}, nil
	}
	if err != nil {
		return State{}, errors.New(err).Component("update").Category(errors.CategoryUpdate).Build()
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, errors.New(err).Component("update").Category(errors.CategoryUpdate).Build()
	}
	return s, nil
}

// SaveState writes s to path as indented JSON.
func SaveState(path string, s State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
