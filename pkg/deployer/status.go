package deployer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/history"
	"github.com/redentordev/paradigm/pkg/release"
	"github.com/redentordev/paradigm/pkg/state"
)

// Status is a snapshot of a deployment base
type Status struct {
	Base     string
	Current  *release.Release
	Previous *release.Release
	Releases []*release.Release
	// Lock is set while a deployment or rollback is running
	Lock *state.LockInfo
	// Slots is set once a blue/green deployment has run
	Slots *state.Slots
	// Last is the most recent recorded attempt
	Last *history.Record
}

// Inspect reads the state of base without modifying it
func Inspect(ctx context.Context, base string) (*Status, error) {
	store := release.NewStore(base, "", nil)
	st := &Status{Base: base}

	var err error
	if st.Current, err = store.Current(); err != nil {
		return nil, err
	}
	if st.Previous, err = store.Previous(); err != nil {
		return nil, err
	}
	if st.Releases, err = store.List(); err != nil {
		return nil, err
	}

	lock := state.NewDeployLock(base)
	if lock.IsLocked() {
		st.Lock, _ = lock.GetLockInfo()
	}

	slotStore := state.NewSlotStore(base)
	if fileExists(slotStore.Path()) {
		host, err := config.LoadHostConfig(filepath.Join(base, config.HostConfigFileName))
		if err != nil {
			return nil, err
		}
		if st.Slots, err = slotStore.Load(host.BluePort, host.GreenPort); err != nil {
			return nil, err
		}
	}

	if fileExists(history.Path(base)) {
		db, err := history.Open(history.Path(base))
		if err != nil {
			return nil, err
		}
		defer db.Close()
		records, err := (&history.Repo{DB: db}).List(ctx, "", 1)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			st.Last = &records[0]
		}
	}
	return st, nil
}

// Cleanup applies the host config's retention to base, never removing the
// activation pointers or a release assigned to a blue/green slot
func Cleanup(base string) ([]string, error) {
	host, err := config.LoadHostConfig(filepath.Join(base, config.HostConfigFileName))
	if err != nil {
		return nil, err
	}

	var pinned []string
	slotStore := state.NewSlotStore(base)
	if fileExists(slotStore.Path()) {
		slots, err := slotStore.Load(host.BluePort, host.GreenPort)
		if err != nil {
			return nil, err
		}
		pinned = slots.Releases()
	}

	lock := state.NewDeployLock(base)
	if _, err := lock.Acquire("", "cleanup", ""); err != nil {
		return nil, err
	}
	defer lock.Release()

	return release.NewStore(base, "", nil).Cleanup(host.Retain, pinned...)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
