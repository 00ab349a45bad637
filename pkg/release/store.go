package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/redentordev/paradigm/pkg/git"
)

// Step names reported on store errors
const (
	StepClone    = "clone"
	StepInstall  = "install"
	StepActivate = "activate"
	StepRollback = "rollback"
	StepCleanup  = "cleanup"
)

// ErrNoPrevious is the cause of the RollbackError returned when there is
// nothing to roll back to
var ErrNoPrevious = errors.New("no previous release to roll back to")

// InstallFunc installs dependencies into a freshly materialized release.
// The caller picks the implementation from plan.Type.
type InstallFunc func(ctx context.Context, rel *Release) error

// Store manages releases under one deployment base. All mutating
// operations are serialized by a single mutex.
type Store struct {
	base    string
	repo    string
	fetcher git.Fetcher

	mu  sync.Mutex
	now func() time.Time
}

// NewStore creates a store rooted at base that materializes sources from
// repo with fetcher
func NewStore(base, repo string, fetcher git.Fetcher) *Store {
	return &Store{
		base:    base,
		repo:    repo,
		fetcher: fetcher,
		now:     time.Now,
	}
}

// Base returns the deployment base directory
func (s *Store) Base() string {
	return s.base
}

// ReleasesPath returns the directory holding all releases
func (s *Store) ReleasesPath() string {
	return filepath.Join(s.base, ReleasesDir)
}

// Path returns the directory of release id
func (s *Store) Path(id string) string {
	return filepath.Join(s.ReleasesPath(), id)
}

// Create allocates a new release, materializes sourceRef into it, copies the
// host env file in and runs install. A fetch failure removes the directory
// and returns no release. An install failure returns the release alongside
// a DependencyInstallError; it stays on disk for diagnostics and must not be
// activated.
func (s *Store) Create(ctx context.Context, plan *config.DeploymentPlan, sourceRef string, install InstallFunc) (*Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.ReleasesPath(), 0755); err != nil {
		return nil, deployerr.Newf(deployerr.KindStore, StepClone, "failed to create releases directory: %v", err)
	}

	id, dir, err := s.allocate()
	if err != nil {
		return nil, deployerr.New(deployerr.KindStore, StepClone, err)
	}

	timeout := plan.Timeouts.Clone
	if timeout <= 0 {
		timeout = config.DefaultTimeouts.Clone
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	commit, err := s.fetcher.Materialize(fetchCtx, s.repo, sourceRef, dir)
	cancel()
	if err != nil {
		os.RemoveAll(dir)
		return nil, deployerr.Newf(deployerr.KindSourceFetch, StepClone, "failed to materialize %s: %v", sourceRef, err)
	}

	rel := &Release{
		ID:        id,
		Path:      dir,
		SourceRef: sourceRef,
		CreatedAt: s.now(),
	}
	if commit != nil {
		rel.Commit = commit.Hash
		rel.Message = commit.Message
	}

	if err := copyEnvFile(config.EnvFilePath(s.base, plan.Env), filepath.Join(dir, ".env")); err != nil {
		return rel, deployerr.New(deployerr.KindDependency, StepInstall, err)
	}

	if err := rel.save(); err != nil {
		return rel, deployerr.Newf(deployerr.KindStore, StepClone, "failed to write release metadata: %v", err)
	}

	if install != nil {
		if err := install(ctx, rel); err != nil {
			var de *deployerr.Error
			if errors.As(err, &de) {
				return rel, err
			}
			return rel, deployerr.New(deployerr.KindDependency, StepInstall, err)
		}
	}

	rel.DepsInstalled = true
	if err := rel.save(); err != nil {
		return rel, deployerr.Newf(deployerr.KindStore, StepInstall, "failed to write release metadata: %v", err)
	}
	return rel, nil
}

// allocate picks a timestamp ID greater than every existing release and
// creates its directory
func (s *Store) allocate() (string, string, error) {
	next := s.now().Unix()

	entries, err := os.ReadDir(s.ReleasesPath())
	if err != nil {
		return "", "", err
	}
	for _, e := range entries {
		if n, err := parseID(e.Name()); err == nil && n >= next {
			next = n + 1
		}
	}

	for {
		id := strconv.FormatInt(next, 10)
		dir := s.Path(id)
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return id, dir, nil
		}
		if !os.IsExist(err) {
			return "", "", fmt.Errorf("failed to create release directory: %w", err)
		}
		next++
	}
}

// Activate points current at rel. The release current pointed at before
// moves to previous. Re-activating the current release is a no-op.
func (s *Store) Activate(rel *Release) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rel == nil {
		return deployerr.Newf(deployerr.KindStore, StepActivate, "no release to activate")
	}
	if _, err := os.Stat(s.Path(rel.ID)); err != nil {
		return deployerr.Newf(deployerr.KindStore, StepActivate, "release %s not found: %v", rel.ID, err)
	}

	currentID, err := s.readLink(CurrentLink)
	if err != nil {
		return deployerr.New(deployerr.KindStore, StepActivate, err)
	}
	if currentID == rel.ID {
		return nil
	}

	if currentID != "" {
		if err := s.swapLink(PreviousLink, currentID); err != nil {
			return deployerr.Newf(deployerr.KindStore, StepActivate, "failed to update previous: %v", err)
		}
	}

	now := s.now()
	rel.Previous = currentID
	rel.ActivatedAt = &now
	if err := rel.save(); err != nil {
		return deployerr.Newf(deployerr.KindStore, StepActivate, "failed to write release metadata: %v", err)
	}

	if err := s.swapLink(CurrentLink, rel.ID); err != nil {
		return deployerr.Newf(deployerr.KindStore, StepActivate, "failed to update current: %v", err)
	}
	return nil
}

// Rollback points current back at previous and returns the restored
// release. previous then moves one step further back, to whatever was live
// before the restored release. With no previous release, current is left
// untouched and a RollbackError is returned.
func (s *Store) Rollback() (*Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previousID, err := s.readLink(PreviousLink)
	if err != nil {
		return nil, deployerr.New(deployerr.KindRollback, StepRollback, err)
	}
	if previousID == "" {
		return nil, deployerr.New(deployerr.KindRollback, StepRollback, ErrNoPrevious)
	}

	target, err := loadRelease(s.Path(previousID))
	if err != nil {
		return nil, deployerr.Newf(deployerr.KindRollback, StepRollback, "previous release %s is unusable: %v", previousID, err)
	}

	if err := s.swapLink(CurrentLink, target.ID); err != nil {
		return nil, deployerr.Newf(deployerr.KindRollback, StepRollback, "failed to update current: %v", err)
	}

	// Restore previous to what it was when target went live
	older := target.Previous
	if older != "" {
		if _, err := os.Stat(s.Path(older)); err != nil {
			older = ""
		}
	}
	if older == "" {
		err = s.removeLink(PreviousLink)
	} else {
		err = s.swapLink(PreviousLink, older)
	}
	if err != nil {
		return target, deployerr.Newf(deployerr.KindStore, StepRollback, "current restored but previous could not be updated: %v", err)
	}

	return target, nil
}

// Deactivate removes current when it points at id. It is used when the very
// first release of an application fails validation and there is nothing to
// roll back to.
func (s *Store) Deactivate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	currentID, err := s.readLink(CurrentLink)
	if err != nil {
		return deployerr.New(deployerr.KindStore, StepRollback, err)
	}
	if currentID != id {
		return nil
	}
	if err := s.removeLink(CurrentLink); err != nil {
		return deployerr.New(deployerr.KindStore, StepRollback, err)
	}
	return nil
}

// Cleanup deletes all but the retain most recent releases. Releases that
// current or previous point at, and any pinned IDs, are always kept.
// Returns the IDs removed.
func (s *Store) Cleanup(retain int, pinned ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if retain < 1 {
		retain = DefaultRetain
	}

	releases, err := s.list()
	if err != nil {
		return nil, deployerr.New(deployerr.KindStore, StepCleanup, err)
	}

	keep := make(map[string]bool)
	for _, id := range pinned {
		keep[id] = true
	}
	for _, link := range []string{CurrentLink, PreviousLink} {
		id, err := s.readLink(link)
		if err != nil {
			return nil, deployerr.New(deployerr.KindStore, StepCleanup, err)
		}
		if id != "" {
			keep[id] = true
		}
	}

	// Newest first
	for i := len(releases) - 1; i >= 0 && len(releases)-i <= retain; i-- {
		keep[releases[i].ID] = true
	}

	var removed []string
	errs := &deployerr.MultiError{}
	for _, rel := range releases {
		if keep[rel.ID] {
			continue
		}
		if err := os.RemoveAll(rel.Path); err != nil {
			errs.Add(fmt.Errorf("failed to remove release %s: %w", rel.ID, err))
			continue
		}
		removed = append(removed, rel.ID)
	}

	if errs.HasErrors() {
		return removed, deployerr.New(deployerr.KindStore, StepCleanup, errs)
	}
	return removed, nil
}

// List returns every release, oldest first
func (s *Store) List() ([]*Release, error) {
	return s.list()
}

func (s *Store) list() ([]*Release, error) {
	entries, err := os.ReadDir(s.ReleasesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var releases []*Release
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rel, err := loadRelease(s.Path(e.Name()))
		if err != nil {
			continue
		}
		releases = append(releases, rel)
	}

	sort.Slice(releases, func(i, j int) bool {
		a, _ := parseID(releases[i].ID)
		b, _ := parseID(releases[j].ID)
		return a < b
	})
	return releases, nil
}

// Get returns release id
func (s *Store) Get(id string) (*Release, error) {
	rel, err := loadRelease(s.Path(id))
	if err != nil {
		return nil, fmt.Errorf("release %s: %w", id, err)
	}
	return rel, nil
}

// Current returns the live release, or nil when nothing is activated
func (s *Store) Current() (*Release, error) {
	return s.pointer(CurrentLink)
}

// Previous returns the release previous points at, or nil
func (s *Store) Previous() (*Release, error) {
	return s.pointer(PreviousLink)
}

func (s *Store) pointer(name string) (*Release, error) {
	id, err := s.readLink(name)
	if err != nil || id == "" {
		return nil, err
	}
	return s.Get(id)
}

// readLink returns the release ID a pointer names, or "" when unset
func (s *Store) readLink(name string) (string, error) {
	target, err := os.Readlink(filepath.Join(s.base, name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return filepath.Base(target), nil
}

// swapLink atomically replaces pointer name with a symlink to release id
func (s *Store) swapLink(name, id string) error {
	target := filepath.Join(ReleasesDir, id)
	tmp := filepath.Join(s.base, fmt.Sprintf(".%s.%d.tmp", name, time.Now().UnixNano()))

	if err := os.Symlink(target, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(s.base, name)); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) removeLink(name string) error {
	err := os.Remove(filepath.Join(s.base, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func copyEnvFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read env file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to copy env file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy env file: %w", err)
	}
	return out.Close()
}
