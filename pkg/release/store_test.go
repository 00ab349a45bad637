package release

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPlan() *config.DeploymentPlan {
	return &config.DeploymentPlan{
		Name:     "svc",
		Type:     config.TypePython,
		Env:      "production",
		Timeouts: config.DefaultTimeouts,
	}
}

// newTestStore returns a store whose clock is frozen, so every release ID
// comes from the monotonic bump
func newTestStore(t *testing.T) (*Store, *FakeFetcher) {
	t.Helper()
	fetcher := NewFakeFetcher()
	for _, ref := range []string{"r1", "r2", "r3", "r4", "r5", "r6"} {
		fetcher.Add(ref, map[string]string{"main.py": "print('" + ref + "')\n"})
	}
	s := NewStore(t.TempDir(), "/var/repos/svc.git", fetcher)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s, fetcher
}

func create(t *testing.T, s *Store, ref string) *Release {
	t.Helper()
	rel, err := s.Create(context.Background(), testPlan(), ref, nil)
	require.NoError(t, err)
	return rel
}

func currentID(t *testing.T, s *Store) string {
	t.Helper()
	id, err := s.readLink(CurrentLink)
	require.NoError(t, err)
	return id
}

func previousID(t *testing.T, s *Store) string {
	t.Helper()
	id, err := s.readLink(PreviousLink)
	require.NoError(t, err)
	return id
}

func TestCreate(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Base(), ".env.production"), []byte("SECRET=1\n"), 0600))

	var installed string
	rel, err := s.Create(context.Background(), testPlan(), "r1", func(ctx context.Context, r *Release) error {
		installed = r.ID
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "1700000000", rel.ID)
	assert.Equal(t, rel.ID, installed)
	assert.True(t, rel.DepsInstalled)
	assert.FileExists(t, filepath.Join(rel.Path, "main.py"))
	assert.FileExists(t, filepath.Join(rel.Path, ".env"))

	loaded, err := s.Get(rel.ID)
	require.NoError(t, err)
	assert.Equal(t, "r1", loaded.SourceRef)
	assert.True(t, loaded.DepsInstalled)

	second := create(t, s, "r2")
	assert.Equal(t, "1700000001", second.ID, "IDs stay strictly monotonic")
}

func TestCreate_FetchFailure(t *testing.T) {
	s, _ := newTestStore(t)

	rel, err := s.Create(context.Background(), testPlan(), "unknown", nil)
	require.Error(t, err)
	assert.Nil(t, rel)
	assert.ErrorIs(t, err, deployerr.ErrSourceFetch)

	releases, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, releases, "no release directory is left behind")
}

func TestCreate_InstallFailure(t *testing.T) {
	s, _ := newTestStore(t)

	rel, err := s.Create(context.Background(), testPlan(), "r1", func(ctx context.Context, r *Release) error {
		return errors.New("pip exploded")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, deployerr.ErrDependency)
	require.NotNil(t, rel)
	assert.False(t, rel.DepsInstalled)
	assert.DirExists(t, rel.Path, "failed release is kept for diagnostics")
	assert.Equal(t, "", currentID(t, s))
}

func TestActivate(t *testing.T) {
	s, _ := newTestStore(t)
	r1 := create(t, s, "r1")
	r2 := create(t, s, "r2")

	require.NoError(t, s.Activate(r1))
	assert.Equal(t, r1.ID, currentID(t, s))
	assert.Equal(t, "", previousID(t, s))

	require.NoError(t, s.Activate(r2))
	assert.Equal(t, r2.ID, currentID(t, s))
	assert.Equal(t, r1.ID, previousID(t, s))

	// Re-activating the live release leaves previous alone
	require.NoError(t, s.Activate(r2))
	assert.Equal(t, r1.ID, previousID(t, s))

	cur, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, r2.ID, cur.ID)
	assert.Equal(t, r1.ID, cur.Previous)
	assert.NotNil(t, cur.ActivatedAt)

	target, err := os.Readlink(filepath.Join(s.Base(), CurrentLink))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ReleasesDir, r2.ID), target, "pointers are relative")

	matches, err := filepath.Glob(filepath.Join(s.Base(), ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRollback_NoPrevious(t *testing.T) {
	s, _ := newTestStore(t)
	r1 := create(t, s, "r1")
	require.NoError(t, s.Activate(r1))

	_, err := s.Rollback()
	require.Error(t, err)
	assert.ErrorIs(t, err, deployerr.ErrRollback)
	assert.ErrorIs(t, err, ErrNoPrevious)
	assert.Equal(t, r1.ID, currentID(t, s), "current is left untouched")
}

func TestRollback_RestoresBothPointers(t *testing.T) {
	s, _ := newTestStore(t)
	r1 := create(t, s, "r1")
	r2 := create(t, s, "r2")
	r3 := create(t, s, "r3")

	require.NoError(t, s.Activate(r1))
	require.NoError(t, s.Activate(r2))
	beforeCurrent, beforePrevious := currentID(t, s), previousID(t, s)

	require.NoError(t, s.Activate(r3))
	restored, err := s.Rollback()
	require.NoError(t, err)

	assert.Equal(t, r2.ID, restored.ID)
	assert.Equal(t, beforeCurrent, currentID(t, s))
	assert.Equal(t, beforePrevious, previousID(t, s))

	// A second rollback keeps walking back
	restored, err = s.Rollback()
	require.NoError(t, err)
	assert.Equal(t, r1.ID, restored.ID)
	assert.Equal(t, "", previousID(t, s))
}

func TestDeactivate(t *testing.T) {
	s, _ := newTestStore(t)
	r1 := create(t, s, "r1")
	require.NoError(t, s.Activate(r1))

	require.NoError(t, s.Deactivate("other"))
	assert.Equal(t, r1.ID, currentID(t, s))

	require.NoError(t, s.Deactivate(r1.ID))
	assert.Equal(t, "", currentID(t, s))
}

func TestCleanup_RetentionLaw(t *testing.T) {
	s, _ := newTestStore(t)

	var ids []string
	for _, ref := range []string{"r1", "r2", "r3", "r4", "r5"} {
		rel := create(t, s, ref)
		require.NoError(t, s.Activate(rel))
		ids = append(ids, rel.ID)
	}

	removed, err := s.Cleanup(3)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids[:2], removed)

	releases, err := s.List()
	require.NoError(t, err)
	require.Len(t, releases, 3)
	assert.Equal(t, ids[2], releases[0].ID)
	assert.Equal(t, ids[4], releases[2].ID)
}

func TestCleanup_KeepsPointersOutsideWindow(t *testing.T) {
	s, _ := newTestStore(t)

	var rels []*Release
	for _, ref := range []string{"r1", "r2", "r3", "r4", "r5", "r6"} {
		rels = append(rels, create(t, s, ref))
	}
	// current and previous are the two oldest releases
	require.NoError(t, s.Activate(rels[0]))
	require.NoError(t, s.Activate(rels[1]))

	_, err := s.Cleanup(3)
	require.NoError(t, err)

	releases, err := s.List()
	require.NoError(t, err)
	var kept []string
	for _, r := range releases {
		kept = append(kept, r.ID)
	}
	assert.Equal(t, []string{rels[0].ID, rels[1].ID, rels[3].ID, rels[4].ID, rels[5].ID}, kept)
}

func TestCleanup_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	for _, ref := range []string{"r1", "r2", "r3", "r4", "r5"} {
		rel := create(t, s, ref)
		require.NoError(t, s.Activate(rel))
	}

	_, err := s.Cleanup(3)
	require.NoError(t, err)
	first, err := s.List()
	require.NoError(t, err)

	removed, err := s.Cleanup(3)
	require.NoError(t, err)
	assert.Empty(t, removed)
	second, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestCleanup_Pinned(t *testing.T) {
	s, _ := newTestStore(t)
	var ids []string
	for _, ref := range []string{"r1", "r2", "r3", "r4", "r5"} {
		ids = append(ids, create(t, s, ref).ID)
	}

	removed, err := s.Cleanup(3, ids[0])
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1]}, removed)
}
