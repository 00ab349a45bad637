// Package release manages the on-disk releases of one application and the
// current/previous activation pointers.
//
// Layout under the deployment base:
//
//	releases/<id>/       one materialized source tree per deployment
//	current -> releases/<id>
//	previous -> releases/<id>
//
// Pointers are symlinks replaced with rename(2), so a reader never observes
// a missing or half-written pointer.
package release

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// ReleasesDir holds one directory per release
	ReleasesDir = "releases"

	// CurrentLink points at the live release
	CurrentLink = "current"

	// PreviousLink points at the release that was live before current
	PreviousLink = "previous"

	// MetadataFile is written into every release directory
	MetadataFile = ".release.json"

	// DefaultRetain is how many releases cleanup keeps
	DefaultRetain = 3
)

// Release is one immutable, timestamped deployment artifact
type Release struct {
	ID            string    `json:"id"`
	Path          string    `json:"-"`
	SourceRef     string    `json:"source_ref"`
	Commit        string    `json:"commit,omitempty"`
	Message       string    `json:"message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	DepsInstalled bool      `json:"deps_installed"`
	// Previous is the release that was current when this one was activated
	Previous    string     `json:"previous,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// ShortRef returns an abbreviated source reference for display
func (r *Release) ShortRef() string {
	ref := r.Commit
	if ref == "" {
		ref = r.SourceRef
	}
	if len(ref) > 7 {
		return ref[:7]
	}
	return ref
}

func (r *Release) metadataPath() string {
	return filepath.Join(r.Path, MetadataFile)
}

func (r *Release) save() error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.metadataPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, r.metadataPath()); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// loadRelease reads a release directory. Directories without metadata
// still load, with the creation time derived from the ID.
func loadRelease(dir string) (*Release, error) {
	id := filepath.Base(dir)
	if _, err := parseID(id); err != nil {
		return nil, err
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	rel := &Release{ID: id, Path: dir}
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, rel); err != nil {
			return nil, fmt.Errorf("invalid %s in %s: %w", MetadataFile, id, err)
		}
		rel.ID = id
		rel.Path = dir
	case os.IsNotExist(err):
		n, _ := parseID(id)
		rel.CreatedAt = time.Unix(n, 0)
	default:
		return nil, err
	}
	return rel, nil
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid release id %q", id)
	}
	return n, nil
}
