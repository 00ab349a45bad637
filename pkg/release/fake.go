package release

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redentordev/paradigm/pkg/git"
)

// FakeFetcher materializes fixed file sets without a repository. Refs not
// registered with Add fail to fetch.
type FakeFetcher struct {
	mu    sync.Mutex
	trees map[string]map[string]string
	Calls int
}

// NewFakeFetcher creates an empty FakeFetcher
func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{trees: make(map[string]map[string]string)}
}

// Add registers the files served for ref
func (f *FakeFetcher) Add(ref string, files map[string]string) *FakeFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trees[ref] = files
	return f
}

func (f *FakeFetcher) tree(ref string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	files, ok := f.trees[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, git.ErrRefNotFound)
	}
	return files, nil
}

// ReadFile implements git.Fetcher
func (f *FakeFetcher) ReadFile(ctx context.Context, repo, ref, path string) ([]byte, error) {
	files, err := f.tree(ref)
	if err != nil {
		return nil, err
	}
	content, ok := files[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, git.ErrFileNotFound)
	}
	return []byte(content), nil
}

// Materialize implements git.Fetcher
func (f *FakeFetcher) Materialize(ctx context.Context, repo, ref, dest string) (*git.CommitInfo, error) {
	files, err := f.tree(ref)
	if err != nil {
		return nil, err
	}
	for name, content := range files {
		path := filepath.Join(dest, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(content), 0755); err != nil {
			return nil, err
		}
	}
	short := ref
	if len(short) > 7 {
		short = short[:7]
	}
	return &git.CommitInfo{Hash: ref, ShortHash: short, Message: "commit " + ref}, nil
}
