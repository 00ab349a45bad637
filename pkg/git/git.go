// Package git reads deployment sources out of a repository with go-git.
// Local repositories (bare or not) are opened in place; anything else is
// treated as a remote URL and cloned into memory.
package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

var (
	// ErrRefNotFound is returned when a reference cannot be resolved
	ErrRefNotFound = errors.New("reference not found")

	// ErrFileNotFound is returned when a path does not exist at a commit
	ErrFileNotFound = errors.New("file not found at commit")
)

// Fetcher supplies descriptor content and working trees for a commit
type Fetcher interface {
	// ReadFile returns the content of path as of ref
	ReadFile(ctx context.Context, repo, ref, path string) ([]byte, error)
	// Materialize writes the tree at ref into dest and returns the commit
	Materialize(ctx context.Context, repo, ref, dest string) (*CommitInfo, error)
}

// CommitInfo describes a resolved commit
type CommitInfo struct {
	Hash      string
	ShortHash string
	Message   string
	Author    string
}

func newCommitInfo(c *object.Commit) *CommitInfo {
	hash := c.Hash.String()
	return &CommitInfo{
		Hash:      hash,
		ShortHash: hash[:7],
		Message:   strings.TrimSpace(c.Message),
		Author:    c.Author.Name,
	}
}

// Client implements Fetcher with go-git
type Client struct {
	mu      sync.Mutex
	remotes map[string]*git.Repository
}

// NewClient creates a new Git client
func NewClient() *Client {
	return &Client{remotes: make(map[string]*git.Repository)}
}

// Open returns the repository at location. Remote clones are cached for the
// lifetime of the client so one deployment only fetches once.
func (c *Client) Open(ctx context.Context, location string) (*git.Repository, error) {
	if info, err := os.Stat(location); err == nil && info.IsDir() {
		repo, err := git.PlainOpen(location)
		if err != nil {
			return nil, fmt.Errorf("failed to open repository %s: %w", location, err)
		}
		return repo, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if repo, ok := c.remotes[location]; ok {
		return repo, nil
	}

	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:  location,
		Tags: git.AllTags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", location, err)
	}
	c.remotes[location] = repo
	return repo, nil
}

// Resolve returns the commit ref points at
func (c *Client) Resolve(ctx context.Context, location, ref string) (*CommitInfo, error) {
	_, commit, err := c.commit(ctx, location, ref)
	if err != nil {
		return nil, err
	}
	return newCommitInfo(commit), nil
}

// ReadFile returns the content of path as of ref
func (c *Client) ReadFile(ctx context.Context, location, ref, path string) ([]byte, error) {
	_, commit, err := c.commit(ctx, location, ref)
	if err != nil {
		return nil, err
	}

	file, err := commit.File(filepath.ToSlash(path))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, fmt.Errorf("%s at %s: %w", path, commit.Hash.String()[:7], ErrFileNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	content, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return []byte(content), nil
}

// Materialize exports the tree at ref into dest, which must not exist or be
// empty. The export carries no .git directory.
func (c *Client) Materialize(ctx context.Context, location, ref, dest string) (*CommitInfo, error) {
	_, commit, err := c.commit(ctx, location, ref)
	if err != nil {
		return nil, err
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dest, err)
	}

	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return writeFile(dest, f)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", commit.Hash.String()[:7], err)
	}

	return newCommitInfo(commit), nil
}

func (c *Client) commit(ctx context.Context, location, ref string) (*git.Repository, *object.Commit, error) {
	repo, err := c.Open(ctx, location)
	if err != nil {
		return nil, nil, err
	}

	if ref == "" {
		ref = "HEAD"
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", ref, ErrRefNotFound)
	}

	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load commit %s: %w", hash, err)
	}
	return repo, commit, nil
}

func writeFile(root string, f *object.File) error {
	target := filepath.Join(root, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(target, filepath.Clean(root)+string(os.PathSeparator)) {
		return fmt.Errorf("refusing to write outside release: %s", f.Name)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	if f.Mode == filemode.Symlink {
		link, err := f.Contents()
		if err != nil {
			return err
		}
		return os.Symlink(link, target)
	}

	perm := os.FileMode(0644)
	if f.Mode == filemode.Executable {
		perm = 0755
	}

	r, err := f.Reader()
	if err != nil {
		return err
	}
	defer r.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
