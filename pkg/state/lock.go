package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/redentordev/paradigm/pkg/deployerr"
)

const (
	// LockFileName is the release-in-progress marker under the deployment base
	LockFileName = ".deploy.lock"

	stepLock = "acquire-lock"
)

// errLocked is returned by tryLock when another handle holds the lock
var errLocked = errors.New("lock held")

// LockInfo contains information about who holds the lock
type LockInfo struct {
	ID        string    `json:"id"`
	App       string    `json:"app"`
	Operation string    `json:"operation"` // deploy, rollback
	Ref       string    `json:"ref,omitempty"`
	Who       string    `json:"who"` // user@hostname
	Created   time.Time `json:"created"`
	PID       int       `json:"pid"`
}

// DeployLock makes deployments single-flight per application. The lock is
// an flock on .deploy.lock, so a crashed holder never leaves it stuck.
type DeployLock struct {
	basePath string
	lockFile *os.File // kept open while the lock is held
	held     *LockInfo
}

// NewDeployLock creates a lock for the deployment base at basePath
func NewDeployLock(basePath string) *DeployLock {
	return &DeployLock{basePath: basePath}
}

// Acquire takes the lock without waiting. A held lock yields a LockError
// naming the holder.
func (l *DeployLock) Acquire(app, operation, ref string) (*LockInfo, error) {
	lockPath := l.lockFilePath()

	if err := os.MkdirAll(l.basePath, 0755); err != nil {
		return nil, deployerr.Newf(deployerr.KindLock, stepLock, "failed to create lock directory: %v", err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, deployerr.Newf(deployerr.KindLock, stepLock, "failed to open lock file: %v", err)
	}

	if err := tryLock(file); err != nil {
		file.Close()

		if errors.Is(err, errLocked) {
			if existing, readErr := l.readLock(); readErr == nil && existing != nil {
				return nil, deployerr.Newf(deployerr.KindLock, stepLock,
					"deployment already in progress by %s (operation: %s, ref: %s, started: %s ago)",
					existing.Who,
					existing.Operation,
					existing.Ref,
					time.Since(existing.Created).Round(time.Second))
			}
			return nil, deployerr.Newf(deployerr.KindLock, stepLock, "deployment already in progress (%s)", lockPath)
		}
		return nil, deployerr.Newf(deployerr.KindLock, stepLock, "failed to acquire lock: %v", err)
	}

	lockInfo := l.createLockInfo(app, operation, ref)
	if err := writeLockInfo(file, lockInfo); err != nil {
		unlock(file)
		file.Close()
		return nil, deployerr.New(deployerr.KindLock, stepLock, err)
	}

	l.lockFile = file
	l.held = lockInfo
	return lockInfo, nil
}

// Release clears the holder record and drops the lock. The file itself is
// left in place: removing it would let two processes lock different inodes.
func (l *DeployLock) Release() error {
	if l.lockFile == nil {
		return nil
	}

	var errs []error
	if err := l.lockFile.Truncate(0); err != nil {
		errs = append(errs, fmt.Errorf("failed to truncate lock file: %w", err))
	}
	if err := unlock(l.lockFile); err != nil {
		errs = append(errs, fmt.Errorf("failed to unlock: %w", err))
	}
	if err := l.lockFile.Close(); err != nil {
		errs = append(errs, err)
	}

	l.lockFile = nil
	l.held = nil
	return errors.Join(errs...)
}

// IsLocked reports whether another process currently holds the lock
func (l *DeployLock) IsLocked() bool {
	if l.lockFile != nil {
		return true
	}

	file, err := os.OpenFile(l.lockFilePath(), os.O_RDWR, 0600)
	if err != nil {
		return false
	}
	defer file.Close()

	if err := tryLock(file); err != nil {
		return errors.Is(err, errLocked)
	}
	unlock(file)
	return false
}

// GetLockInfo returns information about the current lock holder, or nil
func (l *DeployLock) GetLockInfo() (*LockInfo, error) {
	if !l.IsLocked() {
		return nil, nil
	}
	return l.readLock()
}

func (l *DeployLock) createLockInfo(app, operation, ref string) *LockInfo {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME") // Windows
	}
	if username == "" {
		username = "unknown"
	}

	return &LockInfo{
		ID:        fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano()),
		App:       app,
		Operation: operation,
		Ref:       ref,
		Who:       fmt.Sprintf("%s@%s", username, hostname),
		Created:   time.Now(),
		PID:       os.Getpid(),
	}
}

func (l *DeployLock) lockFilePath() string {
	return filepath.Join(l.basePath, LockFileName)
}

func (l *DeployLock) readLock() (*LockInfo, error) {
	data, err := os.ReadFile(l.lockFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var lockInfo LockInfo
	if err := json.Unmarshal(data, &lockInfo); err != nil {
		return nil, err
	}
	return &lockInfo, nil
}

func writeLockInfo(file *os.File, lockInfo *LockInfo) error {
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek lock file: %w", err)
	}

	data, err := json.MarshalIndent(lockInfo, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock info: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync lock file: %w", err)
	}

	return nil
}
