// Package checkout owns the single shared source checkout.
//
// Many projects derive working views from one multi-gigabyte tree, so all
// write-affecting operations (sync, resets) are serialized behind a single
// FIFO write lock with timeout-bounded acquisition, while ref reads and
// working-view construction stay lock-free. Every ref movement is recorded
// in an append-only journal for post-hoc diagnosis.
package checkout

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chromekit/internal/logging"
)

// Adapter is the single source-control boundary. No other component talks
// to source control.
type Adapter interface {
	// Head returns the current commit hash of the checkout.
	Head(path string) (string, error)

	// ResolveRef resolves a symbolic ref (branch, tag, revision) to a
	// commit hash.
	ResolveRef(path, ref string) (string, error)

	// IsClean reports whether the worktree has no uncommitted changes.
	IsClean(path string) (bool, error)

	// ResetHard moves the checkout to the given ref, discarding local
	// state.
	ResetHard(ctx context.Context, path, ref string) error

	// Clone creates the checkout from a remote URL.
	Clone(ctx context.Context, url, path string) error
}

// Manager serializes mutating access to the shared checkout.
type Manager struct {
	root        string
	scm         Adapter
	lock        *writeLock
	journalPath string
	jmu         sync.Mutex
	log         *logging.Logger
}

// NewManager creates a manager for the checkout at root. The journal lives
// in stateDir alongside the registry.
func NewManager(root, stateDir string, scm Adapter, log *logging.Logger) *Manager {
	return &Manager{
		root:        root,
		scm:         scm,
		lock:        &writeLock{},
		journalPath: filepath.Join(stateDir, "journal.jsonl"),
		log:         log.Named("checkout"),
	}
}

// Root returns the checkout's filesystem root.
func (m *Manager) Root() string { return m.root }

// LockState reports the write lock state: "free" or "held-by:<project>".
func (m *Manager) LockState() string { return m.lock.state() }

// Acquire obtains the write lock for a project, waiting at most timeout.
// Fails with ErrLockTimeout; never blocks indefinitely.
func (m *Manager) Acquire(ctx context.Context, project string, timeout time.Duration) (*Ticket, error) {
	t, err := m.lock.acquire(ctx, project, timeout)
	if err != nil {
		m.log.Warn(ctx, "write lock not acquired", zap.String("requester", project), zap.Error(err))
		return nil, err
	}
	m.log.Debug(ctx, "write lock acquired", zap.String("holder", project))
	return t, nil
}

// SnapshotRef returns the checkout's current commit hash. Lock-free; safe
// to call while another project holds the write lock.
func (m *Manager) SnapshotRef() (string, error) {
	ref, err := m.scm.Head(m.root)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCheckout, err)
	}
	return ref, nil
}

// Sync moves the shared checkout to ref. Requires a live write-lock ticket
// and a clean tree; appends a journal entry on success.
func (m *Manager) Sync(ctx context.Context, ticket *Ticket, ref string) error {
	if ticket == nil || !ticket.valid() {
		return ErrNotHolder
	}

	clean, err := m.scm.IsClean(m.root)
	if err != nil {
		return fmt.Errorf("failed to inspect checkout: %w", err)
	}
	if !clean {
		return fmt.Errorf("%w: %s", ErrDirtyCheckout, m.root)
	}

	before, err := m.scm.Head(m.root)
	if err != nil {
		return fmt.Errorf("failed to read current ref: %w", err)
	}

	if err := m.scm.ResetHard(ctx, m.root, ref); err != nil {
		return fmt.Errorf("failed to sync checkout to %s: %w", ref, err)
	}

	after, err := m.scm.Head(m.root)
	if err != nil {
		return fmt.Errorf("failed to read ref after sync: %w", err)
	}

	m.jmu.Lock()
	jerr := appendJournal(m.journalPath, JournalEntry{
		Project: ticket.Project(),
		Before:  before,
		After:   after,
		At:      time.Now().UTC(),
	})
	m.jmu.Unlock()
	if jerr != nil {
		return jerr
	}

	m.log.Info(ctx, "checkout synced",
		zap.String("before", before),
		zap.String("after", after),
		zap.String("holder", ticket.Project()))
	return nil
}

// Journal returns all recorded ref movements, oldest first.
func (m *Manager) Journal() ([]JournalEntry, error) {
	m.jmu.Lock()
	defer m.jmu.Unlock()
	return readJournal(m.journalPath)
}
