// Package taskstore implements the durable task queue on top of a plain
// directory: one JSON file per task, whole-file create/rename/delete only.
//
// State model:
//   - free:    {account}__{id}.json
//   - claimed: {account}__{id}.json{lock suffix}
//   - absent:  no file
//
// The only cross-process synchronization primitive is the atomicity of
// rename(2) on the shared volume. Claiming a task is a compare-and-swap:
// exactly one concurrent rename of the free name succeeds, losers observe
// ENOENT and move on to the next candidate. No locks, no lease service, no
// coordination daemon.
//
// Record content is immutable after Create. The single allowed mutation
// outside the name itself is the claimed file's mtime, which is refreshed at
// claim time so "when was this claimed" stays recoverable from the file alone
// (the confirmation path and the lease reaper both rely on it).
package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vpetrov/go-avito-relay/internal/domain"
)

var (
	// ErrNotFound is returned when a task or lock no longer exists. Callers
	// performing idempotent teardown (e.g. a second Done for the same lock)
	// may safely ignore it.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidLock is returned when a lock id is syntactically not a lock
	// this store could have issued (wrong suffix, path separators, missing
	// account delimiter).
	ErrInvalidLock = errors.New("invalid lock id")

	// ErrInvalidAccount is returned when an account name cannot be encoded
	// into a file name safely.
	ErrInvalidAccount = errors.New("invalid account name")

	// ErrUnavailable is returned when the backing directory cannot be
	// created, listed, or written. It is a storage fault, not a queue state.
	ErrUnavailable = errors.New("task store unavailable")
)

const (
	// nameSep joins account and task id inside a file name. Account names
	// containing it are rejected so the mapping stays reversible.
	nameSep = "__"

	// taskExt is the extension of every task record, free or claimed.
	taskExt = ".json"

	// DefaultLockSuffix marks a claimed record when no suffix is configured.
	DefaultLockSuffix = ".taking"
)

// claimRename performs the free→claimed CAS rename. Test seam: swapped in
// tests to simulate races lost to concurrent workers.
var claimRename = os.Rename

// Store is a file-per-task queue rooted at Dir. The zero value is not usable;
// construct with New. A Store is safe for concurrent use by multiple
// goroutines and, by construction, by multiple processes sharing Dir.
type Store struct {
	dir        string
	lockSuffix string
}

// New ensures the task directory exists and returns a Store over it.
// A failure to create the directory is reported as ErrUnavailable.
func New(dir, lockSuffix string) (*Store, error) {
	if lockSuffix == "" {
		lockSuffix = DefaultLockSuffix
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Store{dir: dir, lockSuffix: lockSuffix}, nil
}

// Dir returns the backing directory path.
func (s *Store) Dir() string { return s.dir }

// LockSuffix returns the suffix appended to a free name on claim.
func (s *Store) LockSuffix() string { return s.lockSuffix }

// Create allocates a fresh task id, writes the full record to a temporary
// file, and publishes it atomically under its free name. A crash mid-write
// leaves at most an orphaned *.tmp file, never a half-written free record.
func (s *Store) Create(ctx context.Context, account, chatID, replyText, messageID, itemID string, kind domain.TaskKind) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validAccount(account) {
		return nil, ErrInvalidAccount
	}

	t := &domain.Task{
		ID:        uuid.NewString(),
		Account:   account,
		ChatID:    chatID,
		ReplyText: replyText,
		MessageID: messageID,
		ItemID:    itemID,
		CreatedAt: time.Now().UTC(),
		Kind:      kind,
	}

	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}

	name := account + nameSep + t.ID + taskExt
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return t, nil
}

// candidate is a free record observed during a claim scan.
type candidate struct {
	name  string
	mtime time.Time
}

// Claim scans free records (optionally restricted to one account), newest
// first, and tries to transition each to claimed via a single atomic rename
// of the free name to the lock name. The first rename that succeeds wins;
// an ENOENT from a lost race is not an error, the scan simply continues.
//
// Ordering is modification time descending with name descending as the tie
// break. Newest-first matches the deployed behavior this store replaces and
// is deliberately kept stable; tests pin it.
//
// At most scanLimit candidates are attempted. When the window is exhausted
// without a successful claim the result is (nil, "", nil): no work available,
// not a failure.
func (s *Store) Claim(ctx context.Context, accountFilter string, scanLimit int) (*domain.Task, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if scanLimit < 1 {
		scanLimit = 1
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var prefix string
	if accountFilter != "" {
		prefix = accountFilter + nameSep
	}

	cands := make([]candidate, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !s.isFreeName(name) {
			continue
		}
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Deleted between ReadDir and Info: someone else finished it.
			continue
		}
		cands = append(cands, candidate{name: name, mtime: info.ModTime()})
	}

	sort.Slice(cands, func(i, j int) bool {
		if !cands[i].mtime.Equal(cands[j].mtime) {
			return cands[i].mtime.After(cands[j].mtime)
		}
		return cands[i].name > cands[j].name
	})
	if len(cands) > scanLimit {
		cands = cands[:scanLimit]
	}

	for _, c := range cands {
		lock := c.name + s.lockSuffix
		freePath := filepath.Join(s.dir, c.name)
		lockPath := filepath.Join(s.dir, lock)

		if err := claimRename(freePath, lockPath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Lost the race to another worker. Keep scanning.
				continue
			}
			return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		// Stamp the claim time on the record itself. Best effort: a failed
		// Chtimes leaves the create-time mtime, which is strictly older and
		// therefore safe for both the verifier and the reaper.
		now := time.Now()
		_ = os.Chtimes(lockPath, now, now)

		t, err := s.readTask(lockPath)
		if err != nil {
			// Unreadable after a successful claim: hand it back rather than
			// hold a lock on a record we cannot describe to the caller.
			_ = os.Rename(lockPath, freePath)
			return nil, "", err
		}
		return t, lock, nil
	}

	return nil, "", nil
}

// Done deletes the claimed record permanently. A missing record yields
// ErrNotFound, which idempotent callers may ignore: the task is absent
// either way.
func (s *Store) Done(ctx context.Context, lockID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.ValidLock(lockID) {
		return ErrInvalidLock
	}
	if err := os.Remove(filepath.Join(s.dir, lockID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Requeue renames the claimed record back to its free name, making it
// eligible for Claim again. Used on worker-side failure.
func (s *Store) Requeue(ctx context.Context, lockID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.ValidLock(lockID) {
		return ErrInvalidLock
	}
	free := strings.TrimSuffix(lockID, s.lockSuffix)
	if err := os.Rename(filepath.Join(s.dir, lockID), filepath.Join(s.dir, free)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ReadLocked loads the task record behind a lock id, together with its claim
// time (the claimed file's mtime). The record is left untouched.
func (s *Store) ReadLocked(ctx context.Context, lockID string) (*domain.Task, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}
	if !s.ValidLock(lockID) {
		return nil, time.Time{}, ErrInvalidLock
	}
	p := filepath.Join(s.dir, lockID)
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, time.Time{}, ErrNotFound
		}
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	t, err := s.readTask(p)
	if err != nil {
		return nil, time.Time{}, err
	}
	return t, info.ModTime(), nil
}

// ReadFile loads one task record (free or claimed) by its exact file name.
// Debug endpoint support; never mutates state.
func (s *Store) ReadFile(ctx context.Context, name string) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validName(name) || !strings.Contains(name, nameSep) {
		return nil, ErrNotFound
	}
	t, err := s.readTask(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// List returns the names of all free and claimed records, sorted ascending.
// Debug endpoint support.
func (s *Store) List(ctx context.Context) (free, claimed []string, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	free = []string{}
	claimed = []string{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case s.isFreeName(name):
			free = append(free, name)
		case strings.HasSuffix(name, s.lockSuffix):
			claimed = append(claimed, name)
		}
	}
	sort.Strings(free)
	sort.Strings(claimed)
	return free, claimed, nil
}

// ReapExpired requeues every claimed record whose claim time (mtime) is older
// than ttl. It returns the freed names. This is the opt-in recovery path for
// workers that crashed while holding a lock; with ttl disabled a claimed
// record stays claimed forever, matching the original contract.
func (s *Store) ReapExpired(ctx context.Context, ttl time.Duration) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	cutoff := time.Now().Add(-ttl)
	var freed []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, s.lockSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		free := strings.TrimSuffix(name, s.lockSuffix)
		if err := os.Rename(filepath.Join(s.dir, name), filepath.Join(s.dir, free)); err != nil {
			// Worker finished (or another reaper won) in the meantime.
			continue
		}
		freed = append(freed, free)
	}
	return freed, nil
}

// ValidLock reports whether lockID is syntactically a lock this store could
// have issued. It guards every lock-taking operation against path traversal
// and malformed input before any filesystem access.
func (s *Store) ValidLock(lockID string) bool {
	if !strings.HasSuffix(lockID, s.lockSuffix) {
		return false
	}
	base := strings.TrimSuffix(lockID, s.lockSuffix)
	return validName(base) && strings.Contains(base, nameSep)
}

// isFreeName reports whether name is a free task record.
func (s *Store) isFreeName(name string) bool {
	return strings.HasSuffix(name, taskExt) &&
		!strings.HasSuffix(name, s.lockSuffix) &&
		strings.Contains(name, nameSep)
}

// readTask reads and unmarshals one record file.
func (s *Store) readTask(path string) (*domain.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t domain.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("corrupt task record %s: %w", filepath.Base(path), err)
	}
	return &t, nil
}

// validName rejects names that could escape the store directory or collide
// with temp files.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\") {
		return false
	}
	return filepath.Base(name) == name
}

// validAccount rejects account names that cannot be embedded in a file name
// reversibly.
func validAccount(account string) bool {
	if account == "" || strings.Contains(account, nameSep) {
		return false
	}
	return validName(account)
}
