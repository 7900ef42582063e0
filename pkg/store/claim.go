package store

import (
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	// ErrAlreadyDone means the item already has an Artifact from some
	// phase; the caller skips it silently.
	ErrAlreadyDone = errors.New("item already has an artifact")

	// ErrContended means another live worker holds the lock; the caller
	// skips the item silently.
	ErrContended = errors.New("item locked by another worker")
)

// Claim acquires the exclusive right to produce the Artifact for an
// item in a phase. It succeeds iff no Artifact exists for the item in
// any phase and the exclusive-create of the lock file succeeds. A
// pre-existing lock older than the stale TTL is deleted and the create
// is re-attempted exactly once.
//
// The artifact check spans all phases, not just 1..P: an item that
// failed phase 1 but was classified by phase 2 must never be
// re-processed by a phase 1 re-run, or the at-most-one-artifact
// invariant breaks.
func (s *Store) Claim(phase int, itemID string) error {
	done, err := s.HasArtifact(itemID)
	if err != nil {
		return err
	}
	if done {
		return ErrAlreadyDone
	}
	return s.tryLock(phase, itemID)
}

func (s *Store) tryLock(phase int, itemID string) error {
	path := s.lockPath(phase, itemID)

	if err := s.createLock(path); err == nil {
		return nil
	} else if !os.IsExist(err) {
		return fmt.Errorf("failed to create lock %s: %w", path, err)
	}

	// Lock exists. Reclaim it when stale, otherwise back off.
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Holder released between our create and stat; one retry.
			if err := s.createLock(path); err == nil {
				return nil
			}
			return ErrContended
		}
		return fmt.Errorf("failed to stat lock %s: %w", path, err)
	}

	if time.Since(fi.ModTime()) <= s.staleTTL {
		return ErrContended
	}

	// Stale: delete and re-attempt once. A racing worker may win the
	// re-create; that is a normal contention outcome.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale lock %s: %w", path, err)
	}
	if err := s.createLock(path); err != nil {
		if os.IsExist(err) {
			return ErrContended
		}
		return fmt.Errorf("failed to recreate lock %s: %w", path, err)
	}
	return nil
}

// createLock performs the exclusive create and records the owner.
func (s *Store) createLock(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, werr := fmt.Fprintf(f, "%s:%s", s.hostname, time.Now().Format(time.RFC3339))
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// Release removes the caller's lock. Missing locks are not an error: a
// stale reclaim may already have removed it.
func (s *Store) Release(phase int, itemID string) error {
	if err := os.Remove(s.lockPath(phase, itemID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock for %s: %w", itemID, err)
	}
	return nil
}

// LockOwner reads the owner recorded in a lock file, for diagnostics.
func (s *Store) LockOwner(phase int, itemID string) (string, error) {
	data, err := os.ReadFile(s.lockPath(phase, itemID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
