// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package filelock implements FileLock (spec.md C1): an advisory lock that
// Worker uses to probe a source file with a share=NoShare, access=Read lock
// to decide whether it is still being written (spec.md §4.6). Copier does
// not use this package; it reserves its destination with an exclusive
// (O_EXCL) create. Locks go through gofrs/flock, a maintained
// cross-platform wrapper around flock(2)/LockFileEx, rather than
// hand-rolled per-platform syscalls.
package filelock

import (
	"errors"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// ShareMode controls whether other processes may hold a lock concurrently.
type ShareMode int

const (
	// Share allows other accessors to hold a compatible lock concurrently.
	Share ShareMode = iota
	// NoShare requires exclusive access; no other lock may be held.
	NoShare
)

// AccessMode controls whether the lock is for reading or writing.
type AccessMode int

const (
	// Read requires the target file to already exist.
	Read AccessMode = iota
	// Write creates the target file if it does not already exist.
	Write
)

// Classification of a failed lock attempt (spec.md §4.1).
var (
	// ErrRecoverable indicates a transient conflict — the caller should
	// retry after a delay (a sharing violation, or the file briefly
	// vanished between the caller's existence check and the lock call).
	ErrRecoverable = errors.New("filelock: recoverable conflict")
	// ErrUnrecoverable indicates a failure the caller should give up on
	// (permission denied, or the read target is genuinely missing).
	ErrUnrecoverable = errors.New("filelock: unrecoverable error")
)

// pollInterval is how often Lock retries try_lock while waiting for a
// deadline, per spec.md §4.1.
const pollInterval = 100 * time.Millisecond

// Lock is a held advisory lock. The zero value is not usable.
type Lock struct {
	fl *flock.Flock
}

// Path returns the path the lock was acquired on.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Unlock releases the OS lock. It is safe to call more than once.
func (l *Lock) Unlock() error {
	if l == nil || l.fl == nil {
		return nil
	}
	err := l.fl.Unlock()
	l.fl = nil
	return err
}

// TryLock attempts to acquire a lock on path once, without waiting.
//
// For access=Read the target must already exist; for access=Write it is
// created if absent. share=NoShare requests an exclusive lock; share=Share
// requests a shared lock (meaningful only for access=Read — a shared write
// lock is not a supported combination and is treated as NoShare).
//
// Returns (lock, nil) on success, or (nil, ErrRecoverable) /
// (nil, ErrUnrecoverable) describing why acquisition failed.
func TryLock(path string, share ShareMode, access AccessMode) (*Lock, error) {
	if access == Read {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, ErrUnrecoverable
			}
			return nil, ErrUnrecoverable
		}
	}

	fl := flock.New(path)

	var locked bool
	var err error
	if share == Share && access == Read {
		locked, err = fl.TryRLock()
	} else {
		locked, err = fl.TryLock()
	}
	if err != nil {
		return nil, classify(err)
	}
	if !locked {
		return nil, ErrRecoverable
	}

	return &Lock{fl: fl}, nil
}

// Lock loops TryLock every 100ms until it succeeds or timeout elapses
// (spec.md §4.1). A recoverable conflict that persists past the deadline
// collapses to ErrUnrecoverable, since the caller asked for a bounded wait.
func Lock(path string, share ShareMode, access AccessMode, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		lock, err := TryLock(path, share, access)
		if err == nil {
			return lock, nil
		}
		if errors.Is(err, ErrUnrecoverable) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrUnrecoverable
		}
		<-ticker.C
	}
}

// classify maps an OS-level locking error to the Recoverable/Unrecoverable
// taxonomy of spec.md §4.1.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrExist) {
		return ErrRecoverable
	}
	if errors.Is(err, os.ErrPermission) {
		return ErrUnrecoverable
	}
	// Anything else reported by flock (sharing violations surface as
	// platform-specific errnos wrapped by gofrs/flock) is treated as a
	// transient conflict: the far more common failure mode in practice is
	// "another process has this file open", which is recoverable.
	return ErrRecoverable
}
