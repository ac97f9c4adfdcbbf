// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package snapshot implements DirSnapshot (spec.md C3): a per-directory
// recursive listing with last-seen metadata that, polled repeatedly,
// classifies the difference between consecutive polls into
// Created/Updated/Removed/Renamed events.
package snapshot

import (
	"os"
	"path/filepath"
	"time"

	"github.com/srilakshmikanthanp/pulldog/lib/ident"
	"github.com/srilakshmikanthanp/pulldog/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("snapshot", "directory change detection")

// Kind identifies what happened to a path between two polls.
type Kind int

const (
	Created Kind = iota
	Updated
	Removed
	Renamed
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "Created"
	case Updated:
		return "Updated"
	case Removed:
		return "Removed"
	case Renamed:
		return "Renamed"
	default:
		return "Unknown"
	}
}

// Event describes a single change, relative to the snapshot's root.
// OldPath is only populated for Renamed.
type Event struct {
	Kind    Kind
	Path    string
	OldPath string
}

// FileMeta is the cached metadata for one regular file.
type FileMeta struct {
	AbsolutePath string
	LastModified time.Time
	Size         int64
	IsDir        bool
}

// Entry pairs a file's metadata with its identity at the moment it was last
// observed.
type Entry struct {
	Info FileMeta
	ID   ident.Identity
}

// Snapshot is DirSnapshot (spec.md C3). The zero value is not usable; build
// one with New.
type Snapshot struct {
	root                  string
	entries               map[string]Entry
	lastPoll              time.Time
	currentPollIntervalMs int64

	minIntervalMs int64
	maxIntervalMs int64
}

// New performs one recursive enumeration of root, rooting the snapshot's
// adaptive interval at minIntervalMs. root must already be an absolute,
// canonical path; walking a root that cannot be read returns an error and no
// Snapshot, matching spec.md §4.4's "construction of a snapshot may fail".
func New(root string, minIntervalMs, maxIntervalMs int64) (*Snapshot, error) {
	s := &Snapshot{
		root:                  root,
		entries:               make(map[string]Entry),
		lastPoll:              time.Now(),
		currentPollIntervalMs: minIntervalMs,
		minIntervalMs:         minIntervalMs,
		maxIntervalMs:         maxIntervalMs,
	}

	current, err := walk(root)
	if err != nil {
		return nil, err
	}
	s.entries = current

	return s, nil
}

// Root returns the snapshot's watched root.
func (s *Snapshot) Root() string {
	return s.root
}

// LastPoll returns the time of the most recent poll (or construction, if
// Poll has never been called).
func (s *Snapshot) LastPoll() time.Time {
	return s.lastPoll
}

// CurrentPollIntervalMs returns the adaptive interval spec.md §4.3 requires
// to remain within [min_interval, max_interval].
func (s *Snapshot) CurrentPollIntervalMs() int64 {
	return s.currentPollIntervalMs
}

// Len reports how many regular files the snapshot currently tracks, used by
// tests to assert invariant 5 (spec.md §8).
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// walk recursively enumerates root, returning a map of absolute path to
// Entry for every regular file found. Matches internal/scanner/walk.go's
// discipline of treating a single file's stat failure as "skip it, keep
// walking" rather than aborting the whole enumeration — only a failure to
// read root itself is fatal.
func walk(root string) (map[string]Entry, error) {
	entries := make(map[string]Entry)

	if _, err := os.Stat(root); err != nil {
		return nil, err
	}

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			l.Debugf("walk: skipping %s: %v", path, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		entries[path] = Entry{
			Info: FileMeta{
				AbsolutePath: path,
				LastModified: info.ModTime().UTC(),
				Size:         info.Size(),
				IsDir:        false,
			},
			ID: ident.Of(path),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Poll re-walks the root and compares the result against the cached
// entries, implementing the five-step algorithm of spec.md §4.3. It
// returns the emitted events, in the order Created, Updated, Removed,
// Renamed, and whether anything changed at all.
func (s *Snapshot) Poll() ([]Event, bool, error) {
	current, err := walk(s.root)
	if err != nil {
		s.lastPoll = time.Now()
		return nil, false, err
	}

	var created, updated, removed []Event
	var createdEntries, removedEntries []Entry

	for path, c := range current {
		if prior, ok := s.entries[path]; !ok {
			created = append(created, Event{Kind: Created, Path: path})
			createdEntries = append(createdEntries, c)
		} else if !prior.Info.LastModified.Equal(c.Info.LastModified) || prior.Info.Size != c.Info.Size {
			updated = append(updated, Event{Kind: Updated, Path: path})
		}
	}

	for path, prior := range s.entries {
		if _, ok := current[path]; !ok {
			removed = append(removed, Event{Kind: Removed, Path: path})
			removedEntries = append(removedEntries, prior)
		}
	}

	s.entries = current
	s.lastPoll = time.Now()

	renamed, created, removed := inferRenames(created, createdEntries, removed, removedEntries)

	events := make([]Event, 0, len(created)+len(updated)+len(removed)+len(renamed))
	events = append(events, created...)
	events = append(events, updated...)
	events = append(events, removed...)
	events = append(events, renamed...)

	for i := range events {
		events[i].Path = s.relative(events[i].Path)
		if events[i].Kind == Renamed {
			events[i].OldPath = s.relative(events[i].OldPath)
		}
	}

	return events, len(events) > 0, nil
}

// inferRenames implements spec.md §4.3 step 4: any Created/Removed pair
// whose identities match and are both present is collapsed into a single
// Renamed event, and the originals are suppressed.
func inferRenames(created []Event, createdEntries []Entry, removed []Event, removedEntries []Entry) (renamed, remainingCreated, remainingRemoved []Event) {
	matchedCreated := make(map[int]bool)
	matchedRemoved := make(map[int]bool)

	for ci, ce := range createdEntries {
		if ce.ID.IsAbsent() {
			continue
		}
		for ri, re := range removedEntries {
			if matchedRemoved[ri] || re.ID.IsAbsent() {
				continue
			}
			if ident.Same(ce.ID, re.ID) {
				renamed = append(renamed, Event{
					Kind:    Renamed,
					Path:    created[ci].Path,
					OldPath: removed[ri].Path,
				})
				matchedCreated[ci] = true
				matchedRemoved[ri] = true
				break
			}
		}
	}

	for i, e := range created {
		if !matchedCreated[i] {
			remainingCreated = append(remainingCreated, e)
		}
	}
	for i, e := range removed {
		if !matchedRemoved[i] {
			remainingRemoved = append(remainingRemoved, e)
		}
	}

	return renamed, remainingCreated, remainingRemoved
}

// relative converts an absolute path under s.root to its root-relative,
// forward-slash form (spec.md §6's internal path normalization).
func (s *Snapshot) relative(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// UpdateInterval applies the adaptive backoff rule of spec.md §4.4: double
// on no-change up to max, reset to min on any change.
func (s *Snapshot) UpdateInterval(changed bool) {
	if changed {
		s.currentPollIntervalMs = s.minIntervalMs
		return
	}
	next := s.currentPollIntervalMs * 2
	if next > s.maxIntervalMs {
		next = s.maxIntervalMs
	}
	s.currentPollIntervalMs = next
}
