// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package watch implements WatchManager (spec.md C4): owns a set of
// DirSnapshots, runs a single adaptive poll scheduler as a suture.Service,
// and fans out the union of all snapshot events.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/srilakshmikanthanp/pulldog/lib/events"
	"github.com/srilakshmikanthanp/pulldog/lib/logger"
	stdsync "github.com/srilakshmikanthanp/pulldog/lib/sync"
	"github.com/srilakshmikanthanp/pulldog/lib/snapshot"
)

var l = logger.DefaultLogger.NewFacility("watch", "adaptive directory polling")

const (
	// BaseTick is how often the scheduler wakes to consider each snapshot
	// (spec.md §4.4 design value).
	BaseTick = 1000 * time.Millisecond

	// DefaultMinIntervalMs and DefaultMaxIntervalMs are the adaptive-backoff
	// bounds spec.md §4.4 designs for (10s / 60s).
	DefaultMinIntervalMs = 10_000
	DefaultMaxIntervalMs = 60_000
)

// FileEvent is a WatchManager-level event: a snapshot event tagged with the
// root it came from.
type FileEvent struct {
	Root    string
	Kind    snapshot.Kind
	Path    string
	OldPath string
}

// Manager is WatchManager (spec.md C4). The zero value is not usable; use
// New.
type Manager struct {
	mut       stdsync.Mutex
	snapshots map[string]*snapshot.Snapshot

	minIntervalMs int64
	maxIntervalMs int64
	baseTick      time.Duration

	bus    *events.Logger
	fileCh chan FileEvent
}

// fileEventBuffer bounds how many undelivered file-change events the
// scheduler will queue for Controller. Once it is full, each new event is
// dropped with a warning instead of blocking the scheduler; events already
// queued are kept.
const fileEventBuffer = 4096

// New constructs a Manager with no watched roots. bus receives the public
// PathAdded, PathRemoved, and Error events (spec.md §6) as roots are
// added/removed and polled; per-file Created/Updated/Removed/Renamed events
// are internal to the pipeline and delivered separately through Events(),
// for Controller to translate into Transfers.
func New(bus *events.Logger) *Manager {
	return &Manager{
		mut:           stdsync.NewMutex(),
		snapshots:     make(map[string]*snapshot.Snapshot),
		minIntervalMs: DefaultMinIntervalMs,
		maxIntervalMs: DefaultMaxIntervalMs,
		baseTick:      BaseTick,
		bus:           bus,
		fileCh:        make(chan FileEvent, fileEventBuffer),
	}
}

// Events returns the channel of per-file change events Controller consumes
// to build and enqueue Transfers.
func (m *Manager) Events() <-chan FileEvent {
	return m.fileCh
}

// AddPath registers root for watching, performing its initial enumeration
// synchronously. If construction fails (root not readable), the add is
// rejected and an Error + PathRemoved pair is emitted, per spec.md §4.4.
func (m *Manager) AddPath(root string) error {
	root, err := canonical(root)
	if err != nil {
		return err
	}

	s, err := snapshot.New(root, m.minIntervalMs, m.maxIntervalMs)
	if err != nil {
		m.bus.Log(events.Error, fmt.Sprintf("add_path %s: %v", root, err))
		m.bus.Log(events.PathRemoved, root)
		return fmt.Errorf("watch: add_path %s: %w", root, err)
	}

	m.mut.Lock()
	m.snapshots[root] = s
	m.mut.Unlock()

	m.bus.Log(events.PathAdded, root)
	return nil
}

// RemovePath stops watching root, if present.
func (m *Manager) RemovePath(root string) {
	root, err := canonical(root)
	if err != nil {
		return
	}

	m.mut.Lock()
	_, existed := m.snapshots[root]
	delete(m.snapshots, root)
	m.mut.Unlock()

	if existed {
		m.bus.Log(events.PathRemoved, root)
	}
}

// ListPaths returns the currently watched roots.
func (m *Manager) ListPaths() []string {
	m.mut.Lock()
	defer m.mut.Unlock()

	paths := make([]string, 0, len(m.snapshots))
	for p := range m.snapshots {
		paths = append(paths, p)
	}
	return paths
}

// Serve implements suture.Service: it runs the periodic scheduler until ctx
// is canceled.
func (m *Manager) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.baseTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick performs one scheduler wake: iterate every snapshot, polling those
// whose adaptive interval has elapsed. The snapshot list mutex is held for
// the whole pass, matching spec.md §4.4's "scheduler thread holds a mutex
// over the snapshot list while iterating".
func (m *Manager) tick() {
	m.mut.Lock()
	defer m.mut.Unlock()

	now := time.Now()
	for root, s := range m.snapshots {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		if now.Sub(s.LastPoll()) < time.Duration(s.CurrentPollIntervalMs())*time.Millisecond {
			continue
		}

		evs, changed, err := s.Poll()
		if err != nil {
			l.Debugf("poll %s: %v", root, err)
			m.bus.Log(events.Error, fmt.Sprintf("poll %s: %v", root, err))
			s.UpdateInterval(false)
			continue
		}

		s.UpdateInterval(changed)

		for _, e := range evs {
			fe := FileEvent{
				Root:    root,
				Kind:    e.Kind,
				Path:    e.Path,
				OldPath: e.OldPath,
			}
			select {
			case m.fileCh <- fe:
			default:
				l.Warnf("file event queue full, dropping %s %s under %s", e.Kind, e.Path, root)
			}
		}
	}
}

func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
