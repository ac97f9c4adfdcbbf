// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package sync provides wrappers around the stdlib sync primitives that are
// swapped, at process start, for variants that log lock contention when
// PULLDOG_LOGFACILITIES enables the "sync" facility. Callers depend on the
// interfaces here instead of sync.Mutex/sync.RWMutex directly so that the
// mutexes built through it (Worker's per-copier continuation, WatchManager's
// snapshot list, Controller's configuration fields) can be traced the same
// way without touching call sites.
package sync

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Mutex is a drop-in replacement for sync.Mutex.
type Mutex interface {
	Lock()
	Unlock()
}

// RWMutex is a drop-in replacement for sync.RWMutex.
type RWMutex interface {
	Mutex
	RLock()
	RUnlock()
}

// WaitGroup is a drop-in replacement for sync.WaitGroup.
type WaitGroup interface {
	Add(int)
	Done()
	Wait()
}

// NewMutex returns a Mutex, optionally instrumented with hold-time logging
// when debug logging is enabled for this package.
func NewMutex() Mutex {
	if debug {
		return &loggedMutex{}
	}
	return &sync.Mutex{}
}

// NewRWMutex returns an RWMutex, optionally instrumented.
func NewRWMutex() RWMutex {
	if debug {
		return &loggedRWMutex{
			unlockers: make([]string, 0),
		}
	}
	return &sync.RWMutex{}
}

// NewWaitGroup returns a WaitGroup, optionally instrumented.
func NewWaitGroup() WaitGroup {
	if debug {
		return &loggedWaitGroup{}
	}
	return &sync.WaitGroup{}
}

// threshold is the hold duration above which a lock/wait is logged.
const threshold = 100 * time.Millisecond

type loggedMutex struct {
	sync.Mutex
	start    time.Time
	lockedAt string
}

func (m *loggedMutex) Lock() {
	m.Mutex.Lock()
	m.start = time.Now()
	m.lockedAt = getCaller()
}

func (m *loggedMutex) Unlock() {
	duration := time.Since(m.start)
	if duration >= threshold {
		l.Debugf("Mutex held for %v. Locked at %s unlocked at %s", duration, m.lockedAt, getCaller())
	}
	m.Mutex.Unlock()
}

type loggedRWMutex struct {
	sync.RWMutex
	start    time.Time
	lockedAt string

	logUnlockers uint32

	unlockers    []string
	unlockersMut sync.Mutex
}

func (m *loggedRWMutex) Lock() {
	start := time.Now()

	atomic.StoreUint32(&m.logUnlockers, 1)
	m.RWMutex.Lock()
	atomic.StoreUint32(&m.logUnlockers, 0)

	m.start = time.Now()
	duration := m.start.Sub(start)

	m.lockedAt = getCaller()
	if duration > threshold {
		m.unlockersMut.Lock()
		unlockers := strings.Join(m.unlockers, ", ")
		m.unlockersMut.Unlock()
		l.Debugf("RWMutex took %v to lock. Locked at %s. RUnlockers while locking: %s", duration, m.lockedAt, unlockers)
	}
	m.unlockersMut.Lock()
	m.unlockers = m.unlockers[:0]
	m.unlockersMut.Unlock()
}

func (m *loggedRWMutex) Unlock() {
	duration := time.Since(m.start)
	if duration >= threshold {
		l.Debugf("RWMutex held for %v. Locked at %s: unlocked at %s", duration, m.lockedAt, getCaller())
	}
	m.RWMutex.Unlock()
}

func (m *loggedRWMutex) RUnlock() {
	if atomic.LoadUint32(&m.logUnlockers) == 1 {
		m.unlockersMut.Lock()
		m.unlockers = append(m.unlockers, getCaller())
		m.unlockersMut.Unlock()
	}
	m.RWMutex.RUnlock()
}

type loggedWaitGroup struct {
	sync.WaitGroup
}

func (wg *loggedWaitGroup) Wait() {
	start := time.Now()
	wg.WaitGroup.Wait()
	duration := time.Since(start)
	if duration >= threshold {
		l.Debugf("WaitGroup took %v at %s", duration, getCaller())
	}
}

func getCaller() string {
	_, file, line, _ := runtime.Caller(2)
	file = filepath.Join(filepath.Base(filepath.Dir(file)), filepath.Base(file))
	return fmt.Sprintf("%s:%d", file, line)
}
