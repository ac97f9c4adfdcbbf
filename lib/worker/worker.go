// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package worker implements Worker (spec.md C6): the pending-transfer
// admission loop that decides when a source file is safe to copy,
// dispatches Copiers onto a bounded pool, and guarantees at most one
// in-flight copier per Transfer via a cancel-then-redispatch rule.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"

	"github.com/srilakshmikanthanp/pulldog/lib/copier"
	"github.com/srilakshmikanthanp/pulldog/lib/events"
	"github.com/srilakshmikanthanp/pulldog/lib/filelock"
	"github.com/srilakshmikanthanp/pulldog/lib/logger"
	stdsync "github.com/srilakshmikanthanp/pulldog/lib/sync"
	"github.com/srilakshmikanthanp/pulldog/lib/transfer"
)

var l = logger.DefaultLogger.NewFacility("worker", "pending-transfer admission")

// DefaultThreshold is the stability threshold design default (spec.md §9):
// the tick period is derived from it as threshold/2.
const DefaultThreshold = 5 * time.Second

// MinPoolSize is the worker-pool floor spec.md §4.6 designs for ("hardware
// parallelism, minimum 4").
const MinPoolSize = 4

// PendingEntry records when a transfer was first (re-)enqueued.
type PendingEntry struct {
	Transfer        transfer.Transfer
	FirstEnqueuedAt time.Time
}

// inFlightCopier tracks one dispatched Copier's cooperative cancellation
// state and a one-shot continuation to run on termination, implementing
// the re-entrant re-dispatch chain of spec.md §4.6.
type inFlightCopier struct {
	transfer transfer.Transfer
	copier   *copier.Copier

	mut          stdsync.Mutex
	continuation func()
}

// setContinuation installs (or replaces) the one-shot continuation to run
// when this copier terminates.
func (ifc *inFlightCopier) setContinuation(f func()) {
	ifc.mut.Lock()
	ifc.continuation = f
	ifc.mut.Unlock()
}

// takeContinuation returns and clears the installed continuation, if any.
func (ifc *inFlightCopier) takeContinuation() func() {
	ifc.mut.Lock()
	defer ifc.mut.Unlock()
	f := ifc.continuation
	ifc.continuation = nil
	return f
}

// Worker is the Worker of spec.md C6. The zero value is not usable;
// construct with New.
type Worker struct {
	pending *xsync.MapOf[transfer.Transfer, *PendingEntry]
	coping  *xsync.MapOf[transfer.Transfer, *inFlightCopier]

	bus  *events.Logger
	pool *semaphore.Weighted

	thresholdMs int64
	tickPeriod  time.Duration
}

// New constructs a Worker with the default stability threshold. bus
// receives CopyStart/Copy/CopyEnd/CopyFailed/CopyCanceled/Error events.
func New(bus *events.Logger) *Worker {
	poolSize := runtime.NumCPU()
	if poolSize < MinPoolSize {
		poolSize = MinPoolSize
	}

	w := &Worker{
		pending: xsync.NewMapOf[transfer.Transfer, *PendingEntry](),
		coping:  xsync.NewMapOf[transfer.Transfer, *inFlightCopier](),
		bus:     bus,
		pool:    semaphore.NewWeighted(int64(poolSize)),
	}
	w.SetThreshold(DefaultThreshold)
	return w
}

// SetThreshold mutates the stability threshold and derived tick period
// (spec.md C6 "set_threshold(ms)").
func (w *Worker) SetThreshold(d time.Duration) {
	w.thresholdMs = d.Milliseconds()
	w.tickPeriod = d / 2
}

// Enqueue records transfer in pending, overwriting any existing entry's
// timestamp (spec.md §4.6).
func (w *Worker) Enqueue(t transfer.Transfer) {
	w.pending.Store(t, &PendingEntry{Transfer: t, FirstEnqueuedAt: time.Now()})
}

// Retry re-enqueues transfer and, if it is currently copying, requests
// cancellation of the in-flight copier (spec.md C6 "retry(transfer)").
func (w *Worker) Retry(t transfer.Transfer) {
	w.Enqueue(t)
	if ifc, ok := w.coping.Load(t); ok {
		ifc.copier.Cancel()
	}
}

// Serve implements suture.Service: it runs the periodic admission tick
// until ctx is canceled.
func (w *Worker) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick()
		}
	}
}

// tick implements the admission algorithm of spec.md §4.6, steps 1-4, for
// each entry visited by a Range over pending. Range walks the live map, not
// a copy: a transfer enqueued while the pass runs may or may not be visited
// by that pass.
func (w *Worker) tick() {
	w.pending.Range(func(t transfer.Transfer, _ *PendingEntry) bool {
		w.admit(t)
		return true
	})
}

func (w *Worker) admit(t transfer.Transfer) {
	info, err := os.Lstat(t.From)
	if err != nil || info.IsDir() {
		w.pending.Delete(t)
		return
	}

	upToDate, err := copier.IsUpToDate(t.From, t.To)
	if err == nil && upToDate {
		w.pending.Delete(t)
		return
	}

	if err := os.MkdirAll(filepath.Dir(t.To), 0o755); err != nil {
		w.bus.Log(events.Error, fmt.Sprintf("create parent for %s: %v", t.To, err))
		w.pending.Delete(t)
		return
	}

	lock, err := filelock.TryLock(t.From, filelock.NoShare, filelock.Read)
	if err != nil {
		if err == filelock.ErrUnrecoverable {
			w.bus.Log(events.Error, fmt.Sprintf("lock denied for %s: %v", t.From, err))
			w.pending.Delete(t)
		}
		// Recoverable: leave in pending, retry next tick.
		return
	}
	lock.Unlock()

	w.pending.Delete(t)

	if existing, ok := w.coping.Load(t); ok {
		l.Debugf("%s: already copying, requesting cancellation before redispatch", t)
		existing.setContinuation(func() { w.dispatch(t) })
		existing.copier.Cancel()
		return
	}

	w.dispatch(t)
}

// dispatch creates and registers an InFlightCopier for t and submits it to
// the bounded worker pool. The Copier is constructed before the goroutine
// is spawned so that a concurrent admit() calling Retry/cancel on this
// transfer never races against an unset copier field.
func (w *Worker) dispatch(t transfer.Transfer) {
	c := copier.New(t.From, t.To, func(fraction float64) {
		w.bus.Log(events.Copy, CopyProgress{Transfer: t, Fraction: fraction})
	})
	ifc := &inFlightCopier{transfer: t, copier: c, mut: stdsync.NewMutex()}
	w.coping.Store(t, ifc)

	go func() {
		ctx := context.Background()
		if err := w.pool.Acquire(ctx, 1); err != nil {
			w.coping.Delete(t)
			return
		}
		defer w.pool.Release(1)

		var result copier.Result
		if err := os.MkdirAll(filepath.Dir(t.To), 0o755); err != nil {
			result = copier.Result{Outcome: copier.Failed, ErrorCode: copier.IoError, Err: fmt.Errorf("create parent for %s: %w", t.To, err)}
		} else {
			w.bus.Log(events.CopyStart, t)
			result = c.Start()
		}

		switch result.Outcome {
		case copier.Completed:
			w.bus.Log(events.CopyEnd, t)
		case copier.Canceled:
			w.bus.Log(events.CopyCanceled, t)
		case copier.Failed:
			w.bus.Log(events.CopyFailed, CopyFailure{Transfer: t, Code: result.ErrorCode, Err: result.Err})
		}

		w.coping.Delete(t)

		if cont := ifc.takeContinuation(); cont != nil {
			cont()
		}
	}()
}

// CopyProgress is the payload of a Copy event.
type CopyProgress struct {
	Transfer transfer.Transfer
	Fraction float64
}

// CopyFailure is the payload of a CopyFailed event.
type CopyFailure struct {
	Transfer transfer.Transfer
	Code     copier.ErrorCode
	Err      error
}
