// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package controller implements Controller (spec.md C7): the glue between
// WatchManager and Worker. It translates watch-root-relative file events
// into Transfers, hands them to Worker, and fans Worker's (and WatchManager's)
// raw events out to external subscribers through a drain loop so bursts
// from arbitrary producer goroutines are delivered as a bounded,
// single-threaded stream (spec.md §4.7, §5).
package controller

import (
	"context"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/srilakshmikanthanp/pulldog/lib/events"
	"github.com/srilakshmikanthanp/pulldog/lib/logger"
	"github.com/srilakshmikanthanp/pulldog/lib/snapshot"
	stdsync "github.com/srilakshmikanthanp/pulldog/lib/sync"
	"github.com/srilakshmikanthanp/pulldog/lib/transfer"
	"github.com/srilakshmikanthanp/pulldog/lib/watch"
	"github.com/srilakshmikanthanp/pulldog/lib/worker"
)

var l = logger.DefaultLogger.NewFacility("controller", "watch-to-worker glue")

// DefaultDrainInterval and DefaultEventBudget are the design values of
// spec.md §4.7 for the Controller's event fan-out.
const (
	DefaultDrainInterval = 1000 * time.Millisecond
	DefaultEventBudget   = 25
)

// Controller binds a WatchManager to a Worker, translating file events into
// Transfers, and re-publishes every event Worker and WatchManager log on
// their shared internal bus to its own public bus, budgeted per drain tick
// via a token bucket. The zero value is not usable; construct with New.
type Controller struct {
	watch  *watch.Manager
	worker *worker.Worker

	internal *events.Logger // fed by watch + worker
	public   *events.Logger // what external subscribers see

	mut             stdsync.Mutex
	destinationRoot string
	drainInterval   time.Duration
	limiter         *rate.Limiter

	upstream *events.Subscription
}

// New constructs a Controller. internal is the events.Logger watchMgr and
// workerSvc were themselves constructed with — Controller subscribes to it
// with events.AllTypes and re-publishes what it drains to its own internal
// public bus.
func New(watchMgr *watch.Manager, workerSvc *worker.Worker, internal *events.Logger, destinationRoot string) *Controller {
	c := &Controller{
		watch:           watchMgr,
		worker:          workerSvc,
		internal:        internal,
		public:          events.NewLogger(),
		mut:             stdsync.NewMutex(),
		destinationRoot: destinationRoot,
		drainInterval:   DefaultDrainInterval,
		upstream:        internal.Subscribe(events.AllTypes),
	}
	c.limiter = rate.NewLimiter(rate.Every(c.drainInterval/DefaultEventBudget), DefaultEventBudget)
	return c
}

// SetDestinationRoot changes the root new transfers are mapped into
// (spec.md §6 "set_destination_root").
func (c *Controller) SetDestinationRoot(path string) {
	c.mut.Lock()
	c.destinationRoot = path
	c.mut.Unlock()
}

// DestinationRoot returns the current destination root.
func (c *Controller) DestinationRoot() string {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.destinationRoot
}

// SetEventBudget and SetDrainInterval implement spec.md §6's
// `set_parallel_event_budget` / `set_event_drain_interval_ms`.
func (c *Controller) SetEventBudget(n int) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.limiter = rate.NewLimiter(rate.Every(c.drainInterval/time.Duration(n)), n)
}

func (c *Controller) SetDrainInterval(d time.Duration) {
	c.mut.Lock()
	c.drainInterval = d
	c.limiter.SetLimit(rate.Every(d / time.Duration(c.limiter.Burst())))
	c.mut.Unlock()
}

// Retry re-enters the pipeline for transfer as if the source had just
// changed (spec.md §6 "retry(transfer)").
func (c *Controller) Retry(t transfer.Transfer) {
	c.worker.Retry(t)
}

// Subscribe returns a subscription to Controller's budgeted, re-published
// event stream, for an external UI/shell to consume.
func (c *Controller) Subscribe(mask events.Type) *events.Subscription {
	return c.public.Subscribe(mask)
}

// Unsubscribe releases a subscription returned by Subscribe.
func (c *Controller) Unsubscribe(s *events.Subscription) {
	c.public.Unsubscribe(s)
}

// Serve implements suture.Service: it consumes watch.Manager's file-change
// events (translating Created/Updated/Renamed into Transfers for Worker,
// per spec.md §4.7) and drains the internal event bus into the public one
// on a fixed interval, up to the configured budget per tick. It runs until
// ctx is canceled.
func (c *Controller) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.drainInterval)
	defer ticker.Stop()

	fileEvents := c.watch.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fe := <-fileEvents:
			c.handleFileEvent(fe)
		case <-ticker.C:
			c.drain(ctx)
		}
	}
}

// drain republishes up to the configured budget of queued internal events
// to the public bus, matching spec.md §4.7's "up to parallel_events drained
// per tick". Events beyond the budget remain queued in upstream and are
// drained on a later tick; none are dropped here (BufferSize in lib/events
// is the only loss point, under sustained overload).
func (c *Controller) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil || c.limiter.Tokens() < 1 {
			return
		}
		select {
		case e := <-c.upstream.C():
			c.limiter.Allow()
			c.public.Log(e.Type, e.Data)
		default:
			return
		}
	}
}

func (c *Controller) handleFileEvent(fe watch.FileEvent) {
	switch fe.Kind {
	case snapshot.Created, snapshot.Updated, snapshot.Renamed:
		c.enqueueTransfer(fe.Root, fe.Path)
	case snapshot.Removed:
		// The destination is never pruned (non-goal); no action.
	}
}

// enqueueTransfer builds Transfer(source, destination) from a watch root
// and a root-relative path, per spec.md §4.7's path translation:
// destination = destination_root / relative_path, the watched root's
// basename is never prepended (Open Question #1, resolved in SPEC_FULL.md).
func (c *Controller) enqueueTransfer(root, relPath string) {
	source := filepath.Join(root, relPath)
	destination := filepath.Join(c.DestinationRoot(), relPath)
	t := transfer.New(source, destination)
	l.Debugf("enqueue %s", t)
	c.worker.Enqueue(t)
}
