// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package controller

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/srilakshmikanthanp/pulldog/lib/events"
	"github.com/srilakshmikanthanp/pulldog/lib/snapshot"
	"github.com/srilakshmikanthanp/pulldog/lib/watch"
	"github.com/srilakshmikanthanp/pulldog/lib/worker"
)

func waitForEvent(t *testing.T, sub *events.Subscription, want events.Type, timeout time.Duration) (events.Event, bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return events.Event{}, false
		}
		e, err := sub.Poll(remaining)
		if err != nil {
			continue
		}
		if e.Type&want != 0 {
			return e, true
		}
	}
}

func TestCreatedEventProducesCopyEnd(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	internal := events.NewLogger()
	wm := watch.New(internal)
	w := worker.New(internal)
	w.SetThreshold(200 * time.Millisecond)
	c := New(wm, w, internal, dst)
	c.SetDrainInterval(20 * time.Millisecond)

	sub := c.Subscribe(events.CopyEnd)
	defer c.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Serve(ctx)
	go w.Serve(ctx)

	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	c.handleFileEvent(watch.FileEvent{Root: src, Kind: snapshot.Created, Path: "a.txt"})

	if _, ok := waitForEvent(t, sub, events.CopyEnd, 2*time.Second); !ok {
		t.Fatal("timed out waiting for CopyEnd")
	}

	if _, err := os.Stat(filepath.Join(dst, "a.txt")); err != nil {
		t.Fatalf("expected mirrored file: %v", err)
	}
}

func TestRemovedEventNeverEnqueues(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	internal := events.NewLogger()
	wm := watch.New(internal)
	w := worker.New(internal)
	w.SetThreshold(200 * time.Millisecond)
	c := New(wm, w, internal, dst)
	c.SetDrainInterval(20 * time.Millisecond)

	sub := c.Subscribe(events.CopyStart)
	defer c.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Serve(ctx)
	go w.Serve(ctx)

	c.handleFileEvent(watch.FileEvent{Root: src, Kind: snapshot.Removed, Path: "a.txt"})

	if _, ok := waitForEvent(t, sub, events.CopyStart, 300*time.Millisecond); ok {
		t.Fatal("did not expect a CopyStart for a Removed event")
	}
}

func TestRenamedEventIsTreatedAsCreated(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "b.txt"), []byte("renamed content"), 0o644); err != nil {
		t.Fatal(err)
	}

	internal := events.NewLogger()
	wm := watch.New(internal)
	w := worker.New(internal)
	w.SetThreshold(200 * time.Millisecond)
	c := New(wm, w, internal, dst)
	c.SetDrainInterval(20 * time.Millisecond)

	sub := c.Subscribe(events.CopyEnd)
	defer c.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Serve(ctx)
	go w.Serve(ctx)

	c.handleFileEvent(watch.FileEvent{Root: src, Kind: snapshot.Renamed, OldPath: "a.txt", Path: "b.txt"})

	if _, ok := waitForEvent(t, sub, events.CopyEnd, 2*time.Second); !ok {
		t.Fatal("timed out waiting for CopyEnd after rename")
	}
	if _, err := os.Stat(filepath.Join(dst, "b.txt")); err != nil {
		t.Fatalf("expected mirrored file at new path: %v", err)
	}
}

func TestSetDestinationRoot(t *testing.T) {
	internal := events.NewLogger()
	wm := watch.New(internal)
	w := worker.New(internal)
	c := New(wm, w, internal, "/one")

	if c.DestinationRoot() != "/one" {
		t.Fatalf("unexpected initial root: %s", c.DestinationRoot())
	}
	c.SetDestinationRoot("/two")
	if c.DestinationRoot() != "/two" {
		t.Fatalf("unexpected root after SetDestinationRoot: %s", c.DestinationRoot())
	}
}
