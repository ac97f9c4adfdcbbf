// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mustWrite(t *testing.T, path string, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewPopulatesEntries(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a.txt"), "hello")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(dir, "sub", "b.txt"), "world")

	s, err := New(dir, 10_000, 60_000)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}
}

func TestPollDetectsCreated(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 10_000, 60_000)
	if err != nil {
		t.Fatal(err)
	}

	mustWrite(t, filepath.Join(dir, "a.txt"), "hello")

	events, changed, err := s.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected changed == true")
	}
	if len(events) != 1 || events[0].Kind != Created || events[0].Path != "a.txt" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestPollDetectsUpdated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	mustWrite(t, path, "hello")

	s, err := New(dir, 10_000, 60_000)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)
	mustWrite(t, path, "hello world")

	events, changed, err := s.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected changed == true")
	}
	if len(events) != 1 || events[0].Kind != Updated {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestPollDetectsRemoved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	mustWrite(t, path, "hello")

	s, err := New(dir, 10_000, 60_000)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	events, changed, err := s.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected changed == true")
	}
	if len(events) != 1 || events[0].Kind != Removed || events[0].Path != "a.txt" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestPollInfersRename(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	mustWrite(t, a, "hello")

	s, err := New(dir, 10_000, 60_000)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Rename(a, b); err != nil {
		t.Fatal(err)
	}

	events, changed, err := s.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected changed == true")
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one Renamed event, got %+v", events)
	}
	if events[0].Kind != Renamed || events[0].OldPath != "a.txt" || events[0].Path != "b.txt" {
		t.Fatalf("unexpected rename event: %+v", events[0])
	}
}

func TestPollNoChange(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a.txt"), "hello")

	s, err := New(dir, 10_000, 60_000)
	if err != nil {
		t.Fatal(err)
	}

	events, changed, err := s.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if changed || len(events) != 0 {
		t.Fatalf("expected no changes, got %+v", events)
	}
}

func TestUpdateIntervalBounds(t *testing.T) {
	s := &Snapshot{currentPollIntervalMs: 10_000, minIntervalMs: 10_000, maxIntervalMs: 60_000}

	s.UpdateInterval(false)
	if s.CurrentPollIntervalMs() != 20_000 {
		t.Fatalf("expected doubling to 20000, got %d", s.CurrentPollIntervalMs())
	}

	s.UpdateInterval(false)
	s.UpdateInterval(false)
	if s.CurrentPollIntervalMs() != 60_000 {
		t.Fatalf("expected clamp to max 60000, got %d", s.CurrentPollIntervalMs())
	}

	s.UpdateInterval(true)
	if s.CurrentPollIntervalMs() != 10_000 {
		t.Fatalf("expected reset to min on change, got %d", s.CurrentPollIntervalMs())
	}
}

func TestLenMatchesLiveEntriesAfterPoll(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a.txt"), "a")
	mustWrite(t, filepath.Join(dir, "b.txt"), "b")

	s, err := New(dir, 10_000, 60_000)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(dir, "a.txt")); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(dir, "c.txt"), "c")

	if _, _, err := s.Poll(); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 live entries after poll, got %d", s.Len())
	}
}
