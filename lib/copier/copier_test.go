// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package copier

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStartCopiesFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "nested", "dst.txt")

	data := bytes.Repeat([]byte("x"), 5*chunkSize+17)
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatal(err)
	}

	var fractions []float64
	c := New(src, dst, func(f float64) { fractions = append(fractions, f) })
	res := c.Start()

	if res.Outcome != Completed {
		t.Fatalf("expected Completed, got %v (%v)", res.Outcome, res.Err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("copied content mismatch")
	}

	if len(fractions) == 0 {
		t.Fatal("expected at least one progress callback")
	}
	for i := 1; i < len(fractions); i++ {
		if fractions[i] < fractions[i-1] {
			t.Fatalf("progress not monotonic: %v", fractions)
		}
	}
	if fractions[len(fractions)-1] != 1.0 {
		t.Fatalf("expected final fraction 1.0, got %v", fractions[len(fractions)-1])
	}
}

func TestStartSkipsWhenUpToDate(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")

	data := []byte("identical content")
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(dst, future, future); err != nil {
		t.Fatal(err)
	}

	c := New(src, dst, nil)
	res := c.Start()
	if res.Outcome != Completed {
		t.Fatalf("expected Completed (idempotent skip), got %v (%v)", res.Outcome, res.Err)
	}
}

func TestStartFailsOnDifferentExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")

	if err := os.WriteFile(src, []byte("source content here"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("totally different, not same size"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(src, dst, nil)
	res := c.Start()
	if res.Outcome != Failed || res.ErrorCode != FileExists {
		t.Fatalf("expected Failed/FileExists, got %v/%v", res.Outcome, res.ErrorCode)
	}
}

func TestCancelMidCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")

	data := bytes.Repeat([]byte("y"), 10*chunkSize)
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(src, dst, nil)
	c.Cancel()

	res := c.Start()
	if res.Outcome != Canceled {
		t.Fatalf("expected Canceled, got %v", res.Outcome)
	}
}

func TestIsUpToDateReflexive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, bytes.Repeat([]byte("z"), 4096), 0o644); err != nil {
		t.Fatal(err)
	}

	ok, err := IsUpToDate(path, path)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a file to be up to date with itself")
	}
}

func TestIsUpToDateFalseOnSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	os.WriteFile(src, []byte("short"), 0o644)
	os.WriteFile(dst, []byte("a much longer string of bytes"), 0o644)

	ok, err := IsUpToDate(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected size mismatch to be reported as not up to date")
	}
}
