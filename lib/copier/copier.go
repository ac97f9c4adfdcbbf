// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package copier implements Copier (spec.md C5): an interruptible,
// progress-reporting single-file copy with exclusive destination
// reservation, plus the is_up_to_date predicate (spec.md §4.5.1) used both
// by the copier itself and by Worker's admission tick.
package copier

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/srilakshmikanthanp/pulldog/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("copier", "single file copy")

// chunkSize is the minimum chunk the spec requires when the platform lacks
// a restartable copy primitive (spec.md §4.5).
const chunkSize = 1 << 20 // 1 MiB

// Partial-content sampling parameters (spec.md §4.5.1 design values).
const (
	sampleWindow = 1024
	sampleCount  = 50
)

// Outcome is the terminal result of a Copier run.
type Outcome int

const (
	// Completed indicates CopyEnd — a successful copy or idempotent skip.
	Completed Outcome = iota
	// Failed indicates CopyFailed.
	Failed
	// Canceled indicates CopyCanceled.
	Canceled
)

// ErrorCode classifies why a Copier failed, mirroring spec.md §7.
type ErrorCode int

const (
	NoError ErrorCode = iota
	FileExists
	IoError
)

// ProgressFunc is invoked after each chunk is written with
// fraction ∈ [0.0, 1.0]. It returns nothing and cannot stop the copy;
// stopping is requested through Copier.Cancel, which the copy loop checks
// before each chunk.
type ProgressFunc func(fraction float64)

// Result is returned by Start once the copy reaches a terminal state.
type Result struct {
	Outcome   Outcome
	ErrorCode ErrorCode
	Err       error
}

// Copier performs one copy from From to To. The zero value is not usable;
// construct with New.
type Copier struct {
	From string
	To   string

	cancelFlag atomic.Bool
	doneFlag   atomic.Bool

	onProgress ProgressFunc
}

// New constructs a Copier for a single from→to transfer. onProgress may be
// nil.
func New(from, to string, onProgress ProgressFunc) *Copier {
	return &Copier{From: from, To: to, onProgress: onProgress}
}

// Cancel requests cooperative cancellation (spec.md §4.5). It has effect
// only until the copy reaches a terminal state; calling it after that, or
// more than once, is a no-op.
func (c *Copier) Cancel() {
	if c.doneFlag.Load() {
		return
	}
	c.cancelFlag.Store(true)
}

// IsCanceled reports whether cancellation has been requested.
func (c *Copier) IsCanceled() bool {
	return c.cancelFlag.Load()
}

// Start runs the copy to completion or to a terminal event. It never
// returns before emitting exactly one terminal Outcome in the Result, and
// the caller is expected to translate Result into the corresponding
// CopyEnd/CopyFailed/CopyCanceled event plus any preceding CopyStart.
//
// A failure to create the destination's parent directory is returned as
// Failed/IoError before any destination I/O. Worker creates that directory
// itself before it emits CopyStart and calls Start, so a parent that cannot
// be created reaches subscribers as CopyFailed with no CopyStart.
//
// If the copy is canceled or fails after the destination file was created,
// the partial destination file is removed, so a later copy of the same
// transfer does not find it in place.
func (c *Copier) Start() Result {
	defer c.doneFlag.Store(true)

	if err := os.MkdirAll(filepath.Dir(c.To), 0o755); err != nil {
		return Result{Outcome: Failed, ErrorCode: IoError, Err: fmt.Errorf("copier: mkdir parent: %w", err)}
	}

	src, err := os.Open(c.From)
	if err != nil {
		return Result{Outcome: Failed, ErrorCode: IoError, Err: fmt.Errorf("copier: open source: %w", err)}
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return Result{Outcome: Failed, ErrorCode: IoError, Err: fmt.Errorf("copier: stat source: %w", err)}
	}
	total := info.Size()

	dst, err := os.OpenFile(c.To, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			upToDate, checkErr := IsUpToDate(c.From, c.To)
			if checkErr != nil {
				return Result{Outcome: Failed, ErrorCode: IoError, Err: fmt.Errorf("copier: up-to-date check: %w", checkErr)}
			}
			if upToDate {
				l.Debugf("%s -> %s: destination exists and is up to date, skipping", c.From, c.To)
				return Result{Outcome: Completed}
			}
			l.Debugf("%s -> %s: destination exists and differs", c.From, c.To)
			return Result{Outcome: Failed, ErrorCode: FileExists, Err: fmt.Errorf("copier: destination exists and differs: %s", c.To)}
		}
		return Result{Outcome: Failed, ErrorCode: IoError, Err: fmt.Errorf("copier: create destination: %w", err)}
	}
	defer dst.Close()

	res := c.copyChunks(src, dst, total)
	if res.Outcome != Completed {
		dst.Close()
		if err := os.Remove(c.To); err != nil {
			l.Debugf("%s: removing partial destination: %v", c.To, err)
		}
	}
	return res
}

// copyChunks reads src and writes dst sequentially in chunkSize-byte
// chunks, invoking the progress callback after each one and honoring
// cancellation between chunks, matching the continuation contract of
// spec.md §4.5 (Continue/Stop/Cancel).
func (c *Copier) copyChunks(src io.Reader, dst io.Writer, total int64) Result {
	buf := make([]byte, chunkSize)
	var transferred int64

	for {
		if c.cancelFlag.Load() {
			return Result{Outcome: Canceled}
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return Result{Outcome: Failed, ErrorCode: IoError, Err: fmt.Errorf("copier: write: %w", writeErr)}
			}
			transferred += int64(n)
			c.reportProgress(transferred, total)
		}

		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return Result{Outcome: Failed, ErrorCode: IoError, Err: fmt.Errorf("copier: read: %w", readErr)}
		}
	}

	if c.cancelFlag.Load() {
		return Result{Outcome: Canceled}
	}

	return Result{Outcome: Completed}
}

func (c *Copier) reportProgress(transferred, total int64) {
	if c.onProgress == nil {
		return
	}
	fraction := 1.0
	if total > 0 {
		fraction = float64(transferred) / float64(total)
		if fraction > 1.0 {
			fraction = 1.0
		}
	}
	c.onProgress(fraction)
}

// IsUpToDate implements spec.md §4.5.1: a destination is considered
// up-to-date with its source only if the metadata check and the
// partial-content sampling both pass. It is deliberately probabilistic —
// consulted only after the platform layer has already reported that the
// destination exists, to distinguish a prior successful copy from a
// genuine collision.
func IsUpToDate(src, dst string) (bool, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false, nil
	}
	dstInfo, err := os.Stat(dst)
	if err != nil {
		return false, nil
	}

	if dstInfo.Size() != srcInfo.Size() {
		return false, nil
	}
	if dstInfo.ModTime().UTC().Before(srcInfo.ModTime().UTC()) {
		return false, nil
	}

	same, err := sameContent(src, dst, srcInfo.Size())
	if err != nil {
		return false, err
	}
	return same, nil
}

// sameContent implements the partial-content check: first H bytes, last H
// bytes, then N random H-byte windows, all compared byte-for-byte. Whole
// files are compared when size < H.
func sameContent(src, dst string, size int64) (bool, error) {
	sf, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer sf.Close()

	df, err := os.Open(dst)
	if err != nil {
		return false, err
	}
	defer df.Close()

	if size < sampleWindow {
		return readAllEqual(sf, df)
	}

	if ok, err := compareAt(sf, df, 0, sampleWindow); err != nil || !ok {
		return ok, err
	}
	if ok, err := compareAt(sf, df, size-sampleWindow, sampleWindow); err != nil || !ok {
		return ok, err
	}

	maxOffset := size - sampleWindow
	for i := 0; i < sampleCount; i++ {
		offset := rand.Int63n(maxOffset + 1)
		if ok, err := compareAt(sf, df, offset, sampleWindow); err != nil || !ok {
			return ok, err
		}
	}

	return true, nil
}

func compareAt(a, b *os.File, offset int64, length int) (bool, error) {
	bufA := make([]byte, length)
	bufB := make([]byte, length)

	if _, err := a.ReadAt(bufA, offset); err != nil && err != io.EOF {
		return false, err
	}
	if _, err := b.ReadAt(bufB, offset); err != nil && err != io.EOF {
		return false, err
	}

	for i := range bufA {
		if bufA[i] != bufB[i] {
			return false, nil
		}
	}
	return true, nil
}

func readAllEqual(a, b io.Reader) (bool, error) {
	bufA, err := io.ReadAll(a)
	if err != nil {
		return false, err
	}
	bufB, err := io.ReadAll(b)
	if err != nil {
		return false, err
	}
	if len(bufA) != len(bufB) {
		return false, nil
	}
	for i := range bufA {
		if bufA[i] != bufB[i] {
			return false, nil
		}
	}
	return true, nil
}
