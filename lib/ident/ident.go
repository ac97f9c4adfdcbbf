// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ident implements FileIdentity (spec.md C2): a stable,
// cross-rename identity for a path, computed from a single cheap metadata
// query. Two paths with an equal Identity denote the same underlying file
// object even after one has been renamed, which is how lib/snapshot infers
// Renamed events from a Created/Removed pair (spec.md §4.3).
package ident

// Identity is an opaque (volume, file) pair. The zero value is not a valid
// identity; use Absent to represent "could not be determined".
type Identity struct {
	valid  bool
	volume uint64
	file   uint64
}

// Absent is returned when a path's identity could not be read — typically
// because the file vanished between directory enumeration and the stat
// call. An Absent identity never equals any other identity, including
// another Absent one, matching spec.md §4.3's "never matches a rename" edge
// case.
var Absent = Identity{}

// IsAbsent reports whether id represents an unavailable identity.
func (id Identity) IsAbsent() bool {
	return !id.valid
}

// Same reports whether a and b identify the same underlying file object.
// Two Absent identities are never Same, since "identity unknown" carries no
// information about sameness.
func Same(a, b Identity) bool {
	if !a.valid || !b.valid {
		return false
	}
	return a.volume == b.volume && a.file == b.file
}
