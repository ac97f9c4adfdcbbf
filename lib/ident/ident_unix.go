// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build !windows

package ident

import (
	"golang.org/x/sys/unix"
)

// Of returns the stable identity of the file at path: its device and inode
// numbers, which together survive a rename within the same filesystem.
func Of(path string) Identity {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Absent
	}
	return Identity{
		valid:  true,
		volume: uint64(st.Dev),
		file:   st.Ino,
	}
}
