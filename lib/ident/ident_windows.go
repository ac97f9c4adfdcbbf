// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build windows

package ident

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// Of returns the stable identity of the file at path: its volume serial
// number and 64-bit file index, which together survive a rename within the
// same volume. This mirrors what os.SameFile does internally on Windows,
// queried directly here so lib/snapshot can compare identities across
// poll cycles without keeping file handles open.
func Of(path string) Identity {
	p, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return Absent
	}

	h, err := windows.CreateFile(
		p,
		0, // query metadata only, no read/write access requested
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS,
		0,
	)
	if err != nil {
		return Absent
	}
	defer windows.CloseHandle(h)

	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &info); err != nil {
		return Absent
	}

	return Identity{
		valid:  true,
		volume: uint64(info.VolumeSerialNumber),
		file:   uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow),
	}
}
