// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package transfer defines the Transfer value type (spec.md C8): an
// immutable (source, destination) pair that identifies one replication
// intent. It is translated from original_source/models/transfer.
package transfer

import "fmt"

// Transfer is the pair (source absolute path, destination absolute path)
// uniquely identifying a replication intent. Transfer is a plain comparable
// struct, so it can be used directly as a map key (in Worker's pending and
// coping maps) without a separate hash function — Go compares and hashes
// struct fields for you.
type Transfer struct {
	From string
	To   string
}

// New builds a Transfer from a source and destination path.
func New(from, to string) Transfer {
	return Transfer{From: from, To: to}
}

func (t Transfer) String() string {
	return fmt.Sprintf("%s -> %s", t.From, t.To)
}
