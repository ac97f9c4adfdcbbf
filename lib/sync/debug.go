// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package sync

import (
	"log"
	"os"
	"strings"
)

// This package does not use lib/logger for its own diagnostic output; it
// writes through the standard log package and reads the
// PULLDOG_LOGFACILITIES environment variable directly. Only a bare "sync"
// entry or a value of exactly "all" enables it; "name:level" tokens are not
// parsed here.
var debug = facilityEnabled("sync")

type stdLogger struct{}

func (stdLogger) Debugf(format string, args ...interface{}) {
	log.Printf("sync: "+format, args...)
}

var l = stdLogger{}

func facilityEnabled(name string) bool {
	facilities := os.Getenv("PULLDOG_LOGFACILITIES")
	if facilities == "" {
		return false
	}
	if facilities == "all" {
		return true
	}
	for _, f := range strings.Split(facilities, ",") {
		if strings.TrimSpace(f) == name {
			return true
		}
	}
	return false
}
