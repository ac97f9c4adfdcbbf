// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/srilakshmikanthanp/pulldog/lib/events"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestObserveTransferOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveTransfer(events.CopyStart, 0)
	c.ObserveTransfer(events.CopyEnd, 1.5)

	if v := counterValue(t, c.CopyTotal.WithLabelValues("success")); v != 1 {
		t.Fatalf("expected 1 success, got %v", v)
	}

	c.ObserveTransfer(events.CopyStart, 0)
	c.ObserveTransfer(events.CopyFailed, 0)
	if v := counterValue(t, c.CopyTotal.WithLabelValues("failed")); v != 1 {
		t.Fatalf("expected 1 failed, got %v", v)
	}

	c.ObserveTransfer(events.CopyStart, 0)
	c.ObserveTransfer(events.CopyCanceled, 0)
	if v := counterValue(t, c.CopyTotal.WithLabelValues("canceled")); v != 1 {
		t.Fatalf("expected 1 canceled, got %v", v)
	}
}

func TestSetPending(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.SetPending(7)

	var m dto.Metric
	if err := c.Pending.Write(&m); err != nil {
		t.Fatal(err)
	}
	if m.GetGauge().GetValue() != 7 {
		t.Fatalf("expected pending gauge 7, got %v", m.GetGauge().GetValue())
	}
}
