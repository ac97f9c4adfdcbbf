// Copyright (C) 2024 The Pulldog Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Command pulldogd is a thin composition root around the replication core:
// it parses flags, wires WatchManager, Worker, and Controller into one
// suture supervisor tree, optionally serves Prometheus metrics, and drains
// the public event stream to the log until a termination signal arrives.
// It is not part of the replication core itself — it exists only to
// exercise it headlessly, standing in for the GUI/tray shell spec.md scopes
// out.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/srilakshmikanthanp/pulldog/lib/controller"
	"github.com/srilakshmikanthanp/pulldog/lib/events"
	"github.com/srilakshmikanthanp/pulldog/lib/logger"
	"github.com/srilakshmikanthanp/pulldog/lib/metrics"
	"github.com/srilakshmikanthanp/pulldog/lib/transfer"
	"github.com/srilakshmikanthanp/pulldog/lib/watch"
	"github.com/srilakshmikanthanp/pulldog/lib/worker"
)

var l = logger.DefaultLogger.NewFacility("pulldogd", "composition root")

// cli is the flag surface for the headless exerciser binary. It accepts
// the same knobs spec.md §6 lists as commands (add_watch,
// set_destination_root, set_stability_threshold_ms, ...) as one-shot
// startup flags, since persisted configuration is explicitly an external
// concern (spec.md §1 "Out of scope").
type cli struct {
	Watch         []string      `help:"Source directory to watch (repeatable)." required:"" short:"w"`
	Destination   string        `help:"Destination root all watched files are mirrored into." required:"" short:"d"`
	Threshold     time.Duration `help:"Stability threshold." default:"5s"`
	EventBudget   int           `help:"Max events drained to subscribers per tick." default:"25"`
	DrainInterval time.Duration `help:"Event drain tick interval." default:"1s"`
	MetricsAddr   string        `help:"Address to serve Prometheus metrics on; empty disables it." default:":9469"`
}

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) { l.Debugf(format, args...) })); err != nil {
		l.Warnf("automaxprocs: %v", err)
	}

	var c cli
	kong.Parse(&c, kong.Name("pulldogd"), kong.Description("pulldog replication core exerciser"))

	if err := run(c); err != nil {
		l.Warnf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(c cli) error {
	internal := events.NewLogger()

	watchMgr := watch.New(internal)
	for _, path := range c.Watch {
		if err := watchMgr.AddPath(path); err != nil {
			return fmt.Errorf("add_watch %s: %w", path, err)
		}
	}

	workerSvc := worker.New(internal)
	workerSvc.SetThreshold(c.Threshold)

	ctrl := controller.New(watchMgr, workerSvc, internal, c.Destination)
	ctrl.SetEventBudget(c.EventBudget)
	ctrl.SetDrainInterval(c.DrainInterval)

	sup := suture.NewSimple("pulldogd")
	sup.Add(watchMgr)
	sup.Add(workerSvc)
	sup.Add(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		l.Infoln("received shutdown signal")
		cancel()
	}()

	if c.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		collector := metrics.NewCollector(reg)
		go observeMetrics(ctrl, collector)
		go serveMetrics(c.MetricsAddr, reg)
	}

	go logEvents(ctrl)

	return sup.Serve(ctx)
}

// logEvents drains Controller's public event stream to the facility
// logger, standing in for the out-of-scope GUI's event consumption.
func logEvents(ctrl *controller.Controller) {
	sub := ctrl.Subscribe(events.AllTypes)
	defer ctrl.Unsubscribe(sub)

	for {
		e, err := sub.Poll(time.Minute)
		if err != nil {
			continue
		}
		l.Debugf("%s: %v", e.Type, e.Data)
	}
}

// observeMetrics subscribes to Controller's copy lifecycle events and
// feeds the Prometheus collector, tracking per-transfer start times itself
// since events carry only the transfer, not elapsed time.
func observeMetrics(ctrl *controller.Controller, collector *metrics.Collector) {
	sub := ctrl.Subscribe(events.CopyStart | events.CopyEnd | events.CopyFailed | events.CopyCanceled)
	defer ctrl.Unsubscribe(sub)

	started := make(map[transfer.Transfer]time.Time)

	for {
		e, err := sub.Poll(time.Minute)
		if err != nil {
			continue
		}

		var t transfer.Transfer
		switch data := e.Data.(type) {
		case transfer.Transfer:
			t = data
		case worker.CopyProgress:
			t = data.Transfer
		case worker.CopyFailure:
			t = data.Transfer
		}

		switch e.Type {
		case events.CopyStart:
			started[t] = e.Time
			collector.ObserveTransfer(events.CopyStart, 0)
		case events.CopyEnd:
			collector.ObserveTransfer(events.CopyEnd, e.Time.Sub(started[t]).Seconds())
			delete(started, t)
		case events.CopyFailed:
			collector.ObserveTransfer(events.CopyFailed, 0)
			delete(started, t)
		case events.CopyCanceled:
			collector.ObserveTransfer(events.CopyCanceled, 0)
			delete(started, t)
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		l.Warnf("metrics server: %v", err)
	}
}
