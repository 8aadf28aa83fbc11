// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cladeworks/seqcull/cmd/seqcull/config"
	"github.com/cladeworks/seqcull/pipeline"
	"github.com/cladeworks/seqcull/pkg/ux"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func runWatch(cmd *cobra.Command, args []string) {
	input := args[0]

	stages, err := buildStageList(cmd, runStages)
	if err != nil {
		slog.Error("Invalid stage list", "error", err)
		ux.Error(err.Error())
		return
	}
	p, err := pipeline.NewBuilder(pipelineName).Add(stages...).WithLogger(slog.Default()).Build()
	if err != nil {
		slog.Error("Failed to build pipeline", "error", err)
		ux.Error(fmt.Sprintf("Cannot build pipeline: %v", err))
		return
	}

	debounce := watchInterval(watchDebounceMS, config.Global.Watch.DebounceMS)
	minInterval := watchInterval(watchMinIntervalMS, config.Global.Watch.MinIntervalMS)

	abs, err := filepath.Abs(input)
	if err != nil {
		slog.Error("Failed to resolve path", "path", input, "error", err)
		ux.Error(fmt.Sprintf("Cannot resolve %s: %v", input, err))
		return
	}
	out := resolveOutputPath(input)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create watcher", "error", err)
		ux.Error(fmt.Sprintf("Cannot watch %s: %v", input, err))
		return
	}
	defer func() {
		if closeErr := watcher.Close(); closeErr != nil {
			slog.Warn("Failed to close watcher", "error", closeErr)
		}
	}()

	// Watch the directory. Editors replace files by rename and create,
	// which silently drops a watch set on the file itself.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		slog.Error("Failed to watch directory", "dir", filepath.Dir(abs), "error", err)
		ux.Error(fmt.Sprintf("Cannot watch %s: %v", input, err))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limiter := rate.NewLimiter(rate.Every(minInterval), 1)
	changed := make(chan struct{}, 1)

	fmt.Printf("Watching %s, writing %s (debounce %s, min interval %s)\n",
		input, out, debounce, minInterval)

	// Prime one cycle so the output exists before the first edit.
	changed <- struct{}{}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pumpEvents(ctx, watcher, abs, changed)
	})
	g.Go(func() error {
		return debounceRuns(ctx, p, input, out, debounce, limiter, changed)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Watch loop failed", "error", err)
		ux.Error(fmt.Sprintf("Watch failed: %v", err))
		return
	}
	fmt.Println("Stopped watching")
}

// watchInterval converts a millisecond flag override to a duration, falling
// back to the config value when the flag was left at zero.
func watchInterval(flagMS, configMS int) time.Duration {
	ms := flagMS
	if ms <= 0 {
		ms = configMS
	}
	return time.Duration(ms) * time.Millisecond
}

// pumpEvents forwards events for the watched file into changed, collapsing
// bursts into a single pending signal.
func pumpEvents(ctx context.Context, watcher *fsnotify.Watcher, target string, changed chan<- struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			select {
			case changed <- struct{}{}:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Watcher error", "error", err)
		}
	}
}

// debounceRuns waits out the debounce window after each change signal, then
// reruns the pipeline. The limiter spaces successive runs.
func debounceRuns(ctx context.Context, p *pipeline.Pipeline, input, out string,
	debounce time.Duration, limiter *rate.Limiter, changed <-chan struct{}) error {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-changed:
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			watchCycle(ctx, p, input, out)
		}
	}
}

// watchCycle runs the pipeline once against the current table on disk.
// Failures are reported but do not stop the watch.
func watchCycle(ctx context.Context, p *pipeline.Pipeline, input, out string) {
	s, err := loadStoreArg(input)
	if err != nil {
		slog.Warn("Failed to load table", "path", input, "error", err)
		ux.FileStatus(input, ux.IconError, err.Error())
		return
	}

	res, err := p.Run(ctx, s)
	if err != nil {
		slog.Warn("Pipeline failed", "path", input, "error", err)
		ux.FileStatus(input, ux.IconError, err.Error())
		return
	}

	if err := writeStoreOut(out, res.Store); err != nil {
		slog.Warn("Failed to write output", "path", out, "error", err)
		ux.FileStatus(out, ux.IconError, err.Error())
		return
	}

	ux.FileStatus(out, ux.IconSuccess, fmt.Sprintf("%d kept of %d in %.2fs",
		res.Store.KeptCount(), res.Store.Len(), res.Duration.Seconds()))
}
