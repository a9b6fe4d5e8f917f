// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// watchDebounce coalesces editor save bursts into one run.
const watchDebounce = 300 * time.Millisecond

func newWatchCmd(a *app) *cobra.Command {
	var flags reportFlags

	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Re-run the pipeline every time a Kotlin file changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx, args[0], flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func (a *app) watch(ctx context.Context, path string, flags reportFlags) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("cannot watch %s: %w", path, err)
	}

	exec, err := a.newExecutor(a.cfg, a.logger.Slog())
	if err != nil {
		return err
	}
	defer exec.Close()

	// Watch the directory: editors that save via rename drop a file watch.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	r := newRerunner(ctx, func(runCtx context.Context) {
		code, name, err := a.readSource(abs)
		if err != nil {
			a.logger.Warn("Skipping run", slog.String("error", err.Error()))
			return
		}
		start := time.Now()
		resp := exec.Execute(runCtx, code)
		if runCtx.Err() != nil {
			a.logger.Debug("Run superseded", slog.String("source", name))
			return
		}
		if err := a.report(resp, name, time.Since(start), flags); err != nil {
			a.logger.Warn("Run failed", slog.String("error", err.Error()))
		}
	})
	defer r.stop()

	a.logger.Info("Watching for changes", slog.String("path", abs))
	r.trigger()
	return watchLoop(ctx, abs, watcher.Events, watcher.Errors, watchDebounce, r.trigger, a.logger.Slog())
}

// watchLoop calls trigger once per debounced burst of writes to path.
// It returns when ctx is done or either channel closes.
func watchLoop(ctx context.Context, path string, events <-chan fsnotify.Event, errs <-chan error,
	debounce time.Duration, trigger func(), logger *slog.Logger) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, trigger)

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error", slog.String("error", err.Error()))
		}
	}
}

// rerunner starts fn on every trigger and cancels the previous run.
type rerunner struct {
	parent context.Context
	fn     func(ctx context.Context)

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

func newRerunner(parent context.Context, fn func(ctx context.Context)) *rerunner {
	return &rerunner{parent: parent, fn: fn}
}

func (r *rerunner) trigger() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped || r.parent.Err() != nil {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(r.parent)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.fn(ctx)
	}()
}

func (r *rerunner) stop() {
	r.mu.Lock()
	r.stopped = true
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}
