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
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWatchLoop(t *testing.T, path string, trigger func()) (chan fsnotify.Event, chan error, context.CancelFunc, <-chan error) {
	t.Helper()
	events := make(chan fsnotify.Event)
	errs := make(chan error)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watchLoop(ctx, path, events, errs, 20*time.Millisecond, trigger, discardLogger())
	}()
	t.Cleanup(cancel)
	return events, errs, cancel, done
}

func TestWatchLoop_DebouncesBursts(t *testing.T) {
	var calls atomic.Int32
	events, _, cancel, done := startWatchLoop(t, "/src/add.kt", func() { calls.Add(1) })

	for i := 0; i < 5; i++ {
		events <- fsnotify.Event{Name: "/src/add.kt", Op: fsnotify.Write}
	}
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	require.NoError(t, <-done)
}

func TestWatchLoop_IgnoresOtherFilesAndOps(t *testing.T) {
	var calls atomic.Int32
	events, _, cancel, done := startWatchLoop(t, "/src/add.kt", func() { calls.Add(1) })

	events <- fsnotify.Event{Name: "/src/other.kt", Op: fsnotify.Write}
	events <- fsnotify.Event{Name: "/src/add.kt", Op: fsnotify.Chmod}
	events <- fsnotify.Event{Name: "/src/add.kt", Op: fsnotify.Remove}
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	events <- fsnotify.Event{Name: "/src/add.kt", Op: fsnotify.Create}
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWatchLoop_SurvivesWatcherErrors(t *testing.T) {
	var calls atomic.Int32
	events, errs, _, _ := startWatchLoop(t, "/src/add.kt", func() { calls.Add(1) })

	errs <- errors.New("queue overflow")
	events <- fsnotify.Event{Name: "/src/add.kt", Op: fsnotify.Write}
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWatchLoop_ReturnsWhenEventsClose(t *testing.T) {
	events, _, _, done := startWatchLoop(t, "/src/add.kt", func() {})
	close(events)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watchLoop did not return")
	}
}

func TestRerunner_CancelsRunInFlight(t *testing.T) {
	started := make(chan context.Context, 2)
	r := newRerunner(context.Background(), func(ctx context.Context) {
		started <- ctx
		<-ctx.Done()
	})

	r.trigger()
	first := <-started
	r.trigger()
	second := <-started

	assert.Eventually(t, func() bool { return first.Err() != nil }, time.Second, 5*time.Millisecond)
	assert.NoError(t, second.Err())

	r.stop()
	assert.Error(t, second.Err())
}

func TestRerunner_IgnoresTriggerAfterStop(t *testing.T) {
	var calls atomic.Int32
	r := newRerunner(context.Background(), func(context.Context) { calls.Add(1) })
	r.stop()
	r.trigger()
	assert.Equal(t, int32(0), calls.Load())
}
