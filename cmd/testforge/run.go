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
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/TestForge/pkg/ux"
	"github.com/AleutianAI/TestForge/services/executor/datatypes"
)

// codeExecutor is the slice of the pipeline the CLI drives.
type codeExecutor interface {
	Execute(ctx context.Context, code string) datatypes.ExecutionResponse
	Close() error
}

// reportFlags are shared by run and watch.
type reportFlags struct {
	json      bool
	showTests bool
}

func (f *reportFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.json, "json", false, "write the raw JSON response")
	cmd.Flags().BoolVar(&f.showTests, "show-tests", false, "include the generated test code")
}

func newRunCmd(a *app) *cobra.Command {
	var flags reportFlags

	cmd := &cobra.Command{
		Use:   "run <file|->",
		Short: "Run the pipeline once on a Kotlin file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, args[0], flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func (a *app) run(ctx context.Context, source string, flags reportFlags) error {
	code, name, err := a.readSource(source)
	if err != nil {
		return err
	}

	exec, err := a.newExecutor(a.cfg, a.logger.Slog())
	if err != nil {
		return err
	}
	defer func() {
		if err := exec.Close(); err != nil {
			a.logger.Warn("Pipeline close failed", slog.String("error", err.Error()))
		}
	}()

	resp, err := a.execute(ctx, exec, code, name, flags)
	if err != nil {
		return err
	}
	if !resp.Success {
		return errPipelineFailed
	}
	return nil
}

// execute runs one pipeline pass and writes the report.
func (a *app) execute(ctx context.Context, exec codeExecutor, code, name string, flags reportFlags) (datatypes.ExecutionResponse, error) {
	start := time.Now()
	resp := exec.Execute(ctx, code)
	return resp, a.report(resp, name, time.Since(start), flags)
}

// report logs the outcome and writes it to stdout.
func (a *app) report(resp datatypes.ExecutionResponse, name string, elapsed time.Duration, flags reportFlags) error {
	a.logger.Info("Pipeline finished",
		slog.String("source", name),
		slog.Bool("success", resp.Success),
		slog.String("error", resp.ErrorKindOrEmpty()),
		slog.Duration("elapsed", elapsed))

	opts := ux.ReportOptions{Source: name, ShowTests: flags.showTests, Elapsed: elapsed}
	if err := ux.WriteReport(a.stdout, a.outputMode(flags.json), resp, opts); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (a *app) outputMode(forceJSON bool) ux.Mode {
	f, _ := a.stdout.(*os.File)
	return ux.DetectMode(f, forceJSON)
}

// readSource returns the code at path, or stdin when path is "-".
func (a *app) readSource(path string) (code, name string, err error) {
	var data []byte
	if path == "-" {
		name = "stdin"
		data, err = io.ReadAll(a.stdin)
	} else {
		name = path
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", name, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(data), name, nil
}
