// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command testforge generates unit tests for Kotlin code with an LLM, runs
// them and reports the outcome.
//
// # Commands
//
//   - serve: HTTP service exposing POST /api/execute
//   - run <file|->: one-shot pipeline on a file or stdin
//   - watch <file>: re-run the pipeline whenever the file changes
//   - policy: print the effective security policy
//   - version: print the build version
//
// Configuration comes from --config (YAML), environment variables and
// /run/secrets; see pkg/config.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/TestForge/pkg/config"
	"github.com/AleutianAI/TestForge/pkg/logging"
	"github.com/AleutianAI/TestForge/services/executor"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errPipelineFailed signals a completed run whose response was a failure.
// It maps to exit code 1 without an extra error line.
var errPipelineFailed = errors.New("pipeline failed")

func main() {
	a := newApp()
	err := newRootCmd(a).Execute()
	a.close()
	if err != nil {
		if !errors.Is(err, errPipelineFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// app carries CLI state shared by the subcommands.
type app struct {
	configPath string
	logLevel   string
	jsonLogs   bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfg    *config.Config
	logger *logging.Logger

	// newExecutor builds the pipeline for run and watch.
	newExecutor func(cfg *config.Config, logger *slog.Logger) (codeExecutor, error)
}

func newApp() *app {
	return &app{
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		newExecutor: buildExecutor,
	}
}

func buildExecutor(cfg *config.Config, logger *slog.Logger) (codeExecutor, error) {
	svcCfg, err := cfg.ServiceConfig()
	if err != nil {
		return nil, err
	}
	sup, err := executor.BuildSupervisor(svcCfg, logger, executor.WithMetrics(nil, nil))
	if err != nil {
		return nil, err
	}
	return sup, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "testforge",
		Short:         "Generate, compile and run unit tests for Kotlin code",
		Long:          "TestForge asks an LLM for JUnit tests covering a Kotlin snippet, compiles both with kotlinc and reports how the tests fared.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&a.jsonLogs, "json-logs", false, "write logs as JSON")

	root.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newWatchCmd(a),
		newPolicyCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup loads configuration and installs the logger.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		if _, err := logging.ParseLevel(a.logLevel); err != nil {
			return err
		}
		cfg.Logging.Level = a.logLevel
	}
	if a.jsonLogs {
		cfg.Logging.JSON = true
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = a.stderr
	a.cfg = cfg
	a.logger = logging.New(logCfg)
	a.logger.SetDefault()
	return nil
}

// close releases the log file, if any.
func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "testforge %s (%s %s/%s)\n",
				version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return err
		},
	}
}

func newPolicyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the effective security policy as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy, err := a.cfg.SecurityPolicy()
			if err != nil {
				return err
			}
			doc, err := policy.MarshalDocument()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(doc)
			return err
		},
	}
}
