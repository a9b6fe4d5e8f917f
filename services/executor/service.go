// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor wires the test-forging pipeline into an HTTP service.
//
// The service coordinates the security validator, the synthesis client,
// the build-and-run engine and the timeout supervisor behind a gin router.
// Every component receives its configuration at construction; nothing is
// read from globals after New returns.
//
// # Usage
//
//	svc, err := executor.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//	return svc.Run(ctx)
//
// The same wiring is available without HTTP through BuildSupervisor, which
// the CLI uses for one-shot and watch runs.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/TestForge/services/executor/datatypes"
	"github.com/AleutianAI/TestForge/services/executor/engine"
	"github.com/AleutianAI/TestForge/services/executor/handlers"
	"github.com/AleutianAI/TestForge/services/executor/observability"
	"github.com/AleutianAI/TestForge/services/executor/pipeline"
	"github.com/AleutianAI/TestForge/services/executor/routes"
	"github.com/AleutianAI/TestForge/services/executor/security"
	"github.com/AleutianAI/TestForge/services/executor/synthesis"
	"github.com/AleutianAI/TestForge/services/executor/telemetry"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the executor service.
//
// # Description
//
// Service abstracts the executor lifecycle so the CLI and tests can drive
// it without knowing how components are wired.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run should only be
// called once per instance.
type Service interface {
	// Run starts the HTTP server on the configured port and blocks until
	// ctx is cancelled or the server fails. Cancellation triggers a
	// graceful shutdown bounded by Config.ShutdownTimeout.
	Run(ctx context.Context) error

	// Serve is Run on an existing listener.
	Serve(ctx context.Context, ln net.Listener) error

	// Router returns the configured gin engine, for tests.
	Router() *gin.Engine

	// Close releases the synthesis client. Safe to call more than once.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds executor service configuration.
//
// All fields are optional; New applies defaults to zero values.
type Config struct {
	// Port is the HTTP server port. Default: 8080
	Port int

	// GinMode is passed to gin.SetMode when set.
	GinMode string

	// ServiceName names the otelgin server spans. Default: testforge-executor
	ServiceName string

	// MaxRequestBytes caps the execute request body. Default: 1 MiB
	MaxRequestBytes int

	// MaxConcurrent caps concurrently running pipelines. Default: 4
	MaxConcurrent int

	// RateLimit is the sustained request rate on /api/execute, per second.
	// Default: 5. Negative disables rate limiting.
	RateLimit float64

	// RateBurst is the token bucket size. Default: 10
	RateBurst int

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration

	// Policy is the security policy. Zero uses security.DefaultPolicy().
	Policy security.Policy

	// Synthesis configures the model client.
	Synthesis synthesis.Config

	// Engine configures the compiler and runner. Nil uses engine.DefaultConfig().
	Engine *engine.Config

	// Pipeline configures the supervisor. Zero uses pipeline.DefaultConfig().
	Pipeline pipeline.Config
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "testforge-executor"
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = datatypes.DefaultMaxRequestBytes
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Policy.MaxCodeLength == 0 {
		cfg.Policy = security.DefaultPolicy()
	}
	if cfg.Engine == nil {
		cfg.Engine = engine.DefaultConfig()
	}
	if cfg.Pipeline.Timeout == 0 {
		cfg.Pipeline = pipeline.DefaultConfig()
	}
	return cfg
}

// =============================================================================
// Options
// =============================================================================

// Option customizes component construction.
type Option func(*components)

type components struct {
	logger         *slog.Logger
	client         synthesis.Client
	runner         engine.ProcessRunner
	metrics        *observability.ExecutionMetrics
	metricsHandler http.Handler
	metricsSet     bool
	observer       func(pipeline.RunEvent)
}

// WithSynthesisClient uses client instead of building one from
// Config.Synthesis. The supervisor takes ownership and closes it.
func WithSynthesisClient(client synthesis.Client) Option {
	return func(c *components) { c.client = client }
}

// WithProcessRunner replaces the subprocess runner used by the engine.
func WithProcessRunner(runner engine.ProcessRunner) Option {
	return func(c *components) { c.runner = runner }
}

// WithMetrics replaces the execution metrics and the /metrics handler.
// A nil handler leaves /metrics unregistered.
func WithMetrics(metrics *observability.ExecutionMetrics, handler http.Handler) Option {
	return func(c *components) {
		c.metrics = metrics
		c.metricsHandler = handler
		c.metricsSet = true
	}
}

// WithRunObserver receives every supervisor state transition.
func WithRunObserver(fn func(pipeline.RunEvent)) Option {
	return func(c *components) { c.observer = fn }
}

func resolveComponents(logger *slog.Logger, opts []Option) *components {
	if logger == nil {
		logger = slog.Default()
	}
	c := &components{logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	if !c.metricsSet {
		c.metrics = observability.Default()
		c.metricsHandler = telemetry.MetricsHandler()
	}
	if c.runner == nil {
		c.runner = engine.NewExecRunner(c.logger)
	}
	return c
}

// =============================================================================
// Supervisor Wiring
// =============================================================================

// BuildSupervisor assembles the validator, synthesis client, engine and
// supervisor for cfg.
//
// # Outputs
//
//   - *pipeline.Supervisor: Owns the synthesis client. Close it when done.
//   - error: Policy, backend or toolchain setup failure.
func BuildSupervisor(cfg Config, logger *slog.Logger, opts ...Option) (*pipeline.Supervisor, error) {
	cfg = applyConfigDefaults(cfg)
	return buildSupervisor(cfg, resolveComponents(logger, opts))
}

func buildSupervisor(cfg Config, c *components) (*pipeline.Supervisor, error) {
	validator, err := security.NewValidator(cfg.Policy, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize security validator: %w", err)
	}

	eng, err := engine.New(*cfg.Engine, c.runner, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize build engine: %w", err)
	}

	client := c.client
	if client == nil {
		client, err = synthesis.NewClient(cfg.Synthesis, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize synthesis client: %w", err)
		}
	}

	sup, err := pipeline.NewSupervisor(cfg.Pipeline, pipeline.Deps{
		Checker:     validator,
		Synthesizer: client,
		Runner:      eng,
		Metrics:     c.metrics,
		Logger:      c.logger,
		Observer:    c.observer,
		Owned:       client,
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize supervisor: %w", err)
	}

	tc := eng.Toolchain()
	c.logger.Info("Execution pipeline ready",
		slog.String("llm_backend", cfg.Synthesis.Backend),
		slog.String("kotlinc", tc.Kotlinc),
		slog.String("java", tc.Java),
		slog.Duration("timeout", sup.Timeout()),
		slog.Int("max_code_length", cfg.Policy.MaxCodeLength),
	)
	return sup, nil
}

// =============================================================================
// Service Implementation
// =============================================================================

type service struct {
	config     Config
	logger     *slog.Logger
	router     *gin.Engine
	supervisor *pipeline.Supervisor
	runOnce    sync.Once
}

// New creates the executor service.
//
// # Inputs
//
//   - cfg: Service configuration. Defaults are applied to zero fields.
//   - logger: Structured logger. Nil uses slog.Default().
//   - opts: Component overrides.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if any component fails to initialize.
func New(cfg Config, logger *slog.Logger, opts ...Option) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	c := resolveComponents(logger, opts)

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	sup, err := buildSupervisor(cfg, c)
	if err != nil {
		return nil, err
	}

	s := &service{
		config:     cfg,
		logger:     c.logger,
		supervisor: sup,
	}
	s.initRouter(c)
	return s, nil
}

func (s *service) initRouter(c *components) {
	var limiter *rate.Limiter
	if s.config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.config.RateLimit), s.config.RateBurst)
	}

	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		otelgin.Middleware(s.config.ServiceName),
		handlers.RequestIDMiddleware(),
		handlers.AccessLogMiddleware(s.logger),
	)

	routes.SetupRoutes(s.router, routes.Deps{
		Executor:        s.supervisor,
		MaxRequestBytes: s.config.MaxRequestBytes,
		Limiter:         limiter,
		Slots:           semaphore.NewWeighted(int64(s.config.MaxConcurrent)),
		Metrics:         c.metrics,
		MetricsHandler:  c.metricsHandler,
	})
}

// Run listens on the configured port and serves until ctx is done.
func (s *service) Run(ctx context.Context) error {
	addr := net.JoinHostPort("", strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *service) Serve(ctx context.Context, ln net.Listener) error {
	var err error
	ran := false
	s.runOnce.Do(func() {
		ran = true
		err = s.serve(ctx, ln)
	})
	if !ran {
		_ = ln.Close()
		return errors.New("executor service already started")
	}
	return err
}

func (s *service) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting executor server", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("executor server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down executor server", slog.Duration("timeout", s.config.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("executor server failed: %w", err)
	}
	return nil
}

// Router returns the gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close releases the synthesis client.
func (s *service) Close() error {
	return s.supervisor.Close()
}

// Compile-time interface check
var _ Service = (*service)(nil)
