package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/deployer/internal/core/crypto"
	"github.com/artpar/deployer/internal/core/envelope"
	"github.com/artpar/deployer/internal/core/outcome"
	"github.com/artpar/deployer/internal/shell/action"
	"github.com/artpar/deployer/internal/shell/api"
	"github.com/artpar/deployer/internal/shell/deploytool"
	"github.com/artpar/deployer/internal/shell/metrics"
	"github.com/artpar/deployer/internal/shell/pipeline"
	"github.com/artpar/deployer/internal/shell/repository"
	"github.com/artpar/deployer/internal/shell/scratch"
	"github.com/artpar/deployer/internal/shell/store"
	"github.com/artpar/deployer/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitHTTPServerError = 3
	ExitDeployFailed    = 4
)

// =============================================================================
// Deploy Stack
// =============================================================================

// newPipeline wires resolver, executor and cleaner into one pipeline.
func newPipeline(cfg *Config, m metrics.Metrics, logger *slog.Logger) (*pipeline.Pipeline, error) {
	policy, err := outcome.ParseStderrPolicy(cfg.DeployTool.StderrPolicy)
	if err != nil {
		return nil, err
	}

	resolver := repository.NewResolver(repository.ResolverConfig{
		TemplateRoots: cfg.Repository.TemplateRoots(),
		ScratchRoot:   cfg.Repository.ScratchDir,
		CloneDepth:    cfg.Repository.CloneDepth,
	}, repository.NewGitCloner(logger), m, logger)

	executor := deploytool.NewExecutor(deploytool.Config{
		Binary:       cfg.DeployTool.Binary,
		ConfirmInput: cfg.DeployTool.ConfirmInput,
	}, logger)

	return pipeline.New(resolver, executor, scratch.NewCleaner(logger), pipeline.Config{
		StderrPolicy: policy,
	}, logger), nil
}

func actionOptions(cfg *Config, m metrics.Metrics, logger *slog.Logger) action.Options {
	return action.Options{
		Platform: action.Platform{
			APIHost:      cfg.Platform.APIHost,
			APIKey:       cfg.Platform.APIKey,
			ActivationID: cfg.Platform.ActivationID,
		},
		Timeout: cfg.DeployTool.Timeout,
		Metrics: m,
		Logger:  logger,
	}
}

// encryptionKey derives the sealing key, or generates one for this process.
func encryptionKey(cfg *Config, logger *slog.Logger) ([]byte, error) {
	if cfg.Security.EncryptionKey != "" {
		return crypto.DeriveKey(cfg.Security.EncryptionKey), nil
	}
	logger.Warn("security.encryption_key is not set; queued credentials will not survive a restart")
	return crypto.RandomKey()
}

// =============================================================================
// Server
// =============================================================================

// Server represents the deployer application server.
type Server struct {
	config     *Config
	httpServer *http.Server
	store      store.Store
	worker     *workers.ActivationWorker
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// Connect to database
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	key, err := encryptionKey(cfg, logger)
	if err != nil {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitConfigError,
		}
	}

	var (
		m     metrics.Metrics     = metrics.Noop{}
		httpM metrics.HTTPMetrics = metrics.Noop{}
		promh http.Handler
	)
	if cfg.Metrics.Enabled {
		prom := metrics.NewProm(cfg.Metrics.Namespace)
		m, httpM, promh = prom, prom, metrics.Handler()
	}

	pl, err := newPipeline(cfg, m, logger)
	if err != nil {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitConfigError,
		}
	}

	opts := actionOptions(cfg, m, logger)
	jobAction := action.NewJobAction(pl, opts)
	webAction := action.NewWebAction(pl, opts)

	var worker *workers.ActivationWorker
	if cfg.Worker.Enabled {
		worker = workers.NewActivationWorker(s, jobAction, key, workers.ActivationWorkerConfig{
			Interval:      cfg.Worker.Interval,
			MaxConcurrent: cfg.Worker.MaxConcurrent,
			BatchSize:     cfg.Worker.BatchSize,
		}, m, logger)
	}

	handler := api.NewHandler(s, jobAction, webAction, api.Config{
		EncryptionKey:  key,
		Metrics:        httpM,
		MetricsHandler: promh,
	}, logger)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		store:      s,
		worker:     worker,
		logger:     logger,
	}, nil
}

// Start starts the worker and the HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	if s.worker != nil {
		s.worker.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.Shutdown(context.Background())
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server. In-flight web deploys get
// server.shutdown_timeout to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop cancels running activations; they are failed on the next start.
	if s.worker != nil {
		s.worker.Stop()
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Invoke
// =============================================================================

// Invoke runs the job action once against p and returns its envelope.
func Invoke(ctx context.Context, cfg *Config, p action.Params, logger *slog.Logger) (envelope.JobEnvelope, error) {
	pl, err := newPipeline(cfg, metrics.Noop{}, logger)
	if err != nil {
		return envelope.JobEnvelope{}, &ServerError{Op: "Invoke", Err: err, ExitCode: ExitConfigError}
	}
	return action.NewJobAction(pl, actionOptions(cfg, metrics.Noop{}, logger)).Invoke(ctx, p), nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
