// Package workers contains background workers for the deployer.
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/artpar/deployer/internal/core/crypto"
	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/envelope"
	"github.com/artpar/deployer/internal/shell/action"
	"github.com/artpar/deployer/internal/shell/metrics"
	"github.com/artpar/deployer/internal/shell/store"
)

// InterruptedMessage is recorded on activations a previous process left running.
const InterruptedMessage = "deployment was interrupted before it finished"

// ActivationWorkerConfig configures the activation worker.
type ActivationWorkerConfig struct {
	// Interval is the time between polls for pending activations.
	// Default: 2 seconds.
	Interval time.Duration

	// MaxConcurrent is the maximum number of pipelines run in parallel.
	// Default: 2.
	MaxConcurrent int

	// BatchSize is the maximum number of activations claimed per poll.
	// Default: 10.
	BatchSize int
}

// DefaultActivationWorkerConfig returns default configuration.
func DefaultActivationWorkerConfig() ActivationWorkerConfig {
	return ActivationWorkerConfig{
		Interval:      2 * time.Second,
		MaxConcurrent: 2,
		BatchSize:     10,
	}
}

// JobRunner runs one queued activation through the job trigger.
type JobRunner interface {
	InvokeActivation(ctx context.Context, activationID string, p action.Params) (envelope.JobEnvelope, domain.DeployResult)
}

// ActivationWorker polls for pending activations and deploys them.
type ActivationWorker struct {
	store         store.Store
	runner        JobRunner
	encryptionKey []byte
	config        ActivationWorkerConfig
	metrics       metrics.Metrics
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewActivationWorker creates a new activation worker.
func NewActivationWorker(
	s store.Store,
	runner JobRunner,
	encryptionKey []byte,
	config ActivationWorkerConfig,
	m metrics.Metrics,
	logger *slog.Logger,
) *ActivationWorker {
	if config.Interval == 0 {
		config.Interval = 2 * time.Second
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = 2
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if m == nil {
		m = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ActivationWorker{
		store:         s,
		runner:        runner,
		encryptionKey: encryptionKey,
		config:        config,
		metrics:       m,
		logger:        logger.With("component", "activation_worker"),
	}
}

// Start fails activations left running by a previous process and begins polling.
func (w *ActivationWorker) Start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())

	if n, err := w.store.FailRunningActivations(w.ctx, InterruptedMessage); err != nil {
		w.logger.Error("failed to fail interrupted activations", "error", err)
	} else if n > 0 {
		w.logger.Warn("failed interrupted activations", "count", n)
	}

	w.wg.Add(1)
	go w.run()
	w.logger.Info("activation worker started",
		"interval", w.config.Interval,
		"max_concurrent", w.config.MaxConcurrent,
		"batch_size", w.config.BatchSize,
	)
}

// Stop cancels in-flight deployments and waits for them to be recorded.
func (w *ActivationWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("activation worker stopped")
}

func (w *ActivationWorker) run() {
	defer w.wg.Done()

	// Run immediately on start
	w.runCycle()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.runCycle()
		}
	}
}

func (w *ActivationWorker) runCycle() {
	ctx := w.ctx

	activations, err := w.store.ClaimPendingActivations(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to claim pending activations", "error", err)
		return
	}

	if len(activations) == 0 {
		return
	}

	w.logger.Debug("processing activations", "count", len(activations))

	sem := make(chan struct{}, w.config.MaxConcurrent)
	var wg sync.WaitGroup

	for i := range activations {
		a := &activations[i]
		wg.Add(1)
		go func(a *domain.Activation) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				w.finish(a, domain.Fail(domain.NewFailure(domain.ReasonCancelled, InterruptedMessage)))
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}
			w.process(ctx, a)
		}(a)
	}

	wg.Wait()
}

func (w *ActivationWorker) process(ctx context.Context, a *domain.Activation) {
	logger := w.logger.With("activation_id", a.ID, "source_url", a.SourceURL)

	auth, err := crypto.OpenString(a.SealedAuth, w.encryptionKey)
	if err != nil {
		logger.Error("failed to unseal credentials", "error", err)
		w.finish(a, domain.Fail(domain.NewFailure(domain.ReasonInternal, "could not read the stored credentials").Wrap(err)))
		return
	}

	env, err := openEnv(a.SealedEnv, w.encryptionKey)
	if err != nil {
		logger.Error("failed to unseal environment", "error", err)
		w.finish(a, domain.Fail(domain.NewFailure(domain.ReasonInternal, "could not read the stored environment").Wrap(err)))
		return
	}

	_, result := w.runner.InvokeActivation(ctx, a.ID, action.Params{
		GitURL:       a.SourceURL,
		ManifestPath: a.ManifestSubPath,
		EnvData:      env,
		APIHost:      a.CredentialHost,
		Auth:         auth,
	})
	w.finish(a, result)
}

// finish records the terminal result. It uses its own context so results are
// stored even while the worker shuts down.
func (w *ActivationWorker) finish(a *domain.Activation, result domain.DeployResult) {
	logger := w.logger.With("activation_id", a.ID)

	if err := a.Complete(result); err != nil {
		logger.Error("invalid activation transition", "status", a.Status, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.store.UpdateActivation(ctx, a); err != nil {
		logger.Error("failed to record activation result", "error", err)
		return
	}

	w.metrics.IncActivations(string(a.Status))
	logger.Info("activation finished", "status", a.Status, "result", result.Kind())
}

// =============================================================================
// Enqueue
// =============================================================================

// Enqueue stores a pending activation for p. The credential key and the env
// overlay are sealed before they are written.
func Enqueue(ctx context.Context, s store.Store, encryptionKey []byte, p action.Params) (*domain.Activation, error) {
	a, err := domain.NewActivation("", strings.TrimSpace(p.GitURL))
	if err != nil {
		return nil, err
	}

	sealedAuth, err := crypto.SealString(p.Auth, encryptionKey)
	if err != nil {
		return nil, err
	}
	sealedEnv, err := sealEnv(p.EnvData, encryptionKey)
	if err != nil {
		return nil, err
	}

	a.ManifestSubPath = p.ManifestPath
	a.CredentialHost = p.APIHost
	a.SealedAuth = sealedAuth
	a.SealedEnv = sealedEnv

	if err := s.CreateActivation(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// sealEnv seals the JSON form of env; an empty env seals to "".
func sealEnv(env map[string]string, key []byte) (string, error) {
	if len(env) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode env data: %w", err)
	}
	return crypto.SealString(string(raw), key)
}

func openEnv(sealed string, key []byte) (map[string]string, error) {
	raw, err := crypto.OpenString(sealed, key)
	if err != nil || raw == "" {
		return nil, err
	}
	var env map[string]string
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("failed to decode env data: %w", err)
	}
	return env, nil
}
