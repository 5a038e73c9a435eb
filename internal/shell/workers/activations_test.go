package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/artpar/deployer/internal/core/crypto"
	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/envelope"
	"github.com/artpar/deployer/internal/shell/action"
	"github.com/artpar/deployer/internal/shell/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

type stubRunner struct {
	mu     sync.Mutex
	params map[string]action.Params
	result domain.DeployResult
}

func (r *stubRunner) InvokeActivation(_ context.Context, id string, p action.Params) (envelope.JobEnvelope, domain.DeployResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.params == nil {
		r.params = make(map[string]action.Params)
	}
	r.params[id] = p
	return envelope.Build[envelope.JobEnvelope](envelope.JobShaper{}, id, r.result), r.result
}

func (r *stubRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.params)
}

func setupStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var testKey = crypto.DeriveKey("worker-test")

// =============================================================================
// Configuration Tests
// =============================================================================

func TestDefaultActivationWorkerConfig(t *testing.T) {
	config := DefaultActivationWorkerConfig()

	assert.Equal(t, 2*time.Second, config.Interval)
	assert.Equal(t, 2, config.MaxConcurrent)
	assert.Equal(t, 10, config.BatchSize)
}

func TestNewActivationWorker_DefaultConfig(t *testing.T) {
	w := NewActivationWorker(setupStore(t), &stubRunner{}, testKey, ActivationWorkerConfig{}, nil, nil)

	assert.Equal(t, DefaultActivationWorkerConfig(), w.config)
}

// =============================================================================
// Enqueue Tests
// =============================================================================

func TestEnqueue_SealsCredentials(t *testing.T) {
	s := setupStore(t)

	a, err := Enqueue(context.Background(), s, testKey, action.Params{
		GitURL:  "https://github.com/acme/hello",
		Auth:    "secret-key",
		EnvData: map[string]string{"CLOUDANT_PASSWORD": "hunter2"},
	})
	require.NoError(t, err)

	stored, err := s.GetActivation(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActivationPending, stored.Status)
	assert.NotEmpty(t, stored.SealedAuth)
	assert.NotContains(t, stored.SealedAuth, "secret-key")
	assert.NotEmpty(t, stored.SealedEnv)
	assert.NotContains(t, stored.SealedEnv, "hunter2")
	assert.NotContains(t, stored.SealedEnv, "CLOUDANT_PASSWORD")

	env, err := openEnv(stored.SealedEnv, testKey)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"CLOUDANT_PASSWORD": "hunter2"}, env)
}

func TestEnqueue_EmptyEnvSealsToEmpty(t *testing.T) {
	s := setupStore(t)

	a, err := Enqueue(context.Background(), s, testKey, action.Params{GitURL: "https://github.com/acme/hello"})
	require.NoError(t, err)
	assert.Empty(t, a.SealedEnv)

	env, err := openEnv(a.SealedEnv, testKey)
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestEnqueue_RequiresURL(t *testing.T) {
	_, err := Enqueue(context.Background(), setupStore(t), testKey, action.Params{GitURL: "  "})
	assert.ErrorIs(t, err, domain.ErrSourceURLRequired)
}

// =============================================================================
// Cycle Tests
// =============================================================================

func TestRunCycle_DeploysPendingActivations(t *testing.T) {
	s := setupStore(t)
	runner := &stubRunner{result: domain.Success()}
	w := NewActivationWorker(s, runner, testKey, ActivationWorkerConfig{}, nil, nil)
	w.ctx = context.Background()

	a, err := Enqueue(context.Background(), s, testKey, action.Params{
		GitURL:       "https://github.com/acme/hello",
		ManifestPath: "deploy",
		APIHost:      "https://api.example.com",
		Auth:         "secret-key",
		EnvData:      map[string]string{"A": "1"},
	})
	require.NoError(t, err)

	w.runCycle()

	got, err := s.GetActivation(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActivationSucceeded, got.Status)
	assert.NotNil(t, got.FinishedAt)

	p := runner.params[a.ID]
	assert.Equal(t, "secret-key", p.Auth)
	assert.Equal(t, "deploy", p.ManifestPath)
	assert.Equal(t, "https://api.example.com", p.APIHost)
	assert.Equal(t, map[string]string{"A": "1"}, p.EnvData)
}

func TestRunCycle_RecordsFailure(t *testing.T) {
	s := setupStore(t)
	f := domain.NewFailure(domain.ReasonCloneFailed, "There was a problem cloning the repository")
	w := NewActivationWorker(s, &stubRunner{result: domain.Fail(f)}, testKey, ActivationWorkerConfig{}, nil, nil)
	w.ctx = context.Background()

	a, err := Enqueue(context.Background(), s, testKey, action.Params{GitURL: "https://github.com/acme/missing"})
	require.NoError(t, err)

	w.runCycle()

	got, err := s.GetActivation(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActivationFailed, got.Status)
	assert.Equal(t, domain.ReasonCloneFailed, got.FailureReason)
	assert.Equal(t, "There was a problem cloning the repository", got.ErrorMessage)
}

func TestRunCycle_WrongKeyFailsActivation(t *testing.T) {
	s := setupStore(t)
	runner := &stubRunner{result: domain.Success()}
	w := NewActivationWorker(s, runner, crypto.DeriveKey("other"), ActivationWorkerConfig{}, nil, nil)
	w.ctx = context.Background()

	a, err := Enqueue(context.Background(), s, testKey, action.Params{GitURL: "https://github.com/acme/hello", Auth: "k"})
	require.NoError(t, err)

	w.runCycle()

	got, err := s.GetActivation(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActivationFailed, got.Status)
	assert.Equal(t, domain.ReasonInternal, got.FailureReason)
	assert.Equal(t, 0, runner.calls())
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestActivationWorker_StartStop(t *testing.T) {
	s := setupStore(t)
	runner := &stubRunner{result: domain.Success()}
	w := NewActivationWorker(s, runner, testKey, ActivationWorkerConfig{Interval: 10 * time.Millisecond}, nil, nil)

	a, err := Enqueue(context.Background(), s, testKey, action.Params{GitURL: "https://github.com/acme/hello"})
	require.NoError(t, err)

	w.Start()
	require.Eventually(t, func() bool {
		got, err := s.GetActivation(context.Background(), a.ID)
		return err == nil && got.IsFinished()
	}, 2*time.Second, 10*time.Millisecond)
	w.Stop()

	assert.Equal(t, 1, runner.calls())
}

func TestActivationWorker_StartFailsInterruptedRuns(t *testing.T) {
	s := setupStore(t)
	a, err := Enqueue(context.Background(), s, testKey, action.Params{GitURL: "https://github.com/acme/hello"})
	require.NoError(t, err)
	_, err = s.ClaimPendingActivations(context.Background(), 1)
	require.NoError(t, err)

	w := NewActivationWorker(s, &stubRunner{result: domain.Success()}, testKey, ActivationWorkerConfig{Interval: time.Hour}, nil, nil)
	w.Start()
	w.Stop()

	got, err := s.GetActivation(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActivationFailed, got.Status)
	assert.Equal(t, InterruptedMessage, got.ErrorMessage)
}
