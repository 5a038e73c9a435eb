package action

import (
	"context"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/envelope"
)

// JobAction is the queued job trigger.
type JobAction struct {
	invoker
}

// NewJobAction creates the job trigger adapter.
func NewJobAction(d Deployer, opts Options) *JobAction {
	return &JobAction{invoker: newInvoker(d, opts, TriggerJob)}
}

// Invoke runs one deployment and returns the job envelope.
func (a *JobAction) Invoke(ctx context.Context, p Params) envelope.JobEnvelope {
	env, _ := a.InvokeActivation(ctx, "", p)
	return env
}

// InvokeActivation runs one deployment for a known activation and returns both
// the envelope and the terminal result.
func (a *JobAction) InvokeActivation(ctx context.Context, activationID string, p Params) (envelope.JobEnvelope, domain.DeployResult) {
	id := a.activationID(activationID)
	result := a.deploy(ctx, id, p)
	return envelope.Build[envelope.JobEnvelope](envelope.JobShaper{}, id, result), result
}
