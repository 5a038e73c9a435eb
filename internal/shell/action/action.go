package action

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/shell/metrics"
	"github.com/artpar/deployer/internal/shell/pipeline"
	"github.com/google/uuid"
)

// Trigger names used in logs and metrics.
const (
	TriggerJob = "job"
	TriggerWeb = "web"
)

// DefaultTimeout bounds one pipeline run.
const DefaultTimeout = 10 * time.Minute

// Deployer runs one deployment.
type Deployer interface {
	Run(ctx context.Context, req domain.DeployRequest) (domain.DeployResult, error)
}

// Options configure both trigger adapters.
type Options struct {
	Platform Platform
	Timeout  time.Duration
	Metrics  metrics.Metrics
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Noop{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// invoker runs the pipeline under the caller-side timeout and never lets a panic escape.
type invoker struct {
	deployer Deployer
	opts     Options
	trigger  string
	logger   *slog.Logger
}

func newInvoker(d Deployer, opts Options, trigger string) invoker {
	opts = opts.withDefaults()
	return invoker{
		deployer: d,
		opts:     opts,
		trigger:  trigger,
		logger:   opts.Logger.With("component", "action", "trigger", trigger),
	}
}

// activationID picks the explicit id, then the platform's, then a fresh one.
func (i invoker) activationID(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if i.opts.Platform.ActivationID != "" {
		return i.opts.Platform.ActivationID
	}
	return uuid.NewString()
}

func (i invoker) deploy(ctx context.Context, activationID string, p Params) (result domain.DeployResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("deployment panicked", "activation_id", activationID, "panic", r)
			result = domain.Fail(domain.NewFailure(domain.ReasonInternal, "internal error while deploying").
				WithDetail(fmt.Sprint(r)))
		}
		i.opts.Metrics.ObserveDeploy(i.trigger, result.Kind(), time.Since(start).Seconds())
	}()

	req, err := p.Request(i.opts.Platform)
	if err != nil {
		f, ok := domain.AsFailure(err)
		if !ok {
			f = domain.NewFailure(domain.ReasonMissingRequiredInput, err.Error())
		}
		return domain.Fail(f)
	}

	ctx, cancel := context.WithTimeout(ctx, i.opts.Timeout)
	defer cancel()
	ctx = pipeline.WithActivationID(ctx, activationID)

	result, err = i.deployer.Run(ctx, req)
	if err != nil {
		i.logger.Warn("deployment interrupted", "activation_id", activationID, "error", err)
	}
	return result
}
