package store

import (
	"context"

	"github.com/artpar/deployer/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for activations.
type Store interface {
	CreateActivation(ctx context.Context, activation *domain.Activation) error
	GetActivation(ctx context.Context, id string) (*domain.Activation, error)
	UpdateActivation(ctx context.Context, activation *domain.Activation) error
	ListActivations(ctx context.Context, opts ListOptions) ([]domain.Activation, error)

	// ClaimPendingActivations moves up to limit pending activations, oldest first,
	// to running and returns them.
	ClaimPendingActivations(ctx context.Context, limit int) ([]domain.Activation, error)

	// FailRunningActivations marks every running activation failed. Used at startup
	// for runs a previous process never finished.
	FailRunningActivations(ctx context.Context, message string) (int, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination and filtering options.
type ListOptions struct {
	Limit  int
	Offset int
	Status domain.ActivationStatus // empty lists every status
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
