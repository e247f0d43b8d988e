package workflow

import "context"

// Store is the durable step-result log. Every method must be safe for
// concurrent use by independent instances.
type Store interface {
	CreateInstance(ctx context.Context, inst *Instance) error
	GetInstance(ctx context.Context, id string) (*Instance, bool, error)
	UpdateInstance(ctx context.Context, inst *Instance) error

	// ActiveInstances returns every instance that has not reached a terminal state.
	ActiveInstances(ctx context.Context) ([]*Instance, error)

	// Steps returns the recorded steps of an instance in StepOrder.
	Steps(ctx context.Context, instanceID string) ([]*StepResult, error)

	// PutStep inserts or replaces the record for (InstanceID, Name).
	PutStep(ctx context.Context, step *StepResult) error
}
