// Package workflow drives a pre-alert through its processing steps.
// It defines the Engine (step execution, checkpointing and retry), the
// Service (trigger intake, async dispatch, resume after restart), the Store
// interface for the step-result log, and the workflow models.
package workflow
