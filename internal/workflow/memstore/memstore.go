// Package memstore provides an in-memory implementation of workflow.Store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/linnemanlabs/prealert/internal/workflow"
)

type stepKey struct {
	instanceID string
	name       workflow.StepName
}

// Store holds workflow instances and step results in memory. Suitable for dev/testing.
type Store struct {
	mu        sync.RWMutex
	instances map[string]*workflow.Instance
	steps     map[stepKey]*workflow.StepResult
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		instances: make(map[string]*workflow.Instance),
		steps:     make(map[stepKey]*workflow.StepResult),
	}
}

// CreateInstance stores a copy of inst. Creating an existing ID is an error.
func (s *Store) CreateInstance(_ context.Context, inst *workflow.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.ID]; ok {
		return fmt.Errorf("instance %s already exists", inst.ID)
	}
	cp := *inst
	s.instances[inst.ID] = &cp
	return nil
}

// GetInstance retrieves an instance by ID. Returns a copy.
func (s *Store) GetInstance(_ context.Context, id string) (*workflow.Instance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, false, nil
	}
	cp := *inst
	return &cp, true, nil
}

// UpdateInstance replaces a stored instance.
func (s *Store) UpdateInstance(_ context.Context, inst *workflow.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.ID]; !ok {
		return fmt.Errorf("instance %s not found", inst.ID)
	}
	cp := *inst
	s.instances[inst.ID] = &cp
	return nil
}

// ActiveInstances returns copies of all active instances, oldest first.
func (s *Store) ActiveInstances(_ context.Context) ([]*workflow.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.Instance
	for _, inst := range s.instances {
		if inst.Status == workflow.InstanceActive {
			cp := *inst
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Steps returns copies of the recorded steps of an instance in workflow.StepOrder.
func (s *Store) Steps(_ context.Context, instanceID string) ([]*workflow.StepResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.StepResult
	for _, name := range workflow.StepOrder {
		if r, ok := s.steps[stepKey{instanceID, name}]; ok {
			out = append(out, copyStep(r))
		}
	}
	return out, nil
}

// PutStep inserts or replaces a copy of the step result.
func (s *Store) PutStep(_ context.Context, r *workflow.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[r.InstanceID]; !ok {
		return fmt.Errorf("instance %s not found", r.InstanceID)
	}
	s.steps[stepKey{r.InstanceID, r.Name}] = copyStep(r)
	return nil
}

func copyStep(r *workflow.StepResult) *workflow.StepResult {
	cp := *r
	if r.Output != nil {
		cp.Output = append([]byte(nil), r.Output...)
	}
	return &cp
}
