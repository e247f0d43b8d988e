// Package memstore provides an in-memory implementation of alert.Store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/linnemanlabs/prealert/internal/alert"
)

// Store holds organizations and alerts in memory. Suitable for dev/testing.
type Store struct {
	mu     sync.RWMutex
	orgs   map[string]*alert.Organization // org ID -> organization
	keys   map[string]string              // org key -> org ID
	alerts map[string]*alert.Alert        // alert ID -> alert
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		orgs:   make(map[string]*alert.Organization),
		keys:   make(map[string]string),
		alerts: make(map[string]*alert.Alert),
	}
}

// AddOrganization upserts a copy of o by org ID. Org keys are unique; a key
// already held by another organization is rejected.
func (s *Store) AddOrganization(_ context.Context, o *alert.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.keys[o.OrgKey]; ok && id != o.OrgID {
		return fmt.Errorf("org key %q already belongs to %s", o.OrgKey, id)
	}
	if prev, ok := s.orgs[o.OrgID]; ok && prev.OrgKey != o.OrgKey {
		delete(s.keys, prev.OrgKey)
	}
	cp := *o
	s.orgs[o.OrgID] = &cp
	s.keys[o.OrgKey] = o.OrgID
	return nil
}

// byKey must be called with s.mu held.
func (s *Store) byKey(orgKey string) (*alert.Organization, bool) {
	id, ok := s.keys[orgKey]
	if !ok {
		return nil, false
	}
	o, ok := s.orgs[id]
	return o, ok
}

// OrganizationByKey looks up an organization by exact org key. Returns a copy.
func (s *Store) OrganizationByKey(_ context.Context, orgKey string) (*alert.Organization, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byKey(orgKey)
	if !ok {
		return nil, false, nil
	}
	cp := *o
	return &cp, true, nil
}

// InsertAlert stores a copy of a unless an alert with the same ID exists.
func (s *Store) InsertAlert(_ context.Context, a *alert.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.AlertID]; ok {
		return false, nil
	}
	cp := *a
	s.alerts[a.AlertID] = &cp
	return true, nil
}

// LatestAlerts returns copies of the newest alerts for orgKey.
func (s *Store) LatestAlerts(_ context.Context, orgKey string, limit int) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byKey(orgKey)
	if !ok {
		return nil, nil
	}
	if limit <= 0 {
		limit = alert.DefaultLatestLimit
	}

	var out []*alert.Alert
	for _, a := range s.alerts {
		if a.Organization == o.OrgID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AlertForOrg returns a copy of the alert if it belongs to orgKey.
func (s *Store) AlertForOrg(_ context.Context, orgKey, alertID string) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byKey(orgKey)
	if !ok {
		return nil, false, nil
	}
	a, ok := s.alerts[alertID]
	if !ok || a.Organization != o.OrgID {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

// Count returns the number of stored alerts.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}
