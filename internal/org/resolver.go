// Package org maps the recipient address of an inbound pre-alert to the
// organization that owns it.
package org

import (
	"context"
	"net/mail"
	"strings"

	"github.com/linnemanlabs/prealert/internal/alert"
	"github.com/linnemanlabs/prealert/internal/faults"
)

// Lookup finds an organization by its exact org key.
type Lookup interface {
	OrganizationByKey(ctx context.Context, orgKey string) (*alert.Organization, bool, error)
}

// Resolver resolves recipient lists to organization IDs.
type Resolver struct {
	lookup Lookup
}

// NewResolver creates a Resolver backed by lookup.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// KeyFromRecipients derives the org key from a comma separated recipient
// list. Only the first recipient is considered: a message addressed to
// several organizations is ambiguous, and the first one wins.
func KeyFromRecipients(to string) string {
	first, _, _ := strings.Cut(to, ",")
	first = strings.TrimSpace(first)

	// "Boone Fire <boone@example.org>"
	if addr, err := mail.ParseAddress(first); err == nil {
		first = addr.Address
	}

	local, _, _ := strings.Cut(first, "@")
	return local
}

// Resolve returns the org ID for the first recipient in to.
func (r *Resolver) Resolve(ctx context.Context, to string) (string, error) {
	key := KeyFromRecipients(to)
	if key == "" {
		return "", &faults.OrgNotFoundError{Key: key}
	}

	o, ok, err := r.lookup.OrganizationByKey(ctx, key)
	if err != nil {
		return "", faults.Storage("lookup organization", err)
	}
	if !ok {
		return "", &faults.OrgNotFoundError{Key: key}
	}
	return o.OrgID, nil
}
