package server

import (
	"slices"
	"time"
)

// TokenSet is what the IdP hands back for an authorization code.
// A zero TTL means the provider did not report one.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
}

// RoleSet is the set of realm roles granted to a subject.
type RoleSet map[string]struct{}

// NewRoleSet builds a set, ignoring empty names.
func NewRoleSet(roles ...string) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		if r != "" {
			set[r] = struct{}{}
		}
	}
	return set
}

// Has reports membership. A nil set has no roles.
func (s RoleSet) Has(role string) bool {
	_, ok := s[role]
	return ok
}

// Sorted lists the roles in stable order for logs.
func (s RoleSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}
