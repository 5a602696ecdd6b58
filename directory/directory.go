// Package directory is the ledger's view of the case management system:
// which cases exist and what each actor may do. Clients, dossiers and users
// live elsewhere; the ledger only asks these two questions.
package directory

import (
	"context"
	"strings"
	"sync"
)

// Capabilities checked by the ledger.
const (
	CapTimelineCreate  = "timeline:create"
	CapTimelineUpdate  = "timeline:update"
	CapTimelineDelete  = "timeline:delete"
	CapBillingRead     = "billing:read"
	CapBillingCreate   = "billing:create"
	CapBillingUpdate   = "billing:update"
	CapBillingCancel   = "billing:cancel"
	CapPaymentsCreate  = "payments:create"
	CapPaymentsDelete  = "payments:delete"
	CapDocumentsCreate = "documents:create"
	CapDocumentsRead   = "documents:read"
	CapDocumentsUpdate = "documents:update"
	CapDocumentsDelete = "documents:delete"
)

// Directory answers existence and permission questions.
type Directory interface {
	CaseExists(ctx context.Context, caseID string) (bool, error)
	UserHasCapability(ctx context.Context, actor, capability string) (bool, error)
}

// Grants reports whether a granted capability covers want. "*" covers
// everything and "billing:*" covers every billing capability.
func Grants(granted, want string) bool {
	if granted == "*" || granted == want {
		return true
	}
	if prefix, ok := strings.CutSuffix(granted, ":*"); ok {
		area, _, found := strings.Cut(want, ":")
		return found && area == prefix
	}
	return false
}

// Static is an in-process Directory for tests, tools and single-tenant
// deployments.
type Static struct {
	mu     sync.RWMutex
	cases  map[string]struct{}
	grants map[string][]string
}

var _ Directory = (*Static)(nil)

// NewStatic returns an empty Static directory.
func NewStatic() *Static {
	return &Static{
		cases:  make(map[string]struct{}),
		grants: make(map[string][]string),
	}
}

// AddCase registers case ids.
func (s *Static) AddCase(caseIDs ...string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range caseIDs {
		s.cases[c] = struct{}{}
	}
	return s
}

// Grant gives actor the listed capabilities.
func (s *Static) Grant(actor string, capabilities ...string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[actor] = append(s.grants[actor], capabilities...)
	return s
}

// Revoke removes every capability of actor.
func (s *Static) Revoke(actor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, actor)
}

func (s *Static) CaseExists(_ context.Context, caseID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cases[caseID]
	return ok, nil
}

func (s *Static) UserHasCapability(_ context.Context, actor, capability string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.grants[actor] {
		if Grants(g, capability) {
			return true, nil
		}
	}
	return false, nil
}

// AllowAll accepts every case and every capability. It is the engine
// default for single-user tools that have no directory to consult.
type AllowAll struct{}

var _ Directory = AllowAll{}

func (AllowAll) CaseExists(context.Context, string) (bool, error) { return true, nil }

func (AllowAll) UserHasCapability(context.Context, string, string) (bool, error) {
	return true, nil
}
