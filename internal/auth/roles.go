package auth

import (
	"net/http"
	"slices"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-engine/internal/domain"
)

// StaffPolicy is the default permission predicate: staff identities may do
// anything; other identities may open tickets and read, comment on and
// reopen tickets they take part in.
type StaffPolicy struct {
	staff map[string]struct{}
}

// NewStaffPolicy builds a policy from the configured staff identities.
func NewStaffPolicy(identities []string) *StaffPolicy {
	staff := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		staff[id] = struct{}{}
	}
	return &StaffPolicy{staff: staff}
}

// IsStaff reports whether identity has staff capability.
func (p *StaffPolicy) IsStaff(identity string) bool {
	_, ok := p.staff[identity]
	return ok
}

// Can implements domain.Permission.
func (p *StaffPolicy) Can(actor string, ticket *domain.Ticket, action domain.Action) bool {
	if p.IsStaff(actor) {
		return true
	}
	switch action {
	case domain.ActionCreate:
		return true
	case domain.ActionView, domain.ActionComment:
		return ticket != nil && ticket.HasParticipant(actor)
	case domain.ActionReopen:
		return ticket != nil && ticket.Requester == actor
	case domain.ActionUnclaim:
		return ticket != nil && ticket.IsAssignee(actor)
	}
	return false
}

// Permission returns the policy as an engine predicate.
func (p *StaffPolicy) Permission() domain.Permission {
	return p.Can
}

// RequireSubject ensures the principal is one of the given subject types.
func RequireSubject(allowed ...domain.SubjectType) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		if len(allowed) > 0 && !slices.Contains(allowed, principal.SubjectType) {
			return fiber.NewError(http.StatusForbidden, "subject type not allowed")
		}
		return c.Next()
	}
}

// RequireStaff ensures the principal's actor is staff.
func RequireStaff(policy *StaffPolicy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		if !policy.IsStaff(principal.Actor) {
			return fiber.NewError(http.StatusForbidden, "staff required")
		}
		return c.Next()
	}
}
