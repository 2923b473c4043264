package models

import (
	"fmt"
	"strings"
)

// Role identifies the behavioral variant of an agent. Roles differ only in
// system prompt, legal top-level actions, and the shape of the final answer;
// the core loop is shared.
type Role string

// Agent roles.
const (
	RoleOrchestrator Role = "orchestrator"
	RoleRecon        Role = "recon"
	RoleAnalysis     Role = "analysis"
	RoleVerification Role = "verification"
	RoleSpecialist   Role = "specialist"
)

// AllRoles lists every valid role, orchestrator first.
var AllRoles = []Role{RoleOrchestrator, RoleRecon, RoleAnalysis, RoleVerification, RoleSpecialist}

// ParseRole resolves a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleOrchestrator:
		return RoleOrchestrator, nil
	case RoleRecon:
		return RoleRecon, nil
	case RoleAnalysis:
		return RoleAnalysis, nil
	case RoleVerification:
		return RoleVerification, nil
	case RoleSpecialist:
		return RoleSpecialist, nil
	default:
		return "", fmt.Errorf("unknown agent role %q", s)
	}
}

// CanDispatch reports whether this role is allowed to run child agents.
// Only the orchestrator dispatches.
func (r Role) CanDispatch() bool {
	return r == RoleOrchestrator
}

func (r Role) String() string {
	return string(r)
}
