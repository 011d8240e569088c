package models

import (
	"slices"

	dErrors "docket/pkg/domain-errors"
)

// GlobalRole is the platform-wide role a User holds.
type GlobalRole string

const (
	RoleCitizen       GlobalRole = "citizen"
	RolePolice        GlobalRole = "police"
	RoleProsecutor    GlobalRole = "prosecutor"
	RoleJudge         GlobalRole = "judge"
	RoleClerk         GlobalRole = "clerk"
	RoleLawyer        GlobalRole = "lawyer"
	RolePrisonOfficer GlobalRole = "prison_officer"
	RoleAdmin         GlobalRole = "admin"
)

var globalRoles = []GlobalRole{
	RoleCitizen, RolePolice, RoleProsecutor, RoleJudge,
	RoleClerk, RoleLawyer, RolePrisonOfficer, RoleAdmin,
}

// IsValid reports whether r is a known global role.
func (r GlobalRole) IsValid() bool {
	return slices.Contains(globalRoles, r)
}

func (r GlobalRole) String() string { return string(r) }

// ParseGlobalRole validates a role name.
func ParseGlobalRole(s string) (GlobalRole, error) {
	r := GlobalRole(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role: "+s)
	}
	return r, nil
}

// FunctionalRole is a role a User holds on one specific Case.
type FunctionalRole string

const (
	FunctionalPoliceInvestigator   FunctionalRole = "police_investigator"
	FunctionalProsecutor           FunctionalRole = "prosecutor"
	FunctionalProsecutorSupervisor FunctionalRole = "prosecutor_supervisor"
	FunctionalJudgeInstruction     FunctionalRole = "judge_instruction"
	FunctionalJudgeTrial           FunctionalRole = "judge_trial"
	FunctionalGreffier             FunctionalRole = "greffier"
	FunctionalLawyer               FunctionalRole = "lawyer"
)

var functionalRoles = []FunctionalRole{
	FunctionalPoliceInvestigator, FunctionalProsecutor, FunctionalProsecutorSupervisor,
	FunctionalJudgeInstruction, FunctionalJudgeTrial, FunctionalGreffier, FunctionalLawyer,
}

// IsValid reports whether r is a known functional role.
func (r FunctionalRole) IsValid() bool {
	return slices.Contains(functionalRoles, r)
}

func (r FunctionalRole) String() string { return string(r) }

// ParseFunctionalRole validates a functional role name.
func ParseFunctionalRole(s string) (FunctionalRole, error) {
	r := FunctionalRole(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown functional role: "+s)
	}
	return r, nil
}

// RoleSet is the set of functional roles one user holds on one case.
type RoleSet map[FunctionalRole]struct{}

// NewRoleSet builds a set from a list of roles.
func NewRoleSet(roles ...FunctionalRole) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// Has reports whether r is in the set.
func (s RoleSet) Has(r FunctionalRole) bool {
	_, ok := s[r]
	return ok
}

// HasAny reports whether any of roles is in the set.
func (s RoleSet) HasAny(roles ...FunctionalRole) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Empty reports whether the user holds no role on the case.
func (s RoleSet) Empty() bool { return len(s) == 0 }

// Sorted returns the roles in a stable order, for logs and audit reasons.
func (s RoleSet) Sorted() []FunctionalRole {
	out := make([]FunctionalRole, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}
