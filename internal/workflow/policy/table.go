package policy

import (
	_ "embed"
	"fmt"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"docket/internal/workflow/models"
)

//go:embed transitions.yaml
var defaultTable []byte

// ComplaintRule is one legal complaint status move and the global roles allowed to make it.
type ComplaintRule struct {
	From  models.ComplaintStatus
	To    models.ComplaintStatus
	Roles []models.GlobalRole
}

// Permits reports whether role may trigger the move.
func (r ComplaintRule) Permits(role models.GlobalRole) bool {
	return slices.Contains(r.Roles, role)
}

// StageRule is one legal case stage move and the functional roles allowed to make it.
type StageRule struct {
	From            models.Stage
	To              models.Stage
	AssignmentRoles []models.FunctionalRole
}

// PermitsAny reports whether any of the actor's case roles may trigger the move.
func (r StageRule) PermitsAny(roles models.RoleSet) bool {
	return roles.HasAny(r.AssignmentRoles...)
}

// CaseOpening describes how a global role opens a case: the initial stage and the
// functional role its creator receives.
type CaseOpening struct {
	Stage      models.Stage
	Assignment models.FunctionalRole
}

// Table is the immutable procedural rule set shared by the evaluator and both state
// machines. Accessors return copies.
type Table struct {
	complaint         map[models.ComplaintStatus][]ComplaintRule
	complaintTerminal map[models.ComplaintStatus]bool
	complaintActors   map[models.GlobalRole]bool
	stages            map[models.Stage][]StageRule
	closeRoles        []models.FunctionalRole
	openings          map[models.GlobalRole]CaseOpening
	globalGrantors    []models.GlobalRole
	grantorRoles      []models.FunctionalRole
	eligibility       map[models.FunctionalRole][]models.GlobalRole
	authorRoles       []models.FunctionalRole
}

type rawTable struct {
	Complaint struct {
		Terminal    []string `yaml:"terminal"`
		Transitions []struct {
			From  string   `yaml:"from"`
			To    string   `yaml:"to"`
			Roles []string `yaml:"roles"`
		} `yaml:"transitions"`
	} `yaml:"complaint"`
	Case struct {
		Stages []struct {
			From            string   `yaml:"from"`
			To              string   `yaml:"to"`
			AssignmentRoles []string `yaml:"assignment_roles"`
		} `yaml:"stages"`
		CloseRoles []string `yaml:"close_roles"`
		Openings   map[string]struct {
			Stage      string `yaml:"stage"`
			Assignment string `yaml:"assignment"`
		} `yaml:"openings"`
	} `yaml:"case"`
	Assignment struct {
		GlobalGrantors []string            `yaml:"global_grantors"`
		GrantorRoles   []string            `yaml:"grantor_roles"`
		Eligibility    map[string][]string `yaml:"eligibility"`
	} `yaml:"assignment"`
	Decision struct {
		AuthorRoles []string `yaml:"author_roles"`
	} `yaml:"decision"`
}

var loadDefault = sync.OnceValues(func() (*Table, error) {
	return Load(defaultTable)
})

// Default returns the process-wide table parsed from the embedded rules.
// The embedded rules are part of the binary; a parse failure is a build defect.
func Default() *Table {
	t, err := loadDefault()
	if err != nil {
		panic(fmt.Sprintf("policy: embedded transition table is invalid: %v", err))
	}
	return t
}

// Load parses and validates a transition table document.
func Load(data []byte) (*Table, error) {
	var raw rawTable
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse transition table: %w", err)
	}

	t := &Table{
		complaint:         make(map[models.ComplaintStatus][]ComplaintRule),
		complaintTerminal: make(map[models.ComplaintStatus]bool),
		complaintActors:   make(map[models.GlobalRole]bool),
		stages:            make(map[models.Stage][]StageRule),
		openings:          make(map[models.GlobalRole]CaseOpening),
		eligibility:       make(map[models.FunctionalRole][]models.GlobalRole),
	}

	for _, s := range raw.Complaint.Terminal {
		st, err := complaintStatus(s)
		if err != nil {
			return nil, err
		}
		t.complaintTerminal[st] = true
	}
	for _, tr := range raw.Complaint.Transitions {
		from, err := complaintStatus(tr.From)
		if err != nil {
			return nil, err
		}
		to, err := complaintStatus(tr.To)
		if err != nil {
			return nil, err
		}
		if t.complaintTerminal[from] {
			return nil, fmt.Errorf("complaint transition leaves terminal status %q", from)
		}
		roles, err := globalRoles(tr.Roles)
		if err != nil {
			return nil, err
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("complaint transition %s->%s has no roles", from, to)
		}
		for _, r := range roles {
			t.complaintActors[r] = true
		}
		t.complaint[from] = append(t.complaint[from], ComplaintRule{From: from, To: to, Roles: roles})
	}

	for _, tr := range raw.Case.Stages {
		from, err := stage(tr.From)
		if err != nil {
			return nil, err
		}
		to, err := stage(tr.To)
		if err != nil {
			return nil, err
		}
		if from == models.StageArchived || to == models.StageArchived {
			return nil, fmt.Errorf("stage rules may not involve %q; archiving is system-triggered", models.StageArchived)
		}
		roles, err := functionalRoles(tr.AssignmentRoles)
		if err != nil {
			return nil, err
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("stage transition %s->%s has no roles", from, to)
		}
		t.stages[from] = append(t.stages[from], StageRule{From: from, To: to, AssignmentRoles: roles})
	}

	var err error
	if t.closeRoles, err = functionalRoles(raw.Case.CloseRoles); err != nil {
		return nil, err
	}
	for role, o := range raw.Case.Openings {
		gr, err := globalRole(role)
		if err != nil {
			return nil, err
		}
		st, err := stage(o.Stage)
		if err != nil {
			return nil, err
		}
		fr, err := functionalRole(o.Assignment)
		if err != nil {
			return nil, err
		}
		t.openings[gr] = CaseOpening{Stage: st, Assignment: fr}
	}

	if t.globalGrantors, err = globalRoles(raw.Assignment.GlobalGrantors); err != nil {
		return nil, err
	}
	if t.grantorRoles, err = functionalRoles(raw.Assignment.GrantorRoles); err != nil {
		return nil, err
	}
	for role, holders := range raw.Assignment.Eligibility {
		fr, err := functionalRole(role)
		if err != nil {
			return nil, err
		}
		grs, err := globalRoles(holders)
		if err != nil {
			return nil, err
		}
		t.eligibility[fr] = grs
	}
	if t.authorRoles, err = functionalRoles(raw.Decision.AuthorRoles); err != nil {
		return nil, err
	}
	return t, nil
}

// ComplaintRule looks up the rule for a status move.
func (t *Table) ComplaintRule(from, to models.ComplaintStatus) (ComplaintRule, bool) {
	for _, r := range t.complaint[from] {
		if r.To == to {
			r.Roles = slices.Clone(r.Roles)
			return r, true
		}
	}
	return ComplaintRule{}, false
}

// ComplaintNext lists the statuses reachable from from.
func (t *Table) ComplaintNext(from models.ComplaintStatus) []models.ComplaintStatus {
	out := make([]models.ComplaintStatus, 0, len(t.complaint[from]))
	for _, r := range t.complaint[from] {
		out = append(out, r.To)
	}
	return out
}

// IsComplaintTerminal reports whether s accepts no further transition.
func (t *Table) IsComplaintTerminal(s models.ComplaintStatus) bool {
	return t.complaintTerminal[s] || len(t.complaint[s]) == 0
}

// DrivesComplaints reports whether role appears in any complaint rule.
func (t *Table) DrivesComplaints(role models.GlobalRole) bool {
	return t.complaintActors[role]
}

// StageRule looks up the rule for a stage move.
func (t *Table) StageRule(from, to models.Stage) (StageRule, bool) {
	for _, r := range t.stages[from] {
		if r.To == to {
			r.AssignmentRoles = slices.Clone(r.AssignmentRoles)
			return r, true
		}
	}
	return StageRule{}, false
}

// StageNext lists the stages reachable from from by an assigned actor.
func (t *Table) StageNext(from models.Stage) []models.Stage {
	out := make([]models.Stage, 0, len(t.stages[from]))
	for _, r := range t.stages[from] {
		out = append(out, r.To)
	}
	return out
}

// StageNextFor lists the stages the holder of roles may move the case to.
func (t *Table) StageNextFor(from models.Stage, roles models.RoleSet) []models.Stage {
	var out []models.Stage
	for _, r := range t.stages[from] {
		if r.PermitsAny(roles) {
			out = append(out, r.To)
		}
	}
	return out
}

// CloseRoles lists the functional roles that may close a case.
func (t *Table) CloseRoles() []models.FunctionalRole { return slices.Clone(t.closeRoles) }

// Opening returns how role opens a case, if it may.
func (t *Table) Opening(role models.GlobalRole) (CaseOpening, bool) {
	o, ok := t.openings[role]
	return o, ok
}

// IsGlobalGrantor reports whether role may attach anyone to any case.
func (t *Table) IsGlobalGrantor(role models.GlobalRole) bool {
	return slices.Contains(t.globalGrantors, role)
}

// GrantorRoles lists the case roles whose holders may attach others to that case.
func (t *Table) GrantorRoles() []models.FunctionalRole { return slices.Clone(t.grantorRoles) }

// Eligible reports whether a user with global role may hold functional role fr.
func (t *Table) Eligible(fr models.FunctionalRole, role models.GlobalRole) bool {
	return slices.Contains(t.eligibility[fr], role)
}

// AuthorRoles lists the case roles that may draft a decision.
func (t *Table) AuthorRoles() []models.FunctionalRole { return slices.Clone(t.authorRoles) }

func complaintStatus(s string) (models.ComplaintStatus, error) {
	st := models.ComplaintStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown complaint status %q", s)
	}
	return st, nil
}

func stage(s string) (models.Stage, error) {
	st := models.Stage(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return st, nil
}

func globalRole(s string) (models.GlobalRole, error) {
	r := models.GlobalRole(s)
	if !r.IsValid() {
		return "", fmt.Errorf("unknown global role %q", s)
	}
	return r, nil
}

func globalRoles(in []string) ([]models.GlobalRole, error) {
	out := make([]models.GlobalRole, 0, len(in))
	for _, s := range in {
		r, err := globalRole(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func functionalRole(s string) (models.FunctionalRole, error) {
	r := models.FunctionalRole(s)
	if !r.IsValid() {
		return "", fmt.Errorf("unknown functional role %q", s)
	}
	return r, nil
}

func functionalRoles(in []string) ([]models.FunctionalRole, error) {
	out := make([]models.FunctionalRole, 0, len(in))
	for _, s := range in {
		r, err := functionalRole(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
