package machine

import (
	"fmt"
	"time"

	"docket/internal/workflow/models"
	"docket/internal/workflow/policy"
	dErrors "docket/pkg/domain-errors"
)

// CaseMachine governs Case.Stage and Case.Status.
type CaseMachine struct {
	table *policy.Table
}

// NewCaseMachine builds a machine over table.
func NewCaseMachine(table *policy.Table) *CaseMachine {
	return &CaseMachine{table: table}
}

// CanAdvance checks a stage move for an actor holding roles on the case. override skips
// the role match (admin) but never the table: archived stays unreachable by advancing.
func (m *CaseMachine) CanAdvance(c *models.Case, to models.Stage, roles models.RoleSet, override bool) error {
	if c.IsClosed() {
		return invalidTransition(fmt.Sprintf("case %s is %s", c.Reference, c.Status), nil)
	}
	allowed := m.table.StageNextFor(c.Stage, roles)
	if override {
		allowed = m.table.StageNext(c.Stage)
	}
	rule, ok := m.table.StageRule(c.Stage, to)
	if !ok || (!override && !rule.PermitsAny(roles)) {
		return invalidTransition(
			fmt.Sprintf("case cannot move from %s to %s", c.Stage, to),
			stageNames(allowed),
		)
	}
	return nil
}

// Advance validates and applies a stage move.
func (m *CaseMachine) Advance(c *models.Case, to models.Stage, roles models.RoleSet, override bool, now time.Time) error {
	if err := m.CanAdvance(c, to, roles, override); err != nil {
		return err
	}
	c.ApplyStage(to, now)
	return nil
}

// Close moves an open case to closed. Closing a closed case is a no-op; an archived case
// reports AlreadyClosed.
func (m *CaseMachine) Close(c *models.Case, now time.Time) (noop bool, err error) {
	switch c.Status {
	case models.CaseArchived:
		return false, dErrors.New(dErrors.CodeAlreadyClosed, "case is archived")
	case models.CaseClosed:
		return true, nil
	}
	c.ApplyClose(now)
	return false, nil
}

// Archive is the admin override to the terminal state. A case sealed by a decision
// signature is already in the archived stage and keeps its closed status, so archiving
// it is a no-op.
func (m *CaseMachine) Archive(c *models.Case, now time.Time) (noop bool, err error) {
	switch {
	case c.Status == models.CaseArchived:
		return false, dErrors.New(dErrors.CodeAlreadyClosed, "case is already archived")
	case c.IsSealed():
		return true, nil
	}
	c.ApplyArchive(now)
	return false, nil
}

// CanDraft checks that the case still accepts new decisions.
func (m *CaseMachine) CanDraft(c *models.Case) error {
	if c.IsClosed() {
		return dErrors.New(dErrors.CodeAlreadyClosed, "case is closed")
	}
	return nil
}

// Seal is the case half of the decision signature: closed status, archived stage.
// An archived case has left the procedure and cannot receive a signature.
func (m *CaseMachine) Seal(c *models.Case, now time.Time) error {
	if c.Status == models.CaseArchived {
		return dErrors.New(dErrors.CodeAlreadyClosed, "case is archived")
	}
	c.ApplyDecisionSigned(now)
	return nil
}

func stageNames(in []models.Stage) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
