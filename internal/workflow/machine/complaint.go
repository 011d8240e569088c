// Package machine holds the Complaint and Case state machines. Both validate moves against
// the shared policy table and mutate entities only through the models' Apply methods.
package machine

import (
	"fmt"
	"time"

	"docket/internal/workflow/models"
	"docket/internal/workflow/policy"
	dErrors "docket/pkg/domain-errors"
)

// ComplaintMachine governs Complaint.Status.
type ComplaintMachine struct {
	table *policy.Table
}

// NewComplaintMachine builds a machine over table.
func NewComplaintMachine(table *policy.Table) *ComplaintMachine {
	return &ComplaintMachine{table: table}
}

// CanTransition checks that from->to is in the table. The caller's role has already been
// checked by the evaluator; a move outside the table is invalid whoever asks.
func (m *ComplaintMachine) CanTransition(c *models.Complaint, to models.ComplaintStatus) error {
	if m.table.IsComplaintTerminal(c.Status) {
		return invalidTransition(fmt.Sprintf("complaint status %s is terminal", c.Status), nil)
	}
	if _, ok := m.table.ComplaintRule(c.Status, to); !ok {
		return invalidTransition(
			fmt.Sprintf("complaint cannot move from %s to %s", c.Status, to),
			statusNames(m.table.ComplaintNext(c.Status)),
		)
	}
	return nil
}

// Transition validates and applies a status move.
func (m *ComplaintMachine) Transition(c *models.Complaint, to models.ComplaintStatus, now time.Time) error {
	if err := m.CanTransition(c, to); err != nil {
		return err
	}
	c.ApplyStatus(to, now)
	return nil
}

// CanOpenCase checks that a case may be attached to c: once only, and never on a complaint
// whose procedure has ended.
func (m *ComplaintMachine) CanOpenCase(c *models.Complaint) error {
	if c.HasCase() {
		return dErrors.New(dErrors.CodeConflict, "complaint already has a case")
	}
	if m.table.IsComplaintTerminal(c.Status) {
		return invalidTransition(fmt.Sprintf("complaint status %s is terminal", c.Status), nil)
	}
	return nil
}

func invalidTransition(msg string, allowed []string) error {
	if allowed == nil {
		allowed = []string{}
	}
	return dErrors.New(dErrors.CodeInvalidTransition, msg).WithDetail("allowed", allowed)
}

func statusNames(in []models.ComplaintStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
