package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func TestComplaint_CaseLinkSetOnce(t *testing.T) {
	c, err := NewComplaint(id.ComplaintID(uuid.New()), id.UserID(uuid.New()), "stolen bicycle", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, ComplaintSubmitted, c.Status)

	require.NoError(t, c.CanAttachCase())
	c.ApplyCase(id.CaseID(uuid.New()), fixedNow)

	err = c.CanAttachCase()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestNewComplaint_RequiresFacts(t *testing.T) {
	_, err := NewComplaint(id.ComplaintID(uuid.New()), id.UserID(uuid.New()), "   ", fixedNow)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestCase_ClosedAtSetExactlyOnce(t *testing.T) {
	c, err := NewCase(id.CaseID(uuid.New()), id.ComplaintID(uuid.New()), StagePoliceInvestigation, fixedNow)
	require.NoError(t, err)
	assert.False(t, c.IsClosed())
	assert.Regexp(t, `^AFF-2026-[0-9A-F]{10}$`, c.Reference)

	c.ApplyClose(fixedNow)
	require.NotNil(t, c.ClosedAt)
	first := *c.ClosedAt

	c.ApplyArchive(fixedNow.Add(time.Hour))
	assert.Equal(t, first, *c.ClosedAt)
	assert.Equal(t, CaseArchived, c.Status)
	assert.Equal(t, StageArchived, c.Stage)
}

func TestNewCase_RejectsArchivedInitialStage(t *testing.T) {
	_, err := NewCase(id.CaseID(uuid.New()), id.ComplaintID(uuid.New()), StageArchived, fixedNow)
	require.Error(t, err)
}

func TestDecision_SignatureIsTerminal(t *testing.T) {
	judge := id.UserID(uuid.New())
	d, err := NewDecision(id.DecisionID(uuid.New()), id.CaseID(uuid.New()), judge, "guilty", "D-2026-001", fixedNow)
	require.NoError(t, err)
	require.NoError(t, d.CanMutate())
	assert.True(t, d.IsAuthoredBy(judge))
	assert.False(t, d.IsAuthoredBy(id.UserID{}))

	d.ApplySignature("Judge Amara Diallo", fixedNow)
	err = d.CanMutate()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadySigned))

	cp := d.Clone()
	*cp.SignedBy = "someone else"
	assert.Equal(t, "Judge Amara Diallo", *d.SignedBy)
}

func TestUser_IsLocked(t *testing.T) {
	until := fixedNow.Add(10 * time.Minute)
	u := &User{LockUntil: &until}
	assert.True(t, u.IsLocked(fixedNow))
	assert.False(t, u.IsLocked(until.Add(time.Second)))
	assert.False(t, (&User{}).IsLocked(fixedNow))
}

func TestRoleSet(t *testing.T) {
	s := NewRoleSet(FunctionalJudgeTrial, FunctionalGreffier)
	assert.True(t, s.Has(FunctionalJudgeTrial))
	assert.True(t, s.HasAny(FunctionalProsecutor, FunctionalGreffier))
	assert.False(t, s.HasAny(FunctionalProsecutor))
	assert.Equal(t, []FunctionalRole{FunctionalGreffier, FunctionalJudgeTrial}, s.Sorted())
	assert.True(t, NewRoleSet().Empty())
}

func TestParseStatuses(t *testing.T) {
	st, err := ParseComplaintStatus("audience_programmée")
	require.NoError(t, err)
	assert.Equal(t, ComplaintHearingScheduled, st)

	_, err = ParseComplaintStatus("audience_programmee")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = ParseStage("retrial")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = ParseGlobalRole("superuser")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
