package service

import (
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"docket/internal/workflow/models"
	"docket/internal/workflow/op"
	"docket/internal/workflow/policy"
	"docket/internal/workflow/service/mocks"
	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
	"docket/pkg/platform/audit"
)

func (s *EngineSuite) TestComplaintVisibility() {
	citizen := s.user(models.RoleCitizen)
	mine := s.complaint(citizen, models.ComplaintSubmitted)
	theirs := s.complaint(s.user(models.RoleCitizen), models.ComplaintSubmitted)

	s.Run("citizen sees own complaints only", func() {
		got, err := s.engine.GetComplaint(s.ctx, citizen.ID, mine.ID)
		s.Require().NoError(err)
		s.Equal(mine.ID, got.ID)

		_, err = s.engine.GetComplaint(s.ctx, citizen.ID, theirs.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		list, err := s.engine.ListComplaints(s.ctx, citizen.ID)
		s.Require().NoError(err)
		s.Len(list, 1)
	})
	s.Run("police sees the intake queue", func() {
		police := s.user(models.RolePolice)
		_, err := s.engine.GetComplaint(s.ctx, police.ID, theirs.ID)
		s.NoError(err)
	})
	s.Run("judge without assignment sees nothing", func() {
		judge := s.user(models.RoleJudge)
		list, err := s.engine.ListComplaints(s.ctx, judge.ID)
		s.Require().NoError(err)
		s.Empty(list)
	})
	s.Run("no actor", func() {
		_, err := s.engine.ListComplaints(s.ctx, id.UserID(uuid.Nil))
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *EngineSuite) TestCaseProjections() {
	c := s.openCase(models.StageTrial)
	judge := s.user(models.RoleJudge)
	s.assign(c, judge, models.FunctionalJudgeTrial)
	d := s.draft(c, judge)
	outsider := s.user(models.RoleJudge)
	admin := s.user(models.RoleAdmin)

	s.Run("assigned judge", func() {
		got, err := s.engine.GetCase(s.ctx, judge.ID, c.ID)
		s.Require().NoError(err)
		s.Equal(c.Reference, got.Reference)

		cases, err := s.engine.ListCases(s.ctx, judge.ID)
		s.Require().NoError(err)
		s.Len(cases, 1)

		decision, err := s.engine.GetDecision(s.ctx, judge.ID, d.ID)
		s.Require().NoError(err)
		s.Equal(d.DecisionNumber, decision.DecisionNumber)

		decisions, err := s.engine.ListDecisions(s.ctx, judge.ID, c.ID)
		s.Require().NoError(err)
		s.Len(decisions, 1)

		assignments, err := s.engine.ListAssignments(s.ctx, judge.ID, c.ID)
		s.Require().NoError(err)
		s.Len(assignments, 1)
	})
	s.Run("outsider learns nothing", func() {
		_, err := s.engine.GetCase(s.ctx, outsider.ID, c.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		_, err = s.engine.GetDecision(s.ctx, outsider.ID, d.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		_, err = s.engine.ListAssignments(s.ctx, outsider.ID, c.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		cases, err := s.engine.ListCases(s.ctx, outsider.ID)
		s.Require().NoError(err)
		s.Empty(cases)
	})
	s.Run("admin sees everything", func() {
		cases, err := s.engine.ListCases(s.ctx, admin.ID)
		s.Require().NoError(err)
		s.Len(cases, 1)
	})
	s.Run("projections write no audit record", func() {
		before := len(s.auditRecords())
		_, err := s.engine.GetCase(s.ctx, judge.ID, c.ID)
		s.Require().NoError(err)
		s.Len(s.auditRecords(), before)
	})
}

func (s *EngineSuite) TestListAudit() {
	admin := s.user(models.RoleAdmin)
	citizen := s.user(models.RoleCitizen)
	_, err := s.engine.Execute(s.ctx, citizen.ID, uuid.Nil, op.FileComplaint{Facts: "noise at night"})
	s.Require().NoError(err)

	s.Run("admin lists newest first", func() {
		records, err := s.engine.ListAudit(s.ctx, admin.ID, nil, 0)
		s.Require().NoError(err)
		s.Require().NotEmpty(records)
		s.Equal("file_complaint", records[0].Action)
	})
	s.Run("filter by actor", func() {
		records, err := s.engine.ListAudit(s.ctx, admin.ID, &citizen.ID, 10)
		s.Require().NoError(err)
		s.Len(records, 1)
	})
	s.Run("others are forbidden", func() {
		_, err := s.engine.ListAudit(s.ctx, citizen.ID, nil, 10)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Run("limit is capped", func() {
		ctrl := gomock.NewController(s.T())
		reader := mocks.NewMockAuditReader(ctrl)
		engine := New(s.store, policy.Default(), WithAuditReader(reader))
		reader.EXPECT().ListRecent(gomock.Any(), maxAuditLimit).Return([]audit.Record{}, nil)

		_, err := engine.ListAudit(s.ctx, admin.ID, nil, 1_000_000)
		s.NoError(err)
	})
	s.Run("reader failure", func() {
		ctrl := gomock.NewController(s.T())
		reader := mocks.NewMockAuditReader(ctrl)
		engine := New(s.store, policy.Default(), WithAuditReader(reader))
		reader.EXPECT().ListRecent(gomock.Any(), defaultAuditLimit).Return(nil, assert.AnError)

		_, err := engine.ListAudit(s.ctx, admin.ID, nil, 0)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}
