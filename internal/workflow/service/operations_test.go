package service

import (
	"github.com/google/uuid"

	"docket/internal/workflow/models"
	"docket/internal/workflow/op"
	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
)

func (s *EngineSuite) TestFileComplaint() {
	citizen := s.user(models.RoleCitizen)

	res, err := s.engine.Execute(s.ctx, citizen.ID, uuid.Nil, op.FileComplaint{Facts: "  car window broken  "})
	s.Require().NoError(err)
	s.Equal(models.ComplaintSubmitted, res.Complaint.Status)
	s.Equal(citizen.ID, res.Complaint.CitizenID)
	s.Equal("car window broken", s.reloadComplaint(res.Complaint.ID).Facts)

	s.Run("only citizens file", func() {
		police := s.user(models.RolePolice)
		_, err := s.engine.Execute(s.ctx, police.ID, uuid.Nil, op.FileComplaint{Facts: "x"})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Run("no target allowed", func() {
		_, err := s.engine.Execute(s.ctx, citizen.ID, uuid.New(), op.FileComplaint{Facts: "x"})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *EngineSuite) TestCreateCase() {
	s.Run("police opens at investigation and is assigned", func() {
		police := s.user(models.RolePolice)
		complaint := s.complaint(s.user(models.RoleCitizen), models.ComplaintUnderInvestigation)

		res, err := s.engine.Execute(s.ctx, police.ID, uuid.UUID(complaint.ID), op.CreateCase{})
		s.Require().NoError(err)
		s.Equal(models.StagePoliceInvestigation, res.Case.Stage)
		s.Equal(models.CaseOpen, res.Case.Status)
		s.Require().NotNil(res.Assignment)
		s.Equal(models.FunctionalPoliceInvestigator, res.Assignment.Role)
		s.Equal(police.ID, res.Assignment.UserID)

		stored := s.reloadComplaint(complaint.ID)
		s.Require().NotNil(stored.CaseID)
		s.Equal(res.Case.ID, *stored.CaseID)

		roles, err := s.engine.directory.AssignmentRoles(s.ctx, res.Case.ID, police.ID)
		s.Require().NoError(err)
		s.True(roles.Has(models.FunctionalPoliceInvestigator))
	})
	s.Run("prosecutor opens at review", func() {
		prosecutor := s.user(models.RoleProsecutor)
		complaint := s.complaint(s.user(models.RoleCitizen), models.ComplaintReferredToProsecutor)

		res, err := s.engine.Execute(s.ctx, prosecutor.ID, uuid.UUID(complaint.ID), op.CreateCase{})
		s.Require().NoError(err)
		s.Equal(models.StageProsecutionReview, res.Case.Stage)
		s.Equal(models.FunctionalProsecutor, res.Assignment.Role)
	})
	s.Run("admin opens without assignment", func() {
		admin := s.user(models.RoleAdmin)
		complaint := s.complaint(s.user(models.RoleCitizen), models.ComplaintSubmitted)

		res, err := s.engine.Execute(s.ctx, admin.ID, uuid.UUID(complaint.ID), op.CreateCase{})
		s.Require().NoError(err)
		s.Equal(models.StagePoliceInvestigation, res.Case.Stage)
		s.Nil(res.Assignment)
	})
	s.Run("second case conflicts", func() {
		police := s.user(models.RolePolice)
		complaint := s.complaint(s.user(models.RoleCitizen), models.ComplaintSubmitted)
		_, err := s.engine.Execute(s.ctx, police.ID, uuid.UUID(complaint.ID), op.CreateCase{})
		s.Require().NoError(err)

		_, err = s.engine.Execute(s.ctx, police.ID, uuid.UUID(complaint.ID), op.CreateCase{})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
	s.Run("terminal complaint", func() {
		police := s.user(models.RolePolice)
		complaint := s.complaint(s.user(models.RoleCitizen), models.ComplaintDismissedByPolice)
		_, err := s.engine.Execute(s.ctx, police.ID, uuid.UUID(complaint.ID), op.CreateCase{})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
	s.Run("judge cannot open", func() {
		judge := s.user(models.RoleJudge)
		complaint := s.complaint(s.user(models.RoleCitizen), models.ComplaintSubmitted)
		_, err := s.engine.Execute(s.ctx, judge.ID, uuid.UUID(complaint.ID), op.CreateCase{})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Nil(s.reloadComplaint(complaint.ID).CaseID)
	})
}

func (s *EngineSuite) TestUpdateComplaintStatus() {
	police := s.user(models.RolePolice)

	s.Run("police takes a submitted complaint", func() {
		complaint := s.complaint(s.user(models.RoleCitizen), models.ComplaintSubmitted)
		res, err := s.engine.Execute(s.ctx, police.ID, uuid.UUID(complaint.ID),
			op.UpdateComplaintStatus{To: models.ComplaintUnderInvestigation})
		s.Require().NoError(err)
		s.Equal(models.ComplaintUnderInvestigation, res.Complaint.Status)
		s.Equal(models.ComplaintUnderInvestigation, s.reloadComplaint(complaint.ID).Status)
	})
	s.Run("role outside the rule", func() {
		complaint := s.complaint(s.user(models.RoleCitizen), models.ComplaintSubmitted)
		prosecutor := s.user(models.RoleProsecutor)
		_, err := s.engine.Execute(s.ctx, prosecutor.ID, uuid.UUID(complaint.ID),
			op.UpdateComplaintStatus{To: models.ComplaintUnderInvestigation})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "got %v", err)
		s.Equal(models.ComplaintSubmitted, s.reloadComplaint(complaint.ID).Status)
	})
	s.Run("move outside the table", func() {
		complaint := s.complaint(s.user(models.RoleCitizen), models.ComplaintSubmitted)
		_, err := s.engine.Execute(s.ctx, police.ID, uuid.UUID(complaint.ID),
			op.UpdateComplaintStatus{To: models.ComplaintJudged})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition), "got %v", err)
	})
	s.Run("terminal status", func() {
		complaint := s.complaint(s.user(models.RoleCitizen), models.ComplaintDismissedByPolice)
		_, err := s.engine.Execute(s.ctx, police.ID, uuid.UUID(complaint.ID),
			op.UpdateComplaintStatus{To: models.ComplaintUnderInvestigation})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition), "got %v", err)
	})
	s.Run("citizens never drive complaints", func() {
		citizen := s.user(models.RoleCitizen)
		complaint := s.complaint(citizen, models.ComplaintSubmitted)
		_, err := s.engine.Execute(s.ctx, citizen.ID, uuid.UUID(complaint.ID),
			op.UpdateComplaintStatus{To: models.ComplaintUnderInvestigation})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "got %v", err)
	})
}

func (s *EngineSuite) TestAdvanceCaseStage() {
	s.Run("unassigned actor is forbidden", func() {
		c := s.openCase(models.StageProsecutionReview)
		judge := s.user(models.RoleJudge)
		_, err := s.engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID), op.AdvanceCaseStage{To: models.StageTrial})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Run("wrong assignment role is an invalid transition", func() {
		c := s.openCase(models.StageProsecutionReview)
		greffier := s.user(models.RoleClerk)
		s.assign(c, greffier, models.FunctionalGreffier)
		_, err := s.engine.Execute(s.ctx, greffier.ID, uuid.UUID(c.ID), op.AdvanceCaseStage{To: models.StageTrial})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
		s.Equal(models.StageProsecutionReview, s.reloadCase(c.ID).Stage)
	})
	s.Run("skipping a stage is invalid", func() {
		c := s.openCase(models.StagePoliceInvestigation)
		prosecutor := s.user(models.RoleProsecutor)
		s.assign(c, prosecutor, models.FunctionalProsecutor)
		_, err := s.engine.Execute(s.ctx, prosecutor.ID, uuid.UUID(c.ID), op.AdvanceCaseStage{To: models.StageTrial})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
	s.Run("closed case never advances", func() {
		c := s.openCase(models.StageTrial)
		judge := s.user(models.RoleJudge)
		s.assign(c, judge, models.FunctionalJudgeTrial)
		_, err := s.engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID), op.CloseCase{})
		s.Require().NoError(err)

		_, err = s.engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID), op.AdvanceCaseStage{To: models.StageAppeal})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
	s.Run("admin overrides roles but not the table", func() {
		c := s.openCase(models.StageTrial)
		admin := s.user(models.RoleAdmin)
		_, err := s.engine.Execute(s.ctx, admin.ID, uuid.UUID(c.ID), op.AdvanceCaseStage{To: models.StageExecution})
		s.Require().NoError(err)

		_, err = s.engine.Execute(s.ctx, admin.ID, uuid.UUID(c.ID), op.AdvanceCaseStage{To: models.StageArchived})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
	s.Run("ended assignment no longer grants", func() {
		c := s.openCase(models.StageTrial)
		judge := s.user(models.RoleJudge)
		s.assign(c, judge, models.FunctionalJudgeTrial)
		clerk := s.user(models.RoleClerk)
		_, err := s.engine.Execute(s.ctx, clerk.ID, uuid.UUID(c.ID),
			op.EndAssignment{UserID: judge.ID, Role: models.FunctionalJudgeTrial})
		s.Require().NoError(err)

		_, err = s.engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID), op.AdvanceCaseStage{To: models.StageAppeal})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *EngineSuite) TestCloseAndArchive() {
	s.Run("prosecutor without supervisor role cannot close", func() {
		c := s.openCase(models.StageProsecutionReview)
		prosecutor := s.user(models.RoleProsecutor)
		s.assign(c, prosecutor, models.FunctionalProsecutor)
		_, err := s.engine.Execute(s.ctx, prosecutor.ID, uuid.UUID(c.ID), op.CloseCase{})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Run("archive is admin only and terminal", func() {
		c := s.openCase(models.StageTrial)
		judge := s.user(models.RoleJudge)
		s.assign(c, judge, models.FunctionalJudgeTrial)
		_, err := s.engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID), op.ArchiveCase{})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

		admin := s.user(models.RoleAdmin)
		res, err := s.engine.Execute(s.ctx, admin.ID, uuid.UUID(c.ID), op.ArchiveCase{})
		s.Require().NoError(err)
		s.Equal(models.CaseArchived, res.Case.Status)
		s.Equal(models.StageArchived, res.Case.Stage)
		s.NotNil(res.Case.ClosedAt)

		_, err = s.engine.Execute(s.ctx, admin.ID, uuid.UUID(c.ID), op.ArchiveCase{})
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyClosed))
		_, err = s.engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID), op.CloseCase{})
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyClosed))
	})
	s.Run("unknown case", func() {
		admin := s.user(models.RoleAdmin)
		_, err := s.engine.Execute(s.ctx, admin.ID, uuid.New(), op.CloseCase{})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *EngineSuite) TestAssignments() {
	s.Run("clerk grants an eligible judge", func() {
		c := s.openCase(models.StageProsecutionReview)
		clerk := s.user(models.RoleClerk)
		judge := s.user(models.RoleJudge)

		res, err := s.engine.Execute(s.ctx, clerk.ID, uuid.UUID(c.ID),
			op.CreateAssignment{UserID: judge.ID, Role: models.FunctionalJudgeInstruction})
		s.Require().NoError(err)
		s.True(res.Assignment.IsActive())

		_, err = s.engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID), op.AdvanceCaseStage{To: models.StageTrial})
		s.NoError(err, "the new assignment is visible to the next call")
	})
	s.Run("ineligible global role", func() {
		c := s.openCase(models.StageTrial)
		clerk := s.user(models.RoleClerk)
		police := s.user(models.RolePolice)
		_, err := s.engine.Execute(s.ctx, clerk.ID, uuid.UUID(c.ID),
			op.CreateAssignment{UserID: police.ID, Role: models.FunctionalJudgeTrial})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("duplicate active assignment", func() {
		c := s.openCase(models.StageTrial)
		clerk := s.user(models.RoleClerk)
		judge := s.user(models.RoleJudge)
		s.assign(c, judge, models.FunctionalJudgeTrial)
		_, err := s.engine.Execute(s.ctx, clerk.ID, uuid.UUID(c.ID),
			op.CreateAssignment{UserID: judge.ID, Role: models.FunctionalJudgeTrial})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
	s.Run("unknown assignee", func() {
		c := s.openCase(models.StageTrial)
		clerk := s.user(models.RoleClerk)
		_, err := s.engine.Execute(s.ctx, clerk.ID, uuid.UUID(c.ID),
			op.CreateAssignment{UserID: id.UserID(uuid.New()), Role: models.FunctionalJudgeTrial})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
	s.Run("assigned grantor may grant, lawyer may not", func() {
		c := s.openCase(models.StageTrial)
		judge := s.user(models.RoleJudge)
		s.assign(c, judge, models.FunctionalJudgeTrial)
		lawyer := s.user(models.RoleLawyer)

		_, err := s.engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID),
			op.CreateAssignment{UserID: lawyer.ID, Role: models.FunctionalLawyer})
		s.Require().NoError(err)

		other := s.user(models.RoleLawyer)
		_, err = s.engine.Execute(s.ctx, lawyer.ID, uuid.UUID(c.ID),
			op.CreateAssignment{UserID: other.ID, Role: models.FunctionalLawyer})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Run("ending keeps history", func() {
		c := s.openCase(models.StageTrial)
		clerk := s.user(models.RoleClerk)
		judge := s.user(models.RoleJudge)
		s.assign(c, judge, models.FunctionalJudgeTrial)

		res, err := s.engine.Execute(s.ctx, clerk.ID, uuid.UUID(c.ID),
			op.EndAssignment{UserID: judge.ID, Role: models.FunctionalJudgeTrial})
		s.Require().NoError(err)
		s.False(res.Assignment.IsActive())

		all, err := s.store.ListCaseAssignments(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Len(all, 1)
		s.NotNil(all[0].EndedAt)

		_, err = s.engine.Execute(s.ctx, clerk.ID, uuid.UUID(c.ID),
			op.EndAssignment{UserID: judge.ID, Role: models.FunctionalJudgeTrial})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *EngineSuite) TestDecisions() {
	s.Run("assigned judge drafts and amends", func() {
		c := s.openCase(models.StageTrial)
		judge := s.user(models.RoleJudge)
		s.assign(c, judge, models.FunctionalJudgeTrial)

		res, err := s.engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID),
			op.DraftDecision{Verdict: "acquitted", DecisionNumber: "2026/TR/001"})
		s.Require().NoError(err)
		s.False(res.Decision.IsSigned())

		amended, err := s.engine.Execute(s.ctx, judge.ID, uuid.UUID(res.Decision.ID), op.AmendDecision{Verdict: "guilty"})
		s.Require().NoError(err)
		s.Equal("guilty", amended.Decision.Verdict)

		_, err = s.engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID),
			op.DraftDecision{Verdict: "x", DecisionNumber: "2026/TR/001"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
	s.Run("unassigned judge cannot draft", func() {
		c := s.openCase(models.StageTrial)
		judge := s.user(models.RoleJudge)
		_, err := s.engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID),
			op.DraftDecision{Verdict: "x", DecisionNumber: "N-1"})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Run("admin cannot author", func() {
		c := s.openCase(models.StageTrial)
		admin := s.user(models.RoleAdmin)
		_, err := s.engine.Execute(s.ctx, admin.ID, uuid.UUID(c.ID),
			op.DraftDecision{Verdict: "x", DecisionNumber: "N-2"})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Run("closed case takes no drafts", func() {
		c := s.openCase(models.StageTrial)
		judge := s.user(models.RoleJudge)
		s.assign(c, judge, models.FunctionalJudgeTrial)
		_, err := s.engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID), op.CloseCase{})
		s.Require().NoError(err)

		_, err = s.engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID),
			op.DraftDecision{Verdict: "x", DecisionNumber: "N-3"})
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyClosed))
	})
	s.Run("signed decision is immutable", func() {
		f := s.signable()
		_, err := s.engine.Execute(s.ctx, f.judge.ID, uuid.UUID(f.decision.ID), op.SignDecision{})
		s.Require().NoError(err)

		_, err = s.engine.Execute(s.ctx, f.judge.ID, uuid.UUID(f.decision.ID), op.AmendDecision{Verdict: "changed"})
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadySigned))
		s.Equal("guilty", s.reloadDecision(f.decision.ID).Verdict)
	})
	s.Run("only the author amends", func() {
		f := s.signable()
		other := s.user(models.RoleJudge)
		_, err := s.engine.Execute(s.ctx, other.ID, uuid.UUID(f.decision.ID), op.AmendDecision{Verdict: "changed"})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *EngineSuite) TestDeletes() {
	admin := s.user(models.RoleAdmin)

	s.Run("complaint without case", func() {
		complaint := s.complaint(s.user(models.RoleCitizen), models.ComplaintSubmitted)
		res, err := s.engine.Execute(s.ctx, admin.ID, uuid.UUID(complaint.ID), op.DeleteComplaint{})
		s.Require().NoError(err)
		s.True(res.Deleted)
		_, err = s.store.FindComplaint(s.ctx, complaint.ID)
		s.Error(err)
	})
	s.Run("complaint with case", func() {
		c := s.openCase(models.StageTrial)
		_, err := s.engine.Execute(s.ctx, admin.ID, uuid.UUID(c.ComplaintID), op.DeleteComplaint{})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
	s.Run("non admin", func() {
		citizen := s.user(models.RoleCitizen)
		complaint := s.complaint(citizen, models.ComplaintSubmitted)
		_, err := s.engine.Execute(s.ctx, citizen.ID, uuid.UUID(complaint.ID), op.DeleteComplaint{})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Run("draft decision", func() {
		f := s.signable()
		res, err := s.engine.Execute(s.ctx, admin.ID, uuid.UUID(f.decision.ID), op.DeleteDecision{})
		s.Require().NoError(err)
		s.True(res.Deleted)
	})
	s.Run("signed decision", func() {
		f := s.signable()
		_, err := s.engine.Execute(s.ctx, f.judge.ID, uuid.UUID(f.decision.ID), op.SignDecision{})
		s.Require().NoError(err)
		_, err = s.engine.Execute(s.ctx, admin.ID, uuid.UUID(f.decision.ID), op.DeleteDecision{})
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadySigned))
	})
}
