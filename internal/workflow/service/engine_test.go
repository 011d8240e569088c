package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"docket/internal/workflow/models"
	"docket/internal/workflow/op"
	"docket/internal/workflow/policy"
	"docket/internal/workflow/service/mocks"
	"docket/internal/workflow/store"
	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
	"docket/pkg/platform/audit"
	"docket/pkg/requestcontext"
)

func (s *EngineSuite) TestScenarioA_PoliceOpensInvestigation() {
	police := s.user(models.RolePolice)
	complaint := s.complaint(s.user(models.RoleCitizen), models.ComplaintSubmitted)
	before := len(s.auditRecords())

	res, err := s.engine.Execute(s.ctx, police.ID, uuid.UUID(complaint.ID),
		op.UpdateComplaintStatus{To: models.ComplaintUnderInvestigation})

	s.Require().NoError(err)
	s.Equal(models.ComplaintUnderInvestigation, res.Complaint.Status)
	s.Equal(models.ComplaintUnderInvestigation, s.reloadComplaint(complaint.ID).Status)

	rec := s.lastAudit(before)
	s.Equal(audit.OutcomeAllowed, rec.Outcome)
	s.Equal("update_complaint_status:en_cours_OPJ", rec.Action)
	s.Equal("complaint:"+complaint.ID.String(), rec.Target)
	s.Require().NotNil(rec.ActorID)
	s.Equal(police.ID, *rec.ActorID)
}

func (s *EngineSuite) TestScenarioB_CitizenIsForbidden() {
	citizen := s.user(models.RoleCitizen)
	complaint := s.complaint(citizen, models.ComplaintSubmitted)
	before := len(s.auditRecords())

	_, err := s.engine.Execute(s.ctx, citizen.ID, uuid.UUID(complaint.ID),
		op.UpdateComplaintStatus{To: models.ComplaintUnderInvestigation})

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.Equal(models.ComplaintSubmitted, s.reloadComplaint(complaint.ID).Status)

	rec := s.lastAudit(before)
	s.Equal(audit.OutcomeDenied, rec.Outcome)
	s.Equal(string(dErrors.CodeForbidden), rec.Reason)
}

func (s *EngineSuite) TestScenarioC_JudgeInstructionAdvancesToTrial() {
	c := s.openCase(models.StageProsecutionReview)
	judge := s.user(models.RoleJudge)
	s.assign(c, judge, models.FunctionalJudgeInstruction)

	res, err := s.engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID), op.AdvanceCaseStage{To: models.StageTrial})

	s.Require().NoError(err)
	s.Equal(models.StageTrial, res.Case.Stage)
	s.Equal(models.StageTrial, s.reloadCase(c.ID).Stage)
}

func (s *EngineSuite) TestScenarioD_SignatureClosesCase() {
	c := s.openCase(models.StageTrial)
	judge := s.user(models.RoleJudge)
	s.assign(c, judge, models.FunctionalJudgeTrial)
	d := s.draft(c, judge)

	res, err := s.engine.Execute(s.ctx, judge.ID, uuid.UUID(d.ID), op.SignDecision{})

	s.Require().NoError(err)
	s.Equal(op.KindSignDecision, res.Op)

	signed := s.reloadDecision(d.ID)
	s.Require().NotNil(signed.SignedBy)
	s.Equal(judge.DisplayName, *signed.SignedBy)
	s.Require().NotNil(signed.SignedAt)
	s.True(signed.SignedAt.Equal(s.now))

	closed := s.reloadCase(c.ID)
	s.Equal(models.CaseClosed, closed.Status)
	s.Equal(models.StageArchived, closed.Stage)
	s.Require().NotNil(closed.ClosedAt)
	s.True(closed.ClosedAt.Equal(s.now))
}

func (s *EngineSuite) TestScenarioE_CloseIsIdempotent() {
	c := s.openCase(models.StageTrial)
	judge := s.user(models.RoleJudge)
	s.assign(c, judge, models.FunctionalJudgeTrial)

	_, err := s.engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID), op.CloseCase{})
	s.Require().NoError(err)
	first := s.reloadCase(c.ID)
	s.Require().NotNil(first.ClosedAt)

	later := requestcontext.WithTime(context.Background(), s.now.Add(48*time.Hour))
	before := len(s.auditRecords())
	res, err := s.engine.Execute(later, judge.ID, uuid.UUID(c.ID), op.CloseCase{})

	s.Require().NoError(err)
	s.True(res.NoOp)
	again := s.reloadCase(c.ID)
	s.Equal(models.CaseClosed, again.Status)
	s.True(again.ClosedAt.Equal(*first.ClosedAt))
	s.Equal(audit.OutcomeAllowed, s.lastAudit(before).Outcome)
}

func (s *EngineSuite) TestOneAuditRecordPerCall() {
	police := s.user(models.RolePolice)
	complaint := s.complaint(s.user(models.RoleCitizen), models.ComplaintSubmitted)
	target := uuid.UUID(complaint.ID)

	cases := []struct {
		name    string
		actor   id.UserID
		target  uuid.UUID
		op      op.Op
		outcome audit.Outcome
		reason  dErrors.Code
	}{
		{"allowed", police.ID, target, op.UpdateComplaintStatus{To: models.ComplaintUnderInvestigation}, audit.OutcomeAllowed, ""},
		{"invalid transition", police.ID, target, op.UpdateComplaintStatus{To: models.ComplaintJudged}, audit.OutcomeDenied, dErrors.CodeInvalidTransition},
		{"no actor", id.UserID(uuid.Nil), target, op.CreateCase{}, audit.OutcomeDenied, dErrors.CodeUnauthorized},
		{"unknown actor", id.UserID(uuid.New()), target, op.CreateCase{}, audit.OutcomeDenied, dErrors.CodeUnauthorized},
		{"missing target", police.ID, uuid.New(), op.CreateCase{}, audit.OutcomeDenied, dErrors.CodeNotFound},
		{"invalid op payload", police.ID, target, op.UpdateComplaintStatus{To: "lost"}, audit.OutcomeDenied, dErrors.CodeValidation},
		{"nil op", police.ID, target, nil, audit.OutcomeDenied, dErrors.CodeBadRequest},
		{"missing target id", police.ID, uuid.Nil, op.CreateCase{}, audit.OutcomeDenied, dErrors.CodeBadRequest},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			before := len(s.auditRecords())
			_, err := s.engine.Execute(s.ctx, tc.actor, tc.target, tc.op)
			if tc.reason == "" {
				s.Require().NoError(err)
			} else {
				s.True(dErrors.HasCode(err, tc.reason), "got %v", err)
			}
			rec := s.lastAudit(before)
			s.Equal(tc.outcome, rec.Outcome)
			s.Equal(string(tc.reason), rec.Reason)
		})
	}
	s.Nil(audit.Verify(s.auditRecords()), "audit chain stays intact")
}

func (s *EngineSuite) TestInvalidTransitionListsAllowedStates() {
	police := s.user(models.RolePolice)
	complaint := s.complaint(s.user(models.RoleCitizen), models.ComplaintSubmitted)

	_, err := s.engine.Execute(s.ctx, police.ID, uuid.UUID(complaint.ID),
		op.UpdateComplaintStatus{To: models.ComplaintReferredToProsecutor})

	de, ok := dErrors.As(err)
	s.Require().True(ok)
	s.Equal(dErrors.CodeInvalidTransition, de.Code)
	s.Equal([]string{string(models.ComplaintUnderInvestigation)}, de.Details["allowed"])
}

func (s *EngineSuite) TestLockedActorIsUnauthorized() {
	police := s.user(models.RolePolice)
	until := s.now.Add(time.Hour)
	locked := &models.User{ID: id.UserID(uuid.New()), DisplayName: "locked", Role: models.RolePolice, LockUntil: &until}
	s.Require().NoError(s.store.CreateUser(s.ctx, locked))
	complaint := s.complaint(s.user(models.RoleCitizen), models.ComplaintSubmitted)

	_, err := s.engine.Execute(s.ctx, locked.ID, uuid.UUID(complaint.ID),
		op.UpdateComplaintStatus{To: models.ComplaintUnderInvestigation})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	// a locked actor learns nothing about targets
	_, err = s.engine.Execute(s.ctx, locked.ID, uuid.New(), op.CloseCase{})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = s.engine.Execute(s.ctx, police.ID, uuid.UUID(complaint.ID),
		op.UpdateComplaintStatus{To: models.ComplaintUnderInvestigation})
	s.NoError(err)
}

func (s *EngineSuite) TestRequestMetadataReachesAudit() {
	citizen := s.user(models.RoleCitizen)
	ctx := requestcontext.WithRequestID(s.ctx, "req-42")
	ctx = requestcontext.WithRoute(ctx, "POST", "/complaints")
	ctx = requestcontext.WithClientMetadata(ctx, "203.0.113.9", "")

	res, err := s.engine.Execute(ctx, citizen.ID, uuid.Nil, op.FileComplaint{Facts: "phone snatched"})
	s.Require().NoError(err)

	records := s.auditRecords()
	rec := records[len(records)-1]
	s.Equal("req-42", rec.RequestID)
	s.Equal("POST", rec.Method)
	s.Equal("/complaints", rec.Endpoint)
	s.Equal("203.0.113.9", rec.IP)
	s.Equal("complaint:"+res.Complaint.ID.String(), rec.Target)
	s.True(rec.Timestamp.Equal(s.now))
}

func (s *EngineSuite) TestRecorderCalledOnceWithOutcome() {
	ctrl := gomock.NewController(s.T())
	recorder := mocks.NewMockAuditRecorder(ctrl)
	engine := New(s.store, policy.Default(), WithAuditRecorder(recorder))
	judge := s.user(models.RoleJudge)
	c := s.openCase(models.StageTrial)

	recorder.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Entry) {
		s.Equal(audit.OutcomeDenied, e.Outcome)
		s.Equal(string(dErrors.CodeForbidden), e.Reason)
		s.Equal("close_case", e.Action)
		s.Equal("case:"+c.ID.String(), e.Target)
	}).Times(1)

	_, err := engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID), op.CloseCase{})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *EngineSuite) TestStoreFailureIsAnErrorOutcome() {
	ctrl := gomock.NewController(s.T())
	recorder := mocks.NewMockAuditRecorder(ctrl)
	engine := New(s.store, policy.Default(), WithAuditRecorder(recorder), WithAttempts(1))
	c := s.openCase(models.StageTrial)
	judge := s.user(models.RoleJudge)
	s.assign(c, judge, models.FunctionalJudgeTrial)
	s.store.err = context.DeadlineExceeded
	s.store.failures.Store(1)

	recorder.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Entry) {
		s.Equal(audit.OutcomeError, e.Outcome)
		s.Equal(string(dErrors.CodeInternal), e.Reason)
	}).Times(1)

	_, err := engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID), op.CloseCase{})
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Equal(models.CaseOpen, s.reloadCase(c.ID).Status)
}

func (s *EngineSuite) TestCancelledContextIsTimeout() {
	police := s.user(models.RolePolice)
	complaint := s.complaint(s.user(models.RoleCitizen), models.ComplaintSubmitted)
	before := len(s.auditRecords())

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err := s.engine.Execute(ctx, police.ID, uuid.UUID(complaint.ID),
		op.UpdateComplaintStatus{To: models.ComplaintUnderInvestigation})

	s.Require().Error(err)
	rec := s.lastAudit(before)
	s.Equal(audit.OutcomeError, rec.Outcome)
}

func (s *EngineSuite) TestDefaultsWithoutRecorder() {
	engine := New(store.NewInMemory(), policy.Default())
	_, err := engine.Execute(s.ctx, id.UserID(uuid.Nil), uuid.Nil, op.FileComplaint{Facts: "x"})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

// lateRevocationStore ends an assignment right after the actor's user row is read, the
// window between identifying the actor and locking the case.
type lateRevocationStore struct {
	*store.InMemoryStore
	once      sync.Once
	afterUser func()
}

func (r *lateRevocationStore) FindUser(ctx context.Context, userID id.UserID) (*models.User, error) {
	u, err := r.InMemoryStore.FindUser(ctx, userID)
	r.once.Do(r.afterUser)
	return u, err
}

func (s *EngineSuite) TestAssignmentEndedBeforeLockIsHonoured() {
	c := s.openCase(models.StageTrial)
	judge := s.user(models.RoleJudge)
	a := s.assign(c, judge, models.FunctionalJudgeTrial)

	racing := &lateRevocationStore{InMemoryStore: s.store.InMemoryStore}
	racing.afterUser = func() {
		a.ApplyEnd(s.now)
		s.Require().NoError(s.store.SaveAssignment(context.Background(), a))
	}
	engine := New(racing, policy.Default(), WithAuditRecorder(audit.NewRecorder(s.auditLog)))
	before := len(s.auditRecords())

	_, err := engine.Execute(s.ctx, judge.ID, uuid.UUID(c.ID), op.AdvanceCaseStage{To: models.StageAppeal})

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.Equal(models.StageTrial, s.reloadCase(c.ID).Stage)
	s.Equal(audit.OutcomeDenied, s.lastAudit(before).Outcome)
}

func (s *EngineSuite) TestRejectRecordsOneDeniedEntry() {
	caseID := uuid.New()
	before := len(s.auditRecords())

	cause := dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	err := s.engine.Reject(s.ctx, id.UserID{}, caseID, op.AdvanceCaseStage{To: models.StageTrial}, cause)

	s.ErrorIs(err, cause)
	rec := s.lastAudit(before)
	s.Equal(audit.OutcomeDenied, rec.Outcome)
	s.Equal(string(dErrors.CodeUnauthorized), rec.Reason)
	s.Equal(string(op.KindAdvanceCaseStage), rec.Action, "untrusted body stays out of the action")
	s.Equal("case:"+caseID.String(), rec.Target)
	s.Nil(rec.ActorID)

	s.Run("nil cause records nothing", func() {
		before := len(s.auditRecords())
		s.NoError(s.engine.Reject(s.ctx, id.UserID{}, uuid.Nil, op.CloseCase{}, nil))
		s.Len(s.auditRecords(), before)
	})
}
