package service

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"docket/internal/workflow/metrics"
	"docket/internal/workflow/models"
	"docket/internal/workflow/op"
	"docket/internal/workflow/policy"
	dErrors "docket/pkg/domain-errors"
	"docket/pkg/platform/audit"
	"docket/pkg/platform/sentinel"
)

type signFixture struct {
	caseRow  *models.Case
	judge    *models.User
	decision *models.Decision
}

func (s *EngineSuite) signable() signFixture {
	c := s.openCase(models.StageTrial)
	judge := s.user(models.RoleJudge)
	s.assign(c, judge, models.FunctionalJudgeTrial)
	return signFixture{caseRow: c, judge: judge, decision: s.draft(c, judge)}
}

func (s *EngineSuite) TestSignatureRollsBackWhenCaseWriteFails() {
	f := s.signable()
	s.store.err = errors.New("disk full")
	s.store.failures.Store(100)
	before := len(s.auditRecords())

	_, err := s.engine.Execute(s.ctx, f.judge.ID, uuid.UUID(f.decision.ID), op.SignDecision{})

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeCascadeFailed))
	s.Nil(s.reloadDecision(f.decision.ID).SignedBy, "decision write rolled back")
	c := s.reloadCase(f.caseRow.ID)
	s.Equal(models.CaseOpen, c.Status)
	s.Equal(models.StageTrial, c.Stage)
	s.Nil(c.ClosedAt)

	rec := s.lastAudit(before)
	s.Equal(audit.OutcomeError, rec.Outcome)
	s.Equal(string(dErrors.CodeCascadeFailed), rec.Reason)
}

func (s *EngineSuite) TestCascadeRetriesBeforeFailing() {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s.engine = New(s.store, policy.Default(), WithMetrics(m), WithAttempts(3))
	f := s.signable()
	s.store.err = errors.New("connection reset")
	s.store.failures.Store(2)

	res, err := s.engine.Execute(s.ctx, f.judge.ID, uuid.UUID(f.decision.ID), op.SignDecision{})

	s.Require().NoError(err)
	s.Require().NotNil(res.Decision.SignedBy)
	s.Equal(models.CaseClosed, s.reloadCase(f.caseRow.ID).Status)
	s.Equal(float64(2), testutil.ToFloat64(m.CascadeRetries))
	s.Equal(float64(0), testutil.ToFloat64(m.CascadeFailures))
	s.Equal(float64(1), testutil.ToFloat64(m.DecisionsSigned))
}

func (s *EngineSuite) TestCascadeFailureCountedOnceAttemptsRunOut() {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s.engine = New(s.store, policy.Default(), WithMetrics(m), WithAttempts(2))
	f := s.signable()
	s.store.err = errors.New("connection reset")
	s.store.failures.Store(5)

	_, err := s.engine.Execute(s.ctx, f.judge.ID, uuid.UUID(f.decision.ID), op.SignDecision{})

	s.True(dErrors.HasCode(err, dErrors.CodeCascadeFailed))
	s.Equal(float64(1), testutil.ToFloat64(m.CascadeRetries))
	s.Equal(float64(1), testutil.ToFloat64(m.CascadeFailures))
	s.Equal(int32(2), 5-s.store.failures.Load(), "one write per attempt")
}

func (s *EngineSuite) TestSerializationFailureIsRetriedForAnyOperation() {
	f := s.signable()
	s.store.err = fmt.Errorf("save case: %w", sentinel.ErrRetryable)
	s.store.failures.Store(1)

	res, err := s.engine.Execute(s.ctx, f.judge.ID, uuid.UUID(f.caseRow.ID), op.CloseCase{})

	s.Require().NoError(err)
	s.Equal(models.CaseClosed, res.Case.Status)
}

func (s *EngineSuite) TestSerializationFailureSurfacesAsInternal() {
	s.engine = New(s.store, policy.Default(), WithAttempts(2))
	f := s.signable()
	s.store.err = fmt.Errorf("save case: %w", sentinel.ErrRetryable)
	s.store.failures.Store(10)

	_, err := s.engine.Execute(s.ctx, f.judge.ID, uuid.UUID(f.caseRow.ID), op.CloseCase{})

	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.True(errors.Is(err, sentinel.ErrRetryable))
}

func (s *EngineSuite) TestSecondSignatureIsAlreadySigned() {
	f := s.signable()
	_, err := s.engine.Execute(s.ctx, f.judge.ID, uuid.UUID(f.decision.ID), op.SignDecision{})
	s.Require().NoError(err)
	signed := s.reloadDecision(f.decision.ID)
	closed := s.reloadCase(f.caseRow.ID)
	before := len(s.auditRecords())

	_, err = s.engine.Execute(s.ctx, f.judge.ID, uuid.UUID(f.decision.ID), op.SignDecision{})

	s.True(dErrors.HasCode(err, dErrors.CodeAlreadySigned))
	s.Equal(signed, s.reloadDecision(f.decision.ID))
	s.Equal(closed, s.reloadCase(f.caseRow.ID))
	rec := s.lastAudit(before)
	s.Equal(audit.OutcomeDenied, rec.Outcome)
	s.Equal(string(dErrors.CodeAlreadySigned), rec.Reason)
}

func (s *EngineSuite) TestSignatureGate() {
	s.Run("other judge", func() {
		f := s.signable()
		other := s.user(models.RoleJudge)
		_, err := s.engine.Execute(s.ctx, other.ID, uuid.UUID(f.decision.ID), op.SignDecision{})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Run("admin never signs", func() {
		f := s.signable()
		admin := s.user(models.RoleAdmin)
		_, err := s.engine.Execute(s.ctx, admin.ID, uuid.UUID(f.decision.ID), op.SignDecision{})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Nil(s.reloadDecision(f.decision.ID).SignedBy)
	})
	s.Run("archived case", func() {
		f := s.signable()
		admin := s.user(models.RoleAdmin)
		_, err := s.engine.Execute(s.ctx, admin.ID, uuid.UUID(f.caseRow.ID), op.ArchiveCase{})
		s.Require().NoError(err)

		_, err = s.engine.Execute(s.ctx, f.judge.ID, uuid.UUID(f.decision.ID), op.SignDecision{})
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyClosed))
		s.Nil(s.reloadDecision(f.decision.ID).SignedBy)
	})
	s.Run("unknown decision", func() {
		f := s.signable()
		_, err := s.engine.Execute(s.ctx, f.judge.ID, uuid.New(), op.SignDecision{})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *EngineSuite) TestConcurrentSignaturesFromTheAuthor() {
	f := s.signable()
	const callers = 8

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.engine.Execute(s.ctx, f.judge.ID, uuid.UUID(f.decision.ID), op.SignDecision{})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadySigned), "got %v", err)
	}
	s.Equal(1, succeeded)
	s.Len(s.auditRecords(), callers)
}

func (s *EngineSuite) TestConcurrentSignaturesFromTwoJudges() {
	f := s.signable()
	other := s.user(models.RoleJudge)
	s.assign(f.caseRow, other, models.FunctionalJudgeTrial)

	var wg sync.WaitGroup
	var authorErr, otherErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, authorErr = s.engine.Execute(s.ctx, f.judge.ID, uuid.UUID(f.decision.ID), op.SignDecision{})
	}()
	go func() {
		defer wg.Done()
		_, otherErr = s.engine.Execute(s.ctx, other.ID, uuid.UUID(f.decision.ID), op.SignDecision{})
	}()
	wg.Wait()

	s.NoError(authorErr)
	s.Require().Error(otherErr)
	s.True(dErrors.HasCode(otherErr, dErrors.CodeAlreadySigned) || dErrors.HasCode(otherErr, dErrors.CodeForbidden),
		"got %v", otherErr)

	d := s.reloadDecision(f.decision.ID)
	s.Require().NotNil(d.SignedBy)
	s.Equal(f.judge.DisplayName, *d.SignedBy)
}

func (s *EngineSuite) TestArchivingASignedCaseKeepsItClosed() {
	f := s.signable()
	_, err := s.engine.Execute(s.ctx, f.judge.ID, uuid.UUID(f.decision.ID), op.SignDecision{})
	s.Require().NoError(err)
	admin := s.user(models.RoleAdmin)
	before := len(s.auditRecords())

	res, err := s.engine.Execute(s.ctx, admin.ID, uuid.UUID(f.caseRow.ID), op.ArchiveCase{})

	s.Require().NoError(err)
	s.True(res.NoOp)
	c := s.reloadCase(f.caseRow.ID)
	s.Equal(models.CaseClosed, c.Status)
	s.Equal(models.StageArchived, c.Stage)
	s.NotNil(s.reloadDecision(f.decision.ID).SignedBy)
	s.Equal(audit.OutcomeAllowed, s.lastAudit(before).Outcome)
}
