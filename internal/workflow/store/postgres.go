package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"docket/internal/workflow/models"
	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
	"docket/pkg/platform/sentinel"
	txcontext "docket/pkg/platform/tx"
)

// PostgreSQL error codes the store classifies.
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// PostgresStore persists workflow entities in PostgreSQL. Lock* methods take row locks
// (SELECT ... FOR UPDATE) and must run inside RunInTx.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgres constructs a PostgreSQL-backed workflow store.
func NewPostgres(db *sql.DB, opts ...Option) *PostgresStore {
	return &PostgresStore{db: db, timeout: applyOptions(opts).timeout}
}

// RunInTx runs fn in a read-committed transaction carried by ctx. Nested calls join the
// outer transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(err, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err, "commit transaction")
	}
	return nil
}

func (s *PostgresStore) execer(ctx context.Context) txcontext.Execer {
	return txcontext.ExecerFrom(ctx, s.db)
}

// classify maps driver errors onto sentinels so services never see pq types.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
		case pqSerializationFailure, pqDeadlockDetected:
			return fmt.Errorf("%s: %w: %s", op, sentinel.ErrRetryable, pqErr.Message)
		}
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%s: %w", op, sentinel.ErrUnavailable)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, op+" timed out")
	}
	return fmt.Errorf("%s: %w", op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Users

const userColumns = `id, display_name, email, role, failed_attempts, lock_until, created_at`

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
	`, uuid.UUID(u.ID), u.DisplayName, u.Email, string(u.Role), u.FailedAttempts, u.LockUntil, u.CreatedAt)
	return classify(err, "create user")
}

func (s *PostgresStore) FindUser(ctx context.Context, userID id.UserID) (*models.User, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, uuid.UUID(userID))
	u, err := scanUser(row)
	if err != nil {
		return nil, classify(err, "find user")
	}
	return u, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u         models.User
		rawID     uuid.UUID
		email     sql.NullString
		role      string
		lockUntil sql.NullTime
	)
	if err := row.Scan(&rawID, &u.DisplayName, &email, &role, &u.FailedAttempts, &lockUntil, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.ID = id.UserID(rawID)
	u.Email = email.String
	u.Role = models.GlobalRole(role)
	if lockUntil.Valid {
		t := lockUntil.Time
		u.LockUntil = &t
	}
	return &u, nil
}

// Complaints

const complaintColumns = `id, citizen_id, facts, status, case_id, filed_at, updated_at`

func (s *PostgresStore) CreateComplaint(ctx context.Context, c *models.Complaint) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO complaints (`+complaintColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.UUID(c.ID), uuid.UUID(c.CitizenID), c.Facts, string(c.Status), nullCaseID(c.CaseID), c.FiledAt, c.UpdatedAt)
	return classify(err, "create complaint")
}

func (s *PostgresStore) FindComplaint(ctx context.Context, complaintID id.ComplaintID) (*models.Complaint, error) {
	return s.selectComplaint(ctx, complaintID, "")
}

func (s *PostgresStore) LockComplaint(ctx context.Context, complaintID id.ComplaintID) (*models.Complaint, error) {
	return s.selectComplaint(ctx, complaintID, " FOR UPDATE")
}

func (s *PostgresStore) selectComplaint(ctx context.Context, complaintID id.ComplaintID, lock string) (*models.Complaint, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+complaintColumns+` FROM complaints WHERE id = $1`+lock, uuid.UUID(complaintID))
	c, err := scanComplaint(row)
	if err != nil {
		return nil, classify(err, "find complaint")
	}
	return c, nil
}

func (s *PostgresStore) SaveComplaint(ctx context.Context, c *models.Complaint) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE complaints SET facts = $2, status = $3, case_id = $4, updated_at = $5
		WHERE id = $1
	`, uuid.UUID(c.ID), c.Facts, string(c.Status), nullCaseID(c.CaseID), c.UpdatedAt)
	return expectOne(res, err, "save complaint")
}

func (s *PostgresStore) DeleteComplaint(ctx context.Context, complaintID id.ComplaintID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM complaints WHERE id = $1`, uuid.UUID(complaintID))
	return expectOne(res, err, "delete complaint")
}

// ListComplaints returns the complaints matching scope, oldest first.
func (s *PostgresStore) ListComplaints(ctx context.Context, scope models.Scope) ([]*models.Complaint, error) {
	if scope.Empty() {
		return []*models.Complaint{}, nil
	}
	where, args := scopeClause(scope, scopeSQL{
		citizen:  `complaints.citizen_id = $%d`,
		assignee: `EXISTS (SELECT 1 FROM assignments a WHERE a.case_id = complaints.case_id AND a.user_id = $%d AND a.ended_at IS NULL)`,
		unopened: `complaints.case_id IS NULL`,
	})
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+complaintColumns+` FROM complaints WHERE `+where+` ORDER BY filed_at`, args...)
	if err != nil {
		return nil, classify(err, "list complaints")
	}
	defer rows.Close()
	var out []*models.Complaint
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, classify(err, "scan complaint")
		}
		out = append(out, c)
	}
	return out, classify(rows.Err(), "list complaints")
}

// scopeSQL holds the predicate for each scope criterion. citizen and assignee take one
// placeholder verb for their parameter number.
type scopeSQL struct {
	citizen, assignee, unopened string
}

// scopeClause ORs the predicates of the criteria set on scope. The scope must not be empty.
func scopeClause(scope models.Scope, q scopeSQL) (string, []any) {
	if scope.All {
		return "TRUE", nil
	}
	var (
		preds []string
		args  []any
	)
	if scope.CitizenID != nil {
		args = append(args, uuid.UUID(*scope.CitizenID))
		preds = append(preds, fmt.Sprintf(q.citizen, len(args)))
	}
	if scope.AssigneeID != nil {
		args = append(args, uuid.UUID(*scope.AssigneeID))
		preds = append(preds, fmt.Sprintf(q.assignee, len(args)))
	}
	if scope.Unopened {
		preds = append(preds, q.unopened)
	}
	return "(" + strings.Join(preds, " OR ") + ")", args
}

func scanComplaint(row rowScanner) (*models.Complaint, error) {
	var (
		c         models.Complaint
		rawID     uuid.UUID
		citizenID uuid.UUID
		status    string
		caseID    uuid.NullUUID
	)
	if err := row.Scan(&rawID, &citizenID, &c.Facts, &status, &caseID, &c.FiledAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ID = id.ComplaintID(rawID)
	c.CitizenID = id.UserID(citizenID)
	c.Status = models.ComplaintStatus(status)
	if caseID.Valid {
		cid := id.CaseID(caseID.UUID)
		c.CaseID = &cid
	}
	return &c, nil
}

func nullCaseID(caseID *id.CaseID) uuid.NullUUID {
	if caseID == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*caseID), Valid: true}
}

// Cases

const caseColumns = `id, complaint_id, reference, stage, status, opened_at, closed_at, updated_at`

func (s *PostgresStore) CreateCase(ctx context.Context, c *models.Case) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO cases (`+caseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.UUID(c.ID), uuid.UUID(c.ComplaintID), c.Reference, string(c.Stage), string(c.Status), c.OpenedAt, c.ClosedAt, c.UpdatedAt)
	return classify(err, "create case")
}

func (s *PostgresStore) FindCase(ctx context.Context, caseID id.CaseID) (*models.Case, error) {
	return s.selectCase(ctx, caseID, "")
}

func (s *PostgresStore) LockCase(ctx context.Context, caseID id.CaseID) (*models.Case, error) {
	return s.selectCase(ctx, caseID, " FOR UPDATE")
}

func (s *PostgresStore) selectCase(ctx context.Context, caseID id.CaseID, lock string) (*models.Case, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`+lock, uuid.UUID(caseID))
	c, err := scanCase(row)
	if err != nil {
		return nil, classify(err, "find case")
	}
	return c, nil
}

// SaveCase writes stage and status. closed_at is only ever filled, never cleared or moved.
func (s *PostgresStore) SaveCase(ctx context.Context, c *models.Case) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE cases SET stage = $2, status = $3, closed_at = COALESCE(closed_at, $4), updated_at = $5
		WHERE id = $1
	`, uuid.UUID(c.ID), string(c.Stage), string(c.Status), c.ClosedAt, c.UpdatedAt)
	return expectOne(res, err, "save case")
}

// ListCases returns the cases matching scope, oldest first. A case matches through its
// complaint.
func (s *PostgresStore) ListCases(ctx context.Context, scope models.Scope) ([]*models.Case, error) {
	if scope.Empty() {
		return []*models.Case{}, nil
	}
	where, args := scopeClause(scope, scopeSQL{
		citizen:  `EXISTS (SELECT 1 FROM complaints c WHERE c.id = cases.complaint_id AND c.citizen_id = $%d)`,
		assignee: `EXISTS (SELECT 1 FROM assignments a WHERE a.case_id = cases.id AND a.user_id = $%d AND a.ended_at IS NULL)`,
		unopened: `FALSE`,
	})
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE `+where+` ORDER BY opened_at`, args...)
	if err != nil {
		return nil, classify(err, "list cases")
	}
	defer rows.Close()
	var out []*models.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, classify(err, "scan case")
		}
		out = append(out, c)
	}
	return out, classify(rows.Err(), "list cases")
}

func scanCase(row rowScanner) (*models.Case, error) {
	var (
		c           models.Case
		rawID       uuid.UUID
		complaintID uuid.UUID
		stage       string
		status      string
		closedAt    sql.NullTime
	)
	if err := row.Scan(&rawID, &complaintID, &c.Reference, &stage, &status, &c.OpenedAt, &closedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ID = id.CaseID(rawID)
	c.ComplaintID = id.ComplaintID(complaintID)
	c.Stage = models.Stage(stage)
	c.Status = models.CaseStatus(status)
	if closedAt.Valid {
		t := closedAt.Time
		c.ClosedAt = &t
	}
	return &c, nil
}

// Decisions

const decisionColumns = `id, case_id, judge_id, verdict, decision_number, signed_by, signed_at, created_at, updated_at`

func (s *PostgresStore) CreateDecision(ctx context.Context, d *models.Decision) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO decisions (`+decisionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.UUID(d.ID), uuid.UUID(d.CaseID), uuid.UUID(d.JudgeID), d.Verdict, d.DecisionNumber,
		d.SignedBy, d.SignedAt, d.CreatedAt, d.UpdatedAt)
	return classify(err, "create decision")
}

func (s *PostgresStore) FindDecision(ctx context.Context, decisionID id.DecisionID) (*models.Decision, error) {
	return s.selectDecision(ctx, decisionID, "")
}

func (s *PostgresStore) LockDecision(ctx context.Context, decisionID id.DecisionID) (*models.Decision, error) {
	return s.selectDecision(ctx, decisionID, " FOR UPDATE")
}

func (s *PostgresStore) selectDecision(ctx context.Context, decisionID id.DecisionID, lock string) (*models.Decision, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = $1`+lock, uuid.UUID(decisionID))
	d, err := scanDecision(row)
	if err != nil {
		return nil, classify(err, "find decision")
	}
	return d, nil
}

// SaveDecision writes a draft or its signature. A signed row is never rewritten: the
// guard makes a stale writer affect zero rows.
func (s *PostgresStore) SaveDecision(ctx context.Context, d *models.Decision) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE decisions SET verdict = $2, signed_by = $3, signed_at = $4, updated_at = $5
		WHERE id = $1 AND signed_by IS NULL
	`, uuid.UUID(d.ID), d.Verdict, d.SignedBy, d.SignedAt, d.UpdatedAt)
	return expectOne(res, err, "save decision")
}

func (s *PostgresStore) DeleteDecision(ctx context.Context, decisionID id.DecisionID) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM decisions WHERE id = $1 AND signed_by IS NULL`, uuid.UUID(decisionID))
	return expectOne(res, err, "delete decision")
}

func (s *PostgresStore) ListDecisionsByCase(ctx context.Context, caseID id.CaseID) ([]*models.Decision, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE case_id = $1 ORDER BY created_at`, uuid.UUID(caseID))
	if err != nil {
		return nil, classify(err, "list decisions")
	}
	defer rows.Close()
	var out []*models.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, classify(err, "scan decision")
		}
		out = append(out, d)
	}
	return out, classify(rows.Err(), "list decisions")
}

func scanDecision(row rowScanner) (*models.Decision, error) {
	var (
		d        models.Decision
		rawID    uuid.UUID
		caseID   uuid.UUID
		judgeID  uuid.UUID
		signedBy sql.NullString
		signedAt sql.NullTime
	)
	if err := row.Scan(&rawID, &caseID, &judgeID, &d.Verdict, &d.DecisionNumber, &signedBy, &signedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.ID = id.DecisionID(rawID)
	d.CaseID = id.CaseID(caseID)
	d.JudgeID = id.UserID(judgeID)
	if signedBy.Valid {
		name := signedBy.String
		d.SignedBy = &name
	}
	if signedAt.Valid {
		t := signedAt.Time
		d.SignedAt = &t
	}
	return &d, nil
}

// Assignments

const assignmentColumns = `id, case_id, user_id, role, assigned_at, ended_at`

func (s *PostgresStore) CreateAssignment(ctx context.Context, a *models.Assignment) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO assignments (`+assignmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.UUID(a.ID), uuid.UUID(a.CaseID), uuid.UUID(a.UserID), string(a.Role), a.AssignedAt, a.EndedAt)
	return classify(err, "create assignment")
}

func (s *PostgresStore) SaveAssignment(ctx context.Context, a *models.Assignment) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE assignments SET ended_at = $2 WHERE id = $1`, uuid.UUID(a.ID), a.EndedAt)
	return expectOne(res, err, "save assignment")
}

func (s *PostgresStore) FindActiveAssignment(ctx context.Context, caseID id.CaseID, userID id.UserID, role models.FunctionalRole) (*models.Assignment, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE case_id = $1 AND user_id = $2 AND role = $3 AND ended_at IS NULL
		FOR UPDATE
	`, uuid.UUID(caseID), uuid.UUID(userID), string(role))
	a, err := scanAssignment(row)
	if err != nil {
		return nil, classify(err, "find assignment")
	}
	return a, nil
}

func (s *PostgresStore) ListActiveAssignments(ctx context.Context, caseID id.CaseID, userID id.UserID) ([]*models.Assignment, error) {
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE case_id = $1 AND user_id = $2 AND ended_at IS NULL
		ORDER BY assigned_at, role
	`, uuid.UUID(caseID), uuid.UUID(userID))
}

func (s *PostgresStore) ListActiveAssignmentsForUser(ctx context.Context, userID id.UserID) ([]*models.Assignment, error) {
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE user_id = $1 AND ended_at IS NULL
		ORDER BY assigned_at, role
	`, uuid.UUID(userID))
}

func (s *PostgresStore) ListCaseAssignments(ctx context.Context, caseID id.CaseID) ([]*models.Assignment, error) {
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE case_id = $1
		ORDER BY assigned_at, role
	`, uuid.UUID(caseID))
}

func (s *PostgresStore) queryAssignments(ctx context.Context, query string, args ...any) ([]*models.Assignment, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "list assignments")
	}
	defer rows.Close()
	var out []*models.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, classify(err, "scan assignment")
		}
		out = append(out, a)
	}
	return out, classify(rows.Err(), "list assignments")
}

func scanAssignment(row rowScanner) (*models.Assignment, error) {
	var (
		a       models.Assignment
		rawID   uuid.UUID
		caseID  uuid.UUID
		userID  uuid.UUID
		role    string
		endedAt sql.NullTime
	)
	if err := row.Scan(&rawID, &caseID, &userID, &role, &a.AssignedAt, &endedAt); err != nil {
		return nil, err
	}
	a.ID = id.AssignmentID(rawID)
	a.CaseID = id.CaseID(caseID)
	a.UserID = id.UserID(userID)
	a.Role = models.FunctionalRole(role)
	if endedAt.Valid {
		t := endedAt.Time
		a.EndedAt = &t
	}
	return &a, nil
}

func expectOne(res sql.Result, err error, op string) error {
	if err != nil {
		return classify(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
