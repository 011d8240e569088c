// Package store persists workflow entities. The in-memory store serves tests and local
// runs; the Postgres store is the production backend. Both hold row locks for the whole
// transaction started by RunInTx.
package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"docket/internal/workflow/models"
	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
	"docket/pkg/platform/sentinel"
)

const defaultTxTimeout = 5 * time.Second

// Option configures a store.
type Option func(*settings)

type settings struct {
	timeout time.Duration
}

// WithTxTimeout bounds transactions started without a deadline on ctx.
func WithTxTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func applyOptions(opts []Option) settings {
	s := settings{timeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// InMemoryStore keeps every entity behind one mutex. A transaction holds the mutex for
// its whole duration and journals an undo step per mutation so a failed unit of work
// leaves no trace.
type InMemoryStore struct {
	mu          sync.Mutex
	users       map[id.UserID]*models.User
	complaints  map[id.ComplaintID]*models.Complaint
	cases       map[id.CaseID]*models.Case
	decisions   map[id.DecisionID]*models.Decision
	assignments map[id.AssignmentID]*models.Assignment
	timeout     time.Duration
}

// NewInMemory builds an empty store.
func NewInMemory(opts ...Option) *InMemoryStore {
	return &InMemoryStore{
		timeout:     applyOptions(opts).timeout,
		users:       make(map[id.UserID]*models.User),
		complaints:  make(map[id.ComplaintID]*models.Complaint),
		cases:       make(map[id.CaseID]*models.Case),
		decisions:   make(map[id.DecisionID]*models.Decision),
		assignments: make(map[id.AssignmentID]*models.Assignment),
	}
}

type journalKey struct{}

type journal struct {
	owner *InMemoryStore
	undo  []func()
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// RunInTx runs fn holding the store lock. Any error from fn rolls back every mutation
// fn made through the store.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if j, ok := ctx.Value(journalKey{}).(*journal); ok && j.owner == s {
		return fn(ctx)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	j := &journal{owner: s}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		j.rollback()
		return err
	}
	return nil
}

// lock takes the store mutex unless ctx already runs inside this store's transaction.
func (s *InMemoryStore) lock(ctx context.Context) (unlock func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok && j.owner == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *InMemoryStore) record(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok && j.owner == s {
		j.undo = append(j.undo, undo)
	}
}

// Users

func (s *InMemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	unlock := s.lock(ctx)
	defer unlock()
	if _, ok := s.users[u.ID]; ok {
		return sentinel.ErrConflict
	}
	for _, existing := range s.users {
		if u.Email != "" && existing.Email == u.Email {
			return sentinel.ErrConflict
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	s.record(ctx, func() { delete(s.users, u.ID) })
	return nil
}

func (s *InMemoryStore) FindUser(ctx context.Context, userID id.UserID) (*models.User, error) {
	unlock := s.lock(ctx)
	defer unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// Complaints

func (s *InMemoryStore) CreateComplaint(ctx context.Context, c *models.Complaint) error {
	unlock := s.lock(ctx)
	defer unlock()
	if _, ok := s.complaints[c.ID]; ok {
		return sentinel.ErrConflict
	}
	s.complaints[c.ID] = c.Clone()
	s.record(ctx, func() { delete(s.complaints, c.ID) })
	return nil
}

func (s *InMemoryStore) FindComplaint(ctx context.Context, complaintID id.ComplaintID) (*models.Complaint, error) {
	unlock := s.lock(ctx)
	defer unlock()
	c, ok := s.complaints[complaintID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

// LockComplaint reads a complaint for update. The store mutex is the row lock.
func (s *InMemoryStore) LockComplaint(ctx context.Context, complaintID id.ComplaintID) (*models.Complaint, error) {
	return s.FindComplaint(ctx, complaintID)
}

func (s *InMemoryStore) SaveComplaint(ctx context.Context, c *models.Complaint) error {
	unlock := s.lock(ctx)
	defer unlock()
	prev, ok := s.complaints[c.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.complaints[c.ID] = c.Clone()
	s.record(ctx, func() { s.complaints[c.ID] = prev })
	return nil
}

func (s *InMemoryStore) DeleteComplaint(ctx context.Context, complaintID id.ComplaintID) error {
	unlock := s.lock(ctx)
	defer unlock()
	prev, ok := s.complaints[complaintID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.complaints, complaintID)
	s.record(ctx, func() { s.complaints[complaintID] = prev })
	return nil
}

// ListComplaints returns the complaints matching scope, oldest first.
func (s *InMemoryStore) ListComplaints(ctx context.Context, scope models.Scope) ([]*models.Complaint, error) {
	unlock := s.lock(ctx)
	defer unlock()
	if scope.Empty() {
		return []*models.Complaint{}, nil
	}
	assigned := s.assignedCases(scope)
	out := make([]*models.Complaint, 0, len(s.complaints))
	for _, c := range s.complaints {
		if scope.MatchComplaint(c, c.CaseID != nil && assigned[*c.CaseID]) {
			out = append(out, c.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Complaint) int { return a.FiledAt.Compare(b.FiledAt) })
	return out, nil
}

// assignedCases is the set of cases the scope's assignee actively holds a role on.
// Callers hold the lock.
func (s *InMemoryStore) assignedCases(scope models.Scope) map[id.CaseID]bool {
	out := make(map[id.CaseID]bool)
	if scope.AssigneeID == nil {
		return out
	}
	for _, a := range s.assignments {
		if a.IsActive() && a.UserID == *scope.AssigneeID {
			out[a.CaseID] = true
		}
	}
	return out
}

// Cases

// CreateCase inserts a case. A second case for the same complaint, or a reused reference,
// is a conflict.
func (s *InMemoryStore) CreateCase(ctx context.Context, c *models.Case) error {
	unlock := s.lock(ctx)
	defer unlock()
	if _, ok := s.cases[c.ID]; ok {
		return sentinel.ErrConflict
	}
	for _, existing := range s.cases {
		if existing.ComplaintID == c.ComplaintID || existing.Reference == c.Reference {
			return sentinel.ErrConflict
		}
	}
	s.cases[c.ID] = c.Clone()
	s.record(ctx, func() { delete(s.cases, c.ID) })
	return nil
}

func (s *InMemoryStore) FindCase(ctx context.Context, caseID id.CaseID) (*models.Case, error) {
	unlock := s.lock(ctx)
	defer unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *InMemoryStore) LockCase(ctx context.Context, caseID id.CaseID) (*models.Case, error) {
	return s.FindCase(ctx, caseID)
}

func (s *InMemoryStore) SaveCase(ctx context.Context, c *models.Case) error {
	unlock := s.lock(ctx)
	defer unlock()
	prev, ok := s.cases[c.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.cases[c.ID] = c.Clone()
	s.record(ctx, func() { s.cases[c.ID] = prev })
	return nil
}

// ListCases returns the cases matching scope, oldest first. A case matches through its
// complaint.
func (s *InMemoryStore) ListCases(ctx context.Context, scope models.Scope) ([]*models.Case, error) {
	unlock := s.lock(ctx)
	defer unlock()
	if scope.Empty() {
		return []*models.Case{}, nil
	}
	assigned := s.assignedCases(scope)
	out := make([]*models.Case, 0, len(s.cases))
	for _, c := range s.cases {
		complaint, ok := s.complaints[c.ComplaintID]
		if !ok {
			continue
		}
		if scope.MatchComplaint(complaint, assigned[c.ID]) {
			out = append(out, c.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Case) int { return a.OpenedAt.Compare(b.OpenedAt) })
	return out, nil
}

// Decisions

// CreateDecision inserts a draft. Decision numbers are unique.
func (s *InMemoryStore) CreateDecision(ctx context.Context, d *models.Decision) error {
	unlock := s.lock(ctx)
	defer unlock()
	if _, ok := s.decisions[d.ID]; ok {
		return sentinel.ErrConflict
	}
	for _, existing := range s.decisions {
		if existing.DecisionNumber == d.DecisionNumber {
			return sentinel.ErrConflict
		}
	}
	s.decisions[d.ID] = d.Clone()
	s.record(ctx, func() { delete(s.decisions, d.ID) })
	return nil
}

func (s *InMemoryStore) FindDecision(ctx context.Context, decisionID id.DecisionID) (*models.Decision, error) {
	unlock := s.lock(ctx)
	defer unlock()
	d, ok := s.decisions[decisionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return d.Clone(), nil
}

func (s *InMemoryStore) LockDecision(ctx context.Context, decisionID id.DecisionID) (*models.Decision, error) {
	return s.FindDecision(ctx, decisionID)
}

func (s *InMemoryStore) SaveDecision(ctx context.Context, d *models.Decision) error {
	unlock := s.lock(ctx)
	defer unlock()
	prev, ok := s.decisions[d.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.decisions[d.ID] = d.Clone()
	s.record(ctx, func() { s.decisions[d.ID] = prev })
	return nil
}

func (s *InMemoryStore) DeleteDecision(ctx context.Context, decisionID id.DecisionID) error {
	unlock := s.lock(ctx)
	defer unlock()
	prev, ok := s.decisions[decisionID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.decisions, decisionID)
	s.record(ctx, func() { s.decisions[decisionID] = prev })
	return nil
}

func (s *InMemoryStore) ListDecisionsByCase(ctx context.Context, caseID id.CaseID) ([]*models.Decision, error) {
	unlock := s.lock(ctx)
	defer unlock()
	var out []*models.Decision
	for _, d := range s.decisions {
		if d.CaseID == caseID {
			out = append(out, d.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Decision) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// Assignments

// CreateAssignment inserts an active assignment. At most one active assignment exists per
// (case, user, role).
func (s *InMemoryStore) CreateAssignment(ctx context.Context, a *models.Assignment) error {
	unlock := s.lock(ctx)
	defer unlock()
	if _, ok := s.assignments[a.ID]; ok {
		return sentinel.ErrConflict
	}
	for _, existing := range s.assignments {
		if existing.IsActive() && existing.CaseID == a.CaseID && existing.UserID == a.UserID && existing.Role == a.Role {
			return sentinel.ErrConflict
		}
	}
	s.assignments[a.ID] = a.Clone()
	s.record(ctx, func() { delete(s.assignments, a.ID) })
	return nil
}

func (s *InMemoryStore) SaveAssignment(ctx context.Context, a *models.Assignment) error {
	unlock := s.lock(ctx)
	defer unlock()
	prev, ok := s.assignments[a.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.assignments[a.ID] = a.Clone()
	s.record(ctx, func() { s.assignments[a.ID] = prev })
	return nil
}

func (s *InMemoryStore) FindActiveAssignment(ctx context.Context, caseID id.CaseID, userID id.UserID, role models.FunctionalRole) (*models.Assignment, error) {
	unlock := s.lock(ctx)
	defer unlock()
	for _, a := range s.assignments {
		if a.IsActive() && a.CaseID == caseID && a.UserID == userID && a.Role == role {
			return a.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListActiveAssignments(ctx context.Context, caseID id.CaseID, userID id.UserID) ([]*models.Assignment, error) {
	return s.filterAssignments(ctx, func(a *models.Assignment) bool {
		return a.IsActive() && a.CaseID == caseID && a.UserID == userID
	})
}

func (s *InMemoryStore) ListActiveAssignmentsForUser(ctx context.Context, userID id.UserID) ([]*models.Assignment, error) {
	return s.filterAssignments(ctx, func(a *models.Assignment) bool {
		return a.IsActive() && a.UserID == userID
	})
}

// ListCaseAssignments returns every assignment on a case, ended ones included.
func (s *InMemoryStore) ListCaseAssignments(ctx context.Context, caseID id.CaseID) ([]*models.Assignment, error) {
	return s.filterAssignments(ctx, func(a *models.Assignment) bool { return a.CaseID == caseID })
}

func (s *InMemoryStore) filterAssignments(ctx context.Context, keep func(*models.Assignment) bool) ([]*models.Assignment, error) {
	unlock := s.lock(ctx)
	defer unlock()
	var out []*models.Assignment
	for _, a := range s.assignments {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Assignment) int {
		return cmp.Or(a.AssignedAt.Compare(b.AssignedAt), cmp.Compare(a.Role, b.Role))
	})
	return out, nil
}
