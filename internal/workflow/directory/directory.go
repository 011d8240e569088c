// Package directory resolves who an actor is: their global role and the functional roles
// they hold on a case. Users are cached for the duration of one engine call; case roles
// are always read fresh.
package directory

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"docket/internal/workflow/models"
	id "docket/pkg/domain"
	dErrors "docket/pkg/domain-errors"
	"docket/pkg/platform/sentinel"
)

// Store is the read side of the persistence collaborator the directory needs.
type Store interface {
	FindUser(ctx context.Context, userID id.UserID) (*models.User, error)
	ListActiveAssignments(ctx context.Context, caseID id.CaseID, userID id.UserID) ([]*models.Assignment, error)
	ListActiveAssignmentsForUser(ctx context.Context, userID id.UserID) ([]*models.Assignment, error)
}

// Directory is a read-only lookup of users and their case assignments.
type Directory struct {
	store Store
}

// New builds a directory over store.
func New(store Store) *Directory {
	return &Directory{store: store}
}

// RoleOf returns the global role of userID.
func (d *Directory) RoleOf(ctx context.Context, userID id.UserID) (models.GlobalRole, error) {
	u, err := d.user(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

// AssignmentRoles returns the functional roles userID actively holds on caseID. The set
// is empty, never nil, when the user holds none.
func (d *Directory) AssignmentRoles(ctx context.Context, caseID id.CaseID, userID id.UserID) (models.RoleSet, error) {
	assignments, err := d.store.ListActiveAssignments(ctx, caseID, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load assignments")
	}
	roles := models.NewRoleSet()
	for _, a := range assignments {
		if a.IsActive() {
			roles[a.Role] = struct{}{}
		}
	}
	return roles, nil
}

func (d *Directory) user(ctx context.Context, userID id.UserID) (*models.User, error) {
	u, err := d.store.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "unknown actor")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load actor")
	}
	return u, nil
}

// ForCall starts a cache scoped to one engine call. Drop it when the call returns.
func (d *Directory) ForCall() *Call {
	return &Call{
		dir:   d,
		users: make(map[id.UserID]*models.User),
	}
}

// Call memoizes user lookups within a single engine call. Case roles are not cached:
// they are read inside the transaction, after the case row is locked, so a concurrent
// assignment change is either fully visible or blocks until it commits.
type Call struct {
	dir   *Directory
	mu    sync.Mutex
	users map[id.UserID]*models.User
}

// Profile is an actor together with every functional role they actively hold.
type Profile struct {
	User  *models.User
	Roles map[id.CaseID]models.RoleSet
}

// For returns the roles held on caseID, empty when there are none.
func (p Profile) For(caseID *id.CaseID) models.RoleSet {
	if caseID != nil {
		if roles, ok := p.Roles[*caseID]; ok {
			return roles
		}
	}
	return models.NewRoleSet()
}

// Profile loads the actor and all of their active assignments in parallel. It serves
// read projections, which hold no lock on the cases they list.
func (c *Call) Profile(ctx context.Context, userID id.UserID) (Profile, error) {
	var (
		user        *models.User
		assignments []*models.Assignment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		user, err = c.User(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		assignments, err = c.dir.store.ListActiveAssignmentsForUser(gctx, userID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load assignments")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Profile{}, err
	}
	roles := make(map[id.CaseID]models.RoleSet)
	for _, a := range assignments {
		if !a.IsActive() {
			continue
		}
		if roles[a.CaseID] == nil {
			roles[a.CaseID] = models.NewRoleSet()
		}
		roles[a.CaseID][a.Role] = struct{}{}
	}
	return Profile{User: user, Roles: roles}, nil
}

// User returns the cached user, loading it on first use.
func (c *Call) User(ctx context.Context, userID id.UserID) (*models.User, error) {
	c.mu.Lock()
	u, ok := c.users[userID]
	c.mu.Unlock()
	if ok {
		return u, nil
	}
	u, err := c.dir.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.users[userID] = u
	c.mu.Unlock()
	return u, nil
}

// Roles reads the role set of userID on caseID. Call it after the case is locked.
func (c *Call) Roles(ctx context.Context, caseID id.CaseID, userID id.UserID) (models.RoleSet, error) {
	return c.dir.AssignmentRoles(ctx, caseID, userID)
}
