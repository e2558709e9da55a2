package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/porthorian/orgauthz/pkg/storage"
)

type Adapter struct {
	db *sql.DB

	stmts preparedStatements
	now   func() time.Time
}

// memberStatements covers one membership table. Organization and group
// memberships share the same lifecycle and differ only in table and column.
type memberStatements struct {
	get        *sql.Stmt
	insert     *sql.Stmt
	restore    *sql.Stmt
	softDelete *sql.Stmt
	updateRole *sql.Stmt
	list       *sql.Stmt
}

func (m memberStatements) all() []*sql.Stmt {
	return []*sql.Stmt{m.get, m.insert, m.restore, m.softDelete, m.updateRole, m.list}
}

type preparedStatements struct {
	getAppRole    *sql.Stmt
	upsertAppRole *sql.Stmt

	getGroupOrganization   *sql.Stmt
	listOrganizationGroups *sql.Stmt

	organizationMembers memberStatements
	groupMembers        memberStatements
}

func (ps *preparedStatements) all() []*sql.Stmt {
	stmts := []*sql.Stmt{ps.getAppRole, ps.upsertAppRole, ps.getGroupOrganization, ps.listOrganizationGroups}
	stmts = append(stmts, ps.organizationMembers.all()...)
	return append(stmts, ps.groupMembers.all()...)
}

type prepareStatementSpec struct {
	label  string
	query  string
	assign func(*preparedStatements, *sql.Stmt)
}

var fixedPrepareStatementSpecs = []prepareStatementSpec{
	{
		label:  "get app role",
		query:  getAppRoleQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.getAppRole = stmt },
	},
	{
		label:  "upsert app role",
		query:  upsertAppRoleQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.upsertAppRole = stmt },
	},
	{
		label:  "get group organization",
		query:  getGroupOrganizationQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.getGroupOrganization = stmt },
	},
	{
		label:  "list organization groups",
		query:  listOrganizationGroupsQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.listOrganizationGroups = stmt },
	},
	{
		label:  "get organization member",
		query:  organizationMemberQueries.get,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.organizationMembers.get = stmt },
	},
	{
		label:  "insert organization member",
		query:  organizationMemberQueries.insert,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.organizationMembers.insert = stmt },
	},
	{
		label:  "restore organization member",
		query:  organizationMemberQueries.restore,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.organizationMembers.restore = stmt },
	},
	{
		label:  "soft delete organization member",
		query:  organizationMemberQueries.softDelete,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.organizationMembers.softDelete = stmt },
	},
	{
		label:  "update organization member role",
		query:  organizationMemberQueries.updateRole,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.organizationMembers.updateRole = stmt },
	},
	{
		label:  "list organization members by user_id",
		query:  organizationMemberQueries.list,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.organizationMembers.list = stmt },
	},
	{
		label:  "get group member",
		query:  groupMemberQueries.get,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.groupMembers.get = stmt },
	},
	{
		label:  "insert group member",
		query:  groupMemberQueries.insert,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.groupMembers.insert = stmt },
	},
	{
		label:  "restore group member",
		query:  groupMemberQueries.restore,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.groupMembers.restore = stmt },
	},
	{
		label:  "soft delete group member",
		query:  groupMemberQueries.softDelete,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.groupMembers.softDelete = stmt },
	},
	{
		label:  "update group member role",
		query:  groupMemberQueries.updateRole,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.groupMembers.updateRole = stmt },
	},
	{
		label:  "list group members by user_id",
		query:  groupMemberQueries.list,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) { ps.groupMembers.list = stmt },
	},
}

var (
	ErrNilDB                 = errors.New("postgres adapter: db is nil")
	ErrAdapterNotInitialized = errors.New("postgres adapter: adapter not initialized")
)

var _ storage.Store = (*Adapter)(nil)

func NewAdapter(db *sql.DB) (*Adapter, error) {
	adapter := &Adapter{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}

	if err := adapter.prepareStatements(); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a == nil {
		return nil
	}

	err := closeStatements(a.stmts.all()...)
	a.stmts = preparedStatements{}
	return err
}

func (a *Adapter) prepareStatements() (err error) {
	db, err := a.requireDB()
	if err != nil {
		return err
	}

	prepared := make([]*sql.Stmt, 0, len(fixedPrepareStatementSpecs))
	defer func() {
		if err != nil {
			_ = closeStatements(prepared...)
		}
	}()

	for _, spec := range fixedPrepareStatementSpecs {
		stmt, prepErr := db.Prepare(spec.query)
		if prepErr != nil {
			err = fmt.Errorf("postgres adapter: prepare %s statement: %w", spec.label, prepErr)
			return err
		}
		prepared = append(prepared, stmt)
		spec.assign(&a.stmts, stmt)
	}
	return nil
}

func (a *Adapter) requirePreparedStatements() error {
	if _, err := a.requireDB(); err != nil {
		return err
	}

	for _, stmt := range a.stmts.all() {
		if stmt == nil {
			return ErrAdapterNotInitialized
		}
	}
	return nil
}

func (a *Adapter) requireDB() (*sql.DB, error) {
	if a == nil || a.db == nil {
		return nil, ErrNilDB
	}
	return a.db, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func closeStatements(stmts ...*sql.Stmt) error {
	var errs []error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
