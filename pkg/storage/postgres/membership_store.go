package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/porthorian/orgauthz/pkg/membership"
	"github.com/porthorian/orgauthz/pkg/storage"
)

// Placeholders first appear in ascending order so the same statements run
// unchanged against sqlite in tests.
const (
	getAppRoleQuery = `
SELECT app_role
FROM users
WHERE id = $1
`

	upsertAppRoleQuery = `
INSERT INTO users (
  id, app_role, date_added
) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET
  app_role = excluded.app_role
`

	getGroupOrganizationQuery = `
SELECT organization_id
FROM organization_groups
WHERE id = $1
`

	listOrganizationGroupsQuery = `
SELECT id
FROM organization_groups
WHERE organization_id = $1
ORDER BY id
`
)

type memberQueries struct {
	get        string
	insert     string
	restore    string
	softDelete string
	updateRole string
	list       string
}

func newMemberQueries(table string, column string) memberQueries {
	return memberQueries{
		get: fmt.Sprintf(`
SELECT role, deleted_at
FROM %[1]s
WHERE user_id = $1 AND %[2]s = $2
`, table, column),
		insert: fmt.Sprintf(`
INSERT INTO %[1]s (
  user_id, %[2]s, role, date_added
) VALUES ($1, $2, $3, $4)
`, table, column),
		restore: fmt.Sprintf(`
UPDATE %[1]s
SET role = $1, deleted_at = NULL, date_modified = $2
WHERE user_id = $3 AND %[2]s = $4 AND deleted_at IS NOT NULL
`, table, column),
		softDelete: fmt.Sprintf(`
UPDATE %[1]s
SET deleted_at = $1, date_modified = $1
WHERE user_id = $2 AND %[2]s = $3 AND deleted_at IS NULL
`, table, column),
		updateRole: fmt.Sprintf(`
UPDATE %[1]s
SET role = $1, date_modified = $2
WHERE user_id = $3 AND %[2]s = $4 AND deleted_at IS NULL
`, table, column),
		list: fmt.Sprintf(`
SELECT %[2]s, role
FROM %[1]s
WHERE user_id = $1 AND deleted_at IS NULL
ORDER BY %[2]s
`, table, column),
	}
}

var (
	organizationMemberQueries = newMemberQueries("organization_members", "organization_id")
	groupMemberQueries        = newMemberQueries("group_members", "group_id")
)

var errConcurrentChange = errors.New("postgres adapter: membership changed concurrently")

func (a *Adapter) AppRole(ctx context.Context, userID string) (membership.AppRole, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return membership.AppRoleNone, err
	}

	var role sql.NullString
	err := a.stmts.getAppRole.QueryRowContext(ctx, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return membership.AppRoleNone, nil
	}
	if err != nil {
		return membership.AppRoleNone, err
	}
	if !role.Valid {
		return membership.AppRoleNone, nil
	}
	return membership.AppRole(role.String), nil
}

func (a *Adapter) SetAppRole(ctx context.Context, userID string, role membership.AppRole) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	value := sql.NullString{String: string(role), Valid: role != membership.AppRoleNone}
	if _, err := a.stmts.upsertAppRole.ExecContext(ctx, userID, value, a.now()); err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (a *Adapter) OrganizationMembership(ctx context.Context, userID string, organizationID int64) (membership.State, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return nil, err
	}
	return scanMemberState(a.stmts.organizationMembers.get.QueryRowContext(ctx, userID, organizationID))
}

func (a *Adapter) GroupMembership(ctx context.Context, userID string, groupID int64) (membership.State, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return nil, err
	}
	return scanMemberState(a.stmts.groupMembers.get.QueryRowContext(ctx, userID, groupID))
}

func (a *Adapter) GroupOrganization(ctx context.Context, groupID int64) (int64, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return 0, err
	}

	var organizationID int64
	err := a.stmts.getGroupOrganization.QueryRowContext(ctx, groupID).Scan(&organizationID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return organizationID, nil
}

func (a *Adapter) ListOrganizationMemberships(ctx context.Context, userID string) ([]storage.OrganizationMembershipRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return nil, err
	}

	rows, err := a.stmts.organizationMembers.list.QueryContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]storage.OrganizationMembershipRecord, 0)
	for rows.Next() {
		record := storage.OrganizationMembershipRecord{UserID: userID}
		var role string
		if err := rows.Scan(&record.OrganizationID, &role); err != nil {
			return nil, err
		}
		record.Role = membership.OrganizationRole(role)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (a *Adapter) ListGroupMemberships(ctx context.Context, userID string) ([]storage.GroupMembershipRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return nil, err
	}

	rows, err := a.stmts.groupMembers.list.QueryContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]storage.GroupMembershipRecord, 0)
	for rows.Next() {
		record := storage.GroupMembershipRecord{UserID: userID}
		var role string
		if err := rows.Scan(&record.GroupID, &role); err != nil {
			return nil, err
		}
		record.Role = membership.GroupRole(role)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (a *Adapter) ListOrganizationGroups(ctx context.Context, organizationID int64) ([]int64, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return nil, err
	}

	rows, err := a.stmts.listOrganizationGroups.QueryContext(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groupIDs := make([]int64, 0)
	for rows.Next() {
		var groupID int64
		if err := rows.Scan(&groupID); err != nil {
			return nil, err
		}
		groupIDs = append(groupIDs, groupID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groupIDs, nil
}

func (a *Adapter) AddOrganizationMember(ctx context.Context, record storage.OrganizationMembershipRecord) (membership.Transition, error) {
	return a.applyTransition(ctx, a.stmts.organizationMembers, record.UserID, record.OrganizationID, func(current membership.State) (membership.Transition, error) {
		return membership.Add(current, string(record.Role))
	})
}

func (a *Adapter) RemoveOrganizationMember(ctx context.Context, userID string, organizationID int64) (membership.Transition, error) {
	return a.applyTransition(ctx, a.stmts.organizationMembers, userID, organizationID, func(current membership.State) (membership.Transition, error) {
		return membership.Remove(current, a.now())
	})
}

func (a *Adapter) UpdateOrganizationMemberRole(ctx context.Context, record storage.OrganizationMembershipRecord) (membership.Transition, error) {
	return a.applyTransition(ctx, a.stmts.organizationMembers, record.UserID, record.OrganizationID, func(current membership.State) (membership.Transition, error) {
		return membership.ChangeRole(current, string(record.Role))
	})
}

func (a *Adapter) AddGroupMember(ctx context.Context, record storage.GroupMembershipRecord) (membership.Transition, error) {
	return a.applyTransition(ctx, a.stmts.groupMembers, record.UserID, record.GroupID, func(current membership.State) (membership.Transition, error) {
		return membership.Add(current, string(record.Role))
	})
}

func (a *Adapter) RemoveGroupMember(ctx context.Context, userID string, groupID int64) (membership.Transition, error) {
	return a.applyTransition(ctx, a.stmts.groupMembers, userID, groupID, func(current membership.State) (membership.Transition, error) {
		return membership.Remove(current, a.now())
	})
}

func (a *Adapter) UpdateGroupMemberRole(ctx context.Context, record storage.GroupMembershipRecord) (membership.Transition, error) {
	return a.applyTransition(ctx, a.stmts.groupMembers, record.UserID, record.GroupID, func(current membership.State) (membership.Transition, error) {
		return membership.ChangeRole(current, string(record.Role))
	})
}

// applyTransition reads the current row and performs the write decided by
// the membership state machine in one transaction.
func (a *Adapter) applyTransition(
	ctx context.Context,
	stmts memberStatements,
	userID string,
	containerID int64,
	decide func(membership.State) (membership.Transition, error),
) (membership.Transition, error) {
	var transition membership.Transition

	err := a.withTx(ctx, func(tx *sql.Tx) error {
		getStmt := tx.StmtContext(ctx, stmts.get)
		current, err := scanMemberState(getStmt.QueryRowContext(ctx, userID, containerID))
		_ = getStmt.Close()
		if err != nil {
			return err
		}

		next, err := decide(current)
		if err != nil {
			return storage.TransitionError(err)
		}
		transition = next

		switch state := next.Next.(type) {
		case membership.Active:
			now := a.now()
			switch next.Operation {
			case membership.OperationInsert:
				return execInTx(ctx, tx, stmts.insert, false, userID, containerID, state.Role, now)
			case membership.OperationRestore:
				return execInTx(ctx, tx, stmts.restore, true, state.Role, now, userID, containerID)
			default:
				return execInTx(ctx, tx, stmts.updateRole, true, state.Role, now, userID, containerID)
			}
		case membership.Deleted:
			return execInTx(ctx, tx, stmts.softDelete, true, state.DeletedAt, userID, containerID)
		default:
			return fmt.Errorf("postgres adapter: unexpected membership state %T", next.Next)
		}
	})
	if err != nil {
		return membership.Transition{}, err
	}
	return transition, nil
}

func execInTx(ctx context.Context, tx *sql.Tx, stmt *sql.Stmt, requireRow bool, args ...any) error {
	txStmt := tx.StmtContext(ctx, stmt)
	defer txStmt.Close()

	result, err := txStmt.ExecContext(ctx, args...)
	if err != nil {
		return mapWriteError(err)
	}
	if !requireRow {
		return nil
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.Join(storage.ErrConflict, errConcurrentChange)
	}
	return nil
}

func scanMemberState(row scanner) (membership.State, error) {
	var (
		role      string
		deletedAt sql.NullTime
	)
	err := row.Scan(&role, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return membership.Absent{}, nil
	}
	if err != nil {
		return nil, err
	}

	if !deletedAt.Valid {
		return membership.FromRow(role, nil), nil
	}
	at := deletedAt.Time
	return membership.FromRow(role, &at), nil
}
