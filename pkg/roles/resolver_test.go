package roles

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/go-logr/logr/testr"

	"github.com/porthorian/orgauthz/pkg/membership"
	"github.com/porthorian/orgauthz/pkg/resource"
	"github.com/porthorian/orgauthz/pkg/storage"
	"github.com/porthorian/orgauthz/pkg/storage/memory"
)

func seededStore(t *testing.T) *memory.Adapter {
	t.Helper()
	ctx := context.Background()
	store := memory.NewAdapter()
	store.PutGroup(7, 1)
	store.PutGroup(8, 2)

	mustAddOrg := func(userID string, organizationID int64, role membership.OrganizationRole) {
		if _, err := store.AddOrganizationMember(ctx, storage.OrganizationMembershipRecord{UserID: userID, OrganizationID: organizationID, Role: role}); err != nil {
			t.Fatalf("add organization member failed: %v", err)
		}
	}
	mustAddGroup := func(userID string, groupID int64, role membership.GroupRole) {
		if _, err := store.AddGroupMember(ctx, storage.GroupMembershipRecord{UserID: userID, GroupID: groupID, Role: role}); err != nil {
			t.Fatalf("add group member failed: %v", err)
		}
	}

	if err := store.SetAppRole(ctx, "root", membership.AppRoleAdmin); err != nil {
		t.Fatalf("set app role failed: %v", err)
	}
	if err := store.SetAppRole(ctx, "alice", membership.AppRoleUser); err != nil {
		t.Fatalf("set app role failed: %v", err)
	}
	mustAddOrg("alice", 1, membership.OrganizationRoleAdmin)
	mustAddOrg("bob", 1, membership.OrganizationRoleMember)
	mustAddGroup("bob", 7, membership.GroupRoleEvaluator)
	mustAddGroup("carol", 8, membership.GroupRoleMember)
	return store
}

func orgScope(id int64) resource.Scope   { return resource.Decode(resource.Organization(id)) }
func groupScope(id int64) resource.Scope { return resource.Decode(resource.Group(id)) }

func TestSubjectsFor(t *testing.T) {
	resolver := NewResolver(seededStore(t), testr.New(t))

	tests := []struct {
		name   string
		userID string
		scope  resource.Scope
		want   []string
	}{
		{
			name:   "no scope",
			userID: "alice",
			scope:  resource.Scope{},
			want:   []string{"user:alice", "app:user"},
		},
		{
			name:   "organization admin",
			userID: "alice",
			scope:  orgScope(1),
			want:   []string{"user:alice", "app:user", "org:1:admin", "org:admin"},
		},
		{
			name:   "other organization",
			userID: "alice",
			scope:  orgScope(2),
			want:   []string{"user:alice", "app:user"},
		},
		{
			name:   "organization admin inherits into owned group",
			userID: "alice",
			scope:  groupScope(7),
			want:   []string{"user:alice", "app:user", "org:1:admin", "org:admin"},
		},
		{
			name:   "group role plus owning organization role",
			userID: "bob",
			scope:  groupScope(7),
			want:   []string{"user:bob", "group:7:evaluator", "group:evaluator", "org:1:member", "org:member"},
		},
		{
			name:   "group member without organization membership",
			userID: "carol",
			scope:  groupScope(8),
			want:   []string{"user:carol", "group:8:member", "group:member"},
		},
		{
			name:   "unknown group",
			userID: "bob",
			scope:  groupScope(404),
			want:   []string{"user:bob"},
		},
		{
			name:   "application admin",
			userID: "root",
			scope:  orgScope(1),
			want:   []string{"user:root", "app:admin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subjects, err := resolver.SubjectsFor(context.Background(), tt.userID, tt.scope)
			if err != nil {
				t.Fatalf("resolve failed: %v", err)
			}
			if got := subjects.Slice(); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSubjectsForIgnoresSoftDeleted(t *testing.T) {
	store := seededStore(t)
	resolver := NewResolver(store, testr.New(t))
	ctx := context.Background()

	if _, err := store.RemoveOrganizationMember(ctx, "alice", 1); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	subjects, err := resolver.SubjectsFor(ctx, "alice", groupScope(7))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if subjects.Contains("org:admin") || subjects.Contains("org:1:admin") {
		t.Fatalf("soft-deleted membership must yield no tokens, got %v", subjects)
	}

	if _, err := store.AddOrganizationMember(ctx, storage.OrganizationMembershipRecord{UserID: "alice", OrganizationID: 1, Role: membership.OrganizationRoleMember}); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	subjects, err = resolver.SubjectsFor(ctx, "alice", orgScope(1))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !subjects.Contains("org:1:member") || subjects.Contains("org:1:admin") {
		t.Fatalf("expected restored member role on the next call, got %v", subjects)
	}
}

type failingReader struct {
	storage.MembershipReader
	fail string
}

var errStoreDown = errors.New("store down")

func (f failingReader) AppRole(ctx context.Context, userID string) (membership.AppRole, error) {
	if f.fail == OperationAppRole {
		return membership.AppRoleNone, errStoreDown
	}
	return f.MembershipReader.AppRole(ctx, userID)
}

func (f failingReader) GroupMembership(ctx context.Context, userID string, groupID int64) (membership.State, error) {
	if f.fail == OperationGroupMembership {
		return nil, errStoreDown
	}
	return f.MembershipReader.GroupMembership(ctx, userID, groupID)
}

func (f failingReader) GroupOrganization(ctx context.Context, groupID int64) (int64, error) {
	if f.fail == OperationGroupOrganization {
		return 0, errStoreDown
	}
	return f.MembershipReader.GroupOrganization(ctx, groupID)
}

func (f failingReader) OrganizationMembership(ctx context.Context, userID string, organizationID int64) (membership.State, error) {
	if f.fail == OperationOrganizationMembership {
		return nil, errStoreDown
	}
	return f.MembershipReader.OrganizationMembership(ctx, userID, organizationID)
}

func TestSubjectsForPropagatesStoreErrors(t *testing.T) {
	store := seededStore(t)

	for _, operation := range []string{
		OperationAppRole,
		OperationGroupMembership,
		OperationGroupOrganization,
		OperationOrganizationMembership,
	} {
		t.Run(operation, func(t *testing.T) {
			resolver := NewResolver(failingReader{MembershipReader: store, fail: operation}, testr.New(t))

			_, err := resolver.SubjectsFor(context.Background(), "bob", groupScope(7))
			if !errors.Is(err, errStoreDown) {
				t.Fatalf("expected store error, got %v", err)
			}
			var storeErr *StoreError
			if !errors.As(err, &storeErr) || storeErr.Operation != operation {
				t.Fatalf("expected StoreError for %s, got %v", operation, err)
			}
		})
	}
}

func TestSubjectsSet(t *testing.T) {
	s := NewSubjects("a", "b", "a")
	s.Add("c", "b")
	if got := s.Slice(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected tokens %v", got)
	}
	if s.Len() != 3 || !s.Contains("c") || s.Contains("d") {
		t.Fatalf("unexpected set state %v", s)
	}
}
