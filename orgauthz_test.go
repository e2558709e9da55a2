package orgauthz

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	oerrors "github.com/porthorian/orgauthz/pkg/errors"
	"github.com/porthorian/orgauthz/pkg/membership"
	"github.com/porthorian/orgauthz/pkg/resource"
	memorystore "github.com/porthorian/orgauthz/pkg/storage/memory"
)

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Config{})
	if !errors.Is(err, oerrors.ErrMissingStore) {
		t.Fatalf("expected missing store error, got %v", err)
	}

	_, err = New(Config{Runtime: RuntimeConfig{Storage: StorageConfig{Backend: "mongo"}}})
	if err == nil {
		t.Fatal("expected unsupported backend error")
	}

	_, err = New(Config{Runtime: RuntimeConfig{Storage: StorageConfig{Backend: StorageBackendPostgres}}})
	if err == nil {
		t.Fatal("expected missing dsn error")
	}
}

func TestClientEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewAdapter()
	store.PutGroup(7, 1)
	registry := prometheus.NewRegistry()

	client, err := New(Config{
		Store:      store,
		Logger:     testr.New(t),
		Registerer: registry,
		Runtime: RuntimeConfig{
			Cache: CacheConfig{Backend: CacheBackendMemory},
		},
	})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	defer client.Close()

	if err := client.Warm(ctx); err != nil {
		t.Fatalf("warm failed: %v", err)
	}

	memberships := client.Memberships()
	result, err := memberships.AddOrganizationMember(ctx, OrganizationMemberInput{UserID: " alice ", OrganizationID: 1, Role: "Admin"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if result.Operation != membership.OperationInsert {
		t.Fatalf("expected insert, got %s", result.Operation)
	}

	if err := client.Check(ctx, "alice", resource.Group(7, "members"), "delete"); err != nil {
		t.Fatalf("organization admin should manage nested group: %v", err)
	}

	descriptor, err := client.Describe(ctx, "alice")
	if err != nil {
		t.Fatalf("describe failed: %v", err)
	}
	if len(descriptor.Groups) != 1 || descriptor.Groups[0].Role != nil {
		t.Fatalf("expected one inherited group, got %+v", descriptor.Groups)
	}

	if _, err := memberships.RemoveOrganizationMember(ctx, OrganizationMemberInput{UserID: "alice", OrganizationID: 1}); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := client.Check(ctx, "alice", resource.Group(7, "members"), "delete"); !oerrors.IsCode(err, oerrors.CodePermissionDenied) {
		t.Fatalf("expected denial after removal, got %v", err)
	}

	result, err = memberships.AddOrganizationMember(ctx, OrganizationMemberInput{UserID: "alice", OrganizationID: 1, Role: "member"})
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if result.Operation != membership.OperationRestore {
		t.Fatalf("expected restore, got %s", result.Operation)
	}

	if err := client.Check(ctx, "", resource.Organization(1), "read"); !oerrors.IsCode(err, oerrors.CodeUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}

	count, err := testutil.GatherAndCount(registry, "orgauthz_decisions_total", "orgauthz_policy_compilations_total")
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if count < 2 {
		t.Fatalf("expected decision and compilation series, got %d", count)
	}
}

func TestMembershipServiceValidation(t *testing.T) {
	ctx := context.Background()
	service := NewMembershipService(memorystore.NewAdapter(), testr.New(t))

	tests := []struct {
		name string
		call func() error
		code oerrors.Code
	}{
		{
			name: "missing user",
			call: func() error {
				_, err := service.AddOrganizationMember(ctx, OrganizationMemberInput{OrganizationID: 1, Role: "member"})
				return err
			},
			code: oerrors.CodeInvalidInput,
		},
		{
			name: "bad organization id",
			call: func() error {
				_, err := service.AddOrganizationMember(ctx, OrganizationMemberInput{UserID: "a", Role: "member"})
				return err
			},
			code: oerrors.CodeInvalidInput,
		},
		{
			name: "unknown organization role",
			call: func() error {
				_, err := service.AddOrganizationMember(ctx, OrganizationMemberInput{UserID: "a", OrganizationID: 1, Role: "evaluator"})
				return err
			},
			code: oerrors.CodeInvalidInput,
		},
		{
			name: "unknown group role",
			call: func() error {
				_, err := service.AddGroupMember(ctx, GroupMemberInput{UserID: "a", GroupID: 1, Role: "owner"})
				return err
			},
			code: oerrors.CodeInvalidInput,
		},
		{
			name: "remove absent",
			call: func() error {
				_, err := service.RemoveGroupMember(ctx, GroupMemberInput{UserID: "a", GroupID: 1})
				return err
			},
			code: oerrors.CodeNotFound,
		},
		{
			name: "update absent",
			call: func() error {
				_, err := service.UpdateOrganizationMemberRole(ctx, OrganizationMemberInput{UserID: "a", OrganizationID: 1, Role: "admin"})
				return err
			},
			code: oerrors.CodeNotFound,
		},
		{
			name: "unknown app role",
			call: func() error {
				return service.SetAppRole(ctx, AppRoleInput{UserID: "a", Role: "root"})
			},
			code: oerrors.CodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !oerrors.IsCode(err, tt.code) {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestMembershipServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	service := NewMembershipService(memorystore.NewAdapter(), testr.New(t))
	input := GroupMemberInput{UserID: "a", GroupID: 3, Role: "evaluator"}

	if _, err := service.AddGroupMember(ctx, input); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := service.AddGroupMember(ctx, input); !oerrors.IsCode(err, oerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	result, err := service.UpdateGroupMemberRole(ctx, GroupMemberInput{UserID: "a", GroupID: 3, Role: "admin"})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if active, ok := result.State.(membership.Active); !ok || active.Role != "admin" {
		t.Fatalf("unexpected state %#v", result.State)
	}

	result, err = service.RemoveGroupMember(ctx, input)
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if deleted, ok := result.State.(membership.Deleted); !ok || deleted.Role != "admin" {
		t.Fatalf("unexpected state %#v", result.State)
	}
	if _, err := service.RemoveGroupMember(ctx, input); !oerrors.IsCode(err, oerrors.CodeNotFound) {
		t.Fatalf("expected not found on second removal, got %v", err)
	}

	if err := service.SetAppRole(ctx, AppRoleInput{UserID: "a", Role: "none"}); err != nil {
		t.Fatalf("clearing app role failed: %v", err)
	}

	var missing MembershipService
	if _, err := missing.AddGroupMember(ctx, input); !errors.Is(err, oerrors.ErrMissingStore) {
		t.Fatalf("expected missing store, got %v", err)
	}
}

func TestPolicyPathAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicy := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	writePolicy(`
rules:
  - subject: org:member
    resource: org:*
    actions: [read]
`)

	store := memorystore.NewAdapter()
	client, err := New(Config{Store: store, Runtime: RuntimeConfig{Policy: PolicyConfig{Path: path}}})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	defer client.Close()

	if _, err := client.Memberships().AddOrganizationMember(ctx, OrganizationMemberInput{UserID: "a", OrganizationID: 1, Role: "member"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := client.Check(ctx, "a", resource.Organization(1), "update"); !oerrors.IsCode(err, oerrors.CodePermissionDenied) {
		t.Fatalf("expected denial, got %v", err)
	}

	writePolicy(`
rules:
  - subject: org:member
    resource: org:*
    actions: [read, update]
`)
	if err := client.ReloadPolicy(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if err := client.Check(ctx, "a", resource.Organization(1), "update"); err != nil {
		t.Fatalf("expected allow after reload, got %v", err)
	}

	writePolicy(`
rules:
  - subject: org:member
    resource: projects
    actions: [read]
`)
	if err := client.ReloadPolicy(ctx); !oerrors.IsCode(err, oerrors.CodeInvalidPolicy) {
		t.Fatalf("expected invalid policy, got %v", err)
	}
	if err := client.Check(ctx, "a", resource.Organization(1), "update"); err != nil {
		t.Fatalf("previous policy should stay active, got %v", err)
	}
}

func TestMissingPolicyFileFailsClosed(t *testing.T) {
	client, err := New(Config{
		Store:   memorystore.NewAdapter(),
		Runtime: RuntimeConfig{Policy: PolicyConfig{Path: filepath.Join(t.TempDir(), "missing.yaml")}},
	})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	defer client.Close()

	if err := client.Warm(context.Background()); !oerrors.IsCode(err, oerrors.CodeInvalidPolicy) {
		t.Fatalf("expected invalid policy, got %v", err)
	}
	if err := client.Check(context.Background(), "a", resource.Organization(1), "read"); err == nil {
		t.Fatal("check must fail without a policy")
	}
}

func TestRedisCacheBackend(t *testing.T) {
	server := miniredis.RunT(t)
	store := memorystore.NewAdapter()
	store.PutGroup(7, 1)

	client, err := New(Config{
		Store: store,
		Runtime: RuntimeConfig{
			Cache: CacheConfig{
				Backend: CacheBackendRedis,
				Redis:   RedisCacheConfig{Address: server.Addr(), Namespace: "test"},
			},
		},
	})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	if _, err := client.Memberships().AddOrganizationMember(context.Background(), OrganizationMemberInput{UserID: "a", OrganizationID: 1, Role: "admin"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := client.Check(context.Background(), "a", resource.Group(7), "update"); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !server.Exists("test:group-owner:7") {
		t.Fatalf("expected group ownership to be cached, keys: %v", server.Keys())
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestRedisCacheBackendRequiresAddress(t *testing.T) {
	_, err := New(Config{
		Store:   memorystore.NewAdapter(),
		Runtime: RuntimeConfig{Cache: CacheConfig{Backend: CacheBackendRedis}},
	})
	if err == nil {
		t.Fatal("expected missing address error")
	}
}

func TestPostgresBackendPingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock failed: %v", err)
	}
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	_, err = New(Config{
		Runtime: RuntimeConfig{
			Storage: StorageConfig{
				Backend: StorageBackendPostgres,
				Postgres: PostgresConfig{
					DSN:    "postgres://example",
					OpenDB: func(string, string) (*sql.DB, error) { return db, nil },
				},
			},
		},
	})
	if err == nil {
		t.Fatal("expected ping failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
