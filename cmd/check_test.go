package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/porthorian/orgauthz"
	"github.com/porthorian/orgauthz/pkg/storage/memory"
)

func stubClient(t *testing.T) {
	t.Helper()

	store := memory.NewAdapter()
	store.PutGroup(7, 1)
	client, err := orgauthz.New(orgauthz.Config{Store: store})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx := context.Background()
	if _, err := client.Memberships().AddOrganizationMember(ctx, orgauthz.OrganizationMemberInput{UserID: "alice", OrganizationID: 1, Role: "admin"}); err != nil {
		t.Fatalf("seed alice: %v", err)
	}
	if _, err := client.Memberships().AddGroupMember(ctx, orgauthz.GroupMemberInput{UserID: "bob", GroupID: 7, Role: "member"}); err != nil {
		t.Fatalf("seed bob: %v", err)
	}

	// Commands close the client they use, so every run gets a fresh one.
	previous := newClient
	newClient = func(*cobra.Command, clientConfig) (*orgauthz.Client, error) {
		return orgauthz.New(orgauthz.Config{Store: store})
	}
	t.Cleanup(func() { newClient = previous })
}

func execute(cmd *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckCommand(t *testing.T) {
	stubClient(t)

	out, err := execute(newCheckCommand(), "--user", "alice", "--resource", "group:7:members", "--action", "delete", "--explain")
	if err != nil {
		t.Fatalf("expected allow, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "allow alice delete group:7:members") || !strings.Contains(out, "matched org:admin") {
		t.Fatalf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "evaluated user:alice") {
		t.Fatalf("expected evaluated subjects, got %q", out)
	}

	out, err = execute(newCheckCommand(), "--user", "bob", "--resource", "group:7:members", "--action", "create")
	if !errors.Is(err, errDenied) {
		t.Fatalf("expected denied, got %v", err)
	}
	if !strings.Contains(out, "deny bob create group:7:members") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestCheckCommandJSON(t *testing.T) {
	stubClient(t)

	out, err := execute(newCheckCommand(), "--user", "bob", "--resource", "group:7:chat", "--action", "create", "--json")
	if err != nil {
		t.Fatalf("expected allow, got %v", err)
	}

	var decision struct {
		ID      string
		Allowed bool
		Subject string
	}
	if err := json.Unmarshal([]byte(out), &decision); err != nil {
		t.Fatalf("decode decision: %v\n%s", err, out)
	}
	if !decision.Allowed || decision.Subject != "group:member" || decision.ID == "" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestCheckCommandRequiresFlags(t *testing.T) {
	stubClient(t)

	if _, err := execute(newCheckCommand(), "--user", "bob"); err == nil {
		t.Fatal("expected missing flag error")
	}
}

func TestDescribeCommand(t *testing.T) {
	stubClient(t)

	out, err := execute(newDescribeCommand(), "--user", "alice")
	if err != nil {
		t.Fatalf("describe returned error: %v", err)
	}

	var descriptor struct {
		Organizations []struct {
			OrganizationID int64  `json:"organizationId"`
			Role           string `json:"role"`
		} `json:"organizations"`
		Groups []struct {
			GroupID int64 `json:"groupId"`
		} `json:"groups"`
	}
	if err := json.Unmarshal([]byte(out), &descriptor); err != nil {
		t.Fatalf("decode descriptor: %v\n%s", err, out)
	}
	if len(descriptor.Organizations) != 1 || descriptor.Organizations[0].Role != "admin" {
		t.Fatalf("unexpected organizations: %+v", descriptor.Organizations)
	}
	if len(descriptor.Groups) != 1 || descriptor.Groups[0].GroupID != 7 {
		t.Fatalf("expected inherited group 7, got %+v", descriptor.Groups)
	}
}

func TestClientConfigRuntime(t *testing.T) {
	t.Setenv(envDatabaseURL, "")
	t.Setenv(envPolicyPath, "")
	if _, err := (clientConfig{}).runtime(); err == nil {
		t.Fatal("expected missing database url error")
	}

	t.Setenv(envDatabaseURL, "postgres://authz")
	t.Setenv(envPolicyPath, "/etc/orgauthz/policy.yaml")
	runtime, err := (clientConfig{}).runtime()
	if err != nil {
		t.Fatalf("runtime returned error: %v", err)
	}
	if runtime.Storage.Backend != orgauthz.StorageBackendPostgres || runtime.Storage.Postgres.DSN != "postgres://authz" {
		t.Fatalf("unexpected storage config: %+v", runtime.Storage)
	}
	if runtime.Policy.Path != "/etc/orgauthz/policy.yaml" {
		t.Fatalf("unexpected policy path %q", runtime.Policy.Path)
	}
}
