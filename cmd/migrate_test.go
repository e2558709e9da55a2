package cmd

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
)

func TestParseMigrationsTableSpec(t *testing.T) {
	tests := []struct {
		input   string
		want    migrationsTableSpec
		wantErr bool
	}{
		{input: "", want: migrationsTableSpec{}},
		{input: "schema_migrations", want: migrationsTableSpec{Table: "schema_migrations"}},
		{input: "authz.schema_migrations", want: migrationsTableSpec{Schema: "authz", Table: "schema_migrations"}},
		{input: `"Auth Z"."Versions"`, want: migrationsTableSpec{Schema: "Auth Z", Table: "Versions"}},
		{input: "a.b.c", wantErr: true},
		{input: "authz.", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseMigrationsTableSpec(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseMigrationsTableSpec(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseMigrationsTableSpec(%q) unexpected error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Fatalf("parseMigrationsTableSpec(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}
}

func TestApplyMigrationsTable(t *testing.T) {
	got, err := applyMigrationsTable("postgres://localhost/app?sslmode=disable", migrationsTableSpec{Schema: "authz", Table: "versions"})
	if err != nil {
		t.Fatalf("applyMigrationsTable returned error: %v", err)
	}
	if !strings.Contains(got, "x-migrations-table=%22authz%22.%22versions%22") || !strings.Contains(got, "x-migrations-table-quoted=true") {
		t.Fatalf("expected quoted migrations table in %q", got)
	}

	explicit := "postgres://localhost/app?x-migrations-table=custom"
	got, err = applyMigrationsTable(explicit, migrationsTableSpec{Table: "versions"})
	if err != nil {
		t.Fatalf("applyMigrationsTable returned error: %v", err)
	}
	if got != explicit {
		t.Fatalf("expected explicit migrations table to win, got %q", got)
	}
}

func TestResolveMigrationsTable(t *testing.T) {
	t.Setenv(envMigrationsTable, "")
	if got := resolveMigrationsTable(""); got != defaultMigrationsTbl {
		t.Fatalf("expected default table, got %q", got)
	}

	t.Setenv(envMigrationsTable, "authz.versions")
	if got := resolveMigrationsTable(""); got != "authz.versions" {
		t.Fatalf("expected env table, got %q", got)
	}
	if got := resolveMigrationsTable("flag_table"); got != "flag_table" {
		t.Fatalf("expected flag to win, got %q", got)
	}
}

func TestResolveDatabaseURL(t *testing.T) {
	t.Setenv(envMigrateDatabaseURL, "")
	t.Setenv(envDatabaseURL, "")
	if _, err := resolveDatabaseURL("", envMigrateDatabaseURL, envDatabaseURL); err == nil {
		t.Fatal("expected missing database url error")
	}

	t.Setenv(envDatabaseURL, "postgres://shared")
	got, err := resolveDatabaseURL("", envMigrateDatabaseURL, envDatabaseURL)
	if err != nil || got != "postgres://shared" {
		t.Fatalf("expected shared url, got %q (%v)", got, err)
	}

	t.Setenv(envMigrateDatabaseURL, "postgres://migrate")
	got, _ = resolveDatabaseURL("", envMigrateDatabaseURL, envDatabaseURL)
	if got != "postgres://migrate" {
		t.Fatalf("expected migrate-specific url first, got %q", got)
	}

	got, _ = resolveDatabaseURL(" postgres://flag ", envMigrateDatabaseURL, envDatabaseURL)
	if got != "postgres://flag" {
		t.Fatalf("expected flag url, got %q", got)
	}
}

func TestResolveMigrationsSourceURL(t *testing.T) {
	got, err := resolveMigrationsSourceURL("")
	if err != nil || got != embeddedSourceName {
		t.Fatalf("expected embedded source, got %q (%v)", got, err)
	}

	got, _ = resolveMigrationsSourceURL("github://owner/repo/migrations")
	if got != "github://owner/repo/migrations" {
		t.Fatalf("expected source url to pass through, got %q", got)
	}

	got, _ = resolveMigrationsSourceURL("migrations")
	if !strings.HasPrefix(got, "file://") || !strings.HasSuffix(got, "/migrations") {
		t.Fatalf("expected absolute file url, got %q", got)
	}
}

func TestParseMigrationArgs(t *testing.T) {
	if _, has, err := parseMigrationStepsArg(nil); err != nil || has {
		t.Fatalf("expected no steps, got has=%t err=%v", has, err)
	}
	if steps, has, err := parseMigrationStepsArg([]string{"3"}); err != nil || !has || steps != 3 {
		t.Fatalf("expected 3 steps, got %d has=%t err=%v", steps, has, err)
	}
	for _, bad := range []string{"0", "-2", "two"} {
		if _, _, err := parseMigrationStepsArg([]string{bad}); err == nil {
			t.Fatalf("expected error for steps %q", bad)
		}
	}

	if version, err := parseForceVersionArg("-1"); err != nil || version != -1 {
		t.Fatalf("expected -1, got %d (%v)", version, err)
	}
	if _, err := parseForceVersionArg("-2"); err == nil {
		t.Fatal("expected error for version -2")
	}
}

func TestInterpretStepResult(t *testing.T) {
	if n, done, err := interpretStepResult(nil, 2, true); err != nil || done || n != 2 {
		t.Fatalf("expected 2 steps, got %d done=%t err=%v", n, done, err)
	}
	if n, done, err := interpretStepResult(migrate.ErrNoChange, 0, false); err != nil || !done || n != 0 {
		t.Fatalf("expected no change, got %d done=%t err=%v", n, done, err)
	}
	if _, done, err := interpretStepResult(os.ErrNotExist, 1, true); err != nil || !done {
		t.Fatalf("expected boundary, got done=%t err=%v", done, err)
	}
	if n, done, err := interpretStepResult(migrate.ErrShortLimit{Short: 1}, 3, true); err != nil || done || n != 2 {
		t.Fatalf("expected 2 of 3 steps, got %d done=%t err=%v", n, done, err)
	}

	boom := errors.New("boom")
	if _, _, err := interpretStepResult(boom, 1, true); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
