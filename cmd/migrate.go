package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/porthorian/orgauthz/pkg/storage/postgres"
)

const (
	envDatabaseURL        = "ORGAUTHZ_DATABASE_URL"
	envMigrateDatabaseURL = "ORGAUTHZ_MIGRATE_DATABASE_URL"
	envMigrationsTable    = "ORGAUTHZ_MIGRATE_MIGRATIONS_TABLE"
	defaultMigrationsTbl  = "orgauthz_schema_migrations"
	embeddedSourceName    = "embedded"
)

type migrateConfig struct {
	DatabaseURL     string
	MigrationsTable string
	MigrationsPath  string
}

func init() {
	rootCmd.AddCommand(newMigrateCommand())
}

func newMigrateCommand() *cobra.Command {
	cfg := migrateConfig{}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the membership schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	migrateCmd.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", "", "Postgres connection URL. Can also be set via "+envMigrateDatabaseURL+" or "+envDatabaseURL+".")
	migrateCmd.PersistentFlags().StringVar(&cfg.MigrationsTable, "migrations-table", "", "Migrations version table, table or schema.table. Can also be set via "+envMigrationsTable+".")
	migrateCmd.PersistentFlags().StringVar(&cfg.MigrationsPath, "migrations-path", "", "Path or source URL for migration files. Defaults to the migrations built into the binary.")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up [steps]",
		Short: "Apply pending migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, hasSteps, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, source string) error {
				var runErr error
				if hasSteps {
					runErr = runner.Steps(steps)
				} else {
					runErr = runner.Up()
				}
				applied, done, err := interpretStepResult(runErr, steps, hasSteps)
				if err != nil {
					return fmt.Errorf("apply migrations: %w", err)
				}

				switch {
				case done && applied == 0:
					cmd.Println("No schema changes to apply.")
				case !hasSteps:
					cmd.Printf("Applied all pending migrations from %s\n", source)
				case applied < steps:
					cmd.Printf("Applied %d migration step(s) from %s (requested %d, reached the last migration)\n", applied, source, steps)
				default:
					cmd.Printf("Applied %d migration step(s) from %s\n", applied, source)
				}
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back migrations by step count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, source string) error {
				rolledBack, done, err := interpretStepResult(runner.Steps(-steps), steps, true)
				if err != nil {
					return fmt.Errorf("rollback migrations: %w", err)
				}

				switch {
				case done && rolledBack == 0:
					cmd.Println("No schema changes to roll back.")
				case rolledBack < steps:
					cmd.Printf("Rolled back %d migration step(s) from %s (requested %d, reached the first migration)\n", rolledBack, source, steps)
				default:
					cmd.Printf("Rolled back %d migration step(s) from %s\n", rolledBack, source)
				}
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force-set the migration version (-1 for none)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersionArg(args[0])
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, _ string) error {
				if err := runner.Force(version); err != nil {
					return fmt.Errorf("force migration version: %w", err)
				}
				cmd.Printf("Forced migration version to %d.\n", version)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, _ string) error {
				version, dirty, err := runner.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					cmd.Println("No migrations applied.")
					return nil
				}
				if err != nil {
					return fmt.Errorf("read migration version: %w", err)
				}
				cmd.Printf("%d (dirty: %t)\n", version, dirty)
				return nil
			})
		},
	})

	return migrateCmd
}

// interpretStepResult turns a migrate error into the number of steps that
// ran. done reports that the migration boundary was reached.
func interpretStepResult(err error, steps int, hasSteps bool) (int, bool, error) {
	if err == nil {
		return steps, false, nil
	}
	if isNoChangeBoundaryError(err) {
		return 0, true, nil
	}

	var shortLimit migrate.ErrShortLimit
	if hasSteps && errors.As(err, &shortLimit) {
		ran := steps - int(shortLimit.Short)
		if ran < 0 {
			ran = 0
		}
		return ran, ran == 0, nil
	}
	return 0, false, err
}

func withMigrationRunner(cmd *cobra.Command, cfg migrateConfig, fn func(runner *migrate.Migrate, source string) error) error {
	runner, source, err := newMigrationRunner(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeMigrationRunner(runner); closeErr != nil {
			cmd.PrintErrf("warning: failed to close migration runner cleanly: %v\n", closeErr)
		}
	}()

	return fn(runner, source)
}

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func resolveDatabaseURL(flagValue string, envKeys ...string) (string, error) {
	databaseURL := strings.TrimSpace(flagValue)
	for _, key := range envKeys {
		if databaseURL != "" {
			break
		}
		databaseURL = lookupEnv(key)
	}
	if databaseURL == "" {
		return "", fmt.Errorf("missing database URL: set --database-url or %s", strings.Join(envKeys, " / "))
	}
	return databaseURL, nil
}

func parseMigrationStepsArg(args []string) (int, bool, error) {
	if len(args) == 0 {
		return 0, false, nil
	}

	steps, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || steps <= 0 {
		return 0, false, fmt.Errorf("invalid migration steps %q: expected a positive integer", args[0])
	}

	return steps, true, nil
}

func parseForceVersionArg(arg string) (int, error) {
	version, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || version < -1 {
		return 0, fmt.Errorf("invalid force version %q: expected an integer >= -1", arg)
	}
	return version, nil
}

func newMigrationRunner(cfg migrateConfig) (*migrate.Migrate, string, error) {
	databaseURL, err := resolveDatabaseURL(cfg.DatabaseURL, envMigrateDatabaseURL, envDatabaseURL)
	if err != nil {
		return nil, "", err
	}

	spec, err := parseMigrationsTableSpec(resolveMigrationsTable(cfg.MigrationsTable))
	if err != nil {
		return nil, "", err
	}
	if err := ensureMigrationsSchemaExists(databaseURL, spec); err != nil {
		return nil, "", err
	}
	databaseURL, err = applyMigrationsTable(databaseURL, spec)
	if err != nil {
		return nil, "", err
	}

	sourceURL, err := resolveMigrationsSourceURL(cfg.MigrationsPath)
	if err != nil {
		return nil, "", err
	}

	var runner *migrate.Migrate
	if sourceURL == embeddedSourceName {
		source, err := iofs.New(postgres.Migrations, postgres.MigrationsDir)
		if err != nil {
			return nil, "", fmt.Errorf("open embedded migrations: %w", err)
		}
		runner, err = migrate.NewWithSourceInstance("iofs", source, databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("create migrate runner: %w", err)
		}
		return runner, "embedded migrations", nil
	}

	runner, err = migrate.New(sourceURL, databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("create migrate runner: %w", err)
	}
	return runner, sourceURL, nil
}

func resolveMigrationsTable(flagValue string) string {
	value := strings.TrimSpace(flagValue)
	if value == "" {
		value = lookupEnv(envMigrationsTable)
	}
	if value == "" {
		value = defaultMigrationsTbl
	}
	return value
}

type migrationsTableSpec struct {
	Schema string
	Table  string
}

var quotedMigrationsTableRegexp = regexp.MustCompile(`"(.*?)"`)

// parseMigrationsTableSpec accepts table, schema.table and their quoted
// forms.
func parseMigrationsTableSpec(value string) (migrationsTableSpec, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return migrationsTableSpec{}, nil
	}

	var parts []string
	if strings.Contains(raw, `"`) {
		for _, match := range quotedMigrationsTableRegexp.FindAllStringSubmatch(raw, -1) {
			parts = append(parts, match[1])
		}
	} else {
		parts = strings.Split(raw, ".")
	}

	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return migrationsTableSpec{}, fmt.Errorf("invalid migrations table %q", value)
		}
	}

	switch len(parts) {
	case 1:
		return migrationsTableSpec{Table: parts[0]}, nil
	case 2:
		return migrationsTableSpec{Schema: parts[0], Table: parts[1]}, nil
	default:
		return migrationsTableSpec{}, fmt.Errorf("invalid migrations table %q: expected table or schema.table", value)
	}
}

func applyMigrationsTable(databaseURL string, spec migrationsTableSpec) (string, error) {
	if spec.Table == "" {
		return databaseURL, nil
	}

	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse --database-url: %w", err)
	}

	query := parsed.Query()
	if strings.TrimSpace(query.Get("x-migrations-table")) != "" {
		return databaseURL, nil
	}

	if spec.Schema != "" {
		query.Set("x-migrations-table", pq.QuoteIdentifier(spec.Schema)+"."+pq.QuoteIdentifier(spec.Table))
		query.Set("x-migrations-table-quoted", "true")
	} else {
		query.Set("x-migrations-table", spec.Table)
	}

	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func ensureMigrationsSchemaExists(databaseURL string, spec migrationsTableSpec) error {
	if spec.Schema == "" {
		return nil
	}

	parsedURL, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse --database-url: %w", err)
	}
	sanitized := migrate.FilterCustomQuery(parsedURL)

	db, err := sql.Open("postgres", sanitized.String())
	if err != nil {
		return fmt.Errorf("open database for schema bootstrap: %w", err)
	}
	defer db.Close()

	query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(spec.Schema))
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("ensure migrations schema %q exists: %w", spec.Schema, err)
	}

	return nil
}

func resolveMigrationsSourceURL(migrationsPath string) (string, error) {
	pathOrURL := strings.TrimSpace(migrationsPath)
	if pathOrURL == "" {
		return embeddedSourceName, nil
	}
	if strings.Contains(pathOrURL, "://") {
		return pathOrURL, nil
	}

	absPath, err := filepath.Abs(pathOrURL)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path %q: %w", pathOrURL, err)
	}

	return "file://" + filepath.ToSlash(absPath), nil
}

func closeMigrationRunner(runner *migrate.Migrate) error {
	if runner == nil {
		return nil
	}

	sourceErr, databaseErr := runner.Close()
	return errors.Join(sourceErr, databaseErr)
}

func isNoChangeBoundaryError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, migrate.ErrNoChange) {
		return true
	}

	// golang-migrate returns bare os.ErrNotExist when a step command
	// reaches the migration boundary.
	return err == os.ErrNotExist
}
