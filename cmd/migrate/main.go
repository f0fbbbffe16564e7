package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/medallion-pipeline/internal/config"
	infra "github.com/dvloznov/medallion-pipeline/internal/infra/bigquery"
	"github.com/dvloznov/medallion-pipeline/internal/logger"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Pattern to match migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

type options struct {
	projectID     string
	datasetID     string
	table         string
	location      string
	appliedBy     string
	migrationsDir string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	var opts options
	flag.StringVar(&opts.projectID, "project", cfg.BigQuery.ProjectID, "GCP project ID (required)")
	flag.StringVar(&opts.datasetID, "dataset", cfg.BigQuery.Dataset, "BigQuery dataset ID")
	flag.StringVar(&opts.table, "table", cfg.BigQuery.Table, "Gold summary table")
	flag.StringVar(&opts.location, "location", cfg.GCS.Location, "Dataset location")
	flag.StringVar(&opts.appliedBy, "applied-by", "migrate-cli", "Name of the tool applying migrations")
	flag.StringVar(&opts.migrationsDir, "migrations", "migrations/bigquery", "Path to migrations directory")
	flag.Parse()

	log, err := logger.NewFromConfig(cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	if opts.projectID == "" {
		log.Fatal().Msg("-project flag (or MEDALLION_BQ_PROJECT_ID) is required")
	}

	if err := run(context.Background(), opts, log); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func run(ctx context.Context, opts options, log zerolog.Logger) error {
	client, err := bigquery.NewClient(ctx, opts.projectID)
	if err != nil {
		return fmt.Errorf("create BigQuery client: %w", err)
	}
	defer client.Close()

	log.Info().Str("project", opts.projectID).Str("dataset", opts.datasetID).Msg("Connected to BigQuery")

	created, err := infra.EnsureDatasetWithClient(ctx, client, opts.datasetID, opts.location)
	if err != nil {
		return err
	}
	log.Info().Bool("created", created).Msg("Dataset ready")

	created, err = infra.EnsureGoldTableWithClient(ctx, client, opts.datasetID, opts.table)
	if err != nil {
		return err
	}
	log.Info().Bool("created", created).Str("table", opts.table).Msg("Gold table ready")

	if err := ensureSchemaMigrationsTable(ctx, client, opts); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	dir, err := resolveDir(opts.migrationsDir)
	if err != nil {
		return err
	}
	migrations, err := readMigrations(dir, placeholders(opts), log)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	log.Info().Int("files", len(migrations)).Msg("Found migration files")

	appliedMigrations, err := getAppliedMigrations(ctx, client, opts)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	// Build map of applied versions
	appliedVersions := make(map[int]AppliedMigration)
	for _, am := range appliedMigrations {
		appliedVersions[am.Version] = am
	}

	appliedCount := 0
	for _, m := range pending(migrations, appliedVersions, log) {
		mlog := log.With().Int("version", m.Version).Str("name", m.Name).Logger()
		mlog.Info().Msg("Applying migration")

		if err := runStatement(ctx, client.Query(m.SQL)); err != nil {
			return fmt.Errorf("execute migration %04d_%s: %w", m.Version, m.Name, err)
		}
		if err := recordMigration(ctx, client, opts, m); err != nil {
			return fmt.Errorf("record migration %04d_%s: %w", m.Version, m.Name, err)
		}

		mlog.Info().Msg("Migration applied")
		appliedCount++
	}

	if appliedCount == 0 {
		log.Info().Msg("No new migrations to apply. Dataset is up to date.")
	} else {
		log.Info().Int("applied", appliedCount).Msg("Successfully applied migrations")
	}
	return nil
}

// pending returns migrations not yet applied. An applied migration whose file
// changed since is logged and left alone.
func pending(migrations []Migration, applied map[int]AppliedMigration, log zerolog.Logger) []Migration {
	var out []Migration
	for _, m := range migrations {
		am, ok := applied[m.Version]
		if !ok {
			out = append(out, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			log.Warn().Int("version", m.Version).Str("name", m.Name).Msg("Applied migration changed on disk")
		}
	}
	return out
}

func placeholders(opts options) map[string]string {
	return map[string]string{
		"{{PROJECT_ID}}": opts.projectID,
		"{{DATASET_ID}}": opts.datasetID,
		"{{GOLD_TABLE}}": opts.table,
	}
}

// resolveDir finds the migrations directory relative to the working
// directory, or two levels up when run from cmd/migrate.
func resolveDir(dir string) (string, error) {
	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	}
	alt := filepath.Join("..", "..", dir)
	if _, err := os.Stat(alt); err == nil {
		return alt, nil
	}
	return "", fmt.Errorf("migrations directory not found: %s", dir)
}

// readMigrations reads all migration files from dir, sorted by version.
func readMigrations(dir string, vars map[string]string, log zerolog.Logger) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		matches := migrationPattern.FindStringSubmatch(file.Name())
		if matches == nil {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid format")
			continue
		}

		version, err := strconv.Atoi(matches[1])
		if err != nil {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid version")
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		sql := string(content)
		for placeholder, value := range vars {
			sql = strings.ReplaceAll(sql, placeholder, value)
		}

		// Checksum covers the file before placeholder substitution, so the same
		// migration applied to another dataset has the same checksum.
		checksum := fmt.Sprintf("%x", sha256.Sum256(content))

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: file.Name(),
			SQL:      sql,
			Checksum: checksum,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// ensureSchemaMigrationsTable creates the schema_migrations table if it doesn't exist
func ensureSchemaMigrationsTable(ctx context.Context, client *bigquery.Client, opts options) error {
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS `+"`%s.%s.schema_migrations`"+` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, opts.projectID, opts.datasetID)

	return runStatement(ctx, client.Query(sql))
}

// getAppliedMigrations retrieves the list of already applied migrations
func getAppliedMigrations(ctx context.Context, client *bigquery.Client, opts options) ([]AppliedMigration, error) {
	sql := fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM `+"`%s.%s.schema_migrations`"+`
		ORDER BY version ASC
	`, opts.projectID, opts.datasetID)

	it, err := client.Query(sql).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}

		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}

		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}

	return applied, nil
}

// recordMigration records a successfully applied migration in schema_migrations
func recordMigration(ctx context.Context, client *bigquery.Client, opts options, migration Migration) error {
	sql := fmt.Sprintf(`
		INSERT INTO `+"`%s.%s.schema_migrations`"+`
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, opts.projectID, opts.datasetID)

	query := client.Query(sql)
	query.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: migration.Version},
		{Name: "name", Value: migration.Name},
		{Name: "checksum", Value: migration.Checksum},
		{Name: "applied_by", Value: opts.appliedBy},
	}
	return runStatement(ctx, query)
}

func runStatement(ctx context.Context, query *bigquery.Query) error {
	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}

	return nil
}
