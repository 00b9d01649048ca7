package main

import (
	"context"
	"crypto/sha256"
	"embed"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/statement-booking/internal/config"
	"github.com/dvloznov/statement-booking/internal/logger"
)

//go:embed migrations/*.sql
var embedded embed.FS

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

var (
	configPath = flag.String("config", "", "Path to an optional YAML config file")
	projectID  = flag.String("project", "", "GCP project ID (defaults to BQ_PROJECT_ID)")
	datasetID  = flag.String("dataset", "", "BigQuery dataset ID (defaults to BQ_DATASET)")
	appliedBy  = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	dryRun     = flag.Bool("dry-run", false, "List pending migrations without applying them")
)

func main() {
	flag.Parse()
	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *projectID == "" {
		*projectID = cfg.BigQuery.ProjectID
	}
	if *datasetID == "" {
		*datasetID = cfg.BigQuery.Dataset
	}

	if err := run(context.Background(), log); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func run(ctx context.Context, log zerolog.Logger) error {
	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		return fmt.Errorf("creating BigQuery client: %w", err)
	}
	defer client.Close()

	log.Info().Str("project", *projectID).Str("dataset", *datasetID).Msg("Connected to BigQuery")

	if err := ensureSchemaMigrationsTable(ctx, client); err != nil {
		return fmt.Errorf("ensuring schema_migrations table: %w", err)
	}

	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}
	migrations, err := readMigrations(sub, *projectID, *datasetID, log)
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	log.Info().Int("count", len(migrations)).Msg("Found migration files")

	appliedMigrations, err := getAppliedMigrations(ctx, client)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}
	log.Info().Int("count", len(appliedMigrations)).Msg("Found already applied migrations")

	pending := pendingMigrations(migrations, appliedMigrations, log)
	if *dryRun {
		for _, m := range pending {
			log.Info().Str("migration", m.Filename).Msg("Pending")
		}
		return nil
	}

	for _, migration := range pending {
		mlog := log.With().Int("version", migration.Version).Str("name", migration.Name).Logger()
		mlog.Info().Msg("Applying migration")

		if err := executeSQL(ctx, client.Query(migration.SQL)); err != nil {
			return fmt.Errorf("executing migration %s: %w", migration.Filename, err)
		}
		if err := recordMigration(ctx, client, migration); err != nil {
			return fmt.Errorf("recording migration %s: %w", migration.Filename, err)
		}
		mlog.Info().Msg("Applied migration")
	}

	if len(pending) == 0 {
		log.Info().Msg("No new migrations to apply. Dataset is up to date.")
	} else {
		log.Info().Int("applied", len(pending)).Msg("Successfully applied migrations")
	}
	return nil
}

// pendingMigrations returns the migrations not yet recorded, warning about applied
// migrations whose file changed since.
func pendingMigrations(migrations []Migration, applied []AppliedMigration, log zerolog.Logger) []Migration {
	appliedByVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		appliedByVersion[am.Version] = am
	}

	var pending []Migration
	for _, m := range migrations {
		am, ok := appliedByVersion[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			log.Warn().Str("migration", m.Filename).Msg("Applied migration was modified afterwards")
		}
	}
	return pending
}

// ensureSchemaMigrationsTable creates the schema_migrations table if it doesn't exist
func ensureSchemaMigrationsTable(ctx context.Context, client *bigquery.Client) error {
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS `+"`%s.%s.schema_migrations`"+` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, *projectID, *datasetID)
	return executeSQL(ctx, client.Query(sql))
}

// readMigrations parses every migration file of fsys, ordered by version.
func readMigrations(fsys fs.FS, project, dataset string, log zerolog.Logger) ([]Migration, error) {
	files, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
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
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("version %04d used by %s and %s", version, other, file.Name())
		}
		seen[version] = file.Name()

		content, err := fs.ReadFile(fsys, file.Name())
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		// The checksum covers the file before placeholders are replaced, so the same
		// migration applied to another dataset keeps its checksum.
		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", project)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", dataset)

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: file.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// getAppliedMigrations retrieves the list of already applied migrations
func getAppliedMigrations(ctx context.Context, client *bigquery.Client) ([]AppliedMigration, error) {
	sql := fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM `+"`%s.%s.schema_migrations`"+`
		ORDER BY version ASC
	`, *projectID, *datasetID)

	it, err := client.Query(sql).Read(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "Not found") {
			return []AppliedMigration{}, nil
		}
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
func recordMigration(ctx context.Context, client *bigquery.Client, migration Migration) error {
	sql := fmt.Sprintf(`
		INSERT INTO `+"`%s.%s.schema_migrations`"+`
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, *projectID, *datasetID)

	q := client.Query(sql)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: migration.Version},
		{Name: "name", Value: migration.Name},
		{Name: "checksum", Value: migration.Checksum},
		{Name: "applied_by", Value: *appliedBy},
	}
	return executeSQL(ctx, q)
}

func executeSQL(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
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

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: migrate [flags]\n\nApplies the embedded BigQuery migrations in version order.\n\n")
		flag.PrintDefaults()
	}
}
