// Package sqlstore implements registry.Gateway against PostgreSQL, the
// second of the two durable backends named in section 4.7 ("a
// relational or key-value store"). The atomic claim in section 4.5
// step 1 is realized with a single `UPDATE ... WHERE status = $n`
// statement whose reported row count decides success, resolving Open
// Question C the same way as the DynamoDB backend: a canonical atomic
// claim rather than a racy read-after-write compare.
//
// Grounded on the pool/migration wiring in the ComplianceDatabase of
// the sibling example repo's postgres storage package (pgxpool.Pool,
// golang-migrate/migrate driven by an embedded migrations directory)
// and its outbox.go query style (parameterized `$n` placeholders,
// pgx.ErrNoRows as the not-found signal).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/gurre/ddb-pitr/jobmodel"
	"github.com/gurre/ddb-pitr/registry"
)

// Config configures a Store's connection pool and migration source.
type Config struct {
	ConnectionString string
	MaxConnections   int32
	ConnectTimeout   time.Duration
	MigrationsPath   string // e.g. "file://registry/sqlstore/migrations"
}

// Store implements registry.Gateway against a "jobs" table.
type Store struct {
	pool *pgxpool.Pool
	cfg  Config
}

// Open creates the pgx pool, pings it once to surface connectivity
// errors early, and returns a Store. Callers own calling Close.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("sqlstore: connection string is required")
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "file://registry/sqlstore/migrations"
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: parse connection string: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConnections
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(timeoutCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: create connection pool: %w", err)
	}
	if err := pool.Ping(timeoutCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlstore: ping database: %w", err)
	}

	return &Store{pool: pool, cfg: cfg}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// MigrateToLatest applies all pending migrations from cfg.MigrationsPath.
// golang-migrate drives its own database/sql connection (via lib/pq)
// independent of the pgxpool used for normal queries, the same split
// the grounding example uses.
func (s *Store) MigrateToLatest() error {
	db, err := sql.Open("postgres", s.cfg.ConnectionString)
	if err != nil {
		return fmt.Errorf("sqlstore: open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("sqlstore: create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(s.cfg.MigrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("sqlstore: create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("sqlstore: apply migrations: %w", err)
	}
	return nil
}

// Get implements registry.Gateway.
func (s *Store) Get(ctx context.Context, jobID string) (jobmodel.Job, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` FROM jobs WHERE id = $1`, jobID)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return jobmodel.Job{}, registry.ErrNotFound
		}
		return jobmodel.Job{}, fmt.Errorf("sqlstore: get job %s: %w", jobID, err)
	}
	return j, nil
}

// ListByStatus implements registry.Gateway.
func (s *Store) ListByStatus(ctx context.Context, status jobmodel.Status, orderBy string, limit int) ([]jobmodel.Job, error) {
	if orderBy == "" {
		orderBy = "created_at"
	}
	query := selectColumns + ` FROM jobs WHERE status = $1 ORDER BY ` + sanitizeOrderBy(orderBy) + ` ASC`
	args := []interface{}{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list jobs by status %s: %w", status, err)
	}
	defer rows.Close()

	var jobs []jobmodel.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Update implements registry.Gateway.
func (s *Store) Update(ctx context.Context, jobID string, patch jobmodel.Patch) error {
	setClause, args := buildSetClause(patch)
	if setClause == "" {
		return nil
	}
	args = append(args, jobID)
	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $%d`, setClause, len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlstore: update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrNotFound
	}
	return nil
}

// ConditionalUpdate implements registry.Gateway's atomic claim as a
// single UPDATE ... WHERE id = $n AND status = $n+1 statement, the two
// placeholders following the SET clause's own arguments: the
// database itself decides atomically whether the precondition held,
// and the reported row count tells the caller which happened.
func (s *Store) ConditionalUpdate(ctx context.Context, jobID string, patch jobmodel.Patch, pred registry.ClaimPredicate) (bool, error) {
	setClause, args := buildSetClause(patch)
	if setClause == "" {
		return false, nil
	}
	args = append(args, jobID, string(pred.RequiredStatus))
	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $%d AND status = $%d`, setClause, len(args)-1, len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("sqlstore: conditional update job %s: %w", jobID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Create implements registry.Gateway.
func (s *Store) Create(ctx context.Context, job jobmodel.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, status, file_name, source_item_id, total_bytes,
			processed_lines, processed_bytes, error_lines, total_lines,
			num_fragments, fragments_done, created_at, started_at, finished_at,
			heartbeat_at, total_duration_ms, lines_per_second, bytes_per_second,
			cancel_requested, claimed_by, error_message, validation_passed
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22
		)`,
		job.ID, string(job.Status), job.FileName, job.SourceItemID, job.TotalBytes,
		job.ProcessedLines, job.ProcessedBytes, job.ErrorLines, job.TotalLines,
		job.NumFragments, job.FragmentsDone, job.CreatedAt, job.StartedAt, job.FinishedAt,
		job.HeartbeatAt, job.TotalDurationMs, job.LinesPerSecond, job.BytesPerSecond,
		job.CancelRequested, job.ClaimedBy, job.ErrorMessage, job.ValidationPassed,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: create job %s: %w", job.ID, err)
	}
	return nil
}

// Delete implements registry.Gateway.
func (s *Store) Delete(ctx context.Context, pred registry.DeletePredicate) error {
	query := `DELETE FROM jobs WHERE 1=1`
	var args []interface{}
	if pred.Status != "" {
		args = append(args, string(pred.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if pred.FinishedAtOld != nil {
		args = append(args, *pred.FinishedAtOld)
		query += fmt.Sprintf(` AND finished_at < $%d`, len(args))
	}
	_, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlstore: delete jobs: %w", err)
	}
	return nil
}
