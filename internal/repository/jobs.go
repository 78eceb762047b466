package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/cockroachdb/errors"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

const jobsTable = "jobs"

var jobColumns = []string{
	"id", "status", "filename", "kind", "size_bytes", "sha256",
	"created_at", "completed_at", "total_pages", "error", "summary", "pages",
}

// JobRepository persists job records in a SQL table. It satisfies the
// registry's Store interface.
type JobRepository interface {
	Migrate(ctx context.Context) error
	Save(ctx context.Context, job entity.Job) error
	Get(ctx context.Context, jobID string) (entity.Job, error)
	LoadAll(ctx context.Context) ([]entity.Job, error)
	Delete(ctx context.Context, jobID string) error
	CountByStatus(ctx context.Context) (map[constants.JobStatus]int, error)
}

type jobRepository struct {
	db      *sql.DB
	dialect string
	logger  *slog.Logger
}

func NewJobRepository(db *DB, logger *slog.Logger) JobRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &jobRepository{db: db.SQL, dialect: db.Dialect, logger: logger}
}

func (r *jobRepository) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.dialect)
}

// Migrate creates the jobs table if it does not exist.
func (r *jobRepository) Migrate(ctx context.Context) error {
	b := r.builder()
	columns := []entsql.Querier{
		b.Column("id").Type("varchar(64) NOT NULL PRIMARY KEY"),
		b.Column("status").Type("varchar(16) NOT NULL"),
		b.Column("filename").Type("text NOT NULL DEFAULT ''"),
		b.Column("kind").Type("varchar(16) NOT NULL DEFAULT ''"),
		b.Column("size_bytes").Type("bigint NOT NULL DEFAULT 0"),
		b.Column("sha256").Type("varchar(64) NOT NULL DEFAULT ''"),
		b.Column("created_at").Type("varchar(40) NOT NULL"),
		b.Column("completed_at").Type("varchar(40)"),
		b.Column("total_pages").Type("integer NOT NULL DEFAULT 0"),
		b.Column("error").Type("text"),
		b.Column("summary").Type("text NOT NULL"),
		b.Column("pages").Type("text NOT NULL"),
	}
	ddl := b.String(func(sb *entsql.Builder) {
		sb.WriteString("CREATE TABLE IF NOT EXISTS ").Ident(jobsTable).Pad().
			Wrap(func(cb *entsql.Builder) { cb.JoinComma(columns...) })
	})
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		r.logger.Error("failed to create jobs table", "error", err)
		return errors.Mark(errors.Wrap(err, "create jobs table"), common.ErrDatabase)
	}
	return nil
}

// Save upserts the full job record.
func (r *jobRepository) Save(ctx context.Context, job entity.Job) error {
	summary, err := json.Marshal(job.Summary)
	if err != nil {
		return errors.Wrap(err, "marshal summary")
	}
	pages := job.Pages
	if pages == nil {
		pages = []entity.Page{}
	}
	pagesJSON, err := json.Marshal(pages)
	if err != nil {
		return errors.Wrap(err, "marshal pages")
	}

	var completed, jobErr sql.NullString
	if job.CompletedAt != nil {
		completed = sql.NullString{String: formatTime(*job.CompletedAt), Valid: true}
	}
	if job.Error != nil {
		jobErr = sql.NullString{String: *job.Error, Valid: true}
	}

	query, args := r.builder().Insert(jobsTable).
		Columns(jobColumns...).
		Values(
			job.ID, string(job.Status), job.Document.Filename, string(job.Document.Kind),
			job.Document.SizeBytes, job.Document.SHA256,
			formatTime(job.CreatedAt), completed, job.TotalPages, jobErr,
			string(summary), string(pagesJSON),
		).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("failed to save job", "job_id", job.ID, "status", job.Status, "error", err)
		return errors.Mark(errors.Wrapf(err, "save job %s", job.ID), common.ErrDatabase)
	}
	return nil
}

func (r *jobRepository) Get(ctx context.Context, jobID string) (entity.Job, error) {
	b := r.builder()
	query, args := b.Select(jobColumns...).
		From(b.Table(jobsTable)).
		Where(entsql.EQ("id", jobID)).
		Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return entity.Job{}, errors.Mark(errors.Wrap(err, "query job"), common.ErrDatabase)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return entity.Job{}, errors.Mark(err, common.ErrDatabase)
		}
		return entity.Job{}, errors.Wrapf(common.ErrNotFound, "job %s", jobID)
	}
	return scanJob(rows)
}

// LoadAll returns every stored job, newest first. Rows that fail to decode
// are logged and skipped.
func (r *jobRepository) LoadAll(ctx context.Context) ([]entity.Job, error) {
	b := r.builder()
	query, args := b.Select(jobColumns...).
		From(b.Table(jobsTable)).
		OrderBy(entsql.Desc("created_at"), "id").
		Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to list jobs", "error", err)
		return nil, errors.Mark(errors.Wrap(err, "list jobs"), common.ErrDatabase)
	}
	defer rows.Close()

	var jobs []entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			r.logger.Warn("skipping undecodable job row", "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return jobs, errors.Mark(err, common.ErrDatabase)
	}
	return jobs, nil
}

func (r *jobRepository) Delete(ctx context.Context, jobID string) error {
	query, args := r.builder().Delete(jobsTable).
		Where(entsql.EQ("id", jobID)).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("failed to delete job", "job_id", jobID, "error", err)
		return errors.Mark(errors.Wrapf(err, "delete job %s", jobID), common.ErrDatabase)
	}
	return nil
}

func (r *jobRepository) CountByStatus(ctx context.Context) (map[constants.JobStatus]int, error) {
	b := r.builder()
	query, args := b.Select("status", entsql.Count("*")).
		From(b.Table(jobsTable)).
		GroupBy("status").
		Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "count jobs"), common.ErrDatabase)
	}
	defer rows.Close()

	out := map[constants.JobStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Mark(err, common.ErrDatabase)
		}
		out[constants.JobStatus(status)] = n
	}
	return out, rows.Err()
}

func scanJob(rows *sql.Rows) (entity.Job, error) {
	var (
		job                   entity.Job
		status, kind, created string
		completed, jobErr     sql.NullString
		summary, pages        string
	)
	err := rows.Scan(
		&job.ID, &status, &job.Document.Filename, &kind, &job.Document.SizeBytes, &job.Document.SHA256,
		&created, &completed, &job.TotalPages, &jobErr, &summary, &pages,
	)
	if err != nil {
		return entity.Job{}, errors.Wrap(err, "scan job")
	}
	job.Status = constants.JobStatus(status)
	job.Document.Kind = constants.DocumentKind(kind)
	if job.CreatedAt, err = parseTime(created); err != nil {
		return entity.Job{}, errors.Wrapf(err, "job %s created_at", job.ID)
	}
	if completed.Valid {
		t, err := parseTime(completed.String)
		if err != nil {
			return entity.Job{}, errors.Wrapf(err, "job %s completed_at", job.ID)
		}
		job.CompletedAt = &t
	}
	if jobErr.Valid {
		msg := jobErr.String
		job.Error = &msg
	}
	if err := json.Unmarshal([]byte(summary), &job.Summary); err != nil {
		return entity.Job{}, errors.Wrapf(err, "job %s summary", job.ID)
	}
	if err := json.Unmarshal([]byte(pages), &job.Pages); err != nil {
		return entity.Job{}, errors.Wrapf(err, "job %s pages", job.ID)
	}
	if job.Pages == nil {
		job.Pages = []entity.Page{}
	}
	return job, nil
}

// Times are stored as fixed-width UTC text so they sort lexically on every dialect.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
