package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/db/migrations"
	"github.com/imghost/abuseguard/internal/models"
)

// Postgres wraps a postgres DB connection. It stores suspensions, content
// flags, abuse reports and upload history.
type Postgres struct {
	DB *sql.DB
}

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.migrate(context.Background()); err != nil {
		return nil, err
	}
	if err := p.ensureReportReasons(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// Ping reports whether Postgres is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

// migrate applies the embedded goose migrations.
func (p *Postgres) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, p.DB, "."); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// ensureReportReasons upserts the accepted report reasons.
func (p *Postgres) ensureReportReasons() error {
	ctx := context.Background()
	for _, rr := range models.DefaultReportReasons {
		if _, err := p.DB.ExecContext(ctx, `INSERT INTO report_reasons (code, display_name, description, severity)
            VALUES ($1,$2,$3,$4) ON CONFLICT (code) DO NOTHING`,
			rr.Code, rr.DisplayName, rr.Description, rr.Severity); err != nil {
			return fmt.Errorf("insert report reason %s: %w", rr.Code, err)
		}
	}
	return nil
}

// ===== Suspensions =====

const suspensionColumns = `id, user_id, reason, suspended_at, suspended_until, suspended_by, active`

func scanSuspension(row interface{ Scan(...any) error }) (models.Suspension, error) {
	var (
		s     models.Suspension
		until sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.Reason, &s.SuspendedAt, &until, &s.SuspendedBy, &s.Active); err != nil {
		return s, err
	}
	if until.Valid {
		t := until.Time
		s.SuspendedUntil = &t
	}
	return s, nil
}

// InsertSuspension stores a new suspension row.
func (p *Postgres) InsertSuspension(ctx context.Context, s *models.Suspension) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO suspensions (`+suspensionColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.ID, s.UserID, s.Reason, s.SuspendedAt, s.SuspendedUntil, s.SuspendedBy, s.Active)
	if err != nil {
		return fmt.Errorf("insert suspension: %w", err)
	}
	return nil
}

// LatestActiveSuspension returns the most recent active row in force at now.
func (p *Postgres) LatestActiveSuspension(ctx context.Context, userID string, now time.Time) (*models.Suspension, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+suspensionColumns+` FROM suspensions
        WHERE user_id=$1 AND active AND (suspended_until IS NULL OR suspended_until > $2)
        ORDER BY suspended_at DESC LIMIT 1`, userID, now)
	s, err := scanSuspension(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select suspension: %w", err)
	}
	return &s, nil
}

// DeactivateSuspensions marks every active row for the user inactive.
func (p *Postgres) DeactivateSuspensions(ctx context.Context, userID string) (int64, error) {
	res, err := p.DB.ExecContext(ctx, `UPDATE suspensions SET active=false WHERE user_id=$1 AND active`, userID)
	if err != nil {
		return 0, fmt.Errorf("deactivate suspensions: %w", err)
	}
	return res.RowsAffected()
}

// ListSuspensions returns a user's suspension history, newest first.
func (p *Postgres) ListSuspensions(ctx context.Context, userID string) ([]models.Suspension, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT `+suspensionColumns+` FROM suspensions WHERE user_id=$1 ORDER BY suspended_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list suspensions: %w", err)
	}
	defer closeRows(rows)

	var out []models.Suspension
	for rows.Next() {
		s, err := scanSuspension(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suspension: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ===== Content flags =====

// InsertContentFlag stores a flag. Flags are never updated.
func (p *Postgres) InsertContentFlag(ctx context.Context, f *models.ContentFlag) error {
	meta, err := json.Marshal(f.Metadata)
	if err != nil {
		return fmt.Errorf("marshal flag metadata: %w", err)
	}
	_, err = p.DB.ExecContext(ctx, `INSERT INTO content_flags (id, target_id, flag_type, confidence, flagged_by, metadata, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		f.ID, f.TargetID, string(f.FlagType), f.Confidence, f.FlaggedBy, meta, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert content flag: %w", err)
	}
	return nil
}

// ListContentFlags returns flags for a target, newest first.
func (p *Postgres) ListContentFlags(ctx context.Context, targetID string, limit int) ([]models.ContentFlag, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT id, target_id, flag_type, confidence, flagged_by, metadata, created_at
        FROM content_flags WHERE target_id=$1 ORDER BY created_at DESC LIMIT $2`, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("list content flags: %w", err)
	}
	defer closeRows(rows)

	var out []models.ContentFlag
	for rows.Next() {
		var (
			f    models.ContentFlag
			typ  string
			meta []byte
		)
		if err := rows.Scan(&f.ID, &f.TargetID, &typ, &f.Confidence, &f.FlaggedBy, &meta, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan content flag: %w", err)
		}
		f.FlagType = models.FlagType(typ)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &f.Metadata); err != nil {
				return nil, fmt.Errorf("decode flag metadata: %w", err)
			}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ===== Abuse reports =====

const reportColumns = `id, target_id, reported_user_id, reporter_user_id, host(reporter_ip), reason, description,
    status, created_at, reviewed_at, reviewed_by, resolution_notes`

func scanReport(row interface{ Scan(...any) error }) (*models.AbuseReport, error) {
	var (
		r                              models.AbuseReport
		reporterUser, reporterIP, desc sql.NullString
		reviewedBy, notes              sql.NullString
		status                         string
		reviewedAt                     sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.TargetID, &r.ReportedUserID, &reporterUser, &reporterIP, &r.Reason, &desc,
		&status, &r.CreatedAt, &reviewedAt, &reviewedBy, &notes); err != nil {
		return nil, err
	}
	r.Status = models.ReportStatus(status)
	r.ReporterUserID = nullString(reporterUser)
	r.ReporterIP = nullString(reporterIP)
	r.Description = nullString(desc)
	r.ReviewedBy = nullString(reviewedBy)
	r.ResolutionNotes = nullString(notes)
	if reviewedAt.Valid {
		t := reviewedAt.Time
		r.ReviewedAt = &t
	}
	return &r, nil
}

// InsertReport stores a new abuse report.
func (p *Postgres) InsertReport(ctx context.Context, r *models.AbuseReport) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO abuse_reports (
            id, target_id, reported_user_id, reporter_user_id, reporter_ip, reason, description, status, created_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.TargetID, r.ReportedUserID, r.ReporterUserID, r.ReporterIP, r.Reason, r.Description,
		string(r.Status), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert abuse report: %w", err)
	}
	return nil
}

// GetReport loads a report by ID.
func (p *Postgres) GetReport(ctx context.Context, id string) (*models.AbuseReport, error) {
	r, err := scanReport(p.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM abuse_reports WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select abuse report: %w", err)
	}
	return r, nil
}

// TransitionReport moves a report to status `to` only if it is currently in
// one of `from`. The condition is part of the UPDATE so concurrent reviewers
// cannot move a report backwards.
func (p *Postgres) TransitionReport(ctx context.Context, id string, to models.ReportStatus, from []models.ReportStatus, reviewedBy string, notes *string, at time.Time) (*models.AbuseReport, error) {
	prior := make([]string, len(from))
	for i, s := range from {
		prior[i] = string(s)
	}
	row := p.DB.QueryRowContext(ctx, `UPDATE abuse_reports
        SET status=$1, reviewed_at=$2, reviewed_by=$3, resolution_notes=COALESCE($4, resolution_notes)
        WHERE id=$5 AND status = ANY($6)
        RETURNING `+reportColumns,
		string(to), at, reviewedBy, notes, id, pq.Array(prior))
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := p.GetReport(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, models.ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("update abuse report: %w", err)
	}
	return r, nil
}

func (p *Postgres) listReports(ctx context.Context, where string, arg any, limit int) ([]models.AbuseReport, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT `+reportColumns+` FROM abuse_reports WHERE `+where+
		` ORDER BY created_at DESC LIMIT $2`, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("list abuse reports: %w", err)
	}
	defer closeRows(rows)

	var out []models.AbuseReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan abuse report: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ListReportsByTarget returns the newest reports about a target.
func (p *Postgres) ListReportsByTarget(ctx context.Context, targetID string, limit int) ([]models.AbuseReport, error) {
	return p.listReports(ctx, "target_id=$1", targetID, limit)
}

// ListReportsByStatus returns the newest reports in a status.
func (p *Postgres) ListReportsByStatus(ctx context.Context, status models.ReportStatus, limit int) ([]models.AbuseReport, error) {
	return p.listReports(ctx, "status=$1", string(status), limit)
}

// ===== Uploads =====

// InsertUpload records an accepted upload.
func (p *Postgres) InsertUpload(ctx context.Context, u *models.UploadRecord) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO uploads (id, user_id, filename, size_bytes, mime_type, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`, u.ID, u.UserID, u.Filename, u.SizeBytes, u.MimeType, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

func (p *Postgres) queryUploads(ctx context.Context, query string, args ...any) ([]models.UploadRecord, error) {
	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer closeRows(rows)

	var out []models.UploadRecord
	for rows.Next() {
		var (
			u              models.UploadRecord
			filename, mime sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.UserID, &filename, &u.SizeBytes, &mime, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		u.Filename = filename.String
		u.MimeType = mime.String
		out = append(out, u)
	}
	return out, rows.Err()
}

// UploadsSince returns a user's uploads created at or after since, newest first.
func (p *Postgres) UploadsSince(ctx context.Context, userID string, since time.Time) ([]models.UploadRecord, error) {
	return p.queryUploads(ctx, `SELECT id, user_id, filename, size_bytes, mime_type, created_at FROM uploads
        WHERE user_id=$1 AND created_at >= $2 ORDER BY created_at DESC`, userID, since)
}

// LatestUploads returns a user's n most recent uploads, newest first.
func (p *Postgres) LatestUploads(ctx context.Context, userID string, n int) ([]models.UploadRecord, error) {
	return p.queryUploads(ctx, `SELECT id, user_id, filename, size_bytes, mime_type, created_at FROM uploads
        WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, n)
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		zap.L().Warn("rows close", zap.Error(err))
	}
}
