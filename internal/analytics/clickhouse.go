package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/imghost/abuseguard/internal/models"
	"github.com/imghost/abuseguard/internal/observability"
)

// EventSink receives admission audit events. Implementations should return
// ErrUnavailable when the underlying storage is not configured.
type EventSink interface {
	RecordEvent(ctx context.Context, ev models.AdmissionEvent) error
}

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = fmt.Errorf("analytics unavailable")

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB      *sql.DB
	Metrics observability.MetricsRegistry
}

const createEventsTable = `CREATE TABLE IF NOT EXISTS admission_events (
       timestamp    DateTime64(3),
       event_type   LowCardinality(String),
       identity     String,
       endpoint     String,
       user_id      Nullable(String),
       ip           Nullable(String),
       country      Nullable(String),
       device_type  Nullable(String),
       is_bot       UInt8,
       detail       Map(String, String)
   ) ENGINE=MergeTree() ORDER BY (event_type, identity, timestamp)
   TTL toDateTime(timestamp) + INTERVAL 90 DAY`

// InitClickHouse connects to ClickHouse and ensures the admission_events
// table exists.
func InitClickHouse(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration, metrics observability.MetricsRegistry) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), createEventsTable); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	zap.L().Info("Connected to ClickHouse",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns))
	return &Analytics{DB: db, Metrics: metrics}, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// RecordEvent inserts a single admission event.
func (a *Analytics) RecordEvent(ctx context.Context, ev models.AdmissionEvent) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	if a.Metrics != nil {
		a.Metrics.IncrementEvent(ev.EventType)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	detail := ev.Detail
	if detail == nil {
		detail = map[string]string{}
	}
	var bot uint8
	if ev.IsBot {
		bot = 1
	}

	stmt := `INSERT INTO admission_events (timestamp, event_type, identity, endpoint, user_id, ip, country, device_type, is_bot, detail) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt, ev.Timestamp.UTC(), ev.EventType, ev.Identity, ev.Endpoint,
		nullable(ev.UserID), nullable(ev.IP), nullable(ev.Country), nullable(ev.DeviceType), bot, detail); err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("event_type", ev.EventType))
		return fmt.Errorf("insert %s event: %w", ev.EventType, err)
	}
	return nil
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

// Ping reports whether ClickHouse is reachable.
func (a *Analytics) Ping(ctx context.Context) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	return a.DB.PingContext(ctx)
}

// GetEventsByIdentity returns the most recent events for identity, newest
// first. An empty eventType matches every type.
func (a *Analytics) GetEventsByIdentity(ctx context.Context, identity, eventType string, limit int) ([]models.AdmissionEvent, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT timestamp, event_type, identity, endpoint, user_id, ip, country, device_type, is_bot, detail
        FROM admission_events WHERE identity = ? AND (? = '' OR event_type = ?)
        ORDER BY timestamp DESC LIMIT ?`
	rows, err := a.DB.QueryContext(ctx, query, identity, eventType, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []models.AdmissionEvent
	for rows.Next() {
		var (
			e                               models.AdmissionEvent
			userID, ip, country, deviceType sql.NullString
			bot                             uint8
		)
		if err := rows.Scan(&e.Timestamp, &e.EventType, &e.Identity, &e.Endpoint, &userID, &ip, &country, &deviceType, &bot, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.UserID, e.IP, e.Country, e.DeviceType = userID.String, ip.String, country.String, deviceType.String
		e.IsBot = bot == 1
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}
