// Package reporting builds admission-control summaries from the ClickHouse
// audit table: daily denial counts, the noisiest identities and the busiest
// endpoints.
package reporting

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/imghost/abuseguard/internal/models"
)

// DailyMetrics counts audit events of each type for one day.
type DailyMetrics struct {
	Date          time.Time `json:"date"`
	RateLimited   int64     `json:"rate_limited"`
	LockedOut     int64     `json:"locked_out"`
	AuthFailures  int64     `json:"auth_failures"`
	Suspended     int64     `json:"suspended"`
	UploadBlocked int64     `json:"upload_blocked"`
	UploadFlagged int64     `json:"upload_flagged"`
	PatternAlerts int64     `json:"pattern_alerts"`
	BotShare      float64   `json:"bot_share"` // percent of the day's events from bot user agents
}

// Denials is the number of requests turned away on the day.
func (d DailyMetrics) Denials() int64 {
	return d.RateLimited + d.LockedOut + d.Suspended + d.UploadBlocked
}

// IdentityMetrics ranks an identity by how often it was denied.
type IdentityMetrics struct {
	Identity string    `json:"identity"`
	Denials  int64     `json:"denials"`
	Lockouts int64     `json:"lockouts"`
	LastSeen time.Time `json:"last_seen"`
}

// EndpointMetrics summarises denials for one endpoint.
type EndpointMetrics struct {
	Endpoint    string `json:"endpoint"`
	RateLimited int64  `json:"rate_limited"`
	Denials     int64  `json:"denials"`
}

// Summary is the admission report for a period.
type Summary struct {
	Days          int               `json:"days"`
	Total         DailyMetrics      `json:"total"`
	Daily         []DailyMetrics    `json:"daily"`
	TopIdentities []IdentityMetrics `json:"top_identities"`
	Endpoints     []EndpointMetrics `json:"endpoints"`
}

// denialTypes are the event types that correspond to a refused request.
var denialTypes = []any{models.EventRateLimited, models.EventLockedOut, models.EventSuspended, models.EventUploadBlocked}

// GenerateAdmissionReport queries ClickHouse for the last days of audit
// events and returns up to top identities.
func GenerateAdmissionReport(ctx context.Context, db *sql.DB, days, top int) (*Summary, error) {
	daily, err := getDailyMetrics(ctx, db, days)
	if err != nil {
		return nil, fmt.Errorf("get daily metrics: %w", err)
	}
	identities, err := getTopIdentities(ctx, db, days, top)
	if err != nil {
		return nil, fmt.Errorf("get top identities: %w", err)
	}
	endpoints, err := getEndpointMetrics(ctx, db, days)
	if err != nil {
		return nil, fmt.Errorf("get endpoint metrics: %w", err)
	}
	return &Summary{
		Days:          days,
		Total:         Totals(daily),
		Daily:         daily,
		TopIdentities: identities,
		Endpoints:     endpoints,
	}, nil
}

// Totals sums daily rows. BotShare is averaged over days with data.
func Totals(daily []DailyMetrics) DailyMetrics {
	var t DailyMetrics
	for _, d := range daily {
		t.RateLimited += d.RateLimited
		t.LockedOut += d.LockedOut
		t.AuthFailures += d.AuthFailures
		t.Suspended += d.Suspended
		t.UploadBlocked += d.UploadBlocked
		t.UploadFlagged += d.UploadFlagged
		t.PatternAlerts += d.PatternAlerts
		t.BotShare += d.BotShare
	}
	if len(daily) > 0 {
		t.BotShare /= float64(len(daily))
	}
	return t
}

func getDailyMetrics(ctx context.Context, db *sql.DB, days int) ([]DailyMetrics, error) {
	query := `
		SELECT
			toDate(timestamp) as date,
			countIf(event_type = ?) as rate_limited,
			countIf(event_type = ?) as locked_out,
			countIf(event_type = ?) as auth_failures,
			countIf(event_type = ?) as suspended,
			countIf(event_type = ?) as upload_blocked,
			countIf(event_type = ?) as upload_flagged,
			countIf(event_type = ?) as pattern_alerts,
			round(countIf(is_bot = 1) / count() * 100, 2) as bot_share
		FROM admission_events
		WHERE timestamp >= now() - INTERVAL ? DAY
		GROUP BY date
		ORDER BY date DESC`

	rows, err := db.QueryContext(ctx, query,
		models.EventRateLimited, models.EventLockedOut, models.EventAuthFailure, models.EventSuspended,
		models.EventUploadBlocked, models.EventUploadFlagged, models.EventPatternAlert, days)
	if err != nil {
		return nil, fmt.Errorf("query daily metrics: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []DailyMetrics
	for rows.Next() {
		var m DailyMetrics
		if err := rows.Scan(&m.Date, &m.RateLimited, &m.LockedOut, &m.AuthFailures, &m.Suspended,
			&m.UploadBlocked, &m.UploadFlagged, &m.PatternAlerts, &m.BotShare); err != nil {
			return nil, fmt.Errorf("scan daily metrics: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func getTopIdentities(ctx context.Context, db *sql.DB, days, limit int) ([]IdentityMetrics, error) {
	query := `
		SELECT
			identity,
			count() as denials,
			countIf(event_type = ?) as lockouts,
			max(timestamp) as last_seen
		FROM admission_events
		WHERE event_type IN (?, ?, ?, ?)
			AND timestamp >= now() - INTERVAL ? DAY
		GROUP BY identity
		ORDER BY denials DESC
		LIMIT ?`

	args := append([]any{models.EventLockedOut}, denialTypes...)
	args = append(args, days, limit)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query top identities: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []IdentityMetrics
	for rows.Next() {
		var m IdentityMetrics
		if err := rows.Scan(&m.Identity, &m.Denials, &m.Lockouts, &m.LastSeen); err != nil {
			return nil, fmt.Errorf("scan identity metrics: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func getEndpointMetrics(ctx context.Context, db *sql.DB, days int) ([]EndpointMetrics, error) {
	query := `
		SELECT
			endpoint,
			countIf(event_type = ?) as rate_limited,
			count() as denials
		FROM admission_events
		WHERE event_type IN (?, ?, ?, ?)
			AND timestamp >= now() - INTERVAL ? DAY
		GROUP BY endpoint
		ORDER BY denials DESC`

	args := append([]any{models.EventRateLimited}, denialTypes...)
	args = append(args, days)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query endpoint metrics: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []EndpointMetrics
	for rows.Next() {
		var m EndpointMetrics
		if err := rows.Scan(&m.Endpoint, &m.RateLimited, &m.Denials); err != nil {
			return nil, fmt.Errorf("scan endpoint metrics: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
