// Package reports runs the abuse-report review lifecycle.
package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/analytics"
	"github.com/imghost/abuseguard/internal/models"
	"github.com/imghost/abuseguard/internal/observability"
)

// Listing bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
	// MaxDescriptionLen caps the free-text description, in runes.
	MaxDescriptionLen = 2000
)

// ErrInvalidReport is returned for submissions missing required fields or
// carrying an unknown reason.
var ErrInvalidReport = errors.New("invalid abuse report")

// Store persists abuse reports.
type Store interface {
	InsertReport(ctx context.Context, r *models.AbuseReport) error
	GetReport(ctx context.Context, id string) (*models.AbuseReport, error)
	TransitionReport(ctx context.Context, id string, to models.ReportStatus, from []models.ReportStatus, reviewedBy string, notes *string, at time.Time) (*models.AbuseReport, error)
	ListReportsByTarget(ctx context.Context, targetID string, limit int) ([]models.AbuseReport, error)
	ListReportsByStatus(ctx context.Context, status models.ReportStatus, limit int) ([]models.AbuseReport, error)
}

// Submission is a new report as received from a user.
type Submission struct {
	TargetID       string  `json:"target_id"`
	ReportedUserID string  `json:"reported_user_id"`
	ReporterUserID *string `json:"reporter_user_id,omitempty"`
	ReporterIP     *string `json:"reporter_ip,omitempty"`
	Reason         string  `json:"reason"`
	Description    *string `json:"description,omitempty"`
}

// Workflow creates reports and moves them through review.
type Workflow struct {
	store   Store
	events  analytics.EventSink
	logger  *zap.Logger
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// NewWorkflow creates a workflow. events may be nil.
func NewWorkflow(store Store, events analytics.EventSink, logger *zap.Logger, metrics observability.MetricsRegistry) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Workflow{store: store, events: events, logger: logger, metrics: metrics, now: time.Now}
}

// SetClock overrides the time source (for testing).
func (w *Workflow) SetClock(now func() time.Time) {
	w.now = now
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func (w *Workflow) emit(ctx context.Context, ev models.AdmissionEvent) {
	if w.events == nil {
		return
	}
	if err := w.events.RecordEvent(ctx, ev); err != nil && !errors.Is(err, analytics.ErrUnavailable) {
		w.logger.Warn("record report event", zap.Error(err), zap.String("event_type", ev.EventType))
	}
}

// Submit validates s and stores a new pending report.
func (w *Workflow) Submit(ctx context.Context, s Submission) (*models.AbuseReport, error) {
	target := strings.TrimSpace(s.TargetID)
	reported := strings.TrimSpace(s.ReportedUserID)
	reason := strings.ToLower(strings.TrimSpace(s.Reason))
	if target == "" || reported == "" {
		return nil, fmt.Errorf("%w: target_id and reported_user_id are required", ErrInvalidReport)
	}
	if !models.ValidReportReason(reason) {
		return nil, fmt.Errorf("%w: unknown reason %q", ErrInvalidReport, s.Reason)
	}
	desc := trimmed(s.Description)
	if desc != nil && len([]rune(*desc)) > MaxDescriptionLen {
		return nil, fmt.Errorf("%w: description longer than %d characters", ErrInvalidReport, MaxDescriptionLen)
	}

	r := &models.AbuseReport{
		ID:             uuid.NewString(),
		TargetID:       target,
		ReportedUserID: reported,
		ReporterUserID: trimmed(s.ReporterUserID),
		ReporterIP:     trimmed(s.ReporterIP),
		Reason:         reason,
		Description:    desc,
		Status:         models.ReportPending,
		CreatedAt:      w.now().UTC(),
	}
	if err := w.store.InsertReport(ctx, r); err != nil {
		w.metrics.IncrementStoreErrors("reports")
		return nil, fmt.Errorf("insert report: %w", err)
	}

	w.metrics.IncrementReports()
	identity := r.ReportedUserID
	ev := models.AdmissionEvent{
		Timestamp: r.CreatedAt,
		EventType: models.EventReportCreated,
		Identity:  identity,
		Endpoint:  "reports",
		Detail:    map[string]string{"report_id": r.ID, "target_id": r.TargetID, "reason": r.Reason},
	}
	if r.ReporterUserID != nil {
		ev.UserID = *r.ReporterUserID
	}
	if r.ReporterIP != nil {
		ev.IP = *r.ReporterIP
	}
	w.emit(ctx, ev)
	return r, nil
}

// UpdateStatus moves a report forward to status. Moving backwards, leaving a
// terminal state or re-entering the current state yields
// models.ErrInvalidTransition.
func (w *Workflow) UpdateStatus(ctx context.Context, id string, status models.ReportStatus, reviewedBy string, notes *string) (*models.AbuseReport, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidTransition, status)
	}
	from := models.PriorStatuses(status)
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: cannot move a report to %s", models.ErrInvalidTransition, status)
	}
	reviewedBy = strings.TrimSpace(reviewedBy)
	if reviewedBy == "" {
		return nil, fmt.Errorf("%w: reviewer is required", ErrInvalidReport)
	}

	r, err := w.store.TransitionReport(ctx, id, status, from, reviewedBy, trimmed(notes), w.now().UTC())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidTransition) {
			return nil, err
		}
		w.metrics.IncrementStoreErrors("reports")
		return nil, fmt.Errorf("transition report: %w", err)
	}

	w.metrics.IncrementReportTransitions(string(status))
	w.logger.Info("report status updated",
		zap.String("report_id", id),
		zap.String("status", string(status)),
		zap.String("reviewed_by", reviewedBy))
	w.emit(ctx, models.AdmissionEvent{
		Timestamp: *r.ReviewedAt,
		EventType: models.EventReportReviewed,
		Identity:  r.ReportedUserID,
		Endpoint:  "reports",
		Detail:    map[string]string{"report_id": r.ID, "status": string(status), "reviewed_by": reviewedBy},
	})
	return r, nil
}

// Get loads a report by ID.
func (w *Workflow) Get(ctx context.Context, id string) (*models.AbuseReport, error) {
	r, err := w.store.GetReport(ctx, id)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		w.metrics.IncrementStoreErrors("reports")
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, err
}

// ListByTarget returns reports against targetID, newest first.
func (w *Workflow) ListByTarget(ctx context.Context, targetID string, limit int) ([]models.AbuseReport, error) {
	out, err := w.store.ListReportsByTarget(ctx, targetID, clampLimit(limit))
	if err != nil {
		w.metrics.IncrementStoreErrors("reports")
		return nil, fmt.Errorf("list reports by target: %w", err)
	}
	return out, nil
}

// ListPending returns pending reports, newest first.
func (w *Workflow) ListPending(ctx context.Context, limit int) ([]models.AbuseReport, error) {
	out, err := w.store.ListReportsByStatus(ctx, models.ReportPending, clampLimit(limit))
	if err != nil {
		w.metrics.IncrementStoreErrors("reports")
		return nil, fmt.Errorf("list pending reports: %w", err)
	}
	return out, nil
}
