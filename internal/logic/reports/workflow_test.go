package reports

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imghost/abuseguard/internal/analytics"
	"github.com/imghost/abuseguard/internal/db"
	"github.com/imghost/abuseguard/internal/models"
)

func strPtr(s string) *string { return &s }

func setup(t *testing.T) (*Workflow, *analytics.MockAnalytics, *time.Time) {
	t.Helper()
	now := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	sink := analytics.NewMockAnalytics()
	w := NewWorkflow(db.NewMemoryStore(), sink, nil, nil)
	w.SetClock(func() time.Time { return now })
	return w, sink, &now
}

func TestSubmit(t *testing.T) {
	w, sink, now := setup(t)

	r, err := w.Submit(context.Background(), Submission{
		TargetID:       "img-1",
		ReportedUserID: "owner-1",
		ReporterIP:     strPtr("203.0.113.9"),
		Reason:         "NSFW",
		Description:    strPtr("  "),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, models.ReportPending, r.Status)
	assert.Equal(t, models.ReasonNSFW, r.Reason)
	assert.Equal(t, *now, r.CreatedAt)
	assert.Nil(t, r.Description)
	assert.Nil(t, r.ReporterUserID)
	assert.Equal(t, []string{models.EventReportCreated}, sink.EventTypes())

	got, err := w.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestSubmitValidation(t *testing.T) {
	w, _, _ := setup(t)
	ctx := context.Background()

	tests := []Submission{
		{ReportedUserID: "u", Reason: "spam"},
		{TargetID: "t", Reason: "spam"},
		{TargetID: "t", ReportedUserID: "u", Reason: "rude"},
		{TargetID: "t", ReportedUserID: "u", Reason: "other", Description: strPtr(strings.Repeat("x", MaxDescriptionLen+1))},
	}
	for _, s := range tests {
		_, err := w.Submit(ctx, s)
		assert.ErrorIs(t, err, ErrInvalidReport)
	}
}

func TestLifecycle(t *testing.T) {
	w, sink, now := setup(t)
	ctx := context.Background()

	r, err := w.Submit(ctx, Submission{TargetID: "img-2", ReportedUserID: "u2", Reason: "spam"})
	require.NoError(t, err)

	*now = now.Add(time.Hour)
	r, err = w.UpdateStatus(ctx, r.ID, models.ReportReviewing, "mod-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ReportReviewing, r.Status)
	require.NotNil(t, r.ReviewedAt)
	assert.Equal(t, *now, *r.ReviewedAt)
	assert.Equal(t, "mod-1", *r.ReviewedBy)

	*now = now.Add(time.Hour)
	r, err = w.UpdateStatus(ctx, r.ID, models.ReportResolved, "mod-2", strPtr("image removed"))
	require.NoError(t, err)
	assert.Equal(t, models.ReportResolved, r.Status)
	assert.Equal(t, "mod-2", *r.ReviewedBy)
	assert.Equal(t, "image removed", *r.ResolutionNotes)

	for _, to := range []models.ReportStatus{models.ReportPending, models.ReportReviewing, models.ReportDismissed, models.ReportResolved} {
		_, err = w.UpdateStatus(ctx, r.ID, to, "mod-3", nil)
		assert.ErrorIs(t, err, models.ErrInvalidTransition, "resolved -> %s", to)
	}

	assert.Equal(t, []string{models.EventReportCreated, models.EventReportReviewed, models.EventReportReviewed}, sink.EventTypes())
}

func TestPendingCanBeDismissedDirectly(t *testing.T) {
	w, _, _ := setup(t)
	ctx := context.Background()

	r, err := w.Submit(ctx, Submission{TargetID: "img-3", ReportedUserID: "u3", Reason: "other"})
	require.NoError(t, err)
	r, err = w.UpdateStatus(ctx, r.ID, models.ReportDismissed, "mod", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ReportDismissed, r.Status)
}

func TestUpdateStatusErrors(t *testing.T) {
	w, _, _ := setup(t)
	ctx := context.Background()

	_, err := w.UpdateStatus(ctx, "missing", models.ReportReviewing, "mod", nil)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = w.UpdateStatus(ctx, "any", models.ReportStatus("archived"), "mod", nil)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	r, err := w.Submit(ctx, Submission{TargetID: "img", ReportedUserID: "u", Reason: "spam"})
	require.NoError(t, err)
	_, err = w.UpdateStatus(ctx, r.ID, models.ReportReviewing, " ", nil)
	assert.ErrorIs(t, err, ErrInvalidReport)
}

func TestListing(t *testing.T) {
	w, _, now := setup(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		*now = now.Add(time.Minute)
		r, err := w.Submit(ctx, Submission{TargetID: "img-x", ReportedUserID: "u", Reason: "spam"})
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	_, err := w.Submit(ctx, Submission{TargetID: "img-y", ReportedUserID: "u", Reason: "spam"})
	require.NoError(t, err)
	_, err = w.UpdateStatus(ctx, ids[0], models.ReportReviewing, "mod", nil)
	require.NoError(t, err)

	byTarget, err := w.ListByTarget(ctx, "img-x", 0)
	require.NoError(t, err)
	require.Len(t, byTarget, 3)
	assert.Equal(t, ids[2], byTarget[0].ID, "newest first")

	pending, err := w.ListPending(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	pending, err = w.ListPending(ctx, 10_000)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, clampLimit(0))
	assert.Equal(t, DefaultListLimit, clampLimit(-5))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, MaxListLimit, clampLimit(500))
}
