package patterns

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imghost/abuseguard/internal/db"
	"github.com/imghost/abuseguard/internal/models"
)

var now = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *db.MemoryStore, userID string, at []time.Time, size func(i int) int64) {
	t.Helper()
	for i, ts := range at {
		require.NoError(t, store.InsertUpload(context.Background(), &models.UploadRecord{
			ID:        fmt.Sprintf("%s-%d", userID, i),
			UserID:    userID,
			Filename:  fmt.Sprintf("img%d.png", i),
			SizeBytes: size(i),
			MimeType:  "image/png",
			CreatedAt: ts,
		}))
	}
}

func newAnalyzer(store UploadHistory) *Analyzer {
	a := NewAnalyzer(store, DefaultThresholds())
	a.SetClock(func() time.Time { return now })
	return a
}

// irregular spreads n uploads over span with uneven gaps.
func irregular(n int, span time.Duration) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		frac := float64(i*i) / float64(n*n)
		out[i] = now.Add(-time.Duration(frac * float64(span)))
	}
	return out
}

func distinct(i int) int64 { return int64(1000 + i) }

func TestHighUploadRate(t *testing.T) {
	store := db.NewMemoryStore()
	seed(t, store, "u1", irregular(51, 59*time.Minute), distinct)

	res, err := newAnalyzer(store).Detect(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, res.Suspicious)
	assert.Equal(t, []string{ReasonHighRate}, res.Reasons)
}

func TestFiftyUploadsIsNotHighRate(t *testing.T) {
	store := db.NewMemoryStore()
	seed(t, store, "u1", irregular(50, 59*time.Minute), distinct)

	res, err := newAnalyzer(store).Detect(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, res.Suspicious)
}

func TestIdenticalSizes(t *testing.T) {
	store := db.NewMemoryStore()
	seed(t, store, "u2", irregular(11, 20*time.Hour), func(int) int64 { return 4096 })

	res, err := newAnalyzer(store).Detect(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{ReasonIdenticalSizes}, res.Reasons)

	// Uploads older than a day do not count.
	store = db.NewMemoryStore()
	old := irregular(11, 20*time.Hour)
	for i := range old {
		old[i] = old[i].Add(-25 * time.Hour)
	}
	seed(t, store, "u2", old, func(int) int64 { return 4096 })
	res, err = newAnalyzer(store).Detect(context.Background(), "u2")
	require.NoError(t, err)
	assert.False(t, res.Suspicious)
}

func TestBotLikeCadence(t *testing.T) {
	store := db.NewMemoryStore()
	at := make([]time.Time, 10)
	for i := range at {
		jitter := time.Duration(i%2) * 300 * time.Millisecond
		at[i] = now.Add(-time.Duration(i)*3*time.Second - jitter)
	}
	seed(t, store, "bot", at, distinct)

	res, err := newAnalyzer(store).Detect(context.Background(), "bot")
	require.NoError(t, err)
	assert.Equal(t, []string{ReasonBotLike}, res.Reasons)
}

func TestBotRuleNeedsFullSample(t *testing.T) {
	store := db.NewMemoryStore()
	at := make([]time.Time, 9)
	for i := range at {
		at[i] = now.Add(-time.Duration(i) * time.Second)
	}
	seed(t, store, "few", at, distinct)

	res, err := newAnalyzer(store).Detect(context.Background(), "few")
	require.NoError(t, err)
	assert.False(t, res.Suspicious)
}

func TestSlowSteadyUploadsAreHuman(t *testing.T) {
	store := db.NewMemoryStore()
	at := make([]time.Time, 10)
	for i := range at {
		at[i] = now.Add(-time.Duration(i) * 6 * time.Second)
	}
	seed(t, store, "steady", at, distinct)

	res, err := newAnalyzer(store).Detect(context.Background(), "steady")
	require.NoError(t, err)
	assert.False(t, res.Suspicious)
}

func TestMultipleReasons(t *testing.T) {
	store := db.NewMemoryStore()
	at := make([]time.Time, 60)
	for i := range at {
		at[i] = now.Add(-time.Duration(i) * 2 * time.Second)
	}
	seed(t, store, "flood", at, func(int) int64 { return 2048 })

	res, err := newAnalyzer(store).Detect(context.Background(), "flood")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ReasonHighRate, ReasonIdenticalSizes, ReasonBotLike}, res.Reasons)
}

type brokenHistory struct{}

func (brokenHistory) UploadsSince(context.Context, string, time.Time) ([]models.UploadRecord, error) {
	return nil, errors.New("timeout")
}

func (brokenHistory) LatestUploads(context.Context, string, int) ([]models.UploadRecord, error) {
	return nil, errors.New("timeout")
}

func TestHistoryError(t *testing.T) {
	_, err := newAnalyzer(brokenHistory{}).Detect(context.Background(), "u")
	assert.Error(t, err)
}
