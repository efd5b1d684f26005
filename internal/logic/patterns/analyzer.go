// Package patterns looks for anomalous upload behaviour in a user's recent
// upload history. Its output is advisory.
package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/imghost/abuseguard/internal/models"
)

// Reasons reported by Detect.
const (
	ReasonHighRate       = "high upload rate"
	ReasonIdenticalSizes = "identical file sizes"
	ReasonBotLike        = "bot-like upload pattern"
)

// UploadHistory returns a user's uploads, newest first.
type UploadHistory interface {
	UploadsSince(ctx context.Context, userID string, since time.Time) ([]models.UploadRecord, error)
	LatestUploads(ctx context.Context, userID string, n int) ([]models.UploadRecord, error)
}

// Thresholds tune the heuristics.
type Thresholds struct {
	RateWindow     time.Duration
	MaxUploads     int
	SizeWindow     time.Duration
	MaxSameSize    int
	BotSample      int
	BotJitter      time.Duration
	BotMaxInterval time.Duration
}

// DefaultThresholds returns the standard heuristics: more than 50 uploads an
// hour, more than 10 same-sized files a day, and 10 evenly spaced uploads
// less than 5s apart.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RateWindow:     time.Hour,
		MaxUploads:     50,
		SizeWindow:     24 * time.Hour,
		MaxSameSize:    10,
		BotSample:      10,
		BotJitter:      time.Second,
		BotMaxInterval: 5 * time.Second,
	}
}

// Result lists the heuristics that fired.
type Result struct {
	Suspicious bool     `json:"suspicious"`
	Reasons    []string `json:"reasons,omitempty"`
}

// Analyzer evaluates upload heuristics.
type Analyzer struct {
	history UploadHistory
	th      Thresholds
	now     func() time.Time
}

// NewAnalyzer creates an analyzer over history.
func NewAnalyzer(history UploadHistory, th Thresholds) *Analyzer {
	return &Analyzer{history: history, th: th, now: time.Now}
}

// SetClock overrides the time source (for testing).
func (a *Analyzer) SetClock(now func() time.Time) {
	a.now = now
}

// Detect runs every heuristic for userID.
func (a *Analyzer) Detect(ctx context.Context, userID string) (Result, error) {
	now := a.now()
	var res Result

	day, err := a.history.UploadsSince(ctx, userID, now.Add(-a.th.SizeWindow))
	if err != nil {
		return res, fmt.Errorf("load upload history: %w", err)
	}

	rateFrom := now.Add(-a.th.RateWindow)
	recent := 0
	sizes := make(map[int64]int)
	sameSize := false
	for _, u := range day {
		if !u.CreatedAt.Before(rateFrom) {
			recent++
		}
		sizes[u.SizeBytes]++
		if sizes[u.SizeBytes] > a.th.MaxSameSize {
			sameSize = true
		}
	}
	if recent > a.th.MaxUploads {
		res.Reasons = append(res.Reasons, ReasonHighRate)
	}
	if sameSize {
		res.Reasons = append(res.Reasons, ReasonIdenticalSizes)
	}

	latest, err := a.history.LatestUploads(ctx, userID, a.th.BotSample)
	if err != nil {
		return res, fmt.Errorf("load latest uploads: %w", err)
	}
	if a.botLike(latest) {
		res.Reasons = append(res.Reasons, ReasonBotLike)
	}

	res.Suspicious = len(res.Reasons) > 0
	return res, nil
}

// botLike reports whether uploads, newest first, arrive at a steady machine
// cadence. A full sample is required.
func (a *Analyzer) botLike(uploads []models.UploadRecord) bool {
	if len(uploads) < a.th.BotSample || len(uploads) < 2 {
		return false
	}
	intervals := make([]time.Duration, 0, len(uploads)-1)
	var total time.Duration
	for i := 0; i+1 < len(uploads); i++ {
		d := uploads[i].CreatedAt.Sub(uploads[i+1].CreatedAt)
		if d < 0 {
			d = -d
		}
		intervals = append(intervals, d)
		total += d
	}
	mean := total / time.Duration(len(intervals))
	if mean >= a.th.BotMaxInterval {
		return false
	}
	for _, d := range intervals {
		diff := d - mean
		if diff < 0 {
			diff = -diff
		}
		if diff > a.th.BotJitter {
			return false
		}
	}
	return true
}
