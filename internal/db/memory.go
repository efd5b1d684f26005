package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/imghost/abuseguard/internal/models"
)

type memCounter struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is a single-process implementation of every store used by the
// admission engine. It is meant for development and tests; all state is lost
// on restart and is not shared between replicas.
type MemoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	counters    map[string]memCounter
	attempts    map[string]memAttempt
	suspensions []models.Suspension
	flags       []models.ContentFlag
	reports     map[string]*models.AbuseReport
	uploads     []models.UploadRecord
}

type memAttempt struct {
	rec       models.FailedAttemptRecord
	expiresAt time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		counters: make(map[string]memCounter),
		attempts: make(map[string]memAttempt),
		reports:  make(map[string]*models.AbuseReport),
	}
}

// SetClock overrides the time source used for TTL expiry (for testing).
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// ===== Counters =====

// IncrementWindow implements the atomic increment-or-create under the store lock.
func (m *MemoryStore) IncrementWindow(_ context.Context, key string, maxRequests int64, ttl time.Duration) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	c, ok := m.counters[key]
	if ok && !now.Before(c.expiresAt) {
		ok = false
	}
	if !ok {
		c = memCounter{expiresAt: now.Add(ttl)}
	}
	if c.count >= maxRequests {
		return c.count, false, nil
	}
	c.count++
	m.counters[key] = c
	return c.count, true, nil
}

// PurgeCounters removes counters whose window started before the horizon,
// along with any that have passed their TTL.
func (m *MemoryStore) PurgeCounters(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var removed int64
	for k, c := range m.counters {
		start, ok := models.ParseCounterWindowStart(k)
		if (ok && start.Before(before)) || !now.Before(c.expiresAt) {
			delete(m.counters, k)
			removed++
		}
	}
	return removed, nil
}

// CounterLen returns the number of stored counters.
func (m *MemoryStore) CounterLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}

// ===== Failed attempts =====

func (m *MemoryStore) liveAttempt(key string) *models.FailedAttemptRecord {
	a, ok := m.attempts[key]
	if !ok {
		return nil
	}
	if !m.now().Before(a.expiresAt) {
		delete(m.attempts, key)
		return nil
	}
	rec := a.rec
	if rec.LockedUntil != nil {
		t := *rec.LockedUntil
		rec.LockedUntil = &t
	}
	return &rec
}

// GetAttempt returns the failed-attempt record, or nil when none exists.
func (m *MemoryStore) GetAttempt(_ context.Context, identifier, attemptType string) (*models.FailedAttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveAttempt(attemptKey(identifier, attemptType)), nil
}

// UpdateAttempt applies mutate under the store lock.
func (m *MemoryStore) UpdateAttempt(_ context.Context, identifier, attemptType string, ttl time.Duration, mutate func(*models.FailedAttemptRecord) *models.FailedAttemptRecord) (*models.FailedAttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := attemptKey(identifier, attemptType)
	cur := m.liveAttempt(key)
	next := mutate(cur)
	if next == nil {
		return cur, nil
	}
	m.attempts[key] = memAttempt{rec: *next, expiresAt: m.now().Add(ttl)}
	return next, nil
}

// DeleteAttempt removes the failed-attempt record.
func (m *MemoryStore) DeleteAttempt(_ context.Context, identifier, attemptType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, attemptKey(identifier, attemptType))
	return nil
}

// ===== Suspensions =====

// InsertSuspension stores a new suspension row.
func (m *MemoryStore) InsertSuspension(_ context.Context, s *models.Suspension) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspensions = append(m.suspensions, *s)
	return nil
}

// LatestActiveSuspension returns the most recent active row in force at now.
func (m *MemoryStore) LatestActiveSuspension(_ context.Context, userID string, now time.Time) (*models.Suspension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *models.Suspension
	for i := range m.suspensions {
		s := m.suspensions[i]
		if s.UserID != userID || !s.InForce(now) {
			continue
		}
		if latest == nil || s.SuspendedAt.After(latest.SuspendedAt) {
			latest = &s
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	return latest, nil
}

// DeactivateSuspensions marks every active row for the user inactive.
func (m *MemoryStore) DeactivateSuspensions(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for i := range m.suspensions {
		if m.suspensions[i].UserID == userID && m.suspensions[i].Active {
			m.suspensions[i].Active = false
			n++
		}
	}
	return n, nil
}

// ListSuspensions returns a user's suspension history, newest first.
func (m *MemoryStore) ListSuspensions(_ context.Context, userID string) ([]models.Suspension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Suspension
	for _, s := range m.suspensions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SuspendedAt.After(out[j].SuspendedAt) })
	return out, nil
}

// ===== Content flags =====

// InsertContentFlag stores a flag.
func (m *MemoryStore) InsertContentFlag(_ context.Context, f *models.ContentFlag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags = append(m.flags, *f)
	return nil
}

// ListContentFlags returns flags for a target, newest first.
func (m *MemoryStore) ListContentFlags(_ context.Context, targetID string, limit int) ([]models.ContentFlag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ContentFlag
	for i := len(m.flags) - 1; i >= 0 && len(out) < limit; i-- {
		if m.flags[i].TargetID == targetID {
			out = append(out, m.flags[i])
		}
	}
	return out, nil
}

// ===== Abuse reports =====

// InsertReport stores a new abuse report.
func (m *MemoryStore) InsertReport(_ context.Context, r *models.AbuseReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

// GetReport loads a report by ID.
func (m *MemoryStore) GetReport(_ context.Context, id string) (*models.AbuseReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// TransitionReport moves a report to `to` if it is currently in one of `from`.
func (m *MemoryStore) TransitionReport(_ context.Context, id string, to models.ReportStatus, from []models.ReportStatus, reviewedBy string, notes *string, at time.Time) (*models.AbuseReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reports[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if r.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, models.ErrInvalidTransition
	}
	r.Status = to
	r.ReviewedAt = &at
	r.ReviewedBy = &reviewedBy
	if notes != nil {
		r.ResolutionNotes = notes
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) listReports(match func(*models.AbuseReport) bool, limit int) []models.AbuseReport {
	var out []models.AbuseReport
	for _, r := range m.reports {
		if match(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ListReportsByTarget returns the newest reports about a target.
func (m *MemoryStore) ListReportsByTarget(_ context.Context, targetID string, limit int) ([]models.AbuseReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listReports(func(r *models.AbuseReport) bool { return r.TargetID == targetID }, limit), nil
}

// ListReportsByStatus returns the newest reports in a status.
func (m *MemoryStore) ListReportsByStatus(_ context.Context, status models.ReportStatus, limit int) ([]models.AbuseReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listReports(func(r *models.AbuseReport) bool { return r.Status == status }, limit), nil
}

// ===== Uploads =====

// InsertUpload records an accepted upload.
func (m *MemoryStore) InsertUpload(_ context.Context, u *models.UploadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, *u)
	return nil
}

func (m *MemoryStore) userUploads(userID string) []models.UploadRecord {
	var out []models.UploadRecord
	for _, u := range m.uploads {
		if u.UserID == userID {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// UploadsSince returns a user's uploads created at or after since, newest first.
func (m *MemoryStore) UploadsSince(_ context.Context, userID string, since time.Time) ([]models.UploadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.userUploads(userID)
	n := 0
	for n < len(all) && !all[n].CreatedAt.Before(since) {
		n++
	}
	return all[:n], nil
}

// LatestUploads returns a user's n most recent uploads, newest first.
func (m *MemoryStore) LatestUploads(_ context.Context, userID string, n int) ([]models.UploadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.userUploads(userID)
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }
