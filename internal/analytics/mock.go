package analytics

import (
	"context"
	"sync"

	"github.com/imghost/abuseguard/internal/models"
)

var (
	_ EventSink = (*Analytics)(nil)
	_ EventSink = (*MockAnalytics)(nil)
)

// MockAnalytics is an in-memory EventSink for testing and for running
// without ClickHouse.
type MockAnalytics struct {
	mu     sync.Mutex
	events []models.AdmissionEvent
	Err    error
}

// NewMockAnalytics creates a new mock analytics instance
func NewMockAnalytics() *MockAnalytics {
	return &MockAnalytics{}
}

// RecordEvent stores ev, or returns Err when set.
func (m *MockAnalytics) RecordEvent(_ context.Context, ev models.AdmissionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (m *MockAnalytics) Events() []models.AdmissionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AdmissionEvent(nil), m.events...)
}

// EventTypes returns the recorded event types in order.
func (m *MockAnalytics) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.EventType
	}
	return out
}
