package analytics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imghost/abuseguard/internal/models"
)

func TestUnconfiguredAnalytics(t *testing.T) {
	var a *Analytics
	err := a.RecordEvent(context.Background(), models.AdmissionEvent{EventType: models.EventRateLimited})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = (&Analytics{}).GetEventsByIdentity(context.Background(), "ip:1.2.3.4", "", 10)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, a.Ping(context.Background()), ErrUnavailable)

	a.Close()
}

func TestMockAnalytics(t *testing.T) {
	m := NewMockAnalytics()
	require.NoError(t, m.RecordEvent(context.Background(), models.AdmissionEvent{EventType: models.EventLockedOut, Identity: "bob"}))
	require.NoError(t, m.RecordEvent(context.Background(), models.AdmissionEvent{EventType: models.EventSuspended}))

	assert.Equal(t, []string{models.EventLockedOut, models.EventSuspended}, m.EventTypes())
	assert.Equal(t, "bob", m.Events()[0].Identity)

	m.Err = errors.New("boom")
	assert.Error(t, m.RecordEvent(context.Background(), models.AdmissionEvent{}))
	assert.Len(t, m.Events(), 2)
}
