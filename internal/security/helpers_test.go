package security

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/session"
)

type fakeClock interface {
	clockwork.Clock
	Advance(time.Duration)
}

func newSessions(t *testing.T) (*session.Manager, fakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	m := session.NewManager(session.NewMemoryStore(clk), clk, nil, session.Options{
		Timeout: 30 * time.Minute,
		Retain:  time.Hour,
	})
	return m, clk
}

func newSession(t *testing.T, m *session.Manager) *session.Session {
	t.Helper()
	s, err := m.New()
	require.NoError(t, err)
	require.NoError(t, m.Save(context.Background(), s))
	return s
}
