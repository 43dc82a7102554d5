package credential

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"harvester/internal/core/failure"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource returns queued results in order, repeating the last one.
type scriptedSource struct {
	results []result
	calls   atomic.Int32
}

type result struct {
	token string
	err   error
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Acquire(context.Context) (string, error) {
	i := int(s.calls.Add(1)) - 1
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	r := s.results[i]
	return r.token, r.err
}

func TestCurrentToken_BeforeAndAfterRefresh(t *testing.T) {
	m := NewManager(&scriptedSource{results: []result{{token: "abc"}}}, 0)

	tok, ok := m.CurrentToken()
	assert.False(t, ok)
	assert.Empty(t, tok)

	_, err := m.Token()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoToken)
	assert.True(t, failure.Is(err, failure.CredentialAcquisition))

	require.NoError(t, m.Refresh(context.Background()))
	tok, ok = m.CurrentToken()
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)
}

func TestRefresh_FailureKeepsPreviousToken(t *testing.T) {
	boom := errors.New("capture failed")
	src := &scriptedSource{results: []result{{token: "first"}, {err: boom}, {err: boom}, {err: boom}}}
	m := NewManager(src, 0)

	require.NoError(t, m.Refresh(context.Background()))
	for i := 0; i < 3; i++ {
		err := m.Refresh(context.Background())
		require.Error(t, err)
		assert.True(t, failure.Is(err, failure.CredentialAcquisition))

		tok, ok := m.CurrentToken()
		assert.True(t, ok)
		assert.Equal(t, "first", tok)
	}

	snap := m.Snapshot()
	assert.Equal(t, 1, snap.RefreshCount)
	assert.Equal(t, 3, snap.FailureCount)

	h := m.Health()
	assert.True(t, h.HasToken)
	assert.InDelta(t, 0.75, h.FailureRate, 0.0001)
	assert.False(t, h.Healthy)
	assert.Equal(t, "capture failed", m.Stats().LastError)
}

func TestRefresh_EmptyTokenIsAFailure(t *testing.T) {
	m := NewManager(&scriptedSource{results: []result{{token: ""}}}, 0)

	require.Error(t, m.Refresh(context.Background()))
	_, ok := m.CurrentToken()
	assert.False(t, ok)
	assert.Equal(t, 1, m.Snapshot().FailureCount)
}

type blockingSource struct {
	release chan struct{}
	entered chan struct{}
}

func (b *blockingSource) Name() string { return "blocking" }

func (b *blockingSource) Acquire(ctx context.Context) (string, error) {
	close(b.entered)
	<-b.release
	return "late", nil
}

func TestCurrentToken_DoesNotBlockOnRefreshInFlight(t *testing.T) {
	src := &blockingSource{release: make(chan struct{}), entered: make(chan struct{})}
	m := NewManager(src, 0)

	done := make(chan error, 1)
	go func() { done <- m.Refresh(context.Background()) }()
	<-src.entered

	_, ok := m.CurrentToken()
	assert.False(t, ok)
	assert.ErrorIs(t, m.Refresh(context.Background()), ErrRefreshInFlight)

	close(src.release)
	require.NoError(t, <-done)
	tok, _ := m.CurrentToken()
	assert.Equal(t, "late", tok)
}

func TestStart_ScheduleValidation(t *testing.T) {
	m := NewManager(NewStaticSource("tok"), 0)
	ctx := context.Background()

	assert.Error(t, m.Start(ctx, Schedule{}))
	assert.Error(t, m.Start(ctx, Schedule{Interval: time.Minute, Cron: "* * * * *"}))
	assert.Error(t, m.Start(ctx, Schedule{Cron: "not a cron"}))
	assert.False(t, m.SchedulerRunning())
}

func TestStart_RefreshesImmediatelyAndStops(t *testing.T) {
	m := NewManager(NewStaticSource("tok"), 0)

	require.NoError(t, m.Start(context.Background(), Schedule{Interval: time.Hour}))
	assert.Eventually(t, func() bool {
		_, ok := m.CurrentToken()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	h := m.Health()
	assert.True(t, h.Healthy)
	assert.True(t, h.SchedulerRunning)
	assert.Equal(t, "every 1h0m0s", m.Stats().Schedule)

	// Switching modes replaces the active schedule.
	require.NoError(t, m.Start(context.Background(), Schedule{Cron: "*/5 * * * *"}))
	assert.Equal(t, "cron */5 * * * *", m.Stats().Schedule)

	m.Stop()
	assert.False(t, m.SchedulerRunning())
	m.Stop()

	_, ok := m.CurrentToken()
	assert.True(t, ok)
}

func TestFallbackSource(t *testing.T) {
	failing := &scriptedSource{results: []result{{err: errors.New("browser down")}}}
	f := NewFallbackSource(failing, NewStaticSource("backup"))

	tok, err := f.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "backup", tok)
	assert.Equal(t, "scripted>static", f.Name())

	f = NewFallbackSource(failing, NewStaticSource(""))
	_, err = f.Acquire(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser down")
	assert.Contains(t, err.Error(), "static token not configured")
}
