package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"harvester/internal/core/failure"
	"harvester/internal/logger"

	"github.com/robfig/cron/v3"
)

// ErrNoToken is returned to dependent work when no token was ever acquired.
var ErrNoToken = errors.New("no token acquired yet")

// ErrRefreshInFlight is returned by Refresh when another refresh is running.
var ErrRefreshInFlight = errors.New("refresh already in flight")

// Source acquires a fresh token in a single attempt.
type Source interface {
	Name() string
	Acquire(ctx context.Context) (string, error)
}

// Credential is the manager's view of the current token.
type Credential struct {
	Token        string
	AcquiredAt   time.Time
	RefreshCount int
	FailureCount int
}

// Health is the summary exposed to monitoring.
type Health struct {
	Healthy              bool          `json:"healthy"`
	HasToken             bool          `json:"hasToken"`
	TimeSinceLastRefresh time.Duration `json:"timeSinceLastRefresh"`
	FailureRate          float64       `json:"failureRate"`
	SchedulerRunning     bool          `json:"schedulerRunning"`
}

// Stats adds counters and the active schedule to Health.
type Stats struct {
	Source           string    `json:"source"`
	RefreshCount     int       `json:"refreshCount"`
	FailureCount     int       `json:"failureCount"`
	AcquiredAt       time.Time `json:"acquiredAt,omitempty"`
	LastAttemptAt    time.Time `json:"lastAttemptAt,omitempty"`
	LastError        string    `json:"lastError,omitempty"`
	Schedule         string    `json:"schedule,omitempty"`
	SchedulerRunning bool      `json:"schedulerRunning"`
}

// Schedule selects exactly one refresh mode.
type Schedule struct {
	Interval time.Duration
	Cron     string
}

func (s Schedule) validate() error {
	switch {
	case s.Interval > 0 && s.Cron != "":
		return fmt.Errorf("interval and cron schedules are mutually exclusive")
	case s.Interval <= 0 && s.Cron == "":
		return fmt.Errorf("either an interval or a cron expression is required")
	}
	return nil
}

func (s Schedule) String() string {
	if s.Cron != "" {
		return "cron " + s.Cron
	}
	return "every " + s.Interval.String()
}

// Manager owns the single current token. Only its own refresh mutates it;
// everyone else reads through CurrentToken.
type Manager struct {
	source  Source
	log     *logger.Logger
	timeout time.Duration
	now     func() time.Time

	mu            sync.RWMutex
	cred          Credential
	lastAttemptAt time.Time
	lastError     string

	refreshMu sync.Mutex

	schedMu   sync.Mutex
	cron      *cron.Cron
	schedule  Schedule
	cancelRun context.CancelFunc
}

// NewManager creates a manager around source. timeout bounds each refresh; zero means no bound.
func NewManager(source Source, timeout time.Duration) *Manager {
	return &Manager{
		source:  source,
		log:     logger.New("CredentialManager"),
		timeout: timeout,
		now:     time.Now,
	}
}

// Refresh performs one acquisition attempt. On failure the previous token is kept.
func (m *Manager) Refresh(ctx context.Context) error {
	if !m.refreshMu.TryLock() {
		return ErrRefreshInFlight
	}
	defer m.refreshMu.Unlock()

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	started := m.now()
	token, err := m.source.Acquire(ctx)
	if err == nil && token == "" {
		err = errors.New("source returned an empty token")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttemptAt = started
	if err != nil {
		m.cred.FailureCount++
		m.lastError = err.Error()
		m.log.Warn().Err(err).Str("source", m.source.Name()).Int("failures", m.cred.FailureCount).
			Bool("has_token", m.cred.Token != "").Msg("token refresh failed")
		return failure.New(failure.CredentialAcquisition, "refresh", err)
	}
	m.cred.Token = token
	m.cred.AcquiredAt = m.now()
	m.cred.RefreshCount++
	m.lastError = ""
	m.log.Info().Str("source", m.source.Name()).Int("refreshes", m.cred.RefreshCount).
		Dur("took", m.now().Sub(started)).Msg("token refreshed")
	return nil
}

// CurrentToken never blocks on a refresh in flight. ok is false until the first success.
func (m *Manager) CurrentToken() (token string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred.Token, m.cred.Token != ""
}

// Token is CurrentToken with ErrNoToken for the never-acquired case.
func (m *Manager) Token() (string, error) {
	if t, ok := m.CurrentToken(); ok {
		return t, nil
	}
	return "", failure.New(failure.CredentialAcquisition, "token", ErrNoToken)
}

// Snapshot returns a copy of the current credential.
func (m *Manager) Snapshot() Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred
}

func (m *Manager) Health() Health {
	m.mu.RLock()
	cred := m.cred
	m.mu.RUnlock()

	h := Health{
		HasToken:         cred.Token != "",
		SchedulerRunning: m.SchedulerRunning(),
	}
	if attempts := cred.RefreshCount + cred.FailureCount; attempts > 0 {
		h.FailureRate = float64(cred.FailureCount) / float64(attempts)
	}
	if !cred.AcquiredAt.IsZero() {
		h.TimeSinceLastRefresh = m.now().Sub(cred.AcquiredAt)
	}
	h.Healthy = h.HasToken && h.FailureRate < 0.5
	return h
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{
		Source:        m.source.Name(),
		RefreshCount:  m.cred.RefreshCount,
		FailureCount:  m.cred.FailureCount,
		AcquiredAt:    m.cred.AcquiredAt,
		LastAttemptAt: m.lastAttemptAt,
		LastError:     m.lastError,
	}
	m.schedMu.Lock()
	if m.cron != nil {
		s.Schedule = m.schedule.String()
		s.SchedulerRunning = true
	}
	m.schedMu.Unlock()
	return s
}

// Start activates the schedule and runs one refresh immediately in the background.
// Starting while a schedule is active replaces it, so only one mode is ever live.
func (m *Manager) Start(ctx context.Context, sched Schedule) error {
	if err := sched.validate(); err != nil {
		return err
	}
	var spec cron.Schedule
	if sched.Cron != "" {
		parsed, err := cron.ParseStandard(sched.Cron)
		if err != nil {
			return fmt.Errorf("parse cron %q: %w", sched.Cron, err)
		}
		spec = parsed
	} else {
		spec = cron.Every(sched.Interval)
	}

	m.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	c.Schedule(spec, cron.FuncJob(func() { m.scheduledRefresh(runCtx) }))
	c.Start()

	m.schedMu.Lock()
	m.cron = c
	m.schedule = sched
	m.cancelRun = cancel
	m.schedMu.Unlock()

	m.log.LogInfof("refresh scheduler started (%s, source=%s)", sched, m.source.Name())
	go m.scheduledRefresh(runCtx)
	return nil
}

// Stop halts the scheduler. Safe to call when not running.
func (m *Manager) Stop() {
	m.schedMu.Lock()
	c, cancel := m.cron, m.cancelRun
	m.cron, m.cancelRun = nil, nil
	m.schedMu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	m.log.LogInfo("refresh scheduler stopped")
}

func (m *Manager) SchedulerRunning() bool {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	return m.cron != nil
}

func (m *Manager) scheduledRefresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := m.Refresh(ctx); err != nil && !errors.Is(err, ErrRefreshInFlight) {
		m.log.LogDebugf("scheduled refresh: %v", err)
	}
}
