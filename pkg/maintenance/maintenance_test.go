package maintenance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell/vellum/internal/config"
)

type fakeCompactor struct {
	mu      sync.Mutex
	calls   int
	lastAge time.Duration
}

func (f *fakeCompactor) Compact(ctx context.Context, maxAge time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastAge = maxAge
	return 3, nil
}

type fakeDrift struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeDrift) NotifyContextChanged(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func TestNewRegistersConfiguredJobs(t *testing.T) {
	s, err := New(Config{
		Maintenance: config.MaintenanceConfig{
			CompactSchedule: "0 3 * * *",
			RetentionDays:   7,
			DriftSchedule:   "*/5 * * * *",
		},
		History: &fakeCompactor{},
		Drift:   &fakeDrift{},
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.JobCount())
}

func TestNewSkipsJobsWithoutDependency(t *testing.T) {
	s, err := New(Config{
		Maintenance: config.MaintenanceConfig{
			CompactSchedule: "0 3 * * *",
			DriftSchedule:   "*/5 * * * *",
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, s.JobCount())
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	_, err := New(Config{
		Maintenance: config.MaintenanceConfig{
			CompactSchedule: "not a cron spec",
		},
		History: &fakeCompactor{},
		Logger:  zerolog.Nop(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid compact schedule")
}

func TestCompactHistoryUsesRetention(t *testing.T) {
	compactor := &fakeCompactor{}
	s, err := New(Config{
		Maintenance: config.MaintenanceConfig{
			CompactSchedule: "0 3 * * *",
			RetentionDays:   7,
		},
		History: compactor,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	s.compactHistory()

	compactor.mu.Lock()
	defer compactor.mu.Unlock()
	assert.Equal(t, 1, compactor.calls)
	assert.Equal(t, 7*24*time.Hour, compactor.lastAge)
}

func TestCheckDriftInvokesNotifier(t *testing.T) {
	drift := &fakeDrift{}
	s, err := New(Config{
		Maintenance: config.MaintenanceConfig{
			DriftSchedule: "*/5 * * * *",
		},
		Drift:  drift,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	s.checkDrift()

	drift.mu.Lock()
	defer drift.mu.Unlock()
	assert.Equal(t, 1, drift.calls)
}

func TestStartStop(t *testing.T) {
	s, err := New(Config{
		Maintenance: config.MaintenanceConfig{
			DriftSchedule: "*/5 * * * *",
		},
		Drift:  &fakeDrift{},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	s.Start()
	s.Stop()
}
