package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/gateway/pkg/config"
)

type fakeAuditPurger struct {
	cutoff time.Time
	count  int64
	err    error
}

func (f *fakeAuditPurger) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.count, f.err
}

type fakeAgentPurger struct {
	olderThan time.Duration
	count     int64
	err       error
}

func (f *fakeAgentPurger) PurgeTerminated(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.count, f.err
}

func testRetentionConfig() *config.RetentionConfig {
	return &config.RetentionConfig{
		AuditLogRetentionDays: 30,
		TerminatedAgentTTL:    time.Hour,
		CleanupInterval:       time.Minute,
	}
}

func TestService_Run_PurgesBothWithConfiguredWindows(t *testing.T) {
	audit := &fakeAuditPurger{count: 5}
	agents := &fakeAgentPurger{count: 2}
	cfg := testRetentionConfig()
	svc := NewService(cfg, audit, agents, nil)

	require.NoError(t, svc.Run(context.Background()))

	assert.WithinDuration(t, time.Now().AddDate(0, 0, -cfg.AuditLogRetentionDays), audit.cutoff, time.Second)
	assert.Equal(t, cfg.TerminatedAgentTTL, agents.olderThan)
}

func TestService_Run_ToleratesPurgeErrors(t *testing.T) {
	audit := &fakeAuditPurger{err: errors.New("db down")}
	agents := &fakeAgentPurger{err: errors.New("db down")}
	svc := NewService(testRetentionConfig(), audit, agents, nil)

	assert.NoError(t, svc.Run(context.Background()), "a purge failure is logged, not fatal to the scheduler job")
}
