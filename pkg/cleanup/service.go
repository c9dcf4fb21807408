// Package cleanup enforces pkg/config.RetentionConfig: expired audit log
// rows and long-terminated agent records are purged on a schedule. Adapted
// from the teacher's session/event retention sweep — same idempotent,
// safe-from-multiple-nodes shape, now registered as a pkg/scheduler (C10)
// singleton job instead of running its own standalone ticker loop.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentkernel/gateway/pkg/config"
)

// AuditPurger removes audit_log rows older than cutoff.
type AuditPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AgentPurger removes agent rows soft-deleted more than olderThan ago.
type AgentPurger interface {
	PurgeTerminated(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Service enforces retention policies:
//   - Deletes audit log entries past RetentionConfig.AuditLogRetentionDays
//   - Permanently removes terminated agent records past TerminatedAgentTTL
//
// Both operations are idempotent and safe to run concurrently from
// multiple nodes, though pkg/scheduler's Singleton option keeps only one
// node actually running it per tick.
type Service struct {
	config *config.RetentionConfig
	audit  AuditPurger
	agents AgentPurger
	logger *slog.Logger
}

// NewService creates a retention service backed by audit and agents.
func NewService(cfg *config.RetentionConfig, audit AuditPurger, agents AgentPurger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{config: cfg, audit: audit, agents: agents, logger: logger.With("component", "cleanup")}
}

// Run performs one retention pass. It is the pkg/scheduler.Handler
// registered for the "retention-sweep" job.
func (s *Service) Run(ctx context.Context) error {
	s.purgeAuditLog(ctx)
	s.purgeTerminatedAgents(ctx)
	return nil
}

func (s *Service) purgeAuditLog(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.AuditLogRetentionDays)
	count, err := s.audit.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("audit log purge failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("purged expired audit log entries", "count", count)
	}
}

func (s *Service) purgeTerminatedAgents(ctx context.Context) {
	count, err := s.agents.PurgeTerminated(ctx, s.config.TerminatedAgentTTL)
	if err != nil {
		s.logger.Error("terminated agent purge failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("purged terminated agent records", "count", count)
	}
}
