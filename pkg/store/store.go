// Package store implements the pgx-backed repository layer that persists
// agent worker state, cluster node membership, and audit log entries. It
// replaces the teacher's ent-generated client with hand-written SQL against
// the tables created by pkg/database's migrations, while keeping the
// teacher's service-layer idiom: context timeouts, sentinel errors from
// pkg/apierrors, and %w-wrapped driver errors.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agentkernel/gateway/pkg/apierrors"
)

// defaultQueryTimeout bounds any single repository call that isn't given a
// context deadline by its caller, mirroring the teacher's service layer
// (pkg/services/chat_service.go's 5-second context.WithTimeout pattern).
const defaultQueryTimeout = 5 * time.Second

// withTimeout returns ctx unchanged if it already carries a deadline,
// otherwise bounds it to defaultQueryTimeout.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// wrapNotFound maps sql.ErrNoRows onto apierrors.ErrNotFound; any other
// error is wrapped with the supplied context message.
func wrapNotFound(err error, msgAndArgs string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apierrors.ErrNotFound
	}
	return fmt.Errorf("%s: %w", msgAndArgs, err)
}
