// Package backup writes forensic copies of anonymous wizard payloads before
// migration mutates anything. Backup failure is logged by callers, never
// fatal: the sink is best-effort by contract.
package backup

import (
	"context"

	"github.com/adforge/adforge/internal/model"
)

// Sink stores a pre-migration snapshot of an anonymous record.
type Sink interface {
	Backup(ctx context.Context, userID string, rec *model.AnonymousUsage) error
}

// Noop is a Sink that discards snapshots. Used when no bucket is configured
// and in tests.
type Noop struct{}

func (Noop) Backup(context.Context, string, *model.AnonymousUsage) error { return nil }

var _ Sink = Noop{}
