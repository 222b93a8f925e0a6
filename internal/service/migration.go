package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/adforge/adforge/internal/backup"
	"github.com/adforge/adforge/internal/events"
	"github.com/adforge/adforge/internal/lock"
	"github.com/adforge/adforge/internal/logger"
	"github.com/adforge/adforge/internal/model"
	"github.com/adforge/adforge/internal/store"
	"github.com/adforge/adforge/internal/wizard"
)

// MigrationState names the phases of a migration attempt, mostly for logs.
type MigrationState string

const (
	MigrationIdle        MigrationState = "idle"
	MigrationLocking     MigrationState = "lock_acquisition"
	MigrationFetching    MigrationState = "fetching"
	MigrationMerging     MigrationState = "merging"
	MigrationCommitting  MigrationState = "committing"
	MigrationCleaningUp  MigrationState = "cleanup"
	MigrationDone        MigrationState = "done"
	MigrationContention  MigrationState = "contention"
	MigrationNothingToDo MigrationState = "nothing_to_migrate"
)

// MigrationResult reports the outcome of a migration entry-point call.
type MigrationResult struct {
	// State is the terminal phase the attempt reached.
	State MigrationState
	// Migrated is true when this call performed the merge.
	Migrated bool
	// ClearSession tells the client to drop its stored session id so no
	// retry re-triggers migration.
	ClearSession bool
	// Record is the user's progress record after the call, when known.
	Record *model.WizardProgress
}

// migrationStore is the subset of the database store the coordinator needs.
type migrationStore interface {
	GetAnonymousUsage(ctx context.Context, sessionID string) (*model.AnonymousUsage, error)
	GetWizardProgress(ctx context.Context, userID string) (*model.WizardProgress, error)
	MigrateWizardProgress(ctx context.Context, userID, sessionID string, calculatedStep int) (*model.WizardProgress, error)
}

// MigrationCoordinator merges the data accumulated under an anonymous
// session into the progress record of a user who just authenticated while
// that session id was still in the client's local storage. The merge runs
// at most once per (user, session) pair: a per-user lock row makes it
// single-owner across tabs and processes, and closing the anonymous record
// makes the operation self-disabling after success.
type MigrationCoordinator struct {
	store       migrationStore
	locks       lock.Manager
	sink        backup.Sink
	broker      *events.Broker
	log         *logger.Logger
	lockTTL     time.Duration
	maxAttempts int
	backoffBase time.Duration
}

// NewMigrationCoordinator creates a coordinator.
func NewMigrationCoordinator(s migrationStore, locks lock.Manager, sink backup.Sink, broker *events.Broker, log *logger.Logger, lockTTL time.Duration, maxAttempts int, backoffBase time.Duration) *MigrationCoordinator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if sink == nil {
		sink = backup.Noop{}
	}
	return &MigrationCoordinator{
		store:       s,
		locks:       locks,
		sink:        sink,
		broker:      broker,
		log:         log,
		lockTTL:     lockTTL,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
	}
}

// Migrate is the migration entry point. Lock contention is not an error:
// the attempt that holds the lock owns completion, everyone else yields.
// Step errors are retried with backoff; after exhaustion the caller gets a
// MigrationError and the anonymous record is left untouched for a future
// attempt.
func (c *MigrationCoordinator) Migrate(ctx context.Context, sc wizard.SessionContext) (*MigrationResult, error) {
	if !sc.MigrationCandidate() {
		return &MigrationResult{State: MigrationNothingToDo}, nil
	}

	log := c.log.With("user_id", sc.UserID, "session_id", sc.SessionID)

	// Skip when migration has effectively already happened: the user's
	// record already carries this session's token.
	existing, err := c.store.GetWizardProgress(ctx, sc.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.MigrationToken != nil && *existing.MigrationToken == sc.SessionID {
		log.Debug("migration already recorded, skipping")
		return &MigrationResult{State: MigrationNothingToDo, ClearSession: true, Record: existing}, nil
	}

	handle, err := c.locks.Acquire(ctx, sc.UserID, model.LockTypeMigration, c.lockTTL)
	if err != nil {
		return nil, err
	}
	if handle == nil {
		// Another tab or process is already migrating this user
		log.Debug("migration lock contention, yielding")
		return &MigrationResult{State: MigrationContention}, nil
	}
	defer func() {
		if releaseErr := c.locks.Release(context.WithoutCancel(ctx), handle); releaseErr != nil {
			log.Warn("failed to release migration lock", "error", releaseErr)
		}
	}()

	var result *MigrationResult
	attempts := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	operation := func() error {
		attempts++
		r, attemptErr := c.attempt(ctx, sc, log)
		if attemptErr != nil {
			log.Warn("migration attempt failed", "attempt", attempts, "error", attemptErr)
			return attemptErr
		}
		result = r
		return nil
	}

	err = backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxAttempts-1)), ctx))
	if err != nil {
		log.Error("migration retries exhausted", "attempts", attempts, "error", err)
		return nil, &MigrationError{UserID: sc.UserID, SessionID: sc.SessionID, Attempts: attempts, Err: err}
	}

	if result.Migrated && c.broker != nil {
		if pubErr := c.broker.PublishProgressMigrated(ctx, sc.Subject(), sc.SessionID, result.Record.CurrentStep); pubErr != nil {
			log.Warn("failed to publish migration event", "error", pubErr)
		}
	}
	return result, nil
}

// attempt runs the fetch, backup, merge and commit phases once, with the
// lock already held.
func (c *MigrationCoordinator) attempt(ctx context.Context, sc wizard.SessionContext, log *logger.Logger) (*MigrationResult, error) {
	anon, err := c.store.GetAnonymousUsage(ctx, sc.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		// Nothing ever saved under this session
		return &MigrationResult{State: MigrationNothingToDo, ClearSession: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if anon.Used || anon.Data().IsEmpty() {
		log.Debug("anonymous record empty or already consumed")
		rec, recErr := c.store.GetWizardProgress(ctx, sc.UserID)
		if recErr != nil && !errors.Is(recErr, store.ErrNotFound) {
			return nil, recErr
		}
		return &MigrationResult{State: MigrationNothingToDo, ClearSession: true, Record: rec}, nil
	}

	// Backup is best-effort: a failed merge stays forensically recoverable,
	// but a failed backup never blocks the migration.
	if backupErr := c.sink.Backup(ctx, sc.UserID, anon); backupErr != nil {
		log.Warn("migration backup failed", "error", backupErr)
	}

	anonData := anon.Data()
	calculatedStep := wizard.DerivedStep(anonData)
	if anon.LastCompletedStep > calculatedStep {
		calculatedStep = anon.LastCompletedStep
	}

	rec, err := c.store.MigrateWizardProgress(ctx, sc.UserID, sc.SessionID, calculatedStep)
	if err != nil {
		return nil, err
	}

	log.Info("migrated anonymous progress", "step", rec.CurrentStep, "version", rec.Version)
	return &MigrationResult{
		State:        MigrationDone,
		Migrated:     true,
		ClearSession: true,
		Record:       rec,
	}, nil
}
