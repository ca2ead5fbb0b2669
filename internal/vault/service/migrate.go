package service

import (
	"context"
	"errors"
	"time"

	"trustkit/internal/vault/models"
	audit "trustkit/pkg/platform/audit"
	"trustkit/pkg/platform/sentinel"
	"trustkit/pkg/requestcontext"
)

// MigrateFunc maps an existing key to its new name. Returning false, or the
// same key, leaves the item where it is.
type MigrateFunc func(key string) (string, bool)

var errRenameCycle = errors.New("rename cycle")

type move struct {
	from, to string
}

// Migrate renames items according to transform. The whole key set is planned
// first and moves run in an order that vacates a key before it is written, so
// chains such as k.v1→k.v2, k.v2→k.v3 keep every value. A move whose target
// is still occupied when it runs, or that is part of a rename cycle, is
// recorded as a failure and leaves both items untouched. Each key moves under
// the locks of its old and new name: the new item is written before the old
// one is deleted, so at every point at least one of them is readable.
func (s *Service) Migrate(ctx context.Context, transform MigrateFunc) (result models.MigrationResult, err error) {
	ctx, span := s.startSpan(ctx, "vault.Migrate", "*")
	start := time.Now()
	defer func() { s.endSpan(span, "migrate", start, err) }()

	if transform == nil {
		return result, errors.New("migrate: transform is required")
	}
	keys, err := s.allKeys(ctx)
	if err != nil {
		return result, err
	}

	var pending []move
	for _, oldKey := range keys {
		newKey, ok := transform(oldKey)
		if !ok || newKey == "" || newKey == oldKey {
			result.Skipped++
			continue
		}
		pending = append(pending, move{from: oldKey, to: newKey})
	}

	for len(pending) > 0 {
		sources := make(map[string]struct{}, len(pending))
		for _, m := range pending {
			sources[m.from] = struct{}{}
		}
		var deferred []move
		for _, m := range pending {
			if _, busy := sources[m.to]; busy {
				deferred = append(deferred, m)
				continue
			}
			delete(sources, m.from)
			s.runMove(ctx, m, &result)
		}
		if len(deferred) == len(pending) {
			for _, m := range deferred {
				s.recordMigrationFailure(ctx, &result, m,
					&models.StorageError{Op: "migrate", Key: m.to, Kind: models.KindKeyConflict, Err: errRenameCycle})
			}
			break
		}
		pending = deferred
	}
	return result, nil
}

func (s *Service) runMove(ctx context.Context, m move, result *models.MigrationResult) {
	if err := s.migrateKey(ctx, m.from, m.to); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Removed concurrently since the key listing.
			result.Skipped++
			return
		}
		s.recordMigrationFailure(ctx, result, m, err)
		return
	}
	result.Migrated = append(result.Migrated, m.to)
}

func (s *Service) recordMigrationFailure(ctx context.Context, result *models.MigrationResult, m move, err error) {
	result.Failures = append(result.Failures, models.MigrationFailure{From: m.from, To: m.to, Err: err})
	if s.metrics != nil {
		s.metrics.IncMigrationFailed()
	}
	s.logger.WarnContext(ctx, "vault key migration failed", "from", m.from, "to", m.to, "error", err)
}

func (s *Service) migrateKey(ctx context.Context, oldKey, newKey string) error {
	unlock := s.locks.lockPair(oldKey, newKey)
	defer unlock()

	item, err := s.lookup(ctx, oldKey)
	if err != nil {
		return err
	}
	existing, err := s.lookup(ctx, newKey)
	switch {
	case err == nil && !existing.IsExpiredAt(requestcontext.Now(ctx)):
		return &models.StorageError{Op: "migrate", Key: newKey, Kind: models.KindKeyConflict}
	case err != nil && !errors.Is(err, sentinel.ErrNotFound):
		return &models.StorageError{Op: "migrate", Key: newKey, Kind: models.KindReadFailed, Err: err}
	}

	target, other := s.durable, s.volatile
	if !item.Persistent {
		target, other = s.volatile, s.durable
	}

	item.Key = newKey
	item.Version++
	item.UpdatedAt = requestcontext.Now(ctx)
	if err := target.Put(ctx, s.scope, item); err != nil {
		s.emit(ctx, audit.OperationWrite, newKey, audit.OutcomeFailure, "migration write failed")
		return &models.StorageError{Op: "migrate", Key: newKey, Kind: models.KindWriteFailed, Err: err}
	}
	if err := other.Delete(ctx, s.scope, newKey); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.WarnContext(ctx, "failed to remove superseded copy", "key", newKey, "error", err)
	}
	if err := target.Delete(ctx, s.scope, oldKey); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		// Both names are readable; the old one is left for the next run.
		return &models.StorageError{Op: "migrate", Key: oldKey, Kind: models.KindWriteFailed, Err: err}
	}
	s.emit(ctx, audit.OperationWrite, newKey, audit.OutcomeSuccess, "migrated from "+s.subject(oldKey))
	return nil
}
