package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustkit/internal/encryption"
	"trustkit/internal/vault/metrics"
	"trustkit/internal/vault/models"
	"trustkit/internal/vault/ports"
	"trustkit/internal/vault/store/memory"
	dErrors "trustkit/pkg/domain-errors"
	audit "trustkit/pkg/platform/audit"
	"trustkit/pkg/platform/sentinel"
	"trustkit/pkg/requestcontext"
)

// Service is the secure credential vault. It layers access control, expiry
// and auditing on top of a SecureStore. Memory-only items live in a separate
// volatile store that never touches disk.
type Service struct {
	durable       ports.SecureStore
	volatile      ports.SecureStore
	scope         string
	gate          ports.Gate
	auditor       audit.Recorder
	fingerprinter ports.Fingerprinter
	supported     map[models.AccessControl]bool
	locks         *keyLocks
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
}

type Option func(*Service)

// WithScope sets the sharing scope. Vaults with the same scope over the same
// store see the same items.
func WithScope(scope string) Option {
	return func(s *Service) {
		s.scope = scope
	}
}

func WithGate(gate ports.Gate) Option {
	return func(s *Service) {
		s.gate = gate
	}
}

func WithAudit(recorder audit.Recorder) Option {
	return func(s *Service) {
		s.auditor = recorder
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithVolatileStore replaces the in-process store used for memory-only items.
func WithVolatileStore(store ports.SecureStore) Option {
	return func(s *Service) {
		s.volatile = store
	}
}

// WithFingerprinter sets the keyed digest used by FindDuplicateValues.
func WithFingerprinter(f ports.Fingerprinter) Option {
	return func(s *Service) {
		s.fingerprinter = f
	}
}

// WithSupportedAccessControls limits the tiers this build can honour; storing
// with any other tier fails with an access_control_unsupported StorageError.
func WithSupportedAccessControls(tiers ...models.AccessControl) Option {
	return func(s *Service) {
		s.supported = make(map[models.AccessControl]bool, len(tiers))
		for _, t := range tiers {
			s.supported[t] = true
		}
	}
}

func New(durable ports.SecureStore, opts ...Option) (*Service, error) {
	if durable == nil {
		return nil, errors.New("secure store is required")
	}
	s := &Service{
		durable:  durable,
		volatile: memory.New(),
		locks:    newKeyLocks(),
		logger:   slog.New(slog.DiscardHandler),
		tracer:   otel.Tracer("trustkit/vault"),
	}
	WithSupportedAccessControls(models.AllAccessControls()...)(s)
	for _, opt := range opts {
		opt(s)
	}
	if s.fingerprinter == nil {
		fp, err := encryption.NewRandom()
		if err != nil {
			return nil, fmt.Errorf("init fingerprinter: %w", err)
		}
		s.fingerprinter = fp
	}
	return s, nil
}

// Scope returns the sharing scope this vault reads and writes.
func (s *Service) Scope() string {
	return s.scope
}

// Store writes value under key, replacing any existing item. The item's
// creation time survives overwrites and its version increments.
func (s *Service) Store(ctx context.Context, key string, value []byte, opts models.StoreOptions) (err error) {
	ctx, span := s.startSpan(ctx, "vault.Store", key)
	start := time.Now()
	defer func() { s.endSpan(span, "store", start, err) }()

	if key == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "key is required")
	}
	tier := opts.AccessControl
	if tier == "" {
		tier = models.AccessNone
	}
	if !s.supported[tier] {
		s.emit(ctx, audit.OperationWrite, key, audit.OutcomeFailure, "access control unsupported")
		return &models.StorageError{Op: "store", Key: key, Kind: models.KindAccessControlUnsupported}
	}

	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	now := requestcontext.Now(ctx)
	item := &models.Item{
		Key:           key,
		Value:         bytes.Clone(value),
		AccessControl: tier,
		ExpiresAt:     opts.ExpiresAt,
		Persistent:    !opts.MemoryOnly,
		Scope:         s.scope,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if prev, err := s.lookup(ctx, key); err == nil {
		item.CreatedAt = prev.CreatedAt
		item.Version = prev.Version + 1
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return s.storageError(ctx, "store", key, models.KindReadFailed, err)
	}

	target, other := s.durable, s.volatile
	if opts.MemoryOnly {
		target, other = s.volatile, s.durable
	}
	if err := target.Put(ctx, s.scope, item); err != nil {
		s.emit(ctx, audit.OperationWrite, key, audit.OutcomeFailure, "write failed")
		return &models.StorageError{Op: "store", Key: key, Kind: models.KindWriteFailed, Err: err}
	}
	if err := other.Delete(ctx, s.scope, key); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.WarnContext(ctx, "failed to remove superseded copy", "key", key, "error", err)
	}

	s.emit(ctx, audit.OperationWrite, key, audit.OutcomeSuccess, "")
	return nil
}

// Retrieve returns the value stored under key. Expired items read as
// ErrNotFound. Items behind devicePasscode or biometryCurrentSet need the
// gate to report a recent authentication, otherwise ErrAuthenticationRequired.
func (s *Service) Retrieve(ctx context.Context, key string) (value []byte, err error) {
	ctx, span := s.startSpan(ctx, "vault.Retrieve", key)
	start := time.Now()
	defer func() { s.endSpan(span, "retrieve", start, err) }()

	lock := s.locks.forKey(key)
	lock.RLock()
	defer lock.RUnlock()

	item, err := s.readable(ctx, "retrieve", key)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, audit.OperationRead, key, audit.OutcomeSuccess, "")
	return item.Value, nil
}

// Update replaces the value of an existing item, keeping its access control,
// expiry and persistence.
func (s *Service) Update(ctx context.Context, key string, value []byte) (err error) {
	ctx, span := s.startSpan(ctx, "vault.Update", key)
	start := time.Now()
	defer func() { s.endSpan(span, "update", start, err) }()

	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	item, err := s.readable(ctx, "update", key)
	if err != nil {
		return err
	}
	item.Value = bytes.Clone(value)
	item.Version++
	item.UpdatedAt = requestcontext.Now(ctx)

	target := s.durable
	if !item.Persistent {
		target = s.volatile
	}
	if err := target.Put(ctx, s.scope, item); err != nil {
		s.emit(ctx, audit.OperationWrite, key, audit.OutcomeFailure, "write failed")
		return &models.StorageError{Op: "update", Key: key, Kind: models.KindWriteFailed, Err: err}
	}
	s.emit(ctx, audit.OperationWrite, key, audit.OutcomeSuccess, "updated")
	return nil
}

// ItemAttributes returns an item's metadata. It never needs authentication
// because it never returns the value.
func (s *Service) ItemAttributes(ctx context.Context, key string) (*models.ItemAttributes, error) {
	lock := s.locks.forKey(key)
	lock.RLock()
	defer lock.RUnlock()

	item, err := s.lookup(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, &models.StorageError{Op: "attributes", Key: key, Kind: models.KindNotFound, Err: err}
	}
	if err != nil {
		return nil, &models.StorageError{Op: "attributes", Key: key, Kind: models.KindReadFailed, Err: err}
	}
	attrs := item.Attributes()
	return &attrs, nil
}

// Remove deletes key from both stores. Removing a missing key is not an error.
func (s *Service) Remove(ctx context.Context, key string) (err error) {
	ctx, span := s.startSpan(ctx, "vault.Remove", key)
	start := time.Now()
	defer func() { s.endSpan(span, "remove", start, err) }()

	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	if err := s.deleteEverywhere(ctx, key); err != nil {
		s.emit(ctx, audit.OperationDelete, key, audit.OutcomeFailure, "delete failed")
		return &models.StorageError{Op: "remove", Key: key, Kind: models.KindWriteFailed, Err: err}
	}
	s.emit(ctx, audit.OperationDelete, key, audit.OutcomeSuccess, "")
	return nil
}

// RemoveAll deletes every item in the vault's scope and returns how many
// were removed. It holds every key lock for the duration.
func (s *Service) RemoveAll(ctx context.Context) (n int, err error) {
	ctx, span := s.startSpan(ctx, "vault.RemoveAll", "*")
	start := time.Now()
	defer func() { s.endSpan(span, "remove_all", start, err) }()

	s.locks.lockAll()
	defer s.locks.unlockAll()

	durable, err := s.durable.DeleteAll(ctx, s.scope)
	if err != nil {
		s.emit(ctx, audit.OperationDelete, "*", audit.OutcomeFailure, "delete all failed")
		return 0, &models.StorageError{Op: "remove_all", Key: "*", Kind: models.KindWriteFailed, Err: err}
	}
	volatile, err := s.volatile.DeleteAll(ctx, s.scope)
	if err != nil {
		s.emit(ctx, audit.OperationDelete, "*", audit.OutcomeFailure, "delete all failed")
		return durable, &models.StorageError{Op: "remove_all", Key: "*", Kind: models.KindWriteFailed, Err: err}
	}
	n = durable + volatile
	s.emit(ctx, audit.OperationDelete, "*", audit.OutcomeSuccess, fmt.Sprintf("removed %d items", n))
	return n, nil
}

// IsItemExpired reports whether key holds an item whose expiry has passed.
func (s *Service) IsItemExpired(ctx context.Context, key string) (bool, error) {
	lock := s.locks.forKey(key)
	lock.RLock()
	defer lock.RUnlock()

	item, err := s.lookup(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, &models.StorageError{Op: "is_expired", Key: key, Kind: models.KindNotFound, Err: err}
	}
	if err != nil {
		return false, &models.StorageError{Op: "is_expired", Key: key, Kind: models.KindReadFailed, Err: err}
	}
	return item.IsExpiredAt(requestcontext.Now(ctx)), nil
}

// RemoveExpiredItems deletes every expired item and returns the count. With
// no writes in between, a second call removes nothing.
func (s *Service) RemoveExpiredItems(ctx context.Context) (n int, err error) {
	ctx, span := s.startSpan(ctx, "vault.RemoveExpiredItems", "*")
	start := time.Now()
	defer func() { s.endSpan(span, "remove_expired", start, err) }()

	keys, err := s.allKeys(ctx)
	if err != nil {
		return 0, err
	}
	now := requestcontext.Now(ctx)
	for _, key := range keys {
		removed, err := s.removeIfExpired(ctx, key, now)
		if err != nil {
			return n, err
		}
		if removed {
			n++
		}
	}
	if s.metrics != nil {
		s.metrics.AddExpiredRemoved(n)
	}
	if n > 0 {
		s.emit(ctx, audit.OperationMaintenance, "*", audit.OutcomeSuccess, fmt.Sprintf("removed %d expired items", n))
	}
	return n, nil
}

func (s *Service) removeIfExpired(ctx context.Context, key string, now time.Time) (bool, error) {
	lock := s.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	item, err := s.lookup(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &models.StorageError{Op: "remove_expired", Key: key, Kind: models.KindReadFailed, Err: err}
	}
	if !item.IsExpiredAt(now) {
		return false, nil
	}
	if err := s.deleteEverywhere(ctx, key); err != nil {
		return false, &models.StorageError{Op: "remove_expired", Key: key, Kind: models.KindWriteFailed, Err: err}
	}
	s.emit(ctx, audit.OperationDelete, key, audit.OutcomeSuccess, "expired")
	return true, nil
}

// readable loads a live item and applies the access-control check. Callers
// hold the key lock.
func (s *Service) readable(ctx context.Context, op, key string) (*models.Item, error) {
	item, err := s.lookup(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.emit(ctx, audit.OperationRead, key, audit.OutcomeFailure, "not found")
		return nil, &models.StorageError{Op: op, Key: key, Kind: models.KindNotFound, Err: err}
	}
	if err != nil {
		return nil, s.storageError(ctx, op, key, models.KindReadFailed, err)
	}
	if item.IsExpiredAt(requestcontext.Now(ctx)) {
		s.emit(ctx, audit.OperationRead, key, audit.OutcomeFailure, "expired")
		return nil, &models.StorageError{Op: op, Key: key, Kind: models.KindNotFound, Err: sentinel.ErrExpired}
	}
	if item.AccessControl.RequiresAuthentication() && (s.gate == nil || s.gate.IsAuthenticationRequired(ctx)) {
		if s.metrics != nil {
			s.metrics.IncAuthDenied()
		}
		s.emit(ctx, audit.OperationRead, key, audit.OutcomeDenied, "authentication required")
		return nil, models.ErrAuthenticationRequired
	}
	return item, nil
}

// lookup finds key in the volatile store first, then the durable one.
func (s *Service) lookup(ctx context.Context, key string) (*models.Item, error) {
	item, err := s.volatile.Get(ctx, s.scope, key)
	if err == nil || !errors.Is(err, sentinel.ErrNotFound) {
		return item, err
	}
	return s.durable.Get(ctx, s.scope, key)
}

func (s *Service) deleteEverywhere(ctx context.Context, key string) error {
	for _, st := range []ports.SecureStore{s.volatile, s.durable} {
		if err := st.Delete(ctx, s.scope, key); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
	}
	return nil
}

// allKeys is the sorted union of keys in both stores.
func (s *Service) allKeys(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, st := range []ports.SecureStore{s.volatile, s.durable} {
		keys, err := st.Keys(ctx, s.scope)
		if err != nil {
			return nil, &models.StorageError{Op: "keys", Key: "*", Kind: models.KindReadFailed, Err: err}
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Service) storageError(ctx context.Context, op, key string, kind models.StorageErrorKind, err error) error {
	s.logger.ErrorContext(ctx, "vault store failure", "op", op, "key", key, "error", err)
	return &models.StorageError{Op: op, Key: key, Kind: kind, Err: err}
}

func (s *Service) emit(ctx context.Context, op audit.Operation, key string, outcome audit.Outcome, reason string) {
	audit.Emit(ctx, s.logger, s.auditor, audit.Entry{
		Operation: op,
		Subject:   s.subject(key),
		Outcome:   outcome,
		Reason:    reason,
	})
}

func (s *Service) subject(key string) string {
	if s.scope == "" {
		return key
	}
	return s.scope + "/" + key
}

func (s *Service) startSpan(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("vault.scope", s.scope),
		attribute.String("vault.key", key),
	))
}

func (s *Service) endSpan(span trace.Span, op string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
	}
	span.End()
	if s.metrics != nil {
		s.metrics.Observe(op, start, err)
	}
}
