// Package service validates TLS peers against a pin table and a trust
// policy: chain, pins, validity, revocation and Certificate Transparency.
//
// The pin table is read on every handshake and written only by Configure,
// RotateCertificate, PruneRotations and Restore, so it sits behind a
// read-mostly lock.
package service

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/ocsp"

	"trustkit/internal/trust/metrics"
	"trustkit/internal/trust/models"
	"trustkit/internal/trust/ports"
	dErrors "trustkit/pkg/domain-errors"
	audit "trustkit/pkg/platform/audit"
	"trustkit/pkg/requestcontext"
)

const (
	defaultOCSPCacheSize = 1024
	defaultOCSPCacheTTL  = time.Hour
	maxReports           = 100
)

type Service struct {
	mu     sync.RWMutex
	cfg    models.Config
	pins   map[string]models.PinnedHost
	logIDs map[[32]byte]models.CTLog

	reportsMu sync.Mutex
	reports   []models.FailureReport

	ocspClient *resty.Client
	ocspCache  *expirable.LRU[string, *ocsp.Response]
	cacheSize  int
	cacheTTL   time.Duration

	pinStore ports.PinStore
	auditor  audit.Recorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAudit(recorder audit.Recorder) Option {
	return func(s *Service) {
		s.auditor = recorder
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPinStore persists rotations. See Restore.
func WithPinStore(store ports.PinStore) Option {
	return func(s *Service) {
		s.pinStore = store
	}
}

// WithOCSPClient replaces the HTTP client used to reach OCSP responders.
func WithOCSPClient(client *resty.Client) Option {
	return func(s *Service) {
		s.ocspClient = client
	}
}

// WithOCSPCache sizes the revocation cache.
func WithOCSPCache(size int, ttl time.Duration) Option {
	return func(s *Service) {
		s.cacheSize = size
		s.cacheTTL = ttl
	}
}

func New(opts ...Option) (*Service, error) {
	s := &Service{
		cfg:       models.DefaultConfig(),
		pins:      make(map[string]models.PinnedHost),
		logIDs:    make(map[[32]byte]models.CTLog),
		cacheSize: defaultOCSPCacheSize,
		cacheTTL:  defaultOCSPCacheTTL,
		logger:    slog.New(slog.DiscardHandler),
		tracer:    otel.Tracer("trustkit/trust"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheSize <= 0 || s.cacheTTL <= 0 {
		return nil, errors.New("ocsp cache size and ttl must be positive")
	}
	if s.ocspClient == nil {
		s.ocspClient = resty.New()
	}
	s.ocspCache = expirable.NewLRU[string, *ocsp.Response](s.cacheSize, nil, s.cacheTTL)
	return s, nil
}

// Configure replaces the policy and the pin table. It does not touch the pin
// store; call Restore afterwards to re-apply persisted rotations.
func (s *Service) Configure(ctx context.Context, cfg models.Config) error {
	if err := normalizeConfig(&cfg); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid trust configuration")
	}
	table, err := buildPinTable(cfg)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid pin table")
	}
	logs := make(map[[32]byte]models.CTLog, len(cfg.TrustedLogs))
	for _, l := range cfg.TrustedLogs {
		id, err := l.LogID()
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid transparency log")
		}
		logs[id] = l
	}

	s.mu.Lock()
	s.cfg = cfg
	s.pins = table
	s.logIDs = logs
	s.mu.Unlock()

	s.ocspCache.Purge()
	s.updateRotationGauge(ctx)
	s.logger.InfoContext(ctx, "trust policy configured",
		"pinned_hosts", len(table),
		"report_only", cfg.ReportOnly,
		"min_tls", tls.VersionName(cfg.MinimumTLSVersion),
	)
	return nil
}

// Restore loads persisted pin rows over the configured table. Rows in the
// store win because they carry rotations made after start-up.
func (s *Service) Restore(ctx context.Context) error {
	if s.pinStore == nil {
		return nil
	}
	saved, err := s.pinStore.LoadPins(ctx)
	if err != nil {
		return fmt.Errorf("load pins: %w", err)
	}
	for _, row := range saved {
		for _, p := range row.AcceptedAt(time.Time{}) {
			if err := p.Validate(); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "stored pin for "+row.Host+" is invalid")
			}
		}
	}

	s.mu.Lock()
	for _, row := range saved {
		row.Host = normalizeHost(row.Host)
		s.pins[row.Host] = row.Clone()
	}
	s.mu.Unlock()

	s.updateRotationGauge(ctx)
	s.logger.InfoContext(ctx, "pins restored", "hosts", len(saved))
	return nil
}

// Config returns the active policy.
func (s *Service) Config() models.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Pins returns a copy of the pin table sorted by host.
func (s *Service) Pins() []models.PinnedHost {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// RotateCertificate pins cert as the host's new primary. The previous primary
// pins stay valid for gracePeriodDays. Pins keep their kind: a host pinned by
// public key is re-pinned by public key.
func (s *Service) RotateCertificate(ctx context.Context, host string, cert *x509.Certificate, gracePeriodDays int) error {
	if cert == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "certificate is required")
	}
	if gracePeriodDays < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "grace period must not be negative")
	}
	host = normalizeHost(host)
	if host == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "host is required")
	}
	now := requestcontext.Now(ctx)

	s.mu.Lock()
	row, ok := s.pins[host]
	if !ok {
		row = models.PinnedHost{Host: host}
	}
	row = row.Clone()
	kinds := pinKinds(row.Primary)
	next := make([]models.Pin, 0, len(kinds))
	for _, k := range kinds {
		next = append(next, models.PinFor(k, cert))
	}
	row.Rotation = nil
	if len(row.Primary) > 0 && gracePeriodDays > 0 {
		row.Rotation = &models.Rotation{
			Previous: row.Primary,
			Until:    now.Add(time.Duration(gracePeriodDays) * 24 * time.Hour),
		}
	}
	row.Primary = next
	s.pins[host] = row
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.updateRotationGauge(ctx)
	s.emit(ctx, audit.OperationRotate, host, audit.OutcomeSuccess,
		fmt.Sprintf("pin rotated with %d day grace period", gracePeriodDays))
	if err := s.persist(ctx, snapshot); err != nil {
		return err
	}
	return nil
}

// PruneRotations drops rotations whose grace period has ended and returns
// how many were removed.
func (s *Service) PruneRotations(ctx context.Context) int {
	now := requestcontext.Now(ctx)

	s.mu.Lock()
	n := 0
	for host, row := range s.pins {
		if row.Rotation == nil || now.Before(row.Rotation.Until) {
			continue
		}
		row = row.Clone()
		row.Rotation = nil
		s.pins[host] = row
		n++
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if n == 0 {
		return 0
	}
	s.updateRotationGauge(ctx)
	if err := s.persist(ctx, snapshot); err != nil {
		s.logger.WarnContext(ctx, "failed to persist pruned pins", "error", err)
	}
	s.emit(ctx, audit.OperationMaintenance, "*", audit.OutcomeSuccess,
		fmt.Sprintf("pruned %d ended rotations", n))
	return n
}

// Reports returns recent failures that report-only mode let through,
// oldest first.
func (s *Service) Reports() []models.FailureReport {
	s.reportsMu.Lock()
	defer s.reportsMu.Unlock()
	out := make([]models.FailureReport, len(s.reports))
	copy(out, s.reports)
	return out
}

func (s *Service) persist(ctx context.Context, pins []models.PinnedHost) error {
	if s.pinStore == nil {
		return nil
	}
	if err := s.pinStore.SavePins(ctx, pins); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist pin table", "error", err)
		return fmt.Errorf("save pins: %w", err)
	}
	return nil
}

func (s *Service) snapshotLocked() []models.PinnedHost {
	out := make([]models.PinnedHost, 0, len(s.pins))
	for _, row := range s.pins {
		out = append(out, row.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// lookupLocked finds the row for host, trying an exact match and then a
// single-label wildcard.
func (s *Service) lookupLocked(host string) (models.PinnedHost, bool) {
	if row, ok := s.pins[host]; ok {
		return row, true
	}
	if _, rest, ok := strings.Cut(host, "."); ok {
		if row, ok := s.pins["*."+rest]; ok {
			return row, true
		}
	}
	return models.PinnedHost{}, false
}

func (s *Service) updateRotationGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	now := requestcontext.Now(ctx)
	s.mu.RLock()
	n := 0
	for _, row := range s.pins {
		if row.Rotation != nil && now.Before(row.Rotation.Until) {
			n++
		}
	}
	s.mu.RUnlock()
	s.metrics.SetActiveRotations(n)
}

func (s *Service) emit(ctx context.Context, op audit.Operation, host string, outcome audit.Outcome, reason string) {
	audit.Emit(ctx, s.logger, s.auditor, audit.Entry{
		Operation: op,
		Subject:   host,
		Outcome:   outcome,
		Reason:    reason,
	})
}

func normalizeConfig(cfg *models.Config) error {
	if cfg.MinimumTLSVersion == 0 {
		cfg.MinimumTLSVersion = tls.VersionTLS12
	}
	if cfg.MinimumTLSVersion < tls.VersionTLS10 || cfg.MinimumTLSVersion > tls.VersionTLS13 {
		return fmt.Errorf("unsupported minimum TLS version 0x%04x", cfg.MinimumTLSVersion)
	}
	if cfg.OCSPTimeout <= 0 {
		cfg.OCSPTimeout = models.DefaultConfig().OCSPTimeout
	}
	if cfg.MinimumSCTs < 0 {
		return errors.New("minimum SCTs must not be negative")
	}
	if cfg.RequireCertificateTransparency && cfg.MinimumSCTs == 0 {
		cfg.MinimumSCTs = 1
	}
	return nil
}

func buildPinTable(cfg models.Config) (map[string]models.PinnedHost, error) {
	table := make(map[string]models.PinnedHost)
	row := func(host string) models.PinnedHost {
		h := normalizeHost(host)
		r, ok := table[h]
		if !ok {
			r = models.PinnedHost{Host: h, ExpiresAt: cfg.PinExpirations[host]}
		}
		return r
	}
	add := func(host string, pins ...models.Pin) error {
		for _, p := range pins {
			if err := p.Validate(); err != nil {
				return fmt.Errorf("pin for %s: %w", host, err)
			}
		}
		return nil
	}

	for host, hash := range cfg.PinnedCertificates {
		p := models.Pin{Kind: models.PinCertificate, Hash: hash}
		if err := add(host, p); err != nil {
			return nil, err
		}
		r := row(host)
		r.Primary = append(r.Primary, p)
		table[r.Host] = r
	}
	for host, hash := range cfg.PinnedPublicKeys {
		p := models.Pin{Kind: models.PinPublicKey, Hash: hash}
		if err := add(host, p); err != nil {
			return nil, err
		}
		r := row(host)
		r.Primary = append(r.Primary, p)
		table[r.Host] = r
	}
	for host, pins := range cfg.BackupCertificates {
		if err := add(host, pins...); err != nil {
			return nil, err
		}
		r := row(host)
		r.Backups = append(r.Backups, pins...)
		table[r.Host] = r
	}
	for host, r := range table {
		if host == "" {
			return nil, errors.New("pinned host name is empty")
		}
		sortPins(r.Primary)
	}
	return table, nil
}

func normalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}

func pinKinds(pins []models.Pin) []models.PinKind {
	var kinds []models.PinKind
	seen := make(map[models.PinKind]bool)
	for _, p := range pins {
		if !seen[p.Kind] {
			seen[p.Kind] = true
			kinds = append(kinds, p.Kind)
		}
	}
	if len(kinds) == 0 {
		kinds = []models.PinKind{models.PinCertificate}
	}
	return kinds
}

func sortPins(pins []models.Pin) {
	sort.Slice(pins, func(i, j int) bool {
		if pins[i].Kind != pins[j].Kind {
			return pins[i].Kind < pins[j].Kind
		}
		return pins[i].Hash < pins[j].Hash
	})
}
