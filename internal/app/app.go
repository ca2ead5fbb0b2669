// Package app assembles trustkit's services from configuration. trustd uses
// the whole graph; trustctl opens only the stores it needs.
package app

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	auditlog "trustkit/internal/audit"
	gateAdapters "trustkit/internal/authgate/adapters"
	gateMetrics "trustkit/internal/authgate/metrics"
	gateService "trustkit/internal/authgate/service"
	"trustkit/internal/encryption"
	"trustkit/internal/maintenance"
	"trustkit/internal/platform/config"
	httpMetrics "trustkit/internal/platform/metrics"
	"trustkit/internal/platform/postgres"
	platformRedis "trustkit/internal/platform/redis"
	httptransport "trustkit/internal/transport/http"
	trustAdapters "trustkit/internal/trust/adapters"
	trustMetrics "trustkit/internal/trust/metrics"
	trustModels "trustkit/internal/trust/models"
	trustService "trustkit/internal/trust/service"
	vaultMetrics "trustkit/internal/vault/metrics"
	vaultModels "trustkit/internal/vault/models"
	"trustkit/internal/vault/ports"
	vaultService "trustkit/internal/vault/service"
	boltStore "trustkit/internal/vault/store/bolt"
	"trustkit/internal/vault/store/encrypted"
	memoryStore "trustkit/internal/vault/store/memory"
	redisStore "trustkit/internal/vault/store/redis"
	audit "trustkit/pkg/platform/audit"
	"trustkit/pkg/platform/audit/publisher"
	fileSink "trustkit/pkg/platform/audit/publishers/file"
	kafkaSink "trustkit/pkg/platform/audit/publishers/kafka"
	auditMemory "trustkit/pkg/platform/audit/store/memory"
	auditPostgres "trustkit/pkg/platform/audit/store/postgres"
)

// App is the wired service graph.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Registry    *prometheus.Registry
	Audit       *auditlog.Log
	Cipher      *encryption.Service
	Vault       *vaultService.Service
	Gate        *gateService.Service
	Trust       *trustService.Service
	Maintenance *maintenance.Scheduler

	closers []func() error
}

// New builds every component. On error, whatever was opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: httpMetrics.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	store, closeStore, err := OpenAuditStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	auditOpts := []auditlog.Option{
		auditlog.WithLogger(logger),
		auditlog.WithMetrics(auditlog.NewMetrics(a.Registry)),
	}
	pub, err := a.auditPublisher(cfg.Audit)
	if err != nil {
		return nil, err
	}
	if pub != nil {
		auditOpts = append(auditOpts, auditlog.WithPublisher(pub))
	}
	if a.Audit, err = auditlog.New(store, auditOpts...); err != nil {
		return nil, err
	}
	// Registered after the store so the publisher drains before the store closes.
	a.closers = append(a.closers, a.Audit.Close)

	if a.Cipher, err = NewCipher(cfg.Encryption, logger); err != nil {
		return nil, err
	}

	if a.Gate, err = gateService.New(gateAdapters.Headless{},
		gateService.WithPolicy(cfg.Auth),
		gateService.WithAudit(a.Audit),
		gateService.WithLogger(logger),
		gateService.WithMetrics(gateMetrics.New(a.Registry)),
	); err != nil {
		return nil, fmt.Errorf("init authentication gate: %w", err)
	}

	durable, closeVault, err := OpenVaultStore(ctx, cfg, a.Cipher)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeVault)
	tiers, err := accessControls(cfg.Vault.AccessControls)
	if err != nil {
		return nil, err
	}
	if a.Vault, err = vaultService.New(durable,
		vaultService.WithScope(cfg.Vault.Scope),
		vaultService.WithGate(a.Gate),
		vaultService.WithAudit(a.Audit),
		vaultService.WithLogger(logger),
		vaultService.WithMetrics(vaultMetrics.New(a.Registry)),
		vaultService.WithFingerprinter(a.Cipher),
		vaultService.WithSupportedAccessControls(tiers...),
	); err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}

	if a.Trust, err = trustService.New(
		trustService.WithLogger(logger),
		trustService.WithAudit(a.Audit),
		trustService.WithMetrics(trustMetrics.New(a.Registry)),
		trustService.WithPinStore(trustAdapters.NewVaultPinStore(a.Vault)),
	); err != nil {
		return nil, fmt.Errorf("init trust validator: %w", err)
	}
	trustCfg, err := TrustConfig(cfg.Trust)
	if err != nil {
		return nil, err
	}
	if err := a.Trust.Configure(ctx, trustCfg); err != nil {
		return nil, fmt.Errorf("configure trust validator: %w", err)
	}
	if err := a.Trust.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore pins: %w", err)
	}

	if a.Maintenance, err = maintenance.New(cfg.Maintenance,
		maintenance.WithVault(a.Vault),
		maintenance.WithTrust(a.Trust),
		maintenance.WithAuditLog(a.Audit),
		maintenance.WithLogger(logger),
		maintenance.WithRegisterer(a.Registry),
	); err != nil {
		return nil, err
	}
	return a, nil
}

// Handler returns the admin API.
func (a *App) Handler() (http.Handler, error) {
	h := httptransport.NewHandler(a.Audit, a.Vault, a.Trust, a.Gate, a.Logger)
	return httptransport.NewRouter(h, a.Registry, httpMetrics.New(a.Registry), httptransport.RouterConfig{
		AdminToken:        a.Config.Server.AdminToken,
		TrustProxyHeaders: a.Config.Server.TrustProxyHeaders,
		RequestsPerSecond: a.Config.Server.RequestsPerSecond,
		Burst:             a.Config.Server.Burst,
		Timeout:           a.Config.Server.RequestTimeout,
	}, a.Logger)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) auditPublisher(cfg config.AuditConfig) (*publisher.Publisher, error) {
	var sinks publisher.Multi
	if cfg.File != "" {
		s, err := fileSink.New(fileSink.Config{Path: cfg.File})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(cfg.KafkaBrokers) > 0 {
		s, err := kafkaSink.New(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return publisher.NewPublisher(sinks,
		publisher.WithAsyncBuffer(cfg.AsyncBuffer),
		publisher.WithLogger(a.Logger),
		publisher.WithMetrics(publisher.NewMetrics(a.Registry)),
	), nil
}

// OpenAuditStore opens the configured audit store. The Postgres schema is
// migrated on open.
func OpenAuditStore(ctx context.Context, cfg *config.Config) (audit.Store, func() error, error) {
	if cfg.Audit.Store != "postgres" {
		return auditMemory.NewInMemoryStore(auditMemory.WithMaxEntries(cfg.Audit.MemoryMaxEntries)), noop, nil
	}
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	store := auditPostgres.New(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return store, db.Close, nil
}

// OpenVaultStore opens the durable vault backend, wrapped in the encrypting
// decorator when vault.encrypt is set.
func OpenVaultStore(ctx context.Context, cfg *config.Config, cipher encrypted.Cipher) (ports.SecureStore, func() error, error) {
	var (
		store   ports.SecureStore
		closeFn = noop
	)
	switch cfg.Vault.Backend {
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.Vault.BoltPath), 0o700); err != nil {
			return nil, nil, fmt.Errorf("create vault dir: %w", err)
		}
		s, err := boltStore.Open(cfg.Vault.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = s, s.Close
	case "redis":
		client, err := platformRedis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		s, err := redisStore.New(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		store, closeFn = s, client.Close
	default:
		store = memoryStore.New()
	}

	if !cfg.Vault.Encrypt {
		return store, closeFn, nil
	}
	sealed, err := encrypted.New(store, cipher)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return sealed, closeFn, nil
}

// NewCipher builds the field encryption service from the master key.
func NewCipher(cfg config.EncryptionConfig, logger *slog.Logger) (*encryption.Service, error) {
	alg := encryption.AlgorithmAES256GCM
	if cfg.Algorithm == "xchacha20-poly1305" {
		alg = encryption.AlgorithmXChaCha20Poly1305
	}
	svc, err := encryption.New(cfg.Key(), encryption.WithAlgorithm(alg), encryption.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init encryption: %w", err)
	}
	return svc, nil
}

// TrustConfig converts the trust section into validator policy, loading the
// roots bundle and CT log keys from disk.
func TrustConfig(cfg config.TrustConfig) (trustModels.Config, error) {
	out := trustModels.DefaultConfig()
	out.ValidateChain = cfg.ValidateChain
	out.CheckExpiration = cfg.CheckExpiration
	out.EnableOCSP = cfg.EnableOCSP
	out.FailOnRevoked = cfg.FailOnRevoked
	if cfg.OCSPTimeout > 0 {
		out.OCSPTimeout = cfg.OCSPTimeout
	}
	out.RequireCertificateTransparency = cfg.RequireCT
	out.MinimumSCTs = cfg.MinimumSCTs
	out.ReportOnly = cfg.ReportOnly
	if cfg.MinimumTLSVersion == "1.3" {
		out.MinimumTLSVersion = tls.VersionTLS13
	}

	out.PinnedCertificates = make(map[string]string)
	out.PinnedPublicKeys = make(map[string]string)
	out.BackupCertificates = make(map[string][]trustModels.Pin)
	for _, pc := range cfg.Pins {
		primary, err := trustModels.ParsePin(pc.Pin)
		if err != nil {
			return trustModels.Config{}, fmt.Errorf("pin for %s: %w", pc.Host, err)
		}
		if primary.Kind == trustModels.PinCertificate {
			out.PinnedCertificates[pc.Host] = primary.Hash
		} else {
			out.PinnedPublicKeys[pc.Host] = primary.Hash
		}
		for _, raw := range pc.Backups {
			backup, err := trustModels.ParsePin(raw)
			if err != nil {
				return trustModels.Config{}, fmt.Errorf("backup pin for %s: %w", pc.Host, err)
			}
			out.BackupCertificates[pc.Host] = append(out.BackupCertificates[pc.Host], backup)
		}
	}

	if cfg.RootsFile != "" {
		pemBytes, err := os.ReadFile(cfg.RootsFile)
		if err != nil {
			return trustModels.Config{}, fmt.Errorf("read roots: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return trustModels.Config{}, fmt.Errorf("roots file %s holds no certificates", cfg.RootsFile)
		}
		out.Roots = pool
	}

	for _, path := range cfg.TrustedLogKeys {
		key, err := readPublicKey(path)
		if err != nil {
			return trustModels.Config{}, err
		}
		out.TrustedLogs = append(out.TrustedLogs, trustModels.CTLog{
			Name:      filepath.Base(path),
			PublicKey: key,
		})
	}
	return out, nil
}

func readPublicKey(path string) (any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read log key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("log key %s is not PEM", path)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse log key %s: %w", path, err)
	}
	return key, nil
}

func accessControls(raw []string) ([]vaultModels.AccessControl, error) {
	if len(raw) == 0 {
		return vaultModels.AllAccessControls(), nil
	}
	out := make([]vaultModels.AccessControl, 0, len(raw))
	for _, s := range raw {
		ac, err := vaultModels.ParseAccessControl(s)
		if err != nil {
			return nil, err
		}
		out = append(out, ac)
	}
	return out, nil
}

func noop() error { return nil }
