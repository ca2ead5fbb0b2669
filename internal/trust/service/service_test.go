package service

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/ocsp"

	auditlog "trustkit/internal/audit"
	"trustkit/internal/trust/metrics"
	"trustkit/internal/trust/models"
	dErrors "trustkit/pkg/domain-errors"
	audit "trustkit/pkg/platform/audit"
	auditmemory "trustkit/pkg/platform/audit/store/memory"
	tutil "trustkit/pkg/testutil"
)

const (
	host      = "api.example.com"
	ocspURL   = "http://ocsp.example.com/"
	graceDays = 30
)

type memoryPinStore struct {
	mu    sync.Mutex
	rows  []models.PinnedHost
	saves int
	err   error
}

func (m *memoryPinStore) LoadPins(context.Context) ([]models.PinnedHost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows, m.err
}

func (m *memoryPinStore) SavePins(_ context.Context, pins []models.PinnedHost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.rows = pins
	return m.err
}

type TrustSuite struct {
	suite.Suite
	pki        *testPKI
	now        time.Time
	ctx        context.Context
	auditStore *auditmemory.InMemoryStore
	metrics    *metrics.Metrics
	pinStore   *memoryPinStore
	ocspMock   *httpmock.MockTransport
	svc        *Service
}

func TestTrustSuite(t *testing.T) {
	suite.Run(t, new(TrustSuite))
}

func (s *TrustSuite) SetupTest() {
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = tutil.At(s.now, 0)
	s.pki = newTestPKI(s.T(), s.now)
	s.auditStore = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.pinStore = &memoryPinStore{}
	s.ocspMock = httpmock.NewMockTransport()

	log, err := auditlog.New(s.auditStore)
	s.Require().NoError(err)
	s.svc, err = New(
		WithAudit(log),
		WithMetrics(s.metrics),
		WithPinStore(s.pinStore),
		WithOCSPClient(resty.New().SetTransport(s.ocspMock)),
	)
	s.Require().NoError(err)
}

func (s *TrustSuite) at(d time.Duration) context.Context {
	return tutil.At(s.now, d)
}

func (s *TrustSuite) config(mods ...func(*models.Config)) models.Config {
	cfg := models.DefaultConfig()
	cfg.Roots = s.pki.roots()
	for _, mod := range mods {
		mod(&cfg)
	}
	return cfg
}

func (s *TrustSuite) configure(mods ...func(*models.Config)) {
	s.Require().NoError(s.svc.Configure(s.ctx, s.config(mods...)))
}

func (s *TrustSuite) conn(leaf *x509.Certificate) models.Connection {
	return models.Connection{
		Host:             host,
		TLSVersion:       tls.VersionTLS13,
		PeerCertificates: s.pki.chain(leaf),
	}
}

func (s *TrustSuite) trustError(err error) *models.TrustError {
	var terr *models.TrustError
	s.Require().True(errors.As(err, &terr), "expected *TrustError, got %v", err)
	return terr
}

func (s *TrustSuite) auditEntries(op audit.Operation) []audit.Entry {
	entries, err := s.auditStore.Query(context.Background(), audit.Filter{Operations: []audit.Operation{op}})
	s.Require().NoError(err)
	return entries
}

func (s *TrustSuite) TestNew() {
	s.Run("rejects an empty OCSP cache", func() {
		_, err := New(WithOCSPCache(0, time.Hour))
		s.Error(err)
	})

	s.Run("defaults to the standard policy", func() {
		svc, err := New()
		s.Require().NoError(err)
		cfg := svc.Config()
		s.True(cfg.ValidateChain)
		s.True(cfg.CheckExpiration)
		s.Equal(uint16(tls.VersionTLS12), cfg.MinimumTLSVersion)
		s.Empty(svc.Pins())
	})
}

func (s *TrustSuite) TestConfigure() {
	s.Run("rejects unsupported TLS versions", func() {
		err := s.svc.Configure(s.ctx, s.config(func(c *models.Config) { c.MinimumTLSVersion = 0x0200 }))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("rejects negative SCT minimum", func() {
		err := s.svc.Configure(s.ctx, s.config(func(c *models.Config) { c.MinimumSCTs = -1 }))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("rejects malformed pins", func() {
		err := s.svc.Configure(s.ctx, s.config(func(c *models.Config) {
			c.PinnedCertificates = map[string]string{host: "not-a-hash"}
		}))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("requiring transparency needs at least one SCT", func() {
		s.configure(func(c *models.Config) {
			c.RequireCertificateTransparency = true
			c.MinimumSCTs = 0
		})
		s.Equal(1, s.svc.Config().MinimumSCTs)
	})

	s.Run("builds a normalized pin table sorted by host", func() {
		leaf := s.pki.leaf(host, nil)
		s.configure(func(c *models.Config) {
			c.PinnedCertificates = map[string]string{"Z.example.com.": models.CertificatePin(leaf).Hash}
			c.PinnedPublicKeys = map[string]string{host: models.PublicKeyPin(leaf).Hash}
			c.BackupCertificates = map[string][]models.Pin{host: {models.CertificatePin(s.pki.inter)}}
		})
		pins := s.svc.Pins()
		s.Require().Len(pins, 2)
		s.Equal(host, pins[0].Host)
		s.Equal("z.example.com", pins[1].Host)
		s.Len(pins[0].Backups, 1)
	})

	s.Run("does not write the pin store", func() {
		s.Zero(s.pinStore.saves)
	})
}

func (s *TrustSuite) TestChain() {
	leaf := s.pki.leaf(host, nil)

	s.Run("chain to a configured root is trusted", func() {
		s.configure()
		s.NoError(s.svc.Validate(s.ctx, s.conn(leaf)))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Validations.WithLabelValues("trusted")))
	})

	s.Run("unknown root is rejected", func() {
		other := newTestPKI(s.T(), s.now)
		s.configure(func(c *models.Config) { c.Roots = other.roots() })
		err := s.svc.Validate(s.ctx, s.conn(leaf))
		s.ErrorIs(err, models.ErrInvalidChain)
	})

	s.Run("host name mismatch is rejected", func() {
		s.configure()
		conn := s.conn(leaf)
		conn.Host = "other.example.com"
		s.ErrorIs(s.svc.Validate(s.ctx, conn), models.ErrInvalidChain)
	})

	s.Run("empty chain is rejected", func() {
		s.configure()
		err := s.svc.Validate(s.ctx, models.Connection{Host: host, TLSVersion: tls.VersionTLS13})
		s.ErrorIs(err, models.ErrInvalidChain)
	})

	s.Run("chain is not checked when disabled", func() {
		other := newTestPKI(s.T(), s.now)
		s.configure(func(c *models.Config) { c.ValidateChain = false })
		s.NoError(s.svc.Validate(s.ctx, models.Connection{
			Host:             host,
			TLSVersion:       tls.VersionTLS13,
			PeerCertificates: other.chain(other.leaf(host, nil)),
		}))
	})

	s.Run("chain failures are never downgraded", func() {
		other := newTestPKI(s.T(), s.now)
		s.configure(func(c *models.Config) {
			c.Roots = other.roots()
			c.ReportOnly = true
		})
		s.ErrorIs(s.svc.Validate(s.ctx, s.conn(leaf)), models.ErrInvalidChain)
		s.Empty(s.svc.Reports())
	})
}

func (s *TrustSuite) TestTLSVersion() {
	leaf := s.pki.leaf(host, nil)

	s.Run("below the minimum is rejected", func() {
		s.configure()
		conn := s.conn(leaf)
		conn.TLSVersion = tls.VersionTLS11
		terr := s.trustError(s.svc.Validate(s.ctx, conn))
		s.Equal(models.KindTLSVersionTooLow, terr.Kind)
		s.Equal(uint16(tls.VersionTLS12), terr.RequiredVersion)
		s.Equal(uint16(tls.VersionTLS11), terr.FoundVersion)
		s.Contains(terr.Error(), "TLS 1.2")
	})

	s.Run("report-only does not downgrade", func() {
		s.configure(func(c *models.Config) {
			c.ReportOnly = true
			c.MinimumTLSVersion = tls.VersionTLS13
		})
		conn := s.conn(leaf)
		conn.TLSVersion = tls.VersionTLS12
		s.ErrorIs(s.svc.Validate(s.ctx, conn), models.ErrTLSVersionTooLow)
		s.Empty(s.svc.Reports())
	})
}

func (s *TrustSuite) TestPinning() {
	key := newKey(s.T())
	leaf := s.pki.leaf(host, key)
	stranger := s.pki.leaf(host, nil)

	s.Run("matching certificate pin is trusted", func() {
		s.configure(func(c *models.Config) {
			c.PinnedCertificates = map[string]string{host: models.CertificatePin(leaf).Hash}
		})
		s.NoError(s.svc.Validate(s.ctx, s.conn(leaf)))
	})

	s.Run("other certificate is rejected and audited", func() {
		s.configure(func(c *models.Config) {
			c.PinnedCertificates = map[string]string{host: models.CertificatePin(leaf).Hash}
		})
		err := s.svc.Validate(s.ctx, s.conn(stranger))
		s.ErrorIs(err, models.ErrPinningFailed)
		s.Equal(host, s.trustError(err).Host)

		entries := s.auditEntries(audit.OperationPinningFailure)
		s.Require().NotEmpty(entries)
		s.Equal(audit.OutcomeDenied, entries[0].Outcome)
		s.Equal(host, entries[0].Subject)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Failures.WithLabelValues(string(models.KindPinningFailed))))
	})

	s.Run("public key pin survives re-issuance", func() {
		s.configure(func(c *models.Config) {
			c.PinnedPublicKeys = map[string]string{host: models.PublicKeyPin(leaf).Hash}
		})
		reissued := s.pki.leaf(host, key)
		s.NoError(s.svc.Validate(s.ctx, s.conn(reissued)))
		s.ErrorIs(s.svc.Validate(s.ctx, s.conn(stranger)), models.ErrPinningFailed)
	})

	s.Run("backup pin is accepted", func() {
		s.configure(func(c *models.Config) {
			c.PinnedCertificates = map[string]string{host: models.CertificatePin(leaf).Hash}
			c.BackupCertificates = map[string][]models.Pin{host: {models.CertificatePin(stranger)}}
		})
		s.NoError(s.svc.Validate(s.ctx, s.conn(stranger)))
	})

	s.Run("pin on the intermediate matches the verified chain", func() {
		s.configure(func(c *models.Config) {
			c.PinnedPublicKeys = map[string]string{host: models.PublicKeyPin(s.pki.inter).Hash}
		})
		s.NoError(s.svc.Validate(s.ctx, s.conn(stranger)))
	})

	s.Run("wildcard row covers one label", func() {
		s.configure(func(c *models.Config) {
			c.PinnedCertificates = map[string]string{"*.example.com": models.CertificatePin(leaf).Hash}
		})
		s.NoError(s.svc.Validate(s.ctx, s.conn(leaf)))
		s.ErrorIs(s.svc.Validate(s.ctx, s.conn(stranger)), models.ErrPinningFailed)
	})

	s.Run("unpinned host is only chain checked", func() {
		s.configure(func(c *models.Config) {
			c.PinnedCertificates = map[string]string{"other.example.com": models.CertificatePin(leaf).Hash}
		})
		s.NoError(s.svc.Validate(s.ctx, s.conn(stranger)))
	})

	s.Run("expired pin row is not enforced", func() {
		s.configure(func(c *models.Config) {
			c.PinnedCertificates = map[string]string{host: models.CertificatePin(leaf).Hash}
			c.PinExpirations = map[string]time.Time{host: s.now.Add(-time.Hour)}
		})
		s.NoError(s.svc.Validate(s.ctx, s.conn(stranger)))
	})
}

func (s *TrustSuite) TestRotation() {
	old := s.pki.leaf(host, nil)
	next := s.pki.leaf(host, nil)
	pinOld := func(c *models.Config) {
		c.PinnedCertificates = map[string]string{host: models.CertificatePin(old).Hash}
	}

	s.Run("both certificates are valid during the grace period", func() {
		s.configure(pinOld)
		s.Require().NoError(s.svc.RotateCertificate(s.ctx, host, next, graceDays))

		ctx := s.at(24 * time.Hour)
		s.NoError(s.svc.Validate(ctx, s.conn(old)))
		s.NoError(s.svc.Validate(ctx, s.conn(next)))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.ActiveRotation))
	})

	s.Run("only the new certificate is valid after the grace period", func() {
		s.configure(pinOld)
		s.Require().NoError(s.svc.RotateCertificate(s.ctx, host, next, graceDays))

		ctx := s.at(31 * 24 * time.Hour)
		s.ErrorIs(s.svc.Validate(ctx, s.conn(old)), models.ErrPinningFailed)
		s.NoError(s.svc.Validate(ctx, s.conn(next)))
	})

	s.Run("zero grace period drops the old pin at once", func() {
		s.configure(pinOld)
		s.Require().NoError(s.svc.RotateCertificate(s.ctx, host, next, 0))
		s.ErrorIs(s.svc.Validate(s.ctx, s.conn(old)), models.ErrPinningFailed)
		s.Nil(s.svc.Pins()[0].Rotation)
	})

	s.Run("keeps the pin kind of the old primary", func() {
		s.configure(func(c *models.Config) {
			c.PinnedPublicKeys = map[string]string{host: models.PublicKeyPin(old).Hash}
		})
		s.Require().NoError(s.svc.RotateCertificate(s.ctx, host, next, 1))
		row := s.svc.Pins()[0]
		s.Equal([]models.Pin{models.PublicKeyPin(next)}, row.Primary)
		s.Equal([]models.Pin{models.PublicKeyPin(old)}, row.Rotation.Previous)
	})

	s.Run("unpinned host gains a row", func() {
		s.configure()
		s.Require().NoError(s.svc.RotateCertificate(s.ctx, "NEW.example.com", next, graceDays))
		pins := s.svc.Pins()
		s.Require().Len(pins, 1)
		s.Equal("new.example.com", pins[0].Host)
		s.Nil(pins[0].Rotation)
	})

	s.Run("rotation is persisted and audited", func() {
		s.configure(pinOld)
		before := s.pinStore.saves
		s.Require().NoError(s.svc.RotateCertificate(s.ctx, host, next, graceDays))
		s.Equal(before+1, s.pinStore.saves)
		s.Len(s.pinStore.rows, 1)

		entries := s.auditEntries(audit.OperationRotate)
		s.Require().NotEmpty(entries)
		s.Equal(host, entries[0].Subject)
	})

	s.Run("rejects invalid arguments", func() {
		s.configure(pinOld)
		s.True(dErrors.HasCode(s.svc.RotateCertificate(s.ctx, host, nil, 1), dErrors.CodeInvalidInput))
		s.True(dErrors.HasCode(s.svc.RotateCertificate(s.ctx, host, next, -1), dErrors.CodeInvalidInput))
		s.True(dErrors.HasCode(s.svc.RotateCertificate(s.ctx, " ", next, 1), dErrors.CodeInvalidInput))
	})

	s.Run("store failure is returned", func() {
		s.configure(pinOld)
		s.pinStore.err = errors.New("disk full")
		defer func() { s.pinStore.err = nil }()
		s.Error(s.svc.RotateCertificate(s.ctx, host, next, graceDays))
	})
}

func (s *TrustSuite) TestPruneRotations() {
	old := s.pki.leaf(host, nil)
	next := s.pki.leaf(host, nil)
	s.configure(func(c *models.Config) {
		c.PinnedCertificates = map[string]string{host: models.CertificatePin(old).Hash}
	})
	s.Require().NoError(s.svc.RotateCertificate(s.ctx, host, next, graceDays))

	s.Run("keeps rotations still in force", func() {
		s.Zero(s.svc.PruneRotations(s.at(24 * time.Hour)))
		s.NotNil(s.svc.Pins()[0].Rotation)
	})

	s.Run("drops ended rotations", func() {
		s.Equal(1, s.svc.PruneRotations(s.at(31*24*time.Hour)))
		s.Nil(s.svc.Pins()[0].Rotation)
		s.Nil(s.pinStore.rows[0].Rotation)
		s.NotEmpty(s.auditEntries(audit.OperationMaintenance))
	})
}

func (s *TrustSuite) TestRestore() {
	old := s.pki.leaf(host, nil)
	next := s.pki.leaf(host, nil)

	s.Run("stored rows replace configured rows", func() {
		s.pinStore.rows = []models.PinnedHost{{
			Host:    host,
			Primary: []models.Pin{models.CertificatePin(next)},
		}}
		s.configure(func(c *models.Config) {
			c.PinnedCertificates = map[string]string{host: models.CertificatePin(old).Hash}
		})
		s.Require().NoError(s.svc.Restore(s.ctx))
		s.NoError(s.svc.Validate(s.ctx, s.conn(next)))
		s.ErrorIs(s.svc.Validate(s.ctx, s.conn(old)), models.ErrPinningFailed)
	})

	s.Run("corrupt stored pins are refused", func() {
		s.pinStore.rows = []models.PinnedHost{{
			Host:    host,
			Primary: []models.Pin{{Kind: models.PinCertificate, Hash: "bad"}},
		}}
		err := s.svc.Restore(s.ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func (s *TrustSuite) TestValidity() {
	s.Run("expired leaf is rejected with its expiry", func() {
		s.configure()
		expiry := s.now.Add(-time.Hour)
		leaf := s.pki.leaf(host, nil, validBetween(s.now.AddDate(0, 0, -30), expiry))
		terr := s.trustError(s.svc.Validate(s.ctx, s.conn(leaf)))
		s.Equal(models.KindExpired, terr.Kind)
		s.True(terr.At.Equal(expiry))
	})

	s.Run("leaf not yet valid is rejected", func() {
		s.configure()
		start := s.now.Add(24 * time.Hour)
		leaf := s.pki.leaf(host, nil, validBetween(start, s.now.AddDate(0, 0, 90)))
		terr := s.trustError(s.svc.Validate(s.ctx, s.conn(leaf)))
		s.Equal(models.KindNotYetValid, terr.Kind)
		s.True(terr.At.Equal(start))
	})

	s.Run("expiry is ignored with chain and expiry checks off", func() {
		s.configure(func(c *models.Config) {
			c.ValidateChain = false
			c.CheckExpiration = false
		})
		leaf := s.pki.leaf(host, nil, validBetween(s.now.AddDate(0, 0, -30), s.now.Add(-time.Hour)))
		s.NoError(s.svc.Validate(s.ctx, s.conn(leaf)))
	})

	s.Run("expiry is checked without chain validation", func() {
		s.configure(func(c *models.Config) { c.ValidateChain = false })
		leaf := s.pki.leaf(host, nil, validBetween(s.now.AddDate(0, 0, -30), s.now.Add(-time.Hour)))
		s.ErrorIs(s.svc.Validate(s.ctx, s.conn(leaf)), models.ErrExpired)
	})

	s.Run("pin failure is reported before expiry", func() {
		other := s.pki.leaf(host, nil)
		s.configure(func(c *models.Config) {
			c.PinnedCertificates = map[string]string{host: models.CertificatePin(other).Hash}
		})
		leaf := s.pki.leaf(host, nil, validBetween(s.now.AddDate(0, 0, -30), s.now.Add(-time.Hour)))
		s.ErrorIs(s.svc.Validate(s.ctx, s.conn(leaf)), models.ErrPinningFailed)
	})
}

func (s *TrustSuite) TestReportOnly() {
	pinned := s.pki.leaf(host, nil)
	presented := s.pki.leaf(host, nil)

	s.Run("pin failure is reported and allowed", func() {
		var (
			mu       sync.Mutex
			received []models.FailureReport
		)
		s.configure(func(c *models.Config) {
			c.ReportOnly = true
			c.PinnedCertificates = map[string]string{host: models.CertificatePin(pinned).Hash}
			c.FailureHandler = func(r models.FailureReport) {
				mu.Lock()
				defer mu.Unlock()
				received = append(received, r)
			}
		})

		s.NoError(s.svc.Validate(s.ctx, s.conn(presented)))

		reports := s.svc.Reports()
		s.Require().Len(reports, 1)
		s.Equal(host, reports[0].Host)
		s.Equal(models.KindPinningFailed, reports[0].Kind)
		s.Contains(reports[0].FailureReason, "pinning failed")
		s.True(reports[0].Timestamp.Equal(s.now))
		s.Require().NotNil(reports[0].CertificateInfo)
		s.Equal(models.PublicKeyPin(presented).Hash, reports[0].CertificateInfo.PublicKeyHash)

		mu.Lock()
		s.Len(received, 1)
		mu.Unlock()

		entries := s.auditEntries(audit.OperationPinningFailure)
		s.Require().Len(entries, 1)
		s.Equal(audit.OutcomeReported, entries[0].Outcome)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Reports))
	})

	s.Run("expired certificate is reported and allowed", func() {
		s.configure(func(c *models.Config) { c.ReportOnly = true })
		leaf := s.pki.leaf(host, nil, validBetween(s.now.AddDate(0, 0, -30), s.now.Add(-time.Hour)))
		before := len(s.svc.Reports())
		s.NoError(s.svc.Validate(s.ctx, s.conn(leaf)))
		reports := s.svc.Reports()
		s.Require().Len(reports, before+1)
		s.Equal(models.KindExpired, reports[len(reports)-1].Kind)
	})

	s.Run("reports are capped", func() {
		s.configure(func(c *models.Config) {
			c.ReportOnly = true
			c.PinnedCertificates = map[string]string{host: models.CertificatePin(pinned).Hash}
		})
		for range maxReports + 5 {
			s.Require().NoError(s.svc.Validate(s.ctx, s.conn(presented)))
		}
		s.Len(s.svc.Reports(), maxReports)
	})
}

func (s *TrustSuite) TestValidateURL() {
	s.configure()

	s.Run("https is accepted", func() {
		s.NoError(s.svc.ValidateURL("https://api.example.com/v1"))
		s.NoError(s.svc.ValidateURL("HTTPS://api.example.com"))
	})

	s.Run("plain http is rejected", func() {
		err := s.svc.ValidateURL("http://api.example.com/v1")
		s.ErrorIs(err, models.ErrInsecureConnection)
		s.Equal("api.example.com", s.trustError(err).Host)
	})

	s.Run("missing host is rejected", func() {
		s.ErrorIs(s.svc.ValidateURL("https:///path"), models.ErrInsecureConnection)
	})

	s.Run("unparseable URL is rejected", func() {
		s.ErrorIs(s.svc.ValidateURL("https://exa mple.com/%zz"), models.ErrInsecureConnection)
	})

	s.Run("report-only does not relax the scheme", func() {
		s.configure(func(c *models.Config) { c.ReportOnly = true })
		s.ErrorIs(s.svc.ValidateURL("ws://api.example.com"), models.ErrInsecureConnection)
	})
}

func (s *TrustSuite) ocspResponse(leaf *x509.Certificate, status int, mods ...func(*ocsp.Response)) []byte {
	tmpl := ocsp.Response{
		Status:       status,
		SerialNumber: leaf.SerialNumber,
		ThisUpdate:   s.now.Add(-time.Hour),
		NextUpdate:   s.now.Add(24 * time.Hour),
	}
	for _, mod := range mods {
		mod(&tmpl)
	}
	der, err := ocsp.CreateResponse(s.pki.inter, s.pki.inter, tmpl, s.pki.interKey)
	s.Require().NoError(err)
	return der
}

func (s *TrustSuite) respondOCSP(der []byte) {
	s.ocspMock.RegisterResponder(http.MethodPost, ocspURL, func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Content-Type") != "application/ocsp-request" {
			return httpmock.NewStringResponse(http.StatusBadRequest, "bad content type"), nil
		}
		resp := httpmock.NewBytesResponse(http.StatusOK, der)
		resp.Header.Set("Content-Type", "application/ocsp-response")
		return resp, nil
	})
}

func (s *TrustSuite) TestRevocation() {
	leaf := s.pki.leaf(host, nil, withOCSPServer(ocspURL))
	enable := func(failClosed bool) func(*models.Config) {
		return func(c *models.Config) {
			c.EnableOCSP = true
			c.FailOnRevoked = failClosed
		}
	}

	s.Run("good status is trusted and cached", func() {
		s.ocspMock.Reset()
		s.respondOCSP(s.ocspResponse(leaf, ocsp.Good))
		s.configure(enable(true))

		s.NoError(s.svc.Validate(s.ctx, s.conn(leaf)))
		s.NoError(s.svc.Validate(s.ctx, s.conn(leaf)))
		s.Equal(1, s.ocspMock.GetTotalCallCount())
		s.Equal(1.0, testutil.ToFloat64(s.metrics.OCSPCacheHits))
	})

	s.Run("revoked certificate is rejected", func() {
		s.ocspMock.Reset()
		revokedAt := s.now.Add(-48 * time.Hour).Truncate(time.Second)
		s.respondOCSP(s.ocspResponse(leaf, ocsp.Revoked, func(r *ocsp.Response) {
			r.RevokedAt = revokedAt
			r.RevocationReason = ocsp.KeyCompromise
		}))
		s.configure(enable(false))

		terr := s.trustError(s.svc.Validate(s.ctx, s.conn(leaf)))
		s.Equal(models.KindRevoked, terr.Kind)
		s.True(terr.At.Equal(revokedAt))
		s.Equal("key compromise", terr.Reason)
	})

	s.Run("unknown status fails closed when configured", func() {
		s.ocspMock.Reset()
		s.respondOCSP(s.ocspResponse(leaf, ocsp.Unknown))
		s.configure(enable(true))
		s.ErrorIs(s.svc.Validate(s.ctx, s.conn(leaf)), models.ErrRevocationUnknown)
	})

	s.Run("unknown status passes when fail open", func() {
		s.ocspMock.Reset()
		s.respondOCSP(s.ocspResponse(leaf, ocsp.Unknown))
		s.configure(enable(false))
		s.NoError(s.svc.Validate(s.ctx, s.conn(leaf)))
	})

	s.Run("responder error follows the failure mode", func() {
		s.ocspMock.Reset()
		s.ocspMock.RegisterResponder(http.MethodPost, ocspURL, httpmock.NewStringResponder(http.StatusInternalServerError, "down"))

		s.configure(enable(false))
		s.NoError(s.svc.Validate(s.ctx, s.conn(leaf)))

		s.configure(enable(true))
		s.ErrorIs(s.svc.Validate(s.ctx, s.conn(leaf)), models.ErrRevocationUnknown)
		s.Equal(2.0, testutil.ToFloat64(s.metrics.OCSPRequests.WithLabelValues("error")))
	})

	s.Run("stale response is not trusted", func() {
		s.ocspMock.Reset()
		s.respondOCSP(s.ocspResponse(leaf, ocsp.Good, func(r *ocsp.Response) {
			r.ThisUpdate = s.now.Add(-72 * time.Hour)
			r.NextUpdate = s.now.Add(-48 * time.Hour)
		}))
		s.configure(enable(true))
		s.ErrorIs(s.svc.Validate(s.ctx, s.conn(leaf)), models.ErrRevocationUnknown)
	})

	s.Run("fresh staple avoids the responder", func() {
		s.ocspMock.Reset()
		s.configure(enable(true))
		conn := s.conn(leaf)
		conn.OCSPStaple = s.ocspResponse(leaf, ocsp.Good)
		s.NoError(s.svc.Validate(s.ctx, conn))
		s.Zero(s.ocspMock.GetTotalCallCount())
	})

	s.Run("stapled revocation is rejected", func() {
		s.ocspMock.Reset()
		s.configure(enable(false))
		conn := s.conn(leaf)
		conn.OCSPStaple = s.ocspResponse(leaf, ocsp.Revoked, func(r *ocsp.Response) {
			r.RevokedAt = s.now.Add(-time.Hour)
		})
		s.ErrorIs(s.svc.Validate(s.ctx, conn), models.ErrRevoked)
	})

	s.Run("revocation is reported in report-only mode", func() {
		s.ocspMock.Reset()
		s.respondOCSP(s.ocspResponse(leaf, ocsp.Revoked, func(r *ocsp.Response) {
			r.RevokedAt = s.now.Add(-time.Hour)
		}))
		s.configure(enable(true), func(c *models.Config) { c.ReportOnly = true })
		s.NoError(s.svc.Validate(s.ctx, s.conn(leaf)))
		reports := s.svc.Reports()
		s.Require().NotEmpty(reports)
		s.Equal(models.KindRevoked, reports[len(reports)-1].Kind)
	})
}

func (s *TrustSuite) TestCertificateTransparency() {
	logA, logB := newKey(s.T()), newKey(s.T())
	leaf := s.pki.leaf(host, nil)
	trusted := func(c *models.Config) {
		c.RequireCertificateTransparency = true
		c.MinimumSCTs = 2
		c.TrustedLogs = []models.CTLog{
			{Name: "log-a", PublicKey: &logA.PublicKey},
			{Name: "log-b", PublicKey: &logB.PublicKey},
		}
	}
	issued := s.now.Add(-time.Hour)

	s.Run("two logs satisfy the minimum", func() {
		s.configure(trusted)
		conn := s.conn(leaf)
		conn.SCTs = [][]byte{signSCT(s.T(), logA, leaf, issued), signSCT(s.T(), logB, leaf, issued)}
		s.NoError(s.svc.Validate(s.ctx, conn))
	})

	s.Run("one log is insufficient", func() {
		s.configure(trusted)
		conn := s.conn(leaf)
		conn.SCTs = [][]byte{signSCT(s.T(), logA, leaf, issued)}
		terr := s.trustError(s.svc.Validate(s.ctx, conn))
		s.Equal(models.KindInsufficientSCTs, terr.Kind)
		s.Equal(2, terr.Required)
		s.Equal(1, terr.Found)
	})

	s.Run("the same log counts once", func() {
		s.configure(trusted)
		conn := s.conn(leaf)
		conn.SCTs = [][]byte{signSCT(s.T(), logA, leaf, issued), signSCT(s.T(), logA, leaf, issued.Add(time.Minute))}
		s.Equal(1, s.trustError(s.svc.Validate(s.ctx, conn)).Found)
	})

	s.Run("untrusted logs and future timestamps do not count", func() {
		s.configure(trusted)
		conn := s.conn(leaf)
		conn.SCTs = [][]byte{
			signSCT(s.T(), newKey(s.T()), leaf, issued),
			signSCT(s.T(), logB, leaf, s.now.Add(time.Hour)),
			[]byte("garbage"),
		}
		s.Zero(s.trustError(s.svc.Validate(s.ctx, conn)).Found)
	})

	s.Run("signature over another certificate does not count", func() {
		s.configure(trusted)
		other := s.pki.leaf(host, nil)
		conn := s.conn(leaf)
		conn.SCTs = [][]byte{signSCT(s.T(), logA, other, issued), signSCT(s.T(), logB, leaf, issued)}
		s.Equal(1, s.trustError(s.svc.Validate(s.ctx, conn)).Found)
	})

	s.Run("embedded SCTs count without a log list", func() {
		donor := s.pki.leaf(host, nil)
		embedded := s.pki.leaf(host, nil, withEmbeddedSCTs(
			signSCT(s.T(), logA, donor, issued),
			signSCT(s.T(), logB, donor, issued),
		))
		s.configure(func(c *models.Config) {
			c.RequireCertificateTransparency = true
			c.MinimumSCTs = 2
		})
		s.NoError(s.svc.Validate(s.ctx, s.conn(embedded)))
	})

	s.Run("missing SCTs are reported in report-only mode", func() {
		s.configure(trusted, func(c *models.Config) { c.ReportOnly = true })
		s.NoError(s.svc.Validate(s.ctx, s.conn(leaf)))
		reports := s.svc.Reports()
		s.Require().NotEmpty(reports)
		s.Equal(models.KindInsufficientSCTs, reports[len(reports)-1].Kind)
	})
}

func (s *TrustSuite) TestHTTPClient() {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	roots := x509.NewCertPool()
	roots.AddCert(server.Certificate())
	client := func(pin models.Pin) *http.Client {
		s.Require().NoError(s.svc.Configure(context.Background(), models.Config{
			ValidateChain:      true,
			CheckExpiration:    true,
			Roots:              roots,
			PinnedCertificates: map[string]string{"example.com": pin.Hash},
		}))
		c := s.svc.HTTPClient()
		tr := c.Transport.(*httpsOnly).next.(*http.Transport)
		tr.TLSClientConfig.ServerName = "example.com"
		return c
	}

	s.Run("pinned server is reachable", func() {
		resp, err := client(models.CertificatePin(server.Certificate())).Get(server.URL)
		s.Require().NoError(err)
		defer resp.Body.Close()
		s.Equal(http.StatusNoContent, resp.StatusCode)
	})

	s.Run("pin mismatch aborts the handshake", func() {
		_, err := client(models.CertificatePin(s.pki.inter)).Get(server.URL)
		s.Require().Error(err)
		s.Contains(err.Error(), "pinning failed")
	})

	s.Run("plain http is refused before dialing", func() {
		_, err := client(models.CertificatePin(server.Certificate())).Get("http://example.com/")
		s.ErrorIs(err, models.ErrInsecureConnection)
	})

	s.Run("tls config enforces the minimum version", func() {
		s.configure(func(c *models.Config) { c.MinimumTLSVersion = tls.VersionTLS13 })
		cfg := s.svc.TLSConfig()
		s.Equal(uint16(tls.VersionTLS13), cfg.MinVersion)
		s.NotNil(cfg.VerifyConnection)
	})
}
