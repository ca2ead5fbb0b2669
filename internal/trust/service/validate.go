package service

import (
	"context"
	"crypto/x509"
	"errors"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustkit/internal/trust/models"
	audit "trustkit/pkg/platform/audit"
	"trustkit/pkg/requestcontext"
)

// ValidateURL rejects anything that is not https. It applies in every mode.
func (s *Service) ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return s.countFailure(&models.TrustError{Kind: models.KindInsecureConnection, Reason: "unparseable URL", Err: err})
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return s.countFailure(&models.TrustError{
			Kind:   models.KindInsecureConnection,
			Host:   u.Hostname(),
			Reason: "scheme " + u.Scheme + " is not https",
		})
	}
	if u.Host == "" {
		return s.countFailure(&models.TrustError{Kind: models.KindInsecureConnection, Reason: "URL has no host"})
	}
	return nil
}

// Validate runs the pipeline for one connection: TLS version, chain, pin,
// validity, revocation and transparency. The first failure wins. In
// report-only mode a reportable failure is recorded and the connection is
// accepted.
func (s *Service) Validate(ctx context.Context, conn models.Connection) (err error) {
	host := normalizeHost(conn.Host)
	ctx, span := s.tracer.Start(ctx, "trust.Validate", trace.WithAttributes(
		attribute.String("trust.host", host),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "untrusted connection")
		}
		span.End()
	}()

	s.mu.RLock()
	cfg := s.cfg
	row, pinned := s.lookupLocked(host)
	logs := s.logIDs
	s.mu.RUnlock()

	now := requestcontext.Now(ctx)
	terr := s.evaluate(ctx, cfg, host, row, pinned, logs, conn, now)
	if terr == nil {
		s.countValidation("trusted")
		return nil
	}
	terr.Host = host
	s.countFailure(terr)

	if cfg.ReportOnly && terr.Reportable() {
		s.report(ctx, cfg, conn, terr, now)
		s.countValidation("reported")
		return nil
	}
	s.countValidation("rejected")
	s.logger.WarnContext(ctx, "connection rejected", "host", host, "kind", terr.Kind)
	s.emit(ctx, audit.OperationPinningFailure, host, audit.OutcomeDenied, terr.Error())
	return terr
}

func (s *Service) evaluate(ctx context.Context, cfg models.Config, host string, row models.PinnedHost, pinned bool,
	logs map[[32]byte]models.CTLog, conn models.Connection, now time.Time,
) *models.TrustError {
	if len(conn.PeerCertificates) == 0 {
		return &models.TrustError{Kind: models.KindInvalidChain, Reason: "no certificates presented"}
	}
	if conn.TLSVersion < cfg.MinimumTLSVersion {
		return &models.TrustError{
			Kind:            models.KindTLSVersionTooLow,
			RequiredVersion: cfg.MinimumTLSVersion,
			FoundVersion:    conn.TLSVersion,
		}
	}

	leaf := conn.PeerCertificates[0]
	var issuer *x509.Certificate
	if len(conn.PeerCertificates) > 1 {
		issuer = conn.PeerCertificates[1]
	}
	// Pins are matched against the verified chain, or the leaf alone when the
	// chain is not verified.
	chain := []*x509.Certificate{leaf}
	checkTimes := cfg.CheckExpiration
	if cfg.ValidateChain {
		verified, shifted, terr := verifyChain(cfg, host, conn.PeerCertificates, now)
		if terr != nil {
			return terr
		}
		chain = verified
		if len(verified) > 1 {
			issuer = verified[1]
		}
		checkTimes = checkTimes || shifted
	}

	if pinned && !row.ExpiredAt(now) && !matchesPins(row.AcceptedAt(now), chain) {
		return &models.TrustError{Kind: models.KindPinningFailed, Reason: "certificate does not match pinned certificate"}
	}

	if checkTimes {
		for _, c := range slices.Concat(chain, conn.PeerCertificates) {
			if now.After(c.NotAfter) {
				return &models.TrustError{Kind: models.KindExpired, At: c.NotAfter, Reason: c.Subject.CommonName}
			}
			if now.Before(c.NotBefore) {
				return &models.TrustError{Kind: models.KindNotYetValid, At: c.NotBefore, Reason: c.Subject.CommonName}
			}
		}
	}

	if cfg.EnableOCSP {
		if terr := s.checkRevocation(ctx, cfg, leaf, issuer, conn.OCSPStaple, now); terr != nil {
			return terr
		}
	}

	if cfg.RequireCertificateTransparency {
		found := countSCTs(leaf, conn.SCTs, logs, now)
		if found < cfg.MinimumSCTs {
			return &models.TrustError{Kind: models.KindInsufficientSCTs, Required: cfg.MinimumSCTs, Found: found}
		}
	}
	return nil
}

// verifyChain builds a chain to the configured roots. A chain that only fails
// on validity times is verified again at a time every presented certificate
// covers; shifted reports that, so the validity step still rejects it in
// order.
func verifyChain(cfg models.Config, host string, certs []*x509.Certificate, now time.Time) ([]*x509.Certificate, bool, *models.TrustError) {
	opts := x509.VerifyOptions{
		DNSName:       host,
		Roots:         cfg.Roots,
		Intermediates: x509.NewCertPool(),
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if cfg.Intermediates != nil {
		opts.Intermediates = cfg.Intermediates.Clone()
	}
	for _, c := range certs[1:] {
		opts.Intermediates.AddCert(c)
	}

	chains, err := certs[0].Verify(opts)
	shifted := false
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) && invalid.Reason == x509.Expired {
		if at, ok := validityOverlap(certs); ok {
			opts.CurrentTime = at
			chains, err = certs[0].Verify(opts)
			shifted = err == nil
		}
	}
	if err != nil {
		return nil, false, &models.TrustError{Kind: models.KindInvalidChain, Reason: err.Error(), Err: err}
	}
	return chains[0], shifted, nil
}

func validityOverlap(certs []*x509.Certificate) (time.Time, bool) {
	start, end := certs[0].NotBefore, certs[0].NotAfter
	for _, c := range certs[1:] {
		if c.NotBefore.After(start) {
			start = c.NotBefore
		}
		if c.NotAfter.Before(end) {
			end = c.NotAfter
		}
	}
	return start, !start.After(end)
}

func matchesPins(accepted []models.Pin, chain []*x509.Certificate) bool {
	for _, c := range chain {
		for _, p := range accepted {
			if models.PinFor(p.Kind, c) == p {
				return true
			}
		}
	}
	return false
}

func (s *Service) report(ctx context.Context, cfg models.Config, conn models.Connection, terr *models.TrustError, now time.Time) {
	var leaf *x509.Certificate
	if len(conn.PeerCertificates) > 0 {
		leaf = conn.PeerCertificates[0]
	}
	r := models.FailureReport{
		Host:            terr.Host,
		Kind:            terr.Kind,
		FailureReason:   terr.Error(),
		CertificateInfo: models.NewCertificateInfo(leaf),
		Timestamp:       now,
	}

	s.reportsMu.Lock()
	s.reports = append(s.reports, r)
	if len(s.reports) > maxReports {
		s.reports = slices.Delete(s.reports, 0, len(s.reports)-maxReports)
	}
	s.reportsMu.Unlock()

	if s.metrics != nil {
		s.metrics.IncReport()
	}
	s.logger.WarnContext(ctx, "trust failure reported, connection allowed",
		"host", r.Host,
		"kind", r.Kind,
	)
	s.emit(ctx, audit.OperationPinningFailure, r.Host, audit.OutcomeReported, r.FailureReason)
	if cfg.FailureHandler != nil {
		cfg.FailureHandler(r)
	}
}

func (s *Service) countFailure(terr *models.TrustError) *models.TrustError {
	if s.metrics != nil {
		s.metrics.IncFailure(string(terr.Kind))
	}
	return terr
}

func (s *Service) countValidation(result string) {
	if s.metrics != nil {
		s.metrics.IncValidation(result)
	}
}
