package service

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/ocsp"

	"trustkit/internal/trust/models"
)

// ocspClockSkew tolerates responders whose clocks run slightly behind.
const ocspClockSkew = 5 * time.Minute

var errNoIssuer = errors.New("issuer certificate not available")

var revocationReasons = map[int]string{
	ocsp.Unspecified:          "unspecified",
	ocsp.KeyCompromise:        "key compromise",
	ocsp.CACompromise:         "CA compromise",
	ocsp.AffiliationChanged:   "affiliation changed",
	ocsp.Superseded:           "superseded",
	ocsp.CessationOfOperation: "cessation of operation",
	ocsp.CertificateHold:      "certificate hold",
	ocsp.RemoveFromCRL:        "remove from CRL",
	ocsp.PrivilegeWithdrawn:   "privilege withdrawn",
	ocsp.AACompromise:         "AA compromise",
}

// checkRevocation asks OCSP about the leaf. A stapled response is used when
// it is fresh, then the cache, then each responder the leaf names. When the
// status cannot be learned the connection passes unless FailOnRevoked is set.
func (s *Service) checkRevocation(ctx context.Context, cfg models.Config, leaf, issuer *x509.Certificate, staple []byte, now time.Time) *models.TrustError {
	resp, err := s.ocspStatus(ctx, cfg, leaf, issuer, staple, now)
	if err != nil {
		s.logger.DebugContext(ctx, "revocation status unavailable", "error", err)
		if cfg.FailOnRevoked {
			return &models.TrustError{Kind: models.KindRevocationUnknown, Reason: err.Error(), Err: err}
		}
		return nil
	}

	switch resp.Status {
	case ocsp.Good:
		return nil
	case ocsp.Revoked:
		reason, ok := revocationReasons[resp.RevocationReason]
		if !ok {
			reason = fmt.Sprintf("reason %d", resp.RevocationReason)
		}
		return &models.TrustError{Kind: models.KindRevoked, At: resp.RevokedAt, Reason: reason}
	default:
		if cfg.FailOnRevoked {
			return &models.TrustError{Kind: models.KindRevocationUnknown, Reason: "responder does not know the certificate"}
		}
		return nil
	}
}

func (s *Service) ocspStatus(ctx context.Context, cfg models.Config, leaf, issuer *x509.Certificate, staple []byte, now time.Time) (*ocsp.Response, error) {
	if issuer == nil {
		return nil, errNoIssuer
	}
	if len(staple) > 0 {
		resp, err := ocsp.ParseResponseForCert(staple, leaf, issuer)
		if err == nil && fresh(resp, now) {
			s.countOCSP("staple")
			return resp, nil
		}
		s.logger.DebugContext(ctx, "ignoring stapled OCSP response", "fresh", err == nil)
	}

	key := ocspCacheKey(leaf, issuer)
	if resp, ok := s.ocspCache.Get(key); ok && fresh(resp, now) {
		if s.metrics != nil {
			s.metrics.IncOCSPCacheHit()
		}
		return resp, nil
	}

	if len(leaf.OCSPServer) == 0 {
		return nil, errors.New("certificate names no OCSP responder")
	}
	req, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return nil, fmt.Errorf("create OCSP request: %w", err)
	}

	var errs []error
	for _, server := range leaf.OCSPServer {
		resp, err := s.queryResponder(ctx, cfg.OCSPTimeout, server, req, leaf, issuer)
		if err != nil {
			s.countOCSP("error")
			errs = append(errs, err)
			continue
		}
		if !fresh(resp, now) {
			s.countOCSP("stale")
			errs = append(errs, fmt.Errorf("%s: stale response", server))
			continue
		}
		s.countOCSP("ok")
		s.ocspCache.Add(key, resp)
		return resp, nil
	}
	return nil, errors.Join(errs...)
}

func (s *Service) queryResponder(ctx context.Context, timeout time.Duration, server string, req []byte, leaf, issuer *x509.Certificate) (*ocsp.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := s.ocspClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/ocsp-request").
		SetHeader("Accept", "application/ocsp-response").
		SetBody(req).
		Post(server)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", server, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("%s: responder returned %d", server, res.StatusCode())
	}
	resp, err := ocsp.ParseResponseForCert(res.Body(), leaf, issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", server, err)
	}
	return resp, nil
}

func fresh(resp *ocsp.Response, now time.Time) bool {
	if resp.ThisUpdate.After(now.Add(ocspClockSkew)) {
		return false
	}
	return resp.NextUpdate.IsZero() || now.Before(resp.NextUpdate.Add(ocspClockSkew))
}

func ocspCacheKey(leaf, issuer *x509.Certificate) string {
	sum := sha256.Sum256(issuer.RawSubjectPublicKeyInfo)
	return hex.EncodeToString(sum[:]) + ":" + leaf.SerialNumber.Text(16)
}

func (s *Service) countOCSP(result string) {
	if s.metrics != nil {
		s.metrics.IncOCSPRequest(result)
	}
}
