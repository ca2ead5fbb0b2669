package service

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"

	"trustkit/internal/trust/models"
)

// VerifyConnection plugs the validator into crypto/tls. Standard verification
// must be disabled on the same config, since Validate builds the chain itself.
func (s *Service) VerifyConnection(cs tls.ConnectionState) error {
	return s.Validate(context.Background(), ConnectionFromState(cs))
}

// ConnectionFromState copies what the validator needs from a handshake.
func ConnectionFromState(cs tls.ConnectionState) models.Connection {
	return models.Connection{
		Host:             cs.ServerName,
		TLSVersion:       cs.Version,
		PeerCertificates: cs.PeerCertificates,
		SCTs:             cs.SignedCertificateTimestamps,
		OCSPStaple:       cs.OCSPResponse,
	}
}

// TLSConfig returns a client config that trusts exactly what Validate trusts.
func (s *Service) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: s.Config().MinimumTLSVersion,
		// Validate performs chain verification against the configured roots.
		InsecureSkipVerify: true, //nolint:gosec
		VerifyConnection:   s.VerifyConnection,
	}
}

// HTTPClient returns a client that refuses plain http, including on
// redirects, and validates every TLS peer.
func (s *Service) HTTPClient() *http.Client {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		base = &http.Transport{}
	}
	tr := base.Clone()
	tr.TLSClientConfig = s.TLSConfig()
	return &http.Client{
		Transport: &httpsOnly{next: tr, svc: s},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return s.ValidateURL(req.URL.String())
		},
	}
}

type httpsOnly struct {
	next http.RoundTripper
	svc  *Service
}

func (t *httpsOnly) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.svc.ValidateURL(req.URL.String()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}
