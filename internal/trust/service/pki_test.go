package service

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/cryptobyte"
)

var serials atomic.Int64

// testPKI is a root and an intermediate that issue leaf certificates.
type testPKI struct {
	t        *testing.T
	now      time.Time
	rootKey  *ecdsa.PrivateKey
	root     *x509.Certificate
	interKey *ecdsa.PrivateKey
	inter    *x509.Certificate
}

func newTestPKI(t *testing.T, now time.Time) *testPKI {
	t.Helper()
	p := &testPKI{t: t, now: now}
	p.rootKey = newKey(t)
	p.root = p.sign(&x509.Certificate{
		Subject:               pkix.Name{CommonName: "Test Root"},
		NotBefore:             now.AddDate(-1, 0, 0),
		NotAfter:              now.AddDate(10, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}, nil, &p.rootKey.PublicKey, p.rootKey)
	p.interKey = newKey(t)
	p.inter = p.sign(&x509.Certificate{
		Subject:               pkix.Name{CommonName: "Test Intermediate"},
		NotBefore:             now.AddDate(-1, 0, 0),
		NotAfter:              now.AddDate(5, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}, p.root, &p.interKey.PublicKey, p.rootKey)
	return p
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func (p *testPKI) sign(tmpl, parent *x509.Certificate, pub *ecdsa.PublicKey, signer *ecdsa.PrivateKey) *x509.Certificate {
	p.t.Helper()
	tmpl.SerialNumber = big.NewInt(serials.Add(1))
	if parent == nil {
		parent = tmpl
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	require.NoError(p.t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(p.t, err)
	return cert
}

type leafOption func(*x509.Certificate)

func validBetween(from, to time.Time) leafOption {
	return func(c *x509.Certificate) {
		c.NotBefore = from
		c.NotAfter = to
	}
}

func withOCSPServer(url string) leafOption {
	return func(c *x509.Certificate) {
		c.OCSPServer = []string{url}
	}
}

func withEmbeddedSCTs(scts ...[]byte) leafOption {
	return func(c *x509.Certificate) {
		var b cryptobyte.Builder
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, raw := range scts {
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddBytes(raw)
				})
			}
		})
		list, err := b.Bytes()
		if err != nil {
			panic(err)
		}
		value, err := asn1.Marshal(list)
		if err != nil {
			panic(err)
		}
		c.ExtraExtensions = append(c.ExtraExtensions, pkix.Extension{Id: oidSCTList, Value: value})
	}
}

// leaf issues a server certificate for host from the intermediate.
func (p *testPKI) leaf(host string, key *ecdsa.PrivateKey, opts ...leafOption) *x509.Certificate {
	p.t.Helper()
	if key == nil {
		key = newKey(p.t)
	}
	tmpl := &x509.Certificate{
		Subject:     pkix.Name{CommonName: host},
		DNSNames:    []string{host},
		NotBefore:   p.now.AddDate(0, 0, -1),
		NotAfter:    p.now.AddDate(0, 0, 90),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, opt := range opts {
		opt(tmpl)
	}
	return p.sign(tmpl, p.inter, &key.PublicKey, p.interKey)
}

func (p *testPKI) roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(p.root)
	return pool
}

// chain is the leaf followed by the intermediate, as a server sends it.
func (p *testPKI) chain(leaf *x509.Certificate) []*x509.Certificate {
	return []*x509.Certificate{leaf, p.inter}
}

// signSCT produces a v1 SCT for leaf from the log holding key.
func signSCT(t *testing.T, key *ecdsa.PrivateKey, leaf *x509.Certificate, at time.Time) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	logID := sha256.Sum256(der)

	entry := sct{Version: sctVersionV1, Timestamp: uint64(at.UnixMilli())}
	signed, err := sctSignedData(entry, leaf.Raw)
	require.NoError(t, err)
	digest := sha256.Sum256(signed)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	require.NoError(t, err)

	var b cryptobyte.Builder
	b.AddUint8(sctVersionV1)
	b.AddBytes(logID[:])
	b.AddUint64(entry.Timestamp)
	b.AddUint16LengthPrefixed(func(*cryptobyte.Builder) {})
	b.AddUint8(hashSHA256)
	b.AddUint8(sigECDSA)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(sig)
	})
	raw, err := b.Bytes()
	require.NoError(t, err)
	return raw
}
