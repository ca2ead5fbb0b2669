package models

import (
	"crypto"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// PinKind says what a pin hashes.
type PinKind string

const (
	PinCertificate PinKind = "certificate"
	PinPublicKey   PinKind = "publicKey"
)

var pinPrefixes = map[PinKind]string{
	PinCertificate: "cert-sha256:",
	PinPublicKey:   "spki-sha256:",
}

// Pin is the base64 SHA-256 of a certificate's DER or of its
// SubjectPublicKeyInfo.
type Pin struct {
	Kind PinKind `json:"kind"`
	Hash string  `json:"hash"`
}

// String renders the pin as "cert-sha256:<b64>" or "spki-sha256:<b64>".
func (p Pin) String() string {
	return pinPrefixes[p.Kind] + p.Hash
}

// ParsePin accepts the String form. A bare hash is read as a public-key pin.
func ParsePin(s string) (Pin, error) {
	p := Pin{Kind: PinPublicKey, Hash: s}
	for kind, prefix := range pinPrefixes {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			p = Pin{Kind: kind, Hash: rest}
			break
		}
	}
	return p, p.Validate()
}

func (p Pin) Validate() error {
	if _, ok := pinPrefixes[p.Kind]; !ok {
		return fmt.Errorf("unknown pin kind %q", p.Kind)
	}
	raw, err := base64.StdEncoding.DecodeString(p.Hash)
	if err != nil || len(raw) != sha256.Size {
		return errors.New("pin hash must be base64 of a SHA-256 digest")
	}
	return nil
}

// CertificatePin hashes the certificate's DER encoding.
func CertificatePin(cert *x509.Certificate) Pin {
	sum := sha256.Sum256(cert.Raw)
	return Pin{Kind: PinCertificate, Hash: base64.StdEncoding.EncodeToString(sum[:])}
}

// PublicKeyPin hashes the certificate's SubjectPublicKeyInfo, so it survives
// re-issuance with the same key.
func PublicKeyPin(cert *x509.Certificate) Pin {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return Pin{Kind: PinPublicKey, Hash: base64.StdEncoding.EncodeToString(sum[:])}
}

// PinFor computes a pin of the given kind for cert.
func PinFor(kind PinKind, cert *x509.Certificate) Pin {
	if kind == PinPublicKey {
		return PublicKeyPin(cert)
	}
	return CertificatePin(cert)
}

// Rotation keeps the previous pins valid until Until.
type Rotation struct {
	Previous []Pin     `json:"previous"`
	Until    time.Time `json:"until"`
}

// PinnedHost is one row of the pin table.
type PinnedHost struct {
	Host    string `json:"host"`
	Primary []Pin  `json:"primary"`
	Backups []Pin  `json:"backups,omitempty"`
	// ExpiresAt ends enforcement of this row; zero never expires.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Rotation  *Rotation `json:"rotation,omitempty"`
}

// AcceptedAt returns every pin that validates at now.
func (h PinnedHost) AcceptedAt(now time.Time) []Pin {
	pins := slices.Concat(h.Primary, h.Backups)
	if h.Rotation != nil && now.Before(h.Rotation.Until) {
		pins = append(pins, h.Rotation.Previous...)
	}
	return pins
}

// ExpiredAt reports whether the row is no longer enforced.
func (h PinnedHost) ExpiredAt(now time.Time) bool {
	return !h.ExpiresAt.IsZero() && !now.Before(h.ExpiresAt)
}

// Clone returns a deep copy.
func (h PinnedHost) Clone() PinnedHost {
	out := h
	out.Primary = slices.Clone(h.Primary)
	out.Backups = slices.Clone(h.Backups)
	if h.Rotation != nil {
		r := *h.Rotation
		r.Previous = slices.Clone(h.Rotation.Previous)
		out.Rotation = &r
	}
	return out
}

// CTLog is a Certificate Transparency log the validator trusts.
type CTLog struct {
	Name      string
	PublicKey crypto.PublicKey
}

// LogID is the SHA-256 of the log's DER SubjectPublicKeyInfo.
func (l CTLog) LogID() ([32]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(l.PublicKey)
	if err != nil {
		return [32]byte{}, fmt.Errorf("marshal log key: %w", err)
	}
	return sha256.Sum256(der), nil
}

// ParseCTLog reads a log key given as base64 DER SubjectPublicKeyInfo.
func ParseCTLog(name, b64 string) (CTLog, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return CTLog{}, fmt.Errorf("decode log key %q: %w", name, err)
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return CTLog{}, fmt.Errorf("parse log key %q: %w", name, err)
	}
	return CTLog{Name: name, PublicKey: key}, nil
}

// FailureHandler receives reports of failures that report-only mode let
// through.
type FailureHandler func(FailureReport)

// Config is the validator's whole policy. Map keys are host names; a leading
// "*." matches exactly one extra label.
type Config struct {
	PinnedCertificates map[string]string
	PinnedPublicKeys   map[string]string
	BackupCertificates map[string][]Pin
	PinExpirations     map[string]time.Time

	ValidateChain bool
	Roots         *x509.CertPool
	Intermediates *x509.CertPool

	CheckExpiration bool

	EnableOCSP    bool
	FailOnRevoked bool
	OCSPTimeout   time.Duration

	RequireCertificateTransparency bool
	MinimumSCTs                    int
	TrustedLogs                    []CTLog

	ReportOnly     bool
	FailureHandler FailureHandler

	MinimumTLSVersion uint16
}

func DefaultConfig() Config {
	return Config{
		ValidateChain:     true,
		CheckExpiration:   true,
		OCSPTimeout:       5 * time.Second,
		MinimumSCTs:       2,
		MinimumTLSVersion: tls.VersionTLS12,
	}
}

// Connection is what the validator sees of one TLS handshake.
type Connection struct {
	Host             string
	TLSVersion       uint16
	PeerCertificates []*x509.Certificate
	SCTs             [][]byte
	OCSPStaple       []byte
}

// CertificateInfo describes a certificate without its key material.
type CertificateInfo struct {
	Subject       string    `json:"subject"`
	Issuer        string    `json:"issuer"`
	SerialNumber  string    `json:"serial_number"`
	NotBefore     time.Time `json:"not_before"`
	NotAfter      time.Time `json:"not_after"`
	PublicKeyHash string    `json:"public_key_hash"`
}

func NewCertificateInfo(cert *x509.Certificate) *CertificateInfo {
	if cert == nil {
		return nil
	}
	return &CertificateInfo{
		Subject:       cert.Subject.String(),
		Issuer:        cert.Issuer.String(),
		SerialNumber:  cert.SerialNumber.Text(16),
		NotBefore:     cert.NotBefore,
		NotAfter:      cert.NotAfter,
		PublicKeyHash: PublicKeyPin(cert).Hash,
	}
}

// FailureReport records a failure that report-only mode did not block.
type FailureReport struct {
	Host            string           `json:"host"`
	Kind            Kind             `json:"kind"`
	FailureReason   string           `json:"failure_reason"`
	CertificateInfo *CertificateInfo `json:"certificate_info,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
}
