package service

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"time"

	"golang.org/x/crypto/cryptobyte"

	"trustkit/internal/trust/models"
)

// oidSCTList is the X.509 extension carrying embedded SCTs (RFC 6962 3.3).
var oidSCTList = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 4, 2}

const (
	sctVersionV1 = 0

	hashSHA256 = 4
	sigRSA     = 1
	sigECDSA   = 3
)

type sct struct {
	Version    uint8
	LogID      [32]byte
	Timestamp  uint64
	Extensions []byte
	HashAlg    uint8
	SigAlg     uint8
	Signature  []byte
	// Embedded SCTs sign the precertificate, which is not available here.
	Embedded bool
}

func (t sct) time() time.Time {
	return time.UnixMilli(int64(t.Timestamp))
}

func parseSCT(raw []byte) (sct, error) {
	var t sct
	var ext, sig cryptobyte.String
	var logID []byte
	in := cryptobyte.String(raw)
	if !in.ReadUint8(&t.Version) ||
		!in.ReadBytes(&logID, 32) ||
		!in.ReadUint64(&t.Timestamp) ||
		!in.ReadUint16LengthPrefixed(&ext) ||
		!in.ReadUint8(&t.HashAlg) ||
		!in.ReadUint8(&t.SigAlg) ||
		!in.ReadUint16LengthPrefixed(&sig) ||
		!in.Empty() {
		return sct{}, errors.New("malformed signed certificate timestamp")
	}
	copy(t.LogID[:], logID)
	t.Extensions = []byte(ext)
	t.Signature = []byte(sig)
	return t, nil
}

// embeddedSCTs reads the SCT list from the certificate extension. Malformed
// entries are skipped.
func embeddedSCTs(cert *x509.Certificate) []sct {
	var out []sct
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(oidSCTList) {
			continue
		}
		var octets []byte
		if _, err := asn1.Unmarshal(ext.Value, &octets); err != nil {
			return nil
		}
		var list cryptobyte.String
		in := cryptobyte.String(octets)
		if !in.ReadUint16LengthPrefixed(&list) {
			return nil
		}
		for !list.Empty() {
			var entry cryptobyte.String
			if !list.ReadUint16LengthPrefixed(&entry) {
				break
			}
			t, err := parseSCT(entry)
			if err != nil {
				continue
			}
			t.Embedded = true
			out = append(out, t)
		}
	}
	return out
}

// countSCTs returns how many distinct logs vouch for leaf. When trusted logs
// are configured only their SCTs count, and TLS-delivered SCTs must carry a
// valid signature.
func countSCTs(leaf *x509.Certificate, delivered [][]byte, logs map[[32]byte]models.CTLog, now time.Time) int {
	all := embeddedSCTs(leaf)
	for _, raw := range delivered {
		t, err := parseSCT(raw)
		if err != nil {
			continue
		}
		all = append(all, t)
	}

	seen := make(map[[32]byte]bool)
	for _, t := range all {
		if t.Version != sctVersionV1 || t.time().After(now) || seen[t.LogID] {
			continue
		}
		if len(logs) > 0 {
			log, ok := logs[t.LogID]
			if !ok {
				continue
			}
			if !t.Embedded && verifySCT(t, leaf, log.PublicKey) != nil {
				continue
			}
		}
		seen[t.LogID] = true
	}
	return len(seen)
}

func verifySCT(t sct, leaf *x509.Certificate, key crypto.PublicKey) error {
	if t.HashAlg != hashSHA256 {
		return errors.New("unsupported SCT hash algorithm")
	}
	signed, err := sctSignedData(t, leaf.Raw)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(signed)

	switch k := key.(type) {
	case *ecdsa.PublicKey:
		if t.SigAlg != sigECDSA || !ecdsa.VerifyASN1(k, digest[:], t.Signature) {
			return errors.New("invalid SCT signature")
		}
	case *rsa.PublicKey:
		if t.SigAlg != sigRSA {
			return errors.New("invalid SCT signature")
		}
		return rsa.VerifyPKCS1v15(k, crypto.SHA256, digest[:], t.Signature)
	default:
		return errors.New("unsupported log key type")
	}
	return nil
}

// sctSignedData builds the digitally-signed struct for an x509_entry.
func sctSignedData(t sct, leafDER []byte) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(t.Version)
	b.AddUint8(0) // certificate_timestamp
	b.AddUint64(t.Timestamp)
	b.AddUint16(0) // x509_entry
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(leafDER)
	})
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(t.Extensions)
	})
	return b.Bytes()
}
