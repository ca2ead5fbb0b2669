package encryption

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Sign returns an HMAC-SHA256 tag over data under the signing subkey.
func (s *Service) Sign(data []byte) []byte {
	mac := hmac.New(sha256.New, s.primary.signKey)
	mac.Write(data)
	return mac.Sum(nil)
}

// Verify reports whether sig is a valid tag for data under any known key.
func (s *Service) Verify(data, sig []byte) bool {
	if len(sig) != sha256.Size {
		return false
	}
	for _, km := range s.keyring {
		mac := hmac.New(sha256.New, km.signKey)
		mac.Write(data)
		if hmac.Equal(mac.Sum(nil), sig) {
			return true
		}
	}
	return false
}

// Fingerprint returns a keyed digest of data for equality checks (duplicate
// detection) that never exposes the input. It uses its own subkey so a
// fingerprint is never a valid signature.
func (s *Service) Fingerprint(data []byte) string {
	mac := hmac.New(sha256.New, s.primary.fingerprint)
	mac.Write(data)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
