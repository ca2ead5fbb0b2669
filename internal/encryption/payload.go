package encryption

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Algorithm identifies the AEAD used for a payload. Values are part of the
// stored format and must never be renumbered.
type Algorithm uint8

const (
	AlgorithmAES256GCM         Algorithm = 1
	AlgorithmXChaCha20Poly1305 Algorithm = 2
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmAES256GCM:
		return "AES-256-GCM"
	case AlgorithmXChaCha20Poly1305:
		return "XChaCha20-Poly1305"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

// PayloadVersion is the current envelope version.
const PayloadVersion uint8 = 1

// TokenPrefix marks a string produced by EncodeString.
const TokenPrefix = "enc:v1:"

// Payload is an encrypted blob with everything needed to open it except the
// key. The CBOR layout (integer keys 1-6) is stable across releases.
type Payload struct {
	Version    uint8     `cbor:"1,keyasint"`
	Algorithm  Algorithm `cbor:"2,keyasint"`
	KeyID      string    `cbor:"3,keyasint,omitempty"`
	Nonce      []byte    `cbor:"4,keyasint"`
	Ciphertext []byte    `cbor:"5,keyasint"`
	Tag        []byte    `cbor:"6,keyasint"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Marshal encodes the payload as deterministic CBOR.
func (p *Payload) Marshal() ([]byte, error) {
	b, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// UnmarshalPayload decodes a payload produced by Marshal. Malformed input
// yields ErrCrypto.
func UnmarshalPayload(b []byte) (*Payload, error) {
	var p Payload
	if err := cbor.Unmarshal(b, &p); err != nil {
		return nil, ErrCrypto
	}
	if p.Version != PayloadVersion || len(p.Nonce) == 0 || len(p.Tag) == 0 {
		return nil, ErrCrypto
	}
	return &p, nil
}

// EncodeString renders the payload as a text token for string columns.
func (p *Payload) EncodeString() (string, error) {
	b, err := p.Marshal()
	if err != nil {
		return "", err
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeString parses a token produced by EncodeString.
func DecodeString(s string) (*Payload, error) {
	if !IsEncryptedString(s) {
		return nil, ErrCrypto
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, TokenPrefix))
	if err != nil {
		return nil, ErrCrypto
	}
	return UnmarshalPayload(b)
}

// IsEncryptedString reports whether s looks like an EncodeString token.
func IsEncryptedString(s string) bool {
	return strings.HasPrefix(s, TokenPrefix)
}

// header is bound into the AEAD associated data so the algorithm and key id
// cannot be swapped without failing authentication.
func (p *Payload) header() []byte {
	h := make([]byte, 0, 2+len(p.KeyID))
	h = append(h, p.Version, byte(p.Algorithm))
	return append(h, p.KeyID...)
}
