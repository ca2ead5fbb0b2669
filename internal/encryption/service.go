// Package encryption provides authenticated encryption of payloads and record
// fields, password-based key derivation, password hashing and integrity
// signatures. Every decrypt or verify failure collapses to ErrCrypto.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the master key length in bytes.
const KeySize = 32

const tagSize = 16

// HKDF info labels. Changing one invalidates everything derived from it.
const (
	infoEncryption  = "trustkit/encryption/v1"
	infoSigning     = "trustkit/signing/v1"
	infoFingerprint = "trustkit/fingerprint/v1"
	infoKeyID       = "trustkit/key-id/v1"
)

type keyMaterial struct {
	id          string
	encKey      []byte
	signKey     []byte
	fingerprint []byte
}

// Service performs all cryptographic operations for a single master key.
// Older keys can be registered for decryption only.
type Service struct {
	alg     Algorithm
	primary *keyMaterial
	keyring map[string]*keyMaterial
	argon   ArgonParams
	logger  *slog.Logger
}

type Option func(*Service) error

// WithAlgorithm selects the AEAD used for new payloads.
func WithAlgorithm(alg Algorithm) Option {
	return func(s *Service) error {
		switch alg {
		case AlgorithmAES256GCM, AlgorithmXChaCha20Poly1305:
			s.alg = alg
			return nil
		default:
			return fmt.Errorf("unsupported algorithm %s", alg)
		}
	}
}

// WithDecryptionKeys registers retired master keys so payloads sealed under
// them can still be opened.
func WithDecryptionKeys(keys ...[]byte) Option {
	return func(s *Service) error {
		for _, k := range keys {
			km, err := deriveMaterial(k)
			if err != nil {
				return err
			}
			s.keyring[km.id] = km
		}
		return nil
	}
}

// WithArgonParams overrides the Argon2id cost parameters.
func WithArgonParams(p ArgonParams) Option {
	return func(s *Service) error {
		if p.Time == 0 || p.Memory == 0 || p.Parallelism == 0 || p.KeyLen < 16 || p.SaltLen < 8 {
			return errors.New("argon2 parameters are too weak")
		}
		s.argon = p
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = logger
		return nil
	}
}

// New builds a service around a 32-byte master key.
func New(masterKey []byte, opts ...Option) (*Service, error) {
	primary, err := deriveMaterial(masterKey)
	if err != nil {
		return nil, err
	}
	s := &Service{
		alg:     AlgorithmAES256GCM,
		primary: primary,
		keyring: map[string]*keyMaterial{primary.id: primary},
		argon:   DefaultArgonParams,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewRandom builds a service with a freshly generated master key.
func NewRandom(opts ...Option) (*Service, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	defer Zero(key)
	return New(key, opts...)
}

// GenerateKey returns a random master key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// KeyID identifies the active master key without revealing it.
func (s *Service) KeyID() string {
	return s.primary.id
}

// Algorithm returns the AEAD used for new payloads.
func (s *Service) Algorithm() Algorithm {
	return s.alg
}

// Encrypt seals plaintext under the active key.
func (s *Service) Encrypt(plaintext []byte) (*Payload, error) {
	return s.EncryptWithAD(plaintext, nil)
}

// Decrypt opens a payload. Any failure returns ErrCrypto.
func (s *Service) Decrypt(p *Payload) ([]byte, error) {
	return s.DecryptWithAD(p, nil)
}

// EncryptWithAD seals plaintext and binds ad (e.g. a record id) to it; the
// same ad must be presented to decrypt.
func (s *Service) EncryptWithAD(plaintext, ad []byte) (*Payload, error) {
	aead, err := newAEAD(s.alg, s.primary.encKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	p := &Payload{
		Version:   PayloadVersion,
		Algorithm: s.alg,
		KeyID:     s.primary.id,
		Nonce:     nonce,
	}
	sealed := aead.Seal(nil, nonce, plaintext, associatedData(p, ad))
	cut := len(sealed) - tagSize
	p.Ciphertext = sealed[:cut]
	p.Tag = sealed[cut:]
	return p, nil
}

// DecryptWithAD opens a payload sealed by EncryptWithAD.
func (s *Service) DecryptWithAD(p *Payload, ad []byte) ([]byte, error) {
	if p == nil || p.Version != PayloadVersion || len(p.Tag) != tagSize {
		return nil, ErrCrypto
	}
	km, ok := s.keyring[p.KeyID]
	if !ok {
		return nil, ErrCrypto
	}
	aead, err := newAEAD(p.Algorithm, km.encKey)
	if err != nil {
		return nil, ErrCrypto
	}
	if len(p.Nonce) != aead.NonceSize() {
		return nil, ErrCrypto
	}

	sealed := make([]byte, 0, len(p.Ciphertext)+len(p.Tag))
	sealed = append(sealed, p.Ciphertext...)
	sealed = append(sealed, p.Tag...)
	plaintext, err := aead.Open(nil, p.Nonce, sealed, associatedData(p, ad))
	if err != nil {
		return nil, ErrCrypto
	}
	return plaintext, nil
}

// EncryptString seals a string and returns an EncodeString token.
func (s *Service) EncryptString(v string) (string, error) {
	p, err := s.Encrypt([]byte(v))
	if err != nil {
		return "", err
	}
	return p.EncodeString()
}

// DecryptString opens a token produced by EncryptString.
func (s *Service) DecryptString(token string) (string, error) {
	p, err := DecodeString(token)
	if err != nil {
		return "", err
	}
	b, err := s.Decrypt(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func associatedData(p *Payload, ad []byte) []byte {
	h := p.header()
	out := make([]byte, 0, len(h)+len(ad))
	out = append(out, h...)
	return append(out, ad...)
}

func newAEAD(alg Algorithm, key []byte) (cipher.AEAD, error) {
	switch alg {
	case AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("init aes: %w", err)
		}
		return cipher.NewGCM(block)
	case AlgorithmXChaCha20Poly1305:
		return chacha20poly1305.NewX(key)
	default:
		return nil, fmt.Errorf("unsupported algorithm %s", alg)
	}
}

func deriveMaterial(master []byte) (*keyMaterial, error) {
	if len(master) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(master))
	}
	id := subkey(master, infoKeyID, 4)
	return &keyMaterial{
		id:          hex.EncodeToString(id),
		encKey:      subkey(master, infoEncryption, KeySize),
		signKey:     subkey(master, infoSigning, KeySize),
		fingerprint: subkey(master, infoFingerprint, KeySize),
	}, nil
}

func subkey(master []byte, info string, n int) []byte {
	out := make([]byte, n)
	r := hkdf.New(sha256.New, master, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		// hkdf only fails past 255*HashLen bytes.
		panic(err)
	}
	return out
}
