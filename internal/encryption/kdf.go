package encryption

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ArgonParams are the Argon2id cost parameters.
type ArgonParams struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLen     int
	KeyLen      uint32
}

var DefaultArgonParams = ArgonParams{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 1,
	SaltLen:     16,
	KeyLen:      32,
}

// MinSaltLen is the shortest salt DeriveKey accepts.
const MinSaltLen = 8

var ErrInvalidHash = errors.New("invalid password hash")

// Upper bounds on costs read back from a stored hash, so a crafted hash
// cannot make verification allocate or spin without limit.
const (
	maxArgonMemory = 1024 * 1024 // KiB
	maxArgonTime   = 16
	maxArgonKeyLen = 128
)

// GenerateSalt returns a random salt of the configured length.
func (s *Service) GenerateSalt() ([]byte, error) {
	salt := make([]byte, s.argon.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey stretches password with Argon2id. It is deterministic for a
// given password, salt and parameter set.
func (s *Service) DeriveKey(password, salt []byte) ([]byte, error) {
	if len(password) == 0 {
		return nil, errors.New("password is required")
	}
	if len(salt) < MinSaltLen {
		return nil, fmt.Errorf("salt must be at least %d bytes", MinSaltLen)
	}
	p := s.argon
	return argon2.IDKey(password, salt, p.Time, p.Memory, p.Parallelism, p.KeyLen), nil
}

// HashPassword returns a salted Argon2id hash in PHC string format:
// $argon2id$v=19$m=<M>,t=<T>,p=<P>$<salt>$<hash>
func (s *Service) HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	salt, err := s.GenerateSalt()
	if err != nil {
		return "", err
	}
	p := s.argon
	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword checks password against an encoded hash in constant time.
// Malformed hashes verify as false.
func (s *Service) VerifyPassword(password, encoded string) bool {
	ok, err := verifyArgon(password, encoded)
	if err != nil {
		s.logger.Debug("password hash rejected", "error", err)
		return false
	}
	return ok
}

func verifyArgon(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, ErrInvalidHash
	}

	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false, ErrInvalidHash
	}
	if t < 1 || t > maxArgonTime || p < 1 || m < 8*uint32(p) || m > maxArgonMemory {
		return false, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, ErrInvalidHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 || len(want) > maxArgonKeyLen {
		return false, ErrInvalidHash
	}

	got := argon2.IDKey([]byte(password), salt, t, m, p, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
