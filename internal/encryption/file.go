package encryption

import (
	"fmt"
	"os"
	"path/filepath"
)

// maxFileSize bounds whole-file encryption; the payload is held in memory.
const maxFileSize = 64 << 20

// EncryptFile seals the contents of src and writes the CBOR payload to dst.
// The destination is written through a temp file and renamed.
func (s *Service) EncryptFile(src, dst string) error {
	plain, err := readBounded(src)
	if err != nil {
		return err
	}
	defer Zero(plain)

	p, err := s.EncryptWithAD(plain, []byte(filepath.Base(dst)))
	if err != nil {
		return err
	}
	b, err := p.Marshal()
	if err != nil {
		return err
	}
	return writeAtomic(dst, b)
}

// DecryptFile opens a file produced by EncryptFile. The encrypted file must
// keep the name it was written under.
func (s *Service) DecryptFile(src, dst string) error {
	b, err := readBounded(src)
	if err != nil {
		return err
	}
	p, err := UnmarshalPayload(b)
	if err != nil {
		return err
	}
	plain, err := s.DecryptWithAD(p, []byte(filepath.Base(src)))
	if err != nil {
		return err
	}
	defer Zero(plain)
	return writeAtomic(dst, plain)
}

func readBounded(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("file %s exceeds %d bytes", path, maxFileSize)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".trustkit-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
