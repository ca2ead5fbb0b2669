package encryption

import (
	"errors"
	"fmt"
	"reflect"
)

// FieldTag marks a struct field for EncryptSensitiveFields:
//
//	SerialNumber string `secure:"encrypt"`
const FieldTag = "secure"

var errNotStructPointer = errors.New("record must be a non-nil pointer to a struct")

// EncryptSensitiveFields encrypts, in place, every string or []byte field of
// record tagged secure:"encrypt". Strings become EncodeString tokens. A field
// is left alone only when it already decrypts under this service's key; a
// plaintext that merely looks like a token is encrypted like any other.
// Untagged fields stay readable so the record can still be listed and searched.
func (s *Service) EncryptSensitiveFields(record any) error {
	return s.walkFields(record, func(f reflect.Value, name string) error {
		switch f.Kind() {
		case reflect.String:
			v := f.String()
			if v == "" || s.sealedString(v) {
				return nil
			}
			token, err := s.EncryptString(v)
			if err != nil {
				return fmt.Errorf("encrypt field %s: %w", name, err)
			}
			f.SetString(token)
		case reflect.Slice:
			b := f.Bytes()
			if len(b) == 0 {
				return nil
			}
			if s.sealedBytes(b) {
				return nil
			}
			p, err := s.Encrypt(b)
			if err != nil {
				return fmt.Errorf("encrypt field %s: %w", name, err)
			}
			out, err := p.Marshal()
			if err != nil {
				return fmt.Errorf("encrypt field %s: %w", name, err)
			}
			f.SetBytes(out)
		}
		return nil
	})
}

// DecryptSensitiveFields reverses EncryptSensitiveFields. Plain (never
// encrypted) string values pass through unchanged.
func (s *Service) DecryptSensitiveFields(record any) error {
	return s.walkFields(record, func(f reflect.Value, _ string) error {
		switch f.Kind() {
		case reflect.String:
			v := f.String()
			if !IsEncryptedString(v) {
				return nil
			}
			plain, err := s.DecryptString(v)
			if err != nil {
				return ErrCrypto
			}
			f.SetString(plain)
		case reflect.Slice:
			b := f.Bytes()
			if len(b) == 0 {
				return nil
			}
			p, err := UnmarshalPayload(b)
			if err != nil {
				return ErrCrypto
			}
			plain, err := s.Decrypt(p)
			if err != nil {
				return ErrCrypto
			}
			f.SetBytes(plain)
		}
		return nil
	})
}

func (s *Service) sealedString(v string) bool {
	if !IsEncryptedString(v) {
		return false
	}
	_, err := s.DecryptString(v)
	return err == nil
}

func (s *Service) sealedBytes(b []byte) bool {
	p, err := UnmarshalPayload(b)
	if err != nil {
		return false
	}
	_, err = s.Decrypt(p)
	return err == nil
}

func (s *Service) walkFields(record any, fn func(reflect.Value, string) error) error {
	rv := reflect.ValueOf(record)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return errNotStructPointer
	}
	rv = rv.Elem()
	rt := rv.Type()
	for i := range rt.NumField() {
		sf := rt.Field(i)
		if sf.Tag.Get(FieldTag) != "encrypt" {
			continue
		}
		f := rv.Field(i)
		if !f.CanSet() {
			return fmt.Errorf("field %s is tagged but not settable", sf.Name)
		}
		isBytes := f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.Uint8
		if f.Kind() != reflect.String && !isBytes {
			return fmt.Errorf("field %s: only string and []byte fields can be encrypted", sf.Name)
		}
		if err := fn(f, sf.Name); err != nil {
			return err
		}
	}
	return nil
}
