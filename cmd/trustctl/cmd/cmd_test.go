package cmd

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustkit/internal/app"
	"trustkit/internal/platform/config"
	trustModels "trustkit/internal/trust/models"
	vaultModels "trustkit/internal/vault/models"
)

type CLISuite struct {
	suite.Suite
}

func TestCLISuite(t *testing.T) {
	suite.Run(t, new(CLISuite))
}

// run executes trustctl with args and returns stdout.
func (s *CLISuite) run(stdin string, args ...string) (string, error) {
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func (s *CLISuite) writeCert() (string, *x509.Certificate) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	s.Require().NoError(err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "api.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	s.Require().NoError(err)
	cert, err := x509.ParseCertificate(der)
	s.Require().NoError(err)

	path := filepath.Join(s.T().TempDir(), "cert.pem")
	s.Require().NoError(os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	return path, cert
}

// writeConfig points the vault at a bolt file under a fixed master key.
func (s *CLISuite) writeConfig() string {
	dir := s.T().TempDir()
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{9}, 32))
	body := "vault:\n  backend: bolt\n  bolt_path: " + filepath.Join(dir, "vault.db") + "\n" +
		"encryption:\n  master_key: " + key + "\n"
	path := filepath.Join(dir, "trustkit.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(body), 0o600))
	return path
}

func (s *CLISuite) seedVault(configPath string) {
	ctx := context.Background()
	cfg, err := config.Load(configPath)
	s.Require().NoError(err)
	a, err := app.New(ctx, cfg, nil)
	s.Require().NoError(err)
	defer a.Close()

	none := vaultModels.StoreOptions{AccessControl: vaultModels.AccessNone}
	s.Require().NoError(a.Vault.Store(ctx, "primary", []byte("same-value"), none))
	s.Require().NoError(a.Vault.Store(ctx, "copy", []byte("same-value"), none))
	s.Require().NoError(a.Vault.Store(ctx, "stale", []byte("old"), vaultModels.StoreOptions{
		AccessControl: vaultModels.AccessBiometryCurrentSet,
		ExpiresAt:     time.Now().Add(-time.Hour),
	}))
}

func (s *CLISuite) TestPin() {
	s.Run("prints both pins", func() {
		path, cert := s.writeCert()
		out, err := s.run("", "pin", path, "--json")
		s.Require().NoError(err)

		var got []pinOutput
		s.Require().NoError(json.Unmarshal([]byte(out), &got))
		s.Require().Len(got, 1)
		s.Equal(trustModels.CertificatePin(cert).String(), got[0].CertificatePin)
		s.Equal(trustModels.PublicKeyPin(cert).String(), got[0].PublicKeyPin)
		s.Contains(got[0].Subject, "api.example.com")
	})

	s.Run("text output", func() {
		path, cert := s.writeCert()
		out, err := s.run("", "pin", path)
		s.Require().NoError(err)
		s.Contains(out, trustModels.PublicKeyPin(cert).String())
	})

	s.Run("file without certificates", func() {
		path := filepath.Join(s.T().TempDir(), "empty.pem")
		s.Require().NoError(os.WriteFile(path, []byte("nothing here"), 0o600))
		_, err := s.run("", "pin", path)
		s.ErrorContains(err, "no PEM certificates")
	})

	s.Run("argument is required", func() {
		_, err := s.run("", "pin")
		s.Error(err)
	})
}

func (s *CLISuite) TestHashPassword() {
	out, err := s.run("correct horse battery\n", "hash-password")
	s.Require().NoError(err)
	hash := strings.TrimSpace(out)
	s.True(strings.HasPrefix(hash, "$argon2id$v=19$"))

	s.Run("matching password verifies", func() {
		out, err := s.run("correct horse battery\n", "hash-password", "--verify", hash)
		s.Require().NoError(err)
		s.Contains(out, "password matches")
	})

	s.Run("wrong password is an error", func() {
		_, err := s.run("wrong\n", "hash-password", "--verify", hash)
		s.ErrorContains(err, "does not match")
	})

	s.Run("empty input is rejected", func() {
		_, err := s.run("", "hash-password")
		s.ErrorContains(err, "cannot be empty")
	})
}

func (s *CLISuite) TestVault() {
	configPath := s.writeConfig()
	s.seedVault(configPath)

	s.Run("report counts tiers and expiry", func() {
		out, err := s.run("", "vault", "report", "--config", configPath, "--json")
		s.Require().NoError(err)
		var report vaultModels.Report
		s.Require().NoError(json.Unmarshal([]byte(out), &report))
		s.Equal(3, report.TotalItems)
		s.ElementsMatch([]string{"copy", "primary"}, report.UnprotectedItems)
		s.Equal([]string{"stale"}, report.ExpiredItems)
		s.NotContains(out, "same-value")
	})

	s.Run("duplicates group equal values", func() {
		out, err := s.run("", "vault", "duplicates", "--config", configPath, "--json")
		s.Require().NoError(err)
		var groups []vaultModels.DuplicateGroup
		s.Require().NoError(json.Unmarshal([]byte(out), &groups))
		s.Require().Len(groups, 1)
		s.Equal([]string{"copy", "primary"}, groups[0].Keys)
	})

	s.Run("sweep removes expired items once", func() {
		out, err := s.run("", "vault", "sweep", "--config", configPath)
		s.Require().NoError(err)
		s.Contains(out, "removed 1 expired items")

		out, err = s.run("", "vault", "sweep", "--config", configPath, "--json")
		s.Require().NoError(err)
		s.JSONEq(`{"removed":0}`, out)
	})
}

func (s *CLISuite) TestMaintenanceRun() {
	configPath := s.writeConfig()
	s.seedVault(configPath)

	out, err := s.run("", "maintenance", "run", "--config", configPath, "--json")
	s.Require().NoError(err)
	s.JSONEq(`{"expired_items":1,"pruned_rotations":0,"pruned_audit_entries":0}`, out)
}

func (s *CLISuite) TestAudit() {
	s.Run("no pinning failures in a fresh memory store", func() {
		out, err := s.run("", "audit", "--operation", "pinningFailure", "--json")
		s.Require().NoError(err)
		s.Equal("null", strings.TrimSpace(out))
	})

	s.Run("invalid config is reported", func() {
		dir := s.T().TempDir()
		path := filepath.Join(dir, "bad.yaml")
		s.Require().NoError(os.WriteFile(path, []byte("vault:\n  backend: floppy\n"), 0o600))
		_, err := s.run("", "audit", "--config", path)
		s.ErrorContains(err, "invalid config")
	})
}
