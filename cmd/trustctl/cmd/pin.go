package cmd

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	trustModels "trustkit/internal/trust/models"
)

type pinOutput struct {
	Subject        string `json:"subject"`
	Issuer         string `json:"issuer"`
	NotAfter       string `json:"not_after"`
	CertificatePin string `json:"certificate_pin"`
	PublicKeyPin   string `json:"public_key_pin"`
}

func newPinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pin <cert.pem>",
		Short: "Print certificate and public key pins for every certificate in a PEM file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			certs, err := readCertificates(args[0])
			if err != nil {
				return err
			}
			out := make([]pinOutput, 0, len(certs))
			for _, c := range certs {
				out = append(out, pinOutput{
					Subject:        c.Subject.String(),
					Issuer:         c.Issuer.String(),
					NotAfter:       c.NotAfter.UTC().Format("2006-01-02"),
					CertificatePin: trustModels.CertificatePin(c).String(),
					PublicKeyPin:   trustModels.PublicKeyPin(c).String(),
				})
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			w := cmd.OutOrStdout()
			for i, p := range out {
				if i > 0 {
					fmt.Fprintln(w)
				}
				fmt.Fprintln(w, Bold("%s", p.Subject))
				fmt.Fprintf(w, "  issuer     %s\n", p.Issuer)
				fmt.Fprintf(w, "  not after  %s\n", p.NotAfter)
				fmt.Fprintf(w, "  cert pin   %s\n", p.CertificatePin)
				fmt.Fprintf(w, "  spki pin   %s\n", p.PublicKeyPin)
			}
			return nil
		},
	}
}

func readCertificates(path string) ([]*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, raw = pem.Decode(raw)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%s holds no PEM certificates", path)
	}
	return certs, nil
}
