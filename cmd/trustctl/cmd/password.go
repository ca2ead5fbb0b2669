package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"trustkit/internal/encryption"
)

func newHashPasswordCmd() *cobra.Command {
	var verify string
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password with Argon2id, or check one against a hash",
		Long: `Reads a password without echo when stdin is a terminal, otherwise the first
line of stdin, and prints its PHC-formatted Argon2id hash.

With --verify the password is checked against the given hash instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := encryption.NewRandom()
			if err != nil {
				return err
			}
			confirm := verify == ""
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), confirm)
			if err != nil {
				return err
			}

			if verify != "" {
				if !svc.VerifyPassword(password, verify) {
					return errors.New("password does not match")
				}
				Success(cmd.OutOrStdout(), "password matches")
				return nil
			}

			hash, err := svc.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&verify, "verify", "", "PHC hash to check the password against")
	return cmd
}

// readPassword prompts with echo disabled on a terminal, asking twice when
// confirm is set. Piped input is read as a single line.
func readPassword(in io.Reader, prompt io.Writer, confirm bool) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pass, err := promptHidden(f, prompt, "Password: ")
		if err != nil {
			return "", err
		}
		if confirm {
			again, err := promptHidden(f, prompt, "Confirm password: ")
			if err != nil {
				return "", err
			}
			if pass != again {
				return "", errors.New("passwords do not match")
			}
		}
		return nonEmpty(pass)
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return nonEmpty(strings.TrimRight(line, "\r\n"))
}

func promptHidden(f *os.File, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func nonEmpty(pass string) (string, error) {
	if pass == "" {
		return "", errors.New("password cannot be empty")
	}
	return pass, nil
}
