package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pavelaron/pi-extender/internal/auth/credentials"
)

// readPassword is swapped out in tests.
var readPassword = term.ReadPassword

// promptPassword reads a password without echo from a terminal, or one
// line from in when stdin is not a terminal.
func promptPassword(w io.Writer, in *bufio.Reader, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	fd := int(os.Stdin.Fd())
	if in == nil {
		pw, err := readPassword(fd)
		fmt.Fprintln(w)
		return string(pw), err
	}
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newPasswdCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Set an admin password offline",
		Long: `passwd writes a new password hash for a user directly into the settings
store. The daemon must be stopped because it holds the data directory lock.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !credentials.ValidUsername(username) {
				return credentials.ErrInvalidUsername
			}
			var in *bufio.Reader
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				in = bufio.NewReader(cmd.InOrStdin())
			}
			out := cmd.ErrOrStderr()
			pw, err := promptPassword(out, in, "New password: ")
			if err != nil {
				return err
			}
			again, err := promptPassword(out, in, "Repeat password: ")
			if err != nil {
				return err
			}
			if pw != again {
				return errors.New("passwords do not match")
			}

			a, err := openApp(loadConfig())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := credentials.New(a.store, a.log).SetCredential(username, username, pw); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", credentials.DefaultUsername, "user to update")
	return cmd
}
