package config

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/meko-christian/mbwatch/internal/channel"
)

// Password resolves the password for an IMAP store: a literal pass option
// wins, then passcmd run through a shell with its trimmed stdout, then an
// interactive prompt on the terminal.
func Password(st *channel.Store) (string, error) {
	if st.Pass != "" {
		return st.Pass, nil
	}
	if st.PassCmd != "" {
		out, err := exec.Command("/bin/sh", "-c", st.PassCmd).Output()
		if err != nil {
			return "", errors.Wrap(err, "getting password failed")
		}
		if !utf8.Valid(out) {
			return "", errors.New("getting password failed: command output is not valid UTF-8")
		}
		return strings.TrimSpace(string(out)), nil
	}

	fmt.Fprintf(os.Stderr, "Password (%s): ", st.Name)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.Wrap(err, "getting password failed")
	}
	return string(pw), nil
}
