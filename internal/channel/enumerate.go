package channel

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/meko-christian/mbwatch/internal/imap"
)

var (
	// listRe matches one LIST response payload:
	//   (<attrs>) "<delim>" "<name>"
	// where the trailing name may be unquoted.
	listRe = regexp.MustCompile(`^(?P<attrs>\(.*\)) +"(?P<delim>.+?)" +"?(?P<name>.+?)"?$`)
	// nsRe matches the first personal namespace of a NAMESPACE payload:
	// either NIL or (("<prefix>" "<delim>") ...) with a possibly NIL
	// delimiter.
	nsRe = regexp.MustCompile(`NIL|\(\("(?P<prefix>.*?)" (NIL|"(?P<delim>.)")\)`)
)

// Enumerate populates every store with its mailbox list and hierarchy
// delimiter. IMAP stores are queried over a pooled connection which is
// released afterwards so the IDLE watcher on the same account can reuse it;
// Maildir stores are scanned on disk.
func Enumerate(stores map[string]*Store, pool *imap.Pool) error {
	names := make([]string, 0, len(stores))
	for name := range stores {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		st := stores[name]
		var err error
		if st.IMAP {
			err = enumerateIMAP(st, pool)
		} else {
			err = enumerateMaildir(st)
		}
		if err != nil {
			return err
		}
		slog.Debug("store mailboxes", "store", name, "mailboxes", st.Mailboxes)
	}
	return nil
}

func enumerateIMAP(st *Store, pool *imap.Pool) error {
	con, err := pool.GetOrCreate(st.Host, st.User, st.Pass, st.PortOrDefault(), st.TLS)
	if err != nil {
		return errors.Wrapf(err, "store '%s'", st.Name)
	}

	if st.DelimiterOverride != "" {
		st.Delimiter = st.DelimiterOverride
	}

	if ns, err := con.Namespace(); err != nil {
		if !imap.IsTransient(err) {
			slog.Warn("namespace command failed", "store", st.Name, "error", err)
		} else {
			pool.Release(con)
			return errors.Wrapf(err, "store '%s'", st.Name)
		}
	} else if m := findNamed(nsRe, ns); m != nil {
		if st.Delimiter == "" {
			st.Delimiter = m["delim"]
		}
		if st.Prefix == "" {
			st.Prefix = m["prefix"]
		}
	}

	lines, err := con.List()
	if err != nil {
		pool.Release(con)
		return errors.Wrapf(err, "store '%s'", st.Name)
	}
	for _, line := range lines {
		m := findNamed(listRe, line)
		if m == nil {
			pool.Release(con)
			return errors.Errorf("unexpected response from server: %s", line)
		}
		if strings.Contains(m["attrs"], `\Noselect`) {
			continue
		}
		name := m["name"]
		if !strings.HasPrefix(name, st.Prefix) {
			continue
		}
		st.Mailboxes = append(st.Mailboxes, strings.TrimPrefix(name, st.Prefix))
		if st.Delimiter == "" {
			st.Delimiter = m["delim"]
		}
	}

	pool.Release(con)
	return nil
}

func enumerateMaildir(st *Store) error {
	var err error
	if st.Root, err = homedir.Expand(st.Root); err != nil {
		return errors.Wrapf(err, "store '%s'", st.Name)
	}
	if st.Inbox, err = homedir.Expand(st.Inbox); err != nil {
		return errors.Wrapf(err, "store '%s'", st.Name)
	}

	st.Delimiter = st.Flatten
	if st.Delimiter == "" {
		st.Delimiter = "/"
	}

	root := strings.TrimRight(st.Root, "/")
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		info, err := os.Stat(filepath.Join(path, "new"))
		if err != nil || !info.IsDir() {
			return nil
		}
		box := "INBOX"
		if path != st.Inbox {
			if box, err = filepath.Rel(root, path); err != nil {
				return err
			}
		}
		st.Mailboxes = append(st.Mailboxes, box)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "scanning maildir store '%s'", st.Name)
	}
	return nil
}

// findNamed runs re against s and returns the named submatches, or nil when
// there is no match.
func findNamed(re *regexp.Regexp, s string) map[string]string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	out := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name != "" && m[i] != "" {
			out[name] = m[i]
		}
	}
	return out
}
