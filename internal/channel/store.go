package channel

import (
	"github.com/meko-christian/mbwatch/internal/imap"
)

// Store is one synchronization endpoint: a remote IMAP account or a local
// Maildir root. Stores are created from configuration, mutated only while
// Enumerate fills in mailboxes and the delimiter, and read-only afterwards.
type Store struct {
	Name string

	// IMAP marks the store kind; the remaining fields split accordingly.
	IMAP bool

	// IMAP endpoint.
	Host    string
	Port    int
	User    string
	Pass    string
	PassCmd string
	TLS     imap.TLSMode
	// Prefix is the mailbox path prefix, defaulted from the server's
	// personal namespace when the configuration leaves it empty.
	Prefix string
	// DelimiterOverride forces the hierarchy delimiter instead of the
	// server-reported one.
	DelimiterOverride string

	// Maildir endpoint.
	Root    string
	Inbox   string
	Flatten string

	// Filled in by Enumerate.
	Delimiter string
	Mailboxes []string
}

// PortOrDefault returns the configured port, or the conventional default for
// the store's TLS mode.
func (s *Store) PortOrDefault() int {
	if s.Port != 0 {
		return s.Port
	}
	if s.TLS == imap.TLSModeIMAPS {
		return 993
	}
	return 143
}

// HasMailbox reports whether the enumerated mailbox list contains name.
func (s *Store) HasMailbox(name string) bool {
	for _, m := range s.Mailboxes {
		if m == name {
			return true
		}
	}
	return false
}

// Channel is a named master/slave pair of stores with per-side mailbox
// prefixes and a selection clause: explicit Boxes, glob Patterns, or neither
// (the single box formed by the prefix, INBOX when empty).
type Channel struct {
	Name string

	Master    *Store
	Slave     *Store
	MasterBox string
	SlaveBox  string

	Boxes    []string
	Patterns []string

	compiled []boxPattern
}

// Compile translates the channel's patterns into matchers. Patterns operate
// on normalized (slash-delimited, prefix-stripped) names, so the delimiter
// is always "/".
func (c *Channel) Compile() error {
	c.compiled = c.compiled[:0]
	for _, p := range c.Patterns {
		bp, err := compilePattern(p, "/")
		if err != nil {
			return err
		}
		c.compiled = append(c.compiled, bp)
	}
	return nil
}

// CollectStores returns the unique stores referenced by the channels,
// keyed by name.
func CollectStores(channels []*Channel) map[string]*Store {
	stores := make(map[string]*Store)
	for _, ch := range channels {
		for _, st := range []*Store{ch.Master, ch.Slave} {
			if _, ok := stores[st.Name]; !ok {
				stores[st.Name] = st
			}
		}
	}
	return stores
}
