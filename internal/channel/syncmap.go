package channel

import (
	"log/slog"
	"strings"

	"github.com/pkg/errors"
)

// Endpoint identifies one side of a synchronized mailbox pair: the store
// name, the logical (slash-delimited, prefix-stripped) mailbox name, and the
// full path used to address the box on that store.
type Endpoint struct {
	Store   string
	Mailbox string
	Path    string
}

// Partner is the other side of a pair, extended with the channel it belongs
// to.
type Partner struct {
	Endpoint
	Channel string
}

// SyncMap is the bidirectional mapping between endpoints: looking up either
// side of a pair yields the other side plus the channel name.
type SyncMap map[Endpoint]Partner

// normalizedBox transforms a store-form mailbox name into the logical form:
// delimiters become slashes and the per-side prefix is stripped. The prefix
// is normalized the same way before stripping so it may be written in either
// form in the configuration.
func normalizedBox(mailbox, prefix, delim string) string {
	box := strings.ReplaceAll(mailbox, delim, "/")
	pfx := strings.ReplaceAll(prefix, delim, "/")
	return strings.TrimPrefix(box, pfx)
}

// storeBox is the inverse transform: prepend the prefix and join with the
// store delimiter.
func storeBox(mailbox, prefix, delim string) string {
	return strings.ReplaceAll(prefix+mailbox, "/", delim)
}

// boxPath resolves a store-form name to the full path on the store. INBOX is
// special: a Maildir store addresses it by its configured inbox path when
// one is set, an IMAP store by the bare name.
func boxPath(sbox string, st *Store) string {
	if sbox == "INBOX" {
		if !st.IMAP && st.Inbox != "" {
			return st.Inbox
		}
		if st.IMAP {
			return "INBOX"
		}
	}
	if st.IMAP {
		return st.Prefix + sbox
	}
	return st.Root + sbox
}

// BuildSyncMap applies each channel's selection clause to both stores and
// builds the bidirectional endpoint map. Every selected logical box must
// exist on both sides; anything else is a configuration error.
func BuildSyncMap(channels []*Channel) (SyncMap, error) {
	sm := make(SyncMap)
	for _, ch := range channels {
		pairs := make(map[string][]Endpoint)

		sides := []struct {
			store  *Store
			prefix string
		}{
			{ch.Master, ch.MasterBox},
			{ch.Slave, ch.SlaveBox},
		}
		for _, side := range sides {
			st := side.store
			delim := st.Delimiter

			switch {
			case len(ch.Boxes) > 0:
				for _, box := range ch.Boxes {
					sbox := storeBox(box, side.prefix, delim)
					if !st.HasMailbox(sbox) {
						return nil, errors.Errorf(
							"mailbox '%s' not found in store '%s'", box, st.Name)
					}
					pairs[box] = append(pairs[box], Endpoint{
						Store: st.Name, Mailbox: box, Path: boxPath(sbox, st),
					})
				}

			case len(ch.compiled) > 0:
				for _, sbox := range st.Mailboxes {
					box := normalizedBox(sbox, side.prefix, delim)
					if box == "" {
						// The namespace root itself.
						continue
					}
					if !matchPatterns(ch.compiled, box) {
						continue
					}
					slog.Debug("box matches patterns", "channel", ch.Name, "box", box)
					pairs[box] = append(pairs[box], Endpoint{
						Store: st.Name, Mailbox: box, Path: boxPath(sbox, st),
					})
				}

			default:
				box := side.prefix
				if box == "" {
					box = "INBOX"
				}
				sbox := storeBox(box, "", delim)
				pairs[""] = append(pairs[""], Endpoint{
					Store: st.Name, Mailbox: box, Path: boxPath(sbox, st),
				})
			}
		}

		for _, pair := range pairs {
			if len(pair) != 2 {
				e := pair[0]
				return nil, errors.Errorf(
					"no matching mailbox for '%s:%s' in channel '%s'",
					e.Store, e.Mailbox, ch.Name)
			}
			sm[pair[0]] = Partner{Endpoint: pair[1], Channel: ch.Name}
			sm[pair[1]] = Partner{Endpoint: pair[0], Channel: ch.Name}
		}
	}
	return sm, nil
}
