package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizedBox(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Work", normalizedBox("INBOX.Work", "INBOX.", "."))
	assert.Equal(t, "Work/Trash", normalizedBox("INBOX.Work.Trash", "INBOX.", "."))
	assert.Equal(t, "Work", normalizedBox("Work", "", "."))
	assert.Equal(t, "", normalizedBox("INBOX.", "INBOX.", "."))
	// The prefix may be written in logical form too.
	assert.Equal(t, "Work", normalizedBox("INBOX.Work", "INBOX/", "."))
}

func TestStoreBox(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "INBOX.Work", storeBox("Work", "INBOX.", "."))
	assert.Equal(t, "INBOX.Work.Trash", storeBox("Work/Trash", "INBOX.", "."))
	assert.Equal(t, "Work", storeBox("Work", "", "."))
}

func newIMAPStore(name, prefix, delim string, boxes ...string) *Store {
	return &Store{Name: name, IMAP: true, Prefix: prefix, Delimiter: delim, Mailboxes: boxes}
}

func newMaildirStore(name, root, inbox string, boxes ...string) *Store {
	return &Store{Name: name, Root: root, Inbox: inbox, Delimiter: "/", Mailboxes: boxes}
}

func TestSyncMapPatternsNegationDelimiter(t *testing.T) {
	t.Parallel()

	master := newIMAPStore("work", "", ".",
		"INBOX.", "INBOX.Work", "INBOX.Work.Trash", "INBOX.Personal")
	slave := newMaildirStore("local", "/home/alice/mail/", "/home/alice/mail/inbox",
		"Work", "Personal")

	ch := &Channel{
		Name:      "work",
		Master:    master,
		Slave:     slave,
		MasterBox: "INBOX.",
		SlaveBox:  "",
		Patterns:  []string{"*", "!*Trash*"},
	}
	require.NoError(t, ch.Compile())

	sm, err := BuildSyncMap([]*Channel{ch})
	require.NoError(t, err)

	require.Len(t, sm, 4, "two pairs, both directions")

	workMaster := Endpoint{Store: "work", Mailbox: "Work", Path: "INBOX.Work"}
	workSlave := Endpoint{Store: "local", Mailbox: "Work", Path: "/home/alice/mail/Work"}
	require.Equal(t, Partner{Endpoint: workSlave, Channel: "work"}, sm[workMaster])
	require.Equal(t, Partner{Endpoint: workMaster, Channel: "work"}, sm[workSlave])

	personalMaster := Endpoint{Store: "work", Mailbox: "Personal", Path: "INBOX.Personal"}
	require.Contains(t, sm, personalMaster)

	for ep := range sm {
		assert.NotContains(t, ep.Mailbox, "Trash")
	}
}

func TestSyncMapExplicitBoxes(t *testing.T) {
	t.Parallel()

	master := newIMAPStore("remote", "", ".", "Inbox", "Archive")
	slave := newMaildirStore("mdir", "/mail/", "/mail/Inbox", "Inbox", "Archive")

	ch := &Channel{
		Name:   "main",
		Master: master,
		Slave:  slave,
		Boxes:  []string{"Inbox", "Archive"},
	}
	require.NoError(t, ch.Compile())

	sm, err := BuildSyncMap([]*Channel{ch})
	require.NoError(t, err)

	inbox := Endpoint{Store: "remote", Mailbox: "Inbox", Path: "Inbox"}
	archive := Endpoint{Store: "remote", Mailbox: "Archive", Path: "Archive"}
	require.Equal(t, "/mail/Inbox", sm[inbox].Path)
	require.Equal(t, "/mail/Archive", sm[archive].Path)
}

func TestSyncMapMissingExplicitBoxFails(t *testing.T) {
	t.Parallel()

	master := newIMAPStore("remote", "", ".", "Inbox", "Archive")
	slave := newMaildirStore("mdir", "/mail/", "/mail/Inbox", "Inbox")

	ch := &Channel{
		Name:   "main",
		Master: master,
		Slave:  slave,
		Boxes:  []string{"Inbox", "Archive"},
	}
	require.NoError(t, ch.Compile())

	_, err := BuildSyncMap([]*Channel{ch})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Archive")
}

func TestSyncMapOneSidedPatternMatchFails(t *testing.T) {
	t.Parallel()

	master := newIMAPStore("remote", "", ".", "Work", "Personal")
	slave := newMaildirStore("mdir", "/mail/", "/mail/Inbox", "Work")

	ch := &Channel{
		Name:     "main",
		Master:   master,
		Slave:    slave,
		Patterns: []string{"*"},
	}
	require.NoError(t, ch.Compile())

	_, err := BuildSyncMap([]*Channel{ch})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no matching mailbox")
}

func TestSyncMapSingleBoxChannel(t *testing.T) {
	t.Parallel()

	master := newIMAPStore("remote", "", ".")
	slave := newMaildirStore("mdir", "/mail/", "/mail/inboxdir")

	ch := &Channel{
		Name:   "inbox",
		Master: master,
		Slave:  slave,
	}
	require.NoError(t, ch.Compile())

	sm, err := BuildSyncMap([]*Channel{ch})
	require.NoError(t, err)
	require.Len(t, sm, 2)

	masterEp := Endpoint{Store: "remote", Mailbox: "INBOX", Path: "INBOX"}
	require.Equal(t, "/mail/inboxdir", sm[masterEp].Path,
		"the distinguished inbox path addresses the maildir INBOX")
}

func TestSyncMapSymmetry(t *testing.T) {
	t.Parallel()

	master := newIMAPStore("remote", "", ".", "Work", "Personal", "Lists.golang")
	slave := newMaildirStore("mdir", "/mail/", "/mail/Inbox", "Work", "Personal", "Lists/golang")

	ch := &Channel{
		Name:     "all",
		Master:   master,
		Slave:    slave,
		Patterns: []string{"*"},
	}
	require.NoError(t, ch.Compile())

	sm, err := BuildSyncMap([]*Channel{ch})
	require.NoError(t, err)
	require.Len(t, sm, 6)

	for ep, partner := range sm {
		require.Equal(t, ep, sm[partner.Endpoint].Endpoint, "partner of partner is the endpoint itself")
		require.Equal(t, partner.Channel, sm[partner.Endpoint].Channel)
	}
}
