package watch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meko-christian/mbwatch/internal/channel"
)

// testFixture is a single channel pairing the IMAP store "remote" with a
// Maildir under a temp dir.
type testFixture struct {
	d       *Dispatcher
	queue   *Queue
	remote  channel.Endpoint
	local   channel.Endpoint
	cur     string
	runs    []map[string][]string
	stores  map[string]*channel.Store
	syncMap channel.SyncMap
}

func newFixture(t *testing.T, patterns []string) *testFixture {
	t.Helper()

	root := t.TempDir()
	boxDir := filepath.Join(root, "Work")
	for _, sub := range []string{"cur", "new", "tmp"} {
		require.NoError(t, os.MkdirAll(filepath.Join(boxDir, sub), 0o755))
	}

	f := &testFixture{
		remote: channel.Endpoint{Store: "remote", Mailbox: "Work", Path: "INBOX.Work"},
		local:  channel.Endpoint{Store: "local", Mailbox: "Work", Path: boxDir},
		cur:    filepath.Join(boxDir, "cur"),
	}
	f.syncMap = channel.SyncMap{
		f.remote: {Endpoint: f.local, Channel: "work"},
		f.local:  {Endpoint: f.remote, Channel: "work"},
	}
	f.stores = map[string]*channel.Store{
		"remote": {Name: "remote", IMAP: true},
		"local":  {Name: "local"},
	}
	channels := map[string]*channel.Channel{
		"work": {Name: "work", Patterns: patterns},
	}

	f.queue = NewQueue()
	f.d = NewDispatcher(f.queue, f.syncMap, channels, f.stores, "mbsync")
	f.d.runSync = func(_ string, boxes map[string][]string) error {
		run := make(map[string][]string, len(boxes))
		for k, v := range boxes {
			run[k] = append([]string(nil), v...)
		}
		f.runs = append(f.runs, run)
		return nil
	}
	return f
}

func (f *testFixture) addMail(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.cur, name), []byte("mail"), 0o644))
}

func TestLocalScanDetectsChanges(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addMail(t, "a")
	f.addMail(t, "b")

	// The first scan initializes the dircache and counts as a change.
	require.NoError(t, f.d.handle(LocalTask{}))
	task := receiveTask(t, f.queue).(SyncTask)
	require.Equal(t, []channel.Endpoint{f.remote}, task.Pairs,
		"a local change enqueues the remote partner of the maildir")
	require.NoError(t, f.d.handle(task))

	// No filesystem change, no task.
	require.NoError(t, f.d.handle(LocalTask{}))
	requireNoTask(t, f.queue)

	// A new message fires again.
	f.addMail(t, "c")
	require.NoError(t, f.d.handle(LocalTask{}))
	task = receiveTask(t, f.queue).(SyncTask)
	require.Equal(t, []channel.Endpoint{f.remote}, task.Pairs)

	// The sync refreshes the dircache of the partner maildir, so the
	// next scan stays quiet.
	require.NoError(t, f.d.handle(task))
	require.Equal(t, map[string]struct{}{"a": {}, "b": {}, "c": {}}, f.d.dircache[f.cur])
	require.NoError(t, f.d.handle(LocalTask{}))
	requireNoTask(t, f.queue)
}

func TestSyncRefreshPreventsRefire(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addMail(t, "a")
	require.NoError(t, f.d.handle(LocalTask{}))
	require.NoError(t, f.d.handle(receiveTask(t, f.queue)))

	// Simulate the synchronizer writing a message into cur before the
	// dispatcher refreshes: handled inside the same SyncTask.
	f.addMail(t, "pulled")
	require.NoError(t, f.d.handle(SyncTask{Pairs: []channel.Endpoint{f.remote}}))

	require.NoError(t, f.d.handle(LocalTask{}))
	requireNoTask(t, f.queue)
}

func TestSyncWholeChannelArgs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.d.handle(SyncTask{Pairs: []channel.Endpoint{f.remote}}))
	require.Len(t, f.runs, 1)
	boxes, ok := f.runs[0]["work"]
	require.True(t, ok)
	assert.Empty(t, boxes, "a non-pattern channel syncs as a whole")
}

func TestSyncPatternChannelArgs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []string{"*"})
	require.NoError(t, f.d.handle(SyncTask{Pairs: []channel.Endpoint{f.remote}}))
	require.Len(t, f.runs, 1)
	assert.Equal(t, []string{"Work"}, f.runs[0]["work"], "a pattern channel names its boxes")
}

func TestDispatcherNoImplicitMerging(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		f.queue.Put(SyncTask{Pairs: []channel.Endpoint{f.remote}})
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, f.d.handle(receiveTask(t, f.queue)))
	}
	require.Len(t, f.runs, 3, "one synchronizer run per task, in order")
}

func TestErrorTaskIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	err := f.d.handle(ErrorTask{Err: assert.AnError, Context: "remote:Work"})
	require.ErrorIs(t, err, assert.AnError)
}
