package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeSyncArgs(t *testing.T) {
	t.Parallel()

	args := composeSyncArgs(map[string][]string{
		"work":     {"Work", "Personal"},
		"personal": nil,
	})
	assert.Equal(t, []string{"personal", "work:Work,Personal"}, args)
}

func TestSyncCommandDirect(t *testing.T) {
	t.Parallel()

	cmd := syncCommand("mbsync", []string{"work", "personal:Inbox"})
	require.Equal(t, []string{"mbsync", "work", "personal:Inbox"}, cmd.Args)
}

func TestSyncCommandThroughShell(t *testing.T) {
	t.Parallel()

	cmd := syncCommand("mbsync -q", []string{"work:My Box"})
	require.Equal(t, "/bin/sh", cmd.Args[0])
	require.Equal(t, "-c", cmd.Args[1])
	assert.Equal(t, `mbsync -q 'work:My Box'`, cmd.Args[2])
}

func TestSyncCommandShellWithoutArgs(t *testing.T) {
	t.Parallel()

	cmd := syncCommand("mbsync -a", nil)
	assert.Equal(t, "mbsync -a", cmd.Args[2])
}
