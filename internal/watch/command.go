package watch

import (
	"log/slog"
	"os"
	"os/exec"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
)

// composeSyncArgs renders the per-channel mailbox grouping into synchronizer
// arguments: CHANNEL for a whole-channel sync, CHANNEL:box1,box2 for a
// per-mailbox one. Channels are emitted in name order.
func composeSyncArgs(boxes map[string][]string) []string {
	args := make([]string, 0, len(boxes))
	for _, name := range sortNames(boxes) {
		arg := name
		if bs := boxes[name]; len(bs) > 0 {
			arg += ":" + strings.Join(bs, ",")
		}
		args = append(args, arg)
	}
	return args
}

// syncCommand builds the synchronizer invocation: a command containing a
// space runs through a shell with every argument quoted by go-shellquote
// (single quotes around an argument with whitespace, backslash escapes for
// other shell metacharacters, plain arguments unquoted), anything else
// executes directly with an argv vector.
func syncCommand(command string, args []string) *exec.Cmd {
	if strings.ContainsRune(command, ' ') {
		line := command
		if len(args) > 0 {
			line += " " + shellquote.Join(args...)
		}
		return exec.Command("/bin/sh", "-c", line)
	}
	return exec.Command(command, args...)
}

// runSyncCommand invokes the external synchronizer and waits for it. A
// non-zero exit is fatal to the process.
func runSyncCommand(command string, boxes map[string][]string) error {
	cmd := syncCommand(command, composeSyncArgs(boxes))
	slog.Info("running sync command", "command", strings.Join(cmd.Args, " "))

	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrap(err, "sync command failed")
	}
	slog.Debug("sync command completed")
	return nil
}
