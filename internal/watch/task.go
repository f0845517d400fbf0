package watch

import (
	"github.com/meko-christian/mbwatch/internal/channel"
)

// Task is one unit of dispatcher work. The three variants below are the
// only implementations.
type Task interface {
	task()
}

// SyncTask asks the dispatcher to run the synchronizer for the given
// endpoint pairs. Each endpoint is looked up in the sync map to find its
// partner and channel.
type SyncTask struct {
	Pairs []channel.Endpoint
}

// LocalTask triggers a scan of all local Maildirs for changes.
type LocalTask struct{}

// ErrorTask carries a fatal watcher failure to the dispatcher, which logs
// it and terminates the process.
type ErrorTask struct {
	Err     error
	Context string
}

func (SyncTask) task()  {}
func (LocalTask) task() {}
func (ErrorTask) task() {}
