package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/meko-christian/mbwatch/internal/channel"
)

// Dispatcher is the single consumer of the task queue. It serializes sync
// runs, owns the dircache, and terminates the process on fatal tasks. It is
// driven from the main goroutine.
type Dispatcher struct {
	queue    *Queue
	syncMap  channel.SyncMap
	channels map[string]*channel.Channel
	stores   map[string]*channel.Store
	command  string

	// dircache maps a Maildir cur directory to the set of filenames seen
	// at the last scan. Only the dispatcher touches it.
	dircache map[string]map[string]struct{}

	// runSync is swapped out by tests.
	runSync func(command string, boxes map[string][]string) error
}

// NewDispatcher wires a dispatcher over the resolved channels.
func NewDispatcher(queue *Queue, syncMap channel.SyncMap, channels map[string]*channel.Channel, stores map[string]*channel.Store, command string) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		syncMap:  syncMap,
		channels: channels,
		stores:   stores,
		command:  command,
		dircache: make(map[string]map[string]struct{}),
		runSync:  runSyncCommand,
	}
}

// Run processes tasks in strict enqueue order until the context is
// cancelled or a fatal task arrives. The returned error is the fatal
// condition; nil means a clean shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-d.queue.C():
			if err := d.handle(t); err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) handle(t Task) error {
	switch task := t.(type) {
	case ErrorTask:
		slog.Error("watcher failed", "context", task.Context, "error", fmt.Sprintf("%+v", task.Err))
		return task.Err

	case LocalTask:
		return d.scanLocal()

	case SyncTask:
		return d.sync(task)

	default:
		return errors.Errorf("unknown task %T", t)
	}
}

// scanLocal compares every Maildir endpoint's cur directory against the
// dircache. A changed directory records its partner endpoint, so one map
// lookup during the sync reaches both sides of the pair. The cache is
// refreshed for every scanned directory whether or not it changed, which
// doubles as initialization on the first scan.
func (d *Dispatcher) scanLocal() error {
	slog.Debug("checking maildir changes")

	var pairs []channel.Endpoint
	for _, ep := range sortedEndpoints(d.syncMap) {
		if d.stores[ep.Store].IMAP {
			continue
		}
		cur := filepath.Join(ep.Path, "cur")
		entries, err := readDirSet(cur)
		if err != nil {
			return errors.Wrap(err, "scanning maildir")
		}
		cached, known := d.dircache[cur]
		if !known || !setsEqual(cached, entries) {
			slog.Info("maildir updated", "path", ep.Path)
			pairs = append(pairs, d.syncMap[ep].Endpoint)
		}
		d.dircache[cur] = entries
	}

	if len(pairs) > 0 {
		d.queue.Put(SyncTask{Pairs: pairs})
	}
	slog.Debug("check completed")
	return nil
}

// sync groups the task's pairs by channel, invokes the synchronizer once,
// and refreshes the dircache of every partner Maildir: the sync itself
// mutates local files and must not re-fire on the next local scan.
func (d *Dispatcher) sync(task SyncTask) error {
	boxes := make(map[string][]string)
	for _, ep := range task.Pairs {
		partner, ok := d.syncMap[ep]
		if !ok {
			return errors.Errorf("endpoint %s:%s is not in the sync map", ep.Store, ep.Mailbox)
		}
		ch := d.channels[partner.Channel]
		if len(ch.Patterns) > 0 {
			boxes[ch.Name] = append(boxes[ch.Name], ep.Mailbox)
		} else if _, ok := boxes[ch.Name]; !ok {
			boxes[ch.Name] = nil
		}
	}

	if err := d.runSync(d.command, boxes); err != nil {
		return err
	}

	for _, ep := range task.Pairs {
		partner := d.syncMap[ep]
		if d.stores[partner.Store].IMAP {
			continue
		}
		cur := filepath.Join(partner.Path, "cur")
		entries, err := readDirSet(cur)
		if err != nil {
			return errors.Wrap(err, "refreshing dircache")
		}
		d.dircache[cur] = entries
	}
	return nil
}

func readDirSet(dir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		set[e.Name()] = struct{}{}
	}
	return set, nil
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// sortNames is a stable ordering helper for logging and command lines.
func sortNames(m map[string][]string) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
