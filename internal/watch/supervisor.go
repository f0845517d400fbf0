package watch

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/meko-christian/mbwatch/internal/channel"
	"github.com/meko-christian/mbwatch/internal/imap"
)

const (
	// DefaultPollPeriod is how often the local Maildirs are scanned.
	DefaultPollPeriod = 60 * time.Second
	// reconnectDelay is the fixed backoff between failed connection
	// attempts of a remote watcher. There is no retry cap.
	reconnectDelay = 30 * time.Second
)

// Supervisor spawns one remote watcher goroutine per IMAP endpoint of the
// sync map and a single local poller, all feeding the task queue. The
// goroutines never block process exit; the dispatcher decides when the
// process ends.
type Supervisor struct {
	queue   *Queue
	pool    *imap.Pool
	stores  map[string]*channel.Store
	syncMap channel.SyncMap

	pollPeriod time.Duration
	retryDelay time.Duration
}

// NewSupervisor wires a supervisor over the populated stores and sync map.
func NewSupervisor(queue *Queue, pool *imap.Pool, stores map[string]*channel.Store, syncMap channel.SyncMap) *Supervisor {
	return &Supervisor{
		queue:      queue,
		pool:       pool,
		stores:     stores,
		syncMap:    syncMap,
		pollPeriod: DefaultPollPeriod,
		retryDelay: reconnectDelay,
	}
}

// Start launches all watcher goroutines and returns immediately.
func (s *Supervisor) Start() {
	for _, ep := range sortedEndpoints(s.syncMap) {
		st := s.stores[ep.Store]
		if !st.IMAP {
			continue
		}
		go s.watchRemote(st, ep)
	}
	go s.pollLocal()
}

// watchRemote is the per-mailbox watcher body: connect (or reconnect), run
// the IDLE loop, classify failures. Transient disconnects retry after a
// fixed delay; anything else becomes an ErrorTask. A terminating session
// exits silently.
func (s *Supervisor) watchRemote(st *channel.Store, ep channel.Endpoint) {
	callback := func() {
		s.queue.Put(SyncTask{Pairs: []channel.Endpoint{ep}})
	}

	var prev *imap.Session
	for {
		con, err := s.makeCon(st, prev)
		if err != nil {
			if !imap.IsTransient(err) {
				s.errorTask(err, ep)
				return
			}
			slog.Error("watcher connection failed", "store", ep.Store, "mailbox", ep.Mailbox, "error", err)
			slog.Debug("reconnect in 30s")
			time.Sleep(s.retryDelay)
			continue
		}
		prev = con

		err = imap.Watch(con, ep.Path, callback)
		if err == nil {
			return
		}
		if con.Terminating() {
			slog.Debug("watcher stopped", "store", ep.Store, "mailbox", ep.Mailbox, "error", err)
			return
		}
		if !imap.IsTransient(err) {
			s.errorTask(err, ep)
			return
		}
		slog.Error("watcher disconnected", "store", ep.Store, "mailbox", ep.Mailbox, "error", err)
		slog.Debug("reconnect in 30s")
		time.Sleep(s.retryDelay)
	}
}

// makeCon opens the first connection through the pool and routes subsequent
// attempts through Reconnect so the pool identity of the account survives.
func (s *Supervisor) makeCon(st *channel.Store, prev *imap.Session) (*imap.Session, error) {
	if prev == nil {
		return s.pool.GetOrCreate(st.Host, st.User, st.Pass, st.PortOrDefault(), st.TLS)
	}
	slog.Debug("trying to reconnect", "store", st.Name)
	return s.pool.Reconnect(prev, st.Pass, st.TLS)
}

func (s *Supervisor) errorTask(err error, ep channel.Endpoint) {
	s.queue.Put(ErrorTask{
		Err:     errors.WithStack(err),
		Context: fmt.Sprintf("%s:%s", ep.Store, ep.Mailbox),
	})
}

// pollLocal enqueues a LocalTask every poll period.
func (s *Supervisor) pollLocal() {
	ticker := time.NewTicker(s.pollPeriod)
	defer ticker.Stop()
	for range ticker.C {
		s.queue.Put(LocalTask{})
	}
}

// sortedEndpoints returns the sync map keys in a stable order so watcher
// startup and logs are deterministic.
func sortedEndpoints(sm channel.SyncMap) []channel.Endpoint {
	eps := make([]channel.Endpoint, 0, len(sm))
	for ep := range sm {
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool {
		if eps[i].Store != eps[j].Store {
			return eps[i].Store < eps[j].Store
		}
		if eps[i].Mailbox != eps[j].Mailbox {
			return eps[i].Mailbox < eps[j].Mailbox
		}
		return eps[i].Path < eps[j].Path
	})
	return eps
}

// SyncAll builds the startup task covering every pair in the sync map
// exactly once, preferring the IMAP side of a pair so the post-sync
// dircache refresh reaches its Maildir. A pair with two Maildir sides is
// represented by its first endpoint in sort order.
func SyncAll(sm channel.SyncMap, stores map[string]*channel.Store) SyncTask {
	seen := make(map[channel.Endpoint]bool)
	var pairs []channel.Endpoint
	for _, ep := range sortedEndpoints(sm) {
		partner := sm[ep].Endpoint
		if seen[ep] || seen[partner] {
			continue
		}
		seen[ep], seen[partner] = true, true
		pick := ep
		if !stores[ep.Store].IMAP && stores[partner.Store].IMAP {
			pick = partner
		}
		pairs = append(pairs, pick)
	}
	return SyncTask{Pairs: pairs}
}
