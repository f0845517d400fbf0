package imap

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// closeTimeout is the socket timeout imposed on a session being taken down,
// so a blocked reader wakes up quickly.
const closeTimeout = 3 * time.Second

// Key identifies the account a session belongs to.
type Key struct {
	Host string
	Port int
	User string
}

// Pool is the process-wide registry of IMAP sessions, partitioned into busy
// (held by a watcher or the resolver) and released (available for reuse).
// It exists because the pre-watch enumeration opens a connection that the
// IDLE loop on the same account should reuse, and to centralize cooperative
// shutdown. A single mutex guards the bookkeeping; it is never held across
// network I/O.
type Pool struct {
	mu       sync.Mutex
	busy     map[Key][]*Session
	released map[Key][]*Session
	keys     map[*Session]Key
	trace    bool
}

// NewPool returns an empty pool. With trace set, sessions created by the
// pool log their network traffic.
func NewPool(trace bool) *Pool {
	return &Pool{
		busy:     make(map[Key][]*Session),
		released: make(map[Key][]*Session),
		keys:     make(map[*Session]Key),
		trace:    trace,
	}
}

// GetOrCreate returns a released session for (host, port, user) if one is
// available (most recently released first), or opens and authenticates a new
// one. The returned session is registered as busy. There is no per-key
// bound: watchers are long-lived, one per mailbox.
func (p *Pool) GetOrCreate(host, user, password string, port int, mode TLSMode) (*Session, error) {
	key := Key{Host: host, Port: port, User: user}

	p.mu.Lock()
	if free := p.released[key]; len(free) > 0 {
		s := free[len(free)-1]
		p.released[key] = free[:len(free)-1]
		p.busy[key] = append(p.busy[key], s)
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	s, err := p.connect(host, port, user, password, mode)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.addLocked(s, key)
	p.mu.Unlock()
	return s, nil
}

// Reconnect opens a fresh session for the same key as con and swaps it in.
// The new session is registered before the old one is removed so the key
// never drops out of the pool while CloseAll may be iterating.
func (p *Pool) Reconnect(con *Session, password string, mode TLSMode) (*Session, error) {
	p.mu.Lock()
	key, ok := p.keys[con]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session is not registered in the pool")
	}

	s, err := p.connect(key.Host, key.Port, key.User, password, mode)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.addLocked(s, key)
	p.removeLocked(con)
	p.mu.Unlock()
	return s, nil
}

// Release moves a session from busy to released so a later GetOrCreate with
// the same key can reuse it. Nothing is ever evicted.
func (p *Pool) Release(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key, ok := p.keys[s]
	if !ok {
		return
	}
	p.busy[key] = removeSession(p.busy[key], s)
	p.released[key] = append(p.released[key], s)
}

// Close takes a session down: it marks it terminating, imposes a short
// socket timeout, pushes DONE if an IDLE is outstanding, sends LOGOUT
// without reading the response, closes the socket and drops the session
// from the pool. Takedown errors are logged and swallowed.
func (p *Pool) Close(s *Session) {
	s.Terminate()
	s.SetTimeout(closeTimeout)
	if s.Idling() {
		if err := s.SendLine("DONE"); err != nil {
			slog.Warn("error on shutting down the connection", "error", err)
		}
	}
	if err := s.Logout(); err != nil {
		slog.Warn("error on shutting down the connection", "error", err)
	}
	_ = s.Shutdown()

	p.mu.Lock()
	p.removeLocked(s)
	p.mu.Unlock()
}

// CloseAll closes every session in the pool, iterating over a snapshot so
// concurrent reconnects cannot invalidate the walk.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	snapshot := make([]*Session, 0, len(p.keys))
	for s := range p.keys {
		snapshot = append(snapshot, s)
	}
	p.mu.Unlock()

	for _, s := range snapshot {
		p.Close(s)
	}
}

// Count returns the number of sessions currently registered.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

func (p *Pool) connect(host string, port int, user, password string, mode TLSMode) (*Session, error) {
	s, err := Dial(host, port, mode, p.trace)
	if err != nil {
		return nil, err
	}
	if mode == TLSModeSTARTTLS {
		if err := s.StartTLS(); err != nil {
			_ = s.Shutdown()
			return nil, err
		}
	}
	if err := s.Login(user, password); err != nil {
		_ = s.Shutdown()
		return nil, err
	}
	return s, nil
}

func (p *Pool) addLocked(s *Session, key Key) {
	p.busy[key] = append(p.busy[key], s)
	p.keys[s] = key
}

func (p *Pool) removeLocked(s *Session) {
	key, ok := p.keys[s]
	if !ok {
		return
	}
	p.busy[key] = removeSession(p.busy[key], s)
	p.released[key] = removeSession(p.released[key], s)
	delete(p.keys, s)
}

func removeSession(list []*Session, s *Session) []*Session {
	for i, c := range list {
		if c == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
