package imap

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// TLSMode selects how a connection is secured.
type TLSMode string

const (
	// TLSModeIMAPS opens a TLS connection from the start (usually port 993).
	TLSModeIMAPS TLSMode = "IMAPS"
	// TLSModeSTARTTLS opens plaintext and upgrades via the STARTTLS command.
	TLSModeSTARTTLS TLSMode = "STARTTLS"
	// TLSModeNone keeps the connection plaintext. Only sensible against
	// localhost servers and in tests.
	TLSModeNone TLSMode = "None"
)

const (
	// dialTimeout bounds the initial TCP/TLS connect.
	dialTimeout = 30 * time.Second
	// drainTimeout bounds the byte drain performed during cooperative
	// termination.
	drainTimeout = 200 * time.Millisecond
)

// loginMarker splits a traced LOGIN line so credentials never reach the log.
const loginMarker = " LOGIN "

// Session is a single IMAP connection with framed line I/O. A session is
// owned by exactly one goroutine at a time; only the idling and terminating
// flags are shared with the pool.
type Session struct {
	host string
	port int

	conn net.Conn
	r    *bufio.Reader

	tagSeq uint64
	caps   map[string]struct{}

	tlsEstablished bool
	timeout        time.Duration
	trace          bool

	idling      atomic.Bool
	terminating atomic.Bool
}

// Dial connects to host:port, consumes the server greeting and caches the
// advertised capabilities. For TLSModeIMAPS the connection is wrapped in TLS
// immediately; for TLSModeSTARTTLS the caller is expected to run StartTLS
// next.
func Dial(host string, port int, mode TLSMode, trace bool) (*Session, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var conn net.Conn
	var err error
	if mode == TLSModeIMAPS {
		dialer := &net.Dialer{Timeout: dialTimeout}
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: host})
	} else {
		conn, err = net.DialTimeout("tcp", addr, dialTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	s := &Session{
		host:           host,
		port:           port,
		conn:           conn,
		r:              bufio.NewReader(conn),
		caps:           make(map[string]struct{}),
		tlsEstablished: mode == TLSModeIMAPS,
		trace:          trace,
	}

	token, verb, _, err := s.RecvLine()
	if err != nil {
		_ = s.Shutdown()
		return nil, err
	}
	if token != "*" || (verb != "OK" && verb != "PREAUTH") {
		_ = s.Shutdown()
		return nil, abortf("unexpected greeting: %s %s", token, verb)
	}

	if err := s.Capability(); err != nil {
		_ = s.Shutdown()
		return nil, err
	}

	return s, nil
}

// NewTag returns the next command tag for this session.
func (s *Session) NewTag() string {
	s.tagSeq++
	return fmt.Sprintf("W%04d", s.tagSeq)
}

// SetTimeout sets the socket timeout applied to every subsequent read and
// write. Zero disables it.
func (s *Session) SetTimeout(d time.Duration) {
	s.timeout = d
}

// SendLine writes one CRLF-terminated line.
func (s *Session) SendLine(line string) error {
	s.traceLine("> " + line)
	if s.timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	}
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		return fmt.Errorf("socket error: %w", err)
	}
	return nil
}

// RecvLine reads one server line and splits it into the tag token, the
// verb/status, and the trailing text. A line with fewer than two fields is a
// protocol abort. An expired read deadline surfaces as ErrTimeout; a closed
// connection as an EOF abort.
func (s *Session) RecvLine() (token, verb, rest string, err error) {
	if s.timeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.timeout))
	}
	line, err := s.r.ReadString('\n')
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			// A timed-out read leaves TLS record buffering in an
			// undefined state; start over from the raw connection.
			s.resetReader()
			return "", "", "", ErrTimeout
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", "", "", &AbortError{Msg: "socket error: EOF", EOF: true}
		}
		return "", "", "", fmt.Errorf("socket error: %w", err)
	}

	line = strings.TrimRight(line, "\r\n")
	s.traceLine("< " + line)

	parts := splitLine(line)
	if len(parts) < 2 {
		return "", "", "", abortf("unexpected response: %s", line)
	}
	if len(parts) > 2 {
		rest = parts[2]
	}
	return parts[0], parts[1], rest, nil
}

// splitLine splits on runs of whitespace into at most three fields, keeping
// the remainder of the line intact in the third.
func splitLine(line string) []string {
	var parts []string
	rest := line
	for i := 0; i < 2; i++ {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			return parts
		}
		cut := strings.IndexAny(rest, " \t")
		if cut < 0 {
			return append(parts, rest)
		}
		parts = append(parts, rest[:cut])
		rest = rest[cut:]
	}
	rest = strings.TrimLeft(rest, " \t")
	if rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

// command sends a tagged command and reads until its completion, feeding
// untagged responses to collect. A non-OK completion is a protocol abort.
func (s *Session) command(cmd string, collect func(verb, rest string)) error {
	tag := s.NewTag()
	if err := s.SendLine(tag + " " + cmd); err != nil {
		return err
	}
	for {
		token, verb, rest, err := s.RecvLine()
		if err != nil {
			return err
		}
		if token == tag {
			if verb != "OK" {
				return abortf("%s failed: %s %s", commandName(cmd), verb, rest)
			}
			s.updateCapsFromCode(rest)
			return nil
		}
		if token != "*" {
			continue
		}
		if verb == "CAPABILITY" {
			s.setCaps(rest)
		}
		if collect != nil {
			collect(verb, rest)
		}
	}
}

func commandName(cmd string) string {
	if i := strings.IndexByte(cmd, ' '); i >= 0 {
		return cmd[:i]
	}
	return cmd
}

// Login authenticates the session. The traced line is truncated after the
// LOGIN marker so the password never appears in the log.
func (s *Session) Login(user, password string) error {
	return s.command(fmt.Sprintf("LOGIN %s %s", quote(user), quote(password)), nil)
}

// Capability refreshes the cached capability set from the server.
func (s *Session) Capability() error {
	found := false
	err := s.command("CAPABILITY", func(verb, _ string) {
		if verb == "CAPABILITY" {
			found = true
		}
	})
	if err != nil {
		return err
	}
	if !found && len(s.caps) == 0 {
		return abortf("no CAPABILITY response from server")
	}
	return nil
}

// HasCapability reports whether the server advertised the given capability.
func (s *Session) HasCapability(name string) bool {
	_, ok := s.caps[strings.ToUpper(name)]
	return ok
}

func (s *Session) setCaps(list string) {
	caps := make(map[string]struct{})
	for _, c := range strings.Fields(list) {
		caps[strings.ToUpper(c)] = struct{}{}
	}
	s.caps = caps
}

// updateCapsFromCode picks a [CAPABILITY ...] response code out of a tagged
// completion, as many servers send one on LOGIN.
func (s *Session) updateCapsFromCode(rest string) {
	const prefix = "[CAPABILITY "
	if !strings.HasPrefix(rest, prefix) {
		return
	}
	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return
	}
	s.setCaps(rest[len(prefix):end])
}

// StartTLS upgrades a plaintext session to TLS and re-reads capabilities.
// Running it on an already established TLS session is a protocol error.
func (s *Session) StartTLS() error {
	if s.tlsEstablished {
		return abortf("TLS session already established")
	}
	if !s.HasCapability("STARTTLS") {
		return abortf("TLS not supported by server")
	}

	tag := s.NewTag()
	if err := s.SendLine(tag + " STARTTLS"); err != nil {
		return err
	}
	for {
		token, verb, rest, err := s.RecvLine()
		if err != nil {
			return err
		}
		if token != tag {
			continue
		}
		if verb != "OK" {
			return abortf("couldn't establish TLS session: %s %s", verb, rest)
		}
		break
	}

	tlsConn := tls.Client(s.conn, &tls.Config{ServerName: s.host})
	if err := tlsConn.Handshake(); err != nil {
		return abortf("TLS handshake failed: %v", err)
	}
	s.conn = tlsConn
	s.r = bufio.NewReader(tlsConn)
	s.tlsEstablished = true

	return s.Capability()
}

// List runs LIST "" "*" and returns the raw payload of every untagged LIST
// response.
func (s *Session) List() ([]string, error) {
	var lines []string
	err := s.command(`LIST "" "*"`, func(verb, rest string) {
		if verb == "LIST" {
			lines = append(lines, rest)
		}
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// Namespace runs NAMESPACE and returns the raw payload of the untagged
// response.
func (s *Session) Namespace() (string, error) {
	var ns string
	found := false
	err := s.command("NAMESPACE", func(verb, rest string) {
		if verb == "NAMESPACE" && !found {
			ns, found = rest, true
		}
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", abortf("no NAMESPACE response from server")
	}
	return ns, nil
}

// Select opens a mailbox, read-only when readonly is set.
func (s *Session) Select(mailbox string, readonly bool) error {
	cmd := "SELECT"
	if readonly {
		cmd = "EXAMINE"
	}
	return s.command(cmd+" "+quote(mailbox), nil)
}

// Logout sends a tagged LOGOUT without waiting for the response. It is used
// during takedown where the socket is closed right after.
func (s *Session) Logout() error {
	return s.SendLine(s.NewTag() + " LOGOUT")
}

// Shutdown closes the underlying socket.
func (s *Session) Shutdown() error {
	return s.conn.Close()
}

// Drain reads and discards whatever the server still has buffered, bounded
// by a short deadline. Socket errors are swallowed; the drain runs during
// cooperative termination where the connection is already condemned.
func (s *Session) Drain() {
	_ = s.conn.SetReadDeadline(time.Now().Add(drainTimeout))
	buf := make([]byte, 4096)
	for {
		if _, err := s.conn.Read(buf); err != nil {
			break
		}
	}
	s.resetReader()
}

func (s *Session) resetReader() {
	s.r = bufio.NewReader(s.conn)
}

// Idling reports whether the session has an IDLE command outstanding.
func (s *Session) Idling() bool { return s.idling.Load() }

// SetIdling records whether an IDLE command is outstanding.
func (s *Session) SetIdling(v bool) { s.idling.Store(v) }

// Terminating reports whether the session is being taken down.
func (s *Session) Terminating() bool { return s.terminating.Load() }

// Terminate marks the session for cooperative takedown. The IDLE driver
// checks the flag before every send and receive.
func (s *Session) Terminate() { s.terminating.Store(true) }

func (s *Session) traceLine(line string) {
	if !s.trace {
		return
	}
	if i := strings.Index(line, loginMarker); i >= 0 {
		line = line[:i+len(loginMarker)] + "..."
	}
	slog.Debug("imap traffic", "host", s.host, "line", line)
}

// quote renders a string as an IMAP quoted string.
func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}
