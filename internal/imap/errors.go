package imap

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrTimeout reports that a read deadline expired while waiting for a server
// line. The IDLE driver treats it as the periodic refresh signal; everywhere
// else it is a transient network failure.
var ErrTimeout = errors.New("imap: read timed out")

// ErrStopped reports that a session was terminated cooperatively while an
// IDLE loop was running. It is a normal exit condition, not a failure.
var ErrStopped = errors.New("imap: session terminating")

// AbortError is a protocol-level failure on a session. Once raised the
// session is unusable. EOF marks aborts caused by the server closing the
// connection, which watchers treat as a transient disconnect.
type AbortError struct {
	Msg string
	EOF bool
}

func (e *AbortError) Error() string {
	return e.Msg
}

func abortf(format string, args ...any) *AbortError {
	return &AbortError{Msg: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether err is a disconnect-class failure that a
// watcher should retry with a reconnect: socket and TLS errors, timeouts,
// and protocol aborts caused by EOF. Any other abort is fatal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var abort *AbortError
	if errors.As(err, &abort) {
		return abort.EOF
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
