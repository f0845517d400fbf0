package imap

import (
	"errors"
	"time"
)

// RefreshInterval is how long an IDLE is allowed to sit before the driver
// restarts it. It stays below the 30-minute inactivity cutoff most servers
// apply to idle connections.
const RefreshInterval = 29 * time.Minute

// Watch runs an IDLE loop on the given mailbox until the session is marked
// terminating or an unrecoverable protocol error occurs. onExists is invoked
// synchronously once per IDLE iteration that observed at least one EXISTS.
// The session must advertise the IDLE capability.
func Watch(s *Session, mailbox string, onExists func()) error {
	return watchWithRefresh(s, mailbox, RefreshInterval, onExists)
}

func watchWithRefresh(s *Session, mailbox string, refresh time.Duration, onExists func()) error {
	if !s.HasCapability("IDLE") {
		return abortf("idle is not supported")
	}
	if err := s.Select(mailbox, true); err != nil {
		return err
	}
	for {
		s.SetTimeout(refresh)
		fired, err := idleOnce(s)
		if err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}
		if fired {
			onExists()
		}
	}
}

// idleOnce runs a single IDLE iteration: the IDLE command, the continuation
// handshake, the wait for an EXISTS or a refresh timeout, and the DONE
// completion. It reports whether the mailbox changed.
func idleOnce(s *Session) (bool, error) {
	tag := s.NewTag()
	if err := idleSend(s, tag+" IDLE"); err != nil {
		return false, err
	}
	s.SetIdling(true)

	// Wait for the server to accept the IDLE. Untagged responses are
	// absorbed; an EXISTS arriving this early is remembered.
	exists := false
	for {
		token, verb, rest, err := idleRecv(s)
		if err != nil {
			return false, err
		}
		if token == "+" {
			break
		}
		if token != "*" {
			return false, abortf("unexpected response: %s %s %s", token, verb, rest)
		}
		if verb == "NO" || verb == "BAD" {
			return false, abortf("idle is not known or allowed")
		}
		if rest == "EXISTS" {
			exists = true
		}
	}

	// Wait for a change or the refresh timeout.
	fired := exists
	for !fired {
		_, _, rest, err := idleRecv(s)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				break
			}
			return false, err
		}
		if rest == "EXISTS" {
			fired = true
		}
	}

	if err := idleSend(s, "DONE"); err != nil {
		return false, err
	}
	s.SetIdling(false)

	// Drain until the tagged completion.
	for {
		token, verb, rest, err := idleRecv(s)
		if err != nil {
			return false, err
		}
		if token != tag {
			continue
		}
		if verb != "OK" {
			return false, abortf("idle failed: %s %s %s", token, verb, rest)
		}
		return fired, nil
	}
}

// idleSend and idleRecv wrap the session primitives with the cooperative
// termination check: a terminating session drains its socket and exits the
// loop through ErrStopped instead of touching the wire. The checks live here
// rather than on Session because the pool must still push DONE and LOGOUT
// after setting the flag.

func idleSend(s *Session, line string) error {
	if err := checkStop(s); err != nil {
		return err
	}
	if err := s.SendLine(line); err != nil {
		if s.Terminating() {
			return ErrStopped
		}
		return err
	}
	return nil
}

func idleRecv(s *Session) (token, verb, rest string, err error) {
	if err := checkStop(s); err != nil {
		return "", "", "", err
	}
	token, verb, rest, err = s.RecvLine()
	if err != nil && !errors.Is(err, ErrTimeout) && s.Terminating() {
		// The socket was closed under us by the pool takedown.
		return "", "", "", ErrStopped
	}
	return token, verb, rest, err
}

func checkStop(s *Session) error {
	if !s.Terminating() {
		return nil
	}
	s.Drain()
	return ErrStopped
}
