package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/meko-christian/mbwatch/internal/channel"
	"github.com/meko-christian/mbwatch/internal/imap"
)

// DefaultPath is where the configuration file lives unless --config says
// otherwise.
const DefaultPath = "~/.mbsyncrc"

// Error is a configuration failure, carrying the 1-based line number when
// the failure is tied to one.
type Error struct {
	Line int
	Msg  string
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

func errorf(line int, format string, args ...any) *Error {
	return &Error{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// Config is the parsed representation of an .mbsyncrc-style file: stores and
// channels by name, plus named channel groups.
type Config struct {
	IMAPStores    map[string]*channel.Store
	MaildirStores map[string]*channel.Store
	Channels      map[string]*channel.Channel
	Groups        map[string][]string

	channelOrder []string

	// sslExplicit remembers stores whose ssltype was set directly, so the
	// legacy useimaps option cannot override it.
	sslExplicit map[*channel.Store]bool
}

// Read loads and parses the configuration file at path (tilde allowed).
func Read(path string) (*Config, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, &Error{Msg: err.Error()}
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, &Error{Msg: err.Error()}
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) (*Config, error) {
	cfg := &Config{
		IMAPStores:    make(map[string]*channel.Store),
		MaildirStores: make(map[string]*channel.Store),
		Channels:      make(map[string]*channel.Channel),
		Groups:        make(map[string][]string),
		sslExplicit:   make(map[*channel.Store]bool),
	}

	var curStore *channel.Store
	var curChannel *channel.Channel

	scanner := bufio.NewScanner(r)
	lno := 0
	for scanner.Scan() {
		lno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		option, rawValue, ok := cutOption(line)
		if !ok {
			return nil, errorf(lno, "option %s doesn't have any value", line)
		}
		option = strings.ToLower(option)

		values, err := shellquote.Split(rawValue)
		if err != nil {
			return nil, errorf(lno, "%s: %s", line, err)
		}
		if len(values) == 0 {
			return nil, errorf(lno, "option %s doesn't have any value", line)
		}
		value := values[0]

		switch option {
		case "imapstore":
			curStore = cfg.store(cfg.IMAPStores, value, true)
			curChannel = nil
		case "maildirstore":
			curStore = cfg.store(cfg.MaildirStores, value, false)
			curChannel = nil
		case "channel":
			if _, ok := cfg.Channels[value]; !ok {
				cfg.Channels[value] = &channel.Channel{Name: value}
				cfg.channelOrder = append(cfg.channelOrder, value)
			}
			curChannel = cfg.Channels[value]
			curStore = nil

		case "master", "slave":
			if curChannel == nil {
				return nil, errorf(lno, "%s outside of a channel section", option)
			}
			st, box, err := cfg.resolveEndpoint(value)
			if err != nil {
				return nil, errorf(lno, "%s - %s", line, err)
			}
			if option == "master" {
				curChannel.Master, curChannel.MasterBox = st, box
			} else {
				curChannel.Slave, curChannel.SlaveBox = st, box
			}

		case "patterns":
			if curChannel == nil {
				return nil, errorf(lno, "patterns outside of a channel section")
			}
			curChannel.Patterns = values

		case "group":
			cfg.Groups[values[0]] = values[1:]

		default:
			if curChannel != nil {
				slog.Debug("ignoring unknown option", "option", option, "channel", curChannel.Name)
				continue
			}
			if curStore == nil {
				return nil, errorf(lno, "option %s outside of a store section", option)
			}
			if err := setStoreOption(cfg, curStore, option, value); err != nil {
				return nil, errorf(lno, "%s", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &Error{Msg: err.Error()}
	}

	// STARTTLS is the historical default for stores that configure
	// neither ssltype nor useimaps.
	for _, st := range cfg.IMAPStores {
		if st.TLS == "" {
			st.TLS = imap.TLSModeSTARTTLS
		}
	}
	return cfg, nil
}

// cutOption splits a config line into the option word and the raw value.
func cutOption(line string) (option, value string, ok bool) {
	cut := strings.IndexAny(line, " \t")
	if cut < 0 {
		return "", "", false
	}
	value = strings.TrimLeft(line[cut:], " \t")
	if value == "" {
		return "", "", false
	}
	return line[:cut], value, true
}

func (c *Config) store(kind map[string]*channel.Store, name string, isIMAP bool) *channel.Store {
	if st, ok := kind[name]; ok {
		return st
	}
	st := &channel.Store{Name: name, IMAP: isIMAP}
	kind[name] = st
	return st
}

// resolveEndpoint parses a ":STORE:BOX" endpoint reference. Maildir stores
// take precedence over IMAP stores on a name collision.
func (c *Config) resolveEndpoint(value string) (*channel.Store, string, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 || parts[0] != "" {
		return nil, "", fmt.Errorf("value must be in format :store:[mailbox]")
	}
	name, box := parts[1], parts[2]
	if st, ok := c.MaildirStores[name]; ok {
		return st, box, nil
	}
	if st, ok := c.IMAPStores[name]; ok {
		return st, box, nil
	}
	return nil, "", fmt.Errorf("no store '%s'", name)
}

func setStoreOption(cfg *Config, st *channel.Store, option, value string) error {
	switch option {
	case "host":
		st.Host = value
	case "user":
		st.User = value
	case "port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("port must be a number, got %q", value)
		}
		st.Port = port
	case "pass":
		st.Pass = value
	case "passcmd":
		st.PassCmd = value
	case "ssltype":
		switch imap.TLSMode(value) {
		case imap.TLSModeIMAPS, imap.TLSModeSTARTTLS, imap.TLSModeNone:
			st.TLS = imap.TLSMode(value)
			cfg.sslExplicit[st] = true
		default:
			return fmt.Errorf("ssltype must be IMAPS, STARTTLS or None, got %q", value)
		}
	case "useimaps":
		if !cfg.sslExplicit[st] {
			if parseBool(value) {
				st.TLS = imap.TLSModeIMAPS
			} else {
				st.TLS = imap.TLSModeSTARTTLS
			}
		}
	case "pathdelimiter":
		st.DelimiterOverride = value
	case "path":
		if st.IMAP {
			st.Prefix = value
		} else {
			st.Root = value
		}
	case "inbox":
		st.Inbox = value
	case "flatten":
		st.Flatten = value
	default:
		slog.Debug("ignoring unknown option", "option", option, "store", st.Name)
	}
	return nil
}

func parseBool(value string) bool {
	return strings.EqualFold(value, "yes")
}
