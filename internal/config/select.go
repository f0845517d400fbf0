package config

import (
	"strings"

	"github.com/meko-christian/mbwatch/internal/channel"
)

// Select resolves the command-line channel selection: with all set, every
// configured channel; otherwise each positional argument names a group, a
// channel, or CHANNEL:BOX,BOX which overrides the channel's selection clause
// with an explicit box list. Patterns are compiled on the way out.
func (c *Config) Select(args []string, all bool) ([]*channel.Channel, error) {
	var selected []*channel.Channel
	byName := make(map[string]int)

	add := func(ch *channel.Channel) {
		if i, ok := byName[ch.Name]; ok {
			selected[i] = ch
			return
		}
		byName[ch.Name] = len(selected)
		selected = append(selected, ch)
	}

	if all {
		for _, name := range c.channelOrder {
			add(c.Channels[name])
		}
	}

	for _, arg := range args {
		if members, ok := c.Groups[arg]; ok {
			for _, name := range members {
				ch, ok := c.Channels[name]
				if !ok {
					return nil, errorf(0, "unknown channel '%s' in group '%s'", name, arg)
				}
				add(ch)
			}
			continue
		}

		name, boxes := arg, []string(nil)
		if i := strings.IndexByte(arg, ':'); i >= 0 {
			name = arg[:i]
			boxes = strings.Split(arg[i+1:], ",")
		}
		ch, ok := c.Channels[name]
		if !ok {
			return nil, errorf(0, "unknown group or channel '%s'", name)
		}
		if boxes != nil {
			// A per-invocation copy; the configured channel keeps its
			// own selection clause. Patterns stay in place: an
			// explicit box list takes precedence when the sync map is
			// built, but a pattern channel still syncs box by box.
			override := *ch
			override.Boxes = boxes
			ch = &override
		}
		add(ch)
	}

	for _, ch := range selected {
		if ch.Master == nil || ch.Slave == nil {
			return nil, errorf(0, "channel '%s' is missing a master or slave", ch.Name)
		}
		if err := ch.Compile(); err != nil {
			return nil, &Error{Msg: err.Error()}
		}
	}
	return selected, nil
}
