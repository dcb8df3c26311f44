package main

import (
	"strings"

	"github.com/pkg/errors"
)

// MaxLineLength is the maximum protocol message line length for a client
// connection, including CRLF. Raised to MaxServerLineLength on server
// links (spec §4.A / §6).
const MaxLineLength = 512

// MaxServerLineLength is the line length cap used once a connection has
// registered as a server link.
const MaxServerLineLength = 65536

// MaxTagBytes is the maximum size, in bytes, of the serialized tag
// section of a line (spec §6: "tags <= 8191 bytes").
const MaxTagBytes = 8191

// ErrTruncated mirrors the teacher's irc.ErrTruncated: Encode still
// produced a usable (truncated) line.
var ErrTruncated = errors.New("message truncated")

// ErrInputTooLong is returned by Conn.Read when a raw line exceeds the
// maximum line length; the read loop replies ERR_INPUTTOOLONG and keeps
// the connection open (spec §4.A classification (i)). ParseMessage also
// returns it, wrapped, for a tag section longer than MaxTagBytes.
var ErrInputTooLong = errors.New("input too long")

// ErrFatalProtocol is returned for malformed lines that must end the
// connection with ERROR (classification (ii)).
var ErrFatalProtocol = errors.New("fatal protocol error")

// Message holds a parsed or to-be-encoded protocol message: IRCv3 tags,
// prefix, command, and parameters. This is the tag-aware generalization
// of the teacher's vendored github.com/horgh/irc Message type (see
// vendor/github.com/horgh/irc/irc.go) - that package has no notion of
// tags at all, so it can't carry message-tags/server-time/label, which
// this spec requires throughout routing and CAP.
type Message struct {
	// Tags preserves insertion order for stable re-serialization; nil/empty
	// means no tag section was present (distinct from an empty one, though
	// we don't currently round-trip that distinction).
	Tags   []Tag
	Prefix string
	Command string
	Params []string
}

// Tag is one IRCv3 message tag (key[=value]). A Key beginning with '+'
// marks a client-only tag.
type Tag struct {
	Key   string
	Value string
}

// TagValue returns a tag's value and whether it was present.
func (m Message) TagValue(key string) (string, bool) {
	for _, t := range m.Tags {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// WithTag returns a copy of m with key=value set (replacing any existing
// occurrence of key).
func (m Message) WithTag(key, value string) Message {
	out := m
	out.Tags = make([]Tag, 0, len(m.Tags)+1)
	found := false
	for _, t := range m.Tags {
		if t.Key == key {
			out.Tags = append(out.Tags, Tag{Key: key, Value: value})
			found = true
			continue
		}
		out.Tags = append(out.Tags, t)
	}
	if !found {
		out.Tags = append(out.Tags, Tag{Key: key, Value: value})
	}
	return out
}

// WithoutTag returns a copy of m with key removed, if present.
func (m Message) WithoutTag(key string) Message {
	if _, ok := m.TagValue(key); !ok {
		return m
	}
	out := m
	out.Tags = make([]Tag, 0, len(m.Tags))
	for _, t := range m.Tags {
		if t.Key != key {
			out.Tags = append(out.Tags, t)
		}
	}
	return out
}

// WithoutClientTags drops all tags whose key begins with '+' (spec §4.I
// step 3: dropped for recipients without message-tags).
func (m Message) WithoutClientTags() Message {
	out := m
	out.Tags = nil
	for _, t := range m.Tags {
		if !strings.HasPrefix(t.Key, "+") {
			out.Tags = append(out.Tags, t)
		}
	}
	return out
}

func (m Message) String() string {
	s, _ := m.Encode(MaxLineLength)
	return strings.TrimRight(s, "\r\n")
}

// tagEscape applies IRCv3 message-tags escaping to a tag value.
func tagEscape(v string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		";", `\:`,
		" ", `\s`,
		"\r", `\r`,
		"\n", `\n`,
	)
	return r.Replace(v)
}

func tagUnescape(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) {
			i++
			switch v[i] {
			case ':':
				b.WriteByte(';')
			case 's':
				b.WriteByte(' ')
			case 'r':
				b.WriteByte('\r')
			case 'n':
				b.WriteByte('\n')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte(v[i])
			}
			continue
		}
		b.WriteByte(v[i])
	}
	return b.String()
}

// ParseMessage parses a single protocol line (with or without the
// trailing CRLF/LF already stripped by the caller's reader).
//
// Grounded on the teacher's vendored decode.go algorithm (prefix, then
// command, then space-separated params with a ':' trailing parameter),
// extended with a leading '@tags ' section per IRCv3 message-tags, and
// accepting bare LF in addition to CRLF (spec §4.A).
func ParseMessage(line string) (Message, error) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	if strings.IndexByte(line, 0) != -1 {
		return Message{}, errors.Wrap(ErrFatalProtocol, "NUL in message body")
	}

	if line == "" {
		return Message{}, errors.Wrap(ErrFatalProtocol, "empty line")
	}

	var m Message

	if line[0] == '@' {
		sp := strings.IndexByte(line, ' ')
		if sp == -1 {
			return Message{}, errors.Wrap(ErrFatalProtocol, "malformed tags")
		}
		tagSection := line[1:sp]
		if len(tagSection) > MaxTagBytes {
			return Message{}, errors.Wrap(ErrInputTooLong, "tag section too long")
		}
		for _, raw := range strings.Split(tagSection, ";") {
			if raw == "" {
				continue
			}
			if eq := strings.IndexByte(raw, '='); eq != -1 {
				m.Tags = append(m.Tags, Tag{Key: raw[:eq], Value: tagUnescape(raw[eq+1:])})
			} else {
				m.Tags = append(m.Tags, Tag{Key: raw})
			}
		}
		line = strings.TrimLeft(line[sp+1:], " ")
		if line == "" {
			return Message{}, errors.Wrap(ErrFatalProtocol, "tags with no command")
		}
	}

	if line[0] == ':' {
		sp := strings.IndexByte(line, ' ')
		if sp == -1 {
			return Message{}, errors.Wrap(ErrFatalProtocol, "malformed prefix")
		}
		m.Prefix = line[1:sp]
		line = strings.TrimLeft(line[sp+1:], " ")
		if line == "" {
			return Message{}, errors.Wrap(ErrFatalProtocol, "prefix with no command")
		}
	}

	rest := line
	if sp := strings.IndexByte(rest, ' '); sp == -1 {
		m.Command = strings.ToUpper(rest)
		return m, nil
	} else {
		m.Command = strings.ToUpper(rest[:sp])
		rest = strings.TrimLeft(rest[sp+1:], " ")
	}

	for rest != "" {
		if rest[0] == ':' {
			m.Params = append(m.Params, rest[1:])
			break
		}
		sp := strings.IndexByte(rest, ' ')
		if sp == -1 {
			m.Params = append(m.Params, rest)
			break
		}
		m.Params = append(m.Params, rest[:sp])
		rest = strings.TrimLeft(rest[sp+1:], " ")
	}

	if len(m.Params) > 15 {
		return Message{}, errors.Wrap(ErrFatalProtocol, "too many parameters")
	}

	return m, nil
}

// Encode renders m as a raw protocol line with trailing CRLF, truncating
// to maxLen where necessary (ErrTruncated), following the same
// last-parameter rules as the teacher's vendored encode.go.
func (m Message) Encode(maxLen int) (string, error) {
	var b strings.Builder

	if len(m.Tags) > 0 {
		b.WriteByte('@')
		for i, t := range m.Tags {
			if i > 0 {
				b.WriteByte(';')
			}
			b.WriteString(t.Key)
			if t.Value != "" {
				b.WriteByte('=')
				b.WriteString(tagEscape(t.Value))
			}
		}
		b.WriteByte(' ')
	}

	if len(m.Prefix) > 0 {
		b.WriteByte(':')
		b.WriteString(m.Prefix)
		b.WriteByte(' ')
	}

	b.WriteString(m.Command)

	if b.Len()+2 > maxLen {
		return "", errors.New("message with only tags/prefix/command is too long")
	}

	if len(m.Params) > 15 {
		return "", errors.New("too many parameters")
	}

	truncated := false
	for i, param := range m.Params {
		needsColon := strings.IndexByte(param, ' ') != -1 ||
			(param != "" && param[0] == ':') ||
			param == ""
		if needsColon {
			param = ":" + param
			if i+1 != len(m.Params) {
				return "", errors.New("':' or ' ' outside last parameter")
			}
		}

		if b.Len()+1+len(param)+2 > maxLen {
			used := b.Len() + 1 + 2
			avail := maxLen - used
			if avail > 0 {
				b.WriteByte(' ')
				b.WriteString(param[:avail])
			}
			truncated = true
			break
		}

		b.WriteByte(' ')
		b.WriteString(param)
	}

	b.WriteString("\r\n")

	if truncated {
		return b.String(), ErrTruncated
	}
	return b.String(), nil
}

// SourceNick retrieves the nick portion of a nick!user@host prefix. Blank
// if the prefix has no '!' (e.g. a server name prefix).
func (m Message) SourceNick() string {
	idx := strings.IndexByte(m.Prefix, '!')
	if idx == -1 {
		return ""
	}
	return m.Prefix[:idx]
}

// Arg returns params[i] and true, or "" and false if out of range.
func (m Message) Arg(i int) (string, bool) {
	if i < 0 || i >= len(m.Params) {
		return "", false
	}
	return m.Params[i], true
}
