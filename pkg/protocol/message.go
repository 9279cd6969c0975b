package protocol

import (
	"bytes"
	"strings"
)

var crlf = []byte("\r\n")

// Message is a request split into its start line, ordered header lines and body.
// Lines keep their own line endings.
type Message struct {
	StartLine  []byte
	Headers    [][]byte
	Terminated bool
	Body       []byte
}

// Parse splits raw into a Message. It never fails: a payload without any CRLF is
// a lone start line.
func Parse(raw []byte) *Message {
	m := &Message{}

	first := bytes.Index(raw, crlf)
	if first < 0 {
		m.StartLine = clone(raw)
		return m
	}
	m.StartLine = clone(raw[:first+2])

	end := bytes.Index(raw, []byte("\r\n\r\n"))
	var block []byte
	switch {
	case end < 0:
		block = raw[first+2:]
	case end == first:
		m.Terminated = true
		m.Body = clone(raw[end+4:])
	default:
		m.Terminated = true
		block = raw[first+2 : end+2]
		m.Body = clone(raw[end+4:])
	}

	for len(block) > 0 {
		i := bytes.Index(block, crlf)
		if i < 0 {
			m.Headers = append(m.Headers, clone(block))
			break
		}
		m.Headers = append(m.Headers, clone(block[:i+2]))
		block = block[i+2:]
	}
	return m
}

// Bytes reassembles the message.
func (m *Message) Bytes() []byte {
	var b bytes.Buffer
	b.Write(m.StartLine)
	for _, h := range m.Headers {
		b.Write(h)
	}
	if m.Terminated {
		b.Write(crlf)
		b.Write(m.Body)
	}
	return b.Bytes()
}

// Method returns the first word of the start line.
func (m *Message) Method() string {
	line := strings.TrimLeft(string(m.StartLine), " \t\r\n")
	if i := strings.IndexAny(line, " \t\r\n"); i >= 0 {
		line = line[:i]
	}
	return line
}

// Header returns the value of the first header called name.
func (m *Message) Header(name string) (string, bool) {
	for _, h := range m.Headers {
		if k, v, ok := splitHeader(h); ok && strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// SetHeader rewrites every header called name in place and reports whether any existed.
func (m *Message) SetHeader(name, value string) bool {
	found := false
	for i, h := range m.Headers {
		if k, _, ok := splitHeader(h); ok && strings.EqualFold(k, name) {
			line := name + ": " + value
			if bytes.HasSuffix(h, crlf) {
				line += "\r\n"
			}
			m.Headers[i] = []byte(line)
			found = true
		}
	}
	return found
}

// RemoveHeader drops every header called name and returns how many were removed.
func (m *Message) RemoveHeader(name string) int {
	kept := m.Headers[:0]
	removed := 0
	for _, h := range m.Headers {
		if k, _, ok := splitHeader(h); ok && strings.EqualFold(k, name) {
			removed++
			continue
		}
		kept = append(kept, h)
	}
	m.Headers = kept
	return removed
}

// InsertFirst adds a header right after the start line.
func (m *Message) InsertFirst(name, value string) {
	m.StartLine = withCRLF(m.StartLine)
	line := []byte(name + ": " + value + "\r\n")
	m.Headers = append([][]byte{line}, m.Headers...)
}

// Append adds a header after the last one, in front of the blank line if there is one.
func (m *Message) Append(name, value string) {
	if n := len(m.Headers); n > 0 {
		m.Headers[n-1] = withCRLF(m.Headers[n-1])
	} else {
		m.StartLine = withCRLF(m.StartLine)
	}
	m.Headers = append(m.Headers, []byte(name+": "+value+"\r\n"))
}

// Terminate ends the header block with a blank line if it has none.
func (m *Message) Terminate() {
	if m.Terminated {
		return
	}
	if n := len(m.Headers); n > 0 {
		m.Headers[n-1] = withCRLF(m.Headers[n-1])
	} else {
		m.StartLine = withCRLF(m.StartLine)
	}
	m.Terminated = true
}

func splitHeader(line []byte) (string, string, bool) {
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return "", "", false
	}
	key := strings.TrimSpace(string(line[:i]))
	val := strings.TrimSpace(string(line[i+1:]))
	return key, val, true
}

func withCRLF(line []byte) []byte {
	if bytes.HasSuffix(line, crlf) {
		return line
	}
	return append(line, crlf...)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
