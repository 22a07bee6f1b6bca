// Package sse decodes text/event-stream framing incrementally.
package sse

import (
	"bytes"
	"strings"
)

// DefaultEvent is the event type of a frame without an "event:" line.
const DefaultEvent = "message"

// Frame is one dispatched server-sent event.
type Frame struct {
	Event string
	Data  string
	ID    string
}

// Decoder turns a chunked byte stream into frames. Chunks may split frames,
// lines, CRLF pairs and multi-byte characters at arbitrary positions.
// The zero value is ready to use.
type Decoder struct {
	buf       []byte
	pendingCR bool
}

// Feed appends a chunk and returns every frame it completes, in order.
func (d *Decoder) Feed(chunk []byte) []Frame {
	if len(chunk) == 0 {
		return nil
	}
	d.appendNormalized(chunk)

	var frames []Frame
	for {
		idx := bytes.Index(d.buf, []byte("\n\n"))
		if idx < 0 {
			break
		}
		block := string(d.buf[:idx])
		d.buf = d.buf[idx+2:]
		if f, ok := parseBlock(block); ok {
			frames = append(frames, f)
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames
}

// Flush returns a frame left unterminated when the stream ended.
func (d *Decoder) Flush() (Frame, bool) {
	if d.pendingCR {
		d.pendingCR = false
		d.buf = append(d.buf, '\r')
	}
	block := strings.TrimRight(string(d.buf), "\n")
	d.buf = nil
	if block == "" {
		return Frame{}, false
	}
	return parseBlock(block)
}

// Reset discards any buffered partial frame.
func (d *Decoder) Reset() {
	d.buf = nil
	d.pendingCR = false
}

func (d *Decoder) appendNormalized(chunk []byte) {
	if d.pendingCR {
		d.pendingCR = false
		if chunk[0] == '\n' {
			d.buf = append(d.buf, '\n')
			chunk = chunk[1:]
		} else {
			d.buf = append(d.buf, '\r')
		}
	}
	if n := len(chunk); n > 0 && chunk[n-1] == '\r' {
		d.pendingCR = true
		chunk = chunk[:n-1]
	}
	d.buf = append(d.buf, bytes.ReplaceAll(chunk, []byte("\r\n"), []byte("\n"))...)
}

func parseBlock(block string) (Frame, bool) {
	f := Frame{Event: DefaultEvent}
	var data []string
	hasData := false

	for _, line := range strings.Split(block, "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			if ev := strings.TrimSpace(value); ev != "" {
				f.Event = ev
			}
		case "data":
			data = append(data, value)
			hasData = true
		case "id":
			f.ID = strings.TrimSpace(value)
		}
	}

	if !hasData {
		return Frame{}, false
	}
	f.Data = strings.Join(data, "\n")
	return f, true
}
