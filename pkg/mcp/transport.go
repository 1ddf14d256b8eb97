package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

const headerSeparator = "\r\n\r\n"

// Framer accumulates raw bytes and splits them into discrete
// Content-Length-framed message bodies. It tolerates garbage between
// messages: a header block without a parseable Content-Length is discarded
// up to its separator and scanning resumes, so one corrupt header never
// poisons the stream.
type Framer struct {
	buf []byte
}

// Feed appends a chunk of input to the internal buffer.
func (f *Framer) Feed(p []byte) {
	f.buf = append(f.buf, p...)
}

// Next returns the next complete message body, or (nil, false) when the
// buffer does not yet hold one. Callers loop until it reports false, which
// handles both several messages in one chunk and one message split across
// many chunks.
func (f *Framer) Next() ([]byte, bool) {
	for {
		sep := bytes.Index(f.buf, []byte(headerSeparator))
		if sep < 0 {
			return nil, false
		}

		length, ok := contentLength(f.buf[:sep])
		if !ok {
			// Resync: drop through the separator and rescan.
			f.buf = f.buf[sep+len(headerSeparator):]
			continue
		}

		bodyStart := sep + len(headerSeparator)
		if len(f.buf) < bodyStart+length {
			return nil, false
		}

		body := make([]byte, length)
		copy(body, f.buf[bodyStart:bodyStart+length])
		f.buf = f.buf[bodyStart+length:]
		return body, true
	}
}

// Buffered returns the number of bytes awaiting a complete frame.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

func contentLength(header []byte) (int, bool) {
	for _, line := range strings.Split(string(header), "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Transport handles MCP communication over a byte stream, stdio in
// production. Reads are framed through a Framer; every write emits one full
// framed message as a single contiguous write so concurrent responses never
// interleave.
type Transport struct {
	reader io.Reader
	writer io.Writer
	framer Framer
	mu     sync.Mutex
}

// NewTransport creates a transport over the given reader and writer.
func NewTransport(r io.Reader, w io.Writer) *Transport {
	return &Transport{reader: r, writer: w}
}

// ReadMessage returns the next framed message body from the stream. It
// returns io.EOF once the stream is exhausted and no complete message
// remains buffered.
func (t *Transport) ReadMessage() ([]byte, error) {
	var chunk [4096]byte
	for {
		if body, ok := t.framer.Next(); ok {
			return body, nil
		}
		n, err := t.reader.Read(chunk[:])
		if n > 0 {
			t.framer.Feed(chunk[:n])
		}
		if err != nil {
			if body, ok := t.framer.Next(); ok {
				return body, nil
			}
			return nil, err
		}
	}
}

// WriteResponse frames and writes a JSON-RPC response.
func (t *Transport) WriteResponse(resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return t.writeFramed(data)
}

func (t *Transport) writeFramed(body []byte) error {
	msg := make([]byte, 0, len(body)+32)
	msg = append(msg, fmt.Sprintf("Content-Length: %d%s", len(body), headerSeparator)...)
	msg = append(msg, body...)

	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.writer.Write(msg)
	return err
}
