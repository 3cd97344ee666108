package stevedore

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Stream-type tags for the engine's raw multiplexed log format. The stdin
// tag marks echoed input and is discarded on the client side.
const (
	streamStdin  = 0
	streamStdout = 1
	streamStderr = 2
)

// logHeaderSize is the fixed frame header: one stream-type byte, three
// reserved bytes, and a big-endian payload length.
const logHeaderSize = 8

// LogStream demultiplexes a logs or attach response carrying the engine's
// raw stream format into separate stdout and stderr byte sequences.
// Frames are consumed strictly in arrival order. The caller must Close
// the stream on every exit path; Attach and ReadFully do so themselves.
type LogStream struct {
	method string
	uri    string
	body   io.Reader
	done   func()
}

func newLogStream(method, uri string, body io.Reader, done func()) *LogStream {
	return &LogStream{method: method, uri: uri, body: body, done: done}
}

// Attach blocks until the body is exhausted, writing each frame's payload
// to the sink matching its stream tag. Frames tagged as stdin echo, or
// with a tag this client does not know, are discarded. A write failure on
// either sink aborts the whole operation. The underlying connection is
// released on return, success or failure alike.
func (s *LogStream) Attach(stdout, stderr io.Writer) error {
	defer s.Close()
	return s.demux(stdout, stderr)
}

// ReadFully drains the body, concatenating stdout and stderr payloads in
// arrival order into one buffered string. Used when the caller does not
// need the two channels separated.
func (s *LogStream) ReadFully() (string, error) {
	defer s.Close()

	var buf strings.Builder
	if err := s.demux(&buf, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *LogStream) demux(stdout, stderr io.Writer) error {
	header := make([]byte, logHeaderSize)
	for {
		_, err := io.ReadFull(s.body, header)
		if err == io.EOF {
			// A close on a frame boundary is the normal termination.
			return nil
		}
		if err != nil {
			if err == io.ErrUnexpectedEOF {
				err = fmt.Errorf("truncated frame header: %w", err)
			}
			return classify(s.method, s.uri, err)
		}

		length := int64(binary.BigEndian.Uint32(header[4:logHeaderSize]))

		var sink io.Writer
		switch header[0] {
		case streamStdout:
			sink = stdout
		case streamStderr:
			sink = stderr
		default:
			sink = io.Discard
		}

		n, err := io.CopyN(sink, s.body, length)
		if err != nil {
			if err == io.EOF {
				err = fmt.Errorf("truncated frame payload: read %d of %d bytes: %w", n, length, io.ErrUnexpectedEOF)
			}
			return classify(s.method, s.uri, err)
		}
	}
}

// Close returns the underlying connection to its pool. Safe to call more
// than once.
func (s *LogStream) Close() error {
	s.done()
	return nil
}
