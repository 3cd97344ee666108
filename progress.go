package stevedore

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
)

// ProgressMessage is one decoded record from a build, pull, or push
// response stream. Records arrive as independent JSON objects on the
// response body; unknown fields are ignored.
type ProgressMessage struct {
	ID             string          `json:"id,omitempty"`
	Status         string          `json:"status,omitempty"`
	Stream         string          `json:"stream,omitempty"`
	Error          string          `json:"error,omitempty"`
	Progress       string          `json:"progress,omitempty"`
	ProgressDetail *ProgressDetail `json:"progressDetail,omitempty"`
}

// ProgressDetail is the numeric breakdown attached to download and upload
// status messages.
type ProgressDetail struct {
	Current int64 `json:"current"`
	Start   int64 `json:"start"`
	Total   int64 `json:"total"`
}

const buildSuccessPrefix = "Successfully built "

// BuildImageID extracts the image identifier from a build stream message,
// or "" when the message carries none. Only build responses produce these;
// the last message to carry one names the image the build produced.
func (m *ProgressMessage) BuildImageID() string {
	if !strings.HasPrefix(m.Stream, buildSuccessPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(m.Stream, buildSuccessPrefix))
}

// ProgressHandler consumes progress messages as a streaming operation
// produces them. Returning an error aborts the operation.
type ProgressHandler interface {
	Progress(message ProgressMessage) error
}

// WriterProgressHandler prints pull/push status lines and build stream
// chunks to a writer, and fails the operation when the engine reports an
// error event.
type WriterProgressHandler struct {
	out io.Writer
}

// NewWriterProgressHandler creates a ProgressHandler that writes to out.
func NewWriterProgressHandler(out io.Writer) *WriterProgressHandler {
	return &WriterProgressHandler{out: out}
}

func (h *WriterProgressHandler) Progress(message ProgressMessage) error {
	if message.Error != "" {
		return fmt.Errorf("%s", message.Error)
	}

	switch {
	case message.Stream != "":
		fmt.Fprint(h.out, message.Stream)
	case message.Progress != "":
		fmt.Fprintf(h.out, "%s: %s %s\n", message.ID, message.Status, message.Progress)
	case message.ID != "":
		fmt.Fprintf(h.out, "%s: %s\n", message.ID, message.Status)
	default:
		fmt.Fprintln(h.out, message.Status)
	}
	return nil
}

// ProgressStream decodes the JSON records of a streaming build, pull, or
// push response. More and Next may block on network I/O, and transport
// failures mid-stream classify the same way ordinary requests do. The
// caller must Close the stream on every exit path, whether it was consumed
// fully or abandoned early, to return the underlying connection to its
// pool.
type ProgressStream struct {
	method  string
	uri     string
	decoder *json.Decoder
	done    func()

	// next buffers the record More decoded ahead, and err holds a failure
	// observed while decoding ahead so Next can report it. Only a clean EOF
	// at a record boundary terminates the stream without an error.
	next *ProgressMessage
	err  error
}

func newProgressStream(method, uri string, body io.Reader, done func()) *ProgressStream {
	return &ProgressStream{
		method:  method,
		uri:     uri,
		decoder: json.NewDecoder(body),
		done:    done,
	}
}

// More reports whether Next has something to return, buffering network
// reads as needed to assemble one complete record. It returns false exactly
// when the engine has closed the body with no bytes remaining, and never
// reports true again afterward. A body that dies mid-stream still reports
// true, so the failure surfaces through Next instead of truncating the
// stream into a false success.
func (s *ProgressStream) More() bool {
	if s.next != nil || s.err != nil {
		return true
	}

	var message ProgressMessage
	err := s.decoder.Decode(&message)
	switch {
	case err == nil:
		s.next = &message
		return true
	case errors.Is(err, io.EOF):
		return false
	default:
		s.err = classify(s.method, s.uri, err)
		return true
	}
}

// Next returns the next message, decoding one if More has not already.
func (s *ProgressStream) Next() (*ProgressMessage, error) {
	if !s.More() {
		return nil, classify(s.method, s.uri, io.EOF)
	}
	if s.err != nil {
		return nil, s.err
	}

	message := s.next
	s.next = nil
	return message, nil
}

// Tail drains the stream, forwarding each message to handler when one is
// given, and returns the last build image identifier observed, even if
// later messages omit it. The stream is closed on return regardless of
// outcome.
func (s *ProgressStream) Tail(handler ProgressHandler) (string, error) {
	defer s.Close()

	var imageID string
	for s.More() {
		message, err := s.Next()
		if err != nil {
			return "", err
		}

		if id := message.BuildImageID(); id != "" {
			imageID = id
		}

		if handler != nil {
			if err := handler.Progress(*message); err != nil {
				return "", classify(s.method, s.uri, err)
			}
		}
	}
	return imageID, nil
}

// Close returns the underlying connection to its pool. Safe to call more
// than once.
func (s *ProgressStream) Close() error {
	s.done()
	return nil
}
