// Package transport implements the length-prefixed JSON framing layer that
// carries messages between the browser extension's native-messaging host and
// the Agent Runtime Bridge core.
//
// Each frame is a 32-bit little-endian length followed by that many UTF-8
// bytes of JSON, matching the Chrome native-messaging wire convention. The
// layer is strictly transport: it never interprets "method" or "type" values
// beyond deciding which typed channel to deliver a decoded message onto.
package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single inbound frame to guard against a corrupt or
// hostile length prefix forcing an unbounded allocation.
const maxFrameBytes = 64 << 20 // 64 MiB

// readFrame reads one length-prefixed frame from r and returns its raw JSON
// bytes. io.EOF is returned unchanged when the stream closes cleanly between
// frames (i.e. zero bytes of the next length prefix have been read).
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("transport: stream closed mid length-prefix: %w", io.ErrUnexpectedEOF)
		}
		return nil, err
	}

	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		return []byte{}, nil
	}
	if n > maxFrameBytes {
		return nil, fmt.Errorf("transport: frame length %d exceeds maximum %d", n, maxFrameBytes)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("transport: stream ended after partial frame: %w", err)
	}
	return payload, nil
}

// writeFrame writes payload to w as a single length-prefixed frame and
// flushes the underlying writer if it exposes a Flush method, satisfying the
// "flush per frame" backpressure rule — no frame is held in a Go-level
// buffer waiting for more data that may never arrive.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("transport: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("transport: write payload: %w", err)
	}
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("transport: flush: %w", err)
		}
	}
	return nil
}

// flusher is satisfied by *bufio.Writer and similar buffered writers.
type flusher interface {
	Flush() error
}

// marshalFrame is a small helper shared by callers that build an outbound
// envelope and need to serialize it before handing it to writeFrame.
func marshalFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal outbound frame: %w", err)
	}
	return data, nil
}
