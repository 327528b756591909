package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"
	"time"
)

func frameBytes(t *testing.T, payload string) []byte {
	t.Helper()
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf.Write(lenBuf[:])
	buf.WriteString(payload)
	return buf.Bytes()
}

func TestReadFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"type":"ping"}`)
	var buf bytes.Buffer
	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	got, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("readFrame = %s, want %s", got, payload)
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(maxFrameBytes+1))
	buf.Write(lenBuf[:])
	if _, err := readFrame(&buf); err == nil {
		t.Fatalf("readFrame: expected error for oversized frame")
	}
}

func TestReadFrameEOF(t *testing.T) {
	if _, err := readFrame(&bytes.Buffer{}); err != io.EOF {
		t.Fatalf("readFrame on empty stream = %v, want io.EOF", err)
	}
}

func TestDecodeInboundPing(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	if msg.Kind != KindPing {
		t.Errorf("Kind = %q, want %q", msg.Kind, KindPing)
	}
}

func TestDecodeInboundRPC(t *testing.T) {
	raw := []byte(`{"type":"rpc","id":"1","method":"listTools","params":{"origin":"https://example.com"}}`)
	msg, err := DecodeInbound(raw)
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	if msg.Kind != KindRPC || msg.ID != "1" || msg.Method != "listTools" {
		t.Errorf("unexpected decode: %+v", msg)
	}
	var params map[string]string
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if params["origin"] != "https://example.com" {
		t.Errorf("params[origin] = %q", params["origin"])
	}
}

func TestDecodeInboundLegacy(t *testing.T) {
	raw := []byte(`{"type":"callTool","request_id":"r1","toolName":"gmail__search_emails"}`)
	msg, err := DecodeInbound(raw)
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	if msg.Kind != KindLegacy || msg.RequestID != "r1" {
		t.Errorf("unexpected decode: %+v", msg)
	}
	var toolName string
	if err := json.Unmarshal(msg.Fields["toolName"], &toolName); err != nil {
		t.Fatalf("unmarshal toolName: %v", err)
	}
	if toolName != "gmail__search_emails" {
		t.Errorf("toolName = %q", toolName)
	}
}

// pipeWriter wraps an io.Writer adding a no-op Flush so writeFrame's flusher
// type assertion path is exercised even over a plain bytes.Buffer-backed pipe.
type flushBuffer struct {
	bytes.Buffer
}

func (f *flushBuffer) Flush() error { return nil }

func TestTransportPingPong(t *testing.T) {
	in := frameBytes(t, `{"type":"ping"}`)
	out := &flushBuffer{}

	tr := New(bytes.NewReader(in), out)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx)
	}()

	msg, ok := <-tr.Inbound()
	if !ok {
		t.Fatalf("Inbound channel closed before delivering ping")
	}
	if msg.Kind != KindPing {
		t.Fatalf("Kind = %q, want ping", msg.Kind)
	}

	if err := tr.SendStatus(StatusMessage{Status: StatusPong}); err != nil {
		t.Fatalf("SendStatus: %v", err)
	}
	tr.Close()

	<-done

	payload, err := readFrame(&out.Buffer)
	if err != nil {
		t.Fatalf("readFrame(out): %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if decoded["type"] != KindStatus || decoded["status"] != StatusPong {
		t.Errorf("status frame = %+v", decoded)
	}
}

func TestTransportMalformedFrameDiscarded(t *testing.T) {
	var buf bytes.Buffer
	writeFrame(&buf, []byte(`not json`))
	writeFrame(&buf, []byte(`{"type":"ping"}`))

	out := &flushBuffer{}
	tr := New(&buf, out)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go tr.Run(ctx)

	msg, ok := <-tr.Inbound()
	if !ok {
		t.Fatalf("Inbound closed without delivering the valid ping after the malformed frame")
	}
	if msg.Kind != KindPing {
		t.Fatalf("Kind = %q, want ping", msg.Kind)
	}
	tr.Close()
}

func TestRPCResponseMarshalJSON(t *testing.T) {
	resp := RPCResponse{ID: "42", Result: map[string]int{"count": 3}}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != KindRPCResponse || decoded["id"] != "42" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestLegacyResultMarshalJSON(t *testing.T) {
	result := LegacyResult{Type: "callTool_result", RequestID: "r9", Extra: map[string]any{"ok": true}}
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "callTool_result" || decoded["request_id"] != "r9" || decoded["ok"] != true {
		t.Errorf("decoded = %+v", decoded)
	}
}
