package transport

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"sync"
)

// Transport owns one reader goroutine demultiplexing inbound frames onto a
// typed channel and one writer goroutine serializing outbound frames,
// connected to callers by buffered channels — the same shape as
// mcphost.Host's connection handling and the streaming-provider goroutines in
// pkg/provider/llm: a single background goroutine per direction, no shared
// mutable state between them beyond the channels.
//
// Inbound and outbound are fully independent: a response may be written in
// any order relative to the requests that produced it, and a blocked or slow
// writer never stalls the reader or vice versa.
type Transport struct {
	r io.Reader
	w io.Writer

	logger *slog.Logger

	inbound chan *Inbound
	outbox  chan []byte

	readErr  error
	closeOne sync.Once
	done     chan struct{}
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger overrides the default logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithInboundBuffer sets the buffer size of the inbound channel. Default 32.
func WithInboundBuffer(n int) Option {
	return func(t *Transport) {
		t.inbound = make(chan *Inbound, n)
	}
}

// New constructs a Transport reading frames from r and writing frames to w.
// The caller is responsible for closing r/w (typically os.Stdin/os.Stdout)
// after calling Close.
func New(r io.Reader, w io.Writer, opts ...Option) *Transport {
	t := &Transport{
		r:       r,
		w:       bufio.NewWriter(w),
		logger:  slog.Default(),
		inbound: make(chan *Inbound, 32),
		outbox:  make(chan []byte, 32),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Run starts the reader and writer goroutines and blocks until both have
// returned. The reader returns when the inbound stream closes; the writer
// returns once Close has been called and every queued frame is written, or
// when ctx is cancelled. On return, the Inbound channel is closed; callers
// should drain it before giving up.
func (t *Transport) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		t.readLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		t.writeLoop(ctx)
	}()

	wg.Wait()
}

// readLoop decodes frames from r and dispatches them onto the inbound
// channel until the stream ends, a frame fails to decode (logged and
// discarded per the framing layer's failure semantics), or ctx is done.
func (t *Transport) readLoop(ctx context.Context) {
	defer close(t.inbound)
	defer close(t.done)

	for {
		raw, err := readFrame(t.r)
		if err != nil {
			if err != io.EOF {
				t.logger.Error("transport: read frame failed, closing stream", "error", err)
				t.readErr = err
			}
			return
		}

		msg, err := DecodeInbound(raw)
		if err != nil {
			t.logger.Warn("transport: discarding malformed frame", "error", err)
			continue
		}

		select {
		case t.inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop serializes outbound frames, flushing after each one per the
// "no silent drops, flush per frame" backpressure rule. It keeps running
// after the read side ends, so replies sent after the inbound stream closed
// still go out.
func (t *Transport) writeLoop(ctx context.Context) {
	for {
		select {
		case payload, ok := <-t.outbox:
			if !ok {
				return
			}
			if err := writeFrame(t.w, payload); err != nil {
				t.logger.Error("transport: write frame failed", "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Inbound returns the channel of decoded inbound messages. It is closed when
// the read side of the transport terminates.
func (t *Transport) Inbound() <-chan *Inbound {
	return t.inbound
}

// Err returns the error (if any) that caused the read loop to stop, once
// Inbound has been drained and closed. Returns nil for a clean EOF shutdown.
func (t *Transport) Err() error {
	return t.readErr
}

// SendStatus enqueues an outbound {type:"status", ...} frame.
func (t *Transport) SendStatus(msg StatusMessage) error {
	return t.send(msg)
}

// SendRPCRequest enqueues an outbound {type:"rpc", ...} frame. Used by
// peer-to-peer IPC channels (e.g. the isolated MCP runner) where both ends
// issue requests; the native-messaging channel to the browser extension
// only ever receives these, never sends them.
func (t *Transport) SendRPCRequest(req RPCRequest) error {
	return t.send(req)
}

// SendRPCResponse enqueues an outbound {type:"rpc_response", ...} frame.
func (t *Transport) SendRPCResponse(resp RPCResponse) error {
	return t.send(resp)
}

// SendLegacyResult enqueues an outbound legacy-shaped result or error frame.
func (t *Transport) SendLegacyResult(result LegacyResult) error {
	return t.send(result)
}

// send marshals v and queues it on the outbox. It blocks only as long as the
// outbox buffer is full; it never blocks on the writer actually flushing.
func (t *Transport) send(v any) error {
	payload, err := marshalFrame(v)
	if err != nil {
		return err
	}
	t.outbox <- payload
	return nil
}

// Close stops accepting further sends. Safe to call multiple times and from
// any goroutine.
func (t *Transport) Close() {
	t.closeOne.Do(func() {
		close(t.outbox)
	})
}
