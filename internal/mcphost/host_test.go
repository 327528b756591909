package mcphost

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/harbor/pkg/provider/llm"
)

// ──────────────────────────────────────────────────────────────────────────────
// fakeConnection
// ──────────────────────────────────────────────────────────────────────────────

// fakeConnection is a Connection double driven entirely by test code, so
// crash/restart/quarantine behavior can be exercised without spawning a real
// subprocess.
type fakeConnection struct {
	tools      []llm.ToolDefinition
	callErr    error
	result     *ToolResult
	done       chan struct{}
	exitCode   int
	closeCalls int
}

func newFakeConnection(tools ...llm.ToolDefinition) *fakeConnection {
	return &fakeConnection{tools: tools, done: make(chan struct{}), exitCode: -1}
}

func (f *fakeConnection) ListTools(ctx context.Context) ([]llm.ToolDefinition, error) {
	return f.tools, nil
}

func (f *fakeConnection) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &ToolResult{Content: "ok"}, nil
}

func (f *fakeConnection) ReadResource(ctx context.Context, uri string) (string, error) { return uri, nil }

func (f *fakeConnection) GetPrompt(ctx context.Context, name string, args map[string]any) (string, error) {
	return name, nil
}

func (f *fakeConnection) PID() *int              { return nil }
func (f *fakeConnection) Stderr() []string       { return nil }
func (f *fakeConnection) Done() <-chan struct{}  { return f.done }
func (f *fakeConnection) ExitCode() int          { return f.exitCode }

func (f *fakeConnection) Close() error {
	f.closeCalls++
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	return nil
}

// crash simulates the child process dying unexpectedly.
func (f *fakeConnection) crash(code int) {
	f.exitCode = code
	close(f.done)
}

var _ Connection = (*fakeConnection)(nil)

// ──────────────────────────────────────────────────────────────────────────────
// fakeRuntime
// ──────────────────────────────────────────────────────────────────────────────

type fakeRuntime struct {
	containers []orphanContainer
	listErr    error
	stopped    []string
}

func (r *fakeRuntime) listLabeled(ctx context.Context, label string) ([]orphanContainer, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.containers, nil
}

func (r *fakeRuntime) stop(ctx context.Context, containerID string) error {
	r.stopped = append(r.stopped, containerID)
	return nil
}

var _ containerRuntime = (*fakeRuntime)(nil)

// ──────────────────────────────────────────────────────────────────────────────
// helpers
// ──────────────────────────────────────────────────────────────────────────────

func newTestSupervisor() *Supervisor {
	return New("test-host", WithRestartPolicy(2, time.Minute))
}

// install registers a fake Connection directly, bypassing the real transport
// constructors connect() would otherwise dispatch to.
func install(s *Supervisor, serverID string, conn *fakeConnection) *connState {
	state := &connState{
		cfg:         ServerConfig{ID: serverID, Transport: TransportStdio},
		conn:        conn,
		tools:       conn.tools,
		health:      newRollingWindow(0),
		connectedAt: time.Now(),
	}
	s.mu.Lock()
	s.conns[serverID] = state
	s.mu.Unlock()
	return state
}

// ──────────────────────────────────────────────────────────────────────────────
// tests
// ──────────────────────────────────────────────────────────────────────────────

func TestAvailableToolsFlattensAcrossServers(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()
	defer s.Close()

	install(s, "mail", newFakeConnection(llm.ToolDefinition{Name: "read_email"}))
	install(s, "calendar", newFakeConnection(llm.ToolDefinition{Name: "list_events"}))

	tools, err := s.AvailableTools(context.Background())
	if err != nil {
		t.Fatalf("AvailableTools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("len(tools) = %d, want 2", len(tools))
	}

	names := map[string]bool{}
	for _, td := range tools {
		names[td.Name] = true
	}
	if !names["mail/read_email"] || !names["calendar/list_events"] {
		t.Errorf("unexpected tool names: %v", names)
	}
}

func TestCallToolRoutesToServer(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()
	defer s.Close()

	conn := newFakeConnection()
	conn.result = &ToolResult{Content: "42 unread"}
	install(s, "mail", conn)

	result, err := s.CallTool(context.Background(), "mail/read_email", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.Content != "42 unread" {
		t.Errorf("Content = %q, want %q", result.Content, "42 unread")
	}
}

func TestCallToolMalformedName(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()
	defer s.Close()

	if _, err := s.CallTool(context.Background(), "noserver", nil); err == nil {
		t.Error("expected error for name without a server prefix")
	}
}

func TestCallToolUnknownServer(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()
	defer s.Close()

	if _, err := s.CallTool(context.Background(), "ghost/do_thing", nil); err == nil {
		t.Error("expected error for unregistered server")
	}
}

func TestCallToolFailureRecordsHealth(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()
	defer s.Close()

	conn := newFakeConnection()
	conn.callErr = fmt.Errorf("boom")
	state := install(s, "mail", conn)

	if _, err := s.CallTool(context.Background(), "mail/read_email", nil); err == nil {
		t.Error("expected error from failing tool call")
	}
	if state.health.ErrorRate() == 0 {
		t.Error("expected non-zero error rate after a failing call")
	}
}

func TestUnregisterClosesConnection(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()
	defer s.Close()

	conn := newFakeConnection()
	install(s, "mail", conn)

	if err := s.Unregister(context.Background(), "mail"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if conn.closeCalls != 1 {
		t.Errorf("closeCalls = %d, want 1", conn.closeCalls)
	}
	if _, ok := s.Status("mail"); ok {
		t.Error("expected server to be gone after Unregister")
	}
}

func TestUnregisterUnknownServer(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()
	defer s.Close()

	if err := s.Unregister(context.Background(), "ghost"); err == nil {
		t.Error("expected error for unregistered server")
	}
}

// TestWatchCrashReportsFailedRestart exercises the real watchCrash path: the
// fake connection "crashes", watchCrash attempts an automatic restart via
// connect(), which fails because the installed config has an empty Command
// and so nothing to launch, and the crash callback still fires with the
// correct attempt bookkeeping.
func TestWatchCrashReportsFailedRestart(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()
	defer s.Close()

	conn := newFakeConnection()
	state := install(s, "mail", conn)

	events := make(chan CrashEvent, 1)
	s.onCrash = func(e CrashEvent) { events <- e }

	go s.watchCrash("mail", state)
	conn.crash(1)

	select {
	case e := <-events:
		if e.ServerID != "mail" || e.ExitCode != 1 || e.Attempt != 1 || e.Quarantined {
			t.Errorf("unexpected crash event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("crash callback did not fire")
	}
}

// TestWatchCrashSkipsIntentionalClose verifies that Unregister (which marks
// tornDown before closing) never triggers the crash callback.
func TestWatchCrashSkipsIntentionalClose(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()
	defer s.Close()

	conn := newFakeConnection()
	state := install(s, "mail", conn)

	s.onCrash = func(CrashEvent) { t.Error("crash callback should not fire on intentional close") }

	done := make(chan struct{})
	go func() { s.watchCrash("mail", state); close(done) }()

	if err := s.Unregister(context.Background(), "mail"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchCrash did not return after intentional close")
	}
}

func TestCrashPolicyQuarantinesAfterLimit(t *testing.T) {
	t.Parallel()
	p := newCrashPolicy(2, time.Minute)

	restart, attempt, quarantined := p.recordCrash("svc", false)
	if !restart || attempt != 1 || quarantined {
		t.Fatalf("attempt 1: restart=%v attempt=%d quarantined=%v", restart, attempt, quarantined)
	}
	restart, attempt, quarantined = p.recordCrash("svc", false)
	if !restart || attempt != 2 || quarantined {
		t.Fatalf("attempt 2: restart=%v attempt=%d quarantined=%v", restart, attempt, quarantined)
	}
	restart, _, quarantined = p.recordCrash("svc", false)
	if restart || !quarantined {
		t.Fatalf("attempt 3: restart=%v quarantined=%v, want false/true", restart, quarantined)
	}
	if !p.isQuarantined("svc") {
		t.Error("expected svc to be quarantined")
	}
}

func TestCrashPolicyEscalatesOnUnhealthyErrorRate(t *testing.T) {
	t.Parallel()
	p := newCrashPolicy(5, time.Minute)

	restart, _, quarantined := p.recordCrash("svc", true)
	if !restart || quarantined {
		t.Fatalf("first escalated crash: restart=%v quarantined=%v, want true/false", restart, quarantined)
	}
	restart, _, quarantined = p.recordCrash("svc", true)
	if restart || !quarantined {
		t.Fatalf("second escalated crash: restart=%v quarantined=%v, want false/true", restart, quarantined)
	}
}

func TestCrashPolicyResetClearsQuarantine(t *testing.T) {
	t.Parallel()
	p := newCrashPolicy(1, time.Minute)

	p.recordCrash("svc", false)
	p.recordCrash("svc", false)
	if !p.isQuarantined("svc") {
		t.Fatal("expected svc quarantined before reset")
	}
	p.reset("svc")
	if p.isQuarantined("svc") {
		t.Error("expected quarantine cleared after reset")
	}
}

func TestAllStatusListsEveryServer(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()
	defer s.Close()

	install(s, "mail", newFakeConnection())
	install(s, "calendar", newFakeConnection())

	statuses := s.AllStatus()
	if len(statuses) != 2 {
		t.Fatalf("len(statuses) = %d, want 2", len(statuses))
	}
}

func TestCloseTearsDownAllConnections(t *testing.T) {
	t.Parallel()
	s := newTestSupervisor()

	a := newFakeConnection()
	b := newFakeConnection()
	install(s, "mail", a)
	install(s, "calendar", b)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if a.closeCalls != 1 || b.closeCalls != 1 {
		t.Errorf("closeCalls = %d/%d, want 1/1", a.closeCalls, b.closeCalls)
	}
	if len(s.AllStatus()) != 0 {
		t.Error("expected no servers after Close")
	}
}

func TestReconcileOrphansStopsLabeledContainers(t *testing.T) {
	t.Parallel()
	rt := &fakeRuntime{containers: []orphanContainer{
		{ID: "c1", Image: "example.com/mail-mcp:latest"},
		{ID: "c2", Image: "not a valid ref!!"},
	}}
	s := New("test-host")
	s.runtime = rt

	if err := s.ReconcileOrphans(context.Background()); err != nil {
		t.Fatalf("ReconcileOrphans: %v", err)
	}
	if len(rt.stopped) != 2 {
		t.Fatalf("stopped = %v, want 2 containers stopped", rt.stopped)
	}
}

func TestReconcileOrphansToleratesRuntimeUnavailable(t *testing.T) {
	t.Parallel()
	rt := &fakeRuntime{listErr: fmt.Errorf("docker not found")}
	s := New("test-host")
	s.runtime = rt

	if err := s.ReconcileOrphans(context.Background()); err != nil {
		t.Fatalf("ReconcileOrphans should tolerate an unavailable runtime, got: %v", err)
	}
}

func TestSplitFQNameRoundTrip(t *testing.T) {
	t.Parallel()
	serverID, toolName, ok := splitFQName(fqName("mail", "read_email"))
	if !ok || serverID != "mail" || toolName != "read_email" {
		t.Errorf("splitFQName = (%q, %q, %v), want (mail, read_email, true)", serverID, toolName, ok)
	}
}
