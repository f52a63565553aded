package agent

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"polar-connector/internal/cloud"
	"polar-connector/internal/config"
	"polar-connector/internal/identity"
	"polar-connector/internal/printer"
)

type emission struct {
	event   string
	payload any
}

// fakeEmitter records every Emit call.
type fakeEmitter struct {
	mu     sync.Mutex
	events []emission
}

func (f *fakeEmitter) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emission{event: event, payload: payload})
	return nil
}

func (f *fakeEmitter) byEvent(event string) []emission {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emission
	for _, e := range f.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeEmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type zoneTarget struct {
	zone   string
	target float64
}

// fakePrinter is a scriptable printer.Controller.
type fakePrinter struct {
	mu       sync.Mutex
	state    printer.State
	temps    map[string]printer.Temperature
	job      printer.JobData
	printing bool

	controlCalls []string
	commands     []string
	setTemps     []zoneTarget
}

func newFakePrinter() *fakePrinter {
	return &fakePrinter{
		state: printer.StateOperational,
		temps: map[string]printer.Temperature{},
	}
}

func (p *fakePrinter) record(call string) {
	p.mu.Lock()
	p.controlCalls = append(p.controlCalls, call)
	p.mu.Unlock()
}

func (p *fakePrinter) Cancel(ctx context.Context) error { p.record("cancel"); return nil }
func (p *fakePrinter) Pause(ctx context.Context) error  { p.record("pause"); return nil }
func (p *fakePrinter) Resume(ctx context.Context) error { p.record("resume"); return nil }

func (p *fakePrinter) SendCommand(ctx context.Context, command string) error {
	p.mu.Lock()
	p.commands = append(p.commands, command)
	p.mu.Unlock()
	return nil
}

func (p *fakePrinter) SetTemperature(ctx context.Context, zone string, target float64) error {
	p.mu.Lock()
	p.setTemps = append(p.setTemps, zoneTarget{zone: zone, target: target})
	p.mu.Unlock()
	return nil
}

func (p *fakePrinter) CurrentState(ctx context.Context) printer.State { return p.state }

func (p *fakePrinter) CurrentTemperatures(ctx context.Context) map[string]printer.Temperature {
	return p.temps
}

func (p *fakePrinter) CurrentJob(ctx context.Context) printer.JobData { return p.job }
func (p *fakePrinter) IsPrinting(ctx context.Context) bool            { return p.printing }

// memStore keeps the serial in memory.
type memStore struct {
	mu     sync.Mutex
	serial string
}

func (s *memStore) Serial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serial
}

func (s *memStore) SetSerial(serial string) error {
	s.mu.Lock()
	s.serial = serial
	s.mu.Unlock()
	return nil
}

type testAgent struct {
	*Agent
	emitter       *fakeEmitter
	printer       *fakePrinter
	notifications []Notification
}

func newTestAgent(t *testing.T) *testAgent {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fp := newFakePrinter()
	ta := &testAgent{emitter: &fakeEmitter{}, printer: fp}

	ta.Agent = New(Options{
		Config:   &config.Config{ServiceURL: "wss://cloud.example", MoonrakerURL: "http://127.0.0.1:7125"},
		Identity: identity.New(&memStore{}, t.TempDir(), logger),
		Printer:  fp,
		Logger:   logger,
		Version:  "test",
		Once:     true,
		Notify: func(n Notification) {
			ta.notifications = append(ta.notifications, n)
		},
	})
	ta.emit = ta.emitter
	return ta
}

// drainQueue runs every pending task in order.
func (ta *testAgent) drainQueue() {
	for {
		task, ok := ta.queue.TryDequeue()
		if !ok {
			return
		}
		task()
	}
}

func (ta *testAgent) setSerial(t *testing.T, serial string) {
	t.Helper()
	if err := ta.id.SetSerial(serial); err != nil {
		t.Fatalf("SetSerial: %v", err)
	}
}

func TestSendJobState(t *testing.T) {
	ta := newTestAgent(t)
	ta.setSerial(t, "PC100")

	ta.SendJobState("job-42", "completed")

	jobs := ta.emitter.byEvent("job")
	if len(jobs) != 1 {
		t.Fatalf("emitted %d job messages, want 1", len(jobs))
	}
	msg := jobs[0].payload.(cloud.JobUpdate)
	if msg.SerialNumber != "PC100" || msg.JobID != "job-42" || msg.State != "completed" {
		t.Errorf("job payload = %+v", msg)
	}
}

func TestSendJobStateWithoutSerial(t *testing.T) {
	ta := newTestAgent(t)

	ta.SendJobState("job-42", "completed")

	if n := ta.emitter.count(); n != 0 {
		t.Fatalf("emitted %d messages without a serial, want 0", n)
	}
}

func TestSendJobStateDisconnected(t *testing.T) {
	ta := newTestAgent(t)
	ta.setSerial(t, "PC100")
	ta.emit = nil

	// Must be a quiet no-op, not a crash.
	ta.SendJobState("job-42", "completed")
}

func TestSendVersion(t *testing.T) {
	ta := newTestAgent(t)
	ta.setSerial(t, "PC100")

	ta.SendVersion("1.2.0", "1.3.0")

	versions := ta.emitter.byEvent("setVersion")
	if len(versions) != 1 {
		t.Fatalf("emitted %d setVersion messages, want 1", len(versions))
	}
	msg := versions[0].payload.(cloud.VersionInfo)
	if msg.SerialNumber != "PC100" || msg.RunningVersion != "1.2.0" || msg.LatestVersion != "1.3.0" {
		t.Errorf("setVersion payload = %+v", msg)
	}
}

func TestSendVersionDefaultsToAgentVersion(t *testing.T) {
	ta := newTestAgent(t)
	ta.setSerial(t, "PC100")

	ta.SendVersion("", "")

	versions := ta.emitter.byEvent("setVersion")
	if len(versions) != 1 {
		t.Fatalf("emitted %d setVersion messages, want 1", len(versions))
	}
	msg := versions[0].payload.(cloud.VersionInfo)
	if msg.RunningVersion != "test" || msg.LatestVersion != "test" {
		t.Errorf("setVersion payload = %+v, want the agent's own version", msg)
	}
}

func TestSendVersionDisconnected(t *testing.T) {
	ta := newTestAgent(t)
	ta.setSerial(t, "PC100")
	ta.emit = nil

	ta.SendVersion("1.2.0", "1.3.0")
}
