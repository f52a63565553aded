package agent

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"polar-connector/internal/cloud"
	"polar-connector/internal/config"
	"polar-connector/internal/identity"
	"polar-connector/internal/printer"
)

// Registration outcomes surfaced to the caller. Everything else the agent
// does reports failures through the log and retries on the next natural
// cycle.
var (
	ErrKeyUnavailable = errors.New("agent: signing key unavailable")
	ErrNotConnected   = errors.New("agent: not connected to the cloud")
)

// Notification is an observer event raised toward the hosting application
// (serial assigned, registration failed).
type Notification struct {
	Command string
	Serial  string
}

// emitter is the send primitive the agent needs from the connection; the
// websocket socket satisfies it, tests substitute a recorder.
type emitter interface {
	Emit(event string, payload any) error
}

type Options struct {
	Config   *config.Config
	Identity *identity.Identity
	Printer  printer.Controller
	Logger   *slog.Logger
	Version  string
	Notify   func(Notification)
	Once     bool
}

// Agent owns one cloud connection, the handshake state, the task queue and
// the heartbeat loop. Construct with New and drive with Connect + Run; the
// agent never reconnects on its own.
type Agent struct {
	cfg     *config.Config
	log     *slog.Logger
	id      *identity.Identity
	printer printer.Controller
	version string
	once    bool
	notify  func(Notification)

	sock *cloud.Socket
	emit emitter

	queue      *taskQueue
	hs         *handshake
	uploads    *uploadCache
	httpClient *http.Client

	// Mutated only on the heartbeat goroutine. Printer events reach them as
	// enqueued tasks.
	interval    int
	cloudPrint  bool
	jobID       string
	pstate      cloud.StateCode
	pstateTicks int
}

func New(opts Options) *Agent {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
		TLSHandshakeTimeout:   3 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
		IdleConnTimeout:       30 * time.Second,
	}

	return &Agent{
		cfg:     opts.Config,
		log:     opts.Logger,
		id:      opts.Identity,
		printer: opts.Printer,
		version: opts.Version,
		once:    opts.Once,
		notify:  opts.Notify,
		queue:   newTaskQueue(),
		hs:      newHandshake(),
		uploads: newUploadCache(),
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
		interval: slowIntervalSeconds,
		jobID:    localJobID,
	}
}

// Connect dials the cloud endpoint and registers the inbound handlers. On
// failure nothing is retained; the caller decides when to retry.
func (a *Agent) Connect(ctx context.Context) error {
	s, err := cloud.Dial(ctx, a.cfg.ServiceURL, a.log)
	if err != nil {
		return err
	}
	a.sock = s
	a.emit = s
	a.bindSocket(s)
	a.log.Info("connected to cloud", "service_url", a.cfg.ServiceURL)
	return nil
}

// Run pumps the connection and the heartbeat loop until the transport fails
// or ctx is canceled. The handshake resets when the connection goes away.
func (a *Agent) Run(ctx context.Context) error {
	if a.sock == nil {
		return ErrNotConnected
	}
	sock := a.sock
	defer func() {
		a.hs.reset()
		_ = sock.Close()
		a.sock = nil
		a.emit = nil
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sock.Listen(ctx) })
	g.Go(func() error {
		// A clean heartbeat exit (--once) still has to stop the read loop.
		defer cancel()
		return a.heartbeatLoop(ctx)
	})
	return g.Wait()
}

func (a *Agent) bindSocket(s *cloud.Socket) {
	s.On("registerResponse", a.handleRegisterResponse)
	s.On("welcome", a.handleWelcome)
	s.On("getUrlResponse", a.handleGetURLResponse)
	s.On("cancel", a.handleCancel)
	s.On("command", a.handleCommand)
	s.On("pause", a.handlePause)
	s.On("print", a.handlePrint)
	s.On("resume", a.handleResume)
	s.On("temperature", a.handleTemperature)
	s.On("update", a.handleUpdate)
}

func (a *Agent) notifyObserver(n Notification) {
	if a.notify != nil {
		a.notify(n)
	}
}

// SendJobState reports a cloud job state change. No-op until the device has
// a serial and a live connection.
func (a *Agent) SendJobState(jobID, state string) {
	serial := a.id.Serial()
	if serial == "" {
		return
	}
	if a.emit == nil {
		a.log.Debug("job not sent: not connected")
		return
	}
	if err := a.emit.Emit("job", cloud.JobUpdate{SerialNumber: serial, JobID: jobID, State: state}); err != nil {
		a.log.Warn("job emit failed", "error", err)
	}
}

// SendVersion reports the running and latest available software versions,
// defaulting both to the agent's own version when left empty. No-op until
// the device has a serial and a live connection.
func (a *Agent) SendVersion(running, latest string) {
	serial := a.id.Serial()
	if serial == "" {
		return
	}
	if a.emit == nil {
		a.log.Debug("setVersion not sent: not connected")
		return
	}
	if running == "" {
		running = a.version
	}
	if latest == "" {
		latest = running
	}
	msg := cloud.VersionInfo{SerialNumber: serial, RunningVersion: running, LatestVersion: latest}
	if err := a.emit.Emit("setVersion", msg); err != nil {
		a.log.Warn("setVersion emit failed", "error", err)
	}
}
