package printer

import "context"

// State is the local print service's own state vocabulary. It mirrors the
// connection states a serial-attached controller reports; the cloud layer maps
// it onto the protocol's numeric codes.
type State string

const (
	StateOperational      State = "OPERATIONAL"
	StatePrinting         State = "PRINTING"
	StatePaused           State = "PAUSED"
	StateTransferringFile State = "TRANSFERRING_FILE"
	StateConnecting       State = "CONNECTING"
	StateClosed           State = "CLOSED"
	StateError            State = "ERROR"
	StateOffline          State = "OFFLINE"
	StateUnknown          State = "UNKNOWN"
)

// Temperature is one heater zone's current and target reading in Celsius.
type Temperature struct {
	Actual float64
	Target float64
}

// JobData describes the job currently loaded on the printer. String progress
// fields stay empty when no job is active.
type JobData struct {
	FileName      string
	FileSize      int64
	EstimatedTime float64
	FilamentUsed  float64
	Completion    float64
	PrintSeconds  float64
	BytesRead     int64
	StateText     string
}

// Controller is the local printer-control surface the agent drives. Calls may
// perform local network I/O and must honor the context deadline.
type Controller interface {
	Cancel(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error

	// SendCommand forwards an opaque command line (typically gcode) to the
	// printer.
	SendCommand(ctx context.Context, command string) error

	// SetTemperature sets the target for a heater zone ("bed", "tool0", ...).
	SetTemperature(ctx context.Context, zone string, target float64) error

	CurrentState(ctx context.Context) State

	// CurrentTemperatures returns readings keyed by zone name. Missing zones
	// are simply absent from the map.
	CurrentTemperatures(ctx context.Context) map[string]Temperature

	CurrentJob(ctx context.Context) JobData

	IsPrinting(ctx context.Context) bool
}

// Event is a host-side printer lifecycle notification fed into the agent.
type Event string

const (
	EventPrintStarted   Event = "PrintStarted"
	EventPrintResumed   Event = "PrintResumed"
	EventPrintCancelled Event = "PrintCancelled"
)
