package agent

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"time"

	"polar-connector/internal/cloud"
	"polar-connector/internal/printer"
)

const printerCallTimeout = 10 * time.Second

// heaterZoneRE matches the heater-zone field names a temperature command may
// carry: "bed" or "tool" followed by digits.
var heaterZoneRE = regexp.MustCompile(`^(bed|tool[0-9]+)$`)

// addressedToMe reports whether an inbound message targets this device.
// Cloud messages are broadcast-style; anything not matching our serial
// exactly is silently discarded. A device without a serial matches nothing.
func (a *Agent) addressedToMe(data json.RawMessage) bool {
	serial := a.id.Serial()
	if serial == "" {
		return false
	}
	var env cloud.Addressed
	if err := json.Unmarshal(data, &env); err != nil {
		a.log.Debug("unaddressable message", "error", err)
		return false
	}
	if env.SerialNumber != serial {
		a.log.Debug("ignoring message for other device", "serialNumber", env.SerialNumber)
		return false
	}
	return true
}

// Inbound control handlers validate on the read goroutine and hand the
// printer invocation to the task queue, keeping the transport thread free of
// local I/O.

func (a *Agent) handleCancel(data json.RawMessage) {
	if !a.addressedToMe(data) {
		return
	}
	a.queue.Enqueue(func() {
		a.invokePrinter("cancel", a.printer.Cancel)
	})
}

func (a *Agent) handlePause(data json.RawMessage) {
	if !a.addressedToMe(data) {
		return
	}
	a.queue.Enqueue(func() {
		a.invokePrinter("pause", a.printer.Pause)
	})
}

func (a *Agent) handleResume(data json.RawMessage) {
	if !a.addressedToMe(data) {
		return
	}
	a.queue.Enqueue(func() {
		a.invokePrinter("resume", a.printer.Resume)
	})
}

func (a *Agent) handleCommand(data json.RawMessage) {
	if !a.addressedToMe(data) {
		return
	}
	var msg cloud.CommandMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		a.log.Warn("malformed command message", "error", err)
		return
	}
	a.queue.Enqueue(func() {
		ctx, cancel := context.WithTimeout(context.Background(), printerCallTimeout)
		defer cancel()
		if err := a.printer.SendCommand(ctx, msg.Command); err != nil {
			a.log.Warn("printer command failed", "command", msg.Command, "error", err)
		}
	})
}

func (a *Agent) handleTemperature(data json.RawMessage) {
	if !a.addressedToMe(data) {
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		a.log.Warn("malformed temperature message", "error", err)
		return
	}

	// Deterministic order; the payload mixes heater zones with other fields.
	zones := make([]string, 0, len(fields))
	for name := range fields {
		if heaterZoneRE.MatchString(name) {
			zones = append(zones, name)
		}
	}
	sort.Strings(zones)

	for _, zone := range zones {
		target, ok := fields[zone].(float64)
		if !ok {
			a.log.Warn("non-numeric temperature target", "zone", zone)
			continue
		}
		zone, target := zone, target
		a.queue.Enqueue(func() {
			ctx, cancel := context.WithTimeout(context.Background(), printerCallTimeout)
			defer cancel()
			a.log.Debug("set temperature", "zone", zone, "target", target)
			if err := a.printer.SetTemperature(ctx, zone, target); err != nil {
				a.log.Warn("set temperature failed", "zone", zone, "error", err)
			}
		})
	}
}

// handlePrint acknowledges cloud print requests; cloud-initiated printing is
// an extension point.
func (a *Agent) handlePrint(data json.RawMessage) {
	if !a.addressedToMe(data) {
		return
	}
	a.log.Info("cloud print requested but not supported")
}

// handleUpdate acknowledges software update requests; updating is an
// extension point.
func (a *Agent) handleUpdate(data json.RawMessage) {
	if !a.addressedToMe(data) {
		return
	}
	a.log.Info("software update requested but not supported")
}

func (a *Agent) invokePrinter(action string, call func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), printerCallTimeout)
	defer cancel()
	if err := call(ctx); err != nil {
		a.log.Warn("printer control failed", "action", action, "error", err)
		return
	}
	a.log.Info("printer control executed", "action", action)
}

// HandlePrinterEvent feeds host-side printer lifecycle events into the agent.
// State owned by the heartbeat goroutine is adjusted through the task queue.
func (a *Agent) HandlePrinterEvent(ev printer.Event) {
	switch ev {
	case printer.EventPrintStarted, printer.EventPrintResumed:
		a.queue.Enqueue(func() {
			a.interval = fastIntervalSeconds
		})
	case printer.EventPrintCancelled:
		a.queue.Enqueue(func() {
			if a.cloudPrint {
				a.pstate = cloud.StateCanceling
				a.pstateTicks = 3
			}
		})
	}
}
