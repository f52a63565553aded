package agent

import (
	"context"
	"time"
)

const (
	// slowIntervalSeconds is the idle status cadence; fastIntervalSeconds
	// applies while a print is running.
	slowIntervalSeconds = 60
	fastIntervalSeconds = 10

	settleDelay = 5 * time.Second
)

// heartbeatLoop is the single background loop per connection. It interleaves
// queued task execution with periodic status emission and the snapshot-upload
// cycle. One failed iteration never terminates the loop.
func (a *Agent) heartbeatLoop(ctx context.Context) error {
	// Bound startup latency for anything enqueued before the loop started,
	// then give the transport a moment to settle.
	a.runOneTask()
	if !sleepCtx(ctx, settleDelay) {
		return ctx.Err()
	}

	for {
		a.heartbeatTick(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if a.once {
			return nil
		}
	}
}

func (a *Agent) heartbeatTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Warn("heartbeat iteration panicked", "panic", r)
		}
	}()

	if a.id.Serial() != "" {
		status := a.buildStatus(ctx)
		if err := a.emit.Emit("status", status); err != nil {
			a.log.Warn("status emit failed", "error", err)
		}

		// Reset the interval to slow once nothing is printing anymore. Done
		// here, not in the event handler, so the one fast tick after a print
		// ends still goes out quickly.
		if !a.cloudPrint && !a.printer.IsPrinting(ctx) {
			a.interval = slowIntervalSeconds
		}
	}

	// Wait for the interval in 1-second slices, draining at most one task per
	// slice. The interval is re-read every slice so a change takes effect
	// mid-wait, and worst-case task latency stays around a second.
	for i := 0; i < a.interval; i++ {
		a.runOneTask()
		if a.once {
			break
		}
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}

	if a.id.Serial() != "" {
		a.uploadSnapshot(uploadPurposeIdle)
	}
}

func (a *Agent) runOneTask() {
	if t, ok := a.queue.TryDequeue(); ok {
		t()
	}
}

// sleepCtx waits for d and reports false if ctx was canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
