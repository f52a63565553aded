package agent

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"polar-connector/internal/cloud"
	"polar-connector/internal/printer"
)

// localJobID is the fixed job identifier reported for prints not initiated by
// the cloud.
const localJobID = "123"

// stateCodeFor maps the local printer's state vocabulary onto the cloud's.
func stateCodeFor(s printer.State) cloud.StateCode {
	switch s {
	case printer.StateOperational:
		return cloud.StateIdle
	case printer.StatePrinting, printer.StateTransferringFile:
		return cloud.StateSerialPrint
	case printer.StatePaused:
		return cloud.StatePausedPrint
	default:
		return cloud.StateError
	}
}

// buildStatus assembles a fresh telemetry payload from current printer state.
// Runs on the heartbeat goroutine.
func (a *Agent) buildStatus(ctx context.Context) cloud.Status {
	temps := a.printer.CurrentTemperatures(ctx)
	st := cloud.Status{
		SerialNumber:  a.id.Serial(),
		Status:        string(a.currentStateCode(ctx)),
		Tool0:         temps["tool0"].Actual,
		Tool1:         temps["tool1"].Actual,
		Bed:           temps["bed"].Actual,
		TargetTool0:   temps["tool0"].Target,
		TargetTool1:   temps["tool1"].Target,
		TargetBed:     temps["bed"].Target,
		JobID:         a.currentJobID(ctx),
		Protocol:      cloud.ProtocolVersion,
		EstimatedTime: "0",
		FilamentUsed:  "0",
		StartTime:     "0",
		PrintSeconds:  "0",
		BytesRead:     "0",
		FileSize:      "0",
	}

	if a.printer.IsPrinting(ctx) {
		job := a.printer.CurrentJob(ctx)
		st.Progress = job.StateText
		st.ProgressDetail = fmt.Sprintf("Printing Job: %s Percent Complete: %0.1f%%",
			job.FileName, job.Completion)
		st.EstimatedTime = formatSeconds(job.EstimatedTime)
		st.FilamentUsed = strconv.FormatFloat(job.FilamentUsed, 'f', -1, 64)
		st.PrintSeconds = formatSeconds(job.PrintSeconds)
		st.StartTime = time.Now().Add(-time.Duration(job.PrintSeconds) * time.Second).Format(time.RFC3339)
		st.BytesRead = strconv.FormatInt(job.BytesRead, 10)
		st.FileSize = strconv.FormatInt(job.FileSize, 10)
	}
	return st
}

// currentStateCode prefers the cloud-print state while one is being reported
// (the canceling code is held for a few ticks after a cancel), otherwise maps
// the live printer state.
func (a *Agent) currentStateCode(ctx context.Context) cloud.StateCode {
	if a.cloudPrint && a.pstateTicks > 0 {
		a.pstateTicks--
		code := a.pstate
		if a.pstateTicks == 0 {
			a.cloudPrint = false
		}
		return code
	}
	return stateCodeFor(a.printer.CurrentState(ctx))
}

// currentJobID reports the fixed local job id while printing, "0" otherwise.
func (a *Agent) currentJobID(ctx context.Context) string {
	if a.printer.IsPrinting(ctx) {
		return a.jobID
	}
	return "0"
}

func formatSeconds(v float64) string {
	return strconv.FormatInt(int64(v), 10)
}
