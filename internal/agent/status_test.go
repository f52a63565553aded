package agent

import (
	"context"
	"strings"
	"testing"

	"polar-connector/internal/cloud"
	"polar-connector/internal/printer"
)

func TestStateCodeMapping(t *testing.T) {
	tests := []struct {
		state printer.State
		want  cloud.StateCode
	}{
		{printer.StateOperational, cloud.StateIdle},
		{printer.StatePrinting, cloud.StateSerialPrint},
		{printer.StateTransferringFile, cloud.StateSerialPrint},
		{printer.StatePaused, cloud.StatePausedPrint},
		{printer.StateConnecting, cloud.StateError},
		{printer.StateClosed, cloud.StateError},
		{printer.StateOffline, cloud.StateError},
		{printer.StateError, cloud.StateError},
		{printer.StateUnknown, cloud.StateError},
	}
	for _, tt := range tests {
		if got := stateCodeFor(tt.state); got != tt.want {
			t.Errorf("stateCodeFor(%s) = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestBuildStatusIdle(t *testing.T) {
	ta := newTestAgent(t)
	ta.setSerial(t, "PC100")
	ta.printer.temps = map[string]printer.Temperature{
		"tool0": {Actual: 25.5, Target: 0},
		"bed":   {Actual: 22.1, Target: 0},
	}

	st := ta.buildStatus(context.Background())

	if st.SerialNumber != "PC100" {
		t.Errorf("serialNumber = %q", st.SerialNumber)
	}
	if st.Status != string(cloud.StateIdle) {
		t.Errorf("status = %q, want %q", st.Status, cloud.StateIdle)
	}
	if st.Tool0 != 25.5 || st.Bed != 22.1 {
		t.Errorf("temps = tool0 %v bed %v", st.Tool0, st.Bed)
	}
	if st.Tool1 != 0 || st.TargetTool1 != 0 {
		t.Errorf("missing tool1 should read 0, got %v/%v", st.Tool1, st.TargetTool1)
	}
	if st.JobID != "0" {
		t.Errorf("jobId = %q, want 0 when not printing", st.JobID)
	}
	if st.Protocol != cloud.ProtocolVersion {
		t.Errorf("protocol = %q", st.Protocol)
	}
	if st.PrintSeconds != "0" || st.BytesRead != "0" || st.FileSize != "0" {
		t.Errorf("idle progress fields not zeroed: %+v", st)
	}
}

func TestBuildStatusPrinting(t *testing.T) {
	ta := newTestAgent(t)
	ta.setSerial(t, "PC100")
	ta.printer.state = printer.StatePrinting
	ta.printer.printing = true
	ta.printer.job = printer.JobData{
		FileName:      "benchy.gcode",
		FileSize:      4096,
		EstimatedTime: 3600,
		FilamentUsed:  12.5,
		Completion:    41.7,
		PrintSeconds:  1500,
		BytesRead:     2048,
		StateText:     "Printing",
	}

	st := ta.buildStatus(context.Background())

	if st.Status != string(cloud.StateSerialPrint) {
		t.Errorf("status = %q, want %q", st.Status, cloud.StateSerialPrint)
	}
	if st.JobID != localJobID {
		t.Errorf("jobId = %q, want %q while printing", st.JobID, localJobID)
	}
	if st.EstimatedTime != "3600" || st.PrintSeconds != "1500" {
		t.Errorf("time fields = %q/%q", st.EstimatedTime, st.PrintSeconds)
	}
	if st.BytesRead != "2048" || st.FileSize != "4096" {
		t.Errorf("byte fields = %q/%q", st.BytesRead, st.FileSize)
	}
	if !strings.Contains(st.ProgressDetail, "benchy.gcode") || !strings.Contains(st.ProgressDetail, "41.7%") {
		t.Errorf("progressDetail = %q", st.ProgressDetail)
	}
	if st.StartTime == "0" {
		t.Error("startTime not set while printing")
	}
}

func TestCancelingStateHeldForThreeTicks(t *testing.T) {
	ta := newTestAgent(t)
	ta.cloudPrint = true
	ta.pstate = cloud.StateCanceling
	ta.pstateTicks = 3

	for i := 0; i < 3; i++ {
		if got := ta.currentStateCode(context.Background()); got != cloud.StateCanceling {
			t.Fatalf("tick %d: state = %s, want canceling", i, got)
		}
	}
	// After the hold the live printer state is reported again and the cloud
	// print is considered over.
	if got := ta.currentStateCode(context.Background()); got != cloud.StateIdle {
		t.Fatalf("state after hold = %s, want idle", got)
	}
	if ta.cloudPrint {
		t.Error("cloudPrint still set after cancel hold")
	}
}
