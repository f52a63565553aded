package moonraker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"polar-connector/internal/printer"
)

// Client drives a local printer through the Moonraker HTTP API. It implements
// printer.Controller; query failures degrade to zero values and an offline
// state rather than errors, since the caller reports whatever it can see.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
		ResponseHeaderTimeout: 5 * time.Second,
		IdleConnTimeout:       30 * time.Second,
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   5 * time.Second,
			Transport: transport,
		},
	}
}

func (c *Client) Pause(ctx context.Context) error {
	return c.postJSON(ctx, "/printer/print/pause", map[string]any{}, nil)
}

func (c *Client) Resume(ctx context.Context) error {
	return c.postJSON(ctx, "/printer/print/resume", map[string]any{}, nil)
}

func (c *Client) Cancel(ctx context.Context) error {
	return c.postJSON(ctx, "/printer/print/cancel", map[string]any{}, nil)
}

// SendCommand forwards one gcode line to the printer.
func (c *Client) SendCommand(ctx context.Context, command string) error {
	return c.postJSON(ctx, "/printer/gcode/script", map[string]any{"script": command}, nil)
}

// SetTemperature sets a heater target. Zone names follow the agent's
// vocabulary: "bed" or "toolN".
func (c *Client) SetTemperature(ctx context.Context, zone string, target float64) error {
	heater := ""
	switch {
	case zone == "bed":
		heater = "heater_bed"
	case zone == "tool0":
		heater = "extruder"
	case strings.HasPrefix(zone, "tool"):
		heater = "extruder" + strings.TrimPrefix(zone, "tool")
	default:
		return fmt.Errorf("moonraker: unknown heater zone %q", zone)
	}
	script := fmt.Sprintf("SET_HEATER_TEMPERATURE HEATER=%s TARGET=%g", heater, target)
	return c.SendCommand(ctx, script)
}

func (c *Client) CurrentState(ctx context.Context) printer.State {
	st, err := c.queryObjects(ctx)
	if err != nil {
		return printer.StateOffline
	}
	switch st.Result.Status.PrintStats.State {
	case "standby", "complete", "cancelled":
		return printer.StateOperational
	case "printing":
		return printer.StatePrinting
	case "paused":
		return printer.StatePaused
	case "error":
		return printer.StateError
	default:
		return printer.StateUnknown
	}
}

func (c *Client) CurrentTemperatures(ctx context.Context) map[string]printer.Temperature {
	st, err := c.queryObjects(ctx)
	if err != nil {
		return map[string]printer.Temperature{}
	}
	return map[string]printer.Temperature{
		"tool0": {
			Actual: st.Result.Status.Extruder.Temperature,
			Target: st.Result.Status.Extruder.Target,
		},
		"bed": {
			Actual: st.Result.Status.HeaterBed.Temperature,
			Target: st.Result.Status.HeaterBed.Target,
		},
	}
}

func (c *Client) CurrentJob(ctx context.Context) printer.JobData {
	st, err := c.queryObjects(ctx)
	if err != nil {
		return printer.JobData{}
	}
	ps := st.Result.Status.PrintStats
	sd := st.Result.Status.VirtualSDCard
	return printer.JobData{
		FileName:     ps.Filename,
		FileSize:     sd.FileSize,
		FilamentUsed: ps.FilamentUsed,
		Completion:   sd.Progress * 100,
		PrintSeconds: ps.PrintDuration,
		BytesRead:    sd.FilePosition,
		StateText:    ps.State,
	}
}

func (c *Client) IsPrinting(ctx context.Context) bool {
	st, err := c.queryObjects(ctx)
	if err != nil {
		return false
	}
	return st.Result.Status.PrintStats.State == "printing"
}

type heaterReading struct {
	Temperature float64 `json:"temperature"`
	Target      float64 `json:"target"`
}

type objectsResponse struct {
	Result struct {
		Status struct {
			PrintStats struct {
				State         string  `json:"state"`
				Filename      string  `json:"filename"`
				PrintDuration float64 `json:"print_duration"`
				FilamentUsed  float64 `json:"filament_used"`
			} `json:"print_stats"`
			VirtualSDCard struct {
				Progress     float64 `json:"progress"`
				FilePosition int64   `json:"file_position"`
				FileSize     int64   `json:"file_size"`
			} `json:"virtual_sdcard"`
			Extruder  heaterReading `json:"extruder"`
			HeaterBed heaterReading `json:"heater_bed"`
		} `json:"status"`
	} `json:"result"`
}

func (c *Client) queryObjects(ctx context.Context) (*objectsResponse, error) {
	req := map[string]any{
		"objects": map[string]any{
			"print_stats":    nil,
			"virtual_sdcard": nil,
			"extruder":       nil,
			"heater_bed":     nil,
		},
	}
	var out objectsResponse
	if err := c.postJSON(ctx, "/printer/objects/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	full := c.baseURL + path
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, full, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respB, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respB))
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("moonraker http %d: %s", resp.StatusCode, msg)
	}

	if out == nil || len(respB) == 0 {
		return nil
	}
	return json.Unmarshal(respB, out)
}
