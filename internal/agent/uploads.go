package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"polar-connector/internal/cloud"
)

// Upload purposes. Printing and timelapse targets exist for cloud-initiated
// prints only.
const (
	uploadPurposeIdle      = "idle"
	uploadPurposePrinting  = "printing"
	uploadPurposeTimelapse = "timelapse"
)

const snapshotFetchTimeout = 5 * time.Second

// uploadDescriptor is a time-limited pre-signed upload target. Descriptors
// are replaced, never mutated.
type uploadDescriptor struct {
	URL     string
	Fields  map[string]string
	MaxSize int64
	Expires time.Time
}

// uploadCache maps an upload purpose to its current descriptor. It is owned
// by the heartbeat goroutine: inbound getUrlResponse handlers enqueue a
// record task rather than touching it directly.
type uploadCache struct {
	locations map[string]uploadDescriptor
	now       func() time.Time
}

func newUploadCache() *uploadCache {
	return &uploadCache{
		locations: map[string]uploadDescriptor{},
		now:       time.Now,
	}
}

// ensureFreshUploadURL reports whether a non-expired descriptor exists for
// the purpose. When it doesn't, a renewal request goes out and the caller
// skips this cycle; the response re-triggers the upload. Without a snapshot
// source there is nothing to upload, so no descriptor is ever requested.
func (a *Agent) ensureFreshUploadURL(ctx context.Context, purpose string) bool {
	if a.cfg.SnapshotURL == "" {
		return false
	}
	loc, ok := a.uploads.locations[purpose]
	if ok && a.uploads.now().Before(loc.Expires) {
		return true
	}
	a.requestUploadURL(ctx, purpose)
	return false
}

func (a *Agent) ensureIdleUploadURLTask() {
	a.ensureFreshUploadURL(context.Background(), uploadPurposeIdle)
}

func (a *Agent) requestUploadURL(ctx context.Context, purpose string) {
	msg := cloud.GetURLRequest{
		SerialNumber: a.id.Serial(),
		Method:       "post",
		Type:         purpose,
		JobID:        a.currentJobID(ctx),
	}
	if err := a.emit.Emit("getUrl", msg); err != nil {
		a.log.Warn("getUrl emit failed", "type", purpose, "error", err)
	}
}

func (a *Agent) handleGetURLResponse(data json.RawMessage) {
	if !a.addressedToMe(data) {
		return
	}
	var resp cloud.GetURLResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		a.log.Warn("malformed getUrlResponse", "error", err)
		return
	}
	if resp.Status != "SUCCESS" {
		a.log.Warn("failed to get upload url", "status", resp.Status, "message", resp.Message)
		return
	}
	if resp.Type == "" || resp.URL == "" || resp.Expires == "" {
		a.log.Warn("getUrlResponse lacks a required property", "type", resp.Type, "url", resp.URL != "")
		return
	}

	desc := uploadDescriptor{
		URL:     resp.URL,
		Fields:  resp.Fields,
		MaxSize: resp.MaxSize.Int64(),
	}
	if desc.Fields == nil {
		desc.Fields = map[string]string{}
	}
	ttl := time.Duration(resp.Expires.Int64()) * time.Second

	// Record on the heartbeat goroutine; the cache has a single owner.
	a.queue.Enqueue(func() {
		a.recordUploadURL(resp.Type, desc, ttl)
	})
}

// recordUploadURL stores the descriptor with its computed expiry. A fresh
// idle descriptor triggers an immediate snapshot upload so the renewal is
// exercised right away instead of waiting out a full interval.
func (a *Agent) recordUploadURL(purpose string, desc uploadDescriptor, ttl time.Duration) {
	desc.Expires = a.uploads.now().Add(ttl)
	a.uploads.locations[purpose] = desc
	a.log.Debug("upload url recorded", "type", purpose, "expires", desc.Expires)
	if purpose == uploadPurposeIdle {
		a.queue.Enqueue(func() {
			a.uploadSnapshot(uploadPurposeIdle)
		})
	}
}

// uploadSnapshot runs one snapshot-upload cycle: fetch the current camera
// frame and post it to the pre-signed target. Either step may fail; failures
// are logged and the next heartbeat tick retries naturally.
func (a *Agent) uploadSnapshot(purpose string) {
	if a.cfg.SnapshotURL == "" {
		return
	}
	if !a.ensureFreshUploadURL(context.Background(), purpose) {
		return
	}
	loc := a.uploads.locations[purpose]

	img, err := a.fetchSnapshot()
	if err != nil {
		a.log.Warn("could not capture image", "snapshot_url", a.cfg.SnapshotURL, "error", err)
		return
	}
	if loc.MaxSize > 0 && int64(len(img)) > loc.MaxSize {
		a.log.Warn("snapshot exceeds upload size limit", "size", len(img), "max_size", loc.MaxSize)
		return
	}

	if err := a.postSnapshot(loc, img); err != nil {
		a.log.Warn("could not post snapshot", "url", loc.URL, "error", err)
		return
	}
	a.log.Debug("snapshot uploaded", "type", purpose, "size", len(img))
}

func (a *Agent) fetchSnapshot() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.SnapshotURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("snapshot http %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}

func (a *Agent) postSnapshot(loc uploadDescriptor, img []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range loc.Fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("file", "image.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(img); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	resp, err := a.httpClient.Post(loc.URL, w.FormDataContentType(), &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("upload http %d: %s", resp.StatusCode, msg)
	}
	return nil
}
