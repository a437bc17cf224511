package remotefile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"fridgeclinic/internal/faults"
	"fridgeclinic/internal/models"
)

// Get fetches the current descriptor of the named file.
func (c *Client) Get(ctx context.Context, name string) (*models.RemoteFileHandle, error) {
	if !c.Available() {
		return nil, c.notConfigured()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/v1beta/"+name), nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if !ok(resp) {
		return nil, statusError("check file status", resp)
	}
	var file fileResource
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: decode file status: %v", faults.ErrProtocol, err)
	}
	h := file.handle()
	if h.Name == "" {
		h.Name = name
	}
	return &h, nil
}

// WaitUntilActive polls name at a fixed interval until the service reports
// ACTIVE. FAILED yields faults.ErrRemoteProcessingFailed and running past
// timeout yields faults.ErrTimeout. Poll errors are returned immediately.
// The last sleep is shortened so the call gives up close to the deadline.
func (c *Client) WaitUntilActive(ctx context.Context, name string, timeout time.Duration) (*models.RemoteFileHandle, error) {
	if !c.Available() {
		return nil, c.notConfigured()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()
	deadline := start.Add(timeout)

	for {
		h, err := c.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		switch h.State {
		case models.FileStateActive:
			slog.Info("remote file active", "name", name, "elapsed", time.Since(start).Round(time.Millisecond))
			return h, nil
		case models.FileStateFailed:
			return nil, fmt.Errorf("%w: %s", faults.ErrRemoteProcessingFailed, name)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s still %s after %s", faults.ErrTimeout, name, h.State, timeout)
		}
		wait := c.pollInterval
		if wait > remaining {
			wait = remaining
		}
		slog.Debug("remote file not ready", "name", name, "state", h.State, "next_check", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
