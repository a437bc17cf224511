package remotefile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"fridgeclinic/internal/faults"
	"fridgeclinic/internal/models"
)

const uploadURLHeader = "X-Goog-Upload-URL"

type uploadMetadata struct {
	File struct {
		DisplayName string `json:"display_name"`
	} `json:"file"`
}

// Upload pushes data with the two-phase resumable protocol. The whole payload
// goes out in a single "upload, finalize" request at offset 0; a failed
// transfer is not resumed.
func (c *Client) Upload(ctx context.Context, data []byte, displayName, mimeType string) (*models.RemoteFileHandle, error) {
	if !c.Available() {
		return nil, c.notConfigured()
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	slog.Info("starting resumable upload", "display_name", displayName, "size", len(data), "mime_type", mimeType)

	sessionURL, err := c.startSession(ctx, len(data), displayName, mimeType)
	if err != nil {
		return nil, err
	}
	handle, err := c.transfer(ctx, sessionURL, data)
	if err != nil {
		return nil, err
	}
	slog.Info("upload finished", "name", handle.Name, "state", handle.State)
	return handle, nil
}

func (c *Client) startSession(ctx context.Context, size int, displayName, mimeType string) (string, error) {
	var meta uploadMetadata
	meta.File.DisplayName = displayName
	body, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode upload metadata: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload/v1beta/files"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build upload start request: %w", err)
	}
	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.Itoa(size))
	req.Header.Set("X-Goog-Upload-Header-Content-Type", mimeType)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer drain(resp)
	if !ok(resp) {
		return "", statusError("initiate upload", resp)
	}
	sessionURL := resp.Header.Get(uploadURLHeader)
	if sessionURL == "" {
		return "", fmt.Errorf("%w: no upload url in initiate response", faults.ErrProtocol)
	}
	return sessionURL, nil
}

func (c *Client) transfer(ctx context.Context, sessionURL string, data []byte) (*models.RemoteFileHandle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sessionURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: bad upload url: %v", faults.ErrProtocol, err)
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("X-Goog-Upload-Command", "upload, finalize")
	req.Header.Set("X-Goog-Upload-Offset", "0")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if !ok(resp) {
		return nil, statusError("upload file data", resp)
	}
	var out struct {
		File *fileResource `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode upload response: %v", faults.ErrProtocol, err)
	}
	if out.File == nil || out.File.URI == "" || out.File.Name == "" {
		return nil, fmt.Errorf("%w: upload response missing uri or name", faults.ErrProtocol)
	}
	h := out.File.handle()
	return &h, nil
}
