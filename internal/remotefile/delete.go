package remotefile

import (
	"context"
	"fmt"
	"net/http"

	"fridgeclinic/internal/faults"
)

// Delete removes the named file. A file the service no longer knows about
// yields faults.ErrNotFound.
func (c *Client) Delete(ctx context.Context, name string) error {
	if !c.Available() {
		return c.notConfigured()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("/v1beta/"+name), nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: remote file %s", faults.ErrNotFound, name)
	}
	if !ok(resp) {
		return statusError("delete file", resp)
	}
	return nil
}
