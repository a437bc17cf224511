package faults

import "errors"

// Sentinel errors shared by the storage, remote file and pipeline layers.
// Callers wrap them with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	ErrNotConfigured          = errors.New("not configured")
	ErrNotFound               = errors.New("not found")
	ErrProtocol               = errors.New("unexpected response from remote service")
	ErrTransport              = errors.New("transport error")
	ErrRemoteProcessingFailed = errors.New("remote processing failed")
	ErrTimeout                = errors.New("timed out")
	ErrGenerationFailed       = errors.New("generation failed")
	ErrPersistence            = errors.New("persistence error")
	ErrInvalidInput           = errors.New("invalid input")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotConfigured, "not_configured"},
	{ErrNotFound, "not_found"},
	{ErrProtocol, "protocol"},
	{ErrTransport, "transport"},
	{ErrRemoteProcessingFailed, "remote_processing_failed"},
	{ErrTimeout, "timeout"},
	{ErrGenerationFailed, "generation_failed"},
	{ErrPersistence, "persistence"},
	{ErrInvalidInput, "invalid_input"},
}

// Kind returns a short label for the first sentinel err wraps, "unknown" otherwise.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}
