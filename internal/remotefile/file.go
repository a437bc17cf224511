package remotefile

import (
	"strconv"

	"fridgeclinic/internal/models"
)

// fileResource mirrors the File object returned by the service.
type fileResource struct {
	Name      string `json:"name"`
	URI       string `json:"uri"`
	MimeType  string `json:"mimeType"`
	SizeBytes string `json:"sizeBytes"`
	State     string `json:"state"`
	Error     *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (f fileResource) handle() models.RemoteFileHandle {
	size, _ := strconv.ParseInt(f.SizeBytes, 10, 64)
	state := models.FileState(f.State)
	if state == "" {
		state = models.FileStateUnspecified
	}
	return models.RemoteFileHandle{
		URI:       f.URI,
		Name:      f.Name,
		MimeType:  f.MimeType,
		SizeBytes: size,
		State:     state,
	}
}
