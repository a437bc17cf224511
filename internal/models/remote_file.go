package models

import "time"

// FileState is the processing state reported by the remote file service.
type FileState string

const (
	FileStateUnspecified FileState = "STATE_UNSPECIFIED"
	FileStateProcessing  FileState = "PROCESSING"
	FileStateActive      FileState = "ACTIVE"
	FileStateFailed      FileState = "FAILED"
)

// Terminal reports whether no further transitions follow s.
func (s FileState) Terminal() bool {
	return s == FileStateActive || s == FileStateFailed
}

// RemoteFileHandle references an asset uploaded to the inference service.
// URI is used for generation calls, Name for polling and deletion.
type RemoteFileHandle struct {
	URI       string    `json:"uri"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mimeType"`
	SizeBytes int64     `json:"sizeBytes"`
	State     FileState `json:"state"`
}

// RemoteFileOrphan is a remote file whose deletion failed and awaits retry.
type RemoteFileOrphan struct {
	Name      string
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}
