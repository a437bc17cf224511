package models

import "encoding/json"

type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// ProgressEvent is one NDJSON line of a diagnosis stream. Result is only set
// on the complete event and its fields are flattened into the line.
type ProgressEvent struct {
	Type     EventType
	Message  string
	Progress int
	Result   *DiagnosisOutcome
}

// DiagnosisOutcome is the payload of the terminal complete event.
type DiagnosisOutcome struct {
	DiagnosisID     string `json:"diagnosisId"`
	DiagnosisResult string `json:"diagnosis_result"`
	Solutions       string `json:"solutions"`
	AudioSummary    string `json:"audio_summary"`
	FileName        string `json:"fileName"`
	StorageKey      string `json:"storageKey"`
	S3Key           string `json:"s3Key"`
	Fields
}

// Terminal reports whether e ends the stream.
func (e ProgressEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

type eventHead struct {
	Type     EventType `json:"type"`
	Message  string    `json:"message"`
	Progress int       `json:"progress"`
}

func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	head := eventHead{Type: e.Type, Message: e.Message, Progress: e.Progress}
	if e.Result == nil {
		return json.Marshal(head)
	}
	return json.Marshal(struct {
		eventHead
		*DiagnosisOutcome
	}{head, e.Result})
}
