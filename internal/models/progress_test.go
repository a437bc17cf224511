package models

import (
	"encoding/json"
	"testing"
)

func TestProgressEventFlattensOutcome(t *testing.T) {
	ev := ProgressEvent{
		Type:     EventComplete,
		Message:  "done",
		Progress: 100,
		Result: &DiagnosisOutcome{
			DiagnosisID: "abc",
			StorageKey:  "videos/fridge1.mp4",
			Fields:      Fields{Brand: "Samsung"},
		},
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != "complete" || got["diagnosisId"] != "abc" || got["brand"] != "Samsung" {
		t.Fatalf("unexpected line %s", raw)
	}
	if got["progress"].(float64) != 100 {
		t.Fatalf("unexpected progress %v", got["progress"])
	}
}

func TestProgressEventWithoutOutcome(t *testing.T) {
	raw, err := json.Marshal(ProgressEvent{Type: EventProgress, Message: "Uploading", Progress: 30})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"type":"progress","message":"Uploading","progress":30}` {
		t.Fatalf("unexpected line %s", raw)
	}
}
