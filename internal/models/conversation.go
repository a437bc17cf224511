package models

import "time"

// Conversation groups the chat messages attached to one diagnosis.
type Conversation struct {
	ID          string    `json:"id"`
	DiagnosisID string    `json:"diagnosis_id"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Messages    []Message `json:"messages"`
}
