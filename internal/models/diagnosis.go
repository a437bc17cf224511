package models

import "time"

// Diagnosis is the persisted outcome of one pipeline run.
type Diagnosis struct {
	ID               string    `json:"id"`
	VideoID          string    `json:"videoId"`
	FileName         string    `json:"fileName"`
	VideoURL         string    `json:"videoUrl"`
	UserDescription  string    `json:"userDescription,omitempty"`
	Brand            string    `json:"brand"`
	Model            string    `json:"model"`
	RefrigeratorType string    `json:"refrigeratorType"`
	IssueCategory    string    `json:"issueCategory"`
	SeverityLevel    string    `json:"severityLevel"`
	DiagnosisResult  string    `json:"diagnosisResult"`
	Solutions        string    `json:"solutions"`
	AudioSummary     string    `json:"audioSummary"`
	AIModel          string    `json:"aiModel"`
	CreatedAt        time.Time `json:"createdAt"`
}

// DiagnosisFilter narrows history listings. Zero values mean no filter.
type DiagnosisFilter struct {
	Brand         string
	IssueCategory string
	Limit         int
	Offset        int
}

// Fields are the five values parsed out of the diagnosis report.
type Fields struct {
	Brand            string `json:"brand"`
	Model            string `json:"model"`
	RefrigeratorType string `json:"refrigeratorType"`
	IssueCategory    string `json:"issueCategory"`
	SeverityLevel    string `json:"severityLevel"`
}
