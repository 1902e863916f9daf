package models

import "time"

type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

type Run struct {
	ID                  int64
	UUID                string
	CreatedAt           time.Time
	CompletedAt         *time.Time
	Workflow            string
	ImagePath           string
	DietaryRestrictions *string
	Status              RunStatus
	CurrentTask         string
	RawOutput           string
	PromptTokens        int
	CompletionTokens    int
	Error               string
}

// TotalTokens is the sum of prompt and completion tokens.
func (r *Run) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}
