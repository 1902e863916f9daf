package models

import "time"

type ExecStatus string

const (
	ExecStatusPending  ExecStatus = "pending"
	ExecStatusRunning  ExecStatus = "running"
	ExecStatusComplete ExecStatus = "complete"
	ExecStatusFailed   ExecStatus = "failed"
)

// Execution is one task of a recorded run.
type Execution struct {
	ID               int64
	RunID            int64
	TaskName         string
	AgentName        string
	Status           ExecStatus
	StartedAt        *time.Time
	CompletedAt      *time.Time
	RawOutput        string
	JSONOutput       map[string]any
	SequenceNum      int
	PromptTokens     int
	CompletionTokens int
	Error            string
}
