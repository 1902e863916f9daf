// Package llm wraps the vendor SDKs behind a small completion interface.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Image is an inline image attached to a user message.
type Image struct {
	MediaType string
	Data      []byte
}

// DataURL encodes the image as a base64 data URL.
func (i Image) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", i.MediaType, i.Base64())
}

func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

type Message struct {
	Role    Role
	Content string
	Images  []Image
}

func UserMessage(content string, images ...Image) Message {
	return Message{Role: RoleUser, Content: content, Images: images}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

type Request struct {
	// Model overrides the client's default model when set.
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	Requests         int
}

func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		Requests:         u.Requests + o.Requests,
	}
}

type Response struct {
	Content    string
	StopReason string
	Model      string
	Usage      Usage
}

// Client performs a single completion call.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Model() string
}

// ErrEmptyResponse is returned when the provider answers with no text.
var ErrEmptyResponse = errors.New("empty response from LLM")

// APIError carries the HTTP status reported by a provider SDK.
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %v", e.Provider, e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the request may succeed if sent again.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 408 || e.StatusCode == 409 || e.StatusCode == 429 || e.StatusCode >= 500
}

func promptText(req Request) string {
	var b strings.Builder
	b.WriteString(req.System)
	for _, m := range req.Messages {
		b.WriteString("\n")
		b.WriteString(m.Content)
	}
	return b.String()
}
