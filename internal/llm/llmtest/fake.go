// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mpataki/nourishbot/internal/llm"
)

// Reply is one scripted answer. Err takes precedence over Content.
type Reply struct {
	Content string
	Err     error
	Usage   llm.Usage
}

// Client replays Replies in order and records every request. A Responder,
// when set, is consulted before the script.
type Client struct {
	mu        sync.Mutex
	Replies   []Reply
	Responder func(req llm.Request) (string, bool)
	Requests  []llm.Request
	ModelName string
}

func New(replies ...string) *Client {
	c := &Client{ModelName: "fake-model"}
	for _, r := range replies {
		c.Replies = append(c.Replies, Reply{Content: r})
	}
	return c
}

func (c *Client) Model() string {
	return c.ModelName
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Requests = append(c.Requests, req)

	if c.Responder != nil {
		if content, ok := c.Responder(req); ok {
			return respond(content, llm.Usage{}), nil
		}
	}

	if len(c.Replies) == 0 {
		return llm.Response{}, fmt.Errorf("llmtest: no scripted reply for request %d", len(c.Requests))
	}
	next := c.Replies[0]
	c.Replies = c.Replies[1:]
	if next.Err != nil {
		return llm.Response{}, next.Err
	}
	return respond(next.Content, next.Usage), nil
}

func respond(content string, usage llm.Usage) llm.Response {
	if usage == (llm.Usage{}) {
		usage = llm.Usage{PromptTokens: 10, CompletionTokens: 5, Requests: 1}
	}
	return llm.Response{Content: content, StopReason: "stop", Model: "fake-model", Usage: usage}
}

// Calls returns the number of requests received so far.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Requests)
}

// LastUserMessage returns the content of the final user message of request i.
func (c *Client) LastUserMessage(i int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.Requests[i].Messages
	for j := len(msgs) - 1; j >= 0; j-- {
		if msgs[j].Role == llm.RoleUser {
			return msgs[j].Content
		}
	}
	return ""
}

// Transcript joins every message of request i.
func (c *Client) Transcript(i int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	b.WriteString(c.Requests[i].System)
	for _, m := range c.Requests[i].Messages {
		b.WriteString("\n")
		b.WriteString(m.Content)
	}
	return b.String()
}
