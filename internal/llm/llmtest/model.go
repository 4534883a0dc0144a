// Package llmtest provides a scripted chat model for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// ErrModel is returned by Scripted when told to fail.
var ErrModel = errors.New("model unavailable")

// Reply is one scripted outcome.
type Reply struct {
	Content string
	Err     error
	// Empty returns a response with no choices.
	Empty bool
}

// Scripted is an llms.Model that records every call and answers from a
// script, falling back to a function of the messages when the script is
// exhausted.
type Scripted struct {
	mu       sync.Mutex
	script   []Reply
	fallback func(messages []llms.MessageContent) Reply
	calls    [][]llms.MessageContent
	options  []llms.CallOptions
}

var _ llms.Model = (*Scripted)(nil)

// New returns a model that answers with replies in order.
func New(replies ...Reply) *Scripted {
	return &Scripted{script: replies}
}

// Echo returns a model that answers every call with the text of the last
// message prefixed by prefix.
func Echo(prefix string) *Scripted {
	return &Scripted{fallback: func(messages []llms.MessageContent) Reply {
		if len(messages) == 0 {
			return Reply{Empty: true}
		}
		return Reply{Content: prefix + Text(messages[len(messages)-1])}
	}}
}

// Push appends replies to the script.
func (s *Scripted) Push(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, replies...)
}

// GenerateContent implements llms.Model.
func (s *Scripted) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}

	s.mu.Lock()
	s.calls = append(s.calls, append([]llms.MessageContent(nil), messages...))
	s.options = append(s.options, opts)
	var reply Reply
	switch {
	case len(s.script) > 0:
		reply = s.script[0]
		s.script = s.script[1:]
	case s.fallback != nil:
		reply = s.fallback(messages)
	default:
		reply = Reply{Err: ErrModel}
	}
	s.mu.Unlock()

	if reply.Err != nil {
		return nil, reply.Err
	}
	if reply.Empty {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply.Content}}}, nil
}

// Call implements llms.Model.
func (s *Scripted) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, options...)
}

// Calls returns the messages of every call so far.
func (s *Scripted) Calls() [][]llms.MessageContent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]llms.MessageContent(nil), s.calls...)
}

// LastCall returns the messages of the most recent call.
func (s *Scripted) LastCall() []llms.MessageContent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return nil
	}
	return s.calls[len(s.calls)-1]
}

// LastOptions returns the call options of the most recent call.
func (s *Scripted) LastOptions() llms.CallOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.options) == 0 {
		return llms.CallOptions{}
	}
	return s.options[len(s.options)-1]
}

// Text concatenates the text parts of m.
func Text(m llms.MessageContent) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(llms.TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
