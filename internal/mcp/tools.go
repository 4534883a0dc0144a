package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/conversation"
	"github.com/fyrsmithlabs/vidqa/internal/errs"
	"github.com/fyrsmithlabs/vidqa/internal/ingest"
	"github.com/fyrsmithlabs/vidqa/internal/logging"
	"github.com/fyrsmithlabs/vidqa/internal/pipeline"
)

// Tool names.
const (
	toolInit    = "video_init"
	toolAdd     = "video_add"
	toolAsk     = "video_ask"
	toolHistory = "video_history"
	toolStatus  = "video_status"
	toolSearch  = "tool_search"
)

// ===== KNOWLEDGE TOOLS =====

type videoInput struct {
	URL string `json:"url" jsonschema:"YouTube video URL or 11 character video id"`
}

type videoOutput struct {
	Status     string `json:"status" jsonschema:"Knowledge base status"`
	Message    string `json:"message" jsonschema:"Human readable summary"`
	ChunkCount int    `json:"chunk_count" jsonschema:"Chunks written for this video"`
}

func toVideoOutput(r ingest.InitResult) videoOutput {
	return videoOutput{Status: r.Status, Message: r.Message, ChunkCount: r.ChunkCount}
}

// ===== CHAT TOOLS =====

type askInput struct {
	Message  string `json:"message" jsonschema:"Question about the loaded videos"`
	ThreadID string `json:"thread_id,omitempty" jsonschema:"Conversation thread (default: default_user)"`
}

type askOutput struct {
	ThreadID string `json:"thread_id" jsonschema:"Thread the turn was recorded in"`
	Answer   string `json:"answer" jsonschema:"Answer grounded in the transcripts, or I don't know"`
}

type historyInput struct {
	ThreadID string `json:"thread_id,omitempty" jsonschema:"Conversation thread (default: default_user)"`
}

type historyOutput struct {
	ThreadID string                 `json:"thread_id" jsonschema:"Thread identifier"`
	Messages []conversation.Message `json:"messages" jsonschema:"Committed messages, oldest first"`
}

// ===== STATUS TOOLS =====

type statusInput struct{}

type statusOutput struct {
	Status      string `json:"status" jsonschema:"ok or degraded"`
	Store       string `json:"store" jsonschema:"Store health"`
	Collection  string `json:"collection" jsonschema:"Active collection"`
	Initialized bool   `json:"initialized" jsonschema:"Whether a video has been loaded"`
	Chunks      int    `json:"chunks" jsonschema:"Chunks in the knowledge base"`
}

type searchInput struct {
	Query    string       `json:"query,omitempty" jsonschema:"Name, keyword or regular expression"`
	Category ToolCategory `json:"category,omitempty" jsonschema:"Restrict results to knowledge, chat or status"`
}

type searchOutput struct {
	Results []*SearchResult `json:"results" jsonschema:"Matching tools, best first"`
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() error {
	tools := []*ToolMetadata{
		{Name: toolInit, Category: CategoryKnowledge, Keywords: []string{"load", "youtube", "transcript", "reset"},
			Description: "Clear the knowledge base and load the transcript of one YouTube video. Call this before asking questions."},
		{Name: toolAdd, Category: CategoryKnowledge, Keywords: []string{"append", "youtube", "transcript"},
			Description: "Add the transcript of another YouTube video to the existing knowledge base."},
		{Name: toolAsk, Category: CategoryChat, Keywords: []string{"question", "answer", "chat"},
			Description: "Ask a question about the loaded videos. Answers come only from the transcripts; otherwise the answer is \"I don't know\"."},
		{Name: toolHistory, Category: CategoryChat, Keywords: []string{"thread", "messages", "conversation"},
			Description: "Return the committed messages of a conversation thread."},
		{Name: toolStatus, Category: CategoryStatus, Keywords: []string{"health", "chunks"},
			Description: "Report store health and the size of the knowledge base."},
		{Name: toolSearch, Category: CategoryStatus, Keywords: []string{"discover", "tools"},
			Description: "Search the available tools by name, description or keyword, optionally within one category."},
	}
	for _, t := range tools {
		if err := s.registry.Register(t); err != nil {
			return err
		}
	}

	addTool(s, toolInit, func(ctx context.Context, _ *mcp.CallToolRequest, in videoInput) (*mcp.CallToolResult, videoOutput, error) {
		res, err := s.svc.Ingest.Initialize(ctx, in.URL)
		if err != nil {
			return nil, videoOutput{}, err
		}
		return textResult(res.Message), toVideoOutput(res), nil
	})

	addTool(s, toolAdd, func(ctx context.Context, _ *mcp.CallToolRequest, in videoInput) (*mcp.CallToolResult, videoOutput, error) {
		res, err := s.svc.Ingest.AddVideo(ctx, in.URL)
		if err != nil {
			return nil, videoOutput{}, err
		}
		return textResult(res.Message), toVideoOutput(res), nil
	})

	addTool(s, toolAsk, func(ctx context.Context, _ *mcp.CallToolRequest, in askInput) (*mcp.CallToolResult, askOutput, error) {
		res, err := s.svc.Chat.SendTurn(ctx, in.Message, in.ThreadID)
		if err != nil {
			return nil, askOutput{}, err
		}
		return textResult(res.Answer), askOutput{ThreadID: res.ThreadID, Answer: res.Answer}, nil
	})

	addTool(s, toolHistory, func(ctx context.Context, _ *mcp.CallToolRequest, in historyInput) (*mcp.CallToolResult, historyOutput, error) {
		threadID := in.ThreadID
		if threadID == "" {
			threadID = pipeline.DefaultThreadID
		}
		msgs, err := s.svc.Chat.History(ctx, threadID)
		if err != nil {
			return nil, historyOutput{}, err
		}
		if msgs == nil {
			msgs = []conversation.Message{}
		}
		return nil, historyOutput{ThreadID: threadID, Messages: msgs}, nil
	})

	addTool(s, toolStatus, func(ctx context.Context, _ *mcp.CallToolRequest, _ statusInput) (*mcp.CallToolResult, statusOutput, error) {
		out := statusOutput{Status: "ok", Store: "ok", Collection: s.svc.Collection}
		if err := s.svc.Store.Health(ctx); err != nil {
			out.Status = "degraded"
			out.Store = s.scrubber.String(err.Error())
		}
		n, err := s.svc.Store.Count(ctx, s.svc.Collection)
		switch {
		case err == nil:
			out.Initialized = true
			out.Chunks = n
		case !errors.Is(err, errs.ErrStoreNotFound):
			s.logger.Warn("failed to count knowledge base", zap.Error(err))
		}
		return nil, out, nil
	})

	addTool(s, toolSearch, func(_ context.Context, _ *mcp.CallToolRequest, in searchInput) (*mcp.CallToolResult, searchOutput, error) {
		results := s.registry.Search(in.Query, in.Category)
		if results == nil {
			results = []*SearchResult{}
		}
		return nil, searchOutput{Results: results}, nil
	})

	return nil
}

// addTool registers h under name with metrics, logging and scrubbed
// errors. The description comes from the registry.
func addTool[In, Out any](s *Server, name string, h mcp.ToolHandlerFor[In, Out]) {
	meta, _ := s.registry.Get(name)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: meta.Description,
	}, func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		defer s.metrics.DecrementActive(ctx, name)

		res, out, err := h(ctx, req, in)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		if err != nil {
			return nil, out, s.toolError(ctx, name, err)
		}
		return res, out, nil
	})
}

// toolError converts err into the text the client sees: the error code
// followed by a scrubbed message.
func (s *Server) toolError(ctx context.Context, tool string, err error) error {
	code := errs.Code(err)
	msg := err.Error()
	if code == errs.CodeStoreNotFound {
		msg = "knowledge base not initialized; call " + toolInit + " first"
	}
	msg = s.scrubber.String(msg)

	fields := append(logging.ContextFields(ctx),
		zap.String("tool", tool),
		zap.String("code", code),
		zap.String("error", msg),
	)
	if errs.IsClientError(err) || code == errs.CodeStoreNotFound {
		s.logger.Debug("tool call rejected", fields...)
	} else {
		s.logger.Error("tool call failed", fields...)
	}
	return fmt.Errorf("%s: %s", code, msg)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
