package http

import "github.com/fyrsmithlabs/vidqa/internal/conversation"

// InitRequest is the request body for POST /api/v1/init and /api/v1/videos.
type InitRequest struct {
	URL string `json:"url"`
	// ThreadID is accepted for compatibility and not used; the knowledge
	// base is shared by every thread.
	ThreadID string `json:"thread_id,omitempty"`
}

// MessageRequest is the request body for POST /api/v1/message.
type MessageRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

// HistoryResponse is the response body for GET /api/v1/threads/:thread_id/messages.
type HistoryResponse struct {
	ThreadID string                 `json:"thread_id"`
	Messages []conversation.Message `json:"messages"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status        string              `json:"status"`
	Version       string              `json:"version,omitempty"`
	Services      map[string]string   `json:"services"`
	KnowledgeBase KnowledgeBaseStatus `json:"knowledge_base"`
}

// KnowledgeBaseStatus describes the active collection.
type KnowledgeBaseStatus struct {
	Collection  string `json:"collection"`
	Initialized bool   `json:"initialized"`
	Chunks      int    `json:"chunks"`
}
