// Package pipeline runs one conversational turn.
//
// A turn is a fixed two-node graph over a State record:
//
//	START -> RETRIEVING -> ANSWERING -> END
//
// RETRIEVING fills the top-k and full contexts from the newest user message;
// ANSWERING appends exactly one assistant message. There is no branching or
// retry. Service wraps the graph with per-thread session memory.
package pipeline
