// Package conversation defines chat messages and their mapping onto the
// language-model message format.
//
// A conversation is an append-only, chronological list of Message values
// identified by a thread id. Storage lives in the checkpoint package; this
// package only holds the value types.
package conversation
