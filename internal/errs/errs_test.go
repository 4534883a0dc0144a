package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"invalid input", fmt.Errorf("message: %w", ErrInvalidInput), CodeInvalidInput},
		{"transcript", fmt.Errorf("fetch abc: %w", ErrTranscriptUnavailable), CodeTranscriptUnavailable},
		{"store write", fmt.Errorf("replace: %w", ErrStoreWrite), CodeStoreWrite},
		{"retrieval", fmt.Errorf("%w: boom", ErrRetrieval), CodeRetrieval},
		// A query against a missing collection is reported as not found so
		// callers know to initialize first.
		{"retrieval of missing collection", fmt.Errorf("%w: %w", ErrRetrieval, ErrStoreNotFound), CodeStoreNotFound},
		{"generation", fmt.Errorf("%w: empty", ErrGeneration), CodeGeneration},
		{"provider", fmt.Errorf("llm %q: %w", "x", ErrUnsupportedProvider), CodeUnsupportedProvider},
		{"other", errors.New("disk on fire"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(fmt.Errorf("x: %w", ErrInvalidInput)))
	assert.True(t, IsClientError(fmt.Errorf("x: %w", ErrTranscriptUnavailable)))
	assert.False(t, IsClientError(fmt.Errorf("x: %w", ErrGeneration)))
	assert.False(t, IsClientError(nil))
}
