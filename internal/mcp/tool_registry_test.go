package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *ToolRegistry {
	t.Helper()
	r := NewToolRegistry()
	for _, tool := range []*ToolMetadata{
		{Name: "video_init", Description: "Replace the knowledge base with one video", Category: CategoryKnowledge, Keywords: []string{"load", "youtube"}},
		{Name: "video_ask", Description: "Answer a question from the loaded transcripts", Category: CategoryChat, Keywords: []string{"question"}},
		{Name: "video_status", Description: "Report store health", Category: CategoryStatus},
	} {
		require.NoError(t, r.Register(tool))
	}
	return r
}

func TestToolRegistry_Register(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, 3, r.Count())

	tool, ok := r.Get("video_ask")
	require.True(t, ok)
	assert.Equal(t, CategoryChat, tool.Category)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	err := r.Register(&ToolMetadata{Name: "video_ask", Category: CategoryChat})
	assert.ErrorContains(t, err, "already registered")
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&ToolMetadata{Name: " "}))
	assert.Error(t, r.Register(&ToolMetadata{Name: "x"}))
}

func TestToolRegistry_List(t *testing.T) {
	r := newTestRegistry(t)
	var names []string
	for _, tool := range r.List() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"video_ask", "video_init", "video_status"}, names)
}

func TestToolRegistry_Search(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name      string
		query     string
		wantFirst string
		wantScore int
		wantCount int
	}{
		{"exact name", "video_ask", "video_ask", 3, 1},
		{"name substring", "video", "video_ask", 2, 3},
		{"description", "transcripts", "video_ask", 1, 1},
		{"keyword", "youtube", "video_init", 1, 1},
		{"regex", "^video_(init|status)$", "video_init", 2, 2},
		{"case insensitive", "VIDEO_INIT", "video_init", 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := r.Search(tt.query, "")
			require.Len(t, results, tt.wantCount)
			assert.Equal(t, tt.wantFirst, results[0].Tool.Name)
			assert.Equal(t, tt.wantScore, results[0].Score)
		})
	}

	assert.Empty(t, r.Search("", ""))
	assert.Empty(t, r.Search("   ", ""))
	assert.Empty(t, r.Search("nothing-matches", ""))
	// An invalid pattern still matches literally.
	assert.Empty(t, r.Search("video_[(", ""))
}

func TestToolRegistry_SearchCategory(t *testing.T) {
	r := newTestRegistry(t)

	results := r.Search("video", CategoryKnowledge)
	require.Len(t, results, 1)
	assert.Equal(t, "video_init", results[0].Tool.Name)

	results = r.Search("", CategoryStatus)
	require.Len(t, results, 1)
	assert.Equal(t, "video_status", results[0].Tool.Name)
	assert.Equal(t, 0, results[0].Score)
	assert.Equal(t, "category match", results[0].MatchReason)

	assert.Empty(t, r.Search("question", CategoryKnowledge))
	assert.Empty(t, r.Search("", "unknown"))
}
