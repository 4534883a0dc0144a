package transcript

import (
	"context"
	"errors"
	"testing"

	"github.com/kkdai/youtube/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vidqa/internal/errs"
	"github.com/fyrsmithlabs/vidqa/internal/logging"
)

// fakeClient serves transcripts keyed by language.
type fakeClient struct {
	byLang map[string]youtube.VideoTranscript
	errs   map[string]error
	asked  []string
}

func (c *fakeClient) GetTranscriptCtx(_ context.Context, video *youtube.Video, lang string) (youtube.VideoTranscript, error) {
	c.asked = append(c.asked, video.ID+"/"+lang)
	if err, ok := c.errs[lang]; ok {
		return nil, err
	}
	if tr, ok := c.byLang[lang]; ok {
		return tr, nil
	}
	return nil, youtube.ErrTranscriptDisabled
}

func TestVideoID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"watch url", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"watch url with extra params", "https://youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "dQw4w9WgXcQ", false},
		{"short url", "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"shorts", "https://m.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"bare id", "dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"surrounding spaces", "  https://youtu.be/dQw4w9WgXcQ ", "dQw4w9WgXcQ", false},
		{"empty", "", "", true},
		{"whitespace", "   ", "", true},
		{"other host", "https://example.com/watch?v=dQw4w9WgXcQ", "", true},
		{"ftp scheme", "ftp://youtube.com/watch?v=dQw4w9WgXcQ", "", true},
		{"too short", "abc", "", true},
		{"no id", "https://www.youtube.com/", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := VideoID(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestYouTubeFetcher_Fetch(t *testing.T) {
	client := &fakeClient{byLang: map[string]youtube.VideoTranscript{
		"en": {
			{Text: "Cats sleep 16 hours a day.", OffsetText: "0:00"},
			{Text: "  ", OffsetText: "0:03"},
			{Text: "Dogs love to play fetch.\n", OffsetText: "0:05"},
		},
	}}
	logger := logging.NewTestLogger()
	f := NewYouTubeFetcher(client, nil, logger.Underlying())

	docs, err := f.Fetch(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Cats sleep 16 hours a day. Dogs love to play fetch.", docs[0].PageContent)
	assert.Equal(t, map[string]any{
		MetadataSource:   "dQw4w9WgXcQ",
		MetadataURL:      "https://youtu.be/dQw4w9WgXcQ",
		MetadataLanguage: "en",
	}, docs[0].Metadata)
	assert.Equal(t, []string{"dQw4w9WgXcQ/en"}, client.asked)
	logger.AssertField(t, "transcript fetched", "language", "en")
}

func TestYouTubeFetcher_FallsBackThroughLanguages(t *testing.T) {
	client := &fakeClient{byLang: map[string]youtube.VideoTranscript{
		"en-US": {{Text: "hello"}},
	}}
	f := NewYouTubeFetcher(client, []string{"en", "en-US"}, nil)

	docs, err := f.Fetch(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "en-US", docs[0].Metadata[MetadataLanguage])
	assert.Equal(t, []string{"dQw4w9WgXcQ/en", "dQw4w9WgXcQ/en-US"}, client.asked)
}

func TestYouTubeFetcher_Unavailable(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeClient
	}{
		{"disabled", &fakeClient{}},
		{"upstream error", &fakeClient{errs: map[string]error{
			"en":    errors.New("unexpected status code: 429"),
			"en-US": errors.New("unexpected status code: 429"),
		}}},
		{"empty transcript", &fakeClient{byLang: map[string]youtube.VideoTranscript{
			"en":    {},
			"en-US": {{Text: " "}},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewYouTubeFetcher(tt.client, nil, nil)
			docs, err := f.Fetch(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
			require.ErrorIs(t, err, errs.ErrTranscriptUnavailable)
			assert.Nil(t, docs)
			assert.Len(t, tt.client.asked, 2)
		})
	}
}

func TestYouTubeFetcher_InvalidURL(t *testing.T) {
	client := &fakeClient{}
	f := NewYouTubeFetcher(client, nil, nil)

	_, err := f.Fetch(context.Background(), "https://vimeo.com/123456789")
	require.ErrorIs(t, err, errs.ErrInvalidInput)
	assert.Empty(t, client.asked)
}

func TestYouTubeFetcher_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeClient{}
	f := NewYouTubeFetcher(client, nil, nil)
	_, err := f.Fetch(ctx, "dQw4w9WgXcQ")
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, errs.ErrTranscriptUnavailable)
	assert.Len(t, client.asked, 1)
}
