// Package transcript loads video transcripts as langchaingo documents.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/errs"
)

const instrumentationName = "github.com/fyrsmithlabs/vidqa/internal/transcript"

var tracer = otel.Tracer(instrumentationName)

// Metadata keys set on fetched documents.
const (
	MetadataSource   = "source"
	MetadataURL      = "url"
	MetadataLanguage = "language"
)

// DefaultLanguages is tried in order when none are configured.
var DefaultLanguages = []string{"en", "en-US"}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Fetcher loads the transcript of one video.
type Fetcher interface {
	Fetch(ctx context.Context, videoURL string) ([]schema.Document, error)
}

// TranscriptClient is the subset of *youtube.Client used by YouTubeFetcher.
type TranscriptClient interface {
	GetTranscriptCtx(ctx context.Context, video *youtube.Video, lang string) (youtube.VideoTranscript, error)
}

// YouTubeFetcher fetches YouTube captions, trying each language in order.
type YouTubeFetcher struct {
	client    TranscriptClient
	languages []string
	logger    *zap.Logger
}

// NewYouTubeFetcher creates a fetcher. A nil client uses a default
// *youtube.Client and empty languages fall back to DefaultLanguages.
func NewYouTubeFetcher(client TranscriptClient, languages []string, logger *zap.Logger) *YouTubeFetcher {
	if client == nil {
		client = &youtube.Client{}
	}
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YouTubeFetcher{
		client:    client,
		languages: append([]string(nil), languages...),
		logger:    logger,
	}
}

// Fetch returns the transcript as a single document whose text is the
// segment texts joined by spaces.
//
// Malformed URLs fail with errs.ErrInvalidInput. Any failure to obtain a
// non-empty transcript in one of the configured languages fails with
// errs.ErrTranscriptUnavailable.
func (f *YouTubeFetcher) Fetch(ctx context.Context, videoURL string) (_ []schema.Document, err error) {
	ctx, span := tracer.Start(ctx, "transcript.Fetch")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	videoID, err := VideoID(videoURL)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("video.id", videoID))

	var lastErr error
	for _, lang := range f.languages {
		start := time.Now()
		segments, err := f.client.GetTranscriptCtx(ctx, &youtube.Video{ID: videoID}, lang)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			f.logger.Debug("transcript language unavailable",
				zap.String("video_id", videoID),
				zap.String("language", lang),
				zap.Error(err),
			)
			lastErr = err
			continue
		}

		text := joinSegments(segments)
		if text == "" {
			lastErr = fmt.Errorf("empty transcript for language %q", lang)
			continue
		}

		f.logger.Info("transcript fetched",
			zap.String("video_id", videoID),
			zap.String("language", lang),
			zap.Int("segments", len(segments)),
			zap.Int("chars", len(text)),
			zap.Duration("duration", time.Since(start)),
		)
		span.SetAttributes(attribute.String("transcript.language", lang))
		return []schema.Document{{
			PageContent: text,
			Metadata: map[string]any{
				MetadataSource:   videoID,
				MetadataURL:      videoURL,
				MetadataLanguage: lang,
			},
		}}, nil
	}

	if errors.Is(lastErr, youtube.ErrTranscriptDisabled) {
		return nil, fmt.Errorf("%w: video %s: %w", errs.ErrTranscriptUnavailable, videoID, lastErr)
	}
	return nil, fmt.Errorf("%w: video %s has no transcript in %v: %w",
		errs.ErrTranscriptUnavailable, videoID, f.languages, lastErr)
}

// VideoID extracts the 11 character video id from a YouTube URL or a bare
// id. Only youtube.com and youtu.be hosts are accepted.
func VideoID(videoURL string) (string, error) {
	raw := strings.TrimSpace(videoURL)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", errs.ErrInvalidInput)
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("%w: malformed url %q: %w", errs.ErrInvalidInput, raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("%w: unsupported scheme %q", errs.ErrInvalidInput, u.Scheme)
		}
		if !isYouTubeHost(u.Hostname()) {
			return "", fmt.Errorf("%w: not a YouTube url: %q", errs.ErrInvalidInput, raw)
		}
	}

	id, err := youtube.ExtractVideoID(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", errs.ErrInvalidInput, raw, err)
	}
	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: no video id in %q", errs.ErrInvalidInput, raw)
	}
	return id, nil
}

func isYouTubeHost(host string) bool {
	host = strings.ToLower(host)
	return host == "youtu.be" || host == "youtube.com" || strings.HasSuffix(host, ".youtube.com")
}

func joinSegments(segments youtube.VideoTranscript) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
