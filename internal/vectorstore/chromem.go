package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const (
	bindingsFile = "bindings.json"

	// Chromem metadata keys. Chunk metadata is stored as JSON to keep its
	// scalar types across a round trip.
	metaSeq   = "seq"
	metaChunk = "chunk_metadata"
)

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	// Persistent stores collections under Path. Otherwise data lives for
	// the process lifetime.
	Persistent bool
	Path       string
	Compress   bool
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	if c.Persistent && c.Path == "" {
		return fmt.Errorf("%w: path is required for persistent chromem", ErrInvalidConfig)
	}
	return nil
}

// ChromemBackend implements Backend on chromem-go.
type ChromemBackend struct {
	db     *chromem.DB
	path   string
	logger *zap.Logger

	mu       sync.Mutex
	bindings map[string]string
}

// NewChromemBackend opens or creates a chromem database.
func NewChromemBackend(cfg ChromemConfig, logger *zap.Logger) (*ChromemBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &ChromemBackend{logger: logger, bindings: make(map[string]string)}

	if !cfg.Persistent {
		b.db = chromem.NewDB()
		logger.Info("chromem backend initialized", zap.Bool("persistent", false))
		return b, nil
	}

	path, err := expandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}
	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}
	b.db = db
	b.path = path

	if err := b.loadBindings(); err != nil {
		return nil, err
	}

	logger.Info("chromem backend initialized",
		zap.Bool("persistent", true),
		zap.String("path", path),
		zap.Bool("compress", cfg.Compress),
		zap.Int("collections", len(db.ListCollections())),
	)
	return b, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// noEmbed is installed on every collection; the Store always supplies vectors.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem backend received a document without an embedding")
}

func (b *ChromemBackend) collection(name string) (*chromem.Collection, error) {
	c := b.db.GetCollection(name, noEmbed)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

func (b *ChromemBackend) CreateCollection(_ context.Context, name string, dimension int) error {
	_, err := b.db.CreateCollection(name, map[string]string{"dimension": strconv.Itoa(dimension)}, noEmbed)
	return err
}

func (b *ChromemBackend) DeleteCollection(_ context.Context, name string) error {
	return b.db.DeleteCollection(name)
}

func (b *ChromemBackend) ListCollections(context.Context) ([]string, error) {
	cols := b.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	return names, nil
}

func (b *ChromemBackend) Insert(ctx context.Context, name string, records []Record) error {
	c, err := b.collection(name)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		meta, err := json.Marshal(r.Chunk.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for chunk %d: %w", r.Seq, err)
		}
		docs[i] = chromem.Document{
			ID:        docID(r.Seq),
			Metadata:  map[string]string{metaSeq: strconv.Itoa(r.Seq), metaChunk: string(meta)},
			Embedding: r.Vector,
			Content:   r.Chunk.Text,
		}
	}
	return c.AddDocuments(ctx, docs, runtime.NumCPU())
}

func (b *ChromemBackend) Search(ctx context.Context, name string, vector []float32, limit int) ([]ScoredRecord, error) {
	c, err := b.collection(name)
	if err != nil {
		return nil, err
	}
	if n := c.Count(); limit > n {
		limit = n
	}
	if limit == 0 {
		return nil, nil
	}

	results, err := c.QueryEmbedding(ctx, vector, limit, nil, nil)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredRecord, 0, len(results))
	for _, r := range results {
		rec, err := fromChromem(r.Content, r.Metadata)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredRecord{Record: rec, Score: r.Similarity})
	}
	return out, nil
}

// Scan reads documents by their sequential ids. Collections are never
// partially deleted, so ids are contiguous from zero.
func (b *ChromemBackend) Scan(ctx context.Context, name string) ([]Record, error) {
	c, err := b.collection(name)
	if err != nil {
		return nil, err
	}

	n := c.Count()
	out := make([]Record, 0, n)
	for seq := 0; seq < n; seq++ {
		doc, err := c.GetByID(ctx, docID(seq))
		if err != nil {
			return nil, fmt.Errorf("reading chunk %d: %w", seq, err)
		}
		rec, err := fromChromem(doc.Content, doc.Metadata)
		if err != nil {
			return nil, err
		}
		rec.Vector = doc.Embedding
		out = append(out, rec)
	}
	return out, nil
}

func (b *ChromemBackend) Count(_ context.Context, name string) (int, error) {
	c, err := b.collection(name)
	if err != nil {
		return 0, err
	}
	return c.Count(), nil
}

func (b *ChromemBackend) Bind(_ context.Context, logical, physical string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db.GetCollection(physical, noEmbed) == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, physical)
	}

	next := make(map[string]string, len(b.bindings)+1)
	for k, v := range b.bindings {
		next[k] = v
	}
	next[logical] = physical

	if b.path != "" {
		if err := writeBindings(b.path, next); err != nil {
			return err
		}
	}
	b.bindings = next
	return nil
}

func (b *ChromemBackend) Bindings(context.Context) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]string, len(b.bindings))
	for k, v := range b.bindings {
		out[k] = v
	}
	return out, nil
}

func (b *ChromemBackend) Health(context.Context) error {
	if b.path == "" {
		return nil
	}
	if _, err := os.Stat(b.path); err != nil {
		return fmt.Errorf("persist directory: %w", err)
	}
	return nil
}

func (b *ChromemBackend) Close() error {
	b.logger.Info("chromem backend closed")
	return nil
}

// loadBindings reads bindings.json, dropping entries whose collection no
// longer exists.
func (b *ChromemBackend) loadBindings() error {
	data, err := os.ReadFile(filepath.Join(b.path, bindingsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", bindingsFile, err)
	}

	var stored map[string]string
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("parsing %s: %w", bindingsFile, err)
	}
	for logical, physical := range stored {
		if b.db.GetCollection(physical, noEmbed) == nil {
			b.logger.Warn("binding points at missing collection",
				zap.String("collection", logical), zap.String("generation", physical))
			continue
		}
		b.bindings[logical] = physical
	}
	return nil
}

// writeBindings replaces bindings.json via a temp file and rename.
func writeBindings(dir string, bindings map[string]string) error {
	data, err := json.MarshalIndent(bindings, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding bindings: %w", err)
	}

	tmp, err := os.CreateTemp(dir, bindingsFile+".*")
	if err != nil {
		return fmt.Errorf("creating temp bindings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing bindings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing bindings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing bindings: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, bindingsFile)); err != nil {
		return fmt.Errorf("installing bindings: %w", err)
	}
	return nil
}

func docID(seq int) string {
	return fmt.Sprintf("%08d", seq)
}

func fromChromem(content string, meta map[string]string) (Record, error) {
	seq, err := strconv.Atoi(meta[metaSeq])
	if err != nil {
		return Record{}, fmt.Errorf("invalid seq %q: %w", meta[metaSeq], err)
	}
	rec := Record{Seq: seq, Chunk: Chunk{Text: content}}
	if raw := meta[metaChunk]; raw != "" && raw != "null" {
		if err := decodeMetadata([]byte(raw), &rec.Chunk.Metadata); err != nil {
			return Record{}, fmt.Errorf("decoding metadata for chunk %d: %w", seq, err)
		}
	}
	return rec, nil
}

// decodeMetadata keeps integers as int64 instead of float64.
func decodeMetadata(data []byte, out *map[string]any) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m := make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if i, err := strconv.ParseInt(string(v), 10, 64); err == nil {
			val = i
		} else if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		m[k] = val
	}
	*out = m
	return nil
}

var _ Backend = (*ChromemBackend)(nil)
