package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/errs"
	"github.com/fyrsmithlabs/vidqa/internal/vectorstore/vectortest"
)

var catsCorpus = []Chunk{
	{Text: "Cats sleep 16 hours a day.", Metadata: map[string]any{"source": "cats"}},
	{Text: "Cats are obligate carnivores.", Metadata: map[string]any{"source": "cats"}},
	{Text: "A group of cats is called a clowder.", Metadata: map[string]any{"source": "cats"}},
}

func newTestStore(t *testing.T) (*Store, *ChromemBackend) {
	t.Helper()
	backend, err := NewChromemBackend(ChromemConfig{}, zap.NewNop())
	require.NoError(t, err)
	store, err := NewStore(context.Background(), backend, vectortest.NewBagOfWords(), zap.NewNop())
	require.NoError(t, err)
	return store, backend
}

func texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestNewStore_RequiresDependencies(t *testing.T) {
	backend, err := NewChromemBackend(ChromemConfig{}, nil)
	require.NoError(t, err)

	_, err = NewStore(context.Background(), nil, vectortest.NewBagOfWords(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewStore(context.Background(), backend, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStore_QueryTopK(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	require.NoError(t, store.Replace(ctx, DefaultCollection, catsCorpus))

	hits, err := store.Query(ctx, DefaultCollection, "How much do cats sleep?", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Cats sleep 16 hours a day.", hits[0].Text)
	assert.Equal(t, "cats", hits[0].Metadata["source"])

	t.Run("k larger than collection returns everything", func(t *testing.T) {
		hits, err := store.Query(ctx, DefaultCollection, "cats", 10)
		require.NoError(t, err)
		assert.Len(t, hits, len(catsCorpus))
	})

	t.Run("scores descend", func(t *testing.T) {
		hits, err := store.Query(ctx, DefaultCollection, "cats sleep hours", 3)
		require.NoError(t, err)
		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		}
	})
}

func TestStore_QueryTiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	var chunks []Chunk
	for i := 0; i < 12; i++ {
		text := "unrelated filler words"
		if i%3 == 0 {
			text = "alpha beta"
		}
		chunks = append(chunks, Chunk{Text: text, Metadata: map[string]any{"idx": int64(i)}})
	}
	require.NoError(t, store.Replace(ctx, DefaultCollection, chunks))

	hits, err := store.Query(ctx, DefaultCollection, "alpha beta", 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for i, want := range []int64{0, 3, 6} {
		assert.Equal(t, want, hits[i].Metadata["idx"])
	}
}

func TestStore_QueryErrors(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Query(ctx, DefaultCollection, "cats", 0)
	assert.ErrorIs(t, err, ErrInvalidK)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = store.Query(ctx, DefaultCollection, "cats", -1)
	assert.ErrorIs(t, err, ErrInvalidK)

	_, err = store.Query(ctx, DefaultCollection, "cats", 5)
	assert.ErrorIs(t, err, errs.ErrStoreNotFound)
	assert.True(t, IsNotFound(err))

	_, err = store.DumpAll(ctx, DefaultCollection)
	assert.ErrorIs(t, err, errs.ErrStoreNotFound)

	_, err = store.Query(ctx, "Bad-Name", "cats", 5)
	assert.ErrorIs(t, err, ErrInvalidCollectionName)
}

// zeroQueryEmbedder embeds documents normally but every query as the zero
// vector.
type zeroQueryEmbedder struct {
	*vectortest.BagOfWords
}

func (zeroQueryEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return make([]float32, vectortest.Dimension), nil
}

func TestStore_QueryRejectsZeroVector(t *testing.T) {
	ctx := context.Background()
	backend, err := NewChromemBackend(ChromemConfig{}, zap.NewNop())
	require.NoError(t, err)
	store, err := NewStore(ctx, backend, zeroQueryEmbedder{vectortest.NewBagOfWords()}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Replace(ctx, DefaultCollection, catsCorpus))

	hits, err := store.Query(ctx, DefaultCollection, "zzz", 3)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Nil(t, hits)
}

// nanBackend reports NaN for the hits whose sequence numbers are listed.
type nanBackend struct {
	Backend
	nan map[int]bool
}

func (n *nanBackend) Search(ctx context.Context, name string, vector []float32, limit int) ([]ScoredRecord, error) {
	hits, err := n.Backend.Search(ctx, name, vector, limit)
	for i := range hits {
		if n.nan[hits[i].Seq] {
			hits[i].Score = float32(math.NaN())
		}
	}
	return hits, err
}

func TestStore_QueryRanksNaNScoresLast(t *testing.T) {
	ctx := context.Background()
	inner, err := NewChromemBackend(ChromemConfig{}, zap.NewNop())
	require.NoError(t, err)
	backend := &nanBackend{Backend: inner, nan: map[int]bool{0: true, 2: true}}
	store, err := NewStore(ctx, backend, vectortest.NewBagOfWords(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Replace(ctx, DefaultCollection, catsCorpus))

	hits, err := store.Query(ctx, DefaultCollection, "cats sleep", 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, catsCorpus[1].Text, hits[0].Text)
	assert.False(t, math.IsNaN(float64(hits[0].Score)))
	// NaN hits trail in insertion order.
	assert.Equal(t, catsCorpus[0].Text, hits[1].Text)
	assert.Equal(t, catsCorpus[2].Text, hits[2].Text)
	assert.True(t, math.IsNaN(float64(hits[1].Score)))
}

func TestStore_ReplaceDiscardsPrevious(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t)

	require.NoError(t, store.Replace(ctx, DefaultCollection, catsCorpus))
	second := []Chunk{{Text: "Paris is the capital of France."}, {Text: "The Seine flows through Paris."}}
	require.NoError(t, store.Replace(ctx, DefaultCollection, second))

	all, err := store.DumpAll(ctx, DefaultCollection)
	require.NoError(t, err)
	assert.Equal(t, texts(second), texts(all))

	names, err := backend.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.True(t, strings.HasPrefix(names[0], DefaultCollection+"_g"))
	assert.True(t, store.Exists(DefaultCollection))
}

func TestStore_ReplaceRejectsEmpty(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.Replace(context.Background(), DefaultCollection, nil)
	assert.ErrorIs(t, err, ErrEmptyDocuments)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	assert.False(t, store.Exists(DefaultCollection))
}

func TestStore_ReplaceFailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()

	t.Run("embedding failure", func(t *testing.T) {
		backend, err := NewChromemBackend(ChromemConfig{}, nil)
		require.NoError(t, err)
		embedder := &vectortest.Failing{Inner: vectortest.NewBagOfWords()}
		store, err := NewStore(ctx, backend, embedder, nil)
		require.NoError(t, err)

		require.NoError(t, store.Replace(ctx, DefaultCollection, catsCorpus))
		embedder.SetFailDocuments(true)

		err = store.Replace(ctx, DefaultCollection, []Chunk{{Text: "dogs"}})
		assert.ErrorIs(t, err, errs.ErrStoreWrite)
		assert.ErrorIs(t, err, ErrEmbeddingFailed)

		all, err := store.DumpAll(ctx, DefaultCollection)
		require.NoError(t, err)
		assert.Equal(t, texts(catsCorpus), texts(all))
	})

	for _, stage := range []string{"insert", "bind"} {
		t.Run(stage+" failure", func(t *testing.T) {
			inner, err := NewChromemBackend(ChromemConfig{}, nil)
			require.NoError(t, err)
			backend := &faultyBackend{Backend: inner}
			store, err := NewStore(ctx, backend, vectortest.NewBagOfWords(), nil)
			require.NoError(t, err)

			require.NoError(t, store.Replace(ctx, DefaultCollection, catsCorpus))
			backend.fail(stage)

			err = store.Replace(ctx, DefaultCollection, []Chunk{{Text: "dogs"}})
			assert.ErrorIs(t, err, errs.ErrStoreWrite)

			all, err := store.DumpAll(ctx, DefaultCollection)
			require.NoError(t, err)
			assert.Equal(t, texts(catsCorpus), texts(all))

			names, err := inner.ListCollections(ctx)
			require.NoError(t, err)
			assert.Len(t, names, 1, "partial generation should be removed")
		})
	}
}

func TestStore_Append(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	err := store.Append(ctx, DefaultCollection, catsCorpus)
	assert.ErrorIs(t, err, errs.ErrStoreNotFound)

	require.NoError(t, store.Replace(ctx, DefaultCollection, catsCorpus[:1]))
	require.NoError(t, store.Append(ctx, DefaultCollection, catsCorpus[1:]))

	all, err := store.DumpAll(ctx, DefaultCollection)
	require.NoError(t, err)
	assert.Equal(t, texts(catsCorpus), texts(all))

	n, err := store.Count(ctx, DefaultCollection)
	require.NoError(t, err)
	assert.Equal(t, len(catsCorpus), n)
	_, err = store.Count(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrStoreNotFound)

	err = store.Append(ctx, DefaultCollection, nil)
	assert.ErrorIs(t, err, ErrEmptyDocuments)
}

func TestStore_AppendEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	backend, err := NewChromemBackend(ChromemConfig{}, nil)
	require.NoError(t, err)
	embedder := &vectortest.Failing{Inner: vectortest.NewBagOfWords()}
	store, err := NewStore(ctx, backend, embedder, nil)
	require.NoError(t, err)
	require.NoError(t, store.Replace(ctx, DefaultCollection, catsCorpus))

	embedder.SetFailDocuments(true)
	err = store.Append(ctx, DefaultCollection, []Chunk{{Text: "more"}})
	assert.ErrorIs(t, err, errs.ErrStoreWrite)

	embedder.SetFailQuery(true)
	_, err = store.Query(ctx, DefaultCollection, "cats", 1)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestStore_MetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	meta := map[string]any{
		"source":      "dQw4w9WgXcQ",
		"chunk_index": int64(7),
		"auto":        true,
		"start":       12.5,
	}
	require.NoError(t, store.Replace(ctx, DefaultCollection, []Chunk{{Text: "never gonna give you up", Metadata: meta}}))

	all, err := store.DumpAll(ctx, DefaultCollection)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, meta, all[0].Metadata)
}

func TestStore_ConcurrentReadersSeeOneGeneration(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	corpus := func(gen string, n int) []Chunk {
		out := make([]Chunk, n)
		for i := range out {
			out[i] = Chunk{Text: fmt.Sprintf("%s chunk number %d", gen, i), Metadata: map[string]any{"gen": gen}}
		}
		return out
	}
	a, b := corpus("alpha", 20), corpus("beta", 30)
	require.NoError(t, store.Replace(ctx, DefaultCollection, a))

	stop := make(chan struct{})
	failures := make(chan string, 100)
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				all, err := store.DumpAll(ctx, DefaultCollection)
				if err != nil {
					failures <- err.Error()
					return
				}
				gen := all[0].Metadata["gen"]
				want := map[any]int{"alpha": 20, "beta": 30}[gen]
				if len(all) != want {
					failures <- fmt.Sprintf("generation %v has %d chunks", gen, len(all))
				}
				for _, c := range all {
					if c.Metadata["gen"] != gen {
						failures <- "mixed generations"
						return
					}
				}
				if _, err := store.Query(ctx, DefaultCollection, "chunk number", 5); err != nil {
					failures <- err.Error()
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		next := b
		if i%2 == 1 {
			next = a
		}
		require.NoError(t, store.Replace(ctx, DefaultCollection, next))
	}
	close(stop)
	wg.Wait()
	close(failures)

	for f := range failures {
		t.Error(f)
	}
}

func TestValidateCollectionName(t *testing.T) {
	assert.NoError(t, ValidateCollectionName("youtube_transcripts"))
	for _, name := range []string{"", "Upper", "has-dash", "../etc", strings.Repeat("a", 54)} {
		assert.ErrorIs(t, ValidateCollectionName(name), ErrInvalidCollectionName, name)
	}
}

func TestGenerationNames(t *testing.T) {
	name := generationName("youtube_transcripts")
	logical, ok := logicalOf(name)
	require.True(t, ok)
	assert.Equal(t, "youtube_transcripts", logical)
	assert.NotEqual(t, name, generationName("youtube_transcripts"))

	_, ok = logicalOf("youtube_transcripts")
	assert.False(t, ok)
}

// faultyBackend fails selected operations.
type faultyBackend struct {
	Backend

	mu         sync.Mutex
	failInsert bool
	failBind   bool
}

var errInjected = errors.New("injected backend failure")

func (f *faultyBackend) fail(stage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failInsert = stage == "insert"
	f.failBind = stage == "bind"
}

func (f *faultyBackend) Insert(ctx context.Context, name string, records []Record) error {
	f.mu.Lock()
	fail := f.failInsert
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Backend.Insert(ctx, name, records)
}

func (f *faultyBackend) Bind(ctx context.Context, logical, physical string) error {
	f.mu.Lock()
	fail := f.failBind
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Backend.Bind(ctx, logical, physical)
}
