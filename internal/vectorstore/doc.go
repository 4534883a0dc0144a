// Package vectorstore holds the embedded transcript chunks that back retrieval.
//
// A Store exposes logical collections (by default "youtube_transcripts").
// Each logical collection is bound to one physical generation named
// <logical>_g<8 hex>. Replace builds a complete new generation and then
// swaps the binding, so concurrent readers observe either the old or the
// new collection and never a mix of both.
//
// Two backends hold the physical generations:
//
//   - ChromemBackend: embedded chromem-go, in memory or persisted to a
//     directory. Bindings live in bindings.json next to the collections.
//   - QdrantBackend: an external Qdrant server over gRPC. Bindings are
//     Qdrant collection aliases.
//
// Usage:
//
//	backend, err := vectorstore.NewChromemBackend(vectorstore.ChromemConfig{}, logger)
//	store, err := vectorstore.NewStore(ctx, backend, embedder, logger)
//	err = store.Replace(ctx, "youtube_transcripts", chunks)
//	hits, err := store.Query(ctx, "youtube_transcripts", "how long do cats sleep", 5)
//
// Results are ordered by descending similarity; equal scores keep insertion
// order.
package vectorstore
