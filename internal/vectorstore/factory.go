package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/config"
)

// NewBackend creates the backend selected by cfg.Store.Backend:
//   - "chromem" (default): embedded, in memory or persisted to store.persist_dir
//   - "qdrant": an external Qdrant server
func NewBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendChromem, "":
		return NewChromemBackend(ChromemConfig{
			Persistent: cfg.Store.Persistent,
			Path:       cfg.Store.PersistDir,
			Compress:   cfg.Store.Compress,
		}, logger)
	case config.StoreBackendQdrant:
		return NewQdrantBackend(ctx, QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey.Value(),
			UseTLS:     cfg.Qdrant.UseTLS,
			VectorSize: cfg.Qdrant.VectorSize,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, cfg.Store.Backend)
	}
}
