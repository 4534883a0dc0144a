package checkpoint

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pruner removes expired threads in bulk. SQLiteStore implements it; the
// memory store expires entries on its own.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// RunPruner prunes once, then every interval until ctx is done.
func RunPruner(ctx context.Context, p Pruner, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	prune := func() {
		n, err := p.Prune(ctx)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				logger.Warn("session prune failed", zap.Error(err))
			}
		case n > 0:
			logger.Info("expired sessions pruned", zap.Int64("messages", n))
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
