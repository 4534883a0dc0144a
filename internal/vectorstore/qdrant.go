package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Qdrant payload keys.
const (
	payloadText     = "text"
	payloadSeq      = "seq"
	payloadMetadata = "metadata"
)

// scrollPage bounds each Scroll request.
const scrollPage = 256

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port (6333).
	Port int

	APIKey string
	UseTLS bool

	// VectorSize, when set, must match the embedder dimension.
	VectorSize uint64

	// MaxRetries is the maximum number of retry attempts for transient failures.
	MaxRetries int

	// RetryBackoff is the initial backoff; it doubles on each retry.
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of failures before opening the circuit.
	CircuitBreakerThreshold int
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantBackend implements Backend on a Qdrant server. Logical names are
// Qdrant aliases, which are swapped atomically with UpdateAliases.
type QdrantBackend struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	circuitBreaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

// NewQdrantBackend connects to Qdrant and verifies the connection.
func NewQdrantBackend(ctx context.Context, cfg QdrantConfig, logger *zap.Logger) (*QdrantBackend, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	b := &QdrantBackend{client: client, config: cfg, logger: logger}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.Health(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant backend initialized", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	return b, nil
}

func (b *QdrantBackend) CreateCollection(ctx context.Context, name string, dimension int) error {
	if b.config.VectorSize != 0 && b.config.VectorSize != uint64(dimension) {
		return fmt.Errorf("%w: embedder dimension %d does not match vector_size %d",
			ErrInvalidConfig, dimension, b.config.VectorSize)
	}
	return b.retry(ctx, "create_collection", func() error {
		return b.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
}

func (b *QdrantBackend) DeleteCollection(ctx context.Context, name string) error {
	return b.retry(ctx, "delete_collection", func() error {
		exists, err := b.client.CollectionExists(ctx, name)
		if err != nil || !exists {
			return err
		}
		return b.client.DeleteCollection(ctx, name)
	})
}

func (b *QdrantBackend) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	err := b.retry(ctx, "list_collections", func() error {
		var err error
		names, err = b.client.ListCollections(ctx)
		return err
	})
	return names, err
}

func (b *QdrantBackend) Insert(ctx context.Context, name string, records []Record) error {
	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		payload, err := toPayload(r)
		if err != nil {
			return err
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(r.Seq)),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		}
	}
	return b.retry(ctx, "upsert", func() error {
		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
}

func (b *QdrantBackend) Search(ctx context.Context, name string, vector []float32, limit int) ([]ScoredRecord, error) {
	var points []*qdrant.ScoredPoint
	err := b.retry(ctx, "query", func() error {
		var err error
		points, err = b.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]ScoredRecord, len(points))
	for i, p := range points {
		rec, err := fromPayload(p.GetPayload())
		if err != nil {
			return nil, err
		}
		out[i] = ScoredRecord{Record: rec, Score: p.GetScore()}
	}
	return out, nil
}

func (b *QdrantBackend) Scan(ctx context.Context, name string) ([]Record, error) {
	var (
		out    []Record
		offset *qdrant.PointId
	)
	for {
		var (
			page []*qdrant.RetrievedPoint
			next *qdrant.PointId
		)
		err := b.retry(ctx, "scroll", func() error {
			var err error
			page, next, err = b.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
				CollectionName: name,
				Offset:         offset,
				Limit:          qdrant.PtrOf(uint32(scrollPage)),
				WithPayload:    qdrant.NewWithPayload(true),
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, p := range page {
			rec, err := fromPayload(p.GetPayload())
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		if next == nil || len(page) == 0 {
			return out, nil
		}
		offset = next
	}
}

func (b *QdrantBackend) Count(ctx context.Context, name string) (int, error) {
	var n uint64
	err := b.retry(ctx, "count", func() error {
		var err error
		n, err = b.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: name,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	return int(n), err
}

// Bind swaps the alias in one UpdateAliases call, which Qdrant applies atomically.
func (b *QdrantBackend) Bind(ctx context.Context, logical, physical string) error {
	current, err := b.Bindings(ctx)
	if err != nil {
		return err
	}

	var ops []*qdrant.AliasOperations
	if _, ok := current[logical]; ok {
		ops = append(ops, qdrant.NewAliasDelete(logical))
	}
	ops = append(ops, qdrant.NewAliasCreate(logical, physical))

	return b.retry(ctx, "update_aliases", func() error {
		return b.client.UpdateAliases(ctx, ops)
	})
}

// Bindings returns the aliases that point at vidqa generations.
func (b *QdrantBackend) Bindings(ctx context.Context) (map[string]string, error) {
	var aliases []*qdrant.AliasDescription
	err := b.retry(ctx, "list_aliases", func() error {
		var err error
		aliases, err = b.client.ListAliases(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(aliases))
	for _, a := range aliases {
		if logical, ok := logicalOf(a.GetCollectionName()); ok && logical == a.GetAliasName() {
			out[a.GetAliasName()] = a.GetCollectionName()
		}
	}
	return out, nil
}

func (b *QdrantBackend) Health(ctx context.Context) error {
	if _, err := b.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

func (b *QdrantBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

// retry runs operation with exponential backoff on transient errors.
func (b *QdrantBackend) retry(ctx context.Context, operationName string, operation func() error) error {
	backoff := b.config.RetryBackoff

	for attempt := 0; ; attempt++ {
		if b.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open", operationName)
		}

		err := operation()
		if err == nil {
			b.resetCircuitBreaker()
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s: %w", operationName, err)
		}

		b.recordFailure()
		if attempt == b.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, b.config.MaxRetries, err)
		}

		b.logger.Debug("retrying qdrant operation",
			zap.String("operation", operationName), zap.Int("attempt", attempt+1), zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (b *QdrantBackend) recordFailure() {
	b.circuitBreaker.mu.Lock()
	defer b.circuitBreaker.mu.Unlock()
	b.circuitBreaker.failures++
	b.circuitBreaker.lastFail = time.Now()
}

func (b *QdrantBackend) resetCircuitBreaker() {
	b.circuitBreaker.mu.Lock()
	defer b.circuitBreaker.mu.Unlock()
	b.circuitBreaker.failures = 0
}

// isCircuitOpen reports whether too many recent failures occurred. The
// circuit closes again 30 seconds after the last failure.
func (b *QdrantBackend) isCircuitOpen() bool {
	b.circuitBreaker.mu.Lock()
	defer b.circuitBreaker.mu.Unlock()

	if b.circuitBreaker.failures < b.config.CircuitBreakerThreshold {
		return false
	}
	if time.Since(b.circuitBreaker.lastFail) > 30*time.Second {
		b.circuitBreaker.failures = 0
		return false
	}
	return true
}

func toPayload(r Record) (map[string]*qdrant.Value, error) {
	payload := map[string]any{
		payloadText: r.Chunk.Text,
		payloadSeq:  int64(r.Seq),
	}
	if len(r.Chunk.Metadata) > 0 {
		payload[payloadMetadata] = r.Chunk.Metadata
	}
	out, err := qdrant.TryValueMap(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload for chunk %d: %w", r.Seq, err)
	}
	return out, nil
}

func fromPayload(payload map[string]*qdrant.Value) (Record, error) {
	seq, ok := payload[payloadSeq]
	if !ok {
		return Record{}, fmt.Errorf("point payload missing %q", payloadSeq)
	}
	rec := Record{
		Seq:   int(seq.GetIntegerValue()),
		Chunk: Chunk{Text: payload[payloadText].GetStringValue()},
	}
	if meta := payload[payloadMetadata].GetStructValue(); meta != nil {
		rec.Chunk.Metadata = make(map[string]any, len(meta.GetFields()))
		for k, v := range meta.GetFields() {
			rec.Chunk.Metadata[k] = scalarValue(v)
		}
	}
	return rec, nil
}

func scalarValue(v *qdrant.Value) any {
	switch val := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	default:
		return nil
	}
}

var _ Backend = (*QdrantBackend)(nil)
