package vector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

var tracer = otel.Tracer("keeperd.store.vector")

var (
	// ErrConnectionFailed indicates the Qdrant client could not be built.
	ErrConnectionFailed = errors.New("qdrant connection failed")

	// ErrDimensionMismatch indicates a point vector does not match the
	// collection dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// upsertBatchSize bounds a single Upsert RPC.
const upsertBatchSize = 128

// QdrantConfig configures the Qdrant backend.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// Dim is the embedding dimension enforced on every write.
	Dim int

	// Timeout bounds a single RPC attempt.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration

	// MaxMessageSize caps gRPC send/recv message sizes.
	MaxMessageSize int

	// CircuitBreakerThreshold is consecutive failures before the breaker
	// opens for 30 seconds.
	CircuitBreakerThreshold int
}

// ApplyDefaults fills zero-valued fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 32 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// Validate checks required fields.
func (c *QdrantConfig) Validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("dim must be positive, got %d", c.Dim)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	return nil
}

// QdrantStore talks to Qdrant over gRPC. Transient failures retry with
// exponential backoff behind a small circuit breaker; permanent failures
// surface immediately.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig

	// collections caches names already ensured so the hot path skips the
	// existence round trip.
	collections sync.Map

	breaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

// NewQdrantStore connects to Qdrant and verifies it is healthy.
func NewQdrantStore(config QdrantConfig) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{client: client, config: config}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Healthz(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	return s, nil
}

// Healthz pings the Qdrant server.
func (s *QdrantStore) Healthz(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Healthz")
	defer span.End()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "health check failed")
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

// Close releases the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// EnsureCollection creates the project's collection if missing. Results are
// cached, so repeated calls for the same project are free.
func (s *QdrantStore) EnsureCollection(ctx context.Context, project string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.EnsureCollection")
	defer span.End()

	name, err := CollectionName(project)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("collection", name))

	if _, ok := s.collections.Load(name); ok {
		return nil
	}

	err = s.retryOperation(ctx, "ensure_collection", func() error {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err == nil {
			// A collection built for another model keeps its width;
			// surface that here instead of on the first upsert.
			size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
			if size > 0 && size != uint64(s.config.Dim) {
				return fmt.Errorf("%w: collection %s holds %d-dim vectors, configured %d",
					ErrDimensionMismatch, name, size, s.config.Dim)
			}
			return nil
		}
		if st, ok := status.FromError(err); !ok || st.Code() != grpccodes.NotFound {
			return err
		}
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.config.Dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		// Another writer may have created it between the two calls.
		if err != nil && strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ensure collection failed")
		return knowledge.NewStoreWriteError("vi", err)
	}

	s.collections.Store(name, true)
	return nil
}

// UpsertChunks writes points keyed by chunk UUID. Zero vectors are skipped;
// re-upserting the same chunk id overwrites in place.
func (s *QdrantStore) UpsertChunks(ctx context.Context, project string, points []Point) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.UpsertChunks")
	defer span.End()

	name, err := CollectionName(project)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("points", len(points)),
	)

	qp := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if isZeroVector(p.Vector) {
			continue
		}
		if len(p.Vector) != s.config.Dim {
			err := fmt.Errorf("%w: chunk %s has %d, collection wants %d",
				ErrDimensionMismatch, p.ChunkID, len(p.Vector), s.config.Dim)
			span.RecordError(err)
			return knowledge.NewStoreWriteError("vi", err)
		}
		qp = append(qp, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ChunkID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: pointPayload(p),
		})
	}
	if len(qp) == 0 {
		return nil
	}

	for start := 0; start < len(qp); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(qp) {
			end = len(qp)
		}
		batch := qp[start:end]
		err := s.retryOperation(ctx, "upsert_points", func() error {
			_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: name,
				Points:         batch,
				Wait:           qdrant.PtrOf(true),
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "upsert failed")
			return knowledge.NewStoreWriteError("vi", err)
		}
	}
	return nil
}

// Search runs cosine kNN with optional payload filters.
func (s *QdrantStore) Search(ctx context.Context, project string, vector []float32, k int, filter Filter) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	name, err := CollectionName(project)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("k", k),
	)
	if len(vector) != s.config.Dim {
		return nil, fmt.Errorf("%w: query has %d, collection wants %d",
			ErrDimensionMismatch, len(vector), s.config.Dim)
	}

	var qfilter *qdrant.Filter
	if !filter.empty() {
		conditions := make([]*qdrant.Condition, 0, 2)
		if len(filter.DocTypes) > 0 {
			docTypes := make([]string, len(filter.DocTypes))
			for i, dt := range filter.DocTypes {
				docTypes[i] = string(dt)
			}
			conditions = append(conditions, keywordsCondition("doc_type", docTypes))
		}
		if len(filter.Tags) > 0 {
			conditions = append(conditions, keywordsCondition("tags", filter.Tags))
		}
		qfilter = &qdrant.Filter{Must: conditions}
	}

	var res []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "query_points", func() error {
		var qerr error
		res, qerr = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         qfilter,
		})
		return qerr
	})
	if err != nil {
		// A project with no ingested documents has no collection yet;
		// that is an empty result, not a failure.
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	hits := make([]Hit, 0, len(res))
	for _, point := range res {
		hits = append(hits, scoredPointToHit(point))
	}
	return hits, nil
}

// DeleteByDocument removes all points whose payload references the document.
func (s *QdrantStore) DeleteByDocument(ctx context.Context, project, documentID string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteByDocument")
	defer span.End()

	name, err := CollectionName(project)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.String("document.id", documentID),
	)

	err = s.retryOperation(ctx, "delete_points", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{
							keywordsCondition("document_id", []string{documentID}),
						},
					},
				},
			},
			Wait: qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return knowledge.NewStoreWriteError("vi", err)
	}
	return nil
}

// retryOperation runs operation with exponential backoff on transient
// errors. Permanent errors return immediately. A run of failures opens the
// circuit breaker for 30 seconds.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			s.resetBreaker()
			return nil
		}

		if s.breakerOpen() {
			return fmt.Errorf("%s: circuit breaker open", operationName)
		}

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		s.recordFailure()

		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantStore) recordFailure() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures++
	s.breaker.lastFail = time.Now()
}

func (s *QdrantStore) resetBreaker() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures = 0
}

func (s *QdrantStore) breakerOpen() bool {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()

	if s.breaker.failures >= s.config.CircuitBreakerThreshold {
		if time.Since(s.breaker.lastFail) > 30*time.Second {
			s.breaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.ResourceExhausted,
		grpccodes.Aborted, grpccodes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func pointPayload(p Point) map[string]*qdrant.Value {
	tags := make([]*qdrant.Value, len(p.Tags))
	for i, t := range p.Tags {
		tags[i] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: t}}
	}
	return map[string]*qdrant.Value{
		"document_id": {Kind: &qdrant.Value_StringValue{StringValue: p.DocumentID}},
		"chunk_id":    {Kind: &qdrant.Value_StringValue{StringValue: p.ChunkID}},
		"ordinal":     {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(p.Ordinal)}},
		"title":       {Kind: &qdrant.Value_StringValue{StringValue: p.Title}},
		"doc_type":    {Kind: &qdrant.Value_StringValue{StringValue: string(p.DocType)}},
		"tags":        {Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: tags}}},
	}
}

func scoredPointToHit(point *qdrant.ScoredPoint) Hit {
	h := Hit{Score: float64(point.GetScore())}
	if id := point.GetId(); id != nil {
		h.ChunkID = id.GetUuid()
	}
	payload := point.GetPayload()
	if v, ok := payload["document_id"]; ok {
		h.DocumentID = v.GetStringValue()
	}
	if v, ok := payload["chunk_id"]; ok && v.GetStringValue() != "" {
		h.ChunkID = v.GetStringValue()
	}
	if v, ok := payload["ordinal"]; ok {
		h.Ordinal = int(v.GetIntegerValue())
	}
	if v, ok := payload["title"]; ok {
		h.Title = v.GetStringValue()
	}
	if v, ok := payload["doc_type"]; ok {
		h.DocType = knowledge.DocType(v.GetStringValue())
	}
	if v, ok := payload["tags"]; ok {
		for _, item := range v.GetListValue().GetValues() {
			if s := item.GetStringValue(); s != "" {
				h.Tags = append(h.Tags, s)
			}
		}
	}
	return h
}

func keywordsCondition(field string, values []string) *qdrant.Condition {
	if len(values) == 1 {
		return &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: field,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: values[0]},
					},
				},
			},
		}
	}
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: field,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keywords{
						Keywords: &qdrant.RepeatedStrings{Strings: values},
					},
				},
			},
		},
	}
}
