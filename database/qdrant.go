package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/rifatrzn/tax-assistant/helper"
	"github.com/rifatrzn/tax-assistant/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	qdrantContentKey  = "content"
	qdrantRecordIDKey = "record_id"
	qdrantCreatedKey  = "created_at_unix"
)

// qdrantIDNamespace derives point ids for record ids that are not UUIDs.
var qdrantIDNamespace = uuid.MustParse("6f0c1c3e-3f5c-4a4e-9a59-2d0f3b8f7e11")

// QdrantConfig addresses a Qdrant collection over gRPC.
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	Dimension  int
}

// QdrantStore is a VectorStore backed by a Qdrant collection with cosine distance.
// Duplicate detection checks for the point before the upsert, so two writers
// racing on the same id are not detected.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dimension   int
	log         *slog.Logger
}

// NewQdrantStore connects to Qdrant and creates the collection if needed.
func NewQdrantStore(ctx context.Context, config QdrantConfig, logger *slog.Logger) (*QdrantStore, error) {
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, helper.NewError("qdrant connect", err)
	}

	store, err := newQdrantStore(ctx, pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), config, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	store.conn = conn

	return store, nil
}

func newQdrantStore(ctx context.Context, points pb.PointsClient, collections pb.CollectionsClient, config QdrantConfig, logger *slog.Logger) (*QdrantStore, error) {
	if config.Collection == "" {
		return nil, helper.NewError("qdrant store", fmt.Errorf("%w: collection name is empty", model.ErrInvalidConfiguration))
	}
	if config.Dimension <= 0 {
		return nil, helper.NewError("qdrant store", fmt.Errorf("%w: dimension must be positive, got %d", model.ErrInvalidConfiguration, config.Dimension))
	}
	if logger == nil {
		logger = helper.DiscardLogger()
	}

	store := &QdrantStore{
		points:      points,
		collections: collections,
		collection:  config.Collection,
		dimension:   config.Dimension,
		log:         logger.With(slog.String("collection", config.Collection)),
	}

	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	resp, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: s.collection})
	if err != nil {
		return helper.NewError("qdrant collection exists", classifyGRPCError(ctx, err))
	}
	if resp.GetResult().GetExists() {
		return s.checkCollectionSize(ctx)
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(s.dimension),
			Distance: pb.Distance_Cosine,
		}}},
	})
	if err != nil {
		return helper.NewError("qdrant create collection", classifyGRPCError(ctx, err))
	}

	s.log.Info("Created qdrant collection", "dimension", s.dimension)

	return nil
}

// checkCollectionSize rejects an existing collection built for another
// embedding size.
func (s *QdrantStore) checkCollectionSize(ctx context.Context) error {
	info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
	if err != nil {
		return helper.NewError("qdrant collection info", classifyGRPCError(ctx, err))
	}

	size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if size != uint64(s.dimension) {
		return helper.NewError("qdrant collection info", fmt.Errorf("%w: collection %s has vector size %d, store expects %d",
			model.ErrDimensionMismatch, s.collection, size, s.dimension))
	}
	return nil
}

func (s *QdrantStore) Put(ctx context.Context, record *model.StoredRecord) error {
	if err := validateRecord(record, s.dimension); err != nil {
		return err
	}

	pointID := qdrantPointID(record.ID)

	existing, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{pointID},
	})
	if err != nil {
		return &model.StoreError{RecordID: record.ID, Err: classifyGRPCError(ctx, err)}
	}
	if len(existing.GetResult()) > 0 {
		return &model.StoreError{RecordID: record.ID, Err: model.ErrDuplicateID}
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = nowUTC()
	}

	payload := make(map[string]*pb.Value, len(record.Metadata)+3)
	for k, v := range record.Metadata {
		payload[k] = toQdrantValue(v)
	}
	payload[qdrantContentKey] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: record.Content}}
	payload[qdrantRecordIDKey] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: record.ID}}
	payload[qdrantCreatedKey] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: createdAt.Unix()}}

	wait := true
	_, err = s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id:      pointID,
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: record.Embedding}}},
			Payload: payload,
		}},
	})
	if err != nil {
		return &model.StoreError{RecordID: record.ID, Err: classifyGRPCError(ctx, err)}
	}

	record.CreatedAt = createdAt

	return nil
}

func (s *QdrantStore) Lookup(ctx context.Context, id string) (*model.StoredRecord, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{qdrantPointID(id)},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, helper.NewError("qdrant get", classifyGRPCError(ctx, err))
	}
	if len(resp.GetResult()) == 0 {
		return nil, nil
	}

	pt := resp.GetResult()[0]
	record := recordFromPayload(pt.GetId(), pt.GetPayload())
	record.Embedding = pt.GetVectors().GetVector().GetData()
	return record, nil
}

func (s *QdrantStore) Query(ctx context.Context, embedding []float32, threshold float64, topK int) ([]*model.RetrievalResult, error) {
	if err := validateQuery(embedding, s.dimension, topK); err != nil {
		return nil, err
	}

	scoreThreshold := float32(threshold)
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		ScoreThreshold: &scoreThreshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, helper.NewError("qdrant search", classifyGRPCError(ctx, err))
	}

	results := make([]*model.RetrievalResult, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		score := float64(pt.GetScore())
		// float32 rounding on the server must not let a result slip below the threshold
		if score < threshold {
			continue
		}
		results = append(results, &model.RetrievalResult{
			Record: recordFromPayload(pt.GetId(), pt.GetPayload()),
			Score:  score,
		})
	}

	return results, nil
}

// Reset drops and recreates the collection.
func (s *QdrantStore) Reset(ctx context.Context) error {
	_, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: s.collection})
	if err != nil {
		return helper.NewError("qdrant delete collection", classifyGRPCError(ctx, err))
	}
	return s.ensureCollection(ctx)
}

func (s *QdrantStore) Dimension() int {
	return s.dimension
}

func (s *QdrantStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func qdrantPointID(recordID string) *pb.PointId {
	id, err := uuid.Parse(recordID)
	if err != nil {
		id = uuid.NewSHA1(qdrantIDNamespace, []byte(recordID))
	}
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}
}

func recordFromPayload(id *pb.PointId, payload map[string]*pb.Value) *model.StoredRecord {
	record := &model.StoredRecord{
		ID:       id.GetUuid(),
		Metadata: model.Metadata{},
	}
	for k, v := range payload {
		switch k {
		case qdrantContentKey:
			record.Content = v.GetStringValue()
		case qdrantRecordIDKey:
			record.ID = v.GetStringValue()
		case qdrantCreatedKey:
			record.CreatedAt = unixUTC(v.GetIntegerValue())
		default:
			record.Metadata[k] = fromQdrantValue(v)
		}
	}
	return record
}

func toQdrantValue(v interface{}) *pb.Value {
	switch t := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: t}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: t}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: t}}
	case int32:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}
		}
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: t}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(t)}}
	case []string:
		values := make([]*pb.Value, len(t))
		for i, s := range t {
			values[i] = toQdrantValue(s)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
	case []interface{}:
		values := make([]*pb.Value, len(t))
		for i, e := range t {
			values[i] = toQdrantValue(e)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(t)}}
	}
}

func fromQdrantValue(v *pb.Value) interface{} {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_ListValue:
		values := make([]interface{}, len(k.ListValue.GetValues()))
		for i, e := range k.ListValue.GetValues() {
			values[i] = fromQdrantValue(e)
		}
		return values
	default:
		return nil
	}
}

// classifyGRPCError maps gRPC status codes onto the store error taxonomy.
func classifyGRPCError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return model.ClassifyContextError(ctx, ctx, err)
	}

	st, ok := status.FromError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", model.ErrTimeout, err)
		}
		return err
	}

	switch st.Code() {
	case codes.Unavailable, codes.Aborted, codes.ResourceExhausted:
		return fmt.Errorf("%w: %s", model.ErrStoreUnavailable, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", model.ErrTimeout, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", model.ErrCancelled, st.Message())
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", model.ErrDuplicateID, st.Message())
	case codes.InvalidArgument:
		if strings.Contains(strings.ToLower(st.Message()), "dimension") {
			return fmt.Errorf("%w: %s", model.ErrDimensionMismatch, st.Message())
		}
		return err
	default:
		return err
	}
}

var _ VectorStore = (*QdrantStore)(nil)
