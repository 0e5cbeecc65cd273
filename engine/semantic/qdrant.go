package semantic

import (
	"context"
	"fmt"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantIndex is the sole owner of all Qdrant operations for one
// collection. Writes are serialized behind writeMu so concurrent upserts
// and deletes cannot interleave into lost updates; searches run
// concurrently.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	writeMu     sync.Mutex
}

var _ Index = (*QdrantIndex)(nil)

// NewQdrant connects to Qdrant at the given gRPC address.
func NewQdrant(addr, collection string) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &QdrantIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (q *QdrantIndex) Close() error { return q.conn.Close() }

// EnsureCollection creates the collection if it does not exist.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, dim int, metric Metric) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: distance(metric),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", q.collection, err)
	}
	return nil
}

func distance(m Metric) pb.Distance {
	switch m {
	case MetricDot:
		return pb.Distance_Dot
	case MetricEuclid:
		return pb.Distance_Euclid
	default:
		return pb.Distance_Cosine
	}
}

// Upsert stores points, waiting for the write to be applied.
func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	pts := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		pts[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: toPayload(p.Payload),
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         pts,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(points), err)
	}
	return nil
}

// Delete removes points by id.
func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}

	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete %d points: %w", len(ids), err)
	}
	return nil
}

// DeleteByDoc removes all points belonging to a document. Used before
// re-indexing.
func (q *QdrantIndex) DeleteByDoc(ctx context.Context, docID string) error {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{matchCondition("doc_id", docID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete by doc_id %s: %w", docID, err)
	}
	return nil
}

// Search performs k-NN search under the hard pre-filter.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, topN int, filter Filter) ([]Hit, error) {
	req := &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topN),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if cond := toConditions(filter); len(cond) > 0 {
		req.Filter = &pb.Filter{Must: cond}
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = Hit{
			ID:      r.GetId().GetUuid(),
			Score:   float64(r.GetScore()),
			Payload: fromPayload(r.GetPayload()),
		}
	}
	return hits, nil
}

func toConditions(f Filter) []*pb.Condition {
	out := make([]*pb.Condition, 0, len(f.Match)+len(f.Range))
	for k, v := range f.Match {
		out = append(out, matchCondition(k, v))
	}
	for _, r := range f.Range {
		out = append(out, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   r.Field,
					Range: &pb.Range{Gte: r.GTE, Lte: r.LTE},
				},
			},
		})
	}
	return out
}

func matchCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func toPayload(payload map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(payload))
	for k, val := range payload {
		switch tv := val.(type) {
		case string:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			out[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			out[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		default:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}
	return out
}

func fromPayload(payload map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch kind := v.GetKind().(type) {
		case *pb.Value_StringValue:
			out[k] = kind.StringValue
		case *pb.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *pb.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *pb.Value_BoolValue:
			out[k] = kind.BoolValue
		default:
			out[k] = v.String()
		}
	}
	return out
}
