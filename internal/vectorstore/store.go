package vectorstore

import (
	"context"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"

	"github.com/normadata/boerag/internal/config"
	"github.com/normadata/boerag/internal/errors"
	"github.com/normadata/boerag/internal/ids"
)

// Store wraps the qdrant client for one collection of chunk points.
type Store struct {
	client     *qdrant.Client
	collection string
	log        *slog.Logger
}

// Point is one chunk ready for upsert.
type Point struct {
	ChunkID string
	Vector  []float32
	Payload ChunkPayload
}

// Scored is one retrieval candidate.
type Scored struct {
	Score   float32
	Payload ChunkPayload
}

// New connects to the configured qdrant instance.
func New(cfg config.QdrantConfig, log *slog.Logger) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeVectorStore, err)
	}
	return &Store{client: client, collection: cfg.Collection, log: log}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// EnsureCollection creates the collection when missing. dim is probed
// from the first embedded document; distance is cosine.
func (s *Store) EnsureCollection(ctx context.Context, dim uint64) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return errors.Wrap(errors.ErrCodeVectorStore, err)
	}
	if exists {
		return nil
	}
	s.log.Info("creating vector collection", "collection", s.collection, "dim", dim)
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeVectorStore, err)
	}
	return nil
}

// Upsert writes the given points, waiting for them to be applied.
func (s *Store) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(ids.PointUUID(p.ChunkID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload.toValueMap()),
		}
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeVectorStore, err)
	}
	return nil
}

// GetPayloads retrieves existing payloads for the given chunk ids,
// keyed by chunk id. Missing points are simply absent from the map.
func (s *Store) GetPayloads(ctx context.Context, chunkIDs []string) (map[string]ChunkPayload, error) {
	if len(chunkIDs) == 0 {
		return map[string]ChunkPayload{}, nil
	}
	pointIDs := make([]*qdrant.PointId, len(chunkIDs))
	for i, id := range chunkIDs {
		pointIDs[i] = qdrant.NewID(ids.PointUUID(id))
	}
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeVectorStore, err)
	}
	out := make(map[string]ChunkPayload, len(points))
	for _, pt := range points {
		p := payloadFromValues(pt.Payload)
		if p.ChunkID != "" {
			out[p.ChunkID] = p
		}
	}
	return out, nil
}

// Query runs a vector search with an optional payload filter.
func (s *Store) Query(ctx context.Context, vector []float32, filter *qdrant.Filter, limit uint64) ([]Scored, error) {
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         filter,
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeVectorStore, err)
	}
	out := make([]Scored, len(points))
	for i, pt := range points {
		out[i] = Scored{Score: pt.Score, Payload: payloadFromValues(pt.Payload)}
	}
	return out, nil
}

// ScrollChunkIDs walks the collection (optionally filtered) fetching
// only the chunk_id payload field, calling fn for every point. Used by
// the indexer's cleanup passes.
func (s *Store) ScrollChunkIDs(ctx context.Context, filter *qdrant.Filter, batch uint32, fn func(pointID, chunkID string) error) error {
	var offset *qdrant.PointId
	for {
		resp, err := s.client.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(batch),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude("chunk_id"),
		})
		if err != nil {
			return errors.Wrap(errors.ErrCodeVectorStore, err)
		}
		for _, pt := range resp.GetResult() {
			chunkID := pt.GetPayload()["chunk_id"].GetStringValue()
			if err := fn(pt.GetId().GetUuid(), chunkID); err != nil {
				return err
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return nil
		}
	}
}

// DeletePoints removes the given point UUIDs.
func (s *Store) DeletePoints(ctx context.Context, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}
	sel := make([]*qdrant.PointId, len(pointIDs))
	for i, id := range pointIDs {
		sel[i] = qdrant.NewID(id)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(sel...),
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeVectorStore, err)
	}
	return nil
}
