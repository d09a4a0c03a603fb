package vectorstore

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
)

// qdrantIDNamespace seeds the deterministic UUID5 derivation below; any
// fixed namespace works as long as it never changes, since it only needs
// to make chunkIDToPointID a stable function of the chunk id.
var qdrantIDNamespace = uuid.MustParse("b7e6b6f0-3f0a-4b8a-9b2e-2f6f1e6b9a10")

// chunkIDToPointID maps a 16-hex-char chunk id (internal/chunk.Chunk.ID)
// to a valid Qdrant point UUID. Qdrant's PointId only accepts a real UUID
// or an unsigned integer (qdrant.NewID parses its argument as a UUID
// string), so the chunk id itself can't be used as the point id directly;
// the original chunk id travels in the payload instead (chunkIDPayloadKey)
// and is what every Store method returns as a Match/ChunkIDs entry.
func chunkIDToPointID(chunkID string) string {
	return uuid.NewSHA1(qdrantIDNamespace, []byte(chunkID)).String()
}

const chunkIDPayloadKey = "__chunk_id"

// Qdrant implements Store against an external Qdrant instance, grounded on
// Guru2308-rag-code's internal/vectorstore/qdrant.go (host/port parsing,
// point struct construction, filterless query-by-vector).
type Qdrant struct {
	client *qdrant.Client
}

// NewQdrant dials a Qdrant gRPC endpoint. url accepts "host:port" or
// "http(s)://host:port"; the gRPC port (6334) is assumed when the URL
// names the REST port (6333).
func NewQdrant(url string) (*Qdrant, error) {
	host := "localhost"
	port := 6334

	cleanURL := strings.TrimPrefix(url, "https://")
	cleanURL = strings.TrimPrefix(cleanURL, "http://")

	if h, p, err := net.SplitHostPort(cleanURL); err == nil {
		host = h
		if pi, err := strconv.Atoi(p); err == nil {
			if pi == 6333 {
				port = 6334
			} else {
				port = pi
			}
		}
	} else if cleanURL != "" {
		host = cleanURL
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, rerr.ExternalUnavailable("failed to create qdrant client", err)
	}
	return &Qdrant{client: client}, nil
}

// Upsert implements Store.
func (q *Qdrant) Upsert(ctx context.Context, collection string, candidates []Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, collection, len(candidates[0].Vector)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(candidates))
	for i, c := range candidates {
		payload := qdrant.NewValueMap(metadataToAny(c.ID, c.Metadata, c.Text))
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(chunkIDToPointID(c.ID)),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: payload,
		}
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		return rerr.ExternalUnavailable("failed to upsert points to qdrant", err)
	}
	return nil
}

// Query implements Store.
func (q *Qdrant) Query(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error) {
	resp, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, rerr.ExternalUnavailable("failed to query qdrant", err)
	}

	out := make([]Match, len(resp))
	for i, point := range resp {
		id, meta, text := anyToMetadata(point.Payload)
		out[i] = Match{
			ID:       id,
			Score:    point.Score,
			Metadata: meta,
			Text:     text,
		}
	}
	return out, nil
}

// Get implements Store, fetching a single point by id without a vector
// search, used to resolve sparse-only candidates against the vector
// index's authoritative chunk text (spec §4.8).
func (q *Qdrant) Get(ctx context.Context, collection, id string) (Match, bool, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(chunkIDToPointID(id))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return Match{}, false, rerr.ExternalUnavailable("failed to get point from qdrant", err)
	}
	if len(points) == 0 {
		return Match{}, false, nil
	}
	_, meta, text := anyToMetadata(points[0].Payload)
	return Match{ID: id, Metadata: meta, Text: text}, true, nil
}

// Exists implements Store.
func (q *Qdrant) Exists(ctx context.Context, collection, id string) (bool, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(chunkIDToPointID(id))},
	})
	if err != nil {
		return false, rerr.ExternalUnavailable("failed to look up point in qdrant", err)
	}
	return len(points) > 0, nil
}

// ListCollections implements Store.
func (q *Qdrant) ListCollections(ctx context.Context) ([]string, error) {
	names, err := q.client.ListCollections(ctx)
	if err != nil {
		return nil, rerr.ExternalUnavailable("failed to list qdrant collections", err)
	}
	return names, nil
}

// DeleteCollection implements Store.
func (q *Qdrant) DeleteCollection(ctx context.Context, collection string) error {
	if err := q.client.DeleteCollection(ctx, collection); err != nil {
		return rerr.ExternalUnavailable("failed to delete qdrant collection", err)
	}
	return nil
}

// ChunkIDs implements Store, scrolling through every point in a collection.
func (q *Qdrant) ChunkIDs(ctx context.Context, collection string) ([]string, error) {
	var ids []string
	var offset *qdrant.PointId
	for {
		resp, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(1000)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, rerr.ExternalUnavailable("failed to scroll qdrant collection", err)
		}
		if len(resp) == 0 {
			break
		}
		for _, p := range resp {
			id, _, _ := anyToMetadata(p.Payload)
			ids = append(ids, id)
		}
		offset = resp[len(resp)-1].Id
	}
	return ids, nil
}

// Close implements Store.
func (q *Qdrant) Close() error {
	return q.client.Close()
}

func (q *Qdrant) ensureCollection(ctx context.Context, collection string, dims int) error {
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return rerr.ExternalUnavailable("failed to check qdrant collection existence", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return rerr.ExternalUnavailable("failed to create qdrant collection", err)
	}
	return nil
}

func metadataToAny(chunkID string, meta map[string]string, text string) map[string]any {
	out := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	out["__text"] = text
	out[chunkIDPayloadKey] = chunkID
	return out
}

func anyToMetadata(payload map[string]*qdrant.Value) (id string, meta map[string]string, text string) {
	meta = make(map[string]string, len(payload))
	for k, v := range payload {
		switch k {
		case "__text":
			text = v.GetStringValue()
		case chunkIDPayloadKey:
			id = v.GetStringValue()
		default:
			meta[k] = v.GetStringValue()
		}
	}
	return id, meta, text
}

var _ Store = (*Qdrant)(nil)
