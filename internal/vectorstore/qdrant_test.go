package vectorstore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
)

func TestChunkIDToPointID_ProducesValidUUID(t *testing.T) {
	id := chunkIDToPointID("a1b2c3d4e5f6a1b2")
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}

func TestChunkIDToPointID_IsDeterministic(t *testing.T) {
	a := chunkIDToPointID("a1b2c3d4e5f6a1b2")
	b := chunkIDToPointID("a1b2c3d4e5f6a1b2")
	other := chunkIDToPointID("ffffffffffffffff")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, other)
}

func TestMetadataToAny_RoundTripsChunkIDThroughPayload(t *testing.T) {
	any := metadataToAny("a1b2c3d4e5f6a1b2", map[string]string{"source_id": "doc-1"}, "chunk text")

	payload := make(map[string]*qdrant.Value, len(any))
	for k, v := range any {
		payload[k] = qdrant.NewValueString(v.(string))
	}

	id, meta, text := anyToMetadata(payload)
	assert.Equal(t, "a1b2c3d4e5f6a1b2", id)
	assert.Equal(t, "doc-1", meta["source_id"])
	assert.Equal(t, "chunk text", text)
	_, ok := meta[chunkIDPayloadKey]
	assert.False(t, ok, "chunk id key must not leak into the metadata map")
}

func TestAnyToMetadata_HandlesMissingChunkIDKey(t *testing.T) {
	payload := map[string]*qdrant.Value{
		"__text":    qdrant.NewValueString("legacy point"),
		"source_id": qdrant.NewValueString("doc-2"),
	}

	id, meta, text := anyToMetadata(payload)
	assert.Empty(t, id)
	assert.Equal(t, "doc-2", meta["source_id"])
	assert.Equal(t, "legacy point", text)
}
