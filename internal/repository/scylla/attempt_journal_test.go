package scylla

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBucketDateTruncatesToUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	at := time.Date(2024, 3, 4, 22, 30, 0, 0, loc).UTC()

	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), bucketDate(at))
}

func TestParseUUIDFallsBackToNil(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id, parseUUID(id.String()))
	assert.Equal(t, uuid.Nil, parseUUID("not-a-uuid"))
	assert.Equal(t, uuid.Nil, parseUUID(""))
}
