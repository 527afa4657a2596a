package hotcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	raw := encodeEnvelope([]byte("hello world"), time.Hour)

	env, err := decodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), env.Value)
	assert.True(t, env.ExpiresAt.After(time.Now()), "expiry should be in the future for a positive TTL")
}

func TestEnvelope_ExpiresInThePast(t *testing.T) {
	raw := encodeEnvelope([]byte("stale"), -time.Minute)

	env, err := decodeEnvelope(raw)
	require.NoError(t, err)
	assert.True(t, time.Now().After(env.ExpiresAt))
}

func TestDecodeEnvelope_MalformedInput(t *testing.T) {
	_, err := decodeEnvelope([]byte("no delimiter here"))
	assert.Error(t, err)

	_, err = decodeEnvelope([]byte("not-a-timestamp\nvalue"))
	assert.Error(t, err)
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "paper.p1.full", PaperFullKey("p1"))
	assert.Equal(t, "relation.p1.citations", RelationKey("p1", "citations"))
	assert.Equal(t, "relation_page.p1.citations.2", RelationPageKey("p1", "citations", 2))
	assert.Equal(t, "ingest_progress.p1.references", IngestProgressKey("p1", "references"))
	assert.Equal(t, "search.abc123", SearchKey("abc123"))
	assert.Equal(t, "lock.paper.p1", LockKey("paper.p1"))
	assert.Equal(t, "negative.paper.p1", NegativeKey("p1"))
}

func TestLockKey_SanitizesScope(t *testing.T) {
	assert.Equal(t, "lock.alias.DOI.10.1000/a_b_c", LockKey("alias.DOI.10.1000/a(b)c"))
}
