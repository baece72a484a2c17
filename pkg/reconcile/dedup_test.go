package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/voxnote/pkg/storage/kv"
)

func TestRedisDeduper(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := kv.NewRedisClient(context.Background(), kv.Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	d := NewRedisDeduper(client, time.Hour)
	ctx := context.Background()

	seen, err := d.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Record(ctx, "evt_1"))
	seen, err = d.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.True(t, mr.Exists(dedupKeyPrefix+"evt_1"))

	mr.FastForward(2 * time.Hour)
	seen, err = d.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryDeduper(t *testing.T) {
	d := NewMemoryDeduper(2, time.Hour)
	ctx := context.Background()

	require.NoError(t, d.Record(ctx, "a"))
	require.NoError(t, d.Record(ctx, "b"))
	require.NoError(t, d.Record(ctx, "c"))

	seen, _ := d.Seen(ctx, "a")
	assert.False(t, seen, "oldest id is evicted at capacity")
	seen, _ = d.Seen(ctx, "c")
	assert.True(t, seen)
}
