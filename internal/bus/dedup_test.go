package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDedupSeenMarksDuplicate(t *testing.T) {
	d := newDedupCache(time.Minute, 10)
	require.False(t, d.Seen("a"))
	require.True(t, d.Seen("a"))
}

func TestDedupExpiresAfterTTL(t *testing.T) {
	d := newDedupCache(time.Minute, 10)
	now := time.Now()
	d.now = func() time.Time { return now }

	require.False(t, d.Seen("a"))
	now = now.Add(2 * time.Minute)
	require.False(t, d.Seen("a")) // expired, so treated as unseen
}

func TestDedupEvictsOldestAtCapacity(t *testing.T) {
	d := newDedupCache(time.Minute, 2)
	require.False(t, d.Seen("a"))
	require.False(t, d.Seen("b"))
	require.False(t, d.Seen("c")) // evicts "a"
	require.False(t, d.Seen("a")) // re-inserted, was evicted
	require.Equal(t, 2, d.Len())
}

func TestDedupMoveToBackOnHit(t *testing.T) {
	d := newDedupCache(time.Minute, 2)
	d.Seen("a")
	d.Seen("b")
	d.Seen("a") // touch "a", "b" is now oldest
	d.Seen("c") // should evict "b", not "a"

	require.True(t, d.Seen("a"))
	require.False(t, d.Seen("b"))
}
