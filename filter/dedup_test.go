package filter

import (
	"errors"
	"testing"
	"time"

	"github.com/maxpert/burrow/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func preparedDedup(t *testing.T, capacity int) *Dedup {
	t.Helper()
	f := NewDedup("", capacity)
	require.NoError(t, f.Configure())
	require.NoError(t, f.Prepare())
	return f
}

func TestDedup_DropsReplayedSeqnos(t *testing.T) {
	f := preparedDedup(t, 1024)

	for s := uint64(1); s <= 100; s++ {
		assert.True(t, passes(t, f, dataEvent(s)), "first delivery of %d", s)
	}
	for s := uint64(50); s <= 100; s++ {
		assert.False(t, passes(t, f, dataEvent(s)), "replay of %d", s)
	}
	assert.True(t, passes(t, f, dataEvent(101)))
}

func TestDedup_SourcesAreIndependent(t *testing.T) {
	f := preparedDedup(t, 1024)

	a := event.NewData("a", 7, "", time.Unix(0, 0), nil)
	b := event.NewData("b", 7, "", time.Unix(0, 0), nil)
	assert.True(t, passes(t, f, a))
	assert.True(t, passes(t, f, b))
	assert.False(t, passes(t, f, event.NewData("a", 7, "", time.Unix(0, 0), nil)))
}

func TestDedup_StartsOverWhenFull(t *testing.T) {
	f := preparedDedup(t, 64)

	// Far more distinct pairs than the filter holds. Only cuckoo false
	// positives may reject a first delivery.
	passed := 0
	for s := uint64(0); s < 5000; s++ {
		if passes(t, f, dataEvent(s)) {
			passed++
		}
	}
	assert.Greater(t, passed, 4990)
}

func TestDedup_Configure(t *testing.T) {
	f := NewDedup("d", 0)
	require.NoError(t, f.Configure())
	assert.Equal(t, DefaultDedupCapacity, f.capacity)

	err := NewDedup("d", 2).Configure()
	var ce *ConfigurationError
	assert.True(t, errors.As(err, &ce))
}

func TestDedup_ReleaseIsIdempotent(t *testing.T) {
	f := preparedDedup(t, 64)
	require.NoError(t, f.Release())
	require.NoError(t, f.Release())
}
