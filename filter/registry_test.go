package filter

import (
	"testing"

	"github.com/maxpert/burrow/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func TestBuild_ChainInOrder(t *testing.T) {
	chain, err := Build([]cfg.FilterConfiguration{
		{Type: "glob", Name: "tables", Tables: []string{"orders*"}},
		{Type: "skip_seqno", SkipSeqnoStart: int64Ptr(11), SkipSeqnoRange: int64Ptr(1)},
		{Type: "dedup"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tables", "skip_seqno", "dedup"}, chain.Names())

	require.NoError(t, chain.Configure())
	require.NoError(t, chain.Prepare())
	defer chain.Release()

	d, err := chain.Process(dataEvent(11))
	require.NoError(t, err)
	assert.True(t, d.Dropped())

	d, err = chain.Process(dataEvent(12))
	require.NoError(t, err)
	assert.False(t, d.Dropped())
}

func TestBuild_SkipSeqnoDefaults(t *testing.T) {
	f, err := Create(cfg.FilterConfiguration{Type: "skip_seqno"})
	require.NoError(t, err)

	skip := f.(*SkipSeqno)
	assert.Equal(t, int64(-1), skip.start)
	assert.Equal(t, int64(1), skip.length)

	require.NoError(t, skip.Configure())
	assert.Empty(t, droppedSeqnos(t, skip, 20))
}

func TestBuild_UnknownType(t *testing.T) {
	_, err := Build([]cfg.FilterConfiguration{{Type: "skip_seqno"}, {Type: "nope"}})
	assert.ErrorContains(t, err, "unknown filter type: nope")
}

func TestRegister_CustomFactory(t *testing.T) {
	Register("test_passthrough", func(conf cfg.FilterConfiguration) (Filter, error) {
		var journal []string
		return newRecording(conf.Name, &journal), nil
	})

	f, err := Create(cfg.FilterConfiguration{Type: "test_passthrough", Name: "custom"})
	require.NoError(t, err)
	assert.Equal(t, "custom", f.Name())
}
