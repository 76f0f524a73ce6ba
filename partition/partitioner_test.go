package partition

import (
	"sync"
	"testing"
	"time"

	"github.com/maxpert/burrow/binlog"
	"github.com/maxpert/burrow/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withSizes(sizes ...int64) []*Metadata {
	list := NewMetadataList(len(sizes))
	for i, s := range sizes {
		list[i].size.Store(s)
	}
	return list
}

func anyEvent() *event.Event {
	return event.NewData("src", 1, "", time.Unix(0, 0), nil)
}

func assign(t *testing.T, p Partitioner) int {
	t.Helper()
	n, err := p.Partition(anyEvent())
	require.NoError(t, err)
	return n
}

func TestMetadata_IncDec(t *testing.T) {
	m := NewMetadata(3)
	assert.Equal(t, 3, m.PartitionNumber())
	assert.Equal(t, int64(0), m.CurrentSize())

	assert.Equal(t, int64(1), m.Inc())
	assert.Equal(t, int64(2), m.Inc())
	assert.Equal(t, int64(1), m.Dec())
	assert.Equal(t, int64(0), m.Dec())
	assert.Equal(t, int64(0), m.Dec())
	assert.Equal(t, int64(0), m.CurrentSize())
}

func TestMetadata_ConcurrentIncDec(t *testing.T) {
	m := NewMetadata(0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				m.Inc()
				m.Dec()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(0), m.CurrentSize())
}

func TestNewMetadataList(t *testing.T) {
	list := NewMetadataList(4)
	require.Len(t, list, 4)
	for i, m := range list {
		assert.Equal(t, i, m.PartitionNumber())
	}
}

func TestLoadBalancing_FirstZeroShortCircuits(t *testing.T) {
	p := &LoadBalancing{}
	require.NoError(t, p.Setup(withSizes(5, 0, 2)))
	assert.Equal(t, 1, assign(t, p))
}

func TestLoadBalancing_FirstMinimumWinsTie(t *testing.T) {
	p := &LoadBalancing{}
	require.NoError(t, p.Setup(withSizes(5, 2, 2)))
	assert.Equal(t, 1, assign(t, p))
}

func TestLoadBalancing_LowestIndexZeroWins(t *testing.T) {
	p := &LoadBalancing{}
	require.NoError(t, p.Setup(withSizes(0, 0, 0)))
	assert.Equal(t, 0, assign(t, p))

	require.NoError(t, p.Setup(withSizes(3, 1, 0, 0)))
	assert.Equal(t, 2, assign(t, p))
}

func TestLoadBalancing_TracksLiveSizes(t *testing.T) {
	list := NewMetadataList(2)
	p := &LoadBalancing{}
	require.NoError(t, p.Setup(list))

	assert.Equal(t, 0, assign(t, p))
	list[0].Inc()
	assert.Equal(t, 1, assign(t, p))
	list[1].Inc()
	list[1].Inc()
	assert.Equal(t, 0, assign(t, p))
	list[0].Dec()
	assert.Equal(t, 0, assign(t, p))
}

func TestLoadBalancing_SetupIgnoresLaterListChanges(t *testing.T) {
	list := withSizes(4, 3)
	p := &LoadBalancing{}
	require.NoError(t, p.Setup(list))

	list[1] = NewMetadata(9)
	assert.Equal(t, 1, assign(t, p))
}

func TestPartitioner_EmptyList(t *testing.T) {
	for _, p := range []Partitioner{&LoadBalancing{}, &KeyHash{mode: KeySource}} {
		assert.ErrorIs(t, p.Setup(nil), ErrNoPartitions, p.Name())
		assert.ErrorIs(t, p.Setup([]*Metadata{}), ErrNoPartitions, p.Name())

		_, err := p.Partition(anyEvent())
		assert.ErrorIs(t, err, ErrNoPartitions, p.Name())
	}
}

func TestLoadBalancing_Concurrent(t *testing.T) {
	list := withSizes(5, 3, 3, 7)
	p := &LoadBalancing{}
	require.NoError(t, p.Setup(list))

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				n, err := p.Partition(anyEvent())
				if err != nil || n != 1 {
					t.Errorf("expected partition 1, got %d (%v)", n, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(3), list[1].CurrentSize())
}

func TestKeyHash_SameKeySameChannel(t *testing.T) {
	p, err := NewKeyHash(KeySource)
	require.NoError(t, err)
	require.NoError(t, p.Setup(NewMetadataList(8)))

	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		for _, src := range []string{"a", "b", "c", "d"} {
			n, err := p.Partition(event.NewData(src, uint64(i), "", time.Unix(0, 0), nil))
			require.NoError(t, err)
			if prev, ok := seen[src]; ok {
				assert.Equal(t, prev, n, src)
			}
			seen[src] = n
			assert.GreaterOrEqual(t, n, 0)
			assert.Less(t, n, 8)
		}
	}
}

func TestKeyHash_IgnoresLoad(t *testing.T) {
	list := NewMetadataList(4)
	p, err := NewKeyHash(KeySource)
	require.NoError(t, err)
	require.NoError(t, p.Setup(list))

	first := assign(t, p)
	list[first].Inc()
	list[first].Inc()
	assert.Equal(t, first, assign(t, p))
}

func TestKeyHash_TableMode(t *testing.T) {
	p, err := NewKeyHash(KeyTable)
	require.NoError(t, err)
	require.NoError(t, p.Setup(NewMetadataList(16)))

	row := func(src, table string) *event.Event {
		rc := &binlog.RowChange{Schema: "shop", Table: table}
		return event.NewData(src, 1, rc.QualifiedName(), time.Unix(0, 0), rc)
	}

	// Same table from different sources co-locates.
	a, err := p.Partition(row("src-a", "orders"))
	require.NoError(t, err)
	b, err := p.Partition(row("src-b", "orders"))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Statements fall back to the source.
	stmt := event.NewData("src-a", 2, "shop", time.Unix(0, 0), &binlog.Statement{Schema: "shop"})
	s, err := p.Partition(stmt)
	require.NoError(t, err)
	plain, err := p.Partition(event.NewData("src-a", 3, "", time.Unix(0, 0), nil))
	require.NoError(t, err)
	assert.Equal(t, plain, s)
}

func TestNew(t *testing.T) {
	p, err := New(StrategyLoadBalancing, "")
	require.NoError(t, err)
	assert.IsType(t, &LoadBalancing{}, p)

	p, err = New(StrategyKeyHash, KeyTable)
	require.NoError(t, err)
	assert.Equal(t, KeyTable, p.(*KeyHash).mode)

	p, err = New(StrategyKeyHash, "")
	require.NoError(t, err)
	assert.Equal(t, KeySource, p.(*KeyHash).mode)

	_, err = New("round_robin", "")
	assert.Error(t, err)

	_, err = New(StrategyKeyHash, "row")
	assert.Error(t, err)
}
