package encoding

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnvelope struct {
	Source string `msgpack:"src"`
	Seqno  uint64 `msgpack:"seq"`
	Values []any  `msgpack:"vals"`
}

func TestMarshal_Struct(t *testing.T) {
	in := testEnvelope{Source: "mysql-1", Seqno: 42, Values: []any{"alice", int64(7), nil}}

	data, err := Marshal(&in)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var out testEnvelope
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, "mysql-1", out.Source)
	assert.Equal(t, uint64(42), out.Seqno)
	require.Len(t, out.Values, 3)
	assert.Equal(t, "alice", out.Values[0])
	assert.EqualValues(t, 7, out.Values[1])
	assert.Nil(t, out.Values[2])
}

func TestUnmarshal_StringsStayStrings(t *testing.T) {
	data, err := Marshal(map[string]interface{}{"name": "bob"})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, Unmarshal(data, &out))

	_, isString := out["name"].(string)
	assert.True(t, isString, "expected string, got %T", out["name"])
}

func TestMarshal_ResultNotShared(t *testing.T) {
	first, err := Marshal("first")
	require.NoError(t, err)
	snapshot := append([]byte(nil), first...)

	_, err = Marshal("second value that is longer")
	require.NoError(t, err)

	assert.Equal(t, snapshot, first, "pooled buffer reuse must not mutate earlier results")
}

func TestMarshal_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				in := testEnvelope{Source: "src", Seqno: uint64(id*1000 + j)}
				data, err := Marshal(&in)
				if err != nil {
					t.Errorf("Marshal failed: %v", err)
					return
				}
				var out testEnvelope
				if err := Unmarshal(data, &out); err != nil {
					t.Errorf("Unmarshal failed: %v", err)
					return
				}
				if out.Seqno != in.Seqno {
					t.Errorf("expected seqno %d, got %d", in.Seqno, out.Seqno)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
