package event

import (
	"errors"
	"testing"
	"time"

	"github.com/maxpert/burrow/encoding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewData(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	ev := NewData("mysql-1", 10, "shop.orders", ts, "payload")

	assert.Equal(t, KindData, ev.Kind())
	assert.True(t, ev.HasSeqno())
	assert.Equal(t, uint64(10), ev.Seqno())
	assert.Equal(t, "mysql-1", ev.Source())
	assert.Equal(t, "shop.orders", ev.Key())
	assert.Equal(t, ts, ev.Timestamp())
	assert.Equal(t, "payload", ev.Payload())
	assert.NoError(t, ev.Err())
}

func TestKeyFallsBackToSource(t *testing.T) {
	ev := NewData("mysql-1", 1, "", time.Now(), nil)
	assert.Equal(t, "mysql-1", ev.Key())
}

func TestIdentityIsByReference(t *testing.T) {
	ts := time.Now()
	a := NewData("s", 1, "k", ts, "same")
	b := NewData("s", 1, "k", ts, "same")

	assert.NotSame(t, a, b)
	assert.False(t, a == b)
}

func TestNotificationsCarryNoSeqno(t *testing.T) {
	for _, ev := range []*Event{
		NewBackupCompletion("s3://bucket/backup-1"),
		NewConsistencyCheckSuccess(),
		NewConsistencyCheckFailure("checksum mismatch"),
	} {
		assert.False(t, ev.HasSeqno(), ev.String())
		assert.True(t, ev.Kind().IsNotification(), ev.String())
	}
}

func TestConsistencyOutcomeIsTagged(t *testing.T) {
	ok := NewConsistencyCheckSuccess()
	assert.False(t, ok.Outcome().Failed())
	assert.Empty(t, ok.Outcome().Detail())

	bad := NewConsistencyCheckFailure("row count mismatch on shop.orders")
	assert.True(t, bad.Outcome().Failed())
	assert.Equal(t, "row count mismatch on shop.orders", bad.Outcome().Detail())

	// An empty failure detail is still a failure.
	empty := NewConsistencyCheckFailure("")
	assert.True(t, empty.Outcome().Failed())
}

func TestStringReportsConcreteKind(t *testing.T) {
	assert.Equal(t, "BackupCompletion{uri=file:///tmp/b1}", NewBackupCompletion("file:///tmp/b1").String())
	assert.Equal(t, "ConsistencyCheck{ok}", NewConsistencyCheckSuccess().String())
	assert.Equal(t, "ConsistencyCheck{failed: drift}", NewConsistencyCheckFailure("drift").String())
	assert.Contains(t, NewData("src", 5, "", time.Now(), nil).String(), "Data{source=src, seqno=5")
	assert.Contains(t, NewError("src", 6, errors.New("boom")).String(), "err=boom")
}

func TestWithPayloadDoesNotMutate(t *testing.T) {
	orig := NewData("src", 3, "k", time.Now(), "before")
	changed := orig.WithPayload("after")

	assert.Equal(t, "before", orig.Payload())
	assert.Equal(t, "after", changed.Payload())
	assert.Equal(t, orig.Seqno(), changed.Seqno())
	assert.NotSame(t, orig, changed)
}

func TestMarshalRecord(t *testing.T) {
	data, err := NewConsistencyCheckFailure("drift").Marshal()
	require.NoError(t, err)

	var r Record
	require.NoError(t, encoding.Unmarshal(data, &r))
	assert.Equal(t, uint8(KindConsistencyCheck), r.Kind)
	assert.True(t, r.Failed)
	assert.Equal(t, "drift", r.Detail)
	assert.Zero(t, r.Seqno)
}
