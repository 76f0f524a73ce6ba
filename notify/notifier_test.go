package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/maxpert/burrow/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan *event.Event) *event.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for notification")
		return nil
	}
}

func assertNothing(t *testing.T, ch <-chan *event.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Errorf("unexpected notification %s", ev)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestHub_SubscribeAll(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(event.NewBackupCompletion("s3://bucket/backup-1"))
	hub.Publish(event.NewConsistencyCheckFailure("row count mismatch"))

	ev := receive(t, ch)
	assert.Equal(t, event.KindBackupCompletion, ev.Kind())
	assert.Equal(t, "s3://bucket/backup-1", ev.URI())

	ev = receive(t, ch)
	assert.Equal(t, event.KindConsistencyCheck, ev.Kind())
	assert.True(t, ev.Outcome().Failed())
}

func TestHub_FilterByKind(t *testing.T) {
	hub := NewHub()
	backups, cancelBackups := hub.Subscribe(event.KindBackupCompletion)
	defer cancelBackups()
	checks, cancelChecks := hub.Subscribe(event.KindConsistencyCheck)
	defer cancelChecks()

	hub.Publish(event.NewConsistencyCheckSuccess())

	assert.Equal(t, event.KindConsistencyCheck, receive(t, checks).Kind())
	assertNothing(t, backups)
}

func TestHub_IgnoresDataEvents(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(event.NewData("src", 1, "", time.Unix(0, 0), nil))
	hub.Publish(nil)
	assertNothing(t, ch)
}

func TestHub_DropsWhenFull(t *testing.T) {
	hub := NewHubWithBuffer(2)
	ch, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		hub.Publish(event.NewConsistencyCheckSuccess())
	}
	assert.Equal(t, int64(3), hub.Dropped())
	assert.Len(t, ch, 2)
}

func TestHub_CancelIsIdempotent(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	assert.Equal(t, 1, hub.SubscriberCount())

	cancel()
	cancel()
	assert.Equal(t, 0, hub.SubscriberCount())

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after cancel must not panic.
	hub.Publish(event.NewConsistencyCheckSuccess())
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe()
	b, _ := hub.Subscribe(event.KindBackupCompletion)

	hub.Close()
	_, ok := <-a
	assert.False(t, ok)
	_, ok = <-b
	assert.False(t, ok)

	cancelA()
	assert.Equal(t, 0, hub.SubscriberCount())
}

func TestHub_ConcurrentPublishAndSubscribe(t *testing.T) {
	hub := NewHubWithBuffer(1024)
	var wg sync.WaitGroup

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				hub.Publish(event.NewConsistencyCheckSuccess())
			}
		}()
	}
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, cancel := hub.Subscribe()
				cancel()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.SubscriberCount())
}
