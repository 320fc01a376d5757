package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestPublishDeliversInOrder(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, err := b.Subscribe("ui", 10)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		b.Publish(Status(t0, fmt.Sprintf("s%d", i)))
	}

	for i := 0; i < 5; i++ {
		e := <-ch
		assert.Equal(t, fmt.Sprintf("s%d", i), e.Status)
	}
	assert.Equal(t, SubscriberStats{Sent: 5}, b.Stats().Subscribers["ui"])
}

func TestPublishDropsForFullSubscriber(t *testing.T) {
	b := NewBus()
	defer b.Close()

	slow, _ := b.Subscribe("slow", 2)
	fast, _ := b.Subscribe("fast", 10)

	for i := 0; i < 4; i++ {
		b.Publish(Status(t0, fmt.Sprintf("s%d", i)))
	}

	stats := b.Stats()
	assert.Equal(t, uint64(4), stats.Published)
	assert.Equal(t, SubscriberStats{Sent: 2, Dropped: 2}, stats.Subscribers["slow"])
	assert.Equal(t, SubscriberStats{Sent: 4}, stats.Subscribers["fast"])

	assert.Equal(t, "s0", (<-slow).Status)
	assert.Equal(t, "s1", (<-slow).Status)
	assert.Len(t, fast, 4)
}

func TestSubscribeErrors(t *testing.T) {
	b := NewBus()

	_, err := b.Subscribe("a", 1)
	require.NoError(t, err)
	_, err = b.Subscribe("a", 1)
	assert.ErrorIs(t, err, ErrSubscriberExists)
	assert.ErrorIs(t, b.Unsubscribe("missing"), ErrSubscriberNotFound)

	require.NoError(t, b.Close())
	_, err = b.Subscribe("b", 1)
	assert.ErrorIs(t, err, ErrBusClosed)
	assert.ErrorIs(t, b.Close(), ErrBusClosed)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, _ := b.Subscribe("ws-1", 1)
	require.NoError(t, b.Unsubscribe("ws-1"))

	_, ok := <-ch
	assert.False(t, ok)

	b.Publish(Status(t0, "after"))
	assert.NotContains(t, b.Stats().Subscribers, "ws-1")
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	b := NewBus()
	ch, _ := b.Subscribe("x", 1)
	require.NoError(t, b.Close())

	b.Publish(Status(t0, "late"))

	_, ok := <-ch
	assert.False(t, ok)
}

func TestPump(t *testing.T) {
	b := NewBus()
	defer b.Close()
	out, _ := b.Subscribe("sink", 10)

	src := make(chan Event, 3)
	src <- Status(t0, "running")
	src <- MatchEvent(t0, Match{Score: 0.9, Succeeded: 1, Total: 1, New: true, TotalMatches: 1})
	src <- Status(t0, "stopped")
	close(src)

	var seen []Kind
	b.Pump(context.Background(), src, func(e Event) { seen = append(seen, e.Kind) })

	assert.Equal(t, []Kind{KindStatus, KindMatch, KindStatus}, seen)
	require.Len(t, out, 3)
	<-out
	m := <-out
	require.NotNil(t, m.Match)
	assert.Equal(t, 0.9, m.Match.Score)
}

func TestPumpStopsOnContext(t *testing.T) {
	b := NewBus()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		b.Pump(ctx, make(chan Event), nil)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pump did not return after cancel")
	}
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Publish(Status(t0, "x"))
		}()
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("sub-%d", i)
			if _, err := b.Subscribe(id, 1); err == nil {
				_ = b.Unsubscribe(id)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(10), b.Stats().Published)
}

func TestEventIDsUnique(t *testing.T) {
	a, c := Status(t0, "a"), Status(t0, "a")
	assert.NotEqual(t, a.ID, c.ID)
	assert.Equal(t, KindStatus, a.Kind)
}
