package event

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsboard/opsboard/internal/ledger"
	"github.com/opsboard/opsboard/internal/session"
	"github.com/opsboard/opsboard/internal/status"
)

func drain(s *Subscriber) []Event {
	var out []Event
	for {
		select {
		case e, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestBus_DeliversToAllSubscribers(t *testing.T) {
	b := NewBus(8)
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	defer s1.Close()
	defer s2.Close()

	b.Publish(Error("boom"))

	for _, s := range []*Subscriber{s1, s2} {
		got := drain(s)
		require.Len(t, got, 1)
		assert.Equal(t, KindError, got[0].Kind)
		assert.Equal(t, "boom", got[0].Message)
		assert.NotEmpty(t, got[0].ID)
		assert.False(t, got[0].Time.IsZero())
	}
}

func TestBus_NoReplay(t *testing.T) {
	b := NewBus(8)
	b.Publish(StatusChanged(status.Status{Running: true}))

	s := b.Subscribe()
	defer s.Close()
	assert.Empty(t, drain(s))

	b.Publish(Reload())
	got := drain(s)
	require.Len(t, got, 1)
	assert.Equal(t, KindReload, got[0].Kind)
}

func TestBus_SlowSubscriberDropsOldest(t *testing.T) {
	b := NewBus(16)
	slow := b.Subscribe()
	defer slow.Close()

	start := time.Now()
	for i := 0; i < 1000; i++ {
		b.Publish(Error(fmt.Sprintf("e%d", i)))
	}
	assert.Less(t, time.Since(start), time.Second)

	got := drain(slow)
	require.Len(t, got, 16)
	assert.Equal(t, "e984", got[0].Message)
	assert.Equal(t, "e999", got[15].Message)
	assert.Equal(t, uint64(984), slow.Dropped())
}

func TestBus_SlowSubscriberDoesNotStarveOthers(t *testing.T) {
	b := NewBus(4)
	slow := b.Subscribe()
	defer slow.Close()
	fast := b.Subscribe()
	defer fast.Close()

	var received []string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range fast.Events() {
			received = append(received, e.Message)
			if e.Message == "e99" {
				return
			}
		}
	}()

	for i := 0; i < 100; i++ {
		b.Publish(Error(fmt.Sprintf("e%d", i)))
		// let the fast reader keep up so its queue never overflows
		for len(fast.Events()) > 0 {
			time.Sleep(time.Microsecond)
		}
	}
	wg.Wait()

	assert.Len(t, received, 100)
	assert.Len(t, drain(slow), 4)
}

func TestBus_EventOrderPreservedPerSubscriber(t *testing.T) {
	b := NewBus(64)
	s := b.Subscribe()
	defer s.Close()

	for i := 0; i < 50; i++ {
		b.Publish(Error(fmt.Sprintf("e%d", i)))
	}
	got := drain(s)
	require.Len(t, got, 50)
	for i, e := range got {
		assert.Equal(t, fmt.Sprintf("e%d", i), e.Message)
	}
	// IDs are lexically increasing
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].ID, got[i].ID)
	}
}

func TestSubscriber_CloseDeregisters(t *testing.T) {
	b := NewBus(4)
	s := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	s.Close()
	s.Close()
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish(Reload())
	_, ok := <-s.Events()
	assert.False(t, ok, "closed subscriber channel should be closed")
}

func TestBus_CloseClosesSubscribers(t *testing.T) {
	b := NewBus(4)
	s := b.Subscribe()
	b.Close()
	b.Close()

	_, ok := <-s.Events()
	assert.False(t, ok)
	s.Close()

	late := b.Subscribe()
	_, ok = <-late.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish(Reload())
}

func TestBus_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBus(8)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b.Publish(Reload())
			}
		}()
	}
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s := b.Subscribe()
				drain(s)
				s.Close()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(2000), b.Published())
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestEvent_Constructors(t *testing.T) {
	r := ledger.Record{ID: "r1", ToolName: "echo"}
	e := ToolCalled(r)
	assert.Equal(t, KindToolCalled, e.Kind)
	assert.Equal(t, &r, e.Payload())

	s := &session.Session{ID: "s1", ClientMeta: map[string]string{"k": "v"}}
	e = SessionOpened(s)
	s.ClientMeta["k"] = "changed"
	assert.Equal(t, "v", e.Session.ClientMeta["k"])

	e = SessionClosed("s1")
	assert.Equal(t, map[string]string{"id": "s1"}, e.Payload())

	assert.Nil(t, Reload().Payload())
	assert.Equal(t, map[string]string{"message": "x"}, Error("x").Payload())
}
