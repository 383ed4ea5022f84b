package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_BroadcastInOrder(t *testing.T) {
	bus := New(nil)

	var got []string
	bus.Add("rooms", func(e any) { got = append(got, "a:"+e.(string)) })
	bus.Add("rooms", func(e any) { got = append(got, "b:"+e.(string)) })
	bus.Add("other", func(e any) { got = append(got, "other") })

	n := bus.Broadcast("rooms", "x")

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a:x", "b:x"}, got)
}

func TestBus_NoReplay(t *testing.T) {
	bus := New(nil)

	assert.Equal(t, 0, bus.Broadcast("rooms", "early"))

	var got []any
	bus.Add("rooms", func(e any) { got = append(got, e) })
	assert.Empty(t, got)

	bus.Broadcast("rooms", "late")
	assert.Equal(t, []any{"late"}, got)
}

func TestBus_RemoveIsIdempotent(t *testing.T) {
	bus := New(nil)

	calls := 0
	remove := bus.Add("rooms", func(any) { calls++ })
	other := bus.Add("rooms", func(any) {})
	assert.Equal(t, 2, bus.ListenerCount("rooms"))

	remove()
	remove()
	assert.Equal(t, 1, bus.ListenerCount("rooms"))

	other()
	assert.Equal(t, 0, bus.ListenerCount("rooms"))

	bus.Broadcast("rooms", nil)
	assert.Equal(t, 0, calls)
}

func TestBus_ListenerIsolation(t *testing.T) {
	var panics []string
	bus := New(nil, WithPanicHandler(func(topic string, r any) {
		panics = append(panics, topic)
	}))

	bus.Add("rooms", func(any) { panic("listener failed") })
	received := false
	bus.Add("rooms", func(any) { received = true })

	var n int
	require.NotPanics(t, func() { n = bus.Broadcast("rooms", "evt") })

	assert.True(t, received)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"rooms"}, panics)
}

func TestBus_ListenerMayRemoveItself(t *testing.T) {
	bus := New(nil)

	calls := 0
	var remove func()
	remove = bus.Add("rooms", func(any) {
		calls++
		remove()
	})

	bus.Broadcast("rooms", 1)
	bus.Broadcast("rooms", 2)
	assert.Equal(t, 1, calls)
}

func TestBus_ConcurrentUse(t *testing.T) {
	bus := New(nil)

	var mu sync.Mutex
	count := 0
	bus.Add("rooms", func(any) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				remove := bus.Add("churn", func(any) {})
				bus.Broadcast("rooms", j)
				remove()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, count)
	assert.Equal(t, 0, bus.ListenerCount("churn"))
}
