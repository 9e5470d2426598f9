package reactive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type event struct {
	batch string
	state string
}

func TestReactiveCycle(t *testing.T) {
	obs := New[event](2)
	sub := obs.Subscribe()
	defer sub.Cancel()
	obs.Publish(event{"batch-1", "creating"})
	obs.Publish(event{"batch-1", "confirming"})
	assert.Equal(t, event{"batch-1", "creating"}, <-sub.Channel())
	assert.Equal(t, event{"batch-1", "confirming"}, <-sub.Channel())
}

func TestReactiveMultipleSubscribers(t *testing.T) {
	obs := New[int](2)
	sub1 := obs.Subscribe()
	defer sub1.Cancel()
	sub2 := obs.Subscribe()
	defer sub2.Cancel()
	obs.Publish(1)
	obs.Publish(2)
	for _, s := range []*Subscriber[int]{sub1, sub2} {
		assert.Equal(t, 1, <-s.Channel())
		assert.Equal(t, 2, <-s.Channel())
	}
}

func TestReactiveSlowSubscriberDoesNotBlock(t *testing.T) {
	obs := New[int](1)
	slow := obs.Subscribe()
	defer slow.Cancel()
	for i := 0; i < 10; i++ {
		obs.Publish(i)
	}
	assert.Equal(t, 0, <-slow.Channel())
	assert.Equal(t, uint64(9), obs.Dropped())
}

func TestReactiveCancel(t *testing.T) {
	obs := New[int](2)
	sub1 := obs.Subscribe()
	sub2 := obs.Subscribe()
	sub1.Cancel()
	sub1.Cancel()
	assert.Equal(t, 1, obs.Len())
	obs.Publish(1)
	assert.Equal(t, 1, <-sub2.Channel())

	_, ok := <-sub1.Channel()
	assert.False(t, ok)
	sub2.Cancel()
}

func TestReactiveClose(t *testing.T) {
	obs := New[int](2)
	sub := obs.Subscribe()
	obs.Close()
	obs.Publish(1)
	_, ok := <-sub.Channel()
	assert.False(t, ok)
	sub.Cancel()

	late := obs.Subscribe()
	_, ok = <-late.Channel()
	assert.False(t, ok)
	assert.Equal(t, 0, obs.Len())
}

func TestReactiveLoop(t *testing.T) {
	obs := New[int](100)
	subs := []*Subscriber[int]{obs.Subscribe(), obs.Subscribe(), obs.Subscribe()}
	go func() {
		for i := 0; i < 100; i++ {
			obs.Publish(i)
		}
	}()
	for i := 0; i < 100; i++ {
		for _, s := range subs {
			assert.Equal(t, i, <-s.Channel())
		}
	}
	for _, s := range subs {
		s.Cancel()
	}
}

func FuzzTestDataIntegrity(f *testing.F) {
	obs := New[string](100)
	subs := []*Subscriber[string]{obs.Subscribe(), obs.Subscribe(), obs.Subscribe()}
	defer obs.Close()

	for _, v := range []string{"INV-1", "INV-2", "batch-1", "creating", "confirming", "12a", "p45"} {
		f.Add(v)
	}

	f.Fuzz(func(t *testing.T, a string) {
		obs.Publish(a)
		for _, s := range subs {
			assert.Equal(t, a, <-s.Channel())
		}
	})
}
