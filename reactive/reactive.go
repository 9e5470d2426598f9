package reactive

import "sync"

// Subscriber receives values published to the Observable it subscribed to.
type Subscriber[T any] struct {
	c         chan T
	container *Observable[T]
	once      sync.Once
}

// Cancel removes subscriber from container and closes its channel.
// Not calling this method results in memory leak. Calling it more than once is safe.
func (s *Subscriber[T]) Cancel() {
	s.once.Do(func() {
		if s.container.delete(s) {
			close(s.c)
		}
	})
}

// Channel returns channel that can be used to read from observable.
func (s *Subscriber[T]) Channel() <-chan T {
	return s.c
}

// Observable creates a container for subscribers.
// This works in single producer multiple consumer pattern.
// A subscriber with a full buffer misses the published value, Publish never blocks.
type Observable[T any] struct {
	mux         sync.RWMutex
	subscribers map[*Subscriber[T]]struct{}
	size        int
	dropped     uint64
	closed      bool
}

// New creates Observable container that holds channels for all subscribers.
// size is the buffer size of each channel.
func New[T any](size int) *Observable[T] {
	return &Observable[T]{
		subscribers: make(map[*Subscriber[T]]struct{}),
		size:        size,
	}
}

// Subscribe subscribes to the container. Subscribing to closed container returns closed subscriber.
func (o *Observable[T]) Subscribe() *Subscriber[T] {
	sub := &Subscriber[T]{
		c:         make(chan T, o.size),
		container: o,
	}
	o.mux.Lock()
	defer o.mux.Unlock()
	if o.closed {
		close(sub.c)
		return sub
	}
	o.subscribers[sub] = struct{}{}
	return sub
}

// Publish publishes value to all subscribers.
func (o *Observable[T]) Publish(v T) {
	o.mux.Lock()
	defer o.mux.Unlock()
	for s := range o.subscribers {
		select {
		case s.c <- v:
		default:
			o.dropped++
		}
	}
}

// Dropped returns number of values missed by slow subscribers.
func (o *Observable[T]) Dropped() uint64 {
	o.mux.RLock()
	defer o.mux.RUnlock()
	return o.dropped
}

// Len returns number of subscribers.
func (o *Observable[T]) Len() int {
	o.mux.RLock()
	defer o.mux.RUnlock()
	return len(o.subscribers)
}

// Close closes channels of all subscribers. Publishing to closed container is a no-op.
func (o *Observable[T]) Close() {
	o.mux.Lock()
	defer o.mux.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	for s := range o.subscribers {
		close(s.c)
		delete(o.subscribers, s)
	}
}

func (o *Observable[T]) delete(s *Subscriber[T]) bool {
	o.mux.Lock()
	defer o.mux.Unlock()
	if _, ok := o.subscribers[s]; !ok {
		return false
	}
	delete(o.subscribers, s)
	return true
}
