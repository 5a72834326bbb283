// Package broadcast is the publish/subscribe helper used for commit notifications.
//
// AddListener returns a new receive-only channel; RemoveListener unsubscribes that
// channel and closes it; Broadcast sends a value to every subscribed channel; Close
// unsubscribes and closes all of them.
//
// TryBroadcast never blocks. Paired with a buffer of one it turns a listener channel
// into a coalescing "something changed" signal.
package broadcast

import (
	"slices"
	"sync"
)

// subscriberChannelBufferLength makes it less likely that Broadcast blocks. It is still
// the consumer's responsibility to keep reading the channel.
const subscriberChannelBufferLength = 10

// Broadcaster fans values out to any number of listeners.
type Broadcaster[V any] struct {
	subscribers  []*subscriber[V]
	lock         sync.Mutex
	bufferLength int
}

// subscriber keeps both ends of the channel, because a <-chan V returned to the
// caller never compares equal to the chan<- V we send on.
type subscriber[V any] struct {
	sendCh    chan<- V
	receiveCh <-chan V

	// done is closed first on removal, releasing a Broadcast blocked on a full
	// channel, so that the listener may unsubscribe from its own goroutine.
	done     chan struct{}
	sendLock sync.Mutex
	closed   bool
}

func NewBroadcaster[V any]() *Broadcaster[V] {
	return &Broadcaster[V]{bufferLength: subscriberChannelBufferLength}
}

// NewBroadcasterWithBuffer is NewBroadcaster with a custom listener buffer size.
func NewBroadcasterWithBuffer[V any](n int) *Broadcaster[V] {
	return &Broadcaster[V]{bufferLength: n}
}

// AddListener adds a subscriber and returns a channel for it to receive values.
func (b *Broadcaster[V]) AddListener() <-chan V {
	ch := make(chan V, b.bufferLength)
	s := &subscriber[V]{sendCh: ch, receiveCh: ch, done: make(chan struct{})}

	b.lock.Lock()
	defer b.lock.Unlock()
	b.subscribers = append(b.subscribers, s)
	return s.receiveCh
}

// RemoveListener removes a subscriber. The parameter is the channel returned by AddListener.
// Removing an unknown channel is a no-op.
func (b *Broadcaster[V]) RemoveListener(ch <-chan V) {
	b.lock.Lock()
	i := slices.IndexFunc(b.subscribers, func(s *subscriber[V]) bool { return s.receiveCh == ch })
	if i < 0 {
		b.lock.Unlock()
		return
	}
	s := b.subscribers[i]
	b.subscribers = slices.Delete(b.subscribers, i, i+1)
	b.lock.Unlock()

	s.close()
}

// HasListeners returns true if there are any current subscribers.
func (b *Broadcaster[V]) HasListeners() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.subscribers) > 0
}

// Broadcast sends value to all current subscribers, in subscription order.
func (b *Broadcaster[V]) Broadcast(value V) {
	b.lock.Lock()
	ss := slices.Clone(b.subscribers)
	b.lock.Unlock()

	for _, s := range ss {
		s.send(value)
	}
}

// TryBroadcast is Broadcast that skips listeners whose channel is full.
func (b *Broadcaster[V]) TryBroadcast(value V) {
	b.lock.Lock()
	ss := slices.Clone(b.subscribers)
	b.lock.Unlock()

	for _, s := range ss {
		s.trySend(value)
	}
}

// Close closes all current subscriber channels.
func (b *Broadcaster[V]) Close() {
	b.lock.Lock()
	ss := b.subscribers
	b.subscribers = nil
	b.lock.Unlock()

	for _, s := range ss {
		s.close()
	}
}

func (s *subscriber[V]) send(value V) {
	s.sendLock.Lock()
	defer s.sendLock.Unlock()
	if s.closed {
		return
	}
	select {
	case s.sendCh <- value:
	case <-s.done:
	}
}

func (s *subscriber[V]) trySend(value V) {
	s.sendLock.Lock()
	defer s.sendLock.Unlock()
	if s.closed {
		return
	}
	select {
	case s.sendCh <- value:
	default:
	}
}

func (s *subscriber[V]) close() {
	close(s.done)

	s.sendLock.Lock()
	defer s.sendLock.Unlock()
	s.closed = true
	close(s.sendCh)
}
