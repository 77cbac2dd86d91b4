// Package fanout pushes serialized event notifications to live subscribers.
//
// The Registry is process-local: broadcasts reach only subscribers connected
// to the same process. Multi-process deployments need a broker-backed
// NotificationBus implementation; the interface is the extension point.
package fanout

import "sync"

// NotificationBus is the push side of the pipeline. Subscribers see only
// payloads broadcast after they join; there is no history replay.
type NotificationBus interface {
	Subscribe() *Subscriber
	Unsubscribe(sub *Subscriber)
	Broadcast(payload []byte)
}

// Subscriber is a live push channel. Its channel is closed when the
// subscriber leaves the registry, whether explicitly or because a broadcast
// write failed.
type Subscriber struct {
	ch chan []byte
}

func (s *Subscriber) C() <-chan []byte {
	return s.ch
}

const defaultSubscriberBuffer = 16

type Registry struct {
	mu      sync.Mutex
	buffer  int
	members map[*Subscriber]struct{}
}

func NewRegistry() *Registry {
	return NewRegistryWithBuffer(defaultSubscriberBuffer)
}

func NewRegistryWithBuffer(buffer int) *Registry {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Registry{
		buffer:  buffer,
		members: map[*Subscriber]struct{}{},
	}
}

func (r *Registry) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan []byte, r.buffer)}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[sub] = struct{}{}
	return sub
}

func (r *Registry) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sub)
}

// Broadcast writes the payload to every member. A member whose channel cannot
// accept the write (a consumer that stopped draining) is removed mid-iteration;
// delivery is best-effort.
func (r *Registry) Broadcast(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sub := range r.members {
		select {
		case sub.ch <- payload:
		default:
			r.removeLocked(sub)
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Registry) removeLocked(sub *Subscriber) {
	if _, ok := r.members[sub]; !ok {
		return
	}
	delete(r.members, sub)
	close(sub.ch)
}
