package fanout

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestBroadcastReachesEverySubscriber(t *testing.T) {
	registry := NewRegistry()
	first := registry.Subscribe()
	second := registry.Subscribe()

	registry.Broadcast([]byte("hello"))

	for _, sub := range []*Subscriber{first, second} {
		select {
		case payload := <-sub.C():
			if string(payload) != "hello" {
				t.Fatalf("payload = %q, want hello", payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber did not receive broadcast")
		}
	}
}

func TestSubscriberJoinsWithoutHistory(t *testing.T) {
	registry := NewRegistry()
	registry.Broadcast([]byte("before"))

	sub := registry.Subscribe()
	select {
	case payload := <-sub.C():
		t.Fatalf("late subscriber must not replay history, got %q", payload)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	registry := NewRegistry()
	sub := registry.Subscribe()
	registry.Unsubscribe(sub)

	if _, open := <-sub.C(); open {
		t.Fatalf("channel must close on unsubscribe")
	}
	if registry.Len() != 0 {
		t.Fatalf("registry still holds %d members", registry.Len())
	}

	// Double unsubscribe and nil unsubscribe are no-ops.
	registry.Unsubscribe(sub)
	registry.Unsubscribe(nil)
}

func TestBroadcastDropsStalledSubscriber(t *testing.T) {
	registry := NewRegistryWithBuffer(1)
	stalled := registry.Subscribe()
	healthy := registry.Subscribe()

	registry.Broadcast([]byte("one"))
	<-healthy.C()
	// The stalled subscriber never drains; its buffer is now full.
	registry.Broadcast([]byte("two"))

	if registry.Len() != 1 {
		t.Fatalf("registry holds %d members, want the stalled one removed", registry.Len())
	}

	select {
	case payload := <-healthy.C():
		if string(payload) != "two" {
			t.Fatalf("healthy subscriber got %q, want two", payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("healthy subscriber missed the second broadcast")
	}

	// Removal closes the stalled channel after its buffered payload drains.
	if payload, open := <-stalled.C(); !open || string(payload) != "one" {
		t.Fatalf("stalled subscriber buffered payload = %q open=%v", payload, open)
	}
	if _, open := <-stalled.C(); open {
		t.Fatalf("stalled subscriber channel must be closed")
	}
}

func TestRegistryConcurrentUse(t *testing.T) {
	registry := NewRegistry()
	var wg sync.WaitGroup

	subs := make([]*Subscriber, 0, 8)
	for i := 0; i < 8; i++ {
		sub := registry.Subscribe()
		subs = append(subs, sub)
		wg.Add(1)
		go func(sub *Subscriber) {
			defer wg.Done()
			for range sub.C() {
			}
		}(sub)
	}

	var producers sync.WaitGroup
	for i := 0; i < 4; i++ {
		producers.Add(1)
		go func(n int) {
			defer producers.Done()
			for j := 0; j < 50; j++ {
				registry.Broadcast([]byte(fmt.Sprintf("p%d-%d", n, j)))
			}
		}(i)
	}
	producers.Wait()

	// Unsubscribing closes every channel and ends every consumer loop.
	for _, sub := range subs {
		registry.Unsubscribe(sub)
	}
	wg.Wait()
}
