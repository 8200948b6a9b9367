package bus

import (
	"context"
	"slices"
)

// subscription is one registered handler. The id lets a cancelled
// subscription remove itself without comparing funcs.
type subscription struct {
	id      uint64
	handler Handler
}

// subscriptions indexes handlers by topic. It is not safe for concurrent
// use; every bus guards it with its own mutex.
type subscriptions struct {
	topics map[string][]subscription
	nextID uint64
}

func newSubscriptions() subscriptions {
	return subscriptions{topics: make(map[string][]subscription)}
}

// add registers h on topic. first is true when topic had no handlers.
func (s *subscriptions) add(topic string, h Handler) (id uint64, first bool) {
	s.nextID++
	first = len(s.topics[topic]) == 0
	s.topics[topic] = append(s.topics[topic], subscription{id: s.nextID, handler: h})
	return s.nextID, first
}

// remove drops subscription id from topic. last is true when it was the
// topic's final handler.
func (s *subscriptions) remove(topic string, id uint64) (last bool) {
	subs, ok := s.topics[topic]
	if !ok {
		return false
	}
	subs = slices.DeleteFunc(subs, func(sub subscription) bool { return sub.id == id })
	if len(subs) == 0 {
		delete(s.topics, topic)
		return true
	}
	s.topics[topic] = subs
	return false
}

// handlers returns a copy of topic's handlers, safe to call after the
// lock is released.
func (s *subscriptions) handlers(topic string) []Handler {
	subs := s.topics[topic]
	out := make([]Handler, len(subs))
	for i, sub := range subs {
		out[i] = sub.handler
	}
	return out
}

func (s *subscriptions) reset() {
	s.topics = make(map[string][]subscription)
}

// unsubscribeOnDone calls unsubscribe once ctx is done. It gives up when
// done closes first. Contexts that never end start no goroutine.
func unsubscribeOnDone(ctx context.Context, done <-chan struct{}, unsubscribe func()) {
	if ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-done:
		}
	}()
}
