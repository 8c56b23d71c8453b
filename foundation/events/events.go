// Package events allows for the registering and receiving of events.
package events

import (
	"fmt"
	"strings"
	"sync"
)

// Events maintains a mapping of unique id and channels so goroutines
// can register and receive events. Only messages carrying the prefix are
// delivered when one is set.
type Events struct {
	prefix string
	m      map[string]chan string
	mu     sync.RWMutex
}

// New constructs an events for registering and receiving events. An empty
// prefix delivers every message.
func New(prefix string) *Events {
	return &Events{
		prefix: prefix,
		m:      make(map[string]chan string),
	}
}

// Shutdown closes and removes all channels that were provided by
// the call to Acquire.
func (evt *Events) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, ch := range evt.m {
		delete(evt.m, id)
		close(ch)
	}
}

// Acquire takes a unique id and returns a channel that can be used
// to receive events.
func (evt *Events) Acquire(id string) chan string {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if exists {
		return ch
	}

	// A message is dropped when the websocket receiver isn't ready, this
	// buffer covers slow writes.
	const messageBuffer = 100

	evt.m[id] = make(chan string, messageBuffer)
	return evt.m[id]
}

// Release closes and removes the channel that was provided by
// the call to Acquire.
func (evt *Events) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.m, id)
	close(ch)
	return nil
}

// Subscribers returns the number of registered channels.
func (evt *Events) Subscribers() int {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	return len(evt.m)
}

// Send signals a message to every registered channel. Send will not block
// waiting for a receiver on any given channel.
func (evt *Events) Send(s string) {
	if !strings.HasPrefix(s, evt.prefix) {
		return
	}

	evt.mu.RLock()
	defer evt.mu.RUnlock()

	for _, ch := range evt.m {
		select {
		case ch <- s:
		default:
		}
	}
}
