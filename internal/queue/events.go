package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// In-process pub/sub for job lifecycle and progress events. Slow
// subscribers are skipped rather than blocking publishers.

const subscriberBuffer = 64

type broker struct {
	mu       sync.RWMutex
	channels map[string][]chan []byte
	closed   bool
}

func newBroker() *broker {
	return &broker{
		channels: make(map[string][]chan []byte),
	}
}

// Publish sends a JSON-encoded payload to all subscribers of a channel
func (m *Manager) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event for channel %s: %w", channel, err)
	}

	m.subscribers.mu.RLock()
	defer m.subscribers.mu.RUnlock()

	if m.subscribers.closed {
		return nil
	}

	for _, ch := range m.subscribers.channels[channel] {
		select {
		case ch <- data:
		default:
			// Subscriber is not keeping up; drop rather than block
		}
	}
	return nil
}

// Subscribe registers interest in a channel. The returned cancel function
// must be called to release the subscription.
func (m *Manager) Subscribe(channel string) (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	m.subscribers.mu.Lock()
	m.subscribers.channels[channel] = append(m.subscribers.channels[channel], ch)
	m.subscribers.mu.Unlock()

	cancel := func() {
		m.subscribers.mu.Lock()
		defer m.subscribers.mu.Unlock()

		subs := m.subscribers.channels[channel]
		for i, sub := range subs {
			if sub == ch {
				m.subscribers.channels[channel] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, cancel
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.channels {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.channels = make(map[string][]chan []byte)
}
