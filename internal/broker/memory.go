package broker

import (
	"context"
	"sync"
)

const memoryBuffer = 256

// Memory is an in-process broker for single-instance deployments and tests.
// Publish never blocks; a subscriber whose buffer is full misses the payload.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[chan []byte]struct{})}
}

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, memoryBuffer)

	m.mu.Lock()
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[chan []byte]struct{})
	}
	m.subs[channel][ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs[channel], ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}
