package broadcast

import (
	"context"
	"sync"
)

// Memory рассылка внутри одного процесса (тесты, один экземпляр)
type Memory struct {
	subs   map[int]chan Message
	next   int
	mu     sync.Mutex
	closed bool
}

// NewMemory создает in-memory брокер
func NewMemory() *Memory {
	return &Memory{subs: make(map[int]chan Message)}
}

// Publish доставляет сообщение всем слушателям. Медленный слушатель блокирует отправителя.
func (m *Memory) Publish(ctx context.Context, msg Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	targets := make([]chan Message, 0, len(m.subs))
	for _, ch := range m.subs {
		targets = append(targets, ch)
	}
	m.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Listen регистрирует слушателя и обрабатывает сообщения до отмены ctx
func (m *Memory) Listen(ctx context.Context, handler func(Message)) error {
	ch := make(chan Message, 64)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	id := m.next
	m.next++
	m.subs[id] = ch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			handler(msg)
		}
	}
}

// Close запрещает новые публикации и подписки
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
