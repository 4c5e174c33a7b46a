package weave

import (
	"fmt"
	"sync"
)

// Clock представляет логические часы Лампорта локального узла.
// Каждый новый локальный атом получает timestamp строго больше любого
// timestamp, который weave когда-либо видел.
type Clock struct {
	counter Timestamp
	mu      sync.Mutex
}

// NewClock создает часы с нулевым счетчиком.
func NewClock() *Clock {
	return &Clock{}
}

// Tick увеличивает счетчик и возвращает новое значение timestamp.
// Используется при создании нового локального атома.
// После MaxTimestamp счетчик не переходит через ноль: возвращается ErrClockOverflow.
func (c *Clock) Tick() (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counter >= MaxTimestamp {
		return 0, fmt.Errorf("%w: counter at %d", ErrClockOverflow, c.counter)
	}
	c.counter++
	return c.counter, nil
}

// Observe учитывает удаленный timestamp: counter = max(counter, remote).
// Следующий Tick вернет значение больше remote.
func (c *Clock) Observe(remote Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remote > c.counter {
		c.counter = remote
	}
}

// Now возвращает текущее значение счетчика без его изменения.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.counter
}
