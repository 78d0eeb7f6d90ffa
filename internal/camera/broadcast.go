package camera

import (
	"sync"

	"github.com/HerbHall/homewatch/pkg/models"
)

// Broadcaster fans frames out to MJPEG viewers. Each viewer has a
// single-frame mailbox; a slow viewer skips frames instead of blocking the
// stream reader.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]chan models.Frame
	nextID uint64
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan models.Frame)}
}

// Subscribe returns a channel receiving the newest frames and a func that
// unsubscribes and closes it.
func (b *Broadcaster) Subscribe() (<-chan models.Frame, func()) {
	ch := make(chan models.Frame, 1)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish hands f to every subscriber, replacing an unread frame.
func (b *Broadcaster) Publish(f models.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- f:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- f:
		default:
		}
	}
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
