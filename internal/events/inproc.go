package events

import (
	"context"
	"errors"
	"sync"
)

// ErrBusClosed indicates a publish or subscribe after Close.
var ErrBusClosed = errors.New("events: bus closed")

// InprocBus is the in-process Bus used by single-binary deployments.
type InprocBus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	closed bool
}

type subscription struct {
	pattern string
	ch      chan Message
}

var _ Bus = (*InprocBus)(nil)

// NewInprocBus returns an empty in-process bus.
func NewInprocBus() *InprocBus {
	return &InprocBus{subs: make(map[int]*subscription)}
}

func (b *InprocBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	msg := Message{Subject: subject, Data: data}
	for _, sub := range b.subs {
		if !matchSubject(sub.pattern, subject) {
			continue
		}
		deliver(sub.ch, msg)
	}
	return nil
}

// deliver enqueues without blocking, dropping the oldest buffered message
// when the subscriber is full.
func deliver(ch chan Message, msg Message) {
	select {
	case ch <- msg:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- msg:
	default:
	}
}

func (b *InprocBus) Subscribe(subject string) (<-chan Message, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrBusClosed
	}

	id := b.nextID
	b.nextID++
	sub := &subscription{pattern: subject, ch: make(chan Message, subscriberBuffer)}
	b.subs[id] = sub

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
	}
	return sub.ch, unsub, nil
}

func (b *InprocBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	return nil
}
