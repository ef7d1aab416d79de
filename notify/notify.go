/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package notify

import (
	"sync"
	"time"
)

// Event announces that the durable session entry changed.
// It never carries the session itself: receivers re-read storage.
type Event struct {
	Origin    string    `json:"origin"`
	Key       string    `json:"key"`
	Present   bool      `json:"present"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus delivers events to subscribers of the same process, synchronously.
type Bus struct {
	mutex       sync.RWMutex
	nextID      int
	subscribers map[int]func(Event)
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]func(Event))}
}

// Subscribe registers fn and returns its unsubscribe func.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mutex.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn
	b.mutex.Unlock()

	return func() {
		b.mutex.Lock()
		delete(b.subscribers, id)
		b.mutex.Unlock()
	}
}

func (b *Bus) Publish(event Event) {
	b.mutex.RLock()
	subscribers := make([]func(Event), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subscribers = append(subscribers, fn)
	}
	b.mutex.RUnlock()

	for _, fn := range subscribers {
		fn(event)
	}
}
