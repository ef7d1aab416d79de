/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package store

import (
	"sync"

	"github.com/euroscaffolds/session-agent/models"
)

// State is the login slice: who is logged in, if anyone.
type State struct {
	Session *models.SessionRecord
}

// Token returns the session access token, or "" when logged out.
func (s State) Token() string {
	return s.Session.AccessToken()
}

func (s State) Present() bool {
	return s.Session.Present()
}

// Action is a state transition dispatched to the store.
type Action interface {
	reduce(State) State
	Name() string
}

// LoginSucceeded is dispatched after a successful OTP verification.
type LoginSucceeded struct {
	Record *models.SessionRecord
}

// SessionRestored hydrates the store from durable storage.
type SessionRestored struct {
	Record *models.SessionRecord
}

// LoggedOut clears the session.
type LoggedOut struct{}

func (a LoginSucceeded) Name() string  { return "login/succeeded" }
func (a SessionRestored) Name() string { return "login/restored" }
func (a LoggedOut) Name() string       { return "login/logout" }

func (a LoginSucceeded) reduce(State) State {
	return State{Session: canonical(a.Record)}
}

func (a SessionRestored) reduce(State) State {
	return State{Session: canonical(a.Record)}
}

func (a LoggedOut) reduce(State) State {
	return State{}
}

func canonical(record *models.SessionRecord) *models.SessionRecord {
	if !record.Present() {
		return nil
	}
	clone := record.Clone()
	clone.Normalize()
	return clone
}

// Store is the authoritative owner of the session.
// Subscribers are notified in dispatch order, one state at a time;
// a dispatch from inside a subscriber is queued and delivered after the current one.
type Store struct {
	mutex       sync.Mutex
	state       State
	nextID      int
	subscribers []subscriber
	queue       []State
	draining    bool
}

type subscriber struct {
	id int
	fn func(State)
}

func New() *Store {
	return &Store{}
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return State{Session: s.state.Session.Clone()}
}

// Dispatch applies action and notifies subscribers.
func (s *Store) Dispatch(action Action) State {
	s.mutex.Lock()
	return s.dispatchLocked(action)
}

// DispatchIfIdle runs decide under the store lock once every queued state has
// been delivered, and dispatches the action it returns. It does nothing while a
// write-through is in flight or when decide returns nil.
func (s *Store) DispatchIfIdle(decide func(State) Action) (State, bool) {
	s.mutex.Lock()
	if s.draining {
		s.mutex.Unlock()
		return State{}, false
	}

	action := decide(State{Session: s.state.Session.Clone()})
	if action == nil {
		s.mutex.Unlock()
		return State{}, false
	}
	return s.dispatchLocked(action), true
}

// dispatchLocked is called with s.mutex held and releases it.
func (s *Store) dispatchLocked(action Action) State {
	s.state = action.reduce(s.state)
	current := State{Session: s.state.Session.Clone()}
	s.queue = append(s.queue, current)

	if s.draining {
		s.mutex.Unlock()
		return current
	}

	s.draining = true
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		subscribers := make([]subscriber, len(s.subscribers))
		copy(subscribers, s.subscribers)
		s.mutex.Unlock()

		for _, sub := range subscribers {
			sub.fn(State{Session: next.Session.Clone()})
		}

		s.mutex.Lock()
	}
	s.draining = false
	s.mutex.Unlock()

	return current
}

// Subscribe registers fn for every state change and returns its unsubscribe func.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mutex.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})
	s.mutex.Unlock()

	return func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		for i, sub := range s.subscribers {
			if sub.id == id {
				s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
				return
			}
		}
	}
}

// OnSignedOut calls fn each time the state goes from a session to none.
func (s *Store) OnSignedOut(fn func()) func() {
	var mutex sync.Mutex
	signedIn := s.State().Present()

	return s.Subscribe(func(state State) {
		mutex.Lock()
		wasSignedIn := signedIn
		signedIn = state.Present()
		mutex.Unlock()

		if wasSignedIn && !state.Present() {
			fn()
		}
	})
}
