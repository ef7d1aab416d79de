/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package synchronizer

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/euroscaffolds/session-agent/logs"
	"github.com/euroscaffolds/session-agent/models"
	"github.com/euroscaffolds/session-agent/notify"
	"github.com/euroscaffolds/session-agent/storage"
	"github.com/euroscaffolds/session-agent/store"
)

type Decision int

const (
	Ignore Decision = iota
	Adopt
)

// Reconcile decides whether a candidate token replaces the held one.
func Reconcile(candidateToken string, heldToken string) Decision {
	if candidateToken == heldToken {
		return Ignore
	}
	return Adopt
}

// Source names the trigger that caused a reconciliation pass.
type Source string

const (
	SourceState   Source = "state"
	SourceForeign Source = "foreign"
	SourceLocal   Source = "local"
	SourcePoll    Source = "poll"
	SourceStartup Source = "startup"
)

// Subscriber is satisfied by the cross-instance channel.
type Subscriber interface {
	Subscribe(handler func(notify.Event))
}

// Synchronizer collapses store, storage notifications and polling into one view.
// The store stays authoritative: storage-side triggers only hydrate it.
type Synchronizer struct {
	store   *store.Store
	durable storage.Storage
	key     string
	now     func() time.Time

	// emit serializes adopt+notify so watchers see views in adoption order
	emit sync.Mutex

	mutex    sync.Mutex
	held     string
	view     models.SessionView
	nextID   int
	watchers map[int]func(models.SessionView)

	unsubscribe []func()
	cron        *cron.Cron
}

func New(st *store.Store, durable storage.Storage, key string) *Synchronizer {
	return &Synchronizer{
		store:    st,
		durable:  durable,
		key:      key,
		now:      time.Now,
		view:     models.SessionView{Loading: true},
		watchers: make(map[int]func(models.SessionView)),
	}
}

// Start hydrates the store from durable storage, subscribes to the store
// and settles the view.
func (s *Synchronizer) Start() {
	s.unsubscribe = append(s.unsubscribe, s.store.Subscribe(func(state store.State) {
		s.adopt(state.Session, SourceState)
	}))

	s.hydrate(SourceStartup)
	s.adopt(s.store.State().Session, SourceStartup)

	s.emit.Lock()
	s.mutex.Lock()
	s.view.Settled = true
	view := s.copyView()
	watchers := s.copyWatchers()
	s.mutex.Unlock()
	for _, fn := range watchers {
		fn(view)
	}
	s.emit.Unlock()

	logs.Log(fmt.Sprintf("[INFO][SYNC] Session view settled (authenticated=%t)", view.Authenticated()))
}

// Listen wires same-instance and cross-instance notifications.
func (s *Synchronizer) Listen(bus *notify.Bus, foreign Subscriber) {
	if bus != nil {
		s.unsubscribe = append(s.unsubscribe, bus.Subscribe(func(notify.Event) {
			s.Hint(SourceLocal)
		}))
	}
	if foreign != nil {
		foreign.Subscribe(func(notify.Event) {
			s.Hint(SourceForeign)
		})
	}
}

// StartPolling re-reads durable storage every interval and logs out expired sessions.
func (s *Synchronizer) StartPolling(interval time.Duration) error {
	c := cron.New()

	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() { s.Hint(SourcePoll) }); err != nil {
		return err
	}
	if _, err := c.AddFunc("@every 1m", s.SweepExpired); err != nil {
		return err
	}

	c.Start()
	s.cron = c
	logs.Log(fmt.Sprintf("[INFO][SYNC] Storage polling every %s", interval))
	return nil
}

// Stop detaches from every source.
func (s *Synchronizer) Stop() {
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.unsubscribe = nil

	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
}

// Hint re-checks durable storage after a notification or poll tick.
func (s *Synchronizer) Hint(source Source) {
	s.hydrate(source)
	s.adopt(s.store.State().Session, source)
}

// SweepExpired logs out a session whose expiry has passed.
func (s *Synchronizer) SweepExpired() {
	state := s.store.State()
	if state.Present() && store.Expired(state.Session, s.now()) {
		logs.Log("[INFO][SYNC] Session expired, logging out")
		s.store.Dispatch(store.LoggedOut{})
	}
}

// View returns the current reconciled view.
func (s *Synchronizer) View() models.SessionView {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.copyView()
}

// Watch registers fn for every adopted view and returns its unsubscribe func.
func (s *Synchronizer) Watch(fn func(models.SessionView)) func() {
	s.mutex.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mutex.Unlock()

	return func() {
		s.mutex.Lock()
		delete(s.watchers, id)
		s.mutex.Unlock()
	}
}

// hydrate pushes a durable-storage change into the store. It is skipped while
// the store is writing through, since storage and store disagree until the
// write lands and the next trigger sees the settled pair.
func (s *Synchronizer) hydrate(source Source) {
	s.store.DispatchIfIdle(func(current store.State) store.Action {
		stored := storage.ReadSession(s.durable, s.key)
		if stored.AccessToken() == current.Token() {
			return nil
		}

		if stored.Present() {
			logs.Log(fmt.Sprintf("[INFO][SYNC] Restoring session from storage (%s)", source))
			return store.SessionRestored{Record: stored}
		}

		logs.Log(fmt.Sprintf("[INFO][SYNC] Session removed from storage (%s)", source))
		return store.LoggedOut{}
	})
}

func (s *Synchronizer) adopt(candidate *models.SessionRecord, source Source) {
	s.emit.Lock()
	defer s.emit.Unlock()

	s.mutex.Lock()
	token := candidate.AccessToken()
	if Reconcile(token, s.held) == Ignore {
		s.mutex.Unlock()
		return
	}

	s.held = token
	if token != "" {
		s.view.Profile = candidate.Clone()
		s.view.Loading = false
		s.view.Token = token
	} else {
		s.view.Profile = nil
		s.view.Loading = true
		s.view.Token = ""
	}
	view := s.copyView()
	watchers := s.copyWatchers()
	s.mutex.Unlock()

	logs.Log(fmt.Sprintf("[DEBUG][SYNC] Adopted session change from %s (authenticated=%t)", source, token != ""))

	for _, fn := range watchers {
		fn(view)
	}
}

func (s *Synchronizer) copyView() models.SessionView {
	view := s.view
	view.Profile = s.view.Profile.Clone()
	return view
}

func (s *Synchronizer) copyWatchers() []func(models.SessionView) {
	watchers := make([]func(models.SessionView), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	return watchers
}
