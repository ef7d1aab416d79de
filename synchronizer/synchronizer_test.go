/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package synchronizer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euroscaffolds/session-agent/logs"
	"github.com/euroscaffolds/session-agent/models"
	"github.com/euroscaffolds/session-agent/notify"
	"github.com/euroscaffolds/session-agent/storage"
	"github.com/euroscaffolds/session-agent/store"
)

const testKey = "euroscaffolds.session"

func init() {
	logs.Init("sync-tests")
}

type fakeForeign struct {
	handlers []func(notify.Event)
}

func (f *fakeForeign) Subscribe(handler func(notify.Event)) {
	f.handlers = append(f.handlers, handler)
}

func (f *fakeForeign) fire() {
	for _, handler := range f.handlers {
		handler(notify.Event{Origin: "tab-2", Key: testKey})
	}
}

type fixture struct {
	store   *store.Store
	durable *storage.FileStorage
	bus     *notify.Bus
	foreign *fakeForeign
	sync    *Synchronizer

	mutex sync.Mutex
	views []models.SessionView
}

func newFixture(t *testing.T, dir string) *fixture {
	t.Helper()

	durable, err := storage.NewFileStorage(dir)
	require.NoError(t, err)

	f := &fixture{
		store:   store.New(),
		durable: durable,
		bus:     notify.NewBus(),
		foreign: &fakeForeign{},
	}

	persister := &store.Persister{
		Durable:    durable,
		Tab:        storage.NewMemoryStorage(),
		Key:        testKey,
		InstanceID: "tab-1",
		Bus:        f.bus,
	}
	persister.Attach(f.store)

	f.sync = New(f.store, durable, testKey)
	f.sync.Watch(func(v models.SessionView) {
		f.mutex.Lock()
		f.views = append(f.views, v)
		f.mutex.Unlock()
	})
	f.sync.Listen(f.bus, f.foreign)
	t.Cleanup(f.sync.Stop)
	return f
}

func (f *fixture) emitted() []models.SessionView {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]models.SessionView(nil), f.views...)
}

func writeForeignSession(t *testing.T, dir string, token string) {
	t.Helper()
	other, err := storage.NewFileStorage(dir)
	require.NoError(t, err)
	data, err := storage.EncodeSession(&models.SessionRecord{Token: token, UserID: "9"})
	require.NoError(t, err)
	require.NoError(t, other.Set(testKey, data))
}

func TestReconcile(t *testing.T) {
	assert.Equal(t, Ignore, Reconcile("", ""))
	assert.Equal(t, Ignore, Reconcile("abc", "abc"))
	assert.Equal(t, Adopt, Reconcile("abc", ""))
	assert.Equal(t, Adopt, Reconcile("", "abc"))
	assert.Equal(t, Adopt, Reconcile("def", "abc"))
}

func TestViewBeforeStartIsUnsettled(t *testing.T) {
	f := newFixture(t, t.TempDir())

	view := f.sync.View()
	assert.False(t, view.Settled)
	assert.True(t, view.Loading)
	assert.Nil(t, view.Profile)
}

func TestStartHydratesStoreFromStorage(t *testing.T) {
	dir := t.TempDir()
	writeForeignSession(t, dir, "persisted")
	f := newFixture(t, dir)

	f.sync.Start()

	assert.Equal(t, "persisted", f.store.State().Token())
	view := f.sync.View()
	assert.True(t, view.Settled)
	assert.False(t, view.Loading)
	assert.Equal(t, "persisted", view.Token)
	require.NotNil(t, view.Profile)
	assert.Equal(t, "9", view.Profile.UserID)
}

func TestStartWithoutSessionSettlesAsLoggedOut(t *testing.T) {
	f := newFixture(t, t.TempDir())

	f.sync.Start()

	view := f.sync.View()
	assert.True(t, view.Settled)
	assert.True(t, view.Loading)
	assert.False(t, view.Authenticated())
}

func TestStartWithCorruptStorageMeansNoSession(t *testing.T) {
	dir := t.TempDir()
	durable, err := storage.NewFileStorage(dir)
	require.NoError(t, err)
	require.NoError(t, durable.Set(testKey, []byte("{corrupted")))
	f := newFixture(t, dir)

	assert.NotPanics(t, f.sync.Start)

	assert.False(t, f.store.State().Present())
	assert.True(t, f.sync.View().Settled)
	assert.False(t, f.sync.View().Authenticated())
}

func TestUnchangedTokenIsANoOp(t *testing.T) {
	f := newFixture(t, t.TempDir())
	f.sync.Start()
	f.store.Dispatch(store.LoginSucceeded{Record: &models.SessionRecord{Token: "abc"}})
	before := len(f.emitted())

	f.store.Dispatch(store.LoginSucceeded{Record: &models.SessionRecord{Token: "abc", FirstName: "Ana"}})
	f.sync.Hint(SourcePoll)
	f.sync.Hint(SourceLocal)
	f.foreign.fire()

	assert.Equal(t, before, len(f.emitted()))
}

func TestLoginConvergesToOneView(t *testing.T) {
	f := newFixture(t, t.TempDir())
	f.sync.Start()
	settled := len(f.emitted())

	f.store.Dispatch(store.LoginSucceeded{Record: &models.SessionRecord{Token: "abc", UserID: "7"}})
	f.foreign.fire()
	f.sync.Hint(SourcePoll)
	f.sync.Hint(SourceLocal)

	views := f.emitted()[settled:]
	require.Len(t, views, 1, "exactly one adoption for one new token")
	assert.Equal(t, "abc", views[0].Token)
	assert.False(t, views[0].Loading)
	assert.Equal(t, "7", views[0].Profile.UserID)
}

func TestForeignLoginIsAdoptedOnce(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir)
	f.sync.Start()
	f.store.Dispatch(store.LoginSucceeded{Record: &models.SessionRecord{Token: "old"}})
	start := len(f.emitted())

	writeForeignSession(t, dir, "new")

	// every trigger reports the same new token, in any order
	f.sync.Hint(SourcePoll)
	f.foreign.fire()
	f.sync.Hint(SourceLocal)
	f.sync.Hint(SourcePoll)

	views := f.emitted()[start:]
	require.Len(t, views, 1)
	assert.Equal(t, "new", views[0].Token)
	assert.NotNil(t, views[0].Profile, "no intermediate empty profile")
	assert.Equal(t, "new", f.store.State().Token(), "store stays authoritative")
}

func TestForeignLogoutClearsView(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir)
	f.sync.Start()
	f.store.Dispatch(store.LoginSucceeded{Record: &models.SessionRecord{Token: "abc"}})

	other, err := storage.NewFileStorage(dir)
	require.NoError(t, err)
	require.NoError(t, other.Remove(testKey))
	f.foreign.fire()

	assert.False(t, f.store.State().Present())
	view := f.sync.View()
	assert.True(t, view.Loading)
	assert.Nil(t, view.Profile)
	assert.Empty(t, view.Token)
}

func TestConcurrentTriggersDoNotOscillate(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir)
	f.sync.Start()
	start := len(f.emitted())

	writeForeignSession(t, dir, "shared")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				f.sync.Hint(SourcePoll)
			case 1:
				f.sync.Hint(SourceForeign)
			default:
				f.sync.Hint(SourceLocal)
			}
		}(i)
	}
	wg.Wait()

	views := f.emitted()[start:]
	require.Len(t, views, 1)
	assert.Equal(t, "shared", views[0].Token)
	assert.Equal(t, "shared", f.sync.View().Token)
}

func TestSweepExpiredLogsOut(t *testing.T) {
	f := newFixture(t, t.TempDir())
	f.sync.Start()
	f.store.Dispatch(store.LoginSucceeded{Record: &models.SessionRecord{
		Token:  "abc",
		Expiry: time.Now().Add(time.Minute),
	}})

	f.sync.SweepExpired()
	assert.True(t, f.store.State().Present())

	f.sync.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	f.sync.SweepExpired()

	assert.False(t, f.store.State().Present())
	assert.False(t, f.sync.View().Authenticated())
}

func TestStartPollingPicksUpStorageChanges(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir)
	f.sync.Start()
	require.NoError(t, f.sync.StartPolling(time.Second))

	writeForeignSession(t, dir, "polled")

	assert.Eventually(t, func() bool {
		return f.sync.View().Token == "polled"
	}, 3*time.Second, 50*time.Millisecond)
}

// gatedStorage parks the first write after arm until release is closed.
type gatedStorage struct {
	storage.Storage
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStorage) arm() {
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
	g.armed.Store(true)
}

func (g *gatedStorage) wait() {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
}

func (g *gatedStorage) Set(key string, value []byte) error {
	g.wait()
	return g.Storage.Set(key, value)
}

func (g *gatedStorage) Remove(key string) error {
	g.wait()
	return g.Storage.Remove(key)
}

func newGatedSynchronizer(t *testing.T) (*store.Store, *gatedStorage, *Synchronizer) {
	t.Helper()

	durable, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	gated := &gatedStorage{Storage: durable}

	st := store.New()
	persister := &store.Persister{
		Durable:    gated,
		Tab:        storage.NewMemoryStorage(),
		Key:        testKey,
		InstanceID: "tab-1",
	}
	persister.Attach(st)

	s := New(st, gated, testKey)
	t.Cleanup(s.Stop)
	s.Start()
	return st, gated, s
}

// dispatchGated runs action and fires a poll while its storage write is parked.
func dispatchGated(st *store.Store, gated *gatedStorage, s *Synchronizer, action store.Action) {
	gated.arm()
	done := make(chan struct{})
	go func() {
		st.Dispatch(action)
		close(done)
	}()

	<-gated.entered
	s.Hint(SourcePoll)
	close(gated.release)
	<-done
}

func TestPollDuringLogoutWriteDoesNotRestoreSession(t *testing.T) {
	st, gated, s := newGatedSynchronizer(t)
	st.Dispatch(store.LoginSucceeded{Record: &models.SessionRecord{Token: "abc"}})
	require.True(t, s.View().Authenticated())

	dispatchGated(st, gated, s, store.LoggedOut{})
	s.Hint(SourcePoll)

	assert.False(t, st.State().Present())
	assert.Nil(t, storage.ReadSession(gated, testKey))
	assert.False(t, s.View().Authenticated())
}

func TestPollDuringLoginWriteKeepsSession(t *testing.T) {
	st, gated, s := newGatedSynchronizer(t)

	dispatchGated(st, gated, s, store.LoginSucceeded{Record: &models.SessionRecord{Token: "abc", UserID: "7"}})
	s.Hint(SourcePoll)

	assert.Equal(t, "abc", st.State().Token())
	stored := storage.ReadSession(gated, testKey)
	require.NotNil(t, stored)
	assert.Equal(t, "abc", stored.AccessToken())
	assert.True(t, s.View().Authenticated())
}
