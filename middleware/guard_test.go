/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euroscaffolds/session-agent/logs"
	"github.com/euroscaffolds/session-agent/models"
	"github.com/euroscaffolds/session-agent/store"
	"github.com/euroscaffolds/session-agent/synchronizer"
)

func init() {
	logs.Init("guard-tests")
	gin.SetMode(gin.TestMode)
}

type fakeSessions struct {
	mutex  sync.Mutex
	view   models.SessionView
	hints  int
	onHint func()
}

func (f *fakeSessions) View() models.SessionView {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.view
}

func (f *fakeSessions) Hint(synchronizer.Source) {
	f.mutex.Lock()
	f.hints++
	onHint := f.onHint
	f.mutex.Unlock()
	if onHint != nil {
		onHint()
	}
}

func (f *fakeSessions) set(view models.SessionView) {
	f.mutex.Lock()
	f.view = view
	f.mutex.Unlock()
}

type fakeInitializer struct {
	calls       int32
	initialized atomic.Bool
	loading     atomic.Bool
	release     chan struct{}
}

func (f *fakeInitializer) Initialize(context.Context) bool {
	if !f.loading.CompareAndSwap(false, true) {
		return false
	}
	atomic.AddInt32(&f.calls, 1)
	if f.release != nil {
		<-f.release
	}
	f.initialized.Store(true)
	f.loading.Store(false)
	return true
}

func (f *fakeInitializer) IsInitialized() bool { return f.initialized.Load() }
func (f *fakeInitializer) IsLoading() bool     { return f.loading.Load() }

type fakeClient struct {
	mutex sync.Mutex
	token string
	sets  []string
}

func (f *fakeClient) SetToken(token string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.token = token
	f.sets = append(f.sets, token)
}

func (f *fakeClient) Token() string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.token
}

type guardFixture struct {
	store      *store.Store
	sessions   *fakeSessions
	loader     *fakeInitializer
	client     *fakeClient
	router     *gin.Engine
	dispatches int32
}

func newGuardFixture() *guardFixture {
	f := &guardFixture{
		store:    store.New(),
		sessions: &fakeSessions{view: models.SessionView{Loading: true}},
		loader:   &fakeInitializer{},
		client:   &fakeClient{},
	}
	f.store.Subscribe(func(store.State) { atomic.AddInt32(&f.dispatches, 1) })

	guard := NewRouteGuard(f.store, f.sessions, f.loader, f.client, "/login")
	f.router = gin.New()
	f.router.GET("/api/leads", guard.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"token": c.GetString(TokenKey)})
	})
	return f
}

func (f *guardFixture) get() *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/leads", nil)
	f.router.ServeHTTP(w, req)
	return w
}

func TestGuardWaitsWhileCheckingAuth(t *testing.T) {
	f := newGuardFixture()

	for i := 0; i < 5; i++ {
		w := f.get()
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "1", w.Header().Get("Retry-After"))
		assert.Contains(t, w.Body.String(), "checking_auth")
		assert.Empty(t, w.Header().Get("Location"))
	}

	assert.Equal(t, int32(0), atomic.LoadInt32(&f.dispatches), "no logout while checking")
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.loader.calls))
	assert.Empty(t, f.client.sets)
}

func TestGuardRedirectsWhenUnauthenticated(t *testing.T) {
	f := newGuardFixture()
	f.sessions.set(models.SessionView{Loading: true, Settled: true})

	w := f.get()

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
	assert.Equal(t, 1, f.sessions.hints)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.dispatches), "defensive logout dispatched")
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.loader.calls))
}

func TestGuardPicksUpSessionFoundOnRecheck(t *testing.T) {
	f := newGuardFixture()
	f.sessions.set(models.SessionView{Loading: true, Settled: true})
	f.sessions.onHint = func() {
		f.store.Dispatch(store.SessionRestored{Record: &models.SessionRecord{Token: "foreign"}})
	}

	w := f.get()

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "initializing")
	assert.Equal(t, "foreign", f.client.Token())
}

func TestGuardSkipsWaitWhenStoreHasToken(t *testing.T) {
	f := newGuardFixture()
	f.store.Dispatch(store.LoginSucceeded{Record: &models.SessionRecord{Token: "fresh"}})

	w := f.get()

	assert.NotContains(t, w.Body.String(), "checking_auth")
	assert.Equal(t, "fresh", f.client.Token())
	assert.Eventually(t, f.loader.IsInitialized, time.Second, 5*time.Millisecond)

	w = f.get()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fresh")
}

func TestGuardInitializesOnceWhileLoading(t *testing.T) {
	f := newGuardFixture()
	f.loader.release = make(chan struct{})
	f.sessions.set(models.SessionView{Token: "abc", Settled: true, Profile: &models.SessionRecord{Token: "abc"}})
	f.store.Dispatch(store.SessionRestored{Record: &models.SessionRecord{Token: "abc"}})

	w := f.get()
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "initializing")
	require.Eventually(t, f.loader.IsLoading, time.Second, 5*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusServiceUnavailable, f.get().Code)
	}

	close(f.loader.release)
	require.Eventually(t, f.loader.IsInitialized, time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusOK, f.get().Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.loader.calls))
	assert.Equal(t, []string{"abc"}, f.client.sets, "token propagated once")
}

func TestGuardRendersWhenReady(t *testing.T) {
	f := newGuardFixture()
	f.loader.initialized.Store(true)
	f.sessions.set(models.SessionView{Token: "abc", Settled: true})
	f.store.Dispatch(store.SessionRestored{Record: &models.SessionRecord{Token: "abc"}})

	w := f.get()

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "abc")
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.loader.calls))
}

func TestGuardPropagatesTokenChange(t *testing.T) {
	f := newGuardFixture()
	f.loader.initialized.Store(true)
	f.store.Dispatch(store.SessionRestored{Record: &models.SessionRecord{Token: "first"}})
	f.get()

	f.store.Dispatch(store.SessionRestored{Record: &models.SessionRecord{Token: "second"}})
	f.get()

	assert.Equal(t, []string{"first", "second"}, f.client.sets)
}
