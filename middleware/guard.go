/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package middleware

import (
	"context"
	"net/http"

	"github.com/fatih/structs"
	"github.com/gin-gonic/gin"

	"github.com/euroscaffolds/session-agent/logs"
	"github.com/euroscaffolds/session-agent/models"
	"github.com/euroscaffolds/session-agent/response"
	"github.com/euroscaffolds/session-agent/store"
	"github.com/euroscaffolds/session-agent/synchronizer"
)

type Phase string

const (
	PhaseCheckingAuth    Phase = "checking_auth"
	PhaseUnauthenticated Phase = "unauthenticated"
	PhaseInitializing    Phase = "initializing"
	PhaseReady           Phase = "ready"
)

// TokenKey is the gin context key holding the session token on guarded routes.
const TokenKey = "session_token"

type SessionSource interface {
	View() models.SessionView
	Hint(source synchronizer.Source)
}

type Initializer interface {
	Initialize(ctx context.Context) bool
	IsInitialized() bool
	IsLoading() bool
}

// TokenHolder carries the credential for outbound calls.
type TokenHolder interface {
	SetToken(token string)
	Token() string
}

// RouteGuard gates protected routes on the reconciled session and the data load.
type RouteGuard struct {
	store     *store.Store
	sessions  SessionSource
	loader    Initializer
	client    TokenHolder
	loginPath string
}

func NewRouteGuard(st *store.Store, sessions SessionSource, loader Initializer, client TokenHolder, loginPath string) *RouteGuard {
	return &RouteGuard{
		store:     st,
		sessions:  sessions,
		loader:    loader,
		client:    client,
		loginPath: loginPath,
	}
}

// Evaluate decides the phase for the current session and applies its side effects:
// token propagation and initializer start when authenticated, store cleanup otherwise.
func (g *RouteGuard) Evaluate() (Phase, string) {
	// store first, it may already hold a fresh login the view has not adopted yet
	token := g.store.State().Token()
	view := g.sessions.View()

	if token == "" && !view.Settled {
		return PhaseCheckingAuth, ""
	}
	if token == "" {
		token = view.Token
	}

	if token == "" {
		// another instance may have logged in since the last notification
		g.sessions.Hint(synchronizer.SourceLocal)
		token = g.store.State().Token()
	}

	if token == "" {
		g.store.Dispatch(store.LoggedOut{})
		return PhaseUnauthenticated, ""
	}

	if g.client.Token() != token {
		g.client.SetToken(token)
	}

	if g.loader.IsInitialized() {
		return PhaseReady, token
	}
	if !g.loader.IsLoading() {
		logs.Log("[INFO][GUARD] Session confirmed, loading application data")
		go g.loader.Initialize(context.Background())
	}
	return PhaseInitializing, token
}

func (g *RouteGuard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		phase, token := g.Evaluate()

		switch phase {
		case PhaseCheckingAuth:
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, structs.Map(response.StatusServiceUnavailable{
				Code:    503,
				Message: string(PhaseCheckingAuth),
				Data:    nil,
			}))
		case PhaseUnauthenticated:
			c.Redirect(http.StatusFound, g.loginPath)
			c.Abort()
		case PhaseInitializing:
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, structs.Map(response.StatusServiceUnavailable{
				Code:    503,
				Message: string(PhaseInitializing),
				Data:    nil,
			}))
		default:
			c.Set(TokenKey, token)
			c.Next()
		}
	}
}
