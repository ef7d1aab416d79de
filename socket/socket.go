/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package socket

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/euroscaffolds/session-agent/logs"
	"github.com/euroscaffolds/session-agent/models"
)

const MessageSession = "session"

type SessionSource interface {
	View() models.SessionView
	Watch(fn func(models.SessionView)) func()
}

// SessionPayload is the view as sent to clients, without credentials.
func SessionPayload(view models.SessionView) map[string]interface{} {
	payload := map[string]interface{}{
		"authenticated": view.Authenticated(),
		"loading":       view.Loading,
		"settled":       view.Settled,
		"profile":       view.PublicProfile(),
	}
	if view.Profile != nil {
		payload["display_name"] = view.Profile.DisplayName()
	}
	return payload
}

// Attach pushes every adopted session view to all clients and returns the detach func.
func Attach(manager *ConnectionManager, sessions SessionSource) func() {
	return sessions.Watch(func(view models.SessionView) {
		manager.Broadcast(MessageSession, SessionPayload(view))
	})
}

// SessionHandler upgrades the request and streams session views until the client leaves.
func SessionHandler(manager *ConnectionManager, sessions SessionSource) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logs.Log(fmt.Sprintf("[ERROR][WS] WebSocket upgrade failed: %v", err))
			return
		}
		defer manager.RemoveConnection(conn)

		manager.AddConnection(conn, &ClientConnection{
			RemoteAddr:  c.ClientIP(),
			ConnectedAt: time.Now().UTC(),
		})
		logs.Log(fmt.Sprintf("[DEBUG][WS] Client %s connected (%d active)", c.ClientIP(), manager.Count()))

		if err := manager.Send(conn, MessageSession, SessionPayload(sessions.View())); err != nil {
			logs.Log(fmt.Sprintf("[WARN][WS] Failed to send initial session view: %v", err))
			return
		}

		// clients only listen; reading keeps control frames flowing and detects close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		logs.Log(fmt.Sprintf("[DEBUG][WS] Client %s disconnected", c.ClientIP()))
	}
}
