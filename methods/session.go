/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package methods

import (
	"net/http"

	"github.com/fatih/structs"
	"github.com/gin-gonic/gin"

	"github.com/euroscaffolds/session-agent/response"
	"github.com/euroscaffolds/session-agent/store"
)

// Session returns the reconciled session view.
func (h *Handlers) Session(c *gin.Context) {
	view := h.Sessions.View()

	data := gin.H{
		"authenticated": view.Authenticated(),
		"loading":       view.Loading,
		"settled":       view.Settled,
		"profile":       view.PublicProfile(),
	}
	if view.Profile != nil {
		data["display_name"] = view.Profile.DisplayName()
		if expiry, ok := store.ExpiresAt(view.Profile); ok {
			data["expires_at"] = expiry
		}
	}

	c.JSON(http.StatusOK, structs.Map(response.StatusOK{
		Code:    200,
		Message: "success",
		Data:    data,
	}))
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "healthy",
		"status":  "ok",
	})
}
