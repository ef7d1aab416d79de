/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package methods

import (
	"net/http"

	"github.com/fatih/structs"
	"github.com/gin-gonic/gin"

	"github.com/euroscaffolds/session-agent/logs"
	"github.com/euroscaffolds/session-agent/masterdata"
	"github.com/euroscaffolds/session-agent/response"
)

func (h *Handlers) GetMasterData(c *gin.Context) {
	resource := c.Param("resource")
	if !masterdata.Known(resource) {
		c.JSON(http.StatusNotFound, structs.Map(response.StatusNotFound{
			Code:    404,
			Message: "unknown resource",
			Data:    resource,
		}))
		return
	}

	page, ok := h.Catalog.Get(resource)
	if !ok {
		c.JSON(http.StatusNotFound, structs.Map(response.StatusNotFound{
			Code:    404,
			Message: "resource not loaded",
			Data:    resource,
		}))
		return
	}

	c.JSON(http.StatusOK, structs.Map(response.StatusOK{
		Code:    200,
		Message: "success",
		Data:    gin.H{"resource": resource, "page": page},
	}))
}

// RefreshMasterData reloads one resource without resetting the initialization flags.
func (h *Handlers) RefreshMasterData(c *gin.Context) {
	resource := c.Param("resource")
	if !masterdata.Known(resource) {
		c.JSON(http.StatusNotFound, structs.Map(response.StatusNotFound{
			Code:    404,
			Message: "unknown resource",
			Data:    resource,
		}))
		return
	}

	if err := h.Initializer.ForceRefresh(c.Request.Context(), resource); err != nil {
		logs.Log("[WARNING][MASTERDATA] Refresh failed: " + err.Error())
		c.JSON(http.StatusBadGateway, structs.Map(response.StatusBadGateway{
			Code:    502,
			Message: "refresh failed",
			Data:    err.Error(),
		}))
		return
	}

	page, _ := h.Catalog.Get(resource)
	c.JSON(http.StatusOK, structs.Map(response.StatusOK{
		Code:    200,
		Message: "refreshed",
		Data:    gin.H{"resource": resource, "page": page},
	}))
}

// InitStatus reports the application data load state.
func (h *Handlers) InitStatus(c *gin.Context) {
	snapshot := h.Initializer.Snapshot()

	c.JSON(http.StatusOK, structs.Map(response.StatusOK{
		Code:    200,
		Message: "success",
		Data: gin.H{
			"is_initialized": snapshot.IsInitialized,
			"is_loading":     snapshot.IsLoading,
			"tasks":          h.Initializer.TaskNames(),
		},
	}))
}
