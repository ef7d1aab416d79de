/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package response

type StatusOK struct {
	Code    int         `json:"code" example:"200" structs:"code"`
	Message string      `json:"message" example:"Success" structs:"message"`
	Data    interface{} `json:"data" structs:"data"`
}

type StatusBadRequest struct {
	Code    int         `json:"code" example:"400" structs:"code"`
	Message string      `json:"message" example:"Bad request" structs:"message"`
	Data    interface{} `json:"data" structs:"data"`
}

type StatusUnauthorized struct {
	Code    int         `json:"code" example:"401" structs:"code"`
	Message string      `json:"message" example:"Unauthorized" structs:"message"`
	Data    interface{} `json:"data" structs:"data"`
}

type StatusNotFound struct {
	Code    int         `json:"code" example:"404" structs:"code"`
	Message string      `json:"message" example:"Not found" structs:"message"`
	Data    interface{} `json:"data" structs:"data"`
}

type StatusConflict struct {
	Code    int         `json:"code" example:"409" structs:"code"`
	Message string      `json:"message" example:"Conflict" structs:"message"`
	Data    interface{} `json:"data" structs:"data"`
}

type StatusServiceUnavailable struct {
	Code    int         `json:"code" example:"503" structs:"code"`
	Message string      `json:"message" example:"Service unavailable" structs:"message"`
	Data    interface{} `json:"data" structs:"data"`
}

type StatusBadGateway struct {
	Code    int         `json:"code" example:"502" structs:"code"`
	Message string      `json:"message" example:"Bad gateway" structs:"message"`
	Data    interface{} `json:"data" structs:"data"`
}
