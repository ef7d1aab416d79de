/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package utils

import (
	"github.com/euroscaffolds/session-agent/logs"
)

func LogError(err error) {
	if err == nil {
		return
	}
	logs.Log("[ERROR] " + err.Error())
}
