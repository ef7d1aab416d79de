/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package models

import (
	"encoding/json"
	"time"
)

// Page is one page of a paginated backend collection.
type Page struct {
	Items     []json.RawMessage `json:"items" structs:"items"`
	Page      int               `json:"page" structs:"page"`
	Size      int               `json:"size" structs:"size"`
	Total     int               `json:"total" structs:"total"`
	FetchedAt time.Time         `json:"fetched_at" structs:"fetched_at"`
}
