/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package methods

import (
	"github.com/euroscaffolds/session-agent/initializer"
	"github.com/euroscaffolds/session-agent/masterdata"
	"github.com/euroscaffolds/session-agent/models"
	"github.com/euroscaffolds/session-agent/otp"
	"github.com/euroscaffolds/session-agent/store"
)

type SessionSource interface {
	View() models.SessionView
}

// Handlers holds the collaborators behind the HTTP surface.
type Handlers struct {
	OTP         *otp.Machine
	Store       *store.Store
	Sessions    SessionSource
	Initializer *initializer.Initializer
	Catalog     *masterdata.Catalog
	HomePath    string
}
