/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package store

import (
	"bytes"
	"time"

	"github.com/euroscaffolds/session-agent/logs"
	"github.com/euroscaffolds/session-agent/notify"
	"github.com/euroscaffolds/session-agent/storage"
)

// Publisher forwards change events to other agent instances.
type Publisher interface {
	Publish(event notify.Event) error
}

// Persister is the single writer of both storages. It mirrors every store
// state into them and announces effective changes of the durable entry.
type Persister struct {
	Durable    storage.Storage
	Tab        storage.Storage
	Key        string
	InstanceID string
	Bus        *notify.Bus
	Publisher  Publisher
}

// Attach subscribes the persister to st and returns the unsubscribe func.
func (p *Persister) Attach(st *Store) func() {
	return st.Subscribe(p.Persist)
}

// Persist writes state through to both storages.
func (p *Persister) Persist(state State) {
	previous, hadPrevious, err := p.Durable.Get(p.Key)
	if err != nil {
		logs.Log("[WARNING][PERSISTENCE] Failed to read durable session before write: " + err.Error())
	}

	if !state.Present() {
		if err := p.Durable.Remove(p.Key); err != nil {
			logs.Log("[ERROR][PERSISTENCE] Failed to remove durable session: " + err.Error())
		}
		if err := p.Tab.Remove(p.Key); err != nil {
			logs.Log("[ERROR][PERSISTENCE] Failed to remove tab session: " + err.Error())
		}

		if hadPrevious {
			p.announce(false)
		}
		return
	}

	data, err := storage.EncodeSession(state.Session)
	if err != nil {
		logs.Log("[ERROR][PERSISTENCE] Refusing to persist session: " + err.Error())
		return
	}

	if err := p.Durable.Set(p.Key, data); err != nil {
		logs.Log("[ERROR][PERSISTENCE] Failed to write durable session: " + err.Error())
	}
	if err := p.Tab.Set(p.Key, data); err != nil {
		logs.Log("[ERROR][PERSISTENCE] Failed to write tab session: " + err.Error())
	}

	if !hadPrevious || !bytes.Equal(previous, data) {
		p.announce(true)
	}
}

func (p *Persister) announce(present bool) {
	event := notify.Event{
		Origin:    p.InstanceID,
		Key:       p.Key,
		Present:   present,
		Timestamp: time.Now().UTC(),
	}

	// same instance first, the broker never echoes to its sender
	if p.Bus != nil {
		p.Bus.Publish(event)
	}

	if p.Publisher != nil {
		if err := p.Publisher.Publish(event); err != nil {
			logs.Log("[WARNING][PERSISTENCE] Failed to publish session change: " + err.Error())
		}
	}
}
