/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package storage

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/euroscaffolds/session-agent/logs"
	"github.com/euroscaffolds/session-agent/models"
)

// Storage is a string-keyed byte store, shaped like the browser web storages.
type Storage interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Remove(key string) error
}

// MemoryStorage lives as long as the process, like a tab's session storage.
type MemoryStorage struct {
	mutex  sync.RWMutex
	values map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string][]byte)}
}

func (m *MemoryStorage) Get(key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	value, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(value), true, nil
}

func (m *MemoryStorage) Set(key string, value []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.values[key] = bytes.Clone(value)
	return nil
}

func (m *MemoryStorage) Remove(key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.values, key)
	return nil
}

// ReadSession loads the session record stored under key.
// Missing keys, read failures, corrupted JSON and token-less records all mean "no session".
func ReadSession(s Storage, key string) *models.SessionRecord {
	data, ok, err := s.Get(key)
	if err != nil {
		logs.Log("[ERROR][STORAGE] Failed to read session: " + err.Error())
		return nil
	}
	if !ok || len(data) == 0 {
		return nil
	}

	var record models.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		logs.Log("[ERROR][STORAGE] Stored session is not valid JSON, ignoring it: " + err.Error())
		return nil
	}

	if !record.Present() {
		return nil
	}

	record.Normalize()
	return &record
}

// EncodeSession serializes a record for storage, rejecting non-canonical records.
func EncodeSession(record *models.SessionRecord) ([]byte, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Wrap(err, "marshal session")
	}
	return data, nil
}
