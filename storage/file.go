/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package storage

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/euroscaffolds/session-agent/logs"
)

// FileStorage keeps one file per key under a directory and survives restarts.
// Several agent processes may share the same directory.
type FileStorage struct {
	mutex sync.RWMutex
	dir   string
}

func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "create storage directory")
	}

	logs.Log("[INFO][STORAGE] Durable storage initialized at " + dir)
	return &FileStorage{dir: dir}, nil
}

func (f *FileStorage) path(key string) string {
	// keys are flat names, never paths
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(f.dir, safe+".json")
}

func (f *FileStorage) Get(key string) ([]byte, bool, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "read "+key)
	}
	return data, true, nil
}

func (f *FileStorage) Set(key string, value []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	target := f.path(key)

	// write to a temp file, then rename over the target
	temp, err := os.CreateTemp(f.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tempPath := temp.Name()

	if _, err := temp.Write(value); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return errors.Wrap(err, "write "+key)
	}
	if err := temp.Chmod(0600); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return errors.Wrap(err, "chmod "+key)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return errors.Wrap(err, "close "+key)
	}

	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return errors.Wrap(err, "rename "+key)
	}
	return nil
}

func (f *FileStorage) Remove(key string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	err := os.Remove(f.path(key))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove "+key)
	}
	return nil
}
