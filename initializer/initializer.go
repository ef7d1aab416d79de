/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package initializer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/euroscaffolds/session-agent/logs"
	"github.com/euroscaffolds/session-agent/models"
)

var ErrUnknownTask = errors.New("unknown initialization task")

type Mode string

const (
	Sequential Mode = "sequential"
	Parallel   Mode = "parallel"
)

// Policy controls how the task list runs.
// Best-effort (FailFast=false) logs a failing task and keeps going.
type Policy struct {
	Mode     Mode
	FailFast bool
}

// ParseMode maps a configuration value to a Mode, defaulting to Sequential.
func ParseMode(value string) Mode {
	if strings.EqualFold(value, string(Parallel)) {
		return Parallel
	}
	return Sequential
}

type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Initializer loads the reference data once per authenticated session.
type Initializer struct {
	tasks  []Task
	policy Policy

	mutex       sync.Mutex
	initialized bool
	loading     bool
	epoch       uint64
}

func New(tasks []Task, policy Policy) *Initializer {
	if policy.Mode == "" {
		policy.Mode = Sequential
	}
	return &Initializer{
		tasks:  append([]Task(nil), tasks...),
		policy: policy,
	}
}

// Initialize runs every task unless a run is in flight or already done.
// It reports whether this call performed the run.
func (i *Initializer) Initialize(ctx context.Context) bool {
	i.mutex.Lock()
	if i.initialized || i.loading {
		i.mutex.Unlock()
		return false
	}
	i.loading = true
	epoch := i.epoch
	i.mutex.Unlock()

	logs.Log(fmt.Sprintf("[INFO][INIT] Loading application data (%d tasks, %s)", len(i.tasks), i.policy.Mode))

	err := i.run(ctx)

	i.mutex.Lock()
	defer i.mutex.Unlock()

	if epoch != i.epoch {
		// reset while running
		logs.Log("[INFO][INIT] Discarding initialization result after reset")
		return true
	}

	i.loading = false
	if err != nil && i.policy.FailFast {
		logs.Log("[ERROR][INIT] Initialization aborted: " + err.Error())
		return true
	}

	i.initialized = true
	logs.Log("[INFO][INIT] Application data loaded")
	return true
}

func (i *Initializer) run(ctx context.Context) error {
	if i.policy.Mode == Parallel {
		return i.runParallel(ctx)
	}

	var firstErr error
	for _, task := range i.tasks {
		if err := i.runTask(ctx, task); err != nil {
			if i.policy.FailFast {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (i *Initializer) runParallel(ctx context.Context) error {
	var (
		mutex    sync.Mutex
		firstErr error
	)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, task := range i.tasks {
		group.Go(func() error {
			taskCtx := ctx
			if i.policy.FailFast {
				taskCtx = groupCtx
			}
			err := i.runTask(taskCtx, task)
			if err == nil {
				return nil
			}
			if i.policy.FailFast {
				return err
			}
			mutex.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mutex.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	return firstErr
}

func (i *Initializer) runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("task panicked: %v", r)
		}
		if err != nil {
			err = errors.Wrap(err, task.Name)
			logs.Log("[WARNING][INIT] Failed to load " + err.Error())
		}
	}()

	return task.Run(ctx)
}

// ForceRefresh runs the named task again without touching the flags.
func (i *Initializer) ForceRefresh(ctx context.Context, name string) error {
	for _, task := range i.tasks {
		if task.Name == name {
			logs.Log("[INFO][INIT] Refreshing " + name)
			return i.runTask(ctx, task)
		}
	}
	return errors.Wrap(ErrUnknownTask, name)
}

// Reset clears both flags; the next Initialize loads everything again.
func (i *Initializer) Reset() {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	i.initialized = false
	i.loading = false
	i.epoch++
}

func (i *Initializer) IsInitialized() bool {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return i.initialized
}

func (i *Initializer) IsLoading() bool {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return i.loading
}

func (i *Initializer) Snapshot() models.InitGuard {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return models.InitGuard{IsInitialized: i.initialized, IsLoading: i.loading}
}

// TaskNames lists the tasks in run order.
func (i *Initializer) TaskNames() []string {
	names := make([]string, 0, len(i.tasks))
	for _, task := range i.tasks {
		names = append(names, task.Name)
	}
	return names
}
