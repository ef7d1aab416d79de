/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package masterdata

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/euroscaffolds/session-agent/initializer"
	"github.com/euroscaffolds/session-agent/logs"
	"github.com/euroscaffolds/session-agent/models"
)

var ErrUnknownResource = errors.New("unknown master-data resource")

// Resources loaded at startup, in load order.
var Resources = []string{
	"leads",
	"departments",
	"countries",
	"clients",
	"client-contacts",
	"client-sites",
}

// Fetcher reads one page of a collection.
type Fetcher interface {
	FetchPage(ctx context.Context, resource string, page int, size int) (*models.Page, error)
}

// Catalog caches the first page of every master-data collection.
type Catalog struct {
	fetcher  Fetcher
	pageSize int

	mutex sync.RWMutex
	pages map[string]*models.Page
}

func NewCatalog(fetcher Fetcher, pageSize int) *Catalog {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Catalog{
		fetcher:  fetcher,
		pageSize: pageSize,
		pages:    make(map[string]*models.Page),
	}
}

func Known(resource string) bool {
	for _, name := range Resources {
		if name == resource {
			return true
		}
	}
	return false
}

// Fetch loads page 1 of resource and caches it.
func (c *Catalog) Fetch(ctx context.Context, resource string) error {
	if !Known(resource) {
		return errors.Wrap(ErrUnknownResource, resource)
	}

	page, err := c.fetcher.FetchPage(ctx, resource, 1, c.pageSize)
	if err != nil {
		return err
	}

	c.mutex.Lock()
	c.pages[resource] = page
	c.mutex.Unlock()

	logs.Log(fmt.Sprintf("[DEBUG][MASTERDATA] Loaded %d %s", len(page.Items), resource))
	return nil
}

// Get returns the cached page for resource.
func (c *Catalog) Get(resource string) (*models.Page, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	page, ok := c.pages[resource]
	return page, ok
}

// Clear drops every cached page.
func (c *Catalog) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.pages = make(map[string]*models.Page)
}

// Tasks exposes one initializer task per resource.
func (c *Catalog) Tasks() []initializer.Task {
	tasks := make([]initializer.Task, 0, len(Resources))
	for _, resource := range Resources {
		tasks = append(tasks, initializer.Task{
			Name: resource,
			Run: func(ctx context.Context) error {
				return c.Fetch(ctx, resource)
			},
		})
	}
	return tasks
}
