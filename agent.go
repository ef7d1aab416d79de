/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/euroscaffolds/session-agent/api"
	"github.com/euroscaffolds/session-agent/configuration"
	"github.com/euroscaffolds/session-agent/initializer"
	"github.com/euroscaffolds/session-agent/logs"
	"github.com/euroscaffolds/session-agent/masterdata"
	"github.com/euroscaffolds/session-agent/methods"
	"github.com/euroscaffolds/session-agent/middleware"
	"github.com/euroscaffolds/session-agent/mqtt"
	"github.com/euroscaffolds/session-agent/notify"
	"github.com/euroscaffolds/session-agent/otp"
	"github.com/euroscaffolds/session-agent/socket"
	"github.com/euroscaffolds/session-agent/storage"
	"github.com/euroscaffolds/session-agent/store"
	"github.com/euroscaffolds/session-agent/synchronizer"
)

// agent is one running instance: the session store, its storages and everything wired around them.
type agent struct {
	config configuration.Configuration

	client      *api.Client
	store       *store.Store
	durable     *storage.FileStorage
	bus         *notify.Bus
	channel     *mqtt.Channel
	sync        *synchronizer.Synchronizer
	catalog     *masterdata.Catalog
	loader      *initializer.Initializer
	otp         *otp.Machine
	guard       *middleware.RouteGuard
	connections *socket.ConnectionManager
	handlers    *methods.Handlers
}

func newAgent(config configuration.Configuration) (*agent, error) {
	durable, err := storage.NewFileStorage(config.DataDir)
	if err != nil {
		return nil, errors.Wrap(err, "[MAIN] cannot open data directory")
	}

	a := &agent{
		config:      config,
		client:      api.New(config.ApiBaseURL(), config.RequestTimeout),
		store:       store.New(),
		durable:     durable,
		bus:         notify.NewBus(),
		connections: socket.NewConnectionManager(),
	}

	a.channel = mqtt.Init(mqtt.Options{
		Host:        config.MQTTHost,
		Port:        config.MQTTPort,
		Username:    config.MQTTUsername,
		Password:    config.MQTTPassword,
		TopicPrefix: config.MQTTTopicPrefix,
		InstanceID:  config.InstanceID,
	})

	// single writer of both storages
	persister := &store.Persister{
		Durable:    durable,
		Tab:        storage.NewMemoryStorage(),
		Key:        config.SessionKey,
		InstanceID: config.InstanceID,
		Bus:        a.bus,
		Publisher:  a.channel,
	}
	persister.Attach(a.store)

	a.sync = synchronizer.New(a.store, durable, config.SessionKey)
	a.sync.Listen(a.bus, a.channel)

	a.catalog = masterdata.NewCatalog(a.client, config.PageSize)
	a.loader = initializer.New(a.catalog.Tasks(), initializer.Policy{
		Mode:     initializer.ParseMode(config.InitMode),
		FailFast: config.InitFailFast,
	})

	// outbound calls always carry the current session token
	a.store.Subscribe(func(state store.State) {
		if a.client.Token() != state.Token() {
			a.client.SetToken(state.Token())
		}
	})

	a.store.OnSignedOut(func() {
		logs.Log("[INFO][MAIN] Session ended, clearing application data")
		a.loader.Reset()
		a.catalog.Clear()
		a.client.SetToken("")
	})

	a.otp = otp.New(a.client, a.store, authorizedLoader{store: a.store, client: a.client, loader: a.loader}, config.OTPWindow, config.RequestTimeout)
	a.guard = middleware.NewRouteGuard(a.store, a.sync, a.loader, a.client, config.LoginPath)
	socket.Attach(a.connections, a.sync)

	a.handlers = &methods.Handlers{
		OTP:         a.otp,
		Store:       a.store,
		Sessions:    a.sync,
		Initializer: a.loader,
		Catalog:     a.catalog,
		HomePath:    "/",
	}

	return a, nil
}

// authorizedLoader hands the session token to the client before loading application data.
type authorizedLoader struct {
	store  *store.Store
	client *api.Client
	loader *initializer.Initializer
}

func (l authorizedLoader) Initialize(ctx context.Context) bool {
	token := l.store.State().Token()
	if token == "" {
		return false
	}
	l.client.SetToken(token)
	return l.loader.Initialize(ctx)
}

// Start reads the persisted session and starts the storage poll.
func (a *agent) Start() error {
	a.sync.Start()
	return a.sync.StartPolling(a.config.PollInterval)
}

func (a *agent) Close() {
	a.sync.Stop()
	a.channel.Close()
}
