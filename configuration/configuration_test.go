/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package configuration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInitDefaults(t *testing.T) {
	Init()

	assert.Equal(t, "127.0.0.1:8080", Config.ListenAddress)
	assert.Equal(t, "euroscaffolds.session", Config.SessionKey)
	assert.Equal(t, 300*time.Second, Config.OTPWindow)
	assert.Equal(t, 15*time.Second, Config.RequestTimeout)
	assert.Equal(t, 30*time.Second, Config.PollInterval)
	assert.Equal(t, 100, Config.PageSize)
	assert.Equal(t, "sequential", Config.InitMode)
	assert.False(t, Config.MQTTEnabled)
	assert.NotEmpty(t, Config.InstanceID)
}

func TestInitFromEnvironment(t *testing.T) {
	t.Setenv("EUROSCAFFOLDS_API_PROTOCOL", "http")
	t.Setenv("EUROSCAFFOLDS_API_ENDPOINT", "127.0.0.1:9000")
	t.Setenv("EUROSCAFFOLDS_API_PATH", "/api/")
	t.Setenv("EUROSCAFFOLDS_OTP_WINDOW", "120")
	t.Setenv("EUROSCAFFOLDS_POLL_INTERVAL", "2m")
	t.Setenv("EUROSCAFFOLDS_PAGE_SIZE", "25")
	t.Setenv("EUROSCAFFOLDS_INIT_MODE", "Parallel")
	t.Setenv("EUROSCAFFOLDS_INIT_FAIL_FAST", "true")
	t.Setenv("EUROSCAFFOLDS_INSTANCE_ID", "tab-1")
	t.Setenv("EUROSCAFFOLDS_MQTT_HOST", "broker")

	Init()

	assert.Equal(t, "http://127.0.0.1:9000/api", Config.ApiBaseURL())
	assert.Equal(t, 120*time.Second, Config.OTPWindow)
	assert.Equal(t, 2*time.Minute, Config.PollInterval)
	assert.Equal(t, 25, Config.PageSize)
	assert.Equal(t, "parallel", Config.InitMode)
	assert.True(t, Config.InitFailFast)
	assert.Equal(t, "tab-1", Config.InstanceID)
	assert.True(t, Config.MQTTEnabled)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("EUROSCAFFOLDS_REQUEST_TIMEOUT", "soon")
	t.Setenv("EUROSCAFFOLDS_PAGE_SIZE", "-3")
	t.Setenv("EUROSCAFFOLDS_INIT_FAIL_FAST", "maybe")

	Init()

	assert.Equal(t, 15*time.Second, Config.RequestTimeout)
	assert.Equal(t, 100, Config.PageSize)
	assert.False(t, Config.InitFailFast)
}
