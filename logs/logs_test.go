/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package logs

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLevelOfTags(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, levelOf("plain message"))
	assert.Equal(t, zerolog.InfoLevel, levelOf("[INFO][STORE] hydrated"))
	assert.Equal(t, zerolog.WarnLevel, levelOf("[WARNING][SYNC] poll skipped"))
	assert.Equal(t, zerolog.ErrorLevel, levelOf("[ERROR][OTP] verify failed"))
	assert.Equal(t, zerolog.ErrorLevel, levelOf("[ERR][OTP] verify failed"))
	assert.Equal(t, zerolog.FatalLevel, levelOf("[CRITICAL][MAIN] no data dir"))
	assert.Equal(t, zerolog.InfoLevel, levelOf("[broken"))
}

func TestLogWritesTaggedLevel(t *testing.T) {
	previous := Logs
	defer func() { Logs = previous }()

	var buf bytes.Buffer
	Logs = zerolog.New(&buf)

	Log("[WARNING][SYNC] storage unreadable")

	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "storage unreadable")
}

func TestSetLevelFiltersLowerLevels(t *testing.T) {
	previous := Logs
	defer func() { Logs = previous }()

	var buf bytes.Buffer
	Logs = zerolog.New(&buf)
	SetLevel("error")

	Log("[INFO][SYNC] adopted token")
	assert.Empty(t, buf.String())

	Log("[ERROR][SYNC] adopt failed")
	assert.Contains(t, buf.String(), "adopt failed")
}
