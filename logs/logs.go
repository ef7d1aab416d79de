/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package logs

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var Logs zerolog.Logger = zerolog.Nop()

func Init(name string) {
	// init console writer on stderr
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime, NoColor: true}

	// assign logger, tagged with the service name
	Logs = zerolog.New(writer).With().Timestamp().Str("service", name).Logger()
}

// SetLevel sets the minimum level emitted; unknown names keep the current level.
func SetLevel(level string) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return
	}
	Logs = Logs.Level(parsed)
}

// Log writes message at the level named by its leading tag,
// e.g. "[ERROR][OTP] verify failed". Untagged messages are logged at info.
func Log(message string) {
	Logs.WithLevel(levelOf(message)).Msg(message)
}

func levelOf(message string) zerolog.Level {
	if !strings.HasPrefix(message, "[") {
		return zerolog.InfoLevel
	}

	end := strings.Index(message, "]")
	if end < 0 {
		return zerolog.InfoLevel
	}

	switch message[1:end] {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARNING", "WARN":
		return zerolog.WarnLevel
	case "ERROR", "ERR":
		return zerolog.ErrorLevel
	case "CRITICAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
