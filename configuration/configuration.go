/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package configuration

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/euroscaffolds/session-agent/logs"
)

const envPrefix = "EUROSCAFFOLDS_"

type Configuration struct {
	ListenAddress   string        `json:"listen_address"`
	ApiProtocol     string        `json:"api_protocol"`
	ApiEndpoint     string        `json:"api_endpoint"`
	ApiPath         string        `json:"api_path"`
	DataDir         string        `json:"data_dir"`
	SessionKey      string        `json:"session_key"`
	LoginPath       string        `json:"login_path"`
	OTPWindow       time.Duration `json:"otp_window"`
	RequestTimeout  time.Duration `json:"request_timeout"`
	PollInterval    time.Duration `json:"poll_interval"`
	PageSize        int           `json:"page_size"`
	InitMode        string        `json:"init_mode"`
	InitFailFast    bool          `json:"init_fail_fast"`
	InstanceID      string        `json:"instance_id"`
	MQTTHost        string        `json:"mqtt_host"`
	MQTTPort        string        `json:"mqtt_port"`
	MQTTUsername    string        `json:"mqtt_username"`
	MQTTPassword    string        `json:"mqtt_password"`
	MQTTTopicPrefix string        `json:"mqtt_topic_prefix"`
	MQTTEnabled     bool          `json:"mqtt_enabled"`
	LogLevel        string        `json:"log_level"`
}

var Config = Configuration{}

func Init() {
	// listen address of the local agent surface
	Config.ListenAddress = getEnv("LISTEN_ADDRESS", "127.0.0.1:8080")

	// backend REST API
	Config.ApiProtocol = getEnv("API_PROTOCOL", "https")
	Config.ApiEndpoint = getEnv("API_ENDPOINT", "api.euroscaffolds.local")
	Config.ApiPath = getEnv("API_PATH", "/api/v1")

	// durable storage and session key
	Config.DataDir = getEnv("DATA_DIR", "/var/lib/euroscaffolds")
	Config.SessionKey = getEnv("SESSION_KEY", "euroscaffolds.session")

	// redirect target for unauthenticated requests
	Config.LoginPath = getEnv("LOGIN_PATH", "/login")

	// timings
	Config.OTPWindow = getDuration("OTP_WINDOW", 300*time.Second)
	Config.RequestTimeout = getDuration("REQUEST_TIMEOUT", 15*time.Second)
	Config.PollInterval = getDuration("POLL_INTERVAL", 30*time.Second)

	// master data
	Config.PageSize = getInt("PAGE_SIZE", 100)
	Config.InitMode = strings.ToLower(getEnv("INIT_MODE", "sequential"))
	Config.InitFailFast = getBool("INIT_FAIL_FAST", false)

	// instance identity, one per agent process
	Config.InstanceID = getEnv("INSTANCE_ID", uuid.NewString())

	// cross-instance channel, disabled without a host
	Config.MQTTHost = getEnv("MQTT_HOST", "")
	Config.MQTTPort = getEnv("MQTT_PORT", "1883")
	Config.MQTTUsername = getEnv("MQTT_USERNAME", "")
	Config.MQTTPassword = getEnv("MQTT_PASSWORD", "")
	Config.MQTTTopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "euroscaffolds")
	Config.MQTTEnabled = Config.MQTTHost != ""

	Config.LogLevel = getEnv("LOG_LEVEL", "info")
}

// ApiBaseURL returns the backend base URL without trailing slash.
func (c Configuration) ApiBaseURL() string {
	return strings.TrimSuffix(c.ApiProtocol+"://"+c.ApiEndpoint+c.ApiPath, "/")
}

func getEnv(name string, fallback string) string {
	if value := os.Getenv(envPrefix + name); value != "" {
		return value
	}
	return fallback
}

func getDuration(name string, fallback time.Duration) time.Duration {
	raw := getEnv(name, "")
	if raw == "" {
		return fallback
	}

	// accept both "30s" and a bare number of seconds
	if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		logs.Log("[WARNING][CONFIG] Invalid duration for " + envPrefix + name + ": " + raw)
		return fallback
	}
	return value
}

func getInt(name string, fallback int) int {
	raw := getEnv(name, "")
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		logs.Log("[WARNING][CONFIG] Invalid number for " + envPrefix + name + ": " + raw)
		return fallback
	}
	return value
}

func getBool(name string, fallback bool) bool {
	raw := getEnv(name, "")
	if raw == "" {
		return fallback
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		logs.Log("[WARNING][CONFIG] Invalid boolean for " + envPrefix + name + ": " + raw)
		return fallback
	}
	return value
}
