/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/euroscaffolds/session-agent/logs"
	"github.com/euroscaffolds/session-agent/notify"
)

// Options configures the broker connection.
type Options struct {
	Host        string
	Port        string
	Username    string
	Password    string
	TopicPrefix string
	InstanceID  string
}

// Channel carries session change events between agent instances.
// A nil *Channel is a valid, disabled channel.
type Channel struct {
	client     mqtt.Client
	topic      string
	instanceID string

	mutex    sync.RWMutex
	handlers []func(notify.Event)
}

// Init connects to the broker in background; it returns nil when no host is configured.
func Init(options Options) *Channel {
	if options.Host == "" {
		logs.Log("[INFO][MQTT] MQTT disabled - session changes stay local to this instance")
		return nil
	}

	channel := newChannel(options.TopicPrefix, options.InstanceID)

	// MQTT client options
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%s", options.Host, options.Port))
	opts.SetClientID("euroscaffolds-session-" + options.InstanceID)
	opts.SetUsername(options.Username)
	opts.SetPassword(options.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logs.Log(fmt.Sprintf("[WARNING][MQTT] Connection lost: %v", err))
	})

	// subscribe on every (re)connection
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logs.Log("[INFO][MQTT] Connected to MQTT broker")
		channel.subscribe()
	})

	channel.client = mqtt.NewClient(opts)
	token := channel.client.Connect()

	// don't block startup on an unavailable broker
	go func() {
		if token.Wait() && token.Error() != nil {
			logs.Log(fmt.Sprintf("[ERROR][MQTT] Failed to connect to MQTT broker: %v", token.Error()))
			logs.Log("[INFO][MQTT] Will retry connection in background...")
		}
	}()

	logs.Log("[INFO][MQTT] MQTT client initialized - connecting in background")
	return channel
}

func newChannel(prefix string, instanceID string) *Channel {
	return &Channel{
		topic:      prefix + "/session",
		instanceID: instanceID,
	}
}

// Topic returns the topic events are exchanged on.
func (c *Channel) Topic() string {
	if c == nil {
		return ""
	}
	return c.topic
}

// Subscribe registers a handler for events published by other instances.
func (c *Channel) Subscribe(handler func(notify.Event)) {
	if c == nil {
		return
	}

	c.mutex.Lock()
	c.handlers = append(c.handlers, handler)
	c.mutex.Unlock()
}

// Publish sends event to the other instances.
func (c *Channel) Publish(event notify.Event) error {
	if c == nil || c.client == nil {
		return nil
	}
	if !c.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	token := c.client.Publish(c.topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("MQTT publish timed out")
	}
	return token.Error()
}

func (c *Channel) subscribe() {
	token := c.client.Subscribe(c.topic, 1, func(client mqtt.Client, msg mqtt.Message) {
		c.handleMessage(msg.Payload())
	})

	if token.Wait() && token.Error() != nil {
		logs.Log(fmt.Sprintf("[ERROR][MQTT] Failed to subscribe to %s: %v", c.topic, token.Error()))
		return
	}

	logs.Log(fmt.Sprintf("[INFO][MQTT] Subscribed to topic: %s", c.topic))
}

// handleMessage routes foreign events to handlers and drops our own echoes.
func (c *Channel) handleMessage(payload []byte) {
	var event notify.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		logs.Log("[WARNING][MQTT] Dropping malformed session event: " + err.Error())
		return
	}

	if event.Origin == c.instanceID {
		return
	}

	c.mutex.RLock()
	handlers := make([]func(notify.Event), len(c.handlers))
	copy(handlers, c.handlers)
	c.mutex.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Close disconnects from the broker.
func (c *Channel) Close() {
	if c != nil && c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		logs.Log("[INFO][MQTT] MQTT client disconnected")
	}
}
