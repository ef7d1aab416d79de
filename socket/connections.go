/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package socket

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/euroscaffolds/session-agent/logs"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 16
)

var (
	ErrNotRegistered = errors.New("connection not registered")
	ErrQueueFull     = errors.New("send queue full")
)

// Message is the envelope pushed to every client.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ClientConnection is one connected UI client. Messages are queued and
// written by the connection's own writer goroutine.
type ClientConnection struct {
	Conn        *websocket.Conn
	RemoteAddr  string
	ConnectedAt time.Time

	writeMutex sync.Mutex
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
}

// ConnectionManager manages all active WebSocket connections
type ConnectionManager struct {
	connections map[*websocket.Conn]*ClientConnection
	mutex       sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[*websocket.Conn]*ClientConnection),
	}
}

// AddConnection adds a new connection to the manager and starts its writer
func (cm *ConnectionManager) AddConnection(conn *websocket.Conn, client *ClientConnection) {
	client.Conn = conn
	client.send = make(chan []byte, sendBuffer)
	client.done = make(chan struct{})

	cm.mutex.Lock()
	cm.connections[conn] = client
	cm.mutex.Unlock()

	go cm.writeLoop(client)
}

// RemoveConnection removes a connection from the manager and closes it
func (cm *ConnectionManager) RemoveConnection(conn *websocket.Conn) {
	cm.mutex.Lock()
	client, ok := cm.connections[conn]
	delete(cm.connections, conn)
	cm.mutex.Unlock()

	if ok {
		client.close()
	}
}

func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections)
}

// Send queues one message for a single connection.
func (cm *ConnectionManager) Send(conn *websocket.Conn, messageType string, data interface{}) error {
	cm.mutex.RLock()
	client, ok := cm.connections[conn]
	cm.mutex.RUnlock()
	if !ok {
		return ErrNotRegistered
	}

	payload, err := json.Marshal(Message{Type: messageType, Data: data})
	if err != nil {
		return err
	}
	return client.enqueue(payload)
}

// Broadcast queues a message for every client, in call order per client.
// It never waits on a client: one whose queue is full is dropped.
func (cm *ConnectionManager) Broadcast(messageType string, data interface{}) {
	payload, err := json.Marshal(Message{Type: messageType, Data: data})
	if err != nil {
		logs.Log(fmt.Sprintf("[ERROR][BROADCAST] Failed to marshal message: %v", err))
		return
	}

	cm.mutex.RLock()
	clients := make([]*ClientConnection, 0, len(cm.connections))
	for _, client := range cm.connections {
		clients = append(clients, client)
	}
	cm.mutex.RUnlock()

	for _, client := range clients {
		if err := client.enqueue(payload); err != nil {
			logs.Log(fmt.Sprintf("[WARN][BROADCAST] Dropping client %s: %v", client.RemoteAddr, err))
			cm.RemoveConnection(client.Conn)
		}
	}
}

func (cm *ConnectionManager) writeLoop(client *ClientConnection) {
	for {
		select {
		case payload := <-client.send:
			if err := client.write(payload); err != nil {
				logs.Log(fmt.Sprintf("[WARN][WS] Write to %s failed: %v", client.RemoteAddr, err))
				cm.RemoveConnection(client.Conn)
				return
			}
		case <-client.done:
			return
		}
	}
}

func (c *ClientConnection) enqueue(payload []byte) error {
	select {
	case <-c.done:
		return ErrNotRegistered
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *ClientConnection) write(payload []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *ClientConnection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Conn.Close()
	})
}
