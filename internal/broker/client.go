// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package broker provides the NATS messaging client shared by the API
// process (publisher) and the worker process (queue subscriber).
//
// The package wraps the nats.go library with connection management,
// automatic reconnection handling, and subscription tracking. It supports
// multiple authentication methods including username/password and
// credential files.
//
// # Configuration
//
// Configure the client via the broker section of the application config:
//
//	{
//	  "broker": {
//	    "address": "nats://localhost:4222",
//	    "subject": "loadtrace.tasks",
//	    "queue-group": "workers"
//	  }
//	}
//
// # Usage
//
// cmd/loadtrace-api publishes task envelopes after committing a job row;
// cmd/loadtrace-worker queue-subscribes so that only one worker process in
// the group receives each task (load-balanced core NATS delivery, with no
// acknowledgement or redelivery):
//
//	client, _ := broker.NewClient(&cfg.Broker)
//	client.Publish(cfg.Broker.Subject, envelope)
//
//	client.SubscribeQueue(cfg.Broker.Subject, cfg.Broker.QueueGroup, func(subj string, data []byte) {
//	    var env broker.TaskEnvelope
//	    json.Unmarshal(data, &env)
//	    ...
//	})
//
// # Thread Safety
//
// All Client methods are safe for concurrent use.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loadtrace/backend/internal/schema"
	"github.com/loadtrace/backend/pkg/log"
	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection with subscription management.
type Client struct {
	conn          *nats.Conn
	subscriptions []*nats.Subscription
	mu            sync.Mutex
}

// MessageHandler is a callback function for processing received messages.
type MessageHandler func(subject string, data []byte)

// NewClient creates a NATS client from the given broker configuration.
func NewClient(cfg *schema.BrokerConfig) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("broker address is required")
	}

	var opts []nats.Option

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}

	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			log.Warnf("broker: disconnected: %v", err)
		}
	}))

	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		log.Infof("broker: reconnected to %s", nc.ConnectedUrl())
	}))

	opts = append(opts, nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
		log.Errorf("broker: error: %v", err)
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("broker connect failed: %w", err)
	}

	log.Infof("broker: connected to %s", cfg.Address)

	return &Client{
		conn:          nc,
		subscriptions: make([]*nats.Subscription, 0),
	}, nil
}

// Subscribe registers a handler for messages on the given subject.
func (c *Client) Subscribe(subject string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("broker subscribe to '%s' failed: %w", subject, err)
	}

	c.subscriptions = append(c.subscriptions, sub)
	log.Infof("broker: subscribed to '%s'", subject)
	return nil
}

// SubscribeQueue registers a handler with a queue group so that, across all
// worker processes subscribed to the same (subject, queue) pair, each
// message is delivered to one of them — the load-balanced dispatch the
// worker pool uses to consume tasks. Messages are not acknowledged: a
// message whose handler's process dies is not delivered again.
func (c *Client) SubscribeQueue(subject, queue string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("broker queue subscribe to '%s' (queue: %s) failed: %w", subject, queue, err)
	}

	c.subscriptions = append(c.subscriptions, sub)
	log.Infof("broker: queue subscribed to '%s' (queue: %s)", subject, queue)
	return nil
}

// Publish marshals env and sends it to subject.
func (c *Client) Publish(subject string, env *TaskEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling task envelope: %w", err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("broker publish to '%s' failed: %w", subject, err)
	}
	return nil
}

// Request sends a request and waits for a response with the given context
// timeout.
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("broker request to '%s' failed: %w", subject, err)
	}
	return msg.Data, nil
}

// Flush flushes the connection buffer to ensure all published messages are
// sent.
func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Close unsubscribes all subscriptions and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			log.Warnf("broker: unsubscribe failed: %v", err)
		}
	}
	c.subscriptions = nil

	if c.conn != nil {
		c.conn.Close()
		log.Info("broker: connection closed")
	}
}

// IsConnected returns true if the client has an active connection.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Connection returns the underlying NATS connection for advanced usage.
func (c *Client) Connection() *nats.Conn {
	return c.conn
}
