// Package client provides the JetStream client used by conversion workers
// and job submitters.
package client

import (
	"context"
	"fmt"

	natsclient "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/internal/nats"
	pipeerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/message"
)

// Client is the central JetStream client. It owns the NATS connection and
// exposes the Jobs service for publishing and pulling conversion work.
//
// Example usage:
//
//	c := client.NewClient("nats://localhost:4222")
//	if err := c.Connect(ctx); err != nil {
//	    logger.Fatal("Failed to connect", zap.Error(err))
//	}
//	defer c.Close()
//
//	job := message.NewConversionJob("clash", nodes)
//	c.Jobs.PublishJob(ctx, "CONVERSIONS.jobs", job)
type Client struct {
	conn   *natsclient.Conn
	js     natsclient.JetStreamContext
	config *nats.ConnectionConfig
	logger *zap.Logger

	// Jobs provides access to conversion job and result operations
	Jobs *message.JobService
}

// NewClient creates a client with default configuration for the given NATS
// URL. The client must be connected with Connect before use.
func NewClient(url string) *Client {
	logger, _ := zap.NewProduction()
	return &Client{
		config: nats.DefaultConnectionConfig(url),
		logger: logger,
	}
}

// NewClientWithConfig creates a client with full control over connection
// parameters.
func NewClientWithConfig(config *nats.ConnectionConfig) *Client {
	logger, _ := zap.NewProduction()
	return &Client{
		config: config,
		logger: logger,
	}
}

// NewClientWithJSContext creates a client over an existing JetStream
// context. Used by tests to inject a mock without a running server.
func NewClientWithJSContext(js message.JSContext, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		logger: logger,
		Jobs:   message.NewJobService(js, "", logger),
	}
}

// SetLogger replaces the client logger. An existing Jobs service is
// rebuilt around the new logger, whether it came from Connect or from an
// injected JetStream context.
func (c *Client) SetLogger(logger *zap.Logger) {
	if logger != nil {
		c.logger = logger
		if c.Jobs != nil {
			c.Jobs = c.Jobs.WithLogger(logger)
		}
	}
}

// Connect establishes the NATS connection and initializes the JetStream
// context and the Jobs service.
func (c *Client) Connect(ctx context.Context) error {
	if c.config == nil {
		return fmt.Errorf("client has no connection config")
	}

	conn, err := nats.Connect(ctx, c.config)
	if err != nil {
		return err
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c.conn = conn
	c.js = js
	c.Jobs = message.NewJobService(message.WrapNATSJetStream(js), c.config.ResultSubject, c.logger)

	c.logger.Info("Connected to NATS",
		zap.String("url", c.config.URL),
		zap.String("name", c.config.Name))
	return nil
}

// Close drains and closes the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := nats.Close(c.conn)
	c.conn = nil
	c.js = nil
	return err
}

// IsConnected reports whether the client holds a live connection.
func (c *Client) IsConnected() bool {
	return nats.IsConnected(c.conn)
}

// JetStream exposes the raw JetStream context for operations the Jobs
// service does not cover.
func (c *Client) JetStream() natsclient.JetStreamContext {
	return c.js
}

// Ping verifies the connection by flushing pending data to the server.
func (c *Client) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return pipeerrors.ErrNotConnected
	}
	return c.conn.FlushWithContext(ctx)
}

// Config returns the connection configuration the client was built with.
func (c *Client) Config() *nats.ConnectionConfig {
	return c.config
}
