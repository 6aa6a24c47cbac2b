package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/linkkeeper/internal/infrastructure/config"
)

// Sentinel errors, checked with errors.Is.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrUnreachable means the server did not answer a ping or reported
	// itself not ready.
	ErrUnreachable = errors.New("influxdb: server unreachable")

	// ErrWritesRejected means batches failed since the previous health
	// check even though the server answers pings, typically a bad token
	// or a missing bucket.
	ErrWritesRejected = errors.New("influxdb: writes rejected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("influxdb: sink closed")
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
	pingTimeout          = 5 * time.Second
)

// server is the part of influxdb2.Client the sink uses.
type server interface {
	Ping(ctx context.Context) (bool, error)
	Close()
}

// pointWriter is the part of api.WriteAPI the sink uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
	Errors() <-chan error
}

// Client is the InfluxDB statistics sink.
//
// Points go through the library's non-blocking write API, so WriteStats and
// WriteTransition never wait on the network. Batches the server rejects are
// counted and reported by the next HealthCheck.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	server server
	writer pointWriter

	mu      sync.RWMutex
	closed  bool
	onError func(err error)

	rejected atomic.Uint64
}

// Connect builds the client, pings the server and starts the batched
// writer for cfg.Org and cfg.Bucket.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch, flush := batchSettings(cfg)
	srv := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batch).
			SetFlushInterval(flush),
	)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := ping(ctx, srv); err != nil {
		srv.Close()
		return nil, err
	}

	return newClient(srv, srv.WriteAPI(cfg.Org, cfg.Bucket)), nil
}

// batchSettings returns the batch size in points and the flush interval in
// milliseconds, substituting defaults for unset values.
func batchSettings(cfg config.InfluxDBConfig) (batch, flushMS uint) {
	size, interval := cfg.BatchSize, cfg.FlushInterval
	if size <= 0 {
		size = defaultBatchSize
	}
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return uint(size), uint(interval) * 1000 //nolint:gosec // both positive
}

func newClient(srv server, w pointWriter) *Client {
	c := &Client{server: srv, writer: w}
	go c.collectErrors(w.Errors())
	return c
}

// collectErrors counts failed batches until the writer is closed.
func (c *Client) collectErrors(errs <-chan error) {
	for err := range errs {
		c.rejected.Add(1)

		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

func ping(ctx context.Context, srv server) error {
	ready, err := srv.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if !ready {
		return fmt.Errorf("%w: server not ready", ErrUnreachable)
	}
	return nil
}

// SetOnError registers a callback for batches the server rejected.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// HealthCheck pings the server and reports batches rejected since the
// previous call.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(checkCtx, c.server); err != nil {
		return err
	}

	if n := c.rejected.Swap(0); n > 0 {
		return fmt.Errorf("%w: %d batches since last check", ErrWritesRejected, n)
	}
	return nil
}

// Close flushes buffered points and releases the client. Writes after
// Close are dropped.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writer.Flush()
	c.server.Close()
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
