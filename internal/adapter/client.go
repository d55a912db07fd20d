package adapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mtconnect-agent/backend/internal/agent"
	"github.com/mtconnect-agent/backend/internal/config"
	"github.com/mtconnect-agent/backend/internal/models"
)

// Sink receives what an adapter reports. *agent.Agent implements it.
type Sink interface {
	Resolver
	AddObservation(deviceKey, dataItemKey string, values models.ObservationValues, ts time.Time, opts *agent.InputOptions) bool
	AddAsset(deviceKey string, asset models.AssetRecord, opts *agent.InputOptions) bool
	RemoveAsset(assetID string, ts time.Time) bool
	RemoveDeviceAssets(deviceKey, assetType string, ts time.Time) int
	SetDeviceUnavailable(deviceKey string, ts time.Time) bool
}

// Config describes one adapter connection.
type Config struct {
	Device            string
	Host              string
	Port              int
	Heartbeat         time.Duration
	ReconnectInterval time.Duration
	IgnoreTimestamps  bool
}

// ConfigFromAdapter converts the YAML adapter section.
func ConfigFromAdapter(c config.AdapterConfig) Config {
	return Config{
		Device:            c.Device,
		Host:              c.Host,
		Port:              c.Port,
		Heartbeat:         time.Duration(c.HeartbeatMs) * time.Millisecond,
		ReconnectInterval: time.Duration(c.ReconnectIntervalMs) * time.Millisecond,
		IgnoreTimestamps:  c.IgnoreTimestamps,
	}
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

const maxLineSize = 1024 * 1024

var errHeartbeat = errors.New("adapter heartbeat timed out")

// Client keeps a connection to one adapter open, reconnecting after
// failures, and forwards every line to the sink.
type Client struct {
	cfg  Config
	sink Sink
	log  *zap.Logger

	mu        sync.Mutex
	connected bool
	lines     int64
}

// NewClient creates a client for cfg.
func NewClient(cfg Config, sink Sink, logger *zap.Logger) *Client {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 10 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:  cfg,
		sink: sink,
		log:  logger.Named("adapter").With(zap.String("device", cfg.Device), zap.String("address", cfg.Address())),
	}
}

// Connected reports whether a session is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Lines returns the number of lines received over all sessions.
func (c *Client) Lines() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines
}

// Run connects and reconnects until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.log.Warn("adapter session ended", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Address())
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.setConnected(true)
	c.log.Info("adapter connected")

	defer func() {
		conn.Close()
		c.setConnected(false)
		c.sink.SetDeviceUnavailable(c.cfg.Device, time.Now().UTC())
		c.log.Info("adapter disconnected")
	}()

	g, gctx := errgroup.WithContext(ctx)
	pong := make(chan time.Duration, 1)

	g.Go(func() error {
		return c.read(conn, pong)
	})
	g.Go(func() error {
		return c.ping(gctx, conn, pong)
	})
	g.Go(func() error {
		<-gctx.Done()
		// unblocks the reader
		conn.Close()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) read(conn net.Conn, pong chan<- time.Duration) error {
	parser := NewParser(c.cfg.Device, c.sink, c.cfg.IgnoreTimestamps)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var timeout time.Duration
	for {
		if timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					return errHeartbeat
				}
				return err
			}
			return io.EOF
		}
		c.mu.Lock()
		c.lines++
		c.mu.Unlock()

		msg, err := parser.Parse(scanner.Text())
		if err != nil {
			c.log.Debug("skipping line", zap.Error(err))
			continue
		}
		if msg == nil {
			continue
		}
		if msg.Command != nil && msg.Command.Name == "PONG" {
			if hb, ok := heartbeat(msg.Command.Value); ok {
				if timeout == 0 {
					c.log.Info("adapter heartbeat enabled", zap.Duration("heartbeat", hb))
					select {
					case pong <- hb:
					default:
					}
				}
				timeout = 2 * hb
			}
			continue
		}
		c.dispatch(msg)
	}
}

// ping sends an initial PING and, once the adapter answers with its
// heartbeat, keeps pinging at that interval.
func (c *Client) ping(ctx context.Context, conn net.Conn, pong <-chan time.Duration) error {
	if _, err := io.WriteString(conn, "* PING\n"); err != nil {
		return err
	}

	var interval time.Duration
	select {
	case <-ctx.Done():
		return nil
	case interval = <-pong:
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := io.WriteString(conn, "* PING\n"); err != nil {
				return err
			}
		}
	}
}

// dispatch hands a parsed message to the sink.
func (c *Client) dispatch(msg *Message) {
	switch {
	case msg.Command != nil:
		c.log.Debug("adapter command", zap.String("name", msg.Command.Name), zap.String("value", msg.Command.Value))
	case msg.Asset != nil:
		a := msg.Asset
		switch a.Kind {
		case AssetAdd, AssetUpdate:
			c.sink.AddAsset(a.DeviceKey, models.AssetRecord{
				AssetID:   a.AssetID,
				Type:      a.Type,
				Content:   a.Content,
				Timestamp: a.Timestamp,
			}, nil)
		case AssetRemove:
			c.sink.RemoveAsset(a.AssetID, a.Timestamp)
		case AssetRemoveAll:
			c.sink.RemoveDeviceAssets(a.DeviceKey, a.Type, a.Timestamp)
		}
	default:
		for _, obs := range msg.Observations {
			c.sink.AddObservation(obs.DeviceKey, obs.DataItemKey, obs.Values, obs.Timestamp, nil)
		}
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
