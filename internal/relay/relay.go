// Package relay republishes agent observations, assets and device models
// to an MQTT broker.
package relay

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mtconnect-agent/backend/internal/agent"
	"github.com/mtconnect-agent/backend/internal/codec"
	"github.com/mtconnect-agent/backend/internal/config"
	"github.com/mtconnect-agent/backend/internal/models"
)

// Publisher sends one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
}

// Options configures a Relay.
type Options struct {
	TopicPrefix    string
	Format         codec.Format
	QueueSize      int
	PublishTimeout time.Duration
	Logger         *zap.Logger
}

// OptionsFromConfig maps the relay config section.
func OptionsFromConfig(c config.RelayConfig, logger *zap.Logger) (Options, error) {
	format, err := codec.ParseFormat(c.Format)
	if err != nil {
		return Options{}, err
	}
	return Options{
		TopicPrefix: c.TopicPrefix,
		Format:      format,
		QueueSize:   c.QueueSize,
		Logger:      logger,
	}, nil
}

type message struct {
	topic   string
	payload any
	retain  bool
}

// Relay queues agent events and publishes them from Run. Enqueueing never
// blocks the agent; when the queue is full the message is dropped.
type Relay struct {
	pub  Publisher
	opts Options
	log  *zap.Logger

	queue     chan message
	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// New creates a relay publishing through pub.
func New(pub Publisher, opts Options) *Relay {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "MTConnect"
	}
	opts.TopicPrefix = strings.TrimSuffix(opts.TopicPrefix, "/")
	if opts.Format == "" {
		opts.Format = codec.JSON
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Relay{
		pub:   pub,
		opts:  opts,
		log:   opts.Logger.Named("relay"),
		queue: make(chan message, opts.QueueSize),
	}
}

// Attach subscribes the relay to the agent's events.
func (r *Relay) Attach(a *agent.Agent) {
	a.OnObservationAdded(r.HandleObservation)
	a.OnAssetAdded(r.HandleAsset)
	a.OnAssetRemoved(r.HandleAsset)
	a.OnDeviceAdded(func(device *models.Device, _ bool) { r.HandleDevice(device) })
}

// ObservationTopic is the topic of one data item's observations.
func (r *Relay) ObservationTopic(deviceUUID, dataItemID string) string {
	return fmt.Sprintf("%s/%s/Observations/%s", r.opts.TopicPrefix, deviceUUID, dataItemID)
}

// AssetTopic is the topic of one asset.
func (r *Relay) AssetTopic(deviceUUID, assetID string) string {
	return fmt.Sprintf("%s/%s/Assets/%s", r.opts.TopicPrefix, deviceUUID, assetID)
}

// DeviceTopic is the topic of a device model.
func (r *Relay) DeviceTopic(deviceUUID string) string {
	return fmt.Sprintf("%s/%s/Device", r.opts.TopicPrefix, deviceUUID)
}

// HandleObservation queues a stored observation.
func (r *Relay) HandleObservation(rec *models.ObservationRecord) {
	r.enqueue(message{topic: r.ObservationTopic(rec.DeviceUUID, rec.DataItemID), payload: rec, retain: true})
}

// HandleAsset queues an added, updated or removed asset.
func (r *Relay) HandleAsset(rec models.AssetRecord) {
	r.enqueue(message{topic: r.AssetTopic(rec.DeviceUUID, rec.AssetID), payload: rec, retain: true})
}

// HandleDevice queues a device model.
func (r *Relay) HandleDevice(device *models.Device) {
	r.enqueue(message{topic: r.DeviceTopic(device.UUID), payload: device, retain: true})
}

func (r *Relay) enqueue(m message) {
	select {
	case r.queue <- m:
	default:
		if r.dropped.Add(1)%100 == 1 {
			r.log.Warn("relay queue full, dropping messages", zap.Int64("dropped", r.dropped.Load()))
		}
	}
}

// Run publishes queued messages until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-r.queue:
			r.publish(ctx, m)
		}
	}
}

func (r *Relay) publish(ctx context.Context, m message) {
	payload, err := r.opts.Format.Marshal(m.payload)
	if err != nil {
		r.failed.Add(1)
		r.log.Error("failed to encode relay payload", zap.String("topic", m.topic), zap.Error(err))
		return
	}

	pctx, cancel := context.WithTimeout(ctx, r.opts.PublishTimeout)
	defer cancel()
	if err := r.pub.Publish(pctx, m.topic, payload, m.retain); err != nil {
		r.failed.Add(1)
		r.log.Warn("relay publish failed", zap.String("topic", m.topic), zap.Error(err))
		return
	}
	r.published.Add(1)
}

// Stats are relay counters.
type Stats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
	Queued    int   `json:"queued"`
}

// Stats returns the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Published: r.published.Load(),
		Dropped:   r.dropped.Load(),
		Failed:    r.failed.Load(),
		Queued:    len(r.queue),
	}
}
