// Package agent coordinates the device model index, the current value
// cache, the observation history and the asset buffer. It is the single
// entry point for adapters writing observations and assets and for the
// HTTP layer reading streams.
package agent

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mtconnect-agent/backend/internal/buffer"
	"github.com/mtconnect-agent/backend/internal/config"
	"github.com/mtconnect-agent/backend/internal/index"
	"github.com/mtconnect-agent/backend/internal/models"
)

// AgentDeviceName is the name of the device describing the agent itself.
const AgentDeviceName = "Agent"

// Options configures an Agent.
type Options struct {
	Sender              string
	Version             string
	BufferSize          int
	AssetBufferSize     int
	RetainRemovedAssets bool

	ConvertUnits     bool
	IgnoreCase       bool
	IgnoreTimestamps bool
	ValidationLevel  string

	// EnableAgentDevice registers the Agent device reporting availability,
	// device additions and changes.
	EnableAgentDevice     bool
	InitializeUnavailable bool

	// InfoFile is the agent information file; empty keeps it in memory.
	InfoFile string

	Logger *zap.Logger
	Now    func() time.Time
}

// OptionsFromConfig maps the application config onto agent options.
func OptionsFromConfig(cfg *config.AppConfig, logger *zap.Logger) Options {
	return Options{
		Sender:                cfg.Advanced.Sender,
		Version:               cfg.Processing.DefaultVersion,
		BufferSize:            cfg.Buffer.ObservationBufferSize,
		AssetBufferSize:       cfg.Buffer.AssetBufferSize,
		RetainRemovedAssets:   cfg.Buffer.RetainRemovedAssets,
		ConvertUnits:          cfg.Processing.ConvertUnits,
		IgnoreCase:            cfg.Processing.IgnoreCase,
		IgnoreTimestamps:      cfg.Processing.IgnoreTimestamps,
		ValidationLevel:       cfg.Processing.ValidationLevel,
		EnableAgentDevice:     cfg.Processing.EnableAgentDevice,
		InitializeUnavailable: cfg.Processing.InitializeUnavailable,
		InfoFile:              cfg.Storage.AgentInfoFile,
		Logger:                logger,
	}
}

// InputOptions override the normalization defaults for one write. A nil
// *InputOptions uses the agent's configured defaults.
type InputOptions struct {
	ConvertUnits    bool
	IgnoreCase      bool
	IgnoreTimestamp bool
}

// assetItems are the ids of the agent managed asset data items of a device.
type assetItems struct {
	changed string
	removed string
	count   string
}

// Agent is the agent core. All methods are safe for concurrent use.
type Agent struct {
	opts Options
	log  *zap.Logger
	now  func() time.Time

	index   *index.Index
	current *buffer.CurrentCache
	history *buffer.ObservationBuffer
	assets  *buffer.AssetBuffer

	events   events
	counters counters

	// guards registration and the information file
	mu          sync.Mutex
	info        Information
	assetItems  map[string]assetItems
	agentDevice *models.Device
}

// New creates an agent. It loads the agent information file and, when
// enabled, registers the Agent device. BufferSize must be positive.
func New(opts Options) (*Agent, error) {
	if opts.BufferSize <= 0 {
		return nil, fmt.Errorf("observation buffer size must be positive, got %d", opts.BufferSize)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Version == "" {
		opts.Version = "2.3"
	}
	if opts.Sender == "" {
		opts.Sender = "mtconnect-agent"
	}
	if opts.ValidationLevel == "" {
		opts.ValidationLevel = config.ValidationWarning
	}

	info, err := LoadInformation(opts.InfoFile, opts.Now())
	if err != nil {
		return nil, err
	}

	a := &Agent{
		opts:       opts,
		log:        opts.Logger.Named("agent"),
		now:        opts.Now,
		index:      index.New(),
		current:    buffer.NewCurrentCache(),
		history:    buffer.NewObservationBuffer(opts.BufferSize),
		assets:     buffer.NewAssetBuffer(opts.AssetBufferSize, opts.RetainRemovedAssets),
		info:       info,
		assetItems: make(map[string]assetItems),
	}
	a.assets.OnRemoved(a.handleAssetRemoved)

	if err := a.info.Save(opts.InfoFile); err != nil {
		return nil, err
	}

	if opts.EnableAgentDevice {
		a.agentDevice = newAgentDevice(opts.Sender, opts.Version)
		a.RegisterDevice(a.agentDevice)
		a.writeInternal(a.agentDevice.UUID, a.agentDevice.ID+"_avail", models.ObservationValues{
			{Key: models.ValueKeyResult, Value: "AVAILABLE"},
		}, a.now())
	}

	a.log.Info("agent started",
		zap.String("instanceId", a.info.InstanceID),
		zap.Int("bufferSize", opts.BufferSize),
		zap.Int("assetBufferSize", opts.AssetBufferSize))
	return a, nil
}

func newAgentDevice(sender, version string) *models.Device {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("mtconnect-agent:"+sender))
	short := "agent_" + id.String()[:8]
	return &models.Device{
		ID:               short,
		UUID:             id.String(),
		Name:             AgentDeviceName,
		MTConnectVersion: version,
		DataItems: []*models.DataItem{
			{ID: short + "_avail", Type: models.TypeAvailability, Category: models.CategoryEvent},
			{ID: short + "_device_added", Type: models.TypeDeviceAdded, Category: models.CategoryEvent, Discrete: true},
			{ID: short + "_device_changed", Type: models.TypeDeviceChanged, Category: models.CategoryEvent, Discrete: true},
		},
	}
}

// RegisterDevice adds a device model to the index. Asset data items are
// appended to the device when it does not declare them. Re-registering a
// uuid replaces the model and keeps its buffer keys. It reports whether the
// device was new. A nil device panics.
func (a *Agent) RegisterDevice(device *models.Device) bool {
	if device == nil {
		panic("agent: RegisterDevice called with nil device")
	}

	a.mu.Lock()
	items := ensureAssetDataItems(device)
	prev := a.index.Device(device.UUID)
	_, isNew := a.index.AddDevice(device)
	a.assetItems[device.UUID] = items
	changed := isNew || !reflect.DeepEqual(prev, device)
	if changed {
		a.info.DeviceModelChangeTime = a.now()
		if err := a.info.Save(a.opts.InfoFile); err != nil {
			a.log.Warn("failed to save agent information", zap.Error(err))
		}
	}
	agentDevice := a.agentDevice
	a.mu.Unlock()

	a.log.Info("device registered",
		zap.String("uuid", device.UUID),
		zap.String("name", device.Name),
		zap.Bool("new", isNew))

	if isNew && a.opts.InitializeUnavailable {
		a.SetDeviceUnavailable(device.UUID, a.now())
	}

	if agentDevice != nil && device.UUID != agentDevice.UUID {
		switch {
		case isNew:
			a.writeInternal(agentDevice.UUID, agentDevice.ID+"_device_added",
				models.ObservationValues{{Key: models.ValueKeyResult, Value: device.UUID}}, a.now())
		case changed:
			a.writeInternal(agentDevice.UUID, agentDevice.ID+"_device_changed",
				models.ObservationValues{{Key: models.ValueKeyResult, Value: device.UUID}}, a.now())
		}
	}

	a.events.fireDeviceAdded(device, isNew)
	return isNew
}

func ensureAssetDataItems(device *models.Device) assetItems {
	var items assetItems
	for _, bound := range models.FlattenDataItems(device) {
		switch bound.DataItem.Type {
		case models.TypeAssetChanged:
			items.changed = bound.DataItem.ID
		case models.TypeAssetRemoved:
			items.removed = bound.DataItem.ID
		case models.TypeAssetCount:
			items.count = bound.DataItem.ID
		}
	}
	if items.changed == "" {
		items.changed = device.ID + "_asset_chg"
		device.DataItems = append(device.DataItems, &models.DataItem{
			ID: items.changed, Type: models.TypeAssetChanged, Category: models.CategoryEvent, Discrete: true,
		})
	}
	if items.removed == "" {
		items.removed = device.ID + "_asset_rem"
		device.DataItems = append(device.DataItems, &models.DataItem{
			ID: items.removed, Type: models.TypeAssetRemoved, Category: models.CategoryEvent, Discrete: true,
		})
	}
	if items.count == "" {
		items.count = device.ID + "_asset_count"
		device.DataItems = append(device.DataItems, &models.DataItem{
			ID: items.count, Type: models.TypeAssetCount, Category: models.CategoryEvent,
			Representation: models.RepresentationDataSet,
		})
	}
	return items
}

// ResolveDevice returns the uuid of the device addressed by a uuid or name.
func (a *Agent) ResolveDevice(key string) (string, bool) {
	uuid := a.index.ResolveDeviceUUID(key)
	return uuid, uuid != ""
}

// DataItem resolves a data item of a device by id, name or source.
func (a *Agent) DataItem(deviceUUID, key string) (models.BoundDataItem, bool) {
	return a.index.ResolveDataItem(deviceUUID, key)
}

// Device returns the model of a registered device by uuid or name.
func (a *Agent) Device(key string) *models.Device {
	uuid, ok := a.ResolveDevice(key)
	if !ok {
		return nil
	}
	return a.index.Device(uuid)
}

// Devices returns every registered device in registration order.
func (a *Agent) Devices() []*models.Device {
	return a.index.Devices()
}

// AgentDevice returns the Agent device, or nil when it is disabled.
func (a *Agent) AgentDevice() *models.Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agentDevice
}

// Information returns a copy of the persisted agent information.
func (a *Agent) Information() Information {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

// InstanceID identifies this agent across restarts.
func (a *Agent) InstanceID() string {
	return a.Information().InstanceID
}

// Header returns the response header with the current buffer bookkeeping.
func (a *Agent) Header() models.Header {
	w := a.history.Window()
	return models.Header{
		InstanceID:      a.InstanceID(),
		Sender:          a.opts.Sender,
		Version:         a.opts.Version,
		CreationTime:    a.now(),
		BufferSize:      a.history.Size(),
		AssetBufferSize: a.assets.Capacity(),
		AssetCount:      a.assets.Len(),
		FirstSequence:   w.FirstSequence,
		LastSequence:    w.LastSequence,
		NextSequence:    w.NextSequence,
	}
}

// SetAvailable reports the agent itself as available or unavailable.
func (a *Agent) SetAvailable(available bool, ts time.Time) {
	dev := a.AgentDevice()
	if dev == nil {
		return
	}
	value := "AVAILABLE"
	if !available {
		value = models.Unavailable
	}
	a.writeInternal(dev.UUID, dev.ID+"_avail", models.ObservationValues{{Key: models.ValueKeyResult, Value: value}}, ts)
}
