package models

import "time"

// Header carries agent and buffer bookkeeping for every response document.
type Header struct {
	InstanceID      string    `json:"instanceId" msgpack:"instanceId" cbor:"instanceId"`
	Sender          string    `json:"sender" msgpack:"sender" cbor:"sender"`
	Version         string    `json:"version" msgpack:"version" cbor:"version"`
	CreationTime    time.Time `json:"creationTime" msgpack:"creationTime" cbor:"creationTime"`
	BufferSize      int       `json:"bufferSize,omitempty" msgpack:"bufferSize,omitempty" cbor:"bufferSize,omitempty"`
	AssetBufferSize int       `json:"assetBufferSize,omitempty" msgpack:"assetBufferSize,omitempty" cbor:"assetBufferSize,omitempty"`
	AssetCount      int       `json:"assetCount,omitempty" msgpack:"assetCount,omitempty" cbor:"assetCount,omitempty"`
	FirstSequence   int64     `json:"firstSequence,omitempty" msgpack:"firstSequence,omitempty" cbor:"firstSequence,omitempty"`
	LastSequence    int64     `json:"lastSequence,omitempty" msgpack:"lastSequence,omitempty" cbor:"lastSequence,omitempty"`
	NextSequence    int64     `json:"nextSequence,omitempty" msgpack:"nextSequence,omitempty" cbor:"nextSequence,omitempty"`
}

// StreamsResponse is the result of a current or sample request.
type StreamsResponse struct {
	Header        Header         `json:"header" msgpack:"header" cbor:"header"`
	Streams       []DeviceStream `json:"streams" msgpack:"streams" cbor:"streams"`
	FirstReturned int64          `json:"firstObservationSequence" msgpack:"firstObservationSequence" cbor:"firstObservationSequence"`
	LastReturned  int64          `json:"lastObservationSequence" msgpack:"lastObservationSequence" cbor:"lastObservationSequence"`
	ReturnedCount int            `json:"observationCount" msgpack:"observationCount" cbor:"observationCount"`
	OutOfRange    bool           `json:"outOfRange,omitempty" msgpack:"outOfRange,omitempty" cbor:"outOfRange,omitempty"`
}

// DeviceStream groups observations of one device.
type DeviceStream struct {
	Name       string            `json:"name" msgpack:"name" cbor:"name"`
	UUID       string            `json:"uuid" msgpack:"uuid" cbor:"uuid"`
	Components []ComponentStream `json:"components" msgpack:"components" cbor:"components"`
}

// ComponentStream groups observations of one component by category.
type ComponentStream struct {
	Component   string              `json:"component" msgpack:"component" cbor:"component"`
	ComponentID string              `json:"componentId" msgpack:"componentId" cbor:"componentId"`
	Name        string              `json:"name,omitempty" msgpack:"name,omitempty" cbor:"name,omitempty"`
	Samples     []ObservationOutput `json:"samples,omitempty" msgpack:"samples,omitempty" cbor:"samples,omitempty"`
	Events      []ObservationOutput `json:"events,omitempty" msgpack:"events,omitempty" cbor:"events,omitempty"`
	Conditions  []ObservationOutput `json:"conditions,omitempty" msgpack:"conditions,omitempty" cbor:"conditions,omitempty"`
}

// ObservationOutput is an observation as published in a response document.
type ObservationOutput struct {
	DataItemID     string            `json:"dataItemId" msgpack:"dataItemId" cbor:"dataItemId"`
	Name           string            `json:"name,omitempty" msgpack:"name,omitempty" cbor:"name,omitempty"`
	Type           string            `json:"type" msgpack:"type" cbor:"type"`
	SubType        string            `json:"subType,omitempty" msgpack:"subType,omitempty" cbor:"subType,omitempty"`
	Category       Category          `json:"category" msgpack:"category" cbor:"category"`
	Representation Representation    `json:"representation,omitempty" msgpack:"representation,omitempty" cbor:"representation,omitempty"`
	Sequence       int64             `json:"sequence" msgpack:"sequence" cbor:"sequence"`
	Timestamp      time.Time         `json:"timestamp" msgpack:"timestamp" cbor:"timestamp"`
	Values         ObservationValues `json:"values" msgpack:"values" cbor:"values"`
}

// DevicesResponse is the result of a probe request.
type DevicesResponse struct {
	Header  Header    `json:"header" msgpack:"header" cbor:"header"`
	Devices []*Device `json:"devices" msgpack:"devices" cbor:"devices"`
}

// AssetsResponse is the result of an assets request.
type AssetsResponse struct {
	Header Header        `json:"header" msgpack:"header" cbor:"header"`
	Assets []AssetRecord `json:"assets" msgpack:"assets" cbor:"assets"`
}
