package models

import "time"

// AssetRecord is a document describing an object associated with a device
// (cutting tool, file, fixture, ...). The content is opaque to the agent.
type AssetRecord struct {
	AssetID    string    `json:"assetId" msgpack:"assetId" cbor:"assetId"`
	Type       string    `json:"type" msgpack:"type" cbor:"type"`
	DeviceUUID string    `json:"deviceUuid" msgpack:"deviceUuid" cbor:"deviceUuid"`
	Timestamp  time.Time `json:"timestamp" msgpack:"timestamp" cbor:"timestamp"`
	Removed    bool      `json:"removed" msgpack:"removed" cbor:"removed"`
	Content    string    `json:"content,omitempty" msgpack:"content,omitempty" cbor:"content,omitempty"`
	Hash       string    `json:"hash,omitempty" msgpack:"hash,omitempty" cbor:"hash,omitempty"`
}

// AssetQuery filters a list of assets.
type AssetQuery struct {
	DeviceUUID string // empty = all devices
	Type       string // empty = all types
	Removed    bool   // include removed assets
	Count      int    // <= 0 = unlimited
}
