// Package models contains domain types for the MTConnect agent.
package models

import (
	"strconv"
	"strings"
)

// Category represents the category of a data item.
type Category string

const (
	CategorySample    Category = "SAMPLE"
	CategoryEvent     Category = "EVENT"
	CategoryCondition Category = "CONDITION"
)

// Representation describes how the value of a data item is structured.
type Representation string

const (
	RepresentationValue      Representation = "VALUE"
	RepresentationDataSet    Representation = "DATA_SET"
	RepresentationTable      Representation = "TABLE"
	RepresentationTimeSeries Representation = "TIME_SERIES"
	RepresentationDiscrete   Representation = "DISCRETE"
)

// Filter types declared on data items.
const (
	FilterMinimumDelta = "MINIMUM_DELTA"
	FilterPeriod       = "PERIOD"
)

// Data item types the agent manages itself.
const (
	TypeAvailability  = "AVAILABILITY"
	TypeAssetChanged  = "ASSET_CHANGED"
	TypeAssetRemoved  = "ASSET_REMOVED"
	TypeAssetCount    = "ASSET_COUNT"
	TypeDeviceAdded   = "DEVICE_ADDED"
	TypeDeviceChanged = "DEVICE_CHANGED"
	TypeMessage       = "MESSAGE"
)

// Device is the root of a device model tree.
type Device struct {
	ID               string         `json:"id"`
	UUID             string         `json:"uuid"`
	Name             string         `json:"name"`
	MTConnectVersion string         `json:"mtconnectVersion,omitempty"`
	Description      *Description   `json:"description,omitempty"`
	DataItems        []*DataItem    `json:"dataItems,omitempty"`
	Components       []*Component   `json:"components,omitempty"`
	Compositions     []*Composition `json:"compositions,omitempty"`
}

// Component is an element of a device (axes, controller, path, ...).
type Component struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Name         string         `json:"name,omitempty"`
	NativeName   string         `json:"nativeName,omitempty"`
	UUID         string         `json:"uuid,omitempty"`
	Description  *Description   `json:"description,omitempty"`
	DataItems    []*DataItem    `json:"dataItems,omitempty"`
	Components   []*Component   `json:"components,omitempty"`
	Compositions []*Composition `json:"compositions,omitempty"`
}

// Composition is a lower level building block of a component.
type Composition struct {
	ID        string      `json:"id" xml:"id,attr"`
	Type      string      `json:"type" xml:"type,attr"`
	Name      string      `json:"name,omitempty" xml:"name,attr,omitempty"`
	DataItems []*DataItem `json:"dataItems,omitempty" xml:"DataItems>DataItem"`
}

// Description carries manufacturer metadata for a device or component.
type Description struct {
	Manufacturer string `json:"manufacturer,omitempty" xml:"manufacturer,attr,omitempty"`
	Model        string `json:"model,omitempty" xml:"model,attr,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty" xml:"serialNumber,attr,omitempty"`
	Station      string `json:"station,omitempty" xml:"station,attr,omitempty"`
	Value        string `json:"value,omitempty" xml:",chardata"`
}

// DataItem is the smallest unit of reportable information of a device.
type DataItem struct {
	ID                string         `json:"id" xml:"id,attr"`
	Name              string         `json:"name,omitempty" xml:"name,attr,omitempty"`
	Type              string         `json:"type" xml:"type,attr"`
	SubType           string         `json:"subType,omitempty" xml:"subType,attr,omitempty"`
	Category          Category       `json:"category" xml:"category,attr"`
	Representation    Representation `json:"representation,omitempty" xml:"representation,attr,omitempty"`
	Units             string         `json:"units,omitempty" xml:"units,attr,omitempty"`
	NativeUnits       string         `json:"nativeUnits,omitempty" xml:"nativeUnits,attr,omitempty"`
	NativeScale       float64        `json:"nativeScale,omitempty" xml:"nativeScale,attr,omitempty"`
	Discrete          bool           `json:"discrete,omitempty" xml:"discrete,attr,omitempty"`
	SignificantDigits int            `json:"significantDigits,omitempty" xml:"significantDigits,attr,omitempty"`
	Filters           []Filter       `json:"filters,omitempty" xml:"Filters>Filter"`
	Source            *Source        `json:"source,omitempty" xml:"Source"`
	Constraints       *Constraints   `json:"constraints,omitempty" xml:"Constraints"`
}

// Filter suppresses redundant updates of a data item.
type Filter struct {
	Type  string  `json:"type" xml:"type,attr"`
	Value float64 `json:"value" xml:",chardata"`
}

// Source identifies where the value of a data item originates.
type Source struct {
	ComponentID   string `json:"componentId,omitempty" xml:"componentId,attr,omitempty"`
	DataItemID    string `json:"dataItemId,omitempty" xml:"dataItemId,attr,omitempty"`
	CompositionID string `json:"compositionId,omitempty" xml:"compositionId,attr,omitempty"`
	Value         string `json:"value,omitempty" xml:",chardata"`
}

// Constraints restricts the values a data item may report.
type Constraints struct {
	Values  []string `json:"values,omitempty" xml:"Value"`
	Minimum *float64 `json:"minimum,omitempty" xml:"Minimum"`
	Maximum *float64 `json:"maximum,omitempty" xml:"Maximum"`
}

// IsDiscrete reports whether every change of the data item must be reported.
func (d *DataItem) IsDiscrete() bool {
	return d.Discrete || d.Representation == RepresentationDiscrete
}

// FilterValue returns the configured value of the filter with the given type.
func (d *DataItem) FilterValue(filterType string) (float64, bool) {
	for _, f := range d.Filters {
		if f.Type == filterType {
			return f.Value, true
		}
	}
	return 0, false
}

// EffectiveRepresentation returns VALUE when no representation is declared.
func (d *DataItem) EffectiveRepresentation() Representation {
	if d.Representation == "" {
		return RepresentationValue
	}
	return d.Representation
}

// BoundDataItem is a data item together with the component that owns it.
type BoundDataItem struct {
	DataItem      *DataItem
	ComponentID   string
	ComponentType string
	ComponentName string
}

// FlattenDataItems returns every data item of the device in model order.
// Data items declared on compositions are attributed to the enclosing component.
func FlattenDataItems(d *Device) []BoundDataItem {
	if d == nil {
		return nil
	}
	var out []BoundDataItem
	for _, di := range d.DataItems {
		out = append(out, BoundDataItem{DataItem: di, ComponentID: d.ID, ComponentType: "Device", ComponentName: d.Name})
	}
	for _, comp := range d.Compositions {
		for _, di := range comp.DataItems {
			out = append(out, BoundDataItem{DataItem: di, ComponentID: d.ID, ComponentType: "Device", ComponentName: d.Name})
		}
	}
	for _, c := range d.Components {
		out = flattenComponent(out, c)
	}
	return out
}

func flattenComponent(out []BoundDataItem, c *Component) []BoundDataItem {
	for _, di := range c.DataItems {
		out = append(out, BoundDataItem{DataItem: di, ComponentID: c.ID, ComponentType: c.Type, ComponentName: c.Name})
	}
	for _, comp := range c.Compositions {
		for _, di := range comp.DataItems {
			out = append(out, BoundDataItem{DataItem: di, ComponentID: c.ID, ComponentType: c.Type, ComponentName: c.Name})
		}
	}
	for _, child := range c.Components {
		out = flattenComponent(out, child)
	}
	return out
}

// ParseVersion converts "2.3" style MTConnect versions into a comparable number (major*100+minor).
func ParseVersion(v string) int {
	majorStr, rest, _ := strings.Cut(v, ".")
	minorStr, _, _ := strings.Cut(rest, ".")
	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return 0
	}
	minor, err := strconv.Atoi(minorStr)
	if err != nil {
		minor = 0
	}
	return major*100 + minor
}
