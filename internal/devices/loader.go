// Package devices loads MTConnectDevices documents into device models and
// watches the devices file for changes.
package devices

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mtconnect-agent/backend/internal/models"
)

// devicesXML represents the raw XML structure of an MTConnectDevices document.
type devicesXML struct {
	XMLName xml.Name    `xml:"MTConnectDevices"`
	Devices []deviceXML `xml:"Devices>Device"`
}

type deviceXML struct {
	ID               string                `xml:"id,attr"`
	UUID             string                `xml:"uuid,attr"`
	Name             string                `xml:"name,attr"`
	MTConnectVersion string                `xml:"mtconnectVersion,attr"`
	Description      *models.Description   `xml:"Description"`
	DataItems        []*models.DataItem    `xml:"DataItems>DataItem"`
	Components       *componentsXML        `xml:"Components"`
	Compositions     []*models.Composition `xml:"Compositions>Composition"`
}

type componentsXML struct {
	Items []componentXML `xml:",any"`
}

type componentXML struct {
	XMLName      xml.Name
	ID           string                `xml:"id,attr"`
	Name         string                `xml:"name,attr"`
	NativeName   string                `xml:"nativeName,attr"`
	UUID         string                `xml:"uuid,attr"`
	Description  *models.Description   `xml:"Description"`
	DataItems    []*models.DataItem    `xml:"DataItems>DataItem"`
	Components   *componentsXML        `xml:"Components"`
	Compositions []*models.Composition `xml:"Compositions>Composition"`
}

// LoadFile parses a devices file.
func LoadFile(path string) ([]*models.Device, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open devices file: %w", err)
	}
	defer file.Close()

	devices, err := Parse(file, DefaultRegistry())
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return devices, nil
}

// Parse reads an MTConnectDevices document.
func Parse(r io.Reader, registry *Registry) ([]*models.Device, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var raw devicesXML
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	docVersion := versionFromNamespace(raw.XMLName.Space)

	devices := make([]*models.Device, 0, len(raw.Devices))
	seen := make(map[string]bool)
	for _, d := range raw.Devices {
		if d.UUID == "" || d.Name == "" {
			return nil, fmt.Errorf("device %q requires uuid and name", d.ID)
		}
		if seen[d.UUID] {
			return nil, fmt.Errorf("duplicate device uuid %s", d.UUID)
		}
		seen[d.UUID] = true

		dev := &models.Device{
			ID:               d.ID,
			UUID:             d.UUID,
			Name:             d.Name,
			MTConnectVersion: d.MTConnectVersion,
			Description:      d.Description,
			DataItems:        d.DataItems,
			Compositions:     d.Compositions,
		}
		if dev.MTConnectVersion == "" {
			dev.MTConnectVersion = docVersion
		}
		if d.Components != nil {
			dev.Components = convertComponents(d.Components, registry)
		}
		if err := validate(dev); err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

func convertComponents(raw *componentsXML, registry *Registry) []*models.Component {
	out := make([]*models.Component, 0, len(raw.Items))
	for _, item := range raw.Items {
		c := registry.NewComponent(item.XMLName.Local, item.ID, item.Name)
		c.NativeName = item.NativeName
		c.UUID = item.UUID
		c.Description = item.Description
		c.DataItems = item.DataItems
		c.Compositions = item.Compositions
		if item.Components != nil {
			c.Components = convertComponents(item.Components, registry)
		}
		out = append(out, c)
	}
	return out
}

func validate(dev *models.Device) error {
	ids := make(map[string]bool)
	for _, bound := range models.FlattenDataItems(dev) {
		di := bound.DataItem
		if di.ID == "" || di.Type == "" {
			return fmt.Errorf("device %s: data item in %s requires id and type", dev.Name, bound.ComponentID)
		}
		switch di.Category {
		case models.CategorySample, models.CategoryEvent, models.CategoryCondition:
		default:
			return fmt.Errorf("device %s: data item %s has invalid category %q", dev.Name, di.ID, di.Category)
		}
		if ids[di.ID] {
			return fmt.Errorf("device %s: duplicate data item id %s", dev.Name, di.ID)
		}
		ids[di.ID] = true
		if di.Representation == models.RepresentationDiscrete {
			di.Discrete = true
		}
	}
	return nil
}

// versionFromNamespace extracts "2.3" from "urn:mtconnect.org:MTConnectDevices:2.3".
func versionFromNamespace(ns string) string {
	i := strings.LastIndex(ns, ":")
	if i < 0 || i == len(ns)-1 {
		return ""
	}
	return ns[i+1:]
}
