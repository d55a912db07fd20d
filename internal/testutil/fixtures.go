// fixtures.go - Shared device fixtures for testing
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mtconnect-agent/backend/internal/models"
)

// Identities of the fixture device.
const (
	DeviceUUID = "mill-001"
	DeviceName = "Mill"
)

// DevicesXML is an MTConnectDevices document describing the fixture device.
const DevicesXML = `<?xml version="1.0" encoding="UTF-8"?>
<MTConnectDevices xmlns="urn:mtconnect.org:MTConnectDevices:2.3">
  <Header creationTime="2025-01-01T00:00:00Z" sender="test" instanceId="1" version="2.3" bufferSize="1024"/>
  <Devices>
    <Device id="d1" uuid="mill-001" name="Mill">
      <Description manufacturer="ACME" model="M1" serialNumber="42">Three axis mill</Description>
      <DataItems>
        <DataItem id="avail" type="AVAILABILITY" category="EVENT"/>
      </DataItems>
      <Components>
        <Axes id="a1">
          <Components>
            <Linear id="x1" name="X">
              <DataItems>
                <DataItem id="xpos" type="POSITION" subType="ACTUAL" category="SAMPLE" units="MILLIMETER" nativeUnits="INCH"/>
                <DataItem id="xload" type="LOAD" category="SAMPLE" units="PERCENT">
                  <Filters>
                    <Filter type="PERIOD">1.0</Filter>
                  </Filters>
                </DataItem>
                <DataItem id="xvib" type="DISPLACEMENT" category="SAMPLE" units="MILLIMETER" representation="TIME_SERIES"/>
              </DataItems>
            </Linear>
          </Components>
        </Axes>
        <Controller id="c1">
          <DataItems>
            <DataItem id="temp" name="Temperature" type="TEMPERATURE" category="SAMPLE" units="CELSIUS">
              <Filters>
                <Filter type="MINIMUM_DELTA">2.0</Filter>
              </Filters>
            </DataItem>
            <DataItem id="mode" type="CONTROLLER_MODE" category="EVENT">
              <Constraints>
                <Value>AUTOMATIC</Value>
                <Value>MANUAL</Value>
                <Value>MANUAL_DATA_INPUT</Value>
              </Constraints>
            </DataItem>
            <DataItem id="system" type="SYSTEM" category="CONDITION"/>
            <DataItem id="msg" type="MESSAGE" category="EVENT"/>
          </DataItems>
          <Components>
            <Path id="p1">
              <DataItems>
                <DataItem id="exec" type="EXECUTION" category="EVENT">
                  <Source>execution</Source>
                </DataItem>
                <DataItem id="pc" type="PART_COUNT" category="EVENT" discrete="true"/>
                <DataItem id="vars" type="VARIABLE" category="EVENT" representation="DATA_SET"/>
                <DataItem id="wpo" type="WORK_OFFSET" category="EVENT" representation="TABLE"/>
              </DataItems>
            </Path>
          </Components>
        </Controller>
      </Components>
    </Device>
  </Devices>
</MTConnectDevices>
`

// NewDevice returns the fixture device as the loader produces it from DevicesXML.
func NewDevice() *models.Device {
	return &models.Device{
		ID:               "d1",
		UUID:             DeviceUUID,
		Name:             DeviceName,
		MTConnectVersion: "2.3",
		Description: &models.Description{
			Manufacturer: "ACME",
			Model:        "M1",
			SerialNumber: "42",
			Value:        "Three axis mill",
		},
		DataItems: []*models.DataItem{
			{ID: "avail", Type: models.TypeAvailability, Category: models.CategoryEvent},
		},
		Components: []*models.Component{
			{
				ID:   "a1",
				Type: "Axes",
				Name: "base",
				Components: []*models.Component{
					{
						ID:   "x1",
						Type: "Linear",
						Name: "X",
						DataItems: []*models.DataItem{
							{ID: "xpos", Type: "POSITION", SubType: "ACTUAL", Category: models.CategorySample,
								Units: "MILLIMETER", NativeUnits: "INCH"},
							{ID: "xload", Type: "LOAD", Category: models.CategorySample, Units: "PERCENT",
								Filters: []models.Filter{{Type: models.FilterPeriod, Value: 1.0}}},
							{ID: "xvib", Type: "DISPLACEMENT", Category: models.CategorySample, Units: "MILLIMETER",
								Representation: models.RepresentationTimeSeries},
						},
					},
				},
			},
			{
				ID:   "c1",
				Type: "Controller",
				Name: "controller",
				DataItems: []*models.DataItem{
					{ID: "temp", Name: "Temperature", Type: "TEMPERATURE", Category: models.CategorySample, Units: "CELSIUS",
						Filters: []models.Filter{{Type: models.FilterMinimumDelta, Value: 2.0}}},
					{ID: "mode", Type: "CONTROLLER_MODE", Category: models.CategoryEvent,
						Constraints: &models.Constraints{Values: []string{"AUTOMATIC", "MANUAL", "MANUAL_DATA_INPUT"}}},
					{ID: "system", Type: "SYSTEM", Category: models.CategoryCondition},
					{ID: "msg", Type: models.TypeMessage, Category: models.CategoryEvent},
				},
				Components: []*models.Component{
					{
						ID:   "p1",
						Type: "Path",
						DataItems: []*models.DataItem{
							{ID: "exec", Type: "EXECUTION", Category: models.CategoryEvent,
								Source: &models.Source{Value: "execution"}},
							{ID: "pc", Type: "PART_COUNT", Category: models.CategoryEvent, Discrete: true},
							{ID: "vars", Type: "VARIABLE", Category: models.CategoryEvent,
								Representation: models.RepresentationDataSet},
							{ID: "wpo", Type: "WORK_OFFSET", Category: models.CategoryEvent,
								Representation: models.RepresentationTable},
						},
					},
				},
			},
		},
	}
}

// WriteDevicesFile writes DevicesXML into dir and returns its path.
func WriteDevicesFile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "devices.xml")
	if err := os.WriteFile(path, []byte(DevicesXML), 0644); err != nil {
		t.Fatalf("failed to write devices file: %v", err)
	}
	return path
}
