package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Information is the agent state persisted across restarts.
type Information struct {
	InstanceID            string    `json:"instanceId"`
	DeviceModelChangeTime time.Time `json:"deviceModelChangeTime"`
	Created               time.Time `json:"created"`
}

// LoadInformation reads the agent information file. A missing file yields
// fresh information with a new instance id.
func LoadInformation(path string, now time.Time) (Information, error) {
	info := Information{InstanceID: uuid.NewString(), Created: now, DeviceModelChangeTime: now}
	if path == "" {
		return info, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return info, nil
	}
	if err != nil {
		return info, fmt.Errorf("failed to read agent information: %w", err)
	}

	var stored Information
	if err := json.Unmarshal(data, &stored); err != nil {
		return info, fmt.Errorf("failed to parse agent information: %w", err)
	}
	if stored.InstanceID == "" {
		stored.InstanceID = info.InstanceID
	}
	if stored.Created.IsZero() {
		stored.Created = now
	}
	return stored, nil
}

// Save writes the information file atomically.
func (i Information) Save(path string) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal agent information: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write agent information: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace agent information: %w", err)
	}
	return nil
}
