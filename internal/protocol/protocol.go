// Package protocol defines the JSON envelopes exchanged between contexts:
// request/response over the inter-context channel and broadcast frames
// fanned out after committed changes.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AstroMined/settings-extension-sub002/internal/store"
)

// Request types.
const (
	MsgGetSetting     = "GET_SETTING"
	MsgGetSettings    = "GET_SETTINGS"
	MsgGetAllSettings = "GET_ALL_SETTINGS"
	MsgUpdateSetting  = "UPDATE_SETTING"
	MsgUpdateSettings = "UPDATE_SETTINGS"
	MsgExportSettings = "EXPORT_SETTINGS"
	MsgImportSettings = "IMPORT_SETTINGS"
	MsgResetSettings  = "RESET_SETTINGS"
)

// Broadcast types.
const (
	MsgSettingsChanged  = "SETTINGS_CHANGED"
	MsgSettingsImported = "SETTINGS_IMPORTED"
	MsgSettingsReset    = "SETTINGS_RESET"
)

// ExportVersion is the current export file format version.
const ExportVersion = "1.0"

// Request is one message from a context to the authority.
type Request struct {
	ID      string                     `json:"id"`
	Type    string                     `json:"type"`
	Key     string                     `json:"key,omitempty"`
	Keys    []string                   `json:"keys,omitempty"`
	Value   json.RawMessage            `json:"value,omitempty"`
	Updates map[string]json.RawMessage `json:"updates,omitempty"`
	Data    json.RawMessage            `json:"data,omitempty"`
}

// Response answers one Request. Exactly one of the payload fields or Error
// is populated.
type Response struct {
	ID       string                  `json:"id"`
	Value    any                     `json:"value,omitempty"`
	Values   map[string]any          `json:"values,omitempty"`
	Settings map[string]store.Record `json:"settings,omitempty"`
	Data     *ExportFile             `json:"data,omitempty"`
	Success  bool                    `json:"success,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// Broadcast informs every live context of committed changes.
// SETTINGS_CHANGED carries only the changed keys; SETTINGS_IMPORTED and
// SETTINGS_RESET carry the full settings map.
type Broadcast struct {
	Type     string                  `json:"type"`
	Changes  map[string]any          `json:"changes,omitempty"`
	Settings map[string]store.Record `json:"settings,omitempty"`
}

// IsBroadcastType reports whether t names a broadcast frame. Used to
// demultiplex server frames on a shared connection.
func IsBroadcastType(t string) bool {
	switch t {
	case MsgSettingsChanged, MsgSettingsImported, MsgSettingsReset:
		return true
	default:
		return false
	}
}

// ExportFile is the settings export format.
type ExportFile struct {
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Settings  map[string]ExportEntry `json:"settings"`
}

// ExportEntry is one exported setting.
type ExportEntry struct {
	Type        string `json:"type"`
	Value       any    `json:"value"`
	Description string `json:"description"`
}

// ParseExport decodes and checks an export file.
func ParseExport(data []byte) (*ExportFile, error) {
	var f ExportFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse export data: %w", err)
	}
	if f.Version != ExportVersion {
		return nil, fmt.Errorf("unsupported export version %q", f.Version)
	}
	return &f, nil
}
