package web

import (
	"encoding/json"

	"github.com/sweeney/devicecore/internal/settings"
)

// SettingsJSON is the JSON representation of every registered setting.
type SettingsJSON struct {
	Settings []SettingJSON `json:"settings"`
}

// SettingJSON is one setting.
type SettingJSON struct {
	Key   string `json:"key"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value"`
}

// ErrorJSON reports a rejected request.
type ErrorJSON struct {
	Error string `json:"error"`
}

func formatSettings(entries []settings.Entry) []byte {
	out := SettingsJSON{Settings: make([]SettingJSON, 0, len(entries))}
	for _, e := range entries {
		out.Settings = append(out.Settings, SettingJSON{Key: e.Key, Name: e.Name, Value: e.Value})
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return data
}

func formatSetting(key, value string) []byte {
	data, _ := json.Marshal(SettingJSON{Key: key, Value: value})
	return data
}

func formatError(err error) []byte {
	data, _ := json.Marshal(ErrorJSON{Error: err.Error()})
	return data
}
