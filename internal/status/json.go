package status

import (
	"encoding/json"
	"math"
	"time"
)

// RuntimeJSON is the top-level JSON envelope for runtime output.
type RuntimeJSON struct {
	Runtime RuntimeInner `json:"runtime"`
}

// RuntimeInner contains the runtime details.
type RuntimeInner struct {
	Event         string                    `json:"event,omitempty"`
	Reason        string                    `json:"reason,omitempty"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	StartTime     string                    `json:"start_time"`
	Timestamp     string                    `json:"timestamp"`
	Order         []string                  `json:"order"`
	Groups        map[string]map[string]any `json:"groups"`
}

// MetaJSON is the JSON envelope for field metadata.
type MetaJSON struct {
	Fields []FieldMeta `json:"fields"`
}

func buildInner(snap Snapshot) RuntimeInner {
	groups := make(map[string]map[string]any, len(snap.Groups))
	for name, values := range snap.Groups {
		clean := make(map[string]any, len(values))
		for k, v := range values {
			clean[k] = jsonSafe(v)
		}
		groups[name] = clean
	}
	order := snap.Order
	if order == nil {
		order = []string{}
	}

	return RuntimeInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Order:         order,
		Groups:        groups,
	}
}

// jsonSafe maps values encoding/json rejects (NaN, Inf) to null.
func jsonSafe(v any) any {
	switch f := v.(type) {
	case float64:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil
		}
	}
	return v
}

// FormatJSON returns the runtime JSON for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(RuntimeJSON{Runtime: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the runtime JSON for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(RuntimeJSON{Runtime: inner})
	return data
}

// FormatMetaJSON returns the field metadata JSON.
func FormatMetaJSON(fields []FieldMeta) []byte {
	if fields == nil {
		fields = []FieldMeta{}
	}
	data, _ := json.MarshalIndent(MetaJSON{Fields: fields}, "", "  ")
	return data
}
