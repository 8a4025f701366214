package alarm

import "github.com/sweeney/devicecore/internal/status"

// Group is the runtime group alarms are published under.
const Group = "alarms"

// RegisterRuntime publishes every entry's state code to reg.
func (g *Engine) RegisterRuntime(reg *status.Registry) {
	reg.AddProvider(Group, 50, func() map[string]any {
		out := make(map[string]any, len(g.entries)+1)
		for _, e := range g.entries {
			out[e.id] = int(e.state)
		}
		out["any_active"] = g.HasActiveAlarms()
		return out
	})
	for i, e := range g.entries {
		reg.AddField(status.FieldMeta{
			Group:         Group,
			Key:           e.id,
			Label:         e.name,
			Unit:          e.severity.String(),
			HasAlarm:      true,
			AlarmWhenTrue: true,
			Order:         i,
		})
	}
}
