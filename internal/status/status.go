// Package status collects runtime telemetry from the managers.
//
// Managers register providers (closures producing a flat key/value map) and
// field metadata. The scheduler loop calls Refresh once per tick, which runs
// every provider on the loop goroutine and stores the result; HTTP handlers
// and publishers only ever read the stored Snapshot.
package status

import (
	"sort"
	"sync"
	"time"
)

// Provider produces one group's current values.
type Provider func() map[string]any

// FieldMeta describes how a UI should render one runtime value.
type FieldMeta struct {
	Group         string `json:"group"`
	Key           string `json:"key"`
	Label         string `json:"label"`
	Unit          string `json:"unit,omitempty"`
	Precision     int    `json:"precision"`
	IsBool        bool   `json:"is_bool"`
	HasAlarm      bool   `json:"has_alarm"`
	AlarmWhenTrue bool   `json:"alarm_when_true"`
	Order         int    `json:"order"`
}

// Snapshot is a point-in-time view of all groups.
// It is a value type, but the group maps are shared: do not mutate them.
type Snapshot struct {
	StartTime time.Time
	Now       time.Time
	Groups    map[string]map[string]any
	// Order lists group names by provider order.
	Order []string
}

// Uptime returns the duration since the process started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

type provider struct {
	group string
	order int
	fn    Provider
}

// Registry holds providers and the latest snapshot behind an RWMutex.
type Registry struct {
	now func() time.Time

	mu        sync.RWMutex
	providers []provider
	fields    []FieldMeta
	snap      Snapshot
}

// NewRegistry creates a Registry. now stamps each Refresh.
func NewRegistry(startTime time.Time, now func() time.Time) *Registry {
	return &Registry{
		now:  now,
		snap: Snapshot{StartTime: startTime, Now: startTime, Groups: map[string]map[string]any{}},
	}
}

// AddProvider registers fn under group. Lower order groups list first.
// A second provider for the same group replaces the first.
func (r *Registry) AddProvider(group string, order int, fn Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.providers {
		if r.providers[i].group == group {
			r.providers[i] = provider{group: group, order: order, fn: fn}
			return
		}
	}
	r.providers = append(r.providers, provider{group: group, order: order, fn: fn})
	sort.SliceStable(r.providers, func(i, j int) bool { return r.providers[i].order < r.providers[j].order })
}

// AddField registers metadata for one value.
func (r *Registry) AddField(f FieldMeta) {
	r.mu.Lock()
	r.fields = append(r.fields, f)
	r.mu.Unlock()
}

// Refresh runs every provider and stores the result. Called from the
// scheduler loop only.
func (r *Registry) Refresh() {
	r.mu.RLock()
	providers := append([]provider(nil), r.providers...)
	r.mu.RUnlock()

	groups := make(map[string]map[string]any, len(providers))
	order := make([]string, 0, len(providers))
	for _, p := range providers {
		groups[p.group] = p.fn()
		order = append(order, p.group)
	}

	r.mu.Lock()
	r.snap.Groups = groups
	r.snap.Order = order
	r.snap.Now = r.now()
	r.mu.Unlock()
}

// Snapshot returns the state stored by the last Refresh.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Fields returns field metadata ordered by group order, then field order.
func (r *Registry) Fields() []FieldMeta {
	r.mu.RLock()
	groupOrder := make(map[string]int, len(r.providers))
	for _, p := range r.providers {
		groupOrder[p.group] = p.order
	}
	out := append([]FieldMeta(nil), r.fields...)
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		gi, gj := groupOrder[out[i].Group], groupOrder[out[j].Group]
		if gi != gj {
			return gi < gj
		}
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Order < out[j].Order
	})
	return out
}
