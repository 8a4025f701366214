package pinio

import (
	"math"

	"github.com/sweeney/devicecore/internal/status"
)

// Runtime group names and their display order.
const (
	GroupOutputs       = "outputs"
	GroupInputs        = "inputs"
	GroupAnalog        = "analog"
	GroupAnalogOutputs = "outputs_analog"
)

// RegisterRuntime publishes outputs, inputs and analog values to reg. The
// analog output group only appears when analog outputs exist. Call after
// all bindings are added.
func (m *Manager) RegisterRuntime(reg *status.Registry) {
	reg.AddProvider(GroupOutputs, 20, func() map[string]any {
		out := make(map[string]any, len(m.outputs))
		for _, o := range m.outputs {
			out[o.binding.ID] = o.desired
		}
		return out
	})
	reg.AddProvider(GroupInputs, 30, func() map[string]any {
		out := make(map[string]any, len(m.inputs))
		for _, in := range m.inputs {
			out[in.binding.ID] = in.classifier.Pressed()
		}
		return out
	})
	reg.AddProvider(GroupAnalog, 40, func() map[string]any {
		out := make(map[string]any, 2*len(m.analogs))
		for _, a := range m.analogs {
			if math.IsNaN(a.value) {
				out[a.binding.ID] = nil
			} else {
				out[a.binding.ID] = a.value
			}
			out[a.binding.ID+"_raw"] = a.raw
		}
		return out
	})

	if len(m.analogOuts) > 0 {
		reg.AddProvider(GroupAnalogOutputs, 45, func() map[string]any {
			out := make(map[string]any, 3*len(m.analogOuts))
			for _, o := range m.analogOuts {
				out[o.binding.ID] = o.valueOf(o.volts)
				out[o.binding.ID+"_raw"] = o.volts
				out[o.binding.ID+"_dac"] = o.codeOf(o.volts)
			}
			return out
		})
	}

	for i, o := range m.outputs {
		reg.AddField(status.FieldMeta{Group: GroupOutputs, Key: o.binding.ID, Label: displayName(o.binding.Name, o.binding.ID), IsBool: true, Order: i})
	}
	for i, in := range m.inputs {
		reg.AddField(status.FieldMeta{Group: GroupInputs, Key: in.binding.ID, Label: displayName(in.binding.Name, in.binding.ID), IsBool: true, Order: i})
	}
	for i, a := range m.analogs {
		reg.AddField(status.FieldMeta{
			Group:     GroupAnalog,
			Key:       a.binding.ID,
			Label:     displayName(a.binding.Name, a.binding.ID),
			Unit:      a.unitName(),
			Precision: precisionFor(a.binding.Deadband),
			Order:     i,
		})
	}
	for i, o := range m.analogOuts {
		reg.AddField(status.FieldMeta{
			Group:     GroupAnalogOutputs,
			Key:       o.binding.ID,
			Label:     displayName(o.binding.Name, o.binding.ID),
			Unit:      o.binding.Unit,
			Precision: 1,
			Order:     i,
		})
	}
}

func displayName(name, id string) string {
	if name == "" {
		return id
	}
	return name
}

// precisionFor picks enough decimals to show a change of one deadband.
func precisionFor(deadband float64) int {
	p := 0
	for d := deadband; p < 4 && d > 0 && d < 1; d *= 10 {
		p++
	}
	return p
}
