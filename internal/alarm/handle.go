package alarm

import "time"

// Handle attaches hooks to a registered entry. A nil Handle ignores every
// call, so chained registration on a duplicate id is safe.
type Handle struct {
	e *entry
}

// ID returns the entry id, or "" for a nil handle.
func (h *Handle) ID() string {
	if h == nil {
		return ""
	}
	return h.e.id
}

// OnAlarmCome fires when the entry becomes active.
func (h *Handle) OnAlarmCome(fn func()) *Handle {
	if h != nil {
		h.e.onCome = fn
	}
	return h
}

// OnAlarmGone fires when the entry becomes inactive.
func (h *Handle) OnAlarmGone(fn func()) *Handle {
	if h != nil {
		h.e.onGone = fn
	}
	return h
}

// OnAlarmStay fires every interval while the entry stays active. An
// interval of zero or less disables the callback.
func (h *Handle) OnAlarmStay(fn func(), interval time.Duration) *Handle {
	if h != nil {
		h.e.onStay = fn
		h.e.stayInterval = interval
	}
	return h
}

// OnStateChanged fires with the new active flag before OnAlarmCome/Gone.
func (h *Handle) OnStateChanged(fn func(active bool)) *Handle {
	if h != nil {
		h.e.onStateChanged = fn
	}
	return h
}

// OnStateCodeChanged fires when the classified State changes.
func (h *Handle) OnStateCodeChanged(fn func(State)) *Handle {
	if h != nil {
		h.e.onStateCodeChanged = fn
	}
	return h
}

// BindActive mirrors the active flag into p on every Update.
func (h *Handle) BindActive(p *bool) *Handle {
	if h != nil {
		h.e.boundActive = p
	}
	return h
}

// BindState mirrors the classified State into p on every Update.
func (h *Handle) BindState(p *State) *Handle {
	if h != nil {
		h.e.boundState = p
	}
	return h
}
