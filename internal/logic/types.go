// Package logic contains pure input-classification logic for debounced
// buttons and switches. This package has NO external dependencies (no GPIO,
// MQTT, OS, or time.Sleep). Time is always injectable via time.Time parameters.
package logic

import "time"

// Gesture is a classified input event.
type Gesture string

const (
	GesturePress            Gesture = "PRESS"
	GestureRelease          Gesture = "RELEASE"
	GestureClick            Gesture = "CLICK"
	GestureDoubleClick      Gesture = "DOUBLE_CLICK"
	GestureLongClick        Gesture = "LONG_CLICK"
	GestureLongPressStartup Gesture = "LONG_PRESS_STARTUP"
)

// Default timings.
const (
	DefaultDebounce    = 40 * time.Millisecond
	DefaultDoubleClick = 350 * time.Millisecond
	DefaultLongClick   = 700 * time.Millisecond
)

// Timing holds the classification thresholds of one input.
type Timing struct {
	Debounce    time.Duration
	DoubleClick time.Duration
	LongClick   time.Duration
}

// WithDefaults replaces zero fields with the package defaults.
func (t Timing) WithDefaults() Timing {
	if t.Debounce <= 0 {
		t.Debounce = DefaultDebounce
	}
	if t.DoubleClick <= 0 {
		t.DoubleClick = DefaultDoubleClick
	}
	if t.LongClick <= 0 {
		t.LongClick = DefaultLongClick
	}
	return t
}
