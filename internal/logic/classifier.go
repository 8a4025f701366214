package logic

import "time"

// Classifier debounces one digital input and turns its edges into gestures.
// Every physical gesture ends in exactly one of click, double click or long
// click (or long press on startup).
type Classifier struct {
	timing Timing

	raw           bool
	debounced     bool
	lastRawChange time.Time
	pressStart    time.Time
	longFired     bool
	clickCount    int
	lastRelease   time.Time
}

// NewClassifier creates a classifier; zero timing fields take defaults.
func NewClassifier(timing Timing) *Classifier {
	return &Classifier{timing: timing.WithDefaults()}
}

// Timing returns the effective thresholds.
func (c *Classifier) Timing() Timing {
	return c.timing
}

// Seed resets tracking to level without producing events. A level that is
// already pressed starts its press at now, so it can still become a long
// click but never reports a press edge.
func (c *Classifier) Seed(level bool, now time.Time) {
	c.raw = level
	c.debounced = level
	c.lastRawChange = now
	c.longFired = false
	c.clickCount = 0
	c.lastRelease = time.Time{}
	if level {
		c.pressStart = now
	} else {
		c.pressStart = time.Time{}
	}
}

// Pressed returns the debounced level.
func (c *Classifier) Pressed() bool {
	return c.debounced
}

// Process feeds one sample. startup selects GestureLongPressStartup over
// GestureLongClick for a long press completing in this call.
func (c *Classifier) Process(level bool, now time.Time, startup bool) []Gesture {
	var out []Gesture

	if level != c.raw {
		c.raw = level
		c.lastRawChange = now
	}

	if c.raw != c.debounced && now.Sub(c.lastRawChange) >= c.timing.Debounce {
		c.debounced = c.raw
		if c.debounced {
			c.pressStart = now
			c.longFired = false
			out = append(out, GesturePress)
		} else {
			out = append(out, GestureRelease)
			if c.longFired {
				c.clickCount = 0
			} else {
				c.clickCount++
				c.lastRelease = now
				if c.clickCount == 2 {
					// a third tap starts a new gesture
					c.clickCount = 0
					out = append(out, GestureDoubleClick)
				}
			}
		}
	}

	if c.debounced && !c.longFired && now.Sub(c.pressStart) >= c.timing.LongClick {
		c.longFired = true
		c.clickCount = 0
		if startup {
			out = append(out, GestureLongPressStartup)
		} else {
			out = append(out, GestureLongClick)
		}
	}

	if !c.debounced && c.clickCount == 1 && now.Sub(c.lastRelease) >= c.timing.DoubleClick {
		c.clickCount = 0
		out = append(out, GestureClick)
	}

	return out
}
