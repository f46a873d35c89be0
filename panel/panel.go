// Package panel decodes the radio's front panel: four push buttons with
// short and long presses, and a rotary encoder with a push switch. Inputs
// are active low with pull-ups, so a level of 1 means released.
package panel

import (
	"fmt"
	"time"
)

// Event is one user action on the panel.
type Event string

// Panel events
const (
	EventNone      Event = ""
	EventLeft      Event = "left"
	EventRight     Event = "right"
	EventUpShort   Event = "up_short"
	EventUpLong    Event = "up_long"
	EventDownShort Event = "down_short"
	EventDownLong  Event = "down_long"
	EventCW        Event = "cw"
	EventCCW       Event = "ccw"
	EventClick     Event = "click"
)

var events = map[Event]bool{
	EventLeft:      true,
	EventRight:     true,
	EventUpShort:   true,
	EventUpLong:    true,
	EventDownShort: true,
	EventDownLong:  true,
	EventCW:        true,
	EventCCW:       true,
	EventClick:     true,
}

// ParseEvent validates an event name.
func ParseEvent(s string) (Event, error) {
	ev := Event(s)
	if !events[ev] {
		return EventNone, fmt.Errorf("unknown panel event %q", s)
	}
	return ev, nil
}

// Timing of the button and encoder decoders
const (
	Debounce       = 50 * time.Millisecond   // a level must hold this long to count
	ShortPressMax  = 2500 * time.Millisecond // released before this is a short press
	LongPressMin   = 3000 * time.Millisecond // held past this is a long press
	RotaryDebounce = 50 * time.Millisecond
	ClickDebounce  = 20 * time.Millisecond
)

// Press is what a button reports for one sample.
type Press int

// Button presses
const (
	PressNone Press = iota
	PressShort
	PressLong
)

// Button debounces one button and measures how long it is held. A press
// released between ShortPressMax and LongPressMin reports nothing.
type Button struct {
	stable       int
	flicker      int
	lastChange   time.Time
	pressStart   time.Time
	pressed      bool
	longReported bool
}

// NewButton starts a button at the given level.
func NewButton(level int, now time.Time) *Button {
	return &Button{stable: level, flicker: level, lastChange: now}
}

// Sample feeds the current level and returns a press, if one completed.
func (b *Button) Sample(level int, now time.Time) Press {
	if level != b.flicker {
		b.lastChange = now
	}
	b.flicker = level

	if now.Sub(b.lastChange) > Debounce && level != b.stable {
		b.stable = level
		if level == 0 {
			b.pressStart = now
			b.pressed = true
			b.longReported = false
		} else {
			b.pressed = false
			if !b.longReported && now.Sub(b.pressStart) < ShortPressMax {
				return PressShort
			}
		}
	}

	if b.pressed && !b.longReported && now.Sub(b.pressStart) > LongPressMin {
		b.longReported = true
		return PressLong
	}
	return PressNone
}

// Encoder decodes rotation on the CLK rising edge, using DT for direction,
// and the push switch on its falling edge.
type Encoder struct {
	lastCLK    int
	lastSW     int
	lastRotary time.Time
	lastClick  time.Time
}

// NewEncoder starts an encoder at the given CLK and switch levels.
func NewEncoder(clk, sw int) *Encoder {
	return &Encoder{lastCLK: clk, lastSW: sw}
}

// Sample feeds the current levels and returns at most one event.
func (e *Encoder) Sample(clk, dt, sw int, now time.Time) Event {
	ev := EventNone

	if clk != e.lastCLK && clk == 1 &&
		now.Sub(e.lastRotary) > RotaryDebounce && now.Sub(e.lastClick) > ClickDebounce {
		ev = EventCCW
		if dt != clk {
			ev = EventCW
		}
		e.lastRotary = now
	}
	e.lastCLK = clk

	if ev == EventNone && sw == 0 && e.lastSW == 1 &&
		now.Sub(e.lastClick) > ClickDebounce && now.Sub(e.lastRotary) > ClickDebounce {
		ev = EventClick
		e.lastClick = now
	}
	e.lastSW = sw

	return ev
}

// Levels is one sample of every panel input.
type Levels struct {
	Up, Down, Left, Right int
	CLK, DT, SW           int
}

// Released is the idle state of the panel.
var Released = Levels{Up: 1, Down: 1, Left: 1, Right: 1, CLK: 1, DT: 1, SW: 1}

// Decoder turns samples of the whole panel into events.
type Decoder struct {
	up, down, left, right *Button
	enc                   *Encoder
}

// NewDecoder starts a decoder from an initial sample.
func NewDecoder(l Levels, now time.Time) *Decoder {
	return &Decoder{
		up:    NewButton(l.Up, now),
		down:  NewButton(l.Down, now),
		left:  NewButton(l.Left, now),
		right: NewButton(l.Right, now),
		enc:   NewEncoder(l.CLK, l.SW),
	}
}

// Sample feeds one sample and returns the events it completed. Left and
// right only have a short press.
func (d *Decoder) Sample(l Levels, now time.Time) []Event {
	var out []Event

	switch d.up.Sample(l.Up, now) {
	case PressShort:
		out = append(out, EventUpShort)
	case PressLong:
		out = append(out, EventUpLong)
	}
	switch d.down.Sample(l.Down, now) {
	case PressShort:
		out = append(out, EventDownShort)
	case PressLong:
		out = append(out, EventDownLong)
	}
	if d.left.Sample(l.Left, now) == PressShort {
		out = append(out, EventLeft)
	}
	if d.right.Sample(l.Right, now) == PressShort {
		out = append(out, EventRight)
	}
	if ev := d.enc.Sample(l.CLK, l.DT, l.SW, now); ev != EventNone {
		out = append(out, ev)
	}

	return out
}
