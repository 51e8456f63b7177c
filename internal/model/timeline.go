// Package model defines the core timeline data structures for inputlat.
// All timestamps are int64 nanoseconds on the producer's monotonic clock.
// Optional timestamps use the TimeUnset sentinel rather than zero, since
// zero is a legal timestamp value.
package model

import "math"

// TimeUnset marks a timestamp slot that has not been populated.
// It is reserved; producers never supply it as a real timestamp.
const TimeUnset int64 = math.MinInt64

// EventID correlates the facts belonging to one input event.
// It is supplied by the producer and treated as opaque.
type EventID int32

// DeviceID identifies the input device an event was read from.
type DeviceID int32

// ConnectionToken is the opaque identity of a consuming connection.
// One event may fan out to multiple connections.
type ConnectionToken string

// Source is a usage source attributed to an input event.
type Source uint8

const (
	SourceUnknown Source = iota
	SourceButtons
	SourceKeyboard
	SourceDPad
	SourceGamepad
	SourceJoystick
	SourceMouse
	SourceTouchpad
	SourceRotaryEncoder
	SourceStylusDirect
	SourceStylusIndirect
	SourceTouchNavigation
	SourceTouchscreen
	SourceTrackball
)

func (s Source) String() string {
	switch s {
	case SourceButtons:
		return "buttons"
	case SourceKeyboard:
		return "keyboard"
	case SourceDPad:
		return "dpad"
	case SourceGamepad:
		return "gamepad"
	case SourceJoystick:
		return "joystick"
	case SourceMouse:
		return "mouse"
	case SourceTouchpad:
		return "touchpad"
	case SourceRotaryEncoder:
		return "rotary_encoder"
	case SourceStylusDirect:
		return "stylus_direct"
	case SourceStylusIndirect:
		return "stylus_indirect"
	case SourceTouchNavigation:
		return "touch_navigation"
	case SourceTouchscreen:
		return "touchscreen"
	case SourceTrackball:
		return "trackball"
	default:
		return "unknown"
	}
}

// EventKind is the coarse event category reported alongside a raw action code.
type EventKind uint8

const (
	KindUnknown EventKind = iota
	KindKey
	KindMotion
)

// Raw action codes, matching the producer's wire values.
const (
	KeyActionDown int32 = 0
	KeyActionUp   int32 = 1

	MotionActionDown        int32 = 0
	MotionActionUp          int32 = 1
	MotionActionMove        int32 = 2
	MotionActionCancel      int32 = 3
	MotionActionPointerDown int32 = 5
)

// ActionType is the classified action category carried on a timeline.
// Key presses and releases collapse into a single category; motion
// down/move/up map one-to-one; everything else is unknown.
type ActionType uint8

const (
	ActionUnknown ActionType = iota
	ActionKey
	ActionMotionDown
	ActionMotionMove
	ActionMotionUp
)

func (a ActionType) String() string {
	switch a {
	case ActionKey:
		return "key"
	case ActionMotionDown:
		return "motion_down"
	case ActionMotionMove:
		return "motion_move"
	case ActionMotionUp:
		return "motion_up"
	default:
		return "unknown"
	}
}

// ClassifyAction maps a raw (actionCode, eventKind) pair to an ActionType.
// Unrecognized pairings classify as ActionUnknown.
func ClassifyAction(actionCode int32, kind EventKind) ActionType {
	switch kind {
	case KindKey:
		if actionCode == KeyActionDown || actionCode == KeyActionUp {
			return ActionKey
		}
	case KindMotion:
		switch actionCode {
		case MotionActionDown:
			return ActionMotionDown
		case MotionActionMove:
			return ActionMotionMove
		case MotionActionUp:
			return ActionMotionUp
		}
	}
	return ActionUnknown
}

// GraphicsTimeline holds the two graphics completion timestamps for one
// connection's rendering of an event. Either slot may be TimeUnset.
type GraphicsTimeline struct {
	GPUCompletedTime int64
	PresentTime      int64
}

// UnsetGraphicsTimeline returns a GraphicsTimeline with both slots unset.
func UnsetGraphicsTimeline() GraphicsTimeline {
	return GraphicsTimeline{GPUCompletedTime: TimeUnset, PresentTime: TimeUnset}
}

// IsSet reports whether any slot holds a real timestamp.
func (g GraphicsTimeline) IsSet() bool {
	return g.GPUCompletedTime != TimeUnset || g.PresentTime != TimeUnset
}

// ConnectionTimeline is one connection's slice of an event's journey:
// when the event was delivered to the connection, consumed by it, and
// acknowledged as finished, plus an optional graphics sub-timeline.
// All fields default to TimeUnset until the corresponding fact arrives.
type ConnectionTimeline struct {
	DeliveryTime int64
	ConsumeTime  int64
	FinishTime   int64
	Graphics     GraphicsTimeline
}

// NewConnectionTimeline builds a ConnectionTimeline from a finish-fact,
// with the graphics sub-timeline left unset.
func NewConnectionTimeline(deliveryTime, consumeTime, finishTime int64) ConnectionTimeline {
	return ConnectionTimeline{
		DeliveryTime: deliveryTime,
		ConsumeTime:  consumeTime,
		FinishTime:   finishTime,
		Graphics:     UnsetGraphicsTimeline(),
	}
}

// HasDispatch reports whether the delivery/consume/finish triple has been
// populated by a finish-fact.
func (c ConnectionTimeline) HasDispatch() bool {
	return c.DeliveryTime != TimeUnset
}

// InputEventTimeline is the consolidated per-event record emitted to sinks.
type InputEventTimeline struct {
	EventTime int64
	ReadTime  int64

	// VendorID and ProductID are resolved from the device identity
	// snapshot at read-fact time; (0, 0) when the device is unknown.
	VendorID  uint16
	ProductID uint16

	// Sources is the set of usage sources the producer attributed to the
	// event, stored verbatim. Order carries no meaning.
	Sources []Source

	ActionType ActionType

	// ConnectionTimelines maps each consuming connection to its
	// sub-timeline. May be empty if the event aged out before any
	// finish or graphics fact arrived.
	ConnectionTimelines map[ConnectionToken]ConnectionTimeline
}

// NewInputEventTimeline builds a timeline from a read-fact, with no
// connection entries yet.
func NewInputEventTimeline(eventTime, readTime int64, vendorID, productID uint16,
	sources []Source, actionType ActionType) *InputEventTimeline {
	return &InputEventTimeline{
		EventTime:           eventTime,
		ReadTime:            readTime,
		VendorID:            vendorID,
		ProductID:           productID,
		Sources:             append([]Source(nil), sources...),
		ActionType:          actionType,
		ConnectionTimelines: make(map[ConnectionToken]ConnectionTimeline),
	}
}

// SetConnectionTimeline inserts or replaces the sub-timeline for a token.
func (t *InputEventTimeline) SetConnectionTimeline(token ConnectionToken, ct ConnectionTimeline) {
	t.ConnectionTimelines[token] = ct
}

// Equal reports deep equality: all scalar fields equal, the source sets
// equal as multisets, and the connection mappings containing exactly the
// same (token, ConnectionTimeline) pairs. Insertion order is irrelevant.
func (t *InputEventTimeline) Equal(o *InputEventTimeline) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.EventTime != o.EventTime || t.ReadTime != o.ReadTime ||
		t.VendorID != o.VendorID || t.ProductID != o.ProductID ||
		t.ActionType != o.ActionType {
		return false
	}
	if !sourcesEqual(t.Sources, o.Sources) {
		return false
	}
	if len(t.ConnectionTimelines) != len(o.ConnectionTimelines) {
		return false
	}
	for token, ct := range t.ConnectionTimelines {
		oct, ok := o.ConnectionTimelines[token]
		if !ok || ct != oct {
			return false
		}
	}
	return true
}

// Clone returns a deep copy. The tracker hands each flushed timeline to the
// sink exactly once, so sinks that retain timelines past the Accept call
// use Clone to detach from any shared backing storage.
func (t *InputEventTimeline) Clone() *InputEventTimeline {
	c := &InputEventTimeline{
		EventTime:           t.EventTime,
		ReadTime:            t.ReadTime,
		VendorID:            t.VendorID,
		ProductID:           t.ProductID,
		Sources:             append([]Source(nil), t.Sources...),
		ActionType:          t.ActionType,
		ConnectionTimelines: make(map[ConnectionToken]ConnectionTimeline, len(t.ConnectionTimelines)),
	}
	for token, ct := range t.ConnectionTimelines {
		c.ConnectionTimelines[token] = ct
	}
	return c
}

// sourcesEqual compares two source sets as multisets.
func sourcesEqual(a, b []Source) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[Source]int, len(a))
	for _, s := range a {
		counts[s]++
	}
	for _, s := range b {
		counts[s]--
		if counts[s] < 0 {
			return false
		}
	}
	return true
}
