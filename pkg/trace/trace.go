// Package trace defines the JSONL fact-trace format and the replayer that
// feeds recorded facts through the correlation engine. A trace is a
// newline-delimited sequence of fact records, one JSON object per line, in
// producer order: device identity snapshots, read-facts, finish-facts, and
// graphics-facts.
package trace

import (
	"encoding/json"
	"fmt"

	"github.com/pixellineage/inputlat/internal/model"
	"github.com/pixellineage/inputlat/pkg/devices"
	"github.com/pixellineage/inputlat/pkg/errors"
	"github.com/pixellineage/inputlat/pkg/tracker"
)

// Fact types appearing in a trace.
const (
	TypeRead     = "read"
	TypeFinish   = "finish"
	TypeGraphics = "graphics"
	TypeDevices  = "devices"
)

// DeviceEntry is one device in an identity snapshot record.
type DeviceEntry struct {
	DeviceID  int32  `json:"device_id"`
	VendorID  uint16 `json:"vendor_id"`
	ProductID uint16 `json:"product_id"`
}

// Fact is one trace record. Only the fields for its Type are meaningful.
type Fact struct {
	Type string `json:"type"`

	// read
	EventID    int32    `json:"event_id,omitempty"`
	EventTime  int64    `json:"event_time,omitempty"`
	ReadTime   int64    `json:"read_time,omitempty"`
	DeviceID   int32    `json:"device_id,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	ActionCode int32    `json:"action_code,omitempty"`
	Kind       string   `json:"kind,omitempty"`

	// finish / graphics
	Token        string `json:"token,omitempty"`
	DeliveryTime int64  `json:"delivery_time,omitempty"`
	ConsumeTime  int64  `json:"consume_time,omitempty"`
	FinishTime   int64  `json:"finish_time,omitempty"`

	// graphics; a nil slot means the producer had no value for it
	GPUCompletedTime *int64 `json:"gpu_completed_time,omitempty"`
	PresentTime      *int64 `json:"present_time,omitempty"`

	// devices
	Devices []DeviceEntry `json:"devices,omitempty"`
}

// DecodeFact parses one trace line.
func DecodeFact(line []byte, lineNo int) (*Fact, error) {
	var f Fact
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, errors.InvalidRecord(lineNo, err)
	}
	switch f.Type {
	case TypeRead, TypeFinish, TypeGraphics, TypeDevices:
		return &f, nil
	default:
		return nil, errors.UnknownFactType(f.Type, lineNo)
	}
}

// parseSource maps a trace source name to its enum value. Unrecognized
// names degrade to the unknown source rather than failing the line.
func parseSource(name string) model.Source {
	switch name {
	case "buttons":
		return model.SourceButtons
	case "keyboard":
		return model.SourceKeyboard
	case "dpad":
		return model.SourceDPad
	case "gamepad":
		return model.SourceGamepad
	case "joystick":
		return model.SourceJoystick
	case "mouse":
		return model.SourceMouse
	case "touchpad":
		return model.SourceTouchpad
	case "rotary_encoder":
		return model.SourceRotaryEncoder
	case "stylus_direct":
		return model.SourceStylusDirect
	case "stylus_indirect":
		return model.SourceStylusIndirect
	case "touch_navigation":
		return model.SourceTouchNavigation
	case "touchscreen":
		return model.SourceTouchscreen
	case "trackball":
		return model.SourceTrackball
	default:
		return model.SourceUnknown
	}
}

// parseKind maps a trace kind name to its enum value.
func parseKind(name string) model.EventKind {
	switch name {
	case "key":
		return model.KindKey
	case "motion":
		return model.KindMotion
	default:
		return model.KindUnknown
	}
}

// Apply dispatches a fact to the engine. The caller serializes Apply calls,
// matching the engine's single-threaded contract.
func Apply(f *Fact, t *tracker.Tracker) error {
	switch f.Type {
	case TypeRead:
		sources := make([]model.Source, 0, len(f.Sources))
		for _, s := range f.Sources {
			sources = append(sources, parseSource(s))
		}
		t.RecordRead(model.EventID(f.EventID), f.EventTime, f.ReadTime,
			model.DeviceID(f.DeviceID), sources, f.ActionCode, parseKind(f.Kind))

	case TypeFinish:
		t.RecordFinish(model.EventID(f.EventID), model.ConnectionToken(f.Token),
			f.DeliveryTime, f.ConsumeTime, f.FinishTime)

	case TypeGraphics:
		g := model.UnsetGraphicsTimeline()
		if f.GPUCompletedTime != nil {
			g.GPUCompletedTime = *f.GPUCompletedTime
		}
		if f.PresentTime != nil {
			g.PresentTime = *f.PresentTime
		}
		t.RecordGraphics(model.EventID(f.EventID), model.ConnectionToken(f.Token), g)

	case TypeDevices:
		snapshot := make([]devices.Identity, 0, len(f.Devices))
		for _, d := range f.Devices {
			snapshot = append(snapshot, devices.Identity{
				DeviceID:  model.DeviceID(d.DeviceID),
				VendorID:  d.VendorID,
				ProductID: d.ProductID,
			})
		}
		t.SetIdentities(snapshot)

	default:
		return fmt.Errorf("unreachable fact type %q", f.Type)
	}
	return nil
}
