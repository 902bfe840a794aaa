package transform

import (
	"encoding/json"
	"fmt"
)

// Frame is a step's canonical on-disk representation: its Type() tag plus a
// JSON payload, per spec.md §4.10 ("Every step implements ... a type tag
// used by the replication adapter" and "Frame its steps ... canonical
// on-disk tag plus payload").
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeSteps frames steps into a single JSON array, suitable as an
// EventRecord payload before codec compression.
func EncodeSteps(steps []Step) ([]byte, error) {
	frames := make([]Frame, len(steps))
	for i, s := range steps {
		data, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("encode step %d (%s): %w", i, s.Type(), err)
		}
		frames[i] = Frame{Type: s.Type(), Data: data}
	}
	return json.Marshal(frames)
}

// DecodeSteps reverses EncodeSteps for the six primitive step types. A
// frame tagged "step_sequence" (what EncodeSteps writes for a StepSequence)
// is rejected as an unknown step type.
func DecodeSteps(payload []byte) ([]Step, error) {
	var frames []Frame
	if err := json.Unmarshal(payload, &frames); err != nil {
		return nil, fmt.Errorf("decode step frames: %w", err)
	}
	out := make([]Step, len(frames))
	for i, f := range frames {
		s, err := decodeFrame(f)
		if err != nil {
			return nil, fmt.Errorf("decode step %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

func decodeFrame(f Frame) (Step, error) {
	switch f.Type {
	case "add_node":
		var s AddNode
		if err := json.Unmarshal(f.Data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case "remove_node":
		var s RemoveNode
		if err := json.Unmarshal(f.Data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case "move_node":
		var s MoveNode
		if err := json.Unmarshal(f.Data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case "attr_step":
		var s AttrStep
		if err := json.Unmarshal(f.Data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case "add_mark":
		var s AddMark
		if err := json.Unmarshal(f.Data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case "remove_mark":
		var s RemoveMark
		if err := json.Unmarshal(f.Data, &s); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown step type %q", f.Type)
	}
}
