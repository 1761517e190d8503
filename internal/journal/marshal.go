package journal

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/template"
)

// marshalValues encodes a value vector as a canonical JSON array.
func marshalValues(vals []ir.Value) (string, error) {
	data, err := ir.MarshalCanonicalValues(vals)
	if err != nil {
		return "", fmt.Errorf("marshal values: %w", err)
	}
	return string(data), nil
}

func unmarshalValues(data string) ([]ir.Value, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	vals, err := ir.UnmarshalCanonicalValues([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal values: %w", err)
	}
	return vals, nil
}

// marshalSlots encodes a fact's values as a JSON object keyed by slot
// name. A nil names slice marks an ordered fact, stored as one implied
// multifield.
func marshalSlots(names []string, vals []ir.Value) (string, error) {
	if names == nil {
		names = []string{template.ImpliedSlot}
		vals = []ir.Value{ir.Multi(vals...)}
	}
	if len(names) != len(vals) {
		return "", fmt.Errorf("marshal slots: %d names for %d values", len(names), len(vals))
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return "", fmt.Errorf("marshal slot %s: %w", name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		v, err := ir.MarshalCanonical(vals[i])
		if err != nil {
			return "", fmt.Errorf("marshal slot %s: %w", name, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

// DecodeSlots decodes a stored slots object, keeping slot order.
func DecodeSlots(data string) ([]ir.SlotValue, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("unmarshal slots: expected object")
	}
	var out []ir.SlotValue
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("unmarshal slots: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unmarshal slots: expected slot name, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("unmarshal slot %s: %w", name, err)
		}
		v, err := ir.UnmarshalCanonical(raw)
		if err != nil {
			return nil, fmt.Errorf("unmarshal slot %s: %w", name, err)
		}
		out = append(out, ir.SlotValue{Name: name, Value: v})
	}
	return out, nil
}
