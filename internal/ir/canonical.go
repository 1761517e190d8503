package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces deterministic JSON for a value.
//
// Every value is encoded as a two-element array [kind, payload] so that
// Symbol "x" and String "x" (or Boolean TRUE and Symbol TRUE) never collide.
// Strings are NFC normalized and HTML characters are not escaped. Floats
// are encoded as their shortest decimal text to survive round trips.
func MarshalCanonical(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalCanonicalValues encodes a slice of values as a JSON array.
func MarshalCanonicalValues(vals []Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range vals {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonical(&buf, v); err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v Value) error {
	if v == nil {
		return fmt.Errorf("nil value has no canonical form")
	}
	buf.WriteByte('[')
	buf.WriteString(`"` + v.Kind().String() + `",`)
	switch val := v.(type) {
	case Integer:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Float:
		s, err := marshalCanonicalString(val.String())
		if err != nil {
			return err
		}
		buf.Write(s)
	case Boolean:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case FactAddress:
		buf.WriteString(strconv.FormatInt(val.Index, 10))
	case Multifield:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	default:
		text, _ := Lexeme(v)
		if _, ok := v.(ExternalAddress); ok {
			text = v.String()
		}
		s, err := marshalCanonicalString(text)
		if err != nil {
			return err
		}
		buf.Write(s)
	}
	buf.WriteByte(']')
	return nil
}

// marshalCanonicalString produces a JSON string with NFC normalization and
// without HTML escaping.
func marshalCanonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// UnmarshalCanonical decodes a value produced by MarshalCanonical.
// External addresses cannot be restored and decode as symbols of their text.
func UnmarshalCanonical(data []byte) (Value, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("canonical value: %w", err)
	}
	if len(raw) != 2 {
		return nil, fmt.Errorf("canonical value: expected [kind, payload], got %d elements", len(raw))
	}
	var kind string
	if err := json.Unmarshal(raw[0], &kind); err != nil {
		return nil, fmt.Errorf("canonical value kind: %w", err)
	}
	payload := raw[1]
	switch kind {
	case "INTEGER":
		var n int64
		if err := json.Unmarshal(payload, &n); err != nil {
			return nil, err
		}
		return Integer(n), nil
	case "FLOAT":
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return Float(f), nil
	case "BOOLEAN":
		var b bool
		if err := json.Unmarshal(payload, &b); err != nil {
			return nil, err
		}
		return Boolean(b), nil
	case "FACT-ADDRESS":
		var n int64
		if err := json.Unmarshal(payload, &n); err != nil {
			return nil, err
		}
		return FactAddress{Index: n}, nil
	case "MULTIFIELD":
		var elems []json.RawMessage
		if err := json.Unmarshal(payload, &elems); err != nil {
			return nil, err
		}
		m := make(Multifield, len(elems))
		for i, e := range elems {
			v, err := UnmarshalCanonical(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			m[i] = v
		}
		return m, nil
	}
	var s string
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, err
	}
	switch kind {
	case "STRING":
		return String(s), nil
	case "SYMBOL", "EXTERNAL-ADDRESS":
		return Sym(s), nil
	case "INSTANCE-NAME":
		return Instance(s), nil
	}
	return nil, fmt.Errorf("canonical value: unknown kind %q", kind)
}

// UnmarshalCanonicalValues decodes an array produced by MarshalCanonicalValues.
func UnmarshalCanonicalValues(data []byte) ([]Value, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("canonical values: %w", err)
	}
	out := make([]Value, len(raw))
	for i, r := range raw {
		v, err := UnmarshalCanonical(r)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
