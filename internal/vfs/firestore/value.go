package firestore

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	fs "google.golang.org/api/firestore/v1"
)

// toValue converts a plain JSON-shaped Go value into a Firestore Value.
// Scalars force-send their field so false, 0 and "" survive encoding.
func toValue(v any) (fs.Value, error) {
	switch t := v.(type) {
	case nil:
		return fs.Value{NullValue: "NULL_VALUE"}, nil
	case bool:
		return fs.Value{BooleanValue: t, ForceSendFields: []string{"BooleanValue"}}, nil
	case string:
		return fs.Value{StringValue: t, ForceSendFields: []string{"StringValue"}}, nil
	case float64:
		return fs.Value{DoubleValue: t, ForceSendFields: []string{"DoubleValue"}}, nil
	case int:
		return fs.Value{IntegerValue: int64(t), ForceSendFields: []string{"IntegerValue"}}, nil
	case int64:
		return fs.Value{IntegerValue: t, ForceSendFields: []string{"IntegerValue"}}, nil
	case map[string]any:
		fields, err := toFields(t)
		if err != nil {
			return fs.Value{}, err
		}
		return fs.Value{MapValue: &fs.MapValue{Fields: fields}, ForceSendFields: []string{"MapValue"}}, nil
	case []any:
		values := make([]*fs.Value, 0, len(t))
		for _, e := range t {
			ev, err := toValue(e)
			if err != nil {
				return fs.Value{}, err
			}
			values = append(values, &ev)
		}
		return fs.Value{ArrayValue: &fs.ArrayValue{Values: values}, ForceSendFields: []string{"ArrayValue"}}, nil
	default:
		return fs.Value{}, fmt.Errorf("firestore: unsupported value type %T", v)
	}
}

func toFields(m map[string]any) (map[string]fs.Value, error) {
	fields := make(map[string]fs.Value, len(m))
	for k, v := range m {
		fv, err := toValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		fields[k] = fv
	}
	return fields, nil
}

// wireValue mirrors the REST encoding of a Value with explicit presence,
// which the generated client types cannot express for zero scalars.
type wireValue struct {
	NullValue      *string         `json:"nullValue"`
	BooleanValue   *bool           `json:"booleanValue"`
	IntegerValue   *string         `json:"integerValue"`
	DoubleValue    json.RawMessage `json:"doubleValue"`
	StringValue    *string         `json:"stringValue"`
	TimestampValue *string         `json:"timestampValue"`
	BytesValue     *string         `json:"bytesValue"`
	ReferenceValue *string         `json:"referenceValue"`
	GeoPointValue  *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"geoPointValue"`
	MapValue *struct {
		Fields map[string]wireValue `json:"fields"`
	} `json:"mapValue"`
	ArrayValue *struct {
		Values []wireValue `json:"values"`
	} `json:"arrayValue"`
}

type wireDocument struct {
	Name   string               `json:"name"`
	Fields map[string]wireValue `json:"fields"`
}

// fromWire converts a REST Value into plain Go values. Integers come back
// as float64 to match what JSON decoding produces elsewhere.
func fromWire(w wireValue) (any, error) {
	switch {
	case w.NullValue != nil:
		return nil, nil
	case w.BooleanValue != nil:
		return *w.BooleanValue, nil
	case w.IntegerValue != nil:
		n, err := strconv.ParseInt(*w.IntegerValue, 10, 64)
		if err != nil {
			return nil, err
		}
		return float64(n), nil
	case len(w.DoubleValue) > 0:
		return parseDouble(w.DoubleValue)
	case w.StringValue != nil:
		return *w.StringValue, nil
	case w.TimestampValue != nil:
		return *w.TimestampValue, nil
	case w.BytesValue != nil:
		return *w.BytesValue, nil
	case w.ReferenceValue != nil:
		return *w.ReferenceValue, nil
	case w.GeoPointValue != nil:
		return map[string]any{"latitude": w.GeoPointValue.Latitude, "longitude": w.GeoPointValue.Longitude}, nil
	case w.MapValue != nil:
		return fromWireFields(w.MapValue.Fields)
	case w.ArrayValue != nil:
		out := make([]any, 0, len(w.ArrayValue.Values))
		for _, e := range w.ArrayValue.Values {
			v, err := fromWire(e)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, nil
	}
}

func fromWireFields(fields map[string]wireValue) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, w := range fields {
		v, err := fromWire(w)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// parseDouble accepts a JSON number or one of the string forms the API
// uses for non-finite values.
func parseDouble(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	switch s {
	case "NaN":
		return math.NaN(), nil
	case "Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	}
	return strconv.ParseFloat(s, 64)
}

var backquoter = strings.NewReplacer(`\`, `\\`, "`", "\\`")

// quoteFieldPath renders path segments in Firestore field path syntax,
// backquoting segments that are not plain identifiers.
func quoteFieldPath(segs []string) string {
	out := make([]string, len(segs))
	for i, s := range segs {
		if isSimpleSegment(s) {
			out[i] = s
		} else {
			out[i] = "`" + backquoter.Replace(s) + "`"
		}
	}
	return strings.Join(out, ".")
}

func isSimpleSegment(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
