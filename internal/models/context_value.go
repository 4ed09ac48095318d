package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ValueKind tags the variant held by a ContextValue.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindObject
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ContextValue is one schemaless value inside TelemetryEvent.ContextData.
// Numbers keep their original textual form so events are forwarded verbatim.
type ContextValue struct {
	kind ValueKind
	str  string
	num  json.Number
	b    bool
	list []ContextValue
	obj  map[string]ContextValue
}

func StringValue(s string) ContextValue { return ContextValue{kind: KindString, str: s} }

func NumberValue(n json.Number) ContextValue { return ContextValue{kind: KindNumber, num: n} }

func IntValue(n int64) ContextValue {
	return ContextValue{kind: KindNumber, num: json.Number(fmt.Sprintf("%d", n))}
}

func BoolValue(b bool) ContextValue { return ContextValue{kind: KindBool, b: b} }

func ListValue(items ...ContextValue) ContextValue { return ContextValue{kind: KindList, list: items} }

func ObjectValue(m map[string]ContextValue) ContextValue {
	return ContextValue{kind: KindObject, obj: m}
}

func NullValue() ContextValue { return ContextValue{kind: KindNull} }

func (v ContextValue) Kind() ValueKind { return v.kind }

// AsString returns the string variant.
func (v ContextValue) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

func (v ContextValue) AsNumber() (json.Number, bool) {
	return v.num, v.kind == KindNumber
}

func (v ContextValue) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v ContextValue) AsList() ([]ContextValue, bool) {
	return v.list, v.kind == KindList
}

func (v ContextValue) AsObject() (map[string]ContextValue, bool) {
	return v.obj, v.kind == KindObject
}

func (v ContextValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if v.num == "" {
			return []byte("0"), nil
		}
		return []byte(v.num), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("context value: unknown kind %d", v.kind)
	}
}

func (v *ContextValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := fromRaw(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fromRaw(raw interface{}) (ContextValue, error) {
	switch t := raw.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(t), nil
	case json.Number:
		return NumberValue(t), nil
	case bool:
		return BoolValue(t), nil
	case []interface{}:
		items := make([]ContextValue, 0, len(t))
		for _, item := range t {
			cv, err := fromRaw(item)
			if err != nil {
				return ContextValue{}, err
			}
			items = append(items, cv)
		}
		return ListValue(items...), nil
	case map[string]interface{}:
		obj := make(map[string]ContextValue, len(t))
		for k, item := range t {
			cv, err := fromRaw(item)
			if err != nil {
				return ContextValue{}, err
			}
			obj[k] = cv
		}
		return ObjectValue(obj), nil
	default:
		return ContextValue{}, fmt.Errorf("context value: unsupported type %T", raw)
	}
}

// ContextData is the open key/value detail carried by a TelemetryEvent.
type ContextData map[string]ContextValue

// String looks up a string-valued key.
func (c ContextData) String(key string) (string, bool) {
	v, ok := c[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

// Keys returns the keys in sorted order.
func (c ContextData) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
