package engine

import (
	"bytes"
	"encoding/json"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document is an ordered field-to-value record. Stages never mutate a Document they
// received; every helper below returns a fresh copy.
//
// Values are one of: nil (null), string, bool, int32, int64, float64, time.Time,
// primitive.DateTime, primitive.ObjectID, Document, or []any.
type Document primitive.D

// Doc builds a Document from alternating key/value pairs. It panics on an odd argument
// count, which is always a programming error.
func Doc(kv ...any) Document {
	if len(kv)%2 != 0 {
		panic("engine.Doc: odd number of arguments")
	}
	d := make(Document, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		d = append(d, primitive.E{Key: kv[i].(string), Value: Normalize(kv[i+1])})
	}
	return d
}

// FromBSON converts a decoded bson.D (as produced by the mongo driver or bson.Unmarshal)
// into a Document, normalizing nested primitive.D/primitive.A values.
func FromBSON(d bson.D) Document {
	return Normalize(d).(Document)
}

// Normalize converts driver container types into engine containers recursively.
func Normalize(v any) any {
	switch t := v.(type) {
	case Document:
		out := make(Document, len(t))
		for i, e := range t {
			out[i] = primitive.E{Key: e.Key, Value: Normalize(e.Value)}
		}
		return out
	case primitive.D:
		out := make(Document, len(t))
		for i, e := range t {
			out[i] = primitive.E{Key: e.Key, Value: Normalize(e.Value)}
		}
		return out
	case primitive.M:
		// maps have no order; callers that care must hand in a D
		out := make(Document, 0, len(t))
		for k, val := range t {
			out = append(out, primitive.E{Key: k, Value: Normalize(val)})
		}
		return out
	case primitive.A:
		return normalizeSlice([]any(t))
	case []any:
		return normalizeSlice(t)
	case []Document:
		out := make([]any, len(t))
		for i, d := range t {
			out[i] = Normalize(d)
		}
		return out
	case int:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func normalizeSlice(in []any) []any {
	out := make([]any, len(in))
	for i, e := range in {
		out[i] = Normalize(e)
	}
	return out
}

// Get returns the top-level value stored under key.
func (d Document) Get(key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Has reports whether key is present at the top level.
func (d Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Lookup resolves a dotted path. Intermediate sequences fan out, so "students.name"
// over a sequence of documents yields the sequence of their names.
func (d Document) Lookup(path string) (any, bool) {
	return lookup(d, strings.Split(path, "."))
}

func lookup(v any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return v, true
	}
	switch t := v.(type) {
	case Document:
		child, ok := t.Get(parts[0])
		if !ok {
			return nil, false
		}
		return lookup(child, parts[1:])
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			if _, isDoc := e.(Document); !isDoc {
				continue
			}
			if r, ok := lookup(e, parts); ok {
				out = append(out, r)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// Set returns a copy of d with key set to v, keeping the original position when the
// key already exists.
func (d Document) Set(key string, v any) Document {
	out := make(Document, 0, len(d)+1)
	replaced := false
	for _, e := range d {
		if e.Key == key {
			out = append(out, primitive.E{Key: key, Value: v})
			replaced = true
			continue
		}
		out = append(out, e)
	}
	if !replaced {
		out = append(out, primitive.E{Key: key, Value: v})
	}
	return out
}

// Without returns a copy of d with the named top-level keys removed.
func (d Document) Without(keys ...string) Document {
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	out := make(Document, 0, len(d))
	for _, e := range d {
		if _, ok := drop[e.Key]; ok {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Keys lists the top-level keys in order.
func (d Document) Keys() []string {
	out := make([]string, len(d))
	for i, e := range d {
		out[i] = e.Key
	}
	return out
}

// MarshalJSON renders the document as a JSON object preserving field order.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// SetPath sets a dotted path, creating intermediate documents as needed. A Missing
// value removes the leaf instead.
func (d Document) SetPath(path string, v any) Document {
	return setPath(d, strings.Split(path, "."), v)
}

func setPath(d Document, parts []string, v any) Document {
	if len(parts) == 1 {
		if IsMissing(v) {
			return d.Without(parts[0])
		}
		return d.Set(parts[0], v)
	}
	child, _ := d.Get(parts[0])
	sub, ok := child.(Document)
	if !ok {
		if IsMissing(v) {
			return d
		}
		sub = Document{}
	}
	return d.Set(parts[0], setPath(sub, parts[1:], v))
}
