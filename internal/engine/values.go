package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type missing struct{}

// Missing marks an absent value. An expression that evaluates to Missing removes the
// target field in ComputeFields and Project.
var Missing any = missing{}

// IsMissing reports whether v is the Missing marker.
func IsMissing(v any) bool {
	_, ok := v.(missing)
	return ok
}

func isNullish(v any) bool {
	return v == nil || IsMissing(v)
}

// toNumber converts numeric values to float64.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int32, int64:
		return true
	}
	return false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	}
	return time.Time{}, false
}

// typeRank orders values of different types for sorting, following the BSON
// comparison order: null < numbers < strings < documents < sequences < ids < bools < dates.
func typeRank(v any) int {
	if isNullish(v) {
		return 0
	}
	if _, ok := toNumber(v); ok {
		return 1
	}
	switch v.(type) {
	case string:
		return 2
	case Document:
		return 3
	case []any:
		return 4
	case primitive.ObjectID:
		return 5
	case bool:
		return 6
	case time.Time, primitive.DateTime:
		return 7
	}
	return 8
}

// compareTotal is a total order over all values and never fails. Sort and Max/Min use it.
func compareTotal(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch ra {
	case 0:
		return 0
	case 1:
		x, _ := toNumber(a)
		y, _ := toNumber(b)
		return cmpFloat(x, y)
	case 2:
		return strings.Compare(a.(string), b.(string))
	case 3:
		da, db := a.(Document), b.(Document)
		for i := 0; i < len(da) && i < len(db); i++ {
			if c := strings.Compare(da[i].Key, db[i].Key); c != 0 {
				return c
			}
			if c := compareTotal(da[i].Value, db[i].Value); c != 0 {
				return c
			}
		}
		return cmpInt(len(da), len(db))
	case 4:
		sa, sb := a.([]any), b.([]any)
		for i := 0; i < len(sa) && i < len(sb); i++ {
			if c := compareTotal(sa[i], sb[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(sa), len(sb))
	case 5:
		x, y := a.(primitive.ObjectID), b.(primitive.ObjectID)
		return strings.Compare(x.Hex(), y.Hex())
	case 6:
		x, y := a.(bool), b.(bool)
		if x == y {
			return 0
		}
		if !x {
			return -1
		}
		return 1
	case 7:
		x, _ := toTime(a)
		y, _ := toTime(b)
		return x.Compare(y)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// compareStrict compares two values of comparable types for range predicates.
func compareStrict(a, b any) (int, error) {
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return cmpFloat(x, y), nil
		}
	}
	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	}
	if x, ok := toTime(a); ok {
		if y, ok := toTime(b); ok {
			return x.Compare(y), nil
		}
	}
	return 0, fmt.Errorf("cannot compare %s with %s", typeName(a), typeName(b))
}

func equalValues(a, b any) bool {
	if isNullish(a) || isNullish(b) {
		return isNullish(a) && isNullish(b)
	}
	return typeRank(a) == typeRank(b) && compareTotal(a, b) == 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case missing:
		return "missing"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int32, int64, float32, float64:
		return "number"
	case Document:
		return "document"
	case []any:
		return "sequence"
	case primitive.ObjectID:
		return "objectId"
	case time.Time, primitive.DateTime:
		return "date"
	}
	return fmt.Sprintf("%T", v)
}

// groupKey encodes v into a type-tagged canonical string so that values of different
// types never collide (the string "1" and the number 1 land in different groups).
// Null and Missing share the null group.
func groupKey(v any) string {
	var b strings.Builder
	writeKey(&b, v)
	return b.String()
}

func writeKey(b *strings.Builder, v any) {
	if isNullish(v) {
		b.WriteString("n:")
		return
	}
	if n, ok := toNumber(v); ok {
		b.WriteString("f:")
		b.WriteString(strconv.FormatFloat(n, 'g', -1, 64))
		return
	}
	switch t := v.(type) {
	case string:
		b.WriteString("s:")
		b.WriteString(strconv.Quote(t))
	case bool:
		b.WriteString("b:")
		b.WriteString(strconv.FormatBool(t))
	case primitive.ObjectID:
		b.WriteString("o:")
		b.WriteString(t.Hex())
	case time.Time, primitive.DateTime:
		tm, _ := toTime(t)
		b.WriteString("t:")
		b.WriteString(strconv.FormatInt(tm.UnixNano(), 10))
	case Document:
		b.WriteString("d{")
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(e.Key))
			b.WriteByte('=')
			writeKey(b, e.Value)
		}
		b.WriteByte('}')
	case []any:
		b.WriteString("a[")
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeKey(b, e)
		}
		b.WriteByte(']')
	default:
		fmt.Fprintf(b, "x:%T:%v", t, t)
	}
}

func sortedInts(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// valuesOf returns v followed by every element of v, recursively, when v is a sequence.
func valuesOf(v any) []any {
	out := []any{v}
	var walk func(any)
	walk = func(x any) {
		s, ok := x.([]any)
		if !ok {
			return
		}
		for _, e := range s {
			out = append(out, e)
			walk(e)
		}
	}
	walk(v)
	return out
}

// Compare orders two values with the same total order Sort uses.
func Compare(a, b any) int { return compareTotal(a, b) }
