package engine

import (
	"github.com/campusdesk/analytics/pkg/apperror"
)

type accState struct {
	isum   int64
	fsum   float64
	allInt bool
	n      int
	best   any
	items  []any
	first  any
	seeded bool
}

type groupState struct {
	key  any
	accs []*accState
}

// group partitions docs by key and folds every accumulator. Groups come out in order
// of first occurrence.
func group(s Group, docs []Document) ([]Document, error) {
	var order []*groupState
	byKey := make(map[string]*groupState)
	for _, d := range docs {
		k, err := s.Key.Eval(d)
		if err != nil {
			return nil, err
		}
		if IsMissing(k) {
			k = nil
		}
		gk := groupKey(k)
		g, ok := byKey[gk]
		if !ok {
			g = &groupState{key: k, accs: make([]*accState, len(s.Fields))}
			for i := range g.accs {
				g.accs[i] = &accState{allInt: true}
			}
			byKey[gk] = g
			order = append(order, g)
		}
		for i, a := range s.Fields {
			if err := fold(a, g.accs[i], d); err != nil {
				return nil, err
			}
		}
	}
	out := make([]Document, 0, len(order))
	for _, g := range order {
		doc := Doc("_id", g.key)
		for i, a := range s.Fields {
			doc = doc.Set(a.Name, result(a.Op, g.accs[i]))
		}
		out = append(out, doc)
	}
	return out, nil
}

func fold(a Accumulator, st *accState, d Document) error {
	if a.Op == AccCount {
		st.n++
		return nil
	}
	v, err := a.Expr.Eval(d)
	if err != nil {
		return err
	}
	switch a.Op {
	case AccSum, AccAvg:
		if isNullish(v) {
			return nil
		}
		n, ok := toNumber(v)
		if !ok {
			return apperror.Aggregation("%s of %q expects numbers, got %s", a.Op, a.Name, typeName(v))
		}
		if isInteger(v) {
			st.isum += int64(n)
		} else {
			st.allInt = false
		}
		st.fsum += n
		st.n++
	case AccMax, AccMin:
		if isNullish(v) {
			return nil
		}
		if st.n == 0 {
			st.best = v
		} else if c := compareTotal(v, st.best); (a.Op == AccMax && c > 0) || (a.Op == AccMin && c < 0) {
			st.best = v
		}
		st.n++
	case AccPush:
		if IsMissing(v) {
			return nil
		}
		st.items = append(st.items, v)
	case AccFirst:
		if !st.seeded {
			if IsMissing(v) {
				v = nil
			}
			st.first, st.seeded = v, true
		}
	}
	return nil
}

func result(op AccOp, st *accState) any {
	switch op {
	case AccSum:
		if st.allInt {
			return st.isum
		}
		return st.fsum
	case AccAvg:
		if st.n == 0 {
			return nil
		}
		return st.fsum / float64(st.n)
	case AccMax, AccMin:
		return st.best
	case AccPush:
		if st.items == nil {
			return []any{}
		}
		return st.items
	case AccCount:
		return int64(st.n)
	case AccFirst:
		return st.first
	}
	return nil
}
