package engine

import (
	"context"

	"github.com/campusdesk/analytics/pkg/apperror"
)

// joinIndex maps the canonical key of every foreign field value to the positions of
// the foreign documents carrying it.
type joinIndex struct {
	docs  []Document
	byKey map[string][]int
}

// index builds the join index for (from, field) once per run. The foreign
// collection is read on first use, so a Join behind a Select that keeps nothing
// never touches it.
func (r *run) index(ctx context.Context, from, field string) (*joinIndex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := from + "\x00" + field
	if ix, ok := r.indexes[key]; ok {
		return ix, nil
	}
	it, err := r.open(ctx, from)
	if err != nil {
		return nil, err
	}
	docs, err := Collect(ctx, it)
	if err != nil {
		return nil, err
	}
	ix := &joinIndex{docs: docs, byKey: make(map[string][]int)}
	for pos, d := range docs {
		v, ok := d.Lookup(field)
		if !ok {
			continue
		}
		seen := make(map[string]struct{})
		for _, x := range valuesOf(v) {
			if isNullish(x) {
				continue
			}
			k := groupKey(x)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			ix.byKey[k] = append(ix.byKey[k], pos)
		}
	}
	r.indexes[key] = ix
	return ix, nil
}

// match returns the foreign documents whose field equals v or any element of v, in
// foreign collection order and without duplicates. Null and absent values match
// nothing.
func (ix *joinIndex) match(v any) []any {
	positions := make(map[int]struct{})
	for _, x := range valuesOf(v) {
		if isNullish(x) {
			continue
		}
		for _, pos := range ix.byKey[groupKey(x)] {
			positions[pos] = struct{}{}
		}
	}
	out := make([]any, 0, len(positions))
	for _, pos := range sortedInts(positions) {
		out = append(out, ix.docs[pos])
	}
	return out
}

func (r *run) joinIter(s Join, up Iterator, fail func(error) error) Iterator {
	var ix *joinIndex
	return &funcIter{upstream: up, next: func(ctx context.Context) (Document, bool, error) {
		d, ok, err := up.Next(ctx)
		if err != nil || !ok {
			return nil, false, err
		}
		if ix == nil {
			if ix, err = r.index(ctx, s.From, s.ForeignField); err != nil {
				return nil, false, fail(err)
			}
		}
		var matches []any
		if v, found := d.Lookup(s.LocalField); found {
			matches = ix.match(v)
		} else {
			matches = []any{}
		}
		if s.AtMostOne && len(matches) > 1 {
			return nil, false, fail(apperror.Aggregation(
				"%s matched %d documents in %s, expected at most one", s.LocalField, len(matches), s.From,
			).WithDetail("document", d))
		}
		return d.SetPath(s.As, matches), true, nil
	}}
}
