package engine

import (
	"context"
	"sort"

	"github.com/campusdesk/analytics/pkg/apperror"
)

// apply wraps the upstream iterator with the behaviour of one stage. Errors raised by
// the stage itself carry its index; upstream errors pass through untouched.
func (r *run) apply(index int, st Stage, up Iterator) Iterator {
	fail := func(err error) error { return apperror.AtStage(index, st.Name(), err) }
	switch s := st.(type) {
	case Select:
		return selectIter(s, up, fail)
	case Join:
		return r.joinIter(s, up, fail)
	case Flatten:
		return flattenIter(s, up)
	case ComputeFields:
		return mapIter(up, fail, func(d Document) (Document, error) { return computeFields(s.Fields, d) })
	case Group:
		return blocking(up, fail, func(docs []Document) ([]Document, error) { return group(s, docs) })
	case Project:
		return mapIter(up, fail, func(d Document) (Document, error) { return project(s, d) })
	case Sort:
		return blocking(up, fail, func(docs []Document) ([]Document, error) { return sortDocs(s.Keys, docs), nil })
	case Skip:
		return window(up, s.N, -1)
	case Limit:
		return window(up, 0, s.N)
	case Paginate:
		return window(up, (s.Page-1)*s.Size, s.Size)
	case CountAll:
		return blocking(up, fail, func(docs []Document) ([]Document, error) {
			return []Document{Doc(s.As, int64(len(docs)))}, nil
		})
	}
	// unreachable after Validate
	return &funcIter{upstream: up, next: func(context.Context) (Document, bool, error) {
		return nil, false, fail(apperror.New(apperror.Internal, "unknown stage %T", st))
	}}
}

func selectIter(s Select, up Iterator, fail func(error) error) Iterator {
	return &funcIter{upstream: up, next: func(ctx context.Context) (Document, bool, error) {
		for {
			d, ok, err := up.Next(ctx)
			if err != nil || !ok {
				return nil, false, err
			}
			match, err := s.Where.Match(d)
			if err != nil {
				return nil, false, fail(err)
			}
			if match {
				return d, true, nil
			}
		}
	}}
}

func mapIter(up Iterator, fail func(error) error, fn func(Document) (Document, error)) Iterator {
	return &funcIter{upstream: up, next: func(ctx context.Context) (Document, bool, error) {
		d, ok, err := up.Next(ctx)
		if err != nil || !ok {
			return nil, false, err
		}
		out, err := fn(d)
		if err != nil {
			return nil, false, fail(err)
		}
		return out, true, nil
	}}
}

// blocking drains upstream on the first pull, transforms the whole sequence and then
// serves the result.
func blocking(up Iterator, fail func(error) error, fn func([]Document) ([]Document, error)) Iterator {
	var (
		buf  []Document
		pos  int
		done bool
	)
	return &funcIter{upstream: up, next: func(ctx context.Context) (Document, bool, error) {
		if !done {
			var in []Document
			for {
				d, ok, err := up.Next(ctx)
				if err != nil {
					return nil, false, err
				}
				if !ok {
					break
				}
				in = append(in, d)
			}
			out, err := fn(in)
			if err != nil {
				return nil, false, fail(err)
			}
			buf, done = out, true
		}
		if pos >= len(buf) {
			return nil, false, nil
		}
		pos++
		return buf[pos-1], true, nil
	}}
}

// window skips the first skip documents and then yields at most limit documents
// (unbounded when limit < 0). Upstream is not pulled past the window.
func window(up Iterator, skip, limit int) Iterator {
	skipped, emitted := 0, 0
	return &funcIter{upstream: up, next: func(ctx context.Context) (Document, bool, error) {
		if limit >= 0 && emitted >= limit {
			return nil, false, nil
		}
		for skipped < skip {
			_, ok, err := up.Next(ctx)
			if err != nil || !ok {
				return nil, false, err
			}
			skipped++
		}
		d, ok, err := up.Next(ctx)
		if err != nil || !ok {
			return nil, false, err
		}
		emitted++
		return d, true, nil
	}}
}

func flattenIter(s Flatten, up Iterator) Iterator {
	var pending []Document
	return &funcIter{upstream: up, next: func(ctx context.Context) (Document, bool, error) {
		for len(pending) == 0 {
			d, ok, err := up.Next(ctx)
			if err != nil || !ok {
				return nil, false, err
			}
			pending = flatten(s, d)
		}
		d := pending[0]
		pending = pending[1:]
		return d, true, nil
	}}
}

func flatten(s Flatten, d Document) []Document {
	v, ok := d.Lookup(s.Field)
	if !ok || v == nil {
		if s.PreserveEmpty {
			return []Document{d.SetPath(s.Field, Missing)}
		}
		return nil
	}
	seq, isSeq := v.([]any)
	if !isSeq {
		return []Document{d}
	}
	if len(seq) == 0 {
		if s.PreserveEmpty {
			return []Document{d.SetPath(s.Field, Missing)}
		}
		return nil
	}
	out := make([]Document, len(seq))
	for i, e := range seq {
		out[i] = d.SetPath(s.Field, e)
	}
	return out
}

func computeFields(fields []FieldExpr, d Document) (Document, error) {
	vals := make([]any, len(fields))
	for i, f := range fields {
		v, err := f.Expr.Eval(d)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	out := d
	for i, f := range fields {
		out = out.SetPath(f.Name, vals[i])
	}
	return out, nil
}

func project(s Project, d Document) (Document, error) {
	if len(s.Exclude) > 0 {
		out := d
		for _, name := range s.Exclude {
			out = out.SetPath(name, Missing)
		}
		return out, nil
	}
	out := make(Document, 0, len(s.Fields))
	for _, f := range s.Fields {
		e := f.Expr
		if e == nil {
			e = Field(f.Name)
		}
		v, err := e.Eval(d)
		if err != nil {
			return nil, err
		}
		if IsMissing(v) {
			continue
		}
		out = out.SetPath(f.Name, v)
	}
	return out, nil
}

func sortDocs(keys []SortKey, docs []Document) []Document {
	type row struct {
		doc  Document
		vals []any
	}
	rows := make([]row, len(docs))
	for i, d := range docs {
		vals := make([]any, len(keys))
		for k, key := range keys {
			if v, ok := d.Lookup(key.Field); ok {
				vals[k] = v
			}
		}
		rows[i] = row{doc: d, vals: vals}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for k, key := range keys {
			c := compareTotal(rows[i].vals[k], rows[j].vals[k])
			if c == 0 {
				continue
			}
			if key.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	out := make([]Document, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out
}
