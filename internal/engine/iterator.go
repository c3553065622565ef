package engine

import "context"

// Iterator provides pull-based sequential access to a stream of documents.
// Close must be called when done to release resources.
type Iterator interface {
	// Next returns the next document. Returns (nil, false, nil) when exhausted.
	Next(ctx context.Context) (Document, bool, error)
	// Close releases any resources held by the iterator.
	Close() error
}

// Source produces the documents of a named collection. Implementations stream
// documents in a deterministic order (ascending identifier).
type Source interface {
	Open(ctx context.Context, collection string) (Iterator, error)
}

// Snapshotter is implemented by sources that can pin a point-in-time view for the
// duration of one pipeline run.
type Snapshotter interface {
	Snapshot(ctx context.Context) (Source, error)
}

// SliceIterator iterates over an in-memory slice.
func SliceIterator(docs []Document) Iterator {
	return &sliceIter{docs: docs}
}

type sliceIter struct {
	docs []Document
	pos  int
}

func (it *sliceIter) Next(ctx context.Context) (Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if it.pos >= len(it.docs) {
		return nil, false, nil
	}
	d := it.docs[it.pos]
	it.pos++
	return d, true, nil
}

func (it *sliceIter) Close() error { return nil }

// Collect drains the iterator and closes it. The returned slice is never nil.
func Collect(ctx context.Context, it Iterator) ([]Document, error) {
	defer it.Close()
	out := []Document{}
	for {
		d, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, d)
	}
}

// funcIter adapts a next function and an upstream closer into an Iterator.
type funcIter struct {
	next     func(ctx context.Context) (Document, bool, error)
	upstream Iterator
}

func (it *funcIter) Next(ctx context.Context) (Document, bool, error) { return it.next(ctx) }

func (it *funcIter) Close() error {
	if it.upstream != nil {
		return it.upstream.Close()
	}
	return nil
}
