package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/campusdesk/analytics/pkg/apperror"
	"github.com/campusdesk/analytics/pkg/logger"
)

// Result is the outcome of a pipeline run: a flat document sequence, or the named
// sub-sequences produced by a terminal Branch.
type Result struct {
	Documents []Document            `json:"documents,omitempty"`
	Branches  map[string][]Document `json:"branches,omitempty"`
}

// IsBranch reports whether the pipeline ended with a Branch stage.
func (r *Result) IsBranch() bool { return r.Branches != nil }

// Executor runs pipelines against a Source. It holds no per-run state and is safe
// for concurrent use.
type Executor struct {
	source Source
}

func NewExecutor(src Source) *Executor {
	return &Executor{source: src}
}

// Run executes p. Either the complete result or an error is returned, never a
// partial result. Stage failures are *apperror.Error values carrying the stage index.
func (e *Executor) Run(ctx context.Context, p Pipeline) (*Result, error) {
	start := time.Now()
	res, err := e.run(ctx, p)
	if err != nil {
		logger.Warnf("pipeline %s on %s failed after %s: %v", p.Name, p.Collection, time.Since(start), err)
		return nil, err
	}
	size := len(res.Documents)
	for _, docs := range res.Branches {
		size += len(docs)
	}
	logger.Debugf("pipeline %s on %s: %d stages, %d documents in %s", p.Name, p.Collection, len(p.Stages), size, time.Since(start))
	return res, nil
}

func (e *Executor) run(ctx context.Context, p Pipeline) (*Result, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	src := e.source
	if s, ok := src.(Snapshotter); ok {
		snap, err := s.Snapshot(ctx)
		if err != nil {
			return nil, unavailable(p.Collection, err)
		}
		src = snap
	}
	r := &run{src: src, indexes: make(map[string]*joinIndex)}
	it, err := r.open(ctx, p.Collection)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, p.Stages, it)
}

// Validate checks the structure of a pipeline without touching any data.
func Validate(p Pipeline) error {
	if p.Collection == "" {
		return apperror.New(apperror.Internal, "pipeline %q has no source collection", p.Name)
	}
	return validateStages(p.Stages, true)
}

func validateStages(stages []Stage, allowBranch bool) error {
	for i, st := range stages {
		if err := validateStage(st, allowBranch && i == len(stages)-1); err != nil {
			return apperror.AtStage(i, st.Name(), err)
		}
	}
	return nil
}

func validateStage(st Stage, branchAllowed bool) error {
	switch s := st.(type) {
	case Select:
		if s.Where == nil {
			return apperror.New(apperror.Internal, "select without predicate")
		}
	case Join:
		if s.From == "" || s.LocalField == "" || s.ForeignField == "" || s.As == "" {
			return apperror.New(apperror.Internal, "join requires from, localField, foreignField and as")
		}
	case Flatten:
		if s.Field == "" {
			return apperror.New(apperror.Internal, "flatten without field")
		}
	case ComputeFields:
		for _, f := range s.Fields {
			if f.Name == "" || f.Expr == nil {
				return apperror.New(apperror.Internal, "computed field needs a name and an expression")
			}
		}
	case Group:
		if s.Key == nil {
			return apperror.New(apperror.Internal, "group without key")
		}
		for _, a := range s.Fields {
			if a.Name == "" || a.Name == "_id" {
				return apperror.New(apperror.Internal, "invalid accumulator name %q", a.Name)
			}
			if a.Op != AccCount && a.Expr == nil {
				return apperror.New(apperror.Internal, "accumulator %q needs an expression", a.Name)
			}
		}
	case Project:
		if len(s.Fields) > 0 && len(s.Exclude) > 0 {
			return apperror.New(apperror.Internal, "project cannot mix inclusion and exclusion")
		}
	case Sort:
		if len(s.Keys) == 0 {
			return apperror.New(apperror.Internal, "sort without keys")
		}
	case Skip:
		if s.N < 0 {
			return apperror.InvalidParam("skip must not be negative, got %d", s.N)
		}
	case Limit:
		if s.N < 0 {
			return apperror.InvalidParam("limit must not be negative, got %d", s.N)
		}
	case Paginate:
		if s.Page < 1 || s.Size < 1 {
			return apperror.InvalidParam("page and limit must be at least 1, got page=%d limit=%d", s.Page, s.Size)
		}
		if s.Page-1 > math.MaxInt/s.Size {
			return apperror.InvalidParam("page %d is out of range for limit %d", s.Page, s.Size)
		}
	case CountAll:
		if s.As == "" {
			return apperror.New(apperror.Internal, "count without output field")
		}
	case Branch:
		if !branchAllowed {
			return apperror.New(apperror.Internal, "branch must be the last stage of a pipeline")
		}
		seen := make(map[string]struct{}, len(s.Arms))
		for _, arm := range s.Arms {
			if arm.Name == "" {
				return apperror.New(apperror.Internal, "branch arm without name")
			}
			if _, dup := seen[arm.Name]; dup {
				return apperror.New(apperror.Internal, "duplicate branch arm %q", arm.Name)
			}
			seen[arm.Name] = struct{}{}
			if err := validateStages(arm.Stages, false); err != nil {
				return err
			}
		}
	default:
		return apperror.New(apperror.Internal, "unknown stage %T", st)
	}
	return nil
}

// run is the state of one execution: the pinned source and the join indexes built
// from it. Branch arms share it.
type run struct {
	src Source

	mu      sync.Mutex
	indexes map[string]*joinIndex
}

func (r *run) open(ctx context.Context, collection string) (Iterator, error) {
	it, err := r.src.Open(ctx, collection)
	if err != nil {
		return nil, unavailable(collection, err)
	}
	return &sourceIter{it: it, collection: collection}, nil
}

func (r *run) execute(ctx context.Context, stages []Stage, it Iterator) (*Result, error) {
	for i, st := range stages {
		if b, ok := st.(Branch); ok {
			upstream, err := Collect(ctx, it)
			if err != nil {
				return nil, err
			}
			branches, err := r.branch(ctx, i, b, upstream)
			if err != nil {
				return nil, err
			}
			return &Result{Branches: branches}, nil
		}
		it = r.apply(i, st, it)
	}
	docs, err := Collect(ctx, it)
	if err != nil {
		return nil, err
	}
	return &Result{Documents: docs}, nil
}

// branch runs every arm over the same materialized upstream concurrently.
func (r *run) branch(ctx context.Context, index int, b Branch, upstream []Document) (map[string][]Document, error) {
	results := make([][]Document, len(b.Arms))
	g, gctx := errgroup.WithContext(ctx)
	for i, arm := range b.Arms {
		g.Go(func() error {
			res, err := r.execute(gctx, arm.Stages, SliceIterator(upstream))
			if err != nil {
				wrapped := apperror.AtStage(index, "branch "+arm.Name, err)
				var inner *apperror.Error
				if errors.As(err, &inner) && inner.Stage != nil {
					wrapped = wrapped.WithDetail("branchStage", *inner.Stage)
				}
				return wrapped
			}
			results[i] = res.Documents
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string][]Document, len(b.Arms))
	for i, arm := range b.Arms {
		out[arm.Name] = results[i]
	}
	return out, nil
}

// sourceIter classifies errors raised while streaming a collection.
type sourceIter struct {
	it         Iterator
	collection string
}

func (s *sourceIter) Next(ctx context.Context) (Document, bool, error) {
	d, ok, err := s.it.Next(ctx)
	if err != nil {
		return nil, false, unavailable(s.collection, err)
	}
	return d, ok, nil
}

func (s *sourceIter) Close() error { return s.it.Close() }

func unavailable(collection string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperror.Unavailable(collection, err)
}
