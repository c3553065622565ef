package engine

import "fmt"

// Stage is one step of a pipeline. The set of stages is closed: only the types in this
// file implement it, and the executor dispatches on them with a type switch.
type Stage interface {
	Name() string
	isStage()
}

// Select keeps the documents for which Where matches.
type Select struct {
	Where Predicate
}

// Join attaches, under As, every document of From whose ForeignField equals the
// input's LocalField (left outer join, cardinality many). Sequences on either side
// match element-wise. The attached sequence is never nil. With AtMostOne, an input
// that matches more than one foreign document fails the pipeline.
type Join struct {
	From         string
	LocalField   string
	ForeignField string
	As           string
	AtMostOne    bool
}

// Flatten emits one document per element of the sequence at Field, with Field holding
// that element. Empty or absent sequences drop the document unless PreserveEmpty is
// set, in which case the document is emitted once with Field removed.
type Flatten struct {
	Field         string
	PreserveEmpty bool
}

// ComputeFields adds or overwrites fields. Every expression sees the input document;
// an expression evaluating to Missing removes its field.
type ComputeFields struct {
	Fields []FieldExpr
}

// AccOp is a Group accumulator operator.
type AccOp int

const (
	AccSum AccOp = iota
	AccAvg
	AccMax
	AccMin
	AccPush
	AccCount
	AccFirst
)

var accNames = map[AccOp]string{
	AccSum: "sum", AccAvg: "avg", AccMax: "max", AccMin: "min",
	AccPush: "push", AccCount: "count", AccFirst: "first",
}

func (o AccOp) String() string { return accNames[o] }

// Accumulator computes Name for each group by applying Op to Expr over the members.
// Count ignores Expr.
type Accumulator struct {
	Name string
	Op   AccOp
	Expr Expr
}

func Sum(name string, e Expr) Accumulator     { return Accumulator{Name: name, Op: AccSum, Expr: e} }
func Avg(name string, e Expr) Accumulator     { return Accumulator{Name: name, Op: AccAvg, Expr: e} }
func Max(name string, e Expr) Accumulator     { return Accumulator{Name: name, Op: AccMax, Expr: e} }
func Min(name string, e Expr) Accumulator     { return Accumulator{Name: name, Op: AccMin, Expr: e} }
func Push(name string, e Expr) Accumulator    { return Accumulator{Name: name, Op: AccPush, Expr: e} }
func Count(name string) Accumulator           { return Accumulator{Name: name, Op: AccCount} }
func FirstOf(name string, e Expr) Accumulator { return Accumulator{Name: name, Op: AccFirst, Expr: e} }

// Group partitions documents by Key and emits one document per group, in order of
// first occurrence, shaped {_id: key, <accumulators...>}. A null or absent key forms
// its own group.
type Group struct {
	Key    Expr
	Fields []Accumulator
}

// Project reshapes documents. In inclusion form (Exclude empty) the output holds
// exactly Fields; in exclusion form it holds every input field except Exclude.
type Project struct {
	Fields  []FieldExpr
	Exclude []string
}

// SortKey orders by Field, descending when Desc is set.
type SortKey struct {
	Field string
	Desc  bool
}

// Asc and Desc build sort keys.
func Asc(field string) SortKey  { return SortKey{Field: field} }
func Desc(field string) SortKey { return SortKey{Field: field, Desc: true} }

// Direction returns Asc when dir is non-negative and Desc otherwise, matching the
// 1/-1 convention of sort query parameters.
func Direction(field string, dir int) SortKey { return SortKey{Field: field, Desc: dir < 0} }

// Sort is a stable multi-key sort; ties keep input order.
type Sort struct {
	Keys []SortKey
}

// Skip drops the first N documents.
type Skip struct{ N int }

// Limit keeps at most N documents.
type Limit struct{ N int }

// Paginate is Skip((Page-1)*Size) followed by Limit(Size). Page and Size must be >= 1.
type Paginate struct {
	Page int
	Size int
}

// CountAll consumes its input and emits a single document {As: n}.
type CountAll struct {
	As string
}

// NamedPipeline is one arm of a Branch.
type NamedPipeline struct {
	Name   string
	Stages []Stage
}

// Branch runs each sub-pipeline against the same upstream sequence and returns a
// mapping from name to result. It must be the last stage of a pipeline.
type Branch struct {
	Arms []NamedPipeline
}

func (Select) Name() string        { return "select" }
func (Join) Name() string          { return "join" }
func (Flatten) Name() string       { return "flatten" }
func (ComputeFields) Name() string { return "computeFields" }
func (Group) Name() string         { return "group" }
func (Project) Name() string       { return "project" }
func (Sort) Name() string          { return "sort" }
func (Skip) Name() string          { return "skip" }
func (Limit) Name() string         { return "limit" }
func (Paginate) Name() string      { return "paginate" }
func (CountAll) Name() string      { return "count" }
func (Branch) Name() string        { return "branch" }

func (Select) isStage()        {}
func (Join) isStage()          {}
func (Flatten) isStage()       {}
func (ComputeFields) isStage() {}
func (Group) isStage()         {}
func (Project) isStage()       {}
func (Sort) isStage()          {}
func (Skip) isStage()          {}
func (Limit) isStage()         {}
func (Paginate) isStage()      {}
func (CountAll) isStage()      {}
func (Branch) isStage()        {}

// Pipeline is an ordered stage list applied to one source collection. Name labels
// the pipeline in logs and metrics.
type Pipeline struct {
	Name       string
	Collection string
	Stages     []Stage
}

// Append returns a copy of p with extra stages appended.
func (p Pipeline) Append(stages ...Stage) Pipeline {
	out := p
	out.Stages = make([]Stage, 0, len(p.Stages)+len(stages))
	out.Stages = append(out.Stages, p.Stages...)
	out.Stages = append(out.Stages, stages...)
	return out
}

// Insert returns a copy of p with stages inserted before index at.
func (p Pipeline) Insert(at int, stages ...Stage) Pipeline {
	if at < 0 || at > len(p.Stages) {
		panic(fmt.Sprintf("engine.Pipeline.Insert: index %d out of range [0,%d]", at, len(p.Stages)))
	}
	out := p
	out.Stages = make([]Stage, 0, len(p.Stages)+len(stages))
	out.Stages = append(out.Stages, p.Stages[:at]...)
	out.Stages = append(out.Stages, stages...)
	out.Stages = append(out.Stages, p.Stages[at:]...)
	return out
}

// IndexOf returns the index of the first stage with the given name, or -1.
func (p Pipeline) IndexOf(name string) int {
	for i, s := range p.Stages {
		if s.Name() == name {
			return i
		}
	}
	return -1
}

// PaginateStages expands a page request into the equivalent Skip and Limit pair.
func PaginateStages(page, size int) []Stage {
	return []Stage{Skip{N: (page - 1) * size}, Limit{N: size}}
}
