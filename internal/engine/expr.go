package engine

import (
	"fmt"

	"github.com/campusdesk/analytics/pkg/apperror"
)

// Expr computes a value from a document.
type Expr interface {
	Eval(doc Document) (any, error)
}

// FieldExpr names the output of an expression in ComputeFields, Project and Object.
// A nil Expr in a Project inclusion copies the value found at Name.
type FieldExpr struct {
	Name string
	Expr Expr
}

// F is shorthand for a FieldExpr.
func F(name string, e Expr) FieldExpr { return FieldExpr{Name: name, Expr: e} }

type fieldRef string

// Field reads a dotted path. Absent paths evaluate to Missing.
func Field(path string) Expr { return fieldRef(path) }

func (f fieldRef) Eval(doc Document) (any, error) {
	v, ok := doc.Lookup(string(f))
	if !ok {
		return Missing, nil
	}
	return v, nil
}

func (f fieldRef) String() string { return "$" + string(f) }

type literal struct{ v any }

// Lit is a constant.
func Lit(v any) Expr { return literal{v: Normalize(v)} }

// Remove evaluates to Missing, deleting the target field.
func Remove() Expr { return literal{v: Missing} }

func (l literal) Eval(Document) (any, error) { return l.v, nil }
func (l literal) String() string             { return fmt.Sprintf("%v", l.v) }

type arith struct {
	op   byte
	args []Expr
}

// Add, Subtract, Multiply and Divide follow null propagation: any null or absent
// operand yields null. Non-numeric operands and division by zero are AggregationErrors.
func Add(args ...Expr) Expr      { return arith{op: '+', args: args} }
func Subtract(a, b Expr) Expr    { return arith{op: '-', args: []Expr{a, b}} }
func Multiply(args ...Expr) Expr { return arith{op: '*', args: args} }
func Divide(a, b Expr) Expr      { return arith{op: '/', args: []Expr{a, b}} }

func (a arith) Eval(doc Document) (any, error) {
	if len(a.args) == 0 {
		return nil, apperror.New(apperror.Internal, "arithmetic %q without operands", a.op)
	}
	vals := make([]float64, len(a.args))
	allInt := true
	for i, e := range a.args {
		v, err := e.Eval(doc)
		if err != nil {
			return nil, err
		}
		if isNullish(v) {
			return nil, nil
		}
		n, ok := toNumber(v)
		if !ok {
			return nil, apperror.Aggregation("operator %q expects numbers, got %s", a.op, typeName(v))
		}
		allInt = allInt && isInteger(v)
		vals[i] = n
	}
	acc := vals[0]
	for _, n := range vals[1:] {
		switch a.op {
		case '+':
			acc += n
		case '-':
			acc -= n
		case '*':
			acc *= n
		case '/':
			if n == 0 {
				return nil, apperror.Aggregation("division by zero")
			}
			acc /= n
		}
	}
	if allInt && a.op != '/' {
		return int64(acc), nil
	}
	return acc, nil
}

type round struct {
	e      Expr
	places int
}

// Round rounds a numeric expression to the given number of decimal places.
func Round(e Expr, places int) Expr { return round{e: e, places: places} }

func (r round) Eval(doc Document) (any, error) {
	v, err := r.e.Eval(doc)
	if err != nil || isNullish(v) {
		return nil, err
	}
	n, ok := toNumber(v)
	if !ok {
		return nil, apperror.Aggregation("round expects a number, got %s", typeName(v))
	}
	if isInteger(v) {
		return v, nil
	}
	return RoundTo(n, r.places), nil
}

type size struct{ e Expr }

// Size counts the elements of a sequence.
func Size(e Expr) Expr { return size{e: e} }

func (s size) Eval(doc Document) (any, error) {
	v, err := s.e.Eval(doc)
	if err != nil {
		return nil, err
	}
	seq, ok := v.([]any)
	if !ok {
		return nil, apperror.Aggregation("size expects a sequence, got %s", typeName(v))
	}
	return int64(len(seq)), nil
}

type cond struct {
	when      Predicate
	then      Expr
	otherwise Expr
}

// Cond evaluates then when the predicate matches, otherwise els.
func Cond(when Predicate, then, els Expr) Expr { return cond{when: when, then: then, otherwise: els} }

func (c cond) Eval(doc Document) (any, error) {
	ok, err := c.when.Match(doc)
	if err != nil {
		return nil, err
	}
	if ok {
		return c.then.Eval(doc)
	}
	return c.otherwise.Eval(doc)
}

type ifNull struct{ e, fallback Expr }

// IfNull returns fallback when e is null or absent.
func IfNull(e, fallback Expr) Expr { return ifNull{e: e, fallback: fallback} }

func (n ifNull) Eval(doc Document) (any, error) {
	v, err := n.e.Eval(doc)
	if err != nil {
		return nil, err
	}
	if isNullish(v) {
		return n.fallback.Eval(doc)
	}
	return v, nil
}

type object []FieldExpr

// Object builds a sub-document. Fields that evaluate to Missing are omitted.
func Object(fields ...FieldExpr) Expr { return object(fields) }

func (o object) Eval(doc Document) (any, error) {
	out := make(Document, 0, len(o))
	for _, f := range o {
		e := f.Expr
		if e == nil {
			e = Field(f.Name)
		}
		v, err := e.Eval(doc)
		if err != nil {
			return nil, err
		}
		if IsMissing(v) {
			continue
		}
		out = out.Set(f.Name, v)
	}
	return out, nil
}

// sequenceOf evaluates e and requires a sequence; null and absent become empty.
func sequenceOf(e Expr, doc Document, op string) ([]any, error) {
	v, err := e.Eval(doc)
	if err != nil {
		return nil, err
	}
	if isNullish(v) {
		return []any{}, nil
	}
	seq, ok := v.([]any)
	if !ok {
		return nil, apperror.Aggregation("%s expects a sequence, got %s", op, typeName(v))
	}
	return seq, nil
}

type filterArray struct {
	input Expr
	as    string
	cond  Predicate
}

// FilterArray keeps the elements of a sequence for which cond matches. While cond
// runs, the element is bound under the name as in the enclosing document, so the
// condition can reference both "as.field" and outer fields.
func FilterArray(input Expr, as string, cond Predicate) Expr {
	return filterArray{input: input, as: as, cond: cond}
}

func (f filterArray) Eval(doc Document) (any, error) {
	seq, err := sequenceOf(f.input, doc, "filter")
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(seq))
	for _, e := range seq {
		ok, err := f.cond.Match(doc.Set(f.as, e))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

type mapArray struct {
	input  Expr
	as     string
	fields []FieldExpr
}

// MapArray reshapes every element of a sequence into a sub-document built from fields,
// with the element bound under as.
func MapArray(input Expr, as string, fields ...FieldExpr) Expr {
	return mapArray{input: input, as: as, fields: fields}
}

func (m mapArray) Eval(doc Document) (any, error) {
	seq, err := sequenceOf(m.input, doc, "map")
	if err != nil {
		return nil, err
	}
	build := object(m.fields)
	out := make([]any, 0, len(seq))
	for _, e := range seq {
		v, err := build.Eval(doc.Set(m.as, e))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type elemAt struct {
	input Expr
	index int
}

// First returns the first element of a sequence, or Missing when it is empty.
func First(input Expr) Expr { return elemAt{input: input} }

func (e elemAt) Eval(doc Document) (any, error) {
	seq, err := sequenceOf(e.input, doc, "elemAt")
	if err != nil {
		return nil, err
	}
	if e.index >= len(seq) {
		return Missing, nil
	}
	return seq[e.index], nil
}

// LookupIn returns the first element of a sequence matching cond (element bound under
// as), or Missing when nothing matches.
func LookupIn(input Expr, as string, cond Predicate) Expr {
	return First(FilterArray(input, as, cond))
}

type slice struct {
	input Expr
	n     int
}

// Slice keeps the first n elements of a sequence.
func Slice(input Expr, n int) Expr { return slice{input: input, n: n} }

func (s slice) Eval(doc Document) (any, error) {
	seq, err := sequenceOf(s.input, doc, "slice")
	if err != nil {
		return nil, err
	}
	if s.n < 0 {
		return nil, apperror.InvalidParam("slice length must not be negative, got %d", s.n)
	}
	if len(seq) > s.n {
		seq = seq[:s.n]
	}
	out := make([]any, len(seq))
	copy(out, seq)
	return out, nil
}

type pathOf struct {
	e    Expr
	path string
}

// Get reads a dotted path from the document produced by e.
func Get(e Expr, path string) Expr { return pathOf{e: e, path: path} }

func (p pathOf) Eval(doc Document) (any, error) {
	v, err := p.e.Eval(doc)
	if err != nil {
		return nil, err
	}
	d, ok := v.(Document)
	if !ok {
		return Missing, nil
	}
	out, ok := d.Lookup(p.path)
	if !ok {
		return Missing, nil
	}
	return out, nil
}
