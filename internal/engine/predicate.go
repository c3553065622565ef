package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/campusdesk/analytics/pkg/apperror"
)

// Predicate is a boolean condition over a document. Predicates form a tree of And/Or
// nodes over field comparisons.
type Predicate interface {
	Match(doc Document) (bool, error)
	String() string
}

// candidates returns every value a field comparison may match: the resolved value and,
// when it is a sequence, each of its (recursively flattened) elements.
func candidates(doc Document, path string) []any {
	v, ok := doc.Lookup(path)
	if !ok {
		return nil
	}
	return valuesOf(v)
}

type andPred []Predicate

// And matches when every child matches. An empty And always matches.
func And(preds ...Predicate) Predicate { return andPred(preds) }

func (p andPred) Match(doc Document) (bool, error) {
	for _, c := range p {
		ok, err := c.Match(doc)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (p andPred) String() string { return joinPreds("and", p) }

type orPred []Predicate

// Or matches when any child matches. An empty Or never matches.
func Or(preds ...Predicate) Predicate { return orPred(preds) }

func (p orPred) Match(doc Document) (bool, error) {
	for _, c := range p {
		ok, err := c.Match(doc)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (p orPred) String() string { return joinPreds("or", p) }

func joinPreds(op string, preds []Predicate) string {
	parts := make([]string, len(preds))
	for i, c := range preds {
		parts[i] = c.String()
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

type notPred struct{ inner Predicate }

// Not inverts a predicate.
func Not(p Predicate) Predicate { return notPred{inner: p} }

func (p notPred) Match(doc Document) (bool, error) {
	ok, err := p.inner.Match(doc)
	return !ok && err == nil, err
}

func (p notPred) String() string { return "not(" + p.inner.String() + ")" }

type eqPred struct {
	path  string
	value any
}

// Eq matches when the field equals value, or when the field is a sequence containing
// value. Eq(path, nil) matches null and absent fields.
func Eq(path string, value any) Predicate { return eqPred{path: path, value: Normalize(value)} }

func (p eqPred) Match(doc Document) (bool, error) {
	cs := candidates(doc, p.path)
	if len(cs) == 0 {
		return isNullish(p.value), nil
	}
	for _, c := range cs {
		if equalValues(c, p.value) {
			return true, nil
		}
	}
	return false, nil
}

func (p eqPred) String() string { return fmt.Sprintf("%s == %v", p.path, p.value) }

type eqFieldsPred struct{ a, b string }

// EqFields matches when the values at two paths are equal. Sequences on either side
// match element-wise; null and absent values never match.
func EqFields(a, b string) Predicate { return eqFieldsPred{a: a, b: b} }

func (p eqFieldsPred) Match(doc Document) (bool, error) {
	right := candidates(doc, p.b)
	for _, x := range candidates(doc, p.a) {
		if isNullish(x) {
			continue
		}
		for _, y := range right {
			if equalValues(x, y) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (p eqFieldsPred) String() string { return fmt.Sprintf("%s == $%s", p.a, p.b) }

type existsPred struct {
	path string
	want bool
}

// Exists matches on presence (want=true) or absence (want=false) of a non-null field.
func Exists(path string, want bool) Predicate { return existsPred{path: path, want: want} }

func (p existsPred) Match(doc Document) (bool, error) {
	v, ok := doc.Lookup(p.path)
	present := ok && !isNullish(v)
	if s, isSeq := v.([]any); ok && isSeq && strings.Contains(p.path, ".") {
		present = len(s) > 0
	}
	return present == p.want, nil
}

func (p existsPred) String() string { return fmt.Sprintf("exists(%s)=%t", p.path, p.want) }

type regexPred struct {
	path string
	re   *regexp.Regexp
	src  string
}

// Contains matches when the string field contains term, ignoring case. Non-string
// values never match.
func Contains(path, term string) Predicate {
	return regexPred{path: path, re: regexp.MustCompile("(?i)" + regexp.QuoteMeta(term)), src: term}
}

// Regex matches a case-insensitive regular expression against string fields.
func Regex(path, pattern string) (Predicate, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, apperror.InvalidParam("invalid pattern %q: %v", pattern, err)
	}
	return regexPred{path: path, re: re, src: pattern}, nil
}

func (p regexPred) Match(doc Document) (bool, error) {
	for _, c := range candidates(doc, p.path) {
		if s, ok := c.(string); ok && p.re.MatchString(s) {
			return true, nil
		}
	}
	return false, nil
}

func (p regexPred) String() string { return fmt.Sprintf("%s ~ /%s/i", p.path, p.src) }

type cmpOp int

const (
	opGt cmpOp = iota
	opGte
	opLt
	opLte
)

var cmpOpNames = map[cmpOp]string{opGt: ">", opGte: ">=", opLt: "<", opLte: "<="}

type cmpPred struct {
	path  string
	op    cmpOp
	value any
}

// Gt, Gte, Lt and Lte compare a field against a value of the same type family.
// Comparing across incompatible types (a string field against a number) is an
// AggregationError; absent or null fields simply do not match.
func Gt(path string, v any) Predicate  { return cmpPred{path: path, op: opGt, value: Normalize(v)} }
func Gte(path string, v any) Predicate { return cmpPred{path: path, op: opGte, value: Normalize(v)} }
func Lt(path string, v any) Predicate  { return cmpPred{path: path, op: opLt, value: Normalize(v)} }
func Lte(path string, v any) Predicate { return cmpPred{path: path, op: opLte, value: Normalize(v)} }

func (p cmpPred) Match(doc Document) (bool, error) {
	for _, c := range candidates(doc, p.path) {
		if isNullish(c) {
			continue
		}
		if _, isSeq := c.([]any); isSeq {
			continue
		}
		r, err := compareStrict(c, p.value)
		if err != nil {
			return false, apperror.Aggregation("%s: %v", p.path, err)
		}
		var ok bool
		switch p.op {
		case opGt:
			ok = r > 0
		case opGte:
			ok = r >= 0
		case opLt:
			ok = r < 0
		case opLte:
			ok = r <= 0
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (p cmpPred) String() string { return fmt.Sprintf("%s %s %v", p.path, cmpOpNames[p.op], p.value) }

type exprPred struct{ expr Expr }

// Truthy matches when expr evaluates to a truthy value (true, non-zero number,
// non-empty string, any document or sequence). Missing and null are falsy.
func Truthy(expr Expr) Predicate { return exprPred{expr: expr} }

func (p exprPred) Match(doc Document) (bool, error) {
	v, err := p.expr.Eval(doc)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func (p exprPred) String() string { return fmt.Sprintf("truthy(%v)", p.expr) }

func truthy(v any) bool {
	if isNullish(v) {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	if n, ok := toNumber(v); ok {
		return n != 0
	}
	return true
}

type always bool

// True always matches; it is the neutral element of And.
func True() Predicate { return always(true) }

func (a always) Match(Document) (bool, error) { return bool(a), nil }
func (a always) String() string               { return fmt.Sprintf("%t", bool(a)) }
