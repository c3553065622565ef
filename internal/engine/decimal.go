package engine

import (
	"math"
	"math/big"
	"strconv"

	"github.com/campusdesk/analytics/pkg/apperror"
)

// decimalOf is the shortest decimal that reads back as x, so 1.005 is 1005/1000
// rather than the binary value just below it.
func decimalOf(x float64) *big.Rat {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(x, 'g', -1, 64))
	if !ok {
		return new(big.Rat).SetFloat64(x)
	}
	return r
}

// roundRat rounds r half away from zero to places decimals.
func roundRat(r *big.Rat, places int) float64 {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(places)), nil)
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(scale))
	q, m := new(big.Int).QuoRem(scaled.Num(), scaled.Denom(), new(big.Int))
	if new(big.Int).Lsh(new(big.Int).Abs(m), 1).Cmp(scaled.Denom()) >= 0 {
		if scaled.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	f, _ := new(big.Rat).SetFrac(q, scale).Float64()
	return f
}

// RoundTo rounds x half away from zero to places decimals, treating x as the decimal
// it prints as.
func RoundTo(x float64, places int) float64 {
	if places < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return roundRat(decimalOf(x), places)
}

// PercentOf is part/whole*100 rounded to places decimals, computed on the decimal
// values of part and whole. ok is false when whole is zero.
func PercentOf(part, whole float64, places int) (pct float64, ok bool) {
	if whole == 0 {
		return 0, false
	}
	r := new(big.Rat).Quo(decimalOf(part), decimalOf(whole))
	r.Mul(r, big.NewRat(100, 1))
	return roundRat(r, places), true
}

type percent struct {
	part, whole Expr
	places      int
}

// Percent evaluates part/whole*100 rounded to places decimals. Null operands yield
// null; non-numeric operands and a zero whole are AggregationErrors.
func Percent(part, whole Expr, places int) Expr { return percent{part: part, whole: whole, places: places} }

func (p percent) Eval(doc Document) (any, error) {
	var nums [2]float64
	for i, e := range []Expr{p.part, p.whole} {
		v, err := e.Eval(doc)
		if err != nil {
			return nil, err
		}
		if isNullish(v) {
			return nil, nil
		}
		n, ok := toNumber(v)
		if !ok {
			return nil, apperror.Aggregation("percent expects numbers, got %s", typeName(v))
		}
		nums[i] = n
	}
	pct, ok := PercentOf(nums[0], nums[1], p.places)
	if !ok {
		return nil, apperror.Aggregation("division by zero")
	}
	return pct, nil
}
