package recipes

import (
	"math"

	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/pkg/apperror"
)

const (
	DefaultPage     = 1
	DefaultLimit    = 10
	DefaultMaxLimit = 100
)

// Page is the paging and ordering part of every recipe request. Sort is 1 for
// ascending and -1 for descending.
type Page struct {
	Number int `json:"page" form:"page"`
	Limit  int `json:"limit" form:"limit"`
	Sort   int `json:"sort" form:"sort"`
}

// Limits are the configured page size bounds.
type Limits struct {
	Default int
	Max     int
}

// Normalize applies the defaults (page 1, limit 10, ascending) to absent or
// non-positive values and rejects limits above maxLimit and unknown sort directions.
func (p Page) Normalize(maxLimit int) (Page, error) {
	return p.NormalizeWith(Limits{Default: DefaultLimit, Max: maxLimit})
}

// NormalizeWith is Normalize with a configured default page size.
func (p Page) NormalizeWith(l Limits) (Page, error) {
	if l.Default <= 0 {
		l.Default = DefaultLimit
	}
	if l.Max <= 0 {
		l.Max = DefaultMaxLimit
	}
	maxLimit := l.Max
	if p.Number <= 0 {
		p.Number = DefaultPage
	}
	if p.Limit <= 0 {
		p.Limit = l.Default
	}
	if p.Limit > maxLimit {
		return p, apperror.InvalidParam("limit must be at most %d, got %d", maxLimit, p.Limit).WithDetail("field", "limit")
	}
	if p.Number > math.MaxInt/p.Limit {
		return p, apperror.InvalidParam("page %d is out of range for limit %d", p.Number, p.Limit).WithDetail("field", "page")
	}
	switch p.Sort {
	case 0:
		p.Sort = 1
	case 1, -1:
	default:
		return p, apperror.InvalidParam("sort must be 1 or -1, got %d", p.Sort).WithDetail("field", "sort")
	}
	return p, nil
}

// Skip is the number of documents before the page.
func (p Page) Skip() int { return (p.Number - 1) * p.Limit }

// Stages orders the stream by keys and cuts out the page. Paging without an order
// gives no stable result, so at least one key is required.
func (p Page) Stages(keys ...engine.SortKey) []engine.Stage {
	if len(keys) == 0 {
		panic("recipes.Page.Stages: pagination needs a sort key")
	}
	return []engine.Stage{
		engine.Sort{Keys: keys},
		engine.Paginate{Page: p.Number, Size: p.Limit},
	}
}

// TotalPages is the page count for total documents at this page size.
func (p Page) TotalPages(total int64) int64 {
	if p.Limit <= 0 || total <= 0 {
		return 0
	}
	return (total + int64(p.Limit) - 1) / int64(p.Limit)
}
