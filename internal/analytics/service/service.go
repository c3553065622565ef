// Package service runs the analytical recipes: it normalizes parameters, resolves
// the references a recipe needs up front, executes the pipeline and layers the
// result cache and report export around it.
package service

import (
	"context"
	"time"

	"github.com/campusdesk/analytics/internal/cache"
	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/internal/models"
	"github.com/campusdesk/analytics/internal/recipes"
	"github.com/campusdesk/analytics/internal/reports"
	"github.com/campusdesk/analytics/internal/store"
	"github.com/campusdesk/analytics/pkg/apperror"
	"github.com/campusdesk/analytics/pkg/logger"
	"github.com/campusdesk/analytics/pkg/metrics"
)

// Exporter uploads a result and returns where to fetch it.
type Exporter interface {
	Export(ctx context.Context, recipe string, params any, res *engine.Result) (*reports.Report, error)
}

// Options configures the optional collaborators. Nil Cache or Exporter disables the
// feature.
type Options struct {
	Cache    cache.Cache
	Exporter Exporter
	Limits   recipes.Limits
}

// Outcome is a recipe result plus how it was produced.
type Outcome struct {
	Recipe string          `json:"recipe"`
	Page   recipes.Page    `json:"-"`
	Result *engine.Result  `json:"-"`
	Cached bool            `json:"cached"`
	Report *reports.Report `json:"report,omitempty"`
}

// DepartmentPage is the listDepartments outcome with its paging summary.
type DepartmentPage struct {
	*Outcome
	Departments      []engine.Document
	TotalDepartments int64
	TotalPages       int64
}

type Service struct {
	store    store.Store
	exec     *engine.Executor
	cache    cache.Cache
	exporter Exporter
	limits   recipes.Limits
}

func New(st store.Store, opts Options) *Service {
	return &Service{
		store:    st,
		exec:     engine.NewExecutor(st),
		cache:    opts.Cache,
		exporter: opts.Exporter,
		limits:   opts.Limits,
	}
}

// CanExport reports whether report export is configured.
func (s *Service) CanExport() bool { return s.exporter != nil }

func (s *Service) page(p recipes.Page) (recipes.Page, error) {
	return p.NormalizeWith(s.limits)
}

func (s *Service) Search(ctx context.Context, p recipes.SearchParams) (*Outcome, error) {
	var err error
	if p.Page, err = s.page(p.Page); err != nil {
		return nil, err
	}
	return s.execute(ctx, recipes.NameSearch, p, p.Page, func() (engine.Pipeline, error) {
		return recipes.Search(p)
	})
}

// FilterListing resolves the named teacher before building the pipeline. A user name
// that does not belong to a teacher is ReferenceNotFound.
func (s *Service) FilterListing(ctx context.Context, p recipes.FilterParams) (*Outcome, error) {
	var err error
	if p.Page, err = s.page(p.Page); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	teacher, err := s.resolveTeacher(ctx, p.TeacherName)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, recipes.NameFilterListing, p, p.Page, func() (engine.Pipeline, error) {
		return recipes.FilterListing(p, teacher)
	})
}

func (s *Service) resolveTeacher(ctx context.Context, userName string) (recipes.Teacher, error) {
	person, err := s.store.FindPersonByUserName(ctx, userName)
	if err != nil {
		if apperror.Is(err, apperror.ReferenceNotFound) {
			return recipes.Teacher{}, apperror.NotFound("teacher", userName)
		}
		return recipes.Teacher{}, err
	}
	if person.Role != models.RoleTeacher {
		return recipes.Teacher{}, apperror.NotFound("teacher", userName).WithDetail("role", string(person.Role))
	}
	return recipes.Teacher{ID: person.ID, UserName: person.UserName}, nil
}

// RevenueRollup runs the fee rollup; with export set the result is also uploaded as a
// report.
func (s *Service) RevenueRollup(ctx context.Context, p recipes.RevenueParams, export bool) (*Outcome, error) {
	var err error
	if p.Page, err = s.page(p.Page); err != nil {
		return nil, err
	}
	if export && s.exporter == nil {
		return nil, apperror.InvalidParam("report export is not configured").WithDetail("field", "export")
	}
	out, err := s.execute(ctx, recipes.NameRevenueRollup, p, p.Page, func() (engine.Pipeline, error) {
		return recipes.RevenueRollup(p)
	})
	if err != nil || !export {
		return out, err
	}
	out.Report, err = s.exporter.Export(ctx, recipes.NameRevenueRollup, p, out.Result)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) TopperRanking(ctx context.Context, p recipes.ToppersParams) (*Outcome, error) {
	var err error
	if p.Page, err = s.page(p.Page); err != nil {
		return nil, err
	}
	p = p.WithDefaults()
	return s.execute(ctx, recipes.NameTopperRanking, p, p.Page, func() (engine.Pipeline, error) {
		return recipes.TopperRanking(p)
	})
}

func (s *Service) ListDepartments(ctx context.Context, p recipes.DepartmentsParams) (*DepartmentPage, error) {
	var err error
	if p.Page, err = s.page(p.Page); err != nil {
		return nil, err
	}
	out, err := s.execute(ctx, recipes.NameListDepartments, p, p.Page, func() (engine.Pipeline, error) {
		return recipes.ListDepartments(p)
	})
	if err != nil {
		return nil, err
	}
	dp := &DepartmentPage{Outcome: out, Departments: out.Result.Branches[recipes.BranchData]}
	if meta := out.Result.Branches[recipes.BranchMetadata]; len(meta) > 0 {
		if v, ok := meta[0].Get("totalDocuments"); ok {
			dp.TotalDepartments, _ = v.(int64)
		}
	}
	dp.TotalPages = p.TotalPages(dp.TotalDepartments)
	return dp, nil
}

// execute runs the pipeline built by build, serving and filling the cache around it.
// Cache failures are logged and never fail the request.
func (s *Service) execute(ctx context.Context, name string, params any, page recipes.Page, build func() (engine.Pipeline, error)) (*Outcome, error) {
	p, err := build()
	if err != nil {
		return nil, err
	}

	var key string
	if s.cache != nil {
		if key, err = cache.Key(name, params); err != nil {
			logger.Warnf("analytics: %v", err)
		} else if res, hit, cerr := s.cache.Get(ctx, key); cerr != nil {
			metrics.CacheLookups.WithLabelValues(name, "error").Inc()
			logger.Warnf("analytics: cache get %s: %v", key, cerr)
		} else if hit {
			metrics.CacheLookups.WithLabelValues(name, "hit").Inc()
			return &Outcome{Recipe: name, Page: page, Result: res, Cached: true}, nil
		} else {
			metrics.CacheLookups.WithLabelValues(name, "miss").Inc()
		}
	}

	start := time.Now()
	res, err := s.exec.Run(ctx, p)
	if err != nil {
		metrics.ObservePipeline(name, string(apperror.KindOf(err)), start)
		return nil, err
	}
	metrics.ObservePipeline(name, "ok", start)

	if s.cache != nil && key != "" {
		if err := s.cache.Set(ctx, key, res); err != nil {
			logger.Warnf("analytics: cache set %s: %v", key, err)
		}
	}
	return &Outcome{Recipe: name, Page: page, Result: res}, nil
}
