package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/campusdesk/analytics/internal/analytics/service"
	"github.com/campusdesk/analytics/internal/models"
	"github.com/campusdesk/analytics/internal/recipes"
	"github.com/campusdesk/analytics/pkg/apperror"
	"github.com/campusdesk/analytics/pkg/logger"
	"github.com/campusdesk/analytics/pkg/middleware"
)

// RecipeRoles lists who may run each recipe when role enforcement is on.
var RecipeRoles = map[string][]string{
	recipes.NameSearch:          {string(models.RolePrincipal), string(models.RoleTeacher)},
	recipes.NameFilterListing:   {string(models.RolePrincipal), string(models.RoleTeacher)},
	recipes.NameRevenueRollup:   {string(models.RolePrincipal)},
	recipes.NameTopperRanking:   {string(models.RolePrincipal), string(models.RoleTeacher)},
	recipes.NameListDepartments: {string(models.RolePrincipal), string(models.RoleTeacher)},
}

type Handler struct {
	svc          *service.Service
	enforceRoles bool
}

// New returns the analytics handler. With enforceRoles set, callers need one of
// RecipeRoles for the recipe; it only makes sense behind AuthMiddleware.
func New(svc *service.Service, enforceRoles bool) *Handler {
	return &Handler{svc: svc, enforceRoles: enforceRoles}
}

// RegisterRoutes mounts GET <prefix> (recipe list) and GET <prefix>/:recipe.
func (h *Handler) RegisterRoutes(rg gin.IRoutes, prefix string) {
	rg.GET(prefix, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"recipes": recipes.Names, "searchFilters": recipes.SearchFilterNames()})
	})
	rg.GET(prefix+"/:recipe", h.run)
}

func (h *Handler) run(c *gin.Context) {
	name := c.Param("recipe")
	if !recipes.Known(name) {
		writeError(c, recipes.ErrUnknown(name))
		return
	}
	if h.enforceRoles {
		claims, _ := middleware.Claims(c)
		if !middleware.HasRole(claims, RecipeRoles[name]...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role", "required": RecipeRoles[name]})
			return
		}
	}

	ctx := c.Request.Context()
	switch name {
	case recipes.NameSearch:
		var p recipes.SearchParams
		if !bind(c, &p) {
			return
		}
		p.Filters = searchFilters(c)
		out, err := h.svc.Search(ctx, p)
		respondList(c, out, err)

	case recipes.NameFilterListing:
		var p recipes.FilterParams
		if !bind(c, &p) {
			return
		}
		out, err := h.svc.FilterListing(ctx, p)
		respondList(c, out, err)

	case recipes.NameRevenueRollup:
		var p recipes.RevenueParams
		if !bind(c, &p) {
			return
		}
		export, err := boolQuery(c, "export")
		if err != nil {
			writeError(c, err)
			return
		}
		out, err := h.svc.RevenueRollup(ctx, p, export)
		respondList(c, out, err)

	case recipes.NameTopperRanking:
		var p recipes.ToppersParams
		if !bind(c, &p) {
			return
		}
		out, err := h.svc.TopperRanking(ctx, p)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"recipe":                        out.Recipe,
			"cached":                        out.Cached,
			recipes.BranchDepartmentToppers: nonNil(out.Result.Branches[recipes.BranchDepartmentToppers]),
			recipes.BranchUniversityToppers: nonNil(out.Result.Branches[recipes.BranchUniversityToppers]),
		})

	case recipes.NameListDepartments:
		var p recipes.DepartmentsParams
		if !bind(c, &p) {
			return
		}
		out, err := h.svc.ListDepartments(ctx, p)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"recipe":           out.Recipe,
			"cached":           out.Cached,
			"data":             nonNil(out.Departments),
			"page":             out.Page.Number,
			"limit":            out.Page.Limit,
			"totalPages":       out.TotalPages,
			"totalDepartments": out.TotalDepartments,
		})
	}
}

func respondList(c *gin.Context, out *service.Outcome, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	body := gin.H{
		"recipe": out.Recipe,
		"cached": out.Cached,
		"page":   out.Page.Number,
		"limit":  out.Page.Limit,
		"count":  len(out.Result.Documents),
		"data":   nonNil(out.Result.Documents),
	}
	if out.Report != nil {
		body["report"] = out.Report
	}
	c.JSON(http.StatusOK, body)
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindQuery(v); err != nil {
		writeError(c, apperror.InvalidParam("invalid query: %v", err))
		return false
	}
	return true
}

// searchFilters accepts filters both as filter[name]=v and as plain name=v.
func searchFilters(c *gin.Context) map[string]string {
	out := c.QueryMap("filter")
	for _, name := range recipes.SearchFilterNames() {
		if v, ok := c.GetQuery(name); ok && v != "" {
			out[name] = v
		}
	}
	return out
}

func boolQuery(c *gin.Context, key string) (bool, error) {
	v, ok := c.GetQuery(key)
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, apperror.InvalidParam("%s must be a boolean, got %q", key, v).WithDetail("field", key)
	}
	return b, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeError(c *gin.Context, err error) {
	var ae *apperror.Error
	if !errors.As(err, &ae) {
		logger.Errorf("analytics: unexpected error on %s: %v", c.Request.URL.Path, err)
		ae = apperror.New(apperror.Internal, "internal error")
	} else if ae.Kind == apperror.Internal || ae.Kind == apperror.StoreUnavailable {
		logger.Errorf("analytics: %s: %v", c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(ae.HTTPStatus(), gin.H{"error": ae})
}
