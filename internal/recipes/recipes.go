// Package recipes builds the named analytical pipelines from typed parameters.
// Recipes are pure: any lookup they need (a teacher by user name) is resolved by the
// caller and passed in.
package recipes

import "github.com/campusdesk/analytics/pkg/apperror"

const (
	NameSearch          = "search"
	NameFilterListing   = "filterListing"
	NameRevenueRollup   = "revenueRollup"
	NameTopperRanking   = "topperRanking"
	NameListDepartments = "listDepartments"
)

// Names lists every recipe.
var Names = []string{NameSearch, NameFilterListing, NameRevenueRollup, NameTopperRanking, NameListDepartments}

// Known reports whether name is a recipe.
func Known(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// ErrUnknown is returned for a recipe name outside Names.
func ErrUnknown(name string) error {
	return apperror.InvalidParam("unknown recipe %q", name).WithDetail("allowed", Names)
}
