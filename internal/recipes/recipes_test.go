package recipes

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusdesk/analytics/internal/engine"
	"github.com/campusdesk/analytics/internal/models"
	"github.com/campusdesk/analytics/pkg/apperror"
)

func userNames(t *testing.T, v any) []string {
	t.Helper()
	seq, ok := v.([]any)
	require.True(t, ok, "expected a sequence, got %T", v)
	out := make([]string, len(seq))
	for i, e := range seq {
		n, _ := e.(engine.Document).Get("userName")
		out[i] = n.(string)
	}
	return out
}

func TestPageNormalize(t *testing.T) {
	p, err := Page{}.Normalize(100)
	require.NoError(t, err)
	require.Equal(t, Page{Number: 1, Limit: 10, Sort: 1}, p)

	p, err = Page{Number: -3, Limit: -1, Sort: -1}.Normalize(100)
	require.NoError(t, err)
	require.Equal(t, Page{Number: 1, Limit: 10, Sort: -1}, p)

	_, err = Page{Limit: 101}.Normalize(100)
	require.True(t, apperror.Is(err, apperror.InvalidParameter))

	_, err = Page{Number: math.MaxInt/5 + 1, Limit: 5}.Normalize(100)
	require.True(t, apperror.Is(err, apperror.InvalidParameter))
	_, err = Page{Number: math.MaxInt / 5, Limit: 5}.Normalize(100)
	require.NoError(t, err)

	_, err = Page{Sort: 2}.Normalize(100)
	require.True(t, apperror.Is(err, apperror.InvalidParameter))

	require.Equal(t, 10, Page{Number: 3, Limit: 5}.Skip())
	require.Equal(t, int64(3), Page{Limit: 5}.TotalPages(12))
	require.Equal(t, int64(0), Page{Limit: 5}.TotalPages(0))
}

func TestSearchTermMatchesDepartmentWithoutStudents(t *testing.T) {
	c := newCampus(t)
	p, err := Search(SearchParams{Term: "cs101", Page: page()})
	require.NoError(t, err)

	docs := c.run(t, p).Documents
	require.Len(t, docs, 1)
	require.Equal(t, "CS101", field(t, docs[0], "departmentName"))
	require.False(t, docs[0].Has("students"))
	require.False(t, docs[0].Has("teacherDetails"))
}

func TestSearchKeepsOnlyMatchedMembers(t *testing.T) {
	c := newCampus(t)
	p, err := Search(SearchParams{Term: "ELM", Page: page()})
	require.NoError(t, err)

	docs := c.run(t, p).Documents
	require.Len(t, docs, 1)
	require.Equal(t, "CS", field(t, docs[0], "departmentName"))
	require.Equal(t, []string{"alice", "carol"}, userNames(t, field(t, docs[0], "students")))
	require.False(t, docs[0].Has("teacherDetails"), "no teacher matched the term")
}

func TestSearchExactFilters(t *testing.T) {
	c := newCampus(t)
	p, err := Search(SearchParams{Filters: map[string]string{"teacherName": "tina"}, Page: page()})
	require.NoError(t, err)

	docs := c.run(t, p).Documents
	require.Len(t, docs, 1)
	require.Equal(t, []string{"tina"}, userNames(t, field(t, docs[0], "teacherDetails")))
	require.Equal(t, []string{"alice", "bob", "carol"}, userNames(t, field(t, docs[0], "students")))

	p, err = Search(SearchParams{Term: "tom", Filters: map[string]string{"departmentName": "EE"}, Page: page()})
	require.NoError(t, err)
	docs = c.run(t, p).Documents
	require.Len(t, docs, 1)
	require.Equal(t, []string{"tom"}, userNames(t, field(t, docs[0], "teacherDetails")))
	require.False(t, docs[0].Has("students"))

	_, err = Search(SearchParams{Filters: map[string]string{"shoeSize": "9"}, Page: page()})
	require.True(t, apperror.Is(err, apperror.InvalidParameter))
}

func TestSearchWithoutCriteriaPagesAllDepartments(t *testing.T) {
	c := newCampus(t)
	p, err := Search(SearchParams{Page: Page{Number: 2, Limit: 3, Sort: 1}})
	require.NoError(t, err)
	docs := c.run(t, p).Documents
	require.Len(t, docs, 1)
	require.Equal(t, "ME", field(t, docs[0], "departmentName"))
}

func TestFilterListing(t *testing.T) {
	c := newCampus(t)
	tina := Teacher{ID: c.people["tina"], UserName: "tina"}

	for _, student := range []string{"alice", "bob", "carol"} {
		p, err := FilterListing(FilterParams{DepartmentName: "CS", TeacherName: "tina", SubjectName: "Operating Systems", StudentName: student, Page: page()}, tina)
		require.NoError(t, err)
		docs := c.run(t, p).Documents
		require.Len(t, docs, 1, student)
		d := docs[0]
		require.Equal(t, student, field(t, d, "studentName"))
		require.Equal(t, "Operating Systems", field(t, d, "taughtSub"))
		require.Equal(t, "tina", field(t, d, "subjectTeacherName"))
		require.Equal(t, c.people["tina"], field(t, d, "teacherId"))
		for _, stripped := range []string{"teacherDetails", "teacherName", "teacher", "students", "subjects", "subjectTeacherDetails"} {
			require.False(t, d.Has(stripped), stripped)
		}
	}

	// dave is not a CS student
	p, err := FilterListing(FilterParams{DepartmentName: "CS", TeacherName: "tina", SubjectName: "Operating Systems", StudentName: "dave", Page: page()}, tina)
	require.NoError(t, err)
	require.Empty(t, c.run(t, p).Documents)

	p, err = FilterListing(FilterParams{DepartmentName: "CS", TeacherName: "tina", SubjectName: "Operating Systems", StudentName: "bob", Page: Page{Number: 2, Limit: 1, Sort: 1}}, tina)
	require.NoError(t, err)
	require.Empty(t, c.run(t, p).Documents, "the single row is on page 1")
}

func TestFilterListingTeacherMustTeachSubjectInDepartment(t *testing.T) {
	c := newCampus(t)
	tina := Teacher{ID: c.people["tina"], UserName: "tina"}
	tom := Teacher{ID: c.people["tom"], UserName: "tom"}

	// tom teaches DBMS in CS but is not one of its teachers
	p, err := FilterListing(FilterParams{DepartmentName: "CS", TeacherName: "tom", SubjectName: "Database Management Systems", StudentName: "alice", Page: page()}, tom)
	require.NoError(t, err)
	require.Empty(t, c.run(t, p).Documents)

	// tina is a CS teacher, but DBMS is assigned to tom
	p, err = FilterListing(FilterParams{DepartmentName: "CS", TeacherName: "tina", SubjectName: "Database Management Systems", StudentName: "alice", Page: page()}, tina)
	require.NoError(t, err)
	require.Empty(t, c.run(t, p).Documents)

	// tom does teach in EE
	p, err = FilterListing(FilterParams{DepartmentName: "EE", TeacherName: "tom", SubjectName: "Computer Networks", StudentName: "dave", Page: page()}, tom)
	require.NoError(t, err)
	require.Len(t, c.run(t, p).Documents, 1)
}

func TestFilterListingParams(t *testing.T) {
	full := FilterParams{DepartmentName: "CS", TeacherName: "tina", SubjectName: "Operating Systems", StudentName: "alice", Page: page()}
	tina := Teacher{ID: primitive.NewObjectID(), UserName: "tina"}

	for _, missing := range []string{"departmentName", "teacherName", "subjectName", "studentName"} {
		p := full
		switch missing {
		case "departmentName":
			p.DepartmentName = ""
		case "teacherName":
			p.TeacherName = ""
		case "subjectName":
			p.SubjectName = ""
		case "studentName":
			p.StudentName = ""
		}
		_, err := FilterListing(p, tina)
		require.True(t, apperror.Is(err, apperror.InvalidParameter), missing)
	}

	_, err := FilterListing(full, tina)
	require.NoError(t, err)

	ghost := full
	ghost.TeacherName = "ghost"
	_, err = FilterListing(ghost, Teacher{})
	require.True(t, apperror.Is(err, apperror.ReferenceNotFound))
}

func TestRevenueRollup(t *testing.T) {
	c := newCampus(t)
	p, err := RevenueRollup(RevenueParams{Page: page()})
	require.NoError(t, err)

	docs := c.run(t, p).Documents
	require.Len(t, docs, 2, "EE has no paying student, frank has no department")

	cs, me := docs[0], docs[1]
	require.Equal(t, "CS", field(t, cs, "departmentName"))
	require.Equal(t, c.depts["CS"], field(t, cs, "departmentId"))
	require.EqualValues(t, 3, field(t, cs, "totalStudents"))
	require.EqualValues(t, 1, field(t, cs, "totalPaidStudents"))
	require.EqualValues(t, 2, field(t, cs, "totalUnpaidStudents"))
	require.EqualValues(t, 20000, field(t, cs, "totalFeesCollected"))
	require.EqualValues(t, 500, field(t, cs, "totalPenaltyCollected"))
	require.Len(t, field(t, cs, "students"), 3)
	require.False(t, cs.Has("_id"))

	require.Equal(t, "ME", field(t, me, "departmentName"))
	require.EqualValues(t, 1, field(t, me, "totalStudents"))
	require.EqualValues(t, 1, field(t, me, "totalPaidStudents"))
	require.EqualValues(t, 0, field(t, me, "totalUnpaidStudents"))

	for _, d := range docs {
		paid := field(t, d, "totalPaidStudents").(int64)
		unpaid := field(t, d, "totalUnpaidStudents").(int64)
		require.Equal(t, field(t, d, "totalStudents"), paid+unpaid)
	}
}

func TestRevenueRollupKeywordAndOrder(t *testing.T) {
	c := newCampus(t)
	p, err := RevenueRollup(RevenueParams{SearchKeyword: "me", Page: page()})
	require.NoError(t, err)
	docs := c.run(t, p).Documents
	require.Len(t, docs, 1)
	require.Equal(t, "ME", field(t, docs[0], "departmentName"))

	p, err = RevenueRollup(RevenueParams{Page: Page{Number: 1, Limit: 10, Sort: -1}})
	require.NoError(t, err)
	docs = c.run(t, p).Documents
	require.Equal(t, "ME", field(t, docs[0], "departmentName"))
	require.Equal(t, "CS", field(t, docs[1], "departmentName"))
}

func TestRevenueRollupRejectsStudentInTwoDepartments(t *testing.T) {
	c := newCampus(t)
	_, err := c.store.Insert(context.Background(), "departments", models.Department{
		DepartmentName: "Dup",
		Students:       []models.StudentRef{{StudentID: c.people["alice"], StudentUniqueNo: "X"}},
	})
	require.NoError(t, err)
	p, err := RevenueRollup(RevenueParams{Page: page()})
	require.NoError(t, err)
	_, err = engine.NewExecutor(c.store).Run(context.Background(), p)
	require.True(t, apperror.Is(err, apperror.AggregationError))
}

func topperNames(t *testing.T, d engine.Document) []string {
	t.Helper()
	seq := field(t, d, "toppers").([]any)
	out := make([]string, len(seq))
	for i, e := range seq {
		n, _ := e.(engine.Document).Get("studentName")
		out[i] = n.(string)
	}
	return out
}

func TestTopperRankingDepartmentScenario(t *testing.T) {
	c := newCampus(t)
	stale := grade("CS", "A", 90, 100, models.StatusPass)
	stale.Percentage = 12
	c.grades(t,
		stale,
		grade("CS", "B", 95, 100, models.StatusPass),
		grade("CS", "C", 40, 100, models.StatusFail),
		grade("EE", "D", 99, 100, models.StatusPass),
	)
	p, err := TopperRanking(ToppersParams{Scope: ScopeDepartment, DepartmentName: "CS", Top: 2, Page: page()})
	require.NoError(t, err)

	res := c.run(t, p)
	require.True(t, res.IsBranch())
	require.Len(t, res.Branches, 2)
	dept := res.Branches[BranchDepartmentToppers]
	require.Len(t, dept, 1)
	require.Equal(t, "CS", field(t, dept[0], "departmentName"))
	require.Equal(t, []string{"B", "A"}, topperNames(t, dept[0]))
	require.Equal(t, 92.5, field(t, dept[0], "overallPassingPercentage"))
	require.Equal(t, 90.0, field(t, dept[0], "toppers.percentage").([]any)[1], "percentage is recomputed")
	require.Equal(t, dept, res.Branches[BranchUniversityToppers])
}

func TestTopperRankingAverageCoversAllPassingStudents(t *testing.T) {
	c := newCampus(t)
	c.grades(t,
		grade("ME", "m1", 70, 100, models.StatusPass),
		grade("ME", "m2", 80, 100, models.StatusPass),
		grade("ME", "m3", 90, 100, models.StatusPass),
		grade("ME", "m4", 60, 100, models.StatusPass),
		grade("ME", "m5", 85, 100, models.StatusPass),
	)
	p, err := TopperRanking(ToppersParams{DepartmentName: "ME", Top: 3, Page: page()})
	require.NoError(t, err)

	dept := c.run(t, p).Branches[BranchDepartmentToppers]
	require.Len(t, dept, 1)
	require.Equal(t, []string{"m3", "m5", "m2"}, topperNames(t, dept[0]))
	require.Equal(t, 77.0, field(t, dept[0], "overallPassingPercentage"))
}

func TestTopperRankingUniversity(t *testing.T) {
	c := newCampus(t)
	c.grades(t,
		grade("CS", "A", 90, 100, models.StatusPass),
		grade("CS", "B", 95, 100, models.StatusPass),
		grade("EE", "D", 99, 100, models.StatusPass),
		grade("EE", "E", 100, 100, models.StatusFail),
		grade("ME", "F", 2, 3, models.StatusPass),
	)
	p, err := TopperRanking(ToppersParams{Scope: ScopeUniversity, Top: 2, Page: Page{Number: 5, Limit: 1, Sort: 1}})
	require.NoError(t, err)

	res := c.run(t, p)
	uni := res.Branches[BranchUniversityToppers]
	require.Len(t, uni, 2, "page parameters do not apply to the university scope")
	require.Equal(t, "D", field(t, uni[0], "studentName"))
	require.Equal(t, "EE", field(t, uni[0], "departmentName"))
	require.Equal(t, 99.0, field(t, uni[0], "percentage"))
	require.Equal(t, "B", field(t, uni[1], "studentName"))
	require.Equal(t, uni, res.Branches[BranchDepartmentToppers])

	p, err = TopperRanking(ToppersParams{Scope: ScopeUniversity, Top: 5, Page: page()})
	require.NoError(t, err)
	uni = c.run(t, p).Branches[BranchUniversityToppers]
	require.Len(t, uni, 4)
	require.Equal(t, 66.67, field(t, uni[3], "percentage"))
}

func TestTopperRankingErrors(t *testing.T) {
	_, err := TopperRanking(ToppersParams{Scope: "galaxy", Page: page()})
	require.True(t, apperror.Is(err, apperror.InvalidParameter))

	c := newCampus(t)
	c.grades(t, grade("CS", "Z", 0, 0, models.StatusFail))
	p, err := TopperRanking(ToppersParams{Page: page()})
	require.NoError(t, err)
	_, err = engine.NewExecutor(c.store).Run(context.Background(), p)
	require.True(t, apperror.Is(err, apperror.AggregationError))
	var ae *apperror.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, 0, *ae.Stage)
}

func TestListDepartments(t *testing.T) {
	c := newCampus(t)
	p, err := ListDepartments(DepartmentsParams{Page: Page{Number: 1, Limit: 2, Sort: 1}})
	require.NoError(t, err)

	res := c.run(t, p)
	require.Equal(t, []engine.Document{engine.Doc("totalDocuments", 4)}, res.Branches[BranchMetadata])

	data := res.Branches[BranchData]
	require.Len(t, data, 2)
	cs := data[0]
	require.Equal(t, "CS", field(t, cs, "departmentName"))
	require.EqualValues(t, 3, field(t, cs, "totalStudents"))
	require.EqualValues(t, 2, field(t, cs, "totalSubjects"))
	require.EqualValues(t, 1, field(t, cs, "totalTeachers"))
	require.Equal(t, []string{"tom", "tina"}, userNames(t, field(t, cs, "subjects.teacher")))

	cs101 := data[1]
	require.Equal(t, "CS101", field(t, cs101, "departmentName"))
	require.EqualValues(t, 0, field(t, cs101, "totalStudents"))
	require.Empty(t, field(t, cs101, "subjects"))
}
