package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campusdesk/analytics/pkg/apperror"
)

// memSource serves fixed collections and counts how often each one is opened.
type memSource struct {
	mu    sync.Mutex
	data  map[string][]Document
	opens map[string]int
	fail  map[string]error
}

func newMemSource(data map[string][]Document) *memSource {
	return &memSource{data: data, opens: map[string]int{}, fail: map[string]error{}}
}

func (m *memSource) Open(_ context.Context, collection string) (Iterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens[collection]++
	if err := m.fail[collection]; err != nil {
		return nil, err
	}
	return SliceIterator(m.data[collection]), nil
}

func (m *memSource) openCount(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[collection]
}

func numbered(n int) []Document {
	out := make([]Document, n)
	for i := range out {
		out[i] = Doc("_id", i, "n", i)
	}
	return out
}

func ids(t *testing.T, docs []Document) []int64 {
	t.Helper()
	out := make([]int64, len(docs))
	for i, d := range docs {
		v, ok := d.Get("_id")
		require.True(t, ok)
		out[i] = v.(int64)
	}
	return out
}

func runDocs(t *testing.T, src Source, collection string, stages ...Stage) []Document {
	t.Helper()
	res, err := NewExecutor(src).Run(context.Background(), Pipeline{Name: t.Name(), Collection: collection, Stages: stages})
	require.NoError(t, err)
	require.False(t, res.IsBranch())
	return res.Documents
}

func requireKind(t *testing.T, err error, kind apperror.Kind, stage int) *apperror.Error {
	t.Helper()
	require.Error(t, err)
	var ae *apperror.Error
	require.True(t, errors.As(err, &ae), "expected *apperror.Error, got %T", err)
	require.Equal(t, kind, ae.Kind, ae.Error())
	if stage >= 0 {
		require.NotNil(t, ae.Stage)
		require.Equal(t, stage, *ae.Stage)
	}
	return ae
}

func TestPaginateOffsets(t *testing.T) {
	src := newMemSource(map[string][]Document{"items": numbered(12)})

	page2 := runDocs(t, src, "items", Sort{Keys: []SortKey{Asc("_id")}}, Paginate{Page: 2, Size: 5})
	require.Equal(t, []int64{5, 6, 7, 8, 9}, ids(t, page2))

	page3 := runDocs(t, src, "items", Sort{Keys: []SortKey{Asc("_id")}}, Paginate{Page: 3, Size: 5})
	require.Equal(t, []int64{10, 11}, ids(t, page3))

	page4 := runDocs(t, src, "items", Paginate{Page: 4, Size: 5})
	require.Empty(t, page4)
	require.NotNil(t, page4)

	viaPair := runDocs(t, src, "items", PaginateStages(2, 5)...)
	require.Equal(t, []int64{5, 6, 7, 8, 9}, ids(t, viaPair))
}

func TestPaginateRejectsNonPositive(t *testing.T) {
	src := newMemSource(map[string][]Document{"items": numbered(3)})
	for _, p := range []Paginate{{Page: 0, Size: 5}, {Page: 1, Size: 0}, {Page: -2, Size: -1}, {Page: math.MaxInt/5 + 2, Size: 5}} {
		_, err := NewExecutor(src).Run(context.Background(), Pipeline{Collection: "items", Stages: []Stage{Select{Where: True()}, p}})
		requireKind(t, err, apperror.InvalidParameter, 1)
	}
	require.Zero(t, src.openCount("items"), "validation happens before any read")
}

func TestJoinAttachesSequenceOnEveryDocument(t *testing.T) {
	src := newMemSource(map[string][]Document{
		"orders": {
			Doc("_id", 1, "customer", "a"),
			Doc("_id", 2, "customer", "zzz"),
			Doc("_id", 3),
			Doc("_id", 4, "customer", nil),
			Doc("_id", 5, "customer", []any{"b", "a", "a"}),
		},
		"customers": {
			Doc("_id", "b", "name", "Bea"),
			Doc("_id", "a", "name", "Ann"),
			Doc("_id", "c"),
			Doc("name", "nameless"),
		},
	})
	docs := runDocs(t, src, "orders", Join{From: "customers", LocalField: "customer", ForeignField: "_id", As: "who"})
	require.Len(t, docs, 5)

	want := map[int64][]string{1: {"Ann"}, 2: {}, 3: {}, 4: {}, 5: {"Bea", "Ann"}}
	for _, d := range docs {
		id, _ := d.Get("_id")
		v, ok := d.Get("who")
		require.True(t, ok, "join output present on %v", id)
		seq, ok := v.([]any)
		require.True(t, ok, "join output is a sequence on %v", id)
		require.NotNil(t, seq)
		names := []string{}
		for _, e := range seq {
			n, _ := e.(Document).Get("name")
			names = append(names, n.(string))
		}
		require.Equal(t, want[id.(int64)], names, "document %v", id)
	}
	require.Equal(t, 1, src.openCount("customers"), "foreign collection indexed once")
}

func TestJoinOnSequenceForeignField(t *testing.T) {
	src := newMemSource(map[string][]Document{
		"people": {Doc("_id", "s1"), Doc("_id", "s2"), Doc("_id", "s3")},
		"departments": {
			Doc("_id", "d1", "name", "CS", "students", []any{Doc("studentId", "s1"), Doc("studentId", "s2")}),
			Doc("_id", "d2", "name", "EE", "students", []any{}),
		},
	})
	docs := runDocs(t, src, "people", Join{From: "departments", LocalField: "_id", ForeignField: "students.studentId", As: "dept"})
	counts := []int{}
	for _, d := range docs {
		v, _ := d.Get("dept")
		counts = append(counts, len(v.([]any)))
	}
	require.Equal(t, []int{1, 1, 0}, counts)
}

func TestJoinAtMostOne(t *testing.T) {
	src := newMemSource(map[string][]Document{
		"people": {Doc("_id", "s1"), Doc("_id", "s2")},
		"departments": {
			Doc("_id", "d1", "students", []any{Doc("studentId", "s1")}),
			Doc("_id", "d2", "students", []any{Doc("studentId", "s1")}),
		},
	})
	_, err := NewExecutor(src).Run(context.Background(), Pipeline{Collection: "people", Stages: []Stage{
		Select{Where: True()},
		Join{From: "departments", LocalField: "_id", ForeignField: "students.studentId", As: "dept", AtMostOne: true},
	}})
	ae := requireKind(t, err, apperror.AggregationError, 1)
	require.Contains(t, ae.Message, "join")
}

func TestSelectBeforeJoinSkipsForeignRead(t *testing.T) {
	src := newMemSource(map[string][]Document{
		"orders":    {Doc("_id", 1, "status", "open")},
		"customers": {Doc("_id", "a")},
	})
	docs := runDocs(t, src, "orders",
		Select{Where: Eq("status", "closed")},
		Join{From: "customers", LocalField: "customer", ForeignField: "_id", As: "who"},
	)
	require.Empty(t, docs)
	require.Zero(t, src.openCount("customers"))
}

func TestFlatten(t *testing.T) {
	src := newMemSource(map[string][]Document{"d": {
		Doc("_id", 1, "tags", []any{"x", "y"}),
		Doc("_id", 2, "tags", []any{}),
		Doc("_id", 3),
		Doc("_id", 4, "tags", "scalar"),
	}})

	dropped := runDocs(t, src, "d", Flatten{Field: "tags"})
	require.Equal(t, []int64{1, 1, 4}, ids(t, dropped))
	v, _ := dropped[1].Get("tags")
	require.Equal(t, "y", v)

	kept := runDocs(t, src, "d", Flatten{Field: "tags", PreserveEmpty: true})
	require.Equal(t, []int64{1, 1, 2, 3, 4}, ids(t, kept))
	require.False(t, kept[2].Has("tags"))
	require.False(t, kept[3].Has("tags"))
}

func TestComputeFieldsDivisionByZeroAbortsRun(t *testing.T) {
	src := newMemSource(map[string][]Document{"grades": {
		Doc("_id", 1, "obtained", 45, "total", 50),
		Doc("_id", 2, "obtained", 0, "total", 0),
	}})
	res, err := NewExecutor(src).Run(context.Background(), Pipeline{Collection: "grades", Stages: []Stage{
		Select{Where: True()},
		ComputeFields{Fields: []FieldExpr{F("pct", Round(Multiply(Divide(Field("obtained"), Field("total")), Lit(100)), 2))}},
	}})
	require.Nil(t, res)
	requireKind(t, err, apperror.AggregationError, 1)
}

func TestComputeFieldsSeesInputDocument(t *testing.T) {
	original := Doc("_id", 1, "a", 2, "b", 3)
	src := newMemSource(map[string][]Document{"d": {original}})
	docs := runDocs(t, src, "d", ComputeFields{Fields: []FieldExpr{
		F("a", Add(Field("a"), Lit(10))),
		F("c", Multiply(Field("a"), Field("b"))),
		F("b", Remove()),
		F("nested.pct", Round(Divide(Field("a"), Lit(3)), 2)),
	}})
	require.Len(t, docs, 1)
	a, _ := docs[0].Get("a")
	c, _ := docs[0].Get("c")
	pct, _ := docs[0].Lookup("nested.pct")
	require.Equal(t, int64(12), a)
	require.Equal(t, int64(6), c, "c is computed from the input value of a")
	require.Equal(t, 0.67, pct)
	require.False(t, docs[0].Has("b"))
	require.Equal(t, Doc("_id", 1, "a", 2, "b", 3), original, "input document untouched")
}

func TestGroupNullKeyAndTypeTaggedKeys(t *testing.T) {
	src := newMemSource(map[string][]Document{"d": {
		Doc("_id", 1, "k", "1", "v", 2),
		Doc("_id", 2, "k", 1, "v", 3),
		Doc("_id", 3, "v", 4),
		Doc("_id", 4, "k", nil, "v", 5.5),
		Doc("_id", 5, "k", "1", "v", 6),
	}})
	docs := runDocs(t, src, "d", Group{Key: Field("k"), Fields: []Accumulator{
		Sum("total", Field("v")),
		Count("n"),
		Push("members", Field("_id")),
		Max("top", Field("v")),
		Min("low", Field("v")),
		Avg("mean", Field("v")),
		FirstOf("firstId", Field("_id")),
	}})
	require.Len(t, docs, 3)

	keys := []any{}
	for _, d := range docs {
		k, _ := d.Get("_id")
		keys = append(keys, k)
	}
	require.Equal(t, []any{"1", int64(1), nil}, keys, "groups in order of first occurrence")

	strGroup := docs[0]
	total, _ := strGroup.Get("total")
	n, _ := strGroup.Get("n")
	members, _ := strGroup.Get("members")
	top, _ := strGroup.Get("top")
	low, _ := strGroup.Get("low")
	mean, _ := strGroup.Get("mean")
	first, _ := strGroup.Get("firstId")
	require.Equal(t, int64(8), total)
	require.Equal(t, int64(2), n)
	require.Equal(t, []any{int64(1), int64(5)}, members)
	require.Equal(t, int64(6), top)
	require.Equal(t, int64(2), low)
	require.Equal(t, 4.0, mean)
	require.Equal(t, int64(1), first)

	nullGroup := docs[2]
	total, _ = nullGroup.Get("total")
	n, _ = nullGroup.Get("n")
	require.Equal(t, 9.5, total, "mixed int and float sums to float")
	require.Equal(t, int64(2), n)
}

func TestGroupNonNumericSumFails(t *testing.T) {
	src := newMemSource(map[string][]Document{"d": {Doc("_id", 1, "v", "ten")}})
	_, err := NewExecutor(src).Run(context.Background(), Pipeline{Collection: "d", Stages: []Stage{
		Group{Key: Lit(nil), Fields: []Accumulator{Sum("total", Field("v"))}},
	}})
	requireKind(t, err, apperror.AggregationError, 0)
}

func TestSortIsStable(t *testing.T) {
	src := newMemSource(map[string][]Document{"d": {
		Doc("_id", 1, "dept", "b", "score", 70),
		Doc("_id", 2, "dept", "a", "score", 90),
		Doc("_id", 3, "dept", "b", "score", 90),
		Doc("_id", 4, "dept", "a", "score", 90),
		Doc("_id", 5, "score", 50),
	}})
	docs := runDocs(t, src, "d", Sort{Keys: []SortKey{Desc("score")}})
	require.Equal(t, []int64{2, 3, 4, 1, 5}, ids(t, docs), "ties keep input order")

	docs = runDocs(t, src, "d", Sort{Keys: []SortKey{Asc("dept"), Direction("score", -1)}})
	require.Equal(t, []int64{5, 2, 4, 3, 1}, ids(t, docs), "missing sorts first ascending")
}

func TestProjectInclusionAndExclusion(t *testing.T) {
	src := newMemSource(map[string][]Document{"d": {
		Doc("_id", 1, "name", "x", "secret", "s", "items", []any{1, 2}),
	}})
	inc := runDocs(t, src, "d", Project{Fields: []FieldExpr{
		F("name", nil),
		F("count", Size(Field("items"))),
		F("gone", Field("nope")),
		F("empty", Cond(Eq("name", "x"), Remove(), Lit(1))),
	}})
	require.Equal(t, []string{"name", "count"}, inc[0].Keys())

	exc := runDocs(t, src, "d", Project{Exclude: []string{"secret", "items"}})
	require.Equal(t, []string{"_id", "name"}, exc[0].Keys())
}

func TestCountAllEmitsOneDocument(t *testing.T) {
	src := newMemSource(map[string][]Document{"d": numbered(7), "empty": {}})
	docs := runDocs(t, src, "d", Select{Where: Gte("n", 3)}, CountAll{As: "total"})
	require.Equal(t, []Document{Doc("total", 7-3)}, docs)

	docs = runDocs(t, src, "empty", CountAll{As: "total"})
	require.Equal(t, []Document{Doc("total", 0)}, docs)
}

func TestBranchArmsShareUpstream(t *testing.T) {
	src := newMemSource(map[string][]Document{"d": numbered(6)})
	res, err := NewExecutor(src).Run(context.Background(), Pipeline{Collection: "d", Stages: []Stage{
		Select{Where: Lt("n", 5)},
		Branch{Arms: []NamedPipeline{
			{Name: "top", Stages: []Stage{Sort{Keys: []SortKey{Desc("n")}}, Limit{N: 2}}},
			{Name: "count", Stages: []Stage{CountAll{As: "total"}}},
			{Name: "all"},
		}},
	}})
	require.NoError(t, err)
	require.True(t, res.IsBranch())
	require.Equal(t, []int64{4, 3}, ids(t, res.Branches["top"]))
	require.Equal(t, []Document{Doc("total", 5)}, res.Branches["count"])
	require.Equal(t, []int64{0, 1, 2, 3, 4}, ids(t, res.Branches["all"]))
}

func TestBranchMustBeLast(t *testing.T) {
	src := newMemSource(map[string][]Document{"d": numbered(2)})
	_, err := NewExecutor(src).Run(context.Background(), Pipeline{Collection: "d", Stages: []Stage{
		Branch{Arms: []NamedPipeline{{Name: "a"}}},
		Limit{N: 1},
	}})
	requireKind(t, err, apperror.Internal, 0)
}

func TestBranchArmFailureFailsPipeline(t *testing.T) {
	src := newMemSource(map[string][]Document{"d": {Doc("_id", 1, "v", 0)}})
	res, err := NewExecutor(src).Run(context.Background(), Pipeline{Collection: "d", Stages: []Stage{
		Select{Where: True()},
		Branch{Arms: []NamedPipeline{
			{Name: "ok"},
			{Name: "bad", Stages: []Stage{Limit{N: 5}, ComputeFields{Fields: []FieldExpr{F("x", Divide(Lit(1), Field("v")))}}}},
		}},
	}})
	require.Nil(t, res)
	ae := requireKind(t, err, apperror.AggregationError, 1)
	require.Contains(t, ae.Message, "branch bad")
	require.Equal(t, 1, ae.Details["branchStage"])
}

func TestStoreUnavailable(t *testing.T) {
	src := newMemSource(map[string][]Document{"d": numbered(1)})
	src.fail["d"] = fmt.Errorf("connection refused")
	_, err := NewExecutor(src).Run(context.Background(), Pipeline{Collection: "d"})
	requireKind(t, err, apperror.StoreUnavailable, -1)

	delete(src.fail, "d")
	src.fail["foreign"] = fmt.Errorf("connection reset")
	_, err = NewExecutor(src).Run(context.Background(), Pipeline{Collection: "d", Stages: []Stage{
		Join{From: "foreign", LocalField: "_id", ForeignField: "_id", As: "x"},
	}})
	requireKind(t, err, apperror.StoreUnavailable, 0)
}

func TestRangePredicateTypeMismatch(t *testing.T) {
	src := newMemSource(map[string][]Document{"d": {Doc("_id", 1, "score", "high")}})
	_, err := NewExecutor(src).Run(context.Background(), Pipeline{Collection: "d", Stages: []Stage{
		Select{Where: Gt("score", 50)},
	}})
	requireKind(t, err, apperror.AggregationError, 0)
}

func TestCancelledContext(t *testing.T) {
	src := newMemSource(map[string][]Document{"d": numbered(3)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewExecutor(src).Run(ctx, Pipeline{Collection: "d"})
	require.Nil(t, res)
	require.ErrorIs(t, err, context.Canceled)
}
