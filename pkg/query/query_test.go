package query

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOperatorIsAnd(t *testing.T) {
	q, err := ForCollection("Users").
		WhereEquals("Name", "John").
		WhereEquals("Age", 21).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "from Users where Name = $p0 and Age = $p1", q.Text)
	assert.Equal(t, map[string]any{"p0": "John", "p1": 21}, q.Parameters)
	assert.Equal(t, "Users", q.Collection)
}

func TestOrElse(t *testing.T) {
	q, err := ForCollection("Users").
		WhereEquals("Name", "John").
		OrElse().
		WhereEquals("Age", 21).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "from Users where Name = $p0 or Age = $p1", q.Text)
}

func TestUsingDefaultOperator(t *testing.T) {
	q, err := ForCollection("Users").
		UsingDefaultOperator(Or).
		WhereEquals("Name", "John").
		WhereEquals("Name", "Jane").
		Build()
	require.NoError(t, err)
	assert.Equal(t, "from Users where Name = $p0 or Name = $p1", q.Text)

	_, err = ForCollection("Users").WhereEquals("Name", "John").UsingDefaultOperator(Or).Build()
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		builder *Builder
		want    string
	}{
		{
			name:    "no where clause",
			builder: ForCollection("Users"),
			want:    "from Users",
		},
		{
			name:    "index",
			builder: ForIndex("Users/ByName").WhereEquals("Name", "x"),
			want:    "from index 'Users/ByName' where Name = $p0",
		},
		{
			name:    "collection with spaces",
			builder: ForCollection("Order Lines"),
			want:    "from 'Order Lines'",
		},
		{
			name: "comparisons",
			builder: ForCollection("Users").
				WhereNotEquals("A", 1).
				WhereGreaterThan("B", 2).
				WhereGreaterThanOrEqual("C", 3).
				WhereLessThan("D", 4).
				WhereLessThanOrEqual("E", 5),
			want: "from Users where A != $p0 and B > $p1 and C >= $p2 and D < $p3 and E <= $p4",
		},
		{
			name:    "in and all in",
			builder: ForCollection("Users").WhereIn("Name", "a", "b").ContainsAll("Tags", "x"),
			want:    "from Users where Name in ($p0) and Tags all in ($p1)",
		},
		{
			name:    "between",
			builder: ForCollection("Orders").WhereBetween("Total", 10, 20),
			want:    "from Orders where Total between $p0 and $p1",
		},
		{
			name: "methods",
			builder: ForCollection("Users").
				WhereStartsWith("Name", "J").
				WhereEndsWith("Name", "n").
				WhereRegex("Email", "^a").
				WhereLucene("Bio", "go*").
				WhereExists("Phone"),
			want: "from Users where startsWith(Name, $p0) and endsWith(Name, $p1) and regex(Email, $p2) and lucene(Bio, $p3) and exists(Phone)",
		},
		{
			name:    "exact",
			builder: ForCollection("Users").WhereEqualsExact("Name", "John"),
			want:    "from Users where exact(Name = $p0)",
		},
		{
			name:    "search defaults following predicate to or",
			builder: ForCollection("Users").Search("Bio", "go rust", SearchOr).WhereEquals("Age", 30),
			want:    "from Users where search(Bio, $p0) or Age = $p1",
		},
		{
			name:    "search with and",
			builder: ForCollection("Users").Search("Bio", "go rust", SearchAnd),
			want:    "from Users where search(Bio, $p0, and)",
		},
		{
			name:    "negation guarded at clause start",
			builder: ForCollection("Issues").Not().WhereEquals("Status", "Open"),
			want:    "from Issues where exists(Status) and not Status = $p0",
		},
		{
			name:    "negation after predicate is not guarded",
			builder: ForCollection("Issues").WhereEquals("Owner", "me").Not().WhereEquals("Status", "Open"),
			want:    "from Issues where Owner = $p0 and not Status = $p1",
		},
		{
			name:    "negated subclause",
			builder: ForCollection("Issues").Not().OpenSubclause().WhereEquals("A", 1).CloseSubclause(),
			want:    "from Issues where true and not (A = $p0)",
		},
		{
			name:    "negation inside subclause",
			builder: ForCollection("Issues").WhereEquals("A", 1).OpenSubclause().Not().WhereEquals("B", 2).CloseSubclause(),
			want:    "from Issues where A = $p0 and (exists(B) and not B = $p1)",
		},
		{
			name:    "double not cancels",
			builder: ForCollection("Issues").Not().Not().WhereEquals("Status", "Open"),
			want:    "from Issues where Status = $p0",
		},
		{
			name:    "where true",
			builder: ForCollection("Users").WhereTrue().WhereEquals("A", 1),
			want:    "from Users where true and A = $p0",
		},
		{
			name:    "intersect",
			builder: ForIndex("Products/ByTags").WhereEquals("Tags", "red").Intersect().WhereEquals("Tags", "blue"),
			want:    "from index 'Products/ByTags' where intersect(Tags = $p0, Tags = $p1)",
		},
		{
			name: "order by",
			builder: ForCollection("Users").
				OrderBy("Name").
				OrderByDescending("Age", OrderingLong).
				OrderBy("Code", OrderingAlphaNumeric),
			want: "from Users order by Name, Age as long desc, Code as alphaNumeric",
		},
		{
			name:    "score and random",
			builder: ForCollection("Users").OrderByScoreDescending().RandomOrdering("seed"),
			want:    "from Users order by score() desc, random('seed')",
		},
		{
			name:    "select fields",
			builder: ForCollection("Orders").SelectFields("Company", "ShipTo.City"),
			want:    "from Orders select Company, ShipTo.City",
		},
		{
			name:    "distinct",
			builder: ForCollection("Orders").SelectFields("ShipTo.Country").Distinct(),
			want:    "from Orders select distinct ShipTo.Country",
		},
		{
			name:    "distinct star",
			builder: ForCollection("Orders").Distinct(),
			want:    "from Orders select distinct *",
		},
		{
			name:    "load",
			builder: ForCollection("Orders").Load("Company", "c").Load("Employee", "e").SelectFields("c.Name"),
			want:    "from Orders load Company as c, Employee as e select c.Name",
		},
		{
			name:    "include",
			builder: ForCollection("Orders").WhereEquals("Id", "x").Include("Company", "Employee"),
			want:    "from Orders where Id = $p0 include Company,Employee",
		},
		{
			name:    "group by array",
			builder: ForCollection("Orders").GroupByArray("Lines[].Product").SelectKey("Lines[].Product", "Product").SelectCount(""),
			want:    "from Orders group by array(Lines[].Product) select Lines[].Product as Product, count()",
		},
		{
			name:    "quoted field",
			builder: ForCollection("Users").WhereEquals("First Name", "x"),
			want:    "from Users where 'First Name' = $p0",
		},
		{
			name:    "take only",
			builder: ForCollection("Users").Take(5),
			want:    "from Users limit $p0, $p1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := tt.builder.Build()
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Text)
		})
	}
}

func TestParametersAreNeverInlined(t *testing.T) {
	q, err := ForCollection("Users").WhereEquals("Name", "x' or true or '").Build()
	require.NoError(t, err)
	assert.NotContains(t, q.Text, "or true")
	assert.Equal(t, "x' or true or '", q.Parameters["p0"])
}

func TestSubclauseBalance(t *testing.T) {
	_, err := ForCollection("Users").OpenSubclause().WhereEquals("A", 1).Build()
	assert.ErrorIs(t, err, ErrUnbalancedSubclauses)

	q, err := ForCollection("Users").OpenSubclause().WhereEquals("A", 1).CloseSubclause().Build()
	require.NoError(t, err)
	assert.Equal(t, "from Users where (A = $p0)", q.Text)

	_, err = ForCollection("Users").CloseSubclause().Build()
	assert.ErrorIs(t, err, ErrUnbalancedSubclauses)
}

func TestRawQuery(t *testing.T) {
	b := Raw("from Users where Name = $name").AddParameter("name", "John")
	q, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, "from Users where Name = $name", q.Text)
	assert.Equal(t, map[string]any{"name": "John"}, q.Parameters)

	_, err = Raw("from Users").WhereEquals("Name", "John").Build()
	assert.ErrorIs(t, err, ErrRawQueryMode)

	_, err = Raw("from Users").Take(1).Build()
	assert.ErrorIs(t, err, ErrRawQueryMode)

	q, err = Raw("from Users").WaitForNonStaleResults(time.Second).NoTracking().Build()
	require.NoError(t, err)
	assert.True(t, q.WaitForNonStaleResults)
	assert.Equal(t, time.Second, q.Timeout)
	assert.True(t, q.NoTracking)
}

func TestStickyErrors(t *testing.T) {
	b := ForCollection("Users").WhereEquals("", 1).WhereEquals("Name", "x")
	_, err := b.Build()
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, b.Err(), ErrInvalidToken)
	assert.Contains(t, b.String(), "error:")

	_, err = ForCollection("Users").WhereEquals("A", 1).AndAlso().OrElse().Build()
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ForCollection("Users").Intersect().Build()
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ForCollection("Users").Not().Build()
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ForCollection("Users").AddParameter("a", 1).AddParameter("a", 2).Build()
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ForCollection("").Build()
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBuildIsIdempotent(t *testing.T) {
	b := ForCollection("Users").WhereEquals("Name", "John").Skip(10).Take(5)
	first, err := b.Build()
	require.NoError(t, err)
	second, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "from Users where Name = $p0 limit $p1, $p2", first.Text)
	assert.Equal(t, map[string]any{"p0": "John", "p1": 10, "p2": 5}, first.Parameters)

	b.WhereEquals("Age", 3)
	third, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, "from Users where Name = $p0 and Age = $p1 limit $p2, $p3", third.Text)
}

func TestCloneIsIndependent(t *testing.T) {
	b := ForCollection("Users").WhereEquals("Name", "John")
	c := b.Clone().WhereEquals("Age", 21).Take(5)

	q, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, "from Users where Name = $p0", q.Text)
	assert.Equal(t, map[string]any{"p0": "John"}, q.Parameters)

	cq, err := c.Build()
	require.NoError(t, err)
	assert.Contains(t, cq.Text, "from Users where Name = $p0 and Age = $p1")
	assert.Contains(t, cq.Text, "limit")
	assert.Equal(t, "John", cq.Parameters["p0"])
	assert.Equal(t, 21, cq.Parameters["p1"])
}

func TestUserParameterNamesAreSkipped(t *testing.T) {
	q, err := ForCollection("Users").AddParameter("p0", "taken").WhereEquals("Name", "John").Build()
	require.NoError(t, err)
	assert.Equal(t, "from Users where Name = $p1", q.Text)
	assert.Equal(t, "taken", q.Parameters["p0"])
}

func TestProjectionFlag(t *testing.T) {
	q, err := ForCollection("Orders").SelectFields("Company").Build()
	require.NoError(t, err)
	assert.True(t, q.Projection)

	q, err = ForCollection("Orders").Build()
	require.NoError(t, err)
	assert.False(t, q.Projection)
}

func TestWhereTokens(t *testing.T) {
	b := ForCollection("Users").Not().WhereEquals("Status", "Open")
	tokens := b.WhereTokens()
	require.Len(t, tokens, 4)
	assert.Equal(t, WhereToken{Field: "Status", Op: OpExists}, tokens[0])
	assert.Equal(t, OperatorToken{Op: And}, tokens[1])
	assert.Equal(t, NegateToken{}, tokens[2])
	assert.Equal(t, WhereToken{Field: "Status", Op: OpEquals, Params: []string{"p0"}}, tokens[3])
}

func TestGolden(t *testing.T) {
	tests := []struct {
		name    string
		builder *Builder
	}{
		{
			name:    "equals_and",
			builder: ForCollection("Users").WhereEquals("Name", "John").WhereEquals("Age", 21),
		},
		{
			name: "subclause_negation_paging",
			builder: ForCollection("Orders").
				OpenSubclause().
				WhereEquals("Status", "Open").
				OrElse().
				WhereGreaterThan("Total", 100).
				CloseSubclause().
				Not().
				WhereStartsWith("Customer", "A").
				OrderByDescending("Total", OrderingDouble).
				Include("Customer").
				Take(10).
				Skip(5),
		},
		{
			name: "group_by_aggregation",
			builder: ForCollection("Orders").
				GroupBy("Company").
				SelectKey("", "Company").
				SelectSum("Freight", "TotalFreight").
				SelectCount("Count"),
		},
		{
			name: "intersect_search",
			builder: ForIndex("Products/ByTags").
				Search("Name", "chai tea", SearchOr).
				Intersect().
				WhereIn("Tags", "red", "blue"),
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := tt.builder.Build()
			require.NoError(t, err)
			params, err := json.Marshal(q.Parameters)
			require.NoError(t, err)
			g.Assert(t, tt.name, []byte(q.Text+"\n"+string(params)+"\n"))
		})
	}
}
