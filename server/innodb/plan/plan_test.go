package plan

import (
	"context"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/table"
)

func newRequest(query, kind string, cmd basic.CommandType) *Request {
	src := basic.RowSourceFunc(func(ctx context.Context) (basic.Row, error) { return nil, nil })
	return &Request{
		Query: query,
		Stmt: &Statement{
			Command:    cmd,
			Table:      &table.Descriptor{Name: "events", Kind: kind},
			SourceName: "Values Scan",
			Source:     src,
			SourceRows: 3,
		},
	}
}

func TestDetectAppendHint(t *testing.T) {
	cases := []struct {
		name  string
		query string
		kind  string
		want  bool
	}{
		{"hint on ordinary table", "INSERT /*+ APPEND */ INTO events SELECT * FROM staging", table.KindOrdinary, true},
		{"no hint", "INSERT INTO events SELECT * FROM staging", table.KindOrdinary, false},
		{"hint spelled differently", "INSERT /*+APPEND*/ INTO events VALUES (1)", table.KindOrdinary, false},
		{"partitioned table", "INSERT /*+ APPEND */ INTO events VALUES (1)", table.KindPartitioned, false},
		{"view", "INSERT /*+ APPEND */ INTO events VALUES (1)", table.KindView, false},
		{"foreign table", "INSERT /*+ APPEND */ INTO events VALUES (1)", table.KindForeign, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := newRequest(c.query, c.kind, basic.CmdInsert)
			DetectAppendHint(req, "")
			assert.Equal(t, c.want, req.Options.DirectPathCandidate)
		})
	}
}

func TestChainWrapsInsertPlan(t *testing.T) {
	planner := Chain(StandardPlanner, HintMiddleware(DefaultAppendHint), DirectPathMiddleware)

	p, err := planner(newRequest("INSERT /*+ APPEND */ INTO events VALUES (1)", table.KindOrdinary, basic.CmdInsert))
	require.NoError(t, err)
	direct, ok := p.(*DirectInsertPlan)
	require.True(t, ok)
	assert.Equal(t, "Insert on events", direct.Insert().ToString())
	assert.Equal(t, "Values Scan", direct.Insert().Source().ToString())
	assert.Equal(t, int64(3), direct.GetEstimateRows())

	p, err = planner(newRequest("INSERT INTO events VALUES (1)", table.KindOrdinary, basic.CmdInsert))
	require.NoError(t, err)
	_, ok = p.(*InsertPlan)
	assert.True(t, ok)
}

func TestCandidateIsRequestScoped(t *testing.T) {
	planner := Chain(StandardPlanner, HintMiddleware(""), DirectPathMiddleware)
	first := newRequest("INSERT /*+ APPEND */ INTO events VALUES (1)", table.KindOrdinary, basic.CmdInsert)
	_, err := planner(first)
	require.NoError(t, err)
	assert.True(t, first.Options.DirectPathCandidate)

	second := newRequest("INSERT INTO events VALUES (1)", table.KindOrdinary, basic.CmdInsert)
	p, err := planner(second)
	require.NoError(t, err)
	assert.False(t, second.Options.DirectPathCandidate)
	assert.Equal(t, AccessInsert, p.GetPlanAccessType())
}

func TestMiddlewareOrder(t *testing.T) {
	var trace []string
	mw := func(name string) Middleware {
		return func(next Planner) Planner {
			return func(req *Request) (Plan, error) {
				trace = append(trace, name)
				return next(req)
			}
		}
	}
	_, err := Chain(StandardPlanner, mw("a"), mw("b"), mw("c"))(newRequest("", table.KindOrdinary, basic.CmdInsert))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, trace)
}

func TestStandardPlannerRejectsOtherCommands(t *testing.T) {
	_, err := StandardPlanner(newRequest("", table.KindOrdinary, basic.CmdUpdate))
	assert.Error(t, err)
	_, err = StandardPlanner(&Request{})
	assert.Error(t, err)
}

func TestExplain(t *testing.T) {
	insert, err := StandardPlanner(newRequest("", table.KindOrdinary, basic.CmdInsert))
	require.NoError(t, err)
	direct := NewDirectInsertPlan(insert.(*InsertPlan))

	text, err := Explain(direct, ExplainText)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "INSERT APPEND  (rows=3)", lines[0])
	assert.Equal(t, "  ->  Insert on events  (rows=3)", lines[1])
	assert.Equal(t, "      ->  Values Scan  (rows=3)", lines[2])

	out, err := Explain(direct, ExplainJSON)
	require.NoError(t, err)
	var nodes []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "INSERT APPEND", nodes[0]["Node Type"])
	assert.Equal(t, AccessDirectInsert, nodes[0]["Access"])

	_, err = Explain(direct, "yaml")
	assert.Error(t, err)
}
