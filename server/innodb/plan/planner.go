package plan

import (
	"strings"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-directpath/logger"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/table"
)

// DefaultAppendHint 触发直接路径插入的注释
const DefaultAppendHint = "/*+ APPEND */"

// Statement 已解析的语句
type Statement struct {
	Command basic.CommandType
	Table   *table.Descriptor
	// SourceName 用于explain, 比如 "CSV Scan on data.csv"
	SourceName string
	Source     basic.RowSource
	// SourceRows 预估行数, 未知时为0
	SourceRows int64
}

type Options struct {
	DirectPathCandidate bool
}

// Request carries one statement through planning. Everything the
// middlewares decide is stored on the request itself.
type Request struct {
	Query   string
	Stmt    *Statement
	Options Options
}

// DetectAppendHint marks the request as a direct path candidate when the
// query text contains hint and the target is an ordinary table.
func DetectAppendHint(req *Request, hint string) {
	if hint == "" {
		hint = DefaultAppendHint
	}
	if req.Stmt == nil || req.Stmt.Table == nil {
		return
	}
	if strings.Contains(req.Query, hint) && req.Stmt.Table.Kind == table.KindOrdinary {
		req.Options.DirectPathCandidate = true
	}
}

// Planner 把请求变为计划
type Planner func(req *Request) (Plan, error)

type Middleware func(next Planner) Planner

// Chain 按顺序组装: 第一个中间件在最外层
func Chain(base Planner, middlewares ...Middleware) Planner {
	p := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		p = middlewares[i](p)
	}
	return p
}

// StandardPlanner plans the ordinary insert of a statement.
func StandardPlanner(req *Request) (Plan, error) {
	stmt := req.Stmt
	if stmt == nil {
		return nil, errors.New("empty statement")
	}
	if stmt.Command != basic.CmdInsert {
		return nil, errors.NotSupportedf("%s statement", stmt.Command)
	}
	if stmt.Table == nil || stmt.Source == nil {
		return nil, errors.NotValidf("insert without target or source")
	}
	source := &SourcePlan{BasePlan: BasePlan{id: 1}, Name: stmt.SourceName, Source: stmt.Source, Rows: stmt.SourceRows}
	return &InsertPlan{BasePlan: BasePlan{id: 2, children: []Plan{source}}, Table: stmt.Table}, nil
}

// DirectPathMiddleware swaps the ordinary insert plan for a direct path
// insert when the request qualifies.
func DirectPathMiddleware(next Planner) Planner {
	return func(req *Request) (Plan, error) {
		p, err := next(req)
		if err != nil {
			return nil, err
		}
		if req.Stmt.Command != basic.CmdInsert || !req.Options.DirectPathCandidate {
			return p, nil
		}
		insert, ok := p.(*InsertPlan)
		if !ok {
			return p, nil
		}
		logger.Debugf("direct path insert into %s", insert.Table.Name)
		return NewDirectInsertPlan(insert), nil
	}
}

// HintMiddleware 在规划前检测APPEND提示
func HintMiddleware(hint string) Middleware {
	return func(next Planner) Planner {
		return func(req *Request) (Plan, error) {
			DetectAppendHint(req, hint)
			return next(req)
		}
	}
}
