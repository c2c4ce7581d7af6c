package engine

import (
	"context"

	"github.com/juju/errors"
	"github.com/zeebo/errs"

	"github.com/zhukovaskychina/xmysql-directpath/logger"
	"github.com/zhukovaskychina/xmysql-directpath/server/conf"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/engine/directpath"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/plan"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/table"
)

// Result 语句执行结果
type Result struct {
	AffectedRows uint64
	Direct       bool
	Plan         plan.Plan
}

// Executor plans and runs insert statements, one transaction per statement.
type Executor struct {
	cfg        *conf.Cfg
	catalog    *table.Catalog
	wal        *logs.FileSink
	trxMgr     *manager.TransactionManager
	capability directpath.EngineCapability
	planner    plan.Planner
}

func NewExecutor(cfg *conf.Cfg, catalog *table.Catalog, wal *logs.FileSink, trxMgr *manager.TransactionManager) *Executor {
	return &Executor{
		cfg:        cfg,
		catalog:    catalog,
		wal:        wal,
		trxMgr:     trxMgr,
		capability: directpath.NewCapability(cfg),
		planner: plan.Chain(plan.StandardPlanner,
			plan.HintMiddleware(cfg.DirectPath.AppendHint),
			plan.DirectPathMiddleware),
	}
}

func (e *Executor) Plan(req *plan.Request) (plan.Plan, error) {
	return e.planner(req)
}

// Build 为计划创建算子树, 并以排他模式锁定目标表; 锁在事务结束时释放
func (e *Executor) Build(ctx context.Context, trx basic.Transaction, p plan.Plan) (Operator, error) {
	switch node := p.(type) {
	case *plan.DirectInsertPlan:
		insert := node.Insert()
		rel, err := e.catalog.Open(ctx, insert.Table.Name, table.AccessExclusiveLock)
		if err != nil {
			return nil, errors.Trace(err)
		}
		loader := directpath.NewLoader(e.capability, trx, rel, e.wal, directpath.Options{RingPages: e.cfg.DirectPath.RingPages})
		return NewDirectInsertOperator(node, loader, NewSourceOperator(insert.Source().Source)), nil
	case *plan.InsertPlan:
		rel, err := e.catalog.Open(ctx, node.Table.Name, table.AccessExclusiveLock)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return NewInsertOperator(trx, rel, e.wal, NewSourceOperator(node.Source().Source)), nil
	}
	return nil, errors.NotSupportedf("plan %s", p.ToString())
}

// Execute runs one insert statement in its own transaction.
func (e *Executor) Execute(ctx context.Context, req *plan.Request) (*Result, error) {
	p, err := e.Plan(req)
	if err != nil {
		return nil, err
	}
	trx := e.trxMgr.Begin()
	op, err := e.Build(ctx, trx, p)
	if err != nil {
		return nil, e.rollback(trx, err)
	}

	err = run(ctx, op)
	if cerr := op.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return nil, e.rollback(trx, err)
	}
	if err := e.trxMgr.Commit(ctx, trx); err != nil {
		return nil, e.rollback(trx, errors.Trace(err))
	}

	res := &Result{Plan: p}
	switch o := op.(type) {
	case *DirectInsertOperator:
		res.AffectedRows, res.Direct = o.AffectedRows(), true
	case *InsertOperator:
		res.AffectedRows = o.AffectedRows()
	}
	logger.Infof("INSERT 0 %d", res.AffectedRows)
	return res, nil
}

func run(ctx context.Context, op Operator) error {
	if err := op.Open(ctx); err != nil {
		return err
	}
	for {
		row, err := op.Next(ctx)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
	}
}

// rollback 回滚事务并返回语句错误; 回滚本身失败时两者一起返回
func (e *Executor) rollback(trx *manager.Transaction, cause error) error {
	if err := e.trxMgr.Rollback(trx); err != nil {
		logger.Errorf("rollback transaction %d: %v", trx.ID(), err)
		return errs.Combine(cause, errors.Annotate(err, "rollback"))
	}
	return cause
}

// Explain 只规划不执行
func (e *Executor) Explain(req *plan.Request, format string) (string, error) {
	p, err := e.Plan(req)
	if err != nil {
		return "", err
	}
	return plan.Explain(p, format)
}
