package engine

import (
	"context"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/engine/directpath"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/plan"
)

// DirectInsertOperator runs a whole direct path load on its first Next.
// It wraps the ordinary insert plan and only borrows its source operator.
type DirectInsertOperator struct {
	BaseOperator
	plan   *plan.DirectInsertPlan
	loader *directpath.Loader

	affected uint64
	done     bool
}

func NewDirectInsertOperator(p *plan.DirectInsertPlan, loader *directpath.Loader, child Operator) *DirectInsertOperator {
	return &DirectInsertOperator{BaseOperator: BaseOperator{children: []Operator{child}}, plan: p, loader: loader}
}

// Next 加载全部输入后返回结束; 再次调用不会重复处理
func (o *DirectInsertOperator) Next(ctx context.Context) (basic.Row, error) {
	if o.done {
		return nil, nil
	}
	o.done = true
	n, err := o.loader.Run(ctx, rowsOf(o.children[0]), basic.CmdInsert)
	if err != nil {
		return nil, err
	}
	o.affected = n
	return nil, nil
}

// ReScan 直接路径插入不能重新扫描
func (o *DirectInsertOperator) ReScan(ctx context.Context) error {
	return errors.Trace(basic.ProtocolError.New("rescan is not supported for direct path insert"))
}

func (o *DirectInsertOperator) Explain(format string) (string, error) {
	return plan.Explain(o.plan, format)
}

func (o *DirectInsertOperator) AffectedRows() uint64 {
	return o.affected
}

func (o *DirectInsertOperator) Close() error {
	err := o.BaseOperator.Close()
	o.loader.Close()
	return err
}
