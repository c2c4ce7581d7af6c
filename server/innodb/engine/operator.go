package engine

import (
	"context"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-directpath/logger"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/index"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/heap"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/table"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/toast"
)

// Operator 算子接口
type Operator interface {
	// Open 初始化算子
	Open(ctx context.Context) error
	// Next 获取下一行, 返回nil表示结束
	Next(ctx context.Context) (basic.Row, error)
	// Close 关闭算子并释放资源
	Close() error
}

// BaseOperator 基础算子实现
type BaseOperator struct {
	children []Operator
}

func (b *BaseOperator) Open(ctx context.Context) error {
	for _, child := range b.children {
		if err := child.Open(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (b *BaseOperator) Close() error {
	var first error
	for _, child := range b.children {
		if err := child.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SourceOperator 把行源包装为算子
type SourceOperator struct {
	BaseOperator
	src basic.RowSource
}

func NewSourceOperator(src basic.RowSource) *SourceOperator {
	return &SourceOperator{src: src}
}

func (s *SourceOperator) Next(ctx context.Context) (basic.Row, error) {
	return s.src.Next(ctx)
}

func (s *SourceOperator) Close() error {
	if c, ok := s.src.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// rowsOf 把算子看作行源
func rowsOf(op Operator) basic.RowSource {
	return basic.RowSourceFunc(op.Next)
}

// InsertOperator is the ordinary insert: one row at a time through the
// shared heap inserter with incremental index maintenance.
type InsertOperator struct {
	BaseOperator
	trx  basic.Transaction
	rel  *table.Relation
	sink logs.Sink

	store    *toast.FileStore
	inserter *heap.Inserter
	writers  []*index.Writer

	affected uint64
	done     bool
}

// NewInsertOperator 表锁随事务结束释放
func NewInsertOperator(trx basic.Transaction, rel *table.Relation, sink logs.Sink, child Operator) *InsertOperator {
	trx.RegisterEndAction("close relation "+rel.Name(), rel.Close)
	return &InsertOperator{BaseOperator: BaseOperator{children: []Operator{child}}, trx: trx, rel: rel, sink: sink}
}

func (o *InsertOperator) Open(ctx context.Context) error {
	if err := o.BaseOperator.Open(ctx); err != nil {
		return err
	}
	store, err := o.rel.OpenToast(o.sink)
	if err != nil {
		return errors.Trace(err)
	}
	o.store = store
	o.inserter = heap.NewInserter(o.rel, o.sink, store)
	desc := o.rel.Descriptor()
	opts := index.WriteOptions{Sink: o.sink, Xid: o.trx.ID(), MaxBlockRefs: logs.MaxBlockRefsLimit}
	for i := range desc.Indexes {
		w, err := index.OpenWriter(o.rel, &desc.Indexes[i], opts)
		if err != nil {
			return errors.Trace(err)
		}
		o.writers = append(o.writers, w)
	}
	return nil
}

// Next 第一次调用时插入子算子的全部行, 之后直接返回结束
func (o *InsertOperator) Next(ctx context.Context) (basic.Row, error) {
	if o.done {
		return nil, nil
	}
	o.done = true
	desc := o.rel.Descriptor()
	child := o.children[0]
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Annotate(err, "canceling statement")
		}
		row, err := child.Next(ctx)
		if err != nil {
			return nil, errors.Annotate(err, "read row")
		}
		if row == nil {
			break
		}
		if len(row) != len(desc.Columns) {
			return nil, errors.NotValidf("row with %d values for %d columns of %s", len(row), len(desc.Columns), desc.Name)
		}
		tid, err := o.inserter.Insert(o.trx.ID(), o.trx.CommandID(), row)
		if err != nil {
			return nil, err
		}
		for i, w := range o.writers {
			key, err := index.KeyFromRow(desc, &desc.Indexes[i], row)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if err := w.Insert(key, tid); err != nil {
				return nil, errors.Trace(err)
			}
		}
		o.affected++
	}
	for _, w := range o.writers {
		if err := w.Flush(); err != nil {
			return nil, errors.Annotatef(err, "write index %s", w.Name())
		}
	}
	o.trx.CommandCounterIncrement()
	return nil, nil
}

func (o *InsertOperator) AffectedRows() uint64 {
	return o.affected
}

func (o *InsertOperator) Close() error {
	if o.inserter != nil {
		o.inserter.Close()
		o.inserter = nil
	}
	if o.store != nil {
		if err := o.store.Close(); err != nil {
			logger.Warnf("%v", err)
		}
		o.store = nil
	}
	return o.BaseOperator.Close()
}
