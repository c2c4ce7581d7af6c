package index

import (
	"context"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-directpath/logger"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/table"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/toast"
)

// Rebuilder 批量加载完成后重建表上的全部索引
type Rebuilder struct {
	sink         logs.Sink
	store        toast.Store
	maxBlockRefs int
}

func NewRebuilder(sink logs.Sink, store toast.Store, maxBlockRefs int) *Rebuilder {
	return &Rebuilder{sink: sink, store: store, maxBlockRefs: maxBlockRefs}
}

// Rebuild rebuilds every index of rel in descriptor order. Each index is
// written with the table's persistence and made visible to later commands
// of the transaction.
//
// The direct path never opens index files while loading, so there is no
// transient per-index handle to release before a rebuild.
func (r *Rebuilder) Rebuild(ctx context.Context, trx basic.Transaction, rel *table.Relation) error {
	desc := rel.Descriptor()
	for i := range desc.Indexes {
		idx := &desc.Indexes[i]
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		n, err := Build(ctx, rel, idx, r.store, WriteOptions{Sink: r.sink, Xid: trx.ID(), MaxBlockRefs: r.maxBlockRefs})
		if err != nil {
			return errors.Annotatef(err, "reindex %s", idx.Name)
		}
		logger.Infof("index \"%s\" of relation \"%s\" rebuilt with %d entries (%s)", idx.Name, rel.Name(), n, rel.Persistence())
		trx.CommandCounterIncrement()
	}
	return nil
}
