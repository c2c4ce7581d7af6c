package heap

import (
	"github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-directpath/logger"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/pages"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/segs"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/table"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/toast"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/tuple"
	"github.com/zhukovaskychina/xmysql-directpath/util"
)

// Inserter is the ordinary insert path: every row is added to the last
// block of the relation, which is written back and logged immediately.
type Inserter struct {
	rel     *table.Relation
	sink    logs.Sink
	writer  *segs.Writer
	toaster *toast.Toaster

	page    pages.Page
	block   basic.BlockNumber
	nblocks basic.BlockNumber
	started bool
}

func NewInserter(rel *table.Relation, sink logs.Sink, store toast.Store) *Inserter {
	return &Inserter{
		rel:     rel,
		sink:    sink,
		writer:  segs.NewWriter(rel.Space()),
		toaster: toast.NewToaster(store, ToastThreshold(rel)),
		page:    make(pages.Page, rel.PageSize()),
	}
}

func (ins *Inserter) start() error {
	nblocks, err := ins.rel.NumberOfBlocks()
	if err != nil {
		return errors.Trace(err)
	}
	ins.nblocks = nblocks
	if nblocks == 0 {
		ins.newPage()
	} else {
		ins.block = nblocks - 1
		if err := ReadPage(ins.rel, ins.block, ins.page); err != nil {
			return errors.Trace(err)
		}
		if ins.page.IsNew() {
			ins.page.Init(0)
		}
	}
	ins.started = true
	return nil
}

func (ins *Inserter) newPage() {
	ins.block = ins.nblocks
	ins.nblocks++
	ins.page.Init(0)
}

// Insert 插入一行, 返回行的位置
func (ins *Inserter) Insert(xid basic.TransactionID, cid basic.CommandID, values basic.Row) (basic.ItemPointer, error) {
	if !ins.started {
		if err := ins.start(); err != nil {
			return basic.ItemPointer{}, err
		}
	}
	attrs := make([]tuple.Varlena, len(values))
	for i, v := range values {
		a, err := tuple.EncodePlain(v)
		if err != nil {
			return basic.ItemPointer{}, errors.Trace(err)
		}
		attrs[i] = a
	}
	tup, err := ins.toaster.Toast(xid, attrs)
	if err != nil {
		return basic.ItemPointer{}, errors.Trace(err)
	}
	size := util.MaxAlign(len(tup))
	if max := pages.MaxHeapTupleSize(ins.rel.PageSize()); size > max {
		return basic.ItemPointer{}, basic.LimitError.New("row is too big: size %d, maximum size %d", size, max)
	}
	reserve := ins.rel.PageSize() * (100 - ins.rel.FillFactor()) / 100
	if ins.page.FreeSpace() < size+reserve && !ins.page.IsEmpty() {
		ins.newPage()
	}

	tup.StampInsert(xid, cid)
	off, err := ins.page.AddItem(tup)
	if err != nil {
		return basic.ItemPointer{}, errors.Trace(err)
	}
	tid := basic.ItemPointer{Block: ins.block, Offset: off}
	item, _ := ins.page.Item(off)
	tuple.HeapTuple(item).SetSelf(tid)

	if err := ins.writePage(xid); err != nil {
		return basic.ItemPointer{}, err
	}
	return tid, nil
}

func (ins *Inserter) writePage(xid basic.TransactionID) error {
	if ins.rel.NeedsWAL() {
		if _, err := logs.LogNewPage(ins.sink, xid, ins.rel, basic.ForkMain, ins.block, ins.page); err != nil {
			return errors.Trace(err)
		}
	}
	if ins.rel.Checksums() {
		ins.page.SetChecksum(ins.block)
	}
	return errors.Trace(ins.writer.Write(ins.block, ins.page, 1))
}

// Close 同步并关闭段文件
func (ins *Inserter) Close() {
	if err := ins.writer.Close(); err != nil {
		logger.Warnf("%v", err)
	}
}
