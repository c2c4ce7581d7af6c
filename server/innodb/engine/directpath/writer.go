package directpath

import (
	gxbytes "github.com/dubbogo/gost/bytes"
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

// Writer builds heap pages in a private ring of page slots and appends
// them to the relation's segments when the ring is full.
//
// 不变式: 每次flush之后 initial + appended 等于关系的块数
type Writer struct {
	cap     EngineCapability
	rel     *table.Relation
	sink    logs.FlushSink
	seg     *segs.Writer
	toaster *toast.Toaster

	arena     *[]byte
	pageSize  int
	ringPages int
	cur       int

	initial  basic.BlockNumber
	appended uint32

	// readyBlocks[i] 是第i个槽位将要写入的块号
	readyBlocks []basic.BlockNumber
	readyPages  []pages.Page

	xid basic.TransactionID
	cid basic.CommandID

	inserted uint64
	flushes  int
}

func newWriter(capability EngineCapability, rel *table.Relation, sink logs.FlushSink, store toast.Store,
	xid basic.TransactionID, cid basic.CommandID, ringPages int) (*Writer, error) {
	if ringPages <= 0 {
		return nil, basic.ProtocolError.New("ring must hold at least one page, got %d", ringPages)
	}
	initial, err := rel.NumberOfBlocks()
	if err != nil {
		return nil, errors.Trace(err)
	}
	pageSize := rel.PageSize()
	w := &Writer{
		cap:         capability,
		rel:         rel,
		sink:        sink,
		seg:         segs.NewWriter(rel.Space()),
		toaster:     toast.NewToaster(store, capability.ToastThreshold(rel)),
		arena:       gxbytes.GetBytes(ringPages * pageSize),
		pageSize:    pageSize,
		ringPages:   ringPages,
		initial:     initial,
		readyBlocks: make([]basic.BlockNumber, ringPages),
		readyPages:  make([]pages.Page, ringPages),
		xid:         xid,
		cid:         cid,
	}
	for i := range w.readyPages {
		w.readyPages[i] = pages.Page((*w.arena)[i*pageSize : (i+1)*pageSize])
	}
	w.readyPages[0].Init(0)
	w.readyBlocks[0] = initial
	return w, nil
}

func (w *Writer) nextBlock() basic.BlockNumber {
	return w.initial + basic.BlockNumber(w.appended)
}

// advance moves to a fresh page, draining the ring first when it is full.
func (w *Writer) advance() error {
	if w.cur+1 < w.ringPages {
		w.cur++
	} else {
		if err := w.flush(); err != nil {
			return err
		}
		w.cur = 0
	}
	w.readyPages[w.cur].Init(0)
	w.readyBlocks[w.cur] = w.nextBlock() + basic.BlockNumber(w.cur)
	return nil
}

// Insert 把一行放入当前页面, 返回它最终的物理位置
func (w *Writer) Insert(row basic.Row) (basic.ItemPointer, error) {
	attrs := make([]tuple.Varlena, len(row))
	for i, v := range row {
		a, err := tuple.EncodePlain(v)
		if err != nil {
			return basic.ItemPointer{}, errors.Trace(err)
		}
		attrs[i] = a
	}
	tup, err := w.toaster.Toast(w.xid, attrs)
	if err != nil {
		return basic.ItemPointer{}, errors.Trace(err)
	}
	size := util.MaxAlign(len(tup))
	if max := pages.MaxHeapTupleSize(w.pageSize); size > max {
		return basic.ItemPointer{}, basic.LimitError.New("row is too big: size %d, maximum size %d", size, max)
	}

	reserve := w.pageSize * (100 - w.rel.FillFactor()) / 100
	page := w.readyPages[w.cur]
	if !page.IsEmpty() && page.FreeSpace() < size+reserve {
		if err := w.advance(); err != nil {
			return basic.ItemPointer{}, err
		}
		page = w.readyPages[w.cur]
	}

	w.cap.StampVisibility(tup, w.xid, w.cid)
	off, err := page.AddItem(tup)
	if err != nil {
		return basic.ItemPointer{}, errors.Trace(err)
	}
	tid := basic.ItemPointer{Block: w.nextBlock() + basic.BlockNumber(w.cur), Offset: off}
	item, err := page.Item(off)
	if err != nil {
		return basic.ItemPointer{}, errors.Trace(err)
	}
	tuple.HeapTuple(item).SetSelf(tid)

	w.inserted++
	return tid, nil
}

// flush writes every ring slot up to the current page (when it holds
// tuples) to the segments, one segment-bounded run at a time. Each run is
// WAL-logged first, then checksummed.
func (w *Writer) flush() error {
	num := w.cur
	if !w.readyPages[w.cur].IsEmpty() {
		num++
	}
	space := w.seg.Space()
	for i := 0; i < num; {
		start := w.nextBlock()
		if start != w.readyBlocks[i] {
			return basic.ProtocolError.New("ring slot %d targets block %d, relation has %d blocks", i, w.readyBlocks[i], start)
		}
		n := space.RunLength(start, num-i)
		if segno, open := w.seg.CurrentSegment(); open {
			if next, _ := space.Locate(start); next != segno {
				logger.Debugf("relation %s: switching to segment %d at block %d", w.rel.Name(), next, start)
			}
		}
		if w.rel.NeedsWAL() {
			if _, err := logs.LogNewPages(w.sink, w.xid, w.rel, basic.ForkMain,
				w.readyBlocks[i:i+n], w.readyPages[i:i+n], w.cap.MaxBlockRefs()); err != nil {
				return errors.Annotatef(err, "log pages of relation %s", w.rel.Name())
			}
		}
		if w.rel.Checksums() {
			for j := i; j < i+n; j++ {
				w.readyPages[j].SetChecksum(w.readyBlocks[j])
			}
		}
		if err := w.seg.Write(start, (*w.arena)[i*w.pageSize:(i+n)*w.pageSize], n); err != nil {
			return errors.Trace(err)
		}
		w.appended += uint32(n)
		i += n
	}
	if num > 0 {
		w.flushes++
		logger.Debugf("relation %s: flushed %d pages, %d blocks appended", w.rel.Name(), num, w.appended)
	}
	return nil
}

// finish drains the ring and makes the WAL of the load durable.
func (w *Writer) finish() error {
	if err := w.flush(); err != nil {
		return err
	}
	if w.rel.NeedsWAL() && w.sink != nil {
		// 行外值的WAL记录可能在最后一批页面之后
		if err := w.sink.Flush(w.sink.InsertLSN()); err != nil {
			return errors.Trace(err)
		}
	}
	if err := w.seg.Close(); err != nil {
		logger.Warnf("%v", err)
	}
	return nil
}

// release 归还页面环; 可重复调用
func (w *Writer) release() {
	if err := w.seg.Close(); err != nil {
		logger.Warnf("%v", err)
	}
	if w.arena != nil {
		gxbytes.PutBytes(w.arena)
		w.arena = nil
		w.readyPages = nil
	}
}
