package directpath

import (
	"context"

	"github.com/juju/errors"
	"github.com/zeebo/errs"

	"github.com/zhukovaskychina/xmysql-directpath/logger"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/index"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/segs"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/table"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/toast"
)

// State 加载器状态
type State int

const (
	StateCreated State = iota
	StateLoading
	StateFlushing
	StateIndexRebuild
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLoading:
		return "loading"
	case StateFlushing:
		return "flushing"
	case StateIndexRebuild:
		return "index rebuild"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

const DefaultRingPages = 1024

type Options struct {
	// RingPages 页面环的槽位数, 0表示DefaultRingPages
	RingPages int
	// Store 行外值存储; 为nil时加载器自己打开并在事务结束时关闭
	Store *toast.FileStore
}

// Stats 一次加载的统计
type Stats struct {
	InitialBlocks  basic.BlockNumber
	BlocksAppended uint32
	Flushes        int
	Rows           uint64
}

// Loader drives one direct-path load through
// Created → Loading → Flushing → IndexRebuild → Done, or to Aborted on any
// error. A loader runs exactly once.
//
// The relation handle (and with it the table lock) and an owned toast
// store stay open until the transaction ends, so the abort cleanup runs
// under the lock and can still read toasted index keys.
type Loader struct {
	cap  EngineCapability
	trx  basic.Transaction
	rel  *table.Relation
	sink logs.FlushSink
	opts Options

	state     State
	writer    *Writer
	store     *toast.FileStore
	ownsStore bool
	released  bool
	stats     Stats
}

func NewLoader(capability EngineCapability, trx basic.Transaction, rel *table.Relation, sink logs.FlushSink, opts Options) *Loader {
	if opts.RingPages <= 0 {
		opts.RingPages = DefaultRingPages
	}
	l := &Loader{cap: capability, trx: trx, rel: rel, sink: sink, opts: opts, state: StateCreated}
	trx.RegisterEndAction("close relation "+rel.Name(), l.endOfTransaction)
	return l
}

func (l *Loader) State() State {
	return l.state
}

func (l *Loader) Stats() Stats {
	return l.stats
}

// Run consumes src and returns the number of rows loaded.
func (l *Loader) Run(ctx context.Context, src basic.RowSource, cmd basic.CommandType) (inserted uint64, err error) {
	if l.state != StateCreated {
		return 0, errors.Trace(basic.ProtocolError.New("direct path load cannot be re-executed"))
	}
	if cmd != basic.CmdInsert {
		l.abort()
		return 0, errors.Trace(basic.ProtocolError.New("unknown direct path operation: %s", cmd))
	}
	defer func() {
		if err != nil {
			logger.Warnf("direct path load into \"%s\" aborted in state %s: %v", l.rel.Name(), l.state, err)
			l.abort()
		}
	}()

	l.state = StateLoading
	if err = l.begin(); err != nil {
		return 0, err
	}
	for {
		if err = ctx.Err(); err != nil {
			return 0, errors.Annotate(err, "canceling statement")
		}
		var row basic.Row
		row, err = src.Next(ctx)
		if err != nil {
			return 0, errors.Annotate(err, "read row")
		}
		if row == nil {
			break
		}
		if _, err = l.writer.Insert(row); err != nil {
			return 0, err
		}
	}

	l.state = StateFlushing
	if err = l.writer.finish(); err != nil {
		return 0, err
	}
	if err = l.store.Sync(); err != nil {
		return 0, errors.Trace(err)
	}
	l.collectStats()

	l.state = StateIndexRebuild
	rebuilder := index.NewRebuilder(l.sink, l.store, l.cap.MaxBlockRefs())
	if err = rebuilder.Rebuild(ctx, l.trx, l.rel); err != nil {
		return 0, err
	}

	l.state = StateDone
	inserted = l.stats.Rows
	logger.Infof("direct path load into \"%s\": %d rows, %d blocks appended after block %d",
		l.rel.Name(), inserted, l.stats.BlocksAppended, l.stats.InitialBlocks)
	l.release()
	return inserted, nil
}

func (l *Loader) begin() error {
	if kind := l.rel.Kind(); kind != table.KindOrdinary {
		return errors.Trace(basic.ProtocolError.New("cannot load into relation \"%s\" of kind %s", l.rel.Name(), kind))
	}
	if l.rel.NeedsWAL() && l.sink == nil {
		return errors.Trace(basic.ProtocolError.New("relation \"%s\" is WAL-logged but no WAL sink is configured", l.rel.Name()))
	}
	if l.rel.LockMode() != table.AccessExclusiveLock {
		logger.Debugf("relation %s is not locked exclusively (%s)", l.rel.Name(), l.rel.LockMode())
	}
	l.store = l.opts.Store
	if l.store == nil {
		store, err := l.rel.OpenToast(l.sink)
		if err != nil {
			return errors.Trace(err)
		}
		l.store, l.ownsStore = store, true
	}
	toastMark := l.store.Size()

	w, err := newWriter(l.cap, l.rel, l.sink, l.store, l.trx.ID(), l.trx.CommandID(), l.opts.RingPages)
	if err != nil {
		return err
	}
	l.writer = w
	l.stats.InitialBlocks = w.initial
	logger.Infof("direct path load into \"%s\" started: xid %d, cid %d, %d existing blocks, ring of %d pages",
		l.rel.Name(), l.trx.ID(), l.trx.CommandID(), w.initial, l.opts.RingPages)
	l.trx.RegisterCleanup("direct path load "+l.rel.Name(), discardLoad(l.rel, w.initial, l.store, toastMark))
	return nil
}

// discardLoad returns the abort action of a load: truncate the heap and the
// toast file back to their sizes at load start and rebuild the indexes
// over what is left. Every step runs; the first failures are returned.
func discardLoad(rel *table.Relation, initial basic.BlockNumber, store *toast.FileStore, toastMark int64) func() error {
	return func() error {
		var group errs.Group
		if err := segs.Truncate(rel.Space(), initial); err != nil {
			group.Add(errors.Annotatef(err, "could not truncate relation %s to %d blocks", rel.Name(), initial))
		}
		if err := store.Truncate(toastMark); err != nil {
			group.Add(errors.Annotatef(err, "could not truncate toast of relation %s", rel.Name()))
		}

		reader := toast.Store(store)
		if store.Closed() {
			fresh, err := rel.OpenToast(nil)
			if err != nil {
				group.Add(errors.Annotatef(err, "could not reopen toast of relation %s", rel.Name()))
				return group.Err()
			}
			defer fresh.Close()
			reader = fresh
		}
		desc := rel.Descriptor()
		for i := range desc.Indexes {
			// 回滚过程不写WAL, 索引按当前堆内容重建
			if _, err := index.Build(context.Background(), rel, &desc.Indexes[i], reader, index.WriteOptions{}); err != nil {
				group.Add(errors.Annotatef(err, "could not rebuild index %s after abort", desc.Indexes[i].Name))
			}
		}
		return group.Err()
	}
}

func (l *Loader) collectStats() {
	if l.writer == nil {
		return
	}
	l.stats.BlocksAppended = l.writer.appended
	l.stats.Flushes = l.writer.flushes
	l.stats.Rows = l.writer.inserted
}

func (l *Loader) abort() {
	l.state = StateAborted
	l.collectStats()
	l.release()
}

// release 归还页面环, 只执行一次. 表锁和toast文件留到事务结束
func (l *Loader) release() {
	if l.released {
		return
	}
	l.released = true
	if l.writer != nil {
		l.writer.release()
	}
}

// endOfTransaction 关闭自己打开的toast文件并释放表锁
func (l *Loader) endOfTransaction() {
	l.release()
	if l.ownsStore && l.store != nil {
		if err := l.store.Close(); err != nil {
			logger.Warnf("%v", err)
		}
	}
	l.rel.Close()
}

// Close ends the loader. A load that has not reached Done is aborted.
func (l *Loader) Close() {
	if l.state != StateDone && l.state != StateAborted {
		l.state = StateAborted
		l.collectStats()
	}
	l.release()
}
