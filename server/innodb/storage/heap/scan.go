// Package heap reads relation pages back from their segment files and
// implements the ordinary one-row-at-a-time insert path.
package heap

import (
	"context"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/pages"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/segs"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/table"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/toast"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/tuple"
	"github.com/zhukovaskychina/xmysql-directpath/util"
)

// ToastThreshold 表的toast阈值: 显式配置的 toast_tuple_target, 否则按页面大小计算
func ToastThreshold(rel *table.Relation) int {
	if target := rel.Descriptor().ToastTupleTarget; target > 0 {
		return util.MaxAlignDown(target)
	}
	return toast.DefaultThreshold(rel.PageSize())
}

// HeapRow is one visible tuple and its location.
type HeapRow struct {
	TID   basic.ItemPointer
	Tuple tuple.HeapTuple
}

// Scanner 顺序扫描关系的全部块
type Scanner struct {
	rel     *table.Relation
	space   segs.Space
	store   toast.Store
	nblocks basic.BlockNumber
	block   basic.BlockNumber
	page    pages.Page
	loaded  bool
	offset  basic.OffsetNumber
}

// NewScanner counts the relation's blocks once; blocks appended later are
// not visited.
func NewScanner(rel *table.Relation, store toast.Store) (*Scanner, error) {
	nblocks, err := rel.NumberOfBlocks()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Scanner{
		rel:     rel,
		space:   rel.Space(),
		store:   store,
		nblocks: nblocks,
		page:    make(pages.Page, rel.PageSize()),
	}, nil
}

func (s *Scanner) NumberOfBlocks() basic.BlockNumber {
	return s.nblocks
}

// ReadPage 读取并校验一个块
func ReadPage(rel *table.Relation, block basic.BlockNumber, page pages.Page) error {
	if err := segs.ReadBlock(rel.Space(), block, page); err != nil {
		return errors.Trace(err)
	}
	if err := page.Verify(); err != nil {
		return errors.Annotatef(err, "block %d of relation %s", block, rel.Name())
	}
	if rel.Checksums() && !page.VerifyChecksum(block) {
		return basic.CorruptionError.New("page verification failed for block %d of relation %s: checksum %d",
			block, rel.Name(), page.Checksum())
	}
	return nil
}

// Next returns the next visible tuple, or nil once every block is read.
// The returned tuple aliases the scanner's page buffer.
func (s *Scanner) Next(ctx context.Context) (*HeapRow, error) {
	for {
		if !s.loaded {
			if s.block >= s.nblocks {
				return nil, nil
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := ReadPage(s.rel, s.block, s.page); err != nil {
				return nil, err
			}
			s.loaded, s.offset = true, 0
		}
		if int(s.offset) >= s.page.ItemCount() {
			s.loaded = false
			s.block++
			continue
		}
		s.offset++
		item, err := s.page.Item(s.offset)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if item == nil {
			continue
		}
		tup := tuple.HeapTuple(item)
		if !tup.Visible() {
			continue
		}
		return &HeapRow{TID: basic.ItemPointer{Block: s.block, Offset: s.offset}, Tuple: tup}, nil
	}
}

// Values 返回去toast后的列值
func (s *Scanner) Values(row *HeapRow) (basic.Row, error) {
	values, err := toast.DetoastTuple(s.store, row.Tuple)
	if err != nil {
		return nil, errors.Annotatef(err, "tuple %s", row.TID)
	}
	return basic.Row(values), nil
}

// Rows adapts the scanner to a RowSource of detoasted values.
func (s *Scanner) Rows() basic.RowSource {
	return basic.RowSourceFunc(func(ctx context.Context) (basic.Row, error) {
		row, err := s.Next(ctx)
		if err != nil || row == nil {
			return nil, err
		}
		return s.Values(row)
	})
}
