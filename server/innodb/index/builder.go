package index

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/heap"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/table"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/toast"
	"github.com/zhukovaskychina/xmysql-directpath/util"
)

var ErrUniqueViolation = errors.New("duplicate key value violates unique constraint")

func uniqueViolation(idx *table.IndexDescriptor, a, b Entry) error {
	return errors.Wrapf(ErrUniqueViolation, "index %q: tuples %s and %s", idx.Name, a.TID, b.TID)
}

// sortEntries 排序并在唯一索引上检查重复键
func sortEntries(cmp Comparator, idx *table.IndexDescriptor, entries []Entry) error {
	slices.SortFunc(entries, cmp.Compare)
	if !idx.Unique {
		return nil
	}
	for i := 1; i < len(entries); i++ {
		if !HasNull(entries[i].Key) && cmp.CompareKeys(entries[i-1].Key, entries[i].Key) == 0 {
			return uniqueViolation(idx, entries[i-1], entries[i])
		}
	}
	return nil
}

// collectEntries 扫描堆表, 只对键列去toast
func collectEntries(ctx context.Context, rel *table.Relation, idx *table.IndexDescriptor, store toast.Store) ([]Entry, error) {
	positions := make([]int, len(idx.Columns))
	for i, name := range idx.Columns {
		if positions[i] = rel.Descriptor().ColumnIndex(name); positions[i] < 0 {
			return nil, basic.ProtocolError.New("index %s column %s missing from relation %s", idx.Name, name, rel.Name())
		}
	}
	scanner, err := heap.NewScanner(rel, store)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for {
		row, err := scanner.Next(ctx)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return entries, nil
		}
		attrs, err := row.Tuple.Attrs()
		if err != nil {
			return nil, errors.Wrapf(err, "tuple %s", row.TID)
		}
		key := make([][]byte, len(positions))
		for i, pos := range positions {
			if pos >= len(attrs) {
				continue
			}
			if key[i], err = toast.Detoast(store, attrs[pos]); err != nil {
				return nil, errors.Wrapf(err, "tuple %s", row.TID)
			}
		}
		entries = append(entries, Entry{Key: key, TID: row.TID})
	}
}

// Build scans the heap and writes a complete index file for idx. Returns
// the number of entries.
func Build(ctx context.Context, rel *table.Relation, idx *table.IndexDescriptor, store toast.Store, opts WriteOptions) (int, error) {
	entries, err := collectEntries(ctx, rel, idx, store)
	if err != nil {
		return 0, err
	}
	if err := sortEntries(NewComparator(rel.Descriptor(), idx), idx, entries); err != nil {
		return 0, err
	}
	if _, err := writeFile(rel, idx, entries, opts); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Writer 普通插入路径上的增量索引维护
type Writer struct {
	rel     *table.Relation
	idx     *table.IndexDescriptor
	cmp     Comparator
	entries []Entry
	opts    WriteOptions
	dirty   bool
}

// OpenWriter loads the existing entries of idx, if any.
func OpenWriter(rel *table.Relation, idx *table.IndexDescriptor, opts WriteOptions) (*Writer, error) {
	w := &Writer{rel: rel, idx: idx, cmp: NewComparator(rel.Descriptor(), idx), opts: opts}
	exists, err := util.PathExists(rel.IndexPath(idx))
	if err != nil {
		return nil, basic.IOError.Wrap(err)
	}
	if exists {
		ix, err := Open(rel, idx)
		if err != nil {
			return nil, err
		}
		w.entries = ix.Entries()
	}
	return w, nil
}

func (w *Writer) Name() string {
	return w.idx.Name
}

// Insert 按序插入一个索引项
func (w *Writer) Insert(key [][]byte, tid basic.ItemPointer) error {
	e := Entry{Key: key, TID: tid}
	pos, _ := slices.BinarySearchFunc(w.entries, e, w.cmp.Compare)
	if w.idx.Unique && !HasNull(key) {
		if pos > 0 && w.cmp.CompareKeys(w.entries[pos-1].Key, key) == 0 {
			return uniqueViolation(w.idx, w.entries[pos-1], e)
		}
		if pos < len(w.entries) && w.cmp.CompareKeys(w.entries[pos].Key, key) == 0 {
			return uniqueViolation(w.idx, w.entries[pos], e)
		}
	}
	w.entries = slices.Insert(w.entries, pos, e)
	w.dirty = true
	return nil
}

// Flush 写出索引文件
func (w *Writer) Flush() error {
	if !w.dirty {
		return nil
	}
	if _, err := writeFile(w.rel, w.idx, w.entries, w.opts); err != nil {
		return err
	}
	w.dirty = false
	return nil
}

func (w *Writer) Entries() []Entry {
	return w.entries
}
