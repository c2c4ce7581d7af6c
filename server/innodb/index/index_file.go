// Package index maintains sorted secondary index files. An index file is a
// sequence of slotted pages: block 0 holds the meta item, blocks 1..n hold
// the leaf items in key order.
package index

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/pages"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/table"
	"github.com/zhukovaskychina/xmysql-directpath/util"
)

const (
	indexMagic   = 0x58444958 // "XDIX"
	indexVersion = 1

	// meta: magic u32 | version u16 | ncols u16 | entries u64 | leaves u32 | unique u8
	metaItemSize = 21
	// leaf: block u32 | offset u16 | keylen u16 | key
	leafHeaderSize = 8
)

// MaxItemSize 单个索引项的最大长度, 每页至少容纳三项
func MaxItemSize(pageSize int) int {
	return util.MaxAlignDown((pageSize-pages.PageHeaderSize)/3) - pages.ItemIDSize
}

// WriteOptions 写索引文件时的WAL参数
type WriteOptions struct {
	Sink         logs.Sink
	Xid          basic.TransactionID
	MaxBlockRefs int
}

func leafItem(e Entry) []byte {
	key := encodeKey(e.Key)
	item := make([]byte, leafHeaderSize+len(key))
	binary.LittleEndian.PutUint32(item[0:], uint32(e.TID.Block))
	binary.LittleEndian.PutUint16(item[4:], uint16(e.TID.Offset))
	binary.LittleEndian.PutUint16(item[6:], uint16(len(key)))
	copy(item[leafHeaderSize:], key)
	return item
}

// buildPages 将已排序的索引项打包成页面
func buildPages(pageSize int, idx *table.IndexDescriptor, entries []Entry) ([]pages.Page, error) {
	meta := make(pages.Page, pageSize)
	meta.Init(0)
	out := []pages.Page{meta}

	var leaf pages.Page
	maxItem := MaxItemSize(pageSize)
	for _, e := range entries {
		item := leafItem(e)
		if len(item) > maxItem {
			return nil, basic.LimitError.New("index row size %d exceeds maximum %d for index %q", len(item), maxItem, idx.Name)
		}
		if leaf != nil {
			if _, err := leaf.AddItem(item); err == nil {
				continue
			} else if !errors.Is(err, pages.ErrPageFull) {
				return nil, err
			}
		}
		leaf = make(pages.Page, pageSize)
		leaf.Init(0)
		out = append(out, leaf)
		if _, err := leaf.AddItem(item); err != nil {
			return nil, err
		}
	}

	m := make([]byte, metaItemSize)
	binary.LittleEndian.PutUint32(m[0:], indexMagic)
	binary.LittleEndian.PutUint16(m[4:], indexVersion)
	binary.LittleEndian.PutUint16(m[6:], uint16(len(idx.Columns)))
	binary.LittleEndian.PutUint64(m[8:], uint64(len(entries)))
	binary.LittleEndian.PutUint32(m[16:], uint32(len(out)-1))
	if idx.Unique {
		m[20] = 1
	}
	if _, err := meta.AddItem(m); err != nil {
		return nil, err
	}
	return out, nil
}

// writeFile writes the index to a temp file, logs and checksums its pages,
// then atomically renames it over the old file.
func writeFile(rel *table.Relation, idx *table.IndexDescriptor, entries []Entry, opts WriteOptions) (int, error) {
	pgs, err := buildPages(rel.PageSize(), idx, entries)
	if err != nil {
		return 0, err
	}
	blocks := make([]basic.BlockNumber, len(pgs))
	for i := range blocks {
		blocks[i] = basic.BlockNumber(i)
	}
	idxRel := rel.IndexRelation(idx)
	// Sink为nil时不写WAL(回滚时的重建)
	if idxRel.NeedsWAL() && opts.Sink != nil {
		if _, err := logs.LogNewPages(opts.Sink, opts.Xid, idxRel, basic.ForkMain, blocks, pgs, opts.MaxBlockRefs); err != nil {
			return 0, err
		}
	}
	if rel.Checksums() {
		for i, p := range pgs {
			p.SetChecksum(blocks[i])
		}
	}

	path := rel.IndexPath(idx)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, basic.IOError.Wrap(errors.Wrapf(err, "could not create directory %s", filepath.Dir(path)))
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return 0, basic.IOError.Wrap(errors.Wrapf(err, "could not create file %s", tmp))
	}
	for _, p := range pgs {
		if _, err := f.Write(p); err != nil {
			f.Close()
			os.Remove(tmp)
			return 0, basic.IOError.Wrap(errors.Wrapf(err, "could not write to file %s", tmp))
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, basic.IOError.Wrap(errors.Wrapf(err, "could not fsync file %s", tmp))
	}
	if err := f.Close(); err != nil {
		return 0, basic.IOError.Wrap(errors.Wrapf(err, "could not close file %s", tmp))
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, basic.IOError.Wrap(errors.Wrapf(err, "could not rename file %s to %s", tmp, path))
	}
	if err := util.SyncDir(filepath.Dir(path)); err != nil {
		return 0, basic.IOError.Wrap(errors.Wrapf(err, "could not fsync directory %s", filepath.Dir(path)))
	}
	return len(pgs), nil
}

// Index 已打开的索引文件
type Index struct {
	desc    *table.IndexDescriptor
	cmp     Comparator
	entries []Entry
	pages   int
	unique  bool
}

// Open 读取并校验索引文件
func Open(rel *table.Relation, idx *table.IndexDescriptor) (*Index, error) {
	path := rel.IndexPath(idx)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, basic.IOError.Wrap(errors.Wrapf(err, "could not read file %s", path))
	}
	pageSize := rel.PageSize()
	if len(data) == 0 || len(data)%pageSize != 0 {
		return nil, basic.CorruptionError.New("index file %s has invalid size %d", path, len(data))
	}
	ix := &Index{desc: idx, cmp: NewComparator(rel.Descriptor(), idx), pages: len(data) / pageSize}
	var nentries uint64
	for b := 0; b < ix.pages; b++ {
		p := pages.Page(data[b*pageSize : (b+1)*pageSize])
		if err := p.Verify(); err != nil {
			return nil, errors.Wrapf(err, "index %s block %d", idx.Name, b)
		}
		if rel.Checksums() && !p.VerifyChecksum(basic.BlockNumber(b)) {
			return nil, basic.CorruptionError.New("page verification failed for block %d of index %s", b, idx.Name)
		}
		for off := 1; off <= p.ItemCount(); off++ {
			item, err := p.Item(basic.OffsetNumber(off))
			if err != nil {
				return nil, err
			}
			if b == 0 {
				if len(item) != metaItemSize || binary.LittleEndian.Uint32(item) != indexMagic {
					return nil, basic.CorruptionError.New("index %s has no valid meta page", idx.Name)
				}
				nentries = binary.LittleEndian.Uint64(item[8:])
				ix.unique = item[20] == 1
				continue
			}
			e, err := decodeLeafItem(item, len(idx.Columns))
			if err != nil {
				return nil, errors.Wrapf(err, "index %s block %d item %d", idx.Name, b, off)
			}
			ix.entries = append(ix.entries, e)
		}
	}
	if uint64(len(ix.entries)) != nentries {
		return nil, basic.CorruptionError.New("index %s has %d entries, meta page says %d", idx.Name, len(ix.entries), nentries)
	}
	return ix, nil
}

func decodeLeafItem(item []byte, ncols int) (Entry, error) {
	if len(item) < leafHeaderSize {
		return Entry{}, basic.CorruptionError.New("leaf item too short")
	}
	keyLen := int(binary.LittleEndian.Uint16(item[6:]))
	if leafHeaderSize+keyLen > len(item) {
		return Entry{}, basic.CorruptionError.New("leaf key overruns item")
	}
	key, err := decodeKey(item[leafHeaderSize:leafHeaderSize+keyLen], ncols)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Key: key,
		TID: basic.ItemPointer{
			Block:  basic.BlockNumber(binary.LittleEndian.Uint32(item[0:])),
			Offset: basic.OffsetNumber(binary.LittleEndian.Uint16(item[4:])),
		},
	}, nil
}

func (ix *Index) Name() string     { return ix.desc.Name }
func (ix *Index) Entries() []Entry { return ix.entries }
func (ix *Index) Len() int         { return len(ix.entries) }
func (ix *Index) Pages() int       { return ix.pages }
func (ix *Index) Unique() bool     { return ix.unique }

// Lookup 返回键等于key的所有元组位置
func (ix *Index) Lookup(key [][]byte) []basic.ItemPointer {
	i, _ := slices.BinarySearchFunc(ix.entries, key, func(e Entry, k [][]byte) int {
		return ix.cmp.CompareKeys(e.Key, k)
	})
	var out []basic.ItemPointer
	for ; i < len(ix.entries) && ix.cmp.CompareKeys(ix.entries[i].Key, key) == 0; i++ {
		out = append(out, ix.entries[i].TID)
	}
	return out
}
