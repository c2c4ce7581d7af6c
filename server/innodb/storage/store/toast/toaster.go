// Package toast shrinks oversized tuples: large columns are first
// compressed inline with lz4, then moved to an out-of-line store.
package toast

import (
	gxbytes "github.com/dubbogo/gost/bytes"
	"github.com/pierrec/lz4/v4"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/tuple"
	"github.com/zhukovaskychina/xmysql-directpath/util"
)

const (
	// 小于该长度的列不尝试压缩
	minCompressSize = 32
	// 行外存储至少要比指针本身大
	minExternalSize = tuple.VarHeaderSize + tuple.ToastPointerSize + 1
)

// DefaultThreshold 每页至少容纳4个元组时的元组长度上限
func DefaultThreshold(pageSize int) int {
	return util.MaxAlignDown((pageSize - util.MaxAlign(24+4*4)) / 4)
}

// Toaster 对单个关系执行toast
type Toaster struct {
	store     Store
	threshold int
}

func NewToaster(store Store, threshold int) *Toaster {
	return &Toaster{store: store, threshold: threshold}
}

func (t *Toaster) Threshold() int {
	return t.threshold
}

// Compress lz4-compresses data; ok is false when that does not save space.
func Compress(data []byte) (tuple.Varlena, bool) {
	if len(data) < minCompressSize {
		return nil, false
	}
	scratch := gxbytes.GetBytes(lz4.CompressBlockBound(len(data)))
	defer gxbytes.PutBytes(scratch)
	n, err := lz4.CompressBlock(data, *scratch, nil)
	if err != nil || n == 0 || n+4 >= len(data) {
		return nil, false
	}
	return tuple.EncodeCompressed(len(data), (*scratch)[:n]), true
}

func decompress(block []byte, rawSize int) ([]byte, error) {
	out := make([]byte, rawSize)
	n, err := lz4.UncompressBlock(block, out)
	if err != nil || n != rawSize {
		return nil, basic.CorruptionError.New("compressed data is corrupted: decoded %d of %d bytes", n, rawSize)
	}
	return out, nil
}

// Toast forms a tuple from attrs, compressing and then moving columns out of
// line until it is no longer than the threshold or nothing more can be done.
func (t *Toaster) Toast(xid basic.TransactionID, attrs []tuple.Varlena) (tuple.HeapTuple, error) {
	tup, err := tuple.Form(attrs)
	if err != nil || len(tup) <= t.threshold {
		return tup, err
	}
	attrs = append([]tuple.Varlena(nil), attrs...)

	// 第一阶段: 依次压缩最大的行内列
	tried := make([]bool, len(attrs))
	for len(tup) > t.threshold {
		i := largest(attrs, func(i int, a tuple.Varlena) bool {
			return !tried[i] && !a.IsCompressed() && !a.IsExternal() && a.Size() > minCompressSize
		})
		if i < 0 {
			break
		}
		tried[i] = true
		if c, ok := Compress(attrs[i].Payload()); ok {
			attrs[i] = c
			if tup, err = tuple.Form(attrs); err != nil {
				return nil, err
			}
		}
	}

	// 第二阶段: 把最大的列移到行外
	for len(tup) > t.threshold && t.store != nil {
		i := largest(attrs, func(_ int, a tuple.Varlena) bool {
			return !a.IsExternal() && a.Size() >= minExternalSize
		})
		if i < 0 {
			break
		}
		ext, err := t.moveOut(xid, attrs[i])
		if err != nil {
			return nil, err
		}
		attrs[i] = ext
		if tup, err = tuple.Form(attrs); err != nil {
			return nil, err
		}
	}
	return tup, nil
}

func (t *Toaster) moveOut(xid basic.TransactionID, a tuple.Varlena) (tuple.Varlena, error) {
	stored := a.Payload()
	if a.IsCompressed() {
		stored = a.CompressedBlock()
	}
	ptr, err := t.store.Save(xid, stored)
	if err != nil {
		return nil, err
	}
	ptr.RawSize = uint32(a.RawSize())
	return tuple.EncodeExternal(ptr), nil
}

func largest(attrs []tuple.Varlena, eligible func(int, tuple.Varlena) bool) int {
	best, bestSize := -1, 0
	for i, a := range attrs {
		if a == nil || !eligible(i, a) {
			continue
		}
		if a.Size() > bestSize {
			best, bestSize = i, a.Size()
		}
	}
	return best
}

// Detoast 返回列的原始数据, 必要时解压或从toast存储读取
func Detoast(store Store, a tuple.Varlena) ([]byte, error) {
	switch {
	case a == nil:
		return nil, nil
	case a.IsExternal():
		if store == nil {
			return nil, basic.ProtocolError.New("external value without toast store")
		}
		ptr := a.ToastPointer()
		data, err := store.Fetch(ptr)
		if err != nil {
			return nil, err
		}
		if ptr.StoredSize < ptr.RawSize {
			return decompress(data, int(ptr.RawSize))
		}
		return data, nil
	case a.IsCompressed():
		return decompress(a.CompressedBlock(), a.RawSize())
	default:
		return append([]byte(nil), a.Payload()...), nil
	}
}

// DetoastTuple 还原元组的全部列
func DetoastTuple(store Store, tup tuple.HeapTuple) ([][]byte, error) {
	attrs, err := tup.Attrs()
	if err != nil {
		return nil, err
	}
	values := make([][]byte, len(attrs))
	for i, a := range attrs {
		if values[i], err = Detoast(store, a); err != nil {
			return nil, err
		}
	}
	return values, nil
}
