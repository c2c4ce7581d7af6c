// Package tuple implements the on-page heap tuple format.
//
// 元组头部(23字节):
//
//	xmin u32 | xmax u32 | cid u32 | ctid(block u32, offset u16) | infomask2 u16 | infomask u16 | hoff u8
//
// 随后是可选的空值位图, 数据区从 hoff = MAXALIGN(23 + bitmap) 开始,
// 每一列都是按4字节对齐的 varlena.
package tuple

import (
	"encoding/binary"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/util"
)

const (
	HeaderSize = 23

	offXmin      = 0
	offXmax      = 4
	offCid       = 8
	offCtidBlock = 12
	offCtidOff   = 16
	offInfomask2 = 18
	offInfomask  = 20
	offHoff      = 22

	MaxAttributes = 0x07FF
)

// infomask bits
const (
	HeapHasNull       = 0x0001
	HeapHasVarWidth   = 0x0002
	HeapHasExternal   = 0x0004
	HeapXminCommitted = 0x0100
	HeapXminInvalid   = 0x0200
	HeapXmaxCommitted = 0x0400
	HeapXmaxInvalid   = 0x0800

	HeapXactMask  = 0xFFF0
	Heap2XactMask = 0xE000
	HeapNattsMask = 0x07FF
)

// HeapTuple is a view over the bytes of one formed tuple.
type HeapTuple []byte

func bitmapLen(natts int) int {
	return (natts + 7) / 8
}

// Form builds a tuple from encoded column values; nil entries are NULL.
func Form(attrs []Varlena) (HeapTuple, error) {
	natts := len(attrs)
	if natts > MaxAttributes {
		return nil, basic.LimitError.New("number of columns (%d) exceeds limit (%d)", natts, MaxAttributes)
	}
	var hasNull, hasVar, hasExternal bool
	for _, a := range attrs {
		switch {
		case a == nil:
			hasNull = true
		case a.IsExternal():
			hasVar, hasExternal = true, true
		default:
			hasVar = true
		}
	}

	hdr := HeaderSize
	if hasNull {
		hdr += bitmapLen(natts)
	}
	hoff := util.MaxAlign(hdr)

	size := hoff
	for _, a := range attrs {
		if a != nil {
			size = util.IntAlign(size) + a.Size()
		}
	}

	t := make(HeapTuple, size)
	var infomask uint16
	if hasNull {
		infomask |= HeapHasNull
	}
	if hasVar {
		infomask |= HeapHasVarWidth
	}
	if hasExternal {
		infomask |= HeapHasExternal
	}
	binary.LittleEndian.PutUint16(t[offInfomask2:], uint16(natts))
	binary.LittleEndian.PutUint16(t[offInfomask:], infomask)
	t[offHoff] = uint8(hoff)

	off := hoff
	for i, a := range attrs {
		if a == nil {
			continue
		}
		if hasNull {
			t[HeaderSize+i/8] |= 1 << (uint(i) % 8)
		}
		off = util.IntAlign(off)
		copy(t[off:], a[:a.Size()])
		off += a.Size()
	}
	return t, nil
}

// FormValues 将原始列值编码为 varlena 后构造元组
func FormValues(values [][]byte) (HeapTuple, error) {
	attrs := make([]Varlena, len(values))
	for i, v := range values {
		a, err := EncodePlain(v)
		if err != nil {
			return nil, err
		}
		attrs[i] = a
	}
	return Form(attrs)
}

func (t HeapTuple) Xmin() basic.TransactionID {
	return basic.TransactionID(binary.LittleEndian.Uint32(t[offXmin:]))
}

func (t HeapTuple) Xmax() basic.TransactionID {
	return basic.TransactionID(binary.LittleEndian.Uint32(t[offXmax:]))
}

func (t HeapTuple) Cid() basic.CommandID {
	return basic.CommandID(binary.LittleEndian.Uint32(t[offCid:]))
}

func (t HeapTuple) Infomask() uint16 {
	return binary.LittleEndian.Uint16(t[offInfomask:])
}

func (t HeapTuple) Infomask2() uint16 {
	return binary.LittleEndian.Uint16(t[offInfomask2:])
}

func (t HeapTuple) Natts() int {
	return int(t.Infomask2() & HeapNattsMask)
}

func (t HeapTuple) Hoff() int {
	return int(t[offHoff])
}

func (t HeapTuple) HasExternal() bool {
	return t.Infomask()&HeapHasExternal != 0
}

// Self 元组自身位置(ctid)
func (t HeapTuple) Self() basic.ItemPointer {
	return basic.ItemPointer{
		Block:  basic.BlockNumber(binary.LittleEndian.Uint32(t[offCtidBlock:])),
		Offset: basic.OffsetNumber(binary.LittleEndian.Uint16(t[offCtidOff:])),
	}
}

func (t HeapTuple) SetSelf(tid basic.ItemPointer) {
	binary.LittleEndian.PutUint32(t[offCtidBlock:], uint32(tid.Block))
	binary.LittleEndian.PutUint16(t[offCtidOff:], uint16(tid.Offset))
}

// StampInsert marks the tuple as inserted by (xid, cid) with no deleter.
func (t HeapTuple) StampInsert(xid basic.TransactionID, cid basic.CommandID) {
	infomask := t.Infomask() &^ HeapXactMask
	infomask |= HeapXmaxInvalid
	infomask2 := t.Infomask2() &^ Heap2XactMask
	binary.LittleEndian.PutUint16(t[offInfomask:], infomask)
	binary.LittleEndian.PutUint16(t[offInfomask2:], infomask2)
	binary.LittleEndian.PutUint32(t[offXmin:], uint32(xid))
	binary.LittleEndian.PutUint32(t[offCid:], uint32(cid))
	binary.LittleEndian.PutUint32(t[offXmax:], 0)
}

// Visible 插入后未被删除的元组可见
func (t HeapTuple) Visible() bool {
	return t.Infomask()&HeapXmaxInvalid != 0 && t.Infomask()&HeapXminInvalid == 0
}

// Attrs decodes the column values; toasted values are returned encoded.
func (t HeapTuple) Attrs() ([]Varlena, error) {
	if len(t) < HeaderSize || t.Hoff() > len(t) {
		return nil, basic.CorruptionError.New("tuple too short: %d bytes", len(t))
	}
	natts := t.Natts()
	hasNull := t.Infomask()&HeapHasNull != 0
	attrs := make([]Varlena, natts)
	off := t.Hoff()
	for i := 0; i < natts; i++ {
		if hasNull && t[HeaderSize+i/8]&(1<<(uint(i)%8)) == 0 {
			continue
		}
		off = util.IntAlign(off)
		if off+VarHeaderSize > len(t) {
			return nil, basic.CorruptionError.New("attribute %d overruns tuple", i+1)
		}
		v := Varlena(t[off:])
		size := v.Size()
		if size < VarHeaderSize || off+size > len(t) {
			return nil, basic.CorruptionError.New("attribute %d has invalid length %d", i+1, size)
		}
		attrs[i] = Varlena(t[off : off+size])
		off += size
	}
	return attrs, nil
}

// Deform returns raw column data; values still compressed or external are
// returned in their encoded form.
func (t HeapTuple) Deform() ([][]byte, error) {
	attrs, err := t.Attrs()
	if err != nil {
		return nil, err
	}
	values := make([][]byte, len(attrs))
	for i, a := range attrs {
		switch {
		case a == nil:
		case a.IsCompressed() || a.IsExternal():
			values[i] = a
		default:
			values[i] = a.Payload()
		}
	}
	return values, nil
}
