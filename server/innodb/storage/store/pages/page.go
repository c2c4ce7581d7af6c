// Package pages implements the slotted heap page used by the loader and the
// ordinary insert path.
//
// 页面布局:
//
//	+----------------+---------------------+ <- 0
//	| PageHeader(24) | line pointers ...   |
//	+----------------+---------------------+ <- lower
//	|              free space              |
//	+--------------------------------------+ <- upper
//	|          ... tuples (向下增长)        |
//	+--------------------------------------+ <- special
//	|           special space              |
//	+--------------------------------------+ <- PageSize
package pages

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/util"
)

const (
	PageHeaderSize = 24
	ItemIDSize     = 4
	LayoutVersion  = 4

	offLSN         = 0
	offChecksum    = 8
	offFlags       = 10
	offLower       = 12
	offUpper       = 14
	offSpecial     = 16
	offSizeVersion = 18
	offPruneXid    = 20
)

// line pointer flags
const (
	LPUnused   = 0
	LPNormal   = 1
	LPRedirect = 2
	LPDead     = 3
)

var (
	ErrPageFull       = errors.New("page has no room for item")
	ErrInvalidItem    = errors.New("invalid item number")
	ErrNotInitialized = errors.New("page is not initialized")
)

// MaxHeapTupleSize 单个页面能容纳的最大元组
func MaxHeapTupleSize(pageSize int) int {
	return pageSize - util.MaxAlign(PageHeaderSize+ItemIDSize)
}

// Page is a view over exactly one page worth of bytes.
type Page []byte

func (p Page) u16(off int) uint16 {
	return binary.LittleEndian.Uint16(p[off:])
}

func (p Page) putU16(off int, v uint16) {
	binary.LittleEndian.PutUint16(p[off:], v)
}

// Init 清空页面并初始化页头
func (p Page) Init(specialSize int) {
	for i := range p {
		p[i] = 0
	}
	special := len(p) - util.MaxAlign(specialSize)
	p.putU16(offLower, PageHeaderSize)
	p.putU16(offUpper, uint16(special))
	p.putU16(offSpecial, uint16(special))
	p.putU16(offSizeVersion, uint16(len(p))|LayoutVersion)
}

// IsNew reports whether the page was never initialized (all zero).
func (p Page) IsNew() bool {
	return p.Upper() == 0
}

// IsEmpty 页面没有任何行指针
func (p Page) IsEmpty() bool {
	return p.Lower() <= PageHeaderSize
}

func (p Page) Lower() int   { return int(p.u16(offLower)) }
func (p Page) Upper() int   { return int(p.u16(offUpper)) }
func (p Page) Special() int { return int(p.u16(offSpecial)) }
func (p Page) Flags() uint16 {
	return p.u16(offFlags)
}

func (p Page) PageSizeField() int {
	return int(p.u16(offSizeVersion) &^ 0x00FF)
}

func (p Page) Version() int {
	return int(p.u16(offSizeVersion) & 0x00FF)
}

func (p Page) PruneXid() basic.TransactionID {
	return basic.TransactionID(binary.LittleEndian.Uint32(p[offPruneXid:]))
}

// ItemCount 行指针个数
func (p Page) ItemCount() int {
	if p.IsNew() || p.IsEmpty() {
		return 0
	}
	return (p.Lower() - PageHeaderSize) / ItemIDSize
}

// FreeSpace 扣除一个新行指针后的可用空间, 不会小于0
func (p Page) FreeSpace() int {
	space := p.Upper() - p.Lower() - ItemIDSize
	if space < 0 {
		return 0
	}
	return space
}

func (p Page) LSN() basic.LSN {
	return basic.LSN(binary.LittleEndian.Uint64(p[offLSN:]))
}

func (p Page) SetLSN(lsn basic.LSN) {
	binary.LittleEndian.PutUint64(p[offLSN:], uint64(lsn))
}

func (p Page) Checksum() uint16 {
	return p.u16(offChecksum)
}

// SetChecksum stamps the checksum for the page as stored at blockNo.
// Must run after the LSN has been set.
func (p Page) SetChecksum(blockNo basic.BlockNumber) {
	p.putU16(offChecksum, util.PageChecksum(p, offChecksum, uint32(blockNo)))
}

// VerifyChecksum 校验页面校验和; 全零的新页面视为有效
func (p Page) VerifyChecksum(blockNo basic.BlockNumber) bool {
	if p.IsNew() {
		for _, b := range p {
			if b != 0 {
				return false
			}
		}
		return true
	}
	return p.Checksum() == util.PageChecksum(p, offChecksum, uint32(blockNo))
}

// Verify checks that the header is self-consistent.
func (p Page) Verify() error {
	if p.IsNew() {
		return nil
	}
	lower, upper, special := p.Lower(), p.Upper(), p.Special()
	if lower < PageHeaderSize || lower > upper || upper > special || special > len(p) ||
		p.PageSizeField() != len(p)&0xFF00 || p.Version() != LayoutVersion {
		return basic.CorruptionError.New("invalid page header: lower %d upper %d special %d", lower, upper, special)
	}
	return nil
}

func itemID(off, flags, length int) uint32 {
	return uint32(off)&0x7FFF | uint32(flags&0x3)<<15 | uint32(length&0x7FFF)<<17
}

// ItemID 返回行指针 (偏移, 标志, 长度)
func (p Page) ItemID(n basic.OffsetNumber) (off int, flags int, length int, err error) {
	if n < basic.FirstOffsetNumber || int(n) > p.ItemCount() {
		return 0, 0, 0, errors.Wrapf(ErrInvalidItem, "item %d of %d", n, p.ItemCount())
	}
	v := binary.LittleEndian.Uint32(p[PageHeaderSize+(int(n)-1)*ItemIDSize:])
	return int(v & 0x7FFF), int(v>>15) & 0x3, int(v >> 17), nil
}

// Item returns the bytes of item n; the slice aliases the page.
func (p Page) Item(n basic.OffsetNumber) ([]byte, error) {
	off, flags, length, err := p.ItemID(n)
	if err != nil {
		return nil, err
	}
	if flags != LPNormal {
		return nil, nil
	}
	if off+length > len(p) {
		return nil, basic.CorruptionError.New("item %d overruns page: off %d len %d", n, off, length)
	}
	return p[off : off+length], nil
}

// AddItem 在页面末尾追加一个元组, 返回从1开始的行号; 槽位从不复用
func (p Page) AddItem(item []byte) (basic.OffsetNumber, error) {
	if p.IsNew() {
		return basic.InvalidOffsetNumber, ErrNotInitialized
	}
	size := util.MaxAlign(len(item))
	lower, upper := p.Lower(), p.Upper()
	if lower+ItemIDSize > upper-size {
		return basic.InvalidOffsetNumber, errors.Wrapf(ErrPageFull, "need %d, free %d", size, p.FreeSpace())
	}
	upper -= size
	copy(p[upper:], item)
	binary.LittleEndian.PutUint32(p[lower:], itemID(upper, LPNormal, len(item)))
	p.putU16(offLower, uint16(lower+ItemIDSize))
	p.putU16(offUpper, uint16(upper))
	return basic.OffsetNumber((lower-PageHeaderSize)/ItemIDSize + 1), nil
}
